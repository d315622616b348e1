// internal/audit/audit.go
package audit

import (
	"context"
	"log/slog"

	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// Appender is the slice of the store the recorder needs.
type Appender interface {
	AppendAuditLog(ctx context.Context, e *model.AuditLogEntry) error
}

// Recorder writes one audit entry per attempted mutating action.
type Recorder struct {
	store  Appender
	logger *slog.Logger
}

func NewRecorder(store Appender, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With("component", "audit")}
}

// Record appends the outcome of an action and returns the error the caller
// should surface. A failed action keeps its own error even if the append
// fails too; a successful action whose append fails reports ErrPersistence.
// The entry is written even when ctx has been cancelled.
func (r *Recorder) Record(ctx context.Context, userID int64, action, target string, opErr error) error {
	entry := &model.AuditLogEntry{
		UserID:     userID,
		Action:     action,
		Repository: target,
		Status:     model.AuditSuccess,
	}
	if opErr != nil {
		entry.Status = model.AuditFailed
	}

	err := r.store.AppendAuditLog(context.WithoutCancel(ctx), entry)
	if err == nil {
		return opErr
	}

	r.logger.Error("Failed to write audit entry", "user_id", userID, "action", action, "target", target, "status", entry.Status, "error", err)
	if opErr != nil {
		return opErr
	}
	return apperrors.Wrap(apperrors.ErrPersistence, err, "%s on %s succeeded but the audit entry was not written", action, target)
}
