// internal/database/store.go
package database

import (
	"context"

	"github-visibility-bot/internal/model"
)

// Store is the persistence contract for users, credentials, the repository
// visibility cache and the audit log. Implementations return errors from
// internal/errors: ErrNotFound, ErrDuplicateName, ErrTransient on timeout,
// ErrPersistence otherwise.
type Store interface {
	Ping(ctx context.Context) error

	// EnsureUser creates the user on first contact and returns the stored record.
	EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	SetAuthorized(ctx context.Context, userID int64, authorized bool) (*model.User, error)

	// CreateCredential inserts c and fills its ID and CreatedAt.
	CreateCredential(ctx context.Context, c *model.Credential) error
	// ListCredentials returns the user's credentials in insertion order.
	ListCredentials(ctx context.Context, userID int64) ([]model.Credential, error)
	GetActiveCredential(ctx context.Context, userID int64) (*model.Credential, error)
	// ActivateCredential marks the named credential active and every sibling
	// inactive in one atomic operation.
	ActivateCredential(ctx context.Context, userID int64, name string) error
	// DeleteCredential removes the named credential and reports whether it was active.
	DeleteCredential(ctx context.Context, userID int64, name string) (wasActive bool, err error)

	UpsertRepository(ctx context.Context, r *model.Repository) error
	// UpsertRepositories applies all upserts in a single transaction.
	UpsertRepositories(ctx context.Context, repos []model.Repository) error
	GetRepository(ctx context.Context, userID int64, owner, name string) (*model.Repository, error)
	ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error)

	// AppendAuditLog inserts e and fills its ID and Timestamp.
	AppendAuditLog(ctx context.Context, e *model.AuditLogEntry) error
	// ListAuditLogs returns the newest entries first.
	ListAuditLogs(ctx context.Context, userID int64, limit int) ([]model.AuditLogEntry, error)
}
