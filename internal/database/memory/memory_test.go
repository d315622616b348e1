package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-visibility-bot/internal/database/storetest"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

func TestStore(t *testing.T) {
	storetest.TestAll(t, New())
}

func TestStore_AuditRequiresUser(t *testing.T) {
	s := New()
	err := s.AppendAuditLog(context.Background(), &model.AuditLogEntry{UserID: 1, Action: "x", Repository: "y", Status: model.AuditFailed})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_UsesClock(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, 7, "u")
	require.NoError(t, err)
	assert.Equal(t, fixed, u.CreatedAt)

	e := &model.AuditLogEntry{UserID: 7, Action: "x", Repository: "y", Status: model.AuditSuccess}
	require.NoError(t, s.AppendAuditLog(ctx, e))
	assert.Equal(t, fixed, e.Timestamp)
}
