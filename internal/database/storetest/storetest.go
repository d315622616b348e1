// internal/database/storetest/storetest.go
// Package storetest holds the behavior every database.Store implementation must share.
package storetest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-visibility-bot/internal/database"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// TestAll runs every case against store. Cases use random user ids so they
// can share one database.
func TestAll(t *testing.T, store database.Store) {
	t.Run("Users", func(t *testing.T) { TestUsers(t, store) })
	t.Run("CredentialLifecycle", func(t *testing.T) { TestCredentialLifecycle(t, store) })
	t.Run("ConcurrentActivation", func(t *testing.T) { TestConcurrentActivation(t, store) })
	t.Run("RepositoryUpsert", func(t *testing.T) { TestRepositoryUpsert(t, store) })
	t.Run("AuditLogOrder", func(t *testing.T) { TestAuditLogOrder(t, store) })
}

func newUser(t *testing.T, store database.Store) int64 {
	t.Helper()
	id := rand.Int63n(1<<50) + 1
	_, err := store.EnsureUser(context.Background(), id, fmt.Sprintf("user_%d", id))
	require.NoError(t, err)
	return id
}

func TestUsers(t *testing.T, store database.Store) {
	ctx := context.Background()
	id := rand.Int63n(1<<50) + 1

	_, err := store.GetUser(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = store.SetAuthorized(ctx, id, true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	u, err := store.EnsureUser(ctx, id, "octocat")
	require.NoError(t, err)
	assert.Equal(t, id, u.UserID)
	assert.Equal(t, "octocat", u.Username)
	assert.False(t, u.IsAuthorized)
	assert.False(t, u.CreatedAt.IsZero())

	u, err = store.SetAuthorized(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, u.IsAuthorized)

	// A second contact keeps the authorization and the known username.
	u, err = store.EnsureUser(ctx, id, "")
	require.NoError(t, err)
	assert.True(t, u.IsAuthorized)
	assert.Equal(t, "octocat", u.Username)

	u, err = store.SetAuthorized(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, u.IsAuthorized)

	got, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.IsAuthorized)
}

func TestCredentialLifecycle(t *testing.T, store database.Store) {
	ctx := context.Background()
	userID := newUser(t, store)

	_, err := store.GetActiveCredential(ctx, userID)
	assert.ErrorIs(t, err, apperrors.ErrNoActiveCredential)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	for _, name := range []string{"work", "personal", "oss"} {
		c := &model.Credential{UserID: userID, Name: name, EncryptedToken: []byte("enc-" + name), GitHubUsername: "gh-" + name}
		require.NoError(t, store.CreateCredential(ctx, c))
		assert.NotZero(t, c.ID)
		assert.False(t, c.CreatedAt.IsZero())
	}

	err = store.CreateCredential(ctx, &model.Credential{UserID: userID, Name: "work", EncryptedToken: []byte("x"), GitHubUsername: "x"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)

	creds, err := store.ListCredentials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, []string{"work", "personal", "oss"}, []string{creds[0].Name, creds[1].Name, creds[2].Name})
	for _, c := range creds {
		assert.False(t, c.IsActive)
	}

	require.NoError(t, store.ActivateCredential(ctx, userID, "personal"))
	require.NoError(t, store.ActivateCredential(ctx, userID, "work"))
	active, err := store.GetActiveCredential(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "work", active.Name)
	assert.Equal(t, []byte("enc-work"), active.EncryptedToken)
	assert.Equal(t, 1, countActive(t, store, userID))

	err = store.ActivateCredential(ctx, userID, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, countActive(t, store, userID), "failed activation must not clear the active credential")

	wasActive, err := store.DeleteCredential(ctx, userID, "personal")
	require.NoError(t, err)
	assert.False(t, wasActive)

	wasActive, err = store.DeleteCredential(ctx, userID, "work")
	require.NoError(t, err)
	assert.True(t, wasActive)
	_, err = store.GetActiveCredential(ctx, userID)
	assert.ErrorIs(t, err, apperrors.ErrNoActiveCredential)

	_, err = store.DeleteCredential(ctx, userID, "work")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	creds, err = store.ListCredentials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "oss", creds[0].Name)
	assert.False(t, creds[0].IsActive, "removing the active credential must not promote another")
}

func TestConcurrentActivation(t *testing.T, store database.Store) {
	ctx := context.Background()
	userID := newUser(t, store)

	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("acct-%d", i)
		require.NoError(t, store.CreateCredential(ctx, &model.Credential{
			UserID: userID, Name: names[i], EncryptedToken: []byte("t"), GitHubUsername: "gh",
		}))
	}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				assert.NoError(t, store.ActivateCredential(ctx, userID, name))
				assert.LessOrEqual(t, countActive(t, store, userID), 1)
			}(name)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, countActive(t, store, userID))
}

func countActive(t *testing.T, store database.Store, userID int64) int {
	t.Helper()
	creds, err := store.ListCredentials(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, c := range creds {
		if c.IsActive {
			n++
		}
	}
	return n
}

func TestRepositoryUpsert(t *testing.T, store database.Store) {
	ctx := context.Background()
	userID := newUser(t, store)

	_, err := store.GetRepository(ctx, userID, "octo", "hello")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	first := &model.Repository{UserID: userID, Owner: "octo", Name: "hello", Visibility: model.Public}
	require.NoError(t, store.UpsertRepository(ctx, first))

	second := &model.Repository{UserID: userID, Owner: "octo", Name: "hello", Visibility: model.Private, LastModified: time.Now().Add(time.Minute)}
	require.NoError(t, store.UpsertRepository(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.GetRepository(ctx, userID, "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, model.Private, got.Visibility)

	require.NoError(t, store.UpsertRepositories(ctx, []model.Repository{
		{UserID: userID, Owner: "octo", Name: "hello", Visibility: model.Public},
		{UserID: userID, Owner: "octo", Name: "world", Visibility: model.Private},
	}))

	repos, err := store.ListRepositories(ctx, userID)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "hello", repos[0].Name)
	assert.Equal(t, model.Public, repos[0].Visibility)
	assert.Equal(t, "world", repos[1].Name)
}

func TestAuditLogOrder(t *testing.T, store database.Store) {
	ctx := context.Background()
	userID := newUser(t, store)

	for i := 0; i < 5; i++ {
		status := model.AuditSuccess
		if i%2 == 1 {
			status = model.AuditFailed
		}
		e := &model.AuditLogEntry{UserID: userID, Action: model.ActionSetVisibility, Repository: fmt.Sprintf("octo/r%d", i), Status: status}
		require.NoError(t, store.AppendAuditLog(ctx, e))
		assert.NotZero(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}

	logs, err := store.ListAuditLogs(ctx, userID, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "octo/r4", logs[0].Repository)
	assert.Equal(t, "octo/r3", logs[1].Repository)
	assert.Equal(t, model.AuditFailed, logs[1].Status)
	assert.Equal(t, "octo/r2", logs[2].Repository)

	other := newUser(t, store)
	logs, err = store.ListAuditLogs(ctx, other, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
