// internal/visibility/controller.go
package visibility

import (
	"context"
	"log/slog"
	"time"

	"github-visibility-bot/internal/audit"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

const (
	// Number of batch items sent to GitHub in parallel
	batchConcurrency = 3
)

// GitHub is the remote capability the controller drives.
type GitHub interface {
	GetRepo(ctx context.Context, token model.Token, owner, name string) (*model.RemoteRepo, error)
	SetVisibility(ctx context.Context, token model.Token, owner, name string, target model.Visibility) (*model.RemoteRepo, error)
	ListRepos(ctx context.Context, token model.Token) ([]model.RemoteRepo, error)
}

// Credentials resolves the credential a user's GitHub calls run with.
type Credentials interface {
	Active(ctx context.Context, userID int64) (*model.ActiveCredential, error)
}

// Store is the slice of database.Store the controller needs.
type Store interface {
	audit.Appender
	UpsertRepository(ctx context.Context, r *model.Repository) error
	UpsertRepositories(ctx context.Context, repos []model.Repository) error
}

// Controller changes and reports repository visibility.
type Controller struct {
	github   GitHub
	creds    Credentials
	store    Store
	audit    *audit.Recorder
	maxBatch int
	logger   *slog.Logger
	now      func() time.Time
}

func NewController(gh GitHub, creds Credentials, store Store, maxBatch int, logger *slog.Logger) *Controller {
	return &Controller{
		github:   gh,
		creds:    creds,
		store:    store,
		audit:    audit.NewRecorder(store, logger),
		maxBatch: maxBatch,
		logger:   logger.With("component", "visibility"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaxBatch is the largest accepted batch.
func (c *Controller) MaxBatch() int {
	return c.maxBatch
}

// Status reads the live visibility of ref and refreshes the cache. It writes
// no audit entry.
func (c *Controller) Status(ctx context.Context, userID int64, ref RepoRef) (*model.RemoteRepo, error) {
	cred, err := c.creds.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	ref = ref.withDefaultOwner(cred.GitHubUsername)

	remote, err := c.github.GetRepo(ctx, cred.Token, ref.Owner, ref.Name)
	if err != nil {
		return nil, err
	}
	if err := c.cache(ctx, userID, ref, remote); err != nil {
		return nil, err
	}
	return remote, nil
}

// Set moves ref to target. Setting the current visibility succeeds. Every
// attempt is audited, and the cache changes only on success.
func (c *Controller) Set(ctx context.Context, userID int64, ref RepoRef, target model.Visibility) (*model.RemoteRepo, error) {
	cred, err := c.creds.Active(ctx, userID)
	if err != nil {
		return nil, c.audit.Record(ctx, userID, model.ActionSetVisibility, ref.String(), err)
	}
	return c.set(ctx, userID, cred, ref.withDefaultOwner(cred.GitHubUsername), target)
}

func (c *Controller) set(ctx context.Context, userID int64, cred *model.ActiveCredential, ref RepoRef, target model.Visibility) (*model.RemoteRepo, error) {
	logger := c.logger.With("user_id", userID, "repo", ref.String(), "target", target, "credential", cred.Name)

	remote, err := c.github.SetVisibility(ctx, cred.Token, ref.Owner, ref.Name, target)
	if err == nil {
		err = c.cache(ctx, userID, ref, remote)
	}
	if err := c.audit.Record(ctx, userID, model.ActionSetVisibility, ref.String(), err); err != nil {
		logger.Warn("Visibility change failed", "error", err)
		return nil, err
	}
	logger.Info("Visibility changed")
	return remote, nil
}

// cache mirrors remote state. GitHub's owner and name win over the reference
// the user typed.
func (c *Controller) cache(ctx context.Context, userID int64, ref RepoRef, remote *model.RemoteRepo) error {
	r := toRepository(userID, ref, *remote, c.now())
	if err := c.store.UpsertRepository(ctx, &r); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, err, "%s is %s on GitHub but the local cache was not updated", r.FullName(), r.Visibility)
	}
	return nil
}

func toRepository(userID int64, ref RepoRef, remote model.RemoteRepo, now time.Time) model.Repository {
	r := model.Repository{
		UserID:       userID,
		Owner:        ref.Owner,
		Name:         ref.Name,
		Visibility:   remote.Visibility,
		LastModified: now,
	}
	if remote.Owner != "" && remote.Name != "" {
		r.Owner, r.Name = remote.Owner, remote.Name
	}
	return r
}

// ListRepos returns the repositories the active credential can see and
// reconciles the cache with them in one store call.
func (c *Controller) ListRepos(ctx context.Context, userID int64) ([]model.RemoteRepo, error) {
	cred, err := c.creds.Active(ctx, userID)
	if err != nil {
		return nil, err
	}

	remote, err := c.github.ListRepos(ctx, cred.Token)
	if err != nil {
		return nil, err
	}

	now := c.now()
	repos := make([]model.Repository, 0, len(remote))
	for _, r := range remote {
		repos = append(repos, toRepository(userID, RepoRef{}, r, now))
	}
	if err := c.store.UpsertRepositories(ctx, repos); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, err, "reconciling %d repositories", len(repos))
	}
	c.logger.Info("Repositories reconciled", "user_id", userID, "count", len(repos))
	return remote, nil
}
