// internal/database/postgres.go
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// PostgreSQL error codes mapped onto the error taxonomy.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PoolConfig bounds the connection pool and per-call latency.
type PoolConfig struct {
	URL      string
	MinConns int32
	MaxConns int32
	Timeout  time.Duration
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

var _ Store = (*Postgres)(nil)

// Open creates the pool and verifies connectivity.
func Open(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	p := NewPostgres(pool, cfg.Timeout, logger)
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Database connection pool ready", "min_conns", cfg.MinConns, "max_conns", cfg.MaxConns)
	return p, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, timeout: timeout, logger: logger}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return mapError("ping database", p.pool.Ping(ctx))
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// inTx runs fn in a transaction; Rollback is a no-op once committed.
func (p *Postgres) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	u, err := New(p.pool).UpsertUser(ctx, userID, username)
	if err != nil {
		return nil, mapError("ensure user", err)
	}
	return &u, nil
}

func (p *Postgres) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	u, err := New(p.pool).GetUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", fmt.Sprint(userID))
	}
	if err != nil {
		return nil, mapError("get user", err)
	}
	return &u, nil
}

func (p *Postgres) SetAuthorized(ctx context.Context, userID int64, authorized bool) (*model.User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	u, err := New(p.pool).SetAuthorized(ctx, userID, authorized)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", fmt.Sprint(userID))
	}
	if err != nil {
		return nil, mapError("set authorized", err)
	}
	return &u, nil
}

func (p *Postgres) CreateCredential(ctx context.Context, c *model.Credential) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := New(p.pool).CreateCredential(ctx, c)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.New(apperrors.ErrDuplicateName, "credential %q already exists", c.Name)
		case pgForeignKeyViolation:
			return apperrors.NotFound("user", fmt.Sprint(c.UserID))
		}
	}
	return mapError("create credential", err)
}

func (p *Postgres) ListCredentials(ctx context.Context, userID int64) ([]model.Credential, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	creds, err := New(p.pool).ListCredentials(ctx, userID)
	return creds, mapError("list credentials", err)
}

func (p *Postgres) GetActiveCredential(ctx context.Context, userID int64) (*model.Credential, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	c, err := New(p.pool).GetActiveCredential(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNoActiveCredential, "no active credential")
	}
	if err != nil {
		return nil, mapError("get active credential", err)
	}
	return &c, nil
}

// ActivateCredential locks the owner's row so concurrent activations by the
// same user serialize, then clears the siblings and sets the target.
func (p *Postgres) ActivateCredential(ctx context.Context, userID int64, name string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := p.inTx(ctx, func(q *Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		id, err := q.GetCredentialID(ctx, userID, name)
		if err != nil {
			return err
		}
		if err := q.DeactivateSiblings(ctx, userID, id); err != nil {
			return err
		}
		return q.SetCredentialActive(ctx, id)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("credential", name)
	}
	return mapError("activate credential", err)
}

func (p *Postgres) DeleteCredential(ctx context.Context, userID int64, name string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	wasActive, err := New(p.pool).DeleteCredential(ctx, userID, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperrors.NotFound("credential", name)
	}
	return wasActive, mapError("delete credential", err)
}

func (p *Postgres) UpsertRepository(ctx context.Context, r *model.Repository) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	return mapError("upsert repository", New(p.pool).UpsertRepository(ctx, r))
}

func (p *Postgres) UpsertRepositories(ctx context.Context, repos []model.Repository) error {
	if len(repos) == 0 {
		return nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := p.inTx(ctx, func(q *Queries) error {
		for i := range repos {
			if err := q.UpsertRepository(ctx, &repos[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError("upsert repositories", err)
}

func (p *Postgres) GetRepository(ctx context.Context, userID int64, owner, name string) (*model.Repository, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	r, err := New(p.pool).GetRepository(ctx, userID, owner, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("repository", owner+"/"+name)
	}
	if err != nil {
		return nil, mapError("get repository", err)
	}
	return &r, nil
}

func (p *Postgres) ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	repos, err := New(p.pool).ListRepositories(ctx, userID)
	return repos, mapError("list repositories", err)
}

func (p *Postgres) AppendAuditLog(ctx context.Context, e *model.AuditLogEntry) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := New(p.pool).AppendAuditLog(ctx, e)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return apperrors.NotFound("user", fmt.Sprint(e.UserID))
	}
	return mapError("append audit log", err)
}

func (p *Postgres) ListAuditLogs(ctx context.Context, userID int64, limit int) ([]model.AuditLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	entries, err := New(p.pool).ListAuditLogs(ctx, userID, limit)
	return entries, mapError("list audit logs", err)
}

// mapError converts driver errors into the error taxonomy. Errors that are
// already typed pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrTransient, err, "%s timed out", op)
	}
	return apperrors.Wrap(apperrors.ErrPersistence, err, "%s", op)
}
