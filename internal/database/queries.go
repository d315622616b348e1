// internal/database/queries.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github-visibility-bot/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries holds the SQL for every table. It runs against a pool or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const upsertUser = `
INSERT INTO users (user_id, username)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE
    SET username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END
RETURNING user_id, username, is_authorized, created_at`

func (q *Queries) UpsertUser(ctx context.Context, userID int64, username string) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx, upsertUser, userID, username).Scan(&u.UserID, &u.Username, &u.IsAuthorized, &u.CreatedAt)
	return u, err
}

const getUser = `SELECT user_id, username, is_authorized, created_at FROM users WHERE user_id = $1`

func (q *Queries) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx, getUser, userID).Scan(&u.UserID, &u.Username, &u.IsAuthorized, &u.CreatedAt)
	return u, err
}

const lockUser = `SELECT user_id FROM users WHERE user_id = $1 FOR UPDATE`

// LockUser serializes credential mutations of one user within a transaction.
func (q *Queries) LockUser(ctx context.Context, userID int64) error {
	var id int64
	return q.db.QueryRow(ctx, lockUser, userID).Scan(&id)
}

const setAuthorized = `
UPDATE users SET is_authorized = $2 WHERE user_id = $1
RETURNING user_id, username, is_authorized, created_at`

func (q *Queries) SetAuthorized(ctx context.Context, userID int64, authorized bool) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx, setAuthorized, userID, authorized).Scan(&u.UserID, &u.Username, &u.IsAuthorized, &u.CreatedAt)
	return u, err
}

const createCredential = `
INSERT INTO credentials (user_id, name, encrypted_token, github_username, is_active)
VALUES ($1, $2, $3, $4, FALSE)
RETURNING id, created_at`

func (q *Queries) CreateCredential(ctx context.Context, c *model.Credential) error {
	return q.db.QueryRow(ctx, createCredential, c.UserID, c.Name, c.EncryptedToken, c.GitHubUsername).Scan(&c.ID, &c.CreatedAt)
}

const credentialColumns = `id, user_id, name, encrypted_token, github_username, is_active, created_at`

func scanCredential(row pgx.Row) (model.Credential, error) {
	var c model.Credential
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.EncryptedToken, &c.GitHubUsername, &c.IsActive, &c.CreatedAt)
	return c, err
}

const listCredentials = `SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = $1 ORDER BY created_at, id`

func (q *Queries) ListCredentials(ctx context.Context, userID int64) ([]model.Credential, error) {
	rows, err := q.db.Query(ctx, listCredentials, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

const getActiveCredential = `SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = $1 AND is_active`

func (q *Queries) GetActiveCredential(ctx context.Context, userID int64) (model.Credential, error) {
	return scanCredential(q.db.QueryRow(ctx, getActiveCredential, userID))
}

const getCredentialID = `SELECT id FROM credentials WHERE user_id = $1 AND name = $2`

func (q *Queries) GetCredentialID(ctx context.Context, userID int64, name string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, getCredentialID, userID, name).Scan(&id)
	return id, err
}

const deactivateSiblings = `UPDATE credentials SET is_active = FALSE WHERE user_id = $1 AND id <> $2 AND is_active`

func (q *Queries) DeactivateSiblings(ctx context.Context, userID, keepID int64) error {
	_, err := q.db.Exec(ctx, deactivateSiblings, userID, keepID)
	return err
}

const setCredentialActive = `UPDATE credentials SET is_active = TRUE WHERE id = $1`

func (q *Queries) SetCredentialActive(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, setCredentialActive, id)
	return err
}

const deleteCredential = `DELETE FROM credentials WHERE user_id = $1 AND name = $2 RETURNING is_active`

func (q *Queries) DeleteCredential(ctx context.Context, userID int64, name string) (bool, error) {
	var wasActive bool
	err := q.db.QueryRow(ctx, deleteCredential, userID, name).Scan(&wasActive)
	return wasActive, err
}

const upsertRepository = `
INSERT INTO repositories (user_id, repo_name, owner, current_visibility, last_modified)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, repo_name, owner) DO UPDATE
    SET current_visibility = EXCLUDED.current_visibility,
        last_modified      = EXCLUDED.last_modified
RETURNING id`

func (q *Queries) UpsertRepository(ctx context.Context, r *model.Repository) error {
	if r.LastModified.IsZero() {
		r.LastModified = time.Now().UTC()
	}
	return q.db.QueryRow(ctx, upsertRepository, r.UserID, r.Name, r.Owner, string(r.Visibility), r.LastModified).Scan(&r.ID)
}

const repositoryColumns = `id, user_id, repo_name, owner, current_visibility, last_modified`

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	var vis string
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Owner, &vis, &r.LastModified)
	r.Visibility = model.Visibility(vis)
	return r, err
}

const getRepository = `SELECT ` + repositoryColumns + ` FROM repositories WHERE user_id = $1 AND owner = $2 AND repo_name = $3`

func (q *Queries) GetRepository(ctx context.Context, userID int64, owner, name string) (model.Repository, error) {
	return scanRepository(q.db.QueryRow(ctx, getRepository, userID, owner, name))
}

const listRepositories = `SELECT ` + repositoryColumns + ` FROM repositories WHERE user_id = $1 ORDER BY owner, repo_name`

func (q *Queries) ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx, listRepositories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

const appendAuditLog = `
INSERT INTO audit_logs (user_id, action, repository, status)
VALUES ($1, $2, $3, $4)
RETURNING id, timestamp`

func (q *Queries) AppendAuditLog(ctx context.Context, e *model.AuditLogEntry) error {
	return q.db.QueryRow(ctx, appendAuditLog, e.UserID, e.Action, e.Repository, string(e.Status)).Scan(&e.ID, &e.Timestamp)
}

const listAuditLogs = `
SELECT id, user_id, action, repository, timestamp, status
FROM audit_logs
WHERE user_id = $1
ORDER BY timestamp DESC, id DESC
LIMIT $2`

func (q *Queries) ListAuditLogs(ctx context.Context, userID int64, limit int) ([]model.AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Repository, &e.Timestamp, &status); err != nil {
			return nil, err
		}
		e.Status = model.AuditStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
