// internal/database/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github-visibility-bot/internal/database"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

type repoKey struct {
	userID int64
	owner  string
	name   string
}

// Store is an in-memory database.Store. A single mutex serializes every
// operation, so multi-row updates are atomic.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64

	users        map[int64]model.User
	credentials  map[int64][]model.Credential // per user, insertion order
	repositories map[repoKey]model.Repository
	auditLogs    map[int64][]model.AuditLogEntry // per user, append order
}

var _ database.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		users:        make(map[int64]model.User),
		credentials:  make(map[int64][]model.Credential),
		repositories: make(map[repoKey]model.Repository),
		auditLogs:    make(map[int64][]model.AuditLogEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = model.User{UserID: userID, CreatedAt: s.now()}
	}
	if username != "" {
		u.Username = username
	}
	s.users[userID] = u
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NotFound("user", fmt.Sprint(userID))
	}
	return &u, nil
}

func (s *Store) SetAuthorized(ctx context.Context, userID int64, authorized bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NotFound("user", fmt.Sprint(userID))
	}
	u.IsAuthorized = authorized
	s.users[userID] = u
	return &u, nil
}

func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[c.UserID]; !ok {
		return apperrors.NotFound("user", fmt.Sprint(c.UserID))
	}
	for _, existing := range s.credentials[c.UserID] {
		if existing.Name == c.Name {
			return apperrors.New(apperrors.ErrDuplicateName, "credential %q already exists", c.Name)
		}
	}
	c.ID = s.id()
	c.IsActive = false
	c.CreatedAt = s.now()
	stored := *c
	stored.EncryptedToken = append([]byte(nil), c.EncryptedToken...)
	s.credentials[c.UserID] = append(s.credentials[c.UserID], stored)
	return nil
}

func (s *Store) ListCredentials(ctx context.Context, userID int64) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.Credential(nil), s.credentials[userID]...), nil
}

func (s *Store) GetActiveCredential(ctx context.Context, userID int64) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.credentials[userID] {
		if c.IsActive {
			return &c, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrNoActiveCredential, "no active credential")
}

func (s *Store) ActivateCredential(ctx context.Context, userID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds := s.credentials[userID]
	target := -1
	for i := range creds {
		if creds[i].Name == name {
			target = i
		}
	}
	if target < 0 {
		return apperrors.NotFound("credential", name)
	}
	for i := range creds {
		creds[i].IsActive = i == target
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, userID int64, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds := s.credentials[userID]
	for i, c := range creds {
		if c.Name == name {
			s.credentials[userID] = append(creds[:i:i], creds[i+1:]...)
			return c.IsActive, nil
		}
	}
	return false, apperrors.NotFound("credential", name)
}

func (s *Store) upsertRepository(r *model.Repository) {
	key := repoKey{userID: r.UserID, owner: r.Owner, name: r.Name}
	if r.LastModified.IsZero() {
		r.LastModified = s.now()
	}
	if existing, ok := s.repositories[key]; ok {
		r.ID = existing.ID
	} else {
		r.ID = s.id()
	}
	s.repositories[key] = *r
}

func (s *Store) UpsertRepository(ctx context.Context, r *model.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertRepository(r)
	return nil
}

func (s *Store) UpsertRepositories(ctx context.Context, repos []model.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range repos {
		s.upsertRepository(&repos[i])
	}
	return nil
}

func (s *Store) GetRepository(ctx context.Context, userID int64, owner, name string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repositories[repoKey{userID: userID, owner: owner, name: name}]
	if !ok {
		return nil, apperrors.NotFound("repository", owner+"/"+name)
	}
	return &r, nil
}

func (s *Store) ListRepositories(ctx context.Context, userID int64) ([]model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repos []model.Repository
	for k, r := range s.repositories {
		if k.userID == userID {
			repos = append(repos, r)
		}
	}
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].Owner != repos[j].Owner {
			return repos[i].Owner < repos[j].Owner
		}
		return repos[i].Name < repos[j].Name
	})
	return repos, nil
}

func (s *Store) AppendAuditLog(ctx context.Context, e *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[e.UserID]; !ok {
		return apperrors.NotFound("user", fmt.Sprint(e.UserID))
	}
	e.ID = s.id()
	e.Timestamp = s.now()
	s.auditLogs[e.UserID] = append(s.auditLogs[e.UserID], *e)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, userID int64, limit int) ([]model.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	logs := s.auditLogs[userID]
	out := make([]model.AuditLogEntry, 0, min(limit, len(logs)))
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}
