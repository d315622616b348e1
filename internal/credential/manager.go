// internal/credential/manager.go
package credential

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github-visibility-bot/internal/audit"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

const (
	minTokenLen = 20
	maxTokenLen = 255
)

// Store is the slice of database.Store the manager needs.
type Store interface {
	audit.Appender
	CreateCredential(ctx context.Context, c *model.Credential) error
	ListCredentials(ctx context.Context, userID int64) ([]model.Credential, error)
	GetActiveCredential(ctx context.Context, userID int64) (*model.Credential, error)
	ActivateCredential(ctx context.Context, userID int64, name string) error
	DeleteCredential(ctx context.Context, userID int64, name string) (bool, error)
}

// TokenValidator resolves the GitHub login behind a token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token model.Token) (string, error)
}

// Cipher seals token material at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// Summary is what a user may see about a credential. It never carries the token.
type Summary struct {
	Name           string
	GitHubUsername string
	IsActive       bool
	CreatedAt      time.Time
}

// Manager owns each user's named GitHub credentials and their active choice.
type Manager struct {
	store     Store
	validator TokenValidator
	cipher    Cipher
	audit     *audit.Recorder
	logger    *slog.Logger
}

func NewManager(store Store, validator TokenValidator, cipher Cipher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		validator: validator,
		cipher:    cipher,
		audit:     audit.NewRecorder(store, logger),
		logger:    logger.With("component", "credential"),
	}
}

// ValidateName checks a credential name's shape.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return apperrors.Validation("name", "must be 1-32 letters, digits, '_' or '-'")
	}
	return nil
}

func validateToken(token model.Token) error {
	switch {
	case len(token) < minTokenLen || len(token) > maxTokenLen:
		return apperrors.Validation("token", "must be %d-%d characters", minTokenLen, maxTokenLen)
	case strings.ContainsFunc(string(token), func(r rune) bool { return r <= ' ' || r == 0x7f }):
		return apperrors.Validation("token", "must not contain whitespace or control characters")
	}
	return nil
}

// Add validates token against GitHub, then stores it encrypted and inactive.
func (m *Manager) Add(ctx context.Context, userID int64, name string, token model.Token) (*Summary, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := validateToken(token); err != nil {
		return nil, err
	}

	summary, err := m.add(ctx, userID, name, token)
	if err := m.audit.Record(ctx, userID, model.ActionAddCredential, name, err); err != nil {
		return nil, err
	}
	m.logger.Info("Credential added", "user_id", userID, "name", name, "github_username", summary.GitHubUsername)
	return summary, nil
}

func (m *Manager) add(ctx context.Context, userID int64, name string, token model.Token) (*Summary, error) {
	// An invalid token is reported before a taken name.
	login, err := m.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c.Name == name {
			return nil, apperrors.New(apperrors.ErrDuplicateName, "credential %q already exists", name)
		}
	}

	sealed, err := m.cipher.Encrypt([]byte(token))
	if err != nil {
		return nil, err
	}

	c := &model.Credential{UserID: userID, Name: name, EncryptedToken: sealed, GitHubUsername: login}
	if err := m.store.CreateCredential(ctx, c); err != nil {
		return nil, err
	}
	return toSummary(*c), nil
}

// List returns the user's credentials in the order they were added.
func (m *Manager) List(ctx context.Context, userID int64) ([]Summary, error) {
	creds, err := m.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(creds))
	for _, c := range creds {
		out = append(out, *toSummary(c))
	}
	return out, nil
}

// Activate makes name the user's only active credential.
func (m *Manager) Activate(ctx context.Context, userID int64, name string) (*Summary, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	err := m.store.ActivateCredential(ctx, userID, name)
	if err := m.audit.Record(ctx, userID, model.ActionActivateCredential, name, err); err != nil {
		return nil, err
	}

	active, err := m.store.GetActiveCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Credential activated", "user_id", userID, "name", name)
	return toSummary(*active), nil
}

// Active returns the user's active credential with its token decrypted.
func (m *Manager) Active(ctx context.Context, userID int64) (*model.ActiveCredential, error) {
	c, err := m.store.GetActiveCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	plain, err := m.cipher.Decrypt(c.EncryptedToken)
	if err != nil {
		m.logger.Error("Stored credential cannot be decrypted", "user_id", userID, "name", c.Name, "error", err)
		return nil, err
	}
	return &model.ActiveCredential{
		Name:           c.Name,
		GitHubUsername: c.GitHubUsername,
		Token:          model.Token(plain),
		CreatedAt:      c.CreatedAt,
	}, nil
}

// Current describes the active credential without decrypting it.
func (m *Manager) Current(ctx context.Context, userID int64) (*Summary, error) {
	c, err := m.store.GetActiveCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toSummary(*c), nil
}

// Remove deletes name. Removing the active credential leaves the user with
// none active; no other credential is promoted.
func (m *Manager) Remove(ctx context.Context, userID int64, name string) (wasActive bool, err error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	wasActive, err = m.store.DeleteCredential(ctx, userID, name)
	if err := m.audit.Record(ctx, userID, model.ActionRemoveCredential, name, err); err != nil {
		return false, err
	}
	m.logger.Info("Credential removed", "user_id", userID, "name", name, "was_active", wasActive)
	return wasActive, nil
}

func toSummary(c model.Credential) *Summary {
	return &Summary{
		Name:           c.Name,
		GitHubUsername: c.GitHubUsername,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
	}
}
