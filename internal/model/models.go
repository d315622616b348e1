// internal/model/models.go
package model

import (
	"fmt"
	"time"
)

// Visibility is a GitHub repository access mode.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ParseVisibility accepts "public" or "private".
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case Public, Private:
		return v, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// Opposite returns the other visibility.
func (v Visibility) Opposite() Visibility {
	if v == Private {
		return Public
	}
	return Private
}

// IsPrivate maps the visibility onto GitHub's "private" flag.
func (v Visibility) IsPrivate() bool {
	return v == Private
}

// VisibilityOf maps GitHub's "private" flag onto a Visibility.
func VisibilityOf(private bool) Visibility {
	if private {
		return Private
	}
	return Public
}

// AuditStatus is the outcome recorded for an audited action.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
)

// Audited action names.
const (
	ActionSetVisibility      = "set_visibility"
	ActionAddCredential      = "add_credential"
	ActionActivateCredential = "activate_credential"
	ActionRemoveCredential   = "remove_credential"
)

// Token is a plaintext GitHub token. Loggers redact values of this type.
type Token string

// User is a Telegram identity known to the bot.
type User struct {
	UserID       int64
	Username     string
	IsAuthorized bool
	CreatedAt    time.Time
}

// Credential is a named GitHub API profile. The token is stored encrypted.
type Credential struct {
	ID             int64
	UserID         int64
	Name           string
	EncryptedToken []byte
	GitHubUsername string
	IsActive       bool
	CreatedAt      time.Time
}

// ActiveCredential is a credential with its token decrypted for use.
type ActiveCredential struct {
	Name           string
	GitHubUsername string
	Token          Token
	CreatedAt      time.Time
}

// Repository is the local mirror of a repository's visibility. Remote state wins.
type Repository struct {
	ID           int64
	UserID       int64
	Name         string
	Owner        string
	Visibility   Visibility
	LastModified time.Time
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// AuditLogEntry records one attempted mutating operation.
type AuditLogEntry struct {
	ID         int64
	UserID     int64
	Action     string
	Repository string
	Timestamp  time.Time
	Status     AuditStatus
}

// RemoteRepo is the repository summary returned by GitHub.
type RemoteRepo struct {
	Owner       string
	Name        string
	FullName    string
	Visibility  Visibility
	Description string
	Language    string
	SizeKB      int
	URL         string
	UpdatedAt   time.Time
}
