// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match them with errors.Is; an *Error also matches the
// parent of its kind (ErrRateLimited is an ErrAuthorization, and so on).
var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthorization      = errors.New("not authorized")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNotFound           = errors.New("not found")
	ErrNoActiveCredential = errors.New("no active credential")
	ErrDuplicateName      = errors.New("name already in use")
	ErrInvalidToken       = errors.New("invalid github token")
	ErrRemote             = errors.New("github rejected the request")
	ErrPermission         = errors.New("permission denied by github")
	ErrRemoteNotFound     = errors.New("repository not found or not accessible")
	ErrTransient          = errors.New("temporary failure")
	ErrPersistence        = errors.New("storage unavailable")
	ErrDecryption         = errors.New("decryption failed")
)

var parents = map[error]error{
	ErrRateLimited:        ErrAuthorization,
	ErrNoActiveCredential: ErrNotFound,
	ErrPermission:         ErrRemote,
	ErrRemoteNotFound:     ErrRemote,
	ErrTransient:          ErrRemote,
}

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind or one of its ancestors.
func (e *Error) Is(target error) bool {
	for k := e.Kind; k != nil; k = parents[k] {
		if k == target {
			return true
		}
	}
	return false
}

// New returns an *Error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind error, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation is returned for malformed input, before any network or storage call.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: field + ": " + fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource identified by name.
func NotFound(resource, name string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %q not found", resource, name)}
}

// KindOf returns the most specific sentinel kind in err's chain, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// MessageOf returns the user-facing message of err: the outermost *Error's
// Message when set, err.Error() otherwise.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// ErrInvalidRepoFormat is returned when a repository reference is not 'name' or 'owner/name'.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'name' or 'owner/name'", e.Repo)
}

func (e *ErrInvalidRepoFormat) Is(target error) bool {
	return target == ErrValidation
}
