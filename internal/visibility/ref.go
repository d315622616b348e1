// internal/visibility/ref.go
package visibility

import (
	"regexp"
	"strings"

	apperrors "github-visibility-bot/internal/errors"
)

var (
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,39}$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)
)

// RepoRef names a repository. An empty Owner stands for the active
// credential's GitHub login.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

func (r RepoRef) withDefaultOwner(owner string) RepoRef {
	if r.Owner == "" {
		r.Owner = owner
	}
	return r
}

// ParseRef accepts "name" or "owner/name".
func ParseRef(s string) (RepoRef, error) {
	s = strings.TrimSpace(s)
	var ref RepoRef
	switch parts := strings.Split(s, "/"); len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Owner, ref.Name = parts[0], parts[1]
		if !ownerPattern.MatchString(ref.Owner) {
			return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: s}
		}
	default:
		return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: s}
	}
	if !namePattern.MatchString(ref.Name) || ref.Name == "." || ref.Name == ".." {
		return RepoRef{}, &apperrors.ErrInvalidRepoFormat{Repo: s}
	}
	return ref, nil
}

// ParseRefs parses every entry and rejects the whole list if any is malformed.
func ParseRefs(list []string) ([]RepoRef, error) {
	refs := make([]RepoRef, 0, len(list))
	for _, s := range list {
		ref, err := ParseRef(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
