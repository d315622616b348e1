// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

const (
	// maxRetries bounds the attempts of a read call, the first one included.
	maxRetries = 3
	perPage    = 100
	userAgent  = "github-visibility-bot"
)

// Client talks to the GitHub REST API on behalf of whichever credential is
// passed to each call. It keeps no token of its own.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	backoff time.Duration
}

// NewClient creates a Client. An empty baseURL targets api.github.com; any
// other value is treated as a GitHub Enterprise endpoint.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger.With("component", "github"),
		backoff: 500 * time.Millisecond,
	}
}

// gh builds an authenticated go-github client for one call.
func (c *Client) gh(ctx context.Context, token model.Token) (*github.Client, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(token)})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	gh.UserAgent = userAgent

	if c.baseURL == "" {
		return gh, nil
	}
	gh, err := gh.WithEnterpriseURLs(c.baseURL, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("configuring github base url: %w", err)
	}
	return gh, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ValidateToken resolves the login that owns token. A token GitHub rejects
// outright is ErrInvalidToken.
func (c *Client) ValidateToken(ctx context.Context, token model.Token) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gh, err := c.gh(ctx, token)
	if err != nil {
		return "", err
	}

	var user *github.User
	err = c.retry(ctx, "validate token", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		user, resp, err = gh.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnauthorized {
			return "", apperrors.Wrap(apperrors.ErrInvalidToken, err, "github rejected the token")
		}
		return "", mapError("validate token", err)
	}
	if user.GetLogin() == "" {
		return "", apperrors.New(apperrors.ErrInvalidToken, "github returned no login for the token")
	}
	return user.GetLogin(), nil
}

// GetRepo fetches the live state of owner/name.
func (c *Client) GetRepo(ctx context.Context, token model.Token, owner, name string) (*model.RemoteRepo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gh, err := c.gh(ctx, token)
	if err != nil {
		return nil, err
	}

	var repo *github.Repository
	err = c.retry(ctx, "get repository", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = gh.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, mapError(owner+"/"+name, err)
	}
	r := toRemoteRepo(repo)
	return &r, nil
}

// SetVisibility changes owner/name to the target visibility. Setting the
// current visibility is accepted by GitHub and is not an error. Mutations are
// never retried.
func (c *Client) SetVisibility(ctx context.Context, token model.Token, owner, name string, target model.Visibility) (*model.RemoteRepo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gh, err := c.gh(ctx, token)
	if err != nil {
		return nil, err
	}

	repo, _, err := gh.Repositories.Edit(ctx, owner, name, &github.Repository{Private: github.Bool(target.IsPrivate())})
	if err != nil {
		return nil, mapError(owner+"/"+name, err)
	}
	r := toRemoteRepo(repo)
	return &r, nil
}

// ListRepos returns every repository visible to the token, most recently
// updated first. It handles API pagination transparently.
func (c *Client) ListRepos(ctx context.Context, token model.Token) ([]model.RemoteRepo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gh, err := c.gh(ctx, token)
	if err != nil {
		return nil, err
	}

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Type:        "all",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []model.RemoteRepo
	for {
		c.logger.Debug("Fetching repositories page", "page", opts.Page)

		var repos []*github.Repository
		var resp *github.Response
		err := c.retry(ctx, "list repositories", func() (*github.Response, error) {
			var err error
			repos, resp, err = gh.Repositories.ListByAuthenticatedUser(ctx, opts)
			return resp, err
		})
		if err != nil {
			return nil, mapError("list repositories", err)
		}

		for _, r := range repos {
			all = append(all, toRemoteRepo(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// retry runs a read call up to maxRetries times. Server errors, network
// errors and rate limits that reset before the deadline are retried.
func (c *Client) retry(ctx context.Context, op string, call func() (*github.Response, error)) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var resp *github.Response
		resp, err = call()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		wait, ok := c.retryWait(ctx, resp, err, attempt)
		if !ok {
			break
		}

		c.logger.Warn("Retrying GitHub request", "op", op, "attempt", attempt, "wait", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (c *Client) retryWait(ctx context.Context, resp *github.Response, err error, attempt int) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	var wait time.Duration
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr):
		wait = time.Until(rateErr.Rate.Reset.Time)
	case errors.As(err, &abuseErr):
		if abuseErr.RetryAfter == nil {
			return 0, false
		}
		wait = *abuseErr.RetryAfter
	case errors.As(err, &ghErr):
		if resp == nil || resp.StatusCode < http.StatusInternalServerError {
			return 0, false
		}
		wait = c.backoff * time.Duration(attempt)
	default:
		// transport failure
		wait = c.backoff * time.Duration(attempt)
	}

	if wait < 0 {
		wait = 0
	}
	if deadline, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(deadline) {
		return 0, false
	}
	return wait, true
}

// mapError converts go-github failures into the error taxonomy.
func mapError(target string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Wrap(apperrors.ErrTransient, err, "%s: github request timed out", target)
	case errors.As(err, &rateErr):
		return apperrors.Wrap(apperrors.ErrTransient, err, "%s: github rate limit exceeded until %s", target, rateErr.Rate.Reset.Format(time.RFC3339))
	case errors.As(err, &abuseErr):
		return apperrors.Wrap(apperrors.ErrTransient, err, "%s: github secondary rate limit hit", target)
	case errors.As(err, &ghErr):
		if ghErr.Response == nil {
			return apperrors.Wrap(apperrors.ErrRemote, err, "%s", target)
		}
		switch code := ghErr.Response.StatusCode; {
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return apperrors.Wrap(apperrors.ErrPermission, err, "%s: %s", target, ghErr.Message)
		case code == http.StatusNotFound:
			return apperrors.Wrap(apperrors.ErrRemoteNotFound, err, "%s", target)
		case code >= http.StatusInternalServerError:
			return apperrors.Wrap(apperrors.ErrTransient, err, "%s: github returned %d", target, code)
		default:
			return apperrors.Wrap(apperrors.ErrRemote, err, "%s: %s", target, ghErr.Message)
		}
	default:
		return apperrors.Wrap(apperrors.ErrTransient, err, "%s: github unreachable", target)
	}
}

// toRemoteRepo translates a github.Repository to our internal model.RemoteRepo.
func toRemoteRepo(r *github.Repository) model.RemoteRepo {
	return model.RemoteRepo{
		Owner:       r.GetOwner().GetLogin(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Visibility:  model.VisibilityOf(r.GetPrivate()),
		Description: r.GetDescription(),
		Language:    r.GetLanguage(),
		SizeKB:      r.GetSize(),
		URL:         r.GetHTMLURL(),
		UpdatedAt:   r.GetUpdatedAt().Time,
	}
}
