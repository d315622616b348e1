package telegram

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-visibility-bot/internal/credential"
	"github-visibility-bot/internal/dispatcher"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
	"github-visibility-bot/internal/visibility"
)

func TestRender_EscapesUserText(t *testing.T) {
	out := Render(dispatcher.Result{
		Command: dispatcher.CmdGetStatus,
		Repo: &model.RemoteRepo{
			Owner: "octo", Name: "site", Visibility: model.Private,
			Description: "<script>alert(1)</script> & more",
		},
	})
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "&lt;script&gt;alert(1)&lt;/script&gt; &amp; more")
	assert.Contains(t, out[0], "🔒 <b>octo/site</b>")
	assert.NotContains(t, out[0], "<script>")
}

func TestRender_Batch(t *testing.T) {
	out := Render(dispatcher.Result{
		Command: dispatcher.CmdBatchToggle,
		Batch: &visibility.BatchResult{
			Target:    visibility.TargetPrivate,
			Succeeded: 2,
			Failed:    1,
			Outcomes: []visibility.Outcome{
				{Repo: "octo/a", Visibility: model.Private},
				{Repo: "octo/b", Err: apperrors.Wrap(apperrors.ErrPermission, fmt.Errorf("PATCH https://api.github.com/repos/octo/b: 403"), "octo/b: admin rights required")},
				{Repo: "octo/c", Visibility: model.Private},
			},
		},
	})
	require.Len(t, out, 1)
	lines := strings.Split(out[0], "\n")
	assert.Equal(t, "<b>Batch private finished</b>: 2 succeeded, 1 failed", lines[0])
	assert.Equal(t, "✅ <code>octo/a</code> is now private", lines[2])
	assert.Equal(t, "❌ <code>octo/b</code>: octo/b: admin rights required", lines[3])
	assert.Equal(t, "✅ <code>octo/c</code> is now private", lines[4])
	assert.NotContains(t, out[0], "api.github.com")
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{apperrors.New(apperrors.ErrRateLimited, "too many requests, retry in 12s"), "⏳ too many requests, retry in 12s"},
		{apperrors.New(apperrors.ErrAuthorization, "you are not authorized"), "🚫 Access denied"},
		{apperrors.New(apperrors.ErrNoActiveCredential, "none"), "/load_api"},
		{apperrors.Validation("limit", "must be a number"), "See /help"},
		{apperrors.New(apperrors.ErrDuplicateName, "credential \"a\" already exists"), "❌ credential &#34;a&#34; already exists"},
		{apperrors.New(apperrors.ErrTransient, "github timed out"), "try again"},
		{fmt.Errorf("plain"), "❌ plain"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			out := Render(dispatcher.Result{Command: dispatcher.CmdListRepos, Err: tc.err})
			require.Len(t, out, 1)
			assert.Contains(t, out[0], tc.want)
		})
	}
}

func TestRender_StartAndHelp(t *testing.T) {
	out := Render(dispatcher.Result{Command: dispatcher.CmdStart, User: &model.User{UserID: 42}})
	assert.Contains(t, out[0], "user_42")
	assert.Contains(t, out[0], "/authorize 42")

	out = Render(dispatcher.Result{
		Command: dispatcher.CmdStart,
		User:    &model.User{UserID: 42, Username: "alice", IsAuthorized: true},
		Credentials: []credential.Summary{
			{Name: "a"}, {Name: "b", IsActive: true},
		},
	})
	assert.Contains(t, out[0], "GitHub credentials: 2 (active: <code>b</code>)")

	out = Render(dispatcher.Result{Command: dispatcher.CmdHelp, MaxBatch: 10})
	assert.Contains(t, out[0], "up to 10 repositories")
	assert.NotContains(t, out[0], "/authorize")

	out = Render(dispatcher.Result{Command: dispatcher.CmdHelp, MaxBatch: 10, IsAdmin: true})
	assert.Contains(t, out[0], "/authorize")
}

func TestRender_LongRepoListIsChunked(t *testing.T) {
	repos := make([]model.RemoteRepo, 300)
	for i := range repos {
		repos[i] = model.RemoteRepo{Owner: "octo", Name: fmt.Sprintf("repository-number-%03d", i), Visibility: model.Public}
	}
	out := Render(dispatcher.Result{Command: dispatcher.CmdListRepos, Repos: repos})

	require.Greater(t, len(out), 1)
	total := 0
	for _, msg := range out {
		assert.LessOrEqual(t, len(msg), maxMessageLen)
		total += strings.Count(msg, "<code>octo/repository-number-")
	}
	assert.Equal(t, 300, total)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunk("short", 10))
	assert.Equal(t, []string{"aaaa\n", "bbbb\n", "cc"}, chunk("aaaa\nbbbb\ncc", 6))
	assert.Equal(t, []string{"abc", "def", "g"}, chunk("abcdefg", 3))
}
