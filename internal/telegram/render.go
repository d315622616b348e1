// internal/telegram/render.go
package telegram

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github-visibility-bot/internal/dispatcher"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// Telegram rejects messages over 4096 characters.
const maxMessageLen = 4000

const timeLayout = "2006-01-02 15:04 MST"

// Render turns a result into one or more HTML messages.
func Render(res dispatcher.Result) []string {
	var text string
	if res.Err != nil {
		text = renderError(res.Err)
	} else {
		text = renderOK(res)
	}
	return chunk(text, maxMessageLen)
}

func renderOK(res dispatcher.Result) string {
	var b strings.Builder
	switch res.Command {
	case dispatcher.CmdStart:
		renderStart(&b, res)

	case dispatcher.CmdHelp:
		renderHelp(&b, res)

	case dispatcher.CmdAddCredential:
		fmt.Fprintf(&b, "✅ Credential <code>%s</code> added for GitHub user <b>%s</b>.\n",
			esc(res.Credential.Name), esc(res.Credential.GitHubUsername))
		fmt.Fprintf(&b, "Your message with the token was deleted. Use <code>/load_api %s</code> to activate it.", esc(res.Credential.Name))

	case dispatcher.CmdListCredentials:
		if len(res.Credentials) == 0 {
			b.WriteString("No credentials yet. Add one with <code>/add_api &lt;name&gt; &lt;token&gt;</code>.")
			break
		}
		b.WriteString("<b>Your GitHub credentials</b>\n")
		for _, c := range res.Credentials {
			marker := "▫️"
			if c.IsActive {
				marker = "▶️"
			}
			fmt.Fprintf(&b, "%s <code>%s</code> (%s)\n", marker, esc(c.Name), esc(c.GitHubUsername))
		}

	case dispatcher.CmdActivateCredential:
		fmt.Fprintf(&b, "✅ Now using <code>%s</code> (GitHub user <b>%s</b>).", esc(res.Credential.Name), esc(res.Credential.GitHubUsername))

	case dispatcher.CmdCurrentCredential:
		fmt.Fprintf(&b, "Active credential: <code>%s</code>\nGitHub user: <b>%s</b>\nAdded: %s",
			esc(res.Credential.Name), esc(res.Credential.GitHubUsername), res.Credential.CreatedAt.UTC().Format(timeLayout))

	case dispatcher.CmdRemoveCredential:
		fmt.Fprintf(&b, "🗑 Credential <code>%s</code> removed.", esc(res.Credential.Name))
		if res.WasActive {
			b.WriteString("\nIt was active, so no credential is active now. Use <code>/load_api &lt;name&gt;</code> to pick another.")
		}

	case dispatcher.CmdListRepos:
		renderRepos(&b, res.Repos)

	case dispatcher.CmdGetStatus:
		renderRepo(&b, res.Repo)

	case dispatcher.CmdSetVisibility:
		fmt.Fprintf(&b, "✅ <code>%s</code> is now <b>%s</b>.", esc(repoName(res.Repo)), res.Repo.Visibility)

	case dispatcher.CmdBatchToggle:
		renderBatch(&b, res)

	case dispatcher.CmdListAuditLogs:
		renderLogs(&b, res.AuditLogs)

	case dispatcher.CmdAuthorizeUser:
		fmt.Fprintf(&b, "✅ User <code>%d</code> (%s) is authorized.", res.TargetUser.UserID, esc(res.TargetUser.Username))

	case dispatcher.CmdRevokeUser:
		fmt.Fprintf(&b, "🚫 User <code>%d</code> (%s) no longer has access.", res.TargetUser.UserID, esc(res.TargetUser.Username))

	default:
		b.WriteString("Done.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStart(b *strings.Builder, res dispatcher.Result) {
	u := res.User
	if !u.IsAuthorized && !res.IsAdmin {
		fmt.Fprintf(b, "👋 Hello, %s!\n\nYou are registered but not authorized yet. Ask an administrator to run <code>/authorize %d</code>.\n\nYour user id: <code>%d</code>",
			esc(displayName(u)), u.UserID, u.UserID)
		return
	}

	fmt.Fprintf(b, "🚀 Welcome back, %s!\n", esc(displayName(u)))
	if res.IsAdmin {
		b.WriteString("You have administrator privileges.\n")
	}
	b.WriteString("\n")

	var active string
	for _, c := range res.Credentials {
		if c.IsActive {
			active = c.Name
		}
	}
	switch {
	case len(res.Credentials) == 0:
		b.WriteString("No GitHub credentials yet. Start with <code>/add_api personal YOUR_TOKEN</code>.\n")
	case active == "":
		fmt.Fprintf(b, "GitHub credentials: %d (none active). Use <code>/load_api &lt;name&gt;</code>.\n", len(res.Credentials))
	default:
		fmt.Fprintf(b, "GitHub credentials: %d (active: <code>%s</code>)\n", len(res.Credentials), esc(active))
	}
	fmt.Fprintf(b, "Recent actions: %d\n\nSend /help for the command list.", len(res.AuditLogs))
}

func renderHelp(b *strings.Builder, res dispatcher.Result) {
	b.WriteString("<b>GitHub repository visibility bot</b>\n\n")
	b.WriteString("<b>Credentials</b>\n")
	b.WriteString("/add_api &lt;name&gt; &lt;token&gt; - add a GitHub token\n")
	b.WriteString("/list_apis - list your credentials\n")
	b.WriteString("/load_api &lt;name&gt; - switch the active credential\n")
	b.WriteString("/current_api - show the active credential\n")
	b.WriteString("/remove_api &lt;name&gt; - delete a credential\n\n")
	b.WriteString("<b>Repositories</b>\n")
	b.WriteString("/list_repos - list repositories\n")
	b.WriteString("/repo_status &lt;repo&gt; - show visibility\n")
	b.WriteString("/public &lt;repo&gt; - make a repository public\n")
	b.WriteString("/private &lt;repo&gt; - make a repository private\n")
	fmt.Fprintf(b, "/batch_toggle [public|private] r1,r2,... - change up to %d repositories; without a target each one flips\n\n", res.MaxBatch)
	b.WriteString("<b>Other</b>\n")
	b.WriteString("/logs [n] - recent activity\n")
	b.WriteString("/start - your status\n")
	if res.IsAdmin {
		b.WriteString("\n<b>Admin</b>\n")
		b.WriteString("/authorize &lt;user_id&gt; - grant access\n")
		b.WriteString("/revoke &lt;user_id&gt; - withdraw access\n")
	}
	b.WriteString("\nRepositories are <code>name</code> (owner of the active credential) or <code>owner/name</code>.")
}

func renderRepos(b *strings.Builder, repos []model.RemoteRepo) {
	if len(repos) == 0 {
		b.WriteString("No repositories are visible to the active credential.")
		return
	}
	private := 0
	for _, r := range repos {
		if r.Visibility == model.Private {
			private++
		}
	}
	fmt.Fprintf(b, "<b>%d repositories</b> (%d private, %d public)\n\n", len(repos), private, len(repos)-private)
	for _, r := range repos {
		fmt.Fprintf(b, "%s <code>%s</code>\n", icon(r.Visibility), esc(repoName(&r)))
	}
}

func renderRepo(b *strings.Builder, r *model.RemoteRepo) {
	fmt.Fprintf(b, "%s <b>%s</b>\n", icon(r.Visibility), esc(repoName(r)))
	fmt.Fprintf(b, "Visibility: <b>%s</b>\n", r.Visibility)
	if r.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", esc(r.Description))
	}
	if r.Language != "" {
		fmt.Fprintf(b, "Language: %s\n", esc(r.Language))
	}
	fmt.Fprintf(b, "Size: %d KB\n", r.SizeKB)
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(b, "Updated: %s\n", r.UpdatedAt.UTC().Format(timeLayout))
	}
	if r.URL != "" {
		fmt.Fprintf(b, "%s\n", esc(r.URL))
	}
}

func renderBatch(b *strings.Builder, res dispatcher.Result) {
	batch := res.Batch
	fmt.Fprintf(b, "<b>Batch %s finished</b>: %d succeeded, %d failed\n\n", batch.Target, batch.Succeeded, batch.Failed)
	for _, o := range batch.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(b, "❌ <code>%s</code>: %s\n", esc(o.Repo), esc(errorMessage(o.Err)))
			continue
		}
		fmt.Fprintf(b, "✅ <code>%s</code> is now %s\n", esc(o.Repo), o.Visibility)
	}
}

func renderLogs(b *strings.Builder, logs []model.AuditLogEntry) {
	if len(logs) == 0 {
		b.WriteString("No activity yet.")
		return
	}
	ok := 0
	for _, l := range logs {
		if l.Status == model.AuditSuccess {
			ok++
		}
	}
	fmt.Fprintf(b, "<b>Recent activity</b> (%d successful, %d failed)\n\n", ok, len(logs)-ok)
	for _, l := range logs {
		mark := "✅"
		if l.Status == model.AuditFailed {
			mark = "❌"
		}
		fmt.Fprintf(b, "%s %s <code>%s</code> %s\n", mark, esc(l.Action), esc(l.Repository), l.Timestamp.UTC().Format(timeLayout))
	}
}

func renderError(err error) string {
	msg := esc(errorMessage(err))
	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		return "⏳ " + msg
	case errors.Is(err, apperrors.ErrAuthorization):
		return "🚫 Access denied: " + msg
	case errors.Is(err, apperrors.ErrNoActiveCredential):
		return "❌ No active GitHub credential.\nAdd one with <code>/add_api &lt;name&gt; &lt;token&gt;</code> and select it with <code>/load_api &lt;name&gt;</code>."
	case errors.Is(err, apperrors.ErrValidation):
		return "⚠️ " + msg + "\nSee /help for usage."
	case errors.Is(err, apperrors.ErrInvalidToken):
		return "❌ GitHub rejected the token. Check that it is current and has the <code>repo</code> scope."
	case errors.Is(err, apperrors.ErrPermission):
		return "❌ GitHub refused: " + msg + "\nThe active credential needs admin rights on the repository."
	case errors.Is(err, apperrors.ErrTransient):
		return "⏳ " + msg + "\nPlease try again shortly."
	case errors.Is(err, apperrors.ErrPersistence), errors.Is(err, apperrors.ErrDecryption):
		return "💥 Internal error: " + msg
	}
	return "❌ " + msg
}

// errorMessage prefers the typed error's own message over its wrapped chain,
// which may carry raw HTTP details.
func errorMessage(err error) string {
	return apperrors.MessageOf(err)
}

func displayName(u *model.User) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("user_%d", u.UserID)
}

func repoName(r *model.RemoteRepo) string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Owner + "/" + r.Name
}

func icon(v model.Visibility) string {
	if v == model.Private {
		return "🔒"
	}
	return "🌐"
}

func esc(s string) string {
	return html.EscapeString(s)
}

// chunk splits text at line boundaries into pieces of at most limit bytes.
// A single longer line is cut.
func chunk(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var out []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
