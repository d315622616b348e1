// internal/telegram/parse.go
package telegram

import (
	"strings"

	"github-visibility-bot/internal/dispatcher"
	"github-visibility-bot/internal/visibility"
)

var commands = map[string]dispatcher.Name{
	"start":        dispatcher.CmdStart,
	"help":         dispatcher.CmdHelp,
	"add_api":      dispatcher.CmdAddCredential,
	"list_apis":    dispatcher.CmdListCredentials,
	"load_api":     dispatcher.CmdActivateCredential,
	"current_api":  dispatcher.CmdCurrentCredential,
	"remove_api":   dispatcher.CmdRemoveCredential,
	"list_repos":   dispatcher.CmdListRepos,
	"repo_status":  dispatcher.CmdGetStatus,
	"public":       dispatcher.CmdSetVisibility,
	"private":      dispatcher.CmdSetVisibility,
	"batch_toggle": dispatcher.CmdBatchToggle,
	"logs":         dispatcher.CmdListAuditLogs,
	"authorize":    dispatcher.CmdAuthorizeUser,
	"revoke":       dispatcher.CmdRevokeUser,
}

// ParseCommand maps a Telegram command (without the slash or @bot suffix) and
// its argument text onto a dispatcher command. Unknown commands report false.
func ParseCommand(command, arguments string) (dispatcher.Command, bool) {
	name, ok := commands[strings.ToLower(command)]
	if !ok {
		return dispatcher.Command{}, false
	}

	cmd := dispatcher.Command{Name: name}
	fields := strings.Fields(arguments)
	switch name {
	case dispatcher.CmdSetVisibility:
		cmd.Args = append([]string{strings.ToLower(command)}, fields...)
	case dispatcher.CmdBatchToggle:
		cmd.Args = batchArgs(fields)
	default:
		cmd.Args = fields
	}
	return cmd, true
}

// batchArgs reads "[public|private|toggle] r1,r2 r3" into target followed by
// repositories. Without a leading target the batch toggles.
func batchArgs(fields []string) []string {
	target := string(visibility.TargetToggle)
	if len(fields) > 0 {
		if t, err := visibility.ParseTarget(strings.ToLower(fields[0])); err == nil {
			target = string(t)
			fields = fields[1:]
		}
	}

	args := []string{target}
	for _, f := range fields {
		for _, repo := range strings.Split(f, ",") {
			if repo = strings.TrimSpace(repo); repo != "" {
				args = append(args, repo)
			}
		}
	}
	return args
}
