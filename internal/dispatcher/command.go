// internal/dispatcher/command.go
package dispatcher

import (
	"github-visibility-bot/internal/authz"
	"github-visibility-bot/internal/credential"
	"github-visibility-bot/internal/model"
	"github-visibility-bot/internal/visibility"
)

// Name identifies a command independent of any transport.
type Name string

const (
	CmdStart              Name = "start"
	CmdHelp               Name = "help"
	CmdAddCredential      Name = "add-credential"
	CmdListCredentials    Name = "list-credentials"
	CmdActivateCredential Name = "activate-credential"
	CmdCurrentCredential  Name = "current-credential"
	CmdRemoveCredential   Name = "remove-credential"
	CmdListRepos          Name = "list-repos"
	CmdGetStatus          Name = "get-status"
	CmdSetVisibility      Name = "set-visibility"
	CmdBatchToggle        Name = "batch-toggle"
	CmdListAuditLogs      Name = "list-audit-logs"
	CmdAuthorizeUser      Name = "authorize-user"
	CmdRevokeUser         Name = "revoke-user"
)

var levels = map[Name]authz.Level{
	CmdStart:              authz.Public,
	CmdHelp:               authz.Public,
	CmdAddCredential:      authz.Authorized,
	CmdListCredentials:    authz.Authorized,
	CmdActivateCredential: authz.Authorized,
	CmdCurrentCredential:  authz.Authorized,
	CmdRemoveCredential:   authz.Authorized,
	CmdListRepos:          authz.Authorized,
	CmdGetStatus:          authz.Authorized,
	CmdSetVisibility:      authz.Authorized,
	CmdBatchToggle:        authz.Authorized,
	CmdListAuditLogs:      authz.Authorized,
	CmdAuthorizeUser:      authz.Admin,
	CmdRevokeUser:         authz.Admin,
}

// Command is one parsed user request.
//
// Args by command:
//
//	add-credential       name token
//	activate-credential  name
//	remove-credential    name
//	get-status           repo
//	set-visibility       public|private repo
//	batch-toggle         public|private|toggle repo...
//	list-audit-logs      [limit]
//	authorize-user       user_id
//	revoke-user          user_id
type Command struct {
	Name     Name
	UserID   int64
	Username string
	Args     []string
}

// Result is the structured outcome of a command. Err is nil on success, and
// only the fields relevant to Command are set.
type Result struct {
	Command   Name
	RequestID string
	Err       error

	User        *model.User
	IsAdmin     bool
	Credential  *credential.Summary
	Credentials []credential.Summary
	WasActive   bool
	Repo        *model.RemoteRepo
	Repos       []model.RemoteRepo
	Batch       *visibility.BatchResult
	AuditLogs   []model.AuditLogEntry
	TargetUser  *model.User
	MaxBatch    int
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
