// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github-visibility-bot/internal/authz"
	"github-visibility-bot/internal/credential"
	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
	"github-visibility-bot/internal/visibility"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 100
	startAuditLimit   = 5
)

// Gate admits or refuses callers.
type Gate interface {
	Check(ctx context.Context, userID int64, username string, level authz.Level) (*model.User, error)
	IsAdmin(userID int64) bool
	Authorize(ctx context.Context, adminID, target int64) (*model.User, error)
	Revoke(ctx context.Context, adminID, target int64) (*model.User, error)
}

// Credentials manages a user's GitHub credentials.
type Credentials interface {
	Add(ctx context.Context, userID int64, name string, token model.Token) (*credential.Summary, error)
	List(ctx context.Context, userID int64) ([]credential.Summary, error)
	Activate(ctx context.Context, userID int64, name string) (*credential.Summary, error)
	Current(ctx context.Context, userID int64) (*credential.Summary, error)
	Remove(ctx context.Context, userID int64, name string) (bool, error)
}

// Visibility reads and changes repository visibility.
type Visibility interface {
	Status(ctx context.Context, userID int64, ref visibility.RepoRef) (*model.RemoteRepo, error)
	Set(ctx context.Context, userID int64, ref visibility.RepoRef, target model.Visibility) (*model.RemoteRepo, error)
	Batch(ctx context.Context, userID int64, refs []visibility.RepoRef, target visibility.Target) (*visibility.BatchResult, error)
	ListRepos(ctx context.Context, userID int64) ([]model.RemoteRepo, error)
	MaxBatch() int
}

// AuditLogs reads a user's audit trail.
type AuditLogs interface {
	ListAuditLogs(ctx context.Context, userID int64, limit int) ([]model.AuditLogEntry, error)
}

// Dispatcher routes commands through the gate to the component that runs them.
type Dispatcher struct {
	gate   Gate
	creds  Credentials
	vis    Visibility
	audits AuditLogs
	lanes  *lanes
	logger *slog.Logger
}

func New(gate Gate, creds Credentials, vis Visibility, audits AuditLogs, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gate:   gate,
		creds:  creds,
		vis:    vis,
		audits: audits,
		lanes:  newLanes(),
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch runs cmd and always returns a Result. Commands from one user never
// overlap; different users run in parallel.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Result {
	res := Result{Command: cmd.Name, RequestID: uuid.NewString()}
	logger := d.logger.With("request_id", res.RequestID, "command", cmd.Name, "user_id", cmd.UserID)

	level, ok := levels[cmd.Name]
	if !ok {
		res.Err = apperrors.Validation("command", "unknown command %q", cmd.Name)
		return res
	}

	release, err := d.lanes.acquire(ctx, cmd.UserID)
	if err != nil {
		res.Err = apperrors.Wrap(apperrors.ErrTransient, err, "your previous command is still running, try again shortly")
		logger.Warn("Command gave up waiting for its lane", "error", err)
		return res
	}
	defer release()

	start := time.Now()
	user, err := d.gate.Check(ctx, cmd.UserID, cmd.Username, level)
	if err != nil {
		res.Err = err
		logger.Info("Command refused", "error", err)
		return res
	}
	res.User = user
	res.IsAdmin = d.gate.IsAdmin(cmd.UserID)

	res.Err = d.run(ctx, cmd, &res)
	if res.Err != nil {
		logger.Warn("Command failed", "error", res.Err, "kind", apperrors.KindOf(res.Err), "duration", time.Since(start))
	} else {
		logger.Info("Command completed", "duration", time.Since(start))
	}
	return res
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, res *Result) error {
	var err error
	switch cmd.Name {
	case CmdStart:
		return d.start(ctx, cmd, res)

	case CmdHelp:
		res.MaxBatch = d.vis.MaxBatch()
		return nil

	case CmdAddCredential:
		if err := wantArgs(cmd, 2, "<name> <token>"); err != nil {
			return err
		}
		res.Credential, err = d.creds.Add(ctx, cmd.UserID, cmd.Args[0], model.Token(cmd.Args[1]))
		return err

	case CmdListCredentials:
		res.Credentials, err = d.creds.List(ctx, cmd.UserID)
		return err

	case CmdActivateCredential:
		if err := wantArgs(cmd, 1, "<name>"); err != nil {
			return err
		}
		res.Credential, err = d.creds.Activate(ctx, cmd.UserID, cmd.Args[0])
		return err

	case CmdCurrentCredential:
		res.Credential, err = d.creds.Current(ctx, cmd.UserID)
		return err

	case CmdRemoveCredential:
		if err := wantArgs(cmd, 1, "<name>"); err != nil {
			return err
		}
		res.Credential = &credential.Summary{Name: cmd.Args[0]}
		res.WasActive, err = d.creds.Remove(ctx, cmd.UserID, cmd.Args[0])
		return err

	case CmdListRepos:
		res.Repos, err = d.vis.ListRepos(ctx, cmd.UserID)
		return err

	case CmdGetStatus:
		if err := wantArgs(cmd, 1, "<repo>"); err != nil {
			return err
		}
		ref, err := visibility.ParseRef(cmd.Args[0])
		if err != nil {
			return err
		}
		res.Repo, err = d.vis.Status(ctx, cmd.UserID, ref)
		return err

	case CmdSetVisibility:
		if err := wantArgs(cmd, 2, "public|private <repo>"); err != nil {
			return err
		}
		target, err := model.ParseVisibility(cmd.Args[0])
		if err != nil {
			return apperrors.Validation("visibility", "%v", err)
		}
		ref, err := visibility.ParseRef(cmd.Args[1])
		if err != nil {
			return err
		}
		res.Repo, err = d.vis.Set(ctx, cmd.UserID, ref, target)
		return err

	case CmdBatchToggle:
		if len(cmd.Args) < 2 {
			return apperrors.Validation("arguments", "usage: [public|private|toggle] repo1,repo2,...")
		}
		target, err := visibility.ParseTarget(cmd.Args[0])
		if err != nil {
			return err
		}
		refs, err := visibility.ParseRefs(cmd.Args[1:])
		if err != nil {
			return err
		}
		res.Batch, err = d.vis.Batch(ctx, cmd.UserID, refs, target)
		return err

	case CmdListAuditLogs:
		limit, err := auditLimit(cmd.Args)
		if err != nil {
			return err
		}
		res.AuditLogs, err = d.audits.ListAuditLogs(ctx, cmd.UserID, limit)
		return err

	case CmdAuthorizeUser, CmdRevokeUser:
		if err := wantArgs(cmd, 1, "<user_id>"); err != nil {
			return err
		}
		target, err := strconv.ParseInt(cmd.Args[0], 10, 64)
		if err != nil {
			return apperrors.Validation("user_id", "%q is not a Telegram user id", cmd.Args[0])
		}
		if cmd.Name == CmdAuthorizeUser {
			res.TargetUser, err = d.gate.Authorize(ctx, cmd.UserID, target)
		} else {
			res.TargetUser, err = d.gate.Revoke(ctx, cmd.UserID, target)
		}
		return err
	}
	return apperrors.Validation("command", "unknown command %q", cmd.Name)
}

// start reports the caller's standing. Unauthorized users only learn their id.
func (d *Dispatcher) start(ctx context.Context, cmd Command, res *Result) error {
	if !res.User.IsAuthorized && !res.IsAdmin {
		return nil
	}
	var err error
	if res.Credentials, err = d.creds.List(ctx, cmd.UserID); err != nil {
		return err
	}
	res.AuditLogs, err = d.audits.ListAuditLogs(ctx, cmd.UserID, startAuditLimit)
	return err
}

func wantArgs(cmd Command, n int, usage string) error {
	if len(cmd.Args) != n {
		return apperrors.Validation("arguments", "usage: %s", usage)
	}
	return nil
}

func auditLimit(args []string) (int, error) {
	if len(args) == 0 {
		return defaultAuditLimit, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > maxAuditLimit {
		return 0, apperrors.Validation("limit", "must be a number between 1 and %d", maxAuditLimit)
	}
	return n, nil
}
