// internal/authz/gate.go
package authz

import (
	"context"
	"log/slog"
	"time"

	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// Level is the access a command requires.
type Level int

const (
	// Public commands need only a registered user.
	Public Level = iota
	// Authorized commands need an admin-granted user.
	Authorized
	// Admin commands need allow-list membership.
	Admin
)

// UserStore is the slice of database.Store the gate needs.
type UserStore interface {
	EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error)
	SetAuthorized(ctx context.Context, userID int64, authorized bool) (*model.User, error)
}

// Gate decides whether a user may run a command.
type Gate struct {
	store   UserStore
	limiter *RateLimiter
	admins  map[int64]struct{}
	logger  *slog.Logger
}

func NewGate(store UserStore, limiter *RateLimiter, adminIDs []int64, logger *slog.Logger) *Gate {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{
		store:   store,
		limiter: limiter,
		admins:  admins,
		logger:  logger.With("component", "authz"),
	}
}

func (g *Gate) IsAdmin(userID int64) bool {
	_, ok := g.admins[userID]
	return ok
}

// Check rate limits the caller, registers them on first contact and then
// enforces level. Nothing is written for a rate-limited call.
func (g *Gate) Check(ctx context.Context, userID int64, username string, level Level) (*model.User, error) {
	if !g.limiter.Allow(userID) {
		g.logger.Warn("Rate limit exceeded", "user_id", userID)
		return nil, apperrors.New(apperrors.ErrRateLimited,
			"rate limit exceeded, try again in %s", g.limiter.RetryAfter(userID).Round(time.Second))
	}

	user, err := g.store.EnsureUser(ctx, userID, username)
	if err != nil {
		return nil, err
	}

	switch {
	case level == Public:
	case g.IsAdmin(userID):
	case level == Admin:
		g.logger.Warn("Admin command refused", "user_id", userID)
		return nil, apperrors.New(apperrors.ErrAuthorization, "this command is for admins only")
	case !user.IsAuthorized:
		g.logger.Info("Unauthorized user refused", "user_id", userID)
		return nil, apperrors.New(apperrors.ErrAuthorization, "user %d is not authorized, ask an admin to run /authorize %d", userID, userID)
	}
	return user, nil
}

// Authorize grants target access. The target must have contacted the bot.
func (g *Gate) Authorize(ctx context.Context, adminID, target int64) (*model.User, error) {
	return g.setAuthorized(ctx, adminID, target, true)
}

// Revoke withdraws target's access. Admins keep access through the allow-list.
func (g *Gate) Revoke(ctx context.Context, adminID, target int64) (*model.User, error) {
	return g.setAuthorized(ctx, adminID, target, false)
}

func (g *Gate) setAuthorized(ctx context.Context, adminID, target int64, authorized bool) (*model.User, error) {
	if !g.IsAdmin(adminID) {
		return nil, apperrors.New(apperrors.ErrAuthorization, "this command is for admins only")
	}
	if target <= 0 {
		return nil, apperrors.Validation("user_id", "must be a positive Telegram user id, got %d", target)
	}

	user, err := g.store.SetAuthorized(ctx, target, authorized)
	if err != nil {
		return nil, err
	}
	g.logger.Info("User authorization changed", "admin_id", adminID, "user_id", target, "authorized", authorized)
	return user, nil
}
