// internal/visibility/batch.go
package visibility

import (
	"context"

	"golang.org/x/sync/errgroup"

	apperrors "github-visibility-bot/internal/errors"
	"github-visibility-bot/internal/model"
)

// Target is the goal of a batch: a fixed visibility or a per-repository flip.
type Target string

const (
	TargetPublic  = Target(model.Public)
	TargetPrivate = Target(model.Private)
	TargetToggle  Target = "toggle"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetPublic, TargetPrivate, TargetToggle:
		return t, nil
	}
	return "", apperrors.Validation("target", "must be public, private or toggle, got %q", s)
}

// Outcome is the result for one batch item. Err is nil on success.
type Outcome struct {
	Repo       string
	Visibility model.Visibility
	Err        error
}

// BatchResult lists outcomes in request order.
type BatchResult struct {
	Target    Target
	Outcomes  []Outcome
	Succeeded int
	Failed    int
}

// Batch applies target to every reference independently. A failed item never
// stops the others. Repeated references are separate attempts.
func (c *Controller) Batch(ctx context.Context, userID int64, refs []RepoRef, target Target) (*BatchResult, error) {
	if len(refs) == 0 {
		return nil, apperrors.Validation("repositories", "at least one repository is required")
	}
	if len(refs) > c.maxBatch {
		return nil, apperrors.Validation("repositories", "at most %d repositories per batch, got %d", c.maxBatch, len(refs))
	}
	if _, err := ParseTarget(string(target)); err != nil {
		return nil, err
	}

	cred, err := c.creds.Active(ctx, userID)
	if err != nil {
		for _, ref := range refs {
			_ = c.audit.Record(ctx, userID, model.ActionSetVisibility, ref.String(), err)
		}
		return nil, err
	}

	c.logger.Info("Starting batch", "user_id", userID, "target", target, "size", len(refs))
	outcomes := make([]Outcome, len(refs))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, ref := range refs {
		i := i
		ref := ref.withDefaultOwner(cred.GitHubUsername)
		outcomes[i].Repo = ref.String()
		g.Go(func() error {
			outcomes[i].Visibility, outcomes[i].Err = c.batchItem(ctx, userID, cred, ref, target)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{Target: target, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	c.logger.Info("Batch finished", "user_id", userID, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}

func (c *Controller) batchItem(ctx context.Context, userID int64, cred *model.ActiveCredential, ref RepoRef, target Target) (model.Visibility, error) {
	want := model.Visibility(target)
	if target == TargetToggle {
		current, err := c.github.GetRepo(ctx, cred.Token, ref.Owner, ref.Name)
		if err != nil {
			kind := apperrors.KindOf(err)
			if kind == nil {
				kind = apperrors.ErrRemote
			}
			err = apperrors.Wrap(kind, err, "reading current visibility: %s", apperrors.MessageOf(err))
			return "", c.audit.Record(ctx, userID, model.ActionSetVisibility, ref.String(), err)
		}
		want = current.Visibility.Opposite()
	}

	remote, err := c.set(ctx, userID, cred, ref, want)
	if err != nil {
		return "", err
	}
	return remote.Visibility, nil
}
