package ledger

import (
	"context"
	"errors"

	"github.com/Masterminds/semver/v3"

	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

func (l *Ledger) create(ctx context.Context, op string, c types.Call, g types.GlobalState) (types.Result, error) {
	if g.Status != types.StatusUninitialized {
		return types.Result{}, newError(ErrInvalidState, op, "instance is already %s", g.Status)
	}
	if types.IsZeroIdentity(c.Caller) {
		return types.Result{}, newError(ErrValidation, op, "creator identity is empty")
	}

	// An optional Args[0] overrides the configured version tag, as genesis
	// does.
	version := l.params.Version
	if raw := c.Arg(0); raw != "" {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return types.Result{}, newError(ErrValidation, op, "program version %q: %v", raw, err)
		}
		version = v.String()
	}

	next := types.GlobalState{
		TotalReports: 0,
		Version:      version,
		Admin:        c.Caller,
		Status:       types.StatusActive,
	}
	if err := l.commit(ctx, op, c, store.Batch{Global: &next}); err != nil {
		return types.Result{}, err
	}
	return types.Result{
		Events:  []types.Event{lifecycleEvent(c.Action, next)},
		Mutated: true,
	}, nil
}

func (l *Ledger) optIn(ctx context.Context, op string, c types.Call) (types.Result, error) {
	if types.IsZeroIdentity(c.Caller) {
		return types.Result{}, newError(ErrValidation, op, "caller identity is empty")
	}
	_, err := l.store.Submitter(ctx, c.Caller)
	if err == nil {
		// Already known; opting in again must not reset the cooldown.
		return types.Result{}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.Result{}, storageError(op, err)
	}

	st := types.SubmitterState{Address: c.Caller}
	if err := l.commit(ctx, op, c, store.Batch{Submitter: &st}); err != nil {
		return types.Result{}, err
	}
	return types.Result{Mutated: true}, nil
}

// update replaces the version tag. Args[0] carries the new program version,
// which must be a semantic version greater than the current one.
func (l *Ledger) update(ctx context.Context, op string, c types.Call, g types.GlobalState) (types.Result, error) {
	if c.Caller != g.Admin {
		return types.Result{}, newError(ErrUnauthorized, op, "caller is not the admin")
	}
	raw := c.Arg(0)
	if raw == "" {
		return types.Result{}, newError(ErrValidation, op, "missing program version")
	}
	next, err := semver.NewVersion(raw)
	if err != nil {
		return types.Result{}, newError(ErrValidation, op, "program version %q: %v", raw, err)
	}
	if cur, err := semver.NewVersion(g.Version); err == nil && !next.GreaterThan(cur) {
		return types.Result{}, newError(ErrValidation, op, "program version %s is not newer than %s", next, cur)
	}

	updated := g
	updated.Version = next.String()
	if err := l.commit(ctx, op, c, store.Batch{Global: &updated}); err != nil {
		return types.Result{}, err
	}
	l.runHook(ctx, op, c, updated)
	return types.Result{
		Events:  []types.Event{lifecycleEvent(c.Action, updated)},
		Mutated: true,
	}, nil
}

// delete retires the instance. Stored records are kept but every later call
// fails with ErrInvalidState.
func (l *Ledger) delete(ctx context.Context, op string, c types.Call, g types.GlobalState) (types.Result, error) {
	if c.Caller != g.Admin {
		return types.Result{}, newError(ErrUnauthorized, op, "caller is not the admin")
	}
	deleted := g
	deleted.Status = types.StatusDeleted
	if err := l.commit(ctx, op, c, store.Batch{Global: &deleted}); err != nil {
		return types.Result{}, err
	}
	l.runHook(ctx, op, c, deleted)
	return types.Result{
		Events:  []types.Event{lifecycleEvent(c.Action, deleted)},
		Mutated: true,
	}, nil
}

// runHook hands the committed state to the node-local hook. Its error is
// logged only.
func (l *Ledger) runHook(ctx context.Context, op string, c types.Call, g types.GlobalState) {
	if l.hook == nil {
		return
	}
	if err := l.hook(ctx, c.Action, g); err != nil {
		l.logger.Warn("lifecycle hook failed", "op", op, "tx", c.TxHash, "error", err)
	}
}
