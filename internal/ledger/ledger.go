// Package ledger implements the report ledger state machine: instance
// lifecycle, submitter opt-in, rate-limited report submission, and the
// read-only report and statistics queries.
//
// Calls are serialized. Each accepted call produces a single store.Batch
// that is applied atomically, so a rejected call leaves no trace.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

// LifecycleHook runs after an admin update or delete has been committed and
// receives the new global state. Its error is logged and never changes the
// call's result.
type LifecycleHook func(ctx context.Context, action types.Action, current types.GlobalState) error

// Observer receives per-call measurements.
type Observer interface {
	ObserveCall(ctx context.Context, op, outcome string, elapsed time.Duration)
	ObserveReport(ctx context.Context, anonymous bool)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(context.Context, string, string, time.Duration) {}
func (nopObserver) ObserveReport(context.Context, bool)                        {}

// Ledger is the report ledger state machine.
type Ledger struct {
	mu       sync.Mutex
	store    store.Store
	params   Params
	hook     LifecycleHook
	observer Observer
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithParams overrides DefaultParams.
func WithParams(p Params) Option {
	return func(l *Ledger) { l.params = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.With("component", "ledger")
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observer = o
		}
	}
}

func WithLifecycleHook(h LifecycleHook) Option {
	return func(l *Ledger) { l.hook = h }
}

// New creates a ledger over s.
func New(s store.Store, opts ...Option) (*Ledger, error) {
	if s == nil {
		return nil, errors.New("ledger: nil store")
	}
	l := &Ledger{
		store:    s,
		params:   DefaultParams(),
		observer: nopObserver{},
		logger:   slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.params.Validate(); err != nil {
		return nil, fmt.Errorf("ledger params: %w", err)
	}
	return l, nil
}

// Params returns the active limits.
func (l *Ledger) Params() Params { return l.params }

// Dispatch routes one call to its handler. Lifecycle actions are matched
// first, then the method selector of ordinary calls.
func (l *Ledger) Dispatch(ctx context.Context, c types.Call) (res types.Result, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c.Action == "" {
		c.Action = types.ActionNoOp
	}
	op := operation(c)
	start := time.Now()
	defer func() {
		l.observer.ObserveCall(ctx, op, KindName(err), time.Since(start))
	}()

	res, err = l.dispatch(ctx, op, c)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			l.logger.Error("call failed", "op", op, "caller", c.Caller, "tx", c.TxHash, "error", err)
		} else {
			l.logger.Debug("call rejected", "op", op, "caller", c.Caller, "kind", KindName(err), "error", err)
		}
		return types.Result{}, err
	}
	if res.Mutated {
		l.logger.Info("call applied", "op", op, "caller", c.Caller, "tx", c.TxHash)
	}
	return res, nil
}

func (l *Ledger) dispatch(ctx context.Context, op string, c types.Call) (types.Result, error) {
	if c.TxID != "" {
		seen, err := l.store.TxApplied(ctx, c.TxID)
		if err != nil {
			return types.Result{}, storageError(op, err)
		}
		if seen {
			return types.Result{}, newError(ErrReplayed, op, "tx %s", c.TxID)
		}
	}

	g, err := l.loadGlobal(ctx, op)
	if err != nil {
		return types.Result{}, err
	}

	if c.Action == types.ActionCreate {
		return l.create(ctx, op, c, g)
	}
	if g.Status != types.StatusActive {
		return types.Result{}, newError(ErrInvalidState, op, "instance is %s", g.Status)
	}

	switch c.Action {
	case types.ActionDelete:
		return l.delete(ctx, op, c, g)
	case types.ActionUpdate:
		return l.update(ctx, op, c, g)
	case types.ActionCloseOut:
		return types.Result{}, nil
	case types.ActionOptIn:
		return l.optIn(ctx, op, c)
	case types.ActionNoOp:
		switch c.Selector() {
		case types.MethodSubmitReport:
			return l.submitReport(ctx, op, c, g)
		case types.MethodGetReport:
			return l.getReport(ctx, op, c)
		case types.MethodGetStats:
			return l.getStats(g)
		}
	}
	return types.Result{}, newError(ErrUnknownOperation, op, "action %q selector %q", c.Action, c.Selector())
}

// loadGlobal treats a missing aggregate as an uninitialized instance.
func (l *Ledger) loadGlobal(ctx context.Context, op string) (types.GlobalState, error) {
	g, err := l.store.Global(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return types.GlobalState{Status: types.StatusUninitialized}, nil
	}
	if err != nil {
		return types.GlobalState{}, storageError(op, err)
	}
	if g.Status == "" {
		g.Status = types.StatusUninitialized
	}
	return g, nil
}

// commit persists b together with the call's consensus position and
// transaction identifier.
func (l *Ledger) commit(ctx context.Context, op string, c types.Call, b store.Batch) error {
	b.Checkpoint = c.Position
	b.TxID = c.TxID
	if err := l.store.Apply(ctx, b); err != nil {
		return storageError(op, err)
	}
	return nil
}

func operation(c types.Call) string {
	if c.Action == types.ActionNoOp {
		if sel := c.Selector(); sel != "" {
			return sel
		}
		return string(types.ActionNoOp)
	}
	return string(c.Action)
}
