package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gowebpki/jcs"

	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

func (l *Ledger) getReport(ctx context.Context, op string, c types.Call) (types.Result, error) {
	raw := c.Arg(1)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return types.Result{}, newError(ErrValidation, op, "report identifier %q is not an unsigned integer", raw)
	}
	rec, err := l.lookupReport(ctx, op, id)
	if err != nil {
		return types.Result{}, err
	}
	out, err := Canonical(rec)
	if err != nil {
		return types.Result{}, storageError(op, err)
	}
	return types.Result{Value: string(out)}, nil
}

func (l *Ledger) getStats(g types.GlobalState) (types.Result, error) {
	st := statsOf(g)
	out, err := Canonical(st)
	if err != nil {
		return types.Result{}, storageError(types.MethodGetStats, err)
	}
	return types.Result{
		Value:  string(out),
		Events: []types.Event{statsEvent(st)},
	}, nil
}

func (l *Ledger) lookupReport(ctx context.Context, op string, id uint64) (types.ReportRecord, error) {
	rec, err := l.store.Report(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.ReportRecord{}, newError(ErrNotFound, op, "report %d", id)
	}
	if err != nil {
		return types.ReportRecord{}, storageError(op, err)
	}
	return rec, nil
}

func statsOf(g types.GlobalState) types.Stats {
	return types.Stats{TotalReports: g.TotalReports, Version: g.Version, Admin: g.Admin}
}

// Canonical serializes v as RFC 8785 canonical JSON so equal values always
// produce identical bytes.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// The read helpers below serve queries that arrive outside the ordered call
// stream. They take the same lock as Dispatch and apply the same lifecycle
// rules.

// Stats returns the get_stats projection.
func (l *Ledger) Stats(ctx context.Context) (types.Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, err := l.activeGlobal(ctx, types.MethodGetStats)
	if err != nil {
		return types.Stats{}, err
	}
	return statsOf(g), nil
}

// Report returns the record stored under id.
func (l *Ledger) Report(ctx context.Context, id uint64) (types.ReportRecord, error) {
	const op = types.MethodGetReport
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.activeGlobal(ctx, op); err != nil {
		return types.ReportRecord{}, err
	}
	return l.lookupReport(ctx, op, id)
}

// Reports pages through stored records in identifier order, starting after
// the given identifier. A non-positive limit selects store.DefaultPageSize.
func (l *Ledger) Reports(ctx context.Context, after uint64, limit int) ([]types.ReportRecord, error) {
	const op = "list_reports"
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.activeGlobal(ctx, op); err != nil {
		return nil, err
	}
	recs, err := l.store.Reports(ctx, after, limit)
	if err != nil {
		return nil, storageError(op, err)
	}
	return recs, nil
}

// Submitter returns the rate-limit state of address.
func (l *Ledger) Submitter(ctx context.Context, address string) (types.SubmitterState, error) {
	const op = "get_submitter"
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.activeGlobal(ctx, op); err != nil {
		return types.SubmitterState{}, err
	}
	st, err := l.store.Submitter(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return types.SubmitterState{}, newError(ErrNotFound, op, "submitter %s", address)
	}
	if err != nil {
		return types.SubmitterState{}, storageError(op, err)
	}
	return st, nil
}

// State returns the full global aggregate in any lifecycle status.
func (l *Ledger) State(ctx context.Context) (types.GlobalState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadGlobal(ctx, "state")
}

// ActiveState returns the global aggregate of an active instance, and an
// ErrInvalidState error otherwise.
func (l *Ledger) ActiveState(ctx context.Context) (types.GlobalState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeGlobal(ctx, "state")
}

// activeGlobal must be called with l.mu held.
func (l *Ledger) activeGlobal(ctx context.Context, op string) (types.GlobalState, error) {
	g, err := l.loadGlobal(ctx, op)
	if err != nil {
		return types.GlobalState{}, err
	}
	if g.Status != types.StatusActive {
		return types.GlobalState{}, newError(ErrInvalidState, op, "instance is %s", g.Status)
	}
	return g, nil
}
