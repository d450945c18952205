package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"trustchain.mini/tcm/internal/types"
)

// Memory is an in-process Store used by tests and throwaway nodes.
type Memory struct {
	mu         sync.RWMutex
	global     *types.GlobalState
	submitters map[string]types.SubmitterState
	reports    map[uint64]types.ReportRecord
	applied    map[string]struct{}
	checkpoint *types.Checkpoint
	commit     *Commit
	maxReports int
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxReports bounds the number of reports the store accepts. Zero means
// unbounded.
func WithMaxReports(n int) MemoryOption {
	return func(m *Memory) { m.maxReports = n }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		submitters: make(map[string]types.SubmitterState),
		reports:    make(map[uint64]types.ReportRecord),
		applied:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Global(ctx context.Context) (types.GlobalState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.global == nil {
		return types.GlobalState{}, ErrNotFound
	}
	return *m.global, nil
}

func (m *Memory) Submitter(ctx context.Context, address string) (types.SubmitterState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submitters[address]
	if !ok {
		return types.SubmitterState{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Report(ctx context.Context, id uint64) (types.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return types.ReportRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Reports(ctx context.Context, after uint64, limit int) ([]types.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.reports))
	for id := range m.reports {
		if id > after {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]types.ReportRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.reports[id])
	}
	return out, nil
}

func (m *Memory) TxApplied(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.applied[id]
	return ok, nil
}

func (m *Memory) Checkpoint(ctx context.Context) (types.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.checkpoint == nil {
		return types.Checkpoint{}, ErrNotFound
	}
	cp := *m.checkpoint
	cp.AppHash = append([]byte(nil), cp.AppHash...)
	return cp, nil
}

// Apply validates the whole batch before touching any map, so a rejected
// batch leaves the store unchanged.
func (m *Memory) Apply(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.TxID != "" {
		if _, exists := m.applied[b.TxID]; exists {
			return fmt.Errorf("record tx %s: already applied", b.TxID)
		}
	}
	if b.Report != nil {
		if _, exists := m.reports[b.Report.ID]; exists {
			return fmt.Errorf("insert report %d: duplicate identifier", b.Report.ID)
		}
		if m.maxReports > 0 && len(m.reports) >= m.maxReports {
			return fmt.Errorf("insert report %d: %w", b.Report.ID, ErrCapacity)
		}
	}

	if b.Global != nil {
		g := *b.Global
		m.global = &g
	}
	if b.Submitter != nil {
		m.submitters[b.Submitter.Address] = *b.Submitter
	}
	if b.Report != nil {
		m.reports[b.Report.ID] = *b.Report
	}
	if b.Checkpoint != nil {
		cp := *b.Checkpoint
		cp.AppHash = append([]byte(nil), cp.AppHash...)
		m.checkpoint = &cp
	}
	if b.TxID != "" {
		m.applied[b.TxID] = struct{}{}
	}
	return nil
}

func (m *Memory) LastCommit(ctx context.Context) (Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.commit == nil {
		return Commit{}, ErrNotFound
	}
	return *m.commit, nil
}

func (m *Memory) SaveCommit(ctx context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.AppHash = append([]byte(nil), c.AppHash...)
	m.commit = &c
	return nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }
