// Package store persists ledger state: the global aggregate, per-submitter
// rate-limit state, the keyed report store, and the consensus checkpoint.
// All mutations of one ledger call are written through a single Apply so a
// call either fully commits or leaves the store untouched.
package store

import (
	"context"
	"errors"

	"trustchain.mini/tcm/internal/types"
)

var (
	// ErrNotFound is returned when a keyed lookup has no entry.
	ErrNotFound = errors.New("not found")
	// ErrCapacity is returned when the medium cannot hold another report.
	ErrCapacity = errors.New("store capacity exhausted")
)

// DefaultPageSize is used by Reports when limit is not positive.
const DefaultPageSize = 100

// Batch is the complete set of writes produced by one ledger call. Nil
// fields are left untouched.
type Batch struct {
	Global     *types.GlobalState
	Submitter  *types.SubmitterState
	Report     *types.ReportRecord
	Checkpoint *types.Checkpoint
	// TxID marks the delivering transaction as applied.
	TxID string
}

// Empty reports whether the batch carries no writes.
func (b Batch) Empty() bool {
	return b.Global == nil && b.Submitter == nil && b.Report == nil && b.Checkpoint == nil && b.TxID == ""
}

// Commit records the last block committed by consensus.
type Commit struct {
	Height  int64
	AppHash []byte
}

// Store is implemented by every persistence backend.
type Store interface {
	Global(ctx context.Context) (types.GlobalState, error)
	Submitter(ctx context.Context, address string) (types.SubmitterState, error)
	Report(ctx context.Context, id uint64) (types.ReportRecord, error)
	// Reports returns up to limit records with identifiers above after, in
	// identifier order.
	Reports(ctx context.Context, after uint64, limit int) ([]types.ReportRecord, error)
	// TxApplied reports whether a batch carrying id was applied.
	TxApplied(ctx context.Context, id string) (bool, error)
	Checkpoint(ctx context.Context) (types.Checkpoint, error)
	Apply(ctx context.Context, b Batch) error

	LastCommit(ctx context.Context) (Commit, error)
	SaveCommit(ctx context.Context, c Commit) error

	Close() error
}
