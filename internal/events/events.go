// Package events carries ledger events to off-system consumers. The ledger
// produces types.Event values; the ABCI layer wraps them in an Envelope and
// hands them to a Sink once the call has been applied.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustchain.mini/tcm/internal/types"
)

// Envelope is one delivered event plus where it was delivered.
type Envelope struct {
	ID       string      `json:"id"`
	Height   int64       `json:"height"`
	TxHash   string      `json:"tx_hash,omitempty"`
	Event    types.Event `json:"event"`
	Received time.Time   `json:"received"`
}

// NewEnvelope stamps ev with a fresh id and the current time.
func NewEnvelope(height int64, txHash string, ev types.Event) Envelope {
	return Envelope{
		ID:       uuid.NewString(),
		Height:   height,
		TxHash:   txHash,
		Event:    ev,
		Received: time.Now().UTC(),
	}
}

// Sink accepts delivered events. Publish must not block for long; consumers
// that can stall do their own buffering.
type Sink interface {
	Publish(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

func (f SinkFunc) Publish(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Fanout publishes to every sink and joins their errors. A failing sink does
// not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout skips nil sinks.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{logger: logger.With("component", "events")}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, env); err != nil {
			f.logger.Warn("event sink failed", "event", env.ID, "kind", env.Event.Kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
