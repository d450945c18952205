package events

import (
	"context"
	"sync"
)

// Log keeps the most recent envelopes in memory for the API.
type Log struct {
	mu      sync.RWMutex
	entries []Envelope
	maxSize int
}

// NewLog creates a log that keeps at most maxSize envelopes.
func NewLog(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Log{
		entries: make([]Envelope, 0, maxSize),
		maxSize: maxSize,
	}
}

// Publish appends env, dropping the oldest entry when full.
func (l *Log) Publish(_ context.Context, env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, env)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	return nil
}

// Recent returns up to n envelopes, newest first.
func (l *Log) Recent(n int) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	result := make([]Envelope, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[len(l.entries)-1-i]
	}
	return result
}

// Len returns the number of retained envelopes.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
