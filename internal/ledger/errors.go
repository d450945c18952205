package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Every rejected call wraps exactly one of these, and a
// rejected call never mutates state.
var (
	ErrValidation       = errors.New("validation error")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStorage          = errors.New("storage error")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidState     = errors.New("invalid state")
	ErrReplayed         = errors.New("transaction already applied")
)

var kinds = []error{
	ErrValidation,
	ErrRateLimited,
	ErrNotFound,
	ErrUnauthorized,
	ErrStorage,
	ErrUnknownOperation,
	ErrInvalidState,
	ErrReplayed,
}

// Error carries the kind of a rejected call along with the operation that
// failed and, for storage failures, the underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) *Error {
	return &Error{Kind: ErrStorage, Op: op, Err: err}
}

// KindOf returns the kind sentinel wrapped by err, or nil when err is nil
// or carries no kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is a short stable label for err's kind, used in logs, metrics,
// and API error bodies.
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "internal"
	case ErrValidation:
		return "validation"
	case ErrRateLimited:
		return "rate_limited"
	case ErrNotFound:
		return "not_found"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrStorage:
		return "storage"
	case ErrUnknownOperation:
		return "unknown_operation"
	case ErrInvalidState:
		return "invalid_state"
	case ErrReplayed:
		return "replayed"
	}
	return "internal"
}
