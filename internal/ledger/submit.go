package ledger

import (
	"context"
	"errors"
	"strconv"

	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

// Submission is a validated submit_report payload.
type Submission struct {
	Message         string
	ReferenceCode   string
	EvidencePointer string
	Anonymous       bool
}

// ParseSubmission reads the positional submit_report arguments
// (selector, message, reference_code, evidence_pointer, anonymous_flag) and
// checks them against p. It touches no state, so the transport can use it to
// reject malformed transactions before ordering.
func ParseSubmission(p Params, args []string) (Submission, error) {
	const op = types.MethodSubmitReport
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	s := Submission{
		Message:         arg(1),
		ReferenceCode:   arg(2),
		EvidencePointer: arg(3),
	}
	if n := len(s.Message); n == 0 || n > p.MaxMessageLength {
		return Submission{}, newError(ErrValidation, op, "message length %d outside [1, %d]", n, p.MaxMessageLength)
	}
	if n := len(s.ReferenceCode); n > p.MaxReferenceLength {
		return Submission{}, newError(ErrValidation, op, "reference code length %d exceeds %d", n, p.MaxReferenceLength)
	}
	if n := len(s.EvidencePointer); n > p.MaxEvidenceLength {
		return Submission{}, newError(ErrValidation, op, "evidence pointer length %d exceeds %d", n, p.MaxEvidenceLength)
	}
	if flag := arg(4); flag != "" {
		anon, err := strconv.ParseBool(flag)
		if err != nil {
			return Submission{}, newError(ErrValidation, op, "anonymous flag %q is not a boolean", flag)
		}
		s.Anonymous = anon
	}
	return s, nil
}

// RateLimitOpen reports whether a submitter whose last accepted submission
// was at last may submit again at now. A zero last means never.
func RateLimitOpen(last, now, window uint64) bool {
	return last == 0 || now >= last+window
}

func (l *Ledger) submitReport(ctx context.Context, op string, c types.Call, g types.GlobalState) (types.Result, error) {
	sub, err := ParseSubmission(l.params, c.Args)
	if err != nil {
		return types.Result{}, err
	}
	if types.IsZeroIdentity(c.Caller) {
		return types.Result{}, newError(ErrValidation, op, "caller identity is empty")
	}
	if c.Timestamp == 0 {
		return types.Result{}, newError(ErrValidation, op, "missing block timestamp")
	}

	st, err := l.store.Submitter(ctx, c.Caller)
	switch {
	case errors.Is(err, store.ErrNotFound):
		st = types.SubmitterState{Address: c.Caller}
	case err != nil:
		return types.Result{}, storageError(op, err)
	}
	if !RateLimitOpen(st.LastSubmissionTime, c.Timestamp, l.params.RateLimitSeconds) {
		return types.Result{}, newError(ErrRateLimited, op, "next submission allowed at %d, now %d",
			st.LastSubmissionTime+l.params.RateLimitSeconds, c.Timestamp)
	}

	rec := types.ReportRecord{
		ID:              g.TotalReports + 1,
		Submitter:       c.Caller,
		Timestamp:       c.Timestamp,
		Message:         sub.Message,
		ReferenceCode:   sub.ReferenceCode,
		EvidencePointer: sub.EvidencePointer,
		Anonymous:       sub.Anonymous,
	}
	if sub.Anonymous {
		rec.Submitter = types.AnonymousSubmitter
	}

	next := g
	next.TotalReports = rec.ID
	if rec.Anonymous {
		next.AnonymousReports++
	}
	if rec.EvidencePointer != "" {
		next.EvidenceReports++
	}
	st.LastSubmissionTime = c.Timestamp
	st.SubmissionCount++

	if err := l.commit(ctx, op, c, store.Batch{Global: &next, Submitter: &st, Report: &rec}); err != nil {
		return types.Result{}, err
	}
	l.observer.ObserveReport(ctx, rec.Anonymous)

	return types.Result{
		Value:   strconv.FormatUint(rec.ID, 10),
		Events:  []types.Event{reportEvent(rec, c.TxHash)},
		Mutated: true,
	}, nil
}
