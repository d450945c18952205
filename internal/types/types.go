// Package types defines the core domain models for the TrustChain report
// ledger (tcm). It contains the global ledger state, per-submitter
// rate-limit state, the write-once report record, and the structured events
// emitted for off-system indexers.
package types

// Version is the current version of the tcm node software.
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// AnonymousSubmitter replaces the submitter identity on anonymous reports.
const AnonymousSubmitter = "ANONYMOUS"

// Status is the lifecycle state of a ledger instance.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusActive        Status = "active"
	StatusDeleted       Status = "deleted"
)

// GlobalState is the small fixed-key aggregate owned by the ledger instance.
type GlobalState struct {
	TotalReports     uint64 `json:"total_reports"`
	Version          string `json:"version"`
	Admin            string `json:"admin"`
	Status           Status `json:"status"`
	AnonymousReports uint64 `json:"anonymous_reports"`
	EvidenceReports  uint64 `json:"evidence_reports"`
}

// SubmitterState is the per-submitter side state used for rate limiting.
// LastSubmissionTime of 0 means the submitter has never submitted.
type SubmitterState struct {
	Address            string `json:"address"`
	LastSubmissionTime uint64 `json:"last_submission_time"`
	SubmissionCount    uint64 `json:"submission_count"`
}

// ReportRecord is one accepted submission. Records are never modified once
// written.
type ReportRecord struct {
	ID              uint64 `json:"id"`
	Submitter       string `json:"submitter"`
	Timestamp       uint64 `json:"timestamp"`
	Message         string `json:"message"`
	ReferenceCode   string `json:"reference_code"`
	EvidencePointer string `json:"evidence_pointer"`
	Anonymous       bool   `json:"anonymous"`
}

// Stats is the serialized get_stats projection.
type Stats struct {
	TotalReports uint64 `json:"total_reports"`
	Version      string `json:"version"`
	Admin        string `json:"admin"`
}

// Checkpoint marks the last consensus position whose mutation was applied,
// together with the running application hash after that mutation.
type Checkpoint struct {
	Height  int64  `json:"height"`
	Index   uint32 `json:"index"`
	AppHash []byte `json:"app_hash"`
}

// Covers reports whether the checkpoint is at or after the given position.
func (c Checkpoint) Covers(height int64, index uint32) bool {
	if height != c.Height {
		return height < c.Height
	}
	return index <= c.Index
}
