package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"trustchain.mini/tcm/internal/identity"
)

// Action selects the lifecycle path of a call. Ordinary calls use ActionNoOp
// and carry a method selector as their first argument.
type Action string

const (
	ActionNoOp     Action = "noop"
	ActionCreate   Action = "create"
	ActionOptIn    Action = "opt_in"
	ActionCloseOut Action = "close_out"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
)

// Method selectors for ActionNoOp calls.
const (
	MethodSubmitReport = "submit_report"
	MethodGetReport    = "get_report"
	MethodGetStats     = "get_stats"
)

// Call is one ordered invocation delivered to the ledger. Caller and
// Timestamp are filled in by the transport from the verified signer and the
// consensus-observed block time; they are never taken from the payload.
type Call struct {
	Action    Action
	Args      []string
	Caller    string
	Timestamp uint64
	TxHash    string
	// TxID identifies the signed transaction independent of its envelope
	// encoding. A call whose TxID was already applied is rejected.
	TxID string
	// Position is set when the call is delivered by consensus. A mutating
	// call persists it atomically with its state changes.
	Position *Checkpoint
}

// Selector returns the method selector of an ordinary call.
func (c Call) Selector() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Arg returns the positional argument i, or "" when absent.
func (c Call) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Result is what the ledger returns for an accepted call.
type Result struct {
	Value   string  `json:"value,omitempty"`
	Events  []Event `json:"events,omitempty"`
	Mutated bool    `json:"mutated"`
}

// EventKind classifies structured events.
type EventKind string

const (
	EventReportSubmitted EventKind = "report.submitted"
	EventStats           EventKind = "ledger.stats"
	EventLifecycle       EventKind = "ledger.lifecycle"
)

// Event is an append-only log entry for off-system indexers. Line is the
// colon-delimited form; Attributes carries the same data keyed.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Line       string            `json:"line"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Transaction is the signed wire form of a Call.
type Transaction struct {
	Action    Action    `json:"action"`
	Args      []string  `json:"args,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SignedTransaction wraps the canonical transaction bytes with the signer's
// public key and signature.
type SignedTransaction struct {
	PublicKey []byte `json:"public_key"`
	Tx        []byte `json:"tx"`
	Signature []byte `json:"signature"`
}

// Sign marshals the transaction and signs it with the given identity.
func (t *Transaction) Sign(id *identity.Identity) (*SignedTransaction, error) {
	if id == nil {
		return nil, errors.New("nil identity")
	}
	txBytes, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		PublicKey: []byte(id.PublicKey()),
		Tx:        txBytes,
		Signature: id.Sign(txBytes),
	}, nil
}

// Verify checks the signature over the embedded transaction bytes.
func (s *SignedTransaction) Verify() bool {
	if len(s.PublicKey) != ed25519.PublicKeySize || len(s.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.PublicKey, s.Tx, s.Signature)
}

// GetTransaction decodes the embedded transaction.
func (s *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Signer returns the hex-encoded signer public key, the caller identity used
// by the ledger.
func (s *SignedTransaction) Signer() string {
	return hex.EncodeToString(s.PublicKey)
}

// IsZeroIdentity reports whether addr is the empty or all-zero identity.
func IsZeroIdentity(addr string) bool {
	for _, r := range addr {
		if r != '0' {
			return false
		}
	}
	return true
}
