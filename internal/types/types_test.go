// Package types tests exercise the transaction signing helpers and the
// small value helpers on Call and Checkpoint.
package types

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trustchain.mini/tcm/internal/identity"
)

func TestTransactionSigning(t *testing.T) {
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), "test_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}

	tx := &Transaction{
		Action:    ActionNoOp,
		Args:      []string{MethodSubmitReport, "harassment near park", "", "", "false"},
		Nonce:     "n-1",
		Timestamp: time.Now(),
	}

	signedTx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}

	if !signedTx.Verify() {
		t.Error("Failed to verify transaction signature")
	}
	if signedTx.Signer() != id.Address() {
		t.Errorf("Signer mismatch. Got %s, want %s", signedTx.Signer(), id.Address())
	}

	extractedTx, err := signedTx.GetTransaction()
	if err != nil {
		t.Fatalf("Failed to extract transaction: %v", err)
	}
	if extractedTx.Action != tx.Action {
		t.Errorf("Transaction action mismatch. Got %s, want %s", extractedTx.Action, tx.Action)
	}
	if len(extractedTx.Args) != 5 || extractedTx.Args[1] != "harassment near park" {
		t.Errorf("Transaction args mismatch: %v", extractedTx.Args)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), "test_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}
	tx := &Transaction{Action: ActionOptIn, Timestamp: time.Now()}
	signedTx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}

	signedTx.Tx = []byte(strings.Replace(string(signedTx.Tx), "opt_in", "delete", 1))
	if signedTx.Verify() {
		t.Error("Tampered transaction verified")
	}

	signedTx.PublicKey = signedTx.PublicKey[:4]
	if signedTx.Verify() {
		t.Error("Truncated public key verified")
	}
}

func TestCallArgs(t *testing.T) {
	c := Call{Action: ActionNoOp, Args: []string{MethodGetReport, "7"}}
	if c.Selector() != MethodGetReport {
		t.Errorf("Selector = %q", c.Selector())
	}
	if c.Arg(1) != "7" || c.Arg(2) != "" || c.Arg(-1) != "" {
		t.Errorf("unexpected args: %q %q %q", c.Arg(1), c.Arg(2), c.Arg(-1))
	}
	if (Call{}).Selector() != "" {
		t.Error("empty call should have empty selector")
	}
}

func TestIsZeroIdentity(t *testing.T) {
	cases := map[string]bool{
		"":                         true,
		strings.Repeat("0", 64):    true,
		"00ab":                     false,
		strings.Repeat("f", 64):    false,
		AnonymousSubmitter:         false,
	}
	for addr, want := range cases {
		if got := IsZeroIdentity(addr); got != want {
			t.Errorf("IsZeroIdentity(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestCheckpointCovers(t *testing.T) {
	cp := Checkpoint{Height: 5, Index: 2}
	cases := []struct {
		height int64
		index  uint32
		want   bool
	}{
		{4, 9, true},
		{5, 0, true},
		{5, 2, true},
		{5, 3, false},
		{6, 0, false},
	}
	for _, tc := range cases {
		if got := cp.Covers(tc.height, tc.index); got != tc.want {
			t.Errorf("Covers(%d, %d) = %v, want %v", tc.height, tc.index, got, tc.want)
		}
	}
}
