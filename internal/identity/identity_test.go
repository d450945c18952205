package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIsStable(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "node.pem")

	first, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	second, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if first.Address() != second.Address() {
		t.Errorf("reloaded identity differs: got %s, want %s", second.Address(), first.Address())
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestEmptyKeyFileIsReplaced(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "node.pem")
	if err := os.WriteFile(keyPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if len(id.Address()) != 64 {
		t.Errorf("address length = %d, want 64", len(id.Address()))
	}
}

func TestLoadRejectsBadKeys(t *testing.T) {
	dir := t.TempDir()

	open := filepath.Join(dir, "open.pem")
	if _, err := Generate(open); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(open, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(open); err == nil {
		t.Error("expected a world-readable key to be rejected")
	}

	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(garbage); err == nil {
		t.Error("expected a non-PEM file to be rejected")
	}
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	alice, err := Generate(filepath.Join(dir, "alice.pem"))
	if err != nil {
		t.Fatal(err)
	}
	bob, err := Generate(filepath.Join(dir, "bob.pem"))
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("REPORT:1:1700000000:identified")
	sig := alice.Sign(msg)
	if !alice.Verify(msg, sig) {
		t.Error("own signature did not verify")
	}
	if bob.Verify(msg, sig) {
		t.Error("signature verified under the wrong key")
	}
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "submitter.pem")

	id, err := Generate(keyPath)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := Generate(keyPath); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("second Generate error = %v, want ErrKeyExists", err)
	}

	loaded, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if loaded.Address() != id.Address() {
		t.Errorf("reloaded key differs: %s vs %s", loaded.Address(), id.Address())
	}
}

func TestParseAddress(t *testing.T) {
	id, err := Generate(filepath.Join(t.TempDir(), "k.pem"))
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ParseAddress(id.Address())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if !pub.Equal(id.PublicKey()) {
		t.Error("parsed key does not match")
	}

	for _, bad := range []string{"", "zz", "ad01", "ANONYMOUS"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Errorf("ParseAddress(%q) should fail", bad)
		}
	}
}
