// Package identity manages the ed25519 keys of tcm nodes and submitters.
// Keys are stored as PKCS8 PEM files. An identity's address is the hex
// encoding of its public key; the ledger records callers by address.
package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const pemType = "PRIVATE KEY"

// ErrKeyExists is returned by Generate when the key file is already populated.
var ErrKeyExists = errors.New("identity: key file already exists")

// LoadOrCreateIdentity loads the key at keyPath, creating one when the file
// is missing or empty. An existing key must not be readable by group or
// others.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	switch {
	case errors.Is(err, os.ErrNotExist), err == nil && info.Size() == 0:
		return create(keyPath)
	case err != nil:
		return nil, fmt.Errorf("identity: stat %s: %w", keyPath, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("identity: %s has mode %v; want 0600", keyPath, info.Mode().Perm())
	}
	priv, err := readKey(keyPath)
	if err != nil {
		return nil, err
	}
	return NewIdentity(priv), nil
}

// Generate writes a fresh key to keyPath. It returns ErrKeyExists rather
// than overwrite a non-empty file.
func Generate(keyPath string) (*Identity, error) {
	if info, err := os.Stat(keyPath); err == nil && info.Size() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, keyPath)
	}
	return create(keyPath)
}

// ParseAddress decodes a hex address into an ed25519 public key.
func ParseAddress(addr string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(addr)
	if err != nil {
		return nil, fmt.Errorf("identity: address is not hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: address has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

func create(keyPath string) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	if err := writeKey(keyPath, priv); err != nil {
		return nil, err
	}
	return NewIdentity(priv), nil
}

// writeKey writes through a temp file in the same directory so a crash
// never leaves a truncated key behind.
func writeKey(keyPath string, priv ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	dir := filepath.Dir(keyPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := pem.Encode(tmp, &pem.Block{Type: pemType, Bytes: der}); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: write %s: %w", keyPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: write %s: %w", keyPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := os.Rename(tmp.Name(), keyPath); err != nil {
		return fmt.Errorf("identity: install %s: %w", keyPath, err)
	}
	return nil
}

func readKey(keyPath string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("identity: %s holds no %s block", keyPath, pemType)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", keyPath, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: %s is not an ed25519 key", keyPath)
	}
	return priv, nil
}
