package identity

import (
	"crypto/ed25519"
	"encoding/hex"
)

// Identity is an ed25519 keypair and its ledger address.
type Identity struct {
	priv    ed25519.PrivateKey
	address string
}

func NewIdentity(priv ed25519.PrivateKey) *Identity {
	return &Identity{
		priv:    priv,
		address: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}
}

func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.priv, msg)
}

// Verify reports whether sig is this identity's signature over msg.
func (i *Identity) Verify(msg, sig []byte) bool {
	return ed25519.Verify(i.PublicKey(), msg, sig)
}

func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.priv.Public().(ed25519.PublicKey)
}

// Address is the hex public key. The ledger records callers by address.
func (i *Identity) Address() string {
	return i.address
}
