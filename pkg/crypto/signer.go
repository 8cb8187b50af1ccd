// Package crypto holds the Ed25519 keys that sign ledger evidence bundles.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SigPrefixEd25519 tags signatures produced by Ed25519Signer.
const SigPrefixEd25519 = "ed25519"

// kdfSalt separates ledger signing keys from any other use of the same secret.
var kdfSalt = []byte("credledger-bundle-kdf")

// Signer signs bundle payloads.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	KeyID() string
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh random key.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, keyID), nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

// DeriveSigner derives a deterministic key from an operator secret with
// HKDF-SHA256, using keyID as the info parameter. The same secret and keyID
// always yield the same key, so a restarted process keeps signing with it.
func DeriveSigner(secret []byte, keyID string) (*Ed25519Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("signing secret must be at least 16 bytes")
	}
	if keyID == "" {
		return nil, errors.New("keyID must not be empty")
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, kdfSalt, []byte(keyID)), seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return append([]byte(nil), s.pubKey...)
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) Verify(message, signature []byte) bool {
	return ed25519.Verify(s.pubKey, message, signature)
}
