package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// Verify checks a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// Ed25519Verifier verifies signatures for one public key.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

func NewEd25519Verifier(pubKeyBytes []byte) (*Ed25519Verifier, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pubKeyBytes)}, nil
}

func (v *Ed25519Verifier) Verify(message, signature []byte) bool {
	return ed25519.Verify(v.PublicKey, message, signature)
}

// VerifyHex verifies a hex-encoded signature.
func (v *Ed25519Verifier) VerifyHex(message []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return v.Verify(message, sig), nil
}
