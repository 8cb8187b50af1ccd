package crypto

import (
	"fmt"
	"slices"
	"sync"
)

// KeyRing holds the public keys bundles may be signed with. Rotated keys stay
// trusted for verification until revoked.
type KeyRing struct {
	mu        sync.RWMutex
	verifiers map[string]*Ed25519Verifier
}

func NewKeyRing() *KeyRing {
	return &KeyRing{verifiers: make(map[string]*Ed25519Verifier)}
}

// AddKey trusts pub under keyID.
func (k *KeyRing) AddKey(keyID string, pub []byte) error {
	v, err := NewEd25519Verifier(pub)
	if err != nil {
		return fmt.Errorf("key %s: %w", keyID, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verifiers[keyID] = v
	return nil
}

// AddSigner trusts the public half of s.
func (k *KeyRing) AddSigner(s Signer) error {
	return k.AddKey(s.KeyID(), s.PublicKeyBytes())
}

// RevokeKey stops trusting keyID.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.verifiers, keyID)
}

// Keys lists trusted key ids, sorted.
func (k *KeyRing) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.verifiers))
	for id := range k.verifiers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// VerifyKey verifies a hex signature made by keyID.
func (k *KeyRing) VerifyKey(keyID string, message []byte, sigHex string) (bool, error) {
	k.mu.RLock()
	v, ok := k.verifiers[keyID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown or revoked key: %s", keyID)
	}
	return v.VerifyHex(message, sigHex)
}
