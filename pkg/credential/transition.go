package credential

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Revoke returns a revoked snapshot of t. Only the status and metadata change;
// the content digest is carried over and the state digest is recomputed. A
// token that has expired by at can no longer be revoked.
func Revoke(t Token, reason string, revokerSignature []byte, at time.Time) (Token, error) {
	if t.IsZero() {
		return Token{}, fmt.Errorf("%w: token is empty", ErrInvalidInput)
	}
	if status := t.EffectiveStatus(at); status != StatusActive {
		return Token{}, fmt.Errorf("%w: %s is %s", ErrAlreadyRevoked, t.id, status)
	}
	if strings.TrimSpace(reason) == "" {
		return Token{}, fmt.Errorf("%w: revocation reason is required", ErrInvalidInput)
	}
	if err := checkText("revocation_reason", reason); err != nil {
		return Token{}, err
	}
	if len(revokerSignature) == 0 {
		return Token{}, fmt.Errorf("%w: revoker signature is empty", ErrInvalidInput)
	}

	next := t.copy()
	at = at.UTC().Truncate(time.Millisecond)
	next.status = StatusRevoked
	next.metadata.RevocationReason = reason
	next.metadata.RevokerSignature = slices.Clone(revokerSignature)
	next.metadata.RevokedAt = &at
	return reseal(next)
}

// Dispute records a challenge against t without changing its status. Revoked
// tokens cannot be disputed.
func Dispute(t Token, reason, disputedBy string, at time.Time) (Token, error) {
	if t.IsZero() {
		return Token{}, fmt.Errorf("%w: token is empty", ErrInvalidInput)
	}
	if t.status == StatusRevoked {
		return Token{}, fmt.Errorf("%w: %s", ErrAlreadyRevoked, t.id)
	}
	if strings.TrimSpace(reason) == "" || strings.TrimSpace(disputedBy) == "" {
		return Token{}, fmt.Errorf("%w: dispute reason and disputant are required", ErrInvalidInput)
	}
	if err := checkTexts("dispute_reason", reason, "disputed_by", disputedBy); err != nil {
		return Token{}, err
	}

	next := t.copy()
	at = at.UTC().Truncate(time.Millisecond)
	next.metadata.DisputeReason = reason
	next.metadata.DisputedBy = disputedBy
	next.metadata.DisputedAt = &at
	return reseal(next)
}

func (t Token) copy() Token {
	out := t
	out.skills = slices.Clone(t.skills)
	out.orgSignature = slices.Clone(t.orgSignature)
	out.metadata = t.metadata.clone()
	return out
}

// Clone returns a deep copy of t.
func (t Token) Clone() Token { return t.copy() }
