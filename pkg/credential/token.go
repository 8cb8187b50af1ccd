// Package credential defines the non-transferable credential record (Token), the
// factory that issues it and the state transitions it may go through.
//
// A Token is immutable: every field is unexported and only readable through
// accessors, so no code path can reassign its owner. State transitions return a
// new snapshot that the caller appends to the ledger.
package credential

import (
	"errors"
	"slices"
	"time"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyRevoked = errors.New("token already revoked")
)

// Status is the lifecycle state of a token.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// VerificationLevel classifies how a contribution was verified by the scoring provider.
type VerificationLevel string

const (
	LevelSelfReported         VerificationLevel = "self_reported"
	LevelPeerVerified         VerificationLevel = "peer_verified"
	LevelOrganizationVerified VerificationLevel = "organization_verified"
	LevelThirdPartyAudited    VerificationLevel = "third_party_audited"
)

var levelRank = map[VerificationLevel]int{
	LevelSelfReported:         0,
	LevelPeerVerified:         1,
	LevelOrganizationVerified: 2,
	LevelThirdPartyAudited:    3,
}

// Valid reports whether l is a known level.
func (l VerificationLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Rank orders levels from weakest to strongest. Unknown levels rank -1.
func (l VerificationLevel) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

// OrganizationVerified reports whether l is at least organization_verified.
func (l VerificationLevel) OrganizationVerified() bool {
	return l.Rank() >= levelRank[LevelOrganizationVerified]
}

// Mission identifies the contribution a token is issued for.
type Mission struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	OrganizationID string `json:"organization_id"`
}

// ScoringResult is the scoring provider's opaque output for one contribution.
type ScoringResult struct {
	ImpactStrength    int               `json:"impact_strength"`
	SkillsMastered    []string          `json:"skills_mastered"`
	VerificationLevel VerificationLevel `json:"verification_level"`
}

// Metadata is the closed set of fields that change on state transitions.
// It is excluded from the content digest and covered by the state digest.
type Metadata struct {
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevokerSignature []byte     `json:"revoker_signature,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	DisputeReason    string     `json:"dispute_reason,omitempty"`
	DisputedBy       string     `json:"disputed_by,omitempty"`
	DisputedAt       *time.Time `json:"disputed_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

func (m Metadata) clone() Metadata {
	out := m
	out.RevokerSignature = slices.Clone(m.RevokerSignature)
	out.RevokedAt = cloneTime(m.RevokedAt)
	out.DisputedAt = cloneTime(m.DisputedAt)
	out.ExpiresAt = cloneTime(m.ExpiresAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Token is a single non-transferable credential record.
type Token struct {
	id              string
	userID          string
	mission         Mission
	impact          int
	skills          []string
	level           VerificationLevel
	issuedAt        time.Time
	status          Status
	metadata        Metadata
	nonTransferable bool
	orgSignature    []byte
	contentDigest   canonicalize.Digest
	stateDigest     canonicalize.Digest
}

func (t Token) ID() string { return t.id }
func (t Token) UserID() string { return t.userID }
func (t Token) Mission() Mission { return t.mission }
func (t Token) MissionID() string { return t.mission.ID }
func (t Token) OrganizationID() string { return t.mission.OrganizationID }
func (t Token) ImpactStrength() int { return t.impact }
func (t Token) VerificationLevel() VerificationLevel { return t.level }
func (t Token) IssuedAt() time.Time { return t.issuedAt }
func (t Token) Status() Status { return t.status }
func (t Token) NonTransferable() bool { return t.nonTransferable }
func (t Token) ContentDigest() canonicalize.Digest { return t.contentDigest }
func (t Token) StateDigest() canonicalize.Digest { return t.stateDigest }
func (t Token) Metadata() Metadata { return t.metadata.clone() }
func (t Token) SkillsMastered() []string { return slices.Clone(t.skills) }
func (t Token) OrganizationSignature() []byte { return slices.Clone(t.orgSignature) }
func (t Token) IsZero() bool { return t.id == "" }

// ExpiredAt reports whether the token's expiration policy has elapsed at now.
// Tokens without an expiration policy never expire.
func (t Token) ExpiredAt(now time.Time) bool {
	return t.metadata.ExpiresAt != nil && !now.Before(*t.metadata.ExpiresAt)
}

// EffectiveStatus folds the expiration policy into the recorded status.
func (t Token) EffectiveStatus(now time.Time) Status {
	if t.status == StatusActive && t.ExpiredAt(now) {
		return StatusExpired
	}
	return t.status
}
