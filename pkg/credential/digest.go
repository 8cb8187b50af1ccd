package credential

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

// tokenNamespace scopes name-based token identifiers.
var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:credledger:token:v1"))

// contentFields is the hashed, immutable part of a token. Status and metadata
// are carved out and covered by stateFields instead.
type contentFields struct {
	TokenID               string            `json:"token_id"`
	UserID                string            `json:"user_id"`
	MissionID             string            `json:"mission_id"`
	MissionTitle          string            `json:"mission_title"`
	OrganizationID        string            `json:"organization_id"`
	ImpactStrength        int               `json:"impact_strength"`
	SkillsMastered        []string          `json:"skills_mastered"`
	VerificationLevel     VerificationLevel `json:"verification_level"`
	IssuanceTime          time.Time         `json:"issuance_time"`
	NonTransferable       bool              `json:"non_transferable"`
	OrganizationSignature []byte            `json:"organization_signature"`
}

type stateFields struct {
	ContentDigest canonicalize.Digest `json:"content_digest"`
	Status        Status              `json:"status"`
	Metadata      Metadata            `json:"metadata"`
}

// TokenID derives the deterministic identifier for (userID, missionID, issuedAt).
func TokenID(userID, missionID string, issuedAt time.Time) (string, error) {
	name, err := canonicalize.JCS(struct {
		UserID       string    `json:"user_id"`
		MissionID    string    `json:"mission_id"`
		IssuanceTime time.Time `json:"issuance_time"`
	}{userID, missionID, issuedAt.UTC()})
	if err != nil {
		return "", fmt.Errorf("token id: %w", err)
	}
	return uuid.NewSHA1(tokenNamespace, name).String(), nil
}

func (t Token) contentFields() contentFields {
	skills := t.skills
	if skills == nil {
		skills = []string{}
	}
	return contentFields{
		TokenID:               t.id,
		UserID:                t.userID,
		MissionID:             t.mission.ID,
		MissionTitle:          t.mission.Title,
		OrganizationID:        t.mission.OrganizationID,
		ImpactStrength:        t.impact,
		SkillsMastered:        skills,
		VerificationLevel:     t.level,
		IssuanceTime:          t.issuedAt,
		NonTransferable:       t.nonTransferable,
		OrganizationSignature: t.orgSignature,
	}
}

// computeContentDigest hashes the immutable fields of t.
func computeContentDigest(t Token) (canonicalize.Digest, error) {
	d, err := canonicalize.Sum(t.contentFields())
	if err != nil {
		return canonicalize.Digest{}, fmt.Errorf("content digest: %w", err)
	}
	return d, nil
}

// computeStateDigest binds the stored content digest to status and metadata.
func computeStateDigest(t Token) (canonicalize.Digest, error) {
	d, err := canonicalize.Sum(stateFields{
		ContentDigest: t.contentDigest,
		Status:        t.status,
		Metadata:      t.metadata,
	})
	if err != nil {
		return canonicalize.Digest{}, fmt.Errorf("state digest: %w", err)
	}
	return d, nil
}

// Verify recomputes both digests of t and reports whether they match the
// stored values. It also requires the non-transferable flag and valid NFC
// text. A false result means the token was altered after it was built and
// must not be trusted.
func Verify(t Token) bool {
	if t.IsZero() || !t.nonTransferable {
		return false
	}
	if checkTexts(t.textFields()...) != nil {
		return false
	}
	content, err := computeContentDigest(t)
	if err != nil || content != t.contentDigest {
		return false
	}
	state, err := computeStateDigest(t)
	if err != nil || state != t.stateDigest {
		return false
	}
	return true
}
