package credential

import (
	"encoding/json"
	"time"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

// tokenJSON is the wire and storage form of a Token.
type tokenJSON struct {
	TokenID               string              `json:"token_id"`
	UserID                string              `json:"user_id"`
	MissionID             string              `json:"mission_id"`
	MissionTitle          string              `json:"mission_title"`
	OrganizationID        string              `json:"organization_id"`
	ImpactStrength        int                 `json:"impact_strength"`
	SkillsMastered        []string            `json:"skills_mastered"`
	VerificationLevel     VerificationLevel   `json:"verification_level"`
	IssuanceTime          time.Time           `json:"issuance_time"`
	Status                Status              `json:"status"`
	Metadata              Metadata            `json:"metadata"`
	NonTransferable       bool                `json:"non_transferable"`
	OrganizationSignature []byte              `json:"organization_signature"`
	ContentDigest         canonicalize.Digest `json:"content_digest"`
	StateDigest           canonicalize.Digest `json:"state_digest"`
}

func (t Token) MarshalJSON() ([]byte, error) {
	skills := t.skills
	if skills == nil {
		skills = []string{}
	}
	return json.Marshal(tokenJSON{
		TokenID:               t.id,
		UserID:                t.userID,
		MissionID:             t.mission.ID,
		MissionTitle:          t.mission.Title,
		OrganizationID:        t.mission.OrganizationID,
		ImpactStrength:        t.impact,
		SkillsMastered:        skills,
		VerificationLevel:     t.level,
		IssuanceTime:          t.issuedAt,
		Status:                t.status,
		Metadata:              t.metadata,
		NonTransferable:       t.nonTransferable,
		OrganizationSignature: t.orgSignature,
		ContentDigest:         t.contentDigest,
		StateDigest:           t.stateDigest,
	})
}

// UnmarshalJSON restores a token exactly as stored. It does not validate or
// recompute anything; callers that did not build the token themselves should
// check it with Verify before trusting it.
func (t *Token) UnmarshalJSON(data []byte) error {
	var w tokenJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Token{
		id:     w.TokenID,
		userID: w.UserID,
		mission: Mission{
			ID:             w.MissionID,
			Title:          w.MissionTitle,
			OrganizationID: w.OrganizationID,
		},
		impact:          w.ImpactStrength,
		skills:          w.SkillsMastered,
		level:           w.VerificationLevel,
		issuedAt:        w.IssuanceTime,
		status:          w.Status,
		metadata:        w.Metadata,
		nonTransferable: w.NonTransferable,
		orgSignature:    w.OrganizationSignature,
		contentDigest:   w.ContentDigest,
		stateDigest:     w.StateDigest,
	}
	return nil
}
