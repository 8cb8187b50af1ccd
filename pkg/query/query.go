// Package query derives read-only views from ledger history: current token
// status, a user's current tokens and aggregate portfolio figures. Nothing here
// is cached; every answer is recomputed from the ledger on each call.
package query

import (
	"math"
	"slices"
	"time"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

// StatusNotFound is reported for tokens the ledger has never seen.
const StatusNotFound credential.Status = "not_found"

// Service answers queries against one ledger.
type Service struct {
	ledger *ledger.Ledger
	clock  func() time.Time
}

func NewService(l *ledger.Ledger, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{ledger: l, clock: clock}
}

// CurrentStatus derives a token's status from the latest entry referencing it.
func (s *Service) CurrentStatus(tokenID string) credential.Status {
	e, ok := s.ledger.Latest(tokenID)
	if !ok {
		return StatusNotFound
	}
	return e.Token.EffectiveStatus(s.clock())
}

// Token returns the latest snapshot of tokenID.
func (s *Service) Token(tokenID string) (credential.Token, bool) {
	e, ok := s.ledger.Latest(tokenID)
	if !ok {
		return credential.Token{}, false
	}
	return e.Token, true
}

// History returns the user's entries in sequence order, optionally narrowed to
// one token. An unknown user yields an empty slice.
func (s *Service) History(userID, tokenID string) []ledger.Entry {
	return s.ledger.History(userID, tokenID)
}

// CurrentTokens returns the latest snapshot of every token the user holds, in
// order of first appearance.
func (s *Service) CurrentTokens(userID string) []credential.Token {
	return LatestSnapshots(s.ledger.History(userID, ""))
}

// LatestSnapshots folds entries into the last snapshot per token.
func LatestSnapshots(entries []ledger.Entry) []credential.Token {
	index := make(map[string]int)
	var out []credential.Token
	for _, e := range entries {
		id := e.Token.ID()
		if i, ok := index[id]; ok {
			out[i] = e.Token
			continue
		}
		index[id] = len(out)
		out = append(out, e.Token)
	}
	return out
}

// Portfolio is an aggregate view of a user's credentials.
type Portfolio struct {
	UserID            string   `json:"user_id"`
	TotalTokens       int      `json:"total_tokens"`
	ActiveTokens      int      `json:"active_tokens"`
	RevokedTokens     int      `json:"revoked_tokens"`
	ExpiredTokens     int      `json:"expired_tokens"`
	DisputedTokens    int      `json:"disputed_tokens"`
	MeanImpact        float64  `json:"mean_impact"`
	Skills            []string `json:"skills"`
	Organizations     []string `json:"organizations"`
	CredibilityWeight float64  `json:"credibility_weight"`
}

// levelWeight scales impact by how strongly a contribution was verified.
var levelWeight = map[credential.VerificationLevel]float64{
	credential.LevelSelfReported:         0.4,
	credential.LevelPeerVerified:         0.7,
	credential.LevelOrganizationVerified: 1.0,
	credential.LevelThirdPartyAudited:    1.2,
}

// Portfolio computes the user's aggregate from active tokens only, so a
// revocation is reflected on the next call.
func (s *Service) Portfolio(userID string) Portfolio {
	now := s.clock()
	p := Portfolio{UserID: userID, Skills: []string{}, Organizations: []string{}}

	var impactSum, weightSum float64
	for _, t := range s.CurrentTokens(userID) {
		p.TotalTokens++
		if t.Metadata().DisputedAt != nil {
			p.DisputedTokens++
		}
		switch t.EffectiveStatus(now) {
		case credential.StatusRevoked:
			p.RevokedTokens++
			continue
		case credential.StatusExpired:
			p.ExpiredTokens++
			continue
		}
		p.ActiveTokens++
		impactSum += float64(t.ImpactStrength())
		weight := levelWeight[t.VerificationLevel()]
		if t.Metadata().DisputedAt != nil {
			weight /= 2
		}
		weightSum += float64(t.ImpactStrength()) / 100 * weight
		p.Skills = append(p.Skills, t.SkillsMastered()...)
		p.Organizations = append(p.Organizations, t.OrganizationID())
	}
	if p.ActiveTokens > 0 {
		p.MeanImpact = round2(impactSum / float64(p.ActiveTokens))
	}
	p.CredibilityWeight = round2(weightSum)
	slices.Sort(p.Skills)
	p.Skills = slices.Compact(p.Skills)
	slices.Sort(p.Organizations)
	p.Organizations = slices.Compact(p.Organizations)
	return p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
