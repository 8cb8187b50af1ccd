package credential

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Factory builds tokens from issuance input. It has no side effects: the token
// it returns is appended to the ledger by the caller.
type Factory struct {
	clock func() time.Time
	ttl   time.Duration
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the issuance clock.
func WithClock(clock func() time.Time) Option {
	return func(f *Factory) { f.clock = clock }
}

// WithTTL attaches an expiration policy to every issued token. Zero means the
// token never expires.
func WithTTL(ttl time.Duration) Option {
	return func(f *Factory) { f.ttl = ttl }
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{clock: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Issue builds an active, non-transferable token for userID.
func (f *Factory) Issue(userID string, mission Mission, scoring ScoringResult, orgSignature []byte) (Token, error) {
	if strings.TrimSpace(userID) == "" {
		return Token{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(mission.ID) == "" || strings.TrimSpace(mission.OrganizationID) == "" {
		return Token{}, fmt.Errorf("%w: mission id and organization_id are required", ErrInvalidInput)
	}
	if err := checkTexts(
		"user_id", userID,
		"mission_id", mission.ID,
		"mission_title", mission.Title,
		"organization_id", mission.OrganizationID,
	); err != nil {
		return Token{}, err
	}
	for _, skill := range scoring.SkillsMastered {
		if err := checkText("skills_mastered", skill); err != nil {
			return Token{}, err
		}
	}
	if scoring.ImpactStrength < 0 || scoring.ImpactStrength > 100 {
		return Token{}, fmt.Errorf("%w: impact_strength %d outside [0,100]", ErrInvalidInput, scoring.ImpactStrength)
	}
	if len(orgSignature) == 0 {
		return Token{}, fmt.Errorf("%w: organization signature is empty", ErrInvalidInput)
	}
	level := scoring.VerificationLevel
	if level == "" {
		level = LevelSelfReported
	}
	if !level.Valid() {
		return Token{}, fmt.Errorf("%w: unknown verification level %q", ErrInvalidInput, level)
	}

	issuedAt := f.clock().UTC().Truncate(time.Millisecond)
	id, err := TokenID(userID, mission.ID, issuedAt)
	if err != nil {
		return Token{}, err
	}

	t := Token{
		id:              id,
		userID:          userID,
		mission:         mission,
		impact:          scoring.ImpactStrength,
		skills:          skillSet(scoring.SkillsMastered),
		level:           level,
		issuedAt:        issuedAt,
		status:          StatusActive,
		nonTransferable: true,
		orgSignature:    slices.Clone(orgSignature),
	}
	if f.ttl > 0 {
		expires := issuedAt.Add(f.ttl)
		t.metadata.ExpiresAt = &expires
	}
	return seal(t)
}

// seal computes both digests of a freshly built token.
func seal(t Token) (Token, error) {
	content, err := computeContentDigest(t)
	if err != nil {
		return Token{}, err
	}
	t.contentDigest = content
	return reseal(t)
}

// reseal recomputes only the state digest. The content digest is never touched
// after construction.
func reseal(t Token) (Token, error) {
	state, err := computeStateDigest(t)
	if err != nil {
		return Token{}, err
	}
	t.stateDigest = state
	return t, nil
}

// skillSet trims, de-duplicates and sorts skill identifiers.
func skillSet(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
