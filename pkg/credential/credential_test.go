package credential

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedFactory(opts ...Option) *Factory {
	return NewFactory(append([]Option{WithClock(func() time.Time { return issuedAt })}, opts...)...)
}

func sampleMission() Mission {
	return Mission{ID: "mission-1", Title: "River cleanup", OrganizationID: "org-green"}
}

func sampleScoring() ScoringResult {
	return ScoringResult{
		ImpactStrength:    82,
		SkillsMastered:    []string{"logistics", "leadership"},
		VerificationLevel: LevelOrganizationVerified,
	}
}

func issueSample(t *testing.T) Token {
	t.Helper()
	tok, err := fixedFactory().Issue("user-1", sampleMission(), sampleScoring(), []byte("org-sig"))
	require.NoError(t, err)
	return tok
}

func TestIssue_ProducesActiveSealedToken(t *testing.T) {
	tok := issueSample(t)

	assert.Equal(t, StatusActive, tok.Status())
	assert.True(t, tok.NonTransferable())
	assert.Equal(t, "user-1", tok.UserID())
	assert.Equal(t, issuedAt, tok.IssuedAt())
	assert.Equal(t, []string{"leadership", "logistics"}, tok.SkillsMastered())
	assert.False(t, tok.ContentDigest().IsZero())
	assert.False(t, tok.StateDigest().IsZero())
	assert.True(t, Verify(tok))
}

func TestIssue_DeterministicID(t *testing.T) {
	a := issueSample(t)
	b := issueSample(t)
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, a.ContentDigest(), b.ContentDigest())

	later := NewFactory(WithClock(func() time.Time { return issuedAt.Add(time.Second) }))
	c, err := later.Issue("user-1", sampleMission(), sampleScoring(), []byte("org-sig"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestIssue_SkillOrderDoesNotChangeDigest(t *testing.T) {
	s1 := sampleScoring()
	s2 := sampleScoring()
	s2.SkillsMastered = []string{"leadership", " logistics", "leadership"}

	a, err := fixedFactory().Issue("user-1", sampleMission(), s1, []byte("org-sig"))
	require.NoError(t, err)
	b, err := fixedFactory().Issue("user-1", sampleMission(), s2, []byte("org-sig"))
	require.NoError(t, err)
	assert.Equal(t, a.ContentDigest(), b.ContentDigest())
}

func TestIssue_EmptySkillsAllowed(t *testing.T) {
	s := sampleScoring()
	s.SkillsMastered = nil
	tok, err := fixedFactory().Issue("user-1", sampleMission(), s, []byte("org-sig"))
	require.NoError(t, err)
	assert.Empty(t, tok.SkillsMastered())
	assert.True(t, Verify(tok))
}

func TestIssue_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		mission Mission
		mutate  func(*ScoringResult)
		sig     []byte
	}{
		{name: "impact below range", user: "u", mission: sampleMission(), mutate: func(s *ScoringResult) { s.ImpactStrength = -1 }, sig: []byte("x")},
		{name: "impact above range", user: "u", mission: sampleMission(), mutate: func(s *ScoringResult) { s.ImpactStrength = 101 }, sig: []byte("x")},
		{name: "empty signature", user: "u", mission: sampleMission(), sig: nil},
		{name: "blank user", user: "  ", mission: sampleMission(), sig: []byte("x")},
		{name: "missing organization", user: "u", mission: Mission{ID: "m"}, sig: []byte("x")},
		{name: "unknown level", user: "u", mission: sampleMission(), mutate: func(s *ScoringResult) { s.VerificationLevel = "notarized" }, sig: []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleScoring()
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			_, err := fixedFactory().Issue(tt.user, tt.mission, s, tt.sig)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestIssue_BoundaryImpactAccepted(t *testing.T) {
	for _, impact := range []int{0, 100} {
		s := sampleScoring()
		s.ImpactStrength = impact
		_, err := fixedFactory().Issue("user-1", sampleMission(), s, []byte("sig"))
		assert.NoError(t, err)
	}
}

func TestVerify_DetectsFieldTampering(t *testing.T) {
	mutations := map[string]func(*Token){
		"user":         func(t *Token) { t.userID = "user-2" },
		"mission":      func(t *Token) { t.mission.ID = "mission-2" },
		"title":        func(t *Token) { t.mission.Title = "Other" },
		"organization": func(t *Token) { t.mission.OrganizationID = "org-x" },
		"impact":       func(t *Token) { t.impact = 99 },
		"skills":       func(t *Token) { t.skills = append(t.skills, "forgery") },
		"level":        func(t *Token) { t.level = LevelThirdPartyAudited },
		"issued":       func(t *Token) { t.issuedAt = t.issuedAt.Add(time.Millisecond) },
		"signature":    func(t *Token) { t.orgSignature = []byte("forged") },
		"status":       func(t *Token) { t.status = StatusRevoked },
		"metadata":     func(t *Token) { t.metadata.RevocationReason = "x" },
		"transfer":     func(t *Token) { t.nonTransferable = false },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tok := issueSample(t).Clone()
			mutate(&tok)
			assert.False(t, Verify(tok))
		})
	}
}

func TestVerify_ZeroToken(t *testing.T) {
	assert.False(t, Verify(Token{}))
}

func TestRevoke(t *testing.T) {
	tok := issueSample(t)
	at := issuedAt.Add(time.Hour)

	revoked, err := Revoke(tok, "duplicate mission", []byte("revoker"), at)
	require.NoError(t, err)

	assert.Equal(t, StatusRevoked, revoked.Status())
	assert.Equal(t, "duplicate mission", revoked.Metadata().RevocationReason)
	require.NotNil(t, revoked.Metadata().RevokedAt)
	assert.Equal(t, at, *revoked.Metadata().RevokedAt)
	assert.Equal(t, tok.ContentDigest(), revoked.ContentDigest())
	assert.NotEqual(t, tok.StateDigest(), revoked.StateDigest())
	assert.True(t, Verify(revoked))

	// The input snapshot is untouched.
	assert.Equal(t, StatusActive, tok.Status())
	assert.True(t, Verify(tok))
}

func TestRevoke_AlreadyRevoked(t *testing.T) {
	revoked, err := Revoke(issueSample(t), "r", []byte("s"), issuedAt)
	require.NoError(t, err)

	_, err = Revoke(revoked, "again", []byte("s"), issuedAt)
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
}

func TestRevoke_RequiresSignatureAndReason(t *testing.T) {
	_, err := Revoke(issueSample(t), "r", nil, issuedAt)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Revoke(issueSample(t), "", []byte("s"), issuedAt)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDispute(t *testing.T) {
	tok := issueSample(t)
	disputed, err := Dispute(tok, "mission never happened", "auditor-7", issuedAt.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, StatusActive, disputed.Status())
	assert.Equal(t, "auditor-7", disputed.Metadata().DisputedBy)
	assert.Equal(t, tok.ContentDigest(), disputed.ContentDigest())
	assert.NotEqual(t, tok.StateDigest(), disputed.StateDigest())
	assert.True(t, Verify(disputed))

	revoked, err := Revoke(disputed, "upheld", []byte("s"), issuedAt.Add(time.Hour))
	require.NoError(t, err)
	_, err = Dispute(revoked, "late", "auditor-7", issuedAt.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
}

func TestExpirationPolicy(t *testing.T) {
	tok, err := fixedFactory(WithTTL(24*time.Hour)).Issue("user-1", sampleMission(), sampleScoring(), []byte("sig"))
	require.NoError(t, err)

	assert.Equal(t, StatusActive, tok.EffectiveStatus(issuedAt.Add(time.Hour)))
	assert.Equal(t, StatusExpired, tok.EffectiveStatus(issuedAt.Add(24*time.Hour)))

	never := issueSample(t)
	assert.Equal(t, StatusActive, never.EffectiveStatus(issuedAt.AddDate(50, 0, 0)))
}

func TestAccessorsReturnCopies(t *testing.T) {
	tok := issueSample(t)
	skills := tok.SkillsMastered()
	skills[0] = "tampered"
	sig := tok.OrganizationSignature()
	sig[0] = 'X'

	assert.True(t, Verify(tok))
	assert.Equal(t, "leadership", tok.SkillsMastered()[0])
}

func TestJSONRoundTrip(t *testing.T) {
	tok, err := Revoke(issueSample(t), "duplicate mission", []byte("revoker"), issuedAt.Add(time.Hour))
	require.NoError(t, err)

	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"non_transferable":true`)
	assert.Contains(t, string(raw), `"content_digest":"sha256:`)

	var decoded Token
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, tok.ID(), decoded.ID())
	assert.Equal(t, tok.StateDigest(), decoded.StateDigest())
	assert.True(t, Verify(decoded))
}

func TestJSONTamperIsDetected(t *testing.T) {
	raw, err := json.Marshal(issueSample(t))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["user_id"] = "user-2"
	forged, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Token
	require.NoError(t, json.Unmarshal(forged, &decoded))
	assert.False(t, Verify(decoded))
}

func TestIssue_RejectsTextWithAmbiguousDigest(t *testing.T) {
	f := fixedFactory()

	composed, err := f.Issue("caf\u00e9", sampleMission(), sampleScoring(), []byte("sig"))
	require.NoError(t, err)
	assert.True(t, Verify(composed))

	_, err = f.Issue("cafe\u0301", sampleMission(), sampleScoring(), []byte("sig"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, user := range []string{"u\xff", "u\xfe"} {
		_, err := f.Issue(user, sampleMission(), sampleScoring(), []byte("sig"))
		assert.ErrorIs(t, err, ErrInvalidInput, "user %q", user)
	}

	m := sampleMission()
	m.Title = "Clean\xffup"
	_, err = f.Issue("user-1", m, sampleScoring(), []byte("sig"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	s := sampleScoring()
	s.SkillsMastered = []string{"re\u0301sume\u0301"}
	_, err = f.Issue("user-1", sampleMission(), s, []byte("sig"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerify_RejectsDecomposedTextWithMatchingDigest(t *testing.T) {
	raw, err := json.Marshal(func() Token {
		tok, err := fixedFactory().Issue("caf\u00e9", sampleMission(), sampleScoring(), []byte("sig"))
		require.NoError(t, err)
		return tok
	}())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["user_id"] = "cafe\u0301"
	swapped, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Token
	require.NoError(t, json.Unmarshal(swapped, &decoded))
	assert.Equal(t, "cafe\u0301", decoded.UserID())
	assert.False(t, Verify(decoded))
}

func TestTransitions_RejectNonNormalizedText(t *testing.T) {
	tok := issueSample(t)

	_, err := Revoke(tok, "fraud\xff", []byte("revoker"), issuedAt.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Dispute(tok, "duplicate", "re\u0301viewer", issuedAt.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRevoke_ExpiredTokenIsRejected(t *testing.T) {
	tok, err := fixedFactory(WithTTL(24*time.Hour)).Issue("user-1", sampleMission(), sampleScoring(), []byte("sig"))
	require.NoError(t, err)

	_, err = Revoke(tok, "late", []byte("revoker"), issuedAt.Add(48*time.Hour))
	require.ErrorIs(t, err, ErrAlreadyRevoked)
	assert.Contains(t, err.Error(), string(StatusExpired))

	revoked, err := Revoke(tok, "in time", []byte("revoker"), issuedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status())
}
