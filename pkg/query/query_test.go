package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func appendIssue(t *testing.T, l *ledger.Ledger, f *credential.Factory, user, mission, org string, impact int, level credential.VerificationLevel) credential.Token {
	t.Helper()
	tok, err := f.Issue(user, credential.Mission{ID: mission, Title: mission, OrganizationID: org},
		credential.ScoringResult{ImpactStrength: impact, SkillsMastered: []string{mission + "-skill", "shared"}, VerificationLevel: level},
		[]byte("sig"))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionIssue, tok)
	require.NoError(t, err)
	return tok
}

func TestCurrentStatus(t *testing.T) {
	l := ledger.New()
	f := credential.NewFactory(credential.WithClock(func() time.Time { return t0 }))
	tok := appendIssue(t, l, f, "u1", "m1", "org", 82, credential.LevelOrganizationVerified)
	svc := NewService(l, func() time.Time { return t0.Add(time.Hour) })

	assert.Equal(t, credential.StatusActive, svc.CurrentStatus(tok.ID()))
	assert.Equal(t, StatusNotFound, svc.CurrentStatus("missing"))

	revoked, err := credential.Revoke(tok, "duplicate mission", []byte("admin"), t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionRevoke, revoked)
	require.NoError(t, err)

	assert.Equal(t, credential.StatusRevoked, svc.CurrentStatus(tok.ID()))
	require.Len(t, svc.History("u1", tok.ID()), 2)
	assert.Empty(t, svc.History("u2", ""))
}

func TestCurrentStatus_Expired(t *testing.T) {
	l := ledger.New()
	f := credential.NewFactory(credential.WithClock(func() time.Time { return t0 }), credential.WithTTL(24*time.Hour))
	tok := appendIssue(t, l, f, "u1", "m1", "org", 50, credential.LevelPeerVerified)

	assert.Equal(t, credential.StatusActive, NewService(l, func() time.Time { return t0.Add(time.Hour) }).CurrentStatus(tok.ID()))
	assert.Equal(t, credential.StatusExpired, NewService(l, func() time.Time { return t0.Add(48 * time.Hour) }).CurrentStatus(tok.ID()))
}

func TestCurrentTokens_LatestSnapshotWins(t *testing.T) {
	l := ledger.New()
	f := credential.NewFactory(credential.WithClock(func() time.Time { return t0 }))
	a := appendIssue(t, l, f, "u1", "m1", "org", 50, credential.LevelPeerVerified)
	b := appendIssue(t, l, f, "u1", "m2", "org", 60, credential.LevelPeerVerified)

	disputed, err := credential.Dispute(a, "questionable", "auditor", t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionDispute, disputed)
	require.NoError(t, err)

	tokens := NewService(l, nil).CurrentTokens("u1")
	require.Len(t, tokens, 2)
	assert.Equal(t, a.ID(), tokens[0].ID())
	assert.NotNil(t, tokens[0].Metadata().DisputedAt)
	assert.Equal(t, b.ID(), tokens[1].ID())
}

func TestPortfolio_RecomputedAfterRevocation(t *testing.T) {
	l := ledger.New()
	f := credential.NewFactory(credential.WithClock(func() time.Time { return t0 }))
	a := appendIssue(t, l, f, "u1", "m1", "org-a", 80, credential.LevelOrganizationVerified)
	appendIssue(t, l, f, "u1", "m2", "org-b", 60, credential.LevelSelfReported)
	svc := NewService(l, func() time.Time { return t0.Add(time.Hour) })

	p := svc.Portfolio("u1")
	assert.Equal(t, 2, p.TotalTokens)
	assert.Equal(t, 2, p.ActiveTokens)
	assert.Equal(t, 70.0, p.MeanImpact)
	assert.Equal(t, []string{"m1-skill", "m2-skill", "shared"}, p.Skills)
	assert.Equal(t, []string{"org-a", "org-b"}, p.Organizations)
	assert.InDelta(t, 0.8*1.0+0.6*0.4, p.CredibilityWeight, 0.001)

	revoked, err := credential.Revoke(a, "fraud", []byte("admin"), t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionRevoke, revoked)
	require.NoError(t, err)

	p = svc.Portfolio("u1")
	assert.Equal(t, 1, p.ActiveTokens)
	assert.Equal(t, 1, p.RevokedTokens)
	assert.Equal(t, 60.0, p.MeanImpact)
	assert.Equal(t, []string{"org-b"}, p.Organizations)
	assert.InDelta(t, 0.24, p.CredibilityWeight, 0.001)
}

func TestPortfolio_UnknownUser(t *testing.T) {
	p := NewService(ledger.New(), nil).Portfolio("ghost")
	assert.Equal(t, 0, p.TotalTokens)
	assert.Empty(t, p.Skills)
	assert.Zero(t, p.MeanImpact)
}
