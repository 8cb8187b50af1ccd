//go:build property
// +build property

package credential_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
)

// TestTokenDigestDeterminism: issuing the same input twice yields the same digests,
// and changing the impact strength always changes the content digest.
func TestTokenDigestDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	factory := credential.NewFactory(credential.WithClock(func() time.Time { return at }))

	properties.Property("digest is a pure function of the fields", prop.ForAll(
		func(user, title string, impact int, skills []string) bool {
			mission := credential.Mission{ID: "m-1", Title: title, OrganizationID: "org-1"}
			scoring := credential.ScoringResult{ImpactStrength: impact, SkillsMastered: skills}

			a, errA := factory.Issue("u-"+user, mission, scoring, []byte("sig"))
			b, errB := factory.Issue("u-"+user, mission, scoring, []byte("sig"))
			if errA != nil || errB != nil {
				return false
			}
			if a.ContentDigest() != b.ContentDigest() || a.StateDigest() != b.StateDigest() {
				return false
			}

			scoring.ImpactStrength = (impact + 1) % 101
			c, err := factory.Issue("u-"+user, mission, scoring, []byte("sig"))
			if err != nil {
				return false
			}
			return c.ContentDigest() != a.ContentDigest() && credential.Verify(a) && credential.Verify(c)
		},
		gen.AlphaString(),
		gen.AnyString().Map(func(s string) string { return norm.NFC.String(s) }),
		gen.IntRange(0, 100),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("only NFC text is accepted", prop.ForAll(
		func(title string) bool {
			mission := credential.Mission{ID: "m-1", Title: title, OrganizationID: "org-1"}
			_, err := factory.Issue("u-1", mission, credential.ScoringResult{ImpactStrength: 10}, []byte("sig"))
			if norm.NFC.IsNormalString(title) {
				return err == nil
			}
			return errors.Is(err, credential.ErrInvalidInput)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
