package fraud

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
)

// finding is an alert before identity and time are stamped on it.
type finding struct {
	kind     Kind
	severity Severity
	action   Action
	evidence string
	tokens   []string
	rule     string
}

func byIssuance(tokens []credential.Token) []credential.Token {
	out := slices.Clone(tokens)
	slices.SortStableFunc(out, func(a, b credential.Token) int {
		if c := a.IssuedAt().Compare(b.IssuedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

func activeAt(tokens []credential.Token, now time.Time) []credential.Token {
	out := make([]credential.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.EffectiveStatus(now) == credential.StatusActive {
			out = append(out, t)
		}
	}
	return out
}

// duplicateClaims flags every active token for a mission after the first one.
func duplicateClaims(active []credential.Token) []finding {
	first := make(map[string]credential.Token)
	var out []finding
	for _, t := range byIssuance(active) {
		orig, seen := first[t.MissionID()]
		if !seen {
			first[t.MissionID()] = t
			continue
		}
		out = append(out, finding{
			kind:     KindDuplicateClaim,
			severity: SeverityHigh,
			action:   ActionBlock,
			evidence: fmt.Sprintf("mission %s already credited by token %s issued %s; token %s claims it again",
				t.MissionID(), orig.ID(), orig.IssuedAt().Format(time.RFC3339), t.ID()),
			tokens: []string{orig.ID(), t.ID()},
		})
	}
	return out
}

// velocity reports the densest window holding more than limit issuances.
// A window covers [start, start+window).
func velocity(tokens []credential.Token, limit int, window time.Duration) []finding {
	sorted := byIssuance(tokens)
	bestStart, bestCount := 0, 0
	end := 0
	for start := range sorted {
		if end < start {
			end = start
		}
		for end < len(sorted) && sorted[end].IssuedAt().Sub(sorted[start].IssuedAt()) < window {
			end++
		}
		if n := end - start; n > bestCount {
			bestStart, bestCount = start, n
		}
	}
	if bestCount <= limit {
		return nil
	}

	ids := make([]string, 0, bestCount)
	for _, t := range sorted[bestStart : bestStart+bestCount] {
		ids = append(ids, t.ID())
	}
	from := sorted[bestStart].IssuedAt()
	return []finding{{
		kind:     KindVelocityAnomaly,
		severity: SeverityMedium,
		action:   ActionInvestigate,
		evidence: fmt.Sprintf("%d tokens issued within %s starting %s (limit %d)",
			bestCount, window, from.Format(time.RFC3339), limit),
		tokens: ids,
	}}
}

// inflation flags tokens whose impact z-score exceeds threshold. Samples
// smaller than minSample, or with no spread, are skipped.
func inflation(tokens []credential.Token, threshold float64, minSample int) []finding {
	if len(tokens) < minSample || len(tokens) == 0 {
		return nil
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.ImpactStrength())
	}
	mean := sum / float64(len(tokens))
	var sq float64
	for _, t := range tokens {
		d := float64(t.ImpactStrength()) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(tokens)))
	if stddev == 0 {
		return nil
	}

	var out []finding
	for _, t := range byIssuance(tokens) {
		z := (float64(t.ImpactStrength()) - mean) / stddev
		if z <= threshold {
			continue
		}
		out = append(out, finding{
			kind:     KindOutcomeInflation,
			severity: SeverityMedium,
			action:   ActionInvestigate,
			evidence: fmt.Sprintf("token %s impact %d has z-score %.2f (mean %.2f, stddev %.2f, n=%d)",
				t.ID(), t.ImpactStrength(), z, mean, stddev, len(tokens)),
			tokens: []string{t.ID()},
		})
	}
	return out
}

// unverifiedHighImpact flags high-impact claims below organization verification.
func unverifiedHighImpact(active []credential.Token, threshold int) []finding {
	var out []finding
	for _, t := range byIssuance(active) {
		if t.ImpactStrength() <= threshold || t.VerificationLevel().OrganizationVerified() {
			continue
		}
		out = append(out, finding{
			kind:     KindUnverifiedHighImpact,
			severity: SeverityHigh,
			action:   ActionInvestigate,
			evidence: fmt.Sprintf("token %s claims impact %d with verification level %s",
				t.ID(), t.ImpactStrength(), t.VerificationLevel()),
			tokens: []string{t.ID()},
		})
	}
	return out
}

// concentration flags more than limit active tokens that all come from one
// organization.
func concentration(active []credential.Token, limit int) []finding {
	if len(active) <= limit {
		return nil
	}
	org := active[0].OrganizationID()
	for _, t := range active[1:] {
		if t.OrganizationID() != org {
			return nil
		}
	}
	ids := make([]string, 0, len(active))
	for _, t := range byIssuance(active) {
		ids = append(ids, t.ID())
	}
	return []finding{{
		kind:     KindOrganizationConcentration,
		severity: SeverityHigh,
		action:   ActionInvestigate,
		evidence: fmt.Sprintf("all %d active tokens were issued by organization %s", len(active), org),
		tokens:   ids,
	}}
}
