package integrity

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

var base = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func buildLedger(t *testing.T, log ledger.Log, n int) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	l, err := ledger.Open(ctx, log)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		f := credential.NewFactory(credential.WithClock(func() time.Time { return at }))
		tok, err := f.Issue(fmt.Sprintf("user-%d", i%3), credential.Mission{ID: fmt.Sprintf("m-%d", i), Title: "t", OrganizationID: "org"},
			credential.ScoringResult{ImpactStrength: 40 + i, SkillsMastered: []string{"s"}}, []byte("sig"))
		require.NoError(t, err)
		_, err = l.Append(ctx, ledger.ActionIssue, tok)
		require.NoError(t, err)
	}
	return l
}

// tamperToken rewrites one JSON field of the snapshot without resealing it.
func tamperToken(t *testing.T, tok credential.Token, field string, value any) credential.Token {
	t.Helper()
	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc[field] = value
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	var out credential.Token
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestVerifyChain_Intact(t *testing.T) {
	l := buildLedger(t, ledger.NewMemoryLog(), 5)
	report := VerifyLedger(l)

	assert.True(t, report.Intact())
	assert.NoError(t, report.Err())
	assert.Equal(t, 5, report.Entries)
	assert.Equal(t, l.Head(), report.Head)
}

func TestVerifyChain_Empty(t *testing.T) {
	report := VerifyChain(nil)
	assert.True(t, report.Intact())
	assert.Equal(t, 0, report.Entries)
}

func TestVerifyChain_LocalizesTampering(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("entry_%d", k), func(t *testing.T) {
			entries := buildLedger(t, ledger.NewMemoryLog(), n).Entries()
			entries[k].Token = tamperToken(t, entries[k].Token, "impact_strength", 100)

			report := VerifyChain(entries)
			require.False(t, report.Intact())

			want := []Mismatch{{Index: k, Kind: KindHashMismatch}}
			if k+1 < n {
				want = append(want, Mismatch{Index: k + 1, Kind: KindChainBreak})
			}
			require.Len(t, report.Mismatches, len(want))
			for i, m := range report.Mismatches {
				assert.Equal(t, want[i].Index, m.Index)
				assert.Equal(t, want[i].Kind, m.Kind)
			}

			err := report.Err()
			assert.ErrorIs(t, err, ErrHashMismatch)
			if k+1 < n {
				assert.ErrorIs(t, err, ErrChainBreak)
			}
		})
	}
}

func TestVerifyChain_DetectsSequenceRewrite(t *testing.T) {
	entries := buildLedger(t, ledger.NewMemoryLog(), 3).Entries()
	entries[1].Sequence = 7

	report := VerifyChain(entries)
	kinds := make([]Kind, 0, len(report.Mismatches))
	for _, m := range report.Mismatches {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []Kind{KindSequenceGap, KindHashMismatch, KindChainBreak}, kinds)
	assert.ErrorIs(t, report.Err(), ErrSequenceGap)
}

func TestVerifyChain_DetectsReordering(t *testing.T) {
	entries := buildLedger(t, ledger.NewMemoryLog(), 3).Entries()
	entries[1], entries[2] = entries[2], entries[1]

	report := VerifyChain(entries)
	assert.False(t, report.Intact())
	first, ok := report.First()
	require.True(t, ok)
	assert.Equal(t, 1, first.Index)
}

func TestVerifyChain_TamperedFileOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	fl, err := ledger.OpenFileLog(path)
	require.NoError(t, err)
	l := buildLedger(t, fl, 4)
	require.NoError(t, l.Close())

	// Change one byte of the second entry's snapshot: its owner.
	lines := readLines(t, path)
	require.Len(t, lines, 4)
	require.Contains(t, lines[1], `"user_id":"user-1"`)
	lines[1] = strings.Replace(lines[1], `"user_id":"user-1"`, `"user_id":"user-2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))

	fl2, err := ledger.OpenFileLog(path)
	require.NoError(t, err)
	reopened, err := ledger.Open(context.Background(), fl2)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	report := VerifyLedger(reopened)
	require.Len(t, report.Mismatches, 2)
	assert.Equal(t, Mismatch{Index: 1, Sequence: 1, Kind: KindHashMismatch}, stripDescription(report.Mismatches[0]))
	assert.Equal(t, Mismatch{Index: 2, Sequence: 2, Kind: KindChainBreak}, stripDescription(report.Mismatches[1]))
	assert.False(t, VerifyToken(reopened.Entries()[1].Token))
}

func TestVerifyChain_RevocationPreservesLineage(t *testing.T) {
	l := buildLedger(t, ledger.NewMemoryLog(), 2)
	before := l.Entries()[0]
	beforeRaw, err := json.Marshal(before)
	require.NoError(t, err)

	revoked, err := credential.Revoke(before.Token, "duplicate mission", []byte("admin"), base.Add(48*time.Hour))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionRevoke, revoked)
	require.NoError(t, err)

	after := l.Entries()[0]
	afterRaw, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(beforeRaw), string(afterRaw))
	assert.True(t, VerifyLedger(l).Intact())
}

func TestVerifyToken(t *testing.T) {
	tok := buildLedger(t, ledger.NewMemoryLog(), 1).Entries()[0].Token
	assert.True(t, VerifyToken(tok))
	assert.False(t, VerifyToken(tamperToken(t, tok, "mission_id", "m-other")))
	assert.False(t, VerifyToken(tamperToken(t, tok, "status", "revoked")))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func stripDescription(m Mismatch) Mismatch {
	m.Description = ""
	return m
}

func TestVerifySegment_MidChain(t *testing.T) {
	l := buildLedger(t, ledger.NewMemoryLog(), 6)
	all := l.Entries()
	seg := l.Range(2, 5)
	require.Len(t, seg, 3)

	report := VerifySegment(seg, 2, all[1].BlockDigest)
	assert.True(t, report.Intact())
	assert.Equal(t, all[4].BlockDigest, report.Head)

	wrongAnchor := VerifySegment(seg, 2, all[0].BlockDigest)
	first, ok := wrongAnchor.First()
	require.True(t, ok)
	assert.Equal(t, KindChainBreak, first.Kind)
	assert.Equal(t, 0, first.Index)

	wrongStart := VerifySegment(seg, 3, all[1].BlockDigest)
	assert.Len(t, wrongStart.Mismatches, 3)
	assert.ErrorIs(t, wrongStart.Err(), ErrSequenceGap)
}

func TestVerifyChain_DetectsEquivalentTextSwap(t *testing.T) {
	l, err := ledger.Open(context.Background(), ledger.NewMemoryLog())
	require.NoError(t, err)
	f := credential.NewFactory(credential.WithClock(func() time.Time { return base }))
	tok, err := f.Issue("caf\u00e9", credential.Mission{ID: "m-0", Title: "t", OrganizationID: "org"},
		credential.ScoringResult{ImpactStrength: 40}, []byte("sig"))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ledger.ActionIssue, tok)
	require.NoError(t, err)

	entries := l.Entries()
	entries[0].Token = tamperToken(t, entries[0].Token, "user_id", "cafe\u0301")

	report := VerifyChain(entries)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, KindHashMismatch, report.Mismatches[0].Kind)
	assert.False(t, VerifyToken(entries[0].Token))
}
