// Package integrity recomputes ledger and token digests and reports where
// stored values diverge from them.
package integrity

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

var (
	ErrHashMismatch = errors.New("block digest mismatch")
	ErrChainBreak   = errors.New("hash chain broken")
	ErrSequenceGap  = errors.New("sequence gap")
)

// Kind classifies a finding.
type Kind string

const (
	KindHashMismatch Kind = "hash_mismatch"
	KindChainBreak   Kind = "chain_break"
	KindSequenceGap  Kind = "sequence_gap"
)

// Mismatch is one point where the chain diverges. For a chain break, Index is
// the later of the two entries.
type Mismatch struct {
	Index       int    `json:"index"`
	Sequence    uint64 `json:"sequence_number"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
}

// Report is the result of a chain verification. No mismatches means intact.
type Report struct {
	Entries    int                 `json:"entries"`
	Head       canonicalize.Digest `json:"head"`
	Mismatches []Mismatch          `json:"mismatches"`
}

// Intact reports whether no mismatch was found.
func (r Report) Intact() bool { return len(r.Mismatches) == 0 }

// First returns the earliest mismatch.
func (r Report) First() (Mismatch, bool) {
	if len(r.Mismatches) == 0 {
		return Mismatch{}, false
	}
	return r.Mismatches[0], true
}

// Err joins one wrapped sentinel per mismatch, or returns nil when intact.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		var sentinel error
		switch m.Kind {
		case KindHashMismatch:
			sentinel = ErrHashMismatch
		case KindChainBreak:
			sentinel = ErrChainBreak
		default:
			sentinel = ErrSequenceGap
		}
		errs = append(errs, fmt.Errorf("%w: %s", sentinel, m.Description))
	}
	return errors.Join(errs...)
}

// VerifyChain walks entries in order. For each entry it recomputes the block
// digest from the entry's own fields, compares it with the stored one and
// checks the snapshot with credential.Verify. It then compares the stored
// previous digest with the recomputed digest of the entry before it (Genesis
// for the first).
func VerifyChain(entries []ledger.Entry) Report {
	return VerifySegment(entries, 0, canonicalize.Genesis)
}

// VerifySegment is VerifyChain for a contiguous run that starts at sequence
// start and links to anchor, the block digest of the entry before it.
func VerifySegment(entries []ledger.Entry, start uint64, anchor canonicalize.Digest) Report {
	report := Report{Entries: len(entries), Mismatches: []Mismatch{}}
	expectedPrev := anchor
	for i, e := range entries {
		if want := start + uint64(i); e.Sequence != want {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Index: i, Sequence: e.Sequence, Kind: KindSequenceGap,
				Description: fmt.Sprintf("entry %d carries sequence_number %d, expected %d", i, e.Sequence, want),
			})
		}
		if e.PreviousDigest != expectedPrev {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Index: i, Sequence: e.Sequence, Kind: KindChainBreak,
				Description: fmt.Sprintf("chain broken between entries %d and %d: previous_block_digest %s, expected %s",
					i-1, i, e.PreviousDigest, expectedPrev),
			})
		}

		computed, err := e.Digest()
		switch {
		case err != nil:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Index: i, Sequence: e.Sequence, Kind: KindHashMismatch,
				Description: fmt.Sprintf("entry %d cannot be hashed: %v", i, err),
			})
		case computed != e.BlockDigest:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Index: i, Sequence: e.Sequence, Kind: KindHashMismatch,
				Description: fmt.Sprintf("entry %d hash mismatch (computed %s, stored %s)", i, computed, e.BlockDigest),
			})
		case !credential.Verify(e.Token):
			report.Mismatches = append(report.Mismatches, Mismatch{
				Index: i, Sequence: e.Sequence, Kind: KindHashMismatch,
				Description: fmt.Sprintf("entry %d snapshot fails token verification", i),
			})
		}
		expectedPrev = computed
		report.Head = e.BlockDigest
	}
	return report
}

// VerifyLedger verifies a consistent snapshot of l.
func VerifyLedger(l *ledger.Ledger) Report {
	return VerifyChain(l.Entries())
}

// VerifyToken recomputes a token's digests over its own fields. A token that
// fails must not be trusted.
func VerifyToken(t credential.Token) bool {
	return credential.Verify(t)
}
