// Package archive exports signed evidence bundles: a contiguous run of ledger
// entries committed to by a Merkle root and signed with an Ed25519 key, so the
// run can be checked offline without access to the live ledger.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/credledger/pkg/crypto"
	"github.com/Mindburn-Labs/credledger/pkg/integrity"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
	"github.com/Mindburn-Labs/credledger/pkg/merkle"
)

// FormatVersion is written into every bundle this build produces.
const FormatVersion = "1.0.0"

// supportedFormats is the range of bundle versions VerifyBundle accepts.
const supportedFormats = ">= 1.0.0, < 2.0.0"

var (
	ErrEmptyBundle       = errors.New("archive: no entries")
	ErrSignerMissing     = errors.New("archive: signer not configured")
	ErrUnsupportedFormat = errors.New("archive: unsupported bundle format")
	ErrRootMismatch      = errors.New("archive: merkle root mismatch")
	ErrBadSignature      = errors.New("archive: signature invalid")
	ErrBrokenChain       = errors.New("archive: chain verification failed")
)

// Header is the signed part of a bundle. The Merkle root commits it to the
// entries, so signing the header covers them too.
type Header struct {
	FormatVersion string              `json:"format_version"`
	FromSequence  uint64              `json:"from_sequence"`
	ToSequence    uint64              `json:"to_sequence"`
	Anchor        canonicalize.Digest `json:"anchor"`
	Head          canonicalize.Digest `json:"head"`
	MerkleRoot    canonicalize.Digest `json:"merkle_root"`
	ExportedAt    time.Time           `json:"exported_at"`
	KeyID         string              `json:"key_id"`
}

// Bundle is a signed, self-verifying slice of the ledger.
type Bundle struct {
	Header
	Entries   []ledger.Entry `json:"entries"`
	Signature string         `json:"signature"`
}

func (h Header) signingBytes() ([]byte, error) {
	b, err := canonicalize.JCS(h)
	if err != nil {
		return nil, fmt.Errorf("archive: canonical header: %w", err)
	}
	return b, nil
}

func blockDigests(entries []ledger.Entry) []canonicalize.Digest {
	out := make([]canonicalize.Digest, len(entries))
	for i, e := range entries {
		out[i] = e.BlockDigest
	}
	return out
}

// Export seals entries into a bundle signed by signer. Entries must be a
// contiguous run as returned by Ledger.Range or Ledger.Entries; a run that does
// not verify is refused rather than signed.
func Export(entries []ledger.Entry, signer crypto.Signer, at time.Time) (*Bundle, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}
	if signer == nil {
		return nil, ErrSignerMissing
	}

	first, last := entries[0], entries[len(entries)-1]
	if r := integrity.VerifySegment(entries, first.Sequence, first.PreviousDigest); !r.Intact() {
		return nil, fmt.Errorf("%w: %w", ErrBrokenChain, r.Err())
	}

	root, err := merkle.Root(blockDigests(entries))
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Header: Header{
			FormatVersion: FormatVersion,
			FromSequence:  first.Sequence,
			ToSequence:    last.Sequence,
			Anchor:        first.PreviousDigest,
			Head:          last.BlockDigest,
			MerkleRoot:    root,
			ExportedAt:    at.UTC().Truncate(time.Millisecond),
			KeyID:         signer.KeyID(),
		},
		Entries: append([]ledger.Entry(nil), entries...),
	}

	msg, err := b.signingBytes()
	if err != nil {
		return nil, err
	}
	if b.Signature, err = signer.Sign(msg); err != nil {
		return nil, fmt.Errorf("archive: sign failed: %w", err)
	}
	return b, nil
}

// VerifyBundle checks, in order, the format version, the entry chain, the
// Merkle root, and the signature against keys.
func VerifyBundle(b *Bundle, keys *crypto.KeyRing) error {
	if b == nil || len(b.Entries) == 0 {
		return ErrEmptyBundle
	}

	v, err := semver.NewVersion(b.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsupportedFormat, b.FormatVersion, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrUnsupportedFormat, v, supportedFormats)
	}

	n := uint64(len(b.Entries))
	if b.ToSequence < b.FromSequence || b.ToSequence-b.FromSequence+1 != n {
		return fmt.Errorf("%w: range [%d,%d] does not match %d entries", ErrBrokenChain, b.FromSequence, b.ToSequence, n)
	}
	report := integrity.VerifySegment(b.Entries, b.FromSequence, b.Anchor)
	if !report.Intact() {
		return fmt.Errorf("%w: %w", ErrBrokenChain, report.Err())
	}
	if report.Head != b.Head {
		return fmt.Errorf("%w: head %s, header says %s", ErrBrokenChain, report.Head, b.Head)
	}

	root, err := merkle.Root(blockDigests(b.Entries))
	if err != nil {
		return err
	}
	if root != b.MerkleRoot {
		return fmt.Errorf("%w: computed %s, header says %s", ErrRootMismatch, root, b.MerkleRoot)
	}

	msg, err := b.signingBytes()
	if err != nil {
		return err
	}
	ok, err := keys.VerifyKey(b.KeyID, msg, b.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// Proof returns an inclusion proof for the entry with sequence number seq.
func (b *Bundle) Proof(seq uint64) (merkle.InclusionProof, error) {
	if seq < b.FromSequence || seq > b.ToSequence {
		return merkle.InclusionProof{}, fmt.Errorf("archive: sequence %d outside bundle [%d,%d]", seq, b.FromSequence, b.ToSequence)
	}
	tree, err := merkle.Build(blockDigests(b.Entries))
	if err != nil {
		return merkle.InclusionProof{}, err
	}
	return tree.Proof(int(seq - b.FromSequence))
}

// Marshal encodes b as indented JSON.
func (b *Bundle) Marshal() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Unmarshal decodes a bundle produced by Marshal. The result is unverified.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("archive: decode bundle: %w", err)
	}
	return &b, nil
}
