package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
)

// Action is the kind of state change an entry records.
type Action string

const (
	ActionIssue   Action = "issue"
	ActionRevoke  Action = "revoke"
	ActionDispute Action = "dispute"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionIssue, ActionRevoke, ActionDispute:
		return true
	}
	return false
}

var blockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:credledger:block:v1"))

// Entry is one append-only block of the ledger.
type Entry struct {
	BlockID        string              `json:"block_id"`
	Sequence       uint64              `json:"sequence_number"`
	Action         Action              `json:"action"`
	Token          credential.Token    `json:"token_snapshot"`
	PreviousDigest canonicalize.Digest `json:"previous_block_digest"`
	BlockDigest    canonicalize.Digest `json:"block_digest"`
}

// blockFields is the hashed part of an entry.
type blockFields struct {
	Sequence       uint64              `json:"sequence_number"`
	Action         Action              `json:"action"`
	Token          credential.Token    `json:"token_snapshot"`
	PreviousDigest canonicalize.Digest `json:"previous_block_digest"`
}

// ComputeBlockDigest hashes (sequence, action, snapshot, previous digest).
func ComputeBlockDigest(seq uint64, action Action, token credential.Token, prev canonicalize.Digest) (canonicalize.Digest, error) {
	d, err := canonicalize.Sum(blockFields{
		Sequence:       seq,
		Action:         action,
		Token:          token,
		PreviousDigest: prev,
	})
	if err != nil {
		return canonicalize.Digest{}, fmt.Errorf("block digest %d: %w", seq, err)
	}
	return d, nil
}

// Digest recomputes the block digest from the entry's own fields.
func (e Entry) Digest() (canonicalize.Digest, error) {
	return ComputeBlockDigest(e.Sequence, e.Action, e.Token, e.PreviousDigest)
}

// BlockIDFor derives the block identifier from its digest.
func BlockIDFor(d canonicalize.Digest) string {
	return uuid.NewSHA1(blockNamespace, d[:]).String()
}

func (e Entry) clone() Entry {
	e.Token = e.Token.Clone()
	return e
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}
