package merkle

import (
	"fmt"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

// Side says which side of the running hash a sibling sits on.
type Side string

const (
	SideLeft  Side = "L"
	SideRight Side = "R"
)

// InclusionProof shows that one block digest is committed to by a root.
type InclusionProof struct {
	Index     int                 `json:"index"`
	Block     canonicalize.Digest `json:"block_digest"`
	Root      canonicalize.Digest `json:"merkle_root"`
	ProofPath []ProofStep         `json:"proof_path"`
}

type ProofStep struct {
	Side    Side                `json:"side"`
	Sibling canonicalize.Digest `json:"sibling"`
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (InclusionProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return InclusionProof{}, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(t.Leaves))
	}

	proof := InclusionProof{Index: index, Block: t.Leaves[index], Root: t.Root}
	pos := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		var step ProofStep
		if pos%2 == 0 {
			sib := pos + 1
			if sib >= len(level) {
				sib = pos // duplicated tail
			}
			step = ProofStep{Side: SideRight, Sibling: level[sib]}
		} else {
			step = ProofStep{Side: SideLeft, Sibling: level[pos-1]}
		}
		proof.ProofPath = append(proof.ProofPath, step)
		pos /= 2
	}
	return proof, nil
}

// VerifyInclusionProof reports whether proof links its block to expectedRoot.
func VerifyInclusionProof(proof InclusionProof, expectedRoot canonicalize.Digest) bool {
	if proof.Root != expectedRoot {
		return false
	}

	current := LeafHash(proof.Block)
	for _, step := range proof.ProofPath {
		switch step.Side {
		case SideLeft:
			current = nodeHash(step.Sibling, current)
		case SideRight:
			current = nodeHash(current, step.Sibling)
		default:
			return false
		}
	}
	return current == expectedRoot
}
