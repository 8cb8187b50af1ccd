// Package merkle builds the binary hash tree that commits an evidence bundle to
// the exact run of ledger blocks it carries.
package merkle

import (
	"bytes"
	"errors"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

const (
	leafTag = "credledger:archive:leaf:v1"
	nodeTag = "credledger:archive:node:v1"
)

var ErrEmptyTree = errors.New("merkle: no leaves")

// Tree is a Merkle tree over an ordered list of block digests. Odd levels are
// balanced by duplicating the last node.
type Tree struct {
	Leaves []canonicalize.Digest
	Root   canonicalize.Digest
	Levels [][]canonicalize.Digest // Levels[0] is the hashed leaves, last is the root
}

// Build constructs a tree over blocks in order.
func Build(blocks []canonicalize.Digest) (*Tree, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyTree
	}

	level := make([]canonicalize.Digest, len(blocks))
	for i, b := range blocks {
		level[i] = LeafHash(b)
	}

	tree := &Tree{Leaves: append([]canonicalize.Digest(nil), blocks...)}
	for len(level) > 1 {
		tree.Levels = append(tree.Levels, level)
		level = nextLevel(level)
	}
	tree.Levels = append(tree.Levels, level)
	tree.Root = level[0]
	return tree, nil
}

// Root is a convenience for Build(blocks).Root.
func Root(blocks []canonicalize.Digest) (canonicalize.Digest, error) {
	t, err := Build(blocks)
	if err != nil {
		return canonicalize.Digest{}, err
	}
	return t.Root, nil
}

// LeafHash is SHA-256("credledger:archive:leaf:v1\0" || block).
func LeafHash(block canonicalize.Digest) canonicalize.Digest {
	var buf bytes.Buffer
	buf.WriteString(leafTag)
	buf.WriteByte(0)
	buf.Write(block[:])
	return canonicalize.SumBytes(buf.Bytes())
}

func nextLevel(hashes []canonicalize.Digest) []canonicalize.Digest {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1])
	}
	out := make([]canonicalize.Digest, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		out[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return out
}

func nodeHash(left, right canonicalize.Digest) canonicalize.Digest {
	var buf bytes.Buffer
	buf.WriteString(nodeTag)
	buf.WriteByte(0)
	buf.Write(left[:])
	buf.Write(right[:])
	return canonicalize.SumBytes(buf.Bytes())
}
