package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestSize is the width of a Digest in bytes.
const DigestSize = sha256.Size

// digestPrefix tags the text form of a digest with its algorithm.
const digestPrefix = "sha256:"

// Digest is a fixed-size SHA-256 digest. It is a value type: comparison with ==
// is the only equality, and there is no way to update it incrementally.
type Digest [DigestSize]byte

// Genesis is the previous-block digest of the first ledger entry.
var Genesis Digest

// Sum returns the digest of the canonical JSON form of v.
func Sum(v any) (Digest, error) {
	b, err := JCS(v)
	if err != nil {
		return Digest{}, err
	}
	return SumBytes(b), nil
}

// SumBytes hashes raw bytes.
func SumBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// IsZero reports whether d is the zero digest (the genesis constant).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hex returns the lowercase hex encoding without prefix.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return digestPrefix + d.Hex()
}

// MarshalText encodes the digest as "sha256:<hex>".
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts "sha256:<hex>" or bare hex.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses the text form produced by String.
func ParseDigest(s string) (Digest, error) {
	raw := strings.TrimPrefix(s, digestPrefix)
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest hex: %w", err)
	}
	if len(b) != DigestSize {
		return Digest{}, fmt.Errorf("invalid digest length: %d", len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}
