// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) serialization
// and the SHA-256 digest used by every hashed record in the ledger.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// The value is first marshalled with encoding/json so struct tags decide field
// names, then every string (keys included) is normalized to Unicode NFC, and
// finally the document is transformed by the JCS library: object members sorted
// by name, no insignificant whitespace, no HTML escaping, ES6 number formatting.
// Two values with the same fields therefore serialize identically regardless of
// construction order.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic any
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	normalized, err := json.Marshal(normalize(generic))
	if err != nil {
		return nil, fmt.Errorf("jcs: normalized marshal failed: %w", err)
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// normalize walks a decoded JSON tree and applies NFC to every string.
func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	default:
		return v
	}
}
