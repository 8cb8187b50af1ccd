package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]any{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestJCS_NFCNormalization(t *testing.T) {
	// "é" precomposed (U+00E9) vs "e" + combining acute (U+0065 U+0301)
	composed := map[string]string{"name": "caf\u00e9"}
	decomposed := map[string]string{"name": "cafe\u0301"}

	b1, err := JCS(composed)
	require.NoError(t, err)
	b2, err := JCS(decomposed)
	require.NoError(t, err)

	assert.Equal(t, string(b1), string(b2))
}

func TestJCS_NumberTypes(t *testing.T) {
	input := map[string]any{
		"num": json.Number("123.456"),
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"num":123.456}`, string(b))
}

func TestSum_StructAndMapAgree(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	d1, err := Sum(v1)
	require.NoError(t, err)
	d2, err := Sum(v2)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
}

func TestSum_FieldSensitivity(t *testing.T) {
	type record struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	base, err := Sum(record{A: "x", B: 1})
	require.NoError(t, err)

	changedA, err := Sum(record{A: "y", B: 1})
	require.NoError(t, err)
	changedB, err := Sum(record{A: "x", B: 2})
	require.NoError(t, err)

	assert.NotEqual(t, base, changedA)
	assert.NotEqual(t, base, changedB)
}

func TestDigest_TextRoundTrip(t *testing.T) {
	d := SumBytes([]byte("ledger"))

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Contains(t, string(text), "sha256:")

	var parsed Digest
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, d, parsed)

	bare, err := ParseDigest(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, bare)
}

func TestParseDigest_Invalid(t *testing.T) {
	_, err := ParseDigest("sha256:zz")
	assert.Error(t, err)

	_, err = ParseDigest("sha256:abcd")
	assert.Error(t, err)
}

func TestGenesis_IsZero(t *testing.T) {
	assert.True(t, Genesis.IsZero())
	assert.False(t, SumBytes(nil).IsZero())
}
