package sharetoken

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := Mint()
		require.NoError(t, err)
		assert.Len(t, tok, Length)

		parsed, err := Parse(tok)
		require.NoError(t, err)
		assert.Equal(t, tok, parsed)

		_, dup := seen[tok]
		require.False(t, dup, "duplicate token minted")
		seen[tok] = struct{}{}
	}
}

func TestMintFromShortReader(t *testing.T) {
	_, err := MintFrom(bytes.NewReader(make([]byte, 4)))
	assert.Error(t, err)
}

func TestMintFromDeterministic(t *testing.T) {
	tok, err := MintFrom(bytes.NewReader(make([]byte, ByteLength)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", Length), tok)
}

func TestParseRejectsMalformed(t *testing.T) {
	valid, err := Mint()
	require.NoError(t, err)

	cases := map[string]string{
		"empty":         "",
		"too short":     valid[:Length-1],
		"too long":      valid + "A",
		"padding":       valid[:Length-1] + "=",
		"std alphabet":  valid[:Length-1] + "+",
		"slash":         "/" + valid[1:],
		"whitespace":    " " + valid[1:],
		"sql":           "' OR 1=1 --" + strings.Repeat("a", Length-11),
		"non canonical": strings.Repeat("A", Length-1) + "B",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}
