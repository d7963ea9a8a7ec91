package cellid

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownVector(t *testing.T) {
	got, err := Decode("ffkpbaba-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1437536272), got)
}

func TestDecode_Sentinels(t *testing.T) {
	for _, code := range []string{"UNASSIGNED", "-1", ""} {
		got, err := Decode(code)
		require.NoError(t, err, code)
		assert.Zero(t, got, code)
	}
}

func TestDecode_IntegerIDs(t *testing.T) {
	got, err := Decode("0")
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = Decode("123456")
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), got)

	_, err = Decode("99999999999")
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecode_SuffixIgnored(t *testing.T) {
	a, err := Decode("ffkpbaba-1")
	require.NoError(t, err)
	b, err := Decode("ffkpbaba-42")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"no suffix":       "ffkpbaba",
		"short token":     "ffkpbab-1",
		"long token":      "ffkpbabaa-1",
		"symbol past p":   "ffkqbaba-1",
		"upper case":      "FFKPBABA-1",
		"empty suffix":    "ffkpbaba-",
		"alpha suffix":    "ffkpbaba-x",
		"negative suffix": "ffkpbaba--1",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(code)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError for %q, got %v", code, err)
			assert.Equal(t, code, de.Code)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	edges := []uint32{0, 1, 15, 16, 255, 0x55AF1010, math.MaxUint32 - 1, math.MaxUint32}
	for _, n := range edges {
		got, err := Decode(Encode(n, 1))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		n := rng.Uint32()
		got, err := Decode(Encode(n, uint(rng.Intn(9)+1)))
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestEncode_SuffixRoundTrip(t *testing.T) {
	for _, suffix := range []uint{0, 1, 12, math.MaxUint32, math.MaxUint} {
		code := Encode(0x55AF1010, suffix)
		assert.NotContains(t, code, "--")
		got, err := Decode(code)
		require.NoError(t, err, code)
		assert.Equal(t, uint32(0x55AF1010), got)
	}
	assert.Equal(t, "ffkpbaba-4294967295", Encode(1437536272, math.MaxUint32))
}

func TestEncode_Shape(t *testing.T) {
	assert.Equal(t, "ffkpbaba-1", Encode(1437536272, 1))
	assert.Equal(t, "aaaaaaaa-3", Encode(0, 3))
	assert.Equal(t, "pppppppp-1", Encode(math.MaxUint32, 1))
}
