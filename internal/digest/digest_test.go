package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256HexKnownVector(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", SHA256Hex("abc"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SHA256Hex(""))
}

func TestChain(t *testing.T) {
	assert.Equal(t, "abc", Chain("abc", 0))
	assert.Equal(t, SHA256Hex("abc"), Chain("abc", 1))
	assert.Equal(t, SHA256Hex(SHA256Hex(SHA256Hex("abc"))), Chain("abc", 3))
}

func TestPrefixUint64(t *testing.T) {
	v, err := PrefixUint64("ff00000000000000aa", 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xff00000000000000), v)

	v, err = PrefixUint64("0000002a", 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = PrefixUint64("abc", 8)
	assert.Error(t, err)
	_, err = PrefixUint64("zzzzzzzz", 8)
	assert.Error(t, err)
	_, err = PrefixUint64("abcdef", 17)
	assert.Error(t, err)
}

func TestFingerprintStable(t *testing.T) {
	type s struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	f1, err := Fingerprint(s{A: 1, B: "x"})
	require.NoError(t, err)
	f2, err := Fingerprint(s{A: 1, B: "x"})
	require.NoError(t, err)
	f3, err := Fingerprint(s{A: 2, B: "x"})
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.NotEqual(t, f1, f3)
}
