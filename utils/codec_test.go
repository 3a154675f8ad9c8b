package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const standardAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

func TestDecodeBase64StandardAlphabet(t *testing.T) {
	codec := NewCodec(standardAlphabet)
	assert.Equal(t, []byte("hello"), codec.DecodeBase64("aGVsbG8"))
	assert.Equal(t, []byte("hello"), codec.DecodeBase64("aG Vs\nbG8"), "characters outside the alphabet are skipped")
}

func TestDefaultAlphabet(t *testing.T) {
	assert.Equal(t, StringArrayAlphabet, NewCodec("").Alphabet())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec("")
	for _, in := range []string{"", "a", "ab", "abc", "0123456789abcdef", "héllo"} {
		got, err := codec.DecodeString(codec.EncodeBase64([]byte(in)))
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestDecodeStringRejectsInvalidUTF8(t *testing.T) {
	codec := NewCodec("")
	_, err := codec.DecodeString(codec.EncodeBase64([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestDecodeRC4(t *testing.T) {
	codec := NewCodec("")
	_, err := codec.DecodeRC4(codec.EncodeBase64([]byte("plain")), "")
	assert.Error(t, err)

	cipher, err := codec.DecodeRC4(codec.EncodeBase64([]byte("plain")), "k3y")
	require.NoError(t, err)
	assert.NotEqual(t, "plain", cipher)
}
