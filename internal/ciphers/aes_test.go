package ciphers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyWrapRoundTrip(t *testing.T) {
	var kek [32]byte
	for i := range kek {
		kek[i] = byte(i)
	}
	var tek [32]byte
	for i := range tek {
		tek[i] = byte(0xA0 + i)
	}

	wrapped, err := KeyWrapAES256(tek[:], kek)
	require.NoError(t, err)
	require.Len(t, wrapped, len(tek)+8)

	unwrapped, err := KeyUnwrapAES256(wrapped, kek)
	require.NoError(t, err)
	require.Equal(t, tek[:], unwrapped)
}

func TestKeyUnwrapDetectsTamper(t *testing.T) {
	var kek [32]byte
	key := make([]byte, 16)
	wrapped, err := KeyWrapAES256(key, kek)
	require.NoError(t, err)

	wrapped[0] ^= 0xFF
	_, err = KeyUnwrapAES256(wrapped, kek)
	require.Error(t, err)
}

func TestCBCMACDeterministic(t *testing.T) {
	var key [32]byte
	msg := []byte("rekey-command-body")

	a, err := CBCMAC(msg, key)
	require.NoError(t, err)
	b, err := CBCMAC(msg, key)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := CBCMAC(append(append([]byte{}, msg...), 0x01), key)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestECBAESRoundTrip(t *testing.T) {
	var key [32]byte
	plaintext := make([]byte, 32)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	ct, err := EncryptECBAES256(plaintext, key)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext))
	require.NotEqual(t, plaintext, ct)
}
