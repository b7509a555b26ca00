package ciphers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDESRoundTrip(t *testing.T) {
	key := [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	msg := [8]byte{0x90, 0x56, 0x00, 0x00, 0x2D, 0x75, 0xE6, 0x8D}

	ct := EncryptBlockDES(msg, key)
	pt := DecryptBlockDES(ct, key)

	require.Equal(t, msg, pt, "decrypt(encrypt(m)) must recover m")
	require.NotEqual(t, msg, ct, "ciphertext should differ from plaintext for this key/message pair")
}

func TestDESRoundTripAllZero(t *testing.T) {
	var key, msg [8]byte
	ct := EncryptBlockDES(msg, key)
	pt := DecryptBlockDES(ct, key)
	require.Equal(t, msg, pt)
}

func TestDESRoundTripVariesByKey(t *testing.T) {
	msg := [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	keyA := [8]byte{0x13, 0x34, 0x57, 0x79, 0x9B, 0xBC, 0xDF, 0xF1}
	keyB := [8]byte{0xFF, 0x34, 0x57, 0x79, 0x9B, 0xBC, 0xDF, 0xF1}

	ctA := EncryptBlockDES(msg, keyA)
	ctB := EncryptBlockDES(msg, keyB)
	require.NotEqual(t, ctA, ctB, "different keys must produce different ciphertext")

	require.Equal(t, msg, DecryptBlockDES(ctA, keyA))
	require.Equal(t, msg, DecryptBlockDES(ctB, keyB))
}
