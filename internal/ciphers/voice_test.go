package ciphers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAES256VoiceKeystreamDeterministic(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	mi := MI{1, 2, 3, 4, 5, 6, 7, 8, 9}

	a, err := GenerateAES256Keystream(key, mi)
	require.NoError(t, err)
	b, err := GenerateAES256Keystream(key, mi)
	require.NoError(t, err)

	require.Equal(t, a, b, "keystream generation must be deterministic for a given (MI, key)")
	require.Len(t, a, KeystreamLenAES256)
}

func TestDESVoiceKeystreamLength(t *testing.T) {
	mi := MI{9, 8, 7, 6, 5, 4, 3, 2, 1}
	ks := GenerateDESKeystream([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, mi)
	require.Len(t, ks, KeystreamLenDES)
}

func TestARC4VoiceKeystreamLength(t *testing.T) {
	mi := MI{9, 8, 7, 6, 5, 4, 3, 2, 1}
	ks := GenerateARC4Keystream([5]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, mi)
	require.Len(t, ks, KeystreamLenARC4)
}

func TestMIAdvanceChanges(t *testing.T) {
	mi := MI{1, 2, 3, 4, 5, 6, 7, 8, 9}
	next := AdvanceMI(mi)
	require.NotEqual(t, mi, next)

	// Advancing is deterministic.
	next2 := AdvanceMI(mi)
	require.Equal(t, next, next2)
}

func TestExpandMIToIVLength(t *testing.T) {
	mi := MI{1, 2, 3, 4, 5, 6, 7, 8, 9}
	iv := ExpandMIToIV(mi)
	require.Len(t, iv, 16)
}

func TestVoiceFrameOffsetGapAtFrame8(t *testing.T) {
	withoutGap := VoiceFrameOffset(AlgIDDES, 7)
	withGap := VoiceFrameOffset(AlgIDDES, 8)
	require.Equal(t, withoutGap+RawIMBELengthBytes+2, withGap)
}

func TestVoiceFrameOffsetWrapsModulo9(t *testing.T) {
	require.Equal(t, VoiceFrameOffset(AlgIDAES256, 0), VoiceFrameOffset(AlgIDAES256, 9))
}

func TestXORVoiceFrameRoundTrip(t *testing.T) {
	keystream := make([]byte, KeystreamLenARC4)
	for i := range keystream {
		keystream[i] = byte(i)
	}
	frame := []byte{0x11, 0x22, 0x33, 0x44}
	orig := append([]byte{}, frame...)

	XORVoiceFrame(frame, keystream, AlgIDARC4, 0)
	require.NotEqual(t, orig, frame)

	XORVoiceFrame(frame, keystream, AlgIDARC4, 0)
	require.Equal(t, orig, frame, "XOR twice with the same keystream window must recover the original")
}
