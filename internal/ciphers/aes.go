package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// EncryptECBAES256 encrypts plaintext (a multiple of the AES block size)
// block-by-block with no chaining, matching the "AES-256-ECB chained"
// keystream-generation use described in spec.md §4.10 (the generator
// chains successive ECB blocks itself; the cipher primitive is plain ECB).
//
// AES is sourced from the standard library rather than a pack dependency:
// no example repo carries a third-party AES implementation, and Go's
// crypto/aes is the idiomatic choice for a generic NIST block cipher (see
// DESIGN.md).
func EncryptECBAES256(plaintext []byte, key [32]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("plaintext length %d not a multiple of block size", len(plaintext))
	}
	out := make([]byte, len(plaintext))
	for off := 0; off < len(plaintext); off += aes.BlockSize {
		block.Encrypt(out[off:off+aes.BlockSize], plaintext[off:off+aes.BlockSize])
	}
	return out, nil
}

// EncryptCBCAES256 encrypts plaintext under AES-256-CBC with the supplied
// IV. The OTAR KMM transport does not use it: internal/otar encrypts KMM
// bodies with the AES-256 voice keystream instead.
func EncryptCBCAES256(plaintext []byte, key [32]byte, iv [aes.BlockSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("plaintext length %d not a multiple of block size", len(plaintext))
	}
	out := make([]byte, len(plaintext))
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBCAES256 is the inverse of EncryptCBCAES256.
func DecryptCBCAES256(ciphertext []byte, key [32]byte, iv [aes.BlockSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a multiple of block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(out, ciphertext)
	return out, nil
}

// aesKeyWrapIV is the RFC 3394 default integrity check register, but the
// OTAR KMM path in spec.md §4.8 calls for a distinguished 0xA6-pattern IV
// instead of RFC 3394's 0xA6A6A6A6A6A6A6A6 default -- the two coincide,
// which is why dvmhost's implementation can reuse the standard AES
// key-wrap algorithm with a fixed, non-default-looking IV.
var aesKeyWrapIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// KeyWrapAES256 wraps a key-encryption-key's worth of plaintext key
// material (a multiple of 8 bytes, minimum 16) under kek using RFC 3394
// AES key wrap with the 0xA6-pattern IV spec.md §4.8 specifies for
// Rekey-Command TEK wrapping.
func KeyWrapAES256(plaintext []byte, kek [32]byte) ([]byte, error) {
	if len(plaintext) < 16 || len(plaintext)%8 != 0 {
		return nil, fmt.Errorf("key wrap input must be a multiple of 8 bytes, >= 16, got %d", len(plaintext))
	}
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	n := len(plaintext) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], plaintext[i*8:i*8+8])
	}
	a := aesKeyWrapIV

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			enc := make([]byte, 16)
			block.Encrypt(enc, buf)
			t := uint64(n*j + i)
			var tb [8]byte
			copy(tb[:], enc[:8])
			for k := 0; k < 8; k++ {
				tb[7-k] ^= byte(t >> (8 * uint(k)))
			}
			copy(a[:], tb[:])
			copy(r[i-1][:], enc[8:])
		}
	}

	out := make([]byte, 8+len(plaintext))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+i*8+8], r[i][:])
	}
	return out, nil
}

// KeyUnwrapAES256 is the inverse of KeyWrapAES256. It returns an error if
// the recovered integrity register doesn't match aesKeyWrapIV.
func KeyUnwrapAES256(wrapped []byte, kek [32]byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, fmt.Errorf("wrapped key must be a multiple of 8 bytes, >= 24, got %d", len(wrapped))
	}
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+i*8+8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tb [8]byte
			copy(tb[:], a[:])
			for k := 0; k < 8; k++ {
				tb[7-k] ^= byte(t >> (8 * uint(k)))
			}
			copy(buf[:8], tb[:])
			copy(buf[8:], r[i-1][:])
			dec := make([]byte, 16)
			block.Decrypt(dec, buf)
			copy(a[:], dec[:8])
			copy(r[i-1][:], dec[8:])
		}
	}

	if a != aesKeyWrapIV {
		return nil, fmt.Errorf("key unwrap integrity check failed")
	}
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:i*8+8], r[i][:])
	}
	return out, nil
}

// CBCMAC computes a CBC-MAC over msg (zero-padded to a block boundary)
// under key, the message-authentication scheme spec.md §4.8 requires for
// Rekey-Command integrity.
func CBCMAC(msg []byte, key [32]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	padded := make([]byte, ((len(msg)+aes.BlockSize-1)/aes.BlockSize)*aes.BlockSize)
	copy(padded, msg)

	var mac [aes.BlockSize]byte
	for off := 0; off < len(padded); off += aes.BlockSize {
		var xored [aes.BlockSize]byte
		for i := range xored {
			xored[i] = mac[i] ^ padded[off+i]
		}
		block.Encrypt(mac[:], xored[:])
	}
	return mac[:], nil
}
