// Package ciphers implements the embedded, single-purpose block ciphers
// and keystream generators the FNE uses to derive P25 voice keystream and
// to wrap/unwrap OTAR traffic encryption keys. Per spec.md §4.10 these are
// never used to encrypt user data directly; DES in particular exists only
// to chain into the voice keystream generator.
//
// DES is hand-rolled against the canonical FIPS 46-3 tables rather than
// wrapped around the standard library's crypto/des: the spec requires an
// embedded single-block ECB Feistel matching a specific reference
// implementation bit-for-bit, and dvmhost (the original C++ project this
// core is modeled on) likewise carries its own DES rather than linking
// OpenSSL's. See DESIGN.md for the corpus grounding of this choice.
package ciphers

// Initial permutation (IP), 1-indexed bit positions per FIPS 46-3 table 1.
var ip = [64]int{
	58, 50, 42, 34, 26, 18, 10, 2,
	60, 52, 44, 36, 28, 20, 12, 4,
	62, 54, 46, 38, 30, 22, 14, 6,
	64, 56, 48, 40, 32, 24, 16, 8,
	57, 49, 41, 33, 25, 17, 9, 1,
	59, 51, 43, 35, 27, 19, 11, 3,
	61, 53, 45, 37, 29, 21, 13, 5,
	63, 55, 47, 39, 31, 23, 15, 7,
}

// Final permutation (FP), the inverse of IP.
var fp = [64]int{
	40, 8, 48, 16, 56, 24, 64, 32,
	39, 7, 47, 15, 55, 23, 63, 31,
	38, 6, 46, 14, 54, 22, 62, 30,
	37, 5, 45, 13, 53, 21, 61, 29,
	36, 4, 44, 12, 52, 20, 60, 28,
	35, 3, 43, 11, 51, 19, 59, 27,
	34, 2, 42, 10, 50, 18, 58, 26,
	33, 1, 41, 9, 49, 17, 57, 25,
}

// Expansion permutation (E): 32 bits -> 48 bits.
var e = [48]int{
	32, 1, 2, 3, 4, 5,
	4, 5, 6, 7, 8, 9,
	8, 9, 10, 11, 12, 13,
	12, 13, 14, 15, 16, 17,
	16, 17, 18, 19, 20, 21,
	20, 21, 22, 23, 24, 25,
	24, 25, 26, 27, 28, 29,
	28, 29, 30, 31, 32, 1,
}

// P-box permutation applied after S-box substitution.
var p = [32]int{
	16, 7, 20, 21, 29, 12, 28, 17,
	1, 15, 23, 26, 5, 18, 31, 10,
	2, 8, 24, 14, 32, 27, 3, 9,
	19, 13, 30, 6, 22, 11, 4, 25,
}

// PC-1: 64-bit key -> 56-bit permuted key (parity bits dropped).
var pc1 = [56]int{
	57, 49, 41, 33, 25, 17, 9,
	1, 58, 50, 42, 34, 26, 18,
	10, 2, 59, 51, 43, 35, 27,
	19, 11, 3, 60, 52, 44, 36,
	63, 55, 47, 39, 31, 23, 15,
	7, 62, 54, 46, 38, 30, 22,
	14, 6, 61, 53, 45, 37, 29,
	21, 13, 5, 28, 20, 12, 4,
}

// PC-2: 56-bit rotated key -> 48-bit round subkey.
var pc2 = [48]int{
	14, 17, 11, 24, 1, 5,
	3, 28, 15, 6, 21, 10,
	23, 19, 12, 4, 26, 8,
	16, 7, 27, 20, 13, 2,
	41, 52, 31, 37, 47, 55,
	30, 40, 51, 45, 33, 48,
	44, 49, 39, 56, 34, 53,
	46, 42, 50, 36, 29, 32,
}

// Per-round left-shift schedule.
var shifts = [16]int{1, 1, 2, 2, 2, 2, 2, 2, 1, 2, 2, 2, 2, 2, 2, 1}

// S-boxes 1-8, each 4x16.
var sbox = [8][4][16]int{
	{
		{14, 4, 13, 1, 2, 15, 11, 8, 3, 10, 6, 12, 5, 9, 0, 7},
		{0, 15, 7, 4, 14, 2, 13, 1, 10, 6, 12, 11, 9, 5, 3, 8},
		{4, 1, 14, 8, 13, 6, 2, 11, 15, 12, 9, 7, 3, 10, 5, 0},
		{15, 12, 8, 2, 4, 9, 1, 7, 5, 11, 3, 14, 10, 0, 6, 13},
	},
	{
		{15, 1, 8, 14, 6, 11, 3, 4, 9, 7, 2, 13, 12, 0, 5, 10},
		{3, 13, 4, 7, 15, 2, 8, 14, 12, 0, 1, 10, 6, 9, 11, 5},
		{0, 14, 7, 11, 10, 4, 13, 1, 5, 8, 12, 6, 9, 3, 2, 15},
		{13, 8, 10, 1, 3, 15, 4, 2, 11, 6, 7, 12, 0, 5, 14, 9},
	},
	{
		{10, 0, 9, 14, 6, 3, 15, 5, 1, 13, 12, 7, 11, 4, 2, 8},
		{13, 7, 0, 9, 3, 4, 6, 10, 2, 8, 5, 14, 12, 11, 15, 1},
		{13, 6, 4, 9, 8, 15, 3, 0, 11, 1, 2, 12, 5, 10, 14, 7},
		{1, 10, 13, 0, 6, 9, 8, 7, 4, 15, 14, 3, 11, 5, 2, 12},
	},
	{
		{7, 13, 14, 3, 0, 6, 9, 10, 1, 2, 8, 5, 11, 12, 4, 15},
		{13, 8, 11, 5, 6, 15, 0, 3, 4, 7, 2, 12, 1, 10, 14, 9},
		{10, 6, 9, 0, 12, 11, 7, 13, 15, 1, 3, 14, 5, 2, 8, 4},
		{3, 15, 0, 6, 10, 1, 13, 8, 9, 4, 5, 11, 12, 7, 2, 14},
	},
	{
		{2, 12, 4, 1, 7, 10, 11, 6, 8, 5, 3, 15, 13, 0, 14, 9},
		{14, 11, 2, 12, 4, 7, 13, 1, 5, 0, 15, 10, 3, 9, 8, 6},
		{4, 2, 1, 11, 10, 13, 7, 8, 15, 9, 12, 5, 6, 3, 0, 14},
		{11, 8, 12, 7, 1, 14, 2, 13, 6, 15, 0, 9, 10, 4, 5, 3},
	},
	{
		{12, 1, 10, 15, 9, 2, 6, 8, 0, 13, 3, 4, 14, 7, 5, 11},
		{10, 15, 4, 2, 7, 12, 9, 5, 6, 1, 13, 14, 0, 11, 3, 8},
		{9, 14, 15, 5, 2, 8, 12, 3, 7, 0, 4, 10, 1, 13, 11, 6},
		{4, 3, 2, 12, 9, 5, 15, 10, 11, 14, 1, 7, 6, 0, 8, 13},
	},
	{
		{4, 11, 2, 14, 15, 0, 8, 13, 3, 12, 9, 7, 5, 10, 6, 1},
		{13, 0, 11, 7, 4, 9, 1, 10, 14, 3, 5, 12, 2, 15, 8, 6},
		{1, 4, 11, 13, 12, 3, 7, 14, 10, 15, 6, 8, 0, 5, 9, 2},
		{6, 11, 13, 8, 1, 4, 10, 7, 9, 5, 0, 15, 14, 2, 3, 12},
	},
	{
		{13, 2, 8, 4, 6, 15, 11, 1, 10, 9, 3, 14, 5, 0, 12, 7},
		{1, 15, 13, 8, 10, 3, 7, 4, 12, 5, 6, 11, 0, 14, 9, 2},
		{7, 11, 4, 1, 9, 12, 14, 2, 0, 6, 10, 13, 15, 3, 5, 8},
		{2, 1, 14, 7, 4, 10, 8, 13, 15, 12, 9, 0, 3, 5, 6, 11},
	},
}

func bytesToBits(b []byte) []int {
	bits := make([]int, len(b)*8)
	for i, by := range b {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = int((by >> (7 - uint(j))) & 1)
		}
	}
	return bits
}

func bitsToBytes(bits []int) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var v byte
		for j := 0; j < 8; j++ {
			v = v<<1 | byte(bits[i*8+j])
		}
		out[i] = v
	}
	return out
}

func permute(in []int, table []int) []int {
	out := make([]int, len(table))
	for i, p := range table {
		out[i] = in[p-1]
	}
	return out
}

// keySchedule expands an 8-byte (64-bit) DES key into 16 48-bit round
// subkeys per the PC-1/shift/PC-2 schedule.
func keySchedule(key []byte) [16][]int {
	permuted := permute(bytesToBits(key), pc1[:])
	c := append([]int{}, permuted[:28]...)
	d := append([]int{}, permuted[28:]...)

	var subkeys [16][]int
	for round := 0; round < 16; round++ {
		c = rotateLeft(c, shifts[round])
		d = rotateLeft(d, shifts[round])
		cd := append(append([]int{}, c...), d...)
		subkeys[round] = permute(cd, pc2[:])
	}
	return subkeys
}

func rotateLeft(bits []int, n int) []int {
	return append(append([]int{}, bits[n:]...), bits[:n]...)
}

func feistelF(r []int, subkey []int) []int {
	expanded := permute(r, e[:])
	xored := make([]int, 48)
	for i := range xored {
		xored[i] = expanded[i] ^ subkey[i]
	}
	sOut := make([]int, 32)
	for box := 0; box < 8; box++ {
		chunk := xored[box*6 : box*6+6]
		row := chunk[0]<<1 | chunk[5]
		col := chunk[1]<<3 | chunk[2]<<2 | chunk[3]<<1 | chunk[4]
		val := sbox[box][row][col]
		for bit := 0; bit < 4; bit++ {
			sOut[box*4+bit] = (val >> (3 - uint(bit))) & 1
		}
	}
	return permute(sOut, p[:])
}

func crypt(block []byte, key []byte, subkeys [16][]int) []byte {
	bits := permute(bytesToBits(block), ip[:])
	l := bits[:32]
	r := bits[32:]
	for round := 0; round < 16; round++ {
		newR := make([]int, 32)
		f := feistelF(r, subkeys[round])
		for i := range newR {
			newR[i] = l[i] ^ f[i]
		}
		l = r
		r = newR
	}
	preOutput := append(append([]int{}, r...), l...)
	return bitsToBytes(permute(preOutput, fp[:]))
}

// EncryptBlockDES encrypts a single 8-byte block with an 8-byte DES key.
func EncryptBlockDES(block, key [8]byte) [8]byte {
	subkeys := keySchedule(key[:])
	out := crypt(block[:], key[:], subkeys)
	var res [8]byte
	copy(res[:], out)
	return res
}

// DecryptBlockDES decrypts a single 8-byte block with an 8-byte DES key by
// running the same Feistel network with the round subkeys reversed.
func DecryptBlockDES(block, key [8]byte) [8]byte {
	subkeys := keySchedule(key[:])
	var reversed [16][]int
	for i := range subkeys {
		reversed[i] = subkeys[15-i]
	}
	out := crypt(block[:], key[:], reversed)
	var res [8]byte
	copy(res[:], out)
	return res
}
