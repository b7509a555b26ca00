package pdu

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// swapPairs returns a copy of b with every adjacent byte pair swapped.
// A trailing odd byte, if any, is left in place.
func swapPairs(b []byte) []byte {
	out := append([]byte{}, b...)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// reverseBytes4 byte-reverses a 4-byte array.
func reverseBytes4(b [4]byte) [4]byte {
	return [4]byte{b[3], b[2], b[1], b[0]}
}

// ComputeCRC32 implements spec.md §9's "big-endian reversed" PDU CRC-32:
// the standard IEEE CRC-32 is computed over body with every adjacent
// byte pair swapped, then the resulting 4-byte checksum is itself
// byte-reversed before being placed on the wire. The swap-then-reverse
// construction has no equivalent elsewhere in the corpus; it is
// implemented here exactly as spec.md's design note describes it,
// since no original_source/ reference was retrieved to check against.
func ComputeCRC32(body []byte) [4]byte {
	swapped := swapPairs(body)
	sum := crc32.ChecksumIEEE(swapped)
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], sum)
	return reverseBytes4(be)
}

// AppendCRC32 appends the big-endian-reversed CRC-32 trailer to body.
func AppendCRC32(body []byte) []byte {
	trailer := ComputeCRC32(body)
	return append(append([]byte{}, body...), trailer[:]...)
}

// ValidateCRC32 checks a buffer whose final 4 bytes are the big-endian-
// reversed CRC-32 trailer over the preceding bytes.
func ValidateCRC32(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("pdu: buffer too short for a CRC trailer: %d bytes", len(data))
	}
	body := data[:len(data)-4]
	var trailer [4]byte
	copy(trailer[:], data[len(data)-4:])
	want := ComputeCRC32(body)
	if trailer != want {
		return fmt.Errorf("pdu: CRC mismatch: got %x, want %x", trailer, want)
	}
	return nil
}
