// Package otar implements the P25 OTAR/KMM service described in spec.md
// §4.8: KMM framing, AES key-wrap of TEKs, CBC-MAC message
// authentication, the HELLO/NAK/REG_RSP/DEREG_CMD inbound handlers, the
// Rekey-Command (OSP) builder, and the peer key-request forward path.
//
// No pack repo implements P25 key management; spec.md §4.8 and the
// glossary (KMM, KEK/UKEK/TEK, OTAR, LLID) are themselves the ground
// truth for wire shape and behavior, matching how internal/ciphers'
// voice keystream generator treats spec.md §4.10 as ground truth. The
// framing and field-packing style (fixed-width big-endian structs with
// Decode/Encode methods) follows internal/frame's header codec.
package otar

import (
	"encoding/binary"
	"fmt"

	"github.com/lorenzolrom/dvmhost-sub000/internal/ciphers"
)

// MessageID enumerates the KMM message types spec.md §4.8 names.
type MessageID uint8

const (
	MsgHello MessageID = iota
	MsgNak
	MsgRekeyAck
	MsgRegRsp
	MsgUnableToDecrypt
	MsgDeregCmd
	MsgDeregResponse
	MsgModifyKeyCmd // Rekey-Command (OSP), carries KMMModifyKey
	MsgKeyReq
	MsgKeyRsp
)

// DeregStatus is the status code carried by a Dereg_Response.
type DeregStatus uint8

// CmdPerformed is the only Dereg_Response status spec.md §4.8 requires
// ("Respond Dereg_Response with CMD_PERFORMED").
const CmdPerformed DeregStatus = 0

// kmmHeaderLen is the fixed-width portion of every KMM frame: messageId
// (1), mfid (1), srcLLID (3), dstLLID (3).
const kmmHeaderLen = 8

// Frame is a decoded KMM message (spec.md §4.8 "KMM frames carry
// {messageId, srcLLID, dstLLID, ...}").
type Frame struct {
	MessageID MessageID
	MfID      byte
	SrcLLID   uint32 // 24-bit logical link ID
	DstLLID   uint32
	Body      []byte
}

// DecodeFrame parses a KMM frame from its wire bytes.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < kmmHeaderLen {
		return Frame{}, fmt.Errorf("kmm frame short read: %d bytes", len(b))
	}
	f := Frame{
		MessageID: MessageID(b[0]),
		MfID:      b[1],
		SrcLLID:   uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4]),
		DstLLID:   uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}
	if len(b) > kmmHeaderLen {
		f.Body = append([]byte{}, b[kmmHeaderLen:]...)
	}
	return f, nil
}

// Encode serializes f back to wire bytes.
func (f Frame) Encode() []byte {
	out := make([]byte, kmmHeaderLen, kmmHeaderLen+len(f.Body))
	out[0] = byte(f.MessageID)
	out[1] = f.MfID
	out[2] = byte(f.SrcLLID >> 16)
	out[3] = byte(f.SrcLLID >> 8)
	out[4] = byte(f.SrcLLID)
	out[5] = byte(f.DstLLID >> 16)
	out[6] = byte(f.DstLLID >> 8)
	out[7] = byte(f.DstLLID)
	out = append(out, f.Body...)
	return out
}

// KeyItem is one wrapped (or, with allowNoUKEKRekey, plaintext) TEK
// carried by a KMMModifyKey (spec.md §4.8 "Rekey-Command (OSP)").
type KeyItem struct {
	AlgID   byte
	KeyID   uint16
	KeyData []byte // wrapped (40 bytes for a 32-byte TEK) or plaintext (32 bytes)
}

func (k KeyItem) encode() []byte {
	out := make([]byte, 3, 3+len(k.KeyData))
	out[0] = k.AlgID
	binary.BigEndian.PutUint16(out[1:3], k.KeyID)
	return append(out, k.KeyData...)
}

func decodeKeyItem(b []byte) (KeyItem, []byte, error) {
	if len(b) < 3 {
		return KeyItem{}, nil, fmt.Errorf("key item short read: %d bytes", len(b))
	}
	algID := b[0]
	keyID := binary.BigEndian.Uint16(b[1:3])
	rest := b[3:]
	// Key data length is either 40 (wrapped, RFC 3394 adds 8 bytes) or 32
	// (plaintext) bytes; the caller (ModifyKey decode, which knows the
	// item count) slices rest itself, so decodeKeyItem only peels the
	// fixed header.
	return KeyItem{AlgID: algID, KeyID: keyID}, rest, nil
}

// ModifyKey is the KMMModifyKey payload: an ordered list of key items
// (spec.md §4.8 "a KMMModifyKey populated from the key container").
type ModifyKey struct {
	RSI   uint32 // 24-bit target RSI the UKEK was resolved for
	Items []KeyItem
}

// keyItemWidth returns the wire width of one key item's KeyData given
// whether it traveled wrapped (RFC 3394 adds 8 bytes) or plaintext.
func keyItemWidth(wrapped bool) int {
	if wrapped {
		return 40
	}
	return 32
}

// Encode serializes m: {rsi(3), count(1), items...}. Every item in a
// given ModifyKey travels with the same wrap state (a single
// Rekey-Command either has a UKEK for the target RSI or it doesn't), so
// no per-item length prefix is needed.
func (m ModifyKey) Encode(wrapped bool) []byte {
	out := make([]byte, 4)
	out[0] = byte(m.RSI >> 16)
	out[1] = byte(m.RSI >> 8)
	out[2] = byte(m.RSI)
	out[3] = byte(len(m.Items))
	for _, item := range m.Items {
		out = append(out, item.encode()...)
	}
	return out
}

// DecodeModifyKey parses a ModifyKey body encoded with Encode.
func DecodeModifyKey(b []byte, wrapped bool) (ModifyKey, error) {
	if len(b) < 4 {
		return ModifyKey{}, fmt.Errorf("modify key short read: %d bytes", len(b))
	}
	m := ModifyKey{RSI: uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])}
	count := int(b[3])
	rest := b[4:]
	width := keyItemWidth(wrapped)
	for i := 0; i < count; i++ {
		item, tail, err := decodeKeyItem(rest)
		if err != nil {
			return ModifyKey{}, err
		}
		if len(tail) < width {
			return ModifyKey{}, fmt.Errorf("modify key item %d short read", i)
		}
		item.KeyData = append([]byte{}, tail[:width]...)
		m.Items = append(m.Items, item)
		rest = tail[width:]
	}
	return m, nil
}

// DatagramHeaderLen is the fixed prefix on every OTAR UDP datagram
// (spec.md §6 "Each datagram begins with {mfId(8), algoId(8), kid(16),
// mi[9]}").
const DatagramHeaderLen = 1 + 1 + 2 + 9

// MfIDUnencrypted is the manufacturer-ID value marking an OTAR datagram
// whose KMM body travels unencrypted (spec.md §6 "when mfId !=
// UNENCRYPT, the KMM body is... encrypted").
const MfIDUnencrypted = 0x00

// Datagram is one decoded OTAR UDP datagram, prior to KMM decryption.
type Datagram struct {
	MfID    byte
	AlgID   byte
	KeyID   uint16
	MI      ciphers.MI
	KMMBody []byte // plaintext if MfID == MfIDUnencrypted, else ciphertext
}

// DecodeDatagram parses the OTAR datagram framing.
func DecodeDatagram(b []byte) (Datagram, error) {
	if len(b) < DatagramHeaderLen {
		return Datagram{}, fmt.Errorf("otar datagram short read: %d bytes", len(b))
	}
	d := Datagram{
		MfID:  b[0],
		AlgID: b[1],
		KeyID: binary.BigEndian.Uint16(b[2:4]),
	}
	copy(d.MI[:], b[4:13])
	d.KMMBody = append([]byte{}, b[DatagramHeaderLen:]...)
	return d, nil
}

// Encode reassembles the datagram framing plus body.
func (d Datagram) Encode() []byte {
	out := make([]byte, DatagramHeaderLen, DatagramHeaderLen+len(d.KMMBody))
	out[0] = d.MfID
	out[1] = d.AlgID
	binary.BigEndian.PutUint16(out[2:4], d.KeyID)
	copy(out[4:13], d.MI[:])
	return append(out, d.KMMBody...)
}

// kmmKeystream derives the AES-256 keystream for (mi, kid) under tek,
// reusing internal/ciphers' P25 voice keystream generator: spec.md §6
// calls for a keystream "derived from (MI, algoId, kid)" with no
// additional algorithm specified, and §4.10's AES-256 generator is the
// only AES-256 keystream primitive the spec defines.
func kmmKeystream(tek [32]byte, mi ciphers.MI) ([]byte, error) {
	return ciphers.GenerateAES256Keystream(tek, mi)
}

// xorKMMBody XORs body against the keystream derived from (tek, mi),
// truncating or repeating the keystream as needed. It is its own
// inverse (encrypt and decrypt are both XOR against the same stream).
func xorKMMBody(body []byte, tek [32]byte, mi ciphers.MI) ([]byte, error) {
	out := make([]byte, len(body))
	ks, err := kmmKeystream(tek, mi)
	if err != nil {
		return nil, fmt.Errorf("deriving kmm keystream: %w", err)
	}
	for i := range body {
		out[i] = body[i] ^ ks[i%len(ks)]
	}
	return out, nil
}

// DecryptKMMBody decrypts d.KMMBody in place using tek if d.MfID !=
// MfIDUnencrypted; an unencrypted datagram's body is returned verbatim.
func DecryptKMMBody(d Datagram, tek [32]byte) ([]byte, error) {
	if d.MfID == MfIDUnencrypted {
		return d.KMMBody, nil
	}
	return xorKMMBody(d.KMMBody, tek, d.MI)
}

// EncryptKMMBody is DecryptKMMBody's inverse, used when building an
// outbound encrypted response.
func EncryptKMMBody(body []byte, tek [32]byte, mi ciphers.MI) ([]byte, error) {
	return xorKMMBody(body, tek, mi)
}
