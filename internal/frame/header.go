package frame

import (
	"encoding/binary"
	"fmt"
)

// RTPHeaderLen is the fixed length of the leading RTP header (spec.md §6:
// "a 12-byte RTP header (sequence, SSRC)").
const RTPHeaderLen = 12

// FNEHeaderLen is the fixed length of the FNE header block that follows
// the RTP header.
const FNEHeaderLen = 10

// RTPHeader is the subset of the RTP header the FNE inspects: the
// standard version/padding/marker/payload-type octets are preserved
// opaquely in VersionFlags and MarkerPT, since spec.md §1 scopes
// air-interface bit layout out of the core.
type RTPHeader struct {
	VersionFlags byte // byte 0: V/P/X/CC
	MarkerPT     byte // byte 1: M/PT
	Sequence     uint16
	Timestamp    uint32
	SSRC         uint32
}

// DecodeRTPHeader parses the leading 12 bytes of an RTP packet.
func DecodeRTPHeader(b []byte) (RTPHeader, error) {
	if len(b) < RTPHeaderLen {
		return RTPHeader{}, fmt.Errorf("rtp header short read: %d bytes", len(b))
	}
	return RTPHeader{
		VersionFlags: b[0],
		MarkerPT:     b[1],
		Sequence:     binary.BigEndian.Uint16(b[2:4]),
		Timestamp:    binary.BigEndian.Uint32(b[4:8]),
		SSRC:         binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// Encode serializes the RTP header back to 12 bytes.
func (h RTPHeader) Encode() []byte {
	out := make([]byte, RTPHeaderLen)
	out[0] = h.VersionFlags
	out[1] = h.MarkerPT
	binary.BigEndian.PutUint16(out[2:4], h.Sequence)
	binary.BigEndian.PutUint32(out[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(out[8:12], h.SSRC)
	return out
}

// Header is the FNE header block: {peerId, streamId, function,
// sub-function} (spec.md §4.1).
type Header struct {
	PeerID      uint32
	StreamID    uint32
	Function    Function
	SubFunction SubFunction
}

// DecodeHeader parses the 10-byte FNE header block.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < FNEHeaderLen {
		return Header{}, fmt.Errorf("fne header short read: %d bytes", len(b))
	}
	return Header{
		PeerID:      binary.BigEndian.Uint32(b[0:4]),
		StreamID:    binary.BigEndian.Uint32(b[4:8]),
		Function:    Function(b[8]),
		SubFunction: SubFunction(b[9]),
	}, nil
}

// Encode serializes the FNE header back to 10 bytes.
func (h Header) Encode() []byte {
	out := make([]byte, FNEHeaderLen)
	binary.BigEndian.PutUint32(out[0:4], h.PeerID)
	binary.BigEndian.PutUint32(out[4:8], h.StreamID)
	out[8] = byte(h.Function)
	out[9] = byte(h.SubFunction)
	return out
}

// Packet is a fully decoded traffic datagram: RTP header, FNE header and
// the opcode-specific body.
type Packet struct {
	RTP  RTPHeader
	FNE  Header
	Body []byte
}

// Decode parses a complete traffic datagram.
func Decode(b []byte) (Packet, error) {
	rtp, err := DecodeRTPHeader(b)
	if err != nil {
		return Packet{}, err
	}
	fneHdr, err := DecodeHeader(b[RTPHeaderLen:])
	if err != nil {
		return Packet{}, err
	}
	bodyStart := RTPHeaderLen + FNEHeaderLen
	var body []byte
	if len(b) > bodyStart {
		body = append([]byte{}, b[bodyStart:]...)
	}
	return Packet{RTP: rtp, FNE: fneHdr, Body: body}, nil
}

// Encode reassembles a complete traffic datagram.
func (p Packet) Encode() []byte {
	out := make([]byte, 0, RTPHeaderLen+FNEHeaderLen+len(p.Body))
	out = append(out, p.RTP.Encode()...)
	out = append(out, p.FNE.Encode()...)
	out = append(out, p.Body...)
	return out
}
