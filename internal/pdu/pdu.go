// Package pdu implements the P25 PDU (packet-data) engine described in
// spec.md §4.7: confirmed/unconfirmed block reassembly, ARP, SNDCP
// context activation with dynamic IPv4 allocation, and the N(S)/V(R)
// send/receive sequence window.
//
// No pack repo carries a P25 PDU parser; as with internal/ciphers'
// voice keystream generator and internal/otar's KMM framing, spec.md
// §4.7 and the glossary (LLID, SNDCP, V(S)/V(R)) are themselves the
// ground truth. The header/Decode-Encode shape follows internal/frame's
// codec convention; the per-source engine state and xsync-backed tables
// follow internal/calls.AffiliationTable's concurrent-map pattern.
package pdu

import "fmt"

// Format is the PDU header's format field.
type Format byte

const (
	FormatUnconfirmed Format = iota
	FormatConfirmed
	FormatRSP
)

// SAP (Service Access Point) selects which local handler processes an
// assembled PDU's user data (spec.md §4.7 "SAPs handled locally").
type SAP byte

const (
	SAPARP SAP = iota
	SAPPacketData
	SAPConvDataReg
	SAPSNDCPCtrl
	SAPUnencKMM
	SAPEncKMM
)

// Header is a decoded PDU header block (spec.md §4.7 "On block 0
// (header), disassembles the PDU header"). Only the fields the engine
// inspects are modeled; the rest of the header's air-interface bit
// layout is out of scope per spec.md §1.
type Header struct {
	Format     Format
	SAP        SAP
	Confirmed  bool
	SrcLLID    uint32
	DstLLID    uint32
	BlockCount int
	// NS is the packet-data header's send sequence number, used by the
	// N(S)/V(R) window (spec.md §4.7 "PACKET_DATA").
	NS int
	// Synchronize is the header's resynchronization bit.
	Synchronize bool
}

const headerLen = 13

// DecodeHeader parses a 13-byte PDU header block: format(1), sap(1),
// srcLLID(3), dstLLID(3), blockCount(1), ns(1), flags(1), reserved(2).
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("pdu header short read: %d bytes", len(b))
	}
	flags := b[10]
	return Header{
		Format:      Format(b[0]),
		SAP:         SAP(b[1]),
		SrcLLID:     uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4]),
		DstLLID:     uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
		BlockCount:  int(b[8]),
		NS:          int(b[9]),
		Confirmed:   flags&0x01 != 0,
		Synchronize: flags&0x02 != 0,
	}, nil
}

// Encode serializes h back to its 13-byte wire form.
func (h Header) Encode() []byte {
	out := make([]byte, headerLen)
	out[0] = byte(h.Format)
	out[1] = byte(h.SAP)
	out[2] = byte(h.SrcLLID >> 16)
	out[3] = byte(h.SrcLLID >> 8)
	out[4] = byte(h.SrcLLID)
	out[5] = byte(h.DstLLID >> 16)
	out[6] = byte(h.DstLLID >> 8)
	out[7] = byte(h.DstLLID)
	out[8] = byte(h.BlockCount)
	out[9] = byte(h.NS)
	var flags byte
	if h.Confirmed {
		flags |= 0x01
	}
	if h.Synchronize {
		flags |= 0x02
	}
	out[10] = flags
	return out
}

// RespStatus is the ACK/NACK status carried by a format==RSP block
// (spec.md §4.7 "If format == RSP, dispatches the response (ACK/NACK
// parsing, readiness flag for the destination LLID)").
type RespStatus byte

const (
	RespACK RespStatus = iota
	RespNAKOutOfSeq
	RespNAKUnknown
)

// DecodeResponse parses a format==RSP block's single status byte.
func DecodeResponse(b []byte) (RespStatus, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("pdu response short read")
	}
	return RespStatus(b[0]), nil
}

// Disassembler reassembles a PDU's data blocks in order (spec.md §4.7
// "feeds the disassembler until complete"; §5 "P25 PDU blocks are
// reassembled in order via the disassembler; out-of-order data blocks
// trigger NACK and discard").
type Disassembler struct {
	expectedBlocks int
	received       [][]byte
	nextIndex      int
}

// NewDisassembler starts reassembly for a PDU whose header declared
// expectedBlocks data blocks.
func NewDisassembler(expectedBlocks int) *Disassembler {
	return &Disassembler{expectedBlocks: expectedBlocks}
}

// ErrOutOfOrder is returned by Feed when a block arrives out of the
// expected sequence.
var ErrOutOfOrder = fmt.Errorf("pdu: data block out of order")

// Feed appends the next data block. blockIndex must equal the number of
// blocks already received; otherwise the block is out of order and must
// be NACK'd and discarded by the caller, per spec.md §5.
func (d *Disassembler) Feed(blockIndex int, data []byte) error {
	if blockIndex != d.nextIndex {
		return ErrOutOfOrder
	}
	d.received = append(d.received, append([]byte{}, data...))
	d.nextIndex++
	return nil
}

// Complete reports whether every expected block has been received.
func (d *Disassembler) Complete() bool {
	return d.nextIndex >= d.expectedBlocks
}

// Assembled concatenates every received block into the reassembled PDU
// user data. Callers should only call this once Complete reports true.
func (d *Disassembler) Assembled() []byte {
	var out []byte
	for _, b := range d.received {
		out = append(out, b...)
	}
	return out
}
