// Package frame implements the RTP+FNE wire codec described in spec.md
// §4.1 and §6: header parse/build, opcode pairs, stream-ID sequence
// verification and rewriting, and SSRC masking.
//
// The byte offsets below are grounded in two corpus sources: DMRHub's
// ThreadedUDPServer.handlePacket (raw big-endian field slicing of RPTL/
// RPTK/RPTC/DMRD) and dbehnke/dmr-nexus's pkg/protocol/constants.go
// (canonical DMRD field-offset table, reused here as Function/SubFunction
// naming conventions generalized to the FNE's own, richer opcode set).
package frame

import "fmt"

// Function is the coarse FNE opcode.
type Function uint8

// Function values, per spec.md §6's opcode table.
const (
	FuncProtocol Function = iota
	FuncRPTL
	FuncRPTK
	FuncRPTC
	FuncRPTDisc
	FuncPing
	FuncPong
	FuncAck
	FuncNak
	FuncGrantReq
	FuncInCallCtrl
	FuncKeyReq
	FuncKeyRsp
	FuncAnnounce
	FuncRepl
	FuncNetTree
	FuncMaster
)

// SubFunction selects protocol or announcement class within a Function.
type SubFunction uint8

// Protocol sub-functions (FuncProtocol).
const (
	SubProtoDMR SubFunction = iota
	SubProtoP25
	SubProtoNXDN
	SubProtoAnalog
)

// Announce sub-functions (FuncAnnounce).
const (
	SubAnnounceGrpAffil SubFunction = iota
	SubAnnounceUnitReg
	SubAnnounceUnitDereg
	SubAnnounceGrpUnaffil
	SubAnnounceAffils
	SubAnnounceSiteVC
)

// Replication sub-functions (FuncRepl).
const (
	SubReplRIDList SubFunction = iota
	SubReplTalkgroupList
	SubReplPeerList
	SubReplHAParams
	SubReplActPeerList
)

// Network-tree sub-functions (FuncNetTree).
const (
	SubNetTreeDisc SubFunction = iota
	SubNetTreeList
)

// Master sub-functions (FuncMaster).
const (
	SubMasterWLRID SubFunction = iota
	SubMasterBLRID
	SubMasterActiveTGs
	SubMasterDeactiveTGs
	SubMasterHAParams
)

// NakReason enumerates the NAK codes in spec.md §6.
type NakReason uint16

const (
	NakModeNotEnabled NakReason = iota
	NakIllegalPacket
	NakFNEUnauthorized
	NakBadConnState
	NakInvalidConfigData
	NakFNEMaxConn
	NakPeerReset
	NakPeerACL
	NakFNEDuplicateConn
	NakGeneralFailure
)

// InCallCommand enumerates In-Call Control commands used by the router's
// collision/takeover logic (spec.md §4.6, §6).
type InCallCommand uint8

const (
	InCallRejectTraffic InCallCommand = iota
	InCallSwitchOver
)

// EndOfCallSeq is the distinguished outbound packet-sequence value that
// marks a terminator frame; it must never be produced by the monotonic
// per-destination, per-stream counter (spec.md §4.1).
const EndOfCallSeq uint16 = 0xFFFF

// EncodeNakBody serializes a NAK body: {uint32 peerId, uint16 NAK reason}
// (spec.md §6).
func EncodeNakBody(peerID uint32, reason NakReason) []byte {
	out := make([]byte, 6)
	out[0] = byte(peerID >> 24)
	out[1] = byte(peerID >> 16)
	out[2] = byte(peerID >> 8)
	out[3] = byte(peerID)
	out[4] = byte(reason >> 8)
	out[5] = byte(reason)
	return out
}

// inCallControlBodyLen is the fixed width of an In-Call Control body:
// reserved(6) + peerId(4) + command(1) + dstId(3) + slot(1) (spec.md §6
// "{reserved(48), peerId(32), command(8), dstId(24), slot(8)}").
const inCallControlBodyLen = 6 + 4 + 1 + 3 + 1

// EncodeInCallControlBody serializes an In-Call Control body.
func EncodeInCallControlBody(peerID uint32, cmd InCallCommand, dstID uint32, slot byte) []byte {
	out := make([]byte, inCallControlBodyLen)
	out[6] = byte(peerID >> 24)
	out[7] = byte(peerID >> 16)
	out[8] = byte(peerID >> 8)
	out[9] = byte(peerID)
	out[10] = byte(cmd)
	out[11] = byte(dstID >> 16)
	out[12] = byte(dstID >> 8)
	out[13] = byte(dstID)
	out[14] = slot
	return out
}

// InCallControl is a decoded In-Call Control body.
type InCallControl struct {
	PeerID uint32
	Cmd    InCallCommand
	DstID  uint32
	Slot   byte
}

// DecodeInCallControlBody parses an In-Call Control body.
func DecodeInCallControlBody(b []byte) (InCallControl, error) {
	if len(b) < inCallControlBodyLen {
		return InCallControl{}, fmt.Errorf("in-call control body short read: %d bytes", len(b))
	}
	return InCallControl{
		PeerID: uint32(b[6])<<24 | uint32(b[7])<<16 | uint32(b[8])<<8 | uint32(b[9]),
		Cmd:    InCallCommand(b[10]),
		DstID:  uint32(b[11])<<16 | uint32(b[12])<<8 | uint32(b[13]),
		Slot:   b[14],
	}, nil
}

// GrantReq is a decoded channel-grant request (spec.md §6 "GRANT_REQ |
// peer -> FNE | {srcId(24), dstId(24), slot/flags(8), state(8)}").
type GrantReq struct {
	SrcID uint32
	DstID uint32
	Flags byte
	State byte
}

const grantReqBodyLen = 3 + 3 + 1 + 1

// DecodeGrantReq parses a GRANT_REQ body.
func DecodeGrantReq(b []byte) (GrantReq, error) {
	if len(b) < grantReqBodyLen {
		return GrantReq{}, fmt.Errorf("grant request body short read: %d bytes", len(b))
	}
	return GrantReq{
		SrcID: uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		DstID: uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5]),
		Flags: b[6],
		State: b[7],
	}, nil
}

// AffilEvent is a decoded ANNOUNCE body for the group-affiliation and
// unit-registration sub-functions (spec.md §6 "ANNOUNCE | peer -> FNE |
// sub-function e {GRP_AFFIL, UNIT_REG, UNIT_DEREG, GRP_UNAFFIL, ...}").
// GRP_AFFIL/GRP_UNAFFIL carry {srcRID(32), tgid(32)}; UNIT_REG/UNIT_DEREG
// carry {rid(32), ssrc(32)} (UNIT_DEREG's second field is unused).
type AffilEvent struct {
	RID   uint32
	Value uint32
}

const affilEventBodyLen = 4 + 4

// DecodeAffilEvent parses an ANNOUNCE sub-function body shared by
// GRP_AFFIL, GRP_UNAFFIL, UNIT_REG and UNIT_DEREG.
func DecodeAffilEvent(b []byte) (AffilEvent, error) {
	if len(b) < affilEventBodyLen {
		return AffilEvent{}, fmt.Errorf("announce body short read: %d bytes", len(b))
	}
	return AffilEvent{
		RID:   uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Value: uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}, nil
}

// EncodeAffilEvent serializes an AffilEvent in the layout
// DecodeAffilEvent reads.
func EncodeAffilEvent(e AffilEvent) []byte {
	out := make([]byte, affilEventBodyLen)
	out[0] = byte(e.RID >> 24)
	out[1] = byte(e.RID >> 16)
	out[2] = byte(e.RID >> 8)
	out[3] = byte(e.RID)
	out[4] = byte(e.Value >> 24)
	out[5] = byte(e.Value >> 16)
	out[6] = byte(e.Value >> 8)
	out[7] = byte(e.Value)
	return out
}

// ridChunkSize is the "Chunked at 50 entries per datagram" limit spec.md
// §6 gives for RID (WL_RID/BL_RID) distribution.
const ridChunkSize = 50

// ChunkRIDList splits a radio-ID list into one or more MASTER WL_RID/
// BL_RID bodies, each `uint32 count` followed by `count x uint32
// radioId`, at most ridChunkSize entries each.
func ChunkRIDList(rids []uint32) [][]byte {
	if len(rids) == 0 {
		return [][]byte{encodeRIDChunk(nil)}
	}
	var chunks [][]byte
	for start := 0; start < len(rids); start += ridChunkSize {
		end := start + ridChunkSize
		if end > len(rids) {
			end = len(rids)
		}
		chunks = append(chunks, encodeRIDChunk(rids[start:end]))
	}
	return chunks
}

func encodeRIDChunk(rids []uint32) []byte {
	out := make([]byte, 4+4*len(rids))
	binary4 := func(off int, v uint32) {
		out[off] = byte(v >> 24)
		out[off+1] = byte(v >> 16)
		out[off+2] = byte(v >> 8)
		out[off+3] = byte(v)
	}
	binary4(0, uint32(len(rids)))
	for i, rid := range rids {
		binary4(4+4*i, rid)
	}
	return out
}

// tgChunkSize bounds Active-TG entries per MASTER ACTIVE_TGS/
// DEACTIVE_TGS datagram; spec.md §6 gives an explicit count only for RID
// chunks, so the same 50-entry budget is reused here (each entry is
// smaller than a RID entry, so this stays well inside a UDP datagram).
const tgChunkSize = 50

// TGSlotEntry is the wire form of spec.md §6's "Active TG entry":
// `uint32 tgId, uint8 slotFlags`.
type TGSlotEntry struct {
	TGID      uint32
	SlotFlags byte
}

// ChunkTGList splits a list of TG slot entries into one or more MASTER
// ACTIVE_TGS/DEACTIVE_TGS bodies.
func ChunkTGList(entries []TGSlotEntry) [][]byte {
	if len(entries) == 0 {
		return [][]byte{encodeTGChunk(nil)}
	}
	var chunks [][]byte
	for start := 0; start < len(entries); start += tgChunkSize {
		end := start + tgChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, encodeTGChunk(entries[start:end]))
	}
	return chunks
}

func encodeTGChunk(entries []TGSlotEntry) []byte {
	out := make([]byte, 4+5*len(entries))
	out[0] = byte(uint32(len(entries)) >> 24)
	out[1] = byte(uint32(len(entries)) >> 16)
	out[2] = byte(uint32(len(entries)) >> 8)
	out[3] = byte(len(entries))
	for i, e := range entries {
		off := 4 + 5*i
		// spec.md §6's Active TG entry is uint32 tgId; only the low 24
		// bits are meaningful for a TGID, so the top byte is reserved
		// and left zero here.
		out[off] = 0
		out[off+1] = byte(e.TGID >> 16)
		out[off+2] = byte(e.TGID >> 8)
		out[off+3] = byte(e.TGID)
		out[off+4] = e.SlotFlags
	}
	return out
}

// HAEntry is the wire form of spec.md §6's "HA parameters entry":
// `{uint32 peerId, uint32 ipv4, uint16 port}`.
type HAEntry struct {
	PeerID uint32
	IPv4   uint32
	Port   uint16
}

const haChunkSize = 50

// ChunkHAList splits a list of HA entries into one or more MASTER
// HA_PARAMS bodies.
func ChunkHAList(entries []HAEntry) [][]byte {
	if len(entries) == 0 {
		return [][]byte{encodeHAChunk(nil)}
	}
	var chunks [][]byte
	for start := 0; start < len(entries); start += haChunkSize {
		end := start + haChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, encodeHAChunk(entries[start:end]))
	}
	return chunks
}

func encodeHAChunk(entries []HAEntry) []byte {
	out := make([]byte, 4+10*len(entries))
	out[0] = byte(uint32(len(entries)) >> 24)
	out[1] = byte(uint32(len(entries)) >> 16)
	out[2] = byte(uint32(len(entries)) >> 8)
	out[3] = byte(len(entries))
	for i, e := range entries {
		off := 4 + 10*i
		out[off] = byte(e.PeerID >> 24)
		out[off+1] = byte(e.PeerID >> 16)
		out[off+2] = byte(e.PeerID >> 8)
		out[off+3] = byte(e.PeerID)
		out[off+4] = byte(e.IPv4 >> 24)
		out[off+5] = byte(e.IPv4 >> 16)
		out[off+6] = byte(e.IPv4 >> 8)
		out[off+7] = byte(e.IPv4)
		out[off+8] = byte(e.Port >> 8)
		out[off+9] = byte(e.Port)
	}
	return out
}
