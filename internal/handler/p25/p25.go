// Package p25 implements the P25 call handler: voice-call frame parsing
// and the capability object spec.md §9 calls for, wrapping
// internal/handler's protocol-independent call-arbitration Engine.
//
// This package covers P25 voice-call routing only (LDU1/LDU2 traffic and
// the TDU/TDULC terminator, spec.md §4.6 "Terminator frames (DMR
// data-sync terminator, P25 TDU/TDULC, analog TERMINATOR) with matching
// destination end the call"). PDU/SNDCP data-call framing, ARP and the
// N(S)/V(R) window state spec.md §4.7 describes live in internal/pdu;
// this handler only hands flagPDU-tagged block frames to the pdu.Engine
// supplied via WithPDUEngine.
//
// The body layout mirrors internal/handler/dmr's addressing convention
// (3-byte source, 3-byte destination, one flags byte) generalized from
// the teacher's DMRD slicing to P25's coarser per-call addressing, since
// the corpus carries no P25-specific reference parser; neither this
// package nor internal/pdu models P25's actual over-the-wire bit layout.
package p25

import (
	"context"
	"fmt"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/pdu"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

// flagPDU marks a P25 payload as a PDU block frame rather than an
// LDU1/LDU2 voice frame, following the same invented addressing
// convention as flagUnitCall/flagTerminator (no corpus repo specifies
// P25's real DUID encoding; spec.md §1 treats it as out of scope beyond
// what the router inspects). A PDU-flagged payload carries
// srcLLID(3)+blockIndex(1)+rawBlock(...) after the flags byte; the
// leading source and destination fields are still present but are not
// read for PDU frames.
const (
	flagUnitCall   = 0x40
	flagTerminator = 0x80
	flagPDU        = 0x20
)

const pduBlockFrameMinLen = bodyMinLen + 4

const bodyMinLen = 7

// Codec implements handler.ProtocolCodec for P25 voice-call payloads.
type Codec struct{}

func (Codec) Protocol() frame.SubFunction { return frame.SubProtoP25 }

func (Codec) Parse(body []byte) (handler.ParsedFrame, error) {
	if len(body) < bodyMinLen {
		return handler.ParsedFrame{}, fmt.Errorf("p25: body too short: %d bytes", len(body))
	}

	srcID := uint32(body[0])<<16 | uint32(body[1])<<8 | uint32(body[2])
	dstID := uint32(body[3])<<16 | uint32(body[4])<<8 | uint32(body[5])
	flags := body[6]

	kind := router.CallGroup
	if flags&flagUnitCall != 0 {
		kind = router.CallPrivate
	}

	return handler.ParsedFrame{
		Kind:       kind,
		SrcID:      srcID,
		DstID:      dstID,
		Terminator: flags&flagTerminator != 0,
	}, nil
}

func (Codec) RewriteDestination(body []byte, newDstID uint32) []byte {
	out := append([]byte{}, body...)
	if len(out) < bodyMinLen {
		return out
	}
	out[3] = byte(newDstID >> 16)
	out[4] = byte(newDstID >> 8)
	out[5] = byte(newDstID)
	return out
}

func (Codec) RewriteSource(body []byte, newSrcID uint32) []byte {
	out := append([]byte{}, body...)
	if len(out) < bodyMinLen {
		return out
	}
	out[0] = byte(newSrcID >> 16)
	out[1] = byte(newSrcID >> 8)
	out[2] = byte(newSrcID)
	return out
}

// Handler is the P25 capability object.
type Handler struct {
	engine *handler.Engine
	pdu    *pdu.Engine
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithPDUEngine routes flagPDU-tagged payloads to e instead of the
// voice-call arbitration Engine (spec.md §4.7).
func WithPDUEngine(e *pdu.Engine) Option {
	return func(h *Handler) { h.pdu = e }
}

// New constructs a P25 Handler.
func New(cfg handler.Config, opts ...Option) *Handler {
	cfg.Codec = Codec{}
	h := &Handler{engine: handler.NewEngine(cfg)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) OnFrame(ctx context.Context, peerID uint32, pkt frame.Packet) error {
	if h.pdu != nil && len(pkt.Body) > 6 && pkt.Body[6]&flagPDU != 0 {
		return h.dispatchPDU(pkt.Body)
	}
	_, err := h.engine.HandleFrame(ctx, peerID, pkt)
	return err
}

// dispatchPDU feeds a flagPDU-tagged payload's block content into the
// PDU engine: block index 0 is a header block, every later index is a
// data block keyed by the same srcLLID the header declared. The PDU
// engine's own HandleDataBlock/Disassembler number data blocks from 0,
// so this wire-level index (1-based, since 0 is reserved for the
// header) is shifted down by one before it reaches them.
func (h *Handler) dispatchPDU(body []byte) error {
	if len(body) < pduBlockFrameMinLen {
		return fmt.Errorf("p25: pdu block frame too short: %d bytes", len(body))
	}
	srcLLID := uint32(body[7])<<16 | uint32(body[8])<<8 | uint32(body[9])
	blockIndex := int(body[10])
	raw := body[11:]
	if blockIndex == 0 {
		return h.pdu.HandleHeaderBlock(raw)
	}
	_, err := h.pdu.HandleDataBlock(srcLLID, blockIndex-1, raw)
	return err
}

func (h *Handler) OnDisconnect(peerID uint32) {
	h.engine.Disconnect(peerID)
}

func (h *Handler) OnReplicaNotify(ctx context.Context, peerID uint32, pkt frame.Packet) error {
	_, err := h.engine.HandleFrame(ctx, peerID, pkt)
	return err
}

func (h *Handler) OnKeyResponse(ctx context.Context, peerID uint32, kid uint16, key [32]byte) error {
	return nil
}
