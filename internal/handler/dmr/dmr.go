// Package dmr implements the DMR call handler: frame parsing and the
// capability object spec.md §9 calls for, wrapping internal/handler's
// protocol-independent call-arbitration Engine.
//
// The DMRD body layout below is grounded on the teacher's own
// ThreadedUDPServer.handlePacket DMRD slicing (rfSrc/dstID as 3-byte
// big-endian fields, a bits byte carrying slot/call-type/frame-type/
// data-type-or-voice-sequence), re-anchored to start at byte 0 of the
// protocol payload since internal/frame's header already carries the
// peer ID, stream ID and protocol sub-function the teacher's flat
// Homebrew packet used to pack alongside these same fields.
package dmr

import (
	"context"
	"fmt"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

// Frame type values, matching the teacher's HBPF_* constants
// (homebrew_repeater_protocol.go).
const (
	frameVoice     = 0x0
	frameVoiceSync = 0x1
	frameDataSync  = 0x2
)

// Data/voice-sequence values within a data-sync frame.
const (
	slotVoiceHeader     = 0x1
	slotVoiceTerminator = 0x2
)

const bodyMinLen = 7

// Codec implements handler.ProtocolCodec for DMRD payloads.
type Codec struct{}

func (Codec) Protocol() frame.SubFunction { return frame.SubProtoDMR }

// Parse extracts routing fields from a DMRD body.
func (Codec) Parse(body []byte) (handler.ParsedFrame, error) {
	if len(body) < bodyMinLen {
		return handler.ParsedFrame{}, fmt.Errorf("dmr: body too short: %d bytes", len(body))
	}

	srcID := uint32(body[0])<<16 | uint32(body[1])<<8 | uint32(body[2])
	dstID := uint32(body[3])<<16 | uint32(body[4])<<8 | uint32(body[5])
	bits := body[6]

	private := bits&0x40 != 0
	frameType := (bits & 0x30) >> 4
	dataOrVoiceSeq := bits & 0x0F

	kind := router.CallGroup
	if private {
		kind = router.CallPrivate
	}

	terminator := frameType == frameDataSync && dataOrVoiceSeq == slotVoiceTerminator

	return handler.ParsedFrame{
		Kind:       kind,
		SrcID:      srcID,
		DstID:      dstID,
		Terminator: terminator,
	}, nil
}

// RewriteDestination patches the 3-byte destination field in place.
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

// RewriteSource patches the 3-byte source field in place, used by parrot
// playback when overriding the source ID (spec.md §4.6).
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

// Handler is the DMR capability object constructed with a Codec-bound
// Engine.
type Handler struct {
	engine *handler.Engine
}

// New constructs a DMR Handler. cfg.Codec is overwritten with Codec{} so
// callers only need to supply the protocol-independent collaborators.
func New(cfg handler.Config) *Handler {
	cfg.Codec = Codec{}
	return &Handler{engine: handler.NewEngine(cfg)}
}

func (h *Handler) OnFrame(ctx context.Context, peerID uint32, pkt frame.Packet) error {
	_, err := h.engine.HandleFrame(ctx, peerID, pkt)
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
