// Package analog implements the analog-voice call handler: the simplest
// of the three protocol handlers, since analog repeater traffic carries
// no over-the-air subscriber/talkgroup addressing of its own (spec.md
// §4.6 "analog TERMINATOR" is the only analog-specific framing the core
// needs to recognize). Addressing is instead supplied out-of-band by the
// peer's configured default talkgroup and radio ID, analogous to how a
// conventional analog repeater is wired to a single fixed channel.
package analog

import (
	"context"
	"fmt"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

const flagTerminator = 0x80
const bodyMinLen = 7

// Codec implements handler.ProtocolCodec for analog payloads. Unlike DMR
// and P25, the source/destination fields here are not subscriber radio
// IDs signaled over the air; they are populated by the caller (the FNE's
// analog bridge) from the peer's static default TGID/RID configuration
// before the frame reaches the handler, but are still carried in the
// same 3+3+1 byte layout so the shared Engine can treat all three
// protocols uniformly.
type Codec struct{}

func (Codec) Protocol() frame.SubFunction { return frame.SubProtoAnalog }

func (Codec) Parse(body []byte) (handler.ParsedFrame, error) {
	if len(body) < bodyMinLen {
		return handler.ParsedFrame{}, fmt.Errorf("analog: body too short: %d bytes", len(body))
	}

	srcID := uint32(body[0])<<16 | uint32(body[1])<<8 | uint32(body[2])
	dstID := uint32(body[3])<<16 | uint32(body[4])<<8 | uint32(body[5])
	flags := body[6]

	return handler.ParsedFrame{
		Kind:       router.CallGroup,
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

// Handler is the analog capability object.
type Handler struct {
	engine *handler.Engine
}

// New constructs an analog Handler.
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
