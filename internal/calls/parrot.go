package calls

import (
	"context"
	"sync"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

// PacingFor returns the original inter-packet pacing for protocol, used
// to space out parrot playback (spec.md §4.6 "Parrot... at the original
// inter-packet pacing (~60 ms DMR/analog, ~180 ms P25)").
func PacingFor(protocol frame.SubFunction) time.Duration {
	if protocol == frame.SubProtoP25 {
		return 180 * time.Millisecond
	}
	return 60 * time.Millisecond
}

// ParrotFrame is one recorded frame awaiting parrot playback.
type ParrotFrame struct {
	Protocol frame.SubFunction
	Payload  []byte
}

// ParrotRecorder accumulates frames for a single in-progress parrot
// recording (spec.md §4.6 "Parrot"). A recording begins with the first
// frame of a parrot-tagged call and is drained for playback when the
// terminator arrives.
type ParrotRecorder struct {
	mu sync.Mutex

	recording    bool
	originPeerID uint32
	originSrcID  uint32
	frames       []ParrotFrame
}

// NewParrotRecorder constructs an idle recorder.
func NewParrotRecorder() *ParrotRecorder {
	return &ParrotRecorder{}
}

// Record appends f to the in-progress recording, starting one if none is
// active. peerID/srcID identify the originating call the first time
// Record is called after a Drain.
func (p *ParrotRecorder) Record(peerID, srcID uint32, f ParrotFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		p.recording = true
		p.originPeerID = peerID
		p.originSrcID = srcID
		p.frames = nil
	}
	p.frames = append(p.frames, f)
}

// Drain returns the recorded frames and the originating peer/source IDs,
// then resets the recorder to idle so the next Record begins a fresh
// recording.
func (p *ParrotRecorder) Drain() ([]ParrotFrame, uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.frames
	originPeerID, originSrcID := p.originPeerID, p.originSrcID
	p.recording = false
	p.frames = nil
	return frames, originPeerID, originSrcID
}

// Sink delivers one playback frame to peerID, used by Player to fan
// frames back out over the traffic socket.
type Sink interface {
	SendParrotFrame(peerID uint32, f ParrotFrame) error
}

// Player replays a drained recording at its original pacing (spec.md
// §4.6 "A parrotDelayTimer fires a playback pass that replays frames
// back to the originating peer (or to all peers)... optionally
// overriding the source ID").
type Player struct {
	Sink Sink
}

// PlaybackOptions controls a single playback pass.
type PlaybackOptions struct {
	// BroadcastToAll replays to every peer in AllPeerIDs instead of just
	// the originating peer (parrotOnlyOriginating == false).
	BroadcastToAll bool
	AllPeerIDs     []uint32
	// OverrideSrcID, if non-nil, is written into every replayed frame's
	// source field by the caller before invoking Sink (this package does
	// not know the per-protocol frame layout, so it only threads the
	// value through; the per-protocol handler performs the rewrite via
	// SrcIDRewriter).
	OverrideSrcID *uint32
}

// SrcIDRewriter rewrites the source ID embedded in a protocol-specific
// payload; callers supply a per-protocol implementation.
type SrcIDRewriter func(payload []byte, srcID uint32) []byte

// Play replays frames to originPeerID (or AllPeerIDs, if
// opts.BroadcastToAll) at each frame's protocol pacing, honoring
// ctx cancellation between frames.
func (p *Player) Play(ctx context.Context, frames []ParrotFrame, originPeerID uint32, opts PlaybackOptions, rewrite SrcIDRewriter) error {
	targets := []uint32{originPeerID}
	if opts.BroadcastToAll {
		targets = opts.AllPeerIDs
	}

	for _, f := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PacingFor(f.Protocol)):
		}

		payload := f.Payload
		if opts.OverrideSrcID != nil && rewrite != nil {
			payload = rewrite(payload, *opts.OverrideSrcID)
		}
		outFrame := ParrotFrame{Protocol: f.Protocol, Payload: payload}
		for _, peerID := range targets {
			if err := p.Sink.SendParrotFrame(peerID, outFrame); err != nil {
				return err
			}
		}
	}
	return nil
}
