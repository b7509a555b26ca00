package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

func TestParrotRecorderRecordAndDrain(t *testing.T) {
	rec := NewParrotRecorder()
	rec.Record(1, 100, ParrotFrame{Protocol: frame.SubProtoDMR, Payload: []byte{1}})
	rec.Record(1, 100, ParrotFrame{Protocol: frame.SubProtoDMR, Payload: []byte{2}})

	frames, peerID, srcID := rec.Drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if peerID != 1 || srcID != 100 {
		t.Fatalf("expected origin (1,100), got (%d,%d)", peerID, srcID)
	}

	// Draining resets state for the next recording.
	frames, _, _ = rec.Drain()
	if len(frames) != 0 {
		t.Fatalf("expected drained recorder to be empty, got %d frames", len(frames))
	}
}

func TestParrotRecorderNewRecordingAfterDrain(t *testing.T) {
	rec := NewParrotRecorder()
	rec.Record(1, 100, ParrotFrame{Protocol: frame.SubProtoDMR})
	rec.Drain()

	rec.Record(2, 200, ParrotFrame{Protocol: frame.SubProtoP25})
	frames, peerID, srcID := rec.Drain()
	if len(frames) != 1 || peerID != 2 || srcID != 200 {
		t.Fatalf("expected fresh recording keyed on second origin, got peerID=%d srcID=%d frames=%d", peerID, srcID, len(frames))
	}
}

func TestPacingForProtocol(t *testing.T) {
	if PacingFor(frame.SubProtoP25) != 180*time.Millisecond {
		t.Fatalf("expected P25 pacing of 180ms")
	}
	if PacingFor(frame.SubProtoDMR) != 60*time.Millisecond {
		t.Fatalf("expected DMR pacing of 60ms")
	}
	if PacingFor(frame.SubProtoAnalog) != 60*time.Millisecond {
		t.Fatalf("expected analog pacing of 60ms")
	}
}

type recordingSink struct {
	mu    sync.Mutex
	calls []struct {
		peerID uint32
		f      ParrotFrame
	}
}

func (s *recordingSink) SendParrotFrame(peerID uint32, f ParrotFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, struct {
		peerID uint32
		f      ParrotFrame
	}{peerID, f})
	return nil
}

func TestPlayerPlaysToOriginatingPeerOnly(t *testing.T) {
	sink := &recordingSink{}
	player := &Player{Sink: sink}
	frames := []ParrotFrame{
		{Protocol: frame.SubProtoDMR, Payload: []byte{1}},
		{Protocol: frame.SubProtoDMR, Payload: []byte{2}},
	}

	err := player.Play(context.Background(), frames, 7, PlaybackOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.calls) != 2 {
		t.Fatalf("expected 2 sink calls, got %d", len(sink.calls))
	}
	for _, c := range sink.calls {
		if c.peerID != 7 {
			t.Fatalf("expected all frames replayed to peer 7, got %d", c.peerID)
		}
	}
}

func TestPlayerBroadcastsToAllPeers(t *testing.T) {
	sink := &recordingSink{}
	player := &Player{Sink: sink}
	frames := []ParrotFrame{{Protocol: frame.SubProtoDMR, Payload: []byte{1}}}

	err := player.Play(context.Background(), frames, 7, PlaybackOptions{BroadcastToAll: true, AllPeerIDs: []uint32{1, 2, 3}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.calls) != 3 {
		t.Fatalf("expected 3 sink calls, got %d", len(sink.calls))
	}
}

func TestPlayerOverridesSourceID(t *testing.T) {
	sink := &recordingSink{}
	player := &Player{Sink: sink}
	frames := []ParrotFrame{{Protocol: frame.SubProtoDMR, Payload: []byte{0xAA}}}
	override := uint32(42)

	rewriteCalled := false
	rewrite := func(payload []byte, srcID uint32) []byte {
		rewriteCalled = true
		if srcID != 42 {
			t.Fatalf("expected override srcID 42, got %d", srcID)
		}
		return append([]byte{}, payload...)
	}

	err := player.Play(context.Background(), frames, 7, PlaybackOptions{OverrideSrcID: &override}, rewrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rewriteCalled {
		t.Fatalf("expected rewrite callback to be invoked")
	}
}

func TestPlayerStopsOnContextCancel(t *testing.T) {
	sink := &recordingSink{}
	player := &Player{Sink: sink}
	frames := []ParrotFrame{
		{Protocol: frame.SubProtoP25},
		{Protocol: frame.SubProtoP25},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := player.Play(ctx, frames, 7, PlaybackOptions{}, nil)
	if err == nil {
		t.Fatalf("expected context-cancellation error")
	}
}
