package router

import (
	"context"
	"testing"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestProcessNewGroupCallFansOutToPermittedPeers(t *testing.T) {
	snap := acl.NewSnapshot()
	rule := acl.TalkgroupRule{TGID: 9, Active: true}
	affiliations := calls.NewAffiliationTable()

	in := ProcessInput{
		Frame:              FrameMeta{Kind: CallGroup, SrcID: 100, DstID: 9, PeerID: 1},
		Payload:            []byte{0xAA},
		Incoming:           calls.Incoming{SrcID: 100, PeerID: 1, SSRC: 5, StreamID: 77},
		Candidates:         []PeerView{{PeerID: 2, Attrs: PeerAttrs{PeerID: 2}}, {PeerID: 3, Attrs: PeerAttrs{PeerID: 3}}},
		TalkgroupRule:      rule,
		TalkgroupRuleFound: true,
		CollisionTimeout:   2 * time.Second,
		Now:                baseTime,
	}

	res := Process(in, calls.CallStatus{}, false, snap, affiliations, nil)
	if !res.Validation.Accept {
		t.Fatalf("expected validation to accept, got reason %q", res.Validation.RejectReason)
	}
	if res.Outcome != calls.OutcomeNewCall {
		t.Fatalf("expected new-call outcome, got %v", res.Outcome)
	}
	if len(res.Sends) != 2 {
		t.Fatalf("expected fan-out to both candidates, got %d", len(res.Sends))
	}
}

func TestProcessRejectsInvalidCallBeforeFanOut(t *testing.T) {
	snap := acl.NewSnapshot()
	affiliations := calls.NewAffiliationTable()

	in := ProcessInput{
		Frame:              FrameMeta{Kind: CallGroup, SrcID: 100, DstID: 9, PeerID: 1},
		Candidates:         []PeerView{{PeerID: 2, Attrs: PeerAttrs{PeerID: 2}}},
		TalkgroupRule:      acl.TalkgroupRule{},
		TalkgroupRuleFound: false,
		CollisionTimeout:   2 * time.Second,
		Now:                baseTime,
	}

	res := Process(in, calls.CallStatus{}, false, snap, affiliations, nil)
	if res.Validation.Accept {
		t.Fatalf("expected validation to reject an unknown talkgroup")
	}
	if len(res.Sends) != 0 {
		t.Fatalf("expected no fan-out on validation rejection, got %d", len(res.Sends))
	}
}

func TestProcessAppliesOutboundRewritePerPeer(t *testing.T) {
	snap := acl.NewSnapshot()
	rule := acl.TalkgroupRule{
		TGID:     9,
		Active:   true,
		Rewrites: []acl.RewriteEntry{{PeerID: 2, TGID: 777}},
	}
	affiliations := calls.NewAffiliationTable()

	rewrite := func(payload []byte, newDstTGID uint32) []byte {
		return append([]byte{}, payload...)
	}

	in := ProcessInput{
		Frame:              FrameMeta{Kind: CallGroup, SrcID: 100, DstID: 9, PeerID: 1},
		Payload:            []byte{0xBB},
		Incoming:           calls.Incoming{SrcID: 100, PeerID: 1, SSRC: 5, StreamID: 77},
		Candidates:         []PeerView{{PeerID: 2, Attrs: PeerAttrs{PeerID: 2}}},
		TalkgroupRule:      rule,
		TalkgroupRuleFound: true,
		CollisionTimeout:   2 * time.Second,
		Now:                baseTime,
	}

	res := Process(in, calls.CallStatus{}, false, snap, affiliations, rewrite)
	if len(res.Sends) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(res.Sends))
	}
}

func TestFingerprintIsStableAndDistinguishesFrames(t *testing.T) {
	a := FingerprintInput{Protocol: frame.SubProtoDMR, SrcID: 1, DstID: 9, PeerID: 1, StreamID: 77, SSRC: 5}
	b := a
	h1, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical input to hash identically")
	}

	b.StreamID = 78
	h3, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 == h3 {
		t.Fatalf("expected different stream ID to change the fingerprint")
	}
}

type fakeBroadcaster struct {
	batches [][]PendingSend
}

func (f *fakeBroadcaster) Flush(_ context.Context, batch []PendingSend) error {
	cp := append([]PendingSend{}, batch...)
	f.batches = append(f.batches, cp)
	return nil
}

func TestFanOutBatchesByFive(t *testing.T) {
	sink := &fakeBroadcaster{}
	var sends []PendingSend
	for i := uint32(0); i < 12; i++ {
		sends = append(sends, PendingSend{PeerID: i})
	}
	if err := FanOut(context.Background(), sink, sends); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.batches) != 3 {
		t.Fatalf("expected 3 batches (5,5,2), got %d", len(sink.batches))
	}
	if len(sink.batches[0]) != 5 || len(sink.batches[1]) != 5 || len(sink.batches[2]) != 2 {
		t.Fatalf("unexpected batch sizes: %v", sink.batches)
	}
}
