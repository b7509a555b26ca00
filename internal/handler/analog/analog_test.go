package analog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

func analogBody(srcID, dstID uint32, flags byte) []byte {
	return []byte{
		byte(srcID >> 16), byte(srcID >> 8), byte(srcID),
		byte(dstID >> 16), byte(dstID >> 8), byte(dstID),
		flags,
	}
}

func TestParseAlwaysGroupAndTerminatorFlag(t *testing.T) {
	pf, err := Codec{}.Parse(analogBody(1, 2, 0x00))
	if err != nil || pf.Kind != router.CallGroup || pf.Terminator {
		t.Fatalf("unexpected parse: %+v err %v", pf, err)
	}

	pf, err = Codec{}.Parse(analogBody(1, 2, flagTerminator))
	if err != nil || !pf.Terminator {
		t.Fatalf("expected terminator, got %+v err %v", pf, err)
	}
}

type fakeCallStore struct {
	mu    sync.Mutex
	store map[string]calls.CallStatus
}

func newFakeCallStore() *fakeCallStore { return &fakeCallStore{store: make(map[string]calls.CallStatus)} }

func (f *fakeCallStore) key(protocol frame.SubFunction, dstID uint32) string {
	return fmt.Sprintf("%d/%d", protocol, dstID)
}

func (f *fakeCallStore) Get(_ context.Context, protocol frame.SubFunction, dstID uint32) (calls.CallStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.store[f.key(protocol, dstID)]
	return s, ok, nil
}

func (f *fakeCallStore) Store(_ context.Context, s calls.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[f.key(s.Protocol, s.DstID)] = s
	return nil
}

func (f *fakeCallStore) Delete(_ context.Context, protocol frame.SubFunction, dstID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, f.key(protocol, dstID))
	return nil
}

type fakeDirectory struct{ peers []handler.PeerView }

func (f *fakeDirectory) Candidates(_ context.Context, excludePeerID uint32) ([]handler.PeerView, error) {
	var out []handler.PeerView
	for _, p := range f.peers {
		if p.PeerID != excludePeerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDirectory) PeerAttrs(_ context.Context, peerID uint32) (handler.PeerView, bool, error) {
	for _, p := range f.peers {
		if p.PeerID == peerID {
			return p, true, nil
		}
	}
	return handler.PeerView{}, false, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[uint32]int
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[uint32]int)} }

func (f *fakeSender) Send(_ context.Context, peerID uint32, _ frame.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peerID]++
	return nil
}

func TestOnFrameRoutesAnalogGroupCall(t *testing.T) {
	snap := acl.NewSnapshot()
	snap.Talkgroups[4000] = acl.TalkgroupRule{TGID: 4000, Active: true}
	sender := newFakeSender()
	dir := &fakeDirectory{peers: []handler.PeerView{{PeerID: 2}}}

	h := New(handler.Config{
		Radios:            snap,
		Talkgroups:        snap,
		ReverseTalkgroups: snap,
		Affiliations:      calls.NewAffiliationTable(),
		CallStatus:        newFakeCallStore(),
		Directory:         dir,
		Sender:            sender,
		Parrot:            calls.NewParrotRecorder(),
		ParrotPlayer:      &calls.Player{Sink: nil},
		CollisionTimeout:  2 * time.Second,
		Now:               func() time.Time { return time.Unix(0, 0) },
	})

	pkt := frame.Packet{FNE: frame.Header{PeerID: 1, StreamID: 1}, Body: analogBody(1, 4000, 0x00)}
	if err := h.OnFrame(context.Background(), 1, pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.sent[2] != 1 {
		t.Fatalf("expected fan-out to peer 2, got %+v", sender.sent)
	}
}
