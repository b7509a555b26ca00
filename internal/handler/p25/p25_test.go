package p25

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/pdu"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

func p25Body(srcID, dstID uint32, flags byte) []byte {
	return []byte{
		byte(srcID >> 16), byte(srcID >> 8), byte(srcID),
		byte(dstID >> 16), byte(dstID >> 8), byte(dstID),
		flags,
	}
}

func TestParseGroupAndPrivateAndTerminator(t *testing.T) {
	pf, err := Codec{}.Parse(p25Body(1, 2, 0x00))
	if err != nil || pf.Kind != router.CallGroup {
		t.Fatalf("expected group call, got %+v err %v", pf, err)
	}

	pf, err = Codec{}.Parse(p25Body(1, 2, flagUnitCall))
	if err != nil || pf.Kind != router.CallPrivate {
		t.Fatalf("expected private call, got %+v err %v", pf, err)
	}

	pf, err = Codec{}.Parse(p25Body(1, 2, flagTerminator))
	if err != nil || !pf.Terminator {
		t.Fatalf("expected terminator frame, got %+v err %v", pf, err)
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

type fakeDirectory struct {
	peers []handler.PeerView
}

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

func TestOnFrameFansOutGroupCallAcrossPeers(t *testing.T) {
	snap := acl.NewSnapshot()
	snap.Talkgroups[2] = acl.TalkgroupRule{TGID: 2, Active: true}
	sender := newFakeSender()
	dir := &fakeDirectory{peers: []handler.PeerView{{PeerID: 9}}}

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

	pkt := frame.Packet{FNE: frame.Header{PeerID: 1, StreamID: 5}, Body: p25Body(1, 2, 0x00)}
	if err := h.OnFrame(context.Background(), 1, pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.sent[9] != 1 {
		t.Fatalf("expected fan-out to peer 9, got %+v", sender.sent)
	}
}

type fakeCAISender struct {
	mu   sync.Mutex
	sent map[uint32]int
}

func (f *fakeCAISender) SendToLLID(llid uint32, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[uint32]int)
	}
	f.sent[llid]++
	return nil
}

type noProvisionRadios struct{}

func (noProvisionRadios) LookupRadio(uint32) (bool, string, bool) { return false, "", false }

func pduBlockFrame(srcLLID uint32, blockIndex int, raw []byte) []byte {
	body := make([]byte, bodyMinLen+4+len(raw))
	body[6] = flagPDU
	body[7] = byte(srcLLID >> 16)
	body[8] = byte(srcLLID >> 8)
	body[9] = byte(srcLLID)
	body[10] = byte(blockIndex)
	copy(body[11:], raw)
	return body
}

// TestOnFrameRoutesPDUTaggedPayloadToPDUEngine verifies a flagPDU body is
// diverted to the PDU engine's block handlers rather than the voice-call
// arbitration Engine, per spec.md §4.7.
func TestOnFrameRoutesPDUTaggedPayloadToPDUEngine(t *testing.T) {
	cai := &fakeCAISender{}
	start := netip.MustParseAddr("10.0.0.1")
	end := netip.MustParseAddr("10.0.0.254")
	engine := pdu.NewEngine(pdu.NewARPTable(), pdu.NewManager(noProvisionRadios{}, pdu.NewPool(start, end)), cai, nil, nil)

	h := New(handler.Config{}, WithPDUEngine(engine))

	arpReq := pdu.Request{IsReply: false, SenderIP: start, SenderLLID: 0x0A0B0C, TargetIP: end}
	hdr := pdu.Header{SAP: pdu.SAPARP, SrcLLID: 0x0A0B0C, BlockCount: 1}
	headerBody := pduBlockFrame(0x0A0B0C, 0, hdr.Encode())
	if err := h.OnFrame(context.Background(), 1, frame.Packet{Body: headerBody}); err != nil {
		t.Fatalf("unexpected error handling pdu header block: %v", err)
	}

	dataBody := pduBlockFrame(0x0A0B0C, 1, arpReq.Encode())
	if err := h.OnFrame(context.Background(), 1, frame.Packet{Body: dataBody}); err != nil {
		t.Fatalf("unexpected error handling pdu data block: %v", err)
	}
}
