package pdu

import (
	"net/netip"
	"testing"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Format:      FormatConfirmed,
		SAP:         SAPPacketData,
		Confirmed:   true,
		SrcLLID:     0x010203,
		DstLLID:     0x040506,
		BlockCount:  4,
		NS:          3,
		Synchronize: true,
	}
	back, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != h {
		t.Fatalf("round trip mismatch: %+v vs %+v", h, back)
	}
}

func TestDisassemblerCompletesInOrder(t *testing.T) {
	d := NewDisassembler(3)
	if d.Complete() {
		t.Fatalf("expected incomplete disassembler")
	}
	for i, block := range [][]byte{{1, 2}, {3, 4}, {5, 6}} {
		if err := d.Feed(i, block); err != nil {
			t.Fatalf("unexpected error feeding block %d: %v", i, err)
		}
	}
	if !d.Complete() {
		t.Fatalf("expected complete disassembler")
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	got := d.Assembled()
	if len(got) != len(want) {
		t.Fatalf("assembled mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("assembled mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestDisassemblerRejectsOutOfOrder(t *testing.T) {
	d := NewDisassembler(2)
	if err := d.Feed(1, []byte{9}); err != ErrOutOfOrder {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestCRC32RoundTrip(t *testing.T) {
	body := []byte("p25 pdu user data payload")
	framed := AppendCRC32(body)
	if err := ValidateCRC32(framed); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	framed[0] ^= 0xFF
	if err := ValidateCRC32(framed); err == nil {
		t.Fatalf("expected validation failure on corrupted body")
	}
}

func TestWindowAcceptsInitialAndNextExpected(t *testing.T) {
	w := NewWindow()
	if !w.Accept(0, false) {
		t.Fatalf("expected ns=0 to be accepted from a fresh window")
	}
	if w.VR() != 1 {
		t.Fatalf("expected V(R)=1 after accepting ns=0, got %d", w.VR())
	}
	// ns equal to the current V(R) is the next expected frame; it is
	// accepted and advances V(R).
	if !w.Accept(1, false) {
		t.Fatalf("expected ns=1 (next expected) to be accepted")
	}
	if w.VR() != 2 {
		t.Fatalf("expected V(R)=2 after accepting ns=1, got %d", w.VR())
	}
}

func TestWindowRejectsGap(t *testing.T) {
	w := NewWindow()
	w.Accept(0, false)
	if w.Accept(5, false) {
		t.Fatalf("expected a 4-frame gap to be rejected")
	}
}

func TestWindowSynchronizeForcesVR(t *testing.T) {
	w := NewWindow()
	w.Accept(0, false)
	w.Accept(5, true)
	if w.VR() != 6 {
		t.Fatalf("expected synchronize to force V(R)=6, got %d", w.VR())
	}
}

func TestARPTableLearnAndResolve(t *testing.T) {
	tbl := NewARPTable()
	addr := netip.MustParseAddr("10.1.2.3")
	tbl.Learn(addr, 0x1234)
	llid, ok := tbl.ResolveLLID(addr)
	if !ok || llid != 0x1234 {
		t.Fatalf("expected resolved llid 0x1234, got %d ok=%v", llid, ok)
	}
	ip, ok := tbl.ResolveIP(0x1234)
	if !ok || ip != addr {
		t.Fatalf("expected resolved ip %v, got %v ok=%v", addr, ip, ok)
	}
}

func TestARPRequestEncodeDecodeRoundTrip(t *testing.T) {
	r := Request{
		IsReply:    true,
		SenderIP:   netip.MustParseAddr("10.0.0.1"),
		SenderLLID: 0x0A0B0C,
		TargetIP:   netip.MustParseAddr("10.0.0.2"),
		TargetLLID: 0x0D0E0F,
	}
	back, err := DecodeRequest(r.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != r {
		t.Fatalf("round trip mismatch: %+v vs %+v", r, back)
	}
}

func TestPoolLeaseExhaustionAndRelease(t *testing.T) {
	start := netip.MustParseAddr("10.5.0.1")
	end := netip.MustParseAddr("10.5.0.2")
	pool := NewPool(start, end)

	addr1, reject := pool.Lease(1)
	if reject != RejectOK || addr1 != start {
		t.Fatalf("expected first lease to be %v, got %v reject=%v", start, addr1, reject)
	}
	addr2, reject := pool.Lease(2)
	if reject != RejectOK || addr2 != end {
		t.Fatalf("expected second lease to be %v, got %v reject=%v", end, addr2, reject)
	}
	if _, reject := pool.Lease(3); reject != RejectDynIPPoolEmpty {
		t.Fatalf("expected pool exhaustion, got reject=%v", reject)
	}

	pool.Release(1)
	addr3, reject := pool.Lease(3)
	if reject != RejectOK || addr3 != start {
		t.Fatalf("expected reclaimed lease to reuse %v, got %v reject=%v", start, addr3, reject)
	}
}

type fakeRadios struct {
	radios map[uint32]struct {
		enabled  bool
		staticIP string
	}
}

func (f *fakeRadios) LookupRadio(rid uint32) (bool, string, bool) {
	r, ok := f.radios[rid]
	return r.enabled, r.staticIP, ok
}

func TestManagerActivateStaticAndDynamic(t *testing.T) {
	radios := &fakeRadios{radios: map[uint32]struct {
		enabled  bool
		staticIP string
	}{
		1: {enabled: true, staticIP: "10.9.0.5"},
		2: {enabled: true, staticIP: ""},
		3: {enabled: false, staticIP: ""},
	}}
	pool := NewPool(netip.MustParseAddr("10.9.1.1"), netip.MustParseAddr("10.9.1.2"))
	mgr := NewManager(radios, pool)

	ctx, reject, err := mgr.Activate(1)
	if err != nil || reject != RejectOK || !ctx.Static || ctx.IP.String() != "10.9.0.5" {
		t.Fatalf("expected static activation, got %+v reject=%v err=%v", ctx, reject, err)
	}

	ctx2, reject, err := mgr.Activate(2)
	if err != nil || reject != RejectOK || ctx2.Static {
		t.Fatalf("expected dynamic activation, got %+v reject=%v err=%v", ctx2, reject, err)
	}

	if _, reject, _ := mgr.Activate(3); reject != RejectSUNotProvisioned {
		t.Fatalf("expected SU_NOT_PROVISIONED for disabled radio, got %v", reject)
	}

	mgr.Deactivate(2)
	if _, ok := mgr.Lookup(2); ok {
		t.Fatalf("expected context to be cleared after deactivation")
	}
}

type fakeCAI struct {
	sent map[uint32][][]byte
}

func (c *fakeCAI) SendToLLID(llid uint32, frame []byte) error {
	if c.sent == nil {
		c.sent = make(map[uint32][][]byte)
	}
	c.sent[llid] = append(c.sent[llid], frame)
	return nil
}

func TestEngineQueuesEgressUntilARPResolves(t *testing.T) {
	arp := NewARPTable()
	cai := &fakeCAI{}
	eng := NewEngine(arp, nil, cai, nil, nil)

	dst := netip.MustParseAddr("10.2.0.9")
	if err := eng.QueueEgress(dst, []byte("packet")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cai.sent) != 0 {
		t.Fatalf("expected packet to be queued, not sent, before ARP resolves")
	}

	eng.ready.Store(0x99, true)
	arp.Learn(dst, 0x99)
	eng.flushARPWaiters(dst)

	if len(cai.sent[0x99]) != 1 {
		t.Fatalf("expected one packet flushed to llid 0x99, got %v", cai.sent)
	}
}

func TestEngineHandlesFullPDUViaSAPDispatch(t *testing.T) {
	arp := NewARPTable()
	cai := &fakeCAI{}
	eng := NewEngine(arp, nil, cai, nil, nil)

	h := Header{Format: FormatUnconfirmed, SAP: SAPARP, SrcLLID: 1, DstLLID: 2, BlockCount: 1}
	if err := eng.HandleHeaderBlock(h.Encode()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := Request{SenderIP: netip.MustParseAddr("10.3.0.1"), SenderLLID: 1, TargetIP: netip.MustParseAddr("10.3.0.2")}
	complete, err := eng.HandleDataBlock(1, 0, req.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatalf("expected single-block PDU to complete immediately")
	}
	if llid, ok := arp.ResolveLLID(req.SenderIP); !ok || llid != 1 {
		t.Fatalf("expected ARP table to learn sender binding, got %d ok=%v", llid, ok)
	}
}
