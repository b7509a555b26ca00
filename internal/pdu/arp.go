package pdu

import (
	"fmt"
	"net/netip"

	"github.com/puzpuzpuz/xsync/v4"
)

// ARPTable maps between IPv4 addresses and logical link IDs for the
// P25 PDU ARP SAP (spec.md §4.7 "ARP request/reply handling with an
// opportunistic cache"). "Opportunistic" means any observed binding —
// not just ones this FNE requested — is cached, following
// internal/calls.AffiliationTable's xsync-backed table convention.
type ARPTable struct {
	byIP   *xsync.Map[netip.Addr, uint32]
	byLLID *xsync.Map[uint32, netip.Addr]
}

// NewARPTable constructs an empty table.
func NewARPTable() *ARPTable {
	return &ARPTable{
		byIP:   xsync.NewMap[netip.Addr, uint32](),
		byLLID: xsync.NewMap[uint32, netip.Addr](),
	}
}

// Learn opportunistically records an IP<->LLID binding observed from
// any ARP request or reply, overwriting any prior binding for either
// key.
func (t *ARPTable) Learn(addr netip.Addr, llid uint32) {
	if old, ok := t.byIP.Load(addr); ok && old != llid {
		t.byLLID.Delete(old)
	}
	if old, ok := t.byLLID.Load(llid); ok && old != addr {
		t.byIP.Delete(old)
	}
	t.byIP.Store(addr, llid)
	t.byLLID.Store(llid, addr)
}

// ResolveLLID looks up the LLID bound to addr.
func (t *ARPTable) ResolveLLID(addr netip.Addr) (uint32, bool) {
	return t.byIP.Load(addr)
}

// ResolveIP looks up the IPv4 address bound to llid.
func (t *ARPTable) ResolveIP(llid uint32) (netip.Addr, bool) {
	return t.byLLID.Load(llid)
}

// Request is a decoded ARP-SAP request/reply body: {senderIP(4),
// senderLLID(3), targetIP(4)}. A reply additionally carries the
// resolved target LLID (spec.md §4.7's "ARP request/reply").
type Request struct {
	IsReply      bool
	SenderIP     netip.Addr
	SenderLLID   uint32
	TargetIP     netip.Addr
	TargetLLID   uint32 // only meaningful when IsReply
}

func decodeV4(b []byte) netip.Addr {
	var a [4]byte
	copy(a[:], b)
	return netip.AddrFrom4(a)
}

// DecodeRequest parses an ARP-SAP body.
func DecodeRequest(b []byte) (Request, error) {
	const minLen = 4 + 3 + 4
	if len(b) < minLen {
		return Request{}, fmt.Errorf("arp request short read: %d bytes", len(b))
	}
	r := Request{
		SenderIP:   decodeV4(b[0:4]),
		SenderLLID: uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		TargetIP:   decodeV4(b[7:11]),
	}
	if len(b) >= minLen+3 {
		r.IsReply = true
		r.TargetLLID = uint32(b[11])<<16 | uint32(b[12])<<8 | uint32(b[13])
	}
	return r, nil
}

// Encode serializes r back to wire bytes.
func (r Request) Encode() []byte {
	out := make([]byte, 0, 14)
	ip4 := r.SenderIP.As4()
	out = append(out, ip4[:]...)
	out = append(out, byte(r.SenderLLID>>16), byte(r.SenderLLID>>8), byte(r.SenderLLID))
	tip4 := r.TargetIP.As4()
	out = append(out, tip4[:]...)
	if r.IsReply {
		out = append(out, byte(r.TargetLLID>>16), byte(r.TargetLLID>>8), byte(r.TargetLLID))
	}
	return out
}
