package server

import (
	"context"
	"log/slog"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/otar"
	"github.com/lorenzolrom/dvmhost-sub000/internal/pdu"
	"github.com/lorenzolrom/dvmhost-sub000/internal/peer"
)

// radioLookupAdapter bridges internal/acl.RadioLookup (a RadioRule
// struct) into internal/pdu.RadioLookup's narrower three-value return,
// the shape the SNDCP context Manager was written against.
type radioLookupAdapter struct {
	radios acl.RadioLookup
}

func (a radioLookupAdapter) LookupRadio(rid uint32) (enabled bool, staticIP string, ok bool) {
	rule, found := a.radios.LookupRadio(rid)
	if !found {
		return false, "", false
	}
	return rule.Enabled, rule.StaticIP, true
}

// newPDUEngine builds the Engine this FNE uses to service P25 PDU
// traffic (spec.md §4.7), bound to the traffic socket's peer directory
// as its CAI egress path. A real deployment's TUN device and actual
// subscriber-addressed RF egress are platform/radio collaborators out
// of scope per spec.md §1; CAI egress here broadcasts to every
// connected peer since no LLID-to-site routing table is part of this
// core (DESIGN.md records this as the PDU/CAI wiring decision).
func (s *Server) newPDUEngine(radios acl.RadioLookup, sndcpStart, sndcpEnd string) (*pdu.Engine, error) {
	pool, err := pdu.NewPoolFromStrings(sndcpStart, sndcpEnd)
	if err != nil {
		return nil, err
	}
	arp := pdu.NewARPTable()
	sndcp := pdu.NewManager(radioLookupAdapter{radios: radios}, pool)
	cai := &pduBroadcastSender{dir: s.directoryFor(), log: s.log}
	s.pduCAI = cai
	return pdu.NewEngine(arp, sndcp, cai, nil, s.log), nil
}

// dispatchPDUKMM forwards an assembled UNENC_KMM/ENC_KMM PDU's user data
// to the OTAR service (spec.md §4.7's "UNENC_KMM/ENC_KMM... dispatch
// into internal/otar") and, if the service produces a reply, frames and
// sends it back over the CAI side to srcLLID.
func (s *Server) dispatchPDUKMM(srcLLID, dstLLID uint32, body []byte) {
	kmm, err := otar.DecodeFrame(body)
	if err != nil {
		s.log.Warn("malformed kmm frame over pdu", "srcLLID", srcLLID, "error", err)
		return
	}
	resp, hasResp := s.dispatchKMM(kmm)
	if !hasResp || s.pduCAI == nil {
		return
	}
	if err := s.pduCAI.SendToLLID(srcLLID, resp.Encode()); err != nil {
		s.log.Error("sending pdu kmm reply", "dstLLID", srcLLID, "error", err)
	}
}

// pduBroadcastSender implements pdu.CAISender by re-framing a CAI-side
// payload as a flagPDU-tagged P25 PROTOCOL frame and fanning it out to
// every RUNNING peer, the same broadcast-and-let-the-subscriber-filter
// approach the parrot player uses for playback with no known single
// destination.
type pduBroadcastSender struct {
	dir *peerDirectory
	log *slog.Logger
}

// p25PDUFlag mirrors internal/handler/p25's unexported flagPDU bit; it
// is redefined here since pdu-to-wire framing is this package's
// responsibility, not the call-handler's.
const p25PDUFlag = 0x20

func (c *pduBroadcastSender) SendToLLID(llid uint32, raw []byte) error {
	body := make([]byte, 7+3+1+len(raw))
	body[6] = p25PDUFlag
	body[7] = byte(llid >> 16)
	body[8] = byte(llid >> 8)
	body[9] = byte(llid)
	body[10] = 0
	copy(body[11:], raw)

	pkt := frame.Packet{
		FNE:  frame.Header{Function: frame.FuncProtocol, SubFunction: frame.SubProtoP25},
		Body: body,
	}

	ctx := context.Background()
	return c.dir.table.ForEach(ctx, func(conn peer.Connection) error {
		if conn.State != peer.StateRunning {
			return nil
		}
		return c.dir.Send(ctx, conn.PeerID, pkt)
	})
}
