package pdu

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/lorenzolrom/dvmhost-sub000/internal/logging"
)

// Retry tuning constants (spec.md §4.7's egress TUN path: "ARP-retry
// queueing (MAX_PKT_RETRY_CNT, ARP_RETRY_MS=5000, SUBSCRIBER_READY_
// RETRY_MS=1000)").
const (
	MaxPacketRetryCount  = 3
	ARPRetryInterval     = 5000 * time.Millisecond
	SubscriberReadyRetry = 1000 * time.Millisecond
)

// CAISender transmits a framed PDU onto the RF/CAI side to llid.
type CAISender interface {
	SendToLLID(llid uint32, frame []byte) error
}

// TUNWriter delivers a reassembled IPv4 packet to the kernel TUN
// interface (spec.md §4.7's "TUN egress/ingress path").
type TUNWriter interface {
	WritePacket(packet []byte) error
}

// reassembly is the per-source in-progress PDU state (spec.md §4.7 "On
// block 0 (header), disassembles the PDU header... feeds the
// disassembler until complete").
type reassembly struct {
	header Header
	dis    *Disassembler
}

// pendingEgress is one IPv4 packet queued behind an unresolved ARP
// lookup or a not-yet-ready destination LLID.
type pendingEgress struct {
	dstIP   netip.Addr
	packet  []byte
	retries int
}

// Engine is the P25 PDU engine: reassembly, ARP, SNDCP context
// management, PACKET_DATA sequencing, and KMM dispatch (spec.md §4.7).
type Engine struct {
	ARP    *ARPTable
	SNDCP  *Manager
	CAI    CAISender
	TUN    TUNWriter
	Log    *slog.Logger

	// KMMDispatch forwards an assembled UNENC_KMM/ENC_KMM PDU's user data
	// to internal/otar (spec.md §4.7 "UNENC_KMM/ENC_KMM dispatch into
	// internal/otar").
	KMMDispatch func(srcLLID, dstLLID uint32, body []byte)

	inFlight *xsync.Map[uint32, *reassembly] // keyed by srcLLID
	windows  *xsync.Map[uint32, *Window]     // keyed by srcLLID

	egressMu sync.Mutex
	egress   map[uint32][]*pendingEgress // keyed by dst LLID awaiting readiness/ARP

	ready *xsync.Map[uint32, bool] // dst LLID -> ready for next confirmed packet
}

// NewEngine constructs an Engine. log may be nil, in which case
// logging.For("pdu") is used.
func NewEngine(arp *ARPTable, sndcp *Manager, cai CAISender, tun TUNWriter, log *slog.Logger) *Engine {
	if log == nil {
		log = logging.For("pdu")
	}
	return &Engine{
		ARP:      arp,
		SNDCP:    sndcp,
		CAI:      cai,
		TUN:      tun,
		Log:      log,
		inFlight: xsync.NewMap[uint32, *reassembly](),
		windows:  xsync.NewMap[uint32, *Window](),
		egress:   make(map[uint32][]*pendingEgress),
		ready:    xsync.NewMap[uint32, bool](),
	}
}

func (e *Engine) windowFor(llid uint32) *Window {
	w, _ := e.windows.LoadOrCompute(llid, func() (*Window, bool) { return NewWindow(), false })
	return w
}

// HandleHeaderBlock processes block 0 of an inbound PDU. For a
// format==RSP header it dispatches the response directly (ACK/NACK,
// readiness flag) and returns no in-progress reassembly. Otherwise it
// starts tracking reassembly for the declared block count.
func (e *Engine) HandleHeaderBlock(raw []byte) error {
	h, err := DecodeHeader(raw)
	if err != nil {
		return fmt.Errorf("pdu: decoding header block: %w", err)
	}

	if h.Format == FormatRSP {
		return e.handleResponse(h, raw[headerLen:])
	}

	e.inFlight.Store(h.SrcLLID, &reassembly{header: h, dis: NewDisassembler(h.BlockCount)})
	return nil
}

func (e *Engine) handleResponse(h Header, body []byte) error {
	status, err := DecodeResponse(body)
	if err != nil {
		return fmt.Errorf("pdu: decoding response block: %w", err)
	}
	switch status {
	case RespACK:
		e.ready.Store(h.SrcLLID, true)
		e.flushEgress(h.SrcLLID)
	case RespNAKOutOfSeq:
		e.Log.Warn("pdu peer reported out-of-sequence NAK", "llid", h.SrcLLID)
	default:
		e.Log.Warn("pdu peer reported NAK", "llid", h.SrcLLID, "status", status)
	}
	return nil
}

// ErrNoReassembly is returned by HandleDataBlock when no header has
// been seen yet for srcLLID.
var ErrNoReassembly = fmt.Errorf("pdu: data block with no in-progress header")

// HandleDataBlock feeds one data block into the reassembly in progress
// for srcLLID. An out-of-order block causes the reassembly to be
// discarded so the caller can NAK (spec.md §5).
func (e *Engine) HandleDataBlock(srcLLID uint32, blockIndex int, data []byte) (complete bool, err error) {
	r, ok := e.inFlight.Load(srcLLID)
	if !ok {
		return false, ErrNoReassembly
	}
	if err := r.dis.Feed(blockIndex, data); err != nil {
		e.inFlight.Delete(srcLLID)
		return false, err
	}
	if !r.dis.Complete() {
		return false, nil
	}
	e.inFlight.Delete(srcLLID)
	return true, e.dispatch(r.header, r.dis.Assembled())
}

// dispatch routes an assembled PDU's user data to its SAP handler
// (spec.md §4.7 "dispatch by SAP").
func (e *Engine) dispatch(h Header, data []byte) error {
	switch h.SAP {
	case SAPARP:
		return e.handleARP(h, data)
	case SAPPacketData:
		return e.handlePacketData(h, data)
	case SAPConvDataReg:
		return e.handleConvDataReg(h, data)
	case SAPSNDCPCtrl:
		return e.handleSNDCPCtrl(h, data)
	case SAPUnencKMM, SAPEncKMM:
		if e.KMMDispatch != nil {
			e.KMMDispatch(h.SrcLLID, h.DstLLID, data)
		}
		return nil
	default:
		return fmt.Errorf("pdu: unknown SAP %d", h.SAP)
	}
}

func (e *Engine) handleARP(h Header, data []byte) error {
	req, err := DecodeRequest(data)
	if err != nil {
		return fmt.Errorf("pdu: decoding ARP body: %w", err)
	}
	e.ARP.Learn(req.SenderIP, req.SenderLLID)
	if req.IsReply {
		e.ARP.Learn(req.TargetIP, req.TargetLLID)
		e.flushARPWaiters(req.SenderIP)
	}
	return nil
}

func (e *Engine) handlePacketData(h Header, data []byte) error {
	w := e.windowFor(h.SrcLLID)
	if !w.Accept(h.NS, h.Synchronize) {
		return fmt.Errorf("pdu: packet data out of sequence from llid %d: ns=%d", h.SrcLLID, h.NS)
	}
	if e.TUN != nil {
		if err := e.TUN.WritePacket(data); err != nil {
			return fmt.Errorf("pdu: writing packet to TUN: %w", err)
		}
	}
	return nil
}

func (e *Engine) handleConvDataReg(h Header, data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("pdu: empty CONV_DATA_REG body")
	}
	const (
		convConnect    = 0
		convDisconnect = 1
	)
	switch data[0] {
	case convConnect:
		e.Log.Info("conv data reg connect", "llid", h.SrcLLID)
	case convDisconnect:
		e.Log.Info("conv data reg disconnect", "llid", h.SrcLLID)
	}
	return nil
}

func (e *Engine) handleSNDCPCtrl(h Header, data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("pdu: empty SNDCP_CTRL_DATA body")
	}
	switch SNDCPAction(data[0]) {
	case ActActivateTDSContext:
		ctx, reject, err := e.SNDCP.Activate(h.SrcLLID)
		if err != nil {
			return fmt.Errorf("pdu: activating SNDCP context: %w", err)
		}
		if reject != RejectOK {
			e.Log.Warn("sndcp activation rejected", "llid", h.SrcLLID, "reject", reject)
			return nil
		}
		e.ARP.Learn(ctx.IP, h.SrcLLID)
	case ActDeactivateTDSContextReq:
		e.SNDCP.Deactivate(h.SrcLLID)
	}
	return nil
}

// QueueEgress accepts an IPv4 packet destined for dstIP from the TUN
// side. If the destination LLID is already known and ready it is sent
// immediately; otherwise it is queued pending ARP resolution and/or
// destination readiness (spec.md §4.7's TUN egress path).
func (e *Engine) QueueEgress(dstIP netip.Addr, packet []byte) error {
	llid, ok := e.ARP.ResolveLLID(dstIP)
	if !ok {
		e.enqueue(0, dstIP, packet)
		return nil
	}
	if ready, _ := e.ready.Load(llid); !ready {
		e.enqueue(llid, dstIP, packet)
		return nil
	}
	return e.CAI.SendToLLID(llid, packet)
}

func (e *Engine) enqueue(llid uint32, dstIP netip.Addr, packet []byte) {
	e.egressMu.Lock()
	defer e.egressMu.Unlock()
	e.egress[llid] = append(e.egress[llid], &pendingEgress{dstIP: dstIP, packet: packet})
}

// flushARPWaiters re-evaluates packets queued under the unresolved key
// (LLID 0) once dstIP's LLID becomes known via an ARP reply.
func (e *Engine) flushARPWaiters(dstIP netip.Addr) {
	llid, ok := e.ARP.ResolveLLID(dstIP)
	if !ok {
		return
	}
	e.egressMu.Lock()
	unresolved := e.egress[0]
	var remaining []*pendingEgress
	for _, p := range unresolved {
		if p.dstIP == dstIP {
			e.egress[llid] = append(e.egress[llid], p)
		} else {
			remaining = append(remaining, p)
		}
	}
	e.egress[0] = remaining
	e.egressMu.Unlock()
	e.flushEgress(llid)
}

// flushEgress sends every packet queued for llid now that it is ready,
// per spec.md's MAX_PKT_RETRY_CNT bound: a packet that exceeds the
// retry count is dropped and logged rather than retried forever.
func (e *Engine) flushEgress(llid uint32) {
	e.egressMu.Lock()
	queued := e.egress[llid]
	delete(e.egress, llid)
	e.egressMu.Unlock()

	for _, p := range queued {
		if err := e.CAI.SendToLLID(llid, p.packet); err != nil {
			p.retries++
			if p.retries > MaxPacketRetryCount {
				e.Log.Warn("pdu egress packet exceeded retry count, dropping", "llid", llid, "retries", p.retries)
				continue
			}
			e.enqueue(llid, p.dstIP, p.packet)
		}
	}
}
