// Package handler implements the multi-protocol call handler shared by
// internal/handler/dmr, internal/handler/p25 and internal/handler/analog
// (spec.md §4 "The multi-protocol call handlers for DMR, P25 and analog
// voice: stream lifecycle, call-takeover, parrot playback, and
// private-call steering").
//
// Engine holds the protocol-independent half of that work (call-status
// lookup, collision/takeover arbitration via internal/calls, permit/
// validate/fan-out via internal/router, and parrot capture/playback);
// each protocol subpackage supplies a Codec that knows its own frame
// layout and wraps Engine behind the capability object spec.md §9 calls
// for, replacing the source's per-peer-network function-pointer
// callbacks: "call handlers implement a small interface {onFrame,
// onDisconnect, onReplicaNotify, onKeyResponse}".
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

// Capability is the explicit capability object every protocol handler
// implements (spec.md §9). The peer session engine invokes these methods
// as traffic arrives for a RUNNING peer connection; it never calls back
// through a per-construction function pointer.
type Capability interface {
	OnFrame(ctx context.Context, peerID uint32, pkt frame.Packet) error
	OnDisconnect(peerID uint32)
	OnReplicaNotify(ctx context.Context, peerID uint32, pkt frame.Packet) error
	OnKeyResponse(ctx context.Context, peerID uint32, kid uint16, key [32]byte) error
}

// ParsedFrame is the routing-relevant content a ProtocolCodec extracts
// from a traffic payload.
type ParsedFrame struct {
	Kind       router.CallKind
	SrcID      uint32
	DstID      uint32
	SwitchOver bool
	Terminator bool
}

// ProtocolCodec isolates the one thing each protocol does differently:
// reading and rewriting the addressing fields embedded in its payload.
// internal/frame's RTP+FNE header is already protocol-independent; this
// interface covers only the body spec.md §6 calls "protocol payload".
type ProtocolCodec interface {
	Protocol() frame.SubFunction
	Parse(body []byte) (ParsedFrame, error)
	RewriteDestination(body []byte, newDstID uint32) []byte
	RewriteSource(body []byte, newSrcID uint32) []byte
}

// PeerView describes one candidate peer for fan-out, bridging
// internal/peer's connection table into router's shape.
type PeerView struct {
	PeerID uint32
	Attrs  router.PeerAttrs
}

// Directory resolves fan-out candidates and per-peer routing
// attributes. A production implementation backs this with
// internal/peer.Table plus the ACL snapshot; tests use an in-memory
// fake.
type Directory interface {
	Candidates(ctx context.Context, excludePeerID uint32) ([]PeerView, error)
	// PeerAttrs resolves a single connected peer's routing attributes,
	// used to read HasCallPriority for the collision/takeover arbitration
	// in spec.md §4.6 ("Else if the arriving peer has hasCallPriority").
	PeerAttrs(ctx context.Context, peerID uint32) (PeerView, bool, error)
}

// Sender delivers an already-framed datagram to peerID's socket.
type Sender interface {
	Send(ctx context.Context, peerID uint32, pkt frame.Packet) error
}

// InCallSender delivers an In-Call Control command to peerID, used to
// reject or preempt a call owner (spec.md §4.5, §4.6).
type InCallSender interface {
	SendInCallControl(ctx context.Context, peerID uint32, cmd frame.InCallCommand, dstID uint32, slot byte) error
}

// CallStore is the subset of *calls.Table the Engine needs, narrowed to
// an interface so tests can substitute an in-memory fake instead of a
// live Redis-backed Table (the same seam internal/peer and
// internal/calls use internally for their own store interfaces).
type CallStore interface {
	Get(ctx context.Context, protocol frame.SubFunction, dstID uint32) (calls.CallStatus, bool, error)
	Store(ctx context.Context, s calls.CallStatus) error
	Delete(ctx context.Context, protocol frame.SubFunction, dstID uint32) error
}

// Config bundles an Engine's collaborators.
type Config struct {
	Codec             ProtocolCodec
	Radios            acl.RadioLookup
	Talkgroups        acl.TalkgroupLookup
	ReverseTalkgroups acl.TalkgroupReverseLookup
	Affiliations      *calls.AffiliationTable
	CallStatus        CallStore
	Directory         Directory
	Sender            Sender
	InCallControl     InCallSender
	Parrot            *calls.ParrotRecorder
	ParrotPlayer      *calls.Player
	RejectUnknownRID  bool
	CollisionTimeout  time.Duration
	PermitCtx         router.PermitContext
	// InCallControlEnabled gates priority preemption (spec.md §4.6 "and
	// in-call control is enabled").
	InCallControlEnabled bool
	// ParrotReplayDelay is the pause between a parrot call's terminator
	// and the start of its playback pass (spec.md §4.6
	// "parrotDelayTimer").
	ParrotReplayDelay time.Duration
	Now               func() time.Time
}

// Engine is the protocol-independent half of a call handler.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine from cfg, defaulting Now to time.Now
// and ParrotReplayDelay to 3s (spec.md §4.6's playback pass grounded on
// the teacher's own `time.Sleep(3 * time.Second)` pre-playback pause).
func NewEngine(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ParrotReplayDelay == 0 {
		cfg.ParrotReplayDelay = 3 * time.Second
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) broadcaster() router.Broadcaster {
	return broadcasterFunc(func(ctx context.Context, batch []router.PendingSend) error {
		for _, send := range batch {
			hdr := frame.Header{
				StreamID:    0,
				Function:    frame.FuncProtocol,
				SubFunction: e.cfg.Codec.Protocol(),
			}
			pkt := frame.Packet{FNE: hdr, Body: send.Payload}
			if err := e.cfg.Sender.Send(ctx, send.PeerID, pkt); err != nil {
				return fmt.Errorf("sending to peer %d: %w", send.PeerID, err)
			}
		}
		return nil
	})
}

type broadcasterFunc func(ctx context.Context, batch []router.PendingSend) error

func (f broadcasterFunc) Flush(ctx context.Context, batch []router.PendingSend) error {
	return f(ctx, batch)
}

// HandleFrame ingests one traffic payload from peerID: it parses routing
// fields, arbitrates the call via internal/calls, validates and permits
// fan-out via internal/router, persists the updated call status, and
// records parrot frames for parrot-tagged talkgroups. It returns the
// arbitration outcome for callers (e.g. in-call-control rejection
// notices) that need it.
func (e *Engine) HandleFrame(ctx context.Context, peerID uint32, pkt frame.Packet) (calls.Outcome, error) {
	parsed, err := e.cfg.Codec.Parse(pkt.Body)
	if err != nil {
		return 0, fmt.Errorf("parsing %v frame from peer %d: %w", e.cfg.Codec.Protocol(), peerID, err)
	}

	dstID := parsed.DstID
	if parsed.Kind == router.CallGroup {
		dstID = router.RewriteInbound(e.cfg.ReverseTalkgroups, peerID, parsed.DstID)
	}

	rule, ruleFound := e.cfg.Talkgroups.LookupTalkgroup(dstID)

	existing, exists, err := e.cfg.CallStatus.Get(ctx, e.cfg.Codec.Protocol(), dstID)
	if err != nil {
		return 0, fmt.Errorf("loading call status for %d/%d: %w", e.cfg.Codec.Protocol(), dstID, err)
	}
	active := exists && existing.Active

	candidates, err := e.cfg.Directory.Candidates(ctx, peerID)
	if err != nil {
		return 0, fmt.Errorf("resolving fan-out candidates: %w", err)
	}
	peerViews := make([]router.PeerView, len(candidates))
	for i, c := range candidates {
		peerViews[i] = router.PeerView{PeerID: c.PeerID, Attrs: c.Attrs}
	}

	now := e.cfg.Now()
	in := router.ProcessInput{
		Frame: router.FrameMeta{
			Kind:   parsed.Kind,
			SrcID:  parsed.SrcID,
			DstID:  dstID,
			PeerID: peerID,
		},
		Payload: pkt.Body,
		Incoming: calls.Incoming{
			SrcID:                parsed.SrcID,
			PeerID:               peerID,
			SSRC:                 pkt.RTP.SSRC,
			StreamID:             pkt.FNE.StreamID,
			SwitchOver:           parsed.SwitchOver,
			PeerHasPriority:      e.hasCallPriority(ctx, peerID),
			InCallControlEnabled: e.cfg.InCallControlEnabled,
		},
		Candidates:         peerViews,
		RejectUnknownRID:   e.cfg.RejectUnknownRID,
		TalkgroupRule:      rule,
		TalkgroupRuleFound: ruleFound,
		CollisionTimeout:   e.cfg.CollisionTimeout,
		Now:                now,
		Terminator:         parsed.Terminator,
		PermitCtx:          e.cfg.PermitCtx,
	}

	res := router.Process(in, existing, active, e.cfg.Radios, e.cfg.Affiliations, func(body []byte, newDstID uint32) []byte {
		return e.cfg.Codec.RewriteDestination(body, newDstID)
	})

	if !res.Validation.Accept {
		if res.Validation.SendRejectTrafficUpstream {
			e.sendRejectTraffic(ctx, peerID, dstID)
		}
		return 0, nil
	}

	if res.Outcome == calls.OutcomePriorityPreempt && existing.PeerID != peerID {
		e.sendRejectTraffic(ctx, existing.PeerID, dstID)
	}

	res.UpdatedStatus.Protocol = e.cfg.Codec.Protocol()
	res.UpdatedStatus.DstID = dstID
	if parsed.Terminator {
		if err := e.cfg.CallStatus.Delete(ctx, e.cfg.Codec.Protocol(), dstID); err != nil {
			return res.Outcome, fmt.Errorf("clearing call status for %d/%d: %w", e.cfg.Codec.Protocol(), dstID, err)
		}
	} else if err := e.cfg.CallStatus.Store(ctx, res.UpdatedStatus); err != nil {
		return res.Outcome, fmt.Errorf("storing call status for %d/%d: %w", e.cfg.Codec.Protocol(), dstID, err)
	}

	if res.ShouldRecordParrot && parsed.Kind == router.CallGroup {
		e.cfg.Parrot.Record(peerID, parsed.SrcID, calls.ParrotFrame{Protocol: e.cfg.Codec.Protocol(), Payload: pkt.Body})
		if parsed.Terminator {
			go e.replayParrot(ctx, rule)
		}
	}

	if err := router.FanOut(ctx, e.broadcaster(), res.Sends); err != nil {
		return res.Outcome, err
	}
	return res.Outcome, nil
}

// hasCallPriority resolves peerID's HasCallPriority flag via Directory,
// defaulting to false if the peer cannot be resolved (e.g. it just
// disconnected mid-frame).
func (e *Engine) hasCallPriority(ctx context.Context, peerID uint32) bool {
	view, ok, err := e.cfg.Directory.PeerAttrs(ctx, peerID)
	if err != nil || !ok {
		return false
	}
	return view.Attrs.HasCallPriority
}

// sendRejectTraffic delivers an In-Call Control REJECT_TRAFFIC to
// peerID, per spec.md §4.5's "send In-Call Control REJECT_TRAFFIC
// upstream of the offending peer" and §4.6's priority-preemption rule.
// A delivery error is discarded; a control-frame
// delivery failure must not unwind the frame that triggered it (spec.md
// §7 "Errors never unwind the engine").
func (e *Engine) sendRejectTraffic(ctx context.Context, peerID, dstID uint32) {
	if e.cfg.InCallControl == nil {
		return
	}
	_ = e.cfg.InCallControl.SendInCallControl(ctx, peerID, frame.InCallRejectTraffic, dstID, 0)
}

// replayParrot drains the parrot recorder and plays the recording back
// after cfg.ParrotReplayDelay, per spec.md §4.6.
func (e *Engine) replayParrot(ctx context.Context, rule acl.TalkgroupRule) {
	frames, originPeerID, originSrcID := e.cfg.Parrot.Drain()
	if len(frames) == 0 || e.cfg.ParrotPlayer == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.ParrotReplayDelay):
	}

	opts := calls.PlaybackOptions{OverrideSrcID: &originSrcID}
	if !rule.ParrotOnlyOriginating {
		opts.BroadcastToAll = true
		candidates, err := e.cfg.Directory.Candidates(ctx, 0)
		if err == nil {
			for _, c := range candidates {
				opts.AllPeerIDs = append(opts.AllPeerIDs, c.PeerID)
			}
		}
	}

	_ = e.cfg.ParrotPlayer.Play(ctx, frames, originPeerID, opts, func(payload []byte, srcID uint32) []byte {
		return e.cfg.Codec.RewriteSource(payload, srcID)
	})
}

// Disconnect clears peerID's affiliation state, mirroring spec.md §3's
// note that the affiliation table's lifecycle ends with the owning peer
// connection.
func (e *Engine) Disconnect(peerID uint32) {
	e.cfg.Affiliations.RemovePeer(peerID)
}
