package router

import (
	"context"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

// maxQueuedPeerMsgs bounds fan-out batching: every this many enqueued
// destinations the queue is flushed (spec.md §4.3).
const maxQueuedPeerMsgs = 5

// FingerprintInput captures a frame's identifying fields for duplicate-
// delivery detection across a federation of FNE workers sharing the same
// upstream source.
type FingerprintInput struct {
	Protocol frame.SubFunction
	SrcID    uint32
	DstID    uint32
	PeerID   uint32
	StreamID uint32
	SSRC     uint32
}

// Fingerprint hashes in's identifying fields so the same frame arriving
// twice (e.g. via a redundant spanning-tree path) can be recognized
// without comparing full payloads.
func Fingerprint(in FingerprintInput) (uint64, error) {
	return hashstructure.Hash(in, hashstructure.FormatV2, nil)
}

// PeerView is what the pipeline needs about a fan-out candidate.
type PeerView struct {
	PeerID uint32
	Attrs  PeerAttrs
}

// PendingSend is one queued outbound frame awaiting flush.
type PendingSend struct {
	PeerID  uint32
	Payload []byte
}

// Broadcaster delivers a batch of pending sends to the traffic socket.
// Flush is called every maxQueuedPeerMsgs accumulated sends and once
// more for any remainder, bounding short-term buffer growth under high
// peer counts (spec.md §4.3).
type Broadcaster interface {
	Flush(ctx context.Context, batch []PendingSend) error
}

// FanOut delivers sends to sink in batches of maxQueuedPeerMsgs.
func FanOut(ctx context.Context, sink Broadcaster, sends []PendingSend) error {
	for i := 0; i < len(sends); i += maxQueuedPeerMsgs {
		end := i + maxQueuedPeerMsgs
		if end > len(sends) {
			end = len(sends)
		}
		if err := sink.Flush(ctx, sends[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// PayloadRewriter re-encodes payload to reflect a rewritten destination
// TGID. For most protocols this is a no-op field patch the caller
// performs directly; P25 TSDUs carrying IOSP_GRP_VCH require re-encoding
// a fresh single-block TSDU (spec.md §4.4), which internal/handler/p25
// supplies.
type PayloadRewriter func(payload []byte, newDstTGID uint32) []byte

// ProcessInput is everything Process needs to route one inbound frame.
type ProcessInput struct {
	Frame      FrameMeta
	Payload    []byte
	Terminator bool
	Incoming   calls.Incoming

	Candidates []PeerView

	TalkgroupRule      acl.TalkgroupRule
	TalkgroupRuleFound bool

	RejectUnknownRID bool
	PermitCtx        PermitContext
	CollisionTimeout time.Duration
	Now              time.Time
}

// ProcessResult is the outcome of one Process call.
type ProcessResult struct {
	Validation         ValidationResult
	Outcome            calls.Outcome
	UpdatedStatus      calls.CallStatus
	Sends              []PendingSend
	ShouldRecordParrot bool
}

// Process runs spec.md §4.3's per-frame pipeline steps 2-6: validate,
// evaluate peer-permit per candidate, update call status via the
// collision/takeover state machine, and build the fan-out send list.
// Route rewrite (step 1, §4.4) is expected to already have been applied
// to in.Frame.DstID by the caller before Process is invoked, since it
// must happen before validation sees the canonical TGID.
func Process(in ProcessInput, existingStatus calls.CallStatus, active bool, radios acl.RadioLookup, affiliations *calls.AffiliationTable, rewrite PayloadRewriter) ProcessResult {
	v := Validate(radios, in.Frame, in.RejectUnknownRID, in.TalkgroupRule, in.TalkgroupRuleFound)
	if !v.Accept {
		return ProcessResult{Validation: v}
	}

	updated, outcome := calls.ApplyTransition(existingStatus, active, in.Incoming, in.Now, in.CollisionTimeout)
	if in.Terminator {
		updated = calls.EndCall(updated)
	}

	var sends []PendingSend
	if outcome != calls.OutcomeRejectCollision {
		for _, c := range in.Candidates {
			var ok bool
			if in.Frame.Kind == CallPrivate {
				owner, hasOwner := affiliations.LookupRegisteredPeer(in.Frame.DstID)
				ok = PermitPrivate(c.Attrs, owner, hasOwner, in.PermitCtx)
			} else {
				ok = PermitGroup(in.TalkgroupRule, c.Attrs, affiliations, in.PermitCtx)
			}
			if !ok {
				continue
			}

			dst := RewriteOutbound(in.TalkgroupRule, c.PeerID, in.Frame.DstID)
			payload := in.Payload
			if rewrite != nil && dst != in.Frame.DstID {
				payload = rewrite(payload, dst)
			}
			sends = append(sends, PendingSend{PeerID: c.PeerID, Payload: payload})
		}
	}

	return ProcessResult{
		Validation:         v,
		Outcome:            outcome,
		UpdatedStatus:      updated,
		Sends:              sends,
		ShouldRecordParrot: in.TalkgroupRuleFound && in.TalkgroupRule.Parrot,
	}
}
