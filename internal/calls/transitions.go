package calls

import "time"

// Outcome is the result of applying an incoming frame to a call's
// current status (spec.md §4.6 "Collision, Takeover & Priority").
type Outcome int

const (
	// OutcomeNewCall means no call was active; one now begins.
	OutcomeNewCall Outcome = iota
	// OutcomeSameCall means the frame belongs to the already-active
	// stream.
	OutcomeSameCall
	// OutcomeTakeover means a prior In-Call Control event had set the
	// takeover flag, and the new source now owns the call.
	OutcomeTakeover
	// OutcomeSilentRecovery means the prior call had gone stale
	// (callCollisionTimeout elapsed) and was silently replaced.
	OutcomeSilentRecovery
	// OutcomePriorityPreempt means the arriving peer holds call priority
	// and preempted the current owner.
	OutcomePriorityPreempt
	// OutcomeSwitchOver means the same source is continuing under a new
	// stream/SSRC (or the frame carries the SWITCH_OVER control bit).
	OutcomeSwitchOver
	// OutcomeRejectCollision means the frame must be dropped: a
	// different, still-live call owns the destination.
	OutcomeRejectCollision
)

// Incoming describes the attributes of an arriving non-terminator frame
// relevant to collision/takeover arbitration.
type Incoming struct {
	SrcID    uint32
	PeerID   uint32
	SSRC     uint32
	StreamID uint32

	// SwitchOver is the frame's SWITCH_OVER in-call control bit.
	SwitchOver bool
	// PeerHasPriority mirrors the arriving peer connection's
	// HasCallPriority flag.
	PeerHasPriority bool
	// InCallControlEnabled gates whether priority preemption may occur.
	InCallControlEnabled bool
}

// ApplyTransition evaluates an incoming frame against the existing call
// status (existing, active) per spec.md §4.6 and returns the updated
// status plus the arbitration outcome. Callers must persist the returned
// status and, for OutcomePriorityPreempt, send an In-Call Control
// REJECT_TRAFFIC to the displaced owner.
func ApplyTransition(existing CallStatus, active bool, in Incoming, now time.Time, collisionTimeout time.Duration) (CallStatus, Outcome) {
	if !active {
		return beginCall(existing, in, now), OutcomeNewCall
	}

	if in.StreamID == existing.StreamID {
		existing.LastPacketTime = now
		return existing, OutcomeSameCall
	}

	if in.SrcID == existing.SrcID || in.SwitchOver {
		return overwrite(existing, in, now), OutcomeSwitchOver
	}

	if existing.CallTakeover {
		updated := overwrite(existing, in, now)
		updated.CallTakeover = false
		return updated, OutcomeTakeover
	}

	if now.Sub(existing.LastPacketTime) >= collisionTimeout {
		return overwrite(existing, in, now), OutcomeSilentRecovery
	}

	if in.PeerHasPriority && in.InCallControlEnabled {
		return overwrite(existing, in, now), OutcomePriorityPreempt
	}

	return existing, OutcomeRejectCollision
}

func beginCall(s CallStatus, in Incoming, now time.Time) CallStatus {
	s.CallStartTime = now
	s.Active = true
	s.CallTakeover = false
	return overwrite(s, in, now)
}

func overwrite(s CallStatus, in Incoming, now time.Time) CallStatus {
	s.SrcID = in.SrcID
	s.PeerID = in.PeerID
	s.SSRC = in.SSRC
	s.StreamID = in.StreamID
	s.LastPacketTime = now
	return s
}

// EndCall marks s inactive on terminator receipt (spec.md §4.6
// "Terminator frames... end the call").
func EndCall(s CallStatus) CallStatus {
	s.Active = false
	s.CallTakeover = false
	return s
}

// MarkTakeover sets the takeover flag following an In-Call Control
// takeover event, so the next differing-source frame is accepted rather
// than treated as a collision.
func MarkTakeover(s CallStatus) CallStatus {
	s.CallTakeover = true
	return s
}
