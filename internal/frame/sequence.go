package frame

import "sync"

// SeqResult classifies an inbound packet's sequence number relative to the
// per-peer, per-stream expected next value (spec.md §4.1, §8).
type SeqResult int

const (
	SeqValid SeqResult = iota
	SeqOutOfOrder
	SeqLostFrames
)

func (r SeqResult) String() string {
	switch r {
	case SeqValid:
		return "VALID"
	case SeqOutOfOrder:
		return "OUT_OF_ORDER"
	case SeqLostFrames:
		return "LOST_FRAMES"
	default:
		return "UNKNOWN"
	}
}

type streamKey struct {
	peerID, streamID uint32
}

// Verifier classifies each inbound packet's sequence for a given
// (peer, stream) pair. Results are informational only: the router never
// drops or reorders on the verifier's verdict (spec.md §4.1, §5
// "Ordering guarantees").
type Verifier struct {
	mu   sync.Mutex
	last map[streamKey]uint16
	seen map[streamKey]bool
}

// NewVerifier constructs an empty sequence verifier.
func NewVerifier() *Verifier {
	return &Verifier{
		last: make(map[streamKey]uint16),
		seen: make(map[streamKey]bool),
	}
}

// Classify records seq for (peerID, streamID) and returns how it compares
// to the previously observed sequence for that stream. The very first
// frame of a stream is always SeqValid.
//
// LostFrames additionally returns the missing range [from, to] (inclusive)
// per spec.md §8's testable property; callers that don't need it can
// ignore the extra return values.
func (v *Verifier) Classify(peerID, streamID uint32, seq uint16) (SeqResult, uint16, uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()

	k := streamKey{peerID, streamID}
	prev, ok := v.last[k]
	v.last[k] = seq
	if !ok {
		return SeqValid, 0, 0
	}

	switch {
	case seq == prev+1:
		return SeqValid, 0, 0
	case seq <= prev:
		return SeqOutOfOrder, 0, 0
	default:
		return SeqLostFrames, prev + 1, seq - 1
	}
}

// Forget drops tracking state for a finished stream so the map doesn't
// grow without bound across a long-running FNE's lifetime.
func (v *Verifier) Forget(peerID, streamID uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := streamKey{peerID, streamID}
	delete(v.last, k)
	delete(v.seen, k)
}

// OutboundSequencer assigns strictly monotonic, per-destination,
// per-stream outbound packet sequence numbers at fan-out time (spec.md
// §4.1, §5 "Ordering guarantees").
type OutboundSequencer struct {
	mu   sync.Mutex
	next map[streamKey]uint16
}

// NewOutboundSequencer constructs an empty outbound sequencer.
func NewOutboundSequencer() *OutboundSequencer {
	return &OutboundSequencer{next: make(map[streamKey]uint16)}
}

// Next returns the next sequence number to stamp for (destPeerID,
// streamID) and advances the counter, wrapping past EndOfCallSeq-1 back
// to zero so the distinguished terminator value is never produced by the
// counter itself.
func (s *OutboundSequencer) Next(destPeerID, streamID uint32) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := streamKey{destPeerID, streamID}
	seq := s.next[k]
	nextSeq := seq + 1
	if nextSeq >= EndOfCallSeq {
		nextSeq = 0
	}
	s.next[k] = nextSeq
	return seq
}

// Forget drops the counter for a finished stream.
func (s *OutboundSequencer) Forget(destPeerID, streamID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, streamKey{destPeerID, streamID})
}

// MaskSSRC implements spec.md §4.1's SSRC masking rule: if configured, an
// outbound packet carries the FNE's own peer ID; otherwise the
// originating peer ID. Neighbour-FNE peers participating in replication
// always receive the originating SSRC, since they need to know who
// actually originated the traffic rather than that the FNE routed it.
func MaskSSRC(maskWithFNEID bool, fnePeerID, originatingPeerID uint32, destIsReplicaNeighbour bool) uint32 {
	if destIsReplicaNeighbour {
		return originatingPeerID
	}
	if maskWithFNEID {
		return fnePeerID
	}
	return originatingPeerID
}
