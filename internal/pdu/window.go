package pdu

import "sync"

// Window tracks a PACKET_DATA source's receive sequence V(R) modulo 8
// (spec.md §4.7 "PACKET_DATA" and §8's invariant "for all P25 PDU
// sources L, after accepting a frame with N(S)=n, V(R)(L) == (n+1) mod
// 8"). The synchronize bit forces V(R) to resume at the sender's
// declared position regardless of the prior value.
type Window struct {
	mu sync.Mutex
	vr int
}

// NewWindow starts a window with V(R) at 0.
func NewWindow() *Window { return &Window{} }

// VR returns the current receive sequence number.
func (w *Window) VR() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vr
}

// Accept evaluates an inbound N(S)=ns against the window. A frame is
// accepted when ns equals the current V(R) (the next expected frame) or
// (V(R)+1) mod 8 (one frame ahead); either
// way V(R) advances to (ns+1) mod 8, matching the invariant above
// exactly. synchronize forces acceptance and resets V(R) to (ns+1) mod
// 8 regardless of the prior value (spec.md §4.7 "synchronize forcing
// V(R) := N(S)+1 mod 8").
func (w *Window) Accept(ns int, synchronize bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ns = ns % 8
	if synchronize {
		w.vr = (ns + 1) % 8
		return true
	}
	if ns == w.vr || ns == (w.vr+1)%8 {
		w.vr = (ns + 1) % 8
		return true
	}
	return false
}
