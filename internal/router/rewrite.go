// Package router implements the per-frame routing pipeline: route
// rewrite, validation, peer-permit evaluation, collision/takeover
// arbitration, parrot recording, and fan-out (spec.md §4.3-§4.6).
package router

import "github.com/lorenzolrom/dvmhost-sub000/internal/acl"

// RewriteOutbound returns the destination TGID to place in a frame being
// sent to peerID, applying that peer's rewrite entry if the talkgroup
// rule declares one (spec.md §4.4: "Outbound to peerId, the destination
// in the frame is replaced with the rewrite target").
func RewriteOutbound(rule acl.TalkgroupRule, peerID, canonicalTGID uint32) uint32 {
	if rewritten, ok := rule.RewriteFor(peerID); ok {
		return rewritten
	}
	return canonicalTGID
}

// RewriteInbound maps a destination TGID received from peerID back to
// its canonical talkgroup, if that peer has a rewrite entry producing
// incomingTGID (spec.md §4.4: "Inbound from peerId, the destination is
// replaced with the canonical source TGID"). If no rewrite applies,
// incomingTGID is already canonical.
func RewriteInbound(lookup acl.TalkgroupReverseLookup, peerID, incomingTGID uint32) uint32 {
	if canonical, ok := lookup.ReverseRewrite(peerID, incomingTGID); ok {
		return canonical
	}
	return incomingTGID
}
