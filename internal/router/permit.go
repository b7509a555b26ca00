package router

import (
	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
)

// PeerAttrs is the subset of a candidate destination peer's connection
// state the permit rules need (spec.md §4.5 "Peer-permit").
type PeerAttrs struct {
	PeerID          uint32
	Replica         bool
	Conventional    bool
	SysView         bool
	HasCallPriority bool
}

// PermitContext carries the configuration knobs spec.md §4.5 references
// by name (`disallowU2U`, `dropU2UPeerTable`, `restrictPVCallToRegOnly`)
// plus the `fromUpstream` flag spec.md §4.3 step 6 applies to suppress
// affiliation checks for upstream-sourced traffic.
type PermitContext struct {
	DisallowU2U             bool
	DropU2UPeers            map[uint32]bool
	RestrictPVCallToRegOnly bool
	FromUpstream            bool
}

// PermitGroup evaluates spec.md §4.5's group-call peer-permit rule:
// inclusion (whitelist precedence), then exclusion, then always-send
// (short-circuit accept), then the affiliation requirement.
func PermitGroup(rule acl.TalkgroupRule, peer PeerAttrs, affiliations *calls.AffiliationTable, ctx PermitContext) bool {
	if peer.Replica {
		return true
	}

	permitted := true
	if len(rule.Inclusion) > 0 {
		permitted = rule.InInclusion(peer.PeerID)
	}
	if permitted && rule.InExclusion(peer.PeerID) {
		permitted = false
	}
	if rule.InAlwaysSend(peer.PeerID) {
		permitted = true
	}
	if !permitted {
		return false
	}

	if rule.AffiliationRequired && !ctx.FromUpstream && !peer.Conventional && !peer.SysView {
		return affiliations.IsAffiliated(peer.PeerID, rule.TGID)
	}
	return true
}

// PermitPrivate evaluates spec.md §4.5's private-call peer-permit rule.
// destOwnerPeerID/hasOwner describe the peer, if any, holding the
// destination RID's unit registration.
func PermitPrivate(peer PeerAttrs, destOwnerPeerID uint32, hasOwner bool, ctx PermitContext) bool {
	if peer.Replica {
		return true
	}
	if ctx.DisallowU2U || ctx.DropU2UPeers[peer.PeerID] {
		return false
	}
	if ctx.RestrictPVCallToRegOnly && hasOwner {
		return peer.PeerID == destOwnerPeerID
	}
	return true
}
