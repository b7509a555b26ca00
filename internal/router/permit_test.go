package router

import (
	"testing"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
)

func TestPermitGroupReplicaBypassesEverything(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, Exclusion: []uint32{9}}
	peer := PeerAttrs{PeerID: 9, Replica: true}
	if !PermitGroup(rule, peer, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected replica peer to always receive")
	}
}

func TestPermitGroupInclusionIsWhitelist(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, Inclusion: []uint32{1, 2}}
	if !PermitGroup(rule, PeerAttrs{PeerID: 1}, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected peer 1 in inclusion list to be permitted")
	}
	if PermitGroup(rule, PeerAttrs{PeerID: 3}, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected peer 3 outside inclusion list to be rejected")
	}
}

func TestPermitGroupExclusion(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, Exclusion: []uint32{3}}
	if PermitGroup(rule, PeerAttrs{PeerID: 3}, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected excluded peer to be rejected")
	}
	if !PermitGroup(rule, PeerAttrs{PeerID: 4}, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected non-excluded peer to be permitted")
	}
}

func TestPermitGroupAlwaysSendOverridesExclusion(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, Exclusion: []uint32{3}, AlwaysSend: []uint32{3}}
	if !PermitGroup(rule, PeerAttrs{PeerID: 3}, calls.NewAffiliationTable(), PermitContext{}) {
		t.Fatalf("expected always-send to override exclusion")
	}
}

func TestPermitGroupAffiliationRequired(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, AffiliationRequired: true}
	aff := calls.NewAffiliationTable()

	if PermitGroup(rule, PeerAttrs{PeerID: 1}, aff, PermitContext{}) {
		t.Fatalf("expected unaffiliated peer to be rejected")
	}

	aff.Affiliate(1, 555, 100)
	if !PermitGroup(rule, PeerAttrs{PeerID: 1}, aff, PermitContext{}) {
		t.Fatalf("expected affiliated peer to be permitted")
	}
}

func TestPermitGroupAffiliationWaivedForConventionalSysViewUpstream(t *testing.T) {
	rule := acl.TalkgroupRule{TGID: 100, AffiliationRequired: true}
	aff := calls.NewAffiliationTable()

	if !PermitGroup(rule, PeerAttrs{PeerID: 1, Conventional: true}, aff, PermitContext{}) {
		t.Fatalf("expected conventional peer to waive affiliation check")
	}
	if !PermitGroup(rule, PeerAttrs{PeerID: 1, SysView: true}, aff, PermitContext{}) {
		t.Fatalf("expected SysView peer to waive affiliation check")
	}
	if !PermitGroup(rule, PeerAttrs{PeerID: 1}, aff, PermitContext{FromUpstream: true}) {
		t.Fatalf("expected upstream traffic to waive affiliation check")
	}
}

func TestPermitPrivateDisallowU2U(t *testing.T) {
	ctx := PermitContext{DisallowU2U: true}
	if PermitPrivate(PeerAttrs{PeerID: 1}, 0, false, ctx) {
		t.Fatalf("expected private calls to be rejected when disallowed")
	}
}

func TestPermitPrivateDropTable(t *testing.T) {
	ctx := PermitContext{DropU2UPeers: map[uint32]bool{5: true}}
	if PermitPrivate(PeerAttrs{PeerID: 5}, 0, false, ctx) {
		t.Fatalf("expected peer in drop table to be rejected")
	}
	if !PermitPrivate(PeerAttrs{PeerID: 6}, 0, false, ctx) {
		t.Fatalf("expected peer not in drop table to be permitted")
	}
}

func TestPermitPrivateRestrictToRegisteredOwner(t *testing.T) {
	ctx := PermitContext{RestrictPVCallToRegOnly: true}
	if !PermitPrivate(PeerAttrs{PeerID: 1}, 1, true, ctx) {
		t.Fatalf("expected registered owner to be permitted")
	}
	if PermitPrivate(PeerAttrs{PeerID: 2}, 1, true, ctx) {
		t.Fatalf("expected non-owner to be rejected when a registered owner exists")
	}
	if !PermitPrivate(PeerAttrs{PeerID: 2}, 0, false, ctx) {
		t.Fatalf("expected broadcast to local peers when no registered owner exists")
	}
}
