package calls

import "github.com/puzpuzpuz/xsync/v4"

// peerAffiliation holds one peer's group-affiliation and unit-
// registration sets (spec.md §3 "Affiliation table (per peer)").
type peerAffiliation struct {
	groupAffiliations *xsync.Map[uint32, uint32] // source RID -> TGID
	unitRegistrations *xsync.Map[uint32, uint32] // RID -> SSRC
}

func newPeerAffiliation() *peerAffiliation {
	return &peerAffiliation{
		groupAffiliations: xsync.NewMap[uint32, uint32](),
		unitRegistrations: xsync.NewMap[uint32, uint32](),
	}
}

// AffiliationTable is the per-peer affiliation table. Unit-registration
// timeout is disabled on the FNE (spec.md §3): entries leave only via
// Deregister or RemovePeer, generalizing the lock-striped concurrent-map
// approach DMRHub uses for its repeater/subscriber caches to a
// two-dimensional (peer, RID) structure.
type AffiliationTable struct {
	peers *xsync.Map[uint32, *peerAffiliation]
}

// NewAffiliationTable constructs an empty AffiliationTable.
func NewAffiliationTable() *AffiliationTable {
	return &AffiliationTable{peers: xsync.NewMap[uint32, *peerAffiliation]()}
}

func (t *AffiliationTable) peerFor(peerID uint32) *peerAffiliation {
	if p, ok := t.peers.Load(peerID); ok {
		return p
	}
	p := newPeerAffiliation()
	t.peers.Store(peerID, p)
	return p
}

// Affiliate records that srcRID has group-affiliated with tgid on peerID
// (spec.md §6 announcement sub-function GRP_AFFIL).
func (t *AffiliationTable) Affiliate(peerID, srcRID, tgid uint32) {
	t.peerFor(peerID).groupAffiliations.Store(srcRID, tgid)
}

// Unaffiliate removes srcRID's group affiliation on peerID, if any.
func (t *AffiliationTable) Unaffiliate(peerID, srcRID uint32) {
	if p, ok := t.peers.Load(peerID); ok {
		p.groupAffiliations.Delete(srcRID)
	}
}

// IsAffiliated reports whether any RID on peerID is affiliated with tgid,
// the check internal/router's peer-permit rule applies to `affiliated`
// talkgroups (spec.md §4.5).
func (t *AffiliationTable) IsAffiliated(peerID, tgid uint32) bool {
	p, ok := t.peers.Load(peerID)
	if !ok {
		return false
	}
	found := false
	p.groupAffiliations.Range(func(_, v uint32) bool {
		if v == tgid {
			found = true
			return false
		}
		return true
	})
	return found
}

// Register records a unit registration (RID -> SSRC) on peerID (spec.md
// §6 announcement sub-function UNIT_REG).
func (t *AffiliationTable) Register(peerID, rid, ssrc uint32) {
	t.peerFor(peerID).unitRegistrations.Store(rid, ssrc)
}

// Deregister removes rid's unit registration on peerID.
func (t *AffiliationTable) Deregister(peerID, rid uint32) {
	if p, ok := t.peers.Load(peerID); ok {
		p.unitRegistrations.Delete(rid)
	}
}

// LookupRegisteredPeer scans every peer's unit-registration set for rid
// and returns the owning peer ID, used to resolve a P25 private call's
// destination peer (spec.md §3 "destination peer ID derived from the
// unit-registration map").
func (t *AffiliationTable) LookupRegisteredPeer(rid uint32) (uint32, bool) {
	var owner uint32
	found := false
	t.peers.Range(func(peerID uint32, p *peerAffiliation) bool {
		if _, ok := p.unitRegistrations.Load(rid); ok {
			owner, found = peerID, true
			return false
		}
		return true
	})
	return owner, found
}

// RemovePeer clears all affiliation and registration state for peerID,
// called on peer disconnect (spec.md §3 "Lifecycles... Affiliation table"
// implicitly ends with the owning peer connection).
func (t *AffiliationTable) RemovePeer(peerID uint32) {
	t.peers.Delete(peerID)
}
