// Package acl defines the read-mostly lookup collaborators spec.md §3
// calls out: radio-ID ACL, talkgroup rules, peer ACL, the adjacency map,
// and the crypto key container. Per spec.md §1 these are external
// collaborators — the YAML hot-reload daemon that keeps them current in
// production is out of scope — but the interfaces and a reference,
// fixture-backed implementation live here so internal/peer and
// internal/router can be built and tested against them.
package acl

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RadioRule is a radio-ID ACL entry (spec.md §3 "Radio-ID ACL").
type RadioRule struct {
	Enabled  bool
	StaticIP string // optional; empty means "no static IP"
}

// RewriteEntry is one (peerId -> tgId) route-rewrite mapping a talkgroup
// rule may declare (spec.md §4.4).
type RewriteEntry struct {
	PeerID uint32
	TGID   uint32
}

// TalkgroupRule is a talkgroup's routing policy (spec.md §3 "talkgroup-
// rule list").
type TalkgroupRule struct {
	TGID                 uint32
	Active               bool
	Parrot               bool
	ParrotOnlyOriginating bool
	AffiliationRequired  bool
	PermittedRIDs        []uint32
	Inclusion            []uint32 // peer IDs
	Exclusion            []uint32 // peer IDs
	AlwaysSend           []uint32 // peer IDs
	NonPreferred         bool
	Rewrites             []RewriteEntry
}

// contains reports whether id is present in ids.
func contains(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// InInclusion reports whether peerID is in the rule's inclusion list.
func (r TalkgroupRule) InInclusion(peerID uint32) bool { return contains(r.Inclusion, peerID) }

// InExclusion reports whether peerID is in the rule's exclusion list.
func (r TalkgroupRule) InExclusion(peerID uint32) bool { return contains(r.Exclusion, peerID) }

// InAlwaysSend reports whether peerID is in the rule's always-send list.
func (r TalkgroupRule) InAlwaysSend(peerID uint32) bool { return contains(r.AlwaysSend, peerID) }

// PermitsSource reports whether srcID may use this talkgroup, given an
// empty PermittedRIDs list means "no restriction" (spec.md §4.5).
func (r TalkgroupRule) PermitsSource(srcID uint32) bool {
	if len(r.PermittedRIDs) == 0 {
		return true
	}
	return contains(r.PermittedRIDs, srcID)
}

// RewriteFor returns the rewrite target TGID for peerID, if any.
func (r TalkgroupRule) RewriteFor(peerID uint32) (uint32, bool) {
	for _, rw := range r.Rewrites {
		if rw.PeerID == peerID {
			return rw.TGID, true
		}
	}
	return 0, false
}

// PeerACLEntry is a per-peer access-control and policy override (spec.md
// §3 "peer-ACL list").
type PeerACLEntry struct {
	PeerID             uint32
	Enabled            bool
	PasswordOverride   string // empty means "use the global password"
	CanRequestKeys     bool
	CanIssueInhibit    bool
	ReplicaParticipant bool
	JitterDepthMsOverride *int
}

// RadioLookup resolves radio-ID ACL entries.
type RadioLookup interface {
	LookupRadio(rid uint32) (RadioRule, bool)
}

// TalkgroupLookup resolves talkgroup rules.
type TalkgroupLookup interface {
	LookupTalkgroup(tgid uint32) (TalkgroupRule, bool)
}

// TalkgroupReverseLookup resolves a peer-specific rewritten TGID back to
// the canonical talkgroup it was rewritten from, the inbound half of
// spec.md §4.4's route-rewrite rule.
type TalkgroupReverseLookup interface {
	ReverseRewrite(peerID, rewrittenTGID uint32) (canonicalTGID uint32, ok bool)
}

// PeerLookup resolves per-peer ACL overrides.
type PeerLookup interface {
	LookupPeer(peerID uint32) (PeerACLEntry, bool)
}

// AdjacencyLookup resolves the federation adjacency map: which peer IDs
// are configured as upstream neighbour-FNE masters.
type AdjacencyLookup interface {
	IsUpstreamNeighbour(peerID uint32) bool
}

// MetadataLookup resolves the content spec.md §4.2's periodic metadata
// distribution fans out: the chunked RID/TG/HA lists non-replica peers
// get, and the raw files replica neighbour-FNE peers get via
// internal/packetbuffer. Snapshot implements it directly.
type MetadataLookup interface {
	EnabledRadioIDs() []uint32
	DisabledRadioIDs() []uint32
	ActiveTalkgroups() []TalkgroupSlotEntry
	EachHAPeer(fn func(peerID uint32, ha HAPeer))
	MarshalRIDFile() ([]byte, error)
	MarshalTalkgroupFile() ([]byte, error)
	MarshalPeerFile() ([]byte, error)
	MarshalHAFile() ([]byte, error)
}

// KeyContainer resolves OTAR key material by key ID (spec.md §4.8).
type KeyContainer interface {
	// LookupTEK returns the 32-byte AES-256 traffic-encryption key for kid.
	LookupTEK(kid uint16) ([32]byte, bool)
	// LookupUKEK returns the unique KEK associated with an RSI, if
	// provisioned.
	LookupUKEK(rsi uint32) ([32]byte, bool)
	// EachTEK visits every provisioned TEK, used by internal/otar's
	// Rekey-Command builder ("Every AES-256 key in the key container is
	// wrapped", spec.md §4.8) without requiring callers to scan the
	// entire 16-bit key-ID space.
	EachTEK(fn func(kid uint16, tek [32]byte))
}

// Snapshot is an in-memory, fixture-backed reference implementation of
// every lookup interface above, loaded from YAML (spec.md's ACL content is
// out-of-scope to *reload*, but the snapshot format is in scope so the
// router/peer engine can be exercised in tests and in small deployments
// that don't need hot-reload).
type Snapshot struct {
	Radios     map[uint32]RadioRule     `yaml:"radios"`
	Talkgroups map[uint32]TalkgroupRule `yaml:"talkgroups"`
	Peers      map[uint32]PeerACLEntry  `yaml:"peers"`
	Upstream   map[uint32]bool          `yaml:"upstream"`
	// HAPeers carries the HA (high-availability) failover peer set
	// spec.md §6's "HA parameters entry" describes.
	HAPeers map[uint32]HAPeer `yaml:"haPeers"`
	// TEKHex/UKEKHex carry the file's hex-encoded form (yaml can't hold a
	// [32]byte array directly); LoadSnapshot decodes them into TEKs/UKEKs.
	TEKHex  map[uint16]string `yaml:"teks"`
	UKEKHex map[uint32]string `yaml:"ukeks"`

	TEKs  map[uint16][32]byte `yaml:"-"`
	UKEKs map[uint32][32]byte `yaml:"-"`
}

// HAPeer is an HA-parameters entry (spec.md §6 "{uint32 peerId, uint32
// ipv4, uint16 port}"): the redundant FNE instance a peer should fail
// over to.
type HAPeer struct {
	IPv4 string `yaml:"ipv4"`
	Port uint16 `yaml:"port"`
}

// NewSnapshot constructs an empty, mutable Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Radios:     make(map[uint32]RadioRule),
		Talkgroups: make(map[uint32]TalkgroupRule),
		Peers:      make(map[uint32]PeerACLEntry),
		Upstream:   make(map[uint32]bool),
		HAPeers:    make(map[uint32]HAPeer),
		TEKHex:     make(map[uint16]string),
		UKEKHex:    make(map[uint32]string),
		TEKs:       make(map[uint16][32]byte),
		UKEKs:      make(map[uint32][32]byte),
	}
}

// LoadSnapshot reads and parses a YAML ACL snapshot file, the static
// reference form spec.md's external ACL collaborators are loaded from
// in small deployments with no hot-reload daemon (spec.md §1, §3).
func LoadSnapshot(path string) (*Snapshot, error) {
	s := NewSnapshot()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading acl snapshot: %w", err)
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parsing acl snapshot: %w", err)
	}
	for kid, hexKey := range s.TEKHex {
		key, err := decodeKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decoding tek %d: %w", kid, err)
		}
		s.TEKs[kid] = key
	}
	for rsi, hexKey := range s.UKEKHex {
		key, err := decodeKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decoding ukek for rsi %d: %w", rsi, err)
		}
		s.UKEKs[rsi] = key
	}
	return s, nil
}

func decodeKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (s *Snapshot) LookupRadio(rid uint32) (RadioRule, bool) {
	r, ok := s.Radios[rid]
	return r, ok
}

func (s *Snapshot) LookupTalkgroup(tgid uint32) (TalkgroupRule, bool) {
	r, ok := s.Talkgroups[tgid]
	return r, ok
}

// ReverseRewrite implements TalkgroupReverseLookup by scanning every
// talkgroup rule for a (peerID -> rewrittenTGID) entry. Snapshot's fixture
// scale makes a linear scan acceptable; a hot-reload-backed implementation
// would maintain its own reverse index.
func (s *Snapshot) ReverseRewrite(peerID, rewrittenTGID uint32) (uint32, bool) {
	for canonical, rule := range s.Talkgroups {
		if tgid, ok := rule.RewriteFor(peerID); ok && tgid == rewrittenTGID {
			return canonical, true
		}
	}
	return 0, false
}

func (s *Snapshot) LookupPeer(peerID uint32) (PeerACLEntry, bool) {
	r, ok := s.Peers[peerID]
	return r, ok
}

func (s *Snapshot) IsUpstreamNeighbour(peerID uint32) bool {
	return s.Upstream[peerID]
}

func (s *Snapshot) LookupTEK(kid uint16) ([32]byte, bool) {
	k, ok := s.TEKs[kid]
	return k, ok
}

func (s *Snapshot) LookupUKEK(rsi uint32) ([32]byte, bool) {
	k, ok := s.UKEKs[rsi]
	return k, ok
}

func (s *Snapshot) EachTEK(fn func(kid uint16, tek [32]byte)) {
	for kid, tek := range s.TEKs {
		fn(kid, tek)
	}
}

// PasswordFor resolves the SHA-256 challenge password for a peer: its
// per-peer override if the peer ACL has one, else the global password
// (spec.md §4.2 "Authentication (RPTK)").
func (s *Snapshot) PasswordFor(peerID uint32, globalPassword string) string {
	if entry, ok := s.Peers[peerID]; ok && entry.PasswordOverride != "" {
		return entry.PasswordOverride
	}
	return globalPassword
}

// ErrUnknownPeer is returned by ReplicaSink implementations for an
// unrecognized peer ID.
var ErrUnknownPeer = fmt.Errorf("acl: unknown peer")

// TalkgroupSlotEntry is one chunked "Active TG entry" spec.md §6
// describes: `{uint32 tgId, uint8 slotFlags}` where bit 7 is
// non-preferred, bit 6 is affiliation-required, and bits 0-5 carry the
// slot number (unmodeled by TalkgroupRule today, so always 0 here).
type TalkgroupSlotEntry struct {
	TGID      uint32
	SlotFlags byte
}

const (
	tgSlotFlagNonPreferred  byte = 1 << 7
	tgSlotFlagAffiliationReq byte = 1 << 6
)

// ActiveTalkgroups returns the slot-flagged entry for every active
// talkgroup rule, in a deterministic (TGID-ascending) order so repeated
// distributions produce identical chunking.
func (s *Snapshot) ActiveTalkgroups() []TalkgroupSlotEntry {
	out := make([]TalkgroupSlotEntry, 0, len(s.Talkgroups))
	for tgid, rule := range s.Talkgroups {
		if !rule.Active {
			continue
		}
		var flags byte
		if rule.NonPreferred {
			flags |= tgSlotFlagNonPreferred
		}
		if rule.AffiliationRequired {
			flags |= tgSlotFlagAffiliationReq
		}
		out = append(out, TalkgroupSlotEntry{TGID: tgid, SlotFlags: flags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TGID < out[j].TGID })
	return out
}

// EnabledRadioIDs returns every radio ID whose rule has Enabled == true,
// in ascending order, the whitelist spec.md §6's WL_RID distribution
// carries. DisabledRadioIDs is the BL_RID counterpart.
func (s *Snapshot) EnabledRadioIDs() []uint32 {
	return s.radioIDsWhere(func(r RadioRule) bool { return r.Enabled })
}

// DisabledRadioIDs returns every radio ID whose rule has Enabled ==
// false.
func (s *Snapshot) DisabledRadioIDs() []uint32 {
	return s.radioIDsWhere(func(r RadioRule) bool { return !r.Enabled })
}

func (s *Snapshot) radioIDsWhere(keep func(RadioRule) bool) []uint32 {
	out := make([]uint32, 0, len(s.Radios))
	for rid, rule := range s.Radios {
		if keep(rule) {
			out = append(out, rid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalRIDFile, MarshalTalkgroupFile and MarshalPeerFile re-serialize
// this snapshot's radio/talkgroup/peer maps to YAML, the "raw ACL files"
// spec.md §4.2 says replica neighbour-FNE peers receive as fragmented,
// compressed packet-buffer transfers (internal/packetbuffer) rather than
// the per-entry chunked forms non-replica peers get.
func (s *Snapshot) MarshalRIDFile() ([]byte, error) {
	return yaml.Marshal(s.Radios)
}

func (s *Snapshot) MarshalTalkgroupFile() ([]byte, error) {
	return yaml.Marshal(s.Talkgroups)
}

func (s *Snapshot) MarshalPeerFile() ([]byte, error) {
	return yaml.Marshal(s.Peers)
}

// MarshalHAFile re-serializes the HA-parameters map for replica
// distribution.
func (s *Snapshot) MarshalHAFile() ([]byte, error) {
	return yaml.Marshal(s.HAPeers)
}

// EachHAPeer visits every configured HA failover entry in deterministic
// (peerID-ascending) order for the chunked MASTER HA_PARAMS distribution.
func (s *Snapshot) EachHAPeer(fn func(peerID uint32, ha HAPeer)) {
	ids := make([]uint32, 0, len(s.HAPeers))
	for id := range s.HAPeers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, s.HAPeers[id])
	}
}
