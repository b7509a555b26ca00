package tree

import "encoding/json"

// Announcement is the nested-JSON wire shape the FNE periodically
// serializes and sends upstream to every connected neighbour-FNE master
// (spec.md §4.9 "Announcement... serializes its subtree as a nested JSON
// array of {id, masterId, identity, children[]}").
type Announcement struct {
	ID       uint32         `json:"id"`
	MasterID uint32         `json:"masterId"`
	Identity string         `json:"identity"`
	Children []Announcement `json:"children"`
}

// Serialize renders peerID's subtree as an Announcement tree.
func (r *Registry) Serialize(peerID uint32) (Announcement, error) {
	n, ok := r.nodes.Load(peerID)
	if !ok {
		return Announcement{}, ErrDanglingNode
	}
	a := Announcement{ID: n.PeerID, MasterID: n.MasterID, Identity: n.Identity}
	for _, childID := range n.Children() {
		child, err := r.Serialize(childID)
		if err != nil {
			continue // dangling child reference: skip rather than fail the whole announcement
		}
		a.Children = append(a.Children, child)
	}
	return a, nil
}

// SerializeRoot renders the full local subtree, the payload sent upstream
// via FuncNetTree/SubNetTreeList (spec.md §6).
func (r *Registry) SerializeRoot() (Announcement, error) {
	return r.Serialize(r.rootPeerID)
}

// MarshalAnnouncement/UnmarshalAnnouncement wrap encoding/json, matching
// spec.md §6's REPL/NET_TREE bodies which are otherwise raw-binary or
// JSON (RPTC is JSON; the tree list sub-function reuses the same JSON
// convention rather than inventing a binary tree encoding).
func MarshalAnnouncement(a Announcement) ([]byte, error) {
	return json.Marshal(a)
}

func UnmarshalAnnouncement(b []byte) (Announcement, error) {
	var a Announcement
	err := json.Unmarshal(b, &a)
	return a, err
}

// DeserializeResult reports the duplicates rejected while merging an
// inbound announcement, so the caller can send NET_TREE_DISC for each.
type DeserializeResult struct {
	Rejected []uint32 // offending peer IDs (spec.md §4.9 "Tree disconnect notification")
}

// MergeAnnouncement deserializes an inbound announcement from
// announcingMasterID into the local tree (spec.md §4.9 "An inbound
// announcement from upstream is deserialized into the local tree: new
// nodes become children of the announcing master; nodes whose parent has
// changed... are moved under the new parent, provided both endpoints
// still exist in the registry"). Nodes present in the registry under
// announcingMasterID's subtree but missing from a.Children are erased
// recursively.
func (r *Registry) MergeAnnouncement(announcingMasterID uint32, a Announcement) DeserializeResult {
	var res DeserializeResult
	seen := make(map[uint32]bool)
	r.mergeChildren(announcingMasterID, a.Children, seen, &res)
	r.pruneMissing(announcingMasterID, seen)
	return res
}

func (r *Registry) mergeChildren(parentID uint32, children []Announcement, seen map[uint32]bool, res *DeserializeResult) {
	for _, c := range children {
		seen[c.ID] = true
		r.mergeOne(parentID, c, res)
		r.mergeChildren(c.ID, c.Children, seen, res)
	}
}

func (r *Registry) mergeOne(parentID uint32, a Announcement, res *DeserializeResult) {
	if existing, ok := r.byMasterID(a.MasterID, a.ID); ok {
		// A different peerId already claims this masterId: duplicate.
		res.Rejected = append(res.Rejected, a.ID)
		return
	}

	n, ok := r.nodes.Load(a.ID)
	if !ok {
		parent, hasParent := r.nodes.Load(parentID)
		if !hasParent {
			return // dangling parent reference: skip, don't fabricate a node under nothing
		}
		n = newNode(a.ID, a.MasterID, a.Identity)
		n.setParent(parentID)
		r.nodes.Store(a.ID, n)
		parent.addChild(a.ID)
		return
	}

	n.Identity = a.Identity
	curParent, hasParent := n.Parent()
	if hasParent && curParent == parentID {
		return
	}
	if !n.noteReparentCandidate(parentID) {
		return
	}
	if _, parentExists := r.nodes.Load(parentID); !parentExists {
		return // both endpoints must still exist in the registry (spec.md §4.9)
	}
	if hasParent {
		if p, ok := r.nodes.Load(curParent); ok {
			p.removeChild(a.ID)
		}
	}
	if p, ok := r.nodes.Load(parentID); ok {
		p.addChild(a.ID)
	}
	n.setParent(parentID)
}

// pruneMissing erases any child of parentID not named in seen, recursing
// into grandchildren first (spec.md §4.9 "Nodes missing from a later
// announcement are erased recursively").
func (r *Registry) pruneMissing(parentID uint32, seen map[uint32]bool) {
	parent, ok := r.nodes.Load(parentID)
	if !ok {
		return
	}
	for _, childID := range parent.Children() {
		if !seen[childID] {
			r.Erase(childID)
		}
	}
}
