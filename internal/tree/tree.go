// Package tree implements the federation spanning tree described in
// spec.md §4.9: a process-wide registry of nodes keyed by peer ID,
// reparent-on-announcement policy, and duplicate-connection arbitration
// that keeps the federation loop-free.
//
// spec.md §9 ("Cyclic/graph-like state") calls for modeling the tree as
// owned collections keyed by peer ID, with the tree holding integer IDs
// into a node registry rather than raw pointers, and for the registry to
// reject operations on dangling IDs. The lock-striped registry map
// follows internal/calls.AffiliationTable's use of xsync for the same
// reason: frequent concurrent reads (fan-out, announcement serialize)
// against infrequent writes (peer connect/disconnect, reparent).
package tree

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Node is one spanning-tree node (spec.md §4.9 "Peer ID, master peer ID,
// identity string, parent pointer, ordered list of child nodes,
// reparent-countdown counter"). Children are owned by their parent node;
// Parent and Children hold peer IDs, not pointers, per spec.md §9.
type Node struct {
	PeerID   uint32
	MasterID uint32
	Identity string

	mu                sync.Mutex
	parent            uint32
	hasParent         bool
	children          []uint32
	reparentCandidate uint32
	reparentCount     int
}

func newNode(peerID, masterID uint32, identity string) *Node {
	return &Node{PeerID: peerID, MasterID: masterID, Identity: identity}
}

// Parent returns the node's current parent peer ID, if any.
func (n *Node) Parent() (uint32, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent, n.hasParent
}

// Children returns a snapshot of the node's child peer IDs.
func (n *Node) Children() []uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uint32, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) addChild(childPeerID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.children {
		if c == childPeerID {
			return
		}
	}
	n.children = append(n.children, childPeerID)
}

func (n *Node) removeChild(childPeerID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c == childPeerID {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

func (n *Node) setParent(parentPeerID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parent = parentPeerID
	n.hasParent = true
	n.reparentCount = 0
	n.reparentCandidate = 0
}

// maxUpdatesBeforeReparent mirrors s_maxUpdatesBeforeReparent (spec.md
// §4.9): a node's apparent parent must disagree with the registry for
// this many consecutive announcements before the registry actually
// moves it.
const maxUpdatesBeforeReparent = 3

// noteReparentCandidate records one announcement disagreeing with the
// node's current parent and reports whether the countdown has now
// elapsed (spec.md §4.9 "nodes whose parent has changed across
// s_maxUpdatesBeforeReparent consecutive announcements are moved").
func (n *Node) noteReparentCandidate(candidateParent uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hasParent && n.parent == candidateParent {
		n.reparentCount = 0
		n.reparentCandidate = 0
		return false
	}
	if n.reparentCandidate != candidateParent {
		n.reparentCandidate = candidateParent
		n.reparentCount = 1
	} else {
		n.reparentCount++
	}
	return n.reparentCount >= maxUpdatesBeforeReparent
}

// ErrDanglingNode is returned when an operation references a peer ID not
// present in the registry, per spec.md §9's "must reject operations on
// dangling IDs".
var ErrDanglingNode = fmt.Errorf("tree: dangling node reference")

// ErrDuplicateConn is returned when a login or announcement would create
// a second node sharing a masterId with an existing, distinct peerId
// (spec.md §4.9 "Duplicate detection").
var ErrDuplicateConn = fmt.Errorf("tree: duplicate connection")

// Registry is the process-wide spanning-tree node registry (spec.md §9
// "Global mutable state... model them as explicit singletons with
// init/teardown tied to FNE lifecycle"). A Registry is owned by one FNE
// instance's lifecycle rather than a package-level global, so tests and
// multiple in-process FNE instances don't share state.
type Registry struct {
	rootPeerID uint32
	nodes      *xsync.Map[uint32, *Node]
}

// NewRegistry constructs a Registry rooted at rootPeerID (the local
// FNE's own peer ID).
func NewRegistry(rootPeerID uint32) *Registry {
	r := &Registry{
		rootPeerID: rootPeerID,
		nodes:      xsync.NewMap[uint32, *Node](),
	}
	root := newNode(rootPeerID, rootPeerID, "local")
	r.nodes.Store(rootPeerID, root)
	return r
}

// Lookup returns the node for peerID, if registered.
func (r *Registry) Lookup(peerID uint32) (*Node, bool) {
	return r.nodes.Load(peerID)
}

// byMasterID scans for an existing node sharing masterID, other than
// excludePeerID. The tree is small and mutated infrequently (spec.md §5
// "tree mutations are infrequent"), so a linear scan under the
// registry's lock-striped map is appropriate.
func (r *Registry) byMasterID(masterID, excludePeerID uint32) (*Node, bool) {
	var found *Node
	r.nodes.Range(func(peerID uint32, n *Node) bool {
		if peerID != excludePeerID && n.MasterID == masterID {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// ConnectResult is the outcome of Connect.
type ConnectResult struct {
	// Accepted is false when the connection must be rejected with
	// FNE_DUPLICATE_CONN (spec.md §4.2, §4.9).
	Accepted bool
	// FastReconnect is true when the same (peerId, masterId) pair
	// reconnected and was silently reparented to the root rather than
	// creating a new node.
	FastReconnect bool
	// OffendingPeerID is populated when Accepted is false, the peer ID a
	// NET_TREE_DISC notification should name (spec.md §4.9 "Tree
	// disconnect notification").
	OffendingPeerID uint32
}

// Connect handles a neighbour-FNE peer's configuration exchange (spec.md
// §4.2 "For a neighbour-FNE peer... the spanning tree is consulted").
// If a node already exists with the same masterID: the same (peerId,
// masterId) pair is accepted as a fast-reconnect and moved under the
// local root; a different peerId sharing masterID is rejected as a
// duplicate. Otherwise a new node is created as a child of parentPeerID.
func (r *Registry) Connect(peerID, masterID uint32, identity string, parentPeerID uint32) (ConnectResult, error) {
	if existing, ok := r.nodes.Load(peerID); ok && peerID != r.rootPeerID && existing.MasterID == masterID {
		// Same (peerId, masterId): fast-reconnect, silent reparent to root.
		if oldParent, hasParent := existing.Parent(); hasParent {
			if p, ok := r.nodes.Load(oldParent); ok {
				p.removeChild(peerID)
			}
		}
		existing.setParent(r.rootPeerID)
		if root, ok := r.nodes.Load(r.rootPeerID); ok {
			root.addChild(peerID)
		}
		return ConnectResult{Accepted: true, FastReconnect: true}, nil
	}
	if _, ok := r.byMasterID(masterID, peerID); ok {
		return ConnectResult{Accepted: false, OffendingPeerID: peerID}, nil
	}

	parent, ok := r.nodes.Load(parentPeerID)
	if !ok {
		return ConnectResult{}, fmt.Errorf("connecting peer %d under parent %d: %w", peerID, parentPeerID, ErrDanglingNode)
	}
	n := newNode(peerID, masterID, identity)
	n.setParent(parentPeerID)
	r.nodes.Store(peerID, n)
	parent.addChild(peerID)
	return ConnectResult{Accepted: true}, nil
}

// Erase removes peerID and recursively erases its children, mirroring
// spec.md §4.9/§3 lifecycle: "destroyed on peer erase; children recurse."
func (r *Registry) Erase(peerID uint32) {
	if peerID == r.rootPeerID {
		return
	}
	n, ok := r.nodes.Load(peerID)
	if !ok {
		return
	}
	for _, child := range n.Children() {
		r.Erase(child)
	}
	if parentID, hasParent := n.Parent(); hasParent {
		if p, ok := r.nodes.Load(parentID); ok {
			p.removeChild(peerID)
		}
	}
	r.nodes.Delete(peerID)
}

// PathToRoot returns peerID's parent chain up to and including the root,
// used by the invariant check in spec.md §8: "N's parent chain
// terminates at R with no cycles and no visited-twice node." Returns an
// error if a cycle is detected instead of looping forever.
func (r *Registry) PathToRoot(peerID uint32) ([]uint32, error) {
	visited := make(map[uint32]bool)
	path := []uint32{peerID}
	visited[peerID] = true
	cur := peerID
	for cur != r.rootPeerID {
		n, ok := r.nodes.Load(cur)
		if !ok {
			return nil, fmt.Errorf("path to root: %w: %d", ErrDanglingNode, cur)
		}
		parentID, hasParent := n.Parent()
		if !hasParent {
			return nil, fmt.Errorf("node %d has no parent and is not root", cur)
		}
		if visited[parentID] {
			return nil, fmt.Errorf("cycle detected reaching parent %d from %d", parentID, cur)
		}
		visited[parentID] = true
		path = append(path, parentID)
		cur = parentID
	}
	return path, nil
}
