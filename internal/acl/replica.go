package acl

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReplicaSink persists the raw ACL files sent to neighbour-FNE replica
// peers (spec.md §4.2 "Metadata distribution... raw ACL files"). This
// resolves the open question in spec.md §9 ("m_peerReplicaSavesACL
// defaults to storing ACLs into randomized /tmp files; the persistence
// target under a production deployment is not specified"): rather than
// hard-code a target, the FNE depends on this interface and a production
// deployment injects its own (S3, a config-managed directory, etc).
type ReplicaSink interface {
	// SaveACL persists the named ACL payload (e.g. "rid", "tgid", "peer",
	// "ha") for later redistribution or audit.
	SaveACL(name string, payload []byte) error
}

// TempDirReplicaSink is the reference ReplicaSink: it writes into a
// caller-supplied directory (defaulting to os.TempDir(), matching the
// documented-but-unspecified current behavior) rather than a randomized
// path, so the persistence target is at least predictable and cleanable.
type TempDirReplicaSink struct {
	Dir string
}

// NewTempDirReplicaSink constructs a sink rooted at dir, or os.TempDir()
// if dir is empty.
func NewTempDirReplicaSink(dir string) *TempDirReplicaSink {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempDirReplicaSink{Dir: dir}
}

// SaveACL implements ReplicaSink.
func (s *TempDirReplicaSink) SaveACL(name string, payload []byte) error {
	path := filepath.Join(s.Dir, fmt.Sprintf("fne-acl-%s.bin", name))
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("saving acl %q: %w", name, err)
	}
	return nil
}
