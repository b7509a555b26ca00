package otar

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/ciphers"
)

// pendingLockTimeout mirrors spec.md §5's "try_lock_for(60ms) on a
// class-static timed mutex before mutating the pending-key map."
const pendingLockTimeout = 60 * time.Millisecond

// ErrLockTimeout is returned when the pending-key map's lock could not
// be acquired within pendingLockTimeout.
var ErrLockTimeout = fmt.Errorf("otar: pending-key map lock timed out")

// timedMutex is a mutex with a bounded-wait Lock, generalizing the
// source's class-static std::timed_mutex to Go's channel-as-semaphore
// idiom (no stdlib equivalent to try_lock_for exists).
type timedMutex chan struct{}

func newTimedMutex() timedMutex { return make(timedMutex, 1) }

func (m timedMutex) TryLockFor(d time.Duration) bool {
	select {
	case m <- struct{}{}:
		return true
	case <-time.After(d):
		return false
	}
}

func (m timedMutex) Unlock() { <-m }

// Upstream forwards a KEY_REQ to every replica-configured master
// connection when a key is not found locally (spec.md §4.8 "forwarded
// upstream to all replica-configured master connections").
type Upstream interface {
	ForwardKeyRequest(kid uint16) error
}

// PeerReply delivers a KMM response frame back to a waiting peer.
type PeerReply interface {
	SendKeyResponse(peerID uint32, f Frame) error
}

// Service implements spec.md §4.8: inbound KMM message handling, the
// Rekey-Command builder, and the peer key-request forward/pending-queue
// path.
type Service struct {
	Keys    acl.KeyContainer
	PeerACL acl.PeerLookup
	Upstream Upstream
	Reply   PeerReply
	Log     *slog.Logger

	// KMFServicesEnabled gates DEREG_CMD: disabled replies NoService,
	// enabled replies Dereg_Response/CMD_PERFORMED. HELLO does not consult
	// this flag (see HandleHello).
	KMFServicesEnabled bool
	// AllowNoUKEKRekey permits an absent UKEK to fall back to
	// plaintext-keyed Rekey-Commands, logged at high visibility (spec.md
	// §4.8).
	AllowNoUKEKRekey bool

	pendingMu timedMutex
	pending   map[uint16][]uint32 // kid -> waiting peer IDs

	helloWarned bool
}

// NewService constructs a Service. log may be nil, in which case a
// discarding logger is used.
func NewService(keys acl.KeyContainer, peerACL acl.PeerLookup, upstream Upstream, reply PeerReply, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		Keys:      keys,
		PeerACL:   peerACL,
		Upstream:  upstream,
		Reply:     reply,
		Log:       log,
		pendingMu: newTimedMutex(),
		pending:   make(map[uint16][]uint32),
	}
}

// RejectReason values for NoService/error replies.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectNoService
)

// HandleHello processes an inbound HELLO (rekey request). The KMF
// services-enabled check that would gate this reply is dead in the
// original implementation, so HELLO always replies NoService
// regardless of KMFServicesEnabled (spec.md §9 open question,
// resolved to match the original's actual, not its commented-out,
// behavior).
func (s *Service) HandleHello(peerID uint32, rsi uint32) (reject RejectReason, cmd *ModifyKey, wrapped bool) {
	if !s.helloWarned {
		s.Log.Warn("HELLO rejected: KMF services not offered", "peerId", peerID, "rsi", rsi)
		s.helloWarned = true
	}
	return RejectNoService, nil, false
}

// HandleStatus logs the per-status reason for NAK / REKEY_ACK / REG_RSP /
// UNABLE_TO_DECRYPT, none of which produce a further message (spec.md
// §4.8's table).
func (s *Service) HandleStatus(msg MessageID, peerID uint32, status byte) {
	s.Log.Info("kmm status message", "message", msg, "peerId", peerID, "status", status)
}

// HandleDeregCmd responds to DEREG_CMD. When KMFServicesEnabled is
// false it replies NoService; when true it replies
// Dereg_Response/CMD_PERFORMED (spec.md §4.8, matching the original's
// live m_kmfServicesEnabled check for this message, unlike HELLO's).
func (s *Service) HandleDeregCmd(srcLLID, dstLLID uint32) Frame {
	if !s.KMFServicesEnabled {
		return Frame{
			MessageID: MsgNak,
			SrcLLID:   dstLLID,
			DstLLID:   srcLLID,
			Body:      []byte{byte(RejectNoService)},
		}
	}
	return Frame{
		MessageID: MsgDeregResponse,
		SrcLLID:   dstLLID,
		DstLLID:   srcLLID,
		Body:      []byte{byte(CmdPerformed)},
	}
}

// BuildRekeyCommand builds a KMMModifyKey populated from every AES-256
// key in the key container, wrapped under the UKEK associated with rsi
// when present (spec.md §4.8 "Rekey-Command (OSP)"). If no UKEK is
// provisioned for rsi, keys travel in plaintext only when
// AllowNoUKEKRekey is set; otherwise an error is returned. The returned
// bool reports whether the items are wrapped.
func (s *Service) BuildRekeyCommand(rsi uint32) (ModifyKey, bool, error) {
	ukek, hasUKEK := s.Keys.LookupUKEK(rsi)
	if !hasUKEK && !s.AllowNoUKEKRekey {
		return ModifyKey{}, false, fmt.Errorf("otar: no UKEK for rsi %d and AllowNoUKEKRekey is disabled", rsi)
	}
	if !hasUKEK {
		s.Log.Warn("REKEY COMMAND SENT WITH PLAINTEXT KEYS: no UKEK provisioned", "rsi", rsi)
	}

	mk := ModifyKey{RSI: rsi}
	var wrapErr error
	s.Keys.EachTEK(func(kid uint16, tek [32]byte) {
		if wrapErr != nil {
			return
		}
		item := KeyItem{AlgID: ciphers.AlgIDAES256, KeyID: kid}
		if hasUKEK {
			wrapped, err := ciphers.KeyWrapAES256(tek[:], ukek)
			if err != nil {
				wrapErr = fmt.Errorf("wrapping tek %d: %w", kid, err)
				return
			}
			item.KeyData = wrapped
		} else {
			item.KeyData = append([]byte{}, tek[:]...)
		}
		mk.Items = append(mk.Items, item)
	})
	if wrapErr != nil {
		return ModifyKey{}, false, wrapErr
	}
	return mk, hasUKEK, nil
}

// MACCommand computes the CBC-MAC over a serialized Rekey-Command under
// the UKEK associated with rsi (spec.md §4.8 "A CBC-MAC is computed over
// the serialized command with the UKEK and appended").
func (s *Service) MACCommand(serialized []byte, rsi uint32) ([]byte, error) {
	ukek, ok := s.Keys.LookupUKEK(rsi)
	if !ok {
		return nil, fmt.Errorf("otar: no UKEK for rsi %d", rsi)
	}
	return ciphers.CBCMAC(serialized, ukek)
}

// HandleKeyRequest implements spec.md §4.8's "Key request from a peer"
// path: ACL-check the requester, check the local key container, and
// either synthesize a response directly (hit) or forward upstream and
// queue the peer (miss).
func (s *Service) HandleKeyRequest(peerID uint32, kid uint16, rsi uint32) (response *ModifyKey, wrapped bool, forwarded bool, err error) {
	entry, found := s.PeerACL.LookupPeer(peerID)
	if !found || !entry.CanRequestKeys {
		return nil, false, false, fmt.Errorf("otar: peer %d not permitted to request keys", peerID)
	}

	if _, ok := s.Keys.LookupTEK(kid); ok {
		mk, w, buildErr := s.BuildRekeyCommand(rsi)
		if buildErr != nil {
			return nil, false, false, buildErr
		}
		return &mk, w, false, nil
	}

	if err := s.queuePending(kid, peerID); err != nil {
		return nil, false, false, err
	}
	if s.Upstream != nil {
		if err := s.Upstream.ForwardKeyRequest(kid); err != nil {
			return nil, false, false, fmt.Errorf("forwarding key request upstream: %w", err)
		}
	}
	return nil, false, true, nil
}

func (s *Service) queuePending(kid uint16, peerID uint32) error {
	if !s.pendingMu.TryLockFor(pendingLockTimeout) {
		return ErrLockTimeout
	}
	defer s.pendingMu.Unlock()
	s.pending[kid] = append(s.pending[kid], peerID)
	return nil
}

// OnUpstreamKeyResponse flushes every peer waiting on kid, sending each
// the same response frame (spec.md §4.8 "When the upstream response
// arrives, all pending peers waiting on that kid are flushed").
func (s *Service) OnUpstreamKeyResponse(kid uint16, resp Frame) error {
	if !s.pendingMu.TryLockFor(pendingLockTimeout) {
		return ErrLockTimeout
	}
	waiters := s.pending[kid]
	delete(s.pending, kid)
	s.pendingMu.Unlock()

	for _, peerID := range waiters {
		if err := s.Reply.SendKeyResponse(peerID, resp); err != nil {
			s.Log.Error("sending key response", "peerId", peerID, "kid", kid, "error", err)
		}
	}
	return nil
}
