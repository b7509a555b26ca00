package peer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

// Engine drives the login/auth/config/ping handshake against a Table,
// generalizing DMRHub's ThreadedUDPServer command handlers (RPTL/RPTK/
// RPTC/RPTP) into an explicit state-machine-checked session engine
// (spec.md §4.2).
type Engine struct {
	Table          *Table
	PeerACL        acl.PeerLookup
	GlobalPassword string
	SoftCap        int
	HardCap        int
}

// Result is the outcome of a handshake step: either an ACK payload to
// send back, or a NAK reason plus whether the connection must be torn
// down.
type Result struct {
	Ack       bool
	AckBody   []byte
	Nak       frame.NakReason
	Disconnect bool
}

func ack(body []byte) Result  { return Result{Ack: true, AckBody: body} }
func nak(reason frame.NakReason, disconnect bool) Result {
	return Result{Nak: reason, Disconnect: disconnect}
}

// Login handles RPTL (spec.md §4.2 "Login (RPTL)"). If peerID is already
// RUNNING, the prior connection is torn down and login begins afresh.
func (e *Engine) Login(ctx context.Context, peerID uint32, remote net.UDPAddr) (Result, error) {
	existing, ok, err := e.Table.Get(ctx, peerID)
	if err != nil {
		return Result{}, err
	}
	if ok && existing.State == StateRunning {
		// "reset peer": tear down and start over.
		if err := e.Table.Delete(ctx, peerID); err != nil {
			return Result{}, err
		}
		ok = false
	}

	if entry, found := e.PeerACL.LookupPeer(peerID); found && !entry.Enabled {
		return nak(frame.NakPeerACL, true), nil
	}

	if !ok {
		count, err := e.Table.Count(ctx)
		if err != nil {
			return Result{}, err
		}
		if count >= e.HardCap || count >= e.SoftCap {
			return nak(frame.NakFNEMaxConn, true), nil
		}
	}

	salt, err := randomSalt()
	if err != nil {
		return Result{}, fmt.Errorf("generating login salt: %w", err)
	}
	conn := New(peerID, salt, remote)
	// The salt is sent with this ACK, so the peer now owes RPTK.
	conn.State = StateWaitingAuth
	if err := e.Table.Store(ctx, conn); err != nil {
		return Result{}, err
	}

	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, salt)
	return ack(body), nil
}

// Authenticate handles RPTK (spec.md §4.2 "Authentication (RPTK)").
func (e *Engine) Authenticate(ctx context.Context, peerID uint32, remote net.UDPAddr, rxHash [32]byte) (Result, error) {
	conn, ok, err := e.Table.Get(ctx, peerID)
	if err != nil {
		return Result{}, err
	}
	if !ok || conn.State != StateWaitingAuth {
		return nak(frame.NakBadConnState, true), nil
	}
	if !conn.MatchesRemote(remote) {
		return nak(frame.NakFNEUnauthorized, true), nil
	}

	password := e.GlobalPassword
	if entry, found := e.PeerACL.LookupPeer(peerID); found && entry.PasswordOverride != "" {
		password = entry.PasswordOverride
	}

	want := saltedHash(conn.Salt, password)
	if want != rxHash {
		return nak(frame.NakFNEUnauthorized, true), nil
	}

	conn.State = StateWaitingConfig
	if err := e.Table.Store(ctx, conn); err != nil {
		return Result{}, err
	}
	return ack(nil), nil
}

// saltedHash computes SHA-256(salt || password) as 4 big-endian bytes of
// salt followed by the password bytes, per spec.md §4.2.
func saltedHash(salt uint32, password string) [32]byte {
	saltBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(saltBytes, salt)
	return sha256.Sum256(append(saltBytes, []byte(password)...))
}

// Configure handles RPTC (spec.md §4.2 "Configuration (RPTC)"). cfg must
// already be parsed by the caller (frame/JSON decode is the caller's
// concern); a parse failure there should map to NakInvalidConfigData
// before Configure is ever called.
func (e *Engine) Configure(ctx context.Context, peerID uint32, remote net.UDPAddr, cfg Config, diagnosticPort bool) (Result, error) {
	conn, ok, err := e.Table.Get(ctx, peerID)
	if err != nil {
		return Result{}, err
	}
	if !ok || conn.State != StateWaitingConfig {
		return nak(frame.NakBadConnState, true), nil
	}
	if !conn.MatchesRemote(remote) {
		return nak(frame.NakFNEUnauthorized, true), nil
	}

	conn.Config = cfg
	conn.State = StateRunning
	conn.Connected = time.Now()
	conn.LastPing = time.Now()
	if entry, found := e.PeerACL.LookupPeer(peerID); found {
		conn.Replica = cfg.ExternalPeer && entry.ReplicaParticipant
	}
	if err := e.Table.Store(ctx, conn); err != nil {
		return Result{}, err
	}

	var diag byte
	if diagnosticPort {
		diag = 1
	}
	return ack([]byte{diag}), nil
}

// Ping handles PING (spec.md §4.2 "Keep-alive"). It returns the 8-byte
// monotonic FNE time to echo back as PONG.
func (e *Engine) Ping(ctx context.Context, peerID uint32, remote net.UDPAddr, nowMs uint64) (Result, error) {
	conn, ok, err := e.Table.Get(ctx, peerID)
	if err != nil {
		return Result{}, err
	}
	if !ok || conn.State != StateRunning {
		return nak(frame.NakBadConnState, true), nil
	}
	if !conn.MatchesRemote(remote) {
		return nak(frame.NakFNEUnauthorized, true), nil
	}

	conn.LastPing = time.Now()
	conn.PingsReceived++
	if err := e.Table.Store(ctx, conn); err != nil {
		return Result{}, err
	}

	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, nowMs)
	return ack(body), nil
}

// Disconnect handles RPT_DISC / RPTCL.
func (e *Engine) Disconnect(ctx context.Context, peerID uint32) error {
	return e.Table.Delete(ctx, peerID)
}

func randomSalt() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(0x100000000))
	if err != nil {
		return 0, err
	}
	return uint32(n.Uint64()), nil
}
