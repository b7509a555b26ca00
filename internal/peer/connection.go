package peer

import (
	"net"
	"time"
)

// JitterBufferParams configures per-peer jitter buffering (spec.md §3
// "Peer connection... jitter-buffer parameters").
type JitterBufferParams struct {
	DepthMs  int `msg:"depthMs" json:"depthMs"`
	MaxDepth int `msg:"maxDepth" json:"maxDepth"`
}

// Connection is the full per-peer session state (spec.md §3 "Peer
// connection"). It is what the Redis-backed Table stores and what the
// session engine (session.go) mutates as the handshake advances.
type Connection struct {
	PeerID     uint32          `msg:"peerId"`
	Remote     net.UDPAddr     `msg:"-"`
	RemoteIP   string          `msg:"remoteIp"`
	RemotePort int             `msg:"remotePort"`
	Salt       uint32          `msg:"salt"`
	State      ConnectionState `msg:"state"`

	Config Config `msg:"config"`

	LastPing              time.Time `msg:"lastPing"`
	PingsReceived         int       `msg:"pingsReceived"`
	MissedMetadataUpdates int       `msg:"missedMetadataUpdates"`

	ControlChannelPeerID *uint32 `msg:"controlChannelPeerId"`

	Replica         bool `msg:"replica"`
	HasCallPriority bool `msg:"hasCallPriority"`

	Jitter JitterBufferParams `msg:"jitter"`

	Connected time.Time `msg:"connected"`
}

// New constructs a fresh connection in StateWaitingLogin, as created on
// login reception (spec.md §4.2 "Login (RPTL)").
func New(peerID uint32, salt uint32, remote net.UDPAddr) Connection {
	return Connection{
		PeerID:     peerID,
		Remote:     remote,
		RemoteIP:   remote.IP.String(),
		RemotePort: remote.Port,
		Salt:       salt,
		State:      StateWaitingLogin,
		LastPing:   time.Now(),
		Connected:  time.Now(),
	}
}

// MatchesRemote reports whether addr exactly matches the connection's
// stored socket address, the check the WAITING_* states require on every
// message (spec.md §4.2).
func (c Connection) MatchesRemote(addr net.UDPAddr) bool {
	return c.RemoteIP == addr.IP.String() && c.RemotePort == addr.Port
}

// PingTimeout returns whether the connection has exceeded its missed-ping
// budget. Neighbour-FNE/replica peers get a doubled budget (spec.md §4.2
// "Keep-alive").
func (c Connection) PingTimeout(now time.Time, pingTime time.Duration, maxMissed int) bool {
	budget := pingTime * time.Duration(maxMissed)
	if c.Replica || c.Config.ExternalPeer {
		budget *= 2
	}
	return now.Sub(c.LastPing) > budget
}
