// Package peer implements the peer session engine: the login/auth/config
// handshake, per-peer connection state machine, keep-alive tracking, and
// the Redis-backed peer table, per spec.md §4.2 and §3 "Peer connection".
package peer

// ConnectionState is the peer session state machine (spec.md §3, §4.2):
//
//	INVALID -> WAITING_LOGIN -> WAITING_AUTH -> WAITING_CONFIG -> RUNNING
//
// Every transition is linear; any message received in the wrong state is
// NAK'd with BAD_CONN_STATE and the connection is torn down.
type ConnectionState int

const (
	StateInvalid ConnectionState = iota
	StateWaitingLogin
	StateWaitingAuth
	StateWaitingConfig
	StateRunning
)

func (s ConnectionState) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateWaitingLogin:
		return "WAITING_LOGIN"
	case StateWaitingAuth:
		return "WAITING_AUTH"
	case StateWaitingConfig:
		return "WAITING_CONFIG"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Connected reports the invariant from spec.md §3: "connectionState ==
// RUNNING <=> connected == true".
func (s ConnectionState) Connected() bool {
	return s == StateRunning
}

// next defines the only legal forward transitions (INVALID can also go
// straight to WAITING_LOGIN on a fresh login, and any state can reset
// back to WAITING_LOGIN on "reset peer").
var next = map[ConnectionState]ConnectionState{
	StateInvalid:       StateWaitingLogin,
	StateWaitingLogin:  StateWaitingAuth,
	StateWaitingAuth:   StateWaitingConfig,
	StateWaitingConfig: StateRunning,
}

// CanAdvance reports whether the state machine may move from cur to want
// on receipt of the message type that drives that edge.
func CanAdvance(cur, want ConnectionState) bool {
	return next[cur] == want
}
