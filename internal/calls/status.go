// Package calls implements the per-destination call-status table, the
// per-peer affiliation table, and the parrot recorder/player described in
// spec.md §3 ("Call status", "Affiliation table") and §4.6 ("Collision,
// Takeover & Priority", "Parrot"). The call-status table generalizes
// internal/peer's Redis-backed Table (table.go) from a per-peer key to a
// per-(protocol, destination) key.
package calls

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinylib/msgp/msgp"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
)

// keyTTL bounds how long a stale call-status entry survives a crash
// between the terminator frame never arriving and the idle-timeout sweep
// that would otherwise clear it.
const keyTTL = 30 * time.Second

// CallStatus is the per-(protocol, destination ID) call record (spec.md
// §3 "Call status").
type CallStatus struct {
	Protocol frame.SubFunction
	DstID    uint32

	CallStartTime  time.Time
	LastPacketTime time.Time

	SrcID    uint32
	PeerID   uint32
	SSRC     uint32
	StreamID uint32

	Active       bool
	CallTakeover bool

	// Slot is the DMR timeslot; meaningless for other protocols.
	Slot int

	// DestPeerID is the P25 private-call destination peer, resolved from
	// the destination RID's unit-registration entry.
	DestPeerID uint32

	// LogicalLinkID and PDUBlockState are populated only for P25 PDU
	// calls; the block-assembler state itself is owned and serialized by
	// internal/pdu, which treats PDUBlockState as opaque bytes here so
	// this package does not need to import it.
	LogicalLinkID uint32
	PDUBlockState []byte
}

func callKey(protocol frame.SubFunction, dstID uint32) string {
	return fmt.Sprintf("fne:call:%d:%d", protocol, dstID)
}

var statusFields = []string{
	"protocol", "dstId", "callStartTime", "lastPacketTime",
	"srcId", "peerId", "ssrc", "streamId",
	"active", "callTakeover", "slot",
	"destPeerId", "logicalLinkId", "pduBlockState",
}

// MarshalMsg encodes s for storage in the call-status table, in the same
// hand-maintained-codegen style as internal/peer's Connection.MarshalMsg.
func (s *CallStatus) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, uint32(len(statusFields)))
	for _, field := range statusFields {
		o = msgp.AppendString(o, field)
		switch field {
		case "protocol":
			o = msgp.AppendUint8(o, uint8(s.Protocol))
		case "dstId":
			o = msgp.AppendUint32(o, s.DstID)
		case "callStartTime":
			o = msgp.AppendTime(o, s.CallStartTime)
		case "lastPacketTime":
			o = msgp.AppendTime(o, s.LastPacketTime)
		case "srcId":
			o = msgp.AppendUint32(o, s.SrcID)
		case "peerId":
			o = msgp.AppendUint32(o, s.PeerID)
		case "ssrc":
			o = msgp.AppendUint32(o, s.SSRC)
		case "streamId":
			o = msgp.AppendUint32(o, s.StreamID)
		case "active":
			o = msgp.AppendBool(o, s.Active)
		case "callTakeover":
			o = msgp.AppendBool(o, s.CallTakeover)
		case "slot":
			o = msgp.AppendInt(o, s.Slot)
		case "destPeerId":
			o = msgp.AppendUint32(o, s.DestPeerID)
		case "logicalLinkId":
			o = msgp.AppendUint32(o, s.LogicalLinkID)
		case "pduBlockState":
			o = msgp.AppendBytes(o, s.PDUBlockState)
		}
	}
	return o, nil
}

// UnmarshalMsg decodes b into s.
func (s *CallStatus) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, o, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("reading call status map header: %w", err)
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, o, err = msgp.ReadStringBytes(o)
		if err != nil {
			return nil, fmt.Errorf("reading call status field name: %w", err)
		}
		switch field {
		case "protocol":
			var p uint8
			p, o, err = msgp.ReadUint8Bytes(o)
			s.Protocol = frame.SubFunction(p)
		case "dstId":
			s.DstID, o, err = msgp.ReadUint32Bytes(o)
		case "callStartTime":
			s.CallStartTime, o, err = msgp.ReadTimeBytes(o)
		case "lastPacketTime":
			s.LastPacketTime, o, err = msgp.ReadTimeBytes(o)
		case "srcId":
			s.SrcID, o, err = msgp.ReadUint32Bytes(o)
		case "peerId":
			s.PeerID, o, err = msgp.ReadUint32Bytes(o)
		case "ssrc":
			s.SSRC, o, err = msgp.ReadUint32Bytes(o)
		case "streamId":
			s.StreamID, o, err = msgp.ReadUint32Bytes(o)
		case "active":
			s.Active, o, err = msgp.ReadBoolBytes(o)
		case "callTakeover":
			s.CallTakeover, o, err = msgp.ReadBoolBytes(o)
		case "slot":
			s.Slot, o, err = msgp.ReadIntBytes(o)
		case "destPeerId":
			s.DestPeerID, o, err = msgp.ReadUint32Bytes(o)
		case "logicalLinkId":
			s.LogicalLinkID, o, err = msgp.ReadUint32Bytes(o)
		case "pduBlockState":
			s.PDUBlockState, o, err = msgp.ReadBytesBytes(o, nil)
		default:
			o, err = msgp.Skip(o)
		}
		if err != nil {
			return nil, fmt.Errorf("reading call status field %q: %w", field, err)
		}
	}
	return o, nil
}

// store is the minimal key-value contract Table needs; see
// internal/peer's identically-shaped seam for the rationale (tests
// substitute an in-memory fake rather than requiring a live Redis).
type store interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, bool, error)
	del(ctx context.Context, key string) error
}

type redisStore struct {
	rdb *redis.Client
}

func (s *redisStore) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Table is the Redis-backed call-status table, shared across a
// federation of FNE worker processes the same way internal/peer.Table is
// (spec.md §5 "shared-lock pattern for fan-out").
type Table struct {
	backing store
}

// NewTable constructs a Table backed by rdb.
func NewTable(rdb *redis.Client) *Table {
	return &Table{backing: &redisStore{rdb: rdb}}
}

func newTableWithStore(backing store) *Table {
	return &Table{backing: backing}
}

// Get fetches the call status for (protocol, dstID).
func (t *Table) Get(ctx context.Context, protocol frame.SubFunction, dstID uint32) (CallStatus, bool, error) {
	b, ok, err := t.backing.get(ctx, callKey(protocol, dstID))
	if err != nil {
		return CallStatus{}, false, fmt.Errorf("fetching call %d/%d: %w", protocol, dstID, err)
	}
	if !ok {
		return CallStatus{}, false, nil
	}
	var s CallStatus
	if _, err := s.UnmarshalMsg(b); err != nil {
		return CallStatus{}, false, fmt.Errorf("unmarshaling call %d/%d: %w", protocol, dstID, err)
	}
	return s, true, nil
}

// Store persists s, refreshing its TTL.
func (t *Table) Store(ctx context.Context, s CallStatus) error {
	b, err := s.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("marshaling call %d/%d: %w", s.Protocol, s.DstID, err)
	}
	if err := t.backing.set(ctx, callKey(s.Protocol, s.DstID), b, keyTTL); err != nil {
		return fmt.Errorf("storing call %d/%d: %w", s.Protocol, s.DstID, err)
	}
	return nil
}

// Delete clears the call status for (protocol, dstID), e.g. on terminator
// receipt (spec.md §4.6).
func (t *Table) Delete(ctx context.Context, protocol frame.SubFunction, dstID uint32) error {
	if err := t.backing.del(ctx, callKey(protocol, dstID)); err != nil {
		return fmt.Errorf("deleting call %d/%d: %w", protocol, dstID, err)
	}
	return nil
}
