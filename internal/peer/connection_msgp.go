package peer

import (
	"fmt"
	"time"

	"github.com/tinylib/msgp/msgp"
)

var connectionFields = []string{
	"peerId", "remoteIp", "remotePort", "salt", "state", "config",
	"lastPing", "pingsReceived", "missedMetadataUpdates",
	"controlChannelPeerId", "replica", "hasCallPriority",
	"jitterDepthMs", "jitterMaxDepth", "connected",
}

// MarshalMsg encodes a Connection for storage in the Redis-backed peer
// table (internal/peer's generalization of DMRHub's
// ThreadedUDPServer.storePeer, which msgp-marshals HomeBrewProtocolPeer).
func (c *Connection) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, uint32(len(connectionFields)))
	var err error
	for _, field := range connectionFields {
		o = msgp.AppendString(o, field)
		switch field {
		case "peerId":
			o = msgp.AppendUint32(o, c.PeerID)
		case "remoteIp":
			o = msgp.AppendString(o, c.RemoteIP)
		case "remotePort":
			o = msgp.AppendInt(o, c.RemotePort)
		case "salt":
			o = msgp.AppendUint32(o, c.Salt)
		case "state":
			o = msgp.AppendInt(o, int(c.State))
		case "config":
			o, err = c.Config.MarshalMsg(o)
			if err != nil {
				return nil, fmt.Errorf("marshaling nested config: %w", err)
			}
		case "lastPing":
			o = msgp.AppendTime(o, c.LastPing)
		case "pingsReceived":
			o = msgp.AppendInt(o, c.PingsReceived)
		case "missedMetadataUpdates":
			o = msgp.AppendInt(o, c.MissedMetadataUpdates)
		case "controlChannelPeerId":
			if c.ControlChannelPeerID == nil {
				o = msgp.AppendBool(o, false)
				o = msgp.AppendUint32(o, 0)
			} else {
				o = msgp.AppendBool(o, true)
				o = msgp.AppendUint32(o, *c.ControlChannelPeerID)
			}
		case "replica":
			o = msgp.AppendBool(o, c.Replica)
		case "hasCallPriority":
			o = msgp.AppendBool(o, c.HasCallPriority)
		case "jitterDepthMs":
			o = msgp.AppendInt(o, c.Jitter.DepthMs)
		case "jitterMaxDepth":
			o = msgp.AppendInt(o, c.Jitter.MaxDepth)
		case "connected":
			o = msgp.AppendTime(o, c.Connected)
		}
	}
	return o, nil
}

// UnmarshalMsg decodes b into c.
func (c *Connection) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, o, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("reading connection map header: %w", err)
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, o, err = msgp.ReadStringBytes(o)
		if err != nil {
			return nil, fmt.Errorf("reading connection field name: %w", err)
		}
		switch field {
		case "peerId":
			c.PeerID, o, err = msgp.ReadUint32Bytes(o)
		case "remoteIp":
			c.RemoteIP, o, err = msgp.ReadStringBytes(o)
		case "remotePort":
			c.RemotePort, o, err = msgp.ReadIntBytes(o)
		case "salt":
			c.Salt, o, err = msgp.ReadUint32Bytes(o)
		case "state":
			var s int
			s, o, err = msgp.ReadIntBytes(o)
			c.State = ConnectionState(s)
		case "config":
			o, err = c.Config.UnmarshalMsg(o)
		case "lastPing":
			var t time.Time
			t, o, err = msgp.ReadTimeBytes(o)
			c.LastPing = t
		case "pingsReceived":
			c.PingsReceived, o, err = msgp.ReadIntBytes(o)
		case "missedMetadataUpdates":
			c.MissedMetadataUpdates, o, err = msgp.ReadIntBytes(o)
		case "controlChannelPeerId":
			var present bool
			present, o, err = msgp.ReadBoolBytes(o)
			if err != nil {
				break
			}
			var v uint32
			v, o, err = msgp.ReadUint32Bytes(o)
			if present {
				c.ControlChannelPeerID = &v
			} else {
				c.ControlChannelPeerID = nil
			}
		case "replica":
			c.Replica, o, err = msgp.ReadBoolBytes(o)
		case "hasCallPriority":
			c.HasCallPriority, o, err = msgp.ReadBoolBytes(o)
		case "jitterDepthMs":
			c.Jitter.DepthMs, o, err = msgp.ReadIntBytes(o)
		case "jitterMaxDepth":
			c.Jitter.MaxDepth, o, err = msgp.ReadIntBytes(o)
		case "connected":
			var t time.Time
			t, o, err = msgp.ReadTimeBytes(o)
			c.Connected = t
		default:
			o, err = msgp.Skip(o)
		}
		if err != nil {
			return nil, fmt.Errorf("reading connection field %q: %w", field, err)
		}
	}
	return o, nil
}
