package server

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/otar"
	"github.com/lorenzolrom/dvmhost-sub000/internal/peer"
	"github.com/lorenzolrom/dvmhost-sub000/internal/tree"
)

// handleTraffic is the traffic socket's dispatch entry point (spec.md
// §6's opcode table), generalizing the teacher's own
// ThreadedUDPServer.handlePacket command switch into the FNE's richer,
// multi-protocol opcode set.
func (s *Server) handleTraffic(ctx context.Context, remote net.UDPAddr, data []byte) {
	pkt, err := frame.Decode(data)
	if err != nil {
		s.log.Warn("dropping malformed traffic datagram", "remote", remote.String(), "error", err)
		return
	}

	switch pkt.FNE.Function {
	case frame.FuncRPTL:
		s.handleLogin(ctx, remote, pkt)
	case frame.FuncRPTK:
		s.handleAuth(ctx, remote, pkt)
	case frame.FuncRPTC:
		s.handleConfig(ctx, remote, pkt)
	case frame.FuncRPTDisc:
		s.handlePeerDisconnect(ctx, pkt.FNE.PeerID)
	case frame.FuncPing:
		s.handlePing(ctx, remote, pkt)
	case frame.FuncProtocol:
		s.handleProtocolFrame(ctx, pkt)
	case frame.FuncGrantReq:
		s.handleGrantReq(remote, pkt)
	case frame.FuncKeyReq:
		s.handleKeyReq(remote, pkt)
	case frame.FuncAnnounce:
		s.handleAnnounce(pkt)
	case frame.FuncNetTree:
		s.handleNetTree(remote, pkt)
	default:
		s.log.Debug("traffic function has no traffic-socket handler", "function", pkt.FNE.Function, "peerId", pkt.FNE.PeerID)
	}
}

// reply frames and sends an FNE-header-only (no RTP timing info needed
// for control traffic) response back to remote.
func (s *Server) reply(remote net.UDPAddr, streamID, peerID uint32, fn frame.Function, sub frame.SubFunction, body []byte) {
	pkt := frame.Packet{
		FNE:  frame.Header{PeerID: peerID, StreamID: streamID, Function: fn, SubFunction: sub},
		Body: body,
	}
	if err := s.traffic.send(remote, pkt.Encode()); err != nil {
		s.log.Error("sending traffic reply", "peerId", peerID, "function", fn, "error", err)
	}
}

// respondHandshake maps a peer.Result from the login/auth/config engine
// onto an ACK or NAK datagram, tearing the connection down locally when
// the result demands it.
func (s *Server) respondHandshake(ctx context.Context, remote net.UDPAddr, peerID, streamID uint32, res peer.Result) {
	if res.Ack {
		s.reply(remote, streamID, peerID, frame.FuncAck, 0, res.AckBody)
		return
	}
	s.reply(remote, streamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, res.Nak))
	if res.Disconnect {
		if err := s.peerEngine.Disconnect(ctx, peerID); err != nil {
			s.log.Error("disconnecting peer after handshake failure", "peerId", peerID, "error", err)
		}
	}
}

func (s *Server) handleLogin(ctx context.Context, remote net.UDPAddr, pkt frame.Packet) {
	res, err := s.peerEngine.Login(ctx, pkt.FNE.PeerID, remote)
	if err != nil {
		s.log.Error("login failed", "peerId", pkt.FNE.PeerID, "error", err)
		return
	}
	s.respondHandshake(ctx, remote, pkt.FNE.PeerID, pkt.FNE.StreamID, res)
}

func (s *Server) handleAuth(ctx context.Context, remote net.UDPAddr, pkt frame.Packet) {
	peerID := pkt.FNE.PeerID
	if len(pkt.Body) < 32 {
		s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, frame.NakIllegalPacket))
		return
	}
	var hash [32]byte
	copy(hash[:], pkt.Body[:32])

	res, err := s.peerEngine.Authenticate(ctx, peerID, remote, hash)
	if err != nil {
		s.log.Error("authentication failed", "peerId", peerID, "error", err)
		return
	}
	s.respondHandshake(ctx, remote, peerID, pkt.FNE.StreamID, res)
}

func (s *Server) handleConfig(ctx context.Context, remote net.UDPAddr, pkt frame.Packet) {
	peerID := pkt.FNE.PeerID
	cfg, err := peer.DecodeConfigJSON(pkt.Body)
	if err != nil {
		s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, frame.NakInvalidConfigData))
		return
	}

	if cfg.ExternalPeer {
		result, err := s.treeReg.Connect(peerID, cfg.MasterPeerID, cfg.Identity, s.cfg.Federation.RootPeerID)
		if err != nil {
			s.log.Error("tree connect failed", "peerId", peerID, "error", err)
			s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, frame.NakGeneralFailure))
			return
		}
		if !result.Accepted {
			s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, frame.NakFNEDuplicateConn))
			if err := s.peerEngine.Disconnect(ctx, peerID); err != nil {
				s.log.Error("disconnecting duplicate tree connection", "peerId", peerID, "error", err)
			}
			return
		}
	}

	// diagnosticPort reports whether this FNE exposes a separate
	// diagnostic (metrics) port, the one-byte ACK flag spec.md §4.2 calls
	// for; it describes the FNE's own deployment, not anything the peer
	// sent.
	res, err := s.peerEngine.Configure(ctx, peerID, remote, cfg, s.cfg.Metrics.Enabled)
	if err != nil {
		s.log.Error("configuration failed", "peerId", peerID, "error", err)
		return
	}
	s.respondHandshake(ctx, remote, peerID, pkt.FNE.StreamID, res)

	// "On configuration completion... the peer receives its ACL
	// payloads" (spec.md §4.2 "Metadata distribution").
	if res.Ack {
		if conn, ok, err := s.peerTable.Get(ctx, peerID); err == nil && ok {
			s.distributeMetadataTo(conn)
		}
	}
}

func (s *Server) handlePing(ctx context.Context, remote net.UDPAddr, pkt frame.Packet) {
	peerID := pkt.FNE.PeerID
	nowMs := uint64(time.Now().UnixMilli())
	res, err := s.peerEngine.Ping(ctx, peerID, remote, nowMs)
	if err != nil {
		s.log.Error("ping failed", "peerId", peerID, "error", err)
		return
	}
	if res.Ack {
		s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncPong, 0, res.AckBody)
		return
	}
	s.reply(remote, pkt.FNE.StreamID, peerID, frame.FuncNak, 0, frame.EncodeNakBody(peerID, res.Nak))
	if res.Disconnect {
		if err := s.peerEngine.Disconnect(ctx, peerID); err != nil {
			s.log.Error("disconnecting peer after failed ping", "peerId", peerID, "error", err)
		}
	}
}

// handlePeerDisconnect tears down a peer's session, affiliation, and
// tree state on RPT_DISC, fanning out OnDisconnect to every capability
// (spec.md §3's peer-connection lifecycle).
func (s *Server) handlePeerDisconnect(ctx context.Context, peerID uint32) {
	if err := s.peerEngine.Disconnect(ctx, peerID); err != nil {
		s.log.Error("disconnecting peer", "peerId", peerID, "error", err)
	}
	s.affiliations.RemovePeer(peerID)
	s.treeReg.Erase(peerID)
	for _, cap := range s.protocols {
		cap.OnDisconnect(peerID)
	}
}

// handleProtocolFrame dispatches a PROTOCOL frame to the capability
// object registered for its sub-function, after confirming the sending
// peer is fully RUNNING (spec.md §4.2's state machine gates traffic on
// RUNNING).
func (s *Server) handleProtocolFrame(ctx context.Context, pkt frame.Packet) {
	conn, ok, err := s.peerTable.Get(ctx, pkt.FNE.PeerID)
	if err != nil {
		s.log.Error("resolving peer for protocol frame", "peerId", pkt.FNE.PeerID, "error", err)
		return
	}
	if !ok || conn.State != peer.StateRunning {
		return
	}
	s.lastTrafficAt.Store(pkt.FNE.PeerID, time.Now())

	cap := s.trafficCapability(pkt.FNE.SubFunction)
	if cap == nil {
		s.log.Debug("no capability registered for protocol sub-function", "sub", pkt.FNE.SubFunction, "peerId", pkt.FNE.PeerID)
		return
	}
	if err := cap.OnFrame(ctx, pkt.FNE.PeerID, pkt); err != nil {
		s.log.Error("protocol frame handling failed", "peerId", pkt.FNE.PeerID, "sub", pkt.FNE.SubFunction, "error", err)
	}
}

// handleGrantReq acknowledges a channel-grant request. The FNE itself
// does not arbitrate RF channel assignment (that is the repeater's own
// concern); it only needs to keep the requesting peer's handshake
// moving, so every well-formed request is ACKed.
func (s *Server) handleGrantReq(remote net.UDPAddr, pkt frame.Packet) {
	req, err := frame.DecodeGrantReq(pkt.Body)
	if err != nil {
		s.log.Warn("malformed grant request", "peerId", pkt.FNE.PeerID, "error", err)
		return
	}
	s.log.Debug("grant request", "peerId", pkt.FNE.PeerID, "srcId", req.SrcID, "dstId", req.DstID)
	s.reply(remote, pkt.FNE.StreamID, pkt.FNE.PeerID, frame.FuncAck, 0, nil)
}

// handleKeyReq answers a peer's inline KEY_REQ (spec.md §6 "KEY_REQ /
// KEY_RSP | bidirectional | KMM frame"), the traffic-socket counterpart
// to the dedicated OTAR UDP socket's KMM exchange.
func (s *Server) handleKeyReq(remote net.UDPAddr, pkt frame.Packet) {
	kmm, err := otar.DecodeFrame(pkt.Body)
	if err != nil {
		s.log.Warn("malformed key request frame", "peerId", pkt.FNE.PeerID, "error", err)
		return
	}
	if len(kmm.Body) < 2 {
		s.log.Warn("key request body too short", "peerId", pkt.FNE.PeerID)
		return
	}
	kid := binary.BigEndian.Uint16(kmm.Body[:2])
	rsi := kmm.SrcLLID

	mk, wrapped, forwarded, err := s.otarSvc.HandleKeyRequest(pkt.FNE.PeerID, kid, rsi)
	if err != nil {
		s.log.Warn("key request rejected", "peerId", pkt.FNE.PeerID, "kid", kid, "error", err)
		return
	}
	if forwarded {
		s.metrics.RecordKeyRequestUpstream()
		return
	}

	resp := otar.Frame{
		MessageID: otar.MsgKeyRsp,
		MfID:      kmm.MfID,
		SrcLLID:   kmm.DstLLID,
		DstLLID:   kmm.SrcLLID,
		Body:      mk.Encode(wrapped),
	}
	s.reply(remote, pkt.FNE.StreamID, pkt.FNE.PeerID, frame.FuncKeyRsp, 0, resp.Encode())
}

// handleAnnounce records an affiliation-table event into the shared
// AffiliationTable (spec.md §6 "ANNOUNCE | peer -> FNE").
func (s *Server) handleAnnounce(pkt frame.Packet) {
	switch pkt.FNE.SubFunction {
	case frame.SubAnnounceGrpAffil:
		if ev, err := frame.DecodeAffilEvent(pkt.Body); err == nil {
			s.affiliations.Affiliate(pkt.FNE.PeerID, ev.RID, ev.Value)
		}
	case frame.SubAnnounceGrpUnaffil:
		if ev, err := frame.DecodeAffilEvent(pkt.Body); err == nil {
			s.affiliations.Unaffiliate(pkt.FNE.PeerID, ev.RID)
		}
	case frame.SubAnnounceUnitReg:
		if ev, err := frame.DecodeAffilEvent(pkt.Body); err == nil {
			s.affiliations.Register(pkt.FNE.PeerID, ev.RID, ev.Value)
		}
	case frame.SubAnnounceUnitDereg:
		if ev, err := frame.DecodeAffilEvent(pkt.Body); err == nil {
			s.affiliations.Deregister(pkt.FNE.PeerID, ev.RID)
		}
	default:
		s.log.Debug("unhandled announce sub-function", "sub", pkt.FNE.SubFunction, "peerId", pkt.FNE.PeerID)
	}
}

// handleNetTree merges an inbound tree announcement or disconnect
// notice into the local Registry (spec.md §4.9).
func (s *Server) handleNetTree(remote net.UDPAddr, pkt frame.Packet) {
	switch pkt.FNE.SubFunction {
	case frame.SubNetTreeList:
		ann, err := tree.UnmarshalAnnouncement(pkt.Body)
		if err != nil {
			s.log.Warn("malformed tree announcement", "peerId", pkt.FNE.PeerID, "error", err)
			return
		}
		res := s.treeReg.MergeAnnouncement(pkt.FNE.PeerID, ann)
		for _, offending := range res.Rejected {
			body := make([]byte, 4)
			binary.BigEndian.PutUint32(body, offending)
			s.reply(remote, pkt.FNE.StreamID, pkt.FNE.PeerID, frame.FuncNetTree, frame.SubNetTreeDisc, body)
		}
	case frame.SubNetTreeDisc:
		if len(pkt.Body) < 4 {
			return
		}
		offending := binary.BigEndian.Uint32(pkt.Body)
		s.log.Warn("tree disconnect notice received", "peerId", pkt.FNE.PeerID, "offendingPeerId", offending)
		s.treeReg.Erase(offending)
	default:
		s.log.Debug("unhandled net-tree sub-function", "sub", pkt.FNE.SubFunction, "peerId", pkt.FNE.PeerID)
	}
}
