package server

import (
	"context"
	"net"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/packetbuffer"
	"github.com/lorenzolrom/dvmhost-sub000/internal/peer"
)

// distributeMetadata runs the periodic ACL redistribution pass spec.md
// §4.2 describes ("periodically thereafter (updateLookupTime), the peer
// receives its ACL payloads"), skipping non-replica peers that are
// mid-stream up to MaxMissedACLUpdates cycles.
func (s *Server) distributeMetadata() {
	if s.collab.Metadata == nil {
		return
	}
	ctx := context.Background()
	err := s.peerTable.ForEach(ctx, func(conn peer.Connection) error {
		if conn.State != peer.StateRunning {
			return nil
		}
		if !conn.Replica && s.peerMidStream(conn.PeerID) {
			conn.MissedMetadataUpdates++
			if conn.MissedMetadataUpdates <= s.cfg.Peer.MaxMissedACLUpdates {
				return s.peerTable.Store(ctx, conn)
			}
		}
		conn.MissedMetadataUpdates = 0
		if err := s.peerTable.Store(ctx, conn); err != nil {
			return err
		}
		s.distributeMetadataTo(conn)
		return nil
	})
	if err != nil {
		s.log.Error("metadata distribution scan failed", "error", err)
	}
}

// peerMidStream reports whether peerID sent a PROTOCOL frame recently
// enough that it should be treated as "during an active stream" for
// spec.md §4.2's metadata-update skip rule.
func (s *Server) peerMidStream(peerID uint32) bool {
	t, ok := s.lastTrafficAt.Load(peerID)
	if !ok {
		return false
	}
	const midStreamWindow = 5 * time.Second
	return time.Since(t) < midStreamWindow
}

// distributeMetadataTo sends one peer its ACL payloads: a replica
// neighbour-FNE peer gets the raw files as fragmented, compressed
// packet-buffer transfers; everyone else gets the chunked per-entry
// forms (spec.md §4.2, §6).
func (s *Server) distributeMetadataTo(conn peer.Connection) {
	if s.collab.Metadata == nil {
		return
	}
	if conn.Replica {
		s.sendReplicaACL(conn.Remote)
		return
	}
	s.sendChunkedACL(conn.Remote, conn.PeerID)
}

func (s *Server) sendChunkedACL(remote net.UDPAddr, peerID uint32) {
	md := s.collab.Metadata

	for _, body := range frame.ChunkRIDList(md.EnabledRadioIDs()) {
		s.sendMaster(remote, peerID, frame.SubMasterWLRID, body)
	}
	for _, body := range frame.ChunkRIDList(md.DisabledRadioIDs()) {
		s.sendMaster(remote, peerID, frame.SubMasterBLRID, body)
	}

	var active []frame.TGSlotEntry
	for _, e := range md.ActiveTalkgroups() {
		active = append(active, frame.TGSlotEntry{TGID: e.TGID, SlotFlags: e.SlotFlags})
	}
	for _, body := range frame.ChunkTGList(active) {
		s.sendMaster(remote, peerID, frame.SubMasterActiveTGs, body)
	}

	var ha []frame.HAEntry
	md.EachHAPeer(func(id uint32, p acl.HAPeer) {
		ip := net.ParseIP(p.IPv4).To4()
		var ipv4 uint32
		if ip != nil {
			ipv4 = uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
		}
		ha = append(ha, frame.HAEntry{PeerID: id, IPv4: ipv4, Port: p.Port})
	})
	for _, body := range frame.ChunkHAList(ha) {
		s.sendMaster(remote, peerID, frame.SubMasterHAParams, body)
	}
}

func (s *Server) sendMaster(remote net.UDPAddr, peerID uint32, sub frame.SubFunction, body []byte) {
	pkt := frame.Packet{
		FNE:  frame.Header{PeerID: peerID, Function: frame.FuncMaster, SubFunction: sub},
		Body: body,
	}
	if err := s.traffic.send(remote, pkt.Encode()); err != nil {
		s.log.Error("sending master acl chunk", "peerId", peerID, "sub", sub, "error", err)
	}
}

// sendReplicaACL sends the raw RID/TG/peer/HA ACL files to a replica
// neighbour-FNE peer as fragmented, compressed REPL transfers (spec.md
// §4.2, §6).
func (s *Server) sendReplicaACL(remote net.UDPAddr) {
	md := s.collab.Metadata

	files := []struct {
		sub     frame.SubFunction
		marshal func() ([]byte, error)
	}{
		{frame.SubReplRIDList, md.MarshalRIDFile},
		{frame.SubReplTalkgroupList, md.MarshalTalkgroupFile},
		{frame.SubReplPeerList, md.MarshalPeerFile},
		{frame.SubReplHAParams, md.MarshalHAFile},
	}

	for i, f := range files {
		raw, err := f.marshal()
		if err != nil {
			s.log.Error("marshaling replica acl file", "sub", f.sub, "error", err)
			continue
		}
		transferID := uint32(time.Now().UnixNano()>>16) ^ uint32(i)
		fragments, err := packetbuffer.Encode(transferID, raw, packetbuffer.DefaultFragmentSize)
		if err != nil {
			s.log.Error("encoding replica acl packet buffer", "sub", f.sub, "error", err)
			continue
		}
		for _, frag := range fragments {
			pkt := frame.Packet{
				FNE:  frame.Header{Function: frame.FuncRepl, SubFunction: f.sub},
				Body: frag,
			}
			if err := s.traffic.send(remote, pkt.Encode()); err != nil {
				s.log.Error("sending replica acl fragment", "sub", f.sub, "error", err)
			}
		}
	}
}
