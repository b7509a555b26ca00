package server

import (
	"context"
	"fmt"

	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/peer"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
)

// peerDirectory adapts *peer.Table into handler.Directory and
// handler.Sender, the two collaborators Engine.HandleFrame needs to
// resolve fan-out candidates and deliver framed datagrams.
type peerDirectory struct {
	table  *peer.Table
	socket *socketPool
}

func viewFor(conn peer.Connection) handler.PeerView {
	return handler.PeerView{
		PeerID: conn.PeerID,
		Attrs: router.PeerAttrs{
			PeerID:          conn.PeerID,
			Replica:         conn.Replica,
			Conventional:    conn.Config.ConventionalPeer,
			SysView:         conn.Config.SysView,
			HasCallPriority: conn.HasCallPriority,
		},
	}
}

func (d *peerDirectory) Candidates(ctx context.Context, excludePeerID uint32) ([]handler.PeerView, error) {
	var views []handler.PeerView
	err := d.table.ForEach(ctx, func(conn peer.Connection) error {
		if conn.PeerID == excludePeerID || conn.State != peer.StateRunning {
			return nil
		}
		views = append(views, viewFor(conn))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing peer directory: %w", err)
	}
	return views, nil
}

// PeerAttrs resolves a single connected peer's routing attributes.
func (d *peerDirectory) PeerAttrs(ctx context.Context, peerID uint32) (handler.PeerView, bool, error) {
	conn, ok, err := d.table.Get(ctx, peerID)
	if err != nil {
		return handler.PeerView{}, false, fmt.Errorf("resolving peer %d attrs: %w", peerID, err)
	}
	if !ok || conn.State != peer.StateRunning {
		return handler.PeerView{}, false, nil
	}
	return viewFor(conn), true, nil
}

func (d *peerDirectory) Send(ctx context.Context, peerID uint32, pkt frame.Packet) error {
	conn, ok, err := d.table.Get(ctx, peerID)
	if err != nil {
		return fmt.Errorf("resolving peer %d for send: %w", peerID, err)
	}
	if !ok {
		return fmt.Errorf("peer %d not connected", peerID)
	}
	return d.socket.send(conn.Remote, pkt.Encode())
}

// SendInCallControl implements handler.InCallSender, delivering an
// INCALL_CTRL command to peerID (spec.md §6).
func (d *peerDirectory) SendInCallControl(ctx context.Context, peerID uint32, cmd frame.InCallCommand, dstID uint32, slot byte) error {
	conn, ok, err := d.table.Get(ctx, peerID)
	if err != nil {
		return fmt.Errorf("resolving peer %d for in-call control: %w", peerID, err)
	}
	if !ok {
		return fmt.Errorf("peer %d not connected", peerID)
	}
	pkt := frame.Packet{
		FNE:  frame.Header{PeerID: peerID, Function: frame.FuncInCallCtrl},
		Body: frame.EncodeInCallControlBody(peerID, cmd, dstID, slot),
	}
	return d.socket.send(conn.Remote, pkt.Encode())
}
