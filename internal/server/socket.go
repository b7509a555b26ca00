// Package server implements the FNE orchestrator (spec.md §5
// "Concurrency & Resource Model"): the traffic and OTAR UDP sockets, a
// bounded worker pool dispatching inbound datagrams, and the gocron-
// driven orchestration timer for keep-alive scans, federation
// announcement, and ACL redistribution.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

const datagramBufferSize = 4096

// inboundDatagram is one UDP read, queued for a worker goroutine.
type inboundDatagram struct {
	remote net.UDPAddr
	data   []byte
}

// socketPool reads datagrams off a *net.UDPConn (generalizing the
// teacher's own ThreadedUDPServer.Listen read loop) and fans them out to
// a bounded pool of worker goroutines, rather than the teacher's
// unbounded goroutine-per-packet (spec.md §5 "a bounded worker pool
// processes inbound traffic").
type socketPool struct {
	conn    *net.UDPConn
	workers int
	handle  func(ctx context.Context, remote net.UDPAddr, data []byte)
	log     *slog.Logger
}

func listen(bindAddress string, port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindAddress), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s:%d: %w", bindAddress, port, err)
	}
	return conn, nil
}

// run reads from the socket until ctx is canceled or the socket fails,
// dispatching each datagram to one of p.workers goroutines.
func (p *socketPool) run(ctx context.Context) error {
	queue := make(chan inboundDatagram, p.workers*4)
	defer close(queue)

	for i := 0; i < p.workers; i++ {
		go func() {
			for dg := range queue {
				p.handle(ctx, dg.remote, dg.data)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	buf := make([]byte, datagramBufferSize)
	for {
		n, remote, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("reading from udp socket: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case queue <- inboundDatagram{remote: *remote, data: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

// send writes data to remote on the socket, generalizing the teacher's
// own per-peer UDP write in sendCommand.
func (p *socketPool) send(remote net.UDPAddr, data []byte) error {
	_, err := p.conn.WriteToUDP(data, &remote)
	if err != nil {
		return fmt.Errorf("writing to %v: %w", remote, err)
	}
	return nil
}
