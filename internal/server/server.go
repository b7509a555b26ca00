package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/config"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/logging"
	"github.com/lorenzolrom/dvmhost-sub000/internal/metrics"
	"github.com/lorenzolrom/dvmhost-sub000/internal/otar"
	"github.com/lorenzolrom/dvmhost-sub000/internal/pdu"
	"github.com/lorenzolrom/dvmhost-sub000/internal/peer"
	"github.com/lorenzolrom/dvmhost-sub000/internal/tree"
)

// Collaborators bundles every external-facing dependency Server needs,
// mirroring spec.md §3's "Lookups (external collaborators)" boundary:
// production wires real ACL/replica implementations; tests substitute
// fakes.
type Collaborators struct {
	Radios            acl.RadioLookup
	Talkgroups        acl.TalkgroupLookup
	ReverseTalkgroups acl.TalkgroupReverseLookup
	Peers             acl.PeerLookup
	Keys              acl.KeyContainer
	Adjacency         acl.AdjacencyLookup
	// Metadata feeds the periodic ACL distribution job (spec.md §4.2
	// "Metadata distribution"); nil disables distribution entirely
	// (e.g. in tests that don't exercise it).
	Metadata acl.MetadataLookup
}

// Protocols maps a traffic SubFunction to the capability object that
// handles it (spec.md §9's capability-object design note).
type Protocols map[frame.SubFunction]handler.Capability

// Server is the FNE process orchestrator (spec.md §5).
type Server struct {
	cfg     config.Config
	collab  Collaborators
	metrics *metrics.Metrics
	log     *slog.Logger

	peerTable    *peer.Table
	peerEngine   *peer.Engine
	callTable    *calls.Table
	affiliations *calls.AffiliationTable
	protocols    Protocols
	otarSvc      *otar.Service
	treeReg      *tree.Registry
	pduEngine    *pdu.Engine
	pduCAI       *pduBroadcastSender

	// lastTrafficAt tracks the last time a peer sent a PROTOCOL frame, so
	// the periodic metadata distribution job can apply spec.md §4.2's
	// "during an active stream, non-replica metadata updates are skipped
	// for up to MAX_MISSED_ACL_UPDATES cycles" rule.
	lastTrafficAt *xsync.Map[uint32, time.Time]

	// traffic and otarSock are constructed in New with no backing
	// *net.UDPConn yet, so their pointer identity is stable and can be
	// captured by a Directory()/Sender() built before Run() actually
	// opens the sockets (cmd/fned builds each protocol's handler.Config,
	// which needs a Sender, before Server.Run starts).
	traffic  *socketPool
	otarSock *socketPool

	scheduler gocron.Scheduler
}

// New constructs a Server from cfg and its collaborators. Call
// SetProtocols once every protocol this FNE carries has been built
// (each protocol's handler.Config closes over Directory/Sender/
// InCallControl/Affiliations/CallStore, all available immediately after
// New returns), then Run to start serving.
func New(cfg config.Config, rdb *redis.Client, collab Collaborators) (*Server, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	logger := logging.For("server")
	peerTable := peer.NewTable(rdb)
	s := &Server{
		cfg:     cfg,
		collab:  collab,
		metrics: metrics.NewMetrics(),
		log:     logger,
		peerTable: peerTable,
		peerEngine: &peer.Engine{
			Table:          peerTable,
			PeerACL:        collab.Peers,
			GlobalPassword: cfg.Peer.GlobalPassword,
			SoftCap:        cfg.Peer.SoftCap,
			HardCap:        cfg.Peer.HardCap,
		},
		callTable:     calls.NewTable(rdb),
		affiliations:  calls.NewAffiliationTable(),
		treeReg:       tree.NewRegistry(cfg.Federation.RootPeerID),
		scheduler:     scheduler,
		lastTrafficAt: xsync.NewMap[uint32, time.Time](),
	}

	s.traffic = &socketPool{workers: cfg.Pools.FNEWorkers, handle: s.handleTraffic, log: logger}
	s.otarSock = &socketPool{workers: cfg.Pools.OTARWorkers, handle: s.handleOTAR, log: logger}

	s.otarSvc = otar.NewService(collab.Keys, collab.Peers, nil, s, logger)
	s.otarSvc.KMFServicesEnabled = cfg.OTAR.KMFServicesEnabled
	s.otarSvc.AllowNoUKEKRekey = cfg.OTAR.AllowNoUKEKRekey

	pduEngine, err := s.newPDUEngine(collab.Radios, cfg.SNDCP.DynamicStartAddr, cfg.SNDCP.DynamicEndAddr)
	if err != nil {
		return nil, fmt.Errorf("building pdu engine: %w", err)
	}
	s.pduEngine = pduEngine
	s.pduEngine.KMMDispatch = s.dispatchPDUKMM

	return s, nil
}

// PDUEngine returns the P25 PDU engine cmd/fned wires into the P25
// capability object via p25.WithPDUEngine (spec.md §4.7).
func (s *Server) PDUEngine() *pdu.Engine {
	return s.pduEngine
}

// SetProtocols registers the capability objects this FNE dispatches
// PROTOCOL traffic frames to, one per carried SubFunction.
func (s *Server) SetProtocols(protocols Protocols) {
	s.protocols = protocols
}

// Directory returns the handler.Directory backed by this server's peer
// table, for use building each protocol's handler.Config.
func (s *Server) Directory() *peerDirectory {
	return s.directoryFor()
}

// Sender returns the handler.Sender/handler.InCallSender backed by this
// server's traffic socket. It is the same concrete type as Directory,
// which also implements both.
func (s *Server) Sender() *peerDirectory {
	return s.directoryFor()
}

// Affiliations returns the single AffiliationTable instance shared by
// every protocol handler and by this server's own ANNOUNCE dispatch
// (spec.md §3's affiliation table is per-peer, not per-protocol).
func (s *Server) Affiliations() *calls.AffiliationTable {
	return s.affiliations
}

// CallStore returns the handler.CallStore backed by this server's
// shared call-status table, keyed internally by (protocol, dstID) so
// one table serves every protocol handler.
func (s *Server) CallStore() calloutCallStore {
	return calloutCallStore{table: s.callTable}
}

// ParrotSink returns a calls.Sink that redelivers parrot playback
// frames for protocol over the traffic socket.
func (s *Server) ParrotSink(protocol frame.SubFunction) calls.Sink {
	return parrotSink{dir: s.directoryFor(), protocol: protocol}
}

// SendKeyResponse implements otar.PeerReply, delivering a KMM frame back
// to peerID over the OTAR socket.
func (s *Server) SendKeyResponse(peerID uint32, f otar.Frame) error {
	conn, ok, err := s.peerTable.Get(context.Background(), peerID)
	if err != nil {
		return fmt.Errorf("resolving peer %d for key response: %w", peerID, err)
	}
	if !ok {
		return fmt.Errorf("peer %d not connected", peerID)
	}
	if s.otarSock == nil {
		return fmt.Errorf("otar socket not started")
	}
	return s.otarSock.send(conn.Remote, f.Encode())
}

// Run starts the traffic and OTAR sockets and the orchestration
// scheduler, blocking until ctx is canceled or a socket fails (spec.md
// §5 "errgroup-based startup").
func (s *Server) Run(ctx context.Context) error {
	conn, err := listen(s.cfg.Traffic.BindAddress, s.cfg.Traffic.Port)
	if err != nil {
		return fmt.Errorf("starting traffic socket: %w", err)
	}
	s.traffic.conn = conn

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.traffic.run(gctx) })

	if s.cfg.OTAR.Enabled {
		otarConn, err := listen(s.cfg.OTAR.BindAddress, s.cfg.OTAR.Port)
		if err != nil {
			return fmt.Errorf("starting otar socket: %w", err)
		}
		s.otarSock.conn = otarConn
		g.Go(func() error { return s.otarSock.run(gctx) })
	}

	if err := s.scheduleJobs(); err != nil {
		return fmt.Errorf("scheduling orchestration jobs: %w", err)
	}
	s.scheduler.Start()
	defer func() {
		if err := s.scheduler.Shutdown(); err != nil {
			s.log.Error("shutting down scheduler", "error", err)
		}
	}()

	return g.Wait()
}

// directoryFor builds the Directory/Sender pair a handler.Config binds
// to, scoped to the traffic socket.
func (s *Server) directoryFor() *peerDirectory {
	return &peerDirectory{table: s.peerTable, socket: s.traffic}
}

// scheduleJobs registers the periodic keep-alive scan and federation
// announcement jobs on the gocron scheduler (spec.md §5's single
// orchestration timer responsibilities).
func (s *Server) scheduleJobs() error {
	keepAliveInterval := s.cfg.Peer.PingTime
	if keepAliveInterval <= 0 {
		keepAliveInterval = 5 * time.Second
	}
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(keepAliveInterval),
		gocron.NewTask(s.keepAliveScan),
		gocron.WithName("keep-alive-scan"),
	); err != nil {
		return fmt.Errorf("registering keep-alive scan job: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(keepAliveInterval),
		gocron.NewTask(s.updateMetricsGauges),
		gocron.WithName("metrics-gauge-refresh"),
	); err != nil {
		return fmt.Errorf("registering metrics refresh job: %w", err)
	}

	lookupInterval := s.cfg.Peer.UpdateLookupInterval
	if lookupInterval <= 0 {
		lookupInterval = 60 * time.Second
	}
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(lookupInterval),
		gocron.NewTask(s.distributeMetadata),
		gocron.WithName("metadata-distribution"),
	); err != nil {
		return fmt.Errorf("registering metadata distribution job: %w", err)
	}

	announceInterval := s.cfg.Federation.AnnounceInterval
	if announceInterval <= 0 {
		announceInterval = 30 * time.Second
	}
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(announceInterval),
		gocron.NewTask(s.announceTree),
		gocron.WithName("tree-announce"),
	); err != nil {
		return fmt.Errorf("registering tree announce job: %w", err)
	}
	return nil
}

// announceTree serializes the local subtree and sends it to every
// connected upstream neighbour-FNE master (spec.md §4.9 "The FNE
// periodically serializes its subtree... and sends it upstream to
// every connected neighbour-FNE master").
func (s *Server) announceTree() {
	if s.collab.Adjacency == nil {
		return
	}
	ctx := context.Background()
	ann, err := s.treeReg.SerializeRoot()
	if err != nil {
		s.log.Error("serializing local tree for announcement", "error", err)
		return
	}
	body, err := tree.MarshalAnnouncement(ann)
	if err != nil {
		s.log.Error("marshaling tree announcement", "error", err)
		return
	}
	pkt := frame.Packet{
		FNE:  frame.Header{PeerID: s.cfg.Federation.RootPeerID, Function: frame.FuncNetTree, SubFunction: frame.SubNetTreeList},
		Body: body,
	}
	encoded := pkt.Encode()

	err = s.peerTable.ForEach(ctx, func(conn peer.Connection) error {
		if conn.State != peer.StateRunning || !s.collab.Adjacency.IsUpstreamNeighbour(conn.PeerID) {
			return nil
		}
		if err := s.traffic.send(conn.Remote, encoded); err != nil {
			s.log.Error("sending tree announcement", "peerId", conn.PeerID, "error", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("tree announce scan failed", "error", err)
	}
}

// keepAliveScan purges peers that have exceeded MaxMissed consecutive
// pings, generalizing the teacher's own Redis TTL-based peer expiry into
// an explicit scan (spec.md §4.2's keep-alive section).
func (s *Server) keepAliveScan() {
	ctx := context.Background()
	deadline := s.cfg.Peer.PingTime * time.Duration(s.cfg.Peer.MaxMissed)
	if deadline <= 0 {
		return
	}
	now := time.Now()
	err := s.peerTable.ForEach(ctx, func(conn peer.Connection) error {
		if conn.State != peer.StateRunning {
			return nil
		}
		if now.Sub(conn.LastPing) > deadline {
			s.log.Warn("peer exceeded max missed pings, disconnecting", "peerId", conn.PeerID)
			if err := s.peerTable.Delete(ctx, conn.PeerID); err != nil {
				return err
			}
			s.affiliations.RemovePeer(conn.PeerID)
			s.treeReg.Erase(conn.PeerID)
			if s.protocols != nil {
				for _, cap := range s.protocols {
					cap.OnDisconnect(conn.PeerID)
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("keep-alive scan failed", "error", err)
	}
}

// updateMetricsGauges refreshes the peer-count gauge from the table.
func (s *Server) updateMetricsGauges() {
	ctx := context.Background()
	count, err := s.peerTable.Count(ctx)
	if err != nil {
		s.log.Error("counting peers for metrics", "error", err)
		return
	}
	s.metrics.SetPeersConnected(count)
}

// trafficCapability resolves the handler.Capability for a protocol
// traffic frame, or nil if this FNE does not carry that protocol.
func (s *Server) trafficCapability(sub frame.SubFunction) handler.Capability {
	return s.protocols[sub]
}

// calloutCallStore adapts *calls.Table (msgp/Redis-backed) into
// handler.CallStore, the narrow interface Engine needs.
type calloutCallStore struct {
	table *calls.Table
}

func (c calloutCallStore) Get(ctx context.Context, protocol frame.SubFunction, dstID uint32) (calls.CallStatus, bool, error) {
	return c.table.Get(ctx, protocol, dstID)
}

func (c calloutCallStore) Store(ctx context.Context, s calls.CallStatus) error {
	return c.table.Store(ctx, s)
}

func (c calloutCallStore) Delete(ctx context.Context, protocol frame.SubFunction, dstID uint32) error {
	return c.table.Delete(ctx, protocol, dstID)
}

// parrotSink adapts *peerDirectory into calls.Sink, redelivering a
// drained parrot recording as ordinary PROTOCOL traffic frames (spec.md
// §4.6 "replays frames back to the originating peer").
type parrotSink struct {
	dir      *peerDirectory
	protocol frame.SubFunction
}

func (p parrotSink) SendParrotFrame(peerID uint32, f calls.ParrotFrame) error {
	pkt := frame.Packet{
		FNE:  frame.Header{Function: frame.FuncProtocol, SubFunction: p.protocol},
		Body: f.Payload,
	}
	return p.dir.Send(context.Background(), peerID, pkt)
}

var _ net.Addr = (*net.UDPAddr)(nil)
