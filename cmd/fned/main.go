// Command fned runs the converged fixed network equipment process:
// a single FNE serving DMR, P25 and analog voice traffic, OTAR/KMM key
// management, P25 PDU data, and spanning-tree federation (spec.md §1, §5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/calls"
	"github.com/lorenzolrom/dvmhost-sub000/internal/config"
	"github.com/lorenzolrom/dvmhost-sub000/internal/frame"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler/analog"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler/dmr"
	"github.com/lorenzolrom/dvmhost-sub000/internal/handler/p25"
	"github.com/lorenzolrom/dvmhost-sub000/internal/logging"
	"github.com/lorenzolrom/dvmhost-sub000/internal/metrics"
	"github.com/lorenzolrom/dvmhost-sub000/internal/router"
	"github.com/lorenzolrom/dvmhost-sub000/internal/server"
)

// version/commit are overridden at build time via -ldflags, matching the
// teacher's own version-injection convention (cmd/root.go's NewCommand).
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string
	var aclPath string

	cmd := &cobra.Command{
		Use:               "fned",
		Version:           fmt.Sprintf("%s (%s)", version, commit),
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFNE(cmd.Context(), configPath, aclPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the FNE YAML configuration file (defaults built in if unset)")
	cmd.Flags().StringVar(&aclPath, "acl", "", "path to the ACL snapshot YAML file (defaults to an empty snapshot if unset)")
	return cmd
}

func runFNE(ctx context.Context, configPath, aclPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	logging.Init(cfg.Verbose)
	log := logging.For("fned")

	snapshot := acl.NewSnapshot()
	if aclPath != "" {
		loaded, err := acl.LoadSnapshot(aclPath)
		if err != nil {
			return fmt.Errorf("loading acl snapshot: %w", err)
		}
		snapshot = loaded
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	srv, err := server.New(cfg, rdb, server.Collaborators{
		Radios:            snapshot,
		Talkgroups:        snapshot,
		ReverseTalkgroups: snapshot,
		Peers:             snapshot,
		Keys:              snapshot,
		Adjacency:         snapshot,
		Metadata:          snapshot,
	})
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}

	permitCtx := router.PermitContext{
		DisallowU2U:             cfg.Router.DisallowU2U,
		RestrictPVCallToRegOnly: cfg.Router.RestrictPVCallToRegOnly,
	}
	if len(cfg.Router.DropU2UPeerTable) > 0 {
		permitCtx.DropU2UPeers = make(map[uint32]bool, len(cfg.Router.DropU2UPeerTable))
		for _, peerID := range cfg.Router.DropU2UPeerTable {
			permitCtx.DropU2UPeers[peerID] = true
		}
	}

	baseConfig := func(protocol frame.SubFunction) handler.Config {
		return handler.Config{
			Radios:               snapshot,
			Talkgroups:           snapshot,
			ReverseTalkgroups:    snapshot,
			Affiliations:         srv.Affiliations(),
			CallStatus:           srv.CallStore(),
			Directory:            srv.Directory(),
			Sender:               srv.Sender(),
			InCallControl:        srv.Sender(),
			Parrot:               calls.NewParrotRecorder(),
			ParrotPlayer:         &calls.Player{Sink: srv.ParrotSink(protocol)},
			RejectUnknownRID:     cfg.Router.RejectUnknownRID,
			CollisionTimeout:     cfg.Router.CollisionTimeout,
			PermitCtx:            permitCtx,
			InCallControlEnabled: cfg.Router.InCallControlEnabled,
			ParrotReplayDelay:    cfg.Router.ParrotReplayDelay,
		}
	}

	p25Handler := p25.New(baseConfig(frame.SubProtoP25), p25.WithPDUEngine(srv.PDUEngine()))

	srv.SetProtocols(server.Protocols{
		frame.SubProtoDMR:    dmr.New(baseConfig(frame.SubProtoDMR)),
		frame.SubProtoP25:    p25Handler,
		frame.SubProtoAnalog: analog.New(baseConfig(frame.SubProtoAnalog)),
	})

	go func() {
		if err := metrics.CreateMetricsServer(cfg.Metrics.Enabled, cfg.Metrics.BindAddress, cfg.Metrics.Port, nil); err != nil {
			log.Error("metrics server failed", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Error("shutting down due to signal", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("server run: %w", err)
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-errCh
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	const shutdownTimeout = 10 * time.Second
	select {
	case <-done:
		log.Info("server stopped, exiting")
	case <-time.After(shutdownTimeout):
		log.Error("shutdown timed out, forcing exit")
	}
	return nil
}
