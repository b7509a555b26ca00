// Package config parses the FNE process configuration: socket addresses,
// worker pool sizes, Redis backing store, and KMF behavior flags.
//
// Configuration parsing itself is an out-of-scope external collaborator
// per spec.md §1 ("Configuration parsing... treated as collaborators");
// this package is the thin boundary the orchestrator (internal/server)
// depends on, kept minimal and backed by the same yaml.v3 library the
// teacher project (DMRHub) carries in its go.mod.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level FNE process configuration.
type Config struct {
	Traffic     TrafficConfig     `yaml:"traffic"`
	OTAR        OTARConfig        `yaml:"otar"`
	Redis       RedisConfig       `yaml:"redis"`
	Pools       PoolConfig        `yaml:"pools"`
	Peer        PeerConfig        `yaml:"peer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	SNDCP       SNDCPConfig       `yaml:"sndcp"`
	Federation  FederationConfig  `yaml:"federation"`
	Router      RouterConfig      `yaml:"router"`
	Verbose     bool              `yaml:"verbose"`
}

// RouterConfig carries the permit-rule knobs spec.md §4.5 names
// (disallowU2U, dropU2UPeerTable, restrictPVCallToRegOnly) and the
// call-arbitration timeouts spec.md §4.6 references.
type RouterConfig struct {
	DisallowU2U             bool          `yaml:"disallowU2U"`
	DropU2UPeerTable        []uint32      `yaml:"dropU2UPeerTable"`
	RestrictPVCallToRegOnly bool          `yaml:"restrictPVCallToRegOnly"`
	RejectUnknownRID        bool          `yaml:"rejectUnknownRID"`
	CollisionTimeout        time.Duration `yaml:"collisionTimeout"`
	InCallControlEnabled    bool          `yaml:"inCallControlEnabled"`
	ParrotReplayDelay       time.Duration `yaml:"parrotReplayDelay"`
}

// MetricsConfig configures the prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
}

// SNDCPConfig bounds the dynamic IPv4 pool SNDCP leases non-statically-
// provisioned subscriber units from (spec.md §4.7).
type SNDCPConfig struct {
	DynamicStartAddr string `yaml:"dynamicStartAddr"`
	DynamicEndAddr   string `yaml:"dynamicEndAddr"`
}

// FederationConfig configures this FNE's place in the spanning-tree
// federation (spec.md §4.9).
type FederationConfig struct {
	RootPeerID           uint32        `yaml:"rootPeerId"`
	AnnounceInterval     time.Duration `yaml:"announceInterval"`
}

// TrafficConfig configures the RTP+FNE traffic UDP socket.
type TrafficConfig struct {
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
}

// OTARConfig configures the KMF's OTAR UDP socket.
type OTARConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
	// KMFServicesEnabled gates DEREG_CMD replies only; HELLO always
	// replies NoService regardless of this flag. See DESIGN.md
	// "HELLO -> NoService".
	KMFServicesEnabled bool `yaml:"kmfServicesEnabled"`
	AllowNoUKEKRekey   bool `yaml:"allowNoUKEKRekey"`
}

// RedisConfig configures the Redis-backed peer/call-status tables.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PoolConfig sizes the worker pools described in spec.md §5.
type PoolConfig struct {
	FNEWorkers  int `yaml:"fneWorkers"`
	OTARWorkers int `yaml:"otarWorkers"`
}

// PeerConfig carries FNE-wide peer policy defaults.
type PeerConfig struct {
	SoftCap              int           `yaml:"softCap"`
	HardCap              int           `yaml:"hardCap"`
	PingTime             time.Duration `yaml:"pingTime"`
	MaxMissed            int           `yaml:"maxMissed"`
	UpdateLookupInterval time.Duration `yaml:"updateLookupInterval"`
	MaxMissedACLUpdates  int           `yaml:"maxMissedACLUpdates"`
	GlobalPassword       string        `yaml:"globalPassword"`
	MaskSSRCWithFNEID    bool          `yaml:"maskSSRCWithFNEID"`
	FNEPeerID            uint32        `yaml:"fnePeerID"`
}

// Default returns the configuration used when no file is supplied,
// matching the bounds called out in spec.md §4.2 (hard cap 250).
func Default() Config {
	return Config{
		Traffic: TrafficConfig{BindAddress: "0.0.0.0", Port: 62031},
		OTAR:    OTARConfig{Enabled: true, BindAddress: "0.0.0.0", Port: 62032},
		Redis:   RedisConfig{Address: "127.0.0.1:6379"},
		Pools:   PoolConfig{FNEWorkers: 16, OTARWorkers: 4},
		Peer: PeerConfig{
			SoftCap:              200,
			HardCap:              250,
			PingTime:             5 * time.Second,
			MaxMissed:            5,
			UpdateLookupInterval: 60 * time.Second,
			MaxMissedACLUpdates:  5,
		},
		Metrics: MetricsConfig{Enabled: true, BindAddress: "127.0.0.1", Port: 9090},
		SNDCP: SNDCPConfig{
			DynamicStartAddr: "10.10.0.1",
			DynamicEndAddr:   "10.10.255.254",
		},
		Federation: FederationConfig{
			AnnounceInterval: 30 * time.Second,
		},
		Router: RouterConfig{
			RejectUnknownRID:  true,
			CollisionTimeout:  2 * time.Second,
			ParrotReplayDelay: 3 * time.Second,
		},
	}
}

// Load reads and parses a YAML configuration file, falling back to
// Default() values for keys the file omits (a key the file sets, even to
// zero, overrides the default).
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
