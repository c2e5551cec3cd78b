// Package daemon wires the protocol engine, the introspection HTTP API,
// and on-disk configuration into one runnable process (cmd/swimd).
package daemon

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/swim/internal/domain"
	"github.com/tutu-network/swim/internal/swim"
)

// APIConfig controls the introspection HTTP server.
type APIConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// SwimConfig mirrors swim.Config with TOML tags and string-friendly
// duration fields, grounded on the config_test.go shape this replaces:
// a nested, section-per-concern struct with its own defaults function.
type SwimConfig struct {
	HeartbeatRate     string `toml:"heartbeat_rate"`
	AckTimeout        string `toml:"ack_timeout"`
	NoAcksToSuspect   int    `toml:"no_acks_to_suspect"`
	NoAcksToDead      int    `toml:"no_acks_to_dead"`
	NoAcksToGC        int    `toml:"no_acks_to_gc"`
	IndirectPingCount int    `toml:"indirect_ping_count"`
	DisableSuspicion  bool   `toml:"disable_suspicion"`
	GCMode            string `toml:"gc_mode"` // "on", "off", or "" for default
	MaxPayloadSize    int    `toml:"max_payload_size"`
	MaxMembers        int    `toml:"max_members"`
	MaxPacketSize     int    `toml:"max_packet_size"`
}

// Config is the daemon's top-level, TOML-loaded configuration.
type Config struct {
	BindAddr      string     `toml:"bind_addr"`
	SeedStorePath string     `toml:"seed_store_path"`
	Seeds         []string   `toml:"seeds"` // "uuid@host:port" bootstrap entries
	API           APIConfig  `toml:"api"`
	Swim          SwimConfig `toml:"swim"`
}

// DefaultConfig returns the daemon's built-in defaults, matching
// swim.DefaultConfig() exactly in the [swim] section.
func DefaultConfig() Config {
	return Config{
		BindAddr:      "127.0.0.1:7946",
		SeedStorePath: "swim-seeds.db",
		API: APIConfig{
			Host:          "127.0.0.1",
			Port:          7947,
			EnableMetrics: true,
		},
		Swim: SwimConfig{
			HeartbeatRate:     "1s",
			AckTimeout:        "30s",
			NoAcksToSuspect:   2,
			NoAcksToDead:      3,
			NoAcksToGC:        2,
			IndirectPingCount: 2,
			GCMode:            "on",
			MaxPayloadSize:    512,
			MaxPacketSize:     1400,
		},
	}
}

// LoadConfig decodes path over DefaultConfig(), so an incomplete TOML file
// only overrides the fields it names.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// ToSwimConfig converts the TOML-friendly [swim] section into a swim.Config.
func (c Config) ToSwimConfig() (swim.Config, error) {
	heartbeat, err := time.ParseDuration(c.Swim.HeartbeatRate)
	if err != nil {
		return swim.Config{}, fmt.Errorf("swim.heartbeat_rate: %w", err)
	}
	ackTimeout, err := time.ParseDuration(c.Swim.AckTimeout)
	if err != nil {
		return swim.Config{}, fmt.Errorf("swim.ack_timeout: %w", err)
	}
	gcMode := domain.GCModeDefault
	switch c.Swim.GCMode {
	case "on":
		gcMode = domain.GCModeOn
	case "off":
		gcMode = domain.GCModeOff
	case "":
	default:
		return swim.Config{}, fmt.Errorf("swim.gc_mode: unknown value %q", c.Swim.GCMode)
	}

	return swim.Config{
		HeartbeatRate:     heartbeat,
		AckTimeout:        ackTimeout,
		NoAcksToSuspect:   c.Swim.NoAcksToSuspect,
		NoAcksToDead:      c.Swim.NoAcksToDead,
		NoAcksToGC:        c.Swim.NoAcksToGC,
		IndirectPingCount: c.Swim.IndirectPingCount,
		DisableSuspicion:  c.Swim.DisableSuspicion,
		GCMode:            gcMode,
		MaxPayloadSize:    c.Swim.MaxPayloadSize,
		MaxMembers:        c.Swim.MaxMembers,
		MaxPacketSize:     c.Swim.MaxPacketSize,
	}, nil
}
