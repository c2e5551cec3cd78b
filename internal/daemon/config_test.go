package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 7947 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 7947)
	}
	if !cfg.API.EnableMetrics {
		t.Error("API.EnableMetrics should default to true")
	}
	if cfg.Swim.HeartbeatRate != "1s" {
		t.Errorf("Swim.HeartbeatRate = %q, want %q", cfg.Swim.HeartbeatRate, "1s")
	}
	if cfg.Swim.NoAcksToSuspect != 2 {
		t.Errorf("Swim.NoAcksToSuspect = %d, want 2", cfg.Swim.NoAcksToSuspect)
	}
	if cfg.Swim.IndirectPingCount != 2 {
		t.Errorf("Swim.IndirectPingCount = %d, want 2", cfg.Swim.IndirectPingCount)
	}

	swimCfg, err := cfg.ToSwimConfig()
	if err != nil {
		t.Fatalf("ToSwimConfig() error: %v", err)
	}
	if swimCfg.HeartbeatRate.Seconds() != 1 {
		t.Errorf("HeartbeatRate = %v, want 1s", swimCfg.HeartbeatRate)
	}
	if swimCfg.AckTimeout.Seconds() != 30 {
		t.Errorf("AckTimeout = %v, want 30s", swimCfg.AckTimeout)
	}
}

func TestLoadConfigOverridesOnlyNamedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swim.toml")
	contents := `
bind_addr = "0.0.0.0:9000"
seeds = ["11111111-1111-1111-1111-111111111111@10.0.0.1:7946"]

[swim]
heartbeat_rate = "500ms"
no_acks_to_dead = 5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, "0.0.0.0:9000")
	}
	if len(cfg.Seeds) != 1 {
		t.Fatalf("len(Seeds) = %d, want 1", len(cfg.Seeds))
	}
	if cfg.Swim.HeartbeatRate != "500ms" {
		t.Errorf("Swim.HeartbeatRate = %q, want %q", cfg.Swim.HeartbeatRate, "500ms")
	}
	if cfg.Swim.NoAcksToDead != 5 {
		t.Errorf("Swim.NoAcksToDead = %d, want 5", cfg.Swim.NoAcksToDead)
	}
	// Fields not named in the file keep their defaults.
	if cfg.Swim.IndirectPingCount != 2 {
		t.Errorf("Swim.IndirectPingCount = %d, want default 2", cfg.Swim.IndirectPingCount)
	}
	if cfg.API.Port != 7947 {
		t.Errorf("API.Port = %d, want default 7947", cfg.API.Port)
	}
}

func TestToSwimConfigRejectsBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Swim.HeartbeatRate = "not-a-duration"
	if _, err := cfg.ToSwimConfig(); err == nil {
		t.Error("expected an error for an unparsable heartbeat_rate")
	}
}

func TestToSwimConfigRejectsUnknownGCMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Swim.GCMode = "maybe"
	if _, err := cfg.ToSwimConfig(); err == nil {
		t.Error("expected an error for an unknown gc_mode")
	}
}
