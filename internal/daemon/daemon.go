package daemon

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutu-network/swim/internal/api"
	"github.com/tutu-network/swim/internal/infra/sqlite"
	"github.com/tutu-network/swim/internal/swim"
)

// Daemon owns one running Engine plus its collaborators: the seed store
// and the introspection HTTP server. Grounded on gossip.SWIM.Start's
// "resolve config, bind, seed, run" sequence (NikeGunn-tutu), split across
// explicit collaborators instead of one monolithic struct.
type Daemon struct {
	Engine *swim.Engine
	API    *api.Server
	Seeds  *sqlite.SeedStore

	cfg Config
}

// New builds a Daemon from cfg and a local identity. Configuring the
// engine binds its UDP socket and starts its timers; no seed is added
// until Seed is called. logger defaults to slog.Default() when nil.
func New(cfg Config, id uuid.UUID, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	swimCfg, err := cfg.ToSwimConfig()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	engine := swim.New(swim.NewUDPTransport(), &swim.IntervalTimer{}, &swim.IntervalTimer{}, swim.NewSystemClock(), reg, logger)
	if err := engine.Cfg(swimCfg, cfg.BindAddr, id); err != nil {
		return nil, fmt.Errorf("configure engine: %w", err)
	}

	var seeds *sqlite.SeedStore
	if cfg.SeedStorePath != "" {
		seeds, err = sqlite.NewSeedStore(cfg.SeedStorePath)
		if err != nil {
			return nil, fmt.Errorf("open seed store: %w", err)
		}
	}

	d := &Daemon{Engine: engine, Seeds: seeds, cfg: cfg}
	d.API = api.NewServer(engineAdapter{engine}, reg)
	if cfg.API.EnableMetrics {
		d.API.EnableMetrics()
	}
	return d, nil
}

// Seed adds every configured bootstrap peer ("uuid@host:port") and every
// entry persisted from a prior run to the table (spec.md §4.1).
func (d *Daemon) Seed() error {
	for _, s := range d.cfg.Seeds {
		id, addr, err := parseSeed(s)
		if err != nil {
			return err
		}
		if err := d.Engine.AddMember(addr, id); err != nil {
			return fmt.Errorf("seed %s: %w", s, err)
		}
		if d.Seeds != nil {
			if err := d.Seeds.Upsert(id, addr); err != nil {
				return err
			}
		}
	}

	if d.Seeds == nil {
		return nil
	}
	persisted, err := d.Seeds.List()
	if err != nil {
		return err
	}
	for _, s := range persisted {
		// AddMember rejects a duplicate UUID; a seed also named on the
		// config file was already added above.
		_ = d.Engine.AddMember(s.Addr, s.UUID)
	}
	return nil
}

// Close tears down the daemon's collaborators.
func (d *Daemon) Close() error {
	d.Engine.Quit()
	if d.Seeds != nil {
		return d.Seeds.Close()
	}
	return nil
}

func parseSeed(s string) (uuid.UUID, string, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return uuid.Nil, "", fmt.Errorf("seed %q: expected uuid@host:port", s)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("seed %q: %w", s, err)
	}
	return id, parts[1], nil
}

// engineAdapter narrows *swim.Engine to the api.Engine interface.
type engineAdapter struct{ e *swim.Engine }

func (a engineAdapter) Members() []api.MemberView {
	snaps := a.e.Snapshot()
	out := make([]api.MemberView, len(snaps))
	for i, s := range snaps {
		out[i] = api.MemberView{
			UUID:        s.UUID.String(),
			Addr:        s.Addr,
			Status:      s.Status.String(),
			Incarnation: s.Incarnation,
		}
	}
	return out
}

func (a engineAdapter) ProbeMember(uri string) error { return a.e.ProbeMember(uri) }
func (a engineAdapter) Quit()                        { a.e.Quit() }
