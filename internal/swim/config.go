package swim

import (
	"time"

	"github.com/tutu-network/swim/internal/domain"
)

// Config controls the SWIM protocol's tunables (spec.md §4.2, §4.3, §6).
// Grounded on gossip.Config's shape (NikeGunn-tutu); fields renamed and
// extended to match spec.md's constant names exactly.
type Config struct {
	// HeartbeatRate is the round_tick period. Default 1s.
	HeartbeatRate time.Duration
	// AckTimeout is how long a ping waits for an ack before it is
	// considered lost. Default 30s.
	AckTimeout time.Duration

	// NoAcksToSuspect is the unacked-ping count at which an Alive member
	// becomes Suspected (extended variant only). Default 2.
	NoAcksToSuspect int
	// NoAcksToDead is the unacked-ping count at which an Alive (basic
	// variant) or Suspected (extended variant) member becomes Dead.
	// Default 3.
	NoAcksToDead int
	// NoAcksToGC is the further unacked-ping count, after becoming Dead,
	// at which a member is garbage-collected. Default 2.
	NoAcksToGC int
	// IndirectPingCount is k, the number of proxies used for indirect
	// pings (extended variant only). Default 2.
	IndirectPingCount int

	// DisableSuspicion selects the basic variant's direct Alive->Dead
	// transition, skipping the Suspected state entirely.
	DisableSuspicion bool

	// GCMode controls whether Dead members are ever collected.
	GCMode domain.GCMode

	// MaxPayloadSize bounds the extended variant's opaque per-member
	// payload so it always fits in one UDP datagram alongside headers.
	MaxPayloadSize int

	// MaxMembers bounds table growth; 0 means unbounded. Used to give
	// Table.Reserve a real failure mode for Config.MaxMembers > 0
	// deployments instead of the "never fails in Go" default.
	MaxMembers int

	// MaxPacketSize bounds one outgoing UDP datagram; sections are
	// appended to a round packet only while space remains (spec.md §4.4).
	MaxPacketSize int
}

// DefaultConfig returns the constants named in spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		HeartbeatRate:     1 * time.Second,
		AckTimeout:        30 * time.Second,
		NoAcksToSuspect:   2,
		NoAcksToDead:      3,
		NoAcksToGC:        2,
		IndirectPingCount: 2,
		GCMode:            domain.GCModeOn,
		MaxPayloadSize:    512,
		MaxPacketSize:     1400, // conservative UDP MTU budget
	}
}
