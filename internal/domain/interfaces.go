package domain

import "net"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define the boundary between the protocol engine
// (internal/swim) and the collaborators spec.md §6 deliberately keeps out
// of the core: the UDP transport and the timer/event loop. Infrastructure
// implements them; the engine depends only on them.

// Transport abstracts a single bound, non-blocking UDP socket (spec.md §6).
// The engine only ever passes a concrete IPv4 address to Bind: its URI
// parser rejects non-IPv4 addresses and INADDR_ANY before Bind is called.
type Transport interface {
	// Bind listens on addr. Bind is idempotent on an unchanged address.
	Bind(addr *net.UDPAddr) error

	// Send transmits buf to dst. Implementations may perform the send
	// asynchronously but must report the outcome through a completion
	// callback registered out of band (see SendAsync).
	Send(buf []byte, dst *net.UDPAddr) error

	// SendAsync transmits buf to dst and invokes done with the outcome
	// once the send completes (or fails). This is the "detached one-shot
	// send task" of spec.md §5: done must tolerate the originating
	// Member no longer existing.
	SendAsync(buf []byte, dst *net.UDPAddr, done func(error))

	// Recv blocks until one packet is available, or the transport is
	// closed (in which case it returns a non-nil error).
	Recv(buf []byte) (n int, src *net.UDPAddr, err error)

	// LocalAddr reports the bound address.
	LocalAddr() *net.UDPAddr

	Close() error
}

// Timer abstracts the event loop's periodic-callback primitive
// (spec.md §6's EV_TIMER). Implementations may re-arm from inside their
// own callback.
type Timer interface {
	// Start arms the timer to invoke fn every period until Stop is
	// called. Starting an already-running timer re-arms it with the new
	// period.
	Start(period float64, fn func())
	Stop()
}

// Clock abstracts monotonic time, matching spec.md §6's now() -> f64.
// Production code uses a time.Now()-backed clock; tests inject a fake
// one so ack-timeout and TTL math is deterministic.
type Clock interface {
	Now() float64
}
