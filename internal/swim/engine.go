package swim

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutu-network/swim/internal/domain"
)

// ─── Engine Lifecycle (spec.md §4, §5, §6) ──────────────────────────────────
//
// Grounded on gossip.SWIM's shape (NikeGunn-tutu) — New/Start/Join, a mutex-
// guarded member map, a probe-cycle ticker, a receive loop — but restructured
// from "one goroutine per concern plus channels for synchronization" into the
// single-threaded event-loop model spec.md §5 requires: one mutex, two
// Timers (round and wait-ack), and one receive loop that all serialize
// through the same lock. There is deliberately no per-probe goroutine or
// ack channel; onWaitAckTick (detector.go) sweeps the heap instead of each
// probe owning its own timer.

// Engine runs one SWIM protocol participant. The zero value is not usable;
// construct with New.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	self    *Member
	table   *Table
	waitAck waitAckHeap
	round   roundFIFO
	events  eventQueue

	transport domain.Transport
	clock     domain.Clock

	roundTimer   domain.Timer
	waitAckTimer domain.Timer

	metrics *Metrics
	logger  *slog.Logger

	closed bool
}

// New constructs an unconfigured Engine. The first Cfg call binds and
// starts it.
func New(transport domain.Transport, roundTimer, waitAckTimer domain.Timer, clock domain.Clock, reg prometheus.Registerer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		table:        newTable(0),
		transport:    transport,
		clock:        clock,
		roundTimer:   roundTimer,
		waitAckTimer: waitAckTimer,
		metrics:      NewMetrics(reg),
		logger:       logger,
	}
}

// Cfg (re)configures the engine (spec.md §4.1's cfg operation). On the
// first call it binds the transport and creates the self member; on later
// calls it applies a new parameter set in place, optionally rehashing self's
// UUID (when id differs from the current one) and/or rebinding the socket
// (when uri's address differs from the current bind). GCModeDefault in cfg
// leaves the already-configured GC mode untouched.
func (e *Engine) Cfg(cfg Config, uri string, id uuid.UUID) error {
	addr, err := parseSwimURI(uri)
	if err != nil {
		return err
	}
	if id == uuid.Nil {
		return fmt.Errorf("%w: uuid is required", domain.ErrIllegalParams)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg.GCMode == domain.GCModeDefault {
		if e.self != nil {
			cfg.GCMode = e.cfg.GCMode
		} else {
			cfg.GCMode = domain.GCModeOn
		}
	}
	e.cfg = cfg
	e.table.maxMembers = cfg.MaxMembers

	if e.self == nil {
		if err := e.transport.Bind(addr); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		e.self = newMember(id, e.transport.LocalAddr(), domain.Alive, 0)
		e.table.Insert(e.self)
		e.roundTimer.Start(cfg.HeartbeatRate.Seconds(), e.onRoundTick)
		e.waitAckTimer.Start(waitAckTickPeriod(cfg), e.onWaitAckTick)
		go e.recvLoop()
		return nil
	}

	if !sameUDPAddr(e.self.Addr, addr) {
		if err := e.transport.Bind(addr); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		e.self.Addr = e.transport.LocalAddr()
	}

	if id != e.self.UUID {
		renamed, err := e.table.RehashUUID(e.self, id)
		if err != nil {
			return err
		}
		renamed.OldUUID = e.self.UUID
		renamed.HasOldUUID = true
		e.self = renamed
		e.events.Push(e.self, e.table.Len())
	}

	e.roundTimer.Start(cfg.HeartbeatRate.Seconds(), e.onRoundTick)
	e.waitAckTimer.Start(waitAckTickPeriod(cfg), e.onWaitAckTick)
	return nil
}

// waitAckTickPeriod samples the wait-ack heap at a sub-multiple of
// AckTimeout, fine enough that an expired ping is escalated promptly
// without busy-looping (spec.md §6 leaves this tick period unspecified).
func waitAckTickPeriod(cfg Config) float64 {
	period := cfg.AckTimeout.Seconds() / 10
	if period <= 0 || period > cfg.HeartbeatRate.Seconds() {
		return cfg.HeartbeatRate.Seconds()
	}
	return period
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// parseSwimURI resolves a "swim://host:port"-or-bare "host:port" address,
// rejecting anything that is not a concrete IPv4 endpoint (spec.md §6:
// "implementations must be IPv4-only; INADDR_ANY is rejected at bind time").
func parseSwimURI(uri string) (*net.UDPAddr, error) {
	const prefix = "swim://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		uri = uri[len(prefix):]
	}
	addr, err := net.ResolveUDPAddr("udp4", uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIllegalParams, err)
	}
	if addr.IP == nil || addr.IP.IsUnspecified() {
		return nil, fmt.Errorf("%w: INADDR_ANY is not a valid bind address", domain.ErrIllegalParams)
	}
	return addr, nil
}

// AddMember registers a known peer directly, bypassing discovery — used to
// seed the table from a config file or CLI flag (spec.md §4.1).
func (e *Engine) AddMember(uri string, id uuid.UUID) error {
	addr, err := parseSwimURI(uri)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil {
		return domain.ErrNotConfigured
	}
	if _, exists := e.table.Find(id); exists {
		return domain.ErrDuplicateUUID
	}
	if err := e.table.Reserve(1); err != nil {
		return err
	}
	m := newMember(id, addr, domain.Alive, 0)
	e.table.Insert(m)
	return nil
}

// SetPayload replaces self's opaque extended-variant payload, bounding it
// at MaxPayloadSize (spec.md §6; grounded on swim_set_payload/
// swim_update_member_payload in the reference implementation). An
// identical payload is a no-op, matching the reference's memcmp short
// circuit; otherwise it queues a dissemination event so the new payload
// propagates on the next rounds.
func (e *Engine) SetPayload(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil {
		return domain.ErrNotConfigured
	}
	if len(payload) > e.cfg.MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", domain.ErrPayloadTooLarge, len(payload), e.cfg.MaxPayloadSize)
	}
	if bytes.Equal(e.self.Payload, payload) {
		return nil
	}
	e.self.Payload = payload
	e.onMemberUpdate(e.self)
	return nil
}

// MemberSnapshot is a point-in-time, lock-free copy of one table entry,
// safe to hand to a collaborator (the HTTP API, the CLI) outside e.mu.
type MemberSnapshot struct {
	UUID        uuid.UUID
	Addr        string
	Status      domain.Status
	Incarnation uint64
}

// Snapshot returns a copy of every member currently in the table,
// including self (spec.md §4.1; grounded on gossip.SWIM.Members's
// lock-then-copy shape).
func (e *Engine) Snapshot() []MemberSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MemberSnapshot, 0, e.table.Len())
	e.table.Iter(func(m *Member) {
		out = append(out, MemberSnapshot{
			UUID:        m.UUID,
			Addr:        m.Addr.String(),
			Status:      m.Status,
			Incarnation: m.Incarnation,
		})
	})
	return out
}

// RemoveMember evicts a peer immediately, without a dissemination round.
func (e *Engine) RemoveMember(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil {
		return domain.ErrNotConfigured
	}
	if id == e.self.UUID {
		return domain.ErrCannotRemoveSelf
	}
	m, ok := e.table.Find(id)
	if !ok {
		return domain.ErrMemberNotFound
	}
	e.table.Remove(m)
	e.waitAck.Remove(m)
	return nil
}

// ProbeMember fires a single fire-and-forget direct ping at uri outside of
// the normal round schedule (spec.md §4.3's standalone probe entry point,
// used by the CLI's "swimctl probe").
func (e *Engine) ProbeMember(uri string) error {
	addr, err := parseSwimURI(uri)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil {
		return domain.ErrNotConfigured
	}
	pkt := &packet{
		SrcUUID: e.self.UUID,
		FD: &fdSection{
			Type:        fdPing,
			Incarnation: e.self.Incarnation,
		},
	}
	buf, err := encodePacket(pkt)
	if err != nil {
		return err
	}
	return e.transport.Send(buf, addr)
}

// Quit performs the extended variant's graceful departure (spec.md §4.7):
// a terminal round that sends QUIT to every addressee with no delay between
// steps, then tears the engine down. Non-blocking callers should not expect
// Quit to return before every send attempt has been issued.
func (e *Engine) Quit() {
	e.mu.Lock()
	if e.self == nil || e.closed {
		e.mu.Unlock()
		return
	}
	self := e.self
	incarn := e.self.Incarnation
	addressees := e.table.Shuffle(self)
	e.mu.Unlock()

	pkt := &packet{SrcUUID: self.UUID, QuitIncarn: &incarn}
	buf, err := encodePacket(pkt)
	if err == nil {
		for _, m := range addressees {
			e.transport.Send(buf, m.Addr)
		}
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.roundTimer.Stop()
	e.waitAckTimer.Stop()
	e.transport.Close()
}

// recvLoop is the engine's single reader goroutine; every packet it
// decodes is handed to onPacket, which re-enters under e.mu (spec.md §5:
// all protocol state mutation is serialized through one lock, even though
// receipt itself happens off the timer goroutines).
func (e *Engine) recvLoop() {
	buf := make([]byte, 65536)
	for {
		n, from, err := e.transport.Recv(buf)
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			e.logger.Warn("recv error", "err", err)
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		e.onPacket(cp, from)
	}
}

// onRoundTick advances the round scheduler by exactly one step (spec.md
// §4.2): start a new round if the FIFO is empty, pop the next addressee,
// build and send its packet, and — once the send completes successfully —
// schedule the direct ping wait and decay the dissemination queue.
func (e *Engine) onRoundTick() {
	e.mu.Lock()
	if e.self == nil || e.closed {
		e.mu.Unlock()
		return
	}
	if e.round.Empty() {
		e.round.Reset(e.table.Shuffle(e.self))
	}
	addressee := e.round.Pop()
	if addressee == nil {
		e.mu.Unlock()
		return
	}
	e.metrics.roundTicks.Inc()
	e.metrics.tableSize.Set(float64(e.table.Len()))
	e.metrics.waitAckDepth.Set(float64(e.waitAck.Len()))

	buf, err := e.buildRoundPacket(addressee)
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("build round packet", "addressee", addressee.UUID, "err", err)
		return
	}

	e.transport.SendAsync(buf, addressee.Addr, func(sendErr error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.self == nil || e.closed {
			return
		}
		if sendErr != nil {
			e.logger.Warn("round send failed", "addressee", addressee.UUID, "err", sendErr)
			return
		}
		e.scheduleDirectPing(addressee)
		e.metrics.pingsSent.Inc()
		e.events.Decay(e.table)
	})
}

// buildRoundPacket assembles one round-step packet for addressee: a ping
// header, every queued dissemination event, and a random anti-entropy
// sample — each appended only while the result still fits MaxPacketSize
// (spec.md §4.2, §4.4). Must be called with e.mu held.
func (e *Engine) buildRoundPacket(addressee *Member) ([]byte, error) {
	pkt := &packet{
		SrcUUID: e.self.UUID,
		FD: &fdSection{
			Type:        fdPing,
			Incarnation: e.self.Incarnation,
		},
	}

	fits := func(candidate *packet) ([]byte, bool) {
		buf, err := encodePacket(candidate)
		if err != nil {
			return nil, false
		}
		return buf, len(buf) <= e.cfg.MaxPacketSize
	}

	best, ok := fits(pkt)
	if !ok {
		return nil, fmt.Errorf("%w: bare ping header exceeds MaxPacketSize", domain.ErrIllegalParams)
	}

	for _, m := range e.events.items {
		trial := *pkt
		trial.Dissemination = append(append([]eventDescriptor{}, toEventDescriptors(pkt.Dissemination)...), memberToEvent(m))
		if buf, ok := fits(&trial); ok {
			best = buf
			pkt.Dissemination = trial.Dissemination
		} else {
			break
		}
	}

	for _, m := range e.table.RandomN(e.table.Len(), e.self) {
		trial := *pkt
		trial.AntiEntropy = append(append([]memberDescriptor{}, pkt.AntiEntropy...), memberToDescriptor(m))
		if buf, ok := fits(&trial); ok {
			best = buf
			pkt.AntiEntropy = trial.AntiEntropy
		} else {
			break
		}
	}

	return best, nil
}

func toEventDescriptors(evs []eventDescriptor) []eventDescriptor { return evs }

func memberToDescriptor(m *Member) memberDescriptor {
	return memberDescriptor{
		Status:      m.Status,
		Addr:        m.Addr.IP,
		Port:        uint16(m.Addr.Port),
		UUID:        m.UUID,
		Incarnation: m.Incarnation,
		Payload:     m.Payload,
	}
}

// memberToEvent builds the dissemination-event view of m. old_uuid only
// belongs on the wire while its own TTL is still positive (spec.md §4.4:
// "[old_uuid if old_uuid_ttl>0]"); today that TTL decays in lockstep with
// status_ttl so the event always leaves the queue first, but gate on it
// explicitly rather than relying on that coincidence.
func memberToEvent(m *Member) eventDescriptor {
	return eventDescriptor{
		memberDescriptor: memberToDescriptor(m),
		OldUUID:          m.OldUUID,
		HasOldUUID:       m.HasOldUUID && m.OldUUIDTTL > 0,
	}
}
