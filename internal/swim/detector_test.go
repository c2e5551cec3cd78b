package swim

import (
	"net"
	"testing"

	"github.com/google/uuid"

	"github.com/tutu-network/swim/internal/domain"
)

// addGhost inserts a member whose address is never bound on the fake
// network, so every direct or proxied ping to it fails silently —
// exactly the "never hear back" case the detector must escalate on.
func addGhost(t *testing.T, a *testNode, addr string) *Member {
	t.Helper()
	id := uuid.New()
	if err := a.engine.AddMember(addr, id); err != nil {
		t.Fatalf("AddMember(%s) error: %v", addr, err)
	}
	a.engine.mu.Lock()
	m, _ := a.engine.table.Find(id)
	a.engine.mu.Unlock()
	return m
}

func TestScheduleDirectPingArmsWaitAckHeap(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())
	ghost := addGhost(t, a, "127.0.0.1:9001")

	a.engine.mu.Lock()
	a.engine.scheduleDirectPing(ghost)
	a.engine.mu.Unlock()

	if ghost.hopCount != 1 {
		t.Errorf("hopCount = %d, want 1", ghost.hopCount)
	}
	if ghost.waitAckIndex == strayIndex {
		t.Error("ghost not inserted into the wait-ack heap")
	}
	wantDeadline := a.clock.Now() + a.engine.cfg.AckTimeout.Seconds()
	if ghost.PingDeadline != wantDeadline {
		t.Errorf("PingDeadline = %v, want %v", ghost.PingDeadline, wantDeadline)
	}
}

func TestEscalateExtendedGoesAliveSuspectedDead(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	a := newTestNode(t, fakeNet, cfg)
	ghost := addGhost(t, a, "127.0.0.1:9002")

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToSuspect; i++ {
		a.engine.escalate(ghost)
	}
	a.engine.mu.Unlock()
	pump() // let reping's detached failed-send callbacks settle

	a.engine.mu.Lock()
	status := ghost.Status
	a.engine.mu.Unlock()
	if status != domain.Suspected {
		t.Fatalf("status after %d timeouts = %v, want Suspected", cfg.NoAcksToSuspect, status)
	}

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToDead; i++ {
		a.engine.escalate(ghost)
	}
	a.engine.mu.Unlock()
	pump()

	a.engine.mu.Lock()
	status = ghost.Status
	a.engine.mu.Unlock()
	if status != domain.Dead {
		t.Fatalf("status after further %d timeouts = %v, want Dead", cfg.NoAcksToDead, status)
	}
}

func TestEscalateBasicGoesAliveDeadDirectly(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.DisableSuspicion = true
	a := newTestNode(t, fakeNet, cfg)
	ghost := addGhost(t, a, "127.0.0.1:9003")

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToDead-1; i++ {
		a.engine.escalate(ghost)
	}
	a.engine.mu.Unlock()
	pump()

	a.engine.mu.Lock()
	status := ghost.Status
	a.engine.mu.Unlock()
	if status != domain.Alive {
		t.Fatalf("status before reaching NoAcksToDead = %v, want still Alive", status)
	}

	a.engine.mu.Lock()
	a.engine.escalate(ghost)
	a.engine.mu.Unlock()
	pump()

	a.engine.mu.Lock()
	status = ghost.Status
	a.engine.mu.Unlock()
	if status != domain.Dead {
		t.Errorf("status at NoAcksToDead = %v, want Dead", status)
	}
}

func TestEscalateTransitionResetsUnackedAndQueuesEvent(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	a := newTestNode(t, fakeNet, cfg)
	ghost := addGhost(t, a, "127.0.0.1:9004")

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToSuspect; i++ {
		a.engine.escalate(ghost)
	}
	a.engine.mu.Unlock()
	pump()

	a.engine.mu.Lock()
	unacked := ghost.UnackedPings
	eventsIdx := ghost.eventsIndex
	a.engine.mu.Unlock()

	if unacked != 0 {
		t.Errorf("UnackedPings after transition = %d, want reset to 0", unacked)
	}
	if eventsIdx == strayIndex {
		t.Error("transition did not push a dissemination event for the status change")
	}
}

func TestEscalateDeadGCsOnceTTLExpiresAndGCModeOn(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.DisableSuspicion = true
	cfg.GCMode = domain.GCModeOn
	a := newTestNode(t, fakeNet, cfg)
	ghost := addGhost(t, a, "127.0.0.1:9005")

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToDead; i++ {
		a.engine.escalate(ghost)
	}
	if ghost.Status != domain.Dead {
		a.engine.mu.Unlock()
		t.Fatalf("status = %v, want Dead before GC phase", ghost.Status)
	}
	// The Dead transition just queued a dissemination event, so StatusTTL
	// is non-zero: GC must not fire until that event has fully decayed.
	ghost.StatusTTL = 0
	for i := 0; i < cfg.NoAcksToGC; i++ {
		a.engine.escalate(ghost)
	}
	_, stillPresent := a.engine.table.Find(ghost.UUID)
	a.engine.mu.Unlock()

	if stillPresent {
		t.Error("dead member was not garbage collected once NoAcksToGC was reached with StatusTTL 0")
	}
}

func TestEscalateDeadDoesNotGCWhileStatusTTLPending(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.DisableSuspicion = true
	cfg.GCMode = domain.GCModeOn
	a := newTestNode(t, fakeNet, cfg)
	ghost := addGhost(t, a, "127.0.0.1:9006")

	a.engine.mu.Lock()
	for i := 0; i < cfg.NoAcksToDead; i++ {
		a.engine.escalate(ghost)
	}
	ghost.StatusTTL = 5 // event not yet decayed: must not GC regardless of unacked count
	for i := 0; i < cfg.NoAcksToGC+2; i++ {
		a.engine.escalate(ghost)
	}
	_, stillPresent := a.engine.table.Find(ghost.UUID)
	a.engine.mu.Unlock()

	if !stillPresent {
		t.Error("dead member was garbage collected while its dissemination event was still pending")
	}
}

func TestRepingRespectsAtMostOneInFlight(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())
	ghost := addGhost(t, a, "127.0.0.1:9007")

	a.engine.mu.Lock()
	ghost.pingTask.inFlight = true
	before := ghost.waitAckIndex
	a.engine.reping(ghost)
	after := ghost.waitAckIndex
	a.engine.mu.Unlock()

	if before != after {
		t.Error("reping re-armed the wait-ack entry while a ping was already in flight")
	}
}

func TestRepingSendsAndRearmsOnSuccess(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())
	// A bound transport with no engine behind it: the send succeeds but
	// no ack ever comes back to clear the re-armed entry.
	sink := fakeNet.NewTransport()
	if err := sink.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	sinkID := uuid.New()
	if err := a.engine.AddMember(sink.LocalAddr().String(), sinkID); err != nil {
		t.Fatalf("AddMember() error: %v", err)
	}
	a.engine.mu.Lock()
	target, _ := a.engine.table.Find(sinkID)
	a.engine.reping(target)
	a.engine.mu.Unlock()

	pump()

	a.engine.mu.Lock()
	rearmed := target.waitAckIndex != strayIndex
	a.engine.mu.Unlock()
	if !rearmed {
		t.Error("reping did not re-arm the wait-ack entry after a successful send")
	}
}

func TestSendIndirectPingsFansOutToOtherMembers(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.IndirectPingCount = 2
	a := newTestNode(t, fakeNet, cfg)

	target := addGhost(t, a, "127.0.0.1:9100")
	addGhost(t, a, "127.0.0.1:9101")
	addGhost(t, a, "127.0.0.1:9102")

	a.engine.mu.Lock()
	a.engine.sendIndirectPings(target)
	a.engine.mu.Unlock()
	pump()

	if target.hopCount != 2 {
		t.Errorf("hopCount = %d, want 2 for an indirectly-probed target", target.hopCount)
	}
	wantDeadline := a.clock.Now() + a.engine.cfg.AckTimeout.Seconds()*2
	if target.PingDeadline != wantDeadline {
		t.Errorf("PingDeadline = %v, want %v (double the direct timeout)", target.PingDeadline, wantDeadline)
	}
	if target.waitAckIndex == strayIndex {
		t.Error("target was not kept in the wait-ack heap across the indirect round")
	}
}

// TestSendIndirectPingsSkipsTargetAsItsOwnProxy covers the degenerate case
// where the target is the only other known member: RandomN has nothing
// else to offer, sendIndirectPings' own proxy==target guard must skip it
// rather than asking the target to ping itself, and the target still gets
// armed in the wait-ack heap under the doubled indirect deadline.
func TestSendIndirectPingsSkipsTargetAsItsOwnProxy(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.IndirectPingCount = 5
	a := newTestNode(t, fakeNet, cfg)
	target := addGhost(t, a, "127.0.0.1:9110")

	a.engine.mu.Lock()
	a.engine.sendIndirectPings(target)
	a.engine.mu.Unlock()
	pump()

	if target.hopCount != 2 {
		t.Errorf("hopCount = %d, want 2", target.hopCount)
	}
	if target.waitAckIndex == strayIndex {
		t.Error("target not armed in the wait-ack heap when no other proxy exists")
	}
}

func TestForwardPingRelaysToTargetWithReplyTo(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig()) // acting as proxy
	realTarget := newTestNode(t, fakeNet, testConfig())
	requester := newTestNode(t, fakeNet, testConfig())

	fd := &fdSection{
		Type:        fdPing,
		Incarnation: 1,
		HasProxy:    true,
		ProxyTarget: realTarget.id,
		ProxyAddr:   *realTarget.engine.self.Addr,
	}

	a.engine.mu.Lock()
	a.engine.forwardPing(fd, requester.engine.self.Addr)
	a.engine.mu.Unlock()
	pump()

	realTarget.engine.mu.Lock()
	_, knowsRequester := realTarget.engine.table.Find(requester.id)
	realTarget.engine.mu.Unlock()

	// The forwarded ping carries only SRC_UUID=a and REPLY_TO=requester;
	// the real target learns about the proxy (a) via SRC_UUID upsert but
	// has no anti-entropy or dissemination path to learn of requester
	// from this single packet, so only confirm the packet was delivered
	// and decoded without the requester entry appearing spuriously.
	if knowsRequester {
		t.Error("forwarded ping must not itself upsert the original requester into the target's table")
	}

	realTarget.engine.mu.Lock()
	_, knowsProxy := realTarget.engine.table.Find(a.id)
	realTarget.engine.mu.Unlock()
	if !knowsProxy {
		t.Error("real target did not learn about the relaying proxy from the forwarded ping's SRC_UUID")
	}
}
