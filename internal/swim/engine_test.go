package swim

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutu-network/swim/internal/domain"
)

// testNode bundles one Engine with the fakes driving it, so scenario tests
// can advance time and fire timers deterministically instead of racing a
// real clock (spec.md §8's seed scenarios).
type testNode struct {
	engine       *Engine
	clock        *FakeClock
	roundTimer   *ManualTimer
	waitAckTimer *ManualTimer
	id           uuid.UUID
}

func newTestNode(t *testing.T, net *FakeNetwork, cfg Config) *testNode {
	t.Helper()
	clock := &FakeClock{}
	roundTimer := &ManualTimer{}
	waitAckTimer := &ManualTimer{}
	e := New(net.NewTransport(), roundTimer, waitAckTimer, clock, prometheus.NewRegistry(), nil)
	id := uuid.New()
	if err := e.Cfg(cfg, "127.0.0.1:0", id); err != nil {
		t.Fatalf("Cfg() error: %v", err)
	}
	return &testNode{engine: e, clock: clock, roundTimer: roundTimer, waitAckTimer: waitAckTimer, id: id}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatRate = 100 * time.Millisecond
	cfg.AckTimeout = 1 * time.Second
	return cfg
}

// pump gives detached SendAsync goroutines and the recvLoop goroutine a
// chance to run before a test inspects engine state.
func pump() { time.Sleep(5 * time.Millisecond) }

func TestTwoNodeConvergence(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	a := newTestNode(t, fakeNet, cfg)
	b := newTestNode(t, fakeNet, cfg)

	if err := a.engine.AddMember(b.engine.self.Addr.String(), b.id); err != nil {
		t.Fatalf("AddMember() error: %v", err)
	}

	a.roundTimer.Fire()
	pump()

	bView, ok := a.engine.table.Find(b.id)
	if !ok {
		t.Fatal("a does not know about b after round tick")
	}
	if bView.Status != domain.Alive {
		t.Errorf("b's status at a = %v, want Alive", bView.Status)
	}
	if bView.Incarnation != 0 {
		t.Errorf("b's incarnation at a = %d, want 0 (self starts at incarnation 0)", bView.Incarnation)
	}

	// b should now know about a too, from the ping's SRC_UUID upsert.
	aAtB, ok := b.engine.table.Find(a.id)
	if !ok {
		t.Fatal("b does not know about a after receiving a's ping")
	}
	if aAtB.Incarnation != 0 {
		t.Errorf("a's incarnation at b = %d, want 0", aAtB.Incarnation)
	}
}

func TestFailureDetectionMarksDeadAfterTimeouts(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.DisableSuspicion = true // basic variant: Alive -> Dead directly
	a := newTestNode(t, fakeNet, cfg)

	// The ghost is a silent member: never bound in the network, so every ping
	// to it fails to find a peer and is dropped by the fake Send.
	ghostID := uuid.New()
	ghostAddr := "127.0.0.1:9"
	if err := a.engine.AddMember(ghostAddr, ghostID); err != nil {
		t.Fatalf("AddMember() error: %v", err)
	}

	a.engine.mu.Lock()
	ghost, _ := a.engine.table.Find(ghostID)
	a.engine.mu.Unlock()

	// Drive each round by hand: a real ping to an unbound address fails
	// to send, so reping never re-arms the wait-ack entry on its own —
	// exactly as if no ack were ever coming back.
	for i := 0; i < cfg.NoAcksToDead; i++ {
		a.engine.mu.Lock()
		a.engine.scheduleDirectPing(ghost)
		a.engine.mu.Unlock()
		a.clock.Advance(cfg.AckTimeout.Seconds() + 1)
		a.waitAckTimer.Fire()
		pump()
	}

	a.engine.mu.Lock()
	status := ghost.Status
	a.engine.mu.Unlock()
	if status != domain.Dead {
		t.Errorf("ghost status = %v, want Dead after %d timeouts", status, cfg.NoAcksToDead)
	}
}

func TestSelfRefutation(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	a := newTestNode(t, fakeNet, cfg)

	a.engine.mu.Lock()
	startIncarn := a.engine.self.Incarnation
	a.engine.upsert(a.id, a.engine.self.Addr.IP, uint16(a.engine.self.Addr.Port), domain.Suspected, startIncarn, nil, uuid.Nil, false)
	gotIncarn := a.engine.self.Incarnation
	gotStatus := a.engine.self.Status
	a.engine.mu.Unlock()

	if gotIncarn <= startIncarn {
		t.Errorf("self incarnation = %d, want > %d after refutation", gotIncarn, startIncarn)
	}
	if gotStatus != domain.Alive {
		t.Errorf("self status = %v, want Alive (self is never marked non-Alive locally)", gotStatus)
	}
}

func TestCannotRemoveSelf(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())
	if err := a.engine.RemoveMember(a.id); err != domain.ErrCannotRemoveSelf {
		t.Errorf("RemoveMember(self) = %v, want ErrCannotRemoveSelf", err)
	}
}

func TestUUIDRehashOnReconfigure(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())
	oldID := a.id
	newID := uuid.New()

	if err := a.engine.Cfg(testConfig(), a.engine.self.Addr.String(), newID); err != nil {
		t.Fatalf("Cfg() rehash error: %v", err)
	}

	if _, ok := a.engine.table.Find(oldID); ok {
		t.Error("old uuid still resolvable after rehash")
	}
	got, ok := a.engine.table.Find(newID)
	if !ok {
		t.Fatal("new uuid not resolvable after rehash")
	}
	if !got.HasOldUUID || got.OldUUID != oldID {
		t.Errorf("renamed self OldUUID = %v (has=%v), want %v", got.OldUUID, got.HasOldUUID, oldID)
	}
}

func TestSetPayloadRejectsOversizePayload(t *testing.T) {
	fakeNet := NewFakeNetwork()
	cfg := testConfig()
	cfg.MaxPayloadSize = 4
	a := newTestNode(t, fakeNet, cfg)

	if err := a.engine.SetPayload([]byte("too big")); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Errorf("SetPayload() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSetPayloadStoresAndQueuesEvent(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())

	if err := a.engine.SetPayload([]byte("hello")); err != nil {
		t.Fatalf("SetPayload() error: %v", err)
	}

	a.engine.mu.Lock()
	payload := string(a.engine.self.Payload)
	eventsIdx := a.engine.self.eventsIndex
	a.engine.mu.Unlock()

	if payload != "hello" {
		t.Errorf("self.Payload = %q, want %q", payload, "hello")
	}
	if eventsIdx == strayIndex {
		t.Error("SetPayload did not queue a dissemination event for self")
	}
}

func TestSetPayloadIdenticalIsNoop(t *testing.T) {
	fakeNet := NewFakeNetwork()
	a := newTestNode(t, fakeNet, testConfig())

	if err := a.engine.SetPayload([]byte("hello")); err != nil {
		t.Fatalf("SetPayload() error: %v", err)
	}
	a.engine.mu.Lock()
	a.engine.self.eventsIndex = strayIndex
	a.engine.events.items = nil
	a.engine.mu.Unlock()

	if err := a.engine.SetPayload([]byte("hello")); err != nil {
		t.Fatalf("SetPayload() (repeat) error: %v", err)
	}

	a.engine.mu.Lock()
	eventsIdx := a.engine.self.eventsIndex
	a.engine.mu.Unlock()
	if eventsIdx != strayIndex {
		t.Error("SetPayload with an identical payload should not re-queue a dissemination event")
	}
}

