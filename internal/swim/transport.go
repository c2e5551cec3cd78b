package swim

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tutu-network/swim/internal/domain"
)

// ─── UDP Transport ───────────────────────────────────────────────────────────
// Grounded on gossip.SWIM.Start/sendMessage/receiveLoop (NikeGunn-tutu):
// same net.ListenUDP/ReadFromUDP/WriteToUDP shape, generalized behind
// domain.Transport so the engine can be driven by a fake in tests.

// UDPTransport is the production domain.Transport, one bound *net.UDPConn.
type UDPTransport struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDPTransport() *UDPTransport { return &UDPTransport{} }

func (t *UDPTransport) Bind(addr *net.UDPAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *UDPTransport) Send(buf []byte, dst *net.UDPAddr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: transport not bound", domain.ErrTransport)
	}
	_, err := conn.WriteToUDP(buf, dst)
	return err
}

// SendAsync runs the write on its own goroutine so a slow/blocking socket
// never stalls the caller's event-loop tick (spec.md §5: sends are
// detached one-shot tasks).
func (t *UDPTransport) SendAsync(buf []byte, dst *net.UDPAddr, done func(error)) {
	go func() {
		err := t.Send(buf, dst)
		if done != nil {
			done(err)
		}
	}()
}

func (t *UDPTransport) Recv(buf []byte) (int, *net.UDPAddr, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, nil, fmt.Errorf("%w: transport not bound", domain.ErrTransport)
	}
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}

func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// ─── In-Memory Fake Transport (test tooling) ────────────────────────────────
// A FakeNetwork wires multiple FakeTransports together by address, so a
// multi-node test scenario (spec.md §8) runs without touching a real
// socket. Grounded on the teacher's injectable-collaborator pattern used
// throughout internal/infra for its storage/registry fakes.

// FakeNetwork is a shared in-memory switchboard for FakeTransport.
type FakeNetwork struct {
	mu    sync.Mutex
	nodes map[string]*FakeTransport
	next  int
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{nodes: make(map[string]*FakeTransport)}
}

// NewTransport allocates an unbound FakeTransport attached to this network.
func (n *FakeNetwork) NewTransport() *FakeTransport {
	return &FakeTransport{network: n}
}

// FakeTransport implements domain.Transport entirely in memory: Send looks
// up the destination's registered inbox and appends to it directly.
type FakeTransport struct {
	network *FakeNetwork

	mu     sync.Mutex
	addr   *net.UDPAddr
	inbox  chan fakePacket
	closed bool
}

type fakePacket struct {
	buf  []byte
	from *net.UDPAddr
}

func (t *FakeTransport) Bind(addr *net.UDPAddr) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()

	if addr.Port == 0 {
		t.network.next++
		addr = &net.UDPAddr{IP: addr.IP, Port: 30000 + t.network.next}
	}
	t.mu.Lock()
	t.addr = addr
	if t.inbox == nil {
		t.inbox = make(chan fakePacket, 256)
	}
	t.closed = false
	t.mu.Unlock()

	t.network.nodes[addr.String()] = t
	return nil
}

func (t *FakeTransport) Send(buf []byte, dst *net.UDPAddr) error {
	t.network.mu.Lock()
	peer, ok := t.network.nodes[dst.String()]
	t.network.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no node bound at %s", domain.ErrTransport, dst)
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return fmt.Errorf("%w: peer closed", domain.ErrTransport)
	}
	select {
	case peer.inbox <- fakePacket{buf: cp, from: t.addr}:
		return nil
	default:
		return fmt.Errorf("%w: peer inbox full", domain.ErrTransport)
	}
}

// SendAsync must run detached, exactly like UDPTransport's: callers invoke
// it while holding the engine's mutex, and their done callbacks re-acquire
// that same mutex, so firing done synchronously here would deadlock the
// calling goroutine against itself.
func (t *FakeTransport) SendAsync(buf []byte, dst *net.UDPAddr, done func(error)) {
	go func() {
		err := t.Send(buf, dst)
		if done != nil {
			done(err)
		}
	}()
}

func (t *FakeTransport) Recv(buf []byte) (int, *net.UDPAddr, error) {
	t.mu.Lock()
	inbox := t.inbox
	t.mu.Unlock()

	pkt, ok := <-inbox
	if !ok {
		return 0, nil, fmt.Errorf("%w: transport closed", domain.ErrTransport)
	}
	n := copy(buf, pkt.buf)
	return n, pkt.from, nil
}

func (t *FakeTransport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

func (t *FakeTransport) Close() error {
	t.network.mu.Lock()
	if t.addr != nil {
		delete(t.network.nodes, t.addr.String())
	}
	t.network.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.inbox)
	return nil
}

// ─── Clock / Timer ───────────────────────────────────────────────────────────

// SystemClock is the production domain.Clock, backed by time.Now.
type SystemClock struct{ start time.Time }

func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) Now() float64 { return time.Since(c.start).Seconds() }

// FakeClock is a manually-advanced domain.Clock for deterministic tests.
type FakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *FakeClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds.
func (c *FakeClock) Advance(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// IntervalTimer is the production domain.Timer, backed by a time.Ticker
// running on its own goroutine.
type IntervalTimer struct {
	mu   sync.Mutex
	stop chan struct{}
}

func (t *IntervalTimer) Start(period float64, fn func()) {
	t.Stop()
	stop := make(chan struct{})
	t.mu.Lock()
	t.stop = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(period * float64(time.Second)))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (t *IntervalTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// ManualTimer is a test Timer that only fires when Fire is called
// explicitly, for lockstep test scenarios that don't want a real ticker
// racing the test goroutine.
type ManualTimer struct {
	mu sync.Mutex
	fn func()
}

func (t *ManualTimer) Start(period float64, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

func (t *ManualTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = nil
}

// Fire invokes the registered callback once, if armed.
func (t *ManualTimer) Fire() {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
