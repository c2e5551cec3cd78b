package swim

import (
	"net"

	"github.com/tutu-network/swim/internal/domain"
)

// ─── Failure Detector (spec.md §4.3) ────────────────────────────────────────
//
// States per Member: Alive -> Suspected (extended only) -> Dead -> (GC).
// Grounded on gossip.probeCycle/reapSuspects/markSuspect (NikeGunn-tutu)
// for the ping/ping-req/suspect shape, restructured around the wait-ack
// heap sweep instead of one goroutine-plus-channel per outstanding probe,
// since the engine's concurrency model is a single-threaded event loop
// (spec.md §5), not one goroutine per probe.

// scheduleDirectPing marks m as awaiting a direct ack, arming its
// ping_deadline at ACK_TIMEOUT (hop_count=1) and inserting it into the
// wait-ack heap. A member already queued keeps its current deadline and
// hop count.
func (e *Engine) scheduleDirectPing(m *Member) {
	if m.waitAckIndex != strayIndex {
		return
	}
	m.hopCount = 1
	m.PingDeadline = e.clock.Now() + e.cfg.AckTimeout.Seconds()
	e.waitAck.Push(m)
}

// onWaitAckTick pops every wait-ack entry whose deadline has passed and
// escalates it (spec.md §4.3 step 2).
func (e *Engine) onWaitAckTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil || e.closed {
		return
	}
	now := e.clock.Now()
	for _, m := range e.waitAck.PopExpired(now) {
		e.escalate(m)
	}
}

// escalate implements spec.md §4.3 step 2's per-member transition table.
func (e *Engine) escalate(m *Member) {
	m.UnackedPings++
	e.metrics.pingTimeouts.Inc()
	removed := false

	switch m.Status {
	case domain.Alive:
		switch {
		case !e.cfg.DisableSuspicion && m.UnackedPings >= e.cfg.NoAcksToSuspect:
			e.transition(m, domain.Suspected)
			e.sendIndirectPings(m)
		case e.cfg.DisableSuspicion && m.UnackedPings >= e.cfg.NoAcksToDead:
			e.transition(m, domain.Dead)
		}
	case domain.Suspected:
		if m.UnackedPings >= e.cfg.NoAcksToDead {
			e.transition(m, domain.Dead)
		}
	case domain.Dead:
		if e.cfg.GCMode == domain.GCModeOn && m.UnackedPings >= e.cfg.NoAcksToGC && m.StatusTTL == 0 {
			e.table.Remove(m)
			e.metrics.membersGCed.Inc()
			removed = true
		}
	}

	if !removed {
		e.reping(m)
	}
}

// transition moves m to status st at its own incarnation, queues a
// dissemination event, and resets its unacked counter (status changes
// always reset unacked_pings, spec.md §3).
func (e *Engine) transition(m *Member, st domain.Status) {
	m.Status = st
	m.resetUnacked()
	e.events.Push(m, e.table.Len())
	e.metrics.statusTransitions.WithLabelValues(st.String()).Inc()
	e.logger.Debug("member status transition", "uuid", m.UUID, "status", st.String())
}

// reping resends a direct standalone ping to m, reusing its ping_task
// affinity slot so at most one ping is ever in flight per peer.
func (e *Engine) reping(m *Member) {
	if m.pingTask.inFlight {
		return
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
		e.logger.Warn("encode ping", "uuid", m.UUID, "err", err)
		return
	}
	m.pingTask.inFlight = true
	dst := m.Addr
	e.transport.SendAsync(buf, dst, func(sendErr error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		m.pingTask.inFlight = false
		if sendErr != nil {
			e.logger.Warn("ping send failed", "uuid", m.UUID, "err", sendErr)
			return
		}
		e.scheduleDirectPing(m)
		e.metrics.pingsSent.Inc()
	})
}

// sendIndirectPings issues INDIRECT_PING_COUNT proxied pings for target,
// each routed through a distinct random other member (spec.md §4.3). It
// first re-arms target's own wait-ack entry with hop_count=2's doubled
// deadline.
func (e *Engine) sendIndirectPings(target *Member) {
	target.hopCount = 2
	target.PingDeadline = e.clock.Now() + e.cfg.AckTimeout.Seconds()*2
	e.waitAck.Push(target)

	proxies := e.table.RandomN(e.cfg.IndirectPingCount, e.self)
	sent := 0
	for _, proxy := range proxies {
		if proxy == target {
			continue
		}
		e.sendPingReq(proxy, target)
		sent++
	}
	e.metrics.indirectPingsSent.Add(float64(sent))
}

// sendPingReq asks proxy to ping target on this engine's behalf.
func (e *Engine) sendPingReq(proxy, target *Member) {
	pkt := &packet{
		SrcUUID: e.self.UUID,
		FD: &fdSection{
			Type:        fdPing,
			Incarnation: e.self.Incarnation,
			HasProxy:    true,
			ProxyTarget: target.UUID,
			ProxyAddr:   *target.Addr,
		},
	}
	buf, err := encodePacket(pkt)
	if err != nil {
		e.logger.Warn("encode ping-req", "target", target.UUID, "err", err)
		return
	}
	e.transport.SendAsync(buf, proxy.Addr, func(sendErr error) {
		if sendErr != nil {
			e.logger.Warn("ping-req send failed", "proxy", proxy.UUID, "err", sendErr)
		}
	})
}

// forwardPing is invoked by the ingest pipeline when this engine is acting
// as the proxy for someone else's indirect ping: it relays a fresh direct
// ping to the real target, asking it to ack the original requester
// (requesterAddr) instead of us.
func (e *Engine) forwardPing(fd *fdSection, requesterAddr *net.UDPAddr) {
	pkt := &packet{
		SrcUUID: e.self.UUID,
		FD: &fdSection{
			Type:        fdPing,
			Incarnation: e.self.Incarnation,
			HasReplyTo:  true,
			ReplyToAddr: *requesterAddr,
		},
	}
	buf, err := encodePacket(pkt)
	if err != nil {
		e.logger.Warn("encode forwarded ping", "target", fd.ProxyTarget, "err", err)
		return
	}
	dst := &net.UDPAddr{IP: fd.ProxyAddr.IP, Port: fd.ProxyAddr.Port}
	e.transport.SendAsync(buf, dst, func(sendErr error) {
		if sendErr != nil {
			e.logger.Warn("forwarded ping send failed", "target", fd.ProxyTarget, "err", sendErr)
		}
	})
}
