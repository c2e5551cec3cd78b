package swim

import (
	"net"

	"github.com/google/uuid"

	"github.com/tutu-network/swim/internal/domain"
)

// ─── Ingest Pipeline (spec.md §4.5) ─────────────────────────────────────────
//
// Grounded on gossip.handleMessage/handlePing/handleAck/applyStateUpdate
// (NikeGunn-tutu), restructured around a single upsert entry point: the
// teacher inlines three near-duplicate upsert-like blocks across those
// three handlers, where this spec's pseudocode in §4.5 names exactly one.

// onPacket is the transport's receive callback: decode, then dispatch.
func (e *Engine) onPacket(buf []byte, from *net.UDPAddr) {
	pkt, err := decodePacket(buf)
	if err != nil {
		e.logger.Debug("dropping malformed packet", "from", from, "err", err)
		e.metrics.packetsDropped.Inc()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == nil || e.closed {
		return
	}
	e.metrics.packetsReceived.Inc()
	e.ingestLocked(pkt, from)
}

// ingestLocked dispatches every section of a decoded packet. A single
// malformed or rejected sub-section record must not stop the rest from
// being applied (spec.md §7) — decodePacket already drops unparsable
// anti-entropy/dissemination records individually, so here every record
// that reached us is well-formed and upsert is infallible by design.
func (e *Engine) ingestLocked(pkt *packet, from *net.UDPAddr) {
	if pkt.AntiEntropy != nil {
		for _, md := range pkt.AntiEntropy {
			e.upsert(md.UUID, md.Addr, md.Port, md.Status, md.Incarnation, md.Payload, uuid.Nil, false)
		}
	}
	if pkt.FD != nil {
		e.handleFD(pkt, from)
	}
	if pkt.Dissemination != nil {
		for _, ev := range pkt.Dissemination {
			e.upsert(ev.UUID, ev.Addr, ev.Port, ev.Status, ev.Incarnation, ev.Payload, ev.OldUUID, ev.HasOldUUID)
		}
	}
	if pkt.QuitIncarn != nil {
		e.upsert(pkt.SrcUUID, from.IP, uint16(from.Port), domain.Left, *pkt.QuitIncarn, nil, uuid.Nil, false)
	}
}

func (e *Engine) handleFD(pkt *packet, from *net.UDPAddr) {
	switch pkt.FD.Type {
	case fdPing:
		e.handlePing(pkt, from)
	case fdAck:
		e.handleAck(pkt)
	}
}

// handlePing upserts the sender as alive, then acks — directly, via a
// proxy-forward, or with the ack routed to a third party — per spec.md
// §4.3's ping-handling rule and §4.3's indirect-ping relay.
func (e *Engine) handlePing(pkt *packet, from *net.UDPAddr) {
	sender := e.upsert(pkt.SrcUUID, from.IP, uint16(from.Port), domain.Alive, pkt.FD.Incarnation, nil, uuid.Nil, false)

	if pkt.FD.HasProxy {
		e.forwardPing(pkt.FD, from)
		return
	}

	replyTo := from
	if pkt.FD.HasReplyTo {
		replyTo = &pkt.FD.ReplyToAddr
	}
	e.sendAck(sender, replyTo)
}

// sendAck replies to dst with an ack, reusing the sender member's
// ack_task affinity slot unless one is already scheduled (spec.md §4.3).
// sender is nil when upsert could not add the pinging member (table full);
// the ack is then still sent, without the affinity check.
func (e *Engine) sendAck(sender *Member, dst *net.UDPAddr) {
	if sender != nil && sender.ackTask.inFlight {
		return
	}
	pkt := &packet{
		SrcUUID: e.self.UUID,
		FD: &fdSection{
			Type:        fdAck,
			Incarnation: e.self.Incarnation,
		},
	}
	buf, err := encodePacket(pkt)
	if err != nil {
		e.logger.Warn("encode ack", "err", err)
		return
	}
	if sender != nil {
		sender.ackTask.inFlight = true
	}
	e.transport.SendAsync(buf, dst, func(sendErr error) {
		if sender != nil {
			e.mu.Lock()
			sender.ackTask.inFlight = false
			e.mu.Unlock()
		}
		if sendErr != nil {
			e.logger.Warn("ack send failed", "dst", dst, "err", sendErr)
		}
	})
}

// handleAck resets the sender's unacked-ping counter and removes it from
// the wait-ack heap (spec.md §4.3; the "ack clears" testable property of
// §8). An ack that arrives after the deadline already popped has no
// effect, because the member is no longer in the heap to remove.
func (e *Engine) handleAck(pkt *packet) {
	m, ok := e.table.Find(pkt.SrcUUID)
	if !ok {
		return
	}
	m.resetUnacked()
	e.waitAck.Remove(m)
	e.metrics.acksReceived.Inc()
}

// upsert is the idempotent "insert or update a member from a received
// descriptor" operation of spec.md §4.5. It returns the resulting Member,
// or nil if the descriptor was dropped under the anti-ghost rule.
func (e *Engine) upsert(id uuid.UUID, ip net.IP, port uint16, status domain.Status, incarnation uint64, payload []byte, oldUUID uuid.UUID, hasOldUUID bool) *Member {
	member, found := e.table.Find(id)

	if !found {
		// spec.md §3 invariant 5: a Dead record for an unknown UUID must
		// never resurrect a ghost.
		if status == domain.Dead {
			return nil
		}
		if err := e.table.Reserve(1); err != nil {
			e.logger.Warn("upsert: table full", "uuid", id, "err", err)
			return nil
		}
		m := newMember(id, &net.UDPAddr{IP: ip, Port: int(port)}, status, incarnation)
		if hasOldUUID {
			m.OldUUID = oldUUID
			m.HasOldUUID = true
		}
		if len(payload) > 0 {
			m.Payload = payload
		}
		e.table.Insert(m)
		e.onMemberUpdate(m)
		return m
	}

	if member == e.self {
		if incarnation > e.self.Incarnation {
			e.self.Incarnation = incarnation
		}
		if status != domain.Alive && incarnation >= e.self.Incarnation {
			e.self.Incarnation++
			e.events.Push(e.self, e.table.Len())
			e.metrics.selfRefutations.Inc()
			e.logger.Debug("refuting gossip about self", "incarnation", e.self.Incarnation)
		}
		// self.Addr is authoritative; never overwritten by gossip.
		return e.self
	}

	if incarnation < member.Incarnation {
		return member
	}

	changed := false
	if !member.Addr.IP.Equal(ip) || member.Addr.Port != int(port) {
		member.Addr = &net.UDPAddr{IP: ip, Port: int(port)}
		changed = true
	}
	if domain.Compare(member.Incarnation, member.Status, incarnation, status) {
		member.Incarnation = incarnation
		member.Status = status
		changed = true
	}
	if len(payload) > 0 {
		member.Payload = payload
		changed = true
	}
	if hasOldUUID && !member.HasOldUUID {
		member.OldUUID = oldUUID
		member.HasOldUUID = true
		changed = true
	}
	if changed {
		e.onMemberUpdate(member)
	}
	return member
}

// onMemberUpdate resets the member's missed-ping counter and, in the
// extended variant, registers a dissemination event (spec.md §4.5).
func (e *Engine) onMemberUpdate(m *Member) {
	m.resetUnacked()
	e.events.Push(m, e.table.Len())
}
