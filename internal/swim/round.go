package swim

import "github.com/tutu-network/swim/internal/domain"

// ─── Round FIFO ──────────────────────────────────────────────────────────────
// spec.md §3, §4.2: a FIFO of Member references, rebuilt at the start of
// each round by shuffling the table (excluding self).

type roundFIFO struct {
	items []*Member
	head  int
}

func (q *roundFIFO) Empty() bool { return q.head >= len(q.items) }

// Peek returns the current head without popping it, or nil if empty.
func (q *roundFIFO) Peek() *Member {
	if q.Empty() {
		return nil
	}
	return q.items[q.head]
}

// Pop removes and returns the current head, or nil if empty.
func (q *roundFIFO) Pop() *Member {
	m := q.Peek()
	if m == nil {
		return nil
	}
	q.items[q.head] = nil
	q.head++
	m.roundIndex = strayIndex
	return m
}

// Reset replaces the FIFO's contents with a freshly shuffled member list
// (round scheduler's new_round step).
func (q *roundFIFO) Reset(members []*Member) {
	q.items = members
	q.head = 0
	for i, m := range q.items {
		m.roundIndex = i
	}
}

// ─── Dissemination Events Queue ─────────────────────────────────────────────
// spec.md §4.4: change events broadcast with a decaying TTL. A Member is
// in the queue at most once at a time (eventsIndex tracks membership); its
// own Status/Incarnation/Payload/OldUUID fields double as the event body,
// so re-queuing on a newer update is simply "already present, TTLs reset".

type eventQueue struct {
	items []*Member
}

// Push enqueues m for dissemination, resetting its TTLs to the current
// table size so the event reaches every peer at least once in expectation
// (spec.md §4.4). If m is already queued it is not enqueued a second time —
// push(Queue) again is how on_member_update signals "there is something new
// to say about this member", so the TTL is always refreshed on push even if
// already present.
func (q *eventQueue) Push(m *Member, tableSize int) {
	if m.eventsIndex == strayIndex {
		m.eventsIndex = len(q.items)
		q.items = append(q.items, m)
	}
	m.StatusTTL = tableSize
	if m.HasOldUUID {
		m.OldUUIDTTL = tableSize
	}
	if len(m.Payload) > 0 {
		m.PayloadTTL = tableSize
	}
}

func (q *eventQueue) removeAt(i int) {
	m := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	m.eventsIndex = strayIndex
	for j := i; j < len(q.items); j++ {
		q.items[j].eventsIndex = j
	}
}

// Decay decrements every queued event's TTLs by exactly one, called after
// a round step completes with success (spec.md §4.4). Events whose
// status_ttl reaches zero leave the queue; if that member was in state
// Left, it is fully deleted from the table too.
func (q *eventQueue) Decay(table *Table) {
	for i := 0; i < len(q.items); {
		m := q.items[i]
		if m.OldUUIDTTL > 0 {
			m.OldUUIDTTL--
		}
		if m.PayloadTTL > 0 {
			m.PayloadTTL--
		}
		if m.StatusTTL > 0 {
			m.StatusTTL--
		}
		if m.StatusTTL == 0 {
			q.removeAt(i)
			if m.Status == domain.Left {
				table.Remove(m)
			}
			continue
		}
		i++
	}
}
