package swim

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/tutu-network/swim/internal/domain"
)

// Table is the member table of spec.md §4.1: a UUID-keyed map plus a
// parallel slice used for random anti-entropy sampling and the round
// scheduler's Fisher-Yates shuffle. Mutations are not ordered by
// insertion; Iter is stable only between yields.
type Table struct {
	byUUID     map[uuid.UUID]*Member
	order      []*Member // parallel to byUUID; index is not stable across mutation
	maxMembers int        // 0 = unbounded
}

func newTable(maxMembers int) *Table {
	return &Table{
		byUUID:     make(map[uuid.UUID]*Member),
		maxMembers: maxMembers,
	}
}

// Reserve ensures capacity for n more members exists before a multi-step
// mutation sequence that must not partially fail (spec.md §3 invariant 6,
// §4.1). Call it before any such sequence; a subsequent Insert within
// that sequence will not fail for lack of capacity.
func (t *Table) Reserve(n int) error {
	if t.maxMembers > 0 && len(t.byUUID)+n > t.maxMembers {
		return domain.ErrOutOfMemory
	}
	if have := cap(t.order) - len(t.order); have < n {
		grown := make([]*Member, len(t.order), len(t.order)+n)
		copy(grown, t.order)
		t.order = grown
	}
	return nil
}

// Find looks up a member by UUID.
func (t *Table) Find(id uuid.UUID) (*Member, bool) {
	m, ok := t.byUUID[id]
	return m, ok
}

// Insert adds m to the table. No-op if m.UUID is already present.
func (t *Table) Insert(m *Member) {
	if _, exists := t.byUUID[m.UUID]; exists {
		return
	}
	t.byUUID[m.UUID] = m
	t.order = append(t.order, m)
}

// Remove deletes m from the table. No-op if absent.
func (t *Table) Remove(m *Member) {
	if _, ok := t.byUUID[m.UUID]; !ok {
		return
	}
	delete(t.byUUID, m.UUID)
	for i, cand := range t.order {
		if cand == m {
			last := len(t.order) - 1
			t.order[i] = t.order[last]
			t.order[last] = nil
			t.order = t.order[:last]
			break
		}
	}
}

// RehashUUID implements a UUID change as reserve -> insert(new) ->
// remove(old), so the old entry is only removed once the new one is in
// place; if Reserve fails the table is left unchanged and the error is
// returned (spec.md §4.1, §4.7). Returns the new Member on success.
func (t *Table) RehashUUID(old *Member, newID uuid.UUID) (*Member, error) {
	if err := t.Reserve(1); err != nil {
		return nil, err
	}
	renamed := *old
	renamed.UUID = newID
	renamed.waitAckIndex = strayIndex
	renamed.roundIndex = strayIndex
	renamed.eventsIndex = strayIndex
	t.Insert(&renamed)
	t.Remove(old)
	return &renamed, nil
}

// Len returns the number of members currently in the table (including self).
func (t *Table) Len() int { return len(t.byUUID) }

// Random returns a uniformly random member (may be self), or nil if empty.
func (t *Table) Random() *Member {
	if len(t.order) == 0 {
		return nil
	}
	return t.order[rand.Intn(len(t.order))]
}

// RandomN returns up to n distinct members (excluding self), starting from
// a random offset and wrapping around the backing slice — the "pick a
// random bucket, then walk with wraparound" primitive of spec.md §9, used
// by the anti-entropy encoder and indirect-ping target selection.
func (t *Table) RandomN(n int, self *Member) []*Member {
	if len(t.order) == 0 || n <= 0 {
		return nil
	}
	start := rand.Intn(len(t.order))
	out := make([]*Member, 0, n)
	for i := 0; i < len(t.order) && len(out) < n; i++ {
		m := t.order[(start+i)%len(t.order)]
		if m == self {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Iter calls fn for every member. fn must not mutate the table.
func (t *Table) Iter(fn func(*Member)) {
	for _, m := range t.order {
		fn(m)
	}
}

// Shuffle returns a freshly Fisher-Yates-shuffled slice of every non-self
// member, for the round scheduler's new_round step (spec.md §3, §4.2).
func (t *Table) Shuffle(self *Member) []*Member {
	members := make([]*Member, 0, len(t.order))
	for _, m := range t.order {
		if m != self {
			members = append(members, m)
		}
	}
	for i := len(members) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		members[i], members[j] = members[j], members[i]
	}
	return members
}
