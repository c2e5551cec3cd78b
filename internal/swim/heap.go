package swim

// ─── Wait-Ack Heap ──────────────────────────────────────────────────────────
// spec.md §3, §4.3: a binary min-heap over Members keyed by ping_deadline,
// used by the failure detector's wait_ack_tick to find expired pings.
//
// Shape is carried over from the teacher's hand-rolled priority queue
// (sift-up/sift-down over a backing slice, O(log n) Push/Pop) but keyed by
// an absolute deadline instead of a starvation-boosted priority class, and
// with removal-from-the-middle support: a member is inserted when a ping
// is sent and must be removable the instant an ack for it arrives, not
// only when it reaches the front of the heap.

// waitAckHeap is a min-heap over *Member keyed by PingDeadline. Each
// Member tracks its own slot via waitAckIndex, so Remove need not search.
type waitAckHeap struct {
	items []*Member
}

func (h *waitAckHeap) Len() int { return len(h.items) }

// Push inserts m into the heap. No-op if m is already queued (a member
// has at most one outstanding ping at a time).
func (h *waitAckHeap) Push(m *Member) {
	if m.waitAckIndex != strayIndex {
		return
	}
	m.waitAckIndex = len(h.items)
	h.items = append(h.items, m)
	h.siftUp(m.waitAckIndex)
}

// Remove detaches m from the heap if present, setting its link back to
// stray. Safe to call on a member that is not queued.
func (h *waitAckHeap) Remove(m *Member) {
	idx := m.waitAckIndex
	if idx == strayIndex {
		return
	}
	last := len(h.items) - 1
	h.swap(idx, last)
	h.items[last].waitAckIndex = strayIndex
	h.items = h.items[:last]
	if idx < len(h.items) {
		h.siftDown(idx)
		h.siftUp(idx)
	}
}

// PopExpired removes and returns every member whose PingDeadline has
// passed now, in deadline order. Tie-break among equal deadlines is
// whatever the heap happens to yield (spec.md §4.3: "stability not
// required").
func (h *waitAckHeap) PopExpired(now float64) []*Member {
	var expired []*Member
	for len(h.items) > 0 && h.items[0].PingDeadline <= now {
		top := h.items[0]
		h.Remove(top)
		expired = append(expired, top)
	}
	return expired
}

func (h *waitAckHeap) less(i, j int) bool {
	return h.items[i].PingDeadline < h.items[j].PingDeadline
}

func (h *waitAckHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].waitAckIndex = i
	h.items[j].waitAckIndex = j
}

func (h *waitAckHeap) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if h.less(idx, parent) {
			h.swap(idx, parent)
			idx = parent
		} else {
			break
		}
	}
}

func (h *waitAckHeap) siftDown(idx int) {
	n := len(h.items)
	for {
		smallest := idx
		if left := 2*idx + 1; left < n && h.less(left, smallest) {
			smallest = left
		}
		if right := 2*idx + 2; right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		h.swap(idx, smallest)
		idx = smallest
	}
}
