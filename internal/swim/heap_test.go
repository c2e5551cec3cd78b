package swim

import "testing"

func TestWaitAckHeapPopExpiredOrder(t *testing.T) {
	h := &waitAckHeap{}
	a := newTestMember(9001)
	b := newTestMember(9002)
	c := newTestMember(9003)
	a.PingDeadline = 30
	b.PingDeadline = 10
	c.PingDeadline = 20
	h.Push(a)
	h.Push(b)
	h.Push(c)

	expired := h.PopExpired(25)
	if len(expired) != 2 {
		t.Fatalf("len(expired) = %d, want 2", len(expired))
	}
	if expired[0] != b || expired[1] != c {
		t.Errorf("expired order = %v, %v; want b, c", expired[0].UUID, expired[1].UUID)
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestWaitAckHeapPushIsIdempotent(t *testing.T) {
	h := &waitAckHeap{}
	m := newTestMember(9001)
	m.PingDeadline = 5
	h.Push(m)
	m.PingDeadline = 1 // Push again must not re-insert or change ordering arbitrarily
	h.Push(m)
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after duplicate Push", h.Len())
	}
}

func TestWaitAckHeapRemoveFromMiddle(t *testing.T) {
	h := &waitAckHeap{}
	members := make([]*Member, 5)
	for i := range members {
		members[i] = newTestMember(9000 + i)
		members[i].PingDeadline = float64(10 - i) // descending
		h.Push(members[i])
	}

	h.Remove(members[2])
	if h.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", h.Len())
	}
	if members[2].waitAckIndex != strayIndex {
		t.Error("removed member's waitAckIndex not reset to stray")
	}

	expired := h.PopExpired(1000)
	if len(expired) != 4 {
		t.Fatalf("len(expired) = %d, want 4", len(expired))
	}
	for _, m := range expired {
		if m == members[2] {
			t.Error("removed member still present in heap")
		}
	}
}

func TestWaitAckHeapRemoveAbsentIsNoOp(t *testing.T) {
	h := &waitAckHeap{}
	m := newTestMember(9001)
	h.Remove(m) // never pushed
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestWaitAckHeapPopExpiredEmpty(t *testing.T) {
	h := &waitAckHeap{}
	if got := h.PopExpired(100); got != nil {
		t.Errorf("PopExpired on empty heap = %v, want nil", got)
	}
}
