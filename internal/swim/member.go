package swim

import (
	"net"

	"github.com/google/uuid"

	"github.com/tutu-network/swim/internal/domain"
)

// strayIndex marks a heap/queue link as logically absent from any
// collection (spec.md §9: "stray state is represented by an explicit
// sentinel, not by uninitialized memory").
const strayIndex = -1

// sendTask expresses the "at most one in flight" affinity contract of
// spec.md §9 for a Member's reusable ack/ping send: a bool plus an owned
// buffer, not task-pointer identity.
type sendTask struct {
	inFlight bool
	buf      []byte
}

// Member is the engine's last-known view of one process in the group
// (spec.md §3).
type Member struct {
	UUID        uuid.UUID
	Addr        *net.UDPAddr
	Status      domain.Status
	Incarnation uint64

	UnackedPings int
	PingDeadline float64 // absolute monotonic seconds; meaningful only while waitAckIndex != strayIndex
	hopCount     int     // 1 = direct, 2 = indirect (see detector.go)

	waitAckIndex int // slot in the wait-ack heap, or strayIndex
	roundIndex   int // slot in the round FIFO, or strayIndex
	eventsIndex  int // slot in the dissemination events queue, or strayIndex

	ackTask  sendTask
	pingTask sendTask

	// Extended-variant fields (spec.md §3).
	Payload    []byte
	PayloadTTL int
	StatusTTL  int
	OldUUID    uuid.UUID
	HasOldUUID bool
	OldUUIDTTL int
}

func newMember(id uuid.UUID, addr *net.UDPAddr, status domain.Status, incarnation uint64) *Member {
	return &Member{
		UUID:         id,
		Addr:         addr,
		Status:       status,
		Incarnation:  incarnation,
		waitAckIndex: strayIndex,
		roundIndex:   strayIndex,
		eventsIndex:  strayIndex,
	}
}

// resetUnacked clears the missed-ping counter; called on any acknowledged
// ping, status change, or incarnation change (spec.md §3).
func (m *Member) resetUnacked() { m.UnackedPings = 0 }
