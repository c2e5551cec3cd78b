package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Error kinds match
// spec.md §7: OutOfMemory, IllegalParams, DecodeError, TransportError,
// ProtocolError.

var (
	// ErrOutOfMemory is returned when a capacity reservation (table
	// growth, heap growth) cannot be satisfied.
	ErrOutOfMemory = errors.New("swim: out of memory")

	// ErrIllegalParams covers bad URIs, non-IPv4 addresses, INADDR_ANY,
	// and a missing UUID on first configuration.
	ErrIllegalParams = errors.New("swim: illegal parameters")

	// ErrDecode covers malformed packets: wrong first key, unexpected
	// key, malformed field, truncated buffer.
	ErrDecode = errors.New("swim: decode error")

	// ErrTransport covers bind/send/recv syscall failures.
	ErrTransport = errors.New("swim: transport error")

	// ErrDuplicateUUID is a ProtocolError: AddMember was called with a
	// UUID already present in the table.
	ErrDuplicateUUID = errors.New("swim: duplicate uuid")

	// ErrCannotRemoveSelf is a ProtocolError: RemoveMember was asked to
	// remove the local self member.
	ErrCannotRemoveSelf = errors.New("swim: cannot remove self")

	// ErrNotConfigured is returned by operations that require Cfg to
	// have run at least once.
	ErrNotConfigured = errors.New("swim: engine not configured")

	// ErrMemberNotFound is returned by RemoveMember for an unknown UUID.
	ErrMemberNotFound = errors.New("swim: member not found")

	// ErrPayloadTooLarge is returned when a caller-supplied payload
	// exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("swim: payload too large")
)
