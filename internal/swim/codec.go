package swim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tutu-network/swim/internal/domain"
)

// ─── Wire Format (spec.md §4.6, §6) ──────────────────────────────────────────
//
// A packet is a MessagePack map of >=2 entries. The first entry's key is
// always srcUUIDTag; subsequent entries are dispatched by tag. This is the
// one component with no teacher precedent (NikeGunn-tutu's gossip package
// encodes with encoding/json, which cannot express fixed numeric map keys
// or raw 4-byte IPv4 addresses) — it is grounded directly on the spec text
// and on the real-world precedent of Serf/memberlist building their wire
// protocol on MessagePack (see other_examples/...hashicorp-serf...).
//
// Top-level section tags:
const (
	srcUUIDTag          = 0
	antiEntropyTag      = 1
	failureDetectionTag = 2
	disseminationTag    = 3
	quitTag             = 4
)

// Member-descriptor field tags, shared by anti-entropy and dissemination
// entries.
const (
	fieldStatus      = 0
	fieldAddr        = 1
	fieldPort        = 2
	fieldUUID        = 3
	fieldIncarnation = 4
	fieldPayload     = 5
	fieldOldUUID     = 6
)

// Failure-detection message types.
const (
	fdPing = 0
	fdAck  = 1
)

type memberDescriptor struct {
	Status      domain.Status
	Addr        net.IP // 4-byte IPv4
	Port        uint16
	UUID        uuid.UUID
	Incarnation uint64
	Payload     []byte // nil when absent
}

type eventDescriptor struct {
	memberDescriptor
	OldUUID    uuid.UUID
	HasOldUUID bool
}

type fdSection struct {
	Type        int // fdPing or fdAck
	Incarnation uint64
	// ProxyTarget and ProxyAddr are set on an indirect ping-req sent to a
	// proxy: "please ping this address on my behalf" (spec.md §4.3).
	HasProxy    bool
	ProxyTarget uuid.UUID
	ProxyAddr   net.UDPAddr
	// ReplyToAddr is set when a proxy forwards the ping onward: the
	// eventual ack must be routed directly back to the original pinger
	// rather than to the proxy.
	HasReplyTo  bool
	ReplyToAddr net.UDPAddr
}

type packet struct {
	SrcUUID       uuid.UUID
	FD            *fdSection
	Dissemination []eventDescriptor
	AntiEntropy   []memberDescriptor
	QuitIncarn    *uint64
}

// sectionCount returns how many top-level map entries pkt will encode to.
func (pkt *packet) sectionCount() int {
	n := 1 // SRC_UUID always present
	if pkt.FD != nil {
		n++
	}
	if len(pkt.Dissemination) > 0 {
		n++
	}
	if len(pkt.AntiEntropy) > 0 {
		n++
	}
	if pkt.QuitIncarn != nil {
		n++
	}
	return n
}

func encodePacket(pkt *packet) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(pkt.sectionCount()); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(srcUUIDTag); err != nil {
		return nil, err
	}
	if err := enc.EncodeBytes(pkt.SrcUUID[:]); err != nil {
		return nil, err
	}
	if pkt.FD != nil {
		if err := encodeFD(enc, pkt.FD); err != nil {
			return nil, err
		}
	}
	if len(pkt.Dissemination) > 0 {
		if err := encodeDissemination(enc, pkt.Dissemination); err != nil {
			return nil, err
		}
	}
	if len(pkt.AntiEntropy) > 0 {
		if err := encodeAntiEntropy(enc, pkt.AntiEntropy); err != nil {
			return nil, err
		}
	}
	if pkt.QuitIncarn != nil {
		if err := enc.EncodeUint(quitTag); err != nil {
			return nil, err
		}
		if err := enc.EncodeMapLen(1); err != nil {
			return nil, err
		}
		if err := enc.EncodeUint(fieldIncarnation); err != nil {
			return nil, err
		}
		if err := enc.EncodeUint(*pkt.QuitIncarn); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeFD(enc *msgpack.Encoder, fd *fdSection) error {
	if err := enc.EncodeUint(failureDetectionTag); err != nil {
		return err
	}
	n := 2
	if fd.HasProxy {
		n += 3
	}
	if fd.HasReplyTo {
		n += 2
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}
	if err := enc.EncodeUint(0); err != nil { // "type"
		return err
	}
	if err := enc.EncodeUint(uint64(fd.Type)); err != nil {
		return err
	}
	if err := enc.EncodeUint(1); err != nil { // "incarnation"
		return err
	}
	if err := enc.EncodeUint(fd.Incarnation); err != nil {
		return err
	}
	if fd.HasProxy {
		if err := enc.EncodeUint(2); err != nil { // "proxy_target"
			return err
		}
		if err := enc.EncodeBytes(fd.ProxyTarget[:]); err != nil {
			return err
		}
		if err := enc.EncodeUint(3); err != nil { // "proxy_addr"
			return err
		}
		if err := encodeAddr(enc, fd.ProxyAddr.IP); err != nil {
			return err
		}
		if err := enc.EncodeUint(4); err != nil { // "proxy_port"
			return err
		}
		if err := enc.EncodeUint(uint64(fd.ProxyAddr.Port)); err != nil {
			return err
		}
	}
	if fd.HasReplyTo {
		if err := enc.EncodeUint(5); err != nil { // "reply_to_addr"
			return err
		}
		if err := encodeAddr(enc, fd.ReplyToAddr.IP); err != nil {
			return err
		}
		if err := enc.EncodeUint(6); err != nil { // "reply_to_port"
			return err
		}
		if err := enc.EncodeUint(uint64(fd.ReplyToAddr.Port)); err != nil {
			return err
		}
	}
	return nil
}

func encodeAntiEntropy(enc *msgpack.Encoder, members []memberDescriptor) error {
	if err := enc.EncodeUint(antiEntropyTag); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(members)); err != nil {
		return err
	}
	for _, md := range members {
		if err := encodeMemberDescriptor(enc, md); err != nil {
			return err
		}
	}
	return nil
}

func encodeDissemination(enc *msgpack.Encoder, events []eventDescriptor) error {
	if err := enc.EncodeUint(disseminationTag); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(events)); err != nil {
		return err
	}
	for _, ev := range events {
		n := descriptorFieldCount(ev.memberDescriptor)
		if ev.HasOldUUID {
			n++
		}
		if err := enc.EncodeMapLen(n); err != nil {
			return err
		}
		if err := encodeDescriptorFields(enc, ev.memberDescriptor); err != nil {
			return err
		}
		if ev.HasOldUUID {
			if err := enc.EncodeUint(fieldOldUUID); err != nil {
				return err
			}
			if err := enc.EncodeBytes(ev.OldUUID[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func descriptorFieldCount(md memberDescriptor) int {
	n := 5 // status, addr, port, uuid, incarnation (spec.md §6)
	if len(md.Payload) > 0 {
		n++
	}
	return n
}

func encodeMemberDescriptor(enc *msgpack.Encoder, md memberDescriptor) error {
	if err := enc.EncodeMapLen(descriptorFieldCount(md)); err != nil {
		return err
	}
	return encodeDescriptorFields(enc, md)
}

func encodeDescriptorFields(enc *msgpack.Encoder, md memberDescriptor) error {
	if err := enc.EncodeUint(fieldStatus); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(md.Status)); err != nil {
		return err
	}
	if err := enc.EncodeUint(fieldAddr); err != nil {
		return err
	}
	if err := encodeAddr(enc, md.Addr); err != nil {
		return err
	}
	if err := enc.EncodeUint(fieldPort); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(md.Port)); err != nil {
		return err
	}
	if err := enc.EncodeUint(fieldUUID); err != nil {
		return err
	}
	if err := enc.EncodeBytes(md.UUID[:]); err != nil {
		return err
	}
	if err := enc.EncodeUint(fieldIncarnation); err != nil {
		return err
	}
	if err := enc.EncodeUint(md.Incarnation); err != nil {
		return err
	}
	if len(md.Payload) > 0 {
		if err := enc.EncodeUint(fieldPayload); err != nil {
			return err
		}
		if err := enc.EncodeBytes(md.Payload); err != nil {
			return err
		}
	}
	return nil
}

// encodeAddr writes a 4-byte IPv4 address as a big-endian uint32
// (spec.md §6). The port travels in a separate map entry (fieldPort).
func encodeAddr(enc *msgpack.Encoder, ip net.IP) error {
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("%w: address is not IPv4", domain.ErrIllegalParams)
	}
	return enc.EncodeUint(uint64(binary.BigEndian.Uint32(ip4)))
}

func decodePacket(buf []byte) (*packet, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: empty packet", domain.ErrDecode)
	}

	firstTag, err := dec.DecodeUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if firstTag != srcUUIDTag {
		return nil, fmt.Errorf("%w: first key is not SRC_UUID", domain.ErrDecode)
	}
	srcRaw, err := dec.DecodeBytes()
	if err != nil || len(srcRaw) != 16 {
		return nil, fmt.Errorf("%w: malformed SRC_UUID", domain.ErrDecode)
	}
	pkt := &packet{}
	copy(pkt.SrcUUID[:], srcRaw)

	for i := 1; i < n; i++ {
		tag, err := dec.DecodeUint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		switch tag {
		case failureDetectionTag:
			fd, err := decodeFD(dec)
			if err != nil {
				return nil, err
			}
			pkt.FD = fd
		case antiEntropyTag:
			members, err := decodeAntiEntropy(dec)
			if err != nil {
				return nil, err
			}
			pkt.AntiEntropy = members
		case disseminationTag:
			events, err := decodeDissemination(dec)
			if err != nil {
				return nil, err
			}
			pkt.Dissemination = events
		case quitTag:
			incarn, err := decodeQuit(dec)
			if err != nil {
				return nil, err
			}
			pkt.QuitIncarn = &incarn
		default:
			return nil, fmt.Errorf("%w: unexpected top-level key %d", domain.ErrDecode, tag)
		}
	}
	return pkt, nil
}

func decodeQuit(dec *msgpack.Decoder) (uint64, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	var incarn uint64
	for i := 0; i < n; i++ {
		key, err := dec.DecodeUint64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		if key == fieldIncarnation {
			incarn, err = dec.DecodeUint64()
			if err != nil {
				return 0, fmt.Errorf("%w: %v", domain.ErrDecode, err)
			}
		} else {
			return 0, fmt.Errorf("%w: unexpected QUIT key %d", domain.ErrDecode, key)
		}
	}
	return incarn, nil
}

func decodeFD(dec *msgpack.Decoder) (*fdSection, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	fd := &fdSection{}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeUint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		switch key {
		case 0:
			typ, err := dec.DecodeUint64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
			}
			fd.Type = int(typ)
		case 1:
			fd.Incarnation, err = dec.DecodeUint64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
			}
		case 2:
			raw, err := dec.DecodeBytes()
			if err != nil || len(raw) != 16 {
				return nil, fmt.Errorf("%w: malformed proxy_target", domain.ErrDecode)
			}
			copy(fd.ProxyTarget[:], raw)
			fd.HasProxy = true
		case 3:
			ip, err := decodeAddr(dec)
			if err != nil {
				return nil, err
			}
			fd.ProxyAddr.IP = ip
		case 4:
			port, err := dec.DecodeUint64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
			}
			fd.ProxyAddr.Port = int(port)
		case 5:
			ip, err := decodeAddr(dec)
			if err != nil {
				return nil, err
			}
			fd.ReplyToAddr.IP = ip
			fd.HasReplyTo = true
		case 6:
			port, err := dec.DecodeUint64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
			}
			fd.ReplyToAddr.Port = int(port)
		default:
			return nil, fmt.Errorf("%w: unexpected FAILURE_DETECTION key %d", domain.ErrDecode, key)
		}
	}
	return fd, nil
}

func decodeAntiEntropy(dec *msgpack.Decoder) ([]memberDescriptor, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	out := make([]memberDescriptor, 0, n)
	for i := 0; i < n; i++ {
		// Read the whole record first so a bad field inside it cannot
		// leave dec positioned mid-record.
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		md, err := decodeMemberDescriptor(msgpack.NewDecoder(bytes.NewReader(raw)))
		if err != nil {
			// spec.md §7: a single malformed sub-section record does not
			// abort ingest of the surrounding records.
			continue
		}
		out = append(out, md)
	}
	return out, nil
}

func decodeDissemination(dec *msgpack.Decoder) ([]eventDescriptor, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	out := make([]eventDescriptor, 0, n)
	for i := 0; i < n; i++ {
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		ev, err := decodeEventDescriptor(msgpack.NewDecoder(bytes.NewReader(raw)))
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeMemberDescriptor(dec *msgpack.Decoder) (memberDescriptor, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return memberDescriptor{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	var md memberDescriptor
	for i := 0; i < n; i++ {
		if err := decodeDescriptorField(dec, &md, nil); err != nil {
			return memberDescriptor{}, err
		}
	}
	return md, nil
}

func decodeEventDescriptor(dec *msgpack.Decoder) (eventDescriptor, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return eventDescriptor{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	var ev eventDescriptor
	for i := 0; i < n; i++ {
		if err := decodeDescriptorField(dec, &ev.memberDescriptor, &ev); err != nil {
			return eventDescriptor{}, err
		}
	}
	return ev, nil
}

// decodeDescriptorField decodes one key/value pair of a member or event
// descriptor. ev is non-nil only when decoding a dissemination entry (it
// is the only shape that may carry old_uuid).
func decodeDescriptorField(dec *msgpack.Decoder, md *memberDescriptor, ev *eventDescriptor) error {
	key, err := dec.DecodeUint64()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	switch key {
	case fieldStatus:
		v, err := dec.DecodeUint64()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		md.Status = domain.Status(v)
	case fieldAddr:
		ip, err := decodeAddr(dec)
		if err != nil {
			return err
		}
		md.Addr = ip
	case fieldPort:
		v, err := dec.DecodeUint64()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		md.Port = uint16(v)
	case fieldUUID:
		raw, err := dec.DecodeBytes()
		if err != nil || len(raw) != 16 {
			return fmt.Errorf("%w: malformed uuid", domain.ErrDecode)
		}
		copy(md.UUID[:], raw)
	case fieldIncarnation:
		md.Incarnation, err = dec.DecodeUint64()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
	case fieldPayload:
		md.Payload, err = dec.DecodeBytes()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
	case fieldOldUUID:
		raw, err := dec.DecodeBytes()
		if err != nil || len(raw) != 16 {
			return fmt.Errorf("%w: malformed old_uuid", domain.ErrDecode)
		}
		if ev == nil {
			return fmt.Errorf("%w: old_uuid on a non-event descriptor", domain.ErrDecode)
		}
		copy(ev.OldUUID[:], raw)
		ev.HasOldUUID = true
	default:
		return fmt.Errorf("%w: unexpected descriptor key %d", domain.ErrDecode, key)
	}
	return nil
}

// decodeAddr reads a big-endian uint32 IPv4 address. Port travels in its
// own field (fieldPort / proxy-port key 4), decoded separately by the
// caller.
func decodeAddr(dec *msgpack.Decoder) (net.IP, error) {
	v, err := dec.DecodeUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(v))
	return net.IP(raw[:]), nil
}
