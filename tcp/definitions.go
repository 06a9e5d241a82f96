// Package tcp implements the minimal RFC 9293 TCP segment codec required by
// a stack that never establishes connections: it can parse an incoming
// segment and build the RST (or RST+ACK) reply that tells the remote side
// no listener exists, but it carries no transmission control block, no
// sequence-space state machine and no retransmission logic.
package tcp

import "errors"

const sizeHeader = 20

var (
	errShort  = errors.New("tcp: short buffer")
	errBadOff = errors.New("tcp: bad data offset")
)

// Flags is a TCP flags bit-mask, i.e. SYN, FIN, ACK.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - no more data from sender.
	FlagSYN                   // FlagSYN - synchronize sequence numbers.
	FlagRST                   // FlagRST - reset the connection.
	FlagPSH                   // FlagPSH - push function.
	FlagACK                   // FlagACK - acknowledgment field significant.
	FlagURG                   // FlagURG - urgent pointer field significant.
)

const flagMask = 0x3f

// HasAll reports whether all bits in mask are set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether any bit in mask is set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns flags with non-flag bits cleared.
func (flags Flags) Mask() Flags { return flags & flagMask }

func (flags Flags) String() string {
	switch flags.Mask() {
	case 0:
		return "[]"
	case FlagSYN:
		return "[SYN]"
	case FlagSYN | FlagACK:
		return "[SYN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagRST:
		return "[RST]"
	case FlagRST | FlagACK:
		return "[RST,ACK]"
	case FlagFIN | FlagACK:
		return "[FIN,ACK]"
	}
	var buf []byte
	buf = append(buf, '[')
	first := true
	add := func(name string) {
		if !first {
			buf = append(buf, ',')
		}
		buf = append(buf, name...)
		first = false
	}
	if flags.HasAny(FlagFIN) {
		add("FIN")
	}
	if flags.HasAny(FlagSYN) {
		add("SYN")
	}
	if flags.HasAny(FlagRST) {
		add("RST")
	}
	if flags.HasAny(FlagPSH) {
		add("PSH")
	}
	if flags.HasAny(FlagACK) {
		add("ACK")
	}
	if flags.HasAny(FlagURG) {
		add("URG")
	}
	buf = append(buf, ']')
	return string(buf)
}

// Segment is the subset of a TCP header needed to compose a stateless reply:
// sequence/ack numbers and the flags that go with them.
type Segment struct {
	Seq   uint32
	Ack   uint32
	Flags Flags
}
