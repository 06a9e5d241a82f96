package ipv4

import "errors"

const sizeHeader = 20

var (
	errBadTL      = errors.New("ipv4: bad total length")
	errShort      = errors.New("ipv4: short buffer")
	errBadIHL     = errors.New("ipv4: bad IHL (options unsupported)")
	errBadVersion = errors.New("ipv4: bad version")
)

// ToS represents the Type of Service field (Differentiated Services + ECN).
type ToS uint8

// Flags holds the 3-bit flags and 13-bit fragment offset field of an IPv4 header.
type Flags uint16

// NewFlags builds the Flags field from its components. offset is in 8-byte units.
// Bit layout of the 16-bit field is reserved(0x8000), DF(0x4000), MF(0x2000),
// then the 13-bit fragment offset.
func NewFlags(dontFragment, moreFragments bool, fragmentOffset uint16) Flags {
	var f Flags
	if dontFragment {
		f |= 0x4000
	}
	if moreFragments {
		f |= 0x2000
	}
	return f | Flags(fragmentOffset&0x1fff)
}

// DontFragment reports whether the DF bit is set. The stack does not act on this bit.
func (f Flags) DontFragment() bool { return f&0x4000 != 0 }

// MoreFragments reports whether the MF bit is set.
func (f Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset returns the fragment offset in 8-byte units.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }
