package ethernet

import "strconv"

const sizeHeaderNoVLAN = 14

// AppendAddr appends the text representation of the hardware address to the destination buffer.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all-0xff broadcast hardware address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// ZeroAddr returns the all-zero sentinel hardware address used to mark a
// TX-ring frame as "resolve destination via ARP before writing out".
func ZeroAddr() [6]byte {
	return [6]byte{}
}

// Type is the EtherType/size field of an Ethernet frame.
type Type uint16

// IsSize reports whether the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType (802.3 length encoding).
func (et Type) IsSize() bool { return et <= 1500 }

// Ethernet type flags recognized by this stack.
const (
	TypeIPv4 Type = 0x0800 // IPv4
	TypeARP  Type = 0x0806 // ARP
	TypeVLAN Type = 0x8100 // VLAN
)

func (et Type) String() string {
	switch et {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeVLAN:
		return "VLAN"
	default:
		return "unknown"
	}
}
