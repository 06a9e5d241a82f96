// Package nettap implements the core of a userspace TCP/IP stack that
// attaches to a virtual layer-2 endpoint (a TAP device). It provides the
// shared checksum and validation primitives used by the protocol codec
// packages (ethernet, arp, ipv4, icmpv4, udp, tcp) and is wired together
// by the stack package.
package nettap

// IPProto represents an IP protocol number (the IPv4 "Protocol" field).
type IPProto uint8

// IP protocol numbers relevant to this stack.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// MTU is the default maximum transmission unit assumed when not overridden by configuration.
const MTU = 1500

// EtherHeaderLen is the length in bytes of an untagged Ethernet header.
const EtherHeaderLen = 14

// IPv4HeaderLen is the length in bytes of an IPv4 header without options.
const IPv4HeaderLen = 20
