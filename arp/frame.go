package arp

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/nettap"
	"github.com/soypat/nettap/ethernet"
)

// NewFrame returns a Frame with data set to buf, fixed to the
// IPv4-over-Ethernet ARP variant (hardware=Ethernet/6B,
// protocol=IPv4/4B). An error is returned if the buffer is smaller than
// the 28-byte fixed header. Callers should still call
// [Frame.ValidateSize] before trusting field contents.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{}, errShortARP
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4-over-Ethernet ARP packet
// and provides methods for manipulating, validating and retrieving
// fields. See RFC 826.
type Frame struct {
	buf []byte
}

// RawData returns the first 28 bytes (one IPv4-over-Ethernet ARP packet)
// of the slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf[:sizeHeaderv4] }

// Hardware returns the hardware type and address length fields.
func (afrm Frame) Hardware() (typ uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the hardware type and address length fields.
func (afrm Frame) SetHardware(typ uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], typ)
	afrm.buf[4] = length
}

// Protocol returns the protocol type and address length fields.
func (afrm Frame) Protocol() (typ ethernet.Type, length uint8) {
	return ethernet.Type(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the protocol type and address length fields.
func (afrm Frame) SetProtocol(typ ethernet.Type, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(typ))
	afrm.buf[5] = length
}

// Operation returns the ARP operation field.
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP operation field.
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// SenderHardwareAddr returns a pointer to the sender's MAC address (sha).
func (afrm Frame) SenderHardwareAddr() *[6]byte { return (*[6]byte)(afrm.buf[8:14]) }

// SenderProtocolAddr returns a pointer to the sender's IPv4 address (spa).
func (afrm Frame) SenderProtocolAddr() *[4]byte { return (*[4]byte)(afrm.buf[14:18]) }

// TargetHardwareAddr returns a pointer to the target's MAC address (tha).
func (afrm Frame) TargetHardwareAddr() *[6]byte { return (*[6]byte)(afrm.buf[18:24]) }

// TargetProtocolAddr returns a pointer to the target's IPv4 address (tpa).
func (afrm Frame) TargetProtocolAddr() *[4]byte { return (*[4]byte)(afrm.buf[24:28]) }

// ClearHeader zeros out the header contents.
func (afrm Frame) ClearHeader() {
	for i := range afrm.buf[:sizeHeaderv4] {
		afrm.buf[i] = 0
	}
}

// SwapTargetSender swaps the sender and target hardware/protocol address
// pairs in place; used to turn a received request into a reply skeleton.
func (afrm Frame) SwapTargetSender() {
	sh, sp := afrm.SenderHardwareAddr(), afrm.SenderProtocolAddr()
	th, tp := afrm.TargetHardwareAddr(), afrm.TargetProtocolAddr()
	*sh, *th = *th, *sh
	*sp, *tp = *tp, *sp
}

// ValidateSize checks the frame's hardware/protocol length fields match
// the IPv4-over-Ethernet fixed layout and the buffer is large enough.
func (afrm Frame) ValidateSize(v *nettap.Validator) {
	if len(afrm.buf) < sizeHeaderv4 {
		v.AddError(errShortARP)
		return
	}
	htype, hlen := afrm.Hardware()
	if htype != HTypeEthernet || hlen != 6 {
		v.AddError(errBadHW)
	}
	ptype, plen := afrm.Protocol()
	if ptype != ethernet.TypeIPv4 || plen != 4 {
		v.AddError(errBadProto)
	}
}

func (afrm Frame) String() string {
	sh, sp := afrm.SenderHardwareAddr(), afrm.SenderProtocolAddr()
	th, tp := afrm.TargetHardwareAddr(), afrm.TargetProtocolAddr()
	return fmt.Sprintf("ARP %s SENDER=(%s,%s) TARGET=(%s,%s)",
		afrm.Operation(), ethernet.AppendAddr(nil, *sh), netip.AddrFrom4(*sp),
		ethernet.AppendAddr(nil, *th), netip.AddrFrom4(*tp))
}
