package ethernet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/soypat/nettap"
)

var (
	errShort     = errors.New("ethernet: too short")
	errShortVLAN = errors.New("ethernet: short VLAN")
)

// NewFrame returns a Frame with data set to buf. An error is returned if
// the buffer size is smaller than the non-VLAN header size (14). Callers
// should still invoke [Frame.ValidateSize] before reading the payload to
// avoid panics on VLAN-tagged or truncated frames.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderNoVLAN {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet frame, not including the
// preamble (the first byte is the start of the destination address), and
// provides methods for manipulating, validating and retrieving fields and
// payload data. See IEEE 802.3.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the length of the Ethernet header: 14, or 18 for VLAN-tagged frames.
func (efrm Frame) HeaderLength() int {
	if efrm.IsVLAN() {
		return 18
	}
	return sizeHeaderNoVLAN
}

// Payload returns the data portion of the frame, correctly handling VLAN tagging.
func (efrm Frame) Payload() []byte {
	hl := efrm.HeaderLength()
	et := efrm.EtherTypeOrSize()
	if et.IsSize() {
		return efrm.buf[hl : hl+int(et)]
	}
	return efrm.buf[hl:]
}

// DestinationHardwareAddr returns a pointer to the target's MAC address.
func (efrm Frame) DestinationHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[0:6])
}

// IsBroadcast reports whether the destination address is ff:ff:ff:ff:ff:ff.
func (efrm Frame) IsBroadcast() bool {
	dst := efrm.buf[0:6]
	for _, b := range dst {
		if b != 0xff {
			return false
		}
	}
	return true
}

// SourceHardwareAddr returns a pointer to the sender's MAC address.
func (efrm Frame) SourceHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[6:12])
}

// EtherTypeOrSize returns the EtherType/size field. Callers should check
// [Type.IsSize] to know whether this is a valid EtherType.
func (efrm Frame) EtherTypeOrSize() Type {
	return Type(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field.
func (efrm Frame) SetEtherType(v Type) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// IsVLAN reports whether the EtherType/size field holds the VLAN tag TPID (0x8100).
func (efrm Frame) IsVLAN() bool {
	return efrm.EtherTypeOrSize() == TypeVLAN
}

// ClearHeader zeros out the fixed (non-VLAN) header contents.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:sizeHeaderNoVLAN] {
		efrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's size fields against the actual buffer
// and reports any inconsistency to v.
func (efrm Frame) ValidateSize(v *nettap.Validator) {
	sz := efrm.EtherTypeOrSize()
	if sz.IsSize() && len(efrm.buf) < sizeHeaderNoVLAN+int(sz) {
		v.AddError(errShort)
	}
	if sz == TypeVLAN && len(efrm.buf) < 18 {
		v.AddError(errShortVLAN)
	}
}

func (efrm Frame) String() string {
	src := efrm.SourceHardwareAddr()
	dst := efrm.DestinationHardwareAddr()
	return fmt.Sprintf("ETH SRC=%s DST=%s TYPE=%s",
		AppendAddr(nil, *src), AppendAddr(nil, *dst), efrm.EtherTypeOrSize())
}
