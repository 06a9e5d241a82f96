package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/nettap"
)

// NewFrame returns a Frame with data set to buf. An error is returned if
// the buffer is smaller than the 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a UDP datagram. See RFC 768.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// SourcePort returns the sending port.
func (ufrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[0:2]) }

// SetSourcePort sets the sending port.
func (ufrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(ufrm.buf[0:2], p) }

// DestinationPort returns the receiving port.
func (ufrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[2:4]) }

// SetDestinationPort sets the receiving port.
func (ufrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(ufrm.buf[2:4], p) }

// Length returns the length in bytes of UDP header plus payload.
func (ufrm Frame) Length() uint16 { return binary.BigEndian.Uint16(ufrm.buf[4:6]) }

// SetLength sets the length field.
func (ufrm Frame) SetLength(l uint16) { binary.BigEndian.PutUint16(ufrm.buf[4:6], l) }

// CRC returns the checksum field.
func (ufrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ufrm.buf[6:8]) }

// SetCRC sets the checksum field.
func (ufrm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(ufrm.buf[6:8], crc) }

// Payload returns the datagram's payload. Call [Frame.ValidateSize] first to avoid a panic.
func (ufrm Frame) Payload() []byte { return ufrm.buf[sizeHeader:ufrm.Length()] }

// ClearHeader zeros out the header contents.
func (ufrm Frame) ClearHeader() {
	for i := range ufrm.buf[:sizeHeader] {
		ufrm.buf[i] = 0
	}
}

// CRCWrite adds the UDP header (checksum field treated as zero) and
// payload to the running checksum. Callers must have already written the
// pseudo-header: [ipv4.Frame.CRCWriteUDPPseudo] for the addresses and
// protocol, plus the UDP length added by the caller. The header's own
// length field is then counted again here as part of the UDP header.
func (ufrm Frame) CRCWrite(crc *nettap.CRC791) {
	crc.AddUint16(ufrm.SourcePort())
	crc.AddUint16(ufrm.DestinationPort())
	crc.AddUint16(ufrm.Length())
	crc.Write(ufrm.Payload())
}

// ValidateSize checks the frame's length field against the actual buffer.
func (ufrm Frame) ValidateSize(v *nettap.Validator) {
	l := ufrm.Length()
	if l < sizeHeader {
		v.AddError(errBadLen)
	}
	if int(l) > len(ufrm.buf) {
		v.AddError(errShort)
	}
}

func (ufrm Frame) String() string {
	return fmt.Sprintf("UDP SRC=%d DST=%d LEN=%d", ufrm.SourcePort(), ufrm.DestinationPort(), ufrm.Length())
}
