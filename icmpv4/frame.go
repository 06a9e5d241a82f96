package icmpv4

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/nettap"
)

// NewFrame returns a Frame with data set to buf. An error is returned if
// the buffer is smaller than the 8-byte fixed header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ICMPv4 message. See RFC 792.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// Type returns the ICMP message type.
func (frm Frame) Type() Type { return Type(frm.buf[0]) }

// SetType sets the ICMP message type.
func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

// Code returns the raw ICMP code field; interpretation depends on Type.
func (frm Frame) Code() uint8 { return frm.buf[1] }

// SetCode sets the raw ICMP code field.
func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetCRC sets the checksum field.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], crc) }

// Identifier returns the echo identifier field (rest-of-header bytes 0:2). Only meaningful for echo/echo-reply.
func (frm Frame) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }

// SetIdentifier sets the echo identifier field.
func (frm Frame) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(frm.buf[4:6], id) }

// SequenceNumber returns the echo sequence number field. Only meaningful for echo/echo-reply.
func (frm Frame) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }

// SetSequenceNumber sets the echo sequence number field.
func (frm Frame) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(frm.buf[6:8], seq) }

// Payload returns the data following the 8-byte ICMP header (echo data, or
// the original IPv4 header + first 8 payload bytes for unreachable messages).
func (frm Frame) Payload() []byte { return frm.buf[sizeHeader:] }

// CRCWrite adds the ICMP message (header with checksum field treated as
// zero, plus payload) to the running checksum.
func (frm Frame) CRCWrite(crc *nettap.CRC791) {
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	crc.Write(frm.buf[4:])
}

func (frm Frame) String() string {
	return fmt.Sprintf("ICMP type=%d code=%d", frm.Type(), frm.Code())
}
