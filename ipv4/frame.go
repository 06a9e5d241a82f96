package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/nettap"
)

// NewFrame returns a Frame with data set to buf. An error is returned if
// the buffer is smaller than the fixed 20-byte header. IP options are not
// supported by this stack; every emitted header has IHL=5.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet and provides methods
// for manipulating, validating and retrieving fields and payload data.
// See RFC 791.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// HeaderLength returns the header length in bytes, as given by IHL*4.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

// SetVersionAndIHL sets the version and IHL fields. This stack always emits IHL=5 (no options).
func (ifrm Frame) SetVersionAndIHL(version, ihl uint8) { ifrm.buf[0] = version<<4 | ihl&0xf }

// ToS returns the Type of Service field.
func (ifrm Frame) ToS() ToS { return ToS(ifrm.buf[1]) }

// SetToS sets the Type of Service field.
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[1] = byte(tos) }

// TotalLength returns the entire packet size in bytes, header plus payload.
func (ifrm Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(ifrm.buf[2:4]) }

// SetTotalLength sets the TotalLength field.
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID returns the identification field, shared by all fragments of one datagram.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets the identification field.
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the flags/fragment-offset field.
func (ifrm Frame) Flags() Flags { return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8])) }

// SetFlags sets the flags/fragment-offset field.
func (ifrm Frame) SetFlags(flags Flags) { binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags)) }

// TTL returns the time-to-live field.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the time-to-live field.
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol returns the upper-layer protocol field (ICMP=1, TCP=6, UDP=17).
func (ifrm Frame) Protocol() nettap.IPProto { return nettap.IPProto(ifrm.buf[9]) }

// SetProtocol sets the upper-layer protocol field.
func (ifrm Frame) SetProtocol(proto nettap.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the header checksum field.
func (ifrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }

// SetCRC sets the header checksum field.
func (ifrm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(ifrm.buf[10:12], crc) }

// CalculateHeaderCRC computes the ones'-complement checksum over the
// 20-byte header, treating the CRC field itself as zero.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc nettap.CRC791
	crc.Write(ifrm.buf[0:10])
	crc.Write(ifrm.buf[12:20])
	return crc.Sum16()
}

// CRCWriteUDPPseudo writes the UDP pseudo-header (src, dst, zero, proto)
// fields to crc. The UDP length field itself must be added by the caller.
func (ifrm Frame) CRCWriteUDPPseudo(crc *nettap.CRC791) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(uint16(nettap.IPProtoUDP))
}

// CRCWriteTCPPseudo writes the TCP pseudo-header (src, dst, zero, proto,
// length) fields to crc, deriving length from TotalLength-HeaderLength.
func (ifrm Frame) CRCWriteTCPPseudo(crc *nettap.CRC791) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(uint16(nettap.IPProtoTCP))
	crc.AddUint16(ifrm.TotalLength() - uint16(ifrm.HeaderLength()))
}

// SourceAddr returns a pointer to the source IPv4 address.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.buf[12:16]) }

// DestinationAddr returns a pointer to the destination IPv4 address.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// Payload returns the packet's payload, which may be zero-length. Call
// [Frame.ValidateSize] beforehand to avoid a panic on truncated input.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	return ifrm.buf[off:ifrm.TotalLength()]
}

// ClearHeader zeros out the fixed (non-options) header contents.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's size fields against the actual buffer.
func (ifrm Frame) ValidateSize(v *nettap.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.buf) {
		v.AddError(errShort)
	}
	if ihl != 5 {
		v.AddError(errBadIHL)
	}
}

// ValidateExceptCRC performs [Frame.ValidateSize] plus a version check,
// without validating the header checksum (callers compare it explicitly
// since a bad checksum is reported distinctly from structural errors).
func (ifrm Frame) ValidateExceptCRC(v *nettap.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.AddError(errBadVersion)
	}
}

func (ifrm Frame) String() string {
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d TTL=%d ID=%d",
		ifrm.Protocol(), src, dst, ifrm.TotalLength(), ifrm.TTL(), ifrm.ID())
}
