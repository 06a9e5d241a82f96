package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/nettap"
)

// NewFrame returns a Frame with data set to buf. An error is returned if
// the buffer is smaller than the 20-byte fixed header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a TCP segment. It exposes header
// fields only; this stack never assembles or interprets the TCP option
// space or payload since it holds no connection state. See RFC 9293.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

// SourcePort identifies the sending port.
func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }

// SetSourcePort sets the sending port.
func (tfrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[0:2], p) }

// DestinationPort identifies the receiving port.
func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }

// SetDestinationPort sets the receiving port.
func (tfrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], p) }

// Seq returns the segment's sequence number.
func (tfrm Frame) Seq() uint32 { return binary.BigEndian.Uint32(tfrm.buf[4:8]) }

// SetSeq sets the sequence number field.
func (tfrm Frame) SetSeq(v uint32) { binary.BigEndian.PutUint32(tfrm.buf[4:8], v) }

// Ack returns the segment's acknowledgment number.
func (tfrm Frame) Ack() uint32 { return binary.BigEndian.Uint32(tfrm.buf[8:12]) }

// SetAck sets the acknowledgment number field.
func (tfrm Frame) SetAck(v uint32) { binary.BigEndian.PutUint32(tfrm.buf[8:12], v) }

// OffsetAndFlags returns the data offset (in 32-bit words) and the flags field.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[12:14])
	return uint8(v >> 12), Flags(v).Mask()
}

// SetOffsetAndFlags sets the data offset and flags field.
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// HeaderLength returns the header length in bytes, derived from the data offset field.
func (tfrm Frame) HeaderLength() int {
	offset, _ := tfrm.OffsetAndFlags()
	return int(offset) * 4
}

// WindowSize returns the advertised window size.
func (tfrm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }

// SetWindowSize sets the advertised window size.
func (tfrm Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], v) }

// CRC returns the checksum field.
func (tfrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }

// SetCRC sets the checksum field.
func (tfrm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(tfrm.buf[16:18], crc) }

// UrgentPtr returns the urgent pointer field.
func (tfrm Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }

// SetUrgentPtr sets the urgent pointer field.
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Segment returns the sequencing fields as a Segment value.
func (tfrm Frame) Segment() Segment {
	_, flags := tfrm.OffsetAndFlags()
	return Segment{Seq: tfrm.Seq(), Ack: tfrm.Ack(), Flags: flags}
}

// SetSegment writes seq, ack, offset and flags in one call. offset is
// expressed in 32-bit words; this stack always emits offset=5 (no options).
func (tfrm Frame) SetSegment(seg Segment, offset uint8) {
	tfrm.SetSeq(seg.Seq)
	tfrm.SetAck(seg.Ack)
	tfrm.SetOffsetAndFlags(offset, seg.Flags)
}

// Payload returns the segment's data, excluding any TCP options. Callers
// should call [Frame.ValidateSize] first to avoid a panic on malformed input.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// ClearHeader zeros out the fixed (non-options) header contents.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeader] {
		tfrm.buf[i] = 0
	}
}

// CRCWrite adds the TCP header (checksum field treated as zero), any
// options, and payload to the running checksum. Callers must have already
// written the pseudo-header via [ipv4.Frame.CRCWriteTCPPseudo].
func (tfrm Frame) CRCWrite(crc *nettap.CRC791) {
	crc.Write(tfrm.buf[0:16])
	crc.Write(tfrm.buf[18:tfrm.HeaderLength()])
	crc.Write(tfrm.Payload())
}

// ValidateSize checks the frame's data-offset field against the actual buffer.
func (tfrm Frame) ValidateSize(v *nettap.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeader {
		v.AddError(errBadOff)
	}
	if off > len(tfrm.buf) {
		v.AddError(errShort)
	}
}

// BuildReset overwrites the frame in place to be a stateless RST (or
// RST|ACK) reply to an incoming segment whose destination port has no
// listener, per RFC 9293 §3.10.7.1: if the incoming segment carries ACK,
// the reply is <SEQ=SEG.ACK><CTL=RST>; otherwise it is
// <SEQ=0><ACK=SEG.SEQ+SEG.LEN><CTL=RST,ACK>. The caller must not reply to
// an incoming segment that already has RST set.
func BuildReset(buf []byte, incoming Frame, incomingPayloadLen int) (Frame, error) {
	tfrm, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(incoming.DestinationPort())
	tfrm.SetDestinationPort(incoming.SourcePort())
	seg := incoming.Segment()
	var reply Segment
	if seg.Flags.HasAny(FlagACK) {
		reply = Segment{Seq: seg.Ack, Flags: FlagRST}
	} else {
		segLen := uint32(incomingPayloadLen)
		if seg.Flags.HasAny(FlagSYN) || seg.Flags.HasAny(FlagFIN) {
			segLen++
		}
		reply = Segment{Seq: 0, Ack: seg.Seq + segLen, Flags: FlagRST | FlagACK}
	}
	tfrm.SetSegment(reply, 5)
	tfrm.SetWindowSize(0)
	tfrm.SetUrgentPtr(0)
	return tfrm, nil
}

func (tfrm Frame) String() string {
	seg := tfrm.Segment()
	return fmt.Sprintf("TCP :%d -> :%d SEQ=%d ACK=%d %s", tfrm.SourcePort(), tfrm.DestinationPort(), seg.Seq, seg.Ack, seg.Flags)
}
