package stack

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/soypat/nettap"
	"github.com/soypat/nettap/arp"
	"github.com/soypat/nettap/arpcache"
	"github.com/soypat/nettap/ethernet"
	"github.com/soypat/nettap/icmpv4"
	"github.com/soypat/nettap/ipv4"
	"github.com/soypat/nettap/stackring"
	"github.com/soypat/nettap/tcp"
	"github.com/soypat/nettap/udp"
)

// errNoClaimedAddress is returned by origination methods called before the
// identity claim loop has any surviving address to send from.
var errNoClaimedAddress = errors.New("stack: no claimed source address available")

const udpHeaderLen = 8

// SendUDP originates a UDP datagram from srcPort to (dstIP, dstPort)
// carrying payload, using the stack's first claimed address as source.
// The checksum is computed once over the whole datagram via the IPv4
// pseudo-header before [Stack.sendIPv4Datagram] fragments it, so it is
// carried in the first fragment only and still validates against the
// pseudo-header even though the datagram spans several Ethernet frames
// on the wire.
func (s *Stack) SendUDP(srcPort uint16, dstIP [4]byte, dstPort uint16, payload []byte) error {
	srcIP, ok := s.firstClaimed()
	if !ok {
		return errNoClaimedAddress
	}
	msg := make([]byte, udpHeaderLen+len(payload))
	ufrm, err := udp.NewFrame(msg)
	if err != nil {
		return err
	}
	ufrm.ClearHeader()
	ufrm.SetSourcePort(srcPort)
	ufrm.SetDestinationPort(dstPort)
	ufrm.SetLength(uint16(len(msg)))
	copy(ufrm.Payload(), payload)

	var crc nettap.CRC791
	crc.Write(srcIP[:])
	crc.Write(dstIP[:])
	crc.AddUint16(uint16(nettap.IPProtoUDP))
	crc.AddUint16(ufrm.Length())
	ufrm.CRCWrite(&crc)
	ufrm.SetCRC(nettap.NeverZeroChecksum(crc.Sum16()))

	s.sendIPv4Datagram(srcIP, dstIP, nettap.IPProtoUDP, msg)
	return nil
}

// transmitFrame enqueues a fully-addressed Ethernet frame (destination MAC
// already known, e.g. ARP traffic) directly onto the TX ring.
func (s *Stack) transmitFrame(buf []byte) error {
	_, err := s.txRing.Enqueue(buf, s.clock.Now(), s.done)
	return err
}

// enqueueTX enqueues buf on the TX ring, logging on backpressure-induced
// cancellation. Used for reply paths that already know the destination MAC.
func (s *Stack) enqueueTX(buf []byte) {
	if err := s.transmitFrame(buf); err != nil {
		s.warn("tx: enqueue canceled")
	}
}

// egressOne emits one TX-ring frame: if the frame's destination MAC is
// the ARP-bypass sentinel, resolve it via the cache (deferring the frame
// if necessary) before writing to the transport; otherwise write directly.
// ARP frames are resolved by their target protocol address, all others by
// their IPv4 destination address.
func (s *Stack) egressOne(frm stackring.Frame, done <-chan struct{}) error {
	efrm, err := ethernet.NewFrame(frm.Data)
	if err != nil {
		s.dropped("short-egress-frame")
		return nil
	}
	dstMAC := *efrm.DestinationHardwareAddr()
	if dstMAC != ([6]byte{}) {
		return s.writeFrame(frm.Data)
	}

	var dstIP [4]byte
	if efrm.EtherTypeOrSize() == ethernet.TypeARP {
		afrm, err := arp.NewFrame(efrm.Payload())
		if err != nil {
			s.dropped("egress-bad-arp")
			return nil
		}
		dstIP = *afrm.TargetProtocolAddr()
	} else {
		ifrm, err := ipv4.NewFrame(efrm.Payload())
		if err != nil {
			s.dropped("egress-bad-ipv4")
			return nil
		}
		dstIP = *ifrm.DestinationAddr()
	}

	ready := make(chan arpcache.ResolveResult, 1)
	mac, ok := s.cache.Lookup(dstIP, arpcache.PendingFrame{IP: dstIP, Data: frm.Data, Ready: ready})
	if ok {
		*efrm.DestinationHardwareAddr() = mac
		return s.writeFrame(frm.Data)
	}

	select {
	case res := <-ready:
		if res.TimedOut {
			s.dropped("arp-resolution-timeout")
			if s.metrics != nil {
				s.metrics.ARPTimedOut.Inc()
			}
			return nil
		}
		*efrm.DestinationHardwareAddr() = res.MAC
		if err := s.writeFrame(frm.Data); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.ARPResolved.Inc()
		}
	case <-done:
	}
	return nil
}

// writeFrame writes buf to the transport. A write failure is fatal, so it
// is returned rather than merely logged, mirroring how runIngress surfaces
// read failures up through the errgroup.
func (s *Stack) writeFrame(buf []byte) error {
	_, err := s.transport.WriteFrame(buf)
	if err != nil {
		s.error("tx: fatal transport write", slog.String("err", err.Error()))
		return fmt.Errorf("stack: fatal transport write: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TXFrames.Inc()
	}
	return nil
}

// fragmentPayloadCap is the payload capacity per fragment, 8-byte aligned.
func (s *Stack) fragmentPayloadCap() int {
	return (s.mtu - nettap.EtherHeaderLen - nettap.IPv4HeaderLen) &^ 7
}

// sendIPv4Datagram composes and enqueues a datagram for proto carrying
// payload from srcIP to dstIP, fragmenting if the datagram exceeds the
// MTU. The destination MAC is left as the ARP-bypass sentinel so the
// egress thread resolves it.
func (s *Stack) sendIPv4Datagram(srcIP, dstIP [4]byte, proto nettap.IPProto, payload []byte) {
	total := nettap.IPv4HeaderLen + len(payload)
	if nettap.EtherHeaderLen+total <= s.mtu {
		buf := make([]byte, nettap.EtherHeaderLen+total)
		s.writeIPv4Header(buf, srcIP, dstIP, proto, uint16(total), 0, false, 0)
		copy(buf[nettap.EtherHeaderLen+nettap.IPv4HeaderLen:], payload)
		s.finalizeAndEnqueue(buf)
		return
	}

	fragCap := s.fragmentPayloadCap()
	id := uint16(rand.Uint32())
	off := 0
	for off < len(payload) {
		end := off + fragCap
		more := true
		if end >= len(payload) {
			end = len(payload)
			more = false
		}
		chunk := payload[off:end]
		fragTotal := nettap.IPv4HeaderLen + len(chunk)
		buf := make([]byte, nettap.EtherHeaderLen+fragTotal)
		s.writeIPv4Header(buf, srcIP, dstIP, proto, uint16(fragTotal), id, more, uint16(off/8))
		copy(buf[nettap.EtherHeaderLen+nettap.IPv4HeaderLen:], chunk)
		s.finalizeAndEnqueue(buf)
		if s.metrics != nil {
			s.metrics.Fragments.Inc()
		}
		off = end
	}
}

func (s *Stack) writeIPv4Header(buf []byte, srcIP, dstIP [4]byte, proto nettap.IPProto, totalLen, id uint16, moreFrags bool, fragOffset uint16) {
	efrm, _ := ethernet.NewFrame(buf)
	efrm.ClearHeader()
	// DestinationHardwareAddr left zero: ARP-bypass sentinel.
	*efrm.SourceHardwareAddr() = s.mac
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(totalLen)
	ifrm.SetID(id)
	ifrm.SetFlags(ipv4.NewFlags(false, moreFrags, fragOffset))
	ifrm.SetTTL(64)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
}

func (s *Stack) finalizeAndEnqueue(buf []byte) {
	if err := s.transmitFrame(buf); err != nil {
		s.warn("tx: datagram enqueue canceled")
	}
}

// sendICMPEchoReply replies to an ECHO_REQUEST from src with the same
// identifier, sequence, and payload.
func (s *Stack) sendICMPEchoReply(dstIP [4]byte, id, seq uint16, payload []byte) {
	srcIP, ok := s.firstClaimed()
	if !ok {
		return
	}
	msg := make([]byte, icmpv4HeaderLen+len(payload))
	cfrm, _ := icmpv4.NewFrame(msg)
	cfrm.SetType(icmpv4.TypeEchoReply)
	cfrm.SetCode(0)
	cfrm.SetIdentifier(id)
	cfrm.SetSequenceNumber(seq)
	copy(cfrm.Payload(), payload)

	var crc nettap.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(crc.Sum16())

	s.sendIPv4Datagram(srcIP, dstIP, nettap.IPProtoICMP, msg)
}

const icmpv4HeaderLen = 8

// sendICMPPortUnreachable replies to a UDP datagram with no listening
// socket with an ICMPv4 DEST_UNREACHABLE/PORT carrying the original IPv4
// header plus the first 8 payload bytes.
func (s *Stack) sendICMPPortUnreachable(ifrm ipv4.Frame) {
	srcIP, ok := s.firstClaimed()
	if !ok {
		return
	}
	orig := ifrm.RawData()
	headerLen := ifrm.HeaderLength()
	origTruncLen := headerLen + 8
	if origTruncLen > len(orig) {
		origTruncLen = len(orig)
	}
	quoted := orig[:origTruncLen]

	msg := make([]byte, icmpv4HeaderLen+len(quoted))
	cfrm, _ := icmpv4.NewFrame(msg)
	cfrm.SetType(icmpv4.TypeDestUnreachable)
	cfrm.SetCode(uint8(icmpv4.CodePortUnreachable))
	copy(cfrm.Payload(), quoted)

	var crc nettap.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(crc.Sum16())

	dstIP := *ifrm.SourceAddr()
	s.sendIPv4Datagram(srcIP, dstIP, nettap.IPProtoICMP, msg)
}

// sendTCPReset replies to a non-RST segment to a closed port with a
// stateless RST (or RST|ACK), per RFC 9293 §3.10.7.1.
func (s *Stack) sendTCPReset(dstIP [4]byte, ifrm ipv4.Frame, incoming tcp.Frame) {
	srcIP, ok := s.firstClaimed()
	if !ok {
		return
	}
	payloadLen := len(incoming.Payload())
	msg := make([]byte, 20)
	rfrm, err := tcp.BuildReset(msg, incoming, payloadLen)
	if err != nil {
		return
	}

	var crc nettap.CRC791
	crc.Write(srcIP[:])
	crc.Write(dstIP[:])
	crc.AddUint16(uint16(nettap.IPProtoTCP))
	crc.AddUint16(uint16(len(msg)))
	rfrm.CRCWrite(&crc)
	rfrm.SetCRC(crc.Sum16())

	s.sendIPv4Datagram(srcIP, dstIP, nettap.IPProtoTCP, msg)
}
