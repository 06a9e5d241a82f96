package stack

import (
	"log/slog"

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

const (
	ethernetHeaderLen = 14
	arpIPv4HeaderLen  = 28
)

// handleFrame is the RX packet handler: Ethernet filter, ARP
// request/reply handling, IPv4 validation and destination filter, ICMPv4
// echo, UDP socket lookup with port-unreachable fallback, and the TCP
// reset-only stub.
func (s *Stack) handleFrame(frm stackring.Frame) {
	efrm, err := ethernet.NewFrame(frm.Data)
	if err != nil {
		s.dropped("short-ethernet")
		return
	}
	dst := *efrm.DestinationHardwareAddr()
	if dst != s.mac && !efrm.IsBroadcast() {
		s.dropped("not-for-us")
		return
	}

	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeARP:
		s.handleARP(efrm)
	case ethernet.TypeIPv4:
		s.handleIPv4(efrm, frm.Serial)
	default:
		s.dropped("unknown-ethertype")
	}
}

func (s *Stack) dropped(reason string) {
	if s.metrics != nil {
		s.metrics.RXDropped.WithLabelValues(reason).Inc()
	}
	s.debug("rx: dropped", slog.String("reason", reason))
}

func (s *Stack) isClaimed(ip [4]byte) (Claimed, bool) {
	var found Claimed
	var ok bool
	s.forEachClaimed(func(c Claimed) {
		if c.Addr == ip {
			found, ok = c, true
		}
	})
	return found, ok
}

func (s *Stack) isOurBroadcast(ip [4]byte) bool {
	if ip == ([4]byte{255, 255, 255, 255}) {
		return true
	}
	isBcast := false
	s.forEachClaimed(func(c Claimed) {
		if c.Broadcast == ip {
			isBcast = true
		}
	})
	return isBcast
}

func (s *Stack) handleARP(efrm ethernet.Frame) {
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		s.dropped("short-arp")
		return
	}
	var v nettap.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		s.dropped("bad-arp")
		return
	}

	spa := *afrm.SenderProtocolAddr()
	sha := *afrm.SenderHardwareAddr()
	s.noteARPObservation(spa, sha)

	switch afrm.Operation() {
	case arp.OpRequest:
		tpa := *afrm.TargetProtocolAddr()
		if _, ok := s.isClaimed(tpa); !ok {
			return // not for us
		}
		s.cache.AddEntry(spa, sha, arpcache.SourceDirectRequest)
		s.replyARP(afrm, tpa, sha)

	case arp.OpReply:
		// A reply with spa==tpa is a gratuitous announcement, not an answer
		// to a query of ours; it is accepted under its own policy flag.
		source := arpcache.SourceDirectReply
		if spa == *afrm.TargetProtocolAddr() {
			source = arpcache.SourceGratuitousReply
		}
		s.cache.AddEntry(spa, sha, source)

	default:
		s.dropped("arp-unsupported-op")
	}
}

func (s *Stack) replyARP(req arp.Frame, ourIP [4]byte, requesterMAC [6]byte) {
	buf := make([]byte, ethernetHeaderLen+arpIPv4HeaderLen)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.ClearHeader()
	if s.policy.ARPBypassOnResponse {
		// arp_bypass_on_response: the requester's MAC is already known from
		// the request we're replying to, so carry it directly instead of
		// going through the ARP cache on TX.
		*efrm.DestinationHardwareAddr() = requesterMAC
	} // else left as the zero ARP-bypass sentinel: egressOne resolves it via the cache.
	*efrm.SourceHardwareAddr() = s.mac
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, _ := arp.NewFrame(buf[ethernetHeaderLen:])
	afrm.ClearHeader()
	afrm.SetHardware(arp.HTypeEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpReply)
	*afrm.SenderHardwareAddr() = s.mac
	*afrm.SenderProtocolAddr() = ourIP
	*afrm.TargetHardwareAddr() = requesterMAC
	*afrm.TargetProtocolAddr() = *req.SenderProtocolAddr()

	s.enqueueTX(buf)
}

func (s *Stack) handleIPv4(efrm ethernet.Frame, tracker uint64) {
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		s.dropped("short-ipv4")
		return
	}
	var v nettap.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		s.dropped("bad-ipv4")
		return
	}
	if ifrm.CRC() != ifrm.CalculateHeaderCRC() {
		s.dropped("bad-ipv4-checksum")
		return
	}
	flags := ifrm.Flags()
	if flags.MoreFragments() || flags.FragmentOffset() != 0 {
		s.dropped("fragmented-inbound-unsupported")
		return
	}

	dst := *ifrm.DestinationAddr()
	if _, ok := s.isClaimed(dst); !ok && !s.isOurBroadcast(dst) {
		s.dropped("not-our-ip")
		return
	}

	switch ifrm.Protocol() {
	case nettap.IPProtoICMP:
		s.handleICMPv4(ifrm)
	case nettap.IPProtoUDP:
		s.handleUDP(ifrm, tracker)
	case nettap.IPProtoTCP:
		s.handleTCP(ifrm)
	default:
		s.dropped("unknown-ip-protocol")
	}
}

func (s *Stack) handleICMPv4(ifrm ipv4.Frame) {
	cfrm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil {
		s.dropped("short-icmp")
		return
	}
	if cfrm.Type() != icmpv4.TypeEcho {
		s.dropped("icmp-not-echo")
		return
	}
	src := *ifrm.SourceAddr()
	s.sendICMPEchoReply(src, cfrm.Identifier(), cfrm.SequenceNumber(), cfrm.Payload())
	if s.metrics != nil {
		s.metrics.ICMPEchoed.Inc()
	}
}

func (s *Stack) handleUDP(ifrm ipv4.Frame, tracker uint64) {
	ufrm, err := udp.NewFrame(ifrm.Payload())
	if err != nil {
		s.dropped("short-udp")
		return
	}
	var v nettap.Validator
	ufrm.ValidateSize(&v)
	if v.HasError() {
		s.dropped("bad-udp")
		return
	}
	if ufrm.CRC() != 0 && !s.verifyUDPChecksum(ifrm, ufrm) {
		s.dropped("bad-udp-checksum")
		return
	}
	src := *ifrm.SourceAddr()
	dst := *ifrm.DestinationAddr()
	key := SocketKey{LocalIP: dst, LocalPort: ufrm.DestinationPort()}
	if d, ok := s.udpRegistry.Lookup(key); ok {
		d.Deliver(src, ufrm.SourcePort(), ufrm.Payload(), tracker)
		return
	}
	if src == ([4]byte{}) {
		s.dropped("udp-closed-zero-source")
		return // never answer an all-zero source
	}
	s.sendICMPPortUnreachable(ifrm)
	if s.metrics != nil {
		s.metrics.UDPUnreach.Inc()
	}
}

// verifyUDPChecksum validates ufrm's checksum against the IPv4
// pseudo-header. A zero on-the-wire checksum means "none computed" and
// is never checked (RFC 768).
func (s *Stack) verifyUDPChecksum(ifrm ipv4.Frame, ufrm udp.Frame) bool {
	var crc nettap.CRC791
	ifrm.CRCWriteUDPPseudo(&crc)
	crc.AddUint16(ufrm.Length())
	ufrm.CRCWrite(&crc)
	return nettap.NeverZeroChecksum(crc.Sum16()) == ufrm.CRC()
}

func (s *Stack) handleTCP(ifrm ipv4.Frame) {
	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		s.dropped("short-tcp")
		return
	}
	var v nettap.Validator
	tfrm.ValidateSize(&v)
	if v.HasError() {
		s.dropped("bad-tcp")
		return
	}
	seg := tfrm.Segment()
	if seg.Flags.HasAny(tcp.FlagRST) {
		return // never reply to a RST
	}
	if !seg.Flags.HasAny(tcp.FlagSYN) && !seg.Flags.HasAny(tcp.FlagFIN) &&
		!seg.Flags.HasAny(tcp.FlagACK) && !seg.Flags.HasAny(tcp.FlagPSH) && !seg.Flags.HasAny(tcp.FlagURG) {
		return
	}
	src := *ifrm.SourceAddr()
	s.sendTCPReset(src, ifrm, tfrm)
	if s.metrics != nil {
		s.metrics.TCPReset.Inc()
	}
}
