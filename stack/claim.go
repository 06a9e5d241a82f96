package stack

import (
	"context"
	"log/slog"
	"time"

	"github.com/soypat/nettap/arp"
	"github.com/soypat/nettap/ethernet"
)

const (
	probeCount   = 3
	probeDelayLo = 1 * time.Second
	probeDelayHi = 2 * time.Second
)

// ClaimAddresses runs the probe/announce state machine over every
// configured candidate: probing -> (claimed | conflicted), terminal in
// both outcomes. Conflicts are detected by [Stack.handleFrame]'s ARP
// branch consulting the probing set populated here; the inter-probe
// delay goes through the [clockwork.Clock] so tests can advance the
// probe window deterministically.
func (s *Stack) ClaimAddresses(ctx context.Context) error {
	for _, cand := range s.candidates {
		addr4 := netipAddrTo4(cand.Addr)
		s.probeMu.Lock()
		s.probing[addr4] = false
		s.probeMu.Unlock()

		for i := 0; i < probeCount; i++ {
			if err := s.sendARPProbe(addr4); err != nil {
				s.warn("claim: probe send failed", slog.String("addr", cand.Addr.String()), slog.String("err", err.Error()))
			}
			if i < probeCount-1 {
				delay := randomDelay(probeDelayLo, probeDelayHi)
				select {
				case <-s.clock.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		s.probeMu.Lock()
		conflict := s.probing[addr4]
		delete(s.probing, addr4)
		s.probeMu.Unlock()

		if conflict {
			s.warn("claim: address conflict detected, dropping candidate", slog.String("addr", cand.Addr.String()))
			continue
		}

		mask4 := netipAddrTo4(cand.Mask)
		bcast := directedBroadcast(addr4, mask4)
		claimed := Claimed{Addr: addr4, Mask: mask4, Broadcast: bcast}
		s.addClaimed(claimed)
		s.info("claim: address claimed", slog.String("addr", cand.Addr.String()))
	}

	for _, c := range s.ClaimedAddrs() {
		if err := s.sendGratuitousARP(c.Addr); err != nil {
			s.warn("claim: gratuitous ARP failed", slog.String("err", err.Error()))
		}
	}
	return nil
}

func directedBroadcast(addr, mask [4]byte) (bcast [4]byte) {
	for i := range bcast {
		bcast[i] = addr[i] | ^mask[i]
	}
	return bcast
}

// noteARPObservation marks candidate as conflicting if an ARP packet (request
// or reply) was observed with spa=candidate and sha != our MAC, during the
// candidate's probing window.
func (s *Stack) noteARPObservation(spa [4]byte, sha [6]byte) {
	if sha == s.mac {
		return
	}
	s.probeMu.Lock()
	if _, probing := s.probing[spa]; probing {
		s.probing[spa] = true
	}
	s.probeMu.Unlock()
}

// sendARPProbe broadcasts an ARP request with spa=0.0.0.0, tpa=candidate:
// duplicate-address detection without claiming the address.
func (s *Stack) sendARPProbe(candidate [4]byte) error {
	return s.emitARPRequest([4]byte{}, candidate, ethernet.BroadcastAddr(), s.transmitFrame)
}

// sendARPRequest is the arpcache.RequestFunc used to trigger resolution on
// a cache miss: a normal (non-probe) broadcast request using the first
// claimed address as sender, if any is claimed yet. The cache calls it from
// egressOne on the egress goroutine, which then waits for the resolution,
// so the request is written to the transport directly instead of being
// queued on the TX ring behind the frame that waits for it.
func (s *Stack) sendARPRequest(target [4]byte) {
	spa, _ := s.firstClaimed()
	if err := s.emitARPRequest(spa, target, ethernet.BroadcastAddr(), s.writeFrame); err != nil {
		s.warn("arp: request send failed", slog.String("err", err.Error()))
	}
}

// sendGratuitousARP announces ownership of addr with a gratuitous ARP
// REPLY: spa=tpa=addr, sha=tha=stack MAC. One announcement goes out per
// claimed address.
func (s *Stack) sendGratuitousARP(addr [4]byte) error {
	buf := make([]byte, ethernetHeaderLen+arpIPv4HeaderLen)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.ClearHeader()
	bcast := ethernet.BroadcastAddr()
	*efrm.DestinationHardwareAddr() = bcast
	*efrm.SourceHardwareAddr() = s.mac
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(buf[ethernetHeaderLen:])
	if err != nil {
		return err
	}
	afrm.ClearHeader()
	afrm.SetHardware(arp.HTypeEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpReply)
	*afrm.SenderHardwareAddr() = s.mac
	*afrm.SenderProtocolAddr() = addr
	*afrm.TargetHardwareAddr() = s.mac
	*afrm.TargetProtocolAddr() = addr

	return s.transmitFrame(buf)
}

func (s *Stack) emitARPRequest(spa, tpa [4]byte, dstMAC [6]byte, send func([]byte) error) error {
	buf := make([]byte, ethernetHeaderLen+arpIPv4HeaderLen)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.ClearHeader()
	*efrm.DestinationHardwareAddr() = dstMAC
	*efrm.SourceHardwareAddr() = s.mac
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(buf[ethernetHeaderLen:])
	if err != nil {
		return err
	}
	afrm.ClearHeader()
	afrm.SetHardware(arp.HTypeEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	*afrm.SenderHardwareAddr() = s.mac
	*afrm.SenderProtocolAddr() = spa
	*afrm.TargetProtocolAddr() = tpa
	// TargetHardwareAddr left zeroed: unknown, per RFC 826.

	return send(buf)
}
