package stack

import (
	"bytes"
	"testing"

	"github.com/soypat/nettap"
	"github.com/soypat/nettap/ethernet"
	"github.com/soypat/nettap/ipv4"
	"github.com/soypat/nettap/udp"
)

func TestSendUDPSingleFrameNoFragmentation(t *testing.T) {
	s, transport := newTestStack(t)
	seedARP(s, testPeerIP, testPeerMAC)

	payload := []byte("small-datagram")
	if err := s.SendUDP(40000, testPeerIP, 7000, payload); err != nil {
		t.Fatal(err)
	}
	drainTX(s)

	if transport.count() != 1 {
		t.Fatalf("expected exactly one frame for a sub-MTU datagram, got %d", transport.count())
	}
	efrm, _ := ethernet.NewFrame(transport.last())
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if ifrm.Flags().MoreFragments() || ifrm.Flags().FragmentOffset() != 0 {
		t.Fatal("a sub-MTU datagram must not be fragmented")
	}
	ufrm, err := udp.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if ufrm.SourcePort() != 40000 || ufrm.DestinationPort() != 7000 {
		t.Fatal("port mismatch")
	}
	if !bytes.Equal(ufrm.Payload(), payload) {
		t.Fatalf("got payload %q, want %q", ufrm.Payload(), payload)
	}
}

func TestSendUDPWithoutClaimedAddressFails(t *testing.T) {
	s, _ := newTestStack(t)
	s.claimed = nil
	if err := s.SendUDP(1234, testPeerIP, 80, []byte("x")); err != errNoClaimedAddress {
		t.Fatalf("got error %v, want errNoClaimedAddress", err)
	}
}

// TestSendUDPFragmentsOversizedDatagram: a UDP payload large enough to
// exceed the MTU is split into several IPv4 fragments sharing one ID,
// each an 8-byte-aligned multiple offset apart except the last, MF set
// on every fragment but the last, and the full UDP datagram (header +
// payload) recoverable by concatenating their IPv4 payloads in order.
func TestSendUDPFragmentsOversizedDatagram(t *testing.T) {
	s, transport := newTestStack(t)
	seedARP(s, testPeerIP, testPeerMAC)

	payload := bytes.Repeat([]byte{'A'}, 3000)
	if err := s.SendUDP(40000, testPeerIP, 7000, payload); err != nil {
		t.Fatal(err)
	}
	drainTX(s)

	const wantFragments = 3
	if transport.count() != wantFragments {
		t.Fatalf("got %d fragments, want %d", transport.count(), wantFragments)
	}

	var id uint16
	var reassembled []byte
	wantOffsets := []uint16{0, 183, 366}
	wantMoreFrags := []bool{true, true, false}
	for i, frame := range transport.frames {
		efrm, err := ethernet.NewFrame(frame)
		if err != nil {
			t.Fatal(err)
		}
		ifrm, err := ipv4.NewFrame(efrm.Payload())
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			id = ifrm.ID()
		} else if ifrm.ID() != id {
			t.Fatalf("fragment %d has ID %d, want %d (all fragments of one datagram share an ID)", i, ifrm.ID(), id)
		}
		if ifrm.Flags().FragmentOffset() != wantOffsets[i] {
			t.Fatalf("fragment %d offset = %d, want %d", i, ifrm.Flags().FragmentOffset(), wantOffsets[i])
		}
		if ifrm.Flags().MoreFragments() != wantMoreFrags[i] {
			t.Fatalf("fragment %d MF = %v, want %v", i, ifrm.Flags().MoreFragments(), wantMoreFrags[i])
		}
		if *ifrm.DestinationAddr() != testPeerIP || *ifrm.SourceAddr() != testStackIP {
			t.Fatalf("fragment %d has src/dst %v/%v, want %v/%v", i, *ifrm.SourceAddr(), *ifrm.DestinationAddr(), testStackIP, testPeerIP)
		}
		reassembled = append(reassembled, ifrm.Payload()...)
	}
	wantLen := 8 + len(payload)
	if len(reassembled) != wantLen {
		t.Fatalf("reassembled datagram is %d bytes, want %d", len(reassembled), wantLen)
	}
	ufrm, err := udp.NewFrame(reassembled)
	if err != nil {
		t.Fatal(err)
	}
	if ufrm.SourcePort() != 40000 || ufrm.DestinationPort() != 7000 {
		t.Fatal("reassembled datagram has the wrong ports")
	}
	if !bytes.Equal(ufrm.Payload(), payload) {
		t.Fatal("reassembled payload does not match what was sent")
	}

	var crc nettap.CRC791
	crc.Write(testStackIP[:])
	crc.Write(testPeerIP[:])
	crc.AddUint16(uint16(nettap.IPProtoUDP))
	crc.AddUint16(ufrm.Length())
	ufrm.CRCWrite(&crc)
	if got := nettap.NeverZeroChecksum(crc.Sum16()); got != ufrm.CRC() {
		t.Fatalf("reassembled checksum 0x%04x does not validate against the pseudo-header (want 0x%04x)", ufrm.CRC(), got)
	}
}
