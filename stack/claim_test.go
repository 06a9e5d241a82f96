package stack

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestNoteARPObservationMarksConflictDuringProbing(t *testing.T) {
	s, _ := newTestStack(t)
	s.probing[testPeerIP] = false

	s.noteARPObservation(testPeerIP, testPeerMAC)

	s.probeMu.Lock()
	conflict := s.probing[testPeerIP]
	s.probeMu.Unlock()
	if !conflict {
		t.Fatal("observing a foreign MAC claim an in-probe address must mark a conflict")
	}
}

func TestNoteARPObservationIgnoresOwnMAC(t *testing.T) {
	s, _ := newTestStack(t)
	s.probing[testPeerIP] = false

	s.noteARPObservation(testPeerIP, s.mac)

	s.probeMu.Lock()
	conflict := s.probing[testPeerIP]
	s.probeMu.Unlock()
	if conflict {
		t.Fatal("our own MAC echoed back must never count as a conflict")
	}
}

func TestNoteARPObservationIgnoresAddressesNotBeingProbed(t *testing.T) {
	s, _ := newTestStack(t)
	s.noteARPObservation(testPeerIP, [6]byte{9, 9, 9, 9, 9, 9})
	if len(s.probing) != 0 {
		t.Fatal("an address outside the probing set must not be recorded")
	}
}

func TestDirectedBroadcast(t *testing.T) {
	got := directedBroadcast([4]byte{192, 168, 9, 1}, [4]byte{255, 255, 255, 0})
	want := [4]byte{192, 168, 9, 255}
	if got != want {
		t.Fatalf("got broadcast %v, want %v", got, want)
	}
}

func newClaimTestStack(t *testing.T, clock clockwork.Clock) (*Stack, *recordingTransport) {
	transport := newRecordingTransport()
	cfg := Config{
		MAC: testStackMAC,
		Candidates: []Candidate{
			{Addr: netip.MustParseAddr("192.168.9.1"), Mask: netip.MustParseAddr("255.255.255.0")},
		},
		Clock: clock,
	}
	s, err := New(cfg, transport)
	if err != nil {
		t.Fatal(err)
	}
	return s, transport
}

// waitAndAdvance blocks until the claim loop has registered its next
// delay timer, then fires it.
func waitAndAdvance(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("claim loop never reached its next probe delay: %v", err)
	}
	clock.Advance(probeDelayHi)
}

// TestClaimAddressesSucceedsWithNoConflict covers the happy path:
// probeCount probes with no conflicting ARP traffic observed ends in the
// address being claimed and announced with exactly one gratuitous ARP.
func TestClaimAddressesSucceedsWithNoConflict(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, transport := newClaimTestStack(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.ClaimAddresses(ctx) }()

	for i := 0; i < probeCount-1; i++ {
		waitAndAdvance(t, clock)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ClaimAddresses returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimAddresses did not return after the probe window elapsed")
	}
	drainTX(s)

	claimed := s.ClaimedAddrs()
	if len(claimed) != 1 || claimed[0].Addr != testStackIP {
		t.Fatalf("expected testStackIP claimed, got %v", claimed)
	}
	if got, want := transport.count(), probeCount+1; got != want {
		t.Fatalf("got %d transmitted frames (probes+gratuitous), want %d", got, want)
	}
}

// TestClaimAddressesDropsConflictingCandidate covers the conflicted
// outcome: a foreign MAC observed claiming the candidate address during
// its probe window must keep it out of ClaimedAddrs and suppress its
// gratuitous announcement.
func TestClaimAddressesDropsConflictingCandidate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, transport := newClaimTestStack(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.ClaimAddresses(ctx) }()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
		blockCancel()
		t.Fatalf("claim loop never reached its first probe delay: %v", err)
	}
	blockCancel()

	// Same bookkeeping handleFrame's ARP branch performs on a received
	// packet: a reply/request from someone else claiming our candidate.
	s.noteARPObservation(testStackIP, testPeerMAC)

	// Release the already-registered first delay, then proceed through
	// any remaining probe delays exactly like the no-conflict case.
	clock.Advance(probeDelayHi)
	for i := 1; i < probeCount-1; i++ {
		waitAndAdvance(t, clock)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ClaimAddresses returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimAddresses did not return")
	}
	drainTX(s)

	if claimed := s.ClaimedAddrs(); len(claimed) != 0 {
		t.Fatalf("expected no addresses claimed after a conflict, got %v", claimed)
	}
	// Only the 3 probes were sent; no gratuitous announcement for a
	// conflicted candidate.
	if got, want := transport.count(), probeCount; got != want {
		t.Fatalf("got %d transmitted frames, want %d (no gratuitous ARP)", got, want)
	}
}
