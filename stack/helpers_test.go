package stack

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/soypat/nettap/arpcache"
)

// recordingTransport is an in-memory [nettun.Transport] that never unblocks
// ReadFrame (the tests below drive the pipeline synchronously and never
// call Run) and records every frame handed to WriteFrame.
type recordingTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	blocked chan struct{}
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{blocked: make(chan struct{})}
}

func (r *recordingTransport) ReadFrame(buf []byte) (int, error) {
	<-r.blocked
	return 0, nil
}

func (r *recordingTransport) WriteFrame(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), buf...))
	return len(buf), nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

var (
	testStackMAC  = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testStackIP   = [4]byte{192, 168, 9, 1}
	testStackMask = [4]byte{255, 255, 255, 0}
	testPeerIP    = [4]byte{192, 168, 9, 7}
	testPeerMAC   = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// newTestStack builds a Stack with a single pre-claimed address
// (testStackIP/testStackMAC), bypassing the probe/announce delay so RX/TX
// tests can exercise the pipeline without waiting on the claim loop.
func newTestStack(t *testing.T) (*Stack, *recordingTransport) {
	transport := newRecordingTransport()
	cfg := Config{
		MAC: testStackMAC,
		Candidates: []Candidate{
			{Addr: netip.MustParseAddr("192.168.9.1"), Mask: netip.MustParseAddr("255.255.255.0")},
		},
		Policy: Policy{ARPBypassOnResponse: true},
	}
	s, err := New(cfg, transport)
	if err != nil {
		t.Fatal(err)
	}
	s.claimed = []Claimed{{
		Addr:      testStackIP,
		Mask:      testStackMask,
		Broadcast: directedBroadcast(testStackIP, testStackMask),
	}}
	return s, transport
}

// seedARP gives the cache a resolved entry so TX frames destined to ip
// resolve immediately instead of deferring on an ARP round trip.
func seedARP(s *Stack, ip [4]byte, mac [6]byte) {
	s.cache.AddEntry(ip, mac, arpcache.SourceDirectReply)
}

// drainTX dequeues every frame currently queued on the TX ring and
// resolves/writes each one through egressOne, the same way the egress
// goroutine would. done is left open: every frame queued by the time this
// is called has a ready Dequeue case, so the never-fires done case is
// never selected.
func drainTX(s *Stack) {
	done := make(chan struct{})
	n := s.txRing.Len()
	for i := 0; i < n; i++ {
		frm, ok := s.txRing.Dequeue(done)
		if !ok {
			return
		}
		s.egressOne(frm, done)
	}
}
