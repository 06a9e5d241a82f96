package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/soypat/nettap"
	"github.com/soypat/nettap/arpcache"
	"github.com/soypat/nettap/nettun"
	"github.com/soypat/nettap/stackring"
)

// Policy holds the ARP/TX behavior flags read once from configuration.
type Policy struct {
	ARPUpdateFromDirectRequest bool
	ARPUpdateFromGratuitous    bool // enabled by stackcfg.Default; the zero value leaves it off
	ARPBypassOnResponse        bool
}

// Config configures a new [Stack].
type Config struct {
	MAC         [6]byte
	Candidates  []Candidate
	MTU         int // defaults to nettap.MTU if zero
	Policy      Policy
	RXRingSize  int // defaults to 256
	TXRingSize  int // defaults to 256
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Metrics     *Metrics
	UDPRegistry *Registry
	TCPRegistry *Registry
}

// Stack aggregates the packet codecs, ARP cache, and RX/TX rings into a
// runnable pipeline: an ingress goroutine, an RX handler goroutine, an
// egress goroutine and a timer goroutine, supervised by an errgroup and a
// shared context, with a logical clock in place of time.Sleep so the
// identity claim loop is deterministically testable.
type Stack struct {
	mac         [6]byte
	candidates  []Candidate
	claimedMu   sync.RWMutex
	claimed     []Claimed
	conflicted  map[[4]byte]bool
	probeMu     sync.Mutex
	probing     map[[4]byte]bool // candidate -> conflict seen
	mtu         int
	policy      Policy
	clock       clockwork.Clock
	transport   nettun.Transport
	rxRing      *stackring.Ring
	txRing      *stackring.Ring
	cache       *arpcache.Cache
	udpRegistry *Registry
	tcpRegistry *Registry
	metrics     *Metrics
	done        <-chan struct{} // set once Run starts; nil before then
	logger
}

// New constructs a Stack from cfg and transport. Call [Stack.Run] to start
// the identity claim loop and the pipeline goroutines.
func New(cfg Config, transport nettun.Transport) (*Stack, error) {
	if len(cfg.Candidates) == 0 {
		return nil, errors.New("stack: no candidate addresses configured")
	}
	if cfg.MTU <= 0 {
		cfg.MTU = nettap.MTU
	}
	if cfg.RXRingSize <= 0 {
		cfg.RXRingSize = 256
	}
	if cfg.TXRingSize <= 0 {
		cfg.TXRingSize = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	s := &Stack{
		mac:         cfg.MAC,
		candidates:  cfg.Candidates,
		conflicted:  make(map[[4]byte]bool),
		probing:     make(map[[4]byte]bool),
		mtu:         cfg.MTU,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		transport:   transport,
		rxRing:      stackring.New(cfg.RXRingSize),
		txRing:      stackring.New(cfg.TXRingSize),
		udpRegistry: cfg.UDPRegistry,
		tcpRegistry: cfg.TCPRegistry,
		metrics:     cfg.Metrics,
		logger:      logger{log: cfg.Logger},
	}
	if s.udpRegistry == nil {
		s.udpRegistry = NewRegistry()
	}
	if s.tcpRegistry == nil {
		s.tcpRegistry = NewRegistry()
	}
	s.cache = arpcache.New(arpcache.Config{
		Clock: cfg.Clock,
		Policy: arpcache.Policy{
			AcceptDirectRequest: cfg.Policy.ARPUpdateFromDirectRequest,
			AcceptDirectReply:   true,
			AcceptGratuitous:    cfg.Policy.ARPUpdateFromGratuitous,
		},
		Request: s.sendARPRequest,
	})
	return s, nil
}

// ClaimedAddrs returns a snapshot of the addresses that have survived
// duplicate-address detection so far. The claimed set is immutable once
// the claim loop finishes, but the loop runs concurrently with the
// pipeline (Run launches both together so the RX handler can watch for
// conflicts during probing), so reads and the loop's appends are
// synchronized by claimedMu.
func (s *Stack) ClaimedAddrs() []Claimed {
	s.claimedMu.RLock()
	defer s.claimedMu.RUnlock()
	return append([]Claimed(nil), s.claimed...)
}

// addClaimed appends c to the claimed set under claimedMu.
func (s *Stack) addClaimed(c Claimed) {
	s.claimedMu.Lock()
	s.claimed = append(s.claimed, c)
	s.claimedMu.Unlock()
}

// claimedLen returns the number of addresses claimed so far.
func (s *Stack) claimedLen() int {
	s.claimedMu.RLock()
	defer s.claimedMu.RUnlock()
	return len(s.claimed)
}

// forEachClaimed calls fn for every currently-claimed address, holding
// claimedMu.RLock for the duration.
func (s *Stack) forEachClaimed(fn func(Claimed)) {
	s.claimedMu.RLock()
	defer s.claimedMu.RUnlock()
	for _, c := range s.claimed {
		fn(c)
	}
}

// firstClaimed returns the stack's first claimed address, used as the
// source IP for all originated traffic. A router would select the source
// by longest-prefix match; with a single directly-attached subnet the
// first claimed address is always correct.
func (s *Stack) firstClaimed() ([4]byte, bool) {
	s.claimedMu.RLock()
	defer s.claimedMu.RUnlock()
	if len(s.claimed) == 0 {
		return [4]byte{}, false
	}
	return s.claimed[0].Addr, true
}

// MAC returns the stack's configured hardware address.
func (s *Stack) MAC() [6]byte { return s.mac }

// UDPRegistry returns the socket registry consulted for inbound UDP datagrams.
func (s *Stack) UDPRegistry() *Registry { return s.udpRegistry }

// TCPRegistry returns the TCP socket registry, kept symmetric with
// UDPRegistry. The RX path does not consult it: TCP is a reset-only stub
// and every inbound segment is answered (or dropped) by that stub.
func (s *Stack) TCPRegistry() *Registry { return s.tcpRegistry }

// Run launches the four pipeline goroutines and the identity claim loop
// concurrently -- the RX handler must already be running to watch for
// conflicting ARP traffic during the probe window -- and blocks until ctx
// is canceled or a fatal transport error occurs.
func (s *Stack) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	done := ctx.Done()
	s.done = done

	g.Go(func() error { return s.runIngress(ctx, done) })
	g.Go(func() error { return s.runRXHandler(ctx, done) })
	g.Go(func() error { return s.runEgress(ctx, done) })
	g.Go(func() error { return s.runTimer(ctx, done) })
	g.Go(func() error {
		if err := s.ClaimAddresses(ctx); err != nil {
			return fmt.Errorf("stack: claim phase: %w", err)
		}
		if s.claimedLen() == 0 {
			return errors.New("stack: no addresses survived duplicate-address detection")
		}
		return nil
	})

	return g.Wait()
}

func (s *Stack) runIngress(ctx context.Context, done <-chan struct{}) error {
	buf := make([]byte, s.mtu+nettap.EtherHeaderLen)
	for {
		select {
		case <-done:
			return nil
		default:
		}
		n, err := s.transport.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, nettun.ErrClosed) {
				return nil
			}
			return fmt.Errorf("stack: fatal transport read: %w", err)
		}
		if n == 0 {
			continue
		}
		frameCopy := append([]byte(nil), buf[:n]...)
		_, err = s.rxRing.Enqueue(frameCopy, s.clock.Now(), done)
		if err != nil {
			return nil // canceled
		}
	}
}

func (s *Stack) runRXHandler(ctx context.Context, done <-chan struct{}) error {
	for {
		frm, ok := s.rxRing.Dequeue(done)
		if !ok {
			return nil
		}
		if s.metrics != nil {
			s.metrics.RXFrames.Inc()
		}
		s.handleFrame(frm)
	}
}

func (s *Stack) runEgress(ctx context.Context, done <-chan struct{}) error {
	for {
		frm, ok := s.txRing.Dequeue(done)
		if !ok {
			return nil
		}
		if err := s.egressOne(frm, done); err != nil {
			return err
		}
	}
}

func (s *Stack) runTimer(ctx context.Context, done <-chan struct{}) error {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.Chan():
			s.cache.Sweep()
		}
	}
}

func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rand.Int64N(int64(span)))
}

func netipAddrTo4(a netip.Addr) [4]byte {
	if a.Is4In6() {
		a = a.Unmap()
	}
	return a.As4()
}
