// Package arpcache implements the stack's IPv4-to-hardware-address
// resolution table: a bounded-TTL cache with a per-address pending queue
// for outbound frames awaiting resolution, a source-tagged update policy
// and FIFO pending-frame release on resolution.
package arpcache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source identifies how an entry update was learned, governing whether
// the update is accepted under the cache's policy.
type Source uint8

const (
	SourceDirectRequest   Source = iota // learned from the sender fields of an ARP request addressed to us
	SourceDirectReply                   // learned from the sender fields of an ARP reply answering our query
	SourceGratuitousReply               // learned from an unsolicited gratuitous ARP announcement
)

// Policy controls which update sources are accepted by [Cache.AddEntry].
type Policy struct {
	AcceptDirectRequest bool // default false
	AcceptDirectReply   bool // always true regardless of this flag; kept for symmetry/logging
	AcceptGratuitous    bool // default true
}

// DefaultPolicy is the stock learning policy: gratuitous-reply updates
// enabled, direct-request updates disabled, direct-reply updates always enabled.
func DefaultPolicy() Policy {
	return Policy{AcceptDirectRequest: false, AcceptDirectReply: true, AcceptGratuitous: true}
}

type entry struct {
	mac       [6]byte
	refreshed time.Time
	pending   []PendingFrame
	pendingAt time.Time
}

// PendingFrame is a caller-supplied unit of work deferred until an IPv4
// address resolves to a hardware address. A [ResolveResult] is sent on
// Ready once the MAC is known or the pending timeout elapses, in FIFO order
// relative to other deferred frames for the same address.
type PendingFrame struct {
	IP    [4]byte
	Data  []byte
	Ready chan<- ResolveResult
}

// ResolveResult carries the outcome of a deferred resolution: either the
// resolved hardware address, or TimedOut=true if the resolution window elapsed.
type ResolveResult struct {
	MAC      [6]byte
	TimedOut bool
}

// RequestFunc is called by the cache when the first frame is deferred for
// an unresolved ip (not again for later misses on the same pending queue)
// to trigger an ARP broadcast request for ip. Implementations should be non-blocking.
type RequestFunc func(ip [4]byte)

// Cache is a concurrency-safe ARP resolution table. The zero value is not
// usable; construct with [New].
type Cache struct {
	mu         sync.Mutex
	entries    map[[4]byte]*entry
	ttl        time.Duration
	pendingTTL time.Duration
	policy     Policy
	clock      clockwork.Clock
	sendReq    RequestFunc
}

// Config configures a new [Cache].
type Config struct {
	TTL            time.Duration // entry lifetime; defaults to 60s if zero
	PendingTimeout time.Duration // max wait for a deferred frame; defaults to 3s if zero
	Policy         Policy
	Clock          clockwork.Clock // defaults to clockwork.NewRealClock() if nil
	Request        RequestFunc     // invoked on cache miss to trigger a broadcast request
}

// New constructs a Cache from cfg.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 3 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries:    make(map[[4]byte]*entry),
		ttl:        cfg.TTL,
		pendingTTL: cfg.PendingTimeout,
		policy:     cfg.Policy,
		clock:      cfg.Clock,
		sendReq:    cfg.Request,
	}
}

// Lookup returns the MAC cached for ip if present and unexpired. On a miss
// it registers pf on the pending queue for ip (creating it if needed) and
// triggers exactly one broadcast request via the Cache's RequestFunc if
// this is the first pending frame for ip.
func (c *Cache) Lookup(ip [4]byte, pf PendingFrame) (mac [6]byte, ok bool) {
	now := c.clock.Now()
	c.mu.Lock()
	e, found := c.entries[ip]
	if found && now.Sub(e.refreshed) <= c.ttl {
		mac = e.mac
		c.mu.Unlock()
		return mac, true
	}
	if !found {
		e = &entry{}
		c.entries[ip] = e
	}
	firstPending := len(e.pending) == 0
	if firstPending {
		e.pendingAt = now
	}
	e.pending = append(e.pending, pf)
	c.mu.Unlock()
	if firstPending && c.sendReq != nil {
		c.sendReq(ip)
	}
	return [6]byte{}, false
}

// AddEntry inserts or refreshes the cache entry for ip according to the
// configured [Policy] for source. If accepted, any frames pending
// resolution for ip are released in FIFO order via their Ready channel.
// Returns true if the update was accepted.
func (c *Cache) AddEntry(ip [4]byte, mac [6]byte, source Source) bool {
	switch source {
	case SourceDirectRequest:
		if !c.policy.AcceptDirectRequest {
			return false
		}
	case SourceGratuitousReply:
		if !c.policy.AcceptGratuitous {
			return false
		}
	case SourceDirectReply:
		// A reply answering our own query is always accepted.
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, found := c.entries[ip]
	if !found {
		e = &entry{}
		c.entries[ip] = e
	}
	e.mac = mac
	e.refreshed = now
	released := e.pending
	e.pending = nil
	c.mu.Unlock()

	for _, pf := range released {
		pf.Ready <- ResolveResult{MAC: mac}
	}
	return true
}

// Sweep removes entries whose TTL has elapsed and flushes (times out) any
// pending queue whose oldest wait exceeds the pending-resolution timeout.
// It should be invoked periodically by a timer goroutine.
func (c *Cache) Sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	var timedOut []PendingFrame
	for ip, e := range c.entries {
		expired := now.Sub(e.refreshed) > c.ttl
		pendingExpired := len(e.pending) > 0 && now.Sub(e.pendingAt) > c.pendingTTL
		if pendingExpired {
			timedOut = append(timedOut, e.pending...)
			e.pending = nil
		}
		if expired && len(e.pending) == 0 {
			delete(c.entries, ip)
		}
	}
	c.mu.Unlock()

	for _, pf := range timedOut {
		pf.Ready <- ResolveResult{TimedOut: true}
	}
}

// Len returns the number of entries currently tracked, including addresses
// that only have frames awaiting resolution, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
