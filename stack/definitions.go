// Package stack assembles the packet codecs, the ARP cache, and the RX/TX
// rings into a runnable network stack attached to a frame transport: a
// Stack aggregate owning the hardware address, the claimed IPv4 addresses
// and the per-protocol dispatch, plus the goroutines that drive them.
package stack

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SocketKey identifies a listening UDP or TCP socket by local address and port.
type SocketKey struct {
	LocalIP   [4]byte
	LocalPort uint16
}

// Deliverable receives payloads addressed to a registered socket.
type Deliverable interface {
	// Deliver is called with the remote endpoint, the protocol payload
	// (UDP: datagram payload; TCP: never called since TCP is a stateless
	// stub), and tracker, the RX ring's diagnostic serial number for the
	// frame that carried it.
	Deliver(srcIP [4]byte, srcPort uint16, payload []byte, tracker uint64)
}

// DeliverFunc adapts a function to the Deliverable interface.
type DeliverFunc func(srcIP [4]byte, srcPort uint16, payload []byte, tracker uint64)

// Deliver calls f.
func (f DeliverFunc) Deliver(srcIP [4]byte, srcPort uint16, payload []byte, tracker uint64) {
	f(srcIP, srcPort, payload, tracker)
}

// Registry is a read-mostly map of sockets to their collaborators. The core
// never mutates it at packet-handling time; Register/Unregister are meant
// to be called at setup or from a control-plane goroutine.
type Registry struct {
	mu      sync.RWMutex
	sockets map[SocketKey]Deliverable
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sockets: make(map[SocketKey]Deliverable)}
}

// Register installs d as the listener for key, replacing any prior listener.
func (r *Registry) Register(key SocketKey, d Deliverable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sockets[key] = d
}

// Unregister removes the listener for key, if any.
func (r *Registry) Unregister(key SocketKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, key)
}

// Lookup returns the listener registered for key, if any.
func (r *Registry) Lookup(key SocketKey) (Deliverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sockets[key]
	return d, ok
}

// Candidate is an IPv4 address configured at startup awaiting duplicate-address detection.
type Candidate struct {
	Addr netip.Addr // IPv4
	Mask netip.Addr // IPv4, dotted-decimal netmask form (e.g. 255.255.255.0)
}

// Claimed is a Candidate that has passed the identity claim loop.
type Claimed struct {
	Addr      [4]byte
	Mask      [4]byte
	Broadcast [4]byte // directed broadcast: Addr | ^Mask
}

// logger wraps an optional *slog.Logger so pipeline code can log without
// nil checks at every call site.
type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, args ...any) {
	if l.log != nil {
		l.log.Error(msg, args...)
	}
}
func (l logger) warn(msg string, args ...any) {
	if l.log != nil {
		l.log.Warn(msg, args...)
	}
}
func (l logger) info(msg string, args ...any) {
	if l.log != nil {
		l.log.Info(msg, args...)
	}
}
func (l logger) debug(msg string, args ...any) {
	if l.log != nil {
		l.log.Debug(msg, args...)
	}
}

// Metrics holds the Prometheus collectors the stack updates as it runs.
type Metrics struct {
	RXFrames    prometheus.Counter
	TXFrames    prometheus.Counter
	RXDropped   *prometheus.CounterVec // labeled by reason
	ARPResolved prometheus.Counter
	ARPTimedOut prometheus.Counter
	ICMPEchoed  prometheus.Counter
	UDPUnreach  prometheus.Counter
	TCPReset    prometheus.Counter
	Fragments   prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RXFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_rx_frames_total", Help: "Ethernet frames read from the transport.",
		}),
		TXFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_tx_frames_total", Help: "Ethernet frames written to the transport.",
		}),
		RXDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nettap_rx_dropped_total", Help: "Received frames dropped, labeled by reason.",
		}, []string{"reason"}),
		ARPResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_arp_resolved_total", Help: "ARP cache entries resolved.",
		}),
		ARPTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_arp_timeout_total", Help: "Deferred frames dropped after ARP resolution timeout.",
		}),
		ICMPEchoed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_icmp_echo_total", Help: "ICMPv4 echo requests answered.",
		}),
		UDPUnreach: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_udp_unreachable_total", Help: "ICMPv4 port-unreachable messages sent for closed UDP ports.",
		}),
		TCPReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_tcp_reset_total", Help: "TCP RST replies sent.",
		}),
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nettap_tx_fragments_total", Help: "Outbound IPv4 fragments emitted.",
		}),
	}
	reg.MustRegister(m.RXFrames, m.TXFrames, m.RXDropped, m.ARPResolved, m.ARPTimedOut, m.ICMPEchoed, m.UDPUnreach, m.TCPReset, m.Fragments)
	return m
}
