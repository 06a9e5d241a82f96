package nettun

import (
	"context"
	"errors"
)

// Transport is the minimal frame transport the stack depends on, satisfied
// by both [Tap] and [PairTransport].
type Transport interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(buf []byte) (int, error)
	Close() error
}

// ErrClosed is returned by a [PairTransport] half once it has been closed.
var ErrClosed = errors.New("nettun: transport closed")

// PairTransport is an in-memory, back-to-back pair of transports: frames
// written to one half arrive as frames read from the other. It is intended
// for tests that exercise a full stack without a real TAP device.
type PairTransport struct {
	out  chan []byte
	in   chan []byte
	done chan struct{}
}

// NewPair returns two linked PairTransport halves, each buffering up to
// queue frames in flight.
func NewPair(queue int) (a, b *PairTransport) {
	ab := make(chan []byte, queue)
	ba := make(chan []byte, queue)
	done := make(chan struct{})
	a = &PairTransport{out: ab, in: ba, done: done}
	b = &PairTransport{out: ba, in: ab, done: done}
	return a, b
}

// WriteFrame enqueues a copy of buf for the peer to read.
func (p *PairTransport) WriteFrame(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	select {
	case p.out <- cp:
		return len(buf), nil
	case <-p.done:
		return 0, ErrClosed
	}
}

// ReadFrame blocks until a frame written by the peer is available, copying
// it into buf.
func (p *PairTransport) ReadFrame(buf []byte) (int, error) {
	select {
	case data := <-p.in:
		return copy(buf, data), nil
	case <-p.done:
		return 0, ErrClosed
	}
}

// ReadFrameContext is like ReadFrame but also returns early if ctx is done.
func (p *PairTransport) ReadFrameContext(ctx context.Context, buf []byte) (int, error) {
	select {
	case data := <-p.in:
		return copy(buf, data), nil
	case <-p.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close closes both halves of the pair.
func (p *PairTransport) Close() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}
