// Package udp implements RFC 768 UDP datagram encoding and decoding over a
// fixed-size buffer view, without any connection or socket state.
package udp

import "errors"

const sizeHeader = 8

var (
	errShort  = errors.New("udp: short buffer")
	errBadLen = errors.New("udp: bad length")
)
