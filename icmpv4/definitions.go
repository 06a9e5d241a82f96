package icmpv4

import "errors"

const sizeHeader = 8

var errShort = errors.New("icmpv4: short frame")

// Type is the ICMPv4 message type.
type Type uint8

// ICMPv4 message types recognized by this stack.
const (
	TypeEchoReply       Type = 0 // echo reply
	TypeEcho            Type = 8 // echo
	TypeDestUnreachable Type = 3 // destination unreachable
)

// CodeDestUnreachable is the Code field when Type is TypeDestUnreachable.
type CodeDestUnreachable uint8

// Destination-unreachable codes used by this stack.
const (
	CodePortUnreachable CodeDestUnreachable = 3 // port unreachable
)
