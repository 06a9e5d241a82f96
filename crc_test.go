package nettap

import "testing"

// TestCRC791KnownVector checks the checksum against the classic RFC 1071
// worked example: bytes 0x0001 0xf203 0xf4f5 0xf6f7 sum to 0xddf2, whose
// complement is 0x220d.
func TestCRC791KnownVector(t *testing.T) {
	var c CRC791
	c.Write([]byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7})
	got := c.Sum16()
	const want = 0x220d
	if got != want {
		t.Fatalf("got checksum 0x%04x, want 0x%04x", got, want)
	}
}

// TestCRC791OddLength checks that a trailing odd byte is padded with a
// zero low-order byte, per RFC 791.
func TestCRC791OddLength(t *testing.T) {
	var even, odd CRC791
	even.Write([]byte{0xAB, 0x00})
	odd.Write([]byte{0xAB})
	if even.Sum16() != odd.Sum16() {
		t.Fatalf("odd-length padding mismatch: even=0x%04x odd=0x%04x", even.Sum16(), odd.Sum16())
	}
}

// TestCRC791SelfCheck confirms that summing a buffer together with its
// own checksum field yields zero, the defining property used to validate
// an inbound header without recomputing from scratch.
func TestCRC791SelfCheck(t *testing.T) {
	buf := []byte{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x06,
		0x00, 0x00, 0xac, 0x10, 0x0a, 0x63, 0xac, 0x10, 0x0a, 0x0c}
	var c CRC791
	c.Write(buf)
	sum := c.Sum16()
	buf[10] = byte(sum >> 8)
	buf[11] = byte(sum)

	var verify CRC791
	verify.Write(buf)
	if verify.Sum16() != 0 {
		t.Fatalf("expected self-check sum of 0, got 0x%04x", verify.Sum16())
	}
}

func TestNeverZeroChecksum(t *testing.T) {
	if got := NeverZeroChecksum(0); got != 0xffff {
		t.Fatalf("NeverZeroChecksum(0)=0x%04x, want 0xffff", got)
	}
	if got := NeverZeroChecksum(0x1234); got != 0x1234 {
		t.Fatalf("NeverZeroChecksum(0x1234)=0x%04x, want unchanged", got)
	}
}

func TestAddUint32(t *testing.T) {
	var viaUint32, viaTwoUint16 CRC791
	viaUint32.AddUint32(0x0102_0304)
	viaTwoUint16.AddUint16(0x0102)
	viaTwoUint16.AddUint16(0x0304)
	if viaUint32.Sum16() != viaTwoUint16.Sum16() {
		t.Fatalf("AddUint32 should equal two AddUint16 calls: %04x != %04x", viaUint32.Sum16(), viaTwoUint16.Sum16())
	}
}
