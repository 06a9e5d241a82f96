package tcp

import (
	"testing"

	"github.com/soypat/nettap"
)

func TestFrameRoundTrip(t *testing.T) {
	buf := make([]byte, sizeHeader+4)
	tfrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(4242)
	tfrm.SetDestinationPort(80)
	tfrm.SetSeq(1000)
	tfrm.SetAck(0)
	tfrm.SetOffsetAndFlags(5, FlagSYN)
	tfrm.SetWindowSize(65535)

	if tfrm.SourcePort() != 4242 || tfrm.DestinationPort() != 80 {
		t.Fatal("port mismatch")
	}
	if tfrm.Seq() != 1000 {
		t.Errorf("got seq %d, want 1000", tfrm.Seq())
	}
	off, flags := tfrm.OffsetAndFlags()
	if off != 5 {
		t.Errorf("got data offset %d, want 5", off)
	}
	if flags != FlagSYN {
		t.Errorf("got flags %v, want SYN", flags)
	}
	if tfrm.HeaderLength() != sizeHeader {
		t.Errorf("got header length %d, want %d", tfrm.HeaderLength(), sizeHeader)
	}
	if len(tfrm.Payload()) != 4 {
		t.Errorf("got payload length %d, want 4", len(tfrm.Payload()))
	}
}

func TestFlagsHasAnyHasAll(t *testing.T) {
	f := FlagSYN | FlagACK
	if !f.HasAny(FlagSYN) || !f.HasAny(FlagACK) {
		t.Fatal("HasAny should report both set bits")
	}
	if f.HasAny(FlagRST) {
		t.Fatal("HasAny must not report an unset bit")
	}
	if !f.HasAll(FlagSYN | FlagACK) {
		t.Fatal("HasAll should report both bits present")
	}
	if f.HasAll(FlagSYN | FlagACK | FlagRST) {
		t.Fatal("HasAll must require every bit in the mask")
	}
}

func TestFlagsString(t *testing.T) {
	cases := []struct {
		flags Flags
		want  string
	}{
		{0, "[]"},
		{FlagSYN, "[SYN]"},
		{FlagSYN | FlagACK, "[SYN,ACK]"},
		{FlagRST | FlagACK, "[RST,ACK]"},
		{FlagFIN | FlagACK, "[FIN,ACK]"},
	}
	for _, c := range cases {
		if got := c.flags.String(); got != c.want {
			t.Errorf("Flags(%d).String() = %q, want %q", c.flags, got, c.want)
		}
	}
}

// TestBuildResetUnsolicitedSYN: an unsolicited SYN to a closed port gets
// <SEQ=0><ACK=SEG.SEQ+1><RST,ACK>.
func TestBuildResetUnsolicitedSYN(t *testing.T) {
	inBuf := make([]byte, sizeHeader)
	in, _ := NewFrame(inBuf)
	in.ClearHeader()
	in.SetSourcePort(33333)
	in.SetDestinationPort(80)
	in.SetSeq(1000)
	in.SetOffsetAndFlags(5, FlagSYN)

	outBuf := make([]byte, sizeHeader)
	out, err := BuildReset(outBuf, in, 0)
	if err != nil {
		t.Fatal(err)
	}
	seg := out.Segment()
	if seg.Flags != FlagRST|FlagACK {
		t.Errorf("got flags %v, want RST,ACK", seg.Flags)
	}
	if seg.Seq != 0 {
		t.Errorf("got seq %d, want 0", seg.Seq)
	}
	if seg.Ack != 1001 {
		t.Errorf("got ack %d, want 1001", seg.Ack)
	}
	if out.SourcePort() != 80 || out.DestinationPort() != 33333 {
		t.Fatal("reset must swap source/destination ports")
	}
}

// TestBuildResetWithACKPayload covers the "otherwise seq = incoming ack"
// branch: a segment carrying ACK gets <SEQ=SEG.ACK><CTL=RST> with no ACK flag.
func TestBuildResetWithACKPayload(t *testing.T) {
	inBuf := make([]byte, sizeHeader)
	in, _ := NewFrame(inBuf)
	in.ClearHeader()
	in.SetSeq(500)
	in.SetAck(9000)
	in.SetOffsetAndFlags(5, FlagACK|FlagPSH)

	outBuf := make([]byte, sizeHeader)
	out, err := BuildReset(outBuf, in, 16)
	if err != nil {
		t.Fatal(err)
	}
	seg := out.Segment()
	if seg.Flags != FlagRST {
		t.Errorf("got flags %v, want RST only", seg.Flags)
	}
	if seg.Seq != 9000 {
		t.Errorf("got seq %d, want 9000 (mirrors incoming ack)", seg.Seq)
	}
}

func TestValidateSizeRejectsBadOffset(t *testing.T) {
	buf := make([]byte, sizeHeader)
	tfrm, _ := NewFrame(buf)
	tfrm.SetOffsetAndFlags(2, 0) // offset*4 = 8, below the 20-byte minimum
	var v nettap.Validator
	tfrm.ValidateSize(&v)
	if !v.HasError() {
		t.Fatal("expected bad-offset validation error")
	}
}
