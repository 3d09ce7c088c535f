package tcp

import (
	"testing"

	"github.com/tinyrange/netstack/internal/bytestream"
	"github.com/tinyrange/netstack/internal/wrap32"
)

func TestSenderSynAndFinInOneSegment(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("hi"))
	reader.Close()

	s := NewSender(1000, wrap32.Wrap32(0))
	s.windowSize = 10 // room enough to carry SYN + payload + FIN together
	s.Push(reader)

	seg, ok := s.MaybeSend()
	if !ok {
		t.Fatalf("expected a segment")
	}
	if !seg.SYN || !seg.FIN {
		t.Fatalf("expected SYN+FIN combined segment, got %+v", seg)
	}
	if string(seg.Payload) != "hi" {
		t.Fatalf("payload: got %q, want %q", seg.Payload, "hi")
	}
	if seg.SequenceLength() != 4 { // SYN + 2 bytes + FIN
		t.Fatalf("sequence length: got %d, want 4", seg.SequenceLength())
	}
	if _, ok := s.MaybeSend(); ok {
		t.Fatalf("expected no further segments")
	}
}

func TestSenderSplitsAcrossSegmentsWhenWindowTooSmall(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("hi"))
	reader.Close()

	s := NewSender(1000, wrap32.Wrap32(0))
	s.windowSize = 2 // room for SYN + 1 byte only
	s.Push(reader)

	seg, ok := s.MaybeSend()
	if !ok || !seg.SYN || seg.FIN {
		t.Fatalf("expected SYN (without FIN) first segment, got ok=%v seg=%+v", ok, seg)
	}
	if string(seg.Payload) != "h" {
		t.Fatalf("payload: got %q, want %q", seg.Payload, "h")
	}
}

func TestSenderRetransmitsAndBacksOffRTO(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("x"))

	s := NewSender(100, wrap32.Wrap32(0))
	s.Push(reader)
	seg, ok := s.MaybeSend()
	if !ok {
		t.Fatalf("expected initial segment")
	}
	if s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("consecutive retx should start at 0")
	}

	s.Tick(99)
	if _, ok := s.MaybeSend(); ok {
		t.Fatalf("should not retransmit before RTO elapses")
	}

	s.Tick(1) // total 100ms, RTO expires
	retx, ok := s.MaybeSend()
	if !ok {
		t.Fatalf("expected retransmission after RTO expiry")
	}
	if retx.Seqno != seg.Seqno {
		t.Fatalf("retransmission seqno: got %d, want %d", retx.Seqno, seg.Seqno)
	}
	if s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("consecutive retx: got %d, want 1", s.ConsecutiveRetransmissions())
	}

	// RTO doubled to 200ms; another timeout should double again to 400ms and
	// bump consecutive retx to 2.
	s.Tick(199)
	if s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("should not have retransmitted yet at 199ms of doubled RTO")
	}
	s.Tick(1)
	if _, ok := s.MaybeSend(); !ok {
		t.Fatalf("expected second retransmission")
	}
	if s.ConsecutiveRetransmissions() != 2 {
		t.Fatalf("consecutive retx: got %d, want 2", s.ConsecutiveRetransmissions())
	}
}

func TestSenderAckResetsBackoff(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("ab"))

	s := NewSender(50, wrap32.Wrap32(1000))
	s.Push(reader)
	seg, _ := s.MaybeSend()

	s.Tick(50) // timeout once
	s.MaybeSend()
	if s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("expected one retransmission before ack")
	}

	// Sequence space is absolute and starts at 0 regardless of the ISN value;
	// the ISN only offsets the wire (Wrap32) representation.
	ackAbs := uint64(seg.SequenceLength())
	ack := wrap32.Wrap(ackAbs, wrap32.Wrap32(1000))
	s.Receive(ReceiverMessage{Ackno: ack, HasAckno: true, WindowSize: 10})

	if s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("consecutive retx should reset to 0 after full ack, got %d", s.ConsecutiveRetransmissions())
	}
	if s.SequenceNumbersInFlight() != 0 {
		t.Fatalf("in flight should be 0 after full ack, got %d", s.SequenceNumbersInFlight())
	}
}

func TestSenderDuplicateAckDoesNotResetBackoff(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("ab"))

	s := NewSender(50, wrap32.Wrap32(0))
	s.Push(reader)
	s.MaybeSend()

	s.Tick(50) // one timeout: RTO 50 -> 100, consecutive retx -> 1
	s.MaybeSend()
	if s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("expected one retransmission before duplicate ack")
	}

	// A duplicate ack in the same valid range (acks nothing new: ackno stays
	// at the pre-segment value) must not reset the backoff already in
	// progress.
	s.Receive(ReceiverMessage{Ackno: wrap32.Wrap(0, wrap32.Wrap32(0)), HasAckno: true, WindowSize: 10})
	if s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("duplicate ack should not reset consecutive retx, got %d", s.ConsecutiveRetransmissions())
	}

	// The doubled RTO (100ms) must still be in effect: the timeout above
	// restarted the timer, so 50 more ms reaches the initial 50ms RTO but not
	// the doubled one, and must not yet trigger another retransmission.
	s.Tick(50)
	if _, ok := s.MaybeSend(); ok {
		t.Fatalf("duplicate ack must not have reset RTO back to its initial value")
	}
}

func TestSenderZeroWindowProbe(t *testing.T) {
	reader := bytestream.New(16)
	reader.Push([]byte("z"))

	s := NewSender(1000, wrap32.Wrap32(0))
	s.Push(reader)
	seg, _ := s.MaybeSend()

	// Peer acks everything but advertises a zero window.
	ackAbs := uint64(seg.SequenceLength())
	s.Receive(ReceiverMessage{Ackno: wrap32.Wrap(ackAbs, wrap32.Wrap32(0)), HasAckno: true, WindowSize: 0})
	if s.nonzeroWindow {
		t.Fatalf("expected zero window after ack")
	}

	reader.Push([]byte("more"))
	s.Push(reader) // should probe with window pretended to be 1
	probe, ok := s.MaybeSend()
	if !ok {
		t.Fatalf("expected a zero-window probe segment")
	}
	if len(probe.Payload) != 1 {
		t.Fatalf("zero-window probe payload: got %d bytes, want 1", len(probe.Payload))
	}
}
