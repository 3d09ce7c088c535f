package tcp

import (
	"github.com/tinyrange/netstack/internal/bytestream"
	"github.com/tinyrange/netstack/internal/wrap32"
)

// outSegment pairs a wire segment with its absolute sequence number, so the
// sender's own bookkeeping never has to unwrap a Wrap32 to compare queue
// entries against each other.
type outSegment struct {
	msg      SenderMessage
	absSeqno uint64
}

// Sender drives outbound TCP transmission: pulling bytes from a reader,
// honoring the peer's advertised window (with zero-window probing), and
// retransmitting on RTO expiry with exponential backoff.
//
// next_seqno and ackno are tracked in absolute (unwrapped) space throughout;
// Wrap32 values are only produced at the point a segment is handed to the
// wire, and only consumed when unwrapping an incoming ack. This sidesteps
// the original design's quirk where send_empty_message() could emit a
// segment computed against the wrong reference point near a wraparound.
type Sender struct {
	isn        wrap32.Wrap32
	initialRTO uint64

	nextSeqno uint64
	ackno     uint64

	windowSize    int
	nonzeroWindow bool

	synSent bool
	finSent bool

	inFlight        int
	consecutiveRetx int

	pendingOut  []outSegment
	outstanding []outSegment

	timer retxTimer
}

// NewSender constructs a sender with the given initial RTO and ISN.
func NewSender(initialRTOMs uint64, isn wrap32.Wrap32) *Sender {
	return &Sender{
		isn:           isn,
		initialRTO:    initialRTOMs,
		nextSeqno:     0,
		ackno:         0,
		windowSize:    1,
		nonzeroWindow: true,
		timer:         newRetxTimer(initialRTOMs),
	}
}

// SequenceNumbersInFlight reports how many sequence numbers are outstanding.
func (s *Sender) SequenceNumbersInFlight() int { return s.inFlight }

// ConsecutiveRetransmissions reports how many back-to-back timeouts have
// occurred since the last new ack.
func (s *Sender) ConsecutiveRetransmissions() int { return s.consecutiveRetx }

func readChunk(r *bytestream.ByteStream, n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n && r.BytesBuffered() > 0 {
		v := r.Peek()
		want := n - len(out)
		if want < len(v) {
			v = v[:want]
		}
		out = append(out, v...)
		r.Pop(len(v))
	}
	return out
}

// Push pulls bytes from reader and queues as many segments as the
// advertised window currently allows.
func (s *Sender) Push(reader *bytestream.ByteStream) {
	if s.windowSize == 0 && s.ackno == s.nextSeqno {
		s.windowSize = 1 // zero-window probe
	}

	budget := s.windowSize
	if !s.synSent {
		budget--
	}
	if budget < 0 {
		budget = 0
	}
	if buffered := reader.BytesBuffered(); budget > buffered {
		budget = buffered
	}

	for budget > 0 || !s.synSent {
		payloadSize := budget
		if payloadSize > MaxPayloadSize {
			payloadSize = MaxPayloadSize
		}
		payload := readChunk(reader, payloadSize)

		var seg SenderMessage
		seg.Payload = payload

		synFlag := 0
		if !s.synSent {
			synFlag = 1
		}
		if reader.IsFinished() && s.windowSize > len(payload)+synFlag {
			seg.FIN = true
			s.finSent = true
		}

		if !s.synSent {
			seg.Seqno = wrap32.Wrap(s.nextSeqno, s.isn)
			seg.SYN = true
			s.synSent = true
		} else {
			seg.Seqno = wrap32.Wrap(s.nextSeqno, s.isn)
		}

		seqLen := seg.SequenceLength()
		s.pendingOut = append(s.pendingOut, outSegment{msg: seg, absSeqno: s.nextSeqno})
		s.nextSeqno += uint64(seqLen)
		s.inFlight += seqLen
		s.windowSize -= seqLen

		budget -= payloadSize
		if budget < 0 {
			budget = 0
		}
	}

	if reader.IsFinished() && s.windowSize > 0 && !s.finSent {
		seg := SenderMessage{Seqno: wrap32.Wrap(s.nextSeqno, s.isn), SYN: !s.synSent, FIN: true}
		seqLen := seg.SequenceLength()
		s.pendingOut = append(s.pendingOut, outSegment{msg: seg, absSeqno: s.nextSeqno})
		s.nextSeqno += uint64(seqLen)
		s.inFlight += seqLen
		s.finSent = true
		s.synSent = true
	}
}

// MaybeSend pops and returns the head of the pending-transmission queue, if
// any, enqueuing genuinely new (not-yet-outstanding) segments onto the
// outstanding FIFO and starting the retransmission timer.
func (s *Sender) MaybeSend() (SenderMessage, bool) {
	if len(s.pendingOut) == 0 {
		return SenderMessage{}, false
	}
	seg := s.pendingOut[0]
	s.pendingOut = s.pendingOut[1:]

	if len(s.outstanding) == 0 || seg.absSeqno > s.outstanding[len(s.outstanding)-1].absSeqno {
		s.outstanding = append(s.outstanding, seg)
	}
	if !s.timer.Running() {
		s.timer.Start()
	}
	return seg.msg, true
}

// SendEmptyMessage returns a zero-payload, flag-less segment at the current
// next_seqno, used for ACK-only replies.
func (s *Sender) SendEmptyMessage() SenderMessage {
	return SenderMessage{Seqno: wrap32.Wrap(s.nextSeqno, s.isn)}
}

// Receive processes an incoming ack/window update from the peer's receiver.
func (s *Sender) Receive(msg ReceiverMessage) {
	if msg.HasAckno {
		ackAbs := wrap32.Unwrap(msg.Ackno, s.isn, s.nextSeqno)
		if ackAbs < s.ackno || ackAbs > s.nextSeqno {
			return
		}
		s.ackno = ackAbs
		s.windowSize = int(msg.WindowSize) - int(s.nextSeqno-s.ackno)
		if s.windowSize < 1 {
			s.windowSize = 0
			s.nonzeroWindow = false
		} else {
			s.nonzeroWindow = true
		}

		popped := false
		for len(s.outstanding) > 0 {
			front := s.outstanding[0]
			frontEnd := front.absSeqno + uint64(front.msg.SequenceLength())
			if s.ackno < frontEnd {
				break
			}
			s.outstanding = s.outstanding[1:]
			s.inFlight -= front.msg.SequenceLength()
			popped = true
		}

		// Only an ack that actually retires outstanding data resets the RTO
		// and restarts/stops the timer; a duplicate ack in the same valid
		// range must not undo an in-progress exponential backoff.
		if popped {
			s.timer.SetRTO(s.initialRTO)
			s.consecutiveRetx = 0
			if len(s.outstanding) > 0 {
				s.timer.Start()
			} else {
				s.timer.Reset()
			}
		}
		return
	}

	if !s.synSent {
		s.windowSize = int(msg.WindowSize)
	}
}

// Tick advances elapsed time by ms, retransmitting the oldest outstanding
// segment and doubling the RTO when the timer expires. While the peer
// advertises a zero window, an expiry still retransmits but neither doubles
// the RTO nor counts as a consecutive retransmission.
func (s *Sender) Tick(ms uint64) {
	if !s.timer.Running() {
		return
	}
	s.timer.Add(ms)
	if !s.timer.Expired() {
		return
	}

	if len(s.outstanding) > 0 {
		front := s.outstanding[0]
		requeued := make([]outSegment, 0, len(s.pendingOut)+1)
		requeued = append(requeued, front)
		requeued = append(requeued, s.pendingOut...)
		s.pendingOut = requeued
	}
	if s.nonzeroWindow {
		s.consecutiveRetx++
		s.timer.DoubleRTO()
	}
	s.timer.Start()
}
