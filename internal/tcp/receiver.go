package tcp

import (
	"github.com/tinyrange/netstack/internal/bytestream"
	"github.com/tinyrange/netstack/internal/reassembler"
	"github.com/tinyrange/netstack/internal/wrap32"
)

// Receiver consumes inbound segments, drives a Reassembler, and produces the
// ackno/window_size a peer's sender needs.
type Receiver struct {
	zeroPoint    wrap32.Wrap32
	hasZeroPoint bool
}

// Receive ingests one inbound segment, feeding its payload into reassembler
// (and, transitively, sink). Segments that arrive before the connection's
// SYN has been observed are ignored.
func (r *Receiver) Receive(seg SenderMessage, re *reassembler.Reassembler, sink *bytestream.ByteStream) {
	if seg.SYN && !r.hasZeroPoint {
		r.zeroPoint = seg.Seqno
		r.hasZeroPoint = true
	}
	if !r.hasZeroPoint {
		return
	}

	firstIndex := wrap32.Unwrap(seg.Seqno, r.zeroPoint, re.FirstUnassembled())
	if !seg.SYN {
		firstIndex--
	}
	re.Insert(firstIndex, seg.Payload, seg.FIN, sink)
}

// Send reports the current ackno (absent until the SYN has been seen) and
// advertised window, derived from reassembler/sink state.
func (r *Receiver) Send(re *reassembler.Reassembler, sink *bytestream.ByteStream) ReceiverMessage {
	windowSize := sink.Available()
	if windowSize > 65535 {
		windowSize = 65535
	}

	if !r.hasZeroPoint {
		return ReceiverMessage{WindowSize: uint16(windowSize)}
	}

	ackAbs := re.FirstUnassembled() + 1
	if sink.IsFinished() {
		ackAbs++
	}
	return ReceiverMessage{
		Ackno:      wrap32.Wrap(ackAbs, r.zeroPoint),
		HasAckno:   true,
		WindowSize: uint16(windowSize),
	}
}
