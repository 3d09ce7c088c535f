// Package tcp implements the TCP endpoint state machines: the receiver
// (segment ingest, ackno/window generation) and the sender (windowed
// transmission, zero-window probing, RTO-backoff retransmission).
//
// Wire encoding of the messages below is a separate concern (internal/wire);
// this package only manipulates the parsed, typed segments.
package tcp

import "github.com/tinyrange/netstack/internal/wrap32"

// MaxPayloadSize is the largest payload a single outgoing segment carries.
const MaxPayloadSize = 1452

// SenderMessage is a segment as the sender emits it (and the receiver
// consumes it).
type SenderMessage struct {
	Seqno   wrap32.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
}

// SequenceLength is the number of sequence-number slots this segment
// occupies: one for SYN, one per payload byte, one for FIN.
func (m SenderMessage) SequenceLength() int {
	n := len(m.Payload)
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is the receiver's reply: an optional ackno (absent before
// the SYN has been seen) and the currently advertised window size.
type ReceiverMessage struct {
	Ackno      wrap32.Wrap32
	HasAckno   bool
	WindowSize uint16
}
