package wire

import (
	"encoding/binary"

	"github.com/tinyrange/netstack/internal/tcp"
	"github.com/tinyrange/netstack/internal/wrap32"
)

const tcpHeaderLen = 20

// TCP header flag bits.
const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagACK = 1 << 4
)

// Segment is a parsed TCP segment. It carries both directions' state-machine
// fields at once (seqno/SYN/FIN/payload belong to the sender side; AckNum/
// HasAck/Window belong to the receiver side piggybacked on the same wire
// segment), since on the wire a single TCP header always carries both.
type Segment struct {
	SrcPort uint16
	DstPort uint16

	Seqno   wrap32.Wrap32
	SYN     bool
	FIN     bool
	Payload []byte

	HasAck bool
	AckNum wrap32.Wrap32
	Window uint16
}

// ParseTCP decodes a TCP segment. The checksum is not verified; see the
// package doc comment on the codec's trust boundary.
func ParseTCP(data []byte) (Segment, bool) {
	if len(data) < tcpHeaderLen {
		return Segment{}, false
	}
	hdrLen := int(data[12]>>4) * 4
	if hdrLen < tcpHeaderLen || len(data) < hdrLen {
		return Segment{}, false
	}

	flags := data[13]
	var s Segment
	s.SrcPort = binary.BigEndian.Uint16(data[0:2])
	s.DstPort = binary.BigEndian.Uint16(data[2:4])
	s.Seqno = wrap32.Wrap32(binary.BigEndian.Uint32(data[4:8]))
	s.SYN = flags&flagSYN != 0
	s.FIN = flags&flagFIN != 0
	s.HasAck = flags&flagACK != 0
	s.AckNum = wrap32.Wrap32(binary.BigEndian.Uint32(data[8:12]))
	s.Window = binary.BigEndian.Uint16(data[14:16])
	s.Payload = data[hdrLen:]
	return s, true
}

// BuildTCP serializes a TCP segment over the IPv4 pseudo-header formed by
// src/dst, computing the TCP checksum.
func BuildTCP(src, dst [4]byte, srcPort, dstPort uint16, s Segment) []byte {
	out := make([]byte, tcpHeaderLen+len(s.Payload))
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint32(out[4:8], s.Seqno.Raw())

	var flags byte
	if s.SYN {
		flags |= flagSYN
	}
	if s.FIN {
		flags |= flagFIN
	}
	if s.HasAck {
		flags |= flagACK
		binary.BigEndian.PutUint32(out[8:12], s.AckNum.Raw())
	}
	out[12] = byte((tcpHeaderLen / 4) << 4)
	out[13] = flags
	binary.BigEndian.PutUint16(out[14:16], s.Window)
	copy(out[tcpHeaderLen:], s.Payload)

	binary.BigEndian.PutUint16(out[16:18], TCPChecksum(src, dst, out))
	return out
}

// SenderMessage extracts the tcp.SenderMessage half of this segment.
func (s Segment) SenderMessage() tcp.SenderMessage {
	return tcp.SenderMessage{Seqno: s.Seqno, SYN: s.SYN, Payload: s.Payload, FIN: s.FIN}
}

// ReceiverMessage extracts the tcp.ReceiverMessage half of this segment,
// when present.
func (s Segment) ReceiverMessage() (tcp.ReceiverMessage, bool) {
	if !s.HasAck {
		return tcp.ReceiverMessage{}, false
	}
	return tcp.ReceiverMessage{Ackno: s.AckNum, HasAckno: true, WindowSize: s.Window}, true
}

// FromMessages assembles a wire segment from a sender's outgoing message and
// an optional piggybacked receiver ack/window.
func FromMessages(srcPort, dstPort uint16, out tcp.SenderMessage, ack *tcp.ReceiverMessage) Segment {
	s := Segment{SrcPort: srcPort, DstPort: dstPort, Seqno: out.Seqno, SYN: out.SYN, FIN: out.FIN, Payload: out.Payload}
	if ack != nil && ack.HasAckno {
		s.HasAck = true
		s.AckNum = ack.Ackno
		s.Window = ack.WindowSize
	}
	return s
}

func pseudoHeaderChecksum(src, dst [4]byte, length int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dst[2:4]))
	sum += uint32(ProtocolTCP)
	sum += uint32(length)
	return sum
}

// TCPChecksum computes the TCP checksum over segment (with its checksum
// field assumed zero) using the IPv4 pseudo-header.
func TCPChecksum(src, dst [4]byte, segment []byte) uint16 {
	sum := pseudoHeaderChecksum(src, dst, len(segment))
	for i := 0; i+1 < len(segment); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(segment[i : i+2]))
	}
	if len(segment)%2 == 1 {
		sum += uint32(segment[len(segment)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
