package wire

import "encoding/binary"

// IP protocol numbers relevant to this stack.
const (
	ProtocolICMP = 1
	ProtocolTCP  = 6
	ProtocolUDP  = 17
)

const ipv4HeaderLen = 20

// IPv4Header is the fixed 20-byte header plus any trailing options.
type IPv4Header struct {
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      [4]byte
	Dst      [4]byte
	Options  []byte
	Payload  []byte
}

// ParseIPv4 decodes an IPv4 datagram. The header checksum is not verified;
// see the package doc comment on the codec's trust boundary. Malformed input
// yields ok == false, and the caller drops it.
func ParseIPv4(data []byte) (IPv4Header, bool) {
	if len(data) < ipv4HeaderLen {
		return IPv4Header{}, false
	}
	verIHL := data[0]
	version := verIHL >> 4
	ihl := verIHL & 0x0f
	if version != 4 {
		return IPv4Header{}, false
	}
	headerLen := int(ihl) * 4
	if headerLen < ipv4HeaderLen || len(data) < headerLen {
		return IPv4Header{}, false
	}

	var h IPv4Header
	h.TTL = data[8]
	h.Protocol = data[9]
	h.Checksum = binary.BigEndian.Uint16(data[10:12])
	copy(h.Src[:], data[12:16])
	copy(h.Dst[:], data[16:20])
	if headerLen > ipv4HeaderLen {
		h.Options = data[ipv4HeaderLen:headerLen]
	}
	h.Payload = data[headerLen:]
	return h, true
}

// BuildIPv4 serializes a datagram with a freshly computed header checksum.
// TTL defaults to 64 when zero.
func BuildIPv4(src, dst [4]byte, protocol uint8, ttl uint8, payload []byte) []byte {
	if ttl == 0 {
		ttl = 64
	}
	totalLen := ipv4HeaderLen + len(payload)
	out := make([]byte, totalLen)

	out[0] = byte((4 << 4) | (ipv4HeaderLen / 4))
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(out[4:6], 0)
	binary.BigEndian.PutUint16(out[6:8], 0)
	out[8] = ttl
	out[9] = protocol
	copy(out[12:16], src[:])
	copy(out[16:20], dst[:])

	binary.BigEndian.PutUint16(out[10:12], IPv4Checksum(out[:ipv4HeaderLen]))
	copy(out[ipv4HeaderLen:], payload)
	return out
}

// IPv4Checksum computes the one's-complement checksum of an IPv4 header
// (the checksum field itself must be zeroed by the caller first, which
// BuildIPv4 does implicitly by computing this before writing it).
func IPv4Checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}
