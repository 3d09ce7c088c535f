// Package router implements longest-prefix-match IPv4 forwarding across a
// fixed set of link-layer interfaces.
package router

import (
	"log/slog"

	"github.com/tinyrange/netstack/internal/netif"
	"github.com/tinyrange/netstack/internal/wire"
)

// ipv4HeaderLen is the fixed portion of an IPv4 header, before any options;
// mirrors the unexported constant of the same name in internal/wire.
const ipv4HeaderLen = 20

type route struct {
	prefix     [4]byte
	prefixLen  uint8
	hasNextHop bool
	nextHop    [4]byte
	ifaceIdx   int
}

// Router forwards IPv4 datagrams across N attached interfaces using
// longest-prefix-match, decrementing TTL on every forwarded hop.
type Router struct {
	interfaces []*netif.Interface
	routes     []route
	inbound    [][][]byte // per-interface queue of datagrams pending route()

	log *slog.Logger
}

// New constructs a router with no interfaces or routes yet.
func New() *Router {
	return &Router{log: slog.Default()}
}

// SetLogger overrides the router's logger (defaults to slog.Default()).
func (r *Router) SetLogger(l *slog.Logger) { r.log = l }

// AddInterface attaches an interface and returns its index, used as the
// iface_idx argument to AddRoute.
func (r *Router) AddInterface(ifc *netif.Interface) int {
	r.interfaces = append(r.interfaces, ifc)
	r.inbound = append(r.inbound, nil)
	return len(r.interfaces) - 1
}

// Interface returns the interface at idx.
func (r *Router) Interface(idx int) *netif.Interface { return r.interfaces[idx] }

// AddRoute appends a route to the table. hasNextHop=false marks a directly
// attached network, where the next hop is the datagram's own destination.
func (r *Router) AddRoute(prefix [4]byte, prefixLen uint8, nextHop [4]byte, hasNextHop bool, ifaceIdx int) {
	r.routes = append(r.routes, route{
		prefix:     prefix,
		prefixLen:  prefixLen,
		hasNextHop: hasNextHop,
		nextHop:    nextHop,
		ifaceIdx:   ifaceIdx,
	})
}

func mask32(prefixLen uint8) uint32 {
	if prefixLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefixLen)
}

func toUint32(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// Deliver feeds a raw datagram, just received by the interface at ifaceIdx,
// into that interface's inbound queue for the next Route call to drain.
func (r *Router) Deliver(ifaceIdx int, dgram []byte) {
	r.inbound[ifaceIdx] = append(r.inbound[ifaceIdx], dgram)
}

// routeOne applies longest-prefix-match to a single parsed datagram,
// forwarding it out the matching route's interface if found.
func (r *Router) routeOne(raw []byte) {
	hdr, ok := wire.ParseIPv4(raw)
	if !ok {
		r.log.Debug("router: dropping unparseable datagram")
		return
	}
	if hdr.TTL <= 1 {
		return
	}

	dst := toUint32(hdr.Dst)
	bestLen := -1
	var best route
	for _, rt := range r.routes {
		pl := int(rt.prefixLen)
		if pl <= bestLen {
			continue
		}
		m := mask32(rt.prefixLen)
		if toUint32(rt.prefix)&m == dst&m {
			best = rt
			bestLen = pl
		}
	}
	if bestLen < 0 {
		return
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	out[8] = hdr.TTL - 1
	headerLen := ipv4HeaderLen + len(hdr.Options)
	binaryPut16(out, 10, wire.IPv4Checksum(zeroChecksum(out[:headerLen])))

	nextHop := hdr.Dst
	if best.hasNextHop {
		nextHop = best.nextHop
	}
	r.interfaces[best.ifaceIdx].SendDatagram(out, nextHop)
}

func zeroChecksum(header []byte) []byte {
	out := make([]byte, len(header))
	copy(out, header)
	out[10], out[11] = 0, 0
	return out
}

func binaryPut16(buf []byte, offset int, v uint16) {
	buf[offset] = byte(v >> 8)
	buf[offset+1] = byte(v)
}

// Route drains every interface's inbound queue, forwarding each datagram
// via longest-prefix-match.
func (r *Router) Route() {
	for i, queue := range r.inbound {
		r.inbound[i] = nil
		for _, dgram := range queue {
			r.routeOne(dgram)
		}
	}
}
