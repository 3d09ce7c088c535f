// Package netif implements the link-layer shim between IPv4 datagrams and
// Ethernet frames: an ARP cache that resolves next-hop IPs to MAC addresses,
// queuing datagrams while resolution is in flight.
package netif

import (
	"log/slog"

	"github.com/tinyrange/netstack/internal/pcap"
	"github.com/tinyrange/netstack/internal/wire"
)

const (
	arpWaitingTimeoutMs  = 5000
	arpValidityTimeoutMs = 30000
)

// mappingState tags an ARP cache entry's lifecycle, modeled as a variant
// rather than independent booleans: an entry is unresolved, has an
// outstanding request with datagrams queued behind it, or holds a fresh
// MAC/IP mapping.
type mappingState int

const (
	stateUnknown mappingState = iota
	stateWaiting
	stateValid
)

type mapping struct {
	state   mappingState
	mac     wire.MAC
	elapsed uint64
	queue   [][]byte // serialized IPv4 datagrams awaiting this mapping
}

// Interface is a single link-layer attachment point: an Ethernet/IP address
// pair, an ARP cache keyed by next-hop IP, and an outbound frame queue.
//
// Not safe for concurrent use; see the module's single-threaded concurrency
// model. An optional packet capture sink records every frame that crosses
// the wire in either direction.
type Interface struct {
	mac wire.MAC
	ip  [4]byte

	mappings map[[4]byte]*mapping
	outbound [][]byte

	capture *pcap.Writer
	log     *slog.Logger
}

// New constructs an interface with the given hardware/IP addresses.
func New(mac wire.MAC, ip [4]byte) *Interface {
	return &Interface{
		mac:      mac,
		ip:       ip,
		mappings: make(map[[4]byte]*mapping),
		log:      slog.Default(),
	}
}

// SetCapture attaches a pcap writer that records every frame sent or
// received on this interface. Pass nil to disable capture.
func (ifc *Interface) SetCapture(w *pcap.Writer) { ifc.capture = w }

// SetLogger overrides the interface's logger (defaults to slog.Default()).
func (ifc *Interface) SetLogger(l *slog.Logger) { ifc.log = l }

func (ifc *Interface) captureFrame(raw []byte) {
	if ifc.capture == nil {
		return
	}
	if err := ifc.capture.WritePacket(raw); err != nil {
		ifc.log.Debug("netif: pcap write failed", "error", err)
	}
}

func (ifc *Interface) queueFrame(raw []byte) {
	ifc.captureFrame(raw)
	ifc.outbound = append(ifc.outbound, raw)
}

func (ifc *Interface) sendARPRequest(target [4]byte) {
	raw := wire.BuildARP(wire.ARPPacket{
		Opcode:    wire.ARPRequest,
		SenderMAC: ifc.mac,
		SenderIP:  ifc.ip,
		TargetIP:  target,
	})
	ifc.queueFrame(wire.BuildFrame(wire.Broadcast, ifc.mac, wire.EtherTypeARP, raw))
}

// SendDatagram transmits an already-serialized IPv4 datagram toward next_hop,
// resolving its MAC address via ARP if necessary.
func (ifc *Interface) SendDatagram(dgram []byte, nextHop [4]byte) {
	m, ok := ifc.mappings[nextHop]
	if !ok {
		m = &mapping{state: stateUnknown}
		ifc.mappings[nextHop] = m
	}

	switch m.state {
	case stateValid:
		ifc.queueFrame(wire.BuildFrame(m.mac, ifc.mac, wire.EtherTypeIPv4, dgram))
	case stateWaiting:
		m.queue = append(m.queue, dgram)
	case stateUnknown:
		ifc.sendARPRequest(nextHop)
		m.state = stateWaiting
		m.elapsed = 0
		m.queue = append(m.queue, dgram)
	}
}

// learn records a fresh ARP mapping and flushes any datagrams queued behind
// it, taking the now-Valid path through SendDatagram.
func (ifc *Interface) learn(ip [4]byte, mac wire.MAC) {
	m, ok := ifc.mappings[ip]
	if !ok {
		m = &mapping{}
		ifc.mappings[ip] = m
	}
	pending := m.queue
	m.queue = nil
	m.mac = mac
	m.state = stateValid
	m.elapsed = 0

	for _, dgram := range pending {
		ifc.SendDatagram(dgram, ip)
	}
}

// RecvFrame processes one inbound Ethernet frame. ARP requests/replies
// update the cache (and reply, for requests); IPv4 frames addressed to this
// interface's MAC are parsed and returned — including datagrams addressed to
// other hosts, which a router uses this interface to forward.
func (ifc *Interface) RecvFrame(raw []byte) (dgram []byte, ok bool) {
	ifc.captureFrame(raw)

	f, parsed := wire.ParseFrame(raw)
	if !parsed {
		return nil, false
	}

	switch f.EtherType {
	case wire.EtherTypeARP:
		ifc.handleARP(f)
		return nil, false
	case wire.EtherTypeIPv4:
		if f.Dst != ifc.mac {
			return nil, false
		}
		if _, ok := wire.ParseIPv4(f.Payload); !ok {
			return nil, false
		}
		return f.Payload, true
	default:
		return nil, false
	}
}

func (ifc *Interface) handleARP(f wire.Frame) {
	if f.Dst != ifc.mac && f.Dst != wire.Broadcast {
		return
	}
	arp, ok := wire.ParseARP(f.Payload)
	if !ok || arp.TargetIP != ifc.ip {
		return
	}

	switch arp.Opcode {
	case wire.ARPRequest:
		reply := wire.BuildARP(wire.ARPPacket{
			Opcode:    wire.ARPReply,
			SenderMAC: ifc.mac,
			SenderIP:  ifc.ip,
			TargetMAC: arp.SenderMAC,
			TargetIP:  arp.SenderIP,
		})
		ifc.queueFrame(wire.BuildFrame(arp.SenderMAC, ifc.mac, wire.EtherTypeARP, reply))
		ifc.learn(arp.SenderIP, arp.SenderMAC)
	case wire.ARPReply:
		ifc.learn(arp.SenderIP, arp.SenderMAC)
	}
}

// Tick advances every ARP cache entry's age by ms, expiring stale Valid
// entries and re-broadcasting requests for Waiting entries past their
// timeout.
func (ifc *Interface) Tick(ms uint64) {
	for ip, m := range ifc.mappings {
		switch m.state {
		case stateValid:
			m.elapsed += ms
			if m.elapsed >= arpValidityTimeoutMs {
				m.state = stateUnknown
				m.mac = wire.MAC{}
				m.elapsed = 0
			}
		case stateWaiting:
			m.elapsed += ms
			if m.elapsed >= arpWaitingTimeoutMs {
				m.elapsed = 0
				ifc.sendARPRequest(ip)
			}
		}
	}
}

// MaybeSend pops one queued outbound frame, if any.
func (ifc *Interface) MaybeSend() ([]byte, bool) {
	if len(ifc.outbound) == 0 {
		return nil, false
	}
	f := ifc.outbound[0]
	ifc.outbound = ifc.outbound[1:]
	return f, true
}

// MAC returns the interface's Ethernet address.
func (ifc *Interface) MAC() wire.MAC { return ifc.mac }

// IP returns the interface's IPv4 address.
func (ifc *Interface) IP() [4]byte { return ifc.ip }
