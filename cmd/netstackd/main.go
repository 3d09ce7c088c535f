// Command netstackd is a demo driver that wires a YAML route config into a
// running router.Router and one netif.Interface per attached link, tunneling
// Ethernet frames over UDP sockets in place of a real TAP device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tinyrange/netstack/internal/hostresolve"
	"github.com/tinyrange/netstack/internal/netif"
	"github.com/tinyrange/netstack/internal/pcap"
	"github.com/tinyrange/netstack/internal/router"
	"github.com/tinyrange/netstack/internal/routeconfig"
)

// inboundFrame is one raw Ethernet frame read off a link's UDP socket,
// tagged with the interface index it arrived on.
type inboundFrame struct {
	ifaceIdx int
	raw      []byte
}

// link bundles an attached interface with the UDP socket used to tunnel its
// frames, so the main loop can drain MaybeSend() straight onto the wire.
type link struct {
	ifc  *netif.Interface
	conn net.PacketConn
	peer net.Addr
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML route config (required)")
	dnsServer := flag.String("dns", "", "host:port of a DNS server, for routes using prefixHost/nextHopHost")
	tick := flag.Duration("tick", 100*time.Millisecond, "simulation tick interval")
	pcapDir := flag.String("pcap-dir", "", "optional directory to write one <interface>.pcap capture file per interface")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `netstackd - run the user-space TCP/IP stack against a static route config

USAGE:
  netstackd -config routes.yaml [flags]

FLAGS:
  -config PATH     YAML route config (see internal/routeconfig)
  -dns HOST:PORT   DNS server for prefixHost/nextHopHost routes
  -tick DURATION   simulation tick interval (default 100ms)
  -pcap-dir DIR    write one <interface-name>.pcap capture file per interface
`)
	}
	flag.Parse()

	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := routeconfig.Load(*configPath)
	if err != nil {
		return err
	}

	var resolver *hostresolve.Resolver
	if *dnsServer != "" {
		resolver = hostresolve.New(*dnsServer)
	}

	ifaces, routes, err := routeconfig.Resolve(cfg, resolver)
	if err != nil {
		return err
	}

	if *pcapDir != "" {
		if err := os.MkdirAll(*pcapDir, 0o755); err != nil {
			return fmt.Errorf("netstackd: create pcap directory: %w", err)
		}
	}

	r := router.New()
	byName := make(map[string]int, len(ifaces))
	links := make([]*link, 0, len(ifaces))

	for _, ic := range ifaces {
		ifc := netif.New(ic.MAC, ic.IP)
		ifc.SetLogger(slog.With("interface", ic.Name))
		if *pcapDir != "" {
			path := filepath.Join(*pcapDir, ic.Name+".pcap")
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("netstackd: create pcap file for %s: %w", ic.Name, err)
			}
			defer f.Close()
			capture := pcap.NewWriter(f, ic.Name)
			if err := capture.WriteFileHeader(pcap.LinkTypeEthernet); err != nil {
				return fmt.Errorf("netstackd: write pcap header for %s: %w", ic.Name, err)
			}
			ifc.SetCapture(capture)
		}

		idx := r.AddInterface(ifc)
		byName[ic.Name] = idx

		lk := &link{ifc: ifc}
		if ic.Listen != "" {
			conn, err := net.ListenPacket("udp", ic.Listen)
			if err != nil {
				return fmt.Errorf("netstackd: listen on %s: %w", ic.Listen, err)
			}
			defer conn.Close()
			lk.conn = conn
			if ic.Peer != "" {
				peer, err := net.ResolveUDPAddr("udp", ic.Peer)
				if err != nil {
					return fmt.Errorf("netstackd: resolve peer %s: %w", ic.Peer, err)
				}
				lk.peer = peer
			}
		}
		links = append(links, lk)
	}

	for _, rt := range routes {
		idx, ok := byName[rt.Interface]
		if !ok {
			return fmt.Errorf("netstackd: route references unknown interface %q", rt.Interface)
		}
		r.AddRoute(rt.Prefix, rt.PrefixLen, rt.NextHop, rt.HasNextHop, idx)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inbound := make(chan inboundFrame, 256)
	for i, lk := range links {
		if lk.conn == nil {
			continue
		}
		go readLoop(ctx, i, lk.conn, inbound)
	}

	slog.Info("netstackd: running", "interfaces", len(links), "routes", len(routes))
	return mainLoop(ctx, r, links, inbound, *tick)
}

// readLoop forwards every UDP datagram received on conn to inbound, tagged
// with ifaceIdx, until ctx is done.
func readLoop(ctx context.Context, ifaceIdx int, conn net.PacketConn, inbound chan<- inboundFrame) {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		select {
		case inbound <- inboundFrame{ifaceIdx: ifaceIdx, raw: raw}:
		case <-ctx.Done():
			return
		}
	}
}

// mainLoop is the single-threaded core: it drains inbound frames into their
// interface, advances ARP timers, runs one routing pass, and flushes every
// interface's outbound queue onto the wire, once per tick.
func mainLoop(ctx context.Context, r *router.Router, links []*link, inbound <-chan inboundFrame, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-inbound:
			lk := links[f.ifaceIdx]
			if dgram, ok := lk.ifc.RecvFrame(f.raw); ok {
				r.Deliver(f.ifaceIdx, dgram)
			}
		case <-ticker.C:
			ms := uint64(tick.Milliseconds())
			for _, lk := range links {
				lk.ifc.Tick(ms)
			}
			r.Route()
			for _, lk := range links {
				flushOutbound(lk)
			}
		}
	}
}

func flushOutbound(lk *link) {
	for {
		raw, ok := lk.ifc.MaybeSend()
		if !ok {
			return
		}
		if lk.conn == nil || lk.peer == nil {
			continue
		}
		if _, err := lk.conn.WriteTo(raw, lk.peer); err != nil {
			slog.Warn("netstackd: write frame failed", "error", err)
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netstackd: %v\n", err)
		os.Exit(1)
	}
}
