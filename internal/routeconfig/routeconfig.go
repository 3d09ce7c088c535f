// Package routeconfig loads the static interface/route table that seeds a
// router and its attached network interfaces from a YAML file.
package routeconfig

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/netstack/internal/hostresolve"
	"github.com/tinyrange/netstack/internal/wire"
)

// InterfaceConfig describes one link-layer attachment point. Listen/Peer are
// optional "host:port" UDP endpoints the demo driver (cmd/netstackd) uses to
// tunnel Ethernet frames over a UDP socket in place of a real TAP device;
// library code never looks at them.
type InterfaceConfig struct {
	Name   string `yaml:"name"`
	MAC    string `yaml:"mac"`
	IP     string `yaml:"ip"`
	Listen string `yaml:"listen"`
	Peer   string `yaml:"peer"`
}

// RouteConfig describes one forwarding table entry. Prefix may instead be
// given as PrefixHost (resolved via DNS at load time), and NextHop may
// likewise be given as NextHopHost.
type RouteConfig struct {
	Prefix     string `yaml:"prefix"`
	PrefixHost string `yaml:"prefixHost"`
	PrefixLen  uint8  `yaml:"prefixLen"`

	NextHop     string `yaml:"nextHop"`
	NextHopHost string `yaml:"nextHopHost"`

	Interface string `yaml:"interface"`
}

// Config is the parsed, not-yet-resolved route configuration file.
type Config struct {
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Routes     []RouteConfig     `yaml:"routes"`
}

// Load reads and parses a route configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("routeconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("routeconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvedInterface is an InterfaceConfig with its MAC/IP parsed into wire
// types.
type ResolvedInterface struct {
	Name   string
	MAC    wire.MAC
	IP     [4]byte
	Listen string
	Peer   string
}

// ResolvedRoute is a RouteConfig with its prefix/next-hop fully resolved to
// concrete addresses, ready to hand to router.Router.AddRoute.
type ResolvedRoute struct {
	Prefix     [4]byte
	PrefixLen  uint8
	NextHop    [4]byte
	HasNextHop bool
	Interface  string
}

func parseMAC(s string) (wire.MAC, error) {
	var m wire.MAC
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("routeconfig: invalid MAC %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return m, fmt.Errorf("routeconfig: invalid MAC %q: %w", s, err)
		}
		m[i] = byte(v)
	}
	return m, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("routeconfig: invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("routeconfig: %q is not an IPv4 address", s)
	}
	copy(out[:], ip4)
	return out, nil
}

// Resolve turns the raw config into concrete addresses, querying resolver
// for any PrefixHost/NextHopHost fields. resolver may be nil if the config
// contains no hostname-based fields.
func Resolve(cfg Config, resolver *hostresolve.Resolver) ([]ResolvedInterface, []ResolvedRoute, error) {
	ifaces := make([]ResolvedInterface, 0, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		mac, err := parseMAC(ic.MAC)
		if err != nil {
			return nil, nil, err
		}
		ip, err := parseIPv4(ic.IP)
		if err != nil {
			return nil, nil, err
		}
		ifaces = append(ifaces, ResolvedInterface{
			Name: ic.Name, MAC: mac, IP: ip,
			Listen: ic.Listen, Peer: ic.Peer,
		})
	}

	routes := make([]ResolvedRoute, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		rr := ResolvedRoute{PrefixLen: rc.PrefixLen, Interface: rc.Interface}

		switch {
		case rc.PrefixHost != "":
			if resolver == nil {
				return nil, nil, fmt.Errorf("routeconfig: route for %q needs a resolver", rc.PrefixHost)
			}
			ip, err := resolver.ResolveA(rc.PrefixHost)
			if err != nil {
				return nil, nil, err
			}
			rr.Prefix = ip
		case rc.Prefix != "":
			ip, err := parseIPv4(rc.Prefix)
			if err != nil {
				return nil, nil, err
			}
			rr.Prefix = ip
		default:
			return nil, nil, fmt.Errorf("routeconfig: route missing prefix/prefixHost")
		}

		switch {
		case rc.NextHopHost != "":
			if resolver == nil {
				return nil, nil, fmt.Errorf("routeconfig: route for %q needs a resolver", rc.NextHopHost)
			}
			ip, err := resolver.ResolveA(rc.NextHopHost)
			if err != nil {
				return nil, nil, err
			}
			rr.NextHop = ip
			rr.HasNextHop = true
		case rc.NextHop != "":
			ip, err := parseIPv4(rc.NextHop)
			if err != nil {
				return nil, nil, err
			}
			rr.NextHop = ip
			rr.HasNextHop = true
		}

		routes = append(routes, rr)
	}

	return ifaces, routes, nil
}
