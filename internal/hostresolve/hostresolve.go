// Package hostresolve resolves a hostname to an IPv4 address via a single
// DNS A-record query, used to turn a route config's human-friendly next-hop
// name into the raw address the router needs.
package hostresolve

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Resolver queries a single upstream DNS server for A records.
type Resolver struct {
	server string // "host:port"
	client *dns.Client
}

// New constructs a Resolver pointed at the given "host:port" DNS server.
func New(server string) *Resolver {
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// ResolveA looks up the first A record for name and returns it as a 4-byte
// address.
func (r *Resolver) ResolveA(name string) ([4]byte, error) {
	var zero [4]byte

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	reply, _, err := r.client.Exchange(msg, r.server)
	if err != nil {
		return zero, fmt.Errorf("hostresolve: query %s: %w", name, err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return zero, fmt.Errorf("hostresolve: %s: rcode %d", name, reply.Rcode)
	}

	for _, ans := range reply.Answer {
		a, ok := ans.(*dns.A)
		if !ok {
			continue
		}
		ip4 := a.A.To4()
		if ip4 == nil {
			continue
		}
		var addr [4]byte
		copy(addr[:], ip4)
		return addr, nil
	}
	return zero, fmt.Errorf("hostresolve: %s: no A record found", name)
}
