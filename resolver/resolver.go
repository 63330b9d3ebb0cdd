// Package resolver discovers consensus node endpoints through DNS. A
// deployment publishes its consensus endpoints as SRV records and optional
// TXT hints; enclaves resolve them at startup instead of carrying hardcoded
// addresses.
package resolver

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/miekg/dns"
)

// DefaultDNSServer is the systemd-resolved stub listener.
const DefaultDNSServer = "127.0.0.53:53"

// Endpoint is one discovered consensus node address.
type Endpoint struct {
	Host     string
	Port     uint16
	Priority uint16
}

// Addr returns the host:port form of the endpoint.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Resolver looks up consensus endpoints via DNS.
type Resolver struct {
	client *dns.Client
	server string
	log    *slog.Logger
}

// New creates a resolver querying the given DNS server. An empty server
// selects DefaultDNSServer.
func New(server string, log *slog.Logger) *Resolver {
	if server == "" {
		server = DefaultDNSServer
	}
	return &Resolver{
		client: new(dns.Client),
		server: server,
		log:    log,
	}
}

// Endpoints resolves the SRV records of a service domain into consensus
// endpoints, sorted by priority.
func (r *Resolver) Endpoints(domain string) ([]Endpoint, error) {
	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(domain),
		Qtype:  dns.TypeSRV,
		Qclass: dns.ClassINET,
	}}

	in, _, err := r.client.Exchange(msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", domain, err)
	}

	endpoints := parseSRV(in.Answer)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no SRV records for %s", domain)
	}

	r.log.Debug("resolved consensus endpoints",
		slog.String("domain", domain),
		slog.Int("count", len(endpoints)))
	return endpoints, nil
}

// TrustRootHint resolves a TXT record carrying an operator-published trust
// anchor hint, for operators distributing checkpoint pointers over DNS. The
// record content is opaque to the resolver; its value never substitutes for
// verification.
func (r *Resolver) TrustRootHint(domain string) (string, error) {
	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(domain),
		Qtype:  dns.TypeTXT,
		Qclass: dns.ClassINET,
	}}

	in, _, err := r.client.Exchange(msg, r.server)
	if err != nil {
		return "", fmt.Errorf("TXT lookup for %s failed: %w", domain, err)
	}

	for _, answer := range in.Answer {
		if txt, ok := answer.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return txt.Txt[0], nil
		}
	}
	return "", fmt.Errorf("no TXT records for %s", domain)
}

func parseSRV(answers []dns.RR) []Endpoint {
	endpoints := make([]Endpoint, 0, len(answers))
	for _, answer := range answers {
		if srv, ok := answer.(*dns.SRV); ok {
			endpoints = append(endpoints, Endpoint{
				Host:     srv.Target,
				Port:     srv.Port,
				Priority: srv.Priority,
			})
		}
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Priority < endpoints[j].Priority
	})
	return endpoints
}
