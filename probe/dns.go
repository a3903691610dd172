// Package probe reports whether the backend host can be resolved.
//
// The result is informational only. Provisioning never waits on it: an
// unresolvable host simply means the claim will be deferred.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/miekg/dns"
)

// DefaultServer is the local stub resolver used when resolv.conf cannot be read.
const DefaultServer = "127.0.0.53:53"

const defaultResolvConf = "/etc/resolv.conf"

// ErrNoAddresses is returned when the host resolves to no A or AAAA record.
var ErrNoAddresses = errors.New("no addresses")

// Resolver resolves host names with plain DNS queries.
type Resolver struct {
	// Server is the resolver address, host:port.
	Server string
	Client *dns.Client
}

// NewResolver creates a resolver for server. An empty server selects the
// first nameserver of /etc/resolv.conf, or DefaultServer.
func NewResolver(server string, timeout time.Duration) *Resolver {
	if server == "" {
		server = systemServer(defaultResolvConf)
	}
	return &Resolver{
		Server: server,
		Client: &dns.Client{Timeout: timeout},
	}
}

func systemServer(resolvConf string) string {
	config, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(config.Servers) == 0 {
		return DefaultServer
	}
	return net.JoinHostPort(config.Servers[0], config.Port)
}

// LookupHost returns the A and AAAA addresses of host.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	var addresses []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		in, _, err := r.Client.ExchangeContext(ctx, m, r.Server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s lookup of %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[in.Rcode])
			continue
		}

		for _, answer := range in.Answer {
			switch rr := answer.(type) {
			case *dns.A:
				addresses = append(addresses, rr.A.String())
			case *dns.AAAA:
				addresses = append(addresses, rr.AAAA.String())
			}
		}
	}

	if len(addresses) > 0 {
		return addresses, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", host, ErrNoAddresses)
}

// Report is the outcome of probing one endpoint.
type Report struct {
	URL       string
	Host      string
	Addresses []string
	Err       error
}

// Reachable reports whether the host resolved.
func (r Report) Reachable() bool {
	return r.Err == nil && len(r.Addresses) > 0
}

// ProbeURL resolves the host of an endpoint URL.
func (r *Resolver) ProbeURL(ctx context.Context, endpoint string) Report {
	report := Report{URL: endpoint}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		report.Err = fmt.Errorf("invalid endpoint: %w", err)
		return report
	}
	report.Host = parsed.Hostname()

	report.Addresses, report.Err = r.LookupHost(ctx, report.Host)
	return report
}
