package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// DefaultTrustedProxies are the loopback and private ranges an identity
// proxy normally runs in.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// Resolver decides which peers count as the trusted upstream proxy. Only
// such peers may set forwarded-for and identity headers.
type Resolver struct {
	trustedProxies []*net.IPNet
	rejected       atomic.Int64
}

// NewResolver builds a resolver trusting cidrs.
func NewResolver(cidrs ...string) (*Resolver, error) {
	r := &Resolver{}
	for _, c := range cidrs {
		if err := r.AddTrustedProxy(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddTrustedProxy adds a trusted proxy network
func (d *Resolver) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// FromTrustedProxy reports whether the direct peer is a trusted proxy.
func (d *Resolver) FromTrustedProxy(r *http.Request) bool {
	ip := net.ParseIP(directIP(r))
	if ip != nil && d.isTrustedProxy(ip) {
		return true
	}
	d.rejected.Add(1)
	return false
}

// ExtractClientIP extracts the real client IP, honouring forwarded headers
// only when they come from a trusted proxy.
func (d *Resolver) ExtractClientIP(r *http.Request) string {
	direct := directIP(r)
	parsed := net.ParseIP(direct)
	if parsed == nil || !d.isTrustedProxy(parsed) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return direct
}

// Rejected counts requests that were refused for not coming from a trusted
// proxy.
func (d *Resolver) Rejected() int64 {
	return d.rejected.Load()
}

func directIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (d *Resolver) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
