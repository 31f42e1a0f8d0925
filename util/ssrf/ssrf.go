// Package ssrf guards outbound HTTP requests against Server-Side Request
// Forgery. Every URL in the OAuth discovery and auth chain is influenced by
// remote data (handles, DID documents, metadata documents), so requests to
// them must only ever reach public hosts over HTTPS.
//
// The guard resolves the target hostname before the request is made and
// rejects any address in a reserved or internal range. Resolution failures
// and malformed hostnames are treated as blocked (fail closed).
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"time"
)

var (
	// ErrUnsafeURL indicates the guard blocked a URL before any connection
	// was attempted.
	ErrUnsafeURL = errors.New("unsafe URL blocked")

	// ErrRequestTimeout indicates the request was abandoned on timeout.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrRequestFailed indicates a connection-level failure (DNS, TCP, TLS).
	ErrRequestFailed = errors.New("request failed")
)

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

func ipv4Net(a, b, c, d byte, prefixLen int) net.IPNet {
	return net.IPNet{
		IP:   net.IPv4(a, b, c, d),
		Mask: net.CIDRMask(96+prefixLen, 128),
	}
}

var blockedIPv4Nets = []net.IPNet{
	ipv4Net(0, 0, 0, 0, 8),          // "this" network
	ipv4Net(10, 0, 0, 0, 8),         // private
	ipv4Net(127, 0, 0, 0, 8),        // loopback
	ipv4Net(169, 254, 0, 0, 16),     // link-local
	ipv4Net(172, 16, 0, 0, 12),      // private
	ipv4Net(192, 168, 0, 0, 16),     // private
	ipv4Net(224, 0, 0, 0, 4),        // multicast
	ipv4Net(240, 0, 0, 0, 4),        // reserved
	ipv4Net(255, 255, 255, 255, 32), // broadcast
}

var blockedIPv6Nets = []net.IPNet{
	mustCIDR("::1/128"),   // loopback
	mustCIDR("fc00::/7"),  // unique-local
	mustCIDR("fe80::/10"), // link-local
}

func mustCIDR(s string) net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return *n
}

// IsBlockedIP reports whether the address falls in a reserved or internal
// range which outbound protocol traffic must never reach.
func IsBlockedIP(addr net.IP) bool {
	if v4 := addr.To4(); v4 != nil {
		for _, n := range blockedIPv4Nets {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range blockedIPv6Nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckURL verifies that a URL is safe to fetch: HTTPS scheme, well-formed
// hostname, and every resolved address outside the blocked ranges. Returns
// an error wrapping [ErrUnsafeURL] otherwise. A nil resolver uses
// [net.DefaultResolver].
func CheckURL(ctx context.Context, resolver *net.Resolver, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed URL: %s", ErrUnsafeURL, rawURL)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme not allowed: %s", ErrUnsafeURL, u.Scheme)
	}
	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("%w: missing hostname", ErrUnsafeURL)
	}
	if !hostnameRegex.MatchString(hostname) {
		return fmt.Errorf("%w: invalid hostname: %s", ErrUnsafeURL, hostname)
	}

	// IP literals skip DNS
	if addr := net.ParseIP(hostname); addr != nil {
		if IsBlockedIP(addr) {
			return fmt.Errorf("%w: address in blocked range: %s", ErrUnsafeURL, addr)
		}
		return nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil || len(addrs) == 0 {
		// fail closed
		return fmt.Errorf("%w: hostname did not resolve: %s", ErrUnsafeURL, hostname)
	}
	for _, addr := range addrs {
		if IsBlockedIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to blocked address %s", ErrUnsafeURL, hostname, addr.IP)
		}
	}
	return nil
}

// IsSafeURL is a convenience wrapper around [CheckURL] using the default
// resolver and a short internal timeout.
func IsSafeURL(rawURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return CheckURL(ctx, nil, rawURL) == nil
}
