package httpexec

import (
	"net"
	"net/url"
	"strings"

	"github.com/relaydev/relay/engine/fault"
)

// URLGuard screens outbound request targets before any connection is made.
// Only http and https schemes are accepted, and hosts that resolve to
// loopback, private, link-local, multicast or unspecified addresses are
// rejected so workflow authors cannot reach service-internal endpoints.
type URLGuard struct {
	allowedSchemes map[string]bool
	lookup         func(host string) ([]net.IP, error)
}

// NewURLGuard creates a guard with the default http/https allowlist.
func NewURLGuard() *URLGuard {
	return &URLGuard{
		allowedSchemes: map[string]bool{"http": true, "https": true},
		lookup:         net.LookupIP,
	}
}

// Check validates one target URL.
func (g *URLGuard) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fault.Errorf(fault.ValidationError, "invalid url %q: %v", rawURL, err)
	}

	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if !g.allowedSchemes[scheme] {
		return fault.Errorf(fault.ValidationError, "scheme %q is not allowed for upstream requests", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fault.Errorf(fault.ValidationError, "url %q has no host", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(host, ip)
	}

	ips, err := g.lookup(host)
	if err != nil {
		return fault.Errorf(fault.UpstreamFailure, "resolve %s: %v", host, err)
	}
	if len(ips) == 0 {
		return fault.Errorf(fault.UpstreamFailure, "host %s resolved to no addresses", host)
	}
	for _, ip := range ips {
		if err := g.checkIP(host, ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *URLGuard) checkIP(host string, ip net.IP) error {
	var class string
	switch {
	case ip.IsLoopback():
		class = "loopback"
	case ip.IsPrivate():
		class = "private"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		class = "link-local"
	case ip.IsMulticast():
		class = "multicast"
	case ip.IsUnspecified():
		class = "unspecified"
	default:
		return nil
	}
	return fault.Errorf(fault.ValidationError, "host %s resolves to %s address %s", host, class, ip)
}
