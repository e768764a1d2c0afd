// urlguard.go screens outgoing URLs for fetch-style tools. Hostnames are
// resolved before the check so a DNS answer pointing at an internal address
// is caught (DNS rebinding defence).
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// alwaysBlockedHosts are rejected regardless of configuration.
var alwaysBlockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"metadata.google.internal",
	"0.0.0.0",
}

// URLGuardConfig configures the URL guard.
type URLGuardConfig struct {
	// AllowPrivate permits requests to RFC1918 addresses.
	AllowPrivate bool `yaml:"allow_private"`

	// AllowedHosts, when non-empty, is an exclusive allow list.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// BlockedHosts are rejected even when AllowPrivate is set.
	BlockedHosts []string `yaml:"blocked_hosts"`
}

// URLGuard validates URLs before outgoing HTTP requests.
type URLGuard struct {
	cfg URLGuardConfig

	// lookup is swappable for tests; defaults to net.LookupHost.
	lookup func(host string) ([]string, error)
}

// NewURLGuard creates a guard from config.
func NewURLGuard(cfg URLGuardConfig) *URLGuard {
	return &URLGuard{cfg: cfg, lookup: net.LookupHost}
}

// Check reports whether rawURL may be fetched. Only http and https schemes
// pass; every resolved address must be public.
func (g *URLGuard) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q not allowed (use http or https)", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("no host in URL")
	}
	hostLower := strings.ToLower(host)

	for _, blocked := range alwaysBlockedHosts {
		if hostLower == blocked {
			return fmt.Errorf("host %s is not allowed", host)
		}
	}
	for _, blocked := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, blocked) {
			return fmt.Errorf("host %s is blocked", host)
		}
	}

	if len(g.cfg.AllowedHosts) > 0 {
		allowed := false
		for _, h := range g.cfg.AllowedHosts {
			if strings.EqualFold(host, h) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("host %s is not in the allowed list", host)
		}
	}

	// Literal IPs skip DNS; everything else resolves first.
	addrs := []string{host}
	if net.ParseIP(host) == nil {
		addrs, err = g.lookup(host)
		if err != nil {
			return fmt.Errorf("cannot resolve host %s: %w", host, err)
		}
	}

	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			// Fail closed on anything DNS hands back that is not an address.
			return fmt.Errorf("unrecognised address %q for host %s", addr, host)
		}
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects loopback, private, link-local, and unspecified addresses.
func (g *URLGuard) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s is not allowed", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s is not allowed", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		// Covers the 169.254.169.254 cloud metadata endpoint.
		return fmt.Errorf("link-local address %s is not allowed", ip)
	case ip.IsPrivate():
		if !g.cfg.AllowPrivate {
			return fmt.Errorf("private address %s is not allowed", ip)
		}
	}
	return nil
}
