package util

import (
	"fmt"
	"net"
	"strings"

	"github.com/corralhq/corral/internal/core/constants"
)

// Allowlist is a parsed source-address allowlist: literal IPs, CIDR ranges,
// or the wildcard which accepts everything.
type Allowlist struct {
	ips      []net.IP
	cidrs    []*net.IPNet
	allowAll bool
}

// ParseAllowlist accepts a mix of literal IPs and CIDRs. A single wildcard
// entry disables filtering. Blank entries are skipped.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	al := &Allowlist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == constants.AllowlistWildcard {
			al.allowAll = true
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			al.cidrs = append(al.cidrs, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", entry)
		}
		al.ips = append(al.ips, ip)
	}
	return al, nil
}

// AllowAll reports whether the wildcard was configured.
func (a *Allowlist) AllowAll() bool {
	return a.allowAll
}

// Contains checks the address against the list. IPv4-mapped IPv6 addresses
// (::ffff:a.b.c.d) are normalised to plain IPv4 before matching.
func (a *Allowlist) Contains(addr string) bool {
	if a.allowAll {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, literal := range a.ips {
		if literal.Equal(ip) {
			return true
		}
	}
	for _, cidr := range a.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// PeerIP extracts the bare IP from a RemoteAddr-style "host:port" value.
func PeerIP(remoteAddr string) string {
	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return ip
	}
	return remoteAddr
}

// NormaliseBaseURL ensures the base URL ends without a trailing slash.
func NormaliseBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	if len(baseURL) > 1 && baseURL[len(baseURL)-1] == '/' {
		return baseURL[:len(baseURL)-1]
	}
	return baseURL
}

// DeriveControlURL swaps the scheme of an HTTP base URL for its WebSocket
// counterpart: http becomes ws, https becomes wss.
func DeriveControlURL(httpBaseURL string) string {
	base := NormaliseBaseURL(httpBaseURL)
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// IsPortAvailable checks if a port is available by attempting to bind to it.
func IsPortAvailable(host string, port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	defer listener.Close()
	return true
}
