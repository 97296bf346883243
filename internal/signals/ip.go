package signals

import (
	"net"
	"net/netip"
	"strings"
)

// HeaderGetter is satisfied by http.Header.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractClientIP scans headers in order and returns the first usable value.
// Only the first comma-separated entry of a header is considered. The result
// is not verified against a trusted proxy list: a client that can set the
// first header in the list controls the reported address.
func ExtractClientIP(h HeaderGetter, order []string) string {
	for _, name := range order {
		raw := h.Get(name)
		if raw == "" {
			continue
		}
		first, _, _ := strings.Cut(raw, ",")
		if ip := strings.TrimSpace(first); usable(ip) {
			return ip
		}
	}
	return UnknownIP
}

// PeerIP returns the host part of a socket address, or UnknownIP.
func PeerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.TrimSpace(host)
	if !usable(host) {
		return UnknownIP
	}
	return host
}

func usable(ip string) bool {
	if ip == "" || strings.EqualFold(ip, UnknownIP) {
		return false
	}
	if addr, err := netip.ParseAddr(ip); err == nil && addr.Unmap().IsLoopback() {
		return false
	}
	return ip != "localhost"
}
