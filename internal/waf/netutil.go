package waf

import (
	"net"
	"strings"
)

// loopback spellings that must all resolve to the same logical host.
var trustedAddrs = map[string]struct{}{
	"127.0.0.1":        {},
	"::1":              {},
	"::ffff:127.0.0.1": {},
	"localhost":        {},
}

// NormalizeAddr canonicalizes a client address string. IPv6 loopback
// aliases collapse to 127.0.0.1, IPv4-mapped IPv6 addresses lose their
// ::ffff: prefix, and empty input becomes the literal "unknown".
// Normalizing an already-normalized value is a no-op.
func NormalizeAddr(raw string) string {
	if raw == "" {
		return "unknown"
	}
	if raw == "::1" || raw == "::ffff:127.0.0.1" {
		return "127.0.0.1"
	}
	if strings.HasPrefix(raw, "::ffff:") {
		return raw[len("::ffff:"):]
	}
	return raw
}

// ClientAddr resolves the client address from a remote address and an
// optional X-Forwarded-For header value, taking the first forwarded entry
// when present, then normalizes the result.
func ClientAddr(remoteAddr, forwardedFor string) string {
	addr := remoteAddr
	if forwardedFor != "" {
		if i := strings.Index(forwardedFor, ","); i >= 0 {
			forwardedFor = forwardedFor[:i]
		}
		if forwardedFor = strings.TrimSpace(forwardedFor); forwardedFor != "" {
			addr = forwardedFor
		}
	}
	// http.Request.RemoteAddr carries a port; forwarded values usually
	// do not. SplitHostPort fails on bare addresses, which is fine.
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return NormalizeAddr(addr)
}

// IsTrustedAddr reports whether the address is a loopback alias. Trusted
// addresses share one host across multiple client frontends, which is why
// blocking them requires composite keys.
func IsTrustedAddr(addr string) bool {
	if _, ok := trustedAddrs[addr]; ok {
		return true
	}
	_, ok := trustedAddrs[NormalizeAddr(addr)]
	return ok
}
