package waf

// Two key formats coexist historically: plain "ip" and the composite
// "CLIENT:ip:origin" used for trusted-IP client frontends. Older databases
// may also hold the legacy "ip:origin" spelling. New blocks always use the
// canonical forms produced by BlockingKey; the legacy spelling survives
// only in the lookup/unblock sweep below so old blocks stay discoverable
// and revocable.

const clientKeyPrefix = "CLIENT:"

// BlockingKey resolves the identity key a block is recorded under.
func BlockingKey(addr, origin string, class TrustClass) string {
	if IsTrustedAddr(addr) && class == TrustClient {
		return clientKeyPrefix + addr + ":" + origin
	}
	return addr
}

// TrackingKey resolves the key failed-login windows are counted under.
// Tracking historically used the unprefixed composite spelling.
func TrackingKey(addr, origin string, class TrustClass) string {
	if IsTrustedAddr(addr) && class == TrustClient {
		return addr + ":" + origin
	}
	return addr
}

// RateLimitKey resolves the key request windows are counted under. It is
// identical to the blocking key so a limit breach blocks the same identity
// it counted.
func RateLimitKey(addr, origin string, class TrustClass) string {
	return BlockingKey(addr, origin, class)
}

// LookupKeys returns the key spellings that could hold an active block for
// one request: the canonical blocking key plus, for client frontends, the
// plain IP and the legacy composite spelling.
func LookupKeys(addr, origin string, class TrustClass) []string {
	key := BlockingKey(addr, origin, class)
	if key == addr {
		return []string{addr}
	}
	return []string{addr, key, addr + ":" + origin}
}

// KeyVariants enumerates the closure of key spellings that could represent
// the logical entity behind ip: every loopback alias when ip is trusted,
// and every configured client origin in both composite formats. Unblock
// must probe the whole closure, otherwise a block created under one
// spelling silently survives.
func KeyVariants(ip string, clientOrigins []string) []string {
	addrs := []string{ip}
	if IsTrustedAddr(ip) {
		addrs = []string{"127.0.0.1", "::1", "::ffff:127.0.0.1", "localhost"}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(k string) {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}

	for _, a := range addrs {
		add(a)
		for _, origin := range clientOrigins {
			add(a + ":" + origin)
			add(clientKeyPrefix + a + ":" + origin)
		}
	}
	return out
}
