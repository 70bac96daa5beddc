package waf

import (
	"strings"
)

// TrustClass is the protection tier assigned to a request.
type TrustClass int

const (
	// TrustExternal gets the full protection chain.
	TrustExternal TrustClass = iota
	// TrustClient is a configured client frontend: rate limiting and
	// pattern checks still apply, only plain-IP blocklist semantics are
	// relaxed in favour of composite keys.
	TrustClient
	// TrustAdmin bypasses every check.
	TrustAdmin
)

func (t TrustClass) String() string {
	switch t {
	case TrustAdmin:
		return "admin-bypass"
	case TrustClient:
		return "trusted-client"
	default:
		return "external"
	}
}

// OriginSet holds the configured origin/host allow-lists for one tier.
type OriginSet struct {
	Origins []string
	Hosts   []string
}

// Matches checks origin exactly, referer by prefix and host exactly,
// mirroring how browsers populate the three headers.
func (s OriginSet) Matches(origin, referer, host string) bool {
	if origin != "" {
		for _, o := range s.Origins {
			if origin == o {
				return true
			}
		}
	}
	if referer != "" {
		for _, o := range s.Origins {
			if strings.HasPrefix(referer, o) {
				return true
			}
		}
	}
	if host != "" {
		for _, h := range s.Hosts {
			if host == h {
				return true
			}
		}
	}
	return false
}

// Classifier assigns a trust class from request headers. Classification is
// recomputed per request because origin headers vary per call.
type Classifier struct {
	Admin  OriginSet
	Client OriginSet
}

// Classify returns the trust class for a request. An admin match wins
// unconditionally over a client match.
func (c *Classifier) Classify(origin, referer, host string) TrustClass {
	if c.Admin.Matches(origin, referer, host) {
		return TrustAdmin
	}
	if c.Client.Matches(origin, referer, host) {
		return TrustClient
	}
	return TrustExternal
}
