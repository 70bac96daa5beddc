package waf

// RequestContext is the framework-neutral request descriptor every
// detector consumes. The HTTP adapter builds one per request; nothing in
// this package touches gin types.
type RequestContext struct {
	Method     string
	URL        string
	RemoteAddr string
	Forwarded  string // X-Forwarded-For header value, may be empty
	Origin     string
	Referer    string
	Host       string
	UserAgent  string
	Body       []byte
}

// Addr returns the normalized client address.
func (r *RequestContext) Addr() string {
	return ClientAddr(r.RemoteAddr, r.Forwarded)
}
