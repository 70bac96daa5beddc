package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cybersentinel/sentinel/internal/waf"
)

// inspectBodyLimit bounds how much request body the firewall reads for
// signature matching. The body is restored for downstream handlers.
const inspectBodyLimit = 64 << 10

// RequestFromGin builds the framework-neutral request descriptor the
// engine consumes. Multipart bodies are not buffered here; the upload
// handler scans file content itself.
func RequestFromGin(c *gin.Context) *waf.RequestContext {
	req := &waf.RequestContext{
		Method:     c.Request.Method,
		URL:        c.Request.URL.RequestURI(),
		RemoteAddr: c.Request.RemoteAddr,
		Forwarded:  c.GetHeader("X-Forwarded-For"),
		Origin:     c.GetHeader("Origin"),
		Referer:    c.GetHeader("Referer"),
		Host:       c.Request.Host,
		UserAgent:  c.Request.UserAgent(),
	}

	ct := c.ContentType()
	if c.Request.Body != nil && !strings.HasPrefix(ct, "multipart/") {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, inspectBodyLimit))
		if err == nil {
			req.Body = body
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))
		}
	}
	return req
}

// Firewall inspects every request and translates the verdict into an
// HTTP response. Allowed requests continue with the trust class stored in
// the gin context.
func Firewall(engine *waf.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := RequestFromGin(c)
		verdict := engine.Inspect(req)

		c.Set("waf_request", req)
		c.Set("waf_class", engine.Classify(req))

		if verdict.Allow {
			c.Next()
			return
		}

		switch verdict.Code {
		case waf.CodeRateLimit:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
				"type":  verdict.Code,
			})
		case waf.CodePattern:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "Request blocked by security policy",
				"type":     verdict.Code,
				"category": verdict.Category,
			})
		case waf.CodeSuspiciousURL:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "Request blocked by security policy",
				"type":     verdict.Code,
				"severity": string(verdict.Severity),
			})
		case waf.CodeInternal:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Security inspection unavailable",
				"type":  verdict.Code,
			})
		default: // waf.CodeIPBlocked
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access denied",
				"type":  verdict.Code,
			})
		}
	}
}

// FirewallRequest retrieves the descriptor the firewall stored, building
// one on the fly for routes mounted outside the firewall chain.
func FirewallRequest(c *gin.Context) (*waf.RequestContext, waf.TrustClass) {
	var req *waf.RequestContext
	if v, ok := c.Get("waf_request"); ok {
		req, _ = v.(*waf.RequestContext)
	}
	if req == nil {
		req = RequestFromGin(c)
	}
	class := waf.TrustExternal
	if v, ok := c.Get("waf_class"); ok {
		if cl, ok := v.(waf.TrustClass); ok {
			class = cl
		}
	}
	return req, class
}
