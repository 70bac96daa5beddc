package waf

import (
	"fmt"
	"strings"
	"time"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/metrics"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/util"
)

// Verdict codes. The HTTP adapter maps these to status codes and response
// bodies.
const (
	CodeIPBlocked     = "ip_blocked"
	CodeRateLimit     = "rate_limit_exceeded"
	CodePattern       = "malicious_pattern"
	CodeSuspiciousURL = "suspicious_url"
	CodeInternal      = "internal_error"
)

// Verdict is the engine's decision for one request.
type Verdict struct {
	Allow    bool
	Code     string          // set when denied
	Category string          // pattern rule category, when Code is CodePattern
	Severity models.Severity // when denied
	Reason   string
}

func allowVerdict() Verdict { return Verdict{Allow: true} }

// Blocklist is the subset of the block store the engine needs.
type Blocklist interface {
	IsBlockedAny(keys ...string) (bool, error)
	BlockFor(key string, reason models.BlockReason, d time.Duration, userAgent string) error
}

// EventSink receives audit records. Implementations must not fail the
// request path.
type EventSink interface {
	Record(*models.SecurityEvent)
}

// AlertSink receives fire-and-forget notifications.
type AlertSink interface {
	Dispatch(alertType string, fields map[string]interface{})
}

// EngineConfig tunes the inspection pipeline.
type EngineConfig struct {
	// FailOpen allows requests through when an internal error prevents a
	// decision. When false the engine fails closed and denies instead.
	FailOpen bool
	// BypassBlocklist skips the blocklist stage entirely. Every inspection
	// logs the bypass so it cannot be left on silently.
	BypassBlocklist bool

	// ExemptURLPrefixes are the service's own route prefixes, excluded
	// from the suspicious-URL table. The probe rules flag paths like
	// "/admin", which would otherwise deny this API's admin surface.
	ExemptURLPrefixes []string

	RateBlockFor         time.Duration
	PatternBlockTrusted  time.Duration
	PatternBlockExternal time.Duration
}

// Engine runs each request through the tiered inspection pipeline. How
// much of the pipeline applies depends on the caller's trust class:
//
//	admin          everything skipped
//	trusted client blocklist, rate limit, payload, URL
//	trusted other  payload only
//	external       blocklist, rate limit, payload, URL
type Engine struct {
	cfg        EngineConfig
	classifier *Classifier
	limiter    *RateLimiter
	detector   *Detector

	blocklist Blocklist
	events    EventSink
	alerts    AlertSink
}

// NewEngine wires the pipeline.
func NewEngine(cfg EngineConfig, classifier *Classifier, limiter *RateLimiter, detector *Detector, blocklist Blocklist, events EventSink, alerts AlertSink) *Engine {
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		limiter:    limiter,
		detector:   detector,
		blocklist:  blocklist,
		events:     events,
		alerts:     alerts,
	}
}

// Classify exposes the engine's trust classification for collaborators
// (login tracking, upload handling) that need the same view of a request.
func (e *Engine) Classify(req *RequestContext) TrustClass {
	return e.classifier.Classify(req.Origin, req.Referer, req.Host)
}

// Detector returns the engine's signature detector, for rule reloads.
func (e *Engine) Detector() *Detector { return e.detector }

// ResetRate clears the rate-limit window for a key. Unblocking an
// identity without this would re-block it on its next request.
func (e *Engine) ResetRate(key string) { e.limiter.Reset(key) }

// Inspect runs the pipeline and returns the verdict. It never panics and
// never returns an error: internal failures resolve through the fail-open
// policy.
func (e *Engine) Inspect(req *RequestContext) Verdict {
	metrics.RequestsInspected.Inc()

	addr := req.Addr()
	class := e.Classify(req)

	if class == TrustAdmin {
		return allowVerdict()
	}

	trusted := IsTrustedAddr(addr)

	// Trusted localhost traffic that is neither a client frontend nor the
	// admin surface still gets payload inspection, nothing else.
	if trusted && class != TrustClient {
		return e.checkPayload(req, addr, class, trusted)
	}

	if v := e.checkBlocklist(req, addr, class); !v.Allow {
		return v
	}
	if v := e.checkRateLimit(req, addr, class); !v.Allow {
		return v
	}
	if v := e.checkPayload(req, addr, class, trusted); !v.Allow {
		return v
	}
	return e.checkURL(req, addr, class)
}

func (e *Engine) checkBlocklist(req *RequestContext, addr string, class TrustClass) Verdict {
	if e.cfg.BypassBlocklist {
		logger.WithFields(map[string]interface{}{
			"ip": addr,
		}).Warn("blocklist check bypassed by configuration")
		return allowVerdict()
	}

	keys := LookupKeys(addr, req.Origin, class)
	blocked, err := e.blocklist.IsBlockedAny(keys...)
	if err != nil {
		return e.fail("blocklist", err)
	}
	if !blocked {
		return allowVerdict()
	}

	e.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventBlockedRequest,
		Severity:      models.SeverityHigh,
		Description:   "Request from blocked key rejected",
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   keys[0],
	})

	metrics.RequestsBlocked.WithLabelValues(CodeIPBlocked).Inc()
	return Verdict{
		Code:     CodeIPBlocked,
		Severity: models.SeverityHigh,
		Reason:   "address is blocked",
	}
}

func (e *Engine) checkRateLimit(req *RequestContext, addr string, class TrustClass) Verdict {
	key := RateLimitKey(addr, req.Origin, class)
	if e.limiter.Allow(key, time.Now()) {
		return allowVerdict()
	}

	metrics.RateLimitHits.Inc()

	if err := e.blocklist.BlockFor(key, models.ReasonRateLimit, e.cfg.RateBlockFor, req.UserAgent); err != nil {
		logger.WithFields(map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		}).Error("failed to block rate limit offender")
	}

	e.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventRateLimitExceeded,
		Severity:      models.SeverityMedium,
		Description:   fmt.Sprintf("Rate limit exceeded, blocked for %s", e.cfg.RateBlockFor),
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   key,
	})

	e.alerts.Dispatch("rate_limit_exceeded", map[string]interface{}{
		"ip":          addr,
		"origin":      req.Origin,
		"blocked_for": e.cfg.RateBlockFor.String(),
		"user_agent":  req.UserAgent,
	})

	metrics.RequestsBlocked.WithLabelValues(CodeRateLimit).Inc()
	return Verdict{
		Code:     CodeRateLimit,
		Severity: models.SeverityMedium,
		Reason:   "too many requests",
	}
}

// checkPayload matches the signature rules against the request body
// only. URLs are covered by the separate literal table in checkURL; an
// SQL keyword in a query string is not a payload hit.
func (e *Engine) checkPayload(req *RequestContext, addr string, class TrustClass, trusted bool) Verdict {
	rule, hit := e.detector.Rules().MatchPayload(req.Body)
	if !hit {
		return allowVerdict()
	}

	metrics.PatternMatches.WithLabelValues(rule.Category).Inc()

	blockFor := e.cfg.PatternBlockExternal
	if trusted {
		blockFor = e.cfg.PatternBlockTrusted
	}
	key := BlockingKey(addr, req.Origin, class)
	if err := e.blocklist.BlockFor(key, models.ReasonMaliciousPattern, blockFor, req.UserAgent); err != nil {
		logger.WithFields(map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		}).Error("failed to block pattern offender")
	}

	e.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventMaliciousPattern,
		Severity:      rule.Severity,
		Description:   rule.Description,
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Payload:       util.SanitizeForLog(string(req.Body)),
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   key,
	})

	e.alerts.Dispatch("malicious_pattern", map[string]interface{}{
		"ip":          addr,
		"category":    rule.Category,
		"description": rule.Description,
		"severity":    string(rule.Severity),
		"url":         util.SanitizeForLog(req.URL),
		"blocked_for": blockFor.String(),
	})

	metrics.RequestsBlocked.WithLabelValues(CodePattern).Inc()
	return Verdict{
		Code:     CodePattern,
		Category: rule.Category,
		Severity: rule.Severity,
		Reason:   rule.Description,
	}
}

func (e *Engine) checkURL(req *RequestContext, addr string, class TrustClass) Verdict {
	for _, prefix := range e.cfg.ExemptURLPrefixes {
		if strings.HasPrefix(req.URL, prefix) {
			return allowVerdict()
		}
	}

	rule, hit := e.detector.Rules().MatchURL(req.URL)
	if !hit {
		return allowVerdict()
	}

	key := BlockingKey(addr, req.Origin, class)
	if err := e.blocklist.BlockFor(key, models.ReasonSuspiciousURL, rule.BlockFor, req.UserAgent); err != nil {
		logger.WithFields(map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		}).Error("failed to block URL prober")
	}

	e.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventSuspiciousURL,
		Severity:      rule.Severity,
		Description:   rule.Description,
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   key,
	})

	e.alerts.Dispatch("suspicious_url", map[string]interface{}{
		"ip":          addr,
		"url":         util.SanitizeForLog(req.URL),
		"description": rule.Description,
		"severity":    string(rule.Severity),
		"blocked_for": rule.BlockFor.String(),
	})

	metrics.RequestsBlocked.WithLabelValues(CodeSuspiciousURL).Inc()
	return Verdict{
		Code:     CodeSuspiciousURL,
		Severity: rule.Severity,
		Reason:   rule.Description,
	}
}

// fail resolves an internal error through the fail-open policy.
func (e *Engine) fail(stage string, err error) Verdict {
	metrics.InspectionErrors.Inc()
	logger.WithFields(map[string]interface{}{
		"stage":     stage,
		"error":     err.Error(),
		"fail_open": e.cfg.FailOpen,
	}).Error("inspection error")

	if e.cfg.FailOpen {
		return allowVerdict()
	}
	metrics.RequestsBlocked.WithLabelValues(CodeInternal).Inc()
	return Verdict{
		Code:     CodeInternal,
		Severity: models.SeverityInfo,
		Reason:   "inspection unavailable",
	}
}
