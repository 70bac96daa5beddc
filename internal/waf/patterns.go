package waf

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cybersentinel/sentinel/internal/models"
)

// PayloadRule is a regular-expression signature evaluated against the
// serialized request body.
type PayloadRule struct {
	Pattern     string          `json:"pattern"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
	Category    string          `json:"category"`

	re *regexp.Regexp
}

// URLRule is a literal path-substring signature. Block duration is a
// property of the rule, not a shared constant.
type URLRule struct {
	Path        string          `json:"path"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
	BlockFor    time.Duration   `json:"block_for"`
}

// RuleSet is an immutable, versioned pair of rule tables. Build a new one
// and swap it in via Detector.Replace instead of mutating at runtime.
type RuleSet struct {
	Version int
	Payload []PayloadRule
	URL     []URLRule
}

// CompileRules validates and compiles payload rules into a RuleSet.
func CompileRules(version int, payload []PayloadRule, url []URLRule) (*RuleSet, error) {
	compiled := make([]PayloadRule, len(payload))
	for i, r := range payload {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile payload rule %q: %w", r.Pattern, err)
		}
		r.re = re
		compiled[i] = r
	}
	return &RuleSet{Version: version, Payload: compiled, URL: url}, nil
}

// MatchPayload returns the first payload rule matching data, in table
// order. It has no side effects; blocking and logging are the caller's
// concern.
func (rs *RuleSet) MatchPayload(data []byte) (PayloadRule, bool) {
	for _, r := range rs.Payload {
		if r.re.Match(data) {
			return r, true
		}
	}
	return PayloadRule{}, false
}

// MatchURL returns the first URL rule whose path is a substring of url.
func (rs *RuleSet) MatchURL(url string) (URLRule, bool) {
	for _, r := range rs.URL {
		if strings.Contains(url, r.Path) {
			return r, true
		}
	}
	return URLRule{}, false
}

// Detector holds the active RuleSet and allows atomic replacement.
type Detector struct {
	active atomic.Pointer[RuleSet]
}

// NewDetector starts with the given rule set.
func NewDetector(rs *RuleSet) *Detector {
	d := &Detector{}
	d.active.Store(rs)
	return d
}

// Rules returns the active rule set.
func (d *Detector) Rules() *RuleSet { return d.active.Load() }

// Replace atomically installs a new rule set and returns its version.
func (d *Detector) Replace(rs *RuleSet) int {
	d.active.Store(rs)
	return rs.Version
}

// DefaultRuleSet compiles the built-in signature tables.
func DefaultRuleSet() *RuleSet {
	rs, err := CompileRules(1, defaultPayloadRules(), defaultURLRules())
	if err != nil {
		// Built-in patterns are tested; a compile failure is a programming error.
		panic(err)
	}
	return rs
}

func defaultPayloadRules() []PayloadRule {
	return []PayloadRule{
		{Pattern: `(?i)(\.\./){3,}`, Description: "Directory traversal attempts", Severity: models.SeverityHigh, Category: "path_traversal"},
		{Pattern: `(?i)<script[^>]*>.*?</script>`, Description: "XSS script injection attempts", Severity: models.SeverityCritical, Category: "xss"},
		{Pattern: `(?i)union.*select`, Description: "SQL injection attempts", Severity: models.SeverityCritical, Category: "sql_injection"},
		{Pattern: `(?i)exec\s*\(`, Description: "Code execution attempts", Severity: models.SeverityCritical, Category: "code_execution"},
		{Pattern: `(?i)eval\s*\(`, Description: "JavaScript eval attempts", Severity: models.SeverityCritical, Category: "code_execution"},
		{Pattern: `(?i)base64_decode`, Description: "Base64 decode attempts", Severity: models.SeverityMedium, Category: "encoding_attack"},
		{Pattern: `(?i)system\s*\(`, Description: "System command execution attempts", Severity: models.SeverityCritical, Category: "system_command"},
		{Pattern: `(?i)\$_(GET|POST|REQUEST|SERVER)\[`, Description: "PHP global variable access attempts", Severity: models.SeverityHigh, Category: "php_injection"},
		{Pattern: `(?i)(?:insert|update|delete|drop|create|alter|truncate)\s+(?:into|table|database)`, Description: "SQL DDL/DML injection attempts", Severity: models.SeverityCritical, Category: "sql_injection"},
		{Pattern: `(?i)(?:and|or)\s+\d+\s*=\s*\d+`, Description: "SQL boolean-based injection", Severity: models.SeverityHigh, Category: "sql_injection"},
		{Pattern: `(?i)<iframe[^>]*>.*?</iframe>`, Description: "HTML iframe injection attempts", Severity: models.SeverityHigh, Category: "xss"},
		{Pattern: `(?i)javascript\s*:`, Description: "JavaScript protocol injection", Severity: models.SeverityHigh, Category: "xss"},
		{Pattern: `(?i)(?:cmd|command)\s*=`, Description: "Command injection attempts", Severity: models.SeverityCritical, Category: "command_injection"},
		{Pattern: `(?i)(?:wget|curl|nc|netcat)\s+`, Description: "Network tool usage attempts", Severity: models.SeverityHigh, Category: "network_attack"},
	}
}

func defaultURLRules() []URLRule {
	return []URLRule{
		{Path: "/admin", Description: "Generic admin panel access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/wp-admin", Description: "WordPress admin panel access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/.env", Description: "Environment file access attempt", Severity: models.SeverityHigh, BlockFor: 2 * time.Hour},
		{Path: "/config", Description: "Configuration file access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/phpMyAdmin", Description: "phpMyAdmin access attempt", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/phpmyadmin", Description: "phpMyAdmin access attempt (lowercase)", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/pma", Description: "phpMyAdmin shorthand access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/mysql", Description: "MySQL admin interface access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/wp-login.php", Description: "WordPress login page access", Severity: models.SeverityLow, BlockFor: 15 * time.Minute},
		{Path: "/administrator", Description: "Joomla administrator access", Severity: models.SeverityMedium, BlockFor: 30 * time.Minute},
		{Path: "/wp-content", Description: "WordPress content directory access", Severity: models.SeverityLow, BlockFor: 15 * time.Minute},
		{Path: "/backup", Description: "Backup directory access", Severity: models.SeverityHigh, BlockFor: time.Hour},
		{Path: "/test", Description: "Test directory access", Severity: models.SeverityLow, BlockFor: 15 * time.Minute},
		{Path: "/shell", Description: "Web shell access attempt", Severity: models.SeverityCritical, BlockFor: 12 * time.Hour},
		{Path: "/webshell", Description: "Web shell access attempt", Severity: models.SeverityCritical, BlockFor: 12 * time.Hour},
	}
}
