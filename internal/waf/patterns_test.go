package waf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/sentinel/internal/models"
)

func TestDefaultRuleSet_PayloadMatches(t *testing.T) {
	rs := DefaultRuleSet()

	cases := []struct {
		payload  string
		category string
	}{
		{"id=1 UNION SELECT password FROM users", "sql_injection"},
		{"<script>alert(1)</script>", "xss"},
		{"../../../../../../etc/passwd", "path_traversal"},
		{"x=eval(atob('...'))", "code_execution"},
		{"javascript:void(0)", "xss"},
		{"cmd=whoami", "command_injection"},
	}
	for _, tc := range cases {
		rule, hit := rs.MatchPayload([]byte(tc.payload))
		assert.True(t, hit, "expected match for %q", tc.payload)
		assert.Equal(t, tc.category, rule.Category, "payload %q", tc.payload)
	}

	_, hit := rs.MatchPayload([]byte(`{"name":"alice","note":"ordinary request body"}`))
	assert.False(t, hit)
}

func TestDefaultRuleSet_URLMatches(t *testing.T) {
	rs := DefaultRuleSet()

	rule, hit := rs.MatchURL("/site/.env")
	assert.True(t, hit)
	assert.Equal(t, 2*time.Hour, rule.BlockFor)
	assert.Equal(t, models.SeverityHigh, rule.Severity)

	rule, hit = rs.MatchURL("/shell.php")
	assert.True(t, hit)
	assert.Equal(t, 12*time.Hour, rule.BlockFor)

	_, hit = rs.MatchURL("/api/v1/health")
	assert.False(t, hit)
}

func TestCompileRules_RejectsBadPattern(t *testing.T) {
	_, err := CompileRules(2, []PayloadRule{{Pattern: "("}}, nil)
	assert.Error(t, err)
}

func TestDetector_Replace(t *testing.T) {
	d := NewDetector(DefaultRuleSet())
	assert.Equal(t, 1, d.Rules().Version)

	rs, err := CompileRules(7, []PayloadRule{
		{Pattern: `(?i)drop\s+table`, Description: "SQL drop", Severity: models.SeverityCritical, Category: "sql_injection"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 7, d.Replace(rs))
	assert.Equal(t, 7, d.Rules().Version)

	// Old rules are gone, new ones active.
	_, hit := d.Rules().MatchPayload([]byte("<script>x</script>"))
	assert.False(t, hit)
	_, hit = d.Rules().MatchPayload([]byte("DROP TABLE users"))
	assert.True(t, hit)
}
