package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/logger"
)

func compliantConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.EnforceHSTS = true
	cfg.Password.MinLength = 12
	cfg.Password.RequireUpper = true
	cfg.Password.RequireDigit = true
	cfg.Session.IdleTimeout = 30 * time.Minute
	cfg.Audit.Enabled = true
	cfg.Audit.Retention = 365 * 24 * time.Hour
	cfg.Auth.Require2FA = true
	return cfg
}

func ruleIDs(violations []Violation) []string {
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.RuleID)
	}
	return ids
}

func TestEvaluateCleanConfig(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), logger.Nop())
	violations := m.Evaluate(compliantConfig(), nil)
	assert.Empty(t, violations)
}

func TestEvaluateConfigRules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantRule string
		wantSev  Severity
	}{
		{
			name:     "short password minimum",
			mutate:   func(c *config.Config) { c.Password.MinLength = 8 },
			wantRule: RulePasswordMinLength,
			wantSev:  SeverityHigh,
		},
		{
			name:     "weak complexity",
			mutate:   func(c *config.Config) { c.Password.RequireDigit = false },
			wantRule: RulePasswordComplexity,
			wantSev:  SeverityMedium,
		},
		{
			name:     "idle timeout over ceiling",
			mutate:   func(c *config.Config) { c.Session.IdleTimeout = 2 * time.Hour },
			wantRule: RuleSessionIdleTimeout,
			wantSev:  SeverityMedium,
		},
		{
			name:     "TLS disabled",
			mutate:   func(c *config.Config) { c.Server.TLS.Enabled = false },
			wantRule: RuleTLSRequired,
			wantSev:  SeverityCritical,
		},
		{
			name:     "HSTS disabled on TLS listener",
			mutate:   func(c *config.Config) { c.Server.TLS.EnforceHSTS = false },
			wantRule: RuleHSTSRequired,
			wantSev:  SeverityMedium,
		},
		{
			name:     "audit disabled",
			mutate:   func(c *config.Config) { c.Audit.Enabled = false },
			wantRule: RuleAuditEnabled,
			wantSev:  SeverityCritical,
		},
		{
			name:     "retention below floor",
			mutate:   func(c *config.Config) { c.Audit.Retention = 30 * 24 * time.Hour },
			wantRule: RuleAuditRetention,
			wantSev:  SeverityHigh,
		},
		{
			name:     "2FA not enforced",
			mutate:   func(c *config.Config) { c.Auth.Require2FA = false },
			wantRule: RuleTwoFactorRequired,
			wantSev:  SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := compliantConfig()
			tt.mutate(cfg)

			m := NewMonitor(DefaultPolicy(), logger.Nop())
			violations := m.Evaluate(cfg, nil)

			require.Len(t, violations, 1)
			assert.Equal(t, tt.wantRule, violations[0].RuleID)
			assert.Equal(t, tt.wantSev, violations[0].Severity)
			assert.NotEmpty(t, violations[0].Description)
			assert.False(t, violations[0].DetectedAt.IsZero())
		})
	}
}

func TestEvaluateBehaviorSample(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), logger.Nop())

	sample := &BehaviorSample{
		AvgSessionIdle:  45 * time.Minute,
		SampledSessions: 12,
		PlaintextLogins: 3,
	}
	violations := m.Evaluate(compliantConfig(), sample)

	assert.ElementsMatch(t,
		[]string{RuleObservedIdleTime, RulePlaintextLogins},
		ruleIDs(violations))
}

func TestEvaluateBehaviorSampleSkipsUnsampled(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), logger.Nop())

	// An idle average with zero contributing sessions carries no signal.
	sample := &BehaviorSample{AvgSessionIdle: 2 * time.Hour, SampledSessions: 0}
	violations := m.Evaluate(compliantConfig(), sample)
	assert.Empty(t, violations)
}

func TestEvaluateReportsAllViolationsInOnePass(t *testing.T) {
	cfg := compliantConfig()
	cfg.Server.TLS.Enabled = false
	cfg.Password.MinLength = 6
	cfg.Auth.Require2FA = false

	m := NewMonitor(DefaultPolicy(), logger.Nop())
	violations := m.Evaluate(cfg, nil)

	assert.ElementsMatch(t,
		[]string{RuleTLSRequired, RulePasswordMinLength, RuleTwoFactorRequired},
		ruleIDs(violations))
}

func TestEvaluateIsStateless(t *testing.T) {
	cfg := compliantConfig()
	cfg.Audit.Enabled = false

	m := NewMonitor(DefaultPolicy(), logger.Nop())
	first := m.Evaluate(cfg, nil)
	second := m.Evaluate(cfg, nil)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].RuleID, second[0].RuleID)
}

func TestEvaluateUsesInjectedClock(t *testing.T) {
	cfg := compliantConfig()
	cfg.Audit.Enabled = false

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(DefaultPolicy(), logger.Nop())
	m.SetClock(func() time.Time { return fixed })

	violations := m.Evaluate(cfg, nil)
	require.Len(t, violations, 1)
	assert.Equal(t, fixed, violations[0].DetectedAt)
}
