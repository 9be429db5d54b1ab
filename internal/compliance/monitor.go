package compliance

import (
	"fmt"
	"time"

	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
	"github.com/strukta/bastion/internal/rbac"
)

// Severity grades how urgently a violation needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rule identifiers. Stable across releases so downstream reports can key
// on them.
const (
	RulePasswordMinLength  = "password.min_length"
	RulePasswordComplexity = "password.complexity"
	RuleSessionIdleTimeout = "session.idle_timeout"
	RuleTLSRequired        = "transport.tls_required"
	RuleHSTSRequired       = "transport.hsts_required"
	RuleAuditRetention     = "audit.retention_floor"
	RuleAuditEnabled       = "audit.enabled"
	RuleTwoFactorRequired  = "auth.two_factor_required"
	RuleObservedIdleTime   = "behavior.session_idle_observed"
	RulePlaintextLogins    = "behavior.plaintext_logins"
)

// Violation is a point-in-time finding. Violations are regenerated on
// every evaluation pass and never persisted as authoritative state.
type Violation struct {
	RuleID      string    `json:"rule_id"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// BehaviorSample carries recently observed runtime behavior. Zero values
// mean "not sampled" and skip the corresponding checks.
type BehaviorSample struct {
	// AvgSessionIdle is the mean idle time across sessions active during
	// the sampling window.
	AvgSessionIdle time.Duration
	// PlaintextLogins counts logins that arrived over a non-TLS
	// connection during the sampling window.
	PlaintextLogins int
	// SampledSessions is how many sessions contributed to AvgSessionIdle.
	SampledSessions int
}

// Policy holds the thresholds the monitor enforces. Defaults follow
// DefaultPolicy; construct with that and override as needed.
type Policy struct {
	PasswordMinLength int
	// MaxSessionIdle is the ceiling a configured idle timeout may not
	// exceed.
	MaxSessionIdle time.Duration
	// MinAuditRetention is the floor a configured retention may not go
	// under.
	MinAuditRetention time.Duration
	RequireTLS        bool
	RequireHSTS       bool
	// TwoFactorRoles lists the roles for which 2FA is mandatory. The
	// check fires when any of these roles exist and 2FA is disabled.
	TwoFactorRoles []rbac.Role
}

// DefaultPolicy returns the baseline policy.
func DefaultPolicy() Policy {
	return Policy{
		PasswordMinLength: 12,
		MaxSessionIdle:    30 * time.Minute,
		MinAuditRetention: 365 * 24 * time.Hour,
		RequireTLS:        true,
		RequireHSTS:       true,
		TwoFactorRoles: []rbac.Role{
			rbac.RoleCommander,
			rbac.RoleDirector,
			rbac.RoleSysadmin,
		},
	}
}

// Monitor evaluates configuration and behavior against a policy. It is
// stateless; every call to Evaluate produces a fresh, complete list of
// findings and mutates nothing.
type Monitor struct {
	policy Policy
	log    logger.Logger
	clock  func() time.Time
}

// NewMonitor creates a monitor with the given policy.
func NewMonitor(policy Policy, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		policy: policy,
		log:    log.Named("compliance"),
		clock:  time.Now,
	}
}

// SetClock overrides the monitor's time source for tests.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Evaluate runs every rule against cfg and, when sample is non-nil, the
// behavioral checks. It returns all violations found in this pass; it
// never raises for individual findings, the caller decides how to act.
func (m *Monitor) Evaluate(cfg *config.Config, sample *BehaviorSample) []Violation {
	now := m.clock()
	var out []Violation

	add := func(rule string, sev Severity, format string, args ...any) {
		out = append(out, Violation{
			RuleID:      rule,
			Severity:    sev,
			Description: fmt.Sprintf(format, args...),
			DetectedAt:  now,
		})
	}

	if cfg.Password.MinLength < m.policy.PasswordMinLength {
		add(RulePasswordMinLength, SeverityHigh,
			"password minimum length %d is below the required %d",
			cfg.Password.MinLength, m.policy.PasswordMinLength)
	}
	if !cfg.Password.RequireUpper || !cfg.Password.RequireDigit {
		add(RulePasswordComplexity, SeverityMedium,
			"password policy must require at least uppercase letters and digits")
	}

	if cfg.Session.IdleTimeout > m.policy.MaxSessionIdle {
		add(RuleSessionIdleTimeout, SeverityMedium,
			"session idle timeout %s exceeds the %s ceiling",
			cfg.Session.IdleTimeout, m.policy.MaxSessionIdle)
	}

	if m.policy.RequireTLS && !cfg.Server.TLS.Enabled {
		add(RuleTLSRequired, SeverityCritical,
			"TLS is disabled; all transport must be encrypted")
	}
	if m.policy.RequireHSTS && cfg.Server.TLS.Enabled && !cfg.Server.TLS.EnforceHSTS {
		add(RuleHSTSRequired, SeverityMedium,
			"HSTS enforcement is disabled on a TLS listener")
	}

	if !cfg.Audit.Enabled {
		add(RuleAuditEnabled, SeverityCritical,
			"audit trail is disabled")
	} else if cfg.Audit.Retention < m.policy.MinAuditRetention {
		add(RuleAuditRetention, SeverityHigh,
			"audit retention %s is below the %s floor",
			cfg.Audit.Retention, m.policy.MinAuditRetention)
	}

	if len(m.policy.TwoFactorRoles) > 0 && !cfg.Auth.Require2FA {
		add(RuleTwoFactorRequired, SeverityHigh,
			"two-factor authentication is not enforced for privileged roles (%s and above)",
			m.policy.TwoFactorRoles[0])
	}

	if sample != nil {
		if sample.SampledSessions > 0 && sample.AvgSessionIdle > m.policy.MaxSessionIdle {
			add(RuleObservedIdleTime, SeverityMedium,
				"observed mean session idle time %s exceeds the %s ceiling across %d sessions",
				sample.AvgSessionIdle, m.policy.MaxSessionIdle, sample.SampledSessions)
		}
		if sample.PlaintextLogins > 0 {
			add(RulePlaintextLogins, SeverityCritical,
				"%d logins observed over unencrypted transport", sample.PlaintextLogins)
		}
	}

	for _, v := range out {
		metrics.ComplianceViolationsTotal.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
	}
	if len(out) > 0 {
		m.log.Warn("compliance violations found", logger.Int("count", len(out)))
	}

	return out
}
