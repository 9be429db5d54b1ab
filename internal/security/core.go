// Package security composes the token service, permission engine,
// audit trail, threat detector, compliance monitor, and classification
// enforcer behind one contract for the surrounding application.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strukta/bastion/internal/audit"
	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/compliance"
	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/threat"
)

// TokenPair carries a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Core is the security orchestrator. All methods are safe for
// concurrent use.
type Core struct {
	cfg      *config.Config
	log      logger.Logger
	tokens   *auth.TokenService
	users    *auth.UserStore
	perms    *rbac.Engine
	trail    *audit.Manager
	detector *threat.Detector
	monitor  *compliance.Monitor
	enforcer *classify.Enforcer
}

// Deps lists the collaborators Core composes. Trail and Detector may be
// nil; the corresponding side channels become no-ops.
type Deps struct {
	Config   *config.Config
	Logger   logger.Logger
	Tokens   *auth.TokenService
	Users    *auth.UserStore
	Perms    *rbac.Engine
	Trail    *audit.Manager
	Detector *threat.Detector
	Monitor  *compliance.Monitor
	Enforcer *classify.Enforcer
}

// New assembles the orchestrator.
func New(d Deps) *Core {
	log := d.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &Core{
		cfg:      d.Config,
		log:      log.Named("security"),
		tokens:   d.Tokens,
		users:    d.Users,
		perms:    d.Perms,
		trail:    d.Trail,
		detector: d.Detector,
		monitor:  d.Monitor,
		enforcer: d.Enforcer,
	}
}

// Login verifies credentials and issues an access/refresh pair. A failed
// attempt feeds the brute-force detector and is audited; the caller
// always receives the same generic reason code regardless of cause.
func (c *Core) Login(ctx context.Context, name, password, totpCode, sourceIP, userAgent string) (*TokenPair, error) {
	user, err := c.users.Authenticate(name, password, totpCode)
	if err != nil {
		c.feedThreat(threat.Signal{
			SourceIP:    sourceIP,
			ActorID:     name,
			UserAgent:   userAgent,
			LoginFailed: true,
		})
		c.RecordEvent(ctx, &audit.Event{
			Type:     audit.EventLoginFailure,
			ActorID:  name,
			SourceIP: sourceIP,
			Result:   audit.ResultFailure,
			Severity: audit.SeverityWarning,
			Context:  map[string]string{audit.CtxKeyUserAgent: userAgent},
		})
		// Disabled accounts, unknown users, and wrong passwords all fail
		// with the same reason code.
		return nil, &CredentialError{Reason: ReasonBadLogin, err: err}
	}

	principal := auth.Principal{
		ID:        user.ID,
		Name:      user.Name,
		Role:      user.Role,
		Clearance: user.Clearance,
	}
	pair, err := c.issuePair(principal)
	if err != nil {
		return nil, err
	}

	c.feedThreat(threat.Signal{SourceIP: sourceIP, ActorID: user.ID, UserAgent: userAgent})
	c.RecordEvent(ctx, &audit.Event{
		Type:     audit.EventLoginSuccess,
		ActorID:  user.ID,
		SourceIP: sourceIP,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityInfo,
		Context:  map[string]string{audit.CtxKeyUserAgent: userAgent},
	})
	return pair, nil
}

func (c *Core) issuePair(p auth.Principal) (*TokenPair, error) {
	access, claims, err := c.tokens.Issue(p, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := c.tokens.Issue(p, auth.KindRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(claims.ExpiresAt.Time).Seconds()),
	}, nil
}

// Authenticate verifies a raw access token and returns the principal.
// Failures come back as *CredentialError except for system errors,
// which pass through untyped.
func (c *Core) Authenticate(ctx context.Context, rawToken string) (*auth.Principal, error) {
	principal, claims, err := c.tokens.Verify(rawToken)
	if err != nil {
		return nil, credentialError(err)
	}
	if claims.Kind != auth.KindAccess {
		return nil, credentialError(auth.ErrWrongTokenKind)
	}
	return principal, nil
}

// Refresh rotates a refresh token. The old token is revoked before the
// new pair is issued; a replayed token fails as revoked.
func (c *Core) Refresh(ctx context.Context, rawRefresh, sourceIP string) (*TokenPair, error) {
	access, refresh, err := c.tokens.RotateRefresh(rawRefresh)
	if err != nil {
		return nil, credentialError(err)
	}

	c.RecordEvent(ctx, &audit.Event{
		Type:     audit.EventTokenRefreshed,
		SourceIP: sourceIP,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityInfo,
	})
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(c.cfg.Auth.AccessTTL.Seconds()),
	}, nil
}

// Logout revokes the presented token for the remainder of its life.
// Revoking an already-revoked or expired token is not an error.
func (c *Core) Logout(ctx context.Context, rawToken, sourceIP string) error {
	principal, claims, err := c.tokens.Verify(rawToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenRevoked) || errors.Is(err, auth.ErrTokenExpired) {
			return nil
		}
		return credentialError(err)
	}

	c.tokens.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
	c.RecordEvent(ctx, &audit.Event{
		Type:     audit.EventLogout,
		ActorID:  principal.ID,
		SourceIP: sourceIP,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityInfo,
		Context:  map[string]string{audit.CtxKeyTokenID: claims.ID},
	})
	return nil
}

// Authorize checks that the principal's role carries every listed
// permission. Denials are audited and returned as *AuthzError so
// callers can distinguish 403 from 401.
func (c *Core) Authorize(ctx context.Context, p *auth.Principal, perms ...rbac.Permission) error {
	for _, perm := range perms {
		if c.perms.HasPermission(p.Role, perm) {
			continue
		}
		c.RecordEvent(ctx, &audit.Event{
			Type:     audit.EventAccessDenied,
			ActorID:  p.ID,
			Result:   audit.ResultFailure,
			Severity: audit.SeverityWarning,
			Context:  map[string]string{audit.CtxKeyPermission: string(perm)},
		})
		return &AuthzError{Role: p.Role, Permission: perm}
	}
	return nil
}

// RecordEvent submits an audit event, fire and forget. Submission
// failures are counted and logged but never surfaced to the caller.
func (c *Core) RecordEvent(ctx context.Context, event *audit.Event) {
	if c.trail == nil {
		return
	}
	if _, err := c.trail.Record(ctx, event); err != nil {
		c.log.Warn("audit event not recorded",
			logger.String("type", string(event.Type)),
			logger.Error(err))
	}
}

// QueryEvents serves the audit index.
func (c *Core) QueryEvents(f audit.Filter) ([]audit.Event, error) {
	if c.trail == nil {
		return nil, nil
	}
	return c.trail.Query(f)
}

// Detect runs the request signal through the detector and audits any
// newly blocking indicators. Indicators are advisory; admission is the
// caller's decision.
func (c *Core) Detect(ctx context.Context, signal threat.Signal) []threat.Indicator {
	if c.detector == nil {
		return nil
	}
	indicators := c.detector.Detect(signal)
	for _, ind := range indicators {
		eventType := audit.EventThreatDetected
		severity := audit.SeverityHigh
		if ind.Block {
			eventType = audit.EventThreatBlocked
			severity = audit.SeverityCritical
		}
		c.RecordEvent(ctx, &audit.Event{
			Type:     eventType,
			ActorID:  signal.ActorID,
			SourceIP: signal.SourceIP,
			Result:   audit.ResultFailure,
			Severity: severity,
			Context: map[string]string{
				audit.CtxKeyIndicator: string(ind.Type),
			},
		})
	}
	return indicators
}

// EvaluateCompliance runs a full rule pass over the live configuration.
func (c *Core) EvaluateCompliance(ctx context.Context, sample *compliance.BehaviorSample) []compliance.Violation {
	if c.monitor == nil {
		return nil
	}
	violations := c.monitor.Evaluate(c.cfg, sample)
	for _, v := range violations {
		c.RecordEvent(ctx, &audit.Event{
			Type:     audit.EventComplianceIssue,
			Resource: v.RuleID,
			Result:   audit.ResultFailure,
			Severity: audit.SeverityWarning,
			Context:  map[string]string{audit.CtxKeyReason: v.Description},
		})
	}
	return violations
}

// Sanitize redacts a record against the principal's clearance.
func (c *Core) Sanitize(rec classify.Record, p *auth.Principal) (classify.Record, error) {
	return c.enforcer.Sanitize(rec, p.Clearance)
}

// Classify raises a record's label under the principal's authority.
// Requires the intel:classify permission.
func (c *Core) Classify(ctx context.Context, p *auth.Principal, rec *classify.Record, label classify.Label) error {
	if err := c.Authorize(ctx, p, rbac.PermIntelClassify); err != nil {
		return err
	}
	return c.enforcer.Classify(ctx, rec, label, p.ID)
}

// Declassify lowers a record's label under the principal's authority.
// Requires the intel:declassify permission.
func (c *Core) Declassify(ctx context.Context, p *auth.Principal, rec *classify.Record, label classify.Label) error {
	if err := c.Authorize(ctx, p, rbac.PermIntelDeclassify); err != nil {
		return err
	}
	return c.enforcer.Declassify(ctx, rec, label, p.ID)
}

// CreateUser provisions an account under the principal's authority.
// Requires the users:manage permission. The change is audited as a
// configuration change against the user resource.
func (c *Core) CreateUser(ctx context.Context, p *auth.Principal, name, password string, role rbac.Role, clearance classify.Label) (*auth.User, error) {
	if err := c.Authorize(ctx, p, rbac.PermUsersManage); err != nil {
		return nil, err
	}
	if !rbac.Known(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	user, err := c.users.Create(name, password, role, clearance)
	if err != nil {
		return nil, err
	}
	c.auditUserChange(ctx, p, name, "create")
	return user, nil
}

// DisableUser marks an account disabled. Requires users:manage.
// Existing tokens stay valid until expiry or revocation; only new
// logins are refused.
func (c *Core) DisableUser(ctx context.Context, p *auth.Principal, name string) error {
	if err := c.Authorize(ctx, p, rbac.PermUsersManage); err != nil {
		return err
	}
	if err := c.users.Disable(name); err != nil {
		return err
	}
	c.auditUserChange(ctx, p, name, "disable")
	return nil
}

// EnrollUserTOTP generates and stores a TOTP secret for the account and
// returns the provisioning details once. Requires users:manage.
func (c *Core) EnrollUserTOTP(ctx context.Context, p *auth.Principal, name string) (*auth.TOTPEnrollment, error) {
	if err := c.Authorize(ctx, p, rbac.PermUsersManage); err != nil {
		return nil, err
	}
	enrollment, err := c.users.BeginTOTP(name, c.cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}
	c.auditUserChange(ctx, p, name, "totp_enroll")
	return enrollment, nil
}

// GetUser returns the account record. Requires users:read.
func (c *Core) GetUser(ctx context.Context, p *auth.Principal, name string) (*auth.User, error) {
	if err := c.Authorize(ctx, p, rbac.PermUsersRead); err != nil {
		return nil, err
	}
	return c.users.Get(name)
}

func (c *Core) auditUserChange(ctx context.Context, p *auth.Principal, name, action string) {
	c.RecordEvent(ctx, &audit.Event{
		Type:     audit.EventConfigChanged,
		ActorID:  p.ID,
		Resource: "user:" + name,
		Action:   action,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityWarning,
	})
}

func (c *Core) feedThreat(signal threat.Signal) {
	if c.detector == nil {
		return
	}
	c.detector.Detect(signal)
}
