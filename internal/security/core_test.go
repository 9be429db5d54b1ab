package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/compliance"
	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/threat"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.SigningSecret = "core-test-secret"
	cfg.Auth.AccessTTL = 15 * time.Minute
	cfg.Auth.RefreshTTL = 7 * 24 * time.Hour
	cfg.Auth.Issuer = "bastion-test"
	cfg.Auth.Require2FA = true
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.EnforceHSTS = true
	cfg.Password.MinLength = 12
	cfg.Password.RequireUpper = true
	cfg.Password.RequireDigit = true
	cfg.Session.IdleTimeout = 30 * time.Minute
	cfg.Audit.Enabled = true
	cfg.Audit.Retention = 365 * 24 * time.Hour
	return cfg
}

func newTestCore(t *testing.T) (*Core, *threat.Detector) {
	t.Helper()

	cfg := testConfig()
	log := logger.Nop()

	revocations := auth.NewRevocationList(nil, log)
	tokens := auth.NewTokenService(
		cfg.Auth.SigningSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL,
		cfg.Auth.Issuer, revocations)

	users := auth.NewUserStore(auth.PasswordPolicy{
		MinLength:    cfg.Password.MinLength,
		RequireUpper: true,
		RequireDigit: true,
	}, 10)

	detector := threat.NewDetector(threat.Config{
		Window:    5 * time.Minute,
		Threshold: 5,
	}, log)
	t.Cleanup(detector.Close)

	core := New(Deps{
		Config:   cfg,
		Logger:   log,
		Tokens:   tokens,
		Users:    users,
		Perms:    rbac.NewEngine(log),
		Detector: detector,
		Monitor:  compliance.NewMonitor(compliance.DefaultPolicy(), log),
		Enforcer: classify.NewEnforcer(nil, log),
	})
	return core, detector
}

func mustCreateUser(t *testing.T, core *Core, name string, role rbac.Role, clearance classify.Label) {
	t.Helper()
	_, err := core.users.Create(name, "Str0ngPassword!", role, clearance)
	require.NoError(t, err)
}

func TestLoginRoundTrip(t *testing.T) {
	core, _ := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	pair, err := core.Login(context.Background(), "inspector.kim", "Str0ngPassword!", "", "198.51.100.7", "go-client/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Greater(t, pair.ExpiresIn, int64(0))

	principal, err := core.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "inspector.kim", principal.Name)
	assert.Equal(t, rbac.RoleInspector, principal.Role)
	assert.Equal(t, classify.Confidential, principal.Clearance)
}

func TestLoginFailureReasonIsGeneric(t *testing.T) {
	core, _ := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	// Wrong password and unknown account must be indistinguishable.
	_, errWrong := core.Login(context.Background(), "inspector.kim", "WrongPassword1", "", "", "")
	_, errNoUser := core.Login(context.Background(), "nobody.here", "WrongPassword1", "", "", "")

	var credWrong, credNoUser *CredentialError
	require.ErrorAs(t, errWrong, &credWrong)
	require.ErrorAs(t, errNoUser, &credNoUser)
	assert.Equal(t, credWrong.Reason, credNoUser.Reason)
	assert.Equal(t, ReasonBadLogin, credWrong.Reason)
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	core, _ := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	pair, err := core.Login(context.Background(), "inspector.kim", "Str0ngPassword!", "", "", "")
	require.NoError(t, err)

	_, err = core.Authenticate(context.Background(), pair.RefreshToken)
	var cred *CredentialError
	require.ErrorAs(t, err, &cred)
	assert.Equal(t, ReasonInvalid, cred.Reason)
}

func TestLogoutRevokesToken(t *testing.T) {
	core, _ := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	pair, err := core.Login(context.Background(), "inspector.kim", "Str0ngPassword!", "", "", "")
	require.NoError(t, err)

	require.NoError(t, core.Logout(context.Background(), pair.AccessToken, ""))

	_, err = core.Authenticate(context.Background(), pair.AccessToken)
	var cred *CredentialError
	require.ErrorAs(t, err, &cred)
	assert.Equal(t, ReasonRevoked, cred.Reason)

	// Logging out an already-revoked token is not an error.
	assert.NoError(t, core.Logout(context.Background(), pair.AccessToken, ""))
}

func TestRefreshRotationRevokesOldToken(t *testing.T) {
	core, _ := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	pair, err := core.Login(context.Background(), "inspector.kim", "Str0ngPassword!", "", "", "")
	require.NoError(t, err)

	rotated, err := core.Refresh(context.Background(), pair.RefreshToken, "")
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)

	_, err = core.Refresh(context.Background(), pair.RefreshToken, "")
	var cred *CredentialError
	require.ErrorAs(t, err, &cred)
	assert.Equal(t, ReasonRevoked, cred.Reason)

	_, err = core.Authenticate(context.Background(), rotated.AccessToken)
	assert.NoError(t, err)
}

func TestAuthorizeTaxonomy(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	viewer := &auth.Principal{ID: "usr-1", Role: rbac.RoleViewer}
	sysadmin := &auth.Principal{ID: "usr-2", Role: rbac.RoleSysadmin}

	err := core.Authorize(ctx, viewer, rbac.PermDataWrite)
	var authz *AuthzError
	require.ErrorAs(t, err, &authz)
	assert.Equal(t, rbac.PermDataWrite, authz.Permission)

	assert.NoError(t, core.Authorize(ctx, viewer, rbac.PermDataRead))
	assert.NoError(t, core.Authorize(ctx, sysadmin, rbac.PermDataWrite, rbac.PermSystemConfig))
}

func TestFailedLoginsTripBruteForce(t *testing.T) {
	core, detector := newTestCore(t)
	mustCreateUser(t, core, "inspector.kim", rbac.RoleInspector, classify.Confidential)

	for i := 0; i < 5; i++ {
		_, err := core.Login(context.Background(), "inspector.kim", "WrongPassword1", "", "203.0.113.9", "")
		require.Error(t, err)
	}

	indicators := detector.ActiveIndicators("203.0.113.9")
	require.Len(t, indicators, 1)
	assert.Equal(t, threat.IndicatorBruteForce, indicators[0].Type)
	assert.True(t, indicators[0].Block)
}

func TestDetectReturnsAdvisoryIndicators(t *testing.T) {
	core, _ := newTestCore(t)

	indicators := core.Detect(context.Background(), threat.Signal{
		SourceIP: "203.0.113.10",
		Payload:  "id=1 UNION SELECT password FROM users",
	})
	require.Len(t, indicators, 1)
	assert.Equal(t, threat.IndicatorInjection, indicators[0].Type)
}

func TestEvaluateComplianceUsesLiveConfig(t *testing.T) {
	core, _ := newTestCore(t)

	assert.Empty(t, core.EvaluateCompliance(context.Background(), nil))

	core.cfg.Server.TLS.Enabled = false
	violations := core.EvaluateCompliance(context.Background(), nil)
	require.Len(t, violations, 1)
	assert.Equal(t, compliance.RuleTLSRequired, violations[0].RuleID)
}

func TestClassifyRequiresPermission(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	rec := &classify.Record{ID: "rpt-1", Label: classify.Confidential}

	viewer := &auth.Principal{ID: "usr-1", Role: rbac.RoleViewer, Clearance: classify.Secret}
	err := core.Classify(ctx, viewer, rec, classify.Secret)
	var authz *AuthzError
	require.ErrorAs(t, err, &authz)
	assert.Equal(t, classify.Confidential, rec.Label)

	commander := &auth.Principal{ID: "usr-2", Role: rbac.RoleCommander, Clearance: classify.TopSecret}
	require.NoError(t, core.Classify(ctx, commander, rec, classify.Secret))
	assert.Equal(t, classify.Secret, rec.Label)

	// Commanders classify but only directors and above declassify.
	err = core.Declassify(ctx, commander, rec, classify.Public)
	require.ErrorAs(t, err, &authz)

	director := &auth.Principal{ID: "usr-3", Role: rbac.RoleDirector, Clearance: classify.TopSecret}
	require.NoError(t, core.Declassify(ctx, director, rec, classify.Public))
	assert.Equal(t, classify.Public, rec.Label)
}

func TestSanitizeAgainstPrincipalClearance(t *testing.T) {
	core, _ := newTestCore(t)

	rec := classify.Record{
		ID:    "rpt-2",
		Label: classify.Confidential,
		Fields: map[string]classify.Field{
			"summary":  {Value: "routine inspection", Label: classify.Public},
			"findings": {Value: "structural defect", Label: classify.Secret},
		},
	}

	p := &auth.Principal{ID: "usr-1", Role: rbac.RoleInspector, Clearance: classify.Confidential}
	out, err := core.Sanitize(rec, p)
	require.NoError(t, err)
	assert.Equal(t, "routine inspection", out.Fields["summary"].Value)
	assert.Equal(t, classify.Redacted, out.Fields["findings"].Value)

	lowly := &auth.Principal{ID: "usr-2", Role: rbac.RoleViewer, Clearance: classify.Public}
	_, err = core.Sanitize(rec, lowly)
	assert.True(t, errors.Is(err, classify.ErrWithheld))
}

func TestUserManagementRequiresPermission(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	viewer := &auth.Principal{ID: "usr-1", Role: rbac.RoleViewer}
	director := &auth.Principal{ID: "usr-2", Role: rbac.RoleDirector}

	var authz *AuthzError
	_, err := core.CreateUser(ctx, viewer, "tech.lee", "Str0ngPassword!", rbac.RoleFieldTech, classify.Public)
	require.ErrorAs(t, err, &authz)

	user, err := core.CreateUser(ctx, director, "tech.lee", "Str0ngPassword!", rbac.RoleFieldTech, classify.Public)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleFieldTech, user.Role)
	assert.True(t, user.Enabled)

	_, err = core.CreateUser(ctx, director, "tech.lee", "Str0ngPassword!", rbac.RoleFieldTech, classify.Public)
	assert.ErrorIs(t, err, auth.ErrUserExists)

	_, err = core.CreateUser(ctx, director, "other", "Str0ngPassword!", rbac.Role("warlord"), classify.Public)
	assert.Error(t, err)
}

func TestDisableUserBlocksLogin(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	director := &auth.Principal{ID: "usr-1", Role: rbac.RoleDirector}
	_, err := core.CreateUser(ctx, director, "tech.lee", "Str0ngPassword!", rbac.RoleFieldTech, classify.Public)
	require.NoError(t, err)

	_, err = core.Login(ctx, "tech.lee", "Str0ngPassword!", "", "203.0.113.7", "test")
	require.NoError(t, err)

	require.NoError(t, core.DisableUser(ctx, director, "tech.lee"))

	_, err = core.Login(ctx, "tech.lee", "Str0ngPassword!", "", "203.0.113.7", "test")
	var cred *CredentialError
	require.ErrorAs(t, err, &cred)
}

func TestEnrollUserTOTPGatesNextLogin(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	director := &auth.Principal{ID: "usr-1", Role: rbac.RoleDirector}
	_, err := core.CreateUser(ctx, director, "tech.lee", "Str0ngPassword!", rbac.RoleFieldTech, classify.Public)
	require.NoError(t, err)

	enrollment, err := core.EnrollUserTOTP(ctx, director, "tech.lee")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://")

	// Password alone no longer suffices.
	_, err = core.Login(ctx, "tech.lee", "Str0ngPassword!", "", "203.0.113.7", "test")
	var cred *CredentialError
	require.ErrorAs(t, err, &cred)

	supervisor := &auth.Principal{ID: "usr-2", Role: rbac.RoleSupervisor}
	user, err := core.GetUser(ctx, supervisor, "tech.lee")
	require.NoError(t, err)
	assert.NotEmpty(t, user.TOTPSecret)

	viewer := &auth.Principal{ID: "usr-3", Role: rbac.RoleViewer}
	var authz *AuthzError
	_, err = core.GetUser(ctx, viewer, "tech.lee")
	require.ErrorAs(t, err, &authz)
}
