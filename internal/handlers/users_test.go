package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/middleware"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/security"
)

func setupUsersApp(t *testing.T) (*security.Core, *fiber.App) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Auth.SigningSecret = "users-test-secret"
	cfg.Auth.AccessTTL = 15 * time.Minute
	cfg.Auth.RefreshTTL = 24 * time.Hour
	cfg.Auth.Issuer = "bastion-test"

	log := logger.Nop()
	tokens := auth.NewTokenService(
		cfg.Auth.SigningSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL,
		cfg.Auth.Issuer, auth.NewRevocationList(nil, log))
	users := auth.NewUserStore(auth.PasswordPolicy{MinLength: 8}, 10)

	core := security.New(security.Deps{
		Config:   cfg,
		Logger:   log,
		Tokens:   tokens,
		Users:    users,
		Perms:    rbac.NewEngine(log),
		Enforcer: classify.NewEnforcer(nil, log),
	})

	if _, err := users.Create("director.cho", "CorrectHorse1", rbac.RoleDirector, classify.TopSecret); err != nil {
		t.Fatalf("create director: %v", err)
	}
	if _, err := users.Create("viewer.roy", "CorrectHorse1", rbac.RoleViewer, classify.Public); err != nil {
		t.Fatalf("create viewer: %v", err)
	}

	handler := NewUsersHandler(core)
	authHandler := NewAuthHandler(core)
	app := fiber.New()
	app.Post("/auth/login", authHandler.Login)
	app.Use(middleware.TokenAuth(core, []string{"/auth/login"}))
	app.Post("/users",
		middleware.RequirePermission(core, rbac.PermUsersManage), handler.Create)
	app.Get("/users/:name",
		middleware.RequirePermission(core, rbac.PermUsersRead), handler.Get)
	app.Post("/users/:name/disable",
		middleware.RequirePermission(core, rbac.PermUsersManage), handler.Disable)
	app.Post("/users/:name/totp",
		middleware.RequirePermission(core, rbac.PermUsersManage), handler.EnrollTOTP)
	return core, app
}

func loginFor(t *testing.T, app *fiber.App, name string) string {
	t.Helper()
	resp := postJSON(t, app, "/auth/login",
		`{"username": "`+name+`", "password": "CorrectHorse1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login for %s returned %d", name, resp.StatusCode)
	}
	var pair security.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("failed to decode token pair: %v", err)
	}
	return pair.AccessToken
}

func TestUsersCreateDisableLifecycle(t *testing.T) {
	_, app := setupUsersApp(t)
	adminToken := loginFor(t, app, "director.cho")
	adminHeaders := map[string]string{"Authorization": "Bearer " + adminToken}

	resp := postJSON(t, app, "/users",
		`{"name": "tech.lee", "password": "CorrectHorse1", "role": "field_tech", "clearance": "CONFIDENTIAL"}`,
		adminHeaders)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d, want 201", resp.StatusCode)
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode created user: %v", err)
	}
	if created["role"] != "field_tech" || created["enabled"] != true {
		t.Fatalf("unexpected created user view: %v", created)
	}
	if _, leaked := created["PasswordHash"]; leaked {
		t.Fatal("credential material must not appear in the response")
	}

	// The new account can log in.
	if tok := loginFor(t, app, "tech.lee"); tok == "" {
		t.Fatal("expected a token for the new account")
	}

	req := httptest.NewRequest(http.MethodGet, "/users/tech.lee", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	getResp, err := app.Test(req)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %d, want 200", getResp.StatusCode)
	}

	resp = postJSON(t, app, "/users/tech.lee/disable", "", adminHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable returned %d, want 200", resp.StatusCode)
	}
	resp = postJSON(t, app, "/auth/login",
		`{"username": "tech.lee", "password": "CorrectHorse1"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled account login returned %d, want 401", resp.StatusCode)
	}
}

func TestUsersEnrollTOTPReturnsSecretOnce(t *testing.T) {
	_, app := setupUsersApp(t)
	adminToken := loginFor(t, app, "director.cho")
	adminHeaders := map[string]string{"Authorization": "Bearer " + adminToken}

	resp := postJSON(t, app, "/users",
		`{"name": "tech.lee", "password": "CorrectHorse1", "role": "field_tech"}`,
		adminHeaders)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, app, "/users/tech.lee/totp", "", adminHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("totp enrollment returned %d, want 200", resp.StatusCode)
	}
	var enrollment auth.TOTPEnrollment
	if err := json.NewDecoder(resp.Body).Decode(&enrollment); err != nil {
		t.Fatalf("failed to decode enrollment: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URL == "" {
		t.Fatalf("expected provisioning details, got %+v", enrollment)
	}

	// Password alone no longer logs in.
	resp = postJSON(t, app, "/auth/login",
		`{"username": "tech.lee", "password": "CorrectHorse1"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login without a one-time code returned %d, want 401", resp.StatusCode)
	}
}

func TestUsersManageDeniedBelowDirector(t *testing.T) {
	_, app := setupUsersApp(t)
	viewerToken := loginFor(t, app, "viewer.roy")

	resp := postJSON(t, app, "/users",
		`{"name": "tech.lee", "password": "CorrectHorse1", "role": "field_tech"}`,
		map[string]string{"Authorization": "Bearer " + viewerToken})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create returned %d, want 403", resp.StatusCode)
	}
}
