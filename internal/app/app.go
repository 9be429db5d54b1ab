// Package app wires the security core's components into a runnable
// HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strukta/bastion/internal/audit"
	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/compliance"
	"github.com/strukta/bastion/internal/config"
	"github.com/strukta/bastion/internal/handlers"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
	"github.com/strukta/bastion/internal/middleware"
	"github.com/strukta/bastion/internal/ratelimit"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/security"
	"github.com/strukta/bastion/internal/store"
	"github.com/strukta/bastion/internal/telemetry"
	"github.com/strukta/bastion/internal/threat"
)

const shutdownTimeout = 5 * time.Second

// publicPaths are reachable without a bearer token.
var publicPaths = []string{
	"/auth/login",
	"/auth/refresh",
	"/health",
	"/health/live",
	"/metrics",
}

// sensitivePaths draw from the smaller rate-limit budget.
var sensitivePaths = []string{
	"/auth/login",
	"/auth/refresh",
	"/records/classify",
	"/records/declassify",
}

// Builder wires application dependencies.
type Builder struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	kv             store.Store
	revocations    *auth.RevocationList
	tokens         *auth.TokenService
	users          *auth.UserStore
	trail          *audit.Manager
	detector       *threat.Detector
	core           *security.Core
	rateLimitSvc   *ratelimit.Service
	tracerProvider *telemetry.TracerProvider
	closers        []func()
}

// NewBuilder creates an application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the application.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.recordStartup()
	b.initFiber()
	b.initTracing(ctx)

	if err := b.initStore(); err != nil {
		b.cleanupOnError()
		return nil, err
	}
	if err := b.initSecurity(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initMiddleware()
	b.initRoutes()

	return &App{
		cfg:          b.cfg,
		logger:       b.logger,
		fiberApp:     b.fiberApp,
		trail:        b.trail,
		rateLimitSvc: b.rateLimitSvc,
		closers:      b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartup() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("starting bastion",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("store", b.cfg.Store.Type),
		logger.Bool("audit_enabled", b.cfg.Audit.Enabled),
		logger.Bool("tls", b.cfg.Server.TLS.Enabled),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
}

func (b *Builder) initTracing(ctx context.Context) {
	provider, err := telemetry.Init(ctx, b.cfg.Tracing, b.version)
	if err != nil {
		b.logger.Error("failed to initialize tracing", logger.Error(err))
		return
	}
	b.tracerProvider = provider

	if b.cfg.Tracing.Enabled {
		b.logger.Info("tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint))
		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}
}

func (b *Builder) initStore() error {
	kv, err := store.Open(store.Config{
		Type:       b.cfg.Store.Type,
		DataDir:    b.cfg.Store.DataDir,
		SyncWrites: b.cfg.Store.SyncWrites,
	}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to open key-value store: %w", err)
	}
	b.kv = kv

	b.addCloser(func() {
		if err := kv.Close(); err != nil {
			b.logger.Error("failed to close key-value store", logger.Error(err))
		}
	})
	return nil
}

func (b *Builder) initSecurity() error {
	b.revocations = auth.NewRevocationList(b.kv, b.logger)
	b.tokens = auth.NewTokenService(
		b.cfg.Auth.SigningSecret,
		b.cfg.Auth.AccessTTL,
		b.cfg.Auth.RefreshTTL,
		b.cfg.Auth.Issuer,
		b.revocations,
	)
	b.users = auth.NewUserStore(auth.PasswordPolicy{
		MinLength:     b.cfg.Password.MinLength,
		RequireUpper:  b.cfg.Password.RequireUpper,
		RequireDigit:  b.cfg.Password.RequireDigit,
		RequireSymbol: b.cfg.Password.RequireSymbol,
	}, b.cfg.Password.BcryptCost)

	if err := b.seedBootstrapUser(); err != nil {
		return err
	}

	trail, err := audit.NewManager(audit.Config{
		Enabled:       b.cfg.Audit.Enabled,
		Sink:          b.cfg.Audit.Sink,
		FilePath:      b.cfg.Audit.FilePath,
		BufferSize:    b.cfg.Audit.BufferSize,
		FlushInterval: b.cfg.Audit.FlushInterval,
		WriteTimeout:  b.cfg.Audit.WriteTimeout,
		Retention:     b.cfg.Audit.Retention,
	}, audit.NewIndex(b.kv, b.logger), b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	b.trail = trail

	b.detector = threat.NewDetector(threat.Config{
		Window:           b.cfg.Threat.BruteForceWindow,
		Threshold:        b.cfg.Threat.BruteForceThreshold,
		AllowedCountries: b.cfg.Threat.AllowedCountries,
	}, b.logger)
	b.addCloser(b.detector.Close)

	policy := compliance.DefaultPolicy()
	policy.PasswordMinLength = b.cfg.Password.MinLength

	b.core = security.New(security.Deps{
		Config:   b.cfg,
		Logger:   b.logger,
		Tokens:   b.tokens,
		Users:    b.users,
		Perms:    rbac.NewEngine(b.logger),
		Trail:    trail,
		Detector: b.detector,
		Monitor:  compliance.NewMonitor(policy, b.logger),
		Enforcer: classify.NewEnforcer(trail, b.logger),
	})
	return nil
}

// seedBootstrapUser creates the first account from config so a fresh
// deployment has a login to manage further users with. A name collision
// on restart with a durable platform store is not an error.
func (b *Builder) seedBootstrapUser() error {
	boot := b.cfg.Bootstrap
	if boot.User == "" {
		return nil
	}

	role := rbac.Role(boot.Role)
	if !rbac.Known(role) {
		return fmt.Errorf("unknown bootstrap role %q", boot.Role)
	}

	_, err := b.users.Create(boot.User, boot.Password, role, classify.TopSecret)
	if errors.Is(err, auth.ErrUserExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to seed bootstrap user: %w", err)
	}

	b.logger.Info("bootstrap user seeded",
		logger.String("user", boot.User),
		logger.String("role", boot.Role))
	return nil
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	b.fiberApp.Use(middleware.Metrics())

	if b.cfg.Tracing.Enabled {
		b.fiberApp.Use(middleware.Tracing(b.cfg.Tracing.ServiceName))
	}

	b.fiberApp.Use(middleware.SecurityHeaders(b.cfg.Server.TLS))

	if b.cfg.RateLimit.Enabled {
		b.rateLimitSvc = ratelimit.NewService(ratelimit.Config{
			Enabled:         true,
			RequestsPerSec:  b.cfg.RateLimit.RequestsPerSec,
			Burst:           b.cfg.RateLimit.Burst,
			SensitiveRPS:    b.cfg.RateLimit.SensitiveRPS,
			SensitiveBurst:  b.cfg.RateLimit.SensitiveBurst,
			CleanupInterval: b.cfg.RateLimit.CleanupInterval,
		})
		b.addCloser(b.rateLimitSvc.Stop)
		b.fiberApp.Use(middleware.RateLimit(b.rateLimitSvc, sensitivePaths))

		b.logger.Info("rate limiting enabled",
			logger.Float64("general_rps", b.cfg.RateLimit.RequestsPerSec),
			logger.Float64("sensitive_rps", b.cfg.RateLimit.SensitiveRPS),
		)
	}

	// Token auth runs first so the threat screen can attribute signals
	// to the authenticated principal.
	b.fiberApp.Use(middleware.TokenAuth(b.core, publicPaths))
	b.fiberApp.Use(middleware.ThreatScreen(b.core))
}

func (b *Builder) initRoutes() {
	authHandler := handlers.NewAuthHandler(b.core)
	auditHandler := handlers.NewAuditHandler(b.trail)
	threatHandler := handlers.NewThreatHandler(b.detector)
	complianceHandler := handlers.NewComplianceHandler(b.core)
	classifyHandler := handlers.NewClassifyHandler(b.core)
	healthHandler := handlers.NewHealthHandler(b.trail, b.revocations, b.version)

	b.fiberApp.Post("/auth/login", authHandler.Login)
	b.fiberApp.Post("/auth/refresh", authHandler.Refresh)
	b.fiberApp.Post("/auth/logout", authHandler.Logout)

	b.fiberApp.Get("/audit/events",
		middleware.RequirePermission(b.core, rbac.PermAuditRead), auditHandler.Query)
	b.fiberApp.Get("/audit/export",
		middleware.RequirePermission(b.core, rbac.PermAuditExport), auditHandler.Export)

	b.fiberApp.Get("/threats",
		middleware.RequirePermission(b.core, rbac.PermSystemMonitor), threatHandler.List)
	b.fiberApp.Get("/threats/:key",
		middleware.RequirePermission(b.core, rbac.PermSystemMonitor), threatHandler.BySource)

	usersHandler := handlers.NewUsersHandler(b.core)
	b.fiberApp.Post("/users",
		middleware.RequirePermission(b.core, rbac.PermUsersManage), usersHandler.Create)
	b.fiberApp.Get("/users/:name",
		middleware.RequirePermission(b.core, rbac.PermUsersRead), usersHandler.Get)
	b.fiberApp.Post("/users/:name/disable",
		middleware.RequirePermission(b.core, rbac.PermUsersManage), usersHandler.Disable)
	b.fiberApp.Post("/users/:name/totp",
		middleware.RequirePermission(b.core, rbac.PermUsersManage), usersHandler.EnrollTOTP)

	b.fiberApp.Get("/compliance/report",
		middleware.RequirePermission(b.core, rbac.PermComplianceReview), complianceHandler.Report)

	b.fiberApp.Post("/records/sanitize",
		middleware.RequirePermission(b.core, rbac.PermDataRead), classifyHandler.Sanitize)
	b.fiberApp.Post("/records/classify", classifyHandler.Classify)
	b.fiberApp.Post("/records/declassify", classifyHandler.Declassify)

	b.fiberApp.Get("/health", healthHandler.Check)
	b.fiberApp.Get("/health/live", healthHandler.Live)
	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App is a configured service ready to run.
type App struct {
	cfg            *config.Config
	logger         logger.Logger
	fiberApp       *fiber.App
	trail          *audit.Manager
	rateLimitSvc   *ratelimit.Service
	closers        []func()
	backgroundStop []func()
}

// Run starts the server and blocks until a signal or server error.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.startBackgroundTasks()

	serverErr := make(chan error, 1)
	go func() {
		if a.cfg.Server.TLS.Enabled {
			serverErr <- a.fiberApp.ListenTLS(a.cfg.Address(),
				a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			serverErr <- a.fiberApp.Listen(a.cfg.Address())
		}
	}()

	select {
	case err := <-serverErr:
		a.stopBackgroundTasks()
		a.shutdownAudit()
		a.runClosers()
		if err != nil {
			a.logger.Error("failed to start server", logger.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	a.stopBackgroundTasks()

	if err := a.fiberApp.Shutdown(); err != nil {
		a.logger.Error("server forced to shutdown", logger.Error(err))
	}

	// Drain the audit queue before closing the stores it indexes into.
	a.shutdownAudit()
	a.runClosers()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("server exited gracefully")
	return nil
}

func (a *App) shutdownAudit() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.trail.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shut down audit trail", logger.Error(err))
	}
}

func (a *App) startBackgroundTasks() {
	a.backgroundStop = append(a.backgroundStop, a.startAuditCompaction())
}

func (a *App) stopBackgroundTasks() {
	for i := len(a.backgroundStop) - 1; i >= 0; i-- {
		a.backgroundStop[i]()
	}
	a.backgroundStop = nil
}

// startAuditCompaction drops indexed audit events past the retention
// period once an hour.
func (a *App) startAuditCompaction() func() {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				count, err := a.trail.Compact(time.Now())
				if err != nil {
					a.logger.Error("audit compaction failed", logger.Error(err))
					continue
				}
				if count > 0 {
					a.logger.Info("compacted audit index", logger.Int("removed", count))
				}
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
