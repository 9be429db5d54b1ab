package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the bastion security core configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Auth       AuthConfig
	Password   PasswordConfig
	Session    SessionConfig
	Bootstrap  BootstrapConfig
	Audit      AuditConfig
	Threat     ThreatConfig
	RateLimit  RateLimitConfig
	Store      StoreConfig
	Tracing    TracingConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
	TLS  TLSConfig
}

// TLSConfig contains TLS/HSTS enforcement configuration.
type TLSConfig struct {
	Enabled     bool
	CertFile    string
	KeyFile     string
	EnforceHSTS bool
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig contains token signing configuration.
type AuthConfig struct {
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Require2FA    bool
}

// PasswordConfig contains password policy thresholds.
type PasswordConfig struct {
	MinLength        int
	RequireUpper     bool
	RequireDigit     bool
	RequireSymbol    bool
	BcryptCost       int
}

// SessionConfig contains session policy thresholds.
type SessionConfig struct {
	IdleTimeout time.Duration
}

// BootstrapConfig seeds the first account at startup. Leaving User
// empty skips seeding; further accounts are created through the
// user-management API.
type BootstrapConfig struct {
	User     string
	Password string
	Role     string
}

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	Enabled       bool
	Sink          string // "file" or "stdout"
	FilePath      string
	BufferSize    int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Retention     time.Duration
}

// ThreatConfig contains threat detection configuration.
type ThreatConfig struct {
	BruteForceWindow    time.Duration
	BruteForceThreshold int
	AllowedCountries    []string
}

// RateLimitConfig contains per-endpoint-class rate limiting.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	SensitiveRPS    float64
	SensitiveBurst  int
	CleanupInterval time.Duration
}

// StoreConfig contains fast key-value store configuration.
type StoreConfig struct {
	Type       string // "memory" or "badger"
	DataDir    string
	SyncWrites bool
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled       bool
	Endpoint      string
	ServiceName   string
	SamplingRatio float64
	InsecureConn  bool
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnvString("BASTION_HOST", ""),
			Port: getEnvInt("BASTION_PORT", 8780),
			TLS: TLSConfig{
				Enabled:     getEnvBool("BASTION_TLS_ENABLED", false),
				CertFile:    getEnvString("BASTION_TLS_CERT_FILE", ""),
				KeyFile:     getEnvString("BASTION_TLS_KEY_FILE", ""),
				EnforceHSTS: getEnvBool("BASTION_ENFORCE_HSTS", false),
			},
		},
		Log: LogConfig{
			Level:  getEnvString("BASTION_LOG_LEVEL", "info"),
			Format: getEnvString("BASTION_LOG_FORMAT", "console"),
		},
		Auth: AuthConfig{
			SigningSecret: getEnvString("BASTION_SIGNING_SECRET", ""),
			AccessTTL:     getEnvDuration("BASTION_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getEnvDuration("BASTION_REFRESH_TTL", 7*24*time.Hour),
			Issuer:        getEnvString("BASTION_ISSUER", "bastion"),
			Require2FA:    getEnvBool("BASTION_REQUIRE_2FA", true),
		},
		Password: PasswordConfig{
			MinLength:     getEnvInt("BASTION_PASSWORD_MIN_LENGTH", 12),
			RequireUpper:  getEnvBool("BASTION_PASSWORD_REQUIRE_UPPER", true),
			RequireDigit:  getEnvBool("BASTION_PASSWORD_REQUIRE_DIGIT", true),
			RequireSymbol: getEnvBool("BASTION_PASSWORD_REQUIRE_SYMBOL", false),
			BcryptCost:    getEnvInt("BASTION_BCRYPT_COST", 12),
		},
		Session: SessionConfig{
			IdleTimeout: getEnvDuration("BASTION_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		},
		Bootstrap: BootstrapConfig{
			User:     getEnvString("BASTION_BOOTSTRAP_USER", ""),
			Password: getEnvString("BASTION_BOOTSTRAP_PASSWORD", ""),
			Role:     getEnvString("BASTION_BOOTSTRAP_ROLE", "sysadmin"),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("BASTION_AUDIT_ENABLED", true),
			Sink:          getEnvString("BASTION_AUDIT_SINK", "file"),
			FilePath:      getEnvString("BASTION_AUDIT_FILE", "./data/audit.log"),
			BufferSize:    getEnvInt("BASTION_AUDIT_BUFFER", 4096),
			FlushInterval: getEnvDuration("BASTION_AUDIT_FLUSH_INTERVAL", time.Second),
			WriteTimeout:  getEnvDuration("BASTION_AUDIT_WRITE_TIMEOUT", 200*time.Millisecond),
			Retention:     getEnvDuration("BASTION_AUDIT_RETENTION", 365*24*time.Hour),
		},
		Threat: ThreatConfig{
			BruteForceWindow:    getEnvDuration("BASTION_BRUTEFORCE_WINDOW", 5*time.Minute),
			BruteForceThreshold: getEnvInt("BASTION_BRUTEFORCE_THRESHOLD", 5),
			AllowedCountries:    getEnvStringSlice("BASTION_ALLOWED_COUNTRIES", nil),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("BASTION_RATE_LIMIT_ENABLED", true),
			RequestsPerSec:  getEnvFloat("BASTION_RATE_LIMIT_RPS", 100.0),
			Burst:           getEnvInt("BASTION_RATE_LIMIT_BURST", 50),
			SensitiveRPS:    getEnvFloat("BASTION_RATE_LIMIT_SENSITIVE_RPS", 5.0),
			SensitiveBurst:  getEnvInt("BASTION_RATE_LIMIT_SENSITIVE_BURST", 10),
			CleanupInterval: getEnvDuration("BASTION_RATE_LIMIT_CLEANUP", 5*time.Minute),
		},
		Store: StoreConfig{
			Type:       getEnvString("BASTION_STORE_TYPE", "memory"),
			DataDir:    getEnvString("BASTION_DATA_DIR", "./data"),
			SyncWrites: getEnvBool("BASTION_SYNC_WRITES", false),
		},
		Tracing: TracingConfig{
			Enabled:       getEnvBool("BASTION_TRACING_ENABLED", false),
			Endpoint:      getEnvString("BASTION_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:   getEnvString("BASTION_TRACING_SERVICE_NAME", "bastion"),
			SamplingRatio: getEnvFloat("BASTION_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:  getEnvBool("BASTION_TRACING_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file must be specified when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file must be specified when TLS is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Log.Format)
	}

	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("signing secret must be specified")
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}

	if c.Password.MinLength < 8 {
		return fmt.Errorf("password minimum length must be at least 8, got %d", c.Password.MinLength)
	}
	if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be in [10,31], got %d", c.Password.BcryptCost)
	}

	if c.Bootstrap.User != "" && c.Bootstrap.Password == "" {
		return fmt.Errorf("bootstrap password must be specified when a bootstrap user is set")
	}

	if c.Audit.Enabled {
		validSinks := map[string]bool{"file": true, "stdout": true}
		if !validSinks[c.Audit.Sink] {
			return fmt.Errorf("invalid audit sink: %s (must be file or stdout)", c.Audit.Sink)
		}
		if c.Audit.Sink == "file" && c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path must be specified for the file sink")
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit buffer size must be positive")
		}
		if c.Audit.Retention <= 0 {
			return fmt.Errorf("audit retention must be positive")
		}
	}

	if c.Threat.BruteForceThreshold <= 0 {
		return fmt.Errorf("brute force threshold must be positive")
	}
	if c.Threat.BruteForceWindow <= 0 {
		return fmt.Errorf("brute force window must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.SensitiveRPS <= 0 {
			return fmt.Errorf("rate limit requests per second must be positive")
		}
		if c.RateLimit.Burst <= 0 || c.RateLimit.SensitiveBurst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	validStoreTypes := map[string]bool{"memory": true, "badger": true}
	if !validStoreTypes[c.Store.Type] {
		return fmt.Errorf("invalid store type: %s (must be memory or badger)", c.Store.Type)
	}
	if c.Store.Type == "badger" && c.Store.DataDir == "" {
		return fmt.Errorf("data directory must be specified for the badger store")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
