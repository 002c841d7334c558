// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address of the JSON API (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr serves the gRPC health service.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is an inline PEM private key (RSA or ECDSA) or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the matching public key, inline PEM or path.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime, e.g. "15m".
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime, e.g. "720h".
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor, 4 through 31.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PasswordResetTTLRaw is how long a reset token stays usable.
	PasswordResetTTLRaw string `mapstructure:"PASSWORD_RESET_TTL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment ("development", "production"). Ephemeral
	// signing keys are refused in production.
	Env string `mapstructure:"APP_ENV"`

	// RedisURL enables the distributed login throttle when set.
	RedisURL           string `mapstructure:"REDIS_URL"`
	LoginMaxAttempts   int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginAttemptWindow string `mapstructure:"LOGIN_ATTEMPT_WINDOW"`

	// RateLimitRPS and RateLimitBurst bound per-client-IP request rates.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	// TrustedProxies is a comma-separated list of proxy addresses or CIDRs whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty trusts none.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// KafkaBrokers is a comma-separated broker list; sync events are fanned out when set.
	KafkaBrokers   string `mapstructure:"KAFKA_BROKERS"`
	SyncKafkaTopic string `mapstructure:"SYNC_KAFKA_TOPIC"`

	// OTLPEndpoint enables trace and metric export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	DeviceCacheSize int    `mapstructure:"DEVICE_CACHE_SIZE"`
	DeviceCacheTTL  string `mapstructure:"DEVICE_CACHE_TTL"`

	// SweepSchedule is the cron expression of the hygiene worker.
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`
	// SweepRetention is how long expired grants and dead sessions are kept.
	SweepRetention string `mapstructure:"SWEEP_RETENTION"`

	// CapabilityPolicyFile optionally replaces the built-in role→capability Rego policy.
	CapabilityPolicyFile string `mapstructure:"CAPABILITY_POLICY_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "unified-ai-auth")
	v.SetDefault("JWT_AUDIENCE", "unified-ai-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_RESET_TTL", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 10)
	v.SetDefault("LOGIN_ATTEMPT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SYNC_KAFKA_TOPIC", "unified-ai-sync-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("DEVICE_CACHE_SIZE", 4096)
	v.SetDefault("DEVICE_CACHE_TTL", "10m")
	v.SetDefault("SWEEP_SCHEDULE", "@every 1h")
	v.SetDefault("SWEEP_RETENTION", "168h")
	v.SetDefault("CAPABILITY_POLICY_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if cfg.JWTPrivateKey == "" && cfg.IsProduction() {
		return nil, errors.New("config: JWT keys are required when APP_ENV=production")
	}
	if cfg.LoginMaxAttempts < 0 {
		return nil, errors.New("config: LOGIN_MAX_ATTEMPTS must not be negative")
	}
	if cfg.RateLimitRPS < 0 || cfg.RateLimitBurst < 0 {
		return nil, errors.New("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if _, err := cfg.TrustedProxyPrefixes(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 720*time.Hour)
}

// PasswordResetTTL returns 1h if unset or invalid.
func (c *Config) PasswordResetTTL() time.Duration {
	return durationOr(c.PasswordResetTTLRaw, time.Hour)
}

// LoginWindow returns 15m if unset or invalid.
func (c *Config) LoginWindow() time.Duration {
	return durationOr(c.LoginAttemptWindow, 15*time.Minute)
}

// DeviceOwnerCacheTTL returns 10m if unset or invalid.
func (c *Config) DeviceOwnerCacheTTL() time.Duration {
	return durationOr(c.DeviceCacheTTL, 10*time.Minute)
}

// Retention returns 168h if unset or invalid.
func (c *Config) Retention() time.Duration {
	return durationOr(c.SweepRetention, 168*time.Hour)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range splitList(c.TrustedProxies) {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an address or CIDR", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// KafkaBrokersList returns broker addresses from the comma-separated config.
// An empty list disables the sync fan-out publisher.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
