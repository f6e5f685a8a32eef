package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/medora-health/clinicore/pkg/billing"
	"github.com/medora-health/clinicore/pkg/middleware"
	"github.com/medora-health/clinicore/pkg/observability"
	storage "github.com/medora-health/clinicore/pkg/storage/postgres"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "CLINICORE_"

// ConfigFileEnv names the optional YAML file loaded before the environment
const ConfigFileEnv = "CLINICORE_CONFIG_FILE"

// MinJWTSecretBytes is the shortest accepted HS256 signing secret
const MinJWTSecretBytes = 32

// Storage types
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Storage       StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Tenancy       TenancyConfig       `yaml:"tenancy" envPrefix:"TENANCY_"`
	Auth          AuthConfig          `yaml:"auth" envPrefix:"AUTH_"`
	Permissions   PermissionsConfig   `yaml:"permissions" envPrefix:"PERMISSIONS_"`
	Billing       BillingConfig       `yaml:"billing" envPrefix:"BILLING_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            string        `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port" env:"HEALTH_PORT"`

	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// StorageConfig selects and configures the backing stores
type StorageConfig struct {
	Type string `yaml:"type" env:"TYPE"`

	PostgresURL     string        `yaml:"postgres_url" env:"POSTGRES_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// Redis fronts the permission store when set
	RedisURL      string `yaml:"redis_url" env:"REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPoolSize int    `yaml:"redis_pool_size" env:"REDIS_POOL_SIZE"`

	// SeedFile is a YAML fixture loaded into the memory stores
	SeedFile string `yaml:"seed_file" env:"SEED_FILE"`
}

// TenancyConfig names the request inputs that carry a tenant
type TenancyConfig struct {
	HeaderName          string        `yaml:"header_name" env:"HEADER_NAME"`
	QueryParam          string        `yaml:"query_param" env:"QUERY_PARAM"`
	ForwardedHostHeader string        `yaml:"forwarded_host_header" env:"FORWARDED_HOST_HEADER"`
	DefaultSlug         string        `yaml:"default_slug" env:"DEFAULT_SLUG"`
	CacheSize           int           `yaml:"cache_size" env:"CACHE_SIZE"`
	CacheTTL            time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// AuthConfig holds credential lifetimes and signing material
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer        string        `yaml:"issuer" env:"ISSUER"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`
	InvitationTTL time.Duration `yaml:"invitation_ttl" env:"INVITATION_TTL"`
	BcryptCost    int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
	TOTPSkew      uint          `yaml:"totp_skew" env:"TOTP_SKEW"`
	PurgeOnAuth   bool          `yaml:"purge_on_auth" env:"PURGE_ON_AUTH"`
}

// PermissionsConfig configures the permission cache
type PermissionsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// BillingConfig configures the subscription sweep
type BillingConfig struct {
	SweepSchedule string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"PURGE_SCHEDULE"`
	Timezone      string        `yaml:"timezone" env:"TIMEZONE"`
	JobTimeout    time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled" env:"OTEL_ENABLED"`
	OTelEndpoint       string  `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	OTelServiceName    string  `yaml:"otel_service_name" env:"OTEL_SERVICE_NAME"`
	OTelServiceVersion string  `yaml:"otel_service_version" env:"OTEL_SERVICE_VERSION"`
	OTelInsecure       bool    `yaml:"otel_insecure" env:"OTEL_INSECURE"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio" env:"OTEL_SAMPLE_RATIO"`
}

// Default returns the configuration used when nothing overrides it.
// The JWT secret has no default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: StorageConfig{
			Type:            StorageMemory,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			RedisPoolSize:   10,
		},
		Tenancy: TenancyConfig{
			HeaderName:          "X-Tenant-Slug",
			QueryParam:          "tenant",
			ForwardedHostHeader: "X-Forwarded-Host",
			CacheSize:           1024,
			CacheTTL:            15 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:        "clinicore",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			InvitationTTL: 72 * time.Hour,
			BcryptCost:    bcrypt.DefaultCost,
			TOTPSkew:      1,
			PurgeOnAuth:   true,
		},
		Permissions: PermissionsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Billing: BillingConfig{
			SweepSchedule: "0 2 * * *",
			PurgeSchedule: "@hourly",
			Timezone:      "UTC",
			JobTimeout:    10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "clinicore",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads .env, then the YAML file named by CLINICORE_CONFIG_FILE,
// then CLINICORE_* environment variables, and validates the result
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return Load(os.Getenv(ConfigFileEnv))
}

// Load builds the configuration from defaults, an optional YAML file and the environment
func Load(file string) (*Config, error) {
	cfg := Default()

	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads the given files when they exist. Variables already set win.
func loadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", f, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := c.Server.Proxies(); err != nil {
		return err
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Tenancy.HeaderName == "" || c.Tenancy.QueryParam == "" {
		return fmt.Errorf("tenant header name and query parameter are required")
	}
	if c.Tenancy.CacheSize < 0 || c.Tenancy.CacheTTL < 0 {
		return fmt.Errorf("tenant cache size and TTL must not be negative")
	}

	// Validate auth config
	if len(c.Auth.JWTSecret) < MinJWTSecretBytes {
		return fmt.Errorf("JWT secret must be at least %d bytes", MinJWTSecretBytes)
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("refresh token TTL must be positive")
	}
	if c.Auth.InvitationTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Permissions.CacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}

	// Validate billing config
	if _, err := cron.ParseStandard(c.Billing.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.Billing.SweepSchedule, err)
	}
	if _, err := cron.ParseStandard(c.Billing.PurgeSchedule); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", c.Billing.PurgeSchedule, err)
	}
	if _, err := time.LoadLocation(c.Billing.Timezone); err != nil {
		return fmt.Errorf("invalid sweep timezone %q: %w", c.Billing.Timezone, err)
	}
	if c.Billing.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// HealthAddr returns the health/metrics listen address
func (s ServerConfig) HealthAddr() string {
	return net.JoinHostPort(s.Host, s.HealthPort)
}

// Proxies parses TrustedProxies
func (s ServerConfig) Proxies() (middleware.TrustedProxies, error) {
	return middleware.ParseTrustedProxies(s.TrustedProxies)
}

// Postgres returns the connection pool settings
func (s StorageConfig) Postgres() storage.Config {
	cfg := storage.DefaultConfig(s.PostgresURL)
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		cfg.MaxIdleConns = s.MaxIdleConns
	}
	if s.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = s.ConnMaxLifetime
	}
	return cfg
}

// Redis returns the redis client settings
func (s StorageConfig) Redis() storage.RedisConfig {
	return storage.RedisConfig{
		URL:      s.RedisURL,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
		PoolSize: s.RedisPoolSize,
	}
}

// Resolver returns the tenant resolver input names
func (t TenancyConfig) Resolver() tenancy.ResolverConfig {
	return tenancy.ResolverConfig{
		HeaderName:          t.HeaderName,
		QueryParam:          t.QueryParam,
		ForwardedHostHeader: t.ForwardedHostHeader,
		DefaultSlug:         strings.TrimSpace(t.DefaultSlug),
	}
}

// Scheduler returns the cron settings. Validate must have succeeded.
func (b BillingConfig) Scheduler() billing.SchedulerConfig {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return billing.SchedulerConfig{
		SweepSchedule: b.SweepSchedule,
		PurgeSchedule: b.PurgeSchedule,
		Location:      loc,
		JobTimeout:    b.JobTimeout,
	}
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}
