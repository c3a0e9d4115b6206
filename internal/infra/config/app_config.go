// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/wgg/internal/domain/product"
)

// VendorConfig describes how to reach a single grocery vendor.
type VendorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Adapter           Adapter       `yaml:"adapter"`
	BaseURL           string        `yaml:"baseURL"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c *VendorConfig) applyDefaults() {
	c.Adapter = Adapter(normalizeKeyword(string(c.Adapter)))
	if c.Adapter == "" {
		c.Adapter = AdapterREST
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Username = strings.TrimSpace(c.Username)
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
		if c.RequestsPerSecond > 1 {
			c.Burst = int(c.RequestsPerSecond)
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c VendorConfig) validate() error {
	switch c.Adapter {
	case AdapterREST:
		if c.BaseURL == "" {
			return fmt.Errorf("baseURL required for rest adapter")
		}
	case AdapterFake:
	default:
		return fmt.Errorf("adapter must be one of rest, fake")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requestsPerSecond must be >= 0")
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	return nil
}

// CacheConfig sizes the product cache and the autocomplete suggestion cache.
type CacheConfig struct {
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntries          int           `yaml:"maxEntries"`
	SweepInterval       time.Duration `yaml:"sweepInterval"`
	AutocompleteTTL     time.Duration `yaml:"autocompleteTTL"`
	AutocompleteMaxCost int64         `yaml:"autocompleteMaxCost"`
}

func (c *CacheConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10_000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.AutocompleteTTL <= 0 {
		c.AutocompleteTTL = 10 * time.Minute
	}
	if c.AutocompleteMaxCost <= 0 {
		c.AutocompleteMaxCost = 10_000
	}
}

// PromotionsConfig controls the sale resolver.
type PromotionsConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	RefreshCron       string        `yaml:"refreshCron"`
	DetailConcurrency int           `yaml:"detailConcurrency"`
	RefreshTimeout    time.Duration `yaml:"refreshTimeout"`
}

func (c *PromotionsConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	c.RefreshCron = strings.TrimSpace(c.RefreshCron)
	if c.RefreshCron == "" {
		c.RefreshCron = "@hourly"
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 4
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 2 * time.Minute
	}
}

// SchedulerConfig tunes the job runner.
type SchedulerConfig struct {
	Tick time.Duration `yaml:"tick"`
}

// SnapshotConfig selects the warm-start snapshot backend.
type SnapshotConfig struct {
	Backend       SnapshotBackend `yaml:"backend"`
	Path          string          `yaml:"path"`
	Codec         Codec           `yaml:"codec"`
	DSN           string          `yaml:"dsn"`
	RedisAddr     string          `yaml:"redisAddr"`
	RedisKey      string          `yaml:"redisKey"`
	Interval      time.Duration   `yaml:"interval"`
	MigrationsDir string          `yaml:"migrationsDir"`
	Database      DatabaseConfig  `yaml:"database"`
}

func (c *SnapshotConfig) applyDefaults() {
	c.Backend = SnapshotBackend(normalizeKeyword(string(c.Backend)))
	if c.Backend == "" {
		c.Backend = BackendNone
	}
	c.Codec = Codec(normalizeKeyword(string(c.Codec)))
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = filepath.Join("data", "wgg-snapshot."+string(c.Codec))
	}
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	c.RedisKey = strings.TrimSpace(c.RedisKey)
	if c.RedisKey == "" {
		c.RedisKey = "wgg:snapshot"
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	c.MigrationsDir = strings.TrimSpace(c.MigrationsDir)
	if c.MigrationsDir == "" {
		c.MigrationsDir = filepath.Join("db", "migrations")
	}
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN != "" {
		c.Database.DSN = c.DSN
	}
	c.Database.applyDefaults()
	c.DSN = c.Database.DSN
}

func (c SnapshotConfig) validate() error {
	switch c.Codec {
	case CodecJSON, CodecMsgpack, CodecCBOR:
	default:
		return fmt.Errorf("codec must be one of json, msgpack, cbor")
	}
	switch c.Backend {
	case BackendNone, BackendFile, BackendRedis:
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	default:
		return fmt.Errorf("backend must be one of none, file, postgres, redis")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	return nil
}

// DatabaseConfig controls PostgreSQL connectivity for the postgres snapshot backend.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/wgg"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be within [0, maxConns]")
	}
	if c.MaxConnLifetime <= 0 || c.MaxConnIdleTime <= 0 || c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("connection lifetimes must be >0")
	}
	return nil
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	AllowedOrigin     string        `yaml:"allowedOrigin"`
}

func (c *ServerConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	c.AllowedOrigin = strings.TrimSpace(c.AllowedOrigin)
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
	}
}

// LoggingConfig selects the process logger level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the unified wgg application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment                     `yaml:"environment"`
	Vendors     map[product.Vendor]VendorConfig `yaml:"vendors"`
	Cache       CacheConfig                     `yaml:"cache"`
	Promotions  PromotionsConfig                `yaml:"promotions"`
	Scheduler   SchedulerConfig                 `yaml:"scheduler"`
	Snapshot    SnapshotConfig                  `yaml:"snapshot"`
	Server      ServerConfig                    `yaml:"server"`
	Telemetry   TelemetryConfig                 `yaml:"telemetry"`
	Logging     LoggingConfig                   `yaml:"logging"`
}

// DefaultAppConfig returns a development configuration backed by fake vendors.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Vendors: map[product.Vendor]VendorConfig{
			product.VendorPicnic: {Enabled: true, Adapter: AdapterFake},
			product.VendorJumbo:  {Enabled: true, Adapter: AdapterFake},
		},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads, applies environment overrides to, and validates an AppConfig from the
// provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return finalise(cfg, nil)
}

// LoadOrDefault behaves like Load but falls back to DefaultAppConfig when the file does
// not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, err
	}
	return finalise(DefaultAppConfig(), nil)
}

func finalise(cfg AppConfig, environ map[string]string) (AppConfig, error) {
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.applyEnv(environ); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	normalised := make(map[product.Vendor]VendorConfig, len(c.Vendors))
	for key, value := range c.Vendors {
		vendor, err := product.ParseVendor(string(key))
		if err != nil {
			return fmt.Errorf("vendors: %w", err)
		}
		if _, exists := normalised[vendor]; exists {
			return fmt.Errorf("duplicate vendor name %q", vendor)
		}
		value.applyDefaults()
		normalised[vendor] = value
	}
	c.Vendors = normalised

	c.Environment = Environment(normalizeKeyword(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Cache.applyDefaults()
	c.Promotions.applyDefaults()
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = 500 * time.Millisecond
	}
	c.Snapshot.applyDefaults()
	c.Server.applyDefaults()

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "wgg"
	}
	c.Logging.Level = normalizeKeyword(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeKeyword(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	for vendor, vc := range c.Vendors {
		if !vc.Enabled {
			continue
		}
		if err := vc.validate(); err != nil {
			return fmt.Errorf("vendors.%s: %w", vendor, err)
		}
		if vc.Adapter == AdapterFake && c.Environment == EnvProd {
			return fmt.Errorf("vendors.%s: fake adapter not allowed in prod", vendor)
		}
	}
	if len(c.EnabledVendors()) == 0 {
		return fmt.Errorf("at least one vendor must be enabled")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache maxEntries must be >0")
	}
	if c.Cache.TTL <= 0 || c.Promotions.TTL <= 0 {
		return fmt.Errorf("cache and promotions ttl must be >0")
	}
	if c.Promotions.DetailConcurrency <= 0 {
		return fmt.Errorf("promotions detailConcurrency must be >0")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler tick must be >0")
	}
	if err := c.Snapshot.validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

// EnabledVendors returns the enabled vendors in a stable order.
func (c AppConfig) EnabledVendors() []product.Vendor {
	out := make([]product.Vendor, 0, len(c.Vendors))
	for vendor, vc := range c.Vendors {
		if vc.Enabled {
			out = append(out, vendor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
