package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/coachpo/wgg/internal/domain/product"
)

// EnvPrefix prefixes every environment override understood by wgg.
const EnvPrefix = "WGG_"

// envOverrides lists settings operators commonly inject through the environment,
// credentials in particular. Unset variables leave the YAML value untouched.
type envOverrides struct {
	Environment       string `env:"ENVIRONMENT"`
	LogLevel          string `env:"LOG_LEVEL"`
	LogFormat         string `env:"LOG_FORMAT"`
	SnapshotBackend   string `env:"SNAPSHOT_BACKEND"`
	SnapshotPath      string `env:"SNAPSHOT_PATH"`
	SnapshotDSN       string `env:"SNAPSHOT_DSN"`
	SnapshotRedisAddr string `env:"SNAPSHOT_REDIS_ADDR"`
	OTLPEndpoint      string `env:"OTLP_ENDPOINT"`
	ServerAddr        string `env:"SERVER_ADDR"`

	Picnic vendorOverrides `envPrefix:"PICNIC_"`
	Jumbo  vendorOverrides `envPrefix:"JUMBO_"`
}

type vendorOverrides struct {
	BaseURL  string `env:"BASE_URL"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// applyEnv overlays WGG_* variables. A nil environ reads the process environment.
func (c *AppConfig) applyEnv(environ map[string]string) error {
	var raw envOverrides
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setKeyword := func(dst *string, value string) {
		if v := normalizeKeyword(value); v != "" {
			*dst = v
		}
	}
	setString := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}

	if v := normalizeKeyword(raw.Environment); v != "" {
		c.Environment = Environment(v)
	}
	setKeyword(&c.Logging.Level, raw.LogLevel)
	setKeyword(&c.Logging.Format, raw.LogFormat)
	if v := normalizeKeyword(raw.SnapshotBackend); v != "" {
		c.Snapshot.Backend = SnapshotBackend(v)
	}
	setString(&c.Snapshot.Path, raw.SnapshotPath)
	if v := strings.TrimSpace(raw.SnapshotDSN); v != "" {
		c.Snapshot.DSN = v
		c.Snapshot.Database.DSN = v
	}
	setString(&c.Snapshot.RedisAddr, raw.SnapshotRedisAddr)
	setString(&c.Telemetry.OTLPEndpoint, raw.OTLPEndpoint)
	setString(&c.Server.Addr, raw.ServerAddr)

	for vendor, ov := range map[product.Vendor]vendorOverrides{
		product.VendorPicnic: raw.Picnic,
		product.VendorJumbo:  raw.Jumbo,
	} {
		vc, ok := c.Vendors[vendor]
		if !ok {
			continue
		}
		if v := strings.TrimRight(strings.TrimSpace(ov.BaseURL), "/"); v != "" {
			vc.BaseURL = v
		}
		setString(&vc.Username, ov.Username)
		if ov.Password != "" {
			vc.Password = ov.Password
		}
		c.Vendors[vendor] = vc
	}
	return nil
}
