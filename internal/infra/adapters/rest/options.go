package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/wgg/internal/domain/product"
)

const (
	defaultHTTPTimeout   = 10 * time.Second
	defaultLoginAttempts = 3
	maxLoginInterval     = 2 * time.Second
	errorBodyLimit       = 4 << 10

	loginPath        = "/login"
	autocompletePath = "/autocomplete"
	searchPath       = "/search"
	productsPath     = "/products/"
	promotionsPath   = "/promotions"
)

// Config captures the settings of one vendor gateway.
type Config struct {
	Vendor        product.Vendor
	BaseURL       string
	Username      string
	Password      string
	HTTPTimeout   time.Duration
	LoginAttempts int
	HTTPClient    *http.Client
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = defaultLoginAttempts
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.HTTPTimeout}
	}
	return c
}

func (c Config) endpoint(path string) string {
	return c.BaseURL + path
}

func (c Config) hasCredentials() bool {
	return c.Username != "" || c.Password != ""
}
