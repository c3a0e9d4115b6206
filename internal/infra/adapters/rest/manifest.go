package rest

import (
	"context"

	"github.com/coachpo/wgg/internal/app/provider"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/config"
)

var restAdapterMetadata = provider.AdapterMetadata{
	Identifier:  string(config.AdapterREST),
	DisplayName: "Vendor gateway",
	Description: "Normalized JSON gateway with bearer-token sessions",
	SettingsSchema: []provider.AdapterSetting{
		{Name: "baseURL", Type: "string", Description: "Gateway base URL", Required: true},
		{Name: "username", Type: "string", Description: "Login user; empty disables login", Required: false},
		{Name: "password", Type: "string", Description: "Login password", Required: false},
		{Name: "timeout", Type: "duration", Description: "HTTP client timeout", Default: defaultHTTPTimeout.String(), Required: false},
	},
}

// RegisterFactory installs the REST adapter factory into the registry.
func RegisterFactory(reg *provider.Registry) {
	if reg == nil {
		return
	}
	reg.RegisterWithMetadata(restAdapterMetadata, func(_ context.Context, v product.Vendor, cfg config.VendorConfig) (vendor.Client, error) {
		return New(Config{
			Vendor:      v,
			BaseURL:     cfg.BaseURL,
			Username:    cfg.Username,
			Password:    cfg.Password,
			HTTPTimeout: cfg.Timeout,
		})
	})
}
