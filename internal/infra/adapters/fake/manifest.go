package fake

import (
	"context"

	"github.com/coachpo/wgg/internal/app/provider"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/config"
)

var fakeAdapterMetadata = provider.AdapterMetadata{
	Identifier:  string(config.AdapterFake),
	DisplayName: "In-memory catalog",
	Description: "Deterministic seeded catalog for development and tests",
	SettingsSchema: []provider.AdapterSetting{
		{Name: "username", Type: "string", Description: "When set, calls fail with auth_expired until the first login", Required: false},
	},
}

// RegisterFactory installs the fake adapter factory into the registry.
func RegisterFactory(reg *provider.Registry) {
	if reg == nil {
		return
	}
	reg.RegisterWithMetadata(fakeAdapterMetadata, func(_ context.Context, v product.Vendor, cfg config.VendorConfig) (vendor.Client, error) {
		var opts []Option
		if cfg.Username != "" {
			opts = append(opts, WithLoginRequired())
		}
		return New(v, opts...), nil
	})
}
