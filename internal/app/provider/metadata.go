package provider

import (
	"slices"

	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/infra/config"
)

// AdapterMetadata describes static metadata about a vendor adapter.
type AdapterMetadata struct {
	Identifier     string           `json:"identifier"`
	DisplayName    string           `json:"displayName,omitempty"`
	Description    string           `json:"description,omitempty"`
	SettingsSchema []AdapterSetting `json:"settingsSchema"`
}

// AdapterSetting details a user-configurable adapter parameter.
type AdapterSetting struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Required    bool   `json:"required"`
}

// Clone returns a copy that does not share the settings slice.
func (m AdapterMetadata) Clone() AdapterMetadata {
	m.SettingsSchema = slices.Clone(m.SettingsSchema)
	return m
}

// RuntimeMetadata summarizes a started vendor.
type RuntimeMetadata struct {
	Vendor   product.Vendor `json:"vendor"`
	Adapter  config.Adapter `json:"adapter"`
	LoggedIn bool           `json:"loggedIn"`
	Settings map[string]any `json:"settings,omitempty"`
}
