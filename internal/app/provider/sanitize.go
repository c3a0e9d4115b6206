package provider

import (
	"strings"

	"github.com/coachpo/wgg/internal/infra/config"
)

var (
	sensitiveFragments = []string{
		"secret",
		"token",
		"password",
		"username",
		"apikey",
		"access_token",
	}

	settingReplacer = strings.NewReplacer("-", "", "_", "", " ", "")
)

// VendorSettings flattens cfg into loggable key/value pairs with credentials removed.
func VendorSettings(cfg config.VendorConfig) map[string]any {
	return SanitizeSettings(map[string]any{
		"adapter":           string(cfg.Adapter),
		"baseURL":           cfg.BaseURL,
		"username":          cfg.Username,
		"password":          cfg.Password,
		"requestsPerSecond": cfg.RequestsPerSecond,
		"burst":             cfg.Burst,
		"timeout":           cfg.Timeout.String(),
	})
}

// SanitizeSettings returns a copy of settings with sensitive keys and empty strings removed.
func SanitizeSettings(settings map[string]any) map[string]any {
	if len(settings) == 0 {
		return nil
	}
	clean := make(map[string]any, len(settings))
	for key, value := range settings {
		if shouldOmitSettingKey(key) {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			nested := SanitizeSettings(v)
			if len(nested) == 0 {
				continue
			}
			clean[key] = nested
		case string:
			if v == "" {
				continue
			}
			clean[key] = v
		default:
			clean[key] = value
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func shouldOmitSettingKey(key string) bool {
	normalized := settingReplacer.Replace(strings.ToLower(strings.TrimSpace(key)))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, settingReplacer.Replace(fragment)) {
			return true
		}
	}
	return false
}
