package walletapi

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr    = ":3000"
	defaultAllowedOrigin = "http://localhost:8000"
)

// Config aggregates runtime settings for the wallet API.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	ProviderURL    string
	ProviderKey    string
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen addr is required")
	}
	if strings.TrimSpace(cfg.ProviderURL) == "" {
		return fmt.Errorf("provider url is required")
	}
	if strings.TrimSpace(cfg.ProviderKey) == "" {
		return fmt.Errorf("provider key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
