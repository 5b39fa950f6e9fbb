package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

func dsnUsesInsecureSSL(dsn string) bool {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return false
	}
	q := strings.TrimSpace(strings.ToLower(u.Query().Get("sslmode")))
	return q == "disable" || q == "allow" || q == "prefer"
}

func isSecureRPCURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https") || strings.EqualFold(u.Scheme, "wss")
}

// ParseLevel maps a config log level onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level must be one of debug|info|warn|error: %w", err)
	}
	return lvl, nil
}

func boolPtr(v bool) *bool {
	return &v
}
