package sqlite

import (
	"fmt"
	"strings"
)

// Config contains SQLite-specific connection options.
type Config struct {
	Path           string
	BusyTimeoutMs  int
	ConnectRetries int
}

// DefaultBusyTimeoutMs returns how long SQLite waits on a locked database file.
func DefaultBusyTimeoutMs() int {
	return 5000
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		BusyTimeoutMs: DefaultBusyTimeoutMs(),
	}

	path, ok := config["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return nil, fmt.Errorf("in-memory databases are not supported; catalog migrations need a file")
	}
	cfg.Path = path

	if timeout, ok := config["busy_timeout_ms"].(float64); ok { // JSON numbers are float64
		cfg.BusyTimeoutMs = int(timeout)
	} else if timeout, ok := config["busy_timeout_ms"].(int); ok {
		cfg.BusyTimeoutMs = timeout
	}

	if retries, ok := config["connect_retries"].(int); ok {
		cfg.ConnectRetries = retries
	}

	return cfg, nil
}
