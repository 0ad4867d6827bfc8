package mssql

import (
	"fmt"
	"strings"
)

// Config contains SQL Server-specific connection options. Only SQL
// authentication is supported.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Encrypt is passed to the driver: "true", "false", "strict" or "disable".
	Encrypt                string
	TrustServerCertificate bool
	ConnectionTimeout      int
	ConnectRetries         int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           "true",
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := config["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := config["port"].(int); ok {
		cfg.Port = port
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if user, ok := config["user"].(string); ok && user != "" {
		cfg.User = user
	} else if username, ok := config["username"].(string); ok && username != "" {
		cfg.User = username
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	// Support bool and string values: "true", "false", "strict", "disable".
	if encrypt, ok := config["encrypt"].(bool); ok {
		cfg.Encrypt = fmt.Sprintf("%t", encrypt)
	} else if encryptStr, ok := config["encrypt"].(string); ok && encryptStr != "" {
		switch strings.ToLower(encryptStr) {
		case "true", "false", "strict", "disable":
			cfg.Encrypt = strings.ToLower(encryptStr)
		default:
			return nil, fmt.Errorf("invalid encrypt value %q (must be true, false, strict or disable)", encryptStr)
		}
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok := config["connection_timeout"].(float64); ok {
		cfg.ConnectionTimeout = int(timeout)
	} else if timeout, ok := config["connection_timeout"].(int); ok {
		cfg.ConnectionTimeout = timeout
	}

	if retries, ok := config["connect_retries"].(int); ok {
		cfg.ConnectRetries = retries
	}

	return cfg, nil
}
