package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigFile is read by Load.
const DefaultConfigFile = "config.yaml"

// Config holds all configuration for ekaya-tables.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Schema  SchemaConfig  `yaml:"schema"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // "json" or "console"
}

// StorageConfig selects and configures the storage adapter.
type StorageConfig struct {
	Type           string         `yaml:"type" env:"STORAGE_TYPE" env-default:"sqlite"`
	ConnectRetries int            `yaml:"connect_retries" env:"STORAGE_CONNECT_RETRIES" env-default:"3"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	Postgres       PostgresConfig `yaml:"postgres"`
	MSSQL          MSSQLConfig    `yaml:"mssql"`
}

// SQLiteConfig holds the SQLite database file settings.
type SQLiteConfig struct {
	Path          string `yaml:"path" env:"SQLITE_PATH" env-default:"ekaya-tables.db"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms" env:"SQLITE_BUSY_TIMEOUT_MS" env-default:"5000"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_tables"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// MSSQLConfig holds SQL Server connection settings.
type MSSQLConfig struct {
	Host     string `yaml:"host" env:"MSSQL_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"MSSQL_PORT" env-default:"1433"`
	User     string `yaml:"user" env:"MSSQL_USER" env-default:"sa"`
	Password string `yaml:"-" env:"MSSQL_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"MSSQL_DATABASE" env-default:"ekaya_tables"`
	Encrypt  string `yaml:"encrypt" env:"MSSQL_ENCRYPT" env-default:"true"`
}

// SchemaConfig holds settings for the schema service.
type SchemaConfig struct {
	// DefinitionsPath is an optional YAML file of table definitions applied at startup.
	DefinitionsPath string `yaml:"definitions_path" env:"SCHEMA_DEFINITIONS_PATH" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile(DefaultConfigFile, version)
}

// LoadFile reads configuration from the given YAML file with environment
// variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnv builds configuration from environment variables and defaults only.
// Used when no config file exists.
func LoadEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	if c.Storage.ConnectRetries < 0 {
		return fmt.Errorf("storage.connect_retries must not be negative")
	}

	switch c.Storage.Type {
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case "postgres":
		if err := requireServer("postgres", c.Storage.Postgres.Host, c.Storage.Postgres.User, c.Storage.Postgres.Database); err != nil {
			return err
		}
		if c.Storage.Postgres.MaxConns < 1 {
			return fmt.Errorf("storage.postgres.max_conns must be at least 1")
		}
	case "mssql":
		if err := requireServer("mssql", c.Storage.MSSQL.Host, c.Storage.MSSQL.User, c.Storage.MSSQL.Database); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage.type %q (expected sqlite, postgres or mssql)", c.Storage.Type)
	}

	return nil
}

func requireServer(section, host, user, database string) error {
	if host == "" {
		return fmt.Errorf("storage.%s.host is required", section)
	}
	if user == "" {
		return fmt.Errorf("storage.%s.user is required", section)
	}
	if database == "" {
		return fmt.Errorf("storage.%s.database is required", section)
	}
	return nil
}

// AdapterConfig returns the generic map consumed by the adapter factory
// registered for Type.
func (s *StorageConfig) AdapterConfig() map[string]any {
	switch s.Type {
	case "postgres":
		return map[string]any{
			"host":            s.Postgres.Host,
			"port":            s.Postgres.Port,
			"user":            s.Postgres.User,
			"password":        s.Postgres.Password,
			"database":        s.Postgres.Database,
			"ssl_mode":        s.Postgres.SSLMode,
			"max_conns":       int(s.Postgres.MaxConns),
			"connect_retries": s.ConnectRetries,
		}
	case "mssql":
		return map[string]any{
			"host":            s.MSSQL.Host,
			"port":            s.MSSQL.Port,
			"user":            s.MSSQL.User,
			"password":        s.MSSQL.Password,
			"database":        s.MSSQL.Database,
			"encrypt":         s.MSSQL.Encrypt,
			"connect_retries": s.ConnectRetries,
		}
	default:
		return map[string]any{
			"path":            s.SQLite.Path,
			"busy_timeout_ms": s.SQLite.BusyTimeoutMs,
			"connect_retries": s.ConnectRetries,
		}
	}
}
