// Package config loads reconciler settings from a YAML file, .env files and
// RECONCILER_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/source"
)

// EnvPrefix prefixes every environment override, e.g. RECONCILER_STORE_PATH
const EnvPrefix = "RECONCILER"

// Store backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Source formats
const (
	FormatCSV  = "csv"
	FormatCKAN = "ckan"
)

// Config is the full reconciler configuration
type Config struct {
	Log       logging.Config  `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Features  FeatureConfig   `mapstructure:"features"`
	Batch     BatchConfig     `mapstructure:"batch"`

	// ConfigFile is the file that was read, if any
	ConfigFile string `mapstructure:"-"`
}

// StoreConfig selects the override store
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig contains database connection settings. URL wins over the
// individual fields, which default to the PG* environment variables.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdle         int           `mapstructure:"max_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the connection string for lib/pq
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// SourcesConfig names the two input tables
type SourcesConfig struct {
	Live      SourceConfig `mapstructure:"live"`
	Reference SourceConfig `mapstructure:"reference"`
}

// SourceConfig describes where one input table comes from
type SourceConfig struct {
	ID           dataset.SourceID `mapstructure:"id"`
	Path         string           `mapstructure:"path"`
	Format       string           `mapstructure:"format"`
	Columns      source.Columns   `mapstructure:"columns"`
	TypeContains string           `mapstructure:"type_contains"`
	MinSize      int64            `mapstructure:"min_size"`
	MaxAge       time.Duration    `mapstructure:"max_age"`
}

// NormalizeConfig points at an optional YAML rule file
type NormalizeConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig contains API authentication settings
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	ExportEnabled         bool `mapstructure:"export_enabled"`
	ManualOverrideEnabled bool `mapstructure:"manual_override_enabled"`
}

// BatchConfig controls RunAll
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "overrides.csv")

	v.SetDefault("database.url", GetEnv("DATABASE_URL", ""))
	v.SetDefault("database.host", GetEnv("PGHOST", "localhost"))
	v.SetDefault("database.port", GetEnvInt("PGPORT", 5432))
	v.SetDefault("database.user", GetEnv("PGUSER", "postgres"))
	v.SetDefault("database.password", GetEnv("PGPASSWORD", ""))
	v.SetDefault("database.name", GetEnv("PGDATABASE", "substations"))
	v.SetDefault("database.sslmode", GetEnv("PGSSLMODE", "disable"))
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("sources.live.id", string(dataset.LivePrimaryFlows))
	v.SetDefault("sources.live.path", "")
	v.SetDefault("sources.live.format", FormatCSV)
	v.SetDefault("sources.live.columns.name", source.FlowColumns.Name)
	v.SetDefault("sources.live.min_size", 100)
	v.SetDefault("sources.live.max_age", 48*time.Hour)
	v.SetDefault("sources.reference.id", string(dataset.SubstationLocations))
	v.SetDefault("sources.reference.path", "")
	v.SetDefault("sources.reference.format", FormatCSV)
	v.SetDefault("sources.reference.columns.name", source.LocationColumns.Name)
	v.SetDefault("sources.reference.columns.id", source.LocationColumns.ID)
	v.SetDefault("sources.reference.columns.type", source.LocationColumns.Type)
	v.SetDefault("sources.reference.type_contains", "primary")

	v.SetDefault("normalize.rules_file", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", GetEnvInt("PORT", 8080))
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", GetEnv("API_KEY", ""))
	v.SetDefault("features.export_enabled", true)
	v.SetDefault("features.manual_override_enabled", true)
	v.SetDefault("batch.concurrency", 4)
}

// New returns a viper instance with defaults and environment binding set up
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. An explicit configFile must exist; otherwise
// reconciler.yaml is searched for in the working directory and is optional.
func Load(configFile string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadWith(New(), configFile)
}

// LoadWith reads configuration into an existing viper instance, which lets
// cobra flags be bound before loading.
func LoadWith(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("reconciler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return errors.NewValidationError("store.path", "", "file backend needs a path")
		}
	case BackendPostgres, BackendMemory:
	default:
		return errors.NewValidationError("store.backend", c.Store.Backend, "must be file, postgres or memory")
	}

	for name, s := range map[string]SourceConfig{"live": c.Sources.Live, "reference": c.Sources.Reference} {
		if s.ID == "" {
			return errors.NewValidationError("sources."+name+".id", "", "source id is required")
		}
		if s.Format != FormatCSV && s.Format != FormatCKAN {
			return errors.NewValidationError("sources."+name+".format", s.Format, "must be csv or ckan")
		}
	}
	if c.Sources.Reference.Format == FormatCKAN {
		return errors.NewValidationError("sources.reference.format", FormatCKAN, "the reference table carries ids and must be a CSV")
	}
	if c.Sources.Live.ID == c.Sources.Reference.ID {
		return errors.NewValidationError("sources", c.Sources.Live.ID, "live and reference sources must differ")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.NewValidationError("auth.api_key", "", "auth is enabled but no API key is set")
	}
	return nil
}
