package app

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/pms/internal/archive"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	DefaultConcurrency    = 4
	DefaultListenAddress  = ":8000"
	DefaultAPIPrefix      = "/api"
	DefaultMaxUploadBytes = 500 << 20
	DefaultWindow         = 24 * time.Hour
	DefaultNATSSubject    = "pms.ingest.reports"
	DefaultRedisTTL       = 10 * time.Minute

	defaultNatsConnectTimeout = 60 * time.Second
	defaultPostgresMaxConns   = 10
)

var (
	ErrConfig = errors.New("configuration error")
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// ListenAddress is the HTTP API listen address.
	ListenAddress string `mapstructure:"listen_address"`

	// APIPrefix is the path prefix the ingest and query routes are mounted under.
	APIPrefix string `mapstructure:"api_prefix"`

	// Concurrency is the count of archive entries processed concurrently.
	Concurrency int `mapstructure:"concurrency"`

	// Size ceilings in bytes.
	MaxUploadBytes  int64 `mapstructure:"max_upload_bytes"`
	MaxEntryBytes   int64 `mapstructure:"max_entry_bytes"`
	MaxArchiveBytes int64 `mapstructure:"max_archive_bytes"`

	// WarningWindow is how far back a Critical event marks an asset as a warning asset.
	WarningWindow time.Duration `mapstructure:"warning_window"`

	// RecentWindow is how far back events are counted as recent logs.
	RecentWindow time.Duration `mapstructure:"recent_window"`

	// The record store - one of memory OR postgres
	StoreKind model.StoreKind `mapstructure:"store_kind"`

	// Postgres is required when StoreKind is set to postgres.
	Postgres *PostgresOptions `mapstructure:"postgres"`

	// Redis enables the shared dashboard statistics cache when an address is set.
	Redis *RedisOptions `mapstructure:"redis"`

	// NATS enables processing report publishing when an URL is set.
	NATS *NATSOptions `mapstructure:"nats"`
}

// PostgresOptions defines the Postgres store connection parameters.
type PostgresOptions struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// RedisOptions defines the dashboard statistics cache parameters.
type RedisOptions struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`

	// Scope namespaces the cached statistics, instances sharing a Redis only share
	// statistics when their scopes are equal. See Configuration.StatsCacheScope.
	Scope string `mapstructure:"scope"`
}

// NATSOptions defines the report publisher parameters.
type NATSOptions struct {
	URL            string        `mapstructure:"url"`
	Subject        string        `mapstructure:"subject"`
	CredsFile      string        `mapstructure:"creds_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StatsCacheScope returns the namespace of the cached dashboard statistics.
//
// A configured redis.scope is returned as is. Postgres backed instances share the
// statistics of the same database, the scope is derived from the DSN. An empty value is
// returned for the memory store, its statistics are private to the process.
func (c *Configuration) StatsCacheScope() string {
	switch {
	case c.Redis != nil && c.Redis.Scope != "":
		return c.Redis.Scope
	case c.StoreKind == model.StoreKindPostgres && c.Postgres != nil:
		return "postgres-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Postgres.DSN)).String()
	default:
		return ""
	}
}

// ArchiveLimits returns the configured archive size ceilings.
func (c *Configuration) ArchiveLimits() archive.Limits {
	return archive.Limits{MaxEntryBytes: c.MaxEntryBytes, MaxArchiveBytes: c.MaxArchiveBytes}
}

// LoadConfiguration loads application configuration
//
// Reads in the cfgFile when available and overrides from environment variables.
func (a *App) LoadConfiguration(cfgFile string) error {
	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	// these are initialized here so viper can read in configuration from env vars
	// once https://github.com/spf13/viper/pull/1429 is merged, this can go.
	a.Config.Postgres = &PostgresOptions{}
	a.Config.Redis = &RedisOptions{}
	a.Config.NATS = &NATSOptions{}

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	a.setDefaults()

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	return a.Config.validate()
}

func (a *App) setDefaults() {
	a.v.SetDefault("log_level", "info")
	a.v.SetDefault("listen_address", DefaultListenAddress)
	a.v.SetDefault("api_prefix", DefaultAPIPrefix)
	a.v.SetDefault("concurrency", DefaultConcurrency)
	a.v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	a.v.SetDefault("max_entry_bytes", archive.DefaultMaxEntryBytes)
	a.v.SetDefault("max_archive_bytes", archive.DefaultMaxArchiveBytes)
	a.v.SetDefault("warning_window", DefaultWindow)
	a.v.SetDefault("recent_window", DefaultWindow)
	a.v.SetDefault("store_kind", string(model.StoreKindMemory))
	a.v.SetDefault("postgres.max_conns", defaultPostgresMaxConns)
	a.v.SetDefault("redis.ttl", DefaultRedisTTL)
	a.v.SetDefault("nats.subject", DefaultNATSSubject)
	a.v.SetDefault("nats.connect_timeout", defaultNatsConnectTimeout)
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// nolint:gocyclo // parameter validation is cyclomatic
func (c *Configuration) validate() error {
	if !slices.Contains(model.StoreKinds(), c.StoreKind) {
		return errors.Wrap(ErrConfig, "unknown store kind: "+string(c.StoreKind))
	}

	if c.StoreKind == model.StoreKindPostgres && c.Postgres.DSN == "" {
		return errors.Wrap(ErrConfig, "postgres.dsn not defined")
	}

	if c.Concurrency <= 0 {
		return errors.Wrap(ErrConfig, "concurrency must be positive")
	}

	if c.MaxUploadBytes <= 0 || c.MaxEntryBytes <= 0 || c.MaxArchiveBytes <= 0 {
		return errors.Wrap(ErrConfig, "size ceilings must be positive")
	}

	if c.MaxEntryBytes > c.MaxArchiveBytes {
		return errors.Wrap(ErrConfig, "max_entry_bytes exceeds max_archive_bytes")
	}

	if c.WarningWindow <= 0 || c.RecentWindow <= 0 {
		return errors.Wrap(ErrConfig, "warning_window and recent_window must be positive")
	}

	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return errors.Wrap(ErrConfig, "api_prefix must begin with a slash: "+c.APIPrefix)
	}

	c.APIPrefix = strings.TrimSuffix(c.APIPrefix, "/")

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.Wrap(ErrConfig, "nats.subject not defined")
	}

	return nil
}
