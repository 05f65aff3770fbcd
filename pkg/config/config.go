package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/llvm/lnt/pkg/fsutil"
	"github.com/llvm/lnt/pkg/testsuite"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8000"

	// DefaultDatabaseName is the name of the database created when the
	// config declares none. It is served under api/db_default/.
	DefaultDatabaseName = "default"

	// DefaultSQLitePath is the SQLite file used by the implicit database.
	DefaultSQLitePath = "lnt.db"

	// DefaultSuite is the test suite enabled on databases that list none.
	DefaultSuite = "nts"

	// DefaultExportConcurrency is the number of documents rendered in
	// parallel by the export command.
	DefaultExportConcurrency = 4

	// DefaultPostgresPort is used when a postgres database omits the port.
	DefaultPostgresPort = 5432

	envPrefix = "LNT"
)

// Config is the root configuration for an LNT instance.
type Config struct {
	Global     GlobalConfig               `yaml:"global" mapstructure:"global"`
	Server     ServerConfig               `yaml:"server" mapstructure:"server"`
	Databases  map[string]*DatabaseConfig `yaml:"databases" mapstructure:"databases"`
	TestSuites []testsuite.Suite          `yaml:"test_suites,omitempty" mapstructure:"test_suites"`
	Export     ExportConfig               `yaml:"export,omitempty" mapstructure:"export"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	Name     string `yaml:"name,omitempty" mapstructure:"name"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting of the API routes.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains connection settings for one LNT database and the
// test suites it hosts.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
	Suites   []string             `yaml:"suites,omitempty" mapstructure:"suites"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ExportConfig configures the static JSON export.
type ExportConfig struct {
	Concurrency int `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	// Owner is an optional "UID:GID" applied to every exported file.
	Owner string          `yaml:"owner,omitempty" mapstructure:"owner"`
	S3    *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains settings for publishing exports to S3-compatible
// storage.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// Load reads and merges the given configuration files in order. Values can
// be overridden with LNT_ prefixed environment variables, e.g.
// LNT_SERVER_LISTEN or LNT_GLOBAL_LOG_LEVEL. With no paths the defaults
// plus environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known to viper for AutomaticEnv to reach them.
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.name", "")
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.requests_per_minute", 0)
	v.SetDefault("export.concurrency", DefaultExportConcurrency)
	v.SetDefault("export.owner", "")

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if len(c.Databases) == 0 {
		c.Databases = map[string]*DatabaseConfig{
			DefaultDatabaseName: {
				Driver: "sqlite",
				SQLite: SQLiteDatabaseConfig{Path: DefaultSQLitePath},
			},
		}
	}

	for _, db := range c.Databases {
		if db == nil {
			continue
		}

		if db.Driver == "" {
			db.Driver = "sqlite"
		}

		if len(db.Suites) == 0 {
			db.Suites = []string{DefaultSuite}
		}

		if db.Driver == "postgres" {
			if db.Postgres.Port == 0 {
				db.Postgres.Port = DefaultPostgresPort
			}

			if db.Postgres.SSLMode == "" {
				db.Postgres.SSLMode = "disable"
			}
		}
	}

	if c.Export.Concurrency <= 0 {
		c.Export.Concurrency = DefaultExportConcurrency
	}
}

var databaseNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	custom := make(map[string]struct{}, len(c.TestSuites))

	for i := range c.TestSuites {
		s := &c.TestSuites[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("test_suites[%d]: %w", i, err)
		}

		if _, dup := custom[s.Name]; dup {
			return fmt.Errorf("test_suites[%d]: duplicate suite %q", i, s.Name)
		}

		custom[s.Name] = struct{}{}
	}

	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database must be configured")
	}

	for name, db := range c.Databases {
		if db == nil {
			return fmt.Errorf("database %q: empty definition", name)
		}

		if !databaseNameRe.MatchString(name) {
			return fmt.Errorf("database %q: invalid name", name)
		}

		switch db.Driver {
		case "sqlite":
			if db.SQLite.Path == "" {
				return fmt.Errorf("database %q: sqlite.path is required", name)
			}
		case "postgres":
			if db.Postgres.Host == "" || db.Postgres.Database == "" {
				return fmt.Errorf(
					"database %q: postgres.host and postgres.database are required",
					name,
				)
			}
		default:
			return fmt.Errorf("database %q: unsupported driver %q", name, db.Driver)
		}

		seen := make(map[string]struct{}, len(db.Suites))

		for _, suite := range db.Suites {
			if _, dup := seen[suite]; dup {
				return fmt.Errorf("database %q: duplicate suite %q", name, suite)
			}

			seen[suite] = struct{}{}

			if _, err := c.Suite(suite); err != nil {
				return fmt.Errorf("database %q: %w", name, err)
			}
		}
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_minute must be positive")
	}

	if _, err := fsutil.ParseOwner(c.Export.Owner); err != nil {
		return fmt.Errorf("export.owner: %w", err)
	}

	if s3 := c.Export.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when s3 is enabled")
	}

	return nil
}

// Suite resolves a suite name against the configured custom suites first
// and the built-in catalog second.
func (c *Config) Suite(name string) (*testsuite.Suite, error) {
	for i := range c.TestSuites {
		if c.TestSuites[i].Name == name {
			s := c.TestSuites[i]
			s.Metrics = append([]testsuite.Metric(nil), s.Metrics...)

			return &s, nil
		}
	}

	if s, ok := testsuite.Builtin(name); ok {
		return s, nil
	}

	return nil, fmt.Errorf("unknown test suite %q", name)
}

// Database returns the named database configuration.
func (c *Config) Database(name string) (*DatabaseConfig, error) {
	db, ok := c.Databases[name]
	if !ok || db == nil {
		return nil, fmt.Errorf("unknown database %q", name)
	}

	return db, nil
}

// DatabaseSuites resolves every suite enabled on the named database.
func (c *Config) DatabaseSuites(name string) ([]*testsuite.Suite, error) {
	db, err := c.Database(name)
	if err != nil {
		return nil, err
	}

	suites := make([]*testsuite.Suite, 0, len(db.Suites))

	for _, sn := range db.Suites {
		s, err := c.Suite(sn)
		if err != nil {
			return nil, err
		}

		suites = append(suites, s)
	}

	return suites, nil
}
