// Package config provides configuration loading and management for feedsync.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/feedsync/internal/telemetry"
)

const (
	// StrategyTypeFeed discovers items from an RSS, Atom or JSON feed
	StrategyTypeFeed = "feed"

	// StrategyTypeAPI discovers items from a JSON listing endpoint
	StrategyTypeAPI = "api"

	// StrategyTypePage discovers items by scraping an HTML listing page
	StrategyTypePage = "page"
)

const (
	// StorageTypeFile keeps coordination state in JSON files under the data directory
	StorageTypeFile = "file"

	// StorageTypeSQLite keeps coordination state in an embedded SQLite database
	StorageTypeSQLite = "sqlite"

	// StorageTypePostgres keeps coordination state in PostgreSQL
	StorageTypePostgres = "postgres"
)

const (
	// DefaultLimit is the number of items kept per source when neither the source nor defaults set one
	DefaultLimit = 10

	// DefaultStrategyTimeout bounds a single discovery strategy call
	DefaultStrategyTimeout = 30 * time.Second

	// DefaultInterval is the time between scheduled bulk runs
	DefaultInterval = time.Hour

	// DefaultStaleAfter is the age after which a queued request is evicted
	DefaultStaleAfter = 30 * time.Minute

	// DefaultMaxAttempts is the number of download attempts per item
	DefaultMaxAttempts = 3

	// DefaultDataDir is where items and file-backed state are written
	DefaultDataDir = "./data"

	// PasswordEnvVar is read when no password file is configured for postgres
	PasswordEnvVar = "FEEDSYNC_DATABASE_PASSWORD"

	// EnvPrefix is the prefix of environment variables bound to CLI flags
	EnvPrefix = "FEEDSYNC"
)

// Source ids name directories under the data dir
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Sources   []SourceConfig    `yaml:"sources"`
	Defaults  *DefaultsConfig   `yaml:"defaults,omitempty"`
	Schedule  *ScheduleConfig   `yaml:"schedule,omitempty"`
	Queue     *QueueConfig      `yaml:"queue,omitempty"`
	Fetch     *FetchConfig      `yaml:"fetch,omitempty"`
	Storage   *StorageConfig    `yaml:"storage,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SourceConfig defines a single content source
type SourceConfig struct {
	// ID identifies the source in the API, the queue and on disk
	ID string `yaml:"id"`

	// Limit is the number of most recent items to keep. Zero uses defaults.limit.
	Limit int `yaml:"limit,omitempty"`

	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled,omitempty"`

	// Strategies are tried in order, fastest first
	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig defines one discovery strategy for a source
type StrategyConfig struct {
	// Type is one of feed, api or page
	Type string `yaml:"type"`

	// URL is the feed, endpoint or page to read
	URL string `yaml:"url"`

	// Timeout overrides defaults.strategyTimeout (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	API  *APIStrategyConfig  `yaml:"api,omitempty"`
	Page *PageStrategyConfig `yaml:"page,omitempty"`
}

// APIStrategyConfig holds gjson paths used to pull items out of a JSON listing
type APIStrategyConfig struct {
	ItemsPath     string `yaml:"itemsPath,omitempty"`
	IDPath        string `yaml:"idPath,omitempty"`
	URLPath       string `yaml:"urlPath,omitempty"`
	PublishedPath string `yaml:"publishedPath,omitempty"`
	TitlePath     string `yaml:"titlePath,omitempty"`
}

// PageStrategyConfig holds CSS selectors used to scrape an HTML listing page
type PageStrategyConfig struct {
	ItemSelector  string `yaml:"itemSelector"`
	LinkSelector  string `yaml:"linkSelector,omitempty"`
	LinkAttr      string `yaml:"linkAttr,omitempty"`
	TimeSelector  string `yaml:"timeSelector,omitempty"`
	TimeAttr      string `yaml:"timeAttr,omitempty"`
	TitleSelector string `yaml:"titleSelector,omitempty"`
}

// DefaultsConfig holds values applied to every source unless overridden
type DefaultsConfig struct {
	Limit           int    `yaml:"limit,omitempty"`
	StrategyTimeout string `yaml:"strategyTimeout,omitempty"`
}

// ScheduleConfig controls the bulk run ticker
type ScheduleConfig struct {
	Interval     string `yaml:"interval,omitempty"`
	InitialDelay string `yaml:"initialDelay,omitempty"`
}

// QueueConfig controls the on-demand wait queue
type QueueConfig struct {
	StaleAfter string `yaml:"staleAfter,omitempty"`
}

// FetchConfig controls item downloads
type FetchConfig struct {
	// RateLimit is the number of downloads per second. Zero disables limiting.
	RateLimit   float64 `yaml:"rateLimit,omitempty"`
	MaxAttempts int     `yaml:"maxAttempts,omitempty"`
	Timeout     string  `yaml:"timeout,omitempty"`
	UserAgent   string  `yaml:"userAgent,omitempty"`
}

// StorageConfig selects and configures the state backend
type StorageConfig struct {
	Type     string          `yaml:"type,omitempty"`
	DataDir  string          `yaml:"dataDir,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres *DatabaseConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig defines the embedded database location
type SQLiteConfig struct {
	// Path defaults to <dataDir>/state/feedsync.db
	Path string `yaml:"path,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FEEDSYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// IsEnabled reports whether the source takes part in runs
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GetDefaultLimit returns the limit used by sources that do not set one
func (c *Config) GetDefaultLimit() int {
	if c.Defaults == nil || c.Defaults.Limit <= 0 {
		return DefaultLimit
	}
	return c.Defaults.Limit
}

// GetSourceLimit returns the effective limit for a source
func (c *Config) GetSourceLimit(src *SourceConfig) int {
	if src.Limit > 0 {
		return src.Limit
	}
	return c.GetDefaultLimit()
}

// GetStrategyTimeout returns the effective timeout for one strategy
func (c *Config) GetStrategyTimeout(st *StrategyConfig) time.Duration {
	if st.Timeout != "" {
		if d, err := time.ParseDuration(st.Timeout); err == nil {
			return d
		}
	}
	if c.Defaults != nil && c.Defaults.StrategyTimeout != "" {
		if d, err := time.ParseDuration(c.Defaults.StrategyTimeout); err == nil {
			return d
		}
	}
	return DefaultStrategyTimeout
}

// GetInterval returns the bulk run interval
func (c *Config) GetInterval() time.Duration {
	if c.Schedule == nil {
		return DefaultInterval
	}
	return parseDurationOr(c.Schedule.Interval, DefaultInterval)
}

// GetInitialDelay returns the delay before the first scheduled run
func (c *Config) GetInitialDelay() time.Duration {
	if c.Schedule == nil {
		return 0
	}
	return parseDurationOr(c.Schedule.InitialDelay, 0)
}

// GetStaleAfter returns the age after which queued requests are evicted
func (c *Config) GetStaleAfter() time.Duration {
	if c.Queue == nil {
		return DefaultStaleAfter
	}
	return parseDurationOr(c.Queue.StaleAfter, DefaultStaleAfter)
}

// GetFetchConfig returns the fetch section, never nil
func (c *Config) GetFetchConfig() FetchConfig {
	if c.Fetch == nil {
		return FetchConfig{MaxAttempts: DefaultMaxAttempts}
	}
	fc := *c.Fetch
	if fc.MaxAttempts <= 0 {
		fc.MaxAttempts = DefaultMaxAttempts
	}
	return fc
}

// GetTimeout returns the per-request download timeout, zero meaning the client default
func (f FetchConfig) GetTimeout() time.Duration {
	return parseDurationOr(f.Timeout, 0)
}

// GetStorageType returns the configured storage backend, file by default
func (c *Config) GetStorageType() string {
	if c.Storage == nil || c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetDataDir returns the directory items and file-backed state are written to
func (c *Config) GetDataDir() string {
	if c.Storage == nil || c.Storage.DataDir == "" {
		return DefaultDataDir
	}
	return c.Storage.DataDir
}

// WithDataDir returns a shallow copy of c whose storage section points at dir
func (c *Config) WithDataDir(dir string) *Config {
	storage := StorageConfig{}
	if c.Storage != nil {
		storage = *c.Storage
	}
	storage.DataDir = dir

	copied := *c
	copied.Storage = &storage
	return &copied
}

// GetSQLitePath returns the database file used by the sqlite backend
func (c *Config) GetSQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.GetDataDir(), "state", "feedsync.db")
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Validate collects every configuration problem instead of stopping at the first
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("at least one source must be configured"))
	}

	ids := make(map[string]bool)
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.ID == "" {
			errs = append(errs, fmt.Errorf("source[%d]: id is required", i))
		} else if !sourceIDPattern.MatchString(src.ID) {
			errs = append(errs, fmt.Errorf("source[%d]: id '%s' may only contain letters, digits, '.', '_' and '-'", i, src.ID))
		} else if ids[src.ID] {
			errs = append(errs, fmt.Errorf("source[%d]: duplicate source id '%s'", i, src.ID))
		}
		ids[src.ID] = true

		errs = append(errs, validateSource(src, i)...)
	}

	if c.Defaults != nil {
		if c.Defaults.Limit < 0 {
			errs = append(errs, fmt.Errorf("defaults.limit must not be negative"))
		}
		errs = append(errs, validateDuration("defaults.strategyTimeout", c.Defaults.StrategyTimeout, false))
	}
	if c.Schedule != nil {
		errs = append(errs, validateDuration("schedule.interval", c.Schedule.Interval, false))
		errs = append(errs, validateDuration("schedule.initialDelay", c.Schedule.InitialDelay, true))
	}
	if c.Queue != nil {
		errs = append(errs, validateDuration("queue.staleAfter", c.Queue.StaleAfter, false))
	}
	if c.Fetch != nil {
		if c.Fetch.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("fetch.rateLimit must not be negative"))
		}
		if c.Fetch.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("fetch.maxAttempts must not be negative"))
		}
		errs = append(errs, validateDuration("fetch.timeout", c.Fetch.Timeout, false))
	}

	errs = append(errs, c.validateStorage())

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func validateSource(src *SourceConfig, index int) []error {
	prefix := fmt.Sprintf("source[%d] (%s)", index, src.ID)
	var errs []error

	if src.Limit < 0 {
		errs = append(errs, fmt.Errorf("%s: limit must not be negative", prefix))
	}
	if len(src.Strategies) == 0 {
		errs = append(errs, fmt.Errorf("%s: at least one strategy is required", prefix))
	}

	for j := range src.Strategies {
		st := &src.Strategies[j]
		stPrefix := fmt.Sprintf("%s: strategies[%d]", prefix, j)

		switch st.Type {
		case StrategyTypeFeed, StrategyTypeAPI:
		case StrategyTypePage:
			if st.Page == nil || st.Page.ItemSelector == "" {
				errs = append(errs, fmt.Errorf("%s: page.itemSelector is required", stPrefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: type must be one of %s, %s or %s, got '%s'",
				stPrefix, StrategyTypeFeed, StrategyTypeAPI, StrategyTypePage, st.Type))
		}

		if st.URL == "" {
			errs = append(errs, fmt.Errorf("%s: url is required", stPrefix))
		} else if u, err := url.Parse(st.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s: url must be an absolute http(s) URL", stPrefix))
		}

		if err := validateDuration(stPrefix+".timeout", st.Timeout, false); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeFile, StorageTypeSQLite:
		return nil
	case StorageTypePostgres:
		pg := c.Storage.Postgres
		if pg == nil {
			return fmt.Errorf("storage.postgres is required when storage.type is %s", StorageTypePostgres)
		}
		var errs []error
		if pg.Host == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.host is required"))
		}
		if pg.Port <= 0 {
			errs = append(errs, fmt.Errorf("storage.postgres.port must be positive"))
		}
		if pg.Database == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.database is required"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("storage.type must be one of %s, %s or %s, got '%s'",
			StorageTypeFile, StorageTypeSQLite, StorageTypePostgres, c.Storage.Type)
	}
}

// validateDuration returns nil for an empty value; zero is only accepted when allowZero is set
func validateDuration(field, value string, allowZero bool) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1h'): %w", field, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
