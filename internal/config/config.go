// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SHOWCRAWLER_RATING_API_KEY.
const EnvPrefix = "SHOWCRAWLER"

// Backend names accepted by the database, rating, archive and pubsub sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Rating    RatingConfig    `mapstructure:"rating"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// CatalogConfig points the crawler at the show catalog service.
type CatalogConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryStep         time.Duration `mapstructure:"retry_step"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// CrawlerConfig governs the batch and search crawls and the start trigger.
type CrawlerConfig struct {
	BatchSize  int  `mapstructure:"batch_size"`
	SeedWindow int  `mapstructure:"seed_window"`
	AutoStart  bool `mapstructure:"auto_start"`
	// StartFrom seeds the queue on AutoStart; negative resumes after the
	// largest stored id.
	StartFrom int `mapstructure:"start_from"`
}

// WorkerConfig controls the background id worker.
type WorkerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DoneDelay    time.Duration `mapstructure:"done_delay"`
	EmptyDelay   time.Duration `mapstructure:"empty_delay"`
	BusyDelay    time.Duration `mapstructure:"busy_delay"`
	ErrorDelay   time.Duration `mapstructure:"error_delay"`
	RefillWindow int           `mapstructure:"refill_window"`
}

// DatabaseConfig selects the show store.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RatingConfig configures the enrichment pipeline.
type RatingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	UserAgent string `mapstructure:"user_agent"`
	// Backend stores the rating cache, breaker state and request queue.
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	TTL           time.Duration `mapstructure:"ttl"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	BatchSize     int           `mapstructure:"batch_size"`
	DrainSchedule string        `mapstructure:"drain_schedule"`
	Visibility    time.Duration `mapstructure:"visibility"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig selects where raw show payloads are copied.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the show-found topic.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// NotifyConfig lists shoutrrr URLs that receive show-found notifications.
type NotifyConfig struct {
	URLs []string `mapstructure:"urls"`
}

// TelemetryConfig toggles the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("catalog.base_url", "https://api.tvmaze.com")
	v.SetDefault("catalog.user_agent", "show-catalog-crawler/0.1")
	v.SetDefault("catalog.timeout", "10s")
	v.SetDefault("catalog.requests_per_second", 2.0)
	v.SetDefault("catalog.burst", 5)
	v.SetDefault("catalog.retry_step", "5s")
	v.SetDefault("catalog.max_retries", 0)

	v.SetDefault("crawler.batch_size", 20)
	v.SetDefault("crawler.seed_window", 30)
	v.SetDefault("crawler.auto_start", false)
	v.SetDefault("crawler.start_from", -1)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.done_delay", "50ms")
	v.SetDefault("worker.empty_delay", "20s")
	v.SetDefault("worker.busy_delay", "30s")
	v.SetDefault("worker.error_delay", "60s")
	v.SetDefault("worker.refill_window", 30)

	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.ensure_schema", false)

	v.SetDefault("rating.enabled", false)
	v.SetDefault("rating.api_key", "")
	v.SetDefault("rating.base_url", "https://www.omdbapi.com/")
	v.SetDefault("rating.user_agent", "show-catalog-crawler/0.1")
	v.SetDefault("rating.backend", BackendMemory)
	v.SetDefault("rating.sqlite_path", "ratings.db")
	v.SetDefault("rating.ttl", "240h")
	v.SetDefault("rating.cooldown", "4h")
	v.SetDefault("rating.batch_size", 16)
	v.SetDefault("rating.drain_schedule", "@every 1m")
	v.SetDefault("rating.visibility", "5m")
	v.SetDefault("rating.timeout", "10s")

	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.dir", "data/archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "catalog")

	v.SetDefault("pubsub.backend", BackendNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
	v.SetDefault("notify.urls", []string{})

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "show-catalog-crawler")
}

func (c *Config) normalize() {
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	c.Rating.Backend = strings.ToLower(strings.TrimSpace(c.Rating.Backend))
	c.Archive.Backend = strings.ToLower(strings.TrimSpace(c.Archive.Backend))
	c.PubSub.Backend = strings.ToLower(strings.TrimSpace(c.PubSub.Backend))
	c.Rating.APIKey = strings.TrimSpace(c.Rating.APIKey)
	urls := c.Notify.URLs[:0]
	for _, u := range c.Notify.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	c.Notify.URLs = urls
}

// Validate enforces required values and reasonable limits. Every problem is
// reported, not only the first.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(strings.TrimSpace(c.Catalog.BaseURL) != "", "catalog.base_url is required")
	check(c.Catalog.Timeout > 0, "catalog.timeout must be > 0")
	check(c.Catalog.RequestsPerSecond >= 0, "catalog.requests_per_second must be >= 0")
	check(c.Catalog.MaxRetries >= 0, "catalog.max_retries must be >= 0")
	check(c.Catalog.MaxRetries == 0 || c.Catalog.RetryStep > 0, "catalog.retry_step must be > 0 when retries are enabled")
	check(c.Crawler.BatchSize > 0, "crawler.batch_size must be > 0")
	check(c.Crawler.SeedWindow > 0, "crawler.seed_window must be > 0")

	check(c.Worker.DoneDelay > 0, "worker.done_delay must be > 0")
	check(c.Worker.EmptyDelay > 0, "worker.empty_delay must be > 0")
	check(c.Worker.BusyDelay > 0, "worker.busy_delay must be > 0")
	check(c.Worker.ErrorDelay > 0, "worker.error_delay must be > 0")
	check(c.Worker.RefillWindow > 0, "worker.refill_window must be > 0")

	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		check(strings.TrimSpace(c.Database.DSN) != "", "database.dsn is required when database.backend is postgres")
	default:
		errs = append(errs, fmt.Errorf("database.backend %q is not one of memory, postgres", c.Database.Backend))
	}

	if c.Rating.Enabled {
		check(c.Rating.APIKey != "", "rating.api_key is required when rating is enabled")
		check(strings.TrimSpace(c.Rating.BaseURL) != "", "rating.base_url is required when rating is enabled")
		check(c.Rating.TTL > 0, "rating.ttl must be > 0")
		check(c.Rating.Cooldown > 0, "rating.cooldown must be > 0")
		check(c.Rating.BatchSize > 0, "rating.batch_size must be > 0")
		check(c.Rating.Visibility > 0, "rating.visibility must be > 0")
		check(strings.TrimSpace(c.Rating.DrainSchedule) != "", "rating.drain_schedule is required when rating is enabled")
		switch c.Rating.Backend {
		case BackendMemory:
		case BackendSQLite:
			check(strings.TrimSpace(c.Rating.SQLitePath) != "", "rating.sqlite_path is required when rating.backend is sqlite")
		default:
			errs = append(errs, fmt.Errorf("rating.backend %q is not one of memory, sqlite", c.Rating.Backend))
		}
	}

	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		check(strings.TrimSpace(c.Archive.Dir) != "", "archive.dir is required when archive.backend is local")
	case BackendGCS:
		check(strings.TrimSpace(c.Archive.Bucket) != "", "archive.bucket is required when archive.backend is gcs")
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend))
	}

	switch c.PubSub.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		check(c.PubSub.ProjectID != "" && c.PubSub.TopicID != "",
			"pubsub.project_id and pubsub.topic_id are required when pubsub.backend is pubsub")
	default:
		errs = append(errs, fmt.Errorf("pubsub.backend %q is not one of none, memory, pubsub", c.PubSub.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
