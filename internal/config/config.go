// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g. INDEXER_SERVER_PORT.
const EnvPrefix = "INDEXER"

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sites    []crawler.Seed `mapstructure:"sites"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// IndexingConfig governs crawl pacing and run triggering.
type IndexingConfig struct {
	Delay        time.Duration `mapstructure:"delay"`
	SiteDeadline time.Duration `mapstructure:"site_deadline"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// HTTPConfig configures the page fetcher and its retry behavior.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ArchiveConfig selects where raw page bodies are copied.
type ArchiveConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalArchiveConfig `mapstructure:"local"`
}

// LocalArchiveConfig configures the filesystem archive backend.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for site status notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("indexing.delay", "500ms")
	v.SetDefault("indexing.site_deadline", "1h")
	v.SetDefault("indexing.run_on_start", false)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; IndexerBot/1.0)")
	v.SetDefault("http.connect_timeout", "10s")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("http.retry_delay", "0s")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate", true)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Indexing.Delay < 0 {
		return fmt.Errorf("indexing.delay must be >= 0")
	}
	if c.Indexing.SiteDeadline <= 0 {
		return fmt.Errorf("indexing.site_deadline must be > 0")
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http.connect_timeout and http.read_timeout must be > 0")
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be >= 1")
	}
	if err := validateSites(c.Sites); err != nil {
		return err
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local archive backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	return nil
}

func validateSites(sites []crawler.Seed) error {
	seen := make(map[string]struct{}, len(sites))
	for i, site := range sites {
		if site.URL == "" {
			return fmt.Errorf("sites[%d].url is required", i)
		}
		if !strings.HasPrefix(site.URL, "http://") && !strings.HasPrefix(site.URL, "https://") {
			return fmt.Errorf("sites[%d].url %q must start with http:// or https://", i, site.URL)
		}
		if _, dup := seen[site.URL]; dup {
			return fmt.Errorf("sites[%d].url %q is listed more than once", i, site.URL)
		}
		seen[site.URL] = struct{}{}
	}
	return nil
}

// Seeds returns the configured sites in order. It implements crawler.SeedSource.
func (c Config) Seeds() []crawler.Seed {
	out := make([]crawler.Seed, len(c.Sites))
	copy(out, c.Sites)
	return out
}
