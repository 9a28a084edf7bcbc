package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
indexing:
  delay: 250ms
  site_deadline: 30m
  run_on_start: true
http:
  user_agent: test-agent
  connect_timeout: 3s
  read_timeout: 7s
  max_attempts: 5
  retry_delay: 100ms
sites:
  - url: https://example.com
    name: Example
  - url: http://docs.example.org
    name: Docs
database:
  dsn: postgres://indexer@localhost/indexer
  max_conns: 8
  migrate: false
archive:
  backend: local
  prefix: raw
  local:
    base_dir: /tmp/indexer-archive
pubsub:
  project_id: demo
  topic_name: site-status
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 250*time.Millisecond, cfg.Indexing.Delay)
	require.Equal(t, 30*time.Minute, cfg.Indexing.SiteDeadline)
	require.True(t, cfg.Indexing.RunOnStart)
	require.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	require.Equal(t, 3*time.Second, cfg.HTTP.ConnectTimeout)
	require.Equal(t, 7*time.Second, cfg.HTTP.ReadTimeout)
	require.Equal(t, 5, cfg.HTTP.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.HTTP.RetryDelay)
	require.Equal(t, []crawler.Seed{
		{URL: "https://example.com", Name: "Example"},
		{URL: "http://docs.example.org", Name: "Docs"},
	}, cfg.Seeds())
	require.Equal(t, int32(8), cfg.Database.MaxConns)
	require.False(t, cfg.Database.Migrate)
	require.Equal(t, ArchiveLocal, cfg.Archive.Backend)
	require.Equal(t, "/tmp/indexer-archive", cfg.Archive.Local.BaseDir)
	require.Equal(t, "site-status", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 500*time.Millisecond, cfg.Indexing.Delay)
	require.Equal(t, time.Hour, cfg.Indexing.SiteDeadline)
	require.Equal(t, "Mozilla/5.0 (compatible; IndexerBot/1.0)", cfg.HTTP.UserAgent)
	require.Equal(t, 10*time.Second, cfg.HTTP.ConnectTimeout)
	require.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	require.Equal(t, 3, cfg.HTTP.MaxAttempts)
	require.Zero(t, cfg.HTTP.RetryDelay)
	require.Equal(t, ArchiveNone, cfg.Archive.Backend)
	require.Empty(t, cfg.Seeds())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INDEXER_SERVER_PORT", "7070")
	t.Setenv("INDEXER_INDEXING_DELAY", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 2*time.Second, cfg.Indexing.Delay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestSeedsReturnsCopy(t *testing.T) {
	t.Parallel()

	cfg := Config{Sites: []crawler.Seed{{URL: "https://a.test"}}}
	seeds := cfg.Seeds()
	seeds[0].URL = "changed"
	require.Equal(t, "https://a.test", cfg.Sites[0].URL)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Indexing: IndexingConfig{Delay: time.Millisecond, SiteDeadline: time.Hour},
		HTTP:     HTTPConfig{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxAttempts: 3},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative delay", func(c *Config) { c.Indexing.Delay = -time.Second }, "indexing.delay"},
		{"zero deadline", func(c *Config) { c.Indexing.SiteDeadline = 0 }, "indexing.site_deadline"},
		{"zero read timeout", func(c *Config) { c.HTTP.ReadTimeout = 0 }, "http.connect_timeout"},
		{"zero attempts", func(c *Config) { c.HTTP.MaxAttempts = 0 }, "http.max_attempts"},
		{"empty site url", func(c *Config) { c.Sites = []crawler.Seed{{Name: "x"}} }, "sites[0].url"},
		{"relative site url", func(c *Config) { c.Sites = []crawler.Seed{{URL: "example.com"}} }, "must start with"},
		{"duplicate site", func(c *Config) {
			c.Sites = []crawler.Seed{{URL: "https://a.test"}, {URL: "https://a.test"}}
		}, "more than once"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"local without dir", func(c *Config) { c.Archive.Backend = ArchiveLocal }, "archive.local.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "expected %q in %v", tt.want, err)
		})
	}
}
