// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mechdocs/harvester/internal/manual"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls the embedded SQLite store.
type DBConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	MaxRetries    int    `mapstructure:"max_retries"`
}

// StorageConfig sets the directory for downloaded PDFs.
type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
}

// CrawlConfig carries the documented defaults applied to crawl jobs that do
// not override them.
type CrawlConfig struct {
	Concurrency        int      `mapstructure:"concurrency"`
	MaxDepth           int      `mapstructure:"max_depth"`
	FollowLinks        bool     `mapstructure:"follow_links"`
	ExtractDirectories bool     `mapstructure:"extract_directories"`
	SkipDuplicates     bool     `mapstructure:"skip_duplicates"`
	DirectoryThreshold int      `mapstructure:"directory_threshold"`
	MaxPagesPerSite    int      `mapstructure:"max_pages_per_site"`
	MaxLinksPerPage    int      `mapstructure:"max_links_per_page"`
	Extensions         []string `mapstructure:"extensions"`
	ExcludeTerms       []string `mapstructure:"exclude_terms"`
	UserAgent          string   `mapstructure:"user_agent"`
}

// HTTPConfig configures the outbound HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// EnrichConfig governs the background enrichment consumer.
type EnrichConfig struct {
	PollSeconds int `mapstructure:"poll_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("db.path", "data/harvester.db")
	v.SetDefault("db.busy_timeout_ms", 5000)
	v.SetDefault("db.max_retries", 5)
	v.SetDefault("storage.download_dir", "data/pdfs")
	v.SetDefault("crawl.concurrency", 5)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.follow_links", true)
	v.SetDefault("crawl.extract_directories", true)
	v.SetDefault("crawl.skip_duplicates", true)
	v.SetDefault("crawl.directory_threshold", 3)
	v.SetDefault("crawl.max_pages_per_site", 200)
	v.SetDefault("crawl.max_links_per_page", 20)
	v.SetDefault("crawl.extensions", []string{"pdf"})
	v.SetDefault("crawl.exclude_terms", []string{"preview", "operator", "operation", "user manual", "quick start"})
	v.SetDefault("crawl.user_agent", "mechdocs-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("enrich.poll_seconds", 2)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.DirectoryThreshold <= 0 {
		return fmt.Errorf("crawl.directory_threshold must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DefaultOptions builds the crawl options applied when a job omits a knob.
func (c Config) DefaultOptions() manual.CrawlOptions {
	return manual.CrawlOptions{
		ExcludeTerms:       append([]string(nil), c.Crawl.ExcludeTerms...),
		Extensions:         append([]string(nil), c.Crawl.Extensions...),
		MaxDepth:           c.Crawl.MaxDepth,
		FollowLinks:        c.Crawl.FollowLinks,
		ExtractDirectories: c.Crawl.ExtractDirectories,
		SkipDuplicates:     c.Crawl.SkipDuplicates,
		Concurrency:        c.Crawl.Concurrency,
		MaxPagesPerSite:    c.Crawl.MaxPagesPerSite,
		MaxLinksPerPage:    c.Crawl.MaxLinksPerPage,
		DirectoryThreshold: c.Crawl.DirectoryThreshold,
	}
}
