package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.Concurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.Crawl.Concurrency)
	}
	if cfg.Crawl.DirectoryThreshold != 3 {
		t.Fatalf("expected directory threshold 3, got %d", cfg.Crawl.DirectoryThreshold)
	}
	if len(cfg.Crawl.Extensions) != 1 || cfg.Crawl.Extensions[0] != "pdf" {
		t.Fatalf("expected extension whitelist [pdf], got %v", cfg.Crawl.Extensions)
	}
	if got := cfg.FetchTimeout(); got != 30*time.Second {
		t.Fatalf("expected fetch timeout 30s, got %v", got)
	}
	opts := cfg.DefaultOptions()
	if !opts.SkipDuplicates || !opts.FollowLinks {
		t.Fatalf("expected duplicate skipping and link following by default: %+v", opts)
	}
	if len(opts.ExcludeTerms) == 0 {
		t.Fatalf("expected default exclude terms, got none")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  path: /tmp/harvester-test.db
  max_retries: 3
storage:
  download_dir: /tmp/pdfs
crawl:
  concurrency: 2
  max_depth: 4
  follow_links: false
  exclude_terms: ["preview"]
  extensions: ["pdf", "djvu"]
http:
  timeout_seconds: 45
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawl.Concurrency != 2 || cfg.Crawl.MaxDepth != 4 || cfg.Crawl.FollowLinks {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if len(cfg.Crawl.Extensions) != 2 {
		t.Fatalf("expected extension override, got %v", cfg.Crawl.Extensions)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		DB:      DBConfig{Path: "x.db"},
		Crawl:   CrawlConfig{Concurrency: 1, DirectoryThreshold: 3},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing db path",
			cfg: func() Config {
				c := base
				c.DB.Path = ""
				return c
			}(),
			want: "db.path",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawl.Concurrency = 0
				return c
			}(),
			want: "crawl.concurrency",
		},
		{
			name: "invalid directory threshold",
			cfg: func() Config {
				c := base
				c.Crawl.DirectoryThreshold = 0
				return c
			}(),
			want: "crawl.directory_threshold",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
