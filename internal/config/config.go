// Package config loads application configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "TRENDWATCH_CONFIG"

// Duration is a time.Duration that unmarshals from YAML strings like "10s"
// or "300ms". Bare integers are read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: bad duration %q", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds the full application configuration.
type Config struct {
	DB          DBConfig          `yaml:"database"`
	Poll        PollConfig        `yaml:"poll"`
	FullContent FullContentConfig `yaml:"full_content"`
	Retention   RetentionConfig   `yaml:"retention"`
	Filter      FilterConfig      `yaml:"filter"`
	Queue       QueueConfig       `yaml:"queue"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Server      ServerConfig      `yaml:"server"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Sources     []SourceConfig    `yaml:"sources"`
}

// DBConfig holds PostgreSQL connection parameters. An empty DSN disables
// durable persistence; the pipeline then runs with in-memory dedup only.
type DBConfig struct {
	DSN string `yaml:"dsn"`
	// MigrationsDir locates the SQL migration files; relative paths resolve
	// against the daemon's working directory.
	MigrationsDir string `yaml:"migrations_dir"`
}

// PollConfig controls the crawl schedule.
type PollConfig struct {
	Interval Duration `yaml:"interval"`
}

// FullContentConfig controls the article-body fetcher.
type FullContentConfig struct {
	Enabled    bool     `yaml:"enabled"`
	AsyncMode  bool     `yaml:"async_mode"`
	FetchDelay Duration `yaml:"fetch_delay"`
	Timeout    Duration `yaml:"timeout"`
}

// RetentionConfig bounds how much crawled data is kept.
type RetentionConfig struct {
	MaxItems int `yaml:"max_items"`
	MaxDays  int `yaml:"max_days"`
}

// FilterConfig points at the keyword rules file.
type FilterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// QueueConfig sizes the analysis queue and its retry policy.
type QueueConfig struct {
	MaxSize    int      `yaml:"max_size"`
	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// AnalyzerConfig holds the Ollama LLM parameters for item analysis.
type AnalyzerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Model   string `yaml:"model"`
}

// ArchiveConfig holds S3-compatible object storage parameters for raw
// content snapshots. An empty endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// ServerConfig holds the status API listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// WebhookConfig holds the operator notification endpoint.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// SourceConfig describes one registered source.
type SourceConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"` // ths, ths-tapp, rss
	URL     string   `yaml:"url"`
	Enabled *bool    `yaml:"enabled"`
	Timeout Duration `yaml:"timeout"`
	// FullText marks an RSS feed whose entries already carry the complete
	// article body, so no separate content fetch is needed.
	FullText bool `yaml:"full_text"`
}

// IsEnabled treats a missing enabled flag as true.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Load reads the YAML file named by TRENDWATCH_CONFIG (if set), applies
// environment overrides, and fills in defaults.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		DB:   DBConfig{MigrationsDir: "migrations"},
		Poll: PollConfig{Interval: Duration(10 * time.Second)},
		FullContent: FullContentConfig{
			Enabled:    true,
			AsyncMode:  true,
			FetchDelay: Duration(300 * time.Millisecond),
			Timeout:    Duration(10 * time.Second),
		},
		Retention: RetentionConfig{MaxItems: 10000, MaxDays: 30},
		Filter:    FilterConfig{Enabled: true, Path: "config/keywords.txt"},
		Queue: QueueConfig{
			MaxSize:    100,
			Workers:    2,
			MaxRetries: 3,
			RetryDelay: Duration(5 * time.Second),
		},
		Analyzer: AnalyzerConfig{
			Host:  "http://localhost:11434",
			Model: "llama3",
		},
		Archive: ArchiveConfig{
			Bucket: "trendwatch-content",
			Region: "us-east-1",
		},
		Server:  ServerConfig{Addr: ":8080"},
		Webhook: WebhookConfig{Timeout: Duration(10 * time.Second)},
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DB.DSN = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Analyzer.Host = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Analyzer.Model = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Poll.Interval = Duration(time.Duration(n) * time.Second)
		}
	}
}

// applyDefaults repairs zero values that a partial YAML file may leave behind.
func (c *Config) applyDefaults() {
	d := defaultConfig()
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = d.Poll.Interval
	}
	if c.FullContent.FetchDelay <= 0 {
		c.FullContent.FetchDelay = d.FullContent.FetchDelay
	}
	if c.FullContent.Timeout <= 0 {
		c.FullContent.Timeout = d.FullContent.Timeout
	}
	if c.Queue.MaxSize <= 0 {
		c.Queue.MaxSize = d.Queue.MaxSize
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = d.Queue.Workers
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = d.Queue.MaxRetries
	}
	if c.Queue.RetryDelay <= 0 {
		c.Queue.RetryDelay = d.Queue.RetryDelay
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = d.Webhook.Timeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Filter.Path == "" {
		c.Filter.Path = d.Filter.Path
	}
	if c.DB.MigrationsDir == "" {
		c.DB.MigrationsDir = d.DB.MigrationsDir
	}
	if len(c.Sources) == 0 {
		c.Sources = []SourceConfig{
			{ID: "ths-realtime", Name: "同花顺7x24", Type: "ths-tapp"},
		}
	}
}
