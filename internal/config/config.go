// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRequestTimeout = 120 * time.Second
	// extractMargin is the part of the request timeout kept back for
	// writing the response after extraction stops.
	extractMargin = 5 * time.Second
)

// Archive backends accepted by ArchiveConfig.Backend.
const (
	ArchiveNone   = ""
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig shapes the plain HTTP fetch.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// BlockedHosts lists hosts, wildcards and CIDRs the API refuses to fetch.
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ExtractConfig tunes field resolution.
type ExtractConfig struct {
	MaxJSONLDBlocks int `mapstructure:"max_jsonld_blocks"`
}

// RateLimitConfig sets the per-host token bucket. RPS zero disables it.
type RateLimitConfig struct {
	RPS      float64 `mapstructure:"rps"`
	Burst    int     `mapstructure:"burst"`
	MaxHosts int     `mapstructure:"max_hosts"`
}

// BatchConfig bounds the batch endpoint.
type BatchConfig struct {
	MaxURLs     int `mapstructure:"max_urls"`
	Concurrency int `mapstructure:"concurrency"`
}

// ArchiveConfig selects where raw HTML is archived.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// RecorderConfig sizes the background writer shared by every sink.
type RecorderConfig struct {
	QueueSize      int `mapstructure:"queue_size"`
	Workers        int `mapstructure:"workers"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is "stdout", "otlp", or empty to only propagate trace context.
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.request_timeout_seconds", int(defaultRequestTimeout/time.Second))
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("fetch.accept_language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.blocked_hosts", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.max_jsonld_blocks", 0)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("ratelimit.max_hosts", 4096)
	v.SetDefault("batch.max_urls", 20)
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("recorder.queue_size", 256)
	v.SetDefault("recorder.workers", 2)
	v.SetDefault("recorder.timeout_seconds", 10)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "extractions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "giftlist-scraper")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RequestTimeout() <= extractMargin {
		return fmt.Errorf("server.request_timeout_seconds must be > %d", int(extractMargin/time.Second))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	if c.Extract.MaxJSONLDBlocks < 0 {
		return fmt.Errorf("extract.max_jsonld_blocks must be >= 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be > 0 when rate limiting is enabled")
	}
	if c.RateLimit.MaxHosts < 0 {
		return fmt.Errorf("ratelimit.max_hosts must be >= 0")
	}
	if c.Batch.MaxURLs <= 0 {
		return fmt.Errorf("batch.max_urls must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if worst := c.WorstCaseBatch(); worst > c.ExtractBudget() {
		return fmt.Errorf("a full batch can take %s, more than the %s extraction budget: "+
			"raise server.request_timeout_seconds or batch.concurrency, or lower batch.max_urls",
			worst, c.ExtractBudget())
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.Recorder.QueueSize <= 0 || c.Recorder.Workers <= 0 || c.Recorder.TimeoutSeconds <= 0 {
		return fmt.Errorf("recorder.queue_size, recorder.workers and recorder.timeout_seconds must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout bounds a whole API request.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ExtractBudget is how long a request may spend extracting. URLs still running
// when it ends come back as empty records.
func (c Config) ExtractBudget() time.Duration {
	return c.RequestTimeout() - extractMargin
}

// WorstCaseBatch is the time a full batch takes when every fetch runs to its
// timeout and, with headless enabled, is then promoted and navigates to its
// timeout too.
func (c Config) WorstCaseBatch() time.Duration {
	if c.Batch.Concurrency <= 0 {
		return 0
	}
	waves := (c.Batch.MaxURLs + c.Batch.Concurrency - 1) / c.Batch.Concurrency
	perURL := c.FetchTimeout()
	if c.Headless.Enabled {
		perURL += c.NavTimeout()
	}
	return time.Duration(waves) * perURL
}

// FetchTimeout returns the plain fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
