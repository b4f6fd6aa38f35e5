// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all crawl configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scope     ScopeConfig     `mapstructure:"scope"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sink      SinkConfig      `mapstructure:"sink"`
	State     StateConfig     `mapstructure:"state"`
	API       APIConfig       `mapstructure:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// CrawlerConfig governs the frontier and the driver loop.
type CrawlerConfig struct {
	Seeds           []string      `mapstructure:"seeds"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxDepth        int           `mapstructure:"max_depth"`
	MaxPages        int           `mapstructure:"max_pages"`
	Concurrency     int           `mapstructure:"concurrency"`
	Strategy        string        `mapstructure:"strategy"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	MaxLinksPerPage int           `mapstructure:"max_links_per_page"`
	SkipNofollow    bool          `mapstructure:"skip_nofollow"`
	// PreferShortPaths orders entries inside a depth band by path length.
	PreferShortPaths bool `mapstructure:"prefer_short_paths"`
	// MaxDuration and MaxBytes end dispatch cleanly once spent; zero disables.
	MaxDuration time.Duration `mapstructure:"max_duration"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
}

// ScopeConfig restricts which discovered URLs enter the frontier.
type ScopeConfig struct {
	SameSite          bool     `mapstructure:"same_site"`
	AllowedDomains    []string `mapstructure:"allowed_domains"`
	BlockedDomains    []string `mapstructure:"blocked_domains"`
	AllowPatterns     []string `mapstructure:"allow_patterns"`
	BlockPatterns     []string `mapstructure:"block_patterns"`
	BlockedExtensions []string `mapstructure:"blocked_extensions"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	FollowSitemaps bool          `mapstructure:"follow_sitemaps"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
}

// RateLimitConfig paces requests per origin.
type RateLimitConfig struct {
	DefaultDelay      time.Duration `mapstructure:"default_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	DecayFactor       float64       `mapstructure:"decay_factor"`
	DecayAfter        int           `mapstructure:"decay_after"`
	RetryAfterCap     time.Duration `mapstructure:"retry_after_cap"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// HTTPConfig configures the transport and retry behavior.
type HTTPConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`
	MaxRedirects        int           `mapstructure:"max_redirects"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
}

// DedupConfig selects the dedup and incremental backend.
type DedupConfig struct {
	Backend             string `mapstructure:"backend"`
	SQLitePath          string `mapstructure:"sqlite_path"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	DuplicatePolicy     string `mapstructure:"duplicate_policy"`
	NormalizeWhitespace bool   `mapstructure:"normalize_whitespace"`
	StripHTMLComments   bool   `mapstructure:"strip_html_comments"`
	MinContentLength    int    `mapstructure:"min_content_length"`
	ForceRefresh        bool   `mapstructure:"force_refresh"`
}

// PipelineConfig configures the processing chain.
type PipelineConfig struct {
	AbortOnError        bool     `mapstructure:"abort_on_error"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	ExtractMetadata     bool     `mapstructure:"extract_metadata"`
	// RenderHints annotates pages that look JavaScript-rendered.
	RenderHints bool `mapstructure:"render_hints"`
}

// SinkConfig lists artifact destinations. Every configured sink receives
// every delivered artifact.
type SinkConfig struct {
	LocalDir         string `mapstructure:"local_dir"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	GCSPrefix        string `mapstructure:"gcs_prefix"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresTable    string `mapstructure:"postgres_table"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
	PubSubProject    string `mapstructure:"pubsub_project"`
	PubSubTopic      string `mapstructure:"pubsub_topic"`
}

// StateConfig locates the resumable state file.
type StateConfig struct {
	Path string `mapstructure:"path"`
	// SaveInterval writes a checkpoint periodically while running; zero
	// saves only on exit and on demand.
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

// APIConfig controls the admin HTTP server. An empty Addr disables it.
type APIConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig controls the run journal. Events always go to the log and
// Prometheus sinks when enabled; PostgresDSN adds durable run records.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Log            bool          `mapstructure:"log"`
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.user_agent", "politecrawl/1.0")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.strategy", "pool")
	v.SetDefault("crawler.shutdown_grace", "10s")
	v.SetDefault("crawler.max_links_per_page", 500)
	v.SetDefault("scope.same_site", true)
	v.SetDefault("robots.enabled", true)
	v.SetDefault("robots.follow_sitemaps", false)
	v.SetDefault("robots.cache_size", 1024)
	v.SetDefault("robots.cache_ttl", "24h")
	v.SetDefault("robots.fetch_timeout", "10s")
	v.SetDefault("robots.max_bytes", 512*1024)
	v.SetDefault("ratelimit.default_delay", "1s")
	v.SetDefault("ratelimit.max_delay", "2m")
	v.SetDefault("ratelimit.backoff_factor", 2.0)
	v.SetDefault("ratelimit.decay_factor", 0.5)
	v.SetDefault("ratelimit.decay_after", 3)
	v.SetDefault("ratelimit.retry_after_cap", "1m")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.max_rate_limit_retries", 3)
	v.SetDefault("http.backoff_initial", "250ms")
	v.SetDefault("http.backoff_max", "30s")
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.duplicate_policy", "drop")
	v.SetDefault("dedup.normalize_whitespace", true)
	v.SetDefault("dedup.min_content_length", 0)
	v.SetDefault("pipeline.abort_on_error", false)
	v.SetDefault("pipeline.extract_metadata", true)
	v.SetDefault("sink.postgres_table", "artifacts")
	v.SetDefault("sink.postgres_max_conns", 4)
	v.SetDefault("telemetry.service_name", "politecrawl")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait", "1s")
	v.SetDefault("progress.sink_timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Seeds) == 0 && c.State.Path == "" {
		return fmt.Errorf("crawler.seeds must contain at least one URL")
	}
	if c.Scope.SameSite && len(c.Crawler.Seeds) == 0 {
		return fmt.Errorf("scope.same_site requires crawler.seeds")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Crawler.MaxDuration < 0 {
		return fmt.Errorf("crawler.max_duration must be >= 0")
	}
	if c.Crawler.MaxBytes < 0 {
		return fmt.Errorf("crawler.max_bytes must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	switch c.Crawler.Strategy {
	case "pool", "tasks":
	default:
		return fmt.Errorf("crawler.strategy must be pool or tasks, got %q", c.Crawler.Strategy)
	}
	if c.Robots.Enabled && c.Robots.CacheSize <= 0 {
		return fmt.Errorf("robots.cache_size must be > 0")
	}
	if c.RateLimit.DefaultDelay < 0 {
		return fmt.Errorf("ratelimit.default_delay must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.MaxRateLimitRetries < 0 {
		return fmt.Errorf("http.max_rate_limit_retries must be >= 0")
	}
	if err := c.Dedup.validate(); err != nil {
		return err
	}
	if c.Sink.PubSubTopic != "" && c.Sink.PubSubProject == "" {
		return fmt.Errorf("sink.pubsub_project must be set when sink.pubsub_topic is set")
	}
	if c.State.SaveInterval < 0 {
		return fmt.Errorf("state.save_interval must be >= 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 {
		return fmt.Errorf("progress.buffer_size and progress.max_batch_events must be >= 0")
	}
	return nil
}

func (d DedupConfig) validate() error {
	switch d.Backend {
	case "memory":
	case "sqlite":
		if d.SQLitePath == "" {
			return fmt.Errorf("dedup.sqlite_path must be set for the sqlite backend")
		}
	case "postgres":
		if d.PostgresDSN == "" {
			return fmt.Errorf("dedup.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("dedup.backend must be memory, sqlite or postgres, got %q", d.Backend)
	}
	switch d.DuplicatePolicy {
	case "drop", "process":
	default:
		return fmt.Errorf("dedup.duplicate_policy must be drop or process, got %q", d.DuplicatePolicy)
	}
	if d.MinContentLength < 0 {
		return fmt.Errorf("dedup.min_content_length must be >= 0")
	}
	return nil
}

// Normalizers returns the content normalizer names enabled by the dedup section.
func (d DedupConfig) Normalizers() []string {
	var names []string
	if d.StripHTMLComments {
		names = append(names, "strip_html_comments")
	}
	if d.NormalizeWhitespace {
		names = append(names, "collapse_whitespace")
	}
	return names
}
