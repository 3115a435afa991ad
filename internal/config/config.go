package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ptrun/internal/fsutil"
)

// Environment variables that carry secrets. They are never written to the
// YAML file by Save.
const (
	EnvGoogleMapsAPIKey = "GOOGLE_MAPS_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvRedisPassword    = "REDIS_PASSWORD"
)

const (
	DefaultBaseURL = "https://www.portugalrunning.com"
	DefaultModel   = "openrouter/anthropic/claude-3.5-haiku"
)

// CacheConfig controls the content-addressable cache.
type CacheConfig struct {
	// Enabled=false forces fresh upstream calls; results are still written.
	Enabled bool `yaml:"enabled"`
	// Backend is "disk" (default) or "redis".
	Backend string `yaml:"backend"`
	// Dir is the base directory for the disk backend and downloaded media.
	Dir string `yaml:"dir"`
	// RedisAddr / RedisDB are used when Backend is "redis".
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	// RedisPassword comes from REDIS_PASSWORD only.
	RedisPassword string `yaml:"-"`
	// PageTTL bounds the age of cached listing pages, which change over time.
	// Per-id resources are cached without expiry.
	PageTTL time.Duration `yaml:"page_ttl"`
}

// GenerationConfig selects the short-text generation backend.
type GenerationConfig struct {
	// Backend is one of "llm-cli", "chat", "anthropic".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	// Command is the executable used by the llm-cli backend.
	Command string        `yaml:"command,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"-"`
}

// GeocodingConfig configures the Google geocoding adapter.
type GeocodingConfig struct {
	Region   string  `yaml:"region"`
	Language string  `yaml:"language"`
	RPS      float64 `yaml:"rps"`
	APIKey   string  `yaml:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the serve command.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ServeConfig configures the read-only HTTP view over the output directory.
type ServeConfig struct {
	Listen    string           `yaml:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// OutputDir receives one JSON file per event plus the aggregate files.
	OutputDir string `yaml:"output_dir"`

	// BaseURL is the root of the listing site.
	BaseURL string `yaml:"base_url"`

	// ListingLimit / PageLimit stop collection early; zero means unlimited.
	ListingLimit int `yaml:"listing_limit"`
	PageLimit    int `yaml:"page_limit"`

	// BatchSize is the number of listings enriched together.
	BatchSize int `yaml:"batch_size"`
	// BatchDelay is slept between batches.
	BatchDelay time.Duration `yaml:"batch_delay"`
	// MaxConcurrent caps simultaneously in-flight external calls.
	MaxConcurrent int `yaml:"max_concurrent"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`
	HTTPRetries int           `yaml:"http_retries"`

	SkipGeocoding    bool `yaml:"skip_geocoding"`
	SkipDescriptions bool `yaml:"skip_descriptions"`
	SkipImages       bool `yaml:"skip_images"`

	Cache      CacheConfig      `yaml:"cache"`
	Generation GenerationConfig `yaml:"generation"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
	Serve      ServeConfig      `yaml:"serve"`

	// Schedule is an optional cron expression (e.g. "0 4 * * *") used by
	// `scrape --schedule` to re-run the batch periodically.
	Schedule string `yaml:"schedule,omitempty"`

	// MetricsFile, if set, receives Prometheus text-format run metrics.
	MetricsFile string `yaml:"metrics_file,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:     "events",
		BaseURL:       DefaultBaseURL,
		BatchSize:     50,
		MaxConcurrent: 10,
		HTTPTimeout:   30 * time.Second,
		HTTPRetries:   2,
		Cache: CacheConfig{
			Enabled: true,
			Backend: "disk",
			Dir:     "cache",
			PageTTL: time.Hour,
		},
		Generation: GenerationConfig{
			Backend: "llm-cli",
			Model:   DefaultModel,
			Command: "llm",
			Timeout: 30 * time.Second,
		},
		Geocoding: GeocodingConfig{
			Region:   "pt",
			Language: "pt",
			RPS:      10,
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:8080",
		},
		LogLevel: "INFO",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.ListingLimit < 0 {
		c.ListingLimit = 0
	}
	if c.PageLimit < 0 {
		c.PageLimit = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.HTTPRetries < 0 {
		c.HTTPRetries = 0
	}

	switch c.Cache.Backend {
	case "disk", "redis":
		// ok
	default:
		c.Cache.Backend = "disk"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.PageTTL < 0 {
		c.Cache.PageTTL = 0
	}

	switch c.Generation.Backend {
	case "llm-cli", "chat", "anthropic":
		// ok
	default:
		c.Generation.Backend = def.Generation.Backend
	}
	if c.Generation.Model == "" {
		c.Generation.Model = def.Generation.Model
	}
	if c.Generation.Command == "" {
		c.Generation.Command = def.Generation.Command
	}
	if c.Generation.Timeout <= 0 {
		c.Generation.Timeout = def.Generation.Timeout
	}

	if c.Geocoding.Region == "" {
		c.Geocoding.Region = def.Geocoding.Region
	}
	if c.Geocoding.Language == "" {
		c.Geocoding.Language = def.Geocoding.Language
	}
	if c.Geocoding.RPS <= 0 {
		c.Geocoding.RPS = def.Geocoding.RPS
	}

	if c.Serve.Listen == "" {
		c.Serve.Listen = def.Serve.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// ApplyEnv loads .env (if present) and copies secrets from the environment.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	c.Geocoding.APIKey = os.Getenv(EnvGoogleMapsAPIKey)
	c.Cache.RedisPassword = os.Getenv(EnvRedisPassword)
	switch c.Generation.Backend {
	case "anthropic":
		c.Generation.APIKey = os.Getenv(EnvAnthropicAPIKey)
	case "chat":
		c.Generation.APIKey = os.Getenv(EnvOpenRouterAPIKey)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If path is empty, defaults are returned without touching disk.
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
//
// Secrets are applied from the environment in every case.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
