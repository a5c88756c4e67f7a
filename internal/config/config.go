package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig
	Ingest     IngestConfig
	Query      QueryConfig
	Annotation AnnotationConfig
	Analytics  AnalyticsConfig
	Log        LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// IngestConfig controls how statement dates are interpreted.
type IngestConfig struct {
	Timezone string
}

// QueryConfig holds pagination defaults.
type QueryConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// AnnotationConfig holds collaborator and worker pool settings.
type AnnotationConfig struct {
	Provider        string
	APIKeyEnv       string        `mapstructure:"api_key_env"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int
	MaxBatches      int           `mapstructure:"max_batches"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
}

// AnalyticsConfig holds statistics options.
type AnalyticsConfig struct {
	SampleStdDev bool `mapstructure:"sample_stddev"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

const envPrefix = "BUDGETTRACKER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "budgettracker", "budgettracker.db"))
	v.SetDefault("ingest.timezone", "UTC")
	v.SetDefault("query.default_page_size", 20)
	v.SetDefault("query.max_page_size", 500)
	v.SetDefault("annotation.provider", "heuristic")
	v.SetDefault("annotation.api_key_env", "")
	v.SetDefault("annotation.api_key", "")
	v.SetDefault("annotation.model", "")
	v.SetDefault("annotation.batch_size", 10)
	v.SetDefault("annotation.concurrency", 4)
	v.SetDefault("annotation.max_batches", 20)
	v.SetDefault("annotation.call_timeout", 30*time.Second)
	v.SetDefault("annotation.max_retry_elapsed", time.Minute)
	v.SetDefault("analytics.sample_stddev", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from file and env. Env var overrides use prefix BUDGETTRACKER_.
// An explicit path wins over BUDGETTRACKER_CONFIG, which wins over the default location.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "budgettracker"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing default config file is fine; an explicit one must exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the engines cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Query.DefaultPageSize <= 0 {
		return fmt.Errorf("config: query.default_page_size must be positive")
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("config: query.max_page_size must be >= default_page_size")
	}
	if c.Annotation.BatchSize <= 0 || c.Annotation.Concurrency <= 0 || c.Annotation.MaxBatches <= 0 {
		return fmt.Errorf("config: annotation batch_size, concurrency and max_batches must be positive")
	}
	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		return fmt.Errorf("config: ingest.timezone: %w", err)
	}
	return nil
}

// Location returns the statement timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Save writes the provided config to disk, creating the config directory if needed.
// The API key is never persisted; set it through the environment instead.
func Save(path string, cfg Config) error {
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "budgettracker", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("ingest.timezone", cfg.Ingest.Timezone)
	v.Set("query.default_page_size", cfg.Query.DefaultPageSize)
	v.Set("query.max_page_size", cfg.Query.MaxPageSize)
	v.Set("annotation.provider", cfg.Annotation.Provider)
	v.Set("annotation.api_key_env", cfg.Annotation.APIKeyEnv)
	v.Set("annotation.model", cfg.Annotation.Model)
	v.Set("annotation.batch_size", cfg.Annotation.BatchSize)
	v.Set("annotation.concurrency", cfg.Annotation.Concurrency)
	v.Set("annotation.max_batches", cfg.Annotation.MaxBatches)
	v.Set("annotation.call_timeout", cfg.Annotation.CallTimeout.String())
	v.Set("annotation.max_retry_elapsed", cfg.Annotation.MaxRetryElapsed.String())
	v.Set("analytics.sample_stddev", cfg.Analytics.SampleStdDev)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ResolveAPIKey picks the collaborator API key: named env var, provider default env var,
// then the key store (may be nil), then config.
func (c Config) ResolveAPIKey(stored func(provider string) (string, error)) string {
	provider := strings.ToLower(strings.TrimSpace(c.Annotation.Provider))
	env := strings.TrimSpace(c.Annotation.APIKeyEnv)
	if env == "" {
		switch provider {
		case "openai":
			env = "OPENAI_API_KEY"
		case "gemini":
			env = "GEMINI_API_KEY"
		}
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if stored != nil {
		if k, err := stored(provider); err == nil && strings.TrimSpace(k) != "" {
			return strings.TrimSpace(k)
		}
	}
	return strings.TrimSpace(c.Annotation.APIKey)
}
