package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/medverify/internal/domain"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds the analysis log store. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// CacheConfig selects the result cache.
type CacheConfig struct {
	Type      string        `mapstructure:"type"` // "memory" or "redis"
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig bounds analysis requests per client.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// ReferenceConfig selects where the reference catalog comes from. File wins over
// RegistryURL; with neither set the built-in catalog is used.
type ReferenceConfig struct {
	File            string        `mapstructure:"file"`
	RegistryURL     string        `mapstructure:"registry_url"`
	RegistryTimeout time.Duration `mapstructure:"registry_timeout"`
}

// AnalysisConfig holds every tunable of the pipeline.
type AnalysisConfig struct {
	Timeout             time.Duration      `mapstructure:"timeout"`
	MinWidth            int                `mapstructure:"min_width"`
	MinHeight           int                `mapstructure:"min_height"`
	MaxDimension        int                `mapstructure:"max_dimension"`
	ForegroundThreshold float64            `mapstructure:"foreground_threshold"`
	OCR                 bool               `mapstructure:"ocr"`
	Weights             map[string]float64 `mapstructure:"weights"`
	Thresholds          map[string]float64 `mapstructure:"thresholds"`
	DefaultThreshold    float64            `mapstructure:"default_threshold"`
	DegradedFloor       float64            `mapstructure:"degraded_floor"`
	MinViableSimilarity float64            `mapstructure:"min_viable_similarity"`
	Severities          map[string]string  `mapstructure:"severities"`
	ShapeHardLimit      float64            `mapstructure:"shape_hard_limit"`
	SizeHardLimit       float64            `mapstructure:"size_hard_limit"`
	AuthenticThreshold  float64            `mapstructure:"authentic_threshold"`
	Bands               BandsConfig        `mapstructure:"bands"`
	Recommendations     RecommendationText `mapstructure:"recommendations"`
}

// BandsConfig are the recommendation tier boundaries.
type BandsConfig struct {
	AuthenticAbove float64 `mapstructure:"authentic_above"`
	CautionFrom    float64 `mapstructure:"caution_from"`
}

// RecommendationText overrides the built-in recommendation tiers.
type RecommendationText struct {
	Authentic []string `mapstructure:"authentic"`
	Caution   []string `mapstructure:"caution"`
	Critical  []string `mapstructure:"critical"`
}

// Load reads config.yaml from the usual locations if present, then MEDVERIFY_*
// environment variables, on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/medverify/")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MEDVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_lifetime", "1h")

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("ratelimit.per_minute", 30)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("reference.file", "")
	v.SetDefault("reference.registry_url", "")
	v.SetDefault("reference.registry_timeout", "10s")

	v.SetDefault("analysis.timeout", "5s")
	v.SetDefault("analysis.min_width", 64)
	v.SetDefault("analysis.min_height", 64)
	v.SetDefault("analysis.max_dimension", 512)
	v.SetDefault("analysis.foreground_threshold", 60)
	v.SetDefault("analysis.ocr", false)
	v.SetDefault("analysis.default_threshold", 70)
	v.SetDefault("analysis.degraded_floor", 20)
	v.SetDefault("analysis.min_viable_similarity", 50)
	v.SetDefault("analysis.shape_hard_limit", 0.5)
	v.SetDefault("analysis.size_hard_limit", 2)
	v.SetDefault("analysis.authentic_threshold", 80)
	v.SetDefault("analysis.bands.authentic_above", 85)
	v.SetDefault("analysis.bands.caution_from", 70)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address is required when cache type is 'redis'")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	a := c.Analysis
	if a.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive")
	}
	if a.MinWidth <= 0 || a.MinHeight <= 0 {
		return fmt.Errorf("analysis minimum resolution must be positive")
	}
	for name, w := range a.Weights {
		if _, ok := domain.ParseFeature(name); !ok {
			return fmt.Errorf("analysis.weights: unknown feature %q", name)
		}
		if w < 0 {
			return fmt.Errorf("analysis.weights.%s must not be negative", name)
		}
	}
	for name, t := range a.Thresholds {
		if _, ok := domain.ParseFeature(name); !ok {
			return fmt.Errorf("analysis.thresholds: unknown feature %q", name)
		}
		if t < 0 || t > 100 {
			return fmt.Errorf("analysis.thresholds.%s must be within 0-100", name)
		}
	}
	for name, sev := range a.Severities {
		if _, ok := domain.ParseFeature(name); !ok {
			return fmt.Errorf("analysis.severities: unknown feature %q", name)
		}
		if _, ok := domain.ParseSeverity(sev); !ok {
			return fmt.Errorf("analysis.severities.%s: unknown severity %q", name, sev)
		}
	}
	if a.DegradedFloor <= 0 || a.DegradedFloor > 100 {
		return fmt.Errorf("analysis.degraded_floor must be within (0, 100]")
	}
	if a.Bands.CautionFrom > a.Bands.AuthenticAbove {
		return fmt.Errorf("analysis.bands.caution_from (%v) must not exceed authentic_above (%v)",
			a.Bands.CautionFrom, a.Bands.AuthenticAbove)
	}
	return nil
}

// FeatureWeights converts the configured weights to domain keys.
func (a AnalysisConfig) FeatureWeights() domain.Weights {
	out := make(domain.Weights, len(a.Weights))
	for name, w := range a.Weights {
		if f, ok := domain.ParseFeature(name); ok {
			out[f] = w
		}
	}
	return out
}

// FeatureThresholds converts the configured per-feature thresholds.
func (a AnalysisConfig) FeatureThresholds() map[domain.Feature]float64 {
	out := make(map[domain.Feature]float64, len(a.Thresholds))
	for name, t := range a.Thresholds {
		if f, ok := domain.ParseFeature(name); ok {
			out[f] = t
		}
	}
	return out
}

// FeatureSeverities converts the configured severity overrides.
func (a AnalysisConfig) FeatureSeverities() map[domain.Feature]domain.Severity {
	out := make(map[domain.Feature]domain.Severity, len(a.Severities))
	for name, s := range a.Severities {
		f, ok := domain.ParseFeature(name)
		sev, valid := domain.ParseSeverity(s)
		if ok && valid {
			out[f] = sev
		}
	}
	return out
}
