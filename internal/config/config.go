package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LUMAVIEW_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Decode   DecodeConfig   `yaml:"decode"`
	Pool     PoolConfig     `yaml:"pool"`
	Memory   MemoryConfig   `yaml:"memory"`
	Stats    StatsConfig    `yaml:"stats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
	Debug    DebugConfig    `yaml:"debug"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// CacheConfig represents the decoded image cache
type CacheConfig struct {
	MaxBytes string `yaml:"max_bytes"`
}

// PrefetchConfig represents the directional prefetch window
type PrefetchConfig struct {
	Enabled     bool `yaml:"enabled"`
	Ahead       int  `yaml:"ahead"`
	Behind      int  `yaml:"behind"`
	MaxInFlight int  `yaml:"max_in_flight"`
}

// DecodeConfig represents decoder limits
type DecodeConfig struct {
	Concurrency int   `yaml:"concurrency"`
	MaxPixels   int64 `yaml:"max_pixels"`
}

// PoolClassConfig is one size class of the buffer pool
type PoolClassConfig struct {
	Name           string `yaml:"name"`
	MaxBufferSize  string `yaml:"max_buffer_size"`
	MaxRetained    int    `yaml:"max_retained"`
	MaxOutstanding int    `yaml:"max_outstanding"`
}

// PoolConfig represents the tiered buffer pool
type PoolConfig struct {
	Classes      []PoolClassConfig `yaml:"classes"`
	MaxRentSize  string            `yaml:"max_rent_size"`
	ZeroOnReturn bool              `yaml:"zero_on_return"`
}

// MemoryConfig represents memory pressure handling
type MemoryConfig struct {
	HighWatermark     string        `yaml:"high_watermark"`
	CriticalWatermark string        `yaml:"critical_watermark"`
	SampleInterval    time.Duration `yaml:"sample_interval"`

	// Share of cached bytes evicted on each pressure level
	EvictHighFraction     float64 `yaml:"evict_high_fraction"`
	EvictCriticalFraction float64 `yaml:"evict_critical_fraction"`
}

// StatsConfig represents the periodic statistics log line
type StatsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool              `yaml:"enabled"`
	Port    int               `yaml:"port"`
	Path    string            `yaml:"path"`
	Labels  map[string]string `yaml:"labels"`
}

// WatchConfig represents file-change invalidation
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DebugConfig represents debugging aids
type DebugConfig struct {
	StrictContracts bool `yaml:"strict_contracts"`

	// Pprof mounts pprof and memory endpoints on the metrics server
	Pprof bool `yaml:"pprof"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			MaxBytes: "512MiB",
		},
		Prefetch: PrefetchConfig{
			Enabled: true,
			Ahead:   2,
			Behind:  1,
		},
		Decode: DecodeConfig{
			Concurrency: runtime.NumCPU(),
			MaxPixels:   500_000_000,
		},
		Pool: PoolConfig{
			Classes: []PoolClassConfig{
				{Name: "small", MaxBufferSize: "1MiB", MaxRetained: 32, MaxOutstanding: 256},
				{Name: "medium", MaxBufferSize: "16MiB", MaxRetained: 8, MaxOutstanding: 64},
				{Name: "large", MaxBufferSize: "256MiB", MaxRetained: 2, MaxOutstanding: 16},
			},
			MaxRentSize:  "2GiB",
			ZeroOnReturn: true,
		},
		Memory: MemoryConfig{
			HighWatermark:         "1GiB",
			CriticalWatermark:     "2GiB",
			SampleInterval:        5 * time.Second,
			EvictHighFraction:     0.25,
			EvictCriticalFraction: 0.5,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9464,
			Path:    "/metrics",
			Labels:  map[string]string{},
		},
		Watch: WatchConfig{
			Enabled: true,
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numeric values are reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FORMAT", &c.Global.LogFormat)
	env.str("LOG_FILE", &c.Global.LogFile)

	// Cache and prefetch
	env.str("CACHE_MAX_BYTES", &c.Cache.MaxBytes)
	env.boolean("PREFETCH_ENABLED", &c.Prefetch.Enabled)
	env.integer("PREFETCH_AHEAD", &c.Prefetch.Ahead)
	env.integer("PREFETCH_BEHIND", &c.Prefetch.Behind)
	env.integer("PREFETCH_MAX_IN_FLIGHT", &c.Prefetch.MaxInFlight)

	// Decode
	env.integer("DECODE_CONCURRENCY", &c.Decode.Concurrency)
	if val, ok := env.lookup("DECODE_MAX_PIXELS"); ok {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Decode.MaxPixels = n
		} else {
			env.fail("DECODE_MAX_PIXELS", err)
		}
	}

	// Pool and memory
	env.str("POOL_MAX_RENT_SIZE", &c.Pool.MaxRentSize)
	env.boolean("POOL_ZERO_ON_RETURN", &c.Pool.ZeroOnReturn)
	env.str("MEMORY_HIGH_WATERMARK", &c.Memory.HighWatermark)
	env.str("MEMORY_CRITICAL_WATERMARK", &c.Memory.CriticalWatermark)
	env.duration("MEMORY_SAMPLE_INTERVAL", &c.Memory.SampleInterval)

	// Reporting
	env.boolean("STATS_ENABLED", &c.Stats.Enabled)
	env.duration("STATS_INTERVAL", &c.Stats.Interval)
	env.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	env.integer("METRICS_PORT", &c.Metrics.Port)
	env.str("METRICS_PATH", &c.Metrics.Path)

	// Feature flags
	env.boolean("WATCH_ENABLED", &c.Watch.Enabled)
	env.boolean("STRICT_CONTRACTS", &c.Debug.StrictContracts)
	env.boolean("PPROF", &c.Debug.Pprof)

	return env.err
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeConfigSave, "failed to marshal config").WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeConfigSave, "failed to create config directory").WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeConfigSave, "failed to write config file").WithComponent("config")
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	budget, err := ParseSize(c.Cache.MaxBytes)
	if err != nil {
		return invalid("cache.max_bytes", err.Error())
	}
	if budget <= 0 {
		return invalid("cache.max_bytes", "must be greater than 0")
	}

	if c.Prefetch.Ahead < 0 || c.Prefetch.Behind < 0 || c.Prefetch.MaxInFlight < 0 {
		return invalid("prefetch", "ahead, behind and max_in_flight cannot be negative")
	}

	if c.Decode.Concurrency <= 0 {
		return invalid("decode.concurrency", "must be greater than 0")
	}
	if c.Decode.MaxPixels <= 0 {
		return invalid("decode.max_pixels", "must be greater than 0")
	}

	if _, err := c.BufferConfig(nil); err != nil {
		return err
	}

	if c.Memory.SampleInterval <= 0 {
		return invalid("memory.sample_interval", "must be greater than 0")
	}
	for name, frac := range map[string]float64{
		"memory.evict_high_fraction":     c.Memory.EvictHighFraction,
		"memory.evict_critical_fraction": c.Memory.EvictCriticalFraction,
	} {
		if frac < 0 || frac > 1 {
			return invalid(name, "must be between 0 and 1")
		}
	}

	if c.Stats.Enabled && c.Stats.Interval <= 0 {
		return invalid("stats.interval", "must be greater than 0")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
			return invalid("metrics.port", fmt.Sprintf("%d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path", "must start with /")
		}
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", err.Error())
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("global.log_format", err.Error())
	}

	return nil
}

func invalid(field, reason string) error {
	return lerrors.NewError(lerrors.ErrCodeConfigValidation, fmt.Sprintf("%s: %s", field, reason)).
		WithComponent("config").
		WithContext("field", field)
}

// envReader applies LUMAVIEW_* overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = lerrors.Wrap(err, lerrors.ErrCodeConfigLoad, "invalid value for "+EnvPrefix+name).
			WithComponent("config").
			WithContext("variable", EnvPrefix+name)
	}
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		*dst = strings.ToLower(val) == "true"
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
