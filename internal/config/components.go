package config

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/memmon"
	"github.com/lumaview/lumaview/internal/metrics"
	"github.com/lumaview/lumaview/internal/prefetch"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// ParseSize parses a human-readable byte size such as "512MiB" or "2GB".
// An empty string is zero.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, lerrors.NewError(lerrors.ErrCodeLimitExceeded, "size too large: "+s)
	}
	return int64(n), nil
}

// NewLogger builds the application logger. Output goes to global.log_file
// when set, otherwise to stdout. The returned closer is never nil.
func (c *Configuration) NewLogger(stdout io.Writer) (*utils.StructuredLogger, io.Closer, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, nil, invalid("global.log_level", err.Error())
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, nil, invalid("global.log_format", err.Error())
	}

	var closer io.Closer = io.NopCloser(nil)
	output := stdout
	if c.Global.LogFile != "" {
		f, err := os.OpenFile(c.Global.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, lerrors.Wrap(err, lerrors.ErrCodeConfigLoad, "failed to open log file").
				WithComponent("config").
				WithContext("file", c.Global.LogFile)
		}
		output, closer = f, f
	}

	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: output,
		Format: format,
	})
	if err != nil {
		_ = closer.Close()
		return nil, nil, lerrors.Wrap(err, lerrors.ErrCodeInvalidConfig, "failed to create logger").WithComponent("config")
	}
	return logger, closer, nil
}

// CacheBytes is the parsed cache budget.
func (c *Configuration) CacheBytes() (int64, error) {
	n, err := ParseSize(c.Cache.MaxBytes)
	if err != nil {
		return 0, invalid("cache.max_bytes", err.Error())
	}
	return n, nil
}

// BufferConfig converts the pool and memory sections into a buffer.Config.
func (c *Configuration) BufferConfig(logger *utils.StructuredLogger) (*buffer.Config, error) {
	cfg := buffer.DefaultConfig()
	cfg.Logger = logger
	cfg.ZeroOnReturn = c.Pool.ZeroOnReturn

	if len(c.Pool.Classes) > 0 {
		cfg.Classes = make([]buffer.SizeClass, 0, len(c.Pool.Classes))
		for _, class := range c.Pool.Classes {
			size, err := ParseSize(class.MaxBufferSize)
			if err != nil {
				return nil, invalid("pool.classes."+class.Name+".max_buffer_size", err.Error())
			}
			cfg.Classes = append(cfg.Classes, buffer.SizeClass{
				Name:           class.Name,
				MaxBufferSize:  int(size),
				MaxRetained:    class.MaxRetained,
				MaxOutstanding: class.MaxOutstanding,
			})
		}
	}

	if c.Pool.MaxRentSize != "" {
		n, err := ParseSize(c.Pool.MaxRentSize)
		if err != nil {
			return nil, invalid("pool.max_rent_size", err.Error())
		}
		cfg.MaxRentSize = n
	}

	high, err := ParseSize(c.Memory.HighWatermark)
	if err != nil {
		return nil, invalid("memory.high_watermark", err.Error())
	}
	critical, err := ParseSize(c.Memory.CriticalWatermark)
	if err != nil {
		return nil, invalid("memory.critical_watermark", err.Error())
	}
	cfg.HighWatermark = uint64(high)
	cfg.CriticalWatermark = uint64(critical)

	if err := cfg.Validate(); err != nil {
		return nil, invalid("pool", err.Error())
	}
	return &cfg, nil
}

// StoreConfig converts the cache section into a cache.Config.
func (c *Configuration) StoreConfig(logger *utils.StructuredLogger) (*cache.Config, error) {
	n, err := c.CacheBytes()
	if err != nil {
		return nil, err
	}
	return &cache.Config{MaxBytes: n, Logger: logger}, nil
}

// SchedulerConfig converts the prefetch section into a prefetch.Config.
func (c *Configuration) SchedulerConfig(logger *utils.StructuredLogger) *prefetch.Config {
	return &prefetch.Config{
		Ahead:       c.Prefetch.Ahead,
		Behind:      c.Prefetch.Behind,
		MaxInFlight: c.schedulerInFlight(),
		Logger:      logger,
	}
}

// schedulerInFlight leaves one decode slot for the foreground unless set.
func (c *Configuration) schedulerInFlight() int {
	if c.Prefetch.MaxInFlight > 0 {
		return c.Prefetch.MaxInFlight
	}
	return max(c.Decode.Concurrency-1, 1)
}

// MonitorConfig converts the memory section into a memmon.MonitorConfig.
func (c *Configuration) MonitorConfig(logger *utils.StructuredLogger) memmon.MonitorConfig {
	cfg := memmon.DefaultMonitorConfig()
	cfg.SampleInterval = c.Memory.SampleInterval
	cfg.Logger = logger
	return cfg
}

// CollectorConfig converts the metrics section into a metrics.Config.
func (c *Configuration) CollectorConfig() *metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = c.Metrics.Enabled
	cfg.Port = c.Metrics.Port
	if c.Metrics.Path != "" {
		cfg.Path = c.Metrics.Path
	}
	for k, v := range c.Metrics.Labels {
		cfg.Labels[k] = v
	}
	if c.Stats.Interval > 0 {
		cfg.UpdateInterval = c.Stats.Interval
	}
	return cfg
}
