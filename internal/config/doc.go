/*
Package config provides configuration management for lumaview.

# Configuration Sources

Sources are applied in order, each overriding the last:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (LUMAVIEW_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault)                         │
	└─────────────────────────────────────────────┘

Load runs all three and validates the result:

	cfg, err := config.Load("/etc/lumaview/config.yaml")
	if err != nil {
		return err
	}

# Byte Sizes

Sizes are strings parsed with go-humanize, so both IEC and SI units work:
"512MiB" is 536870912 bytes and "2GB" is 2000000000 bytes. A bare number is
bytes.

# Example File

	global:
	  log_level: INFO
	  log_format: text

	cache:
	  max_bytes: 512MiB

	prefetch:
	  enabled: true
	  ahead: 2
	  behind: 1
	  max_in_flight: 0        # 0 means decode.concurrency - 1

	decode:
	  concurrency: 8
	  max_pixels: 500000000

	pool:
	  max_rent_size: 2GiB
	  zero_on_return: true
	  classes:
	    - {name: small,  max_buffer_size: 1MiB,   max_retained: 32, max_outstanding: 256}
	    - {name: medium, max_buffer_size: 16MiB,  max_retained: 8,  max_outstanding: 64}
	    - {name: large,  max_buffer_size: 256MiB, max_retained: 2,  max_outstanding: 16}

	memory:
	  high_watermark: 1GiB
	  critical_watermark: 2GiB
	  sample_interval: 5s
	  evict_high_fraction: 0.25
	  evict_critical_fraction: 0.5

	stats:
	  enabled: true
	  interval: 5s

	metrics:
	  enabled: false
	  port: 9464
	  path: /metrics

	watch:
	  enabled: true

	debug:
	  strict_contracts: false
	  pprof: false            # needs metrics.enabled

# Environment Variables

	LUMAVIEW_LOG_LEVEL, LUMAVIEW_LOG_FORMAT, LUMAVIEW_LOG_FILE
	LUMAVIEW_CACHE_MAX_BYTES
	LUMAVIEW_PREFETCH_ENABLED, LUMAVIEW_PREFETCH_AHEAD, LUMAVIEW_PREFETCH_BEHIND,
	LUMAVIEW_PREFETCH_MAX_IN_FLIGHT
	LUMAVIEW_DECODE_CONCURRENCY, LUMAVIEW_DECODE_MAX_PIXELS
	LUMAVIEW_POOL_MAX_RENT_SIZE, LUMAVIEW_POOL_ZERO_ON_RETURN
	LUMAVIEW_MEMORY_HIGH_WATERMARK, LUMAVIEW_MEMORY_CRITICAL_WATERMARK,
	LUMAVIEW_MEMORY_SAMPLE_INTERVAL
	LUMAVIEW_STATS_ENABLED, LUMAVIEW_STATS_INTERVAL
	LUMAVIEW_METRICS_ENABLED, LUMAVIEW_METRICS_PORT, LUMAVIEW_METRICS_PATH
	LUMAVIEW_WATCH_ENABLED, LUMAVIEW_STRICT_CONTRACTS, LUMAVIEW_PPROF

A malformed number or duration fails LoadFromEnv with CONFIG_LOAD. Validate
reports CONFIG_VALIDATION naming the offending field.

# Component Configs

The Configuration converts itself into each component's config type:
BufferConfig, StoreConfig, SchedulerConfig, MonitorConfig and CollectorConfig.
NewLogger builds the application logger from the global section.
*/
package config
