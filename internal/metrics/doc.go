/*
Package metrics exports lumaview's runtime statistics.

# Overview

Two consumers read the same snapshots. The Collector serves them to Prometheus
and the Poller writes a one-line summary to the log.

	┌──────────┐  ┌──────────┐  ┌────────────┐
	│   Pool   │  │  Store   │  │ Scheduler  │
	└────┬─────┘  └────┬─────┘  └─────┬──────┘
	     └─────────────┼──────────────┘
	                   │ Stats()
	         ┌─────────┴─────────┐
	         │                   │
	   ┌─────▼─────┐       ┌─────▼────┐
	   │ Collector │       │  Poller  │
	   │ /metrics  │       │  log     │
	   │ /health   │       └──────────┘
	   └───────────┘

Snapshots are taken at scrape time. Reading them never mutates the components,
so a scrape cannot change cache recency or hit counts.

# Collector

	collector, err := metrics.NewCollector(cfg.Metrics, metrics.Sources{
		Pool:     pool,
		Cache:    store,
		Prefetch: scheduler,
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

Navigations are recorded explicitly:

	collector.RecordNavigation(frame.Latency, frame.FromCache, frame.Bitmap.Footprint(), err)

# Exported series

Cache: lumaview_cache_entries, lumaview_cache_bytes, lumaview_cache_budget_bytes,
lumaview_cache_hits_total, lumaview_cache_misses_total, lumaview_cache_evictions_total.

Pool: lumaview_pool_rented_bytes_total, lumaview_pool_returned_bytes_total,
lumaview_pool_allocations_total, lumaview_pool_reuses_total,
lumaview_pool_unpooled_allocations_total, lumaview_pool_drops_total,
lumaview_pool_pressure_events_total{level}, and per class
lumaview_pool_idle_buffers, lumaview_pool_idle_bytes, lumaview_pool_outstanding_buffers.

Prefetch: lumaview_prefetch_generations_total, lumaview_prefetch_tasks_total{outcome},
lumaview_prefetch_in_flight.

Navigation: lumaview_navigation_duration_seconds{source},
lumaview_navigations_total{outcome}, lumaview_image_footprint_bytes.
*/
package metrics
