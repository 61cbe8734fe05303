package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/prefetch"
)

// PoolSource is implemented by *buffer.Pool.
type PoolSource interface {
	Stats() buffer.PoolStats
}

// CacheSource is implemented by *cache.Store.
type CacheSource interface {
	Stats() cache.Stats
}

// PrefetchSource is implemented by *prefetch.Scheduler.
type PrefetchSource interface {
	Stats() prefetch.Stats
}

// Sources are the snapshots read on every scrape or poll. Any may be nil.
type Sources struct {
	Pool     PoolSource
	Cache    CacheSource
	Prefetch PrefetchSource
}

// statsCollector turns stats snapshots into const metrics at scrape time, so
// reading never mutates the components.
type statsCollector struct {
	sources Sources

	cacheEntries   *prometheus.Desc
	cacheBytes     *prometheus.Desc
	cacheBudget    *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc

	poolRented      *prometheus.Desc
	poolReturned    *prometheus.Desc
	poolAllocations *prometheus.Desc
	poolReuses      *prometheus.Desc
	poolUnpooled    *prometheus.Desc
	poolDrops       *prometheus.Desc
	poolPressure    *prometheus.Desc
	poolIdle        *prometheus.Desc
	poolIdleBytes   *prometheus.Desc
	poolOutstanding *prometheus.Desc

	prefetchGenerations *prometheus.Desc
	prefetchTasks       *prometheus.Desc
	prefetchInFlight    *prometheus.Desc
}

func newStatsCollector(namespace, subsystem string, labels map[string]string, sources Sources) *statsCollector {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}

	return &statsCollector{
		sources: sources,

		cacheEntries:   desc("cache_entries", "Entries in the image cache"),
		cacheBytes:     desc("cache_bytes", "Bytes held by the image cache"),
		cacheBudget:    desc("cache_budget_bytes", "Configured image cache budget"),
		cacheHits:      desc("cache_hits_total", "Cache lookups that found an entry"),
		cacheMisses:    desc("cache_misses_total", "Cache lookups that found nothing"),
		cacheEvictions: desc("cache_evictions_total", "Entries evicted to satisfy the budget"),

		poolRented:      desc("pool_rented_bytes_total", "Buffer capacity handed out by the pool"),
		poolReturned:    desc("pool_returned_bytes_total", "Buffer capacity returned to the pool"),
		poolAllocations: desc("pool_allocations_total", "Fresh pooled allocations"),
		poolReuses:      desc("pool_reuses_total", "Rents served from idle buffers"),
		poolUnpooled:    desc("pool_unpooled_allocations_total", "Allocations made outside any size class"),
		poolDrops:       desc("pool_drops_total", "Returned buffers discarded because the class was full"),
		poolPressure:    desc("pool_pressure_events_total", "Pressure checks above a watermark", "level"),
		poolIdle:        desc("pool_idle_buffers", "Idle buffers per size class", "class"),
		poolIdleBytes:   desc("pool_idle_bytes", "Idle buffer bytes per size class", "class"),
		poolOutstanding: desc("pool_outstanding_buffers", "Pooled buffers checked out per size class", "class"),

		prefetchGenerations: desc("prefetch_generations_total", "Prefetch generations started"),
		prefetchTasks:       desc("prefetch_tasks_total", "Prefetch tasks by outcome", "outcome"),
		prefetchInFlight:    desc("prefetch_in_flight", "Prefetch decodes currently running"),
	}
}

// Describe implements prometheus.Collector.
func (s *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		s.cacheEntries, s.cacheBytes, s.cacheBudget, s.cacheHits, s.cacheMisses, s.cacheEvictions,
		s.poolRented, s.poolReturned, s.poolAllocations, s.poolReuses, s.poolUnpooled, s.poolDrops,
		s.poolPressure, s.poolIdle, s.poolIdleBytes, s.poolOutstanding,
		s.prefetchGenerations, s.prefetchTasks, s.prefetchInFlight,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (s *statsCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	if s.sources.Cache != nil {
		st := s.sources.Cache.Stats()
		gauge(s.cacheEntries, float64(st.Count))
		gauge(s.cacheBytes, float64(st.CurrentBytes))
		gauge(s.cacheBudget, float64(st.MaxBytes))
		counter(s.cacheHits, float64(st.Hits))
		counter(s.cacheMisses, float64(st.Misses))
		counter(s.cacheEvictions, float64(st.Evictions))
	}

	if s.sources.Pool != nil {
		st := s.sources.Pool.Stats()
		counter(s.poolRented, float64(st.BytesRented))
		counter(s.poolReturned, float64(st.BytesReturned))
		counter(s.poolAllocations, float64(st.Allocations))
		counter(s.poolReuses, float64(st.Reuses))
		counter(s.poolUnpooled, float64(st.UnpooledAllocations))
		counter(s.poolDrops, float64(st.Drops))
		counter(s.poolPressure, float64(st.HighPressureEvents), "high")
		counter(s.poolPressure, float64(st.CriticalPressureEvents), "critical")
		for _, class := range st.Classes {
			gauge(s.poolIdle, float64(class.Idle), class.Name)
			gauge(s.poolIdleBytes, float64(class.IdleBytes), class.Name)
			gauge(s.poolOutstanding, float64(class.Outstanding), class.Name)
		}
	}

	if s.sources.Prefetch != nil {
		st := s.sources.Prefetch.Stats()
		counter(s.prefetchGenerations, float64(st.Generations))
		counter(s.prefetchTasks, float64(st.Completed), "completed")
		counter(s.prefetchTasks, float64(st.Skipped), "skipped")
		counter(s.prefetchTasks, float64(st.Cancelled), "cancelled")
		counter(s.prefetchTasks, float64(st.Failed), "failed")
		gauge(s.prefetchInFlight, float64(st.InFlight))
	}
}
