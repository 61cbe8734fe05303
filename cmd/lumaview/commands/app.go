package commands

import (
	"context"
	"io"
	"time"

	"github.com/lumaview/lumaview/internal/browser"
	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/config"
	"github.com/lumaview/lumaview/internal/decode"
	"github.com/lumaview/lumaview/internal/memmon"
	"github.com/lumaview/lumaview/internal/metrics"
	"github.com/lumaview/lumaview/internal/prefetch"
	"github.com/lumaview/lumaview/internal/watch"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// app holds the wired components for one browse or bench run.
type app struct {
	cfg    *config.Configuration
	logger *utils.StructuredLogger

	pool      *buffer.Pool
	store     *cache.Store
	limiter   *decode.Limiter
	scheduler *prefetch.Scheduler
	navigator *browser.Navigator

	monitor   *memmon.MemoryMonitor
	collector *metrics.Collector
	poller    *metrics.Poller
	watcher   *watch.Watcher

	cancel  context.CancelFunc
	closers []io.Closer
}

// newApp wires every component for browsing dir. Background services run
// until close.
func newApp(ctx context.Context, cfg *config.Configuration, dir string, logOutput io.Writer) (a *app, err error) {
	lerrors.SetStrict(cfg.Debug.StrictContracts)

	logger, logCloser, err := cfg.NewLogger(logOutput)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a = &app{cfg: cfg, logger: logger, cancel: cancel, closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	poolCfg, err := cfg.BufferConfig(logger)
	if err != nil {
		return nil, err
	}
	if a.pool, err = buffer.NewPool(poolCfg); err != nil {
		return nil, err
	}

	storeCfg, err := cfg.StoreConfig(logger)
	if err != nil {
		return nil, err
	}
	a.store = cache.NewStore(storeCfg)

	a.limiter = decode.NewLimiter(cfg.Decode.Concurrency)
	images, err := decode.NewImageDecoder(decode.ImageConfig{
		Pool:      a.pool,
		MaxPixels: cfg.Decode.MaxPixels,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	decoder := decode.Limited(images, a.limiter)

	if cfg.Prefetch.Enabled {
		if a.scheduler, err = prefetch.NewScheduler(a.store, decoder, cfg.SchedulerConfig(logger)); err != nil {
			return nil, err
		}
	}

	if a.navigator, err = browser.NewNavigator(browser.Config{
		Store:     a.store,
		Decoder:   decoder,
		Scheduler: a.scheduler,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}

	a.monitor = memmon.NewMemoryMonitor(cfg.MonitorConfig(logger), a.pool)
	a.monitor.OnPressure(memmon.EvictOnPressure(a.store,
		cfg.Memory.EvictHighFraction, cfg.Memory.EvictCriticalFraction, logger))
	if err = a.monitor.Start(ctx); err != nil {
		return nil, err
	}

	sources := metrics.Sources{Pool: a.pool, Cache: a.store}
	if a.scheduler != nil {
		sources.Prefetch = a.scheduler
	}

	if a.collector, err = metrics.NewCollector(cfg.CollectorConfig(), sources, logger); err != nil {
		return nil, err
	}
	if cfg.Debug.Pprof {
		debug := memmon.DebugHandler(a.monitor)
		a.collector.Mount("/debug/pprof/", debug)
		a.collector.Mount("/debug/memory/", debug)
	}
	if err = a.collector.Start(ctx); err != nil {
		return nil, err
	}

	if cfg.Stats.Enabled {
		a.poller = metrics.NewPoller(sources, a.navigator, cfg.Stats.Interval, logger)
		a.poller.Start(ctx)
	}

	if cfg.Watch.Enabled {
		if a.watcher, err = watch.NewWatcher(a.store, logger); err != nil {
			return nil, err
		}
		if err = a.watcher.Add(dir); err != nil {
			return nil, err
		}
		go func() { _ = a.watcher.Run(ctx) }()
	}

	return a, nil
}

// navigate loads one image and records it.
func (a *app) navigate(load func() (*browser.Frame, error)) (*browser.Frame, error) {
	start := time.Now()
	frame, err := load()

	latency := time.Since(start)
	var footprint int64
	fromCache := false
	if frame != nil {
		latency = frame.Latency
		footprint = frame.Bitmap.Footprint()
		fromCache = frame.FromCache
	}
	a.collector.RecordNavigation(latency, fromCache, footprint, err)
	return frame, err
}

// close stops background services and drops every cached image.
func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.poller != nil {
		a.poller.Stop()
	}
	if a.collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.collector.Stop(ctx); err != nil {
			a.logger.Warn("Metrics server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}
	if a.monitor != nil {
		_ = a.monitor.Stop()
	}
	if a.navigator != nil {
		a.navigator.Close()
	}
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	if a.store != nil {
		a.store.Clear()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}
