package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lumaview/lumaview/internal/browser"
	"github.com/lumaview/lumaview/pkg/utils"
)

// NavigatorSource is implemented by *browser.Navigator.
type NavigatorSource interface {
	Stats() browser.Stats
}

// Poller logs a one-line summary of the sources every interval.
type Poller struct {
	sources   Sources
	navigator NavigatorSource
	interval  time.Duration
	logger    *utils.StructuredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. navigator may be nil.
func NewPoller(sources Sources, navigator NavigatorSource, interval time.Duration, logger *utils.StructuredLogger) *Poller {
	if interval <= 0 {
		interval = DefaultConfig().UpdateInterval
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Poller{
		sources:   sources,
		navigator: navigator,
		interval:  interval,
		logger:    logger.WithComponent("stats"),
	}
}

// Start begins polling until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.logger.Info(p.Summary())
			}
		}
	}(p.done)
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Summary renders the current snapshots as a single line.
func (p *Poller) Summary() string {
	var parts []string

	if p.sources.Cache != nil {
		st := p.sources.Cache.Stats()
		parts = append(parts, fmt.Sprintf("cache %d entries %s/%s hit %.1f%% evicted %d",
			st.Count,
			humanize.IBytes(uint64(st.CurrentBytes)),
			humanize.IBytes(uint64(st.MaxBytes)),
			st.HitRate*100,
			st.Evictions))
	}

	if p.sources.Pool != nil {
		st := p.sources.Pool.Stats()
		parts = append(parts, fmt.Sprintf("pool out %s reuse %d/%d unpooled %d",
			humanize.IBytes(uint64(max(st.OutstandingBytes(), 0))),
			st.Reuses,
			st.Rents,
			st.UnpooledAllocations))
	}

	if p.sources.Prefetch != nil {
		st := p.sources.Prefetch.Stats()
		parts = append(parts, fmt.Sprintf("prefetch done %d skipped %d cancelled %d failed %d",
			st.Completed, st.Skipped, st.Cancelled, st.Failed))
	}

	if p.navigator != nil {
		st := p.navigator.Stats()
		parts = append(parts, fmt.Sprintf("nav %d hits %d decodes %d",
			st.Navigations, st.CacheHits, st.Decodes))
	}

	if len(parts) == 0 {
		return "no stats sources"
	}
	return strings.Join(parts, " | ")
}
