// Package prefetch decodes images around the current navigation position in
// the background and inserts them into the cache.
//
// Each Schedule call starts a new generation and retires the previous one.
// Work belonging to a retired generation is cancelled through its context,
// and any result it still produces is released instead of committed.
package prefetch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/decode"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

const (
	DefaultAhead  = 2
	DefaultBehind = 1
)

// Config represents prefetch configuration
type Config struct {
	Ahead  int `yaml:"ahead"`
	Behind int `yaml:"behind"`

	// MaxInFlight bounds tasks issued at once by a generation. Defaults to
	// one less than the CPU count so the foreground keeps a decode slot.
	MaxInFlight int `yaml:"max_in_flight"`

	Logger *utils.StructuredLogger `yaml:"-"`
}

// Generation is the set of tasks issued by one Schedule call.
type Generation struct {
	id        uint64
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	paths     []string
	cancelled atomic.Bool
}

// ID returns the generation number. Later generations have larger ids.
func (g *Generation) ID() uint64 { return g.id }

// Paths returns the paths this generation decodes, in issue order.
func (g *Generation) Paths() []string { return g.paths }

// Done is closed when every task of the generation has finished.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Wait blocks until the generation has finished.
func (g *Generation) Wait() { <-g.done }

// Cancelled reports whether the generation was retired before it finished.
func (g *Generation) Cancelled() bool { return g.cancelled.Load() }

func (g *Generation) retire() {
	select {
	case <-g.done:
	default:
		g.cancelled.Store(true)
	}
	g.cancel()
}

// Stats represents prefetch statistics
type Stats struct {
	Generations uint64 `json:"generations"`
	Scheduled   uint64 `json:"scheduled"`
	Skipped     uint64 `json:"skipped"`
	Completed   uint64 `json:"completed"`
	Cancelled   uint64 `json:"cancelled"`
	Failed      uint64 `json:"failed"`
	InFlight    int64  `json:"in_flight"`
}

// Scheduler issues prefetch generations against a cache store.
type Scheduler struct {
	store   *cache.Store
	decoder decode.Decoder
	ahead   int
	behind  int
	limit   int
	logger  *utils.StructuredLogger

	mu         sync.Mutex
	current    *Generation
	generation atomic.Uint64
	closed     bool
	wg         sync.WaitGroup

	scheduled atomic.Uint64
	skipped   atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// NewScheduler creates a scheduler. decoder should already be wrapped with the
// shared decode.Limiter.
func NewScheduler(store *cache.Store, decoder decode.Decoder, config *Config) (*Scheduler, error) {
	if store == nil || decoder == nil {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidConfig, "scheduler requires a store and a decoder").
			WithComponent("prefetch")
	}
	if config == nil {
		config = &Config{Ahead: DefaultAhead, Behind: DefaultBehind}
	}
	if config.Ahead < 0 || config.Behind < 0 {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidConfig, "prefetch counts cannot be negative").
			WithComponent("prefetch").WithDetail("ahead", config.Ahead).WithDetail("behind", config.Behind)
	}

	limit := config.MaxInFlight
	if limit <= 0 {
		limit = runtime.NumCPU() - 1
		if limit < 1 {
			limit = 1
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	return &Scheduler{
		store:   store,
		decoder: decoder,
		ahead:   config.Ahead,
		behind:  config.Behind,
		limit:   limit,
		logger:  logger.WithComponent("prefetch"),
	}, nil
}

// Candidates returns the indices to prefetch around pivot: ahead offsets
// 1..ahead first, then behind offsets 1..behind, skipping out-of-range ones.
func Candidates(n, pivot, ahead, behind int) []int {
	if pivot < 0 || pivot >= n {
		return nil
	}
	out := make([]int, 0, ahead+behind)
	for i := 1; i <= ahead; i++ {
		if pivot+i < n {
			out = append(out, pivot+i)
		}
	}
	for i := 1; i <= behind; i++ {
		if pivot-i >= 0 {
			out = append(out, pivot-i)
		}
	}
	return out
}

// Schedule retires the running generation and starts a new one for the
// images around pivot. Paths already cached are skipped. It does not wait for
// the work to finish.
func (s *Scheduler) Schedule(paths []string, pivot int) *Generation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.retire()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Generation{
		id:     s.generation.Add(1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.current = g

	if s.closed {
		g.cancelled.Store(true)
		cancel()
		close(g.done)
		return g
	}

	for _, idx := range Candidates(len(paths), pivot, s.ahead, s.behind) {
		if s.store.Contains(paths[idx]) {
			s.skipped.Add(1)
			continue
		}
		g.paths = append(g.paths, paths[idx])
	}
	s.scheduled.Add(uint64(len(g.paths)))

	s.logger.Trace("Scheduled prefetch", map[string]interface{}{
		"generation": g.id,
		"pivot":      pivot,
		"paths":      len(g.paths),
	})

	s.wg.Add(1)
	go s.run(g)
	return g
}

// run issues the generation's tasks in priority order. errgroup's limit
// blocks issuance, so ahead tasks always start before behind tasks.
func (s *Scheduler) run(g *Generation) {
	defer s.wg.Done()
	defer close(g.done)
	defer g.cancel()

	var group errgroup.Group
	group.SetLimit(s.limit)

	for i, path := range g.paths {
		if g.ctx.Err() != nil {
			s.cancelled.Add(uint64(len(g.paths) - i))
			break
		}
		path := path
		group.Go(func() error {
			s.fetch(g, path)
			return nil
		})
	}
	_ = group.Wait()
}

func (s *Scheduler) fetch(g *Generation, path string) {
	if g.ctx.Err() != nil {
		s.cancelled.Add(1)
		return
	}
	if s.store.Contains(path) {
		s.skipped.Add(1)
		return
	}

	s.inFlight.Add(1)
	handle, footprint, err := s.decoder.Decode(g.ctx, path)
	s.inFlight.Add(-1)

	if err != nil {
		if lerrors.IsCanceled(err) || g.ctx.Err() != nil {
			s.cancelled.Add(1)
			return
		}
		s.failed.Add(1)
		s.logger.Debug("Prefetch failed", map[string]interface{}{
			"generation": g.id,
			"path":       path,
			"error":      err,
		})
		return
	}

	s.commit(g, path, handle, footprint)
}

// commit inserts a result only while g is still the current, live generation.
// Holding s.mu keeps Schedule from retiring g halfway through the insert.
func (s *Scheduler) commit(g *Generation, path string, handle cache.Handle, footprint int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ctx.Err() != nil || s.generation.Load() != g.id {
		handle.Release()
		s.cancelled.Add(1)
		return
	}
	if err := s.store.Put(path, handle, footprint); err != nil {
		handle.Release()
		s.failed.Add(1)
		s.logger.Debug("Prefetch insert failed", map[string]interface{}{"path": path, "error": err})
		return
	}
	s.completed.Add(1)
}

// Current returns the latest generation, or nil before the first Schedule.
func (s *Scheduler) Current() *Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel retires the current generation without starting a new one.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.retire()
	}
}

// Close cancels outstanding work and waits for it to drain. Later Schedule
// calls return an already cancelled generation.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.current != nil {
		s.current.retire()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Generations: s.generation.Load(),
		Scheduled:   s.scheduled.Load(),
		Skipped:     s.skipped.Load(),
		Completed:   s.completed.Load(),
		Cancelled:   s.cancelled.Load(),
		Failed:      s.failed.Load(),
		InFlight:    s.inFlight.Load(),
	}
}
