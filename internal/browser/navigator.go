// Package browser drives navigation: it serves the requested image from the
// cache or decodes it, then asks the prefetch scheduler to warm the
// neighbours.
package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/decode"
	"github.com/lumaview/lumaview/internal/imaging"
	"github.com/lumaview/lumaview/internal/prefetch"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// Config configures a Navigator.
type Config struct {
	Store *cache.Store

	// Decoder should be wrapped with the limiter shared with prefetch.
	Decoder decode.Decoder

	// Scheduler is optional; without it nothing is prefetched.
	Scheduler *prefetch.Scheduler

	Logger *utils.StructuredLogger
}

// Frame is the result of a successful navigation. The caller owns one
// reference to Bitmap and must call Release when done with it.
type Frame struct {
	Bitmap    *imaging.Bitmap
	Path      string
	Index     int
	FromCache bool
	Latency   time.Duration
}

// Release drops the caller's reference to the bitmap.
func (f *Frame) Release() {
	if f != nil && f.Bitmap != nil {
		f.Bitmap.Release()
	}
}

// Stats represents navigation statistics
type Stats struct {
	Navigations   uint64 `json:"navigations"`
	CacheHits     uint64 `json:"cache_hits"`
	Decodes       uint64 `json:"decodes"`
	Failures      uint64 `json:"failures"`
	Cancellations uint64 `json:"cancellations"`
}

// Navigator loads images for the foreground. Each NavigateTo cancels the one
// before it.
type Navigator struct {
	store     *cache.Store
	decoder   decode.Decoder
	scheduler *prefetch.Scheduler
	logger    *utils.StructuredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    atomic.Uint64

	navigations   atomic.Uint64
	hits          atomic.Uint64
	decodes       atomic.Uint64
	failures      atomic.Uint64
	cancellations atomic.Uint64
}

// NewNavigator creates a navigator.
func NewNavigator(config Config) (*Navigator, error) {
	if config.Store == nil || config.Decoder == nil {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidConfig, "navigator requires a store and a decoder").
			WithComponent("browser")
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Navigator{
		store:     config.Store,
		decoder:   config.Decoder,
		scheduler: config.Scheduler,
		logger:    logger.WithComponent("browser"),
	}, nil
}

// NavigateTo shows paths[index]. It returns a cancellation error when a later
// NavigateTo supersedes this one or ctx ends; decode problems come back as
// user-facing load errors. On success prefetch is scheduled around index.
func (n *Navigator) NavigateTo(ctx context.Context, paths []string, index int) (*Frame, error) {
	if index < 0 || index >= len(paths) {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidArgument, "navigation index out of range").
			WithComponent("browser").WithOperation("navigate").
			WithDetail("index", index).WithDetail("count", len(paths))
	}

	navCtx, id := n.begin(ctx)
	n.navigations.Add(1)
	start := time.Now()
	path := paths[index]

	if handle, ok := n.store.Acquire(path); ok {
		bmp, err := asBitmap(handle, path)
		if err != nil {
			n.failures.Add(1)
			return nil, err
		}
		n.hits.Add(1)
		n.schedule(paths, index)
		return &Frame{Bitmap: bmp, Path: path, Index: index, FromCache: true, Latency: time.Since(start)}, nil
	}

	n.decodes.Add(1)
	handle, footprint, err := n.decoder.Decode(navCtx, path)
	if err != nil {
		if lerrors.IsCanceled(err) || navCtx.Err() != nil {
			n.cancellations.Add(1)
			return nil, lerrors.Canceled(navCtx.Err()).WithComponent("browser").WithOperation("navigate")
		}
		n.failures.Add(1)
		return nil, loadError(err, path)
	}

	bmp, err := asBitmap(handle, path)
	if err != nil {
		n.failures.Add(1)
		return nil, err
	}

	if committed, err := n.commit(navCtx, id, path, bmp, footprint); !committed {
		bmp.Release()
		if err != nil {
			n.failures.Add(1)
			return nil, err
		}
		n.cancellations.Add(1)
		return nil, lerrors.Canceled(navCtx.Err()).WithComponent("browser").WithOperation("navigate")
	}

	n.schedule(paths, index)

	latency := time.Since(start)
	n.logger.Debug("Decoded on navigation", map[string]interface{}{
		"path":       path,
		"footprint":  footprint,
		"latency_ms": latency.Milliseconds(),
	})
	return &Frame{Bitmap: bmp, Path: path, Index: index, Latency: latency}, nil
}

// begin cancels the previous navigation and starts a new one.
func (n *Navigator) begin(ctx context.Context) (context.Context, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	navCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	return navCtx, n.seq.Add(1)
}

// commit inserts bmp for navigation id unless a later navigation began or ctx
// ended. The check and the insert hold n.mu, which begin also takes. On
// success the store holds its own reference and the caller keeps one.
func (n *Navigator) commit(ctx context.Context, id uint64, path string, bmp *imaging.Bitmap, footprint int64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ctx.Err() != nil || n.seq.Load() != id {
		return false, nil
	}

	bmp.Retain()
	if err := n.store.Put(path, bmp, footprint); err != nil {
		bmp.Release()
		return false, err
	}
	return true, nil
}

func (n *Navigator) schedule(paths []string, index int) {
	if n.scheduler != nil {
		n.scheduler.Schedule(paths, index)
	}
}

// Close cancels the in-flight navigation.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

// Stats returns a snapshot of the navigator's counters.
func (n *Navigator) Stats() Stats {
	return Stats{
		Navigations:   n.navigations.Load(),
		CacheHits:     n.hits.Load(),
		Decodes:       n.decodes.Load(),
		Failures:      n.failures.Load(),
		Cancellations: n.cancellations.Load(),
	}
}

func asBitmap(handle cache.Handle, path string) (*imaging.Bitmap, error) {
	bmp, ok := handle.(*imaging.Bitmap)
	if !ok {
		handle.Release()
		return nil, lerrors.NewError(lerrors.ErrCodeInternalError, "decoder returned an unexpected handle type").
			WithComponent("browser").WithOperation("navigate").WithContext("path", path)
	}
	return bmp, nil
}

// loadError keeps load-category errors as they are and wraps anything else as
// a decode failure.
func loadError(err error, path string) error {
	switch lerrors.CodeOf(err) {
	case lerrors.ErrCodeFileNotFound, lerrors.ErrCodeDecodeFailed, lerrors.ErrCodeUnsupportedFormat,
		lerrors.ErrCodePermissionDenied, lerrors.ErrCodeLimitExceeded:
		return err
	}
	return lerrors.Wrap(err, lerrors.ErrCodeDecodeFailed, path).WithComponent("browser").WithOperation("navigate")
}
