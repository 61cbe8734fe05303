// Package buffer provides the tiered memory pool used for decoded pixel buffers.
//
// Buffers are grouped into size classes. Each class bounds the largest buffer
// it hands out, how many idle buffers it keeps for reuse and how many pooled
// buffers may be checked out at once. Requests beyond the largest class, or
// beyond a class's outstanding cap, are served by plain allocations that are
// never retained.
//
// The class of a buffer is a pure function of its size: Rent uses the
// requested size and Return uses the buffer's actual capacity, both through
// classIndex, so a buffer always goes back to the bucket it came from.
package buffer

import (
	"fmt"
	"math/bits"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

const (
	// minAllocSize is the smallest capacity handed out for pooled buffers.
	minAllocSize = 4 << 10

	// DefaultMaxRentSize is the hard limit for a single rent (2GiB).
	DefaultMaxRentSize = 2 << 30
)

// SizeClass describes one bucket of the pool.
type SizeClass struct {
	Name           string `yaml:"name"`
	MaxBufferSize  int    `yaml:"max_buffer_size"`
	MaxRetained    int    `yaml:"max_retained"`
	MaxOutstanding int    `yaml:"max_outstanding"`
}

// DefaultSizeClasses returns the small/medium/large classes used for pixel data.
func DefaultSizeClasses() []SizeClass {
	return []SizeClass{
		{Name: "small", MaxBufferSize: 1 << 20, MaxRetained: 32, MaxOutstanding: 256},
		{Name: "medium", MaxBufferSize: 16 << 20, MaxRetained: 8, MaxOutstanding: 64},
		{Name: "large", MaxBufferSize: 256 << 20, MaxRetained: 2, MaxOutstanding: 16},
	}
}

// Config configures a Pool.
type Config struct {
	Classes     []SizeClass
	MaxRentSize int64

	// ZeroOnReturn clears buffers before they become idle.
	ZeroOnReturn bool

	// Pressure thresholds in bytes of heap in use. Zero disables a level.
	HighWatermark     uint64
	CriticalWatermark uint64

	// MemoryReader reports the observed memory metric. Defaults to HeapAlloc.
	MemoryReader func() uint64

	// Reclaim is invoked after idle buffers are trimmed under pressure.
	// Defaults to runtime.GC for high and debug.FreeOSMemory for critical.
	Reclaim func(level PressureLevel)

	Logger *utils.StructuredLogger
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Classes:           DefaultSizeClasses(),
		MaxRentSize:       DefaultMaxRentSize,
		ZeroOnReturn:      true,
		HighWatermark:     1 << 30,
		CriticalWatermark: 2 << 30,
	}
}

// Validate checks that classes are positive and strictly increasing.
func (c *Config) Validate() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("at least one size class is required")
	}
	prev := 0
	for _, class := range c.Classes {
		if class.MaxBufferSize <= prev {
			return fmt.Errorf("size class %q: max_buffer_size must exceed %d", class.Name, prev)
		}
		if class.MaxRetained < 0 || class.MaxOutstanding < 0 {
			return fmt.Errorf("size class %q: limits cannot be negative", class.Name)
		}
		prev = class.MaxBufferSize
	}
	if c.MaxRentSize < int64(prev) {
		return fmt.Errorf("max rent size %d is below the largest class ceiling %d", c.MaxRentSize, prev)
	}
	if c.HighWatermark > 0 && c.CriticalWatermark > 0 && c.HighWatermark >= c.CriticalWatermark {
		return fmt.Errorf("high watermark must be below critical watermark")
	}
	return nil
}

// PressureLevel is the outcome of a pressure check.
type PressureLevel int

const (
	PressureNone PressureLevel = iota
	PressureHigh
	PressureCritical
)

// String returns the string representation of the pressure level
func (l PressureLevel) String() string {
	switch l {
	case PressureNone:
		return "none"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

const (
	stateReturned int32 = iota
	stateRented
)

// Buffer is a byte region checked out of a Pool. It must be handed back with
// Pool.Return exactly once.
type Buffer struct {
	data   []byte
	size   int
	class  string
	pooled bool
	state  atomic.Int32
	pool   *Pool
}

// Bytes returns the rented region, len == requested size. It returns nil after
// the buffer has been returned.
func (b *Buffer) Bytes() []byte {
	if b.state.Load() != stateRented {
		return nil
	}
	return b.data[:b.size]
}

// Len returns the requested size.
func (b *Buffer) Len() int { return b.size }

// Cap returns the actual capacity backing the buffer.
func (b *Buffer) Cap() int { return cap(b.data) }

// Class returns the size class name, or "" for unpooled buffers.
func (b *Buffer) Class() string { return b.class }

// Pooled reports whether the buffer counts against a class's outstanding cap.
func (b *Buffer) Pooled() bool { return b.pooled }

type bucket struct {
	SizeClass

	mu          sync.Mutex
	idle        [][]byte
	outstanding int

	// mirrors of the guarded state for lock-free stats
	idleCount        atomic.Int64
	idleBytes        atomic.Int64
	outstandingCount atomic.Int64
}

// Pool is a tiered pool of byte buffers. It is safe for concurrent use.
type Pool struct {
	buckets []*bucket
	config  Config
	logger  *utils.StructuredLogger

	bytesRented    atomic.Int64
	bytesReturned  atomic.Int64
	rents          atomic.Int64
	returns        atomic.Int64
	allocations    atomic.Int64
	reuses         atomic.Int64
	unpooled       atomic.Int64
	drops          atomic.Int64
	highEvents     atomic.Int64
	criticalEvents atomic.Int64
}

// NewPool creates a pool. A nil config uses DefaultConfig.
func NewPool(config *Config) (*Pool, error) {
	if config == nil {
		def := DefaultConfig()
		config = &def
	}
	cfg := *config
	if cfg.MaxRentSize <= 0 {
		cfg.MaxRentSize = DefaultMaxRentSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, lerrors.Wrap(err, lerrors.ErrCodeInvalidConfig, "invalid pool configuration").WithComponent("buffer")
	}
	if cfg.MemoryReader == nil {
		cfg.MemoryReader = heapAlloc
	}
	if cfg.Reclaim == nil {
		cfg.Reclaim = defaultReclaim
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewDefaultLogger()
	}

	p := &Pool{
		config: cfg,
		logger: cfg.Logger.WithComponent("buffer"),
	}
	for _, class := range cfg.Classes {
		p.buckets = append(p.buckets, &bucket{SizeClass: class})
	}
	return p, nil
}

// classIndex maps a size to the smallest class whose ceiling holds it, or -1
// when no class does.
func (p *Pool) classIndex(size int) int {
	for i, b := range p.buckets {
		if size <= b.MaxBufferSize {
			return i
		}
	}
	return -1
}

// Rent returns a buffer of at least size bytes.
func (p *Pool) Rent(size int) (*Buffer, error) {
	if size < 0 {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidArgument, "negative buffer size").
			WithComponent("buffer").WithOperation("rent").WithDetail("size", size)
	}
	if int64(size) > p.config.MaxRentSize {
		return nil, lerrors.NewError(lerrors.ErrCodeLimitExceeded, "buffer size exceeds hard limit").
			WithComponent("buffer").WithOperation("rent").
			WithDetail("size", size).WithDetail("limit", p.config.MaxRentSize)
	}

	buf := &Buffer{size: size, pool: p}
	buf.state.Store(stateRented)

	idx := p.classIndex(size)
	if idx < 0 {
		buf.data = make([]byte, size)
		p.unpooled.Add(1)
	} else {
		buf.data, buf.pooled = p.buckets[idx].take(p, size)
		if buf.pooled {
			buf.class = p.buckets[idx].Name
		}
	}

	p.rents.Add(1)
	p.bytesRented.Add(int64(cap(buf.data)))
	return buf, nil
}

// take serves a rent from the bucket: best-fitting idle buffer first, then a
// fresh pooled allocation, then an unpooled one once the outstanding cap is hit.
func (b *bucket) take(p *Pool, size int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.MaxOutstanding > 0 && b.outstanding >= b.MaxOutstanding {
		p.unpooled.Add(1)
		return make([]byte, size), false
	}

	best := -1
	for i, data := range b.idle {
		if cap(data) >= size && (best < 0 || cap(data) < cap(b.idle[best])) {
			best = i
		}
	}

	var data []byte
	if best >= 0 {
		data = b.idle[best]
		last := len(b.idle) - 1
		b.idle[best] = b.idle[last]
		b.idle[last] = nil
		b.idle = b.idle[:last]
		b.idleCount.Add(-1)
		b.idleBytes.Add(-int64(cap(data)))
		p.reuses.Add(1)
	} else {
		data = make([]byte, allocSize(size, b.MaxBufferSize))
		p.allocations.Add(1)
	}

	b.outstanding++
	b.outstandingCount.Add(1)
	return data, true
}

// allocSize rounds size up to a power of two, clamped to the class ceiling.
func allocSize(size, ceiling int) int {
	n := minAllocSize
	if size > n {
		n = 1 << bits.Len(uint(size-1))
	}
	if n > ceiling {
		n = ceiling
	}
	return n
}

// Return hands a buffer back. Returning the same buffer twice is a contract
// violation.
func (p *Pool) Return(buf *Buffer) error {
	if buf == nil {
		return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "nil buffer").
			WithComponent("buffer").WithOperation("return")
	}
	if buf.pool != p {
		return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "buffer belongs to another pool").
			WithComponent("buffer").WithOperation("return")
	}
	if !buf.state.CompareAndSwap(stateRented, stateReturned) {
		return lerrors.Violation(lerrors.ErrDoubleReturn, "buffer", "return")
	}

	data := buf.data
	buf.data = nil

	p.returns.Add(1)
	p.bytesReturned.Add(int64(cap(data)))

	idx := p.classIndex(cap(data))
	if !buf.pooled || idx < 0 {
		return nil
	}
	b := p.buckets[idx]

	if p.config.ZeroOnReturn {
		clear(data[:cap(data)])
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.outstanding--
	b.outstandingCount.Add(-1)
	if len(b.idle) >= b.MaxRetained {
		p.drops.Add(1)
		return nil
	}
	b.idle = append(b.idle, data[:cap(data)])
	b.idleCount.Add(1)
	b.idleBytes.Add(int64(cap(data)))
	return nil
}

// Trim drops the given fraction (0..1] of idle buffers in every class and
// returns the bytes released to the garbage collector.
func (p *Pool) Trim(fraction float64) int64 {
	if fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}

	var freed int64
	for _, b := range p.buckets {
		b.mu.Lock()
		n := int(float64(len(b.idle))*fraction + 0.999999)
		if n > len(b.idle) {
			n = len(b.idle)
		}
		for i := 0; i < n; i++ {
			last := len(b.idle) - 1
			size := int64(cap(b.idle[last]))
			b.idle[last] = nil
			b.idle = b.idle[:last]
			b.idleCount.Add(-1)
			b.idleBytes.Add(-size)
			freed += size
		}
		b.mu.Unlock()
	}
	return freed
}

// PressureCheck compares the observed memory metric with the configured
// watermarks. High trims half of the idle buffers and hints a GC; critical
// trims all of them and asks the runtime to return memory to the OS. Buffers
// that are checked out are never touched.
func (p *Pool) PressureCheck() PressureLevel {
	observed := p.config.MemoryReader()

	level := PressureNone
	switch {
	case p.config.CriticalWatermark > 0 && observed >= p.config.CriticalWatermark:
		level = PressureCritical
	case p.config.HighWatermark > 0 && observed >= p.config.HighWatermark:
		level = PressureHigh
	}

	var freed int64
	switch level {
	case PressureHigh:
		p.highEvents.Add(1)
		freed = p.Trim(0.5)
	case PressureCritical:
		p.criticalEvents.Add(1)
		freed = p.Trim(1)
	default:
		return level
	}

	p.config.Reclaim(level)
	p.logger.Warn("Memory pressure", map[string]interface{}{
		"level":       level.String(),
		"observed":    observed,
		"idle_freed":  freed,
		"outstanding": p.bytesRented.Load() - p.bytesReturned.Load(),
	})
	return level
}

// ClassStats reports one size class.
type ClassStats struct {
	Name          string `json:"name"`
	MaxBufferSize int    `json:"max_buffer_size"`
	Idle          int64  `json:"idle"`
	IdleBytes     int64  `json:"idle_bytes"`
	Outstanding   int64  `json:"outstanding"`
}

// PoolStats is a snapshot of the running counters.
type PoolStats struct {
	BytesRented            int64        `json:"bytes_rented"`
	BytesReturned          int64        `json:"bytes_returned"`
	Rents                  int64        `json:"rents"`
	Returns                int64        `json:"returns"`
	Allocations            int64        `json:"allocations"`
	Reuses                 int64        `json:"reuses"`
	UnpooledAllocations    int64        `json:"unpooled_allocations"`
	Drops                  int64        `json:"drops"`
	HighPressureEvents     int64        `json:"high_pressure_events"`
	CriticalPressureEvents int64        `json:"critical_pressure_events"`
	Classes                []ClassStats `json:"classes"`
}

// OutstandingBytes is the capacity currently checked out.
func (s PoolStats) OutstandingBytes() int64 {
	return s.BytesRented - s.BytesReturned
}

// Stats returns a snapshot built from running counters only.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		BytesRented:            p.bytesRented.Load(),
		BytesReturned:          p.bytesReturned.Load(),
		Rents:                  p.rents.Load(),
		Returns:                p.returns.Load(),
		Allocations:            p.allocations.Load(),
		Reuses:                 p.reuses.Load(),
		UnpooledAllocations:    p.unpooled.Load(),
		Drops:                  p.drops.Load(),
		HighPressureEvents:     p.highEvents.Load(),
		CriticalPressureEvents: p.criticalEvents.Load(),
		Classes:                make([]ClassStats, len(p.buckets)),
	}
	for i, b := range p.buckets {
		stats.Classes[i] = ClassStats{
			Name:          b.Name,
			MaxBufferSize: b.MaxBufferSize,
			Idle:          b.idleCount.Load(),
			IdleBytes:     b.idleBytes.Load(),
			Outstanding:   b.outstandingCount.Load(),
		}
	}
	return stats
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func defaultReclaim(level PressureLevel) {
	switch level {
	case PressureHigh:
		runtime.GC()
	case PressureCritical:
		debug.FreeOSMemory()
	}
}
