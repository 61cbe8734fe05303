// Package memmon samples process memory on an interval and drives the
// buffer pool's pressure check and the cache's pressure response.
package memmon

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// PressureChecker is implemented by *buffer.Pool.
type PressureChecker interface {
	PressureCheck() buffer.PressureLevel
}

// PressureHandler reacts to a non-zero pressure level.
type PressureHandler func(level buffer.PressureLevel)

// MonitorConfig configures memory monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often to collect memory stats
	SampleInterval time.Duration

	// GrowthThreshold is the percentage of heap growth over the baseline
	// that raises an alert. Zero disables growth alerts.
	GrowthThreshold float64

	// MaxSamples is the number of samples to keep in history
	MaxSamples int

	// MaxAlerts caps the retained alert history
	MaxAlerts int

	// Logger for monitoring events
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:  5 * time.Second,
		GrowthThreshold: 200.0,
		MaxSamples:      120,
		MaxAlerts:       100,
	}
}

// MemorySample represents a memory usage sample
type MemorySample struct {
	Timestamp    time.Time
	HeapAlloc    uint64 // bytes allocated in heap
	HeapSys      uint64 // bytes obtained from system for heap
	HeapIdle     uint64 // bytes in idle spans
	HeapReleased uint64 // bytes returned to the OS
	Sys          uint64 // bytes obtained from system
	NumGC        uint32 // number of completed GC cycles
	NumGoroutine int
	Pressure     buffer.PressureLevel
}

// AlertType represents the type of memory alert
type AlertType int

const (
	AlertTypeHighPressure AlertType = iota
	AlertTypeCriticalPressure
	AlertTypeMemoryGrowth
)

// String returns the string representation of alert type
func (t AlertType) String() string {
	switch t {
	case AlertTypeHighPressure:
		return "high_pressure"
	case AlertTypeCriticalPressure:
		return "critical_pressure"
	case AlertTypeMemoryGrowth:
		return "memory_growth"
	default:
		return "unknown"
	}
}

// MemoryAlert represents a memory alert
type MemoryAlert struct {
	Timestamp   time.Time
	AlertType   AlertType
	Message     string
	CurrentMem  uint64
	BaselineMem uint64
}

// MemoryStats provides memory statistics
type MemoryStats struct {
	CurrentSample       MemorySample
	BaselineSample      MemorySample
	SampleCount         int
	AlertCount          int
	HighEvents          uint64
	CriticalEvents      uint64
	GrowthSinceBaseline float64
}

// MemoryMonitor samples memory and runs pressure handlers.
type MemoryMonitor struct {
	config   MonitorConfig
	logger   *utils.StructuredLogger
	checker  PressureChecker
	readHeap func() MemorySample

	mu             sync.RWMutex
	handlers       []PressureHandler
	samples        []MemorySample
	baselineSet    bool
	baselineSample MemorySample
	currentSample  MemorySample
	alerts         []MemoryAlert

	highEvents     atomic.Uint64
	criticalEvents atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	active atomic.Bool
}

// NewMemoryMonitor creates a new memory monitor. checker may be nil, in which
// case only samples and growth alerts are recorded.
func NewMemoryMonitor(config MonitorConfig, checker PressureChecker) *MemoryMonitor {
	def := DefaultMonitorConfig()
	if config.SampleInterval <= 0 {
		config.SampleInterval = def.SampleInterval
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = def.MaxSamples
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = def.MaxAlerts
	}
	if config.Logger == nil {
		config.Logger = utils.NewDefaultLogger()
	}

	return &MemoryMonitor{
		config:   config,
		logger:   config.Logger.WithComponent("memmon"),
		checker:  checker,
		readHeap: readMemStats,
		samples:  make([]MemorySample, 0, config.MaxSamples),
		stopCh:   make(chan struct{}),
	}
}

// OnPressure registers a handler called after every high or critical check.
func (mm *MemoryMonitor) OnPressure(handler PressureHandler) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.handlers = append(mm.handlers, handler)
}

// Start begins memory monitoring
func (mm *MemoryMonitor) Start(ctx context.Context) error {
	if !mm.active.CompareAndSwap(false, true) {
		return lerrors.NewError(lerrors.ErrCodeAlreadyStarted, "monitor already running").WithComponent("memmon")
	}

	mm.logger.Info("Starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval.String(),
	})

	mm.wg.Add(1)
	go mm.monitorLoop(ctx)
	return nil
}

// Stop stops memory monitoring
func (mm *MemoryMonitor) Stop() error {
	if !mm.active.CompareAndSwap(true, false) {
		return nil
	}

	mm.logger.Info("Stopping memory monitor")
	close(mm.stopCh)
	mm.wg.Wait()
	return nil
}

func (mm *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.Check()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.Check()
		}
	}
}

// Check takes one sample, runs the pressure check and notifies handlers.
func (mm *MemoryMonitor) Check() buffer.PressureLevel {
	level := buffer.PressureNone
	if mm.checker != nil {
		level = mm.checker.PressureCheck()
	}

	sample := mm.readHeap()
	sample.Pressure = level
	mm.record(sample)

	switch level {
	case buffer.PressureHigh:
		mm.highEvents.Add(1)
		mm.alert(AlertTypeHighPressure, "memory above high watermark", sample.HeapAlloc, 0)
	case buffer.PressureCritical:
		mm.criticalEvents.Add(1)
		mm.alert(AlertTypeCriticalPressure, "memory above critical watermark", sample.HeapAlloc, 0)
	default:
		return level
	}

	mm.mu.RLock()
	handlers := append([]PressureHandler(nil), mm.handlers...)
	mm.mu.RUnlock()

	for _, h := range handlers {
		h(level)
	}
	return level
}

func (mm *MemoryMonitor) record(sample MemorySample) {
	mm.mu.Lock()
	if !mm.baselineSet {
		mm.baselineSample = sample
		mm.baselineSet = true
	}
	mm.currentSample = sample
	mm.samples = append(mm.samples, sample)
	if len(mm.samples) > mm.config.MaxSamples {
		mm.samples = mm.samples[1:]
	}
	baseline := mm.baselineSample
	mm.mu.Unlock()

	if mm.config.GrowthThreshold > 0 && baseline.HeapAlloc > 0 {
		growth := growthPct(sample.HeapAlloc, baseline.HeapAlloc)
		if growth > mm.config.GrowthThreshold {
			mm.alert(AlertTypeMemoryGrowth,
				fmt.Sprintf("heap grew %.2f%% over baseline", growth),
				sample.HeapAlloc, baseline.HeapAlloc)
		}
	}
}

func (mm *MemoryMonitor) alert(alertType AlertType, message string, current, baseline uint64) {
	alert := MemoryAlert{
		Timestamp:   time.Now(),
		AlertType:   alertType,
		Message:     message,
		CurrentMem:  current,
		BaselineMem: baseline,
	}

	mm.mu.Lock()
	mm.alerts = append(mm.alerts, alert)
	if len(mm.alerts) > mm.config.MaxAlerts {
		mm.alerts = mm.alerts[1:]
	}
	mm.mu.Unlock()

	mm.logger.Warn("Memory alert", map[string]interface{}{
		"type":     alertType.String(),
		"message":  message,
		"current":  current,
		"baseline": baseline,
	})
}

// GetStats returns current memory statistics
func (mm *MemoryMonitor) GetStats() MemoryStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := MemoryStats{
		CurrentSample:  mm.currentSample,
		BaselineSample: mm.baselineSample,
		SampleCount:    len(mm.samples),
		AlertCount:     len(mm.alerts),
		HighEvents:     mm.highEvents.Load(),
		CriticalEvents: mm.criticalEvents.Load(),
	}
	if mm.baselineSet && mm.baselineSample.HeapAlloc > 0 {
		stats.GrowthSinceBaseline = growthPct(mm.currentSample.HeapAlloc, mm.baselineSample.HeapAlloc)
	}
	return stats
}

// GetAlerts returns all memory alerts
func (mm *MemoryMonitor) GetAlerts() []MemoryAlert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	alerts := make([]MemoryAlert, len(mm.alerts))
	copy(alerts, mm.alerts)
	return alerts
}

// GetSamples returns memory sample history
func (mm *MemoryMonitor) GetSamples() []MemorySample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	samples := make([]MemorySample, len(mm.samples))
	copy(samples, mm.samples)
	return samples
}

// ResetBaseline resets the baseline to current memory usage
func (mm *MemoryMonitor) ResetBaseline() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.baselineSample = mm.currentSample
}

// ClearAlerts clears all alerts
func (mm *MemoryMonitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.alerts = nil
}

// EvictOnPressure returns a handler that evicts a share of the cache's
// current bytes: highFraction on high pressure, criticalFraction on critical.
func EvictOnPressure(store *cache.Store, highFraction, criticalFraction float64, logger *utils.StructuredLogger) PressureHandler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return func(level buffer.PressureLevel) {
		fraction := highFraction
		if level == buffer.PressureCritical {
			fraction = criticalFraction
		}
		if fraction <= 0 {
			return
		}
		target := int64(float64(store.Stats().CurrentBytes) * fraction)
		if target <= 0 {
			return
		}
		freed := store.Evict(target)
		logger.Info("Evicted cache entries under memory pressure", map[string]interface{}{
			"level": level.String(),
			"freed": freed,
		})
	}
}

func growthPct(current, baseline uint64) float64 {
	return (float64(current) - float64(baseline)) / float64(baseline) * 100
}

func readMemStats() MemorySample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemorySample{
		Timestamp:    time.Now(),
		HeapAlloc:    ms.HeapAlloc,
		HeapSys:      ms.HeapSys,
		HeapIdle:     ms.HeapIdle,
		HeapReleased: ms.HeapReleased,
		Sys:          ms.Sys,
		NumGC:        ms.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
