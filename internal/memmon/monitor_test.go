package memmon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

type scriptedChecker struct {
	mu     sync.Mutex
	levels []buffer.PressureLevel
	calls  int
}

func (c *scriptedChecker) PressureCheck() buffer.PressureLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.levels) == 0 {
		return buffer.PressureNone
	}
	level := c.levels[0]
	c.levels = c.levels[1:]
	return level
}

func testConfig() MonitorConfig {
	config := DefaultMonitorConfig()
	config.Logger = utils.NewNopLogger()
	return config
}

func TestNewMemoryMonitorDefaults(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{Logger: utils.NewNopLogger()}, nil)

	if monitor.config.SampleInterval != 5*time.Second {
		t.Errorf("SampleInterval = %v, want 5s", monitor.config.SampleInterval)
	}
	if monitor.config.MaxSamples != 120 {
		t.Errorf("MaxSamples = %d, want 120", monitor.config.MaxSamples)
	}
}

func TestMemoryMonitor_CheckRunsHandlers(t *testing.T) {
	checker := &scriptedChecker{levels: []buffer.PressureLevel{
		buffer.PressureNone, buffer.PressureHigh, buffer.PressureCritical,
	}}
	monitor := NewMemoryMonitor(testConfig(), checker)

	var seen []buffer.PressureLevel
	monitor.OnPressure(func(level buffer.PressureLevel) { seen = append(seen, level) })

	for _, want := range []buffer.PressureLevel{buffer.PressureNone, buffer.PressureHigh, buffer.PressureCritical} {
		if got := monitor.Check(); got != want {
			t.Errorf("Check() = %v, want %v", got, want)
		}
	}

	if len(seen) != 2 || seen[0] != buffer.PressureHigh || seen[1] != buffer.PressureCritical {
		t.Errorf("handlers saw %v, want [high critical]", seen)
	}

	stats := monitor.GetStats()
	if stats.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", stats.SampleCount)
	}
	if stats.HighEvents != 1 || stats.CriticalEvents != 1 {
		t.Errorf("events = %d/%d, want 1/1", stats.HighEvents, stats.CriticalEvents)
	}

	alerts := monitor.GetAlerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].AlertType != AlertTypeHighPressure || alerts[1].AlertType != AlertTypeCriticalPressure {
		t.Errorf("unexpected alert types: %v, %v", alerts[0].AlertType, alerts[1].AlertType)
	}

	samples := monitor.GetSamples()
	if samples[2].Pressure != buffer.PressureCritical {
		t.Errorf("last sample pressure = %v, want critical", samples[2].Pressure)
	}

	monitor.ClearAlerts()
	if len(monitor.GetAlerts()) != 0 {
		t.Error("alerts should be cleared")
	}
}

func TestMemoryMonitor_GrowthAlert(t *testing.T) {
	config := testConfig()
	config.GrowthThreshold = 50
	monitor := NewMemoryMonitor(config, nil)

	heap := []uint64{1000, 1200, 2000}
	i := 0
	monitor.readHeap = func() MemorySample {
		s := MemorySample{Timestamp: time.Now(), HeapAlloc: heap[i]}
		i++
		return s
	}

	monitor.Check()
	monitor.Check()
	if n := len(monitor.GetAlerts()); n != 0 {
		t.Fatalf("expected no alerts below threshold, got %d", n)
	}

	monitor.Check()
	alerts := monitor.GetAlerts()
	if len(alerts) != 1 || alerts[0].AlertType != AlertTypeMemoryGrowth {
		t.Fatalf("expected one growth alert, got %+v", alerts)
	}
	if alerts[0].BaselineMem != 1000 || alerts[0].CurrentMem != 2000 {
		t.Errorf("alert mem = %d/%d, want 2000/1000", alerts[0].CurrentMem, alerts[0].BaselineMem)
	}
	if got := monitor.GetStats().GrowthSinceBaseline; got != 100 {
		t.Errorf("GrowthSinceBaseline = %v, want 100", got)
	}

	monitor.ResetBaseline()
	if got := monitor.GetStats().GrowthSinceBaseline; got != 0 {
		t.Errorf("GrowthSinceBaseline after reset = %v, want 0", got)
	}
}

func TestMemoryMonitor_SampleHistoryBounded(t *testing.T) {
	config := testConfig()
	config.MaxSamples = 3
	config.MaxAlerts = 2
	checker := &scriptedChecker{levels: []buffer.PressureLevel{
		buffer.PressureHigh, buffer.PressureHigh, buffer.PressureHigh, buffer.PressureHigh, buffer.PressureHigh,
	}}
	monitor := NewMemoryMonitor(config, checker)

	for i := 0; i < 5; i++ {
		monitor.Check()
	}

	if n := len(monitor.GetSamples()); n != 3 {
		t.Errorf("samples = %d, want 3", n)
	}
	if n := len(monitor.GetAlerts()); n != 2 {
		t.Errorf("alerts = %d, want 2", n)
	}
}

func TestMemoryMonitor_StartStop(t *testing.T) {
	config := testConfig()
	config.SampleInterval = 10 * time.Millisecond
	checker := &scriptedChecker{}
	monitor := NewMemoryMonitor(config, checker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		t.Fatalf("Failed to start monitor: %v", err)
	}
	err := monitor.Start(ctx)
	if lerrors.CodeOf(err) != lerrors.ErrCodeAlreadyStarted {
		t.Errorf("second Start error = %v, want ALREADY_STARTED", err)
	}

	deadline := time.Now().Add(time.Second)
	for monitor.GetStats().SampleCount < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := monitor.GetStats().SampleCount; n < 3 {
		t.Errorf("expected at least 3 samples, got %d", n)
	}

	if err := monitor.Stop(); err != nil {
		t.Fatalf("Failed to stop monitor: %v", err)
	}
	if err := monitor.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

type releaseCounter struct{ n *atomic.Int32 }

func (r releaseCounter) Release() { r.n.Add(1) }

func TestEvictOnPressure(t *testing.T) {
	store := cache.NewStore(&cache.Config{MaxBytes: 10000, Logger: utils.NewNopLogger()})
	var released atomic.Int32
	for _, key := range []string{"a", "b", "c", "d"} {
		if err := store.Put(key, releaseCounter{&released}, 1000); err != nil {
			t.Fatal(err)
		}
	}

	handler := EvictOnPressure(store, 0.25, 0.5, nil)

	handler(buffer.PressureHigh)
	if got := store.Stats().CurrentBytes; got != 3000 {
		t.Errorf("after high: CurrentBytes = %d, want 3000", got)
	}

	handler(buffer.PressureCritical)
	if got := store.Stats().CurrentBytes; got != 1000 {
		t.Errorf("after critical: CurrentBytes = %d, want 1000", got)
	}
	if released.Load() != 3 {
		t.Errorf("released = %d, want 3", released.Load())
	}
	if store.Contains("a") || !store.Contains("d") {
		t.Errorf("expected oldest entries evicted, keys = %v", store.Keys())
	}
}

func TestAlertTypeString(t *testing.T) {
	tests := map[AlertType]string{
		AlertTypeHighPressure:     "high_pressure",
		AlertTypeCriticalPressure: "critical_pressure",
		AlertTypeMemoryGrowth:     "memory_growth",
		AlertType(42):             "unknown",
	}
	for alertType, want := range tests {
		if got := alertType.String(); got != want {
			t.Errorf("AlertType(%d).String() = %q, want %q", alertType, got, want)
		}
	}
}
