package memmon

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"
)

// DebugHandler serves the standard pprof endpoints and the monitor's
// samples and alerts:
//
//	GET  /debug/memory/stats
//	GET  /debug/memory/samples
//	GET  /debug/memory/alerts
//	POST /debug/memory/check
func DebugHandler(mm *MemoryMonitor) http.Handler {
	mux := http.NewServeMux()

	// Standard pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Memory endpoints
	mux.HandleFunc("/debug/memory/stats", mm.handleStats)
	mux.HandleFunc("/debug/memory/samples", mm.handleSamples)
	mux.HandleFunc("/debug/memory/alerts", mm.handleAlerts)
	mux.HandleFunc("/debug/memory/check", mm.handleCheck)

	return mux
}

type sampleJSON struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapSys      uint64    `json:"heap_sys"`
	HeapReleased uint64    `json:"heap_released"`
	NumGC        uint32    `json:"num_gc"`
	NumGoroutine int       `json:"num_goroutine"`
	Pressure     string    `json:"pressure"`
}

func toJSON(s MemorySample) sampleJSON {
	return sampleJSON{
		Timestamp:    s.Timestamp,
		HeapAlloc:    s.HeapAlloc,
		HeapSys:      s.HeapSys,
		HeapReleased: s.HeapReleased,
		NumGC:        s.NumGC,
		NumGoroutine: s.NumGoroutine,
		Pressure:     s.Pressure.String(),
	}
}

func (mm *MemoryMonitor) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := mm.GetStats()
	mm.writeJSON(w, map[string]interface{}{
		"current":               toJSON(stats.CurrentSample),
		"baseline":              toJSON(stats.BaselineSample),
		"sample_count":          stats.SampleCount,
		"alert_count":           stats.AlertCount,
		"high_events":           stats.HighEvents,
		"critical_events":       stats.CriticalEvents,
		"growth_since_baseline": stats.GrowthSinceBaseline,
	})
}

func (mm *MemoryMonitor) handleSamples(w http.ResponseWriter, r *http.Request) {
	samples := mm.GetSamples()
	out := make([]sampleJSON, len(samples))
	for i, s := range samples {
		out[i] = toJSON(s)
	}
	mm.writeJSON(w, map[string]interface{}{"samples": out, "count": len(out)})
}

func (mm *MemoryMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	type alertJSON struct {
		Timestamp   time.Time `json:"timestamp"`
		Type        string    `json:"type"`
		Message     string    `json:"message"`
		CurrentMem  uint64    `json:"current_mem"`
		BaselineMem uint64    `json:"baseline_mem"`
	}

	alerts := mm.GetAlerts()
	out := make([]alertJSON, len(alerts))
	for i, a := range alerts {
		out[i] = alertJSON{
			Timestamp:   a.Timestamp,
			Type:        a.AlertType.String(),
			Message:     a.Message,
			CurrentMem:  a.CurrentMem,
			BaselineMem: a.BaselineMem,
		}
	}
	mm.writeJSON(w, map[string]interface{}{"alerts": out, "count": len(out)})
}

func (mm *MemoryMonitor) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	level := mm.Check()
	mm.writeJSON(w, map[string]string{"pressure": level.String()})
}

func (mm *MemoryMonitor) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		mm.logger.Warn("Failed to write debug response", map[string]interface{}{"error": err.Error()})
	}
}
