package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/browser"
	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/prefetch"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

type fakePool struct{ stats buffer.PoolStats }

func (f fakePool) Stats() buffer.PoolStats { return f.stats }

type fakeCache struct{ stats cache.Stats }

func (f fakeCache) Stats() cache.Stats { return f.stats }

type fakePrefetch struct{ stats prefetch.Stats }

func (f fakePrefetch) Stats() prefetch.Stats { return f.stats }

type fakeNavigator struct{ stats browser.Stats }

func (f fakeNavigator) Stats() browser.Stats { return f.stats }

func testSources() Sources {
	return Sources{
		Pool: fakePool{buffer.PoolStats{
			BytesRented:   8192,
			BytesReturned: 4096,
			Rents:         2,
			Reuses:        1,
			Classes: []buffer.ClassStats{
				{Name: "small", Idle: 3, IdleBytes: 12288, Outstanding: 1},
			},
		}},
		Cache: fakeCache{cache.Stats{
			Count:        2,
			CurrentBytes: 2048,
			MaxBytes:     4096,
			Hits:         3,
			Misses:       1,
			HitRate:      0.75,
			Evictions:    5,
		}},
		Prefetch: fakePrefetch{prefetch.Stats{
			Generations: 4,
			Completed:   6,
			Skipped:     2,
			InFlight:    1,
		}},
	}
}

func newTestCollector(t *testing.T, sources Sources) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Path: "/metrics", Namespace: "lumaview"}, sources, utils.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNewCollectorDefaults(t *testing.T) {
	c, err := NewCollector(nil, Sources{}, utils.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 9464, c.config.Port)
	assert.Equal(t, "/metrics", c.config.Path)
	assert.Equal(t, "lumaview", c.config.Namespace)
	assert.False(t, c.config.Enabled)
}

func TestCollectorExportsSnapshots(t *testing.T) {
	c := newTestCollector(t, testSources())

	expected := `
# HELP lumaview_cache_bytes Bytes held by the image cache
# TYPE lumaview_cache_bytes gauge
lumaview_cache_bytes 2048
# HELP lumaview_cache_evictions_total Entries evicted to satisfy the budget
# TYPE lumaview_cache_evictions_total counter
lumaview_cache_evictions_total 5
# HELP lumaview_pool_idle_buffers Idle buffers per size class
# TYPE lumaview_pool_idle_buffers gauge
lumaview_pool_idle_buffers{class="small"} 3
# HELP lumaview_prefetch_tasks_total Prefetch tasks by outcome
# TYPE lumaview_prefetch_tasks_total counter
lumaview_prefetch_tasks_total{outcome="cancelled"} 0
lumaview_prefetch_tasks_total{outcome="completed"} 6
lumaview_prefetch_tasks_total{outcome="failed"} 0
lumaview_prefetch_tasks_total{outcome="skipped"} 2
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"lumaview_cache_bytes",
		"lumaview_cache_evictions_total",
		"lumaview_pool_idle_buffers",
		"lumaview_prefetch_tasks_total",
	)
	assert.NoError(t, err)
}

func TestCollectorNilSources(t *testing.T) {
	c := newTestCollector(t, Sources{})

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.NotContains(t, mf.GetName(), "cache_", "no cache source registered")
	}
}

func TestRecordNavigation(t *testing.T) {
	c := newTestCollector(t, Sources{})

	c.RecordNavigation(10*time.Millisecond, true, 4096, nil)
	c.RecordNavigation(50*time.Millisecond, false, 1<<20, nil)
	c.RecordNavigation(0, false, 0, lerrors.Canceled(nil))
	c.RecordNavigation(0, false, 0, lerrors.NewError(lerrors.ErrCodeDecodeFailed, "bad"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.navigationTotal.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.navigationTotal.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.navigationTotal.WithLabelValues("canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.navigationTotal.WithLabelValues("error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.navigationDuration))
}

func TestCollectorHandler(t *testing.T) {
	c := newTestCollector(t, testSources())
	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lumaview_cache_hits_total 3")

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestCollectorMount(t *testing.T) {
	c := newTestCollector(t, Sources{})
	c.Mount("/debug/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "debug "+r.URL.Path)
	}))

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/debug/pprof/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "debug /debug/pprof/", string(body))

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCollectorStartStop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics"}, Sources{}, utils.NewNopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.NotEmpty(t, c.Addr())

	err = c.Start(ctx)
	assert.Equal(t, lerrors.ErrCodeAlreadyStarted, lerrors.CodeOf(err))

	require.NoError(t, c.Stop(ctx))
	assert.Empty(t, c.Addr())
	assert.NoError(t, c.Stop(ctx))
}

func TestCollectorStartDisabled(t *testing.T) {
	c := newTestCollector(t, Sources{})
	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, c.Addr())
}
