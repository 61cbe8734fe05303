package prefetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/decode"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

type testHandle struct {
	path     string
	released atomic.Int32
}

func (h *testHandle) Release() { h.released.Add(1) }

func testPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/images/p%d.png", i)
	}
	return paths
}

func newTestStore() *cache.Store {
	return cache.NewStore(&cache.Config{MaxBytes: 1 << 20, Logger: utils.NewNopLogger()})
}

func newTestScheduler(t *testing.T, store *cache.Store, dec decode.Decoder, ahead, behind, inFlight int) *Scheduler {
	t.Helper()
	s, err := NewScheduler(store, dec, &Config{
		Ahead:       ahead,
		Behind:      behind,
		MaxInFlight: inFlight,
		Logger:      utils.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// recordingDecoder returns a handle immediately and records call order.
type recordingDecoder struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordingDecoder) Decode(ctx context.Context, path string) (cache.Handle, int64, error) {
	d.mu.Lock()
	d.calls = append(d.calls, path)
	d.mu.Unlock()
	return &testHandle{path: path}, 100, nil
}

func (d *recordingDecoder) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name          string
		n, pivot      int
		ahead, behind int
		want          []int
	}{
		{"middle", 10, 5, 2, 1, []int{6, 7, 4}},
		{"start", 10, 0, 2, 1, []int{1, 2}},
		{"end", 10, 9, 2, 1, []int{8}},
		{"near end", 10, 8, 2, 2, []int{9, 7, 6}},
		{"behind only", 10, 5, 0, 2, []int{4, 3}},
		{"single image", 1, 0, 2, 1, []int{}},
		{"pivot out of range", 10, 10, 2, 1, nil},
		{"negative pivot", 10, -1, 2, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.n, tt.pivot, tt.ahead, tt.behind)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleIssuesAheadBeforeBehind(t *testing.T) {
	store := newTestStore()
	dec := &recordingDecoder{}
	s := newTestScheduler(t, store, dec, 2, 1, 1)
	paths := testPaths(10)

	g := s.Schedule(paths, 5)
	assert.Equal(t, []string{paths[6], paths[7], paths[4]}, g.Paths())
	g.Wait()

	assert.False(t, g.Cancelled())
	assert.Equal(t, []string{paths[6], paths[7], paths[4]}, dec.Calls())
	for _, i := range []int{6, 7, 4} {
		assert.True(t, store.Contains(paths[i]), paths[i])
	}

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Generations)
	assert.Equal(t, uint64(3), stats.Scheduled)
	assert.Equal(t, uint64(3), stats.Completed)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestScheduleSkipsCachedPaths(t *testing.T) {
	store := newTestStore()
	paths := testPaths(10)
	require.NoError(t, store.Put(paths[6], &testHandle{}, 100))

	dec := &recordingDecoder{}
	s := newTestScheduler(t, store, dec, 2, 1, 2)

	g := s.Schedule(paths, 5)
	g.Wait()

	assert.Equal(t, []string{paths[7], paths[4]}, g.Paths())
	assert.ElementsMatch(t, []string{paths[7], paths[4]}, dec.Calls())
	assert.Equal(t, uint64(1), s.Stats().Skipped)
}

func TestScheduleSupersedesPreviousGeneration(t *testing.T) {
	store := newTestStore()
	paths := testPaths(10)

	var started atomic.Int32
	dec := decode.DecoderFunc(func(ctx context.Context, path string) (cache.Handle, int64, error) {
		if path == paths[1] || path == paths[2] {
			return &testHandle{path: path}, 100, nil
		}
		started.Add(1)
		<-ctx.Done()
		return nil, 0, lerrors.Canceled(ctx.Err())
	})
	s := newTestScheduler(t, store, dec, 2, 1, 3)

	first := s.Schedule(paths, 5)
	waitFor(t, func() bool { return started.Load() == 3 })

	second := s.Schedule(paths, 0)
	first.Wait()
	second.Wait()

	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())
	assert.Greater(t, second.ID(), first.ID())

	for _, i := range []int{6, 7, 4} {
		assert.False(t, store.Contains(paths[i]), paths[i])
	}
	assert.True(t, store.Contains(paths[1]))
	assert.True(t, store.Contains(paths[2]))

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Cancelled)
	assert.Equal(t, uint64(2), stats.Completed)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestLateResultFromRetiredGenerationIsReleased(t *testing.T) {
	store := newTestStore()
	paths := testPaths(10)

	release := make(chan struct{})
	var started atomic.Bool
	var late *testHandle
	dec := decode.DecoderFunc(func(ctx context.Context, path string) (cache.Handle, int64, error) {
		if path != paths[6] {
			return &testHandle{path: path}, 100, nil
		}
		// ignores cancellation and finishes anyway
		started.Store(true)
		<-release
		late = &testHandle{path: path}
		return late, 100, nil
	})
	s := newTestScheduler(t, store, dec, 1, 0, 1)

	first := s.Schedule(paths, 5)
	waitFor(t, started.Load)

	second := s.Schedule(paths, 0)
	second.Wait()
	close(release)
	first.Wait()

	require.NotNil(t, late)
	assert.Equal(t, int32(1), late.released.Load())
	assert.False(t, store.Contains(paths[6]))
	assert.True(t, store.Contains(paths[1]))
}

func TestPrefetchFailuresAreAbsorbed(t *testing.T) {
	store := newTestStore()
	paths := testPaths(10)

	dec := decode.DecoderFunc(func(ctx context.Context, path string) (cache.Handle, int64, error) {
		if path == paths[6] {
			return nil, 0, lerrors.NewError(lerrors.ErrCodeDecodeFailed, path)
		}
		return &testHandle{path: path}, 100, nil
	})
	s := newTestScheduler(t, store, dec, 2, 1, 2)

	g := s.Schedule(paths, 5)
	g.Wait()

	assert.False(t, g.Cancelled())
	assert.False(t, store.Contains(paths[6]))
	assert.True(t, store.Contains(paths[7]))
	assert.True(t, store.Contains(paths[4]))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(2), stats.Completed)
}

func TestCancelAndClose(t *testing.T) {
	store := newTestStore()
	paths := testPaths(10)

	var started atomic.Int32
	dec := decode.DecoderFunc(func(ctx context.Context, path string) (cache.Handle, int64, error) {
		started.Add(1)
		<-ctx.Done()
		return nil, 0, ctx.Err()
	})
	s, err := NewScheduler(store, dec, &Config{Ahead: 2, Behind: 1, MaxInFlight: 3, Logger: utils.NewNopLogger()})
	require.NoError(t, err)

	g := s.Schedule(paths, 5)
	assert.Same(t, g, s.Current())
	waitFor(t, func() bool { return started.Load() == 3 })

	s.Cancel()
	g.Wait()
	assert.True(t, g.Cancelled())

	s.Close()
	after := s.Schedule(paths, 2)
	select {
	case <-after.Done():
	default:
		t.Fatal("generation scheduled after Close should already be done")
	}
	assert.True(t, after.Cancelled())
	assert.Empty(t, after.Paths())
	assert.Equal(t, 0, store.Stats().Count)
}

func TestNewSchedulerValidation(t *testing.T) {
	store := newTestStore()
	dec := &recordingDecoder{}

	_, err := NewScheduler(nil, dec, nil)
	assert.Equal(t, lerrors.ErrCodeInvalidConfig, lerrors.CodeOf(err))

	_, err = NewScheduler(store, dec, &Config{Ahead: -1})
	assert.Equal(t, lerrors.ErrCodeInvalidConfig, lerrors.CodeOf(err))

	s, err := NewScheduler(store, dec, &Config{Ahead: 2, Behind: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.limit, 1)
	s.Close()
}
