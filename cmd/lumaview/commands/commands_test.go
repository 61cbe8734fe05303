package commands

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/config"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

func writeImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 16, 8))
		img.Set(0, 0, color.RGBA{R: uint8(i), A: 255})
		f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0600))
	return dir
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumaview.yaml")

	out, err := runCmd(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg := config.NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.NoError(t, cfg.Validate())

	_, err = runCmd(t, "", "config", "init", path)
	assert.Equal(t, lerrors.ErrCodeInvalidArgument, lerrors.CodeOf(err))

	_, err = runCmd(t, "", "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumaview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_bytes: 64MiB\n"), 0600))

	out, err := runCmd(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_bytes: 64MiB")

	_, err = runCmd(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "show")
	assert.Equal(t, lerrors.ErrCodeConfigLoad, lerrors.CodeOf(err))
}

func TestBrowse(t *testing.T) {
	dir := writeImages(t, 3)

	out, err := runCmd(t, "n\np\ng 2\ng x\ng\n\ns\nbogus\nq\n", "browse", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "3 images.")
	assert.Contains(t, out, "[1/3] "+filepath.Join(dir, "a.png")+" 16x8")
	assert.Contains(t, out, "[2/3] "+filepath.Join(dir, "b.png"))
	assert.Contains(t, out, "[3/3] "+filepath.Join(dir, "c.png"))
	assert.Contains(t, out, `invalid index "x"`)
	assert.Contains(t, out, "usage: g <index>")
	assert.Contains(t, out, "cache:")
	assert.Contains(t, out, "navigate:")
	assert.Contains(t, out, "cached")
}

func TestBrowseStartAndOutOfRange(t *testing.T) {
	dir := writeImages(t, 2)

	out, err := runCmd(t, "g 9\nq\n", "browse", "--start", "1", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "[2/2]")
	assert.Contains(t, out, "error:")
}

func TestBrowseErrors(t *testing.T) {
	_, err := runCmd(t, "", "browse", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, lerrors.ErrCodeFileNotFound, lerrors.CodeOf(err))

	_, err = runCmd(t, "", "browse", t.TempDir())
	assert.Equal(t, lerrors.ErrCodeInvalidArgument, lerrors.CodeOf(err))

	_, err = runCmd(t, "")
	assert.NoError(t, err)
}

func TestBench(t *testing.T) {
	dir := writeImages(t, 4)

	out, err := runCmd(t, "", "bench", "--passes", "2", "--dwell", "5ms", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "navigations: 8 (0 failed)")
	assert.Contains(t, out, "hit rate:")
	assert.Contains(t, out, "prefetch:")

	_, err = runCmd(t, "", "bench", "--passes", "0", dir)
	assert.Equal(t, lerrors.ErrCodeInvalidArgument, lerrors.CodeOf(err))
}

func TestRunBenchSecondPassHits(t *testing.T) {
	dir := writeImages(t, 3)
	paths := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "c.png"),
	}

	cfg := config.NewDefault()
	cfg.Watch.Enabled = false
	cfg.Stats.Enabled = false

	ctx := context.Background()
	a, err := newApp(ctx, cfg, dir, &bytes.Buffer{})
	require.NoError(t, err)
	defer a.close()

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)

	result, err := runBench(cmd, a, paths, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Navigations)
	assert.Zero(t, result.Failures)
	assert.GreaterOrEqual(t, result.Hits, 3, "second pass is served from cache")
	assert.Len(t, result.Latencies, 6)
	assert.Equal(t, int64(6*16*8*4), result.Bytes)
}

func TestBenchResultPercentile(t *testing.T) {
	r := &benchResult{}
	assert.Zero(t, r.Percentile(50))
	assert.Zero(t, r.HitRate())

	for i := 10; i >= 1; i-- {
		r.Latencies = append(r.Latencies, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, r.Percentile(50))
	assert.Equal(t, 10*time.Millisecond, r.Percentile(95))
	assert.Equal(t, 10*time.Millisecond, r.Percentile(100))
	assert.Equal(t, 1*time.Millisecond, r.Percentile(1))
}
