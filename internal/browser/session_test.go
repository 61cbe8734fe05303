package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/decode"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

func TestIsImage(t *testing.T) {
	tests := map[string]bool{
		"a.png":      true,
		"B.JPG":      true,
		"c.jpeg":     true,
		"d.webp":     true,
		"e.TIFF":     true,
		"notes.txt":  false,
		"no_ext":     false,
		"archive.gz": false,
	}
	for name, want := range tests {
		assert.Equal(t, want, IsImage(name), name)
	}
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "A.png", "c.txt", "d.GIF", "img10.png", "img2.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0750))

	paths, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "A.png"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "d.GIF"),
		filepath.Join(dir, "img2.png"),
		filepath.Join(dir, "img10.png"),
	}, paths)

	_, err = ScanDir(filepath.Join(dir, "missing"))
	assert.Equal(t, lerrors.ErrCodeFileNotFound, lerrors.CodeOf(err))
}

func TestSessionNavigation(t *testing.T) {
	f := newFixture(t)
	nav := f.navigator(t, f.bitmapDecoder(), nil)
	paths := testPaths(3)
	s := NewSession(nav, paths, 0)
	ctx := context.Background()

	assert.Equal(t, 3, s.Len())
	idx, path := s.Current()
	assert.Equal(t, 0, idx)
	assert.Equal(t, paths[0], path)

	frame, err := s.Show(ctx)
	require.NoError(t, err)
	frame.Release()

	frame, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.Index)
	frame.Release()

	frame, err = s.Jump(ctx, 2)
	require.NoError(t, err)
	frame.Release()

	// wraps past the end
	frame, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Index)
	frame.Release()

	frame, err = s.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Index)
	frame.Release()
}

func TestSessionKeepsPositionOnFailure(t *testing.T) {
	f := newFixture(t)
	paths := testPaths(3)
	dec := decode.DecoderFunc(func(ctx context.Context, path string) (cache.Handle, int64, error) {
		if path == paths[1] {
			return nil, 0, lerrors.NewError(lerrors.ErrCodeDecodeFailed, path)
		}
		return f.bitmapDecoder()(ctx, path)
	})
	nav := f.navigator(t, dec, nil)
	s := NewSession(nav, paths, 0)

	_, err := s.Next(context.Background())
	assert.Equal(t, lerrors.ErrCodeDecodeFailed, lerrors.CodeOf(err))

	idx, _ := s.Current()
	assert.Equal(t, 0, idx)
}

func TestNewSessionClampsStart(t *testing.T) {
	f := newFixture(t)
	nav := f.navigator(t, f.bitmapDecoder(), nil)

	s := NewSession(nav, testPaths(3), 10)
	idx, _ := s.Current()
	assert.Equal(t, 2, idx)

	s = NewSession(nav, testPaths(3), -4)
	idx, _ = s.Current()
	assert.Equal(t, 0, idx)

	s = NewSession(nav, nil, 0)
	idx, path := s.Current()
	assert.Equal(t, -1, idx)
	assert.Empty(t, path)
}
