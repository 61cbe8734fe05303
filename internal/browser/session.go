package browser

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ScanDir lists the images directly inside dir in natural order: case is
// ignored and digit runs compare by value, so "img2" sorts before "img10".
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		code := lerrors.ErrCodeFileNotFound
		if os.IsPermission(err) {
			code = lerrors.ErrCodePermissionDenied
		}
		return nil, lerrors.Wrap(err, code, dir).WithComponent("browser").WithOperation("scan")
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	col := collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
	sort.SliceStable(paths, func(i, j int) bool {
		return col.CompareString(filepath.Base(paths[i]), filepath.Base(paths[j])) < 0
	})
	return paths, nil
}

// Session walks an ordered list of paths with a Navigator. Next and Previous
// wrap around at the ends. The position only moves when a load succeeds.
type Session struct {
	nav   *Navigator
	paths []string

	mu    sync.Mutex
	index int
}

// NewSession creates a session positioned at start (clamped to the list).
func NewSession(nav *Navigator, paths []string, start int) *Session {
	if start < 0 {
		start = 0
	}
	if start >= len(paths) && len(paths) > 0 {
		start = len(paths) - 1
	}
	return &Session{nav: nav, paths: paths, index: start}
}

// Len returns the number of paths in the session.
func (s *Session) Len() int { return len(s.paths) }

// Paths returns the session's paths.
func (s *Session) Paths() []string { return s.paths }

// Current returns the current index and path.
func (s *Session) Current() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.paths) == 0 {
		return -1, ""
	}
	return s.index, s.paths[s.index]
}

// Show loads the current image.
func (s *Session) Show(ctx context.Context) (*Frame, error) {
	idx, _ := s.Current()
	return s.Jump(ctx, idx)
}

// Next moves forward one image.
func (s *Session) Next(ctx context.Context) (*Frame, error) {
	return s.step(ctx, 1)
}

// Previous moves back one image.
func (s *Session) Previous(ctx context.Context) (*Frame, error) {
	return s.step(ctx, -1)
}

func (s *Session) step(ctx context.Context, delta int) (*Frame, error) {
	if len(s.paths) == 0 {
		return s.Jump(ctx, 0)
	}
	idx, _ := s.Current()
	n := len(s.paths)
	return s.Jump(ctx, ((idx+delta)%n+n)%n)
}

// Jump loads paths[index] and makes it current on success.
func (s *Session) Jump(ctx context.Context, index int) (*Frame, error) {
	frame, err := s.nav.NavigateTo(ctx, s.paths, index)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return frame, nil
}
