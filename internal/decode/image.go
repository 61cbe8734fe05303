package decode

import (
	"bufio"
	"context"
	stderrors "errors"
	"image"
	"image/draw"
	"io"
	"io/fs"
	"os"

	// registered image formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lumaview/lumaview/internal/buffer"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/imaging"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// DefaultMaxPixels is the largest image accepted (500 megapixels).
const DefaultMaxPixels = 500_000_000

// ImageConfig configures an ImageDecoder.
type ImageConfig struct {
	Pool      *buffer.Pool
	MaxPixels int64
	Logger    *utils.StructuredLogger
}

// ImageDecoder decodes files into imaging.Bitmaps held in pooled buffers.
type ImageDecoder struct {
	pool      *buffer.Pool
	maxPixels int64
	logger    *utils.StructuredLogger
}

// NewImageDecoder creates a decoder backed by config.Pool.
func NewImageDecoder(config ImageConfig) (*ImageDecoder, error) {
	if config.Pool == nil {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidConfig, "image decoder requires a buffer pool").
			WithComponent("decode")
	}
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	if config.Logger == nil {
		config.Logger = utils.NewDefaultLogger()
	}
	return &ImageDecoder{
		pool:      config.Pool,
		maxPixels: config.MaxPixels,
		logger:    config.Logger.WithComponent("decode"),
	}, nil
}

// Decode implements Decoder.
func (d *ImageDecoder) Decode(ctx context.Context, path string) (cache.Handle, int64, error) {
	bmp, err := d.DecodeBitmap(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	return bmp, bmp.Footprint(), nil
}

// DecodeBitmap decodes path into a new bitmap with one reference.
func (d *ImageDecoder) DecodeBitmap(ctx context.Context, path string) (*imaging.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, lerrors.Canceled(err).WithComponent("decode").WithOperation("decode")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, openError(err, path)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(&contextReader{ctx: ctx, r: bufio.NewReader(f)})
	if err != nil {
		return nil, d.decodeError(ctx, err, path)
	}
	if int64(cfg.Width)*int64(cfg.Height) > d.maxPixels {
		return nil, lerrors.NewError(lerrors.ErrCodeLimitExceeded, "image exceeds pixel limit").
			WithComponent("decode").WithOperation("decode").WithContext("path", path).
			WithDetail("width", cfg.Width).WithDetail("height", cfg.Height).WithDetail("max_pixels", d.maxPixels)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, lerrors.Wrap(err, lerrors.ErrCodeDecodeFailed, path).WithComponent("decode").WithOperation("decode")
	}

	bmp, err := imaging.NewBitmap(d.pool, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(&contextReader{ctx: ctx, r: bufio.NewReader(f)})
	if err != nil {
		bmp.Release()
		return nil, d.decodeError(ctx, err, path)
	}
	if err := ctx.Err(); err != nil {
		bmp.Release()
		return nil, lerrors.Canceled(err).WithComponent("decode").WithOperation("decode")
	}

	dst := bmp.RGBA()
	draw.Draw(dst, dst.Rect, src, src.Bounds().Min, draw.Src)

	d.logger.Trace("Decoded image", map[string]interface{}{
		"path":      path,
		"format":    format,
		"width":     cfg.Width,
		"height":    cfg.Height,
		"footprint": bmp.Footprint(),
	})
	return bmp, nil
}

func openError(err error, path string) error {
	code := lerrors.ErrCodeDecodeFailed
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		code = lerrors.ErrCodeFileNotFound
	case stderrors.Is(err, fs.ErrPermission):
		code = lerrors.ErrCodePermissionDenied
	}
	return lerrors.Wrap(err, code, path).WithComponent("decode").WithOperation("open")
}

func (d *ImageDecoder) decodeError(ctx context.Context, err error, path string) error {
	if ctx.Err() != nil || lerrors.IsCanceled(err) {
		return lerrors.Canceled(ctx.Err()).WithComponent("decode").WithOperation("decode")
	}
	code := lerrors.ErrCodeDecodeFailed
	if stderrors.Is(err, image.ErrFormat) {
		code = lerrors.ErrCodeUnsupportedFormat
	}
	return lerrors.Wrap(err, code, path).WithComponent("decode").WithOperation("decode")
}

// contextReader fails reads once ctx is done so a superseded decode stops at
// the next read.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
