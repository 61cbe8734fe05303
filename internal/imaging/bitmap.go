// Package imaging holds decoded images backed by pooled pixel buffers.
package imaging

import (
	"image"
	"sync/atomic"

	"github.com/lumaview/lumaview/internal/buffer"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// Bitmap is a decoded RGBA image. It starts with one reference; the buffer
// goes back to the pool when the last reference is released.
type Bitmap struct {
	width  int
	height int
	stride int
	buf    *buffer.Buffer
	pool   *buffer.Pool
	refs   atomic.Int32
}

// NewBitmap rents a pixel buffer for a width x height RGBA image.
func NewBitmap(pool *buffer.Pool, width, height int) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, lerrors.NewError(lerrors.ErrCodeInvalidArgument, "bitmap dimensions must be positive").
			WithComponent("imaging").WithOperation("new").
			WithDetail("width", width).WithDetail("height", height)
	}

	stride := width * BytesPerPixel
	buf, err := pool.Rent(stride * height)
	if err != nil {
		return nil, err
	}

	b := &Bitmap{
		width:  width,
		height: height,
		stride: stride,
		buf:    buf,
		pool:   pool,
	}
	b.refs.Store(1)
	return b, nil
}

func (b *Bitmap) Width() int  { return b.width }
func (b *Bitmap) Height() int { return b.height }
func (b *Bitmap) Stride() int { return b.stride }

// Footprint is the byte size charged against the cache budget.
func (b *Bitmap) Footprint() int64 {
	return int64(b.stride) * int64(b.height)
}

// Pix returns the pixel bytes, or nil once the bitmap has been released.
func (b *Bitmap) Pix() []byte {
	if b.refs.Load() <= 0 {
		return nil
	}
	return b.buf.Bytes()
}

// RGBA returns an image.RGBA view over the pixel buffer. The view is only
// valid while the caller holds a reference.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix(),
		Stride: b.stride,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// Refs returns the current reference count.
func (b *Bitmap) Refs() int32 {
	return b.refs.Load()
}

// Retain adds a reference. Retaining a released bitmap is a contract
// violation and leaves it released.
func (b *Bitmap) Retain() {
	for {
		n := b.refs.Load()
		if n <= 0 {
			_ = lerrors.Violation(lerrors.ErrDoubleRelease, "imaging", "retain")
			return
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Release drops a reference.
func (b *Bitmap) Release() {
	_ = b.Close()
}

// Close drops a reference and returns the pixel buffer to the pool when it was
// the last one. Releasing more times than retained is a contract violation.
func (b *Bitmap) Close() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return lerrors.Violation(lerrors.ErrDoubleRelease, "imaging", "release")
		}
		if b.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				return b.pool.Return(b.buf)
			}
			return nil
		}
	}
}
