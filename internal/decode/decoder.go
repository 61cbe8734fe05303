// Package decode defines the decoder boundary used by navigation and prefetch,
// the shared limiter in front of it, and a decoder for common image formats.
package decode

import (
	"context"

	"github.com/lumaview/lumaview/internal/cache"
)

// Decoder turns a file path into a cache handle and its footprint in bytes.
// Implementations must honor ctx and be safe for concurrent use. On error no
// handle is returned and nothing stays rented.
type Decoder interface {
	Decode(ctx context.Context, path string) (cache.Handle, int64, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, path string) (cache.Handle, int64, error)

// Decode calls f(ctx, path).
func (f DecoderFunc) Decode(ctx context.Context, path string) (cache.Handle, int64, error) {
	return f(ctx, path)
}

type limitedDecoder struct {
	next    Decoder
	limiter *Limiter
}

// Limited wraps dec so every call first takes a slot from lim.
func Limited(dec Decoder, lim *Limiter) Decoder {
	return &limitedDecoder{next: dec, limiter: lim}
}

func (d *limitedDecoder) Decode(ctx context.Context, path string) (cache.Handle, int64, error) {
	if err := d.limiter.Acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer d.limiter.Release()

	return d.next.Decode(ctx, path)
}
