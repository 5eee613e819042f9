package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// --------------------------------------------------------------------------
// Compressor
// --------------------------------------------------------------------------

// Compressor transforms the output of a codec before it is stored.
//
// Thread-safety: all compressors in this package are safe for concurrent use.
type Compressor interface {
	// Name identifies the compressor, e.g. "s2" or "zstd".
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// ParseCompressor returns the compressor for a name (none, s2, zstd, lz4).
func ParseCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return None(), nil
	case "s2":
		return S2(), nil
	case "zstd":
		return Zstd(3), nil
	case "lz4":
		return LZ4(), nil
	default:
		return nil, fmt.Errorf("invalid compressor %q, must be one of none, s2, zstd, lz4", name)
	}
}

// Compressed wraps a codec so that its output is compressed with c.
func Compressed[T any](inner Codec[T], c Compressor) Codec[T] {
	if c.Name() == "none" {
		return inner
	}
	return &compressedImpl[T]{inner: inner, c: c, format: Format(string(inner.Format()) + "+" + c.Name())}
}

type compressedImpl[T any] struct {
	inner  Codec[T]
	c      Compressor
	format Format
}

func (c *compressedImpl[T]) Format() Format { return c.format }

func (c *compressedImpl[T]) Encode(v T) ([]byte, error) {
	b, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	out, err := c.c.Encode(b)
	if err != nil {
		return nil, encodeError(c.format, err)
	}
	return out, nil
}

func (c *compressedImpl[T]) Decode(b []byte) (T, error) {
	raw, err := c.c.Decode(b)
	if err != nil {
		var zero T
		return zero, decodeError(c.format, err)
	}
	return c.inner.Decode(raw)
}

// --------------------------------------------------------------------------
// Implementations
// --------------------------------------------------------------------------

// None returns a compressor that returns its input unchanged.
func None() Compressor { return noneCompressor{} }

type noneCompressor struct{}

func (noneCompressor) Name() string                      { return "none" }
func (noneCompressor) Encode(src []byte) ([]byte, error) { return src, nil }
func (noneCompressor) Decode(src []byte) ([]byte, error) { return src, nil }

// S2 returns a compressor using the S2 block format (Snappy compatible decoding).
func S2() Compressor { return s2Compressor{} }

type s2Compressor struct{}

func (s2Compressor) Name() string { return "s2" }

func (s2Compressor) Encode(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (s2Compressor) Decode(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}

// Zstd returns a zstd compressor with the given compression level (1 = fastest, 22 = best).
// The encoder and decoder are created once and shared; EncodeAll and DecodeAll are safe for
// concurrent use.
func Zstd(level int) Compressor {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		panic(fmt.Sprintf("zstd: invalid encoder options: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd: invalid decoder options: %v", err))
	}
	return &zstdCompressor{enc: enc, dec: dec}
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) Decode(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// LZ4 returns a compressor using the LZ4 frame format.
func LZ4() Compressor { return lz4Compressor{} }

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }

func (lz4Compressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decode(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}
