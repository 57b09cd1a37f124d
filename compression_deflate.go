package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/qri-io/dataset/compression"
)

const (
	// ZlibID identifies the zlib compressor
	ZlibID = "zlib"
	// GzipID identifies the gzip compressor
	GzipID = "gzip"
)

// ZlibCompressor is the deflate codec with a zlib header
type ZlibCompressor struct {
	level int
}

var _ Compressor = (*ZlibCompressor)(nil)

// NewZlibCompressor creates a zlib codec. level ranges from 0 (store only) to
// 9 (best compression).
func NewZlibCompressor(level int) (*ZlibCompressor, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("%w: zlib level must be within 0..9, got %d", ErrConfig, level)
	}
	return &ZlibCompressor{level: level}, nil
}

func (c *ZlibCompressor) ID() string { return ZlibID }

func (c *ZlibCompressor) Meta() *CompressionMeta {
	return &CompressionMeta{ID: ZlibID, Level: c.level}
}

func (c *ZlibCompressor) Compress(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := zlib.NewWriterLevel(buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *ZlibCompressor) Decompress(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %s", ErrCodec, err)
	}
	return readAllCodec(ZlibID, r)
}

// GzipCompressor is the deflate codec with a gzip header
type GzipCompressor struct {
	level int
}

var _ Compressor = (*GzipCompressor)(nil)

// NewGzipCompressor creates a gzip codec. level ranges from 0 to 9.
func NewGzipCompressor(level int) (*GzipCompressor, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("%w: gzip level must be within 0..9, got %d", ErrConfig, level)
	}
	return &GzipCompressor{level: level}, nil
}

func (c *GzipCompressor) ID() string { return GzipID }

func (c *GzipCompressor) Meta() *CompressionMeta {
	return &CompressionMeta{ID: GzipID, Level: c.level}
}

func (c *GzipCompressor) Compress(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := gzip.NewWriterLevel(buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(src []byte) ([]byte, error) {
	r, err := compression.Decompressor("gzip", io.NopCloser(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %s", ErrCodec, err)
	}
	return readAllCodec(GzipID, r)
}

func readAllCodec(id string, r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCodec, id, err)
	}
	return data, nil
}
