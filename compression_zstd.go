package zarr

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdID identifies the zstandard compressor
const ZstdID = "zstd"

var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

func zstdDecode(src []byte) ([]byte, error) {
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	data, err := decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %s", ErrCodec, err)
	}
	return data, nil
}

// ZstdCompressor is the zstandard codec
type ZstdCompressor struct {
	level   int
	encoder *zstd.Encoder
}

var _ Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a zstandard codec. level follows the zstd command
// line scale, 1..22; 0 picks the default level 3.
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < 0 || level > 22 {
		return nil, fmt.Errorf("%w: zstd level must be within 0..22, got %d", ErrConfig, level)
	}
	if level == 0 {
		level = 3
	}
	enc, err := newZstdEncoder(level)
	if err != nil {
		return nil, err
	}
	return &ZstdCompressor{level: level, encoder: enc}, nil
}

func newZstdEncoder(level int) (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

func (c *ZstdCompressor) ID() string { return ZstdID }

func (c *ZstdCompressor) Meta() *CompressionMeta {
	return &CompressionMeta{ID: ZstdID, Level: c.level}
}

// Compress is safe for concurrent use, EncodeAll does not share state
// between calls
func (c *ZstdCompressor) Compress(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, nil), nil
}

func (c *ZstdCompressor) Decompress(src []byte) ([]byte, error) {
	return zstdDecode(src)
}
