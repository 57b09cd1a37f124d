package zarr

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// LZ4ID identifies the lz4 compressor
const LZ4ID = "lz4"

// lz4SizeHeader is the little-endian uncompressed length numcodecs prepends
// to every lz4 block
const lz4SizeHeader = 4

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Compressor is the lz4 block codec. Blocks are always encoded with the
// default fast compressor; acceleration lives in the metadata only and does
// not change the encoded bytes.
type LZ4Compressor struct {
	acceleration int
}

var _ Compressor = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates an lz4 codec. The acceleration is metadata only;
// values below 1 are stored as 1.
func NewLZ4Compressor(acceleration int) (*LZ4Compressor, error) {
	if acceleration < 1 {
		acceleration = 1
	}
	return &LZ4Compressor{acceleration: acceleration}, nil
}

func (c *LZ4Compressor) ID() string { return LZ4ID }

func (c *LZ4Compressor) Meta() *CompressionMeta {
	return &CompressionMeta{ID: LZ4ID, Acceleration: c.acceleration}
}

func (c *LZ4Compressor) Compress(src []byte) ([]byte, error) {
	block, err := lz4Block(src)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, lz4SizeHeader+len(block))
	binary.LittleEndian.PutUint32(dst, uint32(len(src)))
	copy(dst[lz4SizeHeader:], block)
	return dst, nil
}

func (c *LZ4Compressor) Decompress(src []byte) ([]byte, error) {
	if len(src) < lz4SizeHeader {
		return nil, fmt.Errorf("%w: lz4: input of %d bytes is too short", ErrCodec, len(src))
	}
	size := int(binary.LittleEndian.Uint32(src))
	return lz4Unblock(src[lz4SizeHeader:], size)
}

// lz4Block compresses src into a single lz4 block. Input the compressor finds
// no match in is emitted as one literal run, which is still a valid block.
func lz4Block(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{0}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	lc := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return lz4LiteralBlock(src), nil
	}
	return dst[:n], nil
}

func lz4LiteralBlock(src []byte) []byte {
	n := len(src)
	dst := make([]byte, 0, n+n/255+2)
	if n < 15 {
		dst = append(dst, byte(n<<4))
	} else {
		dst = append(dst, 0xF0)
		rest := n - 15
		for ; rest >= 255; rest -= 255 {
			dst = append(dst, 255)
		}
		dst = append(dst, byte(rest))
	}
	return append(dst, src...)
}

// lz4MaxRatio bounds how far a block can expand; a literal-free sequence
// of maximal matches decodes to at most 255 bytes per input byte
const lz4MaxRatio = 255

func lz4Unblock(src []byte, size int) ([]byte, error) {
	if size < 0 || size > len(src)*lz4MaxRatio+16 {
		return nil, fmt.Errorf("%w: lz4: declared size %d impossible for %d input bytes", ErrCodec, size, len(src))
	}
	dst := make([]byte, size)
	if size == 0 {
		return dst, nil
	}
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %s", ErrCodec, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: lz4: decoded %d bytes, expected %d", ErrCodec, n, size)
	}
	return dst, nil
}
