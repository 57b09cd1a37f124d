package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// BloscID identifies the blosc meta-compressor
const BloscID = "blosc"

// Blosc shuffle modes, as persisted in the "shuffle" field
const (
	BloscAutoShuffle = -1
	BloscNoShuffle   = 0
	BloscShuffle     = 1
	BloscBitShuffle  = 2
)

const (
	bloscVersion    = 2
	bloscHeaderSize = 16

	bloscFlagShuffle    = 0x1
	bloscFlagMemcpy     = 0x2
	bloscFlagBitShuffle = 0x4
)

// blosc inner codec identifiers, stored in the second header byte
var bloscCodecs = map[string]uint8{
	"blosclz": 0,
	"lz4":     1,
	"lz4hc":   2,
	"snappy":  3,
	"zlib":    4,
	"zstd":    5,
}

var lz4hcLevels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// BloscCompressor shuffles chunk bytes by element size and compresses them
// with an inner codec as one blosc frame: a 16-byte header followed by the
// payload. Incompressible input is stored verbatim.
type BloscCompressor struct {
	cname     string
	clevel    int
	shuffle   int
	blocksize int
	typesize  int

	zstd *zstd.Encoder
}

var (
	_ Compressor = (*BloscCompressor)(nil)
	_ typeSizer  = (*BloscCompressor)(nil)
)

// NewBloscCompressor creates a blosc codec. cname is one of lz4, lz4hc, zstd,
// zlib or snappy; clevel ranges over 0..9 where 0 disables compression.
func NewBloscCompressor(cname string, clevel, shuffle, blocksize int) (*BloscCompressor, error) {
	if cname == "" {
		cname = "lz4"
	}
	if _, ok := bloscCodecs[cname]; !ok || cname == "blosclz" {
		return nil, fmt.Errorf("%w: unsupported blosc cname %q", ErrConfig, cname)
	}
	if clevel < 0 || clevel > 9 {
		return nil, fmt.Errorf("%w: blosc clevel must be within 0..9, got %d", ErrConfig, clevel)
	}
	if shuffle < BloscAutoShuffle || shuffle > BloscBitShuffle {
		return nil, fmt.Errorf("%w: unsupported blosc shuffle %d", ErrConfig, shuffle)
	}
	if blocksize < 0 {
		return nil, fmt.Errorf("%w: blosc blocksize must not be negative, got %d", ErrConfig, blocksize)
	}
	c := &BloscCompressor{
		cname:     cname,
		clevel:    clevel,
		shuffle:   shuffle,
		blocksize: blocksize,
		typesize:  1,
	}
	if cname == "zstd" && clevel > 0 {
		enc, err := newZstdEncoder(clevel)
		if err != nil {
			return nil, err
		}
		c.zstd = enc
	}
	return c, nil
}

func (c *BloscCompressor) ID() string { return BloscID }

func (c *BloscCompressor) Meta() *CompressionMeta {
	return &CompressionMeta{
		ID:        BloscID,
		Cname:     c.cname,
		Clevel:    c.clevel,
		Shuffle:   c.shuffle,
		Blocksize: c.blocksize,
	}
}

func (c *BloscCompressor) withTypeSize(n int) Compressor {
	cp := *c
	if n < 1 || n > 255 {
		n = 1
	}
	cp.typesize = n
	return &cp
}

func (c *BloscCompressor) shuffleMode() int {
	if c.shuffle == BloscAutoShuffle {
		if c.typesize == 1 {
			return BloscBitShuffle
		}
		return BloscShuffle
	}
	return c.shuffle
}

func (c *BloscCompressor) Compress(src []byte) ([]byte, error) {
	var flags uint8
	shuffled := src
	switch c.shuffleMode() {
	case BloscShuffle:
		flags |= bloscFlagShuffle
		shuffled = shuffleBytes(src, c.typesize)
	case BloscBitShuffle:
		flags |= bloscFlagBitShuffle
		shuffled = bitShuffle(src, c.typesize)
	}

	var payload []byte
	if c.clevel > 0 && len(src) > 0 {
		var err error
		if payload, err = c.compressInner(shuffled); err != nil {
			return nil, err
		}
	}
	if payload == nil || len(payload) >= len(src) {
		flags |= bloscFlagMemcpy
		flags &^= bloscFlagShuffle | bloscFlagBitShuffle
		payload = src
	}

	blocksize := c.blocksize
	if blocksize == 0 {
		blocksize = len(src)
	}

	dst := make([]byte, bloscHeaderSize+len(payload))
	dst[0] = bloscVersion
	dst[1] = bloscCodecs[c.cname]
	dst[2] = flags
	dst[3] = uint8(c.typesize)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(len(src)))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(blocksize))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(len(dst)))
	copy(dst[bloscHeaderSize:], payload)
	return dst, nil
}

func (c *BloscCompressor) compressInner(src []byte) ([]byte, error) {
	switch c.cname {
	case "lz4":
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		lc := lz4CompressorPool.Get().(*lz4.Compressor)
		defer lz4CompressorPool.Put(lc)
		n, err := lc.CompressBlock(src, dst)
		if err != nil || n == 0 {
			return nil, err
		}
		return dst[:n], nil
	case "lz4hc":
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		hc := lz4.CompressorHC{Level: lz4hcLevels[c.clevel]}
		n, err := hc.CompressBlock(src, dst)
		if err != nil || n == 0 {
			return nil, err
		}
		return dst[:n], nil
	case "snappy":
		return s2.EncodeSnappy(nil, src), nil
	case "zlib":
		buf := &bytes.Buffer{}
		w, err := zlib.NewWriterLevel(buf, c.clevel)
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
	case "zstd":
		return c.zstd.EncodeAll(src, nil), nil
	}
	return nil, fmt.Errorf("%w: unsupported blosc cname %q", ErrConfig, c.cname)
}

func (c *BloscCompressor) Decompress(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderSize {
		return nil, fmt.Errorf("%w: blosc: frame of %d bytes is shorter than its header", ErrCodec, len(src))
	}
	if src[0] != bloscVersion {
		return nil, fmt.Errorf("%w: blosc: unsupported format version %d", ErrCodec, src[0])
	}
	flags := src[2]
	typesize := int(src[3])
	if typesize == 0 {
		return nil, fmt.Errorf("%w: blosc: frame declares a typesize of 0", ErrCodec)
	}
	nbytes := int(binary.LittleEndian.Uint32(src[4:8]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:16]))
	if cbytes < bloscHeaderSize || cbytes > len(src) {
		return nil, fmt.Errorf("%w: blosc: frame declares %d bytes, have %d", ErrCodec, cbytes, len(src))
	}
	payload := src[bloscHeaderSize:cbytes]

	if flags&bloscFlagMemcpy != 0 {
		if len(payload) != nbytes {
			return nil, fmt.Errorf("%w: blosc: stored %d bytes, expected %d", ErrCodec, len(payload), nbytes)
		}
		return append([]byte(nil), payload...), nil
	}

	data, err := decompressBloscInner(src[1], payload, nbytes)
	if err != nil {
		return nil, err
	}
	if len(data) != nbytes {
		return nil, fmt.Errorf("%w: blosc: decoded %d bytes, expected %d", ErrCodec, len(data), nbytes)
	}

	switch {
	case flags&bloscFlagBitShuffle != 0:
		data = bitUnshuffle(data, typesize)
	case flags&bloscFlagShuffle != 0:
		data = unshuffleBytes(data, typesize)
	}
	return data, nil
}

func decompressBloscInner(codec uint8, payload []byte, nbytes int) ([]byte, error) {
	switch codec {
	case bloscCodecs["lz4"], bloscCodecs["lz4hc"]:
		return lz4Unblock(payload, nbytes)
	case bloscCodecs["snappy"]:
		data, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: blosc snappy: %s", ErrCodec, err)
		}
		return data, nil
	case bloscCodecs["zlib"]:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: blosc zlib: %s", ErrCodec, err)
		}
		return readAllCodec("blosc zlib", r)
	case bloscCodecs["zstd"]:
		return zstdDecode(payload)
	}
	return nil, fmt.Errorf("%w: blosc: unsupported inner codec %d", ErrCodec, codec)
}

// shuffleBytes groups the k-th byte of every element together. Trailing bytes
// that do not form a whole element are copied as is.
func shuffleBytes(src []byte, typesize int) []byte {
	if typesize <= 1 {
		return src
	}
	n := len(src) / typesize
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for b := 0; b < typesize; b++ {
			dst[b*n+i] = src[i*typesize+b]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}

func unshuffleBytes(src []byte, typesize int) []byte {
	if typesize <= 1 {
		return src
	}
	n := len(src) / typesize
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for b := 0; b < typesize; b++ {
			dst[i*typesize+b] = src[b*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}

// bitShuffle transposes the bit matrix of elements x bits, so bit j of every
// element ends up in plane j. Only whole groups of eight elements take part;
// the remainder is copied as is.
func bitShuffle(src []byte, typesize int) []byte {
	if typesize < 1 {
		return src
	}
	n := (len(src) / typesize) &^ 7
	bits := typesize * 8
	dst := make([]byte, len(src))
	for j := 0; j < bits; j++ {
		for i := 0; i < n; i++ {
			bit := (src[i*typesize+j/8] >> (j % 8)) & 1
			pos := j*n + i
			dst[pos/8] |= bit << (pos % 8)
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}

func bitUnshuffle(src []byte, typesize int) []byte {
	if typesize < 1 {
		return src
	}
	n := (len(src) / typesize) &^ 7
	bits := typesize * 8
	dst := make([]byte, len(src))
	for j := 0; j < bits; j++ {
		for i := 0; i < n; i++ {
			pos := j*n + i
			bit := (src[pos/8] >> (pos % 8)) & 1
			dst[i*typesize+j/8] |= bit << (j % 8)
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}
