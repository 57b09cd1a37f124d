package zarr

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Compressor is a byte-stream codec applied to every encoded chunk before it
// is stored. Implementations must be safe for concurrent use.
type Compressor interface {
	// ID is the codec identifier persisted in the "id" field of the
	// compressor metadata
	ID() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	// Meta describes the codec and its parameters for the .zarray document.
	// It returns nil for the no-op compressor, which is persisted as null.
	Meta() *CompressionMeta
}

// typeSizer is implemented by compressors whose output depends on the element
// size of the data they compress (shuffle filters)
type typeSizer interface {
	withTypeSize(n int) Compressor
}

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID string `json:"id"`
	// Level is used by zlib, gzip and zstd
	Level int `json:"level"`
	// Cname, Clevel, Shuffle and Blocksize configure blosc
	Cname     string `json:"cname"`
	Clevel    int    `json:"clevel"`
	Shuffle   int    `json:"shuffle"`
	Blocksize int    `json:"blocksize"`
	// Acceleration configures lz4
	Acceleration int `json:"acceleration"`
}

// MarshalJSON writes only the parameters the codec identified by ID takes
func (m CompressionMeta) MarshalJSON() ([]byte, error) {
	doc := map[string]interface{}{"id": m.ID}
	switch m.ID {
	case ZlibID, GzipID, ZstdID:
		doc["level"] = m.Level
	case BloscID:
		doc["cname"] = m.Cname
		doc["clevel"] = m.Clevel
		doc["shuffle"] = m.Shuffle
		doc["blocksize"] = m.Blocksize
	case LZ4ID:
		doc["acceleration"] = m.Acceleration
	default:
		if m.Level != 0 {
			doc["level"] = m.Level
		}
		if m.Cname != "" {
			doc["cname"] = m.Cname
			doc["clevel"] = m.Clevel
			doc["shuffle"] = m.Shuffle
			doc["blocksize"] = m.Blocksize
		}
		if m.Acceleration != 0 {
			doc["acceleration"] = m.Acceleration
		}
	}
	return json.Marshal(doc)
}

func (m *CompressionMeta) String() string {
	if m == nil {
		return "compressor=null"
	}
	switch m.ID {
	case BloscID:
		return fmt.Sprintf("compressor=%s/cname=%s/clevel=%d/blocksize=%d/shuffle=%d", m.ID, m.Cname, m.Clevel, m.Blocksize, m.Shuffle)
	case LZ4ID:
		return fmt.Sprintf("compressor=%s/acceleration=%d", m.ID, m.Acceleration)
	default:
		return fmt.Sprintf("compressor=%s/level=%d", m.ID, m.Level)
	}
}

// CompressorFactory builds a compressor from its persisted description
type CompressorFactory func(m CompressionMeta) (Compressor, error)

var (
	registryLk sync.RWMutex
	registry   = map[string]CompressorFactory{}
)

// RegisterCompressor makes a codec available under id to NewCompressor.
// Registering an id twice replaces the earlier factory.
func RegisterCompressor(id string, f CompressorFactory) {
	registryLk.Lock()
	defer registryLk.Unlock()
	registry[id] = f
}

// Compressors lists the registered codec ids
func Compressors() []string {
	registryLk.RLock()
	defer registryLk.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewCompressor reconstructs the codec described by m. A nil description
// yields NullCompressor.
func NewCompressor(m *CompressionMeta) (Compressor, error) {
	if m == nil || m.ID == "" || m.ID == NullID {
		return NullCompressor, nil
	}
	registryLk.RLock()
	f, ok := registry[m.ID]
	registryLk.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown compressor %q", ErrConfig, m.ID)
	}
	return f(*m)
}

// CreateCompressor builds a registered codec from its id and a single level
// parameter: the compression level for zlib, gzip and zstd, clevel for blosc
// (lz4, byte shuffle) and the acceleration for lz4.
func CreateCompressor(id string, level int) (Compressor, error) {
	m := &CompressionMeta{ID: id}
	switch id {
	case BloscID:
		m.Cname = "lz4"
		m.Clevel = level
		m.Shuffle = BloscShuffle
	case LZ4ID:
		m.Acceleration = level
	default:
		m.Level = level
	}
	return NewCompressor(m)
}

// DefaultCompressor is blosc with lz4 at level 5 and byte shuffle, the codec
// python zarr picks when none is given
func DefaultCompressor() Compressor {
	c, _ := NewBloscCompressor("lz4", 5, BloscShuffle, 0)
	return c
}

// bindTypeSize hands the element size to compressors that need it
func bindTypeSize(c Compressor, n int) Compressor {
	if ts, ok := c.(typeSizer); ok {
		return ts.withTypeSize(n)
	}
	return c
}

// NullID identifies the pass-through compressor
const NullID = "null"

type nullCompressor struct{}

// NullCompressor stores chunk bytes unchanged. It is persisted as a null
// compressor.
var NullCompressor Compressor = nullCompressor{}

func (nullCompressor) ID() string                            { return NullID }
func (nullCompressor) Meta() *CompressionMeta                { return nil }
func (nullCompressor) Compress(src []byte) ([]byte, error)   { return src, nil }
func (nullCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }

func init() {
	RegisterCompressor(NullID, func(CompressionMeta) (Compressor, error) { return NullCompressor, nil })
	RegisterCompressor(ZlibID, func(m CompressionMeta) (Compressor, error) { return NewZlibCompressor(m.Level) })
	RegisterCompressor(GzipID, func(m CompressionMeta) (Compressor, error) { return NewGzipCompressor(m.Level) })
	RegisterCompressor(ZstdID, func(m CompressionMeta) (Compressor, error) { return NewZstdCompressor(m.Level) })
	RegisterCompressor(LZ4ID, func(m CompressionMeta) (Compressor, error) { return NewLZ4Compressor(m.Acceleration) })
	RegisterCompressor(BloscID, func(m CompressionMeta) (Compressor, error) {
		return NewBloscCompressor(m.Cname, m.Clevel, m.Shuffle, m.Blocksize)
	})
}
