package zarr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Array struct {
	path   Path
	store  Store
	mode   PersistenceMode
	meta   *ArrayMeta
	grid   chunkGrid
	chunks *chunkReaderWriter
	locks  *lockTable
	opts   options
	log    *logrus.Entry
}

// Create makes a new array at path from params. mode decides what happens
// when an array already lives there:
//
//	ModeWrite            replace it, discarding its chunks
//	ModeWriteFail        fail with ErrConfig
//	ModeReadWriteCreate  open the existing array and ignore params
func Create(store Store, path string, params ArrayParams, mode PersistenceMode, opts ...Option) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	meta, err := params.Build()
	if err != nil {
		return nil, err
	}
	comp := params.Compressor
	if comp == nil {
		comp = NullCompressor
	}

	key := p.key(string(meta.MetaType()))
	exists, err := store.Exists(key)
	if err != nil {
		return nil, errors.Wrapf(err, "checking for array at %q", p.String())
	}

	switch mode {
	case ModeWrite:
		if exists {
			if err := discardChunks(store, p, key); err != nil {
				return nil, errors.Wrapf(err, "discarding chunks of %q", p.String())
			}
		}
	case ModeWriteFail:
		if exists {
			return nil, fmt.Errorf("%w: array already exists at %q", ErrConfig, p.String())
		}
	case ModeReadWriteCreate:
		if exists {
			return Open(store, path, mode, opts...)
		}
	default:
		return nil, fmt.Errorf("%w: mode %q cannot create an array", ErrConfig, mode)
	}

	if err := putMeta(store, p, meta); err != nil {
		return nil, errors.Wrapf(err, "writing metadata of %q", p.String())
	}

	a, err := newArray(store, p, mode, meta, comp, opts)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{
		"shape":      meta.Shape,
		"chunks":     meta.Chunks,
		"dtype":      meta.Dtype.String(),
		"compressor": meta.Compressor.String(),
	}).Info("created array")
	return a, nil
}

// discardChunks removes every chunk of the array described by the metadata
// stored under key. Unreadable metadata leaves the chunks alone.
func discardChunks(store Store, p Path, key string) error {
	data, err := store.Get(key)
	if err != nil {
		return err
	}
	old, err := decodeArrayMeta(key, data)
	if err != nil {
		return nil
	}
	grid := newChunkGrid(old.Shape, old.Chunks)
	for _, idx := range grid.ChunkIndices() {
		if err := store.Delete(p.key(ChunkKey(idx, old.separator()))); err != nil {
			return err
		}
	}
	return nil
}

// Empty creates an array with a null fill value. Unwritten cells read as the
// zero value of the data type.
func Empty(store Store, path string, params ArrayParams, opts ...Option) (*Array, error) {
	params.FillValue = nil
	return Create(store, path, params, ModeWriteFail, opts...)
}

// Zeros creates an array filled with 0
func Zeros(store Store, path string, params ArrayParams, opts ...Option) (*Array, error) {
	params.FillValue = 0
	return Create(store, path, params, ModeWriteFail, opts...)
}

// Ones creates an array filled with 1
func Ones(store Store, path string, params ArrayParams, opts ...Option) (*Array, error) {
	params.FillValue = 1
	return Create(store, path, params, ModeWriteFail, opts...)
}

// Open loads the array stored at path. Metadata that is missing, unreadable or
// written for another format version fails with an error matching ErrFormat.
func Open(store Store, path string, mode PersistenceMode, opts ...Option) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeRead, ModeReadWrite, ModeReadWriteCreate:
	default:
		return nil, fmt.Errorf("%w: mode %q cannot open an array", ErrConfig, mode)
	}

	key := p.key(string(MTArray))
	data, err := store.Get(key)
	if errors.Is(err, ErrNotfound) {
		return nil, fmt.Errorf("%w: no array metadata at %q", ErrFormat, key)
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %q", key)
	}

	meta, err := decodeArrayMeta(key, data)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompressor(meta.Compressor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFormat, key, err)
	}

	a, err := newArray(store, p, mode, meta, comp, opts)
	if err != nil {
		return nil, err
	}
	a.log.WithField("mode", mode).Info("opened array")
	return a, nil
}

func newArray(store Store, p Path, mode PersistenceMode, meta *ArrayMeta, comp Compressor, opts []Option) (*Array, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	crw, err := newChunkReaderWriter(store, comp, meta)
	if err != nil {
		return nil, err
	}
	return &Array{
		path:   p,
		store:  store,
		mode:   mode,
		meta:   meta,
		grid:   newChunkGrid(meta.Shape, meta.Chunks),
		chunks: crw,
		locks:  newLockTable(),
		opts:   o,
		log:    o.logger.WithField("path", p.String()),
	}, nil
}

// Meta returns a copy of the array metadata
func (a *Array) Meta() *ArrayMeta { return a.meta.clone() }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) Chunks() []int { return append([]int(nil), a.meta.Chunks...) }

func (a *Array) Mode() PersistenceMode { return a.mode }

func (a *Array) Path() string { return a.path.String() }

// Info summarizes the array in the layout python zarr prints
func (a *Array) Info() string {
	var sb strings.Builder
	row := func(name string, v interface{}) {
		fmt.Fprintf(&sb, "%-19s: %v\n", name, v)
	}
	row("Type", "zarr.Array")
	if name := a.path.String(); name != "" {
		row("Name", "/"+name)
	}
	row("Data type", a.meta.Dtype.String())
	row("Shape", tupleString(a.meta.Shape))
	row("Chunk shape", tupleString(a.meta.Chunks))
	row("Order", a.meta.Order)
	row("Read-only", a.mode == ModeRead)
	if a.meta.Compressor != nil {
		row("Compressor", a.meta.Compressor.String())
	} else {
		row("Compressor", "None")
	}
	row("Store type", a.store.Type())
	row("No. chunks", a.grid.NumChunks())
	return sb.String()
}

func tupleString(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (a *Array) chunkKey(idx []int) string {
	return a.path.key(ChunkKey(idx, a.meta.separator()))
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Path is a normalized logical path inside a store. The root path is empty.
type Path []string

// NewPath normalizes a logical path so it addresses the same keys on every
// store: backslashes become forward slashes, leading and trailing slashes
// are stripped and runs of slashes collapse into one. "." and ".." segments
// are rejected.
func NewPath(posix string) (Path, error) {
	var p Path
	for _, seg := range strings.Split(strings.ReplaceAll(posix, `\`, "/"), "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: invalid path segment %q in %q", ErrConfig, seg, posix)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new path with elems appended. p is never modified.
func (p Path) Join(elems ...string) Path {
	return append(append(Path(nil), p...), elems...)
}

// key is the store key of name below p
func (p Path) key(name string) string {
	if len(p) == 0 {
		return name
	}
	return p.String() + "/" + name
}
