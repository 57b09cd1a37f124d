package zarr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	MemoryStoreType   = "MemoryStore"
	LocalStoreType    = "LocalStore"
	dirPermissionBits = 0755
	filePermission    = 0644
	tmpPrefix         = ".zarr-tmp-"
)

// ErrNotfound is returned by Store.Get for keys that hold no value
var ErrNotfound = errors.New("not found")

// Concurrency declares which store operations may run in parallel
type Concurrency int

const (
	// ConcurrencyPerKey stores accept parallel writes to distinct keys
	ConcurrencyPerKey Concurrency = iota
	// ConcurrencySerial stores apply one write at a time across all keys
	ConcurrencySerial
)

func (c Concurrency) String() string {
	if c == ConcurrencySerial {
		return "serial"
	}
	return "per-key"
}

// Store is a key-value blob store holding metadata documents and chunks.
// Implementations must be safe for concurrent use. Failures other than a
// missing key wrap ErrIO and are never retried by the store.
type Store interface {
	// Get returns the value for key, or an error matching ErrNotfound
	Get(key string) ([]byte, error)
	Put(key string, val []byte) error
	Exists(key string) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	Type() string
	Concurrency() Concurrency
}

// Lister is implemented by stores that can enumerate their keys
type Lister interface {
	List(prefix string) ([]string, error)
}

type MemoryStore struct {
	lk   sync.RWMutex
	data map[string][]byte
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string             { return MemoryStoreType }
func (s *MemoryStore) Concurrency() Concurrency { return ConcurrencyPerKey }

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return append([]byte(nil), d...), nil
}

func (s *MemoryStore) Put(key string, val []byte) error {
	d := append([]byte(nil), val...)
	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Delete(key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) List(prefix string) ([]string, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// LocalStore keeps one file per key below a base directory. Keys containing
// "/" map onto nested directories.
type LocalStore struct {
	base string
}

var (
	_ Store  = (*LocalStore)(nil)
	_ Lister = (*LocalStore)(nil)
)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, ioError(err)
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string             { return LocalStoreType }
func (s *LocalStore) Concurrency() Concurrency { return ConcurrencyPerKey }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *LocalStore) Get(key string) ([]byte, error) {
	d, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	if err != nil {
		return nil, ioError(err)
	}
	return d, nil
}

// Put writes val to a temporary file next to the target and renames it into
// place, so readers never observe a partially written value
func (s *LocalStore) Put(key string, val []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return ioError(err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return ioError(err)
	}
	tmp := f.Name()
	if _, err := f.Write(val); err != nil {
		f.Close()
		os.Remove(tmp)
		return ioError(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ioError(err)
	}
	if err := os.Chmod(tmp, filePermission); err != nil {
		os.Remove(tmp)
		return ioError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ioError(err)
	}
	return nil
}

func (s *LocalStore) Exists(key string) (bool, error) {
	fi, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err)
	}
	return fi.Mode().IsRegular(), nil
}

func (s *LocalStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError(err)
	}
	return nil
}

// List walks the base directory. Temporary files of in-flight writes are
// skipped.
func (s *LocalStore) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, ioError(err)
	}
	sort.Strings(keys)
	return keys, nil
}
