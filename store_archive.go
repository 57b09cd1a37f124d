package zarr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// ArchiveStoreType names the single-file archive backend
const ArchiveStoreType = "ArchiveStore"

var archiveBucketName = []byte("zarr")

// ArchiveStore packs every key into one bbolt container file. The container
// admits a single writer, so all Put and Delete calls are serialized behind
// one mutex regardless of key. Reads run concurrently.
type ArchiveStore struct {
	writeLk sync.Mutex
	db      *bolt.DB
	path    string
}

var (
	_ Store  = (*ArchiveStore)(nil)
	_ Lister = (*ArchiveStore)(nil)
)

// NewArchiveStore opens the archive at path, creating it if needed
func NewArchiveStore(path string) (*ArchiveStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return nil, ioError(err)
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(ioError(err), "open archive %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(archiveBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(ioError(err), "failed to initialize archive")
	}
	return &ArchiveStore{db: db, path: path}, nil
}

func (s *ArchiveStore) Type() string             { return ArchiveStoreType }
func (s *ArchiveStore) Concurrency() Concurrency { return ConcurrencySerial }

// Path is the location of the container file
func (s *ArchiveStore) Path() string { return s.path }

func (s *ArchiveStore) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(archiveBucketName).Get([]byte(key))
		if v != nil {
			// bbolt values are only valid inside the transaction
			val = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ioError(err), "get %q", key)
	}
	if val == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return val, nil
}

func (s *ArchiveStore) Put(key string, val []byte) error {
	s.writeLk.Lock()
	defer s.writeLk.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucketName).Put([]byte(key), append([]byte{}, val...))
	})
	if err != nil {
		return errors.Wrapf(ioError(err), "failed to put %q", key)
	}
	return nil
}

func (s *ArchiveStore) Exists(key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(archiveBucketName).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(ioError(err), "exists %q", key)
	}
	return ok, nil
}

func (s *ArchiveStore) Delete(key string) error {
	s.writeLk.Lock()
	defer s.writeLk.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucketName).Delete([]byte(key))
	})
	if err != nil {
		return errors.Wrapf(ioError(err), "failed to delete %q", key)
	}
	return nil
}

func (s *ArchiveStore) List(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucketName).ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(ioError(err), "list archive")
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the container file
func (s *ArchiveStore) Close() error {
	s.writeLk.Lock()
	defer s.writeLk.Unlock()
	return s.db.Close()
}
