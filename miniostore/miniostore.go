// Package miniostore keeps zarr keys as objects on MinIO or any other
// S3-compatible server reachable through minio-go
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	zarr "github.com/qri-io/gozarr"
)

// StoreType names the MinIO backend
const StoreType = "MinioStore"

// Store implements zarr.Store for MinIO and S3-compatible storage
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var (
	_ zarr.Store  = (*Store)(nil)
	_ zarr.Lister = (*Store)(nil)
)

// NewStore creates a MinIO store.
// prefix is prepended to all keys (e.g. "arrays/").
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Dial connects to endpoint with static credentials
func Dial(endpoint, accessKey, secretKey string, secure bool, bucket, prefix string) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: minio client: %s", zarr.ErrConfig, err)
	}
	return NewStore(client, bucket, prefix), nil
}

func (s *Store) Type() string                  { return StoreType }
func (s *Store) Concurrency() zarr.Concurrency { return zarr.ConcurrencyPerKey }

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) Get(key string) ([]byte, error) {
	obj, err := s.client.GetObject(context.Background(), s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	defer obj.Close()

	// GetObject is lazy, a missing key surfaces on the first read
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(key, err)
	}
	return data, nil
}

func (s *Store) Put(key string, val []byte) error {
	_, err := s.client.PutObject(context.Background(), s.bucket, s.key(key), bytes.NewReader(val), int64(len(val)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return s.wrap(key, err)
	}
	return nil
}

func (s *Store) Exists(key string) (bool, error) {
	_, err := s.client.StatObject(context.Background(), s.bucket, s.key(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = s.wrap(key, err); errors.Is(err, zarr.ErrNotfound) {
		return false, nil
	}
	return false, err
}

func (s *Store) Delete(key string) error {
	err := s.client.RemoveObject(context.Background(), s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		if err = s.wrap(key, err); errors.Is(err, zarr.ErrNotfound) {
			return nil
		}
		return err
	}
	return nil
}

// List returns the keys below the store prefix starting with prefix
func (s *Store) List(prefix string) ([]string, error) {
	fullPrefix := s.prefix + "/" + prefix
	if s.prefix == "" {
		fullPrefix = prefix
	}

	// cancel stops the listing goroutine on an early return
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, s.wrap(prefix, obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) wrap(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", zarr.ErrNotfound, key)
	}
	return fmt.Errorf("%w: minio %s/%s: %w", zarr.ErrIO, s.bucket, s.key(key), err)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
