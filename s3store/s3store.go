// Package s3store keeps zarr keys as objects in an S3 bucket
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	zarr "github.com/qri-io/gozarr"
)

// StoreType names the S3 backend
const StoreType = "S3Store"

// Client is the subset of the S3 API the store calls. *s3.Client
// satisfies it.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ Client = (*s3.Client)(nil)

// Store implements zarr.Store on an S3 bucket. Every key is stored as one
// object below prefix. Failed requests are not retried beyond what the SDK
// client itself does.
type Store struct {
	client Client
	bucket string
	prefix string
}

var (
	_ zarr.Store  = (*Store)(nil)
	_ zarr.Lister = (*Store)(nil)
)

// NewStore creates a store on an existing client.
// prefix is prepended to all keys (e.g. "datasets/temperature").
func NewStore(client Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// New creates a store with a client configured from the environment and
// shared AWS config files
func New(ctx context.Context, bucket, prefix string, optFns ...func(*s3.Options)) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %s", zarr.ErrConfig, err)
	}
	return NewStore(s3.NewFromConfig(cfg, optFns...), bucket, prefix), nil
}

func (s *Store) Type() string                  { return StoreType }
func (s *Store) Concurrency() zarr.Concurrency { return zarr.ConcurrencyPerKey }

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) Get(key string) ([]byte, error) {
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading s3://%s/%s: %w", zarr.ErrIO, s.bucket, s.key(key), err)
	}
	return data, nil
}

func (s *Store) Put(key string, val []byte) error {
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(val),
		ContentLength: aws.Int64(int64(len(val))),
	})
	if err != nil {
		return s.wrap(key, err)
	}
	return nil
}

func (s *Store) Exists(key string) (bool, error) {
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err == nil {
		return true, nil
	}
	if err = s.wrap(key, err); errors.Is(err, zarr.ErrNotfound) {
		return false, nil
	}
	return false, err
}

func (s *Store) Delete(key string) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
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

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("%w: listing s3://%s/%s: %w", zarr.ErrIO, s.bucket, fullPrefix, err)
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if s.prefix != "" {
				name = strings.TrimPrefix(strings.TrimPrefix(name, s.prefix), "/")
			}
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// wrap maps S3 not-found responses onto zarr.ErrNotfound and everything
// else onto zarr.ErrIO
func (s *Store) wrap(key string, err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", zarr.ErrNotfound, key)
	}
	return fmt.Errorf("%w: s3://%s/%s: %w", zarr.ErrIO, s.bucket, s.key(key), err)
}
