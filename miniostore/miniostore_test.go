package miniostore

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	zarr "github.com/qri-io/gozarr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	bucket := "test-gozarr"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	t.Run("Blobs", func(t *testing.T) {
		require.NoError(t, store.Put("blob", []byte("hello minio")))

		ok, err := store.Exists("blob")
		require.NoError(t, err)
		assert.True(t, ok)

		data, err := store.Get("blob")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello minio"), data)

		require.NoError(t, store.Delete("blob"))
		ok, err = store.Exists("blob")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Get("blob")
		assert.ErrorIs(t, err, zarr.ErrNotfound)
		assert.NoError(t, store.Delete("blob"))
	})

	t.Run("Array", func(t *testing.T) {
		comp, err := zarr.CreateCompressor(zarr.ZstdID, 3)
		require.NoError(t, err)
		a, err := zarr.Create(store, "grid", zarr.ArrayParams{
			Shape:      []int{6, 6},
			Chunks:     []int{4, 4},
			DataType:   zarr.Float32,
			FillValue:  -1,
			Compressor: comp,
		}, zarr.ModeWrite)
		require.NoError(t, err)

		require.NoError(t, a.Write(float32(2.5), []int{3, 3}, []int{2, 2}))

		b, err := zarr.Open(store, "grid", zarr.ModeRead)
		require.NoError(t, err)
		got := make([]float32, 4)
		require.NoError(t, b.Read(got, []int{2, 2}, []int{1, 1}))
		assert.Equal(t, []float32{-1, -1, -1, 2.5}, got)

		keys, err := store.List("grid/")
		require.NoError(t, err)
		assert.Contains(t, keys, "grid/.zarray")
		assert.Contains(t, keys, "grid/0.0")
	})

	t.Run("ListError", func(t *testing.T) {
		missing := NewStore(client, "gozarr-no-such-bucket", "")
		_, err := missing.List("")
		assert.ErrorIs(t, err, zarr.ErrIO)
	})
}
