package zarr

import (
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelWritesToSameChunk(t *testing.T) {
	for storeName, store := range testStores(t) {
		for _, compName := range []string{NullID, ZlibID, BloscID} {
			t.Run(storeName+"/"+compName, func(t *testing.T) {
				comp, err := CreateCompressor(compName, 5)
				require.NoError(t, err)
				a, err := Create(store, "output-"+compName, ArrayParams{
					Shape:      []int{30, 30},
					Chunks:     []int{10, 10},
					DataType:   Int32,
					FillValue:  0,
					Compressor: comp,
				}, ModeWrite)
				require.NoError(t, err)

				// 20 writers, each filling half a row of chunk (1,1)
				var wg sync.WaitGroup
				errs := make(chan error, 20)
				for w := 0; w < 20; w++ {
					buf := make([]int32, 5)
					for i := range buf {
						buf[i] = int32(100 + w*5 + i)
					}
					offset := []int{10 + w/2, 10 + (w%2)*5}
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- a.Write(buf, []int{1, 5}, offset)
					}()
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					require.NoError(t, err)
				}

				got := make([]int32, 100)
				require.NoError(t, a.Read(got, []int{10, 10}, []int{10, 10}))
				for i, v := range got {
					assert.Equal(t, int32(100+i), v)
				}
				assert.Equal(t, 0, a.locks.Len())
			})
		}
	}
}

func TestParallelWritesAcrossChunks(t *testing.T) {
	a, err := Create(NewMemoryStore(), "", ArrayParams{
		Shape:    []int{40, 40},
		Chunks:   []int{7, 9},
		DataType: Uint16,
	}, ModeWrite, WithWorkers(4))
	require.NoError(t, err)

	// every writer owns one row and crosses every chunk column
	var wg sync.WaitGroup
	for r := 0; r < 40; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			row := make([]uint16, 40)
			for c := range row {
				row[c] = uint16(r*40 + c)
			}
			assert.NoError(t, a.Write(row, []int{1, 40}, []int{r, 0}))
		}(r)
	}
	wg.Wait()

	all, err := a.ReadAll()
	require.NoError(t, err)
	for i, v := range all.([]uint16) {
		require.Equal(t, uint16(i), v)
	}
}

func TestRoundTripDtypesAndCompressors(t *testing.T) {
	values := map[DataType]func(i int) interface{}{
		Bool:       func(i int) interface{} { return i%3 == 0 },
		Int8:       func(i int) interface{} { return int8(i - 50) },
		Int16:      func(i int) interface{} { return int16(i * -7) },
		Int32:      func(i int) interface{} { return int32(i * 1000) },
		Int64:      func(i int) interface{} { return int64(i) << 40 },
		Uint8:      func(i int) interface{} { return uint8(i) },
		Uint16:     func(i int) interface{} { return uint16(i * 300) },
		Uint32:     func(i int) interface{} { return uint32(i) << 20 },
		Uint64:     func(i int) interface{} { return uint64(i) << 50 },
		Float32:    func(i int) interface{} { return float32(i) / 3 },
		Float64:    func(i int) interface{} { return math.Sqrt(float64(i)) },
		Complex64:  func(i int) interface{} { return complex(float32(i), -float32(i)) },
		Complex128: func(i int) interface{} { return complex(float64(i), 0.5) },
	}
	shape := []int{11, 13}
	for _, compName := range []string{NullID, ZlibID, GzipID, ZstdID, LZ4ID, BloscID} {
		comp, err := CreateCompressor(compName, 1)
		require.NoError(t, err)
		for dt, gen := range values {
			for _, bo := range []ByteOrder{BOLittleEndian, BOBigEndian} {
				name := fmt.Sprintf("%s/%s/%c", compName, dt, bo)
				t.Run(name, func(t *testing.T) {
					store := NewMemoryStore()
					a, err := Create(store, "arr", ArrayParams{
						Shape:      shape,
						Chunks:     []int{4, 5},
						DataType:   dt,
						ByteOrder:  bo,
						Compressor: comp,
					}, ModeWrite)
					require.NoError(t, err)

					n := product(shape)
					src := reflect.MakeSlice(reflect.SliceOf(a.chunks.elem), n, n)
					for i := 0; i < n; i++ {
						src.Index(i).Set(reflect.ValueOf(gen(i)))
					}
					require.NoError(t, a.Write(src.Interface(), shape, []int{0, 0}))

					b, err := Open(store, "arr", ModeRead)
					require.NoError(t, err)
					got, err := b.ReadAll()
					require.NoError(t, err)
					assert.Equal(t, src.Interface(), got)
				})
			}
		}
	}
}

func TestReadUnwrittenIsFill(t *testing.T) {
	store := NewMemoryStore()
	a, err := Create(store, "fresh", ArrayParams{
		Shape:     []int{5, 5},
		Chunks:    []int{2, 2},
		DataType:  Float64,
		FillValue: -1.25,
	}, ModeWrite)
	require.NoError(t, err)

	got := make([]float64, 25)
	require.NoError(t, a.Read(got, []int{5, 5}, []int{0, 0}))
	for _, v := range got {
		assert.Equal(t, -1.25, v)
	}

	keys, err := store.List("fresh/")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh/.zarray"}, keys, "reads never create chunks")

	empty, err := Empty(NewMemoryStore(), "", ArrayParams{Shape: []int{3}, DataType: Int32})
	require.NoError(t, err)
	all, err := empty.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 0}, all)
}

func TestPartialWriteKeepsNeighbours(t *testing.T) {
	a, err := Create(NewMemoryStore(), "", ArrayParams{
		Shape:     []int{6, 6},
		Chunks:    []int{4, 4},
		DataType:  Int32,
		FillValue: 9,
	}, ModeWrite)
	require.NoError(t, err)

	require.NoError(t, a.Write([]int32{1, 2, 3, 4}, []int{2, 2}, []int{3, 3}))
	require.NoError(t, a.Write(int32(5), []int{1, 6}, []int{0, 0}))

	all, err := a.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []int32{
		5, 5, 5, 5, 5, 5,
		9, 9, 9, 9, 9, 9,
		9, 9, 9, 9, 9, 9,
		9, 9, 9, 1, 2, 9,
		9, 9, 9, 3, 4, 9,
		9, 9, 9, 9, 9, 9,
	}, all)

	rows, err := a.Slice(3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int32{
		9, 9, 9, 1, 2, 9,
		9, 9, 9, 3, 4, 9,
	}, rows)
}

func TestFullChunkOverwriteAtEdge(t *testing.T) {
	store := NewMemoryStore()
	a, err := Create(store, "", ArrayParams{
		Shape:     []int{5},
		Chunks:    []int{4},
		DataType:  Int8,
		FillValue: -1,
	}, ModeWrite)
	require.NoError(t, err)

	// garbage in the stored edge chunk must not survive a covering write
	require.NoError(t, store.Put("1", []byte{1, 2, 3, 4}))
	require.NoError(t, a.Write([]int8{7}, []int{1}, []int{4}))

	data, err := store.Get("1")
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0xff, 0xff, 0xff}, data)
}

func TestScalarWrite(t *testing.T) {
	a, err := Zeros(NewMemoryStore(), "", ArrayParams{Shape: []int{3, 3}, Chunks: []int{2, 2}, DataType: Float32})
	require.NoError(t, err)

	require.NoError(t, a.Write(2, []int{2, 2}, []int{1, 1}))
	require.NoError(t, a.Write(FillValueInfinity, []int{1, 1}, []int{0, 0}))

	all, err := a.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []float32{
		float32(math.Inf(1)), 0, 0,
		0, 2, 2,
		0, 2, 2,
	}, all)

	assert.ErrorIs(t, a.Write("seven", []int{1, 1}, []int{0, 0}), ErrRange)
	assert.ErrorIs(t, a.Write(nil, []int{1, 1}, []int{0, 0}), ErrRange)
}

func TestScalarWriteOutOfRange(t *testing.T) {
	cases := []struct {
		dt    DataType
		value interface{}
	}{
		{Int8, 300},
		{Int8, -129},
		{Uint8, -1},
		{Uint16, 70000},
		{Int32, 1.5},
		{Int64, math.Inf(1)},
		{Uint32, math.NaN()},
		{Float32, 1e300},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s/%v", c.dt, c.value), func(t *testing.T) {
			store := NewMemoryStore()
			a, err := Zeros(store, "arr", ArrayParams{Shape: []int{4}, Chunks: []int{2}, DataType: c.dt})
			require.NoError(t, err)

			err = a.Write(c.value, []int{4}, []int{0})
			assert.ErrorIs(t, err, ErrRange)

			keys, err := store.List("arr/")
			require.NoError(t, err)
			assert.Equal(t, []string{"arr/.zarray"}, keys)
		})
	}

	a, err := Zeros(NewMemoryStore(), "", ArrayParams{Shape: []int{2}, DataType: Int8})
	require.NoError(t, err)
	require.NoError(t, a.Write(-128, []int{2}, []int{0}))
	all, err := a.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []int8{-128, -128}, all)
}

// putFailStore fails every Put of one key
type putFailStore struct {
	*MemoryStore
	failKey string
}

func (s putFailStore) Put(key string, val []byte) error {
	if key == s.failKey {
		return ioError(errBackend)
	}
	return s.MemoryStore.Put(key, val)
}

func TestWriteFailureMidRegion(t *testing.T) {
	store := putFailStore{MemoryStore: NewMemoryStore(), failKey: "arr/0.2"}
	a, err := Create(store, "arr", ArrayParams{
		Shape:     []int{2, 40},
		Chunks:    []int{2, 10},
		DataType:  Int32,
		FillValue: 0,
	}, ModeWrite, WithWorkers(1))
	require.NoError(t, err)

	err = a.Write(int32(5), []int{2, 40}, []int{0, 0})
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, errBackend)

	for key, written := range map[string]bool{
		"arr/0.0": true,
		"arr/0.1": true,
		"arr/0.2": false,
		"arr/0.3": false,
	} {
		ok, err := store.Exists(key)
		require.NoError(t, err)
		assert.Equal(t, written, ok, key)
	}

	// chunks written before the failure keep their data
	got, err := a.Slice(0, 1)
	require.NoError(t, err)
	row := got.([]int32)
	assert.Equal(t, int32(5), row[0])
	assert.Equal(t, int32(5), row[19])
	assert.Equal(t, int32(0), row[20])
	assert.Equal(t, int32(0), row[39])
}

func TestRegionErrorsWriteNothing(t *testing.T) {
	store := NewMemoryStore()
	a, err := Ones(store, "arr", ArrayParams{Shape: []int{10, 10}, Chunks: []int{5, 5}, DataType: Int32})
	require.NoError(t, err)

	cases := []struct {
		name          string
		buf           interface{}
		shape, offset []int
	}{
		{"past the end", make([]int32, 12), []int{3, 4}, []int{8, 0}},
		{"negative offset", make([]int32, 1), []int{1, 1}, []int{-1, 0}},
		{"rank", make([]int32, 8), []int{2, 2, 2}, []int{0, 0, 0}},
		{"buffer length", make([]int32, 3), []int{2, 2}, []int{0, 0}},
		{"buffer type", make([]int64, 4), []int{2, 2}, []int{0, 0}},
		{"zero extent", make([]int32, 0), []int{0, 2}, []int{0, 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.ErrorIs(t, a.Write(c.buf, c.shape, c.offset), ErrRange)
			assert.ErrorIs(t, a.Read(c.buf, c.shape, c.offset), ErrRange)
		})
	}

	keys, err := store.List("arr/")
	require.NoError(t, err)
	assert.Equal(t, []string{"arr/.zarray"}, keys)

	_, err = a.Slice(4, 11)
	assert.ErrorIs(t, err, ErrRange)
	_, err = a.Slice(5, 5)
	assert.ErrorIs(t, err, ErrRange)
}

func TestWriteReadOnly(t *testing.T) {
	store := NewMemoryStore()
	_, err := Create(store, "ro", ArrayParams{Shape: []int{4}}, ModeWrite)
	require.NoError(t, err)

	a, err := Open(store, "ro", ModeRead)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Write(1.0, []int{1}, []int{0}), ErrReadOnly)
}

func TestCorruptChunkFailsRead(t *testing.T) {
	store := NewMemoryStore()
	comp, err := NewZlibCompressor(1)
	require.NoError(t, err)
	a, err := Create(store, "", ArrayParams{Shape: []int{4}, Chunks: []int{2}, Compressor: comp}, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, store.Put("1", []byte("not zlib")))

	got := make([]float64, 4)
	assert.ErrorIs(t, a.Read(got, []int{4}, []int{0}), ErrCodec)
	assert.ErrorIs(t, a.Write(1.0, []int{1}, []int{3}), ErrCodec, "partial writes read the chunk first")
}

func TestSlashSeparator(t *testing.T) {
	store := NewMemoryStore()
	a, err := Create(store, "nested", ArrayParams{
		Shape:              []int{4, 4},
		Chunks:             []int{2, 2},
		DataType:           Uint8,
		DimensionSeparator: "/",
	}, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.Write(uint8(1), []int{1, 1}, []int{3, 2}))

	ok, err := store.Exists("nested/1/1")
	require.NoError(t, err)
	assert.True(t, ok)
}
