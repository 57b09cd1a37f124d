package zarr

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paramsOne = ArrayParams{
	Shape:    []int{100, 100},
	Chunks:   []int{10, 10},
	DataType: Int32,
}

func TestCreateWritesMetadata(t *testing.T) {
	store := NewMemoryStore()
	comp, err := CreateCompressor(ZstdID, 0)
	require.NoError(t, err)
	p := paramsOne
	p.ByteOrder = BOLittleEndian
	p.FillValue = 20
	p.Compressor = comp

	a, err := Create(store, "foo/bar", p, ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, "foo/bar", a.Path())
	assert.Equal(t, []int{100, 100}, a.Shape())
	assert.Equal(t, []int{10, 10}, a.Chunks())
	assert.Equal(t, ModeWrite, a.Mode())

	data, err := store.Get("foo/bar/.zarray")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"zarr_format": 2,
		"shape": [100, 100],
		"chunks": [10, 10],
		"dtype": "<i4",
		"compressor": {"id": "zstd", "level": 3},
		"fill_value": 20,
		"order": "C",
		"filters": null
	}`, string(data))
}

func TestCreateModes(t *testing.T) {
	store := NewMemoryStore()
	a, err := Create(store, "arr", paramsOne, ModeWriteFail)
	require.NoError(t, err)
	require.NoError(t, a.Write(int32(3), []int{20, 20}, []int{0, 0}))

	_, err = Create(store, "arr", paramsOne, ModeWriteFail)
	assert.ErrorIs(t, err, ErrConfig)

	// "a" opens what is there and ignores the new params
	p := paramsOne
	p.Shape = []int{5}
	p.Chunks = nil
	b, err := Create(store, "arr", p, ModeReadWriteCreate)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100}, b.Shape())
	got := make([]int32, 1)
	require.NoError(t, b.Read(got, []int{1, 1}, []int{19, 19}))
	assert.Equal(t, int32(3), got[0])

	// "w" replaces the array and its chunks
	c, err := Create(store, "arr", paramsOne, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, c.Read(got, []int{1, 1}, []int{19, 19}))
	assert.Equal(t, int32(0), got[0])
	keys, err := store.List("arr/")
	require.NoError(t, err)
	assert.Equal(t, []string{"arr/.zarray"}, keys)

	_, err = Create(store, "arr", paramsOne, ModeRead)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Create(store, "other", ArrayParams{}, ModeWrite)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	comp, err := NewBloscCompressor("zstd", 5, BloscBitShuffle, 0)
	require.NoError(t, err)
	p := paramsOne
	p.Compressor = comp
	a, err := Create(store, `data\temps`, p, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.Write(int32(20), []int{100, 100}, []int{0, 0}))

	// reopen through a fresh store on the same directory
	store2, err := NewLocalStore(dir)
	require.NoError(t, err)
	b, err := Open(store2, "/data//temps/", ModeReadWrite)
	require.NoError(t, err)
	assert.Equal(t, a.Meta(), b.Meta())

	all, err := b.ReadAll()
	require.NoError(t, err)
	for _, v := range all.([]int32) {
		require.Equal(t, int32(20), v)
	}
	assert.FileExists(t, filepath.Join(dir, "data", "temps", "9.9"))

	_, err = Open(store2, "data/temps", ModeWrite)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOpenFormatErrors(t *testing.T) {
	store := NewMemoryStore()

	_, err := Open(store, "missing", ModeRead)
	assert.ErrorIs(t, err, ErrFormat)

	doc := map[string]interface{}{
		"zarr_format": 1.3,
		"shape":       []int{4},
		"chunks":      []int{4},
		"dtype":       "<i4",
		"compressor":  nil,
		"fill_value":  0,
		"order":       "C",
		"filters":     nil,
	}
	put := func(key string, doc map[string]interface{}) {
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, store.Put(key, data))
	}

	put("v13/.zarray", doc)
	_, err = Open(store, "v13", ModeRead)
	require.ErrorIs(t, err, ErrFormat)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1.3, fe.Version)
	assert.Contains(t, err.Error(), "zarr format 2 expected but is '1.3'")

	delete(doc, "zarr_format")
	put("nover/.zarray", doc)
	_, err = Open(store, "nover", ModeRead)
	require.ErrorAs(t, err, &fe)
	assert.Nil(t, fe.Version)

	doc["zarr_format"] = 2
	doc["compressor"] = map[string]interface{}{"id": "bz2"}
	put("bz2/.zarray", doc)
	_, err = Open(store, "bz2", ModeRead)
	assert.ErrorIs(t, err, ErrFormat)

	doc["compressor"] = nil
	doc["order"] = "F"
	put("fortran/.zarray", doc)
	_, err = Open(store, "fortran", ModeRead)
	assert.ErrorIs(t, err, ErrFormat)

	require.NoError(t, store.Put("junk/.zarray", []byte("{not json")))
	_, err = Open(store, "junk", ModeRead)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestMetaIsACopy(t *testing.T) {
	a, err := Create(NewMemoryStore(), "", paramsOne, ModeWrite)
	require.NoError(t, err)
	m := a.Meta()
	m.Shape[0] = 1
	a.Shape()[1] = 1
	assert.Equal(t, []int{100, 100}, a.Shape())
}

func TestNewPath(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"/":              "",
		"foo":            "foo",
		"/foo/bar/":      "foo/bar",
		`foo\bar`:        "foo/bar",
		"foo//bar///baz": "foo/bar/baz",
	}
	for in, want := range cases {
		p, err := NewPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, p.String(), in)
	}
	_, err := NewPath("foo/../bar")
	assert.ErrorIs(t, err, ErrConfig)

	base, err := NewPath("a")
	require.NoError(t, err)
	joined := base.Join("b")
	assert.Equal(t, "a/b", joined.String())
	assert.Equal(t, "a", base.String())
	assert.Equal(t, ".zarray", Path(nil).key(".zarray"))
	assert.Equal(t, "a/b/0.0", joined.key("0.0"))
}

func TestInfo(t *testing.T) {
	a, err := Create(NewMemoryStore(), "foo", paramsOne, ModeWrite)
	require.NoError(t, err)
	info := a.Info()
	for _, row := range [][2]string{
		{"Name", "/foo"},
		{"Data type", ">i4"},
		{"Shape", "(100, 100)"},
		{"Chunk shape", "(10, 10)"},
		{"Compressor", "None"},
		{"Store type", "MemoryStore"},
		{"No. chunks", "100"},
	} {
		assert.Contains(t, info, fmt.Sprintf("%-19s: %s\n", row[0], row[1]))
	}
}

func TestLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	a, err := Create(NewMemoryStore(), "logged", ArrayParams{Shape: []int{4}, Chunks: []int{2}}, ModeWrite,
		WithLogger(logrus.NewEntry(logger)), WithWorkers(1))
	require.NoError(t, err)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "created array", hook.LastEntry().Message)
	assert.Equal(t, "logged", hook.LastEntry().Data["path"])

	hook.Reset()
	require.NoError(t, a.Write(1.5, []int{4}, []int{0}))
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, "wrote chunk", hook.Entries[0].Message)
	assert.Equal(t, logrus.DebugLevel, hook.Entries[0].Level)
	assert.Equal(t, "logged/0", hook.Entries[0].Data["chunk"])
}
