package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ZarrFormat is the only storage format version this package reads
// and writes
const ZarrFormat = 2

type MetaType string

const (
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
)

// MetaTyper is implemented by the metadata documents stored below a path
type MetaTyper interface {
	MetaType() MetaType
}

// putMeta stores m as indented JSON under its metadata key below p
func putMeta(store Store, p Path, m MetaTyper) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	return store.Put(p.key(string(m.MetaType())), data)
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage format to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string defining a valid data type for the array.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`
	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. Only “C” (row-major) is supported.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Filters are not supported and always null.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Rank is the number of dimensions of the array
func (a *ArrayMeta) Rank() int { return len(a.Shape) }

func (a *ArrayMeta) separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

func (a *ArrayMeta) clone() *ArrayMeta {
	c := *a
	c.Shape = append([]int(nil), a.Shape...)
	c.Chunks = append([]int(nil), a.Chunks...)
	if a.Compressor != nil {
		cm := *a.Compressor
		c.Compressor = &cm
	}
	c.Filters = append([]Filter(nil), a.Filters...)
	return &c
}

// validate checks the invariants every persisted array must hold
func (a *ArrayMeta) validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("shape must be given")
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("chunks must have the same number of dimensions as shape. expected: %d but was %d", len(a.Shape), len(a.Chunks))
	}
	for i := range a.Shape {
		if a.Shape[i] < 1 {
			return fmt.Errorf("shape dimension %d must be positive, got %d", i, a.Shape[i])
		}
		if a.Chunks[i] < 1 {
			return fmt.Errorf("chunk dimension %d must be positive, got %d", i, a.Chunks[i])
		}
	}
	if _, err := a.Dtype.elemType(); err != nil {
		return err
	}
	if _, err := a.Dtype.fillValue(a.FillValue); err != nil {
		return err
	}
	if a.Order != "C" {
		return fmt.Errorf("unsupported order %q, only \"C\" is supported", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("filters are not supported")
	}
	if s := a.separator(); s != "." && s != "/" {
		return fmt.Errorf("unsupported dimension separator %q", s)
	}
	return nil
}

// checkFormat reads zarr_format from a metadata document without assuming its
// type, so a bad version like 1.3 is reported as written
func checkFormat(key string, data []byte) error {
	probe := struct {
		ZarrFormat interface{} `json:"zarr_format"`
	}{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrFormat, key, err)
	}
	if f, ok := probe.ZarrFormat.(float64); !ok || f != ZarrFormat {
		return &FormatError{Key: key, Version: probe.ZarrFormat}
	}
	return nil
}

func decodeArrayMeta(key string, data []byte) (*ArrayMeta, error) {
	if err := checkFormat(key, data); err != nil {
		return nil, err
	}
	m := &ArrayMeta{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: reading %q: %s", ErrFormat, key, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFormat, key, err)
	}
	return m, nil
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)
