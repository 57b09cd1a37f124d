package zarr

import (
	"fmt"
	"math"
	"reflect"
)

// autoChunkTarget is the dimension length above which the chunk heuristic
// starts splitting an axis
const autoChunkTarget = 512

// ArrayParams is the configuration an array is created from. The zero value
// of every optional field picks the default:
//
//	Chunks     nil   -> computed by the chunk heuristic (or Shape when Unchunked)
//	DataType   ""    -> Float64
//	ByteOrder  0     -> BOBigEndian
//	FillValue  nil   -> null, read back as the zero value
//	Compressor nil   -> NullCompressor
//
// Shape must be given.
type ArrayParams struct {
	Shape  []int
	Chunks []int
	// Unchunked stores the array as a single chunk when Chunks is not given
	Unchunked  bool
	DataType   DataType
	ByteOrder  ByteOrder
	FillValue  interface{}
	Compressor Compressor
	// DimensionSeparator is "." (default) or "/"
	DimensionSeparator string
}

// Build validates p and returns the array metadata it describes. Build never
// modifies p.
func (p ArrayParams) Build() (*ArrayMeta, error) {
	if len(p.Shape) == 0 {
		return nil, fmt.Errorf("%w: shape must be given", ErrConfig)
	}
	shape := append([]int(nil), p.Shape...)
	for i, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: shape dimension %d must be positive, got %d", ErrConfig, i, s)
		}
	}

	var chunks []int
	switch {
	case p.Chunks != nil:
		chunks = append([]int(nil), p.Chunks...)
	case p.Unchunked:
		chunks = append([]int(nil), shape...)
	default:
		chunks = autoChunks(shape)
	}
	if len(chunks) != len(shape) {
		return nil, fmt.Errorf("%w: chunks must have the same number of dimensions as shape. expected: %d but was %d", ErrConfig, len(shape), len(chunks))
	}
	for i, c := range chunks {
		if c < 1 {
			chunks[i] = shape[i]
		}
	}

	dataType := p.DataType
	if dataType == "" {
		dataType = Float64
	}
	dt, err := dataType.Dtype(p.ByteOrder)
	if err != nil {
		return nil, err
	}

	fill, err := normalizeFill(dt, p.FillValue)
	if err != nil {
		return nil, err
	}

	comp := p.Compressor
	if comp == nil {
		comp = NullCompressor
	}

	sep := p.DimensionSeparator
	if sep != "" && sep != "." && sep != "/" {
		return nil, fmt.Errorf("%w: unsupported dimension separator %q", ErrConfig, sep)
	}

	return &ArrayMeta{
		ZarrFormat:         ZarrFormat,
		Shape:              shape,
		Chunks:             chunks,
		Dtype:              dt,
		Compressor:         comp.Meta(),
		FillValue:          fill,
		Order:              "C",
		DimensionSeparator: sep,
	}, nil
}

// Params returns the parameters m was built from, ready to be changed and
// built again. Chunks are carried over, so rebuilding never re-runs the chunk
// heuristic unless Chunks is cleared first.
func (a *ArrayMeta) Params() (ArrayParams, error) {
	comp, err := NewCompressor(a.Compressor)
	if err != nil {
		return ArrayParams{}, err
	}
	return ArrayParams{
		Shape:              append([]int(nil), a.Shape...),
		Chunks:             append([]int(nil), a.Chunks...),
		Unchunked:          reflect.DeepEqual(a.Shape, a.Chunks),
		DataType:           DataType(fmt.Sprintf("%c%d%s", a.Dtype.BasicType, a.Dtype.ByteSize, a.Dtype.Units)),
		ByteOrder:          a.Dtype.ByteOrder,
		FillValue:          a.FillValue,
		Compressor:         comp,
		DimensionSeparator: a.DimensionSeparator,
	}, nil
}

// autoChunks splits every axis longer than autoChunkTarget into
// shape/autoChunkTarget+1 roughly equal chunks, rounding the chunk length up
func autoChunks(shape []int) []int {
	chunks := make([]int, len(shape))
	for i, s := range shape {
		n := s / autoChunkTarget
		if n == 0 {
			chunks[i] = s
			continue
		}
		c := s / (n + 1)
		if s%c != 0 {
			c++
		}
		chunks[i] = c
	}
	return chunks
}

// normalizeFill checks fill against the data type and converts float
// specials to the strings the metadata document uses for them
func normalizeFill(dt Dtype, fill interface{}) (interface{}, error) {
	if fill == nil {
		return nil, nil
	}
	if _, err := dt.fillValue(fill); err != nil {
		return nil, err
	}
	var f float64
	switch x := fill.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return fill, nil
	}
	switch {
	case math.IsNaN(f):
		return FillValueNaN, nil
	case math.IsInf(f, 1):
		return FillValueInfinity, nil
	case math.IsInf(f, -1):
		return FillValueNegativeInfinity, nil
	}
	return fill, nil
}
