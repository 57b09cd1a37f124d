package zarr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// chunkReaderWriter moves whole chunks between typed buffers and the store.
// A chunk buffer is a Go slice of the dtype's element type holding exactly
// one full chunk, edge chunks included.
type chunkReaderWriter struct {
	store Store
	comp  Compressor
	dtype Dtype
	order binary.ByteOrder
	elem  reflect.Type
	fill  reflect.Value
	size  int
}

func newChunkReaderWriter(store Store, comp Compressor, meta *ArrayMeta) (*chunkReaderWriter, error) {
	elem, err := meta.Dtype.elemType()
	if err != nil {
		return nil, err
	}
	fill, err := meta.Dtype.fillValue(meta.FillValue)
	if err != nil {
		return nil, err
	}
	return &chunkReaderWriter{
		store: store,
		comp:  bindTypeSize(comp, meta.Dtype.ByteSize),
		dtype: meta.Dtype,
		order: meta.Dtype.binaryOrder(),
		elem:  elem,
		fill:  fill,
		size:  product(meta.Chunks),
	}, nil
}

// newBuffer returns a chunk buffer with every element set to the fill value
func (c *chunkReaderWriter) newBuffer() reflect.Value {
	buf := reflect.MakeSlice(reflect.SliceOf(c.elem), c.size, c.size)
	if !c.fill.IsZero() {
		fillSlice(buf, c.fill)
	}
	return buf
}

// readChunk loads the chunk stored under key. A chunk that was never written
// reads as a buffer of fill values.
func (c *chunkReaderWriter) readChunk(key string) (reflect.Value, error) {
	ok, err := c.store.Exists(key)
	if err != nil {
		return reflect.Value{}, err
	}
	if !ok {
		return c.newBuffer(), nil
	}
	compressed, err := c.store.Get(key)
	if errors.Is(err, ErrNotfound) {
		// deleted between Exists and Get
		return c.newBuffer(), nil
	} else if err != nil {
		return reflect.Value{}, err
	}

	data, err := c.comp.Decompress(compressed)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("chunk %q: %w", key, err)
	}
	if want := c.size * c.dtype.ByteSize; len(data) != want {
		return reflect.Value{}, fmt.Errorf("%w: chunk %q holds %d bytes, expected %d", ErrCodec, key, len(data), want)
	}

	buf := reflect.MakeSlice(reflect.SliceOf(c.elem), c.size, c.size)
	if _, err := binary.Decode(data, c.order, buf.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: decoding chunk %q: %s", ErrCodec, key, err)
	}
	return buf, nil
}

// writeChunk encodes and compresses a full chunk buffer and stores it
func (c *chunkReaderWriter) writeChunk(key string, buf reflect.Value) error {
	data, err := binary.Append(make([]byte, 0, c.size*c.dtype.ByteSize), c.order, buf.Interface())
	if err != nil {
		return fmt.Errorf("%w: encoding chunk %q: %s", ErrCodec, key, err)
	}
	compressed, err := c.comp.Compress(data)
	if err != nil {
		return fmt.Errorf("%w: compressing chunk %q: %s", ErrCodec, key, err)
	}
	return c.store.Put(key, compressed)
}

// fillSlice sets every element of s to v by doubling copies
func fillSlice(s, v reflect.Value) {
	n := s.Len()
	if n == 0 {
		return
	}
	s.Index(0).Set(v)
	for filled := 1; filled < n; filled *= 2 {
		reflect.Copy(s.Slice(filled, n), s.Slice(0, filled))
	}
}

// strides returns the row-major element stride of every dimension
func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = n
		n *= shape[d]
	}
	return s
}

// forEachRow calls fn with the index of every innermost row of box. Only the
// leading rank-1 components of idx vary; the last is always 0.
func forEachRow(box []int, fn func(idx []int)) {
	rank := len(box)
	idx := make([]int, rank)
	for {
		fn(idx)
		d := rank - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < box[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func linearOffset(offset, idx, strides []int) int {
	n := 0
	for d := range idx {
		n += (offset[d] + idx[d]) * strides[d]
	}
	return n
}

// copyBox copies the box of the given extent from src, laid out with srcShape
// and starting at srcOffset, into dst at dstOffset. Both buffers are row-major
// and share an element type. Rows along the last dimension are contiguous and
// copied in one go.
func copyBox(dst reflect.Value, dstShape, dstOffset []int, src reflect.Value, srcShape, srcOffset []int, box []int) {
	ds, ss := strides(dstShape), strides(srcShape)
	row := box[len(box)-1]
	forEachRow(box, func(idx []int) {
		do := linearOffset(dstOffset, idx, ds)
		so := linearOffset(srcOffset, idx, ss)
		reflect.Copy(dst.Slice(do, do+row), src.Slice(so, so+row))
	})
}

// setBox sets every element of the box in dst to v
func setBox(dst reflect.Value, dstShape, dstOffset []int, box []int, v reflect.Value) {
	ds := strides(dstShape)
	row := box[len(box)-1]
	forEachRow(box, func(idx []int) {
		do := linearOffset(dstOffset, idx, ds)
		fillSlice(dst.Slice(do, do+row), v)
	})
}
