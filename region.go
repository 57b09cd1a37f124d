package zarr

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"
)

// Read copies the region of the given shape starting at offset into dst.
// dst must be a slice of the array's element type holding exactly
// product(shape) elements in row-major order. Cells of chunks that were never
// written read as the fill value.
func (a *Array) Read(dst interface{}, shape, offset []int) error {
	pieces, err := a.grid.Decompose(offset, shape)
	if err != nil {
		return err
	}
	out, err := a.regionBuffer(dst, shape)
	if err != nil {
		return err
	}

	return a.eachPiece(pieces, a.opts.workers, func(p chunkProjection) error {
		key := a.chunkKey(p.ChunkCoords)
		unlock := a.locks.RLock(key)
		defer unlock()

		buf, err := a.chunks.readChunk(key)
		if err != nil {
			a.log.WithField("chunk", key).WithError(err).Warn("reading chunk failed")
			return err
		}
		copyBox(out, shape, p.OutOffset, buf, a.meta.Chunks, p.ChunkOffset, p.Shape)
		a.log.WithField("chunk", key).Debug("read chunk")
		return nil
	})
}

// Write stores src into the region of the given shape starting at offset.
// src is either a slice of the array's element type holding product(shape)
// elements in row-major order, or a single value written to every cell of
// the region. The region and buffer are checked before anything is written.
//
// Each touched chunk is updated atomically with respect to other Read and
// Write calls on this Array. A failure can leave some chunks of the region
// written and others untouched.
func (a *Array) Write(src interface{}, shape, offset []int) error {
	if a.mode == ModeRead {
		return fmt.Errorf("%w: array %q was opened read-only", ErrReadOnly, a.path.String())
	}
	pieces, err := a.grid.Decompose(offset, shape)
	if err != nil {
		return err
	}

	var (
		in     reflect.Value
		scalar reflect.Value
	)
	if v := reflect.ValueOf(src); v.Kind() == reflect.Slice {
		if in, err = a.regionBuffer(src, shape); err != nil {
			return err
		}
	} else if scalar, err = a.scalarValue(src); err != nil {
		return err
	}

	workers := a.opts.workers
	if a.store.Concurrency() == ConcurrencySerial {
		workers = 1
	}

	return a.eachPiece(pieces, workers, func(p chunkProjection) error {
		key := a.chunkKey(p.ChunkCoords)
		unlock := a.locks.Lock(key)
		defer unlock()

		var buf reflect.Value
		if a.grid.coversChunk(p) {
			buf = a.chunks.newBuffer()
		} else {
			var err error
			if buf, err = a.chunks.readChunk(key); err != nil {
				a.log.WithField("chunk", key).WithError(err).Warn("reading chunk for update failed")
				return err
			}
		}

		if scalar.IsValid() {
			setBox(buf, a.meta.Chunks, p.ChunkOffset, p.Shape, scalar)
		} else {
			copyBox(buf, a.meta.Chunks, p.ChunkOffset, in, shape, p.OutOffset, p.Shape)
		}

		if err := a.chunks.writeChunk(key, buf); err != nil {
			a.log.WithField("chunk", key).WithError(err).Warn("writing chunk failed")
			return err
		}
		a.log.WithField("chunk", key).Debug("wrote chunk")
		return nil
	})
}

// eachPiece runs fn for every piece on at most workers goroutines. The first
// error stops pieces that have not started yet and is returned.
func (a *Array) eachPiece(pieces []chunkProjection, workers int, fn func(chunkProjection) error) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(workers)
	for _, p := range pieces {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			return fn(p)
		})
	}
	return g.Wait()
}

// ReadAll reads the whole array into a new slice of the element type
func (a *Array) ReadAll() (interface{}, error) {
	return a.readNew(a.Shape(), make([]int, a.meta.Rank()))
}

// Slice reads the rows [start, stop) along the first dimension into a new
// slice of the element type
func (a *Array) Slice(start, stop int) (interface{}, error) {
	if start < 0 || stop > a.meta.Shape[0] || start >= stop {
		return nil, fmt.Errorf("%w: slice [%d:%d] of dimension 0 with length %d", ErrRange, start, stop, a.meta.Shape[0])
	}
	shape := a.Shape()
	shape[0] = stop - start
	offset := make([]int, a.meta.Rank())
	offset[0] = start
	return a.readNew(shape, offset)
}

func (a *Array) readNew(shape, offset []int) (interface{}, error) {
	n := product(shape)
	out := reflect.MakeSlice(reflect.SliceOf(a.chunks.elem), n, n).Interface()
	if err := a.Read(out, shape, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// regionBuffer checks that buf is a slice able to hold a region of shape
func (a *Array) regionBuffer(buf interface{}, shape []int) (reflect.Value, error) {
	v := reflect.ValueOf(buf)
	if v.Kind() != reflect.Slice || v.Type().Elem() != a.chunks.elem {
		return reflect.Value{}, fmt.Errorf("%w: buffer of type %T cannot hold %s elements of dtype %s", ErrRange, buf, a.chunks.elem, a.meta.Dtype.String())
	}
	if n := product(shape); v.Len() != n {
		return reflect.Value{}, fmt.Errorf("%w: buffer holds %d elements, region %v needs %d", ErrRange, v.Len(), shape, n)
	}
	return v, nil
}

func (a *Array) scalarValue(x interface{}) (reflect.Value, error) {
	if x == nil {
		return reflect.Value{}, fmt.Errorf("%w: nil value", ErrRange)
	}
	if v := reflect.ValueOf(x); v.Type() == a.chunks.elem {
		return v, nil
	}
	v, err := a.meta.Dtype.fillValue(x)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: value %v cannot be stored as dtype %s", ErrRange, x, a.meta.Dtype.String())
	}
	return v, nil
}
