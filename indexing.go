package zarr

import (
	"fmt"
	"strconv"
	"strings"
)

// chunkGrid maps an array shape and chunk shape onto the grid of chunk
// indices. It holds no state beyond the two shapes.
type chunkGrid struct {
	shape  []int
	chunks []int
}

func newChunkGrid(shape, chunks []int) chunkGrid {
	return chunkGrid{shape: shape, chunks: chunks}
}

// ChunkCount is the number of chunks along dim
func (g chunkGrid) ChunkCount(dim int) int {
	return ceilDiv(g.shape[dim], g.chunks[dim])
}

// NumChunks is the total number of chunks in the grid
func (g chunkGrid) NumChunks() int {
	n := 1
	for d := range g.shape {
		n *= g.ChunkCount(d)
	}
	return n
}

// ChunkLen is the number of elements in one full chunk buffer
func (g chunkGrid) ChunkLen() int {
	return product(g.chunks)
}

// ChunkIndices lists the index of every chunk in the grid in row-major order
func (g chunkGrid) ChunkIndices() [][]int {
	pieces, err := g.Decompose(make([]int, len(g.shape)), g.shape)
	if err != nil {
		return nil
	}
	out := make([][]int, len(pieces))
	for i, p := range pieces {
		out[i] = p.ChunkCoords
	}
	return out
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Start of the selection inside the chunk buffer
	ChunkOffset []int
	// Start of the selection inside the region (output) buffer
	OutOffset []int
	// Extent of the selection, shared by chunk and region
	Shape []int
}

// checkRegion validates a region against the array bounds
func (g chunkGrid) checkRegion(offset, shape []int) error {
	if len(offset) != len(g.shape) || len(shape) != len(g.shape) {
		return fmt.Errorf("%w: region rank %d/%d does not match array rank %d", ErrRange, len(offset), len(shape), len(g.shape))
	}
	for i := range g.shape {
		if offset[i] < 0 || shape[i] < 1 || offset[i]+shape[i] > g.shape[i] {
			return fmt.Errorf("%w: dimension %d: offset %d + shape %d exceeds array shape %d", ErrRange, i, offset[i], shape[i], g.shape[i])
		}
	}
	return nil
}

// Decompose splits the region at offset with the given shape into one
// projection per intersecting chunk, in row-major chunk order. The Shape
// boxes of all projections tile the region exactly.
func (g chunkGrid) Decompose(offset, shape []int) ([]chunkProjection, error) {
	if err := g.checkRegion(offset, shape); err != nil {
		return nil, err
	}

	rank := len(g.shape)
	first := make([]int, rank)
	last := make([]int, rank)
	total := 1
	for d := 0; d < rank; d++ {
		first[d] = offset[d] / g.chunks[d]
		last[d] = (offset[d] + shape[d] - 1) / g.chunks[d]
		total *= last[d] - first[d] + 1
	}

	out := make([]chunkProjection, 0, total)
	idx := append([]int(nil), first...)
	for {
		out = append(out, g.project(idx, offset, shape))

		// odometer increment, last dimension fastest
		d := rank - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] <= last[d] {
				break
			}
			idx[d] = first[d]
		}
		if d < 0 {
			return out, nil
		}
	}
}

// project intersects chunk idx, clipped to the array bounds, with the region
func (g chunkGrid) project(idx, offset, shape []int) chunkProjection {
	rank := len(idx)
	p := chunkProjection{
		ChunkCoords: append([]int(nil), idx...),
		ChunkOffset: make([]int, rank),
		OutOffset:   make([]int, rank),
		Shape:       make([]int, rank),
	}
	for d := 0; d < rank; d++ {
		chunkStart := idx[d] * g.chunks[d]
		chunkEnd := min(chunkStart+g.chunks[d], g.shape[d])
		start := max(chunkStart, offset[d])
		end := min(chunkEnd, offset[d]+shape[d])

		p.ChunkOffset[d] = start - chunkStart
		p.OutOffset[d] = start - offset[d]
		p.Shape[d] = end - start
	}
	return p
}

// coversChunk reports whether p spans every in-bounds cell of its chunk, in
// which case a write can replace the chunk without reading it first
func (g chunkGrid) coversChunk(p chunkProjection) bool {
	for d := range p.Shape {
		chunkStart := p.ChunkCoords[d] * g.chunks[d]
		logical := min(g.chunks[d], g.shape[d]-chunkStart)
		if p.ChunkOffset[d] != 0 || p.Shape[d] != logical {
			return false
		}
	}
	return true
}

// ChunkKey generates the key for a chunk given its indices and a separator.
// Example: indices=[1, 4], separator="." -> "1.4"
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}

	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// ParseChunkKey is the inverse of ChunkKey
func ParseChunkKey(key, separator string) ([]int, error) {
	parts := strings.Split(key, separator)
	indices := make([]int, len(parts))
	for i, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid chunk key %q", key)
		}
		indices[i] = n
	}
	return indices, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
