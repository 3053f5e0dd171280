package voxel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/noise"
	"github.com/voxelstream/server/internal/procedural"
)

var (
	// ErrInvalidMaterialCount is returned when no materials are available to pick from.
	ErrInvalidMaterialCount = errors.New("material count must be at least 1")
	// ErrInvalidSize is returned for negative chunk sizes.
	ErrInvalidSize = errors.New("chunk size must not be negative")
)

// MaterialPicker returns a raw material value for the voxel at local (x, y, z).
// index is the voxel's linear index x + y*size + z*size*size. The generator
// reduces the result modulo the material count.
type MaterialPicker func(x, y, z, index, seed uint64) uint64

// HashMaterial picks materials from the 3D hash of the local position.
func HashMaterial(x, y, z, _ uint64, seed uint64) uint64 {
	return noise.Hash3D(x, y, z, seed)
}

// IndexMaterial cycles through materials by linear index.
func IndexMaterial(_, _, _, index, _ uint64) uint64 {
	return index
}

// Generator turns (seed, coord) into chunks. It holds no mutable state and is
// safe for concurrent use as long as its HeightField is.
type Generator struct {
	heights procedural.HeightField
	picker  MaterialPicker
}

// NewGenerator creates a generator. A nil picker selects HashMaterial.
func NewGenerator(heights procedural.HeightField, picker MaterialPicker) *Generator {
	if picker == nil {
		picker = HashMaterial
	}
	return &Generator{heights: heights, picker: picker}
}

// ValidateParams checks generation parameters before any work is scheduled.
func ValidateParams(size int, materialCount uint32) error {
	if size < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if materialCount == 0 {
		return ErrInvalidMaterialCount
	}
	return nil
}

// ChunkSeed derives the per-chunk seed from the world seed.
func ChunkSeed(seed uint64, coord gridmap.Coord) uint64 {
	return noise.Hash2DInt(coord.X, coord.Y, seed)
}

// Generate builds the chunk at coord. Every column (x, z) of the size×size
// footprint is filled from y = 0 up to floor(height*size), exclusive. The
// height field is driven by the chunk seed; voxel ids and materials use the
// world seed and local coordinates.
func (g *Generator) Generate(ctx context.Context, seed uint64, coord gridmap.Coord, size int, materialCount uint32) (*Chunk, error) {
	if err := ValidateParams(size, materialCount); err != nil {
		return nil, err
	}

	chunkSeed := ChunkSeed(seed, coord)
	origin := gridmap.Origin(coord, size)
	chunk := &Chunk{
		Coord:    coord,
		Position: origin,
		Size:     size,
	}
	if size == 0 {
		return chunk, nil
	}

	grid, err := g.heights.Generate(ctx, chunkSeed, size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate height field for chunk %s: %w", coord, err)
	}
	if err := grid.Validate(size, size); err != nil {
		return nil, fmt.Errorf("invalid height field for chunk %s: %w", coord, err)
	}

	n := uint64(size)
	mc := uint64(materialCount)
	chunk.Voxels = make([]Voxel, 0, estimateVoxels(grid))

	for z := 0; z < size; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < size; x++ {
			maxY := columnTop(grid.At(x, z), size)
			for y := 0; y < maxY; y++ {
				ux, uy, uz := uint64(x), uint64(y), uint64(z)
				index := ux + uy*n + uz*n*n
				chunk.Voxels = append(chunk.Voxels, Voxel{
					Position: origin.Add(mgl32.Vec3{float32(x), float32(y), float32(z)}),
					ID:       noise.Hash(index, seed),
					Material: uint32(g.picker(ux, uy, uz, index, seed) % mc),
				})
			}
		}
	}

	return chunk, nil
}

// columnTop converts a normalized height to the exclusive top voxel index.
// The product stays in float32 so decimal levels such as 0.7 reach their
// nominal height.
func columnTop(h float32, size int) int {
	switch {
	case h <= 0 || math.IsNaN(float64(h)):
		return 0
	case h >= 1:
		return size
	}
	return int(math.Floor(float64(h * float32(size))))
}

func estimateVoxels(g *procedural.Grid) int {
	total := 0
	for _, h := range g.Values {
		total += columnTop(h, g.Width)
	}
	return total
}
