package voxel

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
)

// Voxel is one solid cell of a chunk. Position is in world space.
type Voxel struct {
	Position mgl32.Vec3 `json:"position"`
	ID       uint64     `json:"id"`
	Material uint32     `json:"material"`
}

// Chunk is a generated cube of voxels. A chunk is never mutated after the
// generator returns it, so it may be shared freely between goroutines.
type Chunk struct {
	Coord    gridmap.Coord `json:"coord"`
	Position mgl32.Vec3    `json:"position"`
	Size     int           `json:"size"`
	Voxels   []Voxel       `json:"voxels"`
}

// Len returns the number of solid voxels.
func (c *Chunk) Len() int {
	return len(c.Voxels)
}

// ColumnHeight counts the solid voxels in column (x, z), in local coordinates.
func (c *Chunk) ColumnHeight(x, z int) int {
	count := 0
	for _, v := range c.Voxels {
		local := v.Position.Sub(c.Position)
		if int(local.X()) == x && int(local.Z()) == z {
			count++
		}
	}
	return count
}

// Summary describes a chunk without its voxel list.
type Summary struct {
	Coord         gridmap.Coord  `json:"coord"`
	Position      mgl32.Vec3     `json:"position"`
	Size          int            `json:"size"`
	VoxelCount    int            `json:"voxel_count"`
	MinHeight     int            `json:"min_height"`
	MaxHeight     int            `json:"max_height"`
	MaterialCount map[uint32]int `json:"material_histogram"`
}

// Summarize computes column height bounds and the material histogram.
func (c *Chunk) Summarize() Summary {
	s := Summary{
		Coord:         c.Coord,
		Position:      c.Position,
		Size:          c.Size,
		VoxelCount:    len(c.Voxels),
		MaterialCount: make(map[uint32]int),
	}

	heights := make([]int, c.Size*c.Size)
	for _, v := range c.Voxels {
		s.MaterialCount[v.Material]++
		local := v.Position.Sub(c.Position)
		x, z := int(local.X()), int(local.Z())
		if x >= 0 && x < c.Size && z >= 0 && z < c.Size {
			heights[x+z*c.Size]++
		}
	}

	for i, h := range heights {
		if i == 0 || h < s.MinHeight {
			s.MinHeight = h
		}
		if h > s.MaxHeight {
			s.MaxHeight = h
		}
	}
	return s
}
