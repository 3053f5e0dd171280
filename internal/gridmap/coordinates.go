package gridmap

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Coord identifies a chunk on the horizontal chunk grid.
// X follows world x and Y follows world z; the world is y-up and every chunk
// sits on the y = 0 base plane.
type Coord struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// String renders the coordinate as "x_y", the form used in logs.
func (c Coord) String() string {
	return fmt.Sprintf("%d_%d", c.X, c.Y)
}

// Offset returns the coordinate shifted by (dx, dy) chunks. Arithmetic wraps at 64 bits.
func (c Coord) Offset(dx, dy int64) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy}
}

// ValidatePosition rejects positions that cannot be mapped onto the grid.
func ValidatePosition(pos mgl32.Vec3) error {
	for i, name := range [3]string{"x", "y", "z"} {
		v := float64(pos[i])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid %s: %f", name, v)
		}
	}
	return nil
}

// CoordAt returns the chunk containing a world position by floor-dividing the
// horizontal axes by the chunk size. size must be positive.
func CoordAt(pos mgl32.Vec3, size int) Coord {
	return Coord{
		X: CellIndex(pos.X(), size),
		Y: CellIndex(pos.Z(), size),
	}
}

// CellIndex floor-divides one world axis by the chunk size.
func CellIndex(v float32, size int) int64 {
	q := math.Floor(float64(v) / float64(size))
	switch {
	case q >= math.MaxInt64:
		return math.MaxInt64
	case q <= math.MinInt64:
		return math.MinInt64
	}
	return int64(q)
}

// Origin is the world position of a chunk's minimum corner on the base plane.
func Origin(c Coord, size int) mgl32.Vec3 {
	s := int64(size)
	return mgl32.Vec3{float32(c.X * s), 0, float32(c.Y * s)}
}

// Center is the world position of the middle of a chunk's base.
func Center(c Coord, size int) mgl32.Vec3 {
	half := float32(size) / 2
	return Origin(c, size).Add(mgl32.Vec3{half, 0, half})
}
