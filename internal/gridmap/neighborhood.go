package gridmap

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Neighborhood returns the (2r+1)^2 coordinates around center, ordered by the
// distance from pos to each chunk's center, nearest first. Ties break on (Y, X)
// so the ordering is stable for a given input.
func Neighborhood(center Coord, radius int, pos mgl32.Vec3, size int) []Coord {
	if radius < 0 {
		return nil
	}
	r := int64(radius)
	coords := make([]Coord, 0, (2*radius+1)*(2*radius+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			coords = append(coords, center.Offset(dx, dy))
		}
	}

	dist := make(map[Coord]float64, len(coords))
	for _, c := range coords {
		d := Center(c, size).Sub(pos)
		dist[c] = math.Hypot(float64(d.X()), float64(d.Z()))
	}
	sort.SliceStable(coords, func(i, j int) bool {
		di, dj := dist[coords[i]], dist[coords[j]]
		if di != dj {
			return di < dj
		}
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
	return coords
}
