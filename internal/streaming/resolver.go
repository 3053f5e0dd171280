package streaming

import (
	"log"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
)

// Membership answers whether a chunk is already loaded or pending.
type Membership interface {
	Contains(coord gridmap.Coord) bool
}

// MembershipFunc adapts a function to Membership.
type MembershipFunc func(coord gridmap.Coord) bool

// Contains calls f.
func (f MembershipFunc) Contains(coord gridmap.Coord) bool { return f(coord) }

// Union reports membership in any of sets.
func Union(sets ...Membership) Membership {
	return MembershipFunc(func(coord gridmap.Coord) bool {
		for _, s := range sets {
			if s != nil && s.Contains(coord) {
				return true
			}
		}
		return false
	})
}

// Resolver decides which chunks to generate next from the viewer position.
type Resolver struct {
	chunkSize int
	radius    int
}

// NewResolver creates a resolver. radius is the neighbourhood radius in
// chunks used by NextRequests; 0 limits requests to the viewer's own chunk.
func NewResolver(chunkSize, radius int) *Resolver {
	if radius < 0 {
		radius = 0
	}
	return &Resolver{chunkSize: chunkSize, radius: radius}
}

// ChunkSize returns the chunk edge length in voxels.
func (r *Resolver) ChunkSize() int { return r.chunkSize }

// Radius returns the request neighbourhood radius in chunks.
func (r *Resolver) Radius() int { return r.radius }

// NextRequest returns the viewer's own chunk when it is neither loaded nor
// pending. A nil viewer means there is no viewer this tick.
func (r *Resolver) NextRequest(viewer *mgl32.Vec3, known Membership) (gridmap.Coord, bool) {
	if !r.usable(viewer) {
		return gridmap.Coord{}, false
	}
	coord := gridmap.CoordAt(*viewer, r.chunkSize)
	if known != nil && known.Contains(coord) {
		return gridmap.Coord{}, false
	}
	return coord, true
}

// NextRequests returns up to limit missing chunks from the viewer's
// neighbourhood, nearest first. limit <= 0 means no limit.
func (r *Resolver) NextRequests(viewer *mgl32.Vec3, known Membership, limit int) []gridmap.Coord {
	if !r.usable(viewer) {
		return nil
	}
	center := gridmap.CoordAt(*viewer, r.chunkSize)

	var out []gridmap.Coord
	for _, c := range gridmap.Neighborhood(center, r.radius, *viewer, r.chunkSize) {
		if known != nil && known.Contains(c) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *Resolver) usable(viewer *mgl32.Vec3) bool {
	if viewer == nil || r.chunkSize <= 0 {
		return false
	}
	if err := gridmap.ValidatePosition(*viewer); err != nil {
		log.Printf("Warning: [Stream] ignoring viewer position: %v", err)
		return false
	}
	return true
}
