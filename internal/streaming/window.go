package streaming

import (
	"log"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
)

// WindowDelta describes chunks entering and leaving the viewer's window.
type WindowDelta struct {
	Center  gridmap.Coord   `json:"center"`
	Added   []gridmap.Coord `json:"added"`
	Removed []gridmap.Coord `json:"removed"`
	Current []gridmap.Coord `json:"current"`
}

// Empty reports whether nothing entered or left the window.
func (d WindowDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Window returns the (2r+1)^2 coordinates around center in row order.
func Window(center gridmap.Coord, radius int) []gridmap.Coord {
	if radius < 0 {
		return nil
	}
	r := int64(radius)
	coords := make([]gridmap.Coord, 0, (2*radius+1)*(2*radius+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			coords = append(coords, center.Offset(dx, dy))
		}
	}
	return coords
}

// DiffWindows returns coordinates in next but not previous, and in previous
// but not next, each in their input order.
func DiffWindows(previous, next []gridmap.Coord) (added []gridmap.Coord, removed []gridmap.Coord) {
	prevSet := make(map[gridmap.Coord]struct{}, len(previous))
	nextSet := make(map[gridmap.Coord]struct{}, len(next))

	for _, c := range previous {
		prevSet[c] = struct{}{}
	}
	for _, c := range next {
		nextSet[c] = struct{}{}
		if _, exists := prevSet[c]; !exists {
			added = append(added, c)
		}
	}
	for _, c := range previous {
		if _, exists := nextSet[c]; !exists {
			removed = append(removed, c)
		}
	}
	return
}

// Tracker remembers the viewer's last window and reports changes.
type Tracker struct {
	mu      sync.Mutex
	resolve *Resolver
	center  gridmap.Coord
	current []gridmap.Coord
	started bool
}

// NewTracker creates a tracker using the resolver's chunk size and radius.
func NewTracker(r *Resolver) *Tracker {
	return &Tracker{resolve: r}
}

// Update recomputes the window for viewer. It returns false when the viewer
// is missing or has not changed chunk.
func (t *Tracker) Update(viewer *mgl32.Vec3) (WindowDelta, bool) {
	if !t.resolve.usable(viewer) {
		return WindowDelta{}, false
	}
	center := gridmap.CoordAt(*viewer, t.resolve.chunkSize)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && center == t.center {
		return WindowDelta{}, false
	}

	next := Window(center, t.resolve.radius)
	added, removed := DiffWindows(t.current, next)
	log.Printf("[Stream] Window moved to %s: added=%d chunks, removed=%d chunks", center, len(added), len(removed))

	t.center = center
	t.current = next
	t.started = true

	return WindowDelta{
		Center:  center,
		Added:   added,
		Removed: removed,
		Current: next,
	}, true
}

// Current returns the last computed window.
func (t *Tracker) Current() []gridmap.Coord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]gridmap.Coord, len(t.current))
	copy(out, t.current)
	return out
}
