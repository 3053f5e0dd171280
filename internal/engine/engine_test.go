package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/noise"
	"github.com/voxelstream/server/internal/performance"
	"github.com/voxelstream/server/internal/procedural"
	"github.com/voxelstream/server/internal/scheduler"
	"github.com/voxelstream/server/internal/streaming"
	"github.com/voxelstream/server/internal/voxel"
)

type recordingSink struct {
	mu      sync.Mutex
	loaded  []gridmap.Coord
	evicted []gridmap.Coord
	windows []streaming.WindowDelta
}

func (s *recordingSink) ChunkLoaded(c *voxel.Chunk) {
	s.mu.Lock()
	s.loaded = append(s.loaded, c.Coord)
	s.mu.Unlock()
}

func (s *recordingSink) ChunkEvicted(c gridmap.Coord) {
	s.mu.Lock()
	s.evicted = append(s.evicted, c)
	s.mu.Unlock()
}

func (s *recordingSink) WindowChanged(d streaming.WindowDelta) {
	s.mu.Lock()
	s.windows = append(s.windows, d)
	s.mu.Unlock()
}

func readyRegistry(t *testing.T, n int) *materials.Registry {
	t.Helper()
	r := materials.NewRegistry()
	defs := make([]materials.Material, n)
	for i := range defs {
		defs[i] = materials.Material{ID: uint32(i), Name: "m"}
	}
	if err := r.Populate(defs); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	return r
}

func baseOptions() Options {
	return Options{
		Seed:               55,
		ChunkSize:          10,
		CacheCapacity:      9,
		RequestRadius:      1,
		MaxRequestsPerTick: 9,
		TickInterval:       time.Millisecond,
	}
}

// tickUntil ticks with viewer until cond holds or the deadline passes.
func tickUntil(t *testing.T, e *Engine, viewer *mgl32.Vec3, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e.Tick(viewer)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline; stats=%+v", e.Stats())
}

func TestNewValidatesOptions(t *testing.T) {
	sched := scheduler.New(voxel.NewGenerator(procedural.Flat{}, nil), nil, nil, scheduler.Options{})
	defer sched.Close()

	opts := baseOptions()
	opts.ChunkSize = 0
	if _, err := New(sched, nil, opts); err == nil {
		t.Fatal("expected error for zero chunk size")
	}
	opts = baseOptions()
	opts.CacheCapacity = 0
	if _, err := New(sched, nil, opts); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestEndToEndFlatWorld(t *testing.T) {
	gen := voxel.NewGenerator(procedural.Flat{Level: 0.5}, nil)
	sched := scheduler.New(gen, readyRegistry(t, 10), nil, scheduler.Options{RegistryWaitTimeout: time.Second})
	defer sched.Close()

	e, err := New(sched, performance.NewProfiler(true), baseOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &recordingSink{}
	e.AddSink(sink)

	viewer := mgl32.Vec3{5, 0, 5}
	tickUntil(t, e, &viewer, func() bool { return e.Cache().Len() == 9 })

	chunk, ok := e.Cache().Peek(gridmap.Coord{})
	if !ok {
		t.Fatal("viewer chunk not loaded")
	}
	if chunk.Len() != 500 {
		t.Fatalf("expected 500 voxels, got %d", chunk.Len())
	}
	for _, v := range chunk.Voxels {
		x, y, z := uint64(v.Position.X()), uint64(v.Position.Y()), uint64(v.Position.Z())
		if want := uint32(noise.Hash3D(x, y, z, 55) % 10); v.Material != want {
			t.Fatalf("voxel %v material = %d, want %d", v.Position, v.Material, want)
		}
	}

	sink.mu.Lock()
	loadedEvents := len(sink.loaded)
	windows := len(sink.windows)
	sink.mu.Unlock()
	if loadedEvents != 9 {
		t.Fatalf("expected 9 load events, got %d", loadedEvents)
	}
	if windows != 1 {
		t.Fatalf("expected 1 window event, got %d", windows)
	}

	stats := e.Stats()
	if stats.Submitted != 9 || stats.Completed != 9 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestViewerMovementEvictsOldChunks(t *testing.T) {
	gen := voxel.NewGenerator(procedural.Flat{Level: 0.2}, nil)
	sched := scheduler.New(gen, nil, nil, scheduler.Options{})
	defer sched.Close()

	opts := baseOptions()
	opts.MaterialCount = 3
	e, err := New(sched, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &recordingSink{}
	e.AddSink(sink)

	viewer := mgl32.Vec3{5, 0, 5}
	tickUntil(t, e, &viewer, func() bool { return e.Cache().Len() == 9 })

	viewer = mgl32.Vec3{105, 0, 5}
	tickUntil(t, e, &viewer, func() bool {
		for _, c := range streaming.Window(gridmap.Coord{X: 10, Y: 0}, 1) {
			if !e.Cache().Contains(c) {
				return false
			}
		}
		return true
	})

	if e.Cache().Len() != 9 {
		t.Fatalf("cache should stay at capacity, got %d", e.Cache().Len())
	}
	if e.Cache().Contains(gridmap.Coord{}) {
		t.Fatal("old chunk should have been evicted")
	}

	sink.mu.Lock()
	evicted := len(sink.evicted)
	sink.mu.Unlock()
	if evicted != 9 {
		t.Fatalf("expected 9 eviction events, got %d", evicted)
	}
	if e.Stats().Evicted != 9 {
		t.Fatalf("expected 9 evictions in stats, got %d", e.Stats().Evicted)
	}
}

type gatedGenerator struct {
	gate chan struct{}
}

func (g gatedGenerator) Generate(_ context.Context, _ uint64, coord gridmap.Coord, size int, _ uint32) (*voxel.Chunk, error) {
	<-g.gate
	return &voxel.Chunk{Coord: coord, Size: size}, nil
}

func TestPendingChunksAreNotResubmitted(t *testing.T) {
	gen := gatedGenerator{gate: make(chan struct{})}
	sched := scheduler.New(gen, nil, nil, scheduler.Options{})
	defer sched.Close()

	opts := baseOptions()
	opts.RequestRadius = 0
	opts.MaxRequestsPerTick = 1
	opts.MaterialCount = 1
	e, err := New(sched, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	viewer := mgl32.Vec3{25, 0, 35}
	first := e.Tick(&viewer)
	if len(first.Submitted) != 1 || first.Submitted[0] != (gridmap.Coord{X: 2, Y: 3}) {
		t.Fatalf("expected a request for (2,3), got %+v", first)
	}
	for i := 0; i < 5; i++ {
		if r := e.Tick(&viewer); len(r.Submitted) != 0 {
			t.Fatalf("pending chunk resubmitted on tick %d", i)
		}
	}
	if !e.IsPending(gridmap.Coord{X: 2, Y: 3}) {
		t.Fatal("chunk should be pending")
	}

	close(gen.gate)
	tickUntil(t, e, &viewer, func() bool { return e.Cache().Contains(gridmap.Coord{X: 2, Y: 3}) })
	if e.IsPending(gridmap.Coord{X: 2, Y: 3}) {
		t.Fatal("pending mark should be cleared once merged")
	}
	if r := e.Tick(&viewer); len(r.Submitted) != 0 {
		t.Fatal("loaded chunk must not be requested again")
	}
	if e.Stats().Submitted != 1 {
		t.Fatalf("expected exactly one submission, got %d", e.Stats().Submitted)
	}
}

func TestNoViewerNoRequests(t *testing.T) {
	sched := scheduler.New(voxel.NewGenerator(procedural.Flat{}, nil), nil, nil, scheduler.Options{})
	defer sched.Close()

	e, err := New(sched, nil, baseOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r := e.Tick(nil); len(r.Submitted) != 0 {
		t.Fatalf("expected no requests without a viewer, got %+v", r)
	}
}

func TestRegistryNotReadyIsRetried(t *testing.T) {
	registry := materials.NewRegistry()
	sched := scheduler.New(voxel.NewGenerator(procedural.Flat{Level: 0.5}, nil), registry, nil, scheduler.Options{
		RegistryWaitTimeout: 5 * time.Millisecond,
	})
	defer sched.Close()

	opts := baseOptions()
	opts.RequestRadius = 0
	opts.MaxRequestsPerTick = 1
	e, err := New(sched, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	viewer := mgl32.Vec3{1, 0, 1}
	tickUntil(t, e, &viewer, func() bool { return e.Stats().Failed >= 2 })
	if e.Cache().Len() != 0 {
		t.Fatal("nothing should load before the registry is ready")
	}

	if err := registry.Populate([]materials.Material{{ID: 0, Name: "a"}, {ID: 1, Name: "b"}}); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	tickUntil(t, e, &viewer, func() bool { return e.Cache().Contains(gridmap.Coord{}) })
}

func TestSubmitRateLimit(t *testing.T) {
	gen := gatedGenerator{gate: make(chan struct{})}
	sched := scheduler.New(gen, nil, nil, scheduler.Options{})
	defer sched.Close()
	defer close(gen.gate)

	opts := baseOptions()
	opts.MaterialCount = 1
	opts.SubmitRate = 0.001
	opts.SubmitBurst = 2
	e, err := New(sched, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	viewer := mgl32.Vec3{5, 0, 5}
	r := e.Tick(&viewer)
	if len(r.Submitted) != 2 || r.Throttled != 7 {
		t.Fatalf("expected 2 submitted and 7 throttled, got %d / %d", len(r.Submitted), r.Throttled)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sched := scheduler.New(voxel.NewGenerator(procedural.Flat{Level: 0.1}, nil), nil, nil, scheduler.Options{})
	defer sched.Close()

	opts := baseOptions()
	opts.MaterialCount = 2
	e, err := New(sched, nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	viewer := mgl32.Vec3{5, 0, 5}
	go func() {
		done <- e.Run(ctx, ViewerFunc(func() *mgl32.Vec3 { return &viewer }))
	}()

	deadline := time.Now().Add(5 * time.Second)
	for e.Cache().Len() < 9 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if e.Cache().Len() != 9 {
		t.Fatalf("expected 9 loaded chunks, got %d", e.Cache().Len())
	}
}
