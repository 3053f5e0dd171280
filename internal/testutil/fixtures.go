package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/procedural"
	"github.com/voxelstream/server/internal/scheduler"
	"github.com/voxelstream/server/internal/voxel"
)

// TestSeed is the world seed used by fixtures unless a test overrides it.
const TestSeed uint64 = 55

// TestMaterials returns n material definitions with ids 0..n-1.
func TestMaterials(n int) []materials.Material {
	defs := make([]materials.Material, n)
	for i := range defs {
		defs[i] = materials.Material{
			ID:        uint32(i),
			Name:      fmt.Sprintf("material_%d", i),
			Color:     [3]uint8{uint8(i * 3), 20, 16},
			Roughness: 16,
		}
	}
	return defs
}

// ReadyRegistry returns a registry already populated with n materials.
func ReadyRegistry(t testing.TB, n int) *materials.Registry {
	t.Helper()
	r := materials.NewRegistry()
	if err := r.Populate(TestMaterials(n)); err != nil {
		t.Fatalf("failed to populate registry: %v", err)
	}
	return r
}

// EngineFixture bundles an engine with the scheduler and registry behind it.
type EngineFixture struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Registry  *materials.Registry
}

// EngineOptions returns small engine options suited to tests: 10-voxel
// chunks, a 3x3 window and a cache that holds exactly that window.
func EngineOptions() engine.Options {
	return engine.Options{
		Seed:               TestSeed,
		ChunkSize:          10,
		CacheCapacity:      9,
		RequestRadius:      1,
		MaxRequestsPerTick: 9,
		TickInterval:       time.Millisecond,
	}
}

// NewFlatEngine builds an engine over a flat world at level with a ready
// registry of materialCount entries. The scheduler is closed on cleanup.
func NewFlatEngine(t testing.TB, level float32, materialCount int, opts engine.Options) *EngineFixture {
	t.Helper()
	registry := ReadyRegistry(t, materialCount)
	gen := voxel.NewGenerator(procedural.Flat{Level: level}, nil)
	sched := scheduler.New(gen, registry, nil, scheduler.Options{RegistryWaitTimeout: time.Second})
	t.Cleanup(sched.Close)

	e, err := engine.New(sched, nil, opts)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return &EngineFixture{Engine: e, Scheduler: sched, Registry: registry}
}

// TickUntil ticks e with viewer until cond holds, failing the test after
// five seconds.
func TickUntil(t testing.TB, e *engine.Engine, viewer *mgl32.Vec3, cond func() bool) {
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

// Eventually polls cond until it holds, failing the test after timeout.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
