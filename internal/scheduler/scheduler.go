package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/performance"
	"github.com/voxelstream/server/internal/voxel"
)

var (
	// ErrRegistryNotReady means the material registry did not become ready in
	// time and no default material count is configured. Retry later.
	ErrRegistryNotReady = errors.New("material registry not ready")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Generator produces chunks. *voxel.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, seed uint64, coord gridmap.Coord, size int, materialCount uint32) (*voxel.Chunk, error)
}

// Request is everything a generation task needs, passed by value.
type Request struct {
	Seed  uint64
	Coord gridmap.Coord
	Size  int
	// MaterialCount of 0 means read it from the registry.
	MaterialCount uint32
}

// Result is the outcome of a task.
type Result struct {
	Chunk    *voxel.Chunk
	Err      error
	Duration time.Duration
}

// Task is a handle to one submitted generation.
type Task struct {
	ID      uuid.UUID
	Coord   gridmap.Coord
	done    chan struct{}
	result  Result
	claimed atomic.Bool
}

// Poll returns the result once the task has finished. The result is handed
// out exactly once; later calls return false.
func (t *Task) Poll() (Result, bool) {
	select {
	case <-t.done:
		if t.claimed.CompareAndSwap(false, true) {
			return t.result, true
		}
	default:
	}
	return Result{}, false
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Options configures a Scheduler.
type Options struct {
	// Workers bounds concurrent generations. 0 means runtime.NumCPU().
	Workers int
	// RegistryWaitTimeout bounds how long a task waits for materials.
	// 0 means do not wait.
	RegistryWaitTimeout time.Duration
	// DefaultMaterialCount is used when the registry is not ready in time.
	// 0 means fail the task with ErrRegistryNotReady instead.
	DefaultMaterialCount uint32
}

// Scheduler runs chunk generation in the background. Submit never blocks;
// parallelism is bounded by a weighted semaphore.
type Scheduler struct {
	gen      Generator
	registry *materials.Registry
	profiler *performance.Profiler
	opts     Options
	sem      *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a scheduler. registry and profiler may be nil.
func New(gen Generator, registry *materials.Registry, profiler *performance.Profiler, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{
		gen:      gen,
		registry: registry,
		profiler: profiler,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// Workers returns the configured parallelism.
func (s *Scheduler) Workers() int {
	return s.opts.Workers
}

// InFlight returns the number of submitted tasks that have not finished.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Submit validates req and starts a task for it.
func (s *Scheduler) Submit(req Request) (*Task, error) {
	mc := req.MaterialCount
	if mc == 0 {
		// Resolved later from the registry; only the size can be checked now.
		mc = 1
	}
	if err := voxel.ValidateParams(req.Size, mc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	t := &Task{
		ID:    uuid.New(),
		Coord: req.Coord,
		done:  make(chan struct{}),
	}
	s.inFlight.Add(1)
	go s.run(t, req)
	return t, nil
}

func (s *Scheduler) run(t *Task, req Request) {
	defer s.wg.Done()
	defer s.inFlight.Add(-1)
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.result = Result{Err: fmt.Errorf("chunk %s generation panicked: %v", req.Coord, r)}
		}
	}()

	start := time.Now()
	mc := req.MaterialCount
	if mc == 0 {
		var err error
		mc, err = s.materialCount()
		if err != nil {
			t.result = Result{Err: err, Duration: time.Since(start)}
			return
		}
	}

	// The registry wait above happens before taking a slot, so waiting tasks
	// never hold generation capacity.
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		t.result = Result{Err: err, Duration: time.Since(start)}
		return
	}
	defer s.sem.Release(1)

	op := s.profiler.Start(performance.MetricChunkGenerate)
	chunk, err := s.gen.Generate(context.Background(), req.Seed, req.Coord, req.Size, mc)
	op.End()
	if err != nil {
		log.Printf("[Scheduler] Failed to generate chunk %s: %v", req.Coord, err)
		t.result = Result{Err: err, Duration: time.Since(start)}
		return
	}
	t.result = Result{Chunk: chunk, Duration: time.Since(start)}
}

// materialCount waits for the registry up to RegistryWaitTimeout.
func (s *Scheduler) materialCount() (uint32, error) {
	if s.registry != nil {
		op := s.profiler.Start(performance.MetricRegistryWait)
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RegistryWaitTimeout)
		err := s.registry.WaitReady(ctx)
		cancel()
		op.End()
		if err == nil {
			count, err := s.registry.Count()
			if err == nil && count > 0 {
				return count, nil
			}
		}
	}

	if s.opts.DefaultMaterialCount > 0 {
		log.Printf("Warning: [Scheduler] material registry not ready after %s, using default count %d",
			s.opts.RegistryWaitTimeout, s.opts.DefaultMaterialCount)
		return s.opts.DefaultMaterialCount, nil
	}
	return 0, fmt.Errorf("%w after %s", ErrRegistryNotReady, s.opts.RegistryWaitTimeout)
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
