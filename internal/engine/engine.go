package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"github.com/voxelstream/server/internal/cache"
	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/performance"
	"github.com/voxelstream/server/internal/scheduler"
	"github.com/voxelstream/server/internal/streaming"
	"github.com/voxelstream/server/internal/voxel"
)

// Sink receives chunk lifecycle events on the tick goroutine. Implementations
// must not block.
type Sink interface {
	ChunkLoaded(chunk *voxel.Chunk)
	ChunkEvicted(coord gridmap.Coord)
}

// WindowSink is optionally implemented by sinks that want window changes.
type WindowSink interface {
	WindowChanged(delta streaming.WindowDelta)
}

// ViewerSource supplies the viewer position each tick. nil means there is
// no viewer yet.
type ViewerSource interface {
	Viewer() *mgl32.Vec3
}

// ViewerFunc adapts a function to ViewerSource.
type ViewerFunc func() *mgl32.Vec3

// Viewer calls f.
func (f ViewerFunc) Viewer() *mgl32.Vec3 { return f() }

// Submitter starts generation tasks. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(req scheduler.Request) (*scheduler.Task, error)
}

// Options configures an Engine.
type Options struct {
	Seed      uint64
	ChunkSize int
	// MaterialCount of 0 lets each task read the count from the registry.
	MaterialCount      uint32
	CacheCapacity      int
	TouchOnLookup      bool
	RequestRadius      int
	MaxRequestsPerTick int
	// SubmitRate limits submissions per second across ticks. 0 disables it.
	SubmitRate   float64
	SubmitBurst  int
	TickInterval time.Duration
}

// TickReport summarizes one tick.
type TickReport struct {
	Loaded    []gridmap.Coord
	Evicted   []gridmap.Coord
	Failed    []gridmap.Coord
	Submitted []gridmap.Coord
	Throttled int
}

// Stats is a snapshot of engine state for inspection.
type Stats struct {
	Seed      uint64      `json:"seed"`
	Ticks     uint64      `json:"ticks"`
	Pending   int         `json:"pending"`
	Submitted uint64      `json:"submitted"`
	Completed uint64      `json:"completed"`
	Failed    uint64      `json:"failed"`
	Evicted   uint64      `json:"evicted"`
	Cache     cache.Stats `json:"cache"`
}

// Engine owns the tick loop: it merges finished tasks into the cache and
// requests chunks near the viewer. Tick must be called from one goroutine;
// the inspection methods are safe to call concurrently.
type Engine struct {
	opts     Options
	submit   Submitter
	cache    *cache.LoadedChunks
	resolver *streaming.Resolver
	tracker  *streaming.Tracker
	limiter  *rate.Limiter
	profiler *performance.Profiler

	mu        sync.Mutex
	pending   map[gridmap.Coord]*scheduler.Task
	sinks     []Sink
	evicted   []gridmap.Coord
	ticks     uint64
	submitted uint64
	completed uint64
	failed    uint64
	evictions uint64
}

// New creates an engine. profiler may be nil.
func New(submit Submitter, profiler *performance.Profiler, opts Options) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.MaxRequestsPerTick <= 0 {
		opts.MaxRequestsPerTick = 1
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second / 30
	}

	e := &Engine{
		opts:     opts,
		submit:   submit,
		resolver: streaming.NewResolver(opts.ChunkSize, opts.RequestRadius),
		profiler: profiler,
		pending:  make(map[gridmap.Coord]*scheduler.Task),
	}
	e.tracker = streaming.NewTracker(e.resolver)

	loaded, err := cache.New(cache.Options{
		Capacity:      opts.CacheCapacity,
		TouchOnLookup: opts.TouchOnLookup,
		OnEvict: func(coord gridmap.Coord, _ *voxel.Chunk) {
			// Runs inside Insert, on the tick goroutine.
			e.evicted = append(e.evicted, coord)
		},
	})
	if err != nil {
		return nil, err
	}
	e.cache = loaded

	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = opts.MaxRequestsPerTick
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}
	return e, nil
}

// AddSink registers a sink for chunk events.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Cache returns the loaded-chunk cache.
func (e *Engine) Cache() *cache.LoadedChunks { return e.cache }

// Seed returns the world seed.
func (e *Engine) Seed() uint64 { return e.opts.Seed }

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// IsPending reports whether coord has a task in flight.
func (e *Engine) IsPending(coord gridmap.Coord) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[coord]
	return ok
}

// Pending returns the coordinates with tasks in flight.
func (e *Engine) Pending() []gridmap.Coord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]gridmap.Coord, 0, len(e.pending))
	for c := range e.pending {
		out = append(out, c)
	}
	return out
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Seed:      e.opts.Seed,
		Ticks:     e.ticks,
		Pending:   len(e.pending),
		Submitted: e.submitted,
		Completed: e.completed,
		Failed:    e.failed,
		Evicted:   e.evictions,
		Cache:     e.cache.Stats(),
	}
}

// Tick merges finished tasks into the cache, then requests missing chunks
// around viewer. Sinks are notified after the engine state is updated.
func (e *Engine) Tick(viewer *mgl32.Vec3) TickReport {
	op := e.profiler.Start(performance.MetricTick)
	defer op.End()

	var report TickReport
	var loaded []*voxel.Chunk

	e.mu.Lock()
	e.ticks++

	for coord, task := range e.pending {
		res, ok := task.Poll()
		if !ok {
			continue
		}
		// The pending mark is cleared only once the result is merged.
		delete(e.pending, coord)
		if res.Err != nil {
			e.failed++
			report.Failed = append(report.Failed, coord)
			if errors.Is(res.Err, scheduler.ErrRegistryNotReady) {
				log.Printf("[Engine] Chunk %s deferred: %v", coord, res.Err)
			} else {
				log.Printf("[Engine] Chunk %s failed: %v", coord, res.Err)
			}
			continue
		}
		e.completed++
		e.cache.Insert(coord, res.Chunk)
		loaded = append(loaded, res.Chunk)
		report.Loaded = append(report.Loaded, coord)
	}
	report.Evicted = e.evicted
	e.evictions += uint64(len(e.evicted))
	e.evicted = nil

	known := streaming.Union(e.cache, streaming.MembershipFunc(func(c gridmap.Coord) bool {
		_, ok := e.pending[c]
		return ok
	}))
	for _, coord := range e.resolver.NextRequests(viewer, known, e.opts.MaxRequestsPerTick) {
		if e.limiter != nil && !e.limiter.Allow() {
			report.Throttled++
			continue
		}
		task, err := e.submit.Submit(scheduler.Request{
			Seed:          e.opts.Seed,
			Coord:         coord,
			Size:          e.opts.ChunkSize,
			MaterialCount: e.opts.MaterialCount,
		})
		if err != nil {
			log.Printf("[Engine] Failed to submit chunk %s: %v", coord, err)
			if errors.Is(err, scheduler.ErrClosed) {
				break
			}
			continue
		}
		e.pending[coord] = task
		e.submitted++
		report.Submitted = append(report.Submitted, coord)
	}

	sinks := append([]Sink(nil), e.sinks...)
	e.mu.Unlock()

	e.profiler.Incr(performance.CounterChunksLoaded, uint64(len(report.Loaded)))
	e.profiler.Incr(performance.CounterChunksEvicted, uint64(len(report.Evicted)))
	e.profiler.Incr(performance.CounterTasksFailed, uint64(len(report.Failed)))
	e.profiler.Incr(performance.CounterTasksThrottled, uint64(report.Throttled))

	for _, s := range sinks {
		for _, coord := range report.Evicted {
			s.ChunkEvicted(coord)
		}
		for _, chunk := range loaded {
			s.ChunkLoaded(chunk)
		}
	}

	if delta, moved := e.tracker.Update(viewer); moved {
		for _, s := range sinks {
			if ws, ok := s.(WindowSink); ok {
				ws.WindowChanged(delta)
			}
		}
	}

	return report
}

// Run ticks at the configured interval until ctx is done.
func (e *Engine) Run(ctx context.Context, source ViewerSource) error {
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	log.Printf("[Engine] Tick loop started (interval=%s, seed=%d)", e.opts.TickInterval, e.opts.Seed)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Engine] Tick loop stopped after %d ticks", e.Stats().Ticks)
			return ctx.Err()
		case <-ticker.C:
			e.Tick(source.Viewer())
		}
	}
}
