package performance

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known metric names.
const (
	MetricChunkGenerate   = "chunk.generate"
	MetricRegistryWait    = "chunk.registry_wait"
	MetricTick            = "engine.tick"
	CounterChunksLoaded   = "chunks.loaded"
	CounterChunksEvicted  = "chunks.evicted"
	CounterTasksFailed    = "tasks.failed"
	CounterTasksThrottled = "tasks.throttled"
)

// Profiler records named timings and counters for generation and ticks.
// Safe for concurrent use; a disabled profiler records nothing.
type Profiler struct {
	mu        sync.Mutex
	timings   map[string]*timing
	counters  map[string]uint64
	enabled   atomic.Bool
	startTime time.Time
}

type timing struct {
	count    int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
	last     time.Duration
	lastCall time.Time
}

// Metric is a point-in-time copy of one timing.
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
}

// AverageTime returns the mean duration.
func (m Metric) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// Operation is a single in-flight timing started by Start.
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a new profiler
func NewProfiler(enabled bool) *Profiler {
	p := &Profiler{
		timings:   make(map[string]*timing),
		counters:  make(map[string]uint64),
		startTime: time.Now(),
	}
	p.enabled.Store(enabled)
	return p
}

// Start begins timing an operation. The returned Operation may be nil; End
// handles that.
func (p *Profiler) Start(name string) *Operation {
	if p == nil || !p.enabled.Load() {
		return nil
	}
	return &Operation{profiler: p, name: name, start: time.Now()}
}

// End records the elapsed time and returns it.
func (o *Operation) End() time.Duration {
	if o == nil {
		return 0
	}
	d := time.Since(o.start)
	o.profiler.Record(o.name, d)
	return d
}

// Record adds one duration sample for name.
func (p *Profiler) Record(name string, d time.Duration) {
	if p == nil || !p.enabled.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timings[name]
	if !ok {
		t = &timing{min: d, max: d}
		p.timings[name] = t
	}
	t.count++
	t.total += d
	t.last = d
	t.lastCall = time.Now()
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// Incr adds delta to a counter.
func (p *Profiler) Incr(name string, delta uint64) {
	if p == nil || !p.enabled.Load() {
		return
	}
	p.mu.Lock()
	p.counters[name] += delta
	p.mu.Unlock()
}

// Counter returns the current value of a counter.
func (p *Profiler) Counter(name string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

// GetMetric returns a copy of one timing, or false if nothing was recorded.
func (p *Profiler) GetMetric(name string) (Metric, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.timings[name]
	if !ok {
		return Metric{}, false
	}
	return t.snapshot(name), true
}

// GetMetrics returns copies of all timings sorted by name.
func (p *Profiler) GetMetrics() []Metric {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedLocked()
}

func (p *Profiler) sortedLocked() []Metric {
	out := make([]Metric, 0, len(p.timings))
	for name, t := range p.timings {
		out = append(out, t.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *timing) snapshot(name string) Metric {
	return Metric{
		Name:      name,
		Count:     t.count,
		TotalTime: t.total,
		MinTime:   t.min,
		MaxTime:   t.max,
		LastTime:  t.last,
		LastCall:  t.lastCall,
	}
}

// Reset clears all timings and counters.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timings = make(map[string]*timing)
	p.counters = make(map[string]uint64)
	p.startTime = time.Now()
}

// Report renders a human-readable table of timings and counters.
func (p *Profiler) Report() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.timings) == 0 && len(p.counters) == 0 {
		return "No performance metrics recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Performance Report (since %s) ===\n", p.startTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "%-32s %10s %12s %12s %12s %12s\n", "Operation", "Count", "Avg", "Min", "Max", "Last")
	b.WriteString(strings.Repeat("-", 96) + "\n")
	for _, m := range p.sortedLocked() {
		fmt.Fprintf(&b, "%-32s %10d %12s %12s %12s %12s\n",
			m.Name,
			m.Count,
			m.AverageTime().Round(time.Microsecond),
			m.MinTime.Round(time.Microsecond),
			m.MaxTime.Round(time.Microsecond),
			m.LastTime.Round(time.Microsecond),
		)
	}

	if len(p.counters) > 0 {
		names := make([]string, 0, len(p.counters))
		for name := range p.counters {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nCounters:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %-30s %d\n", name, p.counters[name])
		}
	}

	fmt.Fprintf(&b, "\nTotal runtime: %s\n", time.Since(p.startTime).Round(time.Second))
	return b.String()
}

// LogReport logs the performance report
func (p *Profiler) LogReport() {
	log.Print(p.Report())
}

// MetricJSON is the JSON form of a Metric with durations in milliseconds.
type MetricJSON struct {
	Count   int64     `json:"count"`
	TotalMs float64   `json:"total_ms"`
	AvgMs   float64   `json:"avg_ms"`
	MinMs   float64   `json:"min_ms"`
	MaxMs   float64   `json:"max_ms"`
	LastMs  float64   `json:"last_ms"`
	Last    time.Time `json:"last_call"`
}

// ReportJSON is the JSON form of the whole report.
type ReportJSON struct {
	Enabled   bool                  `json:"enabled"`
	StartTime time.Time             `json:"start_time"`
	RuntimeMs float64               `json:"runtime_ms"`
	Metrics   map[string]MetricJSON `json:"metrics"`
	Counters  map[string]uint64     `json:"counters"`
}

// Snapshot returns the report in its JSON-ready form.
func (p *Profiler) Snapshot() ReportJSON {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := ReportJSON{
		Enabled:   p.enabled.Load(),
		StartTime: p.startTime,
		RuntimeMs: ms(time.Since(p.startTime)),
		Metrics:   make(map[string]MetricJSON, len(p.timings)),
		Counters:  make(map[string]uint64, len(p.counters)),
	}
	for _, m := range p.sortedLocked() {
		report.Metrics[m.Name] = MetricJSON{
			Count:   m.Count,
			TotalMs: ms(m.TotalTime),
			AvgMs:   ms(m.AverageTime()),
			MinMs:   ms(m.MinTime),
			MaxMs:   ms(m.MaxTime),
			LastMs:  ms(m.LastTime),
			Last:    m.LastCall,
		}
	}
	for name, v := range p.counters {
		report.Counters[name] = v
	}
	return report
}

// JSONReport marshals Snapshot.
func (p *Profiler) JSONReport() ([]byte, error) {
	return json.MarshalIndent(p.Snapshot(), "", "  ")
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Enable turns recording on.
func (p *Profiler) Enable() { p.enabled.Store(true) }

// Disable turns recording off. Already recorded data is kept.
func (p *Profiler) Disable() { p.enabled.Store(false) }

// IsEnabled returns whether profiling is enabled
func (p *Profiler) IsEnabled() bool { return p.enabled.Load() }
