package performance

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestProfilerStartEnd(t *testing.T) {
	profiler := NewProfiler(true)

	op := profiler.Start(MetricChunkGenerate)
	time.Sleep(5 * time.Millisecond)
	elapsed := op.End()

	metric, ok := profiler.GetMetric(MetricChunkGenerate)
	if !ok {
		t.Fatal("Metric not found")
	}
	if metric.Count != 1 {
		t.Errorf("Expected count 1, got %d", metric.Count)
	}
	if metric.MinTime < 5*time.Millisecond || metric.MinTime != elapsed {
		t.Errorf("Expected min time %v (>= 5ms), got %v", elapsed, metric.MinTime)
	}
}

func TestProfilerDisabled(t *testing.T) {
	profiler := NewProfiler(false)

	if op := profiler.Start("test_operation"); op != nil {
		t.Error("Expected nil operation when profiler disabled")
	}
	var op *Operation
	if d := op.End(); d != 0 {
		t.Errorf("nil operation should report 0, got %v", d)
	}

	profiler.Record("test", 10*time.Millisecond)
	profiler.Incr("count", 1)
	if _, ok := profiler.GetMetric("test"); ok {
		t.Error("Expected no metric when profiler disabled")
	}
	if profiler.Counter("count") != 0 {
		t.Error("Expected no counter when profiler disabled")
	}

	profiler.Enable()
	profiler.Record("test", time.Millisecond)
	if _, ok := profiler.GetMetric("test"); !ok {
		t.Error("Expected metric after Enable")
	}
}

func TestProfilerAggregates(t *testing.T) {
	profiler := NewProfiler(true)
	for _, d := range []time.Duration{3, 1, 2} {
		profiler.Record("agg", d*time.Millisecond)
	}

	m, _ := profiler.GetMetric("agg")
	if m.Count != 3 || m.MinTime != time.Millisecond || m.MaxTime != 3*time.Millisecond || m.LastTime != 2*time.Millisecond {
		t.Fatalf("unexpected metric %+v", m)
	}
	if m.AverageTime() != 2*time.Millisecond {
		t.Fatalf("expected avg 2ms, got %v", m.AverageTime())
	}
}

func TestProfilerConcurrentRecord(t *testing.T) {
	profiler := NewProfiler(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				profiler.Record("concurrent", time.Microsecond)
				profiler.Incr(CounterChunksLoaded, 1)
			}
		}()
	}
	wg.Wait()

	m, _ := profiler.GetMetric("concurrent")
	if m.Count != 800 {
		t.Fatalf("expected 800 samples, got %d", m.Count)
	}
	if got := profiler.Counter(CounterChunksLoaded); got != 800 {
		t.Fatalf("expected counter 800, got %d", got)
	}
}

func TestProfilerReport(t *testing.T) {
	profiler := NewProfiler(true)
	if got := profiler.Report(); got != "No performance metrics recorded" {
		t.Fatalf("unexpected empty report %q", got)
	}

	profiler.Record("op2", 20*time.Millisecond)
	profiler.Record("op1", 10*time.Millisecond)
	profiler.Incr(CounterChunksEvicted, 2)

	report := profiler.Report()
	i1, i2 := strings.Index(report, "op1"), strings.Index(report, "op2")
	if i1 < 0 || i2 < 0 || i1 > i2 {
		t.Errorf("expected op1 before op2 in report:\n%s", report)
	}
	if !strings.Contains(report, CounterChunksEvicted) {
		t.Errorf("expected counters in report:\n%s", report)
	}

	names := profiler.GetMetrics()
	if len(names) != 2 || names[0].Name != "op1" {
		t.Errorf("GetMetrics should be sorted, got %+v", names)
	}
}

func TestProfilerJSONReport(t *testing.T) {
	profiler := NewProfiler(true)
	profiler.Record("json_test", 15*time.Millisecond)
	profiler.Incr(CounterTasksFailed, 1)

	data, err := profiler.JSONReport()
	if err != nil {
		t.Fatalf("Failed to generate JSON report: %v", err)
	}

	var decoded ReportJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Metrics["json_test"].AvgMs != 15 {
		t.Errorf("expected avg 15ms, got %f", decoded.Metrics["json_test"].AvgMs)
	}
	if decoded.Counters[CounterTasksFailed] != 1 {
		t.Errorf("expected counter 1, got %d", decoded.Counters[CounterTasksFailed])
	}
}

func TestProfilerReset(t *testing.T) {
	profiler := NewProfiler(true)
	profiler.Record("x", time.Millisecond)
	profiler.Incr("y", 1)
	profiler.Reset()

	if len(profiler.GetMetrics()) != 0 || profiler.Counter("y") != 0 {
		t.Fatal("Reset should clear timings and counters")
	}
}
