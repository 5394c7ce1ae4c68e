// Package telemetry provides process-wide counters and timing aggregates.
//
// A [Registry] is constructed once at startup and injected into every
// component that emits telemetry. Readers take a point-in-time copy via
// [Registry.Snapshot]; the registry itself is never exposed for iteration.
package telemetry

import "sync"

// Registry accumulates named counters and timing samples.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	timers   map[string]*timerStats
}

type timerStats struct {
	count int64
	sum   float64
	max   float64
}

// NewRegistry creates an empty telemetry registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]int64),
		timers:   make(map[string]*timerStats),
	}
}

// Inc adds n to the counter named key.
func (r *Registry) Inc(key string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key] += n
}

// Observe records one timing sample, in milliseconds, for the timer named key.
func (r *Registry) Observe(key string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.timers[key]
	if ts == nil {
		ts = &timerStats{}
		r.timers[key] = ts
	}
	ts.count++
	ts.sum += ms
	if ms > ts.max {
		ts.max = ms
	}
}

// Snapshot returns a copy of all telemetry values.
//
// Counters appear as "counter.<key>". Each timer with at least one sample
// contributes "timer.<key>.mean_ms", "timer.<key>.count" and
// "timer.<key>.max_ms".
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.counters)+3*len(r.timers))
	for k, v := range r.counters {
		out["counter."+k] = float64(v)
	}
	for k, ts := range r.timers {
		if ts.count == 0 {
			continue
		}
		out["timer."+k+".mean_ms"] = ts.sum / float64(ts.count)
		out["timer."+k+".count"] = float64(ts.count)
		out["timer."+k+".max_ms"] = ts.max
	}
	return out
}
