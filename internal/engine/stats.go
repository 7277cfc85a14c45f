package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

const (
	statStored         = "memories_stored"
	statDedup          = "dedup_hits"
	statChunked        = "chunked_writes"
	statSearches       = "searches_performed"
	statTemporal       = "temporal_searches"
	statContradictions = "contradictions_detected"
	statResolved       = "contradictions_resolved"
)

// Latency summarizes the wall time of one operation.
type Latency struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean_ns"`
	Max   time.Duration `json:"max_ns"`
	Last  time.Duration `json:"last_ns"`
	total time.Duration
}

// Health is a snapshot of the engine counters.
type Health struct {
	Counters  map[string]int64   `json:"counters"`
	Errors    map[string]int64   `json:"errors"`
	Latencies map[string]Latency `json:"latencies"`
	// Points is the number of stored memories across all tenants, or -1
	// when the backend could not be counted.
	Points int `json:"backend_points"`
}

type stats struct {
	mu        sync.Mutex
	counters  map[string]int64
	errors    map[string]int64
	latencies map[string]*Latency
}

func newStats() *stats {
	return &stats{
		counters:  map[string]int64{},
		errors:    map[string]int64{},
		latencies: map[string]*Latency{},
	}
}

func (s *stats) inc(name string) { s.add(name, 1) }

func (s *stats) add(name string, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.counters[name] += int64(n)
	s.mu.Unlock()
}

func (s *stats) fail(op string) {
	s.mu.Lock()
	s.errors[op]++
	s.mu.Unlock()
}

// observe records the time since start; call it deferred.
func (s *stats) observe(op string, start time.Time) {
	d := time.Since(start)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.latencies[op]
	if !ok {
		l = &Latency{}
		s.latencies[op] = l
	}
	l.Count++
	l.total += d
	l.Mean = l.total / time.Duration(l.Count)
	l.Last = d
	l.Max = max(l.Max, d)
}

func (s *stats) snapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		Counters:  make(map[string]int64, len(s.counters)),
		Errors:    make(map[string]int64, len(s.errors)),
		Latencies: make(map[string]Latency, len(s.latencies)),
	}
	for k, v := range s.counters {
		h.Counters[k] = v
	}
	for k, v := range s.errors {
		h.Errors[k] = v
	}
	for k, v := range s.latencies {
		h.Latencies[k] = *v
	}
	return h
}

// HealthStats returns the counters, error counts, per-operation latencies
// and the backend point count.
func (e *Engine) HealthStats(ctx context.Context) Health {
	h := e.stats.snapshot()
	n, err := e.backend.Count(ctx, vectorstore.Filter{})
	if err != nil {
		e.log.Warn().Err(err).Msg("backend count failed")
		n = -1
	}
	h.Points = n
	return h
}
