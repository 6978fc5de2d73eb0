package observability

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor keeps lightweight per-route statistics in process, for the
// /debug/routes view and hotspot detection. Recording is lock-free once a
// route has been seen.
type Monitor struct {
	routes sync.Map // route -> *RouteStats

	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
}

// RouteStats are the counters of one route.
type RouteStats struct {
	Route         string
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	buckets       [len(latencyBounds) + 1]atomic.Uint64
}

// latencyBounds are the upper bounds of the latency histogram.
var latencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record adds one request to the statistics of route.
func (m *Monitor) Record(route string, d time.Duration, failed bool) {
	v, ok := m.routes.Load(route)
	if !ok {
		v, _ = m.routes.LoadOrStore(route, &RouteStats{Route: route})
	}
	s := v.(*RouteStats)

	s.count.Add(1)
	m.totalRequests.Add(1)
	if failed {
		s.errors.Add(1)
		m.totalErrors.Add(1)
	}

	ns := uint64(d.Nanoseconds())
	s.totalDuration.Add(ns)
	casMin(&s.minDuration, ns)
	casMax(&s.maxDuration, ns)

	i := 0
	for i < len(latencyBounds) && d >= latencyBounds[i] {
		i++
	}
	s.buckets[i].Add(1)
}

func casMin(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if cur != 0 && cur <= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

func casMax(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if cur >= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

// RouteSnapshot is a point-in-time copy of RouteStats.
type RouteSnapshot struct {
	Route     string        `json:"route"`
	Count     uint64        `json:"count"`
	Errors    uint64        `json:"errors"`
	Avg       time.Duration `json:"avg_ns"`
	Min       time.Duration `json:"min_ns"`
	Max       time.Duration `json:"max_ns"`
	Histogram []uint64      `json:"histogram"`
}

// ErrorRate is Errors/Count, zero for an idle route.
func (s RouteSnapshot) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Count)
}

// Snapshot returns the statistics of every route, busiest first.
func (m *Monitor) Snapshot() []RouteSnapshot {
	var out []RouteSnapshot
	m.routes.Range(func(_, v any) bool {
		s := v.(*RouteStats)
		snap := RouteSnapshot{
			Route:     s.Route,
			Count:     s.count.Load(),
			Errors:    s.errors.Load(),
			Min:       time.Duration(s.minDuration.Load()),
			Max:       time.Duration(s.maxDuration.Load()),
			Histogram: make([]uint64, len(s.buckets)),
		}
		if snap.Count > 0 {
			snap.Avg = time.Duration(s.totalDuration.Load() / snap.Count)
		}
		for i := range s.buckets {
			snap.Histogram[i] = s.buckets[i].Load()
		}
		out = append(out, snap)
		return true
	})
	slices.SortFunc(out, func(a, b RouteSnapshot) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		if a.Route < b.Route {
			return -1
		}
		if a.Route > b.Route {
			return 1
		}
		return 0
	})
	return out
}

// Totals returns the request and error counts across all routes.
func (m *Monitor) Totals() (requests, errors uint64) {
	return m.totalRequests.Load(), m.totalErrors.Load()
}

// Hotspot is a route whose latency or error rate crossed a threshold.
type Hotspot struct {
	Kind    string `json:"kind"` // "latency" or "errors"
	Route   string `json:"route"`
	Details string `json:"details"`
}

// Hotspots reports routes whose average latency exceeds maxAvg or whose
// error rate exceeds maxErrRate.
func (m *Monitor) Hotspots(maxAvg time.Duration, maxErrRate float64) []Hotspot {
	var out []Hotspot
	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if maxAvg > 0 && s.Avg > maxAvg {
			out = append(out, Hotspot{Kind: "latency", Route: s.Route, Details: fmt.Sprintf("average %v over %d requests", s.Avg, s.Count)})
		}
		if rate := s.ErrorRate(); maxErrRate > 0 && rate > maxErrRate {
			out = append(out, Hotspot{Kind: "errors", Route: s.Route, Details: fmt.Sprintf("%.1f%% error rate", rate*100)})
		}
	}
	return out
}
