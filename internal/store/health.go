package store

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Health tracks degradation counters. Every increment is mirrored to
// Prometheus and the totals are persisted by the status heartbeat.
type Health struct {
	counter  *prometheus.CounterVec
	gauge    prometheus.Gauge
	logger   *slog.Logger
	mu       sync.Mutex
	counts   map[string]int64
	degraded atomic.Bool
}

// NewHealth registers the health metrics on reg. A nil reg keeps them
// unregistered.
func NewHealth(reg prometheus.Registerer, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(reg)
	return &Health{
		counter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activitytracker",
			Name:      "degradations_total",
			Help:      "Degradation events by counter name.",
		}, []string{"counter"}),
		gauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "activitytracker",
			Name:      "degraded",
			Help:      "1 while storage is writing to the recovery journal.",
		}),
		logger: logger,
		counts: make(map[string]int64),
	}
}

func (h *Health) Inc(name string) {
	h.mu.Lock()
	h.counts[name]++
	h.mu.Unlock()
	h.counter.WithLabelValues(name).Inc()
}

// Restore adds totals persisted by earlier runs, so the next save carries
// them forward instead of overwriting them. Prometheus counters are left at
// the process's own values.
func (h *Health) Restore(counts map[string]int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, n := range counts {
		h.counts[name] += n
	}
}

// Degrade marks storage as degraded.
func (h *Health) Degrade(reason string) {
	if h.degraded.CompareAndSwap(false, true) {
		h.gauge.Set(1)
		h.logger.Warn("storage degraded", "reason", reason)
	}
}

// Recover clears the degraded flag after a successful flush.
func (h *Health) Recover() {
	if h.degraded.CompareAndSwap(true, false) {
		h.gauge.Set(0)
		h.logger.Info("storage recovered")
	}
}

func (h *Health) Degraded() bool { return h.degraded.Load() }

// Snapshot returns a copy of the counters.
func (h *Health) Snapshot() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

// Names returns the counter names seen so far, sorted.
func (h *Health) Names() []string {
	snap := h.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
