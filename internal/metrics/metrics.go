// Package metrics holds the prometheus collectors of the collection cache.
// Collectors are registered on an injected Registerer; every method is safe
// to call on a nil receiver so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collection_cache"

// Store groups the cache store collectors.
type Store struct {
	Lookups     *prometheus.CounterVec
	Fetches     *prometheus.CounterVec
	Discarded   prometheus.Counter
	Invalidated prometheus.Counter
	Collected   prometheus.Counter
	Entries     prometheus.Gauge
}

// NewStore creates and registers the store collectors.
func NewStore(reg prometheus.Registerer) *Store {
	m := &Store{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "lookups_total",
			Help:      "Fetch calls by outcome (fresh, stale, miss).",
		}, []string{"resource", "outcome"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetches_total",
			Help:      "Remote fetches by result (ok, error).",
		}, []string{"resource", "result"}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "discarded_responses_total",
			Help:      "Fetch responses dropped because a newer one was already applied.",
		}),
		Invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "invalidations_total",
			Help:      "Entries marked stale by invalidation.",
		}),
		Collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "collected_entries_total",
			Help:      "Entries garbage collected after their grace period.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "entries",
			Help:      "Entries currently held by the store.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Lookups, m.Fetches, m.Discarded, m.Invalidated, m.Collected, m.Entries)
	}
	return m
}

// Lookup records a Fetch outcome.
func (m *Store) Lookup(resource, outcome string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(resource, outcome).Inc()
}

// Fetched records a completed remote fetch.
func (m *Store) Fetched(resource string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Fetches.WithLabelValues(resource, result).Inc()
}

// Discard records a dropped out-of-order response.
func (m *Store) Discard() {
	if m == nil {
		return
	}
	m.Discarded.Inc()
}

// Invalidate records entries marked stale.
func (m *Store) Invalidate(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Invalidated.Add(float64(n))
}

// Collect records a garbage collected entry.
func (m *Store) Collect() {
	if m == nil {
		return
	}
	m.Collected.Inc()
	m.Entries.Dec()
}

// Created records a new entry.
func (m *Store) Created() {
	if m == nil {
		return
	}
	m.Entries.Inc()
}

// Bridge groups the realtime bridge collectors.
type Bridge struct {
	Events     *prometheus.CounterVec
	Duplicates prometheus.Counter
	Reconnects prometheus.Counter
	State      prometheus.Gauge
}

// NewBridge creates and registers the realtime collectors.
func NewBridge(reg prometheus.Registerer) *Bridge {
	m := &Bridge{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events handled by event name.",
		}, []string{"event"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "duplicate_events_total",
			Help:      "Realtime events dropped because their id was already seen.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Successful reconnections after an unexpected disconnect.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Events, m.Duplicates, m.Reconnects, m.State)
	}
	return m
}

// Event records a handled event.
func (m *Bridge) Event(name string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(name).Inc()
}

// Duplicate records a dropped duplicate.
func (m *Bridge) Duplicate() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

// Reconnected records a reconnection.
func (m *Bridge) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// SetState records the connection state.
func (m *Bridge) SetState(state int) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
}
