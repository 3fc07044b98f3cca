package cache

import (
	"sync"
	"time"
)

// State is the lifecycle state of a cache entry.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateFresh
	StateStale
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ChangeKind classifies entry notifications.
type ChangeKind int

const (
	ChangeFetched ChangeKind = iota + 1
	ChangeWritten
	ChangeInvalidated
	ChangeFailed
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeFetched:
		return "fetched"
	case ChangeWritten:
		return "written"
	case ChangeInvalidated:
		return "invalidated"
	case ChangeFailed:
		return "failed"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is delivered to watchers after an entry changed.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

// Snapshot is a read-only copy of an entry.
type Snapshot struct {
	Key         Key
	Data        any
	HasData     bool
	State       State
	Err         error
	FetchedAt   time.Time
	Fetching    bool
	Subscribers int
}

// IsLoading reports a first load: no data yet and a fetch in flight.
func (s Snapshot) IsLoading() bool { return !s.HasData && s.Fetching }

// IsFetching reports any fetch in flight, including background refreshes.
func (s Snapshot) IsFetching() bool { return s.Fetching }

// IsError reports whether the last fetch failed.
func (s Snapshot) IsError() bool { return s.Err != nil }

type call struct {
	seq  uint64
	done chan struct{}
}

type entry struct {
	mu  sync.Mutex
	key Key

	data      any
	hasData   bool
	fetchedAt time.Time
	state     State
	err       error

	fetcher   FetchFn[any]
	staleTime time.Duration
	gcTime    time.Duration

	// seq is the last issued fetch sequence, applied the last one whose
	// result landed. Responses older than applied are dropped.
	seq      uint64
	applied  uint64
	inflight *call

	invalidated bool
	invalidSeq  uint64

	subscribers int
	gcTimer     *time.Timer
	gcGen       uint64
	removed     bool

	watchers map[uint64]func(Change)
}

func newEntry(key Key, cfg Config) *entry {
	return &entry{
		key:       key,
		state:     StateIdle,
		staleTime: cfg.StaleTime,
		gcTime:    cfg.GCTime,
	}
}

func (e *entry) staleLocked(now time.Time) bool {
	if e.invalidated || e.state == StateError || e.fetchedAt.IsZero() {
		return true
	}
	return now.Sub(e.fetchedAt) >= e.staleTime
}

func (e *entry) snapshotLocked(now time.Time) Snapshot {
	state := e.state
	switch {
	case e.inflight != nil:
		state = StateFetching
	case state == StateFresh && e.staleLocked(now):
		state = StateStale
	}

	return Snapshot{
		Key:         e.key,
		Data:        e.data,
		HasData:     e.hasData,
		State:       state,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Fetching:    e.inflight != nil,
		Subscribers: e.subscribers,
	}
}

func (e *entry) stopGCLocked() {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	e.gcGen++
}

// pendingNotify carries a change out of the critical section.
type pendingNotify struct {
	change   Change
	watchers []func(Change)
}

func (e *entry) changeLocked(kind ChangeKind, now time.Time) pendingNotify {
	if len(e.watchers) == 0 {
		return pendingNotify{}
	}
	fns := make([]func(Change), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	return pendingNotify{
		change:   Change{Kind: kind, Snapshot: e.snapshotLocked(now)},
		watchers: fns,
	}
}

func (p pendingNotify) dispatch() {
	for _, fn := range p.watchers {
		fn(p.change)
	}
}
