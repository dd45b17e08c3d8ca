// Package runstate holds the process-wide run state shared by the checker,
// the scheduler and the HTTP surface. Every field is guarded by one mutex
// that is only held for in-memory reads and writes.
package runstate

import (
	"sync"
	"time"

	"farewatch/internal/metrics"
)

// DefaultQueueSize bounds each subscriber's pending events.
const DefaultQueueSize = 20

// Snapshot is a consistent copy of the scalar run state.
type Snapshot struct {
	Checking    bool       `json:"checking"`
	NextCheckAt *time.Time `json:"next_check_at"`
	CheckCount  int64      `json:"check_count"`
}

// State is the single shared run state instance.
type State struct {
	mu          sync.Mutex
	checking    bool
	nextCheckAt *time.Time
	checkCount  int64
	subscribers map[string]*Subscriber

	queueSize int
	metrics   *metrics.Metrics
}

// Option customises a State.
type Option func(*State)

// WithQueueSize overrides the per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMetrics records subscriber churn.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *State) {
		s.metrics = m
	}
}

// New returns an idle state with no subscribers.
func New(opts ...Option) *State {
	s := &State{
		subscribers: make(map[string]*Subscriber),
		queueSize:   DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryBeginCheck flips checking from false to true. It reports false, and
// changes nothing, when a check is already in flight.
func (s *State) TryBeginCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checking {
		return false
	}
	s.checking = true
	return true
}

// FinishCheck returns the state to idle.
func (s *State) FinishCheck() {
	s.mu.Lock()
	s.checking = false
	s.mu.Unlock()
}

// IncrementCheckCount records one completed attempt and returns the new total.
func (s *State) IncrementCheckCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkCount++
	return s.checkCount
}

// SetNextCheckAt stores the informational next run time; nil clears it.
func (s *State) SetNextCheckAt(at *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at == nil {
		s.nextCheckAt = nil
		return
	}
	next := at.UTC()
	s.nextCheckAt = &next
}

// Checking reports whether a check currently holds the gate.
func (s *State) Checking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checking
}

// Snapshot copies the scalar fields under the lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Checking:   s.checking,
		CheckCount: s.checkCount,
	}
	if s.nextCheckAt != nil {
		next := *s.nextCheckAt
		snap.NextCheckAt = &next
	}
	return snap
}
