package tracer

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/tracepoint"
)

type (
	// threadState is the per-goroutine ownership unit: one builder, one
	// lock, one recursion flag. It is created lazily on the goroutine's
	// first Enter/Leave and never removed; state for dead goroutines is
	// an accepted leak, not a correctness bug.
	threadState struct {
		goroutineID uint64

		// mu is the sole mutual-exclusion boundary for builder. It is
		// only ever contended by snapshot/clear traversals; the owning
		// goroutine is otherwise its only user.
		mu      sync.Mutex
		builder *Builder

		// busy guards against the tracer tracing itself: if code
		// reachable from inside Enter/Leave is instrumented, the nested
		// call is dropped. Only the owning goroutine reads or writes
		// it, and it must be checked before taking mu, since Go
		// mutexes are not reentrant.
		busy bool
	}

	// Manager routes every goroutine's enter/leave calls to that
	// goroutine's own Builder under that goroutine's own lock, and merges
	// all threads' trees on demand. Safe for concurrent use from any
	// number of goroutines.
	Manager struct {
		states sync.Map // goroutine ID -> *threadState

		// mu guards threads, the append-only list used for iteration
		// during merge and clear. A thread registered mid-merge may or
		// may not be included in that merge.
		mu      sync.Mutex
		threads []*threadState

		// testHookLocked runs inside the guarded, locked section of
		// Enter/Leave. Tests use it to provoke reentrancy.
		testHookLocked func()
	}
)

func NewManager() *Manager {
	return &Manager{}
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide Manager used by in-process
// instrumentation.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// state resolves the calling goroutine's thread state, creating and
// registering it on first use.
func (m *Manager) state() *threadState {
	id := goroutineID()
	if s, ok := m.states.Load(id); ok {
		return s.(*threadState)
	}
	ts := &threadState{goroutineID: id, builder: NewBuilder()}
	if s, loaded := m.states.LoadOrStore(id, ts); loaded {
		return s.(*threadState)
	}
	m.mu.Lock()
	m.threads = append(m.threads, ts)
	m.mu.Unlock()
	return ts
}

// lockCompensated acquires ts.mu. An immediate acquisition records no
// overhead. If the lock would block, the wall-clock time actually spent
// waiting is profiler-induced contention, not work performed by the traced
// program, so exactly that much is subtracted from whatever call is
// currently open. This is the engine's central accuracy guarantee.
func (m *Manager) lockCompensated(ts *threadState) {
	if ts.mu.TryLock() {
		return
	}
	start := time.Now()
	ts.mu.Lock()
	ts.builder.SubtractOverhead(time.Since(start))
}

// Enter records entry into the traced region identified by tp. It never
// blocks except under snapshot/clear contention, and never panics into the
// instrumented caller.
func (m *Manager) Enter(tp *tracepoint.Tracepoint) {
	ts := m.state()
	if ts.busy {
		return
	}
	ts.busy = true
	defer func() { ts.busy = false }()

	m.lockCompensated(ts)
	defer ts.mu.Unlock()
	if m.testHookLocked != nil {
		m.testHookLocked()
	}
	ts.builder.Push(tp, time.Now())
}

// Leave records exit from the most recently entered traced region.
func (m *Manager) Leave() {
	ts := m.state()
	if ts.busy {
		return
	}
	ts.busy = true
	defer func() { ts.busy = false }()

	m.lockCompensated(ts)
	defer ts.mu.Unlock()
	if m.testHookLocked != nil {
		m.testHookLocked()
	}
	ts.builder.Pop(time.Now())
}

// threadList returns the registered thread states at this instant.
func (m *Manager) threadList() []*threadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	threads := make([]*threadState, len(m.threads))
	copy(threads, m.threads)
	return threads
}

// MergedSnapshot folds every registered thread's up-to-date snapshot into
// one freshly allocated aggregate tree. Locks are taken one thread at a
// time, never simultaneously, so the result is a time-skewed composite
// rather than an instantaneous global cut.
func (m *Manager) MergedSnapshot() *calltree.Node {
	merged := calltree.NewRoot()
	for _, ts := range m.threadList() {
		ts.mu.Lock()
		snap := ts.builder.Snapshot(time.Now())
		ts.mu.Unlock()
		if err := calltree.Accumulate(merged, snap); err != nil {
			log.Error().Err(err).Uint64("goroutine_id", ts.goroutineID).Msg("tracer: failed to accumulate thread snapshot")
		}
	}
	return merged
}

// ThreadSnapshots returns an up-to-date snapshot per registered thread,
// keyed by goroutine ID.
func (m *Manager) ThreadSnapshots() map[uint64]*calltree.Node {
	snapshots := make(map[uint64]*calltree.Node)
	for _, ts := range m.threadList() {
		ts.mu.Lock()
		snapshots[ts.goroutineID] = ts.builder.Snapshot(time.Now())
		ts.mu.Unlock()
	}
	return snapshots
}

// Clear resets every registered thread's builder, one lock at a time.
func (m *Manager) Clear() {
	for _, ts := range m.threadList() {
		ts.mu.Lock()
		ts.builder.Clear()
		ts.mu.Unlock()
	}
}

// ThreadCount returns the number of goroutines that have ever traced
// through this manager.
func (m *Manager) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}
