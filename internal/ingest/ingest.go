// Package ingest applies enter/leave event streams recorded by
// out-of-process instrumentation agents to per-thread call tree builders,
// producing the same merged view the in-process API produces.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/errorutil"
	"github.com/strobelab/strobe/internal/timeutil"
	"github.com/strobelab/strobe/internal/tracepoint"
	"github.com/strobelab/strobe/internal/tracer"
)

type (
	EventKind string

	// Event is one recorded enter or leave at an instrumented call site.
	// Timestamps are unix nanoseconds from the agent's clock; ordering
	// within one thread must match program order.
	Event struct {
		ThreadID    uint64    `json:"thread_id"`
		Kind        EventKind `json:"kind"`
		Package     string    `json:"package,omitempty"`
		Function    string    `json:"function,omitempty"`
		Line        uint32    `json:"line,omitempty"`
		TimestampNS int64     `json:"timestamp_ns"`
	}

	// Batch is a group of events shipped together by one agent.
	Batch struct {
		ID       string        `json:"batch_id,omitempty"`
		Hostname string        `json:"hostname,omitempty"`
		SentAt   timeutil.Time `json:"sent_at,omitempty"`
		Events   []Event       `json:"events"`
	}

	// Result summarizes what applying a batch did. Unmatched leaves are
	// reported, not fatal: an agent may attach mid-call and record the
	// leave of an enter it never saw.
	Result struct {
		BatchID   string `json:"batch_id"`
		Applied   int    `json:"applied"`
		Unmatched int    `json:"unmatched"`
		Threads   int    `json:"threads"`
	}

	// remoteThread owns the builder for one (hostname, thread) pair.
	// lastNS remembers the newest event time so snapshots of still-open
	// frames are taken at the remote clock, not ours.
	remoteThread struct {
		builder *tracer.Builder
		lastNS  int64
	}

	// Applier routes recorded events to per-remote-thread builders. Safe
	// for concurrent use; the ingest path is not the hot path, so one
	// lock over the whole registry is enough.
	Applier struct {
		mu      sync.Mutex
		threads map[string]*remoteThread
	}
)

const (
	EventEnter EventKind = "enter"
	EventLeave EventKind = "leave"
)

func NewApplier() *Applier {
	return &Applier{threads: make(map[string]*remoteThread)}
}

// Apply replays a batch of recorded events into the applier's builders.
// Events for the same thread are applied in batch order. An unknown event
// kind aborts the batch: that is agent breakage, not a stack mismatch.
func (a *Applier) Apply(batch Batch) (Result, error) {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	res := Result{BatchID: batch.ID}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, e := range batch.Events {
		switch e.Kind {
		case EventEnter, EventLeave:
		default:
			return res, fmt.Errorf("ingest: %w: event %d has unknown kind %q", errorutil.ErrDataIntegrity, i, e.Kind)
		}
	}

	for _, e := range batch.Events {
		rt := a.thread(batch.Hostname, e.ThreadID)
		at := time.Unix(0, e.TimestampNS)
		if e.TimestampNS > rt.lastNS {
			rt.lastNS = e.TimestampNS
		}
		switch e.Kind {
		case EventEnter:
			rt.builder.Push(tracepoint.New(e.Package, e.Function, e.Line), at)
			res.Applied++
		case EventLeave:
			if rt.builder.Pop(at) {
				res.Applied++
			} else {
				res.Unmatched++
			}
		}
	}
	res.Threads = len(a.threads)
	if sentAt := batch.SentAt.Time(); !sentAt.IsZero() {
		log.Debug().
			Str("batch_id", batch.ID).
			Str("hostname", batch.Hostname).
			Dur("batch_age", time.Since(sentAt)).
			Int("applied", res.Applied).
			Msg("ingest: applied batch")
	}
	return res, nil
}

func (a *Applier) thread(hostname string, threadID uint64) *remoteThread {
	key := fmt.Sprintf("%s/%d", hostname, threadID)
	rt, ok := a.threads[key]
	if !ok {
		rt = &remoteThread{builder: tracer.NewBuilder()}
		a.threads[key] = rt
	}
	return rt
}

// MergedSnapshot folds every remote thread's up-to-date tree into one fresh
// aggregate. Open frames are valued at each thread's newest event time.
func (a *Applier) MergedSnapshot() *calltree.Node {
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := calltree.NewRoot()
	for _, rt := range a.threads {
		_ = calltree.Accumulate(merged, rt.builder.Snapshot(time.Unix(0, rt.lastNS)))
	}
	return merged
}

// Clear drops every remote thread's accumulated tree.
func (a *Applier) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threads = make(map[string]*remoteThread)
}

// ThreadCount returns the number of distinct remote threads seen.
func (a *Applier) ThreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.threads)
}
