package tracer

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/tracepoint"
)

type (
	// frame is one open (pushed but not yet popped) call on the stack.
	// overheadNS is profiler-induced wait attributed to this call; it is
	// deducted when the frame closes so durations never go transiently
	// negative.
	frame struct {
		node       *calltree.Node
		enteredAt  time.Time
		overheadNS uint64
	}

	// Builder owns one thread's live call stack and working tree. It is
	// not safe for concurrent use; the Manager serializes access through
	// the owning thread's lock, and the ingest path applies one remote
	// thread's events sequentially.
	Builder struct {
		root           *calltree.Node
		stack          []frame
		rootOverheadNS uint64
		unmatchedPops  uint64
	}
)

func NewBuilder() *Builder {
	return &Builder{root: calltree.NewRoot()}
}

// current returns the node open at the top of the stack, or the root.
func (b *Builder) current() *calltree.Node {
	if len(b.stack) == 0 {
		return b.root
	}
	return b.stack[len(b.stack)-1].node
}

// Push opens a frame for tp under the current node, creating the child node
// on first use, and counts the invocation.
func (b *Builder) Push(tp *tracepoint.Tracepoint, now time.Time) {
	node := b.current().EnsureChild(tp)
	node.Count++
	b.stack = append(b.stack, frame{node: node, enteredAt: now})
}

// Pop closes the most recently pushed frame and adds its elapsed wall time,
// minus any overhead charged to it, to the node's inclusive duration.
//
// Pop with no open frame signals an enter/leave mismatch in the
// instrumentation layer. The engine runs inline in arbitrary instrumented
// call paths, so this is absorbed as a counted, debug-logged no-op rather
// than surfaced; it reports false so callers that can surface it (the
// ingest path) may do so.
func (b *Builder) Pop(now time.Time) bool {
	if len(b.stack) == 0 {
		b.unmatchedPops++
		log.Debug().Msg("tracer: leave without a matching enter")
		return false
	}
	f := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	f.node.DurationNS += clampElapsedNS(f.enteredAt, now, f.overheadNS)
	return true
}

// SubtractOverhead charges externally measured, profiler-induced wait time
// to the call currently open at the top of the stack, or to the root when
// the stack is empty. The Manager uses it to cancel out time spent blocked
// on the per-thread lock.
func (b *Builder) SubtractOverhead(d time.Duration) {
	if d <= 0 {
		return
	}
	if len(b.stack) == 0 {
		b.rootOverheadNS += uint64(d)
		return
	}
	b.stack[len(b.stack)-1].overheadNS += uint64(d)
}

// Snapshot returns an isolated copy of the working tree reflecting every
// completed pop plus the in-progress time of still-open frames, so a
// concurrent inspector sees a live view. The copy shares no nodes with the
// working tree. The root's inclusive duration is the sum of its children
// minus root-level overhead.
func (b *Builder) Snapshot(now time.Time) *calltree.Node {
	snap := b.root.DeepCopy()

	// Walk the open path in the copy and add each open frame's elapsed
	// time. Ancestors were entered no later than their descendants, so
	// the inclusive-time invariant holds in the live view too.
	node := snap
	for _, f := range b.stack {
		node = node.Child(f.node.Fingerprint)
		if node == nil {
			break
		}
		node.DurationNS += clampElapsedNS(f.enteredAt, now, f.overheadNS)
	}

	var children uint64
	for _, c := range snap.Children {
		children += c.DurationNS
	}
	if children > b.rootOverheadNS {
		snap.DurationNS = children - b.rootOverheadNS
	}
	return snap
}

// Clear resets the working tree to an empty root and discards any open
// frames, as if this thread had just started being traced.
func (b *Builder) Clear() {
	b.root = calltree.NewRoot()
	b.stack = nil
	b.rootOverheadNS = 0
	b.unmatchedPops = 0
}

// Depth returns the number of currently open frames.
func (b *Builder) Depth() int {
	return len(b.stack)
}

// UnmatchedPops returns how many leaves arrived without a matching enter
// since the last Clear.
func (b *Builder) UnmatchedPops() uint64 {
	return b.unmatchedPops
}

// clampElapsedNS returns max(0, (now-enteredAt)-overheadNS) in nanoseconds.
func clampElapsedNS(enteredAt, now time.Time, overheadNS uint64) uint64 {
	d := now.Sub(enteredAt)
	if d <= 0 {
		return 0
	}
	elapsed := uint64(d)
	if overheadNS >= elapsed {
		return 0
	}
	return elapsed - overheadNS
}
