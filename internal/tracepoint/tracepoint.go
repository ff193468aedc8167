package tracepoint

import (
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

// Tracepoint identifies one instrumented call site. Tracepoints are interned:
// New returns the same pointer for the same call site, so identity comparison
// is pointer comparison. A Tracepoint is immutable after creation and lives
// for the duration of the process.
type Tracepoint struct {
	fingerprint uint64
	pkg         string
	function    string
	line        uint32
}

// Root is the implicit top of every call tree. It is never entered or left
// explicitly by instrumentation.
var Root = &Tracepoint{fingerprint: 0, function: "root"}

var (
	mu       sync.RWMutex
	interned = make(map[string]*Tracepoint)
)

// New returns the unique Tracepoint for the given call site, creating and
// registering it on first use.
func New(pkg, function string, line uint32) *Tracepoint {
	key := fmt.Sprintf("%s\x00%s\x00%d", pkg, function, line)

	mu.RLock()
	tp, ok := interned[key]
	mu.RUnlock()
	if ok {
		return tp
	}

	mu.Lock()
	defer mu.Unlock()
	// Check again under the write lock in case we lost a race.
	if tp, ok := interned[key]; ok {
		return tp
	}
	tp = &Tracepoint{
		fingerprint: fingerprint(pkg, function, line),
		pkg:         pkg,
		function:    function,
		line:        line,
	}
	interned[key] = tp
	return tp
}

// fingerprint computes a stable 64-bit identity hash for a call site.
// Empty fields are hashed as placeholders so that distinct shapes
// ("pkg", "") and ("", "pkg") cannot collide.
func fingerprint(pkg, function string, line uint32) uint64 {
	h := xxh3.New()
	if pkg == "" {
		pkg = "$p"
	}
	if function == "" {
		function = "$f"
	}
	_, _ = h.WriteString(pkg)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(function)
	_, _ = h.Write([]byte{byte(line), byte(line >> 8), byte(line >> 16), byte(line >> 24)})
	fp := h.Sum64()
	if fp == 0 {
		// Fingerprint 0 is reserved for Root.
		fp = 1
	}
	return fp
}

func (tp *Tracepoint) Fingerprint() uint64 { return tp.fingerprint }
func (tp *Tracepoint) Package() string     { return tp.pkg }
func (tp *Tracepoint) Function() string    { return tp.function }
func (tp *Tracepoint) Line() uint32        { return tp.line }

// Name returns the human-readable call site name used in folded stacks and
// log lines.
func (tp *Tracepoint) Name() string {
	if tp.pkg == "" {
		return tp.function
	}
	return tp.pkg + "." + tp.function
}

func (tp *Tracepoint) String() string {
	if tp.line == 0 {
		return tp.Name()
	}
	return fmt.Sprintf("%s:%d", tp.Name(), tp.line)
}
