package calltree

import (
	"fmt"

	"github.com/strobelab/strobe/internal/errorutil"
	"github.com/strobelab/strobe/internal/tracepoint"
)

var errNilTree = fmt.Errorf("calltree: %w: tree must be non-nil", errorutil.ErrDataIntegrity)

type (
	// Node is one call site in a call tree. DurationNS is inclusive of
	// children; self time is derived, never stored. Children are keyed by
	// tracepoint fingerprint, at most one child per distinct call site.
	//
	// A Node either belongs to exactly one working tree (owned by a
	// builder) or is part of a snapshot, in which case it is read-only
	// and shares nothing with the tree it was copied from.
	Node struct {
		Fingerprint uint64           `json:"fingerprint"`
		Package     string           `json:"package,omitempty"`
		Function    string           `json:"function,omitempty"`
		Line        uint32           `json:"line,omitempty"`
		DurationNS  uint64           `json:"duration_ns"`
		Count       uint64           `json:"count"`
		Children    map[uint64]*Node `json:"children,omitempty"`
	}
)

// NewRoot returns an empty tree: a single root node with zero metrics.
func NewRoot() *Node {
	return NewNode(tracepoint.Root)
}

// NewNode returns a node for the given tracepoint with zero metrics and no
// children.
func NewNode(tp *tracepoint.Tracepoint) *Node {
	return &Node{
		Fingerprint: tp.Fingerprint(),
		Package:     tp.Package(),
		Function:    tp.Function(),
		Line:        tp.Line(),
	}
}

// Name returns the call site name, matching tracepoint.Name.
func (n *Node) Name() string {
	if n.Package == "" {
		return n.Function
	}
	return n.Package + "." + n.Function
}

// Child returns the child node for the given fingerprint, or nil.
func (n *Node) Child(fingerprint uint64) *Node {
	return n.Children[fingerprint]
}

// EnsureChild returns the child node for the given tracepoint, creating it
// if absent.
func (n *Node) EnsureChild(tp *tracepoint.Tracepoint) *Node {
	if c, ok := n.Children[tp.Fingerprint()]; ok {
		return c
	}
	if n.Children == nil {
		n.Children = make(map[uint64]*Node)
	}
	c := NewNode(tp)
	n.Children[tp.Fingerprint()] = c
	return c
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *Node) ChildCount() int {
	return len(n.Children)
}

// SelfTimeNS returns the time spent in this call outside of any child call:
// inclusive duration minus the sum of the children's inclusive durations,
// floored at zero. A live snapshot can transiently report children summing
// to slightly more than the parent accumulated so far.
func (n *Node) SelfTimeNS() uint64 {
	var children uint64
	for _, c := range n.Children {
		children += c.DurationNS
	}
	if children >= n.DurationNS {
		return 0
	}
	return n.DurationNS - children
}

// NodeCount returns the number of nodes in the subtree, including n itself.
func (n *Node) NodeCount() int {
	count := 1
	for _, c := range n.Children {
		count += c.NodeCount()
	}
	return count
}

// DeepCopy returns a recursive copy of the subtree sharing no nodes with
// the original.
func (n *Node) DeepCopy() *Node {
	clone := *n
	if len(n.Children) == 0 {
		clone.Children = nil
		return &clone
	}
	clone.Children = make(map[uint64]*Node, len(n.Children))
	for fp, c := range n.Children {
		clone.Children[fp] = c.DeepCopy()
	}
	return &clone
}

// Accumulate merges src into dst node-by-node, keyed by fingerprint at each
// level: matching nodes sum their counts and inclusive durations, missing
// subtrees are inserted as deep copies. src is never mutated or aliased, so
// it remains safe to accumulate the same snapshot elsewhere. Accumulation
// is commutative and associative in counts and durations.
func Accumulate(dst, src *Node) error {
	if dst == nil || src == nil {
		return errNilTree
	}
	dst.accumulate(src)
	return nil
}

func (n *Node) accumulate(other *Node) {
	if n == other {
		return
	}
	n.DurationNS += other.DurationNS
	n.Count += other.Count
	for fp, otherChild := range other.Children {
		if child, ok := n.Children[fp]; ok {
			child.accumulate(otherChild)
			continue
		}
		if n.Children == nil {
			n.Children = make(map[uint64]*Node, len(other.Children))
		}
		n.Children[fp] = otherChild.DeepCopy()
	}
}
