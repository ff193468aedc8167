package calltree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteFolded writes the tree in collapsed-stack format, one line per stack
// with a non-zero self time ("root;a;b 1200"), values in nanoseconds.
// Leaves are always written so that a zero-duration call is still visible.
// Children are ordered by name for stable output.
func WriteFolded(w io.Writer, root *Node) error {
	if root == nil {
		return errNilTree
	}
	return writeFolded(w, root, root.Name())
}

func writeFolded(w io.Writer, n *Node, prefix string) error {
	if self := n.SelfTimeNS(); self > 0 || n.IsLeaf() {
		if _, err := fmt.Fprintf(w, "%s %d\n", prefix, self); err != nil {
			return err
		}
	}
	for _, c := range sortedChildren(n) {
		if err := writeFolded(w, c, prefix+";"+c.Name()); err != nil {
			return err
		}
	}
	return nil
}

func sortedChildren(n *Node) []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if ni, nj := children[i].Name(), children[j].Name(); ni != nj {
			return ni < nj
		}
		return children[i].Fingerprint < children[j].Fingerprint
	})
	return children
}

// Folded renders the tree as a collapsed-stack string.
func Folded(root *Node) (string, error) {
	var sb strings.Builder
	if err := WriteFolded(&sb, root); err != nil {
		return "", err
	}
	return sb.String(), nil
}
