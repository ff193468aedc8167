package calltree

type (
	// Function is the per-call-site rollup across every position the call
	// site occupies in the tree.
	Function struct {
		Fingerprint uint64 `json:"fingerprint"`
		Package     string `json:"package,omitempty"`
		Function    string `json:"function"`
		Line        uint32 `json:"line,omitempty"`
		SelfTimeNS  uint64 `json:"self_time_ns"`
		Count       uint64 `json:"count"`
	}
)

// CollectFunctions aggregates self time and invocation counts per call site
// over the whole tree. The root sentinel is excluded.
func CollectFunctions(root *Node) map[uint64]Function {
	functions := make(map[uint64]Function)
	for _, c := range root.Children {
		c.collectFunctions(functions)
	}
	return functions
}

func (n *Node) collectFunctions(functions map[uint64]Function) {
	f, ok := functions[n.Fingerprint]
	if !ok {
		f = Function{
			Fingerprint: n.Fingerprint,
			Package:     n.Package,
			Function:    n.Function,
			Line:        n.Line,
		}
	}
	f.SelfTimeNS += n.SelfTimeNS()
	f.Count += n.Count
	functions[n.Fingerprint] = f
	for _, c := range n.Children {
		c.collectFunctions(functions)
	}
}
