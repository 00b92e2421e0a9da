package check

import (
	"fmt"
	"sort"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// NodeKind enumerates dependency-graph node kinds.
type NodeKind int

const (
	NodeDecl NodeKind = iota
	NodeCall
	NodeScatter
	NodeConditional
	NodeGather
	NodeOutput
)

func (k NodeKind) String() string {
	switch k {
	case NodeDecl:
		return "decl"
	case NodeCall:
		return "call"
	case NodeScatter:
		return "scatter"
	case NodeConditional:
		return "conditional"
	case NodeGather:
		return "gather"
	case NodeOutput:
		return "output"
	}
	return "unknown"
}

// GatherKind is the lifting applied by a gather node.
type GatherKind int

const (
	// GatherArray lifts T to Array[T]+ (scatter sections).
	GatherArray GatherKind = iota
	// GatherOptional lifts T to T? (conditional sections).
	GatherOptional
)

// Gather describes a synthesized section-output node exposing an
// inner value under its lifted type.
type Gather struct {
	// Inner is the node id whose value is being lifted; it may itself
	// be a gather of a nested section.
	Inner string
	// Kind is the lift of the immediately enclosing section.
	Kind GatherKind
	// ExportName is the binding name visible outside the section.
	ExportName string
}

// Node is one immutable dependency-graph node. Exactly one of Decl,
// Call, Scatter, Cond, Gather, or Output payloads is set, matching
// Kind (Output nodes carry their Decl).
type Node struct {
	ID      string
	Kind    NodeKind
	Section string // enclosing section's node id, "" at top level
	Depth   int    // section nesting depth
	Index   int    // document order, for deterministic scheduling
	Pos     wdl.Pos

	Decl    *wdl.Decl
	Call    *wdl.Call
	Scatter *wdl.Scatter
	Cond    *wdl.Conditional
	Gather  *Gather

	// Type is the observable type of the node's binding (nil for
	// sections and calls; call outputs are addressed through gathers
	// or namespaces).
	Type wdl.Type

	// Deps are the node ids this node's readiness depends on.
	Deps []string
}

// Graph is the deterministic dependency graph of one workflow.
// Nodes are immutable once built; the state machine creates per-run
// instances of them.
type Graph struct {
	Workflow *wdl.Workflow
	nodes    map[string]*Node
	order    []string
}

func newGraph(wf *wdl.Workflow) *Graph {
	return &Graph{Workflow: wf, nodes: make(map[string]*Node)}
}

func (g *Graph) add(n *Node) {
	n.Index = len(g.order)
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
}

// IDs returns all node ids in document order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Get returns the node with the given id, or nil.
func (g *Graph) Get(id string) *Node { return g.nodes[id] }

// Deps returns the dependency ids of a node.
func (g *Graph) Deps(id string) []string {
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	out := make([]string, len(n.Deps))
	copy(out, n.Deps)
	return out
}

// SectionOf returns the enclosing section id of a node, or "".
func (g *Graph) SectionOf(id string) string {
	n := g.nodes[id]
	if n == nil {
		return ""
	}
	return n.Section
}

// Children returns the ids of nodes whose enclosing section is id, in
// document order.
func (g *Graph) Children(section string) []string {
	var out []string
	for _, id := range g.order {
		if g.nodes[id].Section == section {
			out = append(out, id)
		}
	}
	return out
}

// checkAcyclic verifies the graph has no cycles using Kahn's
// algorithm, reporting the nodes left on a cycle.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.nodes))
	forward := make(map[string][]string, len(g.nodes))
	for id, n := range g.nodes {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range n.Deps {
			forward[dep] = append(forward[dep], id)
			inDegree[id]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	done := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		done++
		succ := forward[node]
		sort.Strings(succ)
		for _, s := range succ {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
		sort.Strings(queue)
	}

	if done != len(g.nodes) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		return fmt.Errorf("workflow contains a cycle involving: %s", strings.Join(cycleNodes, ", "))
	}
	return nil
}

// LiftThrough returns t lifted through every section between the
// defining node's section path and the observing section path: a
// scatter lifts T to Array[T]+ and a conditional to T?. Both paths
// are section-id chains from the graph.
func (g *Graph) LiftThrough(t wdl.Type, fromSection, toSection string) wdl.Type {
	// Walk from fromSection up to toSection (which must be a prefix
	// chain), applying the lift for each section left.
	sec := fromSection
	for sec != toSection && sec != "" {
		n := g.nodes[sec]
		if n == nil {
			break
		}
		switch n.Kind {
		case NodeScatter:
			t = wdl.Array{Item: t, Nonempty: true}
		case NodeConditional:
			t = t.WithOptional(true)
		}
		sec = n.Section
	}
	return t
}
