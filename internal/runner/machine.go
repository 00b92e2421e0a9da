// Package runner advances a workflow's dependency graph: a pure state
// machine (Step/Complete) over node instances, plus a Driver that runs
// it atop a worker pool and a completion queue.
package runner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/eval"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

// Status is the lifecycle state of a node instance.
type Status int

const (
	Pending Status = iota
	Ready
	Running
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// InstanceKey identifies one instance of a graph node: the node id
// plus the scatter indices locating it within enclosing scatters.
type InstanceKey struct {
	Node string
	Path string // dotted indices, e.g. "2" or "0.3"; "" outside scatters
}

func (k InstanceKey) String() string {
	if k.Path == "" {
		return k.Node
	}
	return k.Node + "[" + k.Path + "]"
}

func pathString(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// instance is one live copy of a graph node.
type instance struct {
	key     InstanceKey
	node    *check.Node
	indices []int
	status  Status

	// value holds the result binding for decls, gathers, and outputs.
	value wdl.Value
	// outputs holds the output namespace for calls (and call gathers).
	outputs wdl.Env[wdl.Value]
	// elements holds the evaluated scatter collection, or the
	// predicate result for conditionals.
	elements  []wdl.Value
	predicate bool
	expanded  bool
}

// Job is a ready Call instance handed to the driver, with its input
// values already evaluated.
type Job struct {
	Key    InstanceKey
	Call   *wdl.Call
	Inputs wdl.Env[wdl.Value]
}

// State is the workflow state machine. It is advanced exclusively by
// Step and Complete; the zero concurrency inside makes it safe to
// drive from a single goroutine.
type State struct {
	graph     *check.Graph
	lib       *stdlib.Library
	inputs    wdl.Env[wdl.Value]
	instances map[InstanceKey]*instance
	order     []InstanceKey

	failure   error
	cancelled bool
}

// NewState creates a state machine over a checked workflow graph.
// inputs binds workflow input names (unset optional inputs may be
// absent). lib supplies the stdlib for declaration evaluation.
func NewState(graph *check.Graph, inputs wdl.Env[wdl.Value], lib *stdlib.Library) *State {
	s := &State{
		graph:     graph,
		lib:       lib,
		inputs:    inputs,
		instances: make(map[InstanceKey]*instance),
	}
	// Instantiate every top-level node.
	for _, id := range graph.IDs() {
		n := graph.Get(id)
		if n.Section == "" {
			s.addInstance(n, nil)
		}
	}
	return s
}

func (s *State) addInstance(n *check.Node, indices []int) *instance {
	key := InstanceKey{Node: n.ID, Path: pathString(indices)}
	if inst, ok := s.instances[key]; ok {
		return inst
	}
	idx := make([]int, len(indices))
	copy(idx, indices)
	inst := &instance{key: key, node: n, indices: idx, status: Pending}
	s.instances[key] = inst
	s.order = append(s.order, key)
	return inst
}

// Cancel blocks further job emission; Running instances are failed by
// the driver as their cancellations are observed.
func (s *State) Cancel() {
	s.cancelled = true
	if s.failure == nil {
		s.failure = wdl.Errorf(wdl.KindInterrupted, wdl.Pos{}, "run cancelled")
	}
}

// Failure returns the first failure observed, or nil.
func (s *State) Failure() error { return s.failure }

// Done reports whether no further progress is possible: every
// instance is terminal, or a failure/cancellation occurred and
// nothing is Running.
func (s *State) Done() bool {
	running := 0
	terminal := 0
	for _, key := range s.order {
		switch s.instances[key].status {
		case Running:
			running++
		case Succeeded, Failed:
			terminal++
		}
	}
	if s.failure != nil || s.cancelled {
		return running == 0
	}
	return terminal == len(s.order)
}

// scatterDepth counts the scatter sections enclosing a node, which is
// the number of indices its instances carry.
func (s *State) scatterDepth(n *check.Node) int {
	depth := 0
	sec := n.Section
	for sec != "" {
		sn := s.graph.Get(sec)
		if sn == nil {
			break
		}
		if sn.Kind == check.NodeScatter {
			depth++
		}
		sec = sn.Section
	}
	return depth
}

// depInstance locates the instance of dependency dep as seen from an
// instance with the given indices.
func (s *State) depInstance(dep string, indices []int) *instance {
	dn := s.graph.Get(dep)
	if dn == nil {
		return nil
	}
	d := s.scatterDepth(dn)
	if d > len(indices) {
		return nil
	}
	key := InstanceKey{Node: dep, Path: pathString(indices[:d])}
	return s.instances[key]
}

// Step advances the machine: evaluates every newly-ready declaration,
// section, gather, and output, and returns the Call instances that
// became ready, in deterministic order.
func (s *State) Step() ([]Job, error) {
	var jobs []Job
	for {
		progressed := false
		// Deterministic sweep: creation order is document order
		// extended by expansion order.
		for i := 0; i < len(s.order); i++ {
			inst := s.instances[s.order[i]]
			if inst.status != Pending {
				continue
			}
			if s.failure != nil || s.cancelled {
				continue
			}
			ready, err := s.isReady(inst)
			if err != nil {
				s.fail(err)
				continue
			}
			if !ready {
				continue
			}
			if err := s.advance(inst, &jobs); err != nil {
				s.fail(err)
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := s.instances[jobs[i].Key], s.instances[jobs[j].Key]
		if a.node.Depth != b.node.Depth {
			return a.node.Depth < b.node.Depth
		}
		if a.node.Index != b.node.Index {
			return a.node.Index < b.node.Index
		}
		return lessIndices(a.indices, b.indices)
	})
	return jobs, s.failure
}

// extendPath copies indices with one more element; instances share
// their index slices, so append must never reuse backing arrays.
func extendPath(indices []int, i int) []int {
	out := make([]int, len(indices)+1)
	copy(out, indices)
	out[len(indices)] = i
	return out
}

func lessIndices(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (s *State) fail(err error) {
	if s.failure == nil {
		s.failure = err
	}
}

// isReady reports whether every dependency instance on the same
// scatter path is Succeeded.
func (s *State) isReady(inst *instance) (bool, error) {
	if inst.node.Kind == check.NodeGather {
		return s.gatherReady(inst)
	}
	for _, dep := range inst.node.Deps {
		di := s.depInstance(dep, inst.indices)
		if di == nil {
			return false, nil
		}
		if di.status == Failed {
			return false, nil
		}
		if di.status != Succeeded {
			return false, nil
		}
	}
	return true, nil
}

// gatherReady: the section instance must be expanded and every inner
// instance terminal-successful.
func (s *State) gatherReady(inst *instance) (bool, error) {
	section := sectionOfGather(inst.node.ID)
	si := s.instances[InstanceKey{Node: section, Path: inst.key.Path}]
	if si == nil || !si.expanded {
		return false, nil
	}
	secNode := s.graph.Get(section)
	inner := inst.node.Gather.Inner
	if secNode.Kind == check.NodeConditional {
		if !si.predicate {
			return true, nil
		}
		ii := s.instances[InstanceKey{Node: inner, Path: inst.key.Path}]
		return ii != nil && ii.status == Succeeded, nil
	}
	for i := range si.elements {
		ii := s.instances[InstanceKey{Node: inner, Path: pathString(extendPath(inst.indices, i))}]
		if ii == nil || ii.status != Succeeded {
			return false, nil
		}
	}
	return true, nil
}

// sectionOfGather recovers the section id from a gather node id
// "SECTION.gather-NAME".
func sectionOfGather(id string) string {
	i := strings.LastIndex(id, ".gather-")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// advance runs the transition of a ready instance.
func (s *State) advance(inst *instance, jobs *[]Job) error {
	switch inst.node.Kind {
	case check.NodeDecl, check.NodeOutput:
		return s.advanceDecl(inst)
	case check.NodeCall:
		env, err := s.envFor(inst)
		if err != nil {
			return err
		}
		inputs, err := s.evalCallInputs(inst.node.Call, env)
		if err != nil {
			return err
		}
		inst.status = Running
		*jobs = append(*jobs, Job{Key: inst.key, Call: inst.node.Call, Inputs: inputs})
		return nil
	case check.NodeScatter:
		return s.expandScatter(inst)
	case check.NodeConditional:
		return s.expandConditional(inst)
	case check.NodeGather:
		return s.advanceGather(inst)
	}
	return fmt.Errorf("unknown node kind for %s", inst.key)
}

func (s *State) advanceDecl(inst *instance) error {
	d := inst.node.Decl
	env, err := s.envFor(inst)
	if err != nil {
		return err
	}

	var v wdl.Value
	if inst.node.Kind == check.NodeDecl && inst.node.Section == "" {
		// Workflow input: an explicit binding wins over the default.
		if bound, ok := s.inputs.Lookup(d.Name); ok {
			v = bound
		}
	}
	if v == nil {
		switch {
		case d.Expr != nil:
			ev, err := eval.Eval(d.Expr, env, s.lib)
			if err != nil {
				return err
			}
			v = ev
		case d.Type != nil && d.Type.Optional():
			v = wdl.NullValue{T: d.Type}
		default:
			return wdl.Errorf(wdl.KindInputError, d.Pos,
				"required input %q was not provided", d.Name)
		}
	}

	if inst.node.Type != nil {
		cv, err := wdl.CoerceValue(v, inst.node.Type)
		if err != nil {
			return wdl.Errorf(wdl.KindEvalError, d.Pos, "%s: %v", d.Name, err)
		}
		v = cv
	}
	inst.value = v
	inst.status = Succeeded
	return nil
}

func (s *State) evalCallInputs(call *wdl.Call, env wdl.Env[wdl.Value]) (wdl.Env[wdl.Value], error) {
	var inputs wdl.Env[wdl.Value]
	for _, in := range call.Inputs {
		v, err := eval.Eval(in.Expr, env, s.lib)
		if err != nil {
			return inputs, err
		}
		inputs = inputs.Bind(in.Name, v)
	}
	// Call-qualified run inputs (WF.CALL.INPUT) fill slots the call
	// block leaves unbound.
	if ns, ok := s.inputs.Namespace(call.Name()); ok {
		bindings := ns.All()
		for i := len(bindings) - 1; i >= 0; i-- {
			b := bindings[i]
			if b.Namespace != nil || inputs.Has(b.Name) {
				continue
			}
			inputs = inputs.Bind(b.Name, b.Value)
		}
	}
	return inputs, nil
}

// expandScatter evaluates the collection and spawns one copy of each
// inner node per element.
func (s *State) expandScatter(inst *instance) error {
	env, err := s.envFor(inst)
	if err != nil {
		return err
	}
	v, err := eval.Eval(inst.node.Scatter.Collection, env, s.lib)
	if err != nil {
		return err
	}
	arr, ok := v.(wdl.ArrayValue)
	if !ok {
		return wdl.Errorf(wdl.KindEvalError, inst.node.Pos, "scatter collection is not an array")
	}
	inst.elements = arr.Items
	inst.expanded = true
	inst.status = Succeeded

	for _, childID := range s.graph.Children(inst.node.ID) {
		child := s.graph.Get(childID)
		for i := range arr.Items {
			s.addInstance(child, extendPath(inst.indices, i))
		}
	}
	return nil
}

// expandConditional evaluates the predicate; on true the body is
// instantiated once, on false gathers emit None with no inner nodes.
func (s *State) expandConditional(inst *instance) error {
	env, err := s.envFor(inst)
	if err != nil {
		return err
	}
	v, err := eval.Eval(inst.node.Cond.Predicate, env, s.lib)
	if err != nil {
		return err
	}
	b, ok := v.(wdl.BooleanValue)
	if !ok {
		return wdl.Errorf(wdl.KindEvalError, inst.node.Pos, "if predicate is not Boolean")
	}
	inst.predicate = b.V
	inst.expanded = true
	inst.status = Succeeded

	if b.V {
		for _, childID := range s.graph.Children(inst.node.ID) {
			s.addInstance(s.graph.Get(childID), inst.indices)
		}
	}
	return nil
}

// advanceGather synthesizes the lifted value of a section output.
func (s *State) advanceGather(inst *instance) error {
	section := sectionOfGather(inst.node.ID)
	si := s.instances[InstanceKey{Node: section, Path: inst.key.Path}]
	secNode := s.graph.Get(section)
	inner := inst.node.Gather.Inner
	innerNode := s.graph.Get(inner)
	isCallNS := innerNode.Kind == check.NodeCall ||
		(innerNode.Kind == check.NodeGather && innerNode.Type == nil)

	if secNode.Kind == check.NodeConditional {
		if !si.predicate {
			if isCallNS {
				var ns wdl.Env[wdl.Value]
				for _, o := range s.callOutputNames(innerNode) {
					ns = ns.Bind(o, wdl.NewNull())
				}
				inst.outputs = ns
			} else {
				inst.value = wdl.NewNull()
			}
			inst.status = Succeeded
			return nil
		}
		ii := s.instances[InstanceKey{Node: inner, Path: inst.key.Path}]
		if isCallNS {
			inst.outputs = ii.outputs
		} else {
			inst.value = ii.value
		}
		inst.status = Succeeded
		return nil
	}

	// Scatter: index-ordered arrays.
	n := len(si.elements)
	if isCallNS {
		names := s.callOutputNames(innerNode)
		var ns wdl.Env[wdl.Value]
		for _, name := range names {
			items := make([]wdl.Value, n)
			for i := 0; i < n; i++ {
				ii := s.instances[InstanceKey{Node: inner, Path: pathString(extendPath(inst.indices, i))}]
				v, ok := ii.outputs.Lookup(name)
				if !ok {
					return fmt.Errorf("missing output %q from %s", name, ii.key)
				}
				items[i] = v
			}
			ns = ns.Bind(name, wdl.NewArray(itemType(items), items...))
		}
		inst.outputs = ns
	} else {
		items := make([]wdl.Value, n)
		for i := 0; i < n; i++ {
			ii := s.instances[InstanceKey{Node: inner, Path: pathString(extendPath(inst.indices, i))}]
			items[i] = ii.value
		}
		inst.value = wdl.NewArray(itemType(items), items...)
	}
	inst.status = Succeeded
	return nil
}

func itemType(items []wdl.Value) wdl.Type {
	types := make([]wdl.Type, len(items))
	for i, v := range items {
		types[i] = v.Type()
	}
	t, err := wdl.Unify(types)
	if err != nil || t == nil {
		return wdl.Any{}
	}
	return t
}

// callOutputNames lists the output names exposed by a call node,
// resolving through intermediate gathers of nested sections (the
// names are invariant under lifting).
func (s *State) callOutputNames(n *check.Node) []string {
	for n != nil && n.Kind == check.NodeGather {
		n = s.graph.Get(n.Gather.Inner)
	}
	if n == nil || n.Call == nil {
		return nil
	}
	var names []string
	for _, o := range calleeOutputs(n.Call) {
		names = append(names, o.Name)
	}
	return names
}

func calleeOutputs(call *wdl.Call) []*wdl.Decl {
	if call.Task != nil {
		return call.Task.Outputs
	}
	if call.Workflow != nil {
		return call.Workflow.Outputs
	}
	return nil
}

// Complete records a finished call's outputs and marks the instance
// Succeeded.
func (s *State) Complete(key InstanceKey, outputs wdl.Env[wdl.Value]) error {
	inst, ok := s.instances[key]
	if !ok {
		return fmt.Errorf("no such instance %s", key)
	}
	if inst.status != Running {
		return fmt.Errorf("instance %s is %s, not RUNNING", key, inst.status)
	}
	inst.outputs = outputs
	inst.status = Succeeded
	return nil
}

// CompleteFailure records a failed call; the machine enters its
// draining state (no further jobs are emitted).
func (s *State) CompleteFailure(key InstanceKey, err error) {
	if inst, ok := s.instances[key]; ok {
		inst.status = Failed
	}
	s.fail(err)
}

// RunningJobs returns the keys of instances currently Running.
func (s *State) RunningJobs() []InstanceKey {
	var out []InstanceKey
	for _, key := range s.order {
		if s.instances[key].status == Running {
			out = append(out, key)
		}
	}
	return out
}

// Outputs collects the workflow's qualified outputs once every output
// node has succeeded.
func (s *State) Outputs() (map[string]wdl.Value, error) {
	out := make(map[string]wdl.Value)
	for _, key := range s.order {
		inst := s.instances[key]
		if inst.node.Kind != check.NodeOutput {
			continue
		}
		if inst.status != Succeeded {
			return nil, fmt.Errorf("output %s incomplete (%s)", inst.node.Decl.Name, inst.status)
		}
		out[inst.node.Decl.Name] = inst.value
	}
	return out, nil
}

// envFor builds the evaluation environment visible to an instance:
// every succeeded binding in enclosing scopes at the matching scatter
// path, plus enclosing scatter variables.
func (s *State) envFor(inst *instance) (wdl.Env[wdl.Value], error) {
	var env wdl.Env[wdl.Value]

	// Enclosing scatter variables, outermost first.
	var sections []string
	sec := inst.node.Section
	for sec != "" {
		sections = append([]string{sec}, sections...)
		sn := s.graph.Get(sec)
		if sn == nil {
			break
		}
		sec = sn.Section
	}
	scatterIdx := 0
	for _, secID := range sections {
		sn := s.graph.Get(secID)
		if sn.Kind != check.NodeScatter {
			continue
		}
		si := s.instances[InstanceKey{Node: secID, Path: pathString(inst.indices[:scatterIdx])}]
		if si == nil || !si.expanded {
			return env, fmt.Errorf("scatter %s not expanded for %s", secID, inst.key)
		}
		idx := inst.indices[scatterIdx]
		if idx >= len(si.elements) {
			return env, fmt.Errorf("scatter index %d out of range for %s", idx, secID)
		}
		env = env.Bind(sn.Scatter.Name, si.elements[idx])
		scatterIdx++
	}

	// Visible bindings: nodes whose section is an ancestor-or-self of
	// this instance's section, at the truncated path.
	for _, id := range s.graph.IDs() {
		n := s.graph.Get(id)
		if !isAncestorSection(s.graph, n.Section, inst.node.Section) {
			continue
		}
		d := s.scatterDepth(n)
		if d > len(inst.indices) {
			continue
		}
		bi := s.instances[InstanceKey{Node: id, Path: pathString(inst.indices[:d])}]
		if bi == nil || bi.status != Succeeded {
			continue
		}
		switch n.Kind {
		case check.NodeDecl:
			env = env.Bind(n.Decl.Name, bi.value)
		case check.NodeCall:
			env = env.BindNamespace(n.Call.Name(), bi.outputs)
		case check.NodeGather:
			if n.Type == nil {
				env = env.BindNamespace(n.Gather.ExportName, bi.outputs)
			} else {
				env = env.Bind(n.Gather.ExportName, bi.value)
			}
		}
	}
	return env, nil
}

// isAncestorSection reports whether anc is "" or an ancestor-or-self
// section of sec.
func isAncestorSection(g *check.Graph, anc, sec string) bool {
	if anc == "" {
		return true
	}
	for sec != "" {
		if sec == anc {
			return true
		}
		n := g.Get(sec)
		if n == nil {
			return false
		}
		sec = n.Section
	}
	return false
}
