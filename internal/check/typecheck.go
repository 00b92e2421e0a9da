package check

import (
	"sort"
	"strconv"

	"github.com/me/gowdl/pkg/wdl"
)

// scopeEntry records a visible binding's type and the graph node that
// supplies its value.
type scopeEntry struct {
	typ  wdl.Type
	node string
}

// scope carries the lexical context while typechecking.
type scope struct {
	doc      *wdl.Document
	typedefs map[string][]wdl.StructMember
	env      wdl.Env[scopeEntry]
	// allNames holds hoisted declaration/call names of the enclosing
	// workflow so unbound references can be reported as forward
	// references rather than unknown identifiers.
	allNames map[string]bool
	// callIDs maps in-scope call names to their node ids for `after`.
	callIDs map[string]string
	// scatterVars are the bound names of enclosing scatters.
	scatterVars map[string]bool
}

func (c *Checker) newScope(doc *wdl.Document, typedefs map[string][]wdl.StructMember) *scope {
	return &scope{
		doc:         doc,
		typedefs:    typedefs,
		allNames:    make(map[string]bool),
		callIDs:     make(map[string]string),
		scatterVars: make(map[string]bool),
	}
}

func (sc *scope) child() *scope {
	out := &scope{
		doc:         sc.doc,
		typedefs:    sc.typedefs,
		env:         sc.env,
		allNames:    sc.allNames,
		callIDs:     make(map[string]string, len(sc.callIDs)),
		scatterVars: make(map[string]bool, len(sc.scatterVars)),
	}
	for k, v := range sc.callIDs {
		out.callIDs[k] = v
	}
	for k := range sc.scatterVars {
		out.scatterVars[k] = true
	}
	return out
}

// inferExpr types an expression bottom-up, recording the inferred
// type on the node and returning the graph node ids it references.
func (c *Checker) inferExpr(e wdl.Expr, sc *scope) (wdl.Type, []string, error) {
	deps := make(map[string]bool)
	t, err := c.infer(e, sc, deps)
	if err != nil {
		return nil, nil, err
	}
	return t, sortedKeys(deps), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Checker) infer(e wdl.Expr, sc *scope, deps map[string]bool) (wdl.Type, error) {
	t, err := c.inferInner(e, sc, deps)
	if err != nil {
		return nil, err
	}
	e.SetInferredType(t)
	return t, nil
}

func (c *Checker) inferInner(e wdl.Expr, sc *scope, deps map[string]bool) (wdl.Type, error) {
	switch ex := e.(type) {
	case *wdl.ExprBoolean:
		return wdl.Boolean{}, nil
	case *wdl.ExprInt:
		return wdl.Int{}, nil
	case *wdl.ExprFloat:
		return wdl.Float{}, nil
	case *wdl.ExprNull:
		return wdl.Any{None: true}, nil

	case *wdl.ExprString:
		for _, part := range ex.Parts {
			if part.Placeholder != nil {
				if err := c.checkPlaceholderIn(part.Placeholder, sc, deps); err != nil {
					return nil, err
				}
			}
		}
		return wdl.StringType{}, nil

	case *wdl.ExprIdent:
		entry, ok := sc.env.Lookup(ex.Name)
		if !ok {
			if sc.allNames[ex.Name] {
				return nil, wdl.TypeErrorf(wdl.ForwardReference, ex.ExprPos(),
					"forward reference to %q", ex.Name)
			}
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(),
				"unknown identifier %q", ex.Name)
		}
		ex.Referee = entry.node
		if entry.node != "" {
			deps[entry.node] = true
		}
		return entry.typ, nil

	case *wdl.ExprArray:
		types := make([]wdl.Type, len(ex.Items))
		for i, item := range ex.Items {
			t, err := c.infer(item, sc, deps)
			if err != nil {
				return nil, err
			}
			types[i] = t
		}
		item, err := wdl.Unify(types)
		if err != nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(),
				"array literal: %v", err)
		}
		return wdl.Array{Item: item, Nonempty: len(ex.Items) > 0}, nil

	case *wdl.ExprPair:
		left, err := c.infer(ex.Left, sc, deps)
		if err != nil {
			return nil, err
		}
		right, err := c.infer(ex.Right, sc, deps)
		if err != nil {
			return nil, err
		}
		return wdl.Pair{Left: left, Right: right}, nil

	case *wdl.ExprMap:
		keyTypes := make([]wdl.Type, len(ex.Entries))
		valTypes := make([]wdl.Type, len(ex.Entries))
		for i, entry := range ex.Entries {
			kt, err := c.infer(entry.Key, sc, deps)
			if err != nil {
				return nil, err
			}
			vt, err := c.infer(entry.Value, sc, deps)
			if err != nil {
				return nil, err
			}
			keyTypes[i], valTypes[i] = kt, vt
		}
		key, err := wdl.Unify(keyTypes)
		if err != nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(), "map keys: %v", err)
		}
		val, err := wdl.Unify(valTypes)
		if err != nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(), "map values: %v", err)
		}
		return wdl.Map{Key: key, Value: val}, nil

	case *wdl.ExprObject:
		members := make([]wdl.StructMember, len(ex.Members))
		for i, m := range ex.Members {
			t, err := c.infer(m.Value, sc, deps)
			if err != nil {
				return nil, err
			}
			members[i] = wdl.StructMember{Name: m.Name, Type: t}
		}
		if ex.TypeName == "" {
			return wdl.Object{Members: members}, nil
		}
		defMembers, ok := sc.typedefs[ex.TypeName]
		if !ok {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(),
				"unknown struct type %q", ex.TypeName)
		}
		target := wdl.StructInstance{Name: ex.TypeName, Members: defMembers}
		lit := wdl.Object{Members: members}
		if wdl.Coerce(lit, target).Verdict == wdl.CoerceErr {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(),
				"literal does not initialize struct %q", ex.TypeName)
		}
		return target, nil

	case *wdl.ExprAt:
		base, err := c.infer(ex.Base, sc, deps)
		if err != nil {
			return nil, err
		}
		index, err := c.infer(ex.Index, sc, deps)
		if err != nil {
			return nil, err
		}
		switch bt := base.(type) {
		case wdl.Array:
			if wdl.Coerce(index, wdl.Int{}).Verdict == wdl.CoerceErr {
				return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
					"array index must be Int, not %s", index)
			}
			return bt.Item, nil
		case wdl.Map:
			if wdl.Coerce(index, bt.Key).Verdict == wdl.CoerceErr {
				return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
					"map key must be %s, not %s", bt.Key, index)
			}
			return bt.Value, nil
		}
		return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
			"cannot index %s", base)

	case *wdl.ExprGetMember:
		// A dotted identifier chain may name a namespaced binding
		// (call output, imported name) rather than a member access.
		if dotted, ok := flattenIdent(ex); ok {
			if entry, found := sc.env.Lookup(dotted); found {
				e.SetInferredType(entry.typ)
				if entry.node != "" {
					deps[entry.node] = true
				}
				return entry.typ, nil
			}
		}
		base, err := c.infer(ex.Base, sc, deps)
		if err != nil {
			return nil, err
		}
		switch bt := base.(type) {
		case wdl.Pair:
			switch ex.Name {
			case "left":
				return bt.Left, nil
			case "right":
				return bt.Right, nil
			}
			return nil, wdl.TypeErrorf(wdl.NoSuchMember, ex.ExprPos(),
				"pair has no member %q", ex.Name)
		case wdl.StructInstance:
			for _, m := range bt.Members {
				if m.Name == ex.Name {
					return m.Type, nil
				}
			}
			return nil, wdl.TypeErrorf(wdl.NoSuchMember, ex.ExprPos(),
				"%s has no member %q", bt, ex.Name)
		case wdl.Object:
			for _, m := range bt.Members {
				if m.Name == ex.Name {
					return m.Type, nil
				}
			}
			return wdl.Any{}, nil
		case wdl.Map:
			// m.key sugar for String-keyed maps.
			if _, ok := bt.Key.(wdl.StringType); ok {
				return bt.Value, nil
			}
		}
		return nil, wdl.TypeErrorf(wdl.NoSuchMember, ex.ExprPos(),
			"%s has no members", base)

	case *wdl.ExprUnary:
		t, err := c.infer(ex.Operand, sc, deps)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case "!":
			if wdl.Coerce(t, wdl.Boolean{}).Verdict == wdl.CoerceErr {
				return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
					"! requires Boolean, not %s", t)
			}
			return wdl.Boolean{}, nil
		case "-":
			switch t.(type) {
			case wdl.Int:
				return wdl.Int{}, nil
			case wdl.Float:
				return wdl.Float{}, nil
			}
			return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
				"unary - requires Int or Float, not %s", t)
		}
		return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(), "unknown operator %q", ex.Op)

	case *wdl.ExprBinary:
		return c.inferBinary(ex, sc, deps)

	case *wdl.ExprTernary:
		cond, err := c.infer(ex.Cond, sc, deps)
		if err != nil {
			return nil, err
		}
		if wdl.Coerce(cond, wdl.Boolean{}).Verdict == wdl.CoerceErr {
			return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.Cond.ExprPos(),
				"if condition must be Boolean, not %s", cond)
		}
		thenT, err := c.infer(ex.Then, sc, deps)
		if err != nil {
			return nil, err
		}
		elseT, err := c.infer(ex.Else, sc, deps)
		if err != nil {
			return nil, err
		}
		t, err := wdl.Unify([]wdl.Type{thenT, elseT})
		if err != nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(),
				"if branches: %v", err)
		}
		return t, nil

	case *wdl.ExprApply:
		for _, arg := range ex.Args {
			if _, err := c.infer(arg, sc, deps); err != nil {
				return nil, err
			}
		}
		if !c.lib.Has(ex.Func) {
			return nil, wdl.TypeErrorf(wdl.NoSuchFunction, ex.ExprPos(),
				"no function %q", ex.Func)
		}
		t, err := c.lib.Infer(ex)
		if err != nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, ex.ExprPos(), "%s: %v", ex.Func, err)
		}
		return t, nil
	}
	return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, e.ExprPos(), "unsupported expression")
}

// flattenIdent renders a pure ident/member chain as a dotted name.
func flattenIdent(e wdl.Expr) (string, bool) {
	switch ex := e.(type) {
	case *wdl.ExprIdent:
		return ex.Name, true
	case *wdl.ExprGetMember:
		base, ok := flattenIdent(ex.Base)
		if !ok {
			return "", false
		}
		return base + "." + ex.Name, true
	}
	return "", false
}

func (c *Checker) inferBinary(ex *wdl.ExprBinary, sc *scope, deps map[string]bool) (wdl.Type, error) {
	left, err := c.infer(ex.Left, sc, deps)
	if err != nil {
		return nil, err
	}
	right, err := c.infer(ex.Right, sc, deps)
	if err != nil {
		return nil, err
	}

	isNum := func(t wdl.Type) bool {
		switch t.(type) {
		case wdl.Int, wdl.Float:
			return !t.Optional()
		}
		return false
	}
	isStringish := func(t wdl.Type) bool {
		return wdl.Coerce(t, wdl.StringType{Opt: true}).Verdict != wdl.CoerceErr
	}

	switch ex.Op {
	case "&&", "||":
		for _, t := range []wdl.Type{left, right} {
			if wdl.Coerce(t, wdl.Boolean{}).Verdict == wdl.CoerceErr {
				return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
					"%s requires Boolean operands, got %s", ex.Op, t)
			}
		}
		return wdl.Boolean{}, nil

	case "==", "!=":
		if _, err := wdl.Unify([]wdl.Type{left, right}); err != nil {
			return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
				"cannot compare %s and %s", left, right)
		}
		return wdl.Boolean{}, nil

	case "<", "<=", ">", ">=":
		ordered := func(t wdl.Type) bool {
			switch t.(type) {
			case wdl.Int, wdl.Float, wdl.StringType, wdl.Boolean:
				return !t.Optional()
			}
			return false
		}
		if !ordered(left) || !ordered(right) {
			return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
				"cannot order %s and %s", left, right)
		}
		return wdl.Boolean{}, nil

	case "+":
		if isNum(left) && isNum(right) {
			if _, lf := left.(wdl.Float); lf {
				return wdl.Float{}, nil
			}
			if _, rf := right.(wdl.Float); rf {
				return wdl.Float{}, nil
			}
			return wdl.Int{}, nil
		}
		// String concatenation: either operand stringish.
		_, ls := left.(wdl.StringType)
		_, rs := right.(wdl.StringType)
		if (ls && isStringish(right)) || (rs && isStringish(left)) {
			opt := left.Optional() || right.Optional()
			return wdl.StringType{Opt: opt}, nil
		}
		if _, lf := left.(wdl.File); lf && isStringish(right) {
			return wdl.File{Opt: left.Optional() || right.Optional()}, nil
		}
		return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
			"cannot add %s and %s", left, right)

	case "-", "*", "/", "%":
		if !isNum(left) || !isNum(right) {
			return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(),
				"%s requires numeric operands, got %s and %s", ex.Op, left, right)
		}
		if _, lf := left.(wdl.Float); lf {
			return wdl.Float{}, nil
		}
		if _, rf := right.(wdl.Float); rf {
			return wdl.Float{}, nil
		}
		return wdl.Int{}, nil
	}
	return nil, wdl.TypeErrorf(wdl.IncompatibleOperand, ex.ExprPos(), "unknown operator %q", ex.Op)
}

// checkPlaceholder types a command/string placeholder outside of a
// dependency-collecting context.
func (c *Checker) checkPlaceholder(ph *wdl.Placeholder, sc *scope) error {
	return c.checkPlaceholderIn(ph, sc, make(map[string]bool))
}

func (c *Checker) checkPlaceholderIn(ph *wdl.Placeholder, sc *scope, deps map[string]bool) error {
	t, err := c.infer(ph.Expr, sc, deps)
	if err != nil {
		return err
	}

	_, hasSep := ph.Option("sep")
	_, hasTrue := ph.Option("true")
	_, hasFalse := ph.Option("false")
	_, hasDefault := ph.Option("default")

	if hasTrue != hasFalse {
		return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
			"true= and false= placeholder options must be paired")
	}
	if hasTrue {
		if wdl.Coerce(t, wdl.Boolean{Opt: true}).Verdict == wdl.CoerceErr {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
				"true=/false= require a Boolean placeholder, got %s", t)
		}
		return nil
	}
	if hasSep {
		arr, ok := t.(wdl.Array)
		if !ok {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
				"sep= requires an Array placeholder, got %s", t)
		}
		if wdl.Coerce(arr.Item, wdl.StringType{Opt: true}).Verdict == wdl.CoerceErr {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
				"sep= array items must stringify, got %s", arr.Item)
		}
		return nil
	}
	if _, isArr := t.(wdl.Array); isArr {
		return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
			"array placeholder requires sep= option")
	}
	if wdl.Coerce(t, wdl.StringType{Opt: true}).Verdict == wdl.CoerceErr {
		return wdl.TypeErrorf(wdl.StaticTypeMismatch, ph.Pos,
			"placeholder of type %s cannot interpolate", t)
	}
	// An absent optional without default= interpolates as the empty
	// string inside commands.
	_ = hasDefault
	return nil
}

// graphBuilder accumulates the dependency graph while the workflow
// body is typechecked.
type graphBuilder struct {
	c       *Checker
	g       *Graph
	nextSec int
}

// binding records one name introduced by a body node, for gather
// synthesis when leaving a section.
type binding struct {
	name    string
	entry   scopeEntry
	callNS  []nsOut // non-nil for call namespaces
	nodePos wdl.Pos
}

type nsOut struct {
	name string
	typ  wdl.Type
}

func (c *Checker) checkWorkflow(doc *wdl.Document, wf *wdl.Workflow, typedefs map[string][]wdl.StructMember) (*Graph, error) {
	g := newGraph(wf)
	b := &graphBuilder{c: c, g: g}
	sc := c.newScope(doc, typedefs)
	hoistNames(wf.Body, sc.allNames)
	for _, d := range wf.Inputs {
		sc.allNames[d.Name] = true
	}

	// Inputs are top-level decl nodes; defaults may reference earlier
	// inputs only.
	for _, d := range wf.Inputs {
		if err := b.addDecl(d, "", 0, sc, doc); err != nil {
			return nil, err
		}
	}

	if _, err := b.walkBody(wf.Body, "", 0, sc, doc); err != nil {
		return nil, err
	}

	// The output block is an implicit final section.
	if wf.HasOutput {
		for _, d := range wf.Outputs {
			if err := b.addOutput(d, sc, doc); err != nil {
				return nil, err
			}
		}
	} else {
		// Without an output block, every visible call output is
		// exposed under its qualified name.
		outputs, err := b.synthesizeOutputs(sc)
		if err != nil {
			return nil, err
		}
		wf.Outputs = outputs
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, wf.Pos, "%v", err)
	}
	return g, nil
}

// hoistNames collects declaration and call names recursively so
// forward references can be distinguished from unknown identifiers.
func hoistNames(body []wdl.WorkflowNode, into map[string]bool) {
	for _, node := range body {
		switch n := node.(type) {
		case *wdl.Decl:
			into[n.Name] = true
		case *wdl.Call:
			into[n.Name()] = true
		case *wdl.Scatter:
			hoistNames(n.Body, into)
		case *wdl.Conditional:
			hoistNames(n.Body, into)
		}
	}
}

func (b *graphBuilder) nodeID(prefix, base string) string {
	if prefix == "" {
		return base
	}
	return prefix + "." + base
}

// checkCollision rejects a new name that clashes with the document's
// tasks or workflow, an enclosing scatter variable, a call, or an
// earlier binding. callee is the local callee of an unaliased call
// being named ("" otherwise); such a call may share its callee's name.
func (b *graphBuilder) checkCollision(name, callee string, pos wdl.Pos, sc *scope, doc *wdl.Document) error {
	if name != callee && (doc.FindTask(name) != nil || (doc.Workflow != nil && doc.Workflow.Name == name)) {
		return wdl.TypeErrorf(wdl.NameCollision, pos,
			"name %q collides with a task or workflow in this document", name)
	}
	if sc.scatterVars[name] {
		return wdl.TypeErrorf(wdl.NameCollision, pos,
			"name %q collides with an enclosing scatter variable", name)
	}
	if _, ok := sc.callIDs[name]; ok {
		return wdl.TypeErrorf(wdl.NameCollision, pos,
			"name %q collides with a call", name)
	}
	if sc.env.Has(name) {
		return wdl.TypeErrorf(wdl.NameCollision, pos, "name %q redeclared", name)
	}
	return nil
}

func (b *graphBuilder) addDecl(d *wdl.Decl, section string, depth int, sc *scope, doc *wdl.Document) error {
	if err := b.checkCollision(d.Name, "", d.Pos, sc, doc); err != nil {
		return err
	}
	t, err := b.c.resolveDeclType(d, sc.typedefs)
	if err != nil {
		return err
	}
	var deps []string
	if d.Expr != nil {
		et, edeps, err := b.c.inferExpr(d.Expr, sc)
		if err != nil {
			return err
		}
		if err := b.c.requireCoercible(et, t, d.Pos); err != nil {
			return err
		}
		deps = edeps
	}
	id := b.nodeID(section, "decl-"+d.Name)
	b.g.add(&Node{ID: id, Kind: NodeDecl, Section: section, Depth: depth,
		Pos: d.Pos, Decl: d, Type: t, Deps: deps})
	sc.env = sc.env.Bind(d.Name, scopeEntry{typ: t, node: id})
	return nil
}

func (b *graphBuilder) addCall(call *wdl.Call, section string, depth int, sc *scope, doc *wdl.Document) (*binding, error) {
	name := call.Name()
	callee := ""
	if call.Alias == "" {
		callee = call.Callee
	}
	if err := b.checkCollision(name, callee, call.Pos, sc, doc); err != nil {
		return nil, err
	}
	task, subwf := doc.Resolve(call.Callee)
	if task == nil && subwf == nil {
		return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, call.Pos,
			"call to unknown task or workflow %q", call.Callee)
	}
	call.Task, call.Workflow = task, subwf

	inputDecls := calleeInputs(call)
	depSet := make(map[string]bool)
	bound := make(map[string]bool)
	for _, in := range call.Inputs {
		decl := findDecl(inputDecls, in.Name)
		if decl == nil {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, call.Pos,
				"%s has no input %q", call.Callee, in.Name)
		}
		if bound[in.Name] {
			return nil, wdl.TypeErrorf(wdl.NameCollision, call.Pos,
				"input %q bound twice", in.Name)
		}
		bound[in.Name] = true
		et, edeps, err := b.c.inferExpr(in.Expr, sc)
		if err != nil {
			return nil, err
		}
		declT, err := resolveTypeShallow(decl.Type, sc.typedefs)
		if err != nil {
			return nil, err
		}
		if err := b.c.requireCoercible(et, declT, in.Expr.ExprPos()); err != nil {
			return nil, err
		}
		for _, d := range edeps {
			depSet[d] = true
		}
	}
	for _, after := range call.Afters {
		depID, ok := sc.callIDs[after]
		if !ok {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, call.Pos,
				"after %q does not name a prior call", after)
		}
		depSet[depID] = true
	}

	id := b.nodeID(section, "call-"+name)
	b.g.add(&Node{ID: id, Kind: NodeCall, Section: section, Depth: depth,
		Pos: call.Pos, Call: call, Deps: sortedKeys(depSet)})

	// Bind the call's outputs as a namespace.
	outs := calleeOutputs(call)
	var ns wdl.Env[scopeEntry]
	var nsOuts []nsOut
	for _, o := range outs {
		ot, err := resolveTypeShallow(o.Type, sc.typedefs)
		if err != nil {
			return nil, err
		}
		ns = ns.Bind(o.Name, scopeEntry{typ: ot, node: id})
		nsOuts = append(nsOuts, nsOut{name: o.Name, typ: ot})
	}
	sc.env = sc.env.BindNamespace(name, ns)
	sc.callIDs[name] = id
	return &binding{name: name, entry: scopeEntry{node: id}, callNS: nsOuts, nodePos: call.Pos}, nil
}

// calleeInputs returns the callable's input declarations.
func calleeInputs(call *wdl.Call) []*wdl.Decl {
	if call.Task != nil {
		return call.Task.Inputs
	}
	if call.Workflow != nil {
		return call.Workflow.Inputs
	}
	return nil
}

// calleeOutputs returns the callable's output declarations.
func calleeOutputs(call *wdl.Call) []*wdl.Decl {
	if call.Task != nil {
		return call.Task.Outputs
	}
	if call.Workflow != nil {
		return call.Workflow.Outputs
	}
	return nil
}

func findDecl(decls []*wdl.Decl, name string) *wdl.Decl {
	for _, d := range decls {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// walkBody checks the nodes of a workflow or section body, adding
// graph nodes, and returns the bindings introduced (for gather
// synthesis by the enclosing section).
func (b *graphBuilder) walkBody(body []wdl.WorkflowNode, section string, depth int, sc *scope, doc *wdl.Document) ([]binding, error) {
	var bindings []binding
	for _, node := range body {
		switch n := node.(type) {
		case *wdl.Decl:
			if err := b.addDecl(n, section, depth, sc, doc); err != nil {
				return nil, err
			}
			entry, _ := sc.env.Lookup(n.Name)
			bindings = append(bindings, binding{name: n.Name, entry: entry, nodePos: n.Pos})

		case *wdl.Call:
			bnd, err := b.addCall(n, section, depth, sc, doc)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, *bnd)

		case *wdl.Scatter:
			exported, err := b.addSection(node, section, depth, sc, doc)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, exported...)

		case *wdl.Conditional:
			exported, err := b.addSection(node, section, depth, sc, doc)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, exported...)
		}
	}
	return bindings, nil
}

// addSection checks a scatter or conditional section, expands its
// body in a child scope, and synthesizes one gather per inner binding
// with the lifted type.
func (b *graphBuilder) addSection(node wdl.WorkflowNode, parent string, depth int, sc *scope, doc *wdl.Document) ([]binding, error) {
	var (
		kind    NodeKind
		gk      GatherKind
		headE   wdl.Expr
		body    []wdl.WorkflowNode
		varName string
		pos     wdl.Pos
	)
	switch n := node.(type) {
	case *wdl.Scatter:
		kind, gk, headE, body, varName, pos = NodeScatter, GatherArray, n.Collection, n.Body, n.Name, n.Pos
	case *wdl.Conditional:
		kind, gk, headE, body, pos = NodeConditional, GatherOptional, n.Predicate, n.Body, n.Pos
	}

	base := "if-" + strconv.Itoa(b.nextSec)
	if kind == NodeScatter {
		base = "scatter-" + strconv.Itoa(b.nextSec)
	}
	b.nextSec++
	id := b.nodeID(parent, base)

	headT, headDeps, err := b.c.inferExpr(headE, sc)
	if err != nil {
		return nil, err
	}

	child := sc.child()
	if kind == NodeScatter {
		arr, ok := headT.(wdl.Array)
		if !ok || headT.Optional() {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, headE.ExprPos(),
				"scatter collection must be a non-optional Array, got %s", headT)
		}
		if sc.scatterVars[varName] {
			return nil, wdl.TypeErrorf(wdl.NameCollision, pos,
				"scatter variable %q collides with a sibling scatter variable", varName)
		}
		if err := b.checkCollision(varName, "", pos, sc, doc); err != nil {
			return nil, err
		}
		child.env = child.env.Bind(varName, scopeEntry{typ: arr.Item, node: id})
		child.scatterVars[varName] = true
	} else {
		if wdl.Coerce(headT, wdl.Boolean{}).Verdict == wdl.CoerceErr {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, headE.ExprPos(),
				"if predicate must be Boolean, got %s", headT)
		}
	}

	secNode := &Node{ID: id, Kind: kind, Section: parent, Depth: depth, Pos: pos, Deps: headDeps}
	switch n := node.(type) {
	case *wdl.Scatter:
		secNode.Scatter = n
	case *wdl.Conditional:
		secNode.Cond = n
	}
	b.g.add(secNode)

	inner, err := b.walkBody(body, id, depth+1, child, doc)
	if err != nil {
		return nil, err
	}

	// Synthesize gathers exposing each inner binding under its lifted
	// type.
	var exported []binding
	for _, bnd := range inner {
		gid := id + ".gather-" + bnd.name
		lift := func(t wdl.Type) wdl.Type {
			if gk == GatherArray {
				return wdl.Array{Item: t, Nonempty: true}
			}
			return t.WithOptional(true)
		}
		gnode := &Node{
			ID: gid, Kind: NodeGather, Section: parent, Depth: depth, Pos: bnd.nodePos,
			Gather: &Gather{Inner: bnd.entry.node, Kind: gk, ExportName: bnd.name},
			Deps:   []string{bnd.entry.node},
		}
		if bnd.callNS != nil {
			var ns wdl.Env[scopeEntry]
			lifted := make([]nsOut, len(bnd.callNS))
			for i, o := range bnd.callNS {
				lt := lift(o.typ)
				ns = ns.Bind(o.name, scopeEntry{typ: lt, node: gid})
				lifted[i] = nsOut{name: o.name, typ: lt}
			}
			b.g.add(gnode)
			sc.env = sc.env.BindNamespace(bnd.name, ns)
			sc.callIDs[bnd.name] = gid
			exported = append(exported, binding{name: bnd.name, entry: scopeEntry{node: gid}, callNS: lifted, nodePos: bnd.nodePos})
		} else {
			lt := lift(bnd.entry.typ)
			gnode.Type = lt
			b.g.add(gnode)
			sc.env = sc.env.Bind(bnd.name, scopeEntry{typ: lt, node: gid})
			exported = append(exported, binding{name: bnd.name, entry: scopeEntry{typ: lt, node: gid}, nodePos: bnd.nodePos})
		}
	}
	return exported, nil
}

func (b *graphBuilder) addOutput(d *wdl.Decl, sc *scope, doc *wdl.Document) error {
	if d.Expr == nil {
		return wdl.TypeErrorf(wdl.StaticTypeMismatch, d.Pos,
			"workflow output %q requires a value", d.Name)
	}
	t, err := b.c.resolveDeclType(d, sc.typedefs)
	if err != nil {
		return err
	}
	et, deps, err := b.c.inferExpr(d.Expr, sc)
	if err != nil {
		return err
	}
	if err := b.c.requireCoercible(et, t, d.Pos); err != nil {
		return err
	}
	id := "output-" + d.Name
	b.g.add(&Node{ID: id, Kind: NodeOutput, Pos: d.Pos, Decl: d, Type: t, Deps: deps})
	return nil
}

// synthesizeOutputs exposes every visible call output when the
// workflow has no output block.
func (b *graphBuilder) synthesizeOutputs(sc *scope) ([]*wdl.Decl, error) {
	names := make([]string, 0, len(sc.callIDs))
	for name := range sc.callIDs {
		names = append(names, name)
	}
	sort.Strings(names)

	var outputs []*wdl.Decl
	for _, callName := range names {
		ns, ok := sc.env.Namespace(callName)
		if !ok {
			continue
		}
		outs := ns.All()
		// Namespace bindings come newest-first; restore source order.
		for i := len(outs) - 1; i >= 0; i-- {
			o := outs[i]
			qual := callName + "." + o.Name
			d := &wdl.Decl{
				Name: qual,
				Type: o.Value.typ,
				Expr: &wdl.ExprGetMember{
					Base: &wdl.ExprIdent{Name: callName},
					Name: o.Name,
				},
			}
			d.Expr.SetInferredType(o.Value.typ)
			id := "output-" + qual
			b.g.add(&Node{ID: id, Kind: NodeOutput, Decl: d, Type: o.Value.typ,
				Deps: []string{o.Value.node}})
			outputs = append(outputs, d)
		}
	}
	return outputs, nil
}
