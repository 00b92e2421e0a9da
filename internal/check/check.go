// Package check performs import resolution, static type checking, and
// dependency-graph construction over parsed WDL documents.
package check

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/internal/syntax"
	"github.com/me/gowdl/pkg/wdl"
)

// Options configures static checking.
type Options struct {
	// QuantCheck rejects T? flowing into T slots (the default).
	// Disabled by --no-quant-check.
	QuantCheck bool
	// Strict escalates coercion warnings to errors.
	Strict bool
	// AllowOutsideImports permits imports escaping the root document's
	// directory tree.
	AllowOutsideImports bool
}

// DefaultOptions returns the standard checking options.
func DefaultOptions() Options {
	return Options{QuantCheck: true}
}

// Warning is an advisory produced during checking; check --strict
// escalates these to errors.
type Warning struct {
	Pos     wdl.Pos
	Kind    string
	Message string
}

// Checker loads, typechecks, and graphs WDL documents.
type Checker struct {
	logger   *slog.Logger
	parser   *syntax.Parser
	resolver ImportResolver
	lib      *stdlib.Library
	opts     Options

	warnings []Warning
}

// New creates a Checker. resolver may be nil, in which case a
// FileResolver rooted at the first loaded document is used.
func New(logger *slog.Logger, resolver ImportResolver, lib *stdlib.Library, opts Options) *Checker {
	return &Checker{
		logger:   logger.With("component", "check"),
		parser:   syntax.New(logger),
		resolver: resolver,
		lib:      lib,
		opts:     opts,
	}
}

// Warnings returns the advisories accumulated by Load.
func (c *Checker) Warnings() []Warning { return c.warnings }

func (c *Checker) warnf(pos wdl.Pos, kind, format string, args ...any) {
	c.warnings = append(c.warnings, Warning{Pos: pos, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Result is a fully-checked document tree: the top-level document,
// its workflow's dependency graph, and a graph per imported
// (sub-)workflow for recursive execution.
type Result struct {
	Document *wdl.Document
	Graph    *Graph
	Graphs   map[*wdl.Workflow]*Graph
	Typedefs map[string][]wdl.StructMember
}

// Load parses uri (and its imports), typechecks every document in the
// tree, and builds the workflow dependency graphs.
func (c *Checker) Load(uri string, source []byte) (*Result, error) {
	if c.resolver == nil {
		c.resolver = &FileResolver{Root: dirOf(uri), AllowOutside: c.opts.AllowOutsideImports}
	}
	doc, err := c.loadDocument(uri, source, nil)
	if err != nil {
		return nil, err
	}

	res := &Result{Document: doc, Graphs: make(map[*wdl.Workflow]*Graph)}
	checked := make(map[*wdl.Document]bool)
	if err := c.checkTree(doc, res, checked); err != nil {
		return nil, err
	}
	if doc.Workflow != nil {
		res.Graph = res.Graphs[doc.Workflow]
	}
	return res, nil
}

// checkTree typechecks a document and its imports, depth-first so
// callee documents are checked before their callers.
func (c *Checker) checkTree(doc *wdl.Document, res *Result, checked map[*wdl.Document]bool) error {
	if checked[doc] {
		return nil
	}
	checked[doc] = true
	for _, imp := range doc.Imports {
		if imp.Doc != nil {
			if err := c.checkTree(imp.Doc, res, checked); err != nil {
				return err
			}
		}
	}

	typedefs, err := c.resolveStructs(doc)
	if err != nil {
		return err
	}
	if doc == res.Document {
		res.Typedefs = typedefs
	}

	if err := c.checkNameCollisions(doc); err != nil {
		return err
	}
	for _, task := range doc.Tasks {
		if err := c.checkTask(doc, task, typedefs); err != nil {
			return err
		}
	}
	if doc.Workflow != nil {
		graph, err := c.checkWorkflow(doc, doc.Workflow, typedefs)
		if err != nil {
			return err
		}
		res.Graphs[doc.Workflow] = graph
	}
	return nil
}

func dirOf(uri string) string {
	path := strings.TrimPrefix(uri, "file://")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

// loadDocument parses a document and recursively resolves its
// imports. inProgress carries the import chain for cycle detection.
func (c *Checker) loadDocument(uri string, source []byte, inProgress []string) (*wdl.Document, error) {
	for _, anc := range inProgress {
		if anc == uri {
			return nil, wdl.Errorf(wdl.KindImportError, wdl.Pos{URI: uri},
				"import cycle: %s", strings.Join(append(inProgress, uri), " -> "))
		}
	}
	doc, err := c.parser.ParseDocument(uri, source)
	if err != nil {
		return nil, err
	}
	chain := append(inProgress, uri)
	for _, imp := range doc.Imports {
		key, src, err := c.resolver.Resolve(uri, imp.URI)
		if err != nil {
			return nil, &wdl.SourceError{Kind: wdl.KindImportError, Pos: imp.Pos,
				Message: fmt.Sprintf("cannot import %q", imp.URI), Cause: err}
		}
		sub, err := c.loadDocument(key, src, chain)
		if err != nil {
			var se *wdl.SourceError
			if !asSourceError(err, &se) || se.Kind != wdl.KindImportError {
				return nil, &wdl.SourceError{Kind: wdl.KindImportError, Pos: imp.Pos,
					Message: fmt.Sprintf("error in imported document %q", imp.URI), Cause: err}
			}
			return nil, err
		}
		imp.Doc = sub
	}
	return doc, nil
}

func asSourceError(err error, target **wdl.SourceError) bool {
	se, ok := err.(*wdl.SourceError)
	if ok {
		*target = se
	}
	return ok
}

// resolveStructs installs the document's struct typedefs (plus
// imported ones under their aliases), rejects duplicate member names
// and definition cycles, and resolves every StructInstance type
// placeholder in the document to its member list.
func (c *Checker) resolveStructs(doc *wdl.Document) (map[string][]wdl.StructMember, error) {
	typedefs := make(map[string][]wdl.StructMember)

	// Imported structs become visible under alias (or own name).
	for _, imp := range doc.Imports {
		if imp.Doc == nil {
			continue
		}
		names := make(map[string]string) // source name -> local name
		for _, st := range imp.Doc.Structs {
			names[st.Name] = st.Name
		}
		for _, alias := range imp.Aliases {
			if _, ok := names[alias[0]]; !ok {
				return nil, wdl.Errorf(wdl.KindImportError, imp.Pos,
					"no struct %q in imported document", alias[0])
			}
			names[alias[0]] = alias[1]
		}
		for _, st := range imp.Doc.Structs {
			local := names[st.Name]
			if prior, ok := typedefs[local]; ok {
				if !structMembersIdentical(prior, st.Members) {
					return nil, wdl.Errorf(wdl.KindImportError, imp.Pos,
						"conflicting definitions of struct %q", local)
				}
				continue
			}
			typedefs[local] = st.Members
		}
	}

	for _, st := range doc.Structs {
		if _, ok := typedefs[st.Name]; ok {
			return nil, wdl.TypeErrorf(wdl.NameCollision, st.Pos, "struct %q redefined", st.Name)
		}
		seen := make(map[string]bool)
		for _, m := range st.Members {
			if seen[m.Name] {
				return nil, wdl.TypeErrorf(wdl.NameCollision, st.Pos,
					"duplicate member %q in struct %q", m.Name, st.Name)
			}
			seen[m.Name] = true
		}
		typedefs[st.Name] = st.Members
	}

	// Resolve members, detecting cycles.
	resolved := make(map[string][]wdl.StructMember)
	var resolve func(name string, chain []string) error
	resolve = func(name string, chain []string) error {
		if _, done := resolved[name]; done {
			return nil
		}
		for _, anc := range chain {
			if anc == name {
				return wdl.TypeErrorf(wdl.StaticTypeMismatch, wdl.Pos{URI: doc.URI},
					"struct definition cycle: %s", strings.Join(append(chain, name), " -> "))
			}
		}
		members := typedefs[name]
		out := make([]wdl.StructMember, len(members))
		for i, m := range members {
			t, err := c.resolveType(m.Type, typedefs, resolved, append(chain, name), resolve)
			if err != nil {
				return err
			}
			out[i] = wdl.StructMember{Name: m.Name, Type: t}
		}
		resolved[name] = out
		return nil
	}
	for name := range typedefs {
		if err := resolve(name, nil); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func structMembersIdentical(a, b []wdl.StructMember) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type.String() != b[i].Type.String() {
			return false
		}
	}
	return true
}

// resolveType replaces StructInstance placeholders with their member
// lists and recurses into containers.
func (c *Checker) resolveType(t wdl.Type, typedefs map[string][]wdl.StructMember,
	resolved map[string][]wdl.StructMember, chain []string, resolve func(string, []string) error) (wdl.Type, error) {
	switch tt := t.(type) {
	case wdl.StructInstance:
		if tt.Members != nil {
			return tt, nil
		}
		if _, ok := typedefs[tt.Name]; !ok {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, wdl.Pos{},
				"unknown type %q", tt.Name)
		}
		if err := resolve(tt.Name, chain); err != nil {
			return nil, err
		}
		tt.Members = resolved[tt.Name]
		return tt, nil
	case wdl.Array:
		item, err := c.resolveType(tt.Item, typedefs, resolved, chain, resolve)
		if err != nil {
			return nil, err
		}
		tt.Item = item
		return tt, nil
	case wdl.Map:
		key, err := c.resolveType(tt.Key, typedefs, resolved, chain, resolve)
		if err != nil {
			return nil, err
		}
		val, err := c.resolveType(tt.Value, typedefs, resolved, chain, resolve)
		if err != nil {
			return nil, err
		}
		tt.Key, tt.Value = key, val
		return tt, nil
	case wdl.Pair:
		left, err := c.resolveType(tt.Left, typedefs, resolved, chain, resolve)
		if err != nil {
			return nil, err
		}
		right, err := c.resolveType(tt.Right, typedefs, resolved, chain, resolve)
		if err != nil {
			return nil, err
		}
		tt.Left, tt.Right = left, right
		return tt, nil
	}
	return t, nil
}

// checkNameCollisions rejects tasks and workflows sharing a name.
func (c *Checker) checkNameCollisions(doc *wdl.Document) error {
	seen := make(map[string]wdl.Pos)
	for _, t := range doc.Tasks {
		if pos, ok := seen[t.Name]; ok {
			return wdl.TypeErrorf(wdl.NameCollision, t.Pos,
				"name %q already used at %s", t.Name, pos)
		}
		seen[t.Name] = t.Pos
	}
	if wf := doc.Workflow; wf != nil {
		if pos, ok := seen[wf.Name]; ok {
			return wdl.TypeErrorf(wdl.NameCollision, wf.Pos,
				"name %q already used at %s", wf.Name, pos)
		}
	}
	return nil
}

// checkTask typechecks a task's declarations, command template,
// runtime section, and outputs.
func (c *Checker) checkTask(doc *wdl.Document, task *wdl.Task, typedefs map[string][]wdl.StructMember) error {
	sc := c.newScope(doc, typedefs)
	names := make(map[string]bool)

	declare := func(d *wdl.Decl) error {
		if names[d.Name] {
			return wdl.TypeErrorf(wdl.NameCollision, d.Pos, "name %q redeclared", d.Name)
		}
		names[d.Name] = true
		t, err := c.resolveDeclType(d, typedefs)
		if err != nil {
			return err
		}
		if d.Expr != nil {
			et, _, err := c.inferExpr(d.Expr, sc)
			if err != nil {
				return err
			}
			if err := c.requireCoercible(et, t, d.Pos); err != nil {
				return err
			}
		}
		sc.env = sc.env.Bind(d.Name, scopeEntry{typ: t, node: "decl-" + d.Name})
		return nil
	}

	for _, d := range task.Inputs {
		if err := declare(d); err != nil {
			return err
		}
	}
	for _, d := range task.PostInputs {
		if d.Expr == nil {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, d.Pos,
				"declaration %q outside the input section requires a value", d.Name)
		}
		if err := declare(d); err != nil {
			return err
		}
	}

	// Command placeholders must stringify.
	if task.Command != nil {
		for _, part := range task.Command.Parts {
			if part.Placeholder == nil {
				continue
			}
			if err := c.checkPlaceholder(part.Placeholder, sc); err != nil {
				return err
			}
		}
	}

	for _, e := range task.Runtime {
		if _, _, err := c.inferExpr(e.Expr, sc); err != nil {
			return err
		}
	}

	// Outputs see inputs, post-inputs, and each other (in order).
	for _, d := range task.Outputs {
		if d.Expr == nil {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, d.Pos,
				"task output %q requires a value", d.Name)
		}
		if err := declare(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) resolveDeclType(d *wdl.Decl, typedefs map[string][]wdl.StructMember) (wdl.Type, error) {
	t, err := resolveTypeShallow(d.Type, typedefs)
	if err != nil {
		var se *wdl.SourceError
		if asSourceError(err, &se) && se.Pos.IsZero() {
			se.Pos = d.Pos
		}
		return nil, err
	}
	d.Type = t
	return t, nil
}

// resolveTypeShallow fills StructInstance member lists from already-
// resolved typedefs.
func resolveTypeShallow(t wdl.Type, typedefs map[string][]wdl.StructMember) (wdl.Type, error) {
	switch tt := t.(type) {
	case wdl.StructInstance:
		if tt.Members != nil {
			return tt, nil
		}
		members, ok := typedefs[tt.Name]
		if !ok {
			return nil, wdl.TypeErrorf(wdl.StaticTypeMismatch, wdl.Pos{}, "unknown type %q", tt.Name)
		}
		tt.Members = members
		return tt, nil
	case wdl.Array:
		item, err := resolveTypeShallow(tt.Item, typedefs)
		if err != nil {
			return nil, err
		}
		tt.Item = item
		return tt, nil
	case wdl.Map:
		key, err := resolveTypeShallow(tt.Key, typedefs)
		if err != nil {
			return nil, err
		}
		val, err := resolveTypeShallow(tt.Value, typedefs)
		if err != nil {
			return nil, err
		}
		tt.Key, tt.Value = key, val
		return tt, nil
	case wdl.Pair:
		left, err := resolveTypeShallow(tt.Left, typedefs)
		if err != nil {
			return nil, err
		}
		right, err := resolveTypeShallow(tt.Right, typedefs)
		if err != nil {
			return nil, err
		}
		tt.Left, tt.Right = left, right
		return tt, nil
	}
	return t, nil
}

// requireCoercible enforces the coercion verdict between an inferred
// and a declared type, honoring the quant-check option and recording
// warnings.
func (c *Checker) requireCoercible(from, to wdl.Type, pos wdl.Pos) error {
	res := wdl.Coerce(from, to)
	switch res.Verdict {
	case wdl.CoerceOK:
		return nil
	case wdl.CoerceWarn:
		c.warnf(pos, res.Warning, "coercing %s to %s", from, to)
		if c.opts.Strict {
			return wdl.TypeErrorf(wdl.StaticTypeMismatch, pos, "coercion %s to %s rejected (strict)", from, to)
		}
		return nil
	}
	if res.Quantity {
		if !c.opts.QuantCheck {
			c.warnf(pos, "quantity-coercion", "coercing %s to %s", from, to)
			return nil
		}
		return wdl.TypeErrorf(wdl.QuantityCoercion, pos,
			"%s cannot flow into %s (use select_first or defined)", from, to)
	}
	return wdl.TypeErrorf(wdl.StaticTypeMismatch, pos, "%s cannot flow into %s", from, to)
}
