package wdl

import "strings"

// Expr is the closed variant of WDL expressions. The typechecker
// decorates each node with its inferred type, retrievable through
// InferredType.
type Expr interface {
	ExprPos() Pos
	// InferredType returns the type recorded by the typechecker, or
	// nil before checking.
	InferredType() Type
	// SetInferredType records the checked type on the node.
	SetInferredType(t Type)

	isExpr()
}

// ExprBase carries the position and inferred-type decoration shared by
// all expression nodes.
type ExprBase struct {
	Pos Pos
	T   Type
}

func (b *ExprBase) ExprPos() Pos           { return b.Pos }
func (b *ExprBase) InferredType() Type     { return b.T }
func (b *ExprBase) SetInferredType(t Type) { b.T = t }
func (b *ExprBase) isExpr()                {}

type (
	// ExprBoolean is a true/false literal.
	ExprBoolean struct {
		ExprBase
		V bool
	}
	// ExprInt is an integer literal.
	ExprInt struct {
		ExprBase
		V int64
	}
	// ExprFloat is a float literal.
	ExprFloat struct {
		ExprBase
		V float64
	}
	// ExprNull is the None literal.
	ExprNull struct {
		ExprBase
	}
	// ExprString is a string literal with interpolations; the command
	// template is represented as one ExprString whose parts alternate
	// literal text and placeholders.
	ExprString struct {
		ExprBase
		Parts []StringPart
	}
	// ExprIdent references a binding, possibly dotted (call.output,
	// namespace.name). Referee is the graph node id of the defining
	// node, filled in by the typechecker.
	ExprIdent struct {
		ExprBase
		Name    string
		Referee string
	}
	// ExprArray is an array literal.
	ExprArray struct {
		ExprBase
		Items []Expr
	}
	// ExprPair is a (left, right) literal.
	ExprPair struct {
		ExprBase
		Left, Right Expr
	}
	// ExprMap is a map literal with insertion-ordered entries.
	ExprMap struct {
		ExprBase
		Entries []ExprMapEntry
	}
	// ExprObject is a struct or object literal; TypeName is empty for
	// a bare object literal.
	ExprObject struct {
		ExprBase
		TypeName string
		Members  []ExprObjectField
	}
	// ExprAt indexes an array or map: base[index].
	ExprAt struct {
		ExprBase
		Base, Index Expr
	}
	// ExprGetMember accesses a pair/struct/object member: base.name.
	ExprGetMember struct {
		ExprBase
		Base Expr
		Name string
	}
	// ExprUnary is !x or -x.
	ExprUnary struct {
		ExprBase
		Op      string
		Operand Expr
	}
	// ExprBinary covers arithmetic, comparison, and logical operators.
	ExprBinary struct {
		ExprBase
		Op          string
		Left, Right Expr
	}
	// ExprTernary is if cond then a else b.
	ExprTernary struct {
		ExprBase
		Cond, Then, Else Expr
	}
	// ExprApply applies a standard-library function.
	ExprApply struct {
		ExprBase
		Func string
		Args []Expr
	}
)

// ExprMapEntry is one key/value of a map literal.
type ExprMapEntry struct {
	Key, Value Expr
}

// ExprObjectField is one member of a struct/object literal.
type ExprObjectField struct {
	Name  string
	Value Expr
}

// StringPart is either a literal run of text or a placeholder.
type StringPart struct {
	Literal     string
	Placeholder *Placeholder
}

// Placeholder is a ~{...} (or draft-2 ${...}) interpolation with its
// options (sep=, default=, true=/false=).
type Placeholder struct {
	Pos     Pos
	Expr    Expr
	Options []PlaceholderOption
}

// PlaceholderOption is one option of a placeholder.
type PlaceholderOption struct {
	Name  string
	Value string
}

// Option returns the named placeholder option value.
func (p *Placeholder) Option(name string) (string, bool) {
	for _, o := range p.Options {
		if o.Name == name {
			return o.Value, true
		}
	}
	return "", false
}

// NewLiteralString builds an ExprString with a single literal part.
func NewLiteralString(pos Pos, text string) *ExprString {
	return &ExprString{ExprBase: ExprBase{Pos: pos}, Parts: []StringPart{{Literal: text}}}
}

// WorkflowNode is a workflow body element: Decl, Call, Scatter, or
// Conditional.
type WorkflowNode interface {
	NodePos() Pos
	isWorkflowNode()
}

// Decl is a typed declaration, optionally with an initializer.
type Decl struct {
	Pos  Pos
	Type Type
	Name string
	Expr Expr // nil for unbound input declarations
	// Env marks task inputs exposed to the container as environment
	// variables.
	Env bool
}

func (d *Decl) NodePos() Pos    { return d.Pos }
func (d *Decl) isWorkflowNode() {}

// Call invokes a task or imported (sub-)workflow.
type Call struct {
	Pos    Pos
	Callee string // possibly dotted through an import namespace
	Alias  string
	Inputs []CallInput
	Afters []string

	// Resolved by the typechecker.
	Task     *Task
	Workflow *Workflow
}

// CallInput is one input binding of a call.
type CallInput struct {
	Name string
	Expr Expr
}

func (c *Call) NodePos() Pos    { return c.Pos }
func (c *Call) isWorkflowNode() {}

// Name returns the call's bound name: the alias when present,
// otherwise the last component of the callee.
func (c *Call) Name() string {
	if c.Alias != "" {
		return c.Alias
	}
	if i := strings.LastIndexByte(c.Callee, '.'); i >= 0 {
		return c.Callee[i+1:]
	}
	return c.Callee
}

// Scatter iterates its body over a collection, binding Name to each
// element. Inner declarations are lifted to arrays outside.
type Scatter struct {
	Pos        Pos
	Name       string
	Collection Expr
	Body       []WorkflowNode
}

func (s *Scatter) NodePos() Pos    { return s.Pos }
func (s *Scatter) isWorkflowNode() {}

// Conditional guards its body with a predicate. Inner declarations are
// lifted to optionals outside.
type Conditional struct {
	Pos       Pos
	Predicate Expr
	Body      []WorkflowNode
}

func (c *Conditional) NodePos() Pos    { return c.Pos }
func (c *Conditional) isWorkflowNode() {}

// RuntimeEntry is one key of a task runtime section, in source order.
type RuntimeEntry struct {
	Key  string
	Expr Expr
}

// Task is a single containerized command with typed inputs and
// outputs.
type Task struct {
	Pos        Pos
	Name       string
	Inputs     []*Decl
	PostInputs []*Decl
	Command    *ExprString
	Outputs    []*Decl
	Runtime    []RuntimeEntry
	Meta       map[string]any
	ParamMeta  map[string]any
	Hints      map[string]any
}

// RuntimeExpr returns the runtime entry for key, if present.
func (t *Task) RuntimeExpr(key string) (Expr, bool) {
	for _, e := range t.Runtime {
		if e.Key == key {
			return e.Expr, true
		}
	}
	return nil, false
}

// Workflow composes declarations, calls, and sections into typed
// outputs. Outputs is nil when the workflow has no output section, in
// which case all call outputs are exposed.
type Workflow struct {
	Pos       Pos
	Name      string
	Inputs    []*Decl
	Body      []WorkflowNode
	Outputs   []*Decl
	HasOutput bool
	Meta      map[string]any
	ParamMeta map[string]any
}

// Import records one import statement. Doc is filled by the import
// resolver.
type Import struct {
	Pos       Pos
	URI       string
	Namespace string
	Aliases   [][2]string // struct alias pairs: [source, target]
	Doc       *Document
}

// StructTypeDef defines a named struct type.
type StructTypeDef struct {
	Pos     Pos
	Name    string
	Members []StructMember
}

// Document is one parsed, typechecked WDL source file.
type Document struct {
	Pos      Pos
	URI      string
	Version  string
	Imports  []*Import
	Structs  []*StructTypeDef
	Tasks    []*Task
	Workflow *Workflow
	// Source retains the raw text for cache digesting and the wdl/
	// copy in the run directory.
	Source string
}

// FindTask returns the named task, or nil.
func (d *Document) FindTask(name string) *Task {
	for _, t := range d.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Resolve looks up a dotted callee name against this document and its
// imports, returning a task or workflow.
func (d *Document) Resolve(callee string) (*Task, *Workflow) {
	head, rest, dotted := strings.Cut(callee, ".")
	if dotted {
		for _, imp := range d.Imports {
			if imp.Namespace == head && imp.Doc != nil {
				return imp.Doc.Resolve(rest)
			}
		}
		return nil, nil
	}
	if t := d.FindTask(head); t != nil {
		return t, nil
	}
	if d.Workflow != nil && d.Workflow.Name == head {
		return nil, d.Workflow
	}
	return nil, nil
}
