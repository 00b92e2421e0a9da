// Package lint walks a typechecked document read-only and produces
// advisory findings. The built-in rule set is small; additional rules
// hook in through the Rule interface.
package lint

import (
	"fmt"
	"sort"

	"github.com/me/gowdl/pkg/wdl"
)

// Finding is one advisory message.
type Finding struct {
	Pos     wdl.Pos
	Rule    string
	Message string
}

func (f Finding) String() string {
	return fmt.Sprintf("(%s) [%s] %s", f.Pos, f.Rule, f.Message)
}

// Rule inspects a document and reports findings.
type Rule interface {
	Name() string
	Apply(doc *wdl.Document) []Finding
}

// Linter applies a rule set, honoring per-rule suppression.
type Linter struct {
	rules      []Rule
	suppressed map[string]bool
}

// New creates a Linter with the built-in rules minus the suppressed
// set. noSuppress disables suppression entirely.
func New(suppress []string, noSuppress bool) *Linter {
	l := &Linter{suppressed: make(map[string]bool)}
	if !noSuppress {
		for _, name := range suppress {
			l.suppressed[name] = true
		}
	}
	l.rules = []Rule{
		unusedDeclRule{},
		forgottenCallRule{},
		nameStyleRule{},
	}
	return l
}

// Register adds a custom rule.
func (l *Linter) Register(r Rule) {
	l.rules = append(l.rules, r)
}

// Lint applies every unsuppressed rule and returns findings sorted by
// position.
func (l *Linter) Lint(doc *wdl.Document) []Finding {
	var out []Finding
	for _, r := range l.rules {
		if l.suppressed[r.Name()] {
			continue
		}
		out = append(out, r.Apply(doc)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Before(out[j].Pos) })
	return out
}

// unusedDeclRule flags workflow declarations never referenced by any
// later expression.
type unusedDeclRule struct{}

func (unusedDeclRule) Name() string { return "UnusedDeclaration" }

func (unusedDeclRule) Apply(doc *wdl.Document) []Finding {
	wf := doc.Workflow
	if wf == nil {
		return nil
	}
	declared := make(map[string]wdl.Pos)
	used := make(map[string]bool)

	var walkNodes func(body []wdl.WorkflowNode)
	walkNodes = func(body []wdl.WorkflowNode) {
		for _, node := range body {
			switch n := node.(type) {
			case *wdl.Decl:
				declared[n.Name] = n.Pos
				if n.Expr != nil {
					markUses(n.Expr, used)
				}
			case *wdl.Call:
				for _, in := range n.Inputs {
					markUses(in.Expr, used)
				}
			case *wdl.Scatter:
				markUses(n.Collection, used)
				walkNodes(n.Body)
			case *wdl.Conditional:
				markUses(n.Predicate, used)
				walkNodes(n.Body)
			}
		}
	}
	walkNodes(wf.Body)
	for _, d := range wf.Outputs {
		if d.Expr != nil {
			markUses(d.Expr, used)
		}
	}

	var out []Finding
	for name, pos := range declared {
		if !used[name] {
			out = append(out, Finding{Pos: pos, Rule: "UnusedDeclaration",
				Message: fmt.Sprintf("nothing references %q", name)})
		}
	}
	return out
}

func markUses(e wdl.Expr, used map[string]bool) {
	Walk(e, func(x wdl.Expr) {
		if id, ok := x.(*wdl.ExprIdent); ok {
			used[id.Name] = true
		}
	})
}

// forgottenCallRule flags calls whose outputs are never referenced
// when the workflow declares an output block.
type forgottenCallRule struct{}

func (forgottenCallRule) Name() string { return "ForgottenCall" }

func (forgottenCallRule) Apply(doc *wdl.Document) []Finding {
	wf := doc.Workflow
	if wf == nil || !wf.HasOutput {
		return nil
	}
	calls := make(map[string]wdl.Pos)
	used := make(map[string]bool)

	var walkNodes func(body []wdl.WorkflowNode)
	walkNodes = func(body []wdl.WorkflowNode) {
		for _, node := range body {
			switch n := node.(type) {
			case *wdl.Decl:
				if n.Expr != nil {
					markCallUses(n.Expr, used)
				}
			case *wdl.Call:
				calls[n.Name()] = n.Pos
				for _, in := range n.Inputs {
					markCallUses(in.Expr, used)
				}
			case *wdl.Scatter:
				walkNodes(n.Body)
			case *wdl.Conditional:
				walkNodes(n.Body)
			}
		}
	}
	walkNodes(wf.Body)
	for _, d := range wf.Outputs {
		if d.Expr != nil {
			markCallUses(d.Expr, used)
		}
	}

	var out []Finding
	for name, pos := range calls {
		if !used[name] {
			out = append(out, Finding{Pos: pos, Rule: "ForgottenCall",
				Message: fmt.Sprintf("no output or expression uses call %q", name)})
		}
	}
	return out
}

func markCallUses(e wdl.Expr, used map[string]bool) {
	Walk(e, func(x wdl.Expr) {
		switch n := x.(type) {
		case *wdl.ExprIdent:
			used[firstComponent(n.Name)] = true
		case *wdl.ExprGetMember:
			if id, ok := n.Base.(*wdl.ExprIdent); ok {
				used[firstComponent(id.Name)] = true
			}
		}
	})
}

func firstComponent(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

// nameStyleRule flags single-character task names.
type nameStyleRule struct{}

func (nameStyleRule) Name() string { return "NameStyle" }

func (nameStyleRule) Apply(doc *wdl.Document) []Finding {
	var out []Finding
	for _, t := range doc.Tasks {
		if len(t.Name) == 1 {
			out = append(out, Finding{Pos: t.Pos, Rule: "NameStyle",
				Message: fmt.Sprintf("task name %q is a single character", t.Name)})
		}
	}
	return out
}

// Walk applies f to an expression and all of its children.
func Walk(e wdl.Expr, f func(wdl.Expr)) {
	if e == nil {
		return
	}
	f(e)
	switch n := e.(type) {
	case *wdl.ExprString:
		for _, part := range n.Parts {
			if part.Placeholder != nil {
				Walk(part.Placeholder.Expr, f)
			}
		}
	case *wdl.ExprArray:
		for _, item := range n.Items {
			Walk(item, f)
		}
	case *wdl.ExprPair:
		Walk(n.Left, f)
		Walk(n.Right, f)
	case *wdl.ExprMap:
		for _, entry := range n.Entries {
			Walk(entry.Key, f)
			Walk(entry.Value, f)
		}
	case *wdl.ExprObject:
		for _, m := range n.Members {
			Walk(m.Value, f)
		}
	case *wdl.ExprAt:
		Walk(n.Base, f)
		Walk(n.Index, f)
	case *wdl.ExprGetMember:
		Walk(n.Base, f)
	case *wdl.ExprUnary:
		Walk(n.Operand, f)
	case *wdl.ExprBinary:
		Walk(n.Left, f)
		Walk(n.Right, f)
	case *wdl.ExprTernary:
		Walk(n.Cond, f)
		Walk(n.Then, f)
		Walk(n.Else, f)
	case *wdl.ExprApply:
		for _, arg := range n.Args {
			Walk(arg, f)
		}
	}
}
