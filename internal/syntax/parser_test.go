package syntax

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/me/gowdl/pkg/wdl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func parseSource(t *testing.T, source string) *wdl.Document {
	t.Helper()
	doc, err := New(testLogger()).ParseDocument("test.wdl", []byte(source))
	if err != nil {
		t.Fatalf("ParseDocument error: %v", err)
	}
	return doc
}

func TestParse_HelloTask(t *testing.T) {
	doc := parseSource(t, `
version 1.0

task hello {
  input {
    String who
  }
  command <<<
    echo "Hello, ~{who}!" > m.txt
  >>>
  output {
    File m = "m.txt"
  }
  runtime {
    docker: "ubuntu:20.04"
    cpu: 2
  }
}
`)
	if doc.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", doc.Version)
	}
	if len(doc.Tasks) != 1 {
		t.Fatalf("Tasks = %d, want 1", len(doc.Tasks))
	}
	task := doc.Tasks[0]
	if task.Name != "hello" {
		t.Errorf("task name = %q", task.Name)
	}
	if len(task.Inputs) != 1 || task.Inputs[0].Name != "who" {
		t.Errorf("inputs = %+v", task.Inputs)
	}
	if _, ok := task.Inputs[0].Type.(wdl.StringType); !ok {
		t.Errorf("input type = %s, want String", task.Inputs[0].Type)
	}
	if len(task.Outputs) != 1 || task.Outputs[0].Name != "m" {
		t.Errorf("outputs = %+v", task.Outputs)
	}
	if img, ok := task.RuntimeExpr("docker"); !ok {
		t.Error("runtime.docker missing")
	} else if _, ok := img.(*wdl.ExprString); !ok {
		t.Errorf("runtime.docker = %T, want string expr", img)
	}

	// The command template has a placeholder between literals.
	var sawPlaceholder bool
	for _, part := range task.Command.Parts {
		if part.Placeholder != nil {
			sawPlaceholder = true
			if _, ok := part.Placeholder.Expr.(*wdl.ExprIdent); !ok {
				t.Errorf("placeholder expr = %T, want ident", part.Placeholder.Expr)
			}
		}
	}
	if !sawPlaceholder {
		t.Error("command has no placeholder")
	}
}

func TestParse_CommandIndentStripped(t *testing.T) {
	doc := parseSource(t, `
version 1.0
task t {
  command <<<
    echo one
    echo two
  >>>
}
`)
	text := doc.Tasks[0].Command.Parts[0].Literal
	if text != "echo one\necho two\n" {
		t.Errorf("command literal = %q, want unindented lines", text)
	}
}

func TestParse_DefaultsToDraft2(t *testing.T) {
	doc := parseSource(t, `
task t {
  String who
  command {
    echo ${who}
  }
}
`)
	if doc.Version != "draft-2" {
		t.Errorf("Version = %q, want draft-2", doc.Version)
	}
	// Bare pre-command declarations are draft-2 inputs.
	if len(doc.Tasks[0].Inputs) != 1 || doc.Tasks[0].Inputs[0].Name != "who" {
		t.Errorf("draft-2 inputs = %+v", doc.Tasks[0].Inputs)
	}
}

func TestParse_WorkflowScatterConditional(t *testing.T) {
	doc := parseSource(t, `
version 1.0
task inc {
  input {
    Int i
  }
  command <<<
    echo ~{i}
  >>>
  output {
    Int j = i + 1
  }
}
workflow w {
  input {
    Array[Int] xs = [1, 2, 3]
    Boolean go = true
  }
  scatter (x in xs) {
    call inc { input: i = x }
  }
  if (go) {
    Int bonus = 1
  }
  output {
    Array[Int] js = inc.j
  }
}
`)
	wf := doc.Workflow
	if wf == nil || wf.Name != "w" {
		t.Fatalf("workflow = %+v", wf)
	}
	if len(wf.Body) != 2 {
		t.Fatalf("body length = %d, want 2", len(wf.Body))
	}
	sc, ok := wf.Body[0].(*wdl.Scatter)
	if !ok || sc.Name != "x" {
		t.Fatalf("body[0] = %T, want scatter over x", wf.Body[0])
	}
	call, ok := sc.Body[0].(*wdl.Call)
	if !ok || call.Callee != "inc" || len(call.Inputs) != 1 {
		t.Fatalf("scatter body = %+v", sc.Body[0])
	}
	if _, ok := wf.Body[1].(*wdl.Conditional); !ok {
		t.Fatalf("body[1] = %T, want conditional", wf.Body[1])
	}
	if !wf.HasOutput || len(wf.Outputs) != 1 {
		t.Fatalf("outputs = %+v", wf.Outputs)
	}
}

func TestParse_PlaceholderOptions(t *testing.T) {
	doc := parseSource(t, `
version 1.0
task t {
  input {
    Array[String] xs
    Boolean flag
  }
  command <<<
    echo ~{sep=", " xs}
    echo ~{true="yes" false="no" flag}
  >>>
}
`)
	var phs []*wdl.Placeholder
	for _, part := range doc.Tasks[0].Command.Parts {
		if part.Placeholder != nil {
			phs = append(phs, part.Placeholder)
		}
	}
	if len(phs) != 2 {
		t.Fatalf("placeholders = %d, want 2", len(phs))
	}
	if sep, ok := phs[0].Option("sep"); !ok || sep != ", " {
		t.Errorf("sep option = %q, %v", sep, ok)
	}
	if tv, ok := phs[1].Option("true"); !ok || tv != "yes" {
		t.Errorf("true option = %q, %v", tv, ok)
	}
	if fv, ok := phs[1].Option("false"); !ok || fv != "no" {
		t.Errorf("false option = %q, %v", fv, ok)
	}
}

func TestParse_Expressions(t *testing.T) {
	doc := parseSource(t, `
version 1.0
workflow w {
  Int a = 1 + 2 * 3
  Boolean b = 1 < 2 && !false
  Int c = if b then a else 0
  Pair[Int, String] p = (1, "x")
  Map[String, Int] m = {"k": 1}
  Array[Int] arr = [1, 2, 3]
  Int first = arr[0]
  Int left = p.left
  String s = "a~{a}b"
  Float f = select_first([1.5, 2.5])
}
`)
	decls := doc.Workflow.Body
	if len(decls) != 10 {
		t.Fatalf("decls = %d, want 10", len(decls))
	}
	// 1 + 2 * 3 parses with * binding tighter.
	a := decls[0].(*wdl.Decl).Expr.(*wdl.ExprBinary)
	if a.Op != "+" {
		t.Errorf("top op = %q, want +", a.Op)
	}
	if inner, ok := a.Right.(*wdl.ExprBinary); !ok || inner.Op != "*" {
		t.Errorf("right = %#v, want * expression", a.Right)
	}
	if _, ok := decls[2].(*wdl.Decl).Expr.(*wdl.ExprTernary); !ok {
		t.Errorf("decl c = %T, want ternary", decls[2].(*wdl.Decl).Expr)
	}
	if _, ok := decls[3].(*wdl.Decl).Expr.(*wdl.ExprPair); !ok {
		t.Errorf("decl p = %T, want pair", decls[3].(*wdl.Decl).Expr)
	}
}

func TestParse_Import(t *testing.T) {
	doc := parseSource(t, `
version 1.0
import "lib/tasks.wdl" as lib alias Foo as Bar
workflow w {
  call lib.t
}
`)
	if len(doc.Imports) != 1 {
		t.Fatalf("imports = %d", len(doc.Imports))
	}
	imp := doc.Imports[0]
	if imp.URI != "lib/tasks.wdl" || imp.Namespace != "lib" {
		t.Errorf("import = %+v", imp)
	}
	if len(imp.Aliases) != 1 || imp.Aliases[0] != [2]string{"Foo", "Bar"} {
		t.Errorf("aliases = %+v", imp.Aliases)
	}
	call := doc.Workflow.Body[0].(*wdl.Call)
	if call.Callee != "lib.t" || call.Name() != "t" {
		t.Errorf("call = %+v", call)
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := New(testLogger()).ParseDocument("bad.wdl", []byte("version 1.0\ntask {}"))
	if err == nil {
		t.Fatal("expected syntax error")
	}
	se, ok := err.(*wdl.SourceError)
	if !ok || se.Kind != wdl.KindSyntaxError {
		t.Fatalf("error = %#v, want SyntaxError", err)
	}
	if se.Pos.Line != 2 {
		t.Errorf("error line = %d, want 2", se.Pos.Line)
	}
}

func TestParse_UnsupportedVersion(t *testing.T) {
	_, err := New(testLogger()).ParseDocument("v.wdl", []byte("version 9.9\n"))
	if err == nil || !strings.Contains(err.Error(), "unsupported WDL version") {
		t.Fatalf("error = %v, want unsupported version", err)
	}
}

func TestStripCommonIndent(t *testing.T) {
	in := "\n    line one\n      line two\n    line three\n"
	want := "line one\n  line two\nline three\n"
	if got := StripCommonIndent(in); got != want {
		t.Errorf("StripCommonIndent = %q, want %q", got, want)
	}
}
