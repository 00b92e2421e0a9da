package check

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// memResolver serves imports from an in-memory map.
type memResolver struct {
	files map[string]string
}

func (r *memResolver) Resolve(base, uri string) (string, []byte, error) {
	src, ok := r.files[uri]
	if !ok {
		return "", nil, &wdl.SourceError{Kind: wdl.KindImportError, Message: "not found: " + uri}
	}
	return uri, []byte(src), nil
}

func load(t *testing.T, source string) *Result {
	t.Helper()
	res, err := loadErr(source)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return res
}

func loadErr(source string) (*Result, error) {
	checker := New(testLogger(), &memResolver{files: map[string]string{}}, stdlib.New(nil), DefaultOptions())
	return checker.Load("main.wdl", []byte(source))
}

const scatterSource = `
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
    Array[Int] xs
  }
  scatter (x in xs) {
    Int sq = (x + 1) * (x + 1)
    call inc { input: i = sq }
  }
  output {
    Array[Int] sqs = sq
    Array[Int] js = inc.j
  }
}
`

func TestGraph_ScatterGathers(t *testing.T) {
	res := load(t, scatterSource)
	g := res.Graph
	if g == nil {
		t.Fatal("no graph")
	}

	sec := g.Get("scatter-0")
	if sec == nil || sec.Kind != NodeScatter {
		t.Fatalf("scatter-0 = %+v", sec)
	}

	decl := g.Get("scatter-0.decl-sq")
	if decl == nil || decl.Section != "scatter-0" {
		t.Fatalf("inner decl = %+v", decl)
	}

	gather := g.Get("scatter-0.gather-sq")
	if gather == nil || gather.Kind != NodeGather {
		t.Fatalf("gather = %+v", gather)
	}
	arr, ok := gather.Type.(wdl.Array)
	if !ok || !arr.Nonempty {
		t.Errorf("gather type = %v, want Array[Int]+", gather.Type)
	}
	if gather.Gather.Inner != "scatter-0.decl-sq" {
		t.Errorf("gather inner = %q", gather.Gather.Inner)
	}

	// The output node depends on the gather, not the inner decl.
	out := g.Get("output-sqs")
	if out == nil {
		t.Fatal("output-sqs missing")
	}
	deps := out.Deps
	if len(deps) != 1 || deps[0] != "scatter-0.gather-sq" {
		t.Errorf("output deps = %v, want gather", deps)
	}

	// The call's gather exposes a namespace (no value type).
	cg := g.Get("scatter-0.gather-inc")
	if cg == nil || cg.Type != nil {
		t.Fatalf("call gather = %+v", cg)
	}
}

func TestGraph_ConditionalLiftsOptional(t *testing.T) {
	res := load(t, `
version 1.0
workflow w {
  input {
    Boolean go
  }
  if (go) {
    Int x = 1
  }
  output {
    Int? maybe = x
  }
}
`)
	gather := res.Graph.Get("if-0.gather-x")
	if gather == nil {
		t.Fatal("conditional gather missing")
	}
	if !gather.Type.Optional() {
		t.Errorf("gather type = %v, want optional", gather.Type)
	}
}

func TestGraph_NestedLiftingComposes(t *testing.T) {
	res := load(t, `
version 1.0
workflow w {
  input {
    Array[Int] xs
    Boolean go
  }
  scatter (x in xs) {
    if (go) {
      Int y = x
    }
  }
  output {
    Array[Int?] ys = y
  }
}
`)
	outer := res.Graph.Get("scatter-0.gather-y")
	if outer == nil {
		t.Fatal("outer gather missing")
	}
	arr, ok := outer.Type.(wdl.Array)
	if !ok || !arr.Item.Optional() {
		t.Errorf("nested lift = %v, want Array[Int?]+", outer.Type)
	}
	if outer.Gather.Inner != "scatter-0.if-1.gather-y" {
		t.Errorf("outer gather inner = %q", outer.Gather.Inner)
	}
}

func TestCheck_ForwardReference(t *testing.T) {
	_, err := loadErr(`
version 1.0
workflow w {
  Int a = b
  Int b = 1
}
`)
	if err == nil {
		t.Fatal("expected forward-reference error")
	}
	se, ok := err.(*wdl.SourceError)
	if !ok || se.Variant != wdl.ForwardReference {
		t.Fatalf("error = %v, want ForwardReference", err)
	}
}

func TestCheck_NameCollisionWithTask(t *testing.T) {
	_, err := loadErr(`
version 1.0
task t {
  command <<<true>>>
}
workflow w {
  Int t = 1
}
`)
	if err == nil {
		t.Fatal("expected name-collision error")
	}
	se, ok := err.(*wdl.SourceError)
	if !ok || se.Variant != wdl.NameCollision {
		t.Fatalf("error = %v, want NameCollision", err)
	}
}

func TestCheck_QuantityViolation(t *testing.T) {
	src := `
version 1.0
workflow w {
  input {
    Int? x
  }
  String s = x
}
`
	if _, err := loadErr(src); err == nil {
		t.Fatal("String s = Int? should be rejected")
	}

	relaxed := New(testLogger(), &memResolver{files: map[string]string{}}, stdlib.New(nil),
		Options{QuantCheck: false})
	if _, err := relaxed.Load("main.wdl", []byte(src)); err != nil {
		t.Fatalf("relaxed quant check should accept: %v", err)
	}
}

func TestCheck_SelectFirstThreading(t *testing.T) {
	// E4-style optional threading through select_first.
	res := load(t, `
version 1.0
task t {
  input {
    Int n
  }
  command <<<
    echo ~{n}
  >>>
  output {
    Int out = n
  }
}
workflow w {
  input {
    Int? x
  }
  call t { input: n = select_first([x, 42]) }
}
`)
	if res.Graph.Get("call-t") == nil {
		t.Fatal("call node missing")
	}
	// Implicit outputs expose t.out.
	if res.Graph.Get("output-t.out") == nil {
		t.Fatalf("implicit output missing; ids = %v", res.Graph.IDs())
	}
}

func TestCheck_ImportCycle(t *testing.T) {
	checker := New(testLogger(), &memResolver{files: map[string]string{
		"a.wdl": `version 1.0
import "b.wdl" as b
`,
		"b.wdl": `version 1.0
import "a.wdl" as a
`,
	}}, stdlib.New(nil), DefaultOptions())
	_, err := checker.Load("a.wdl", []byte(`version 1.0
import "b.wdl" as b
`))
	if err == nil || wdl.KindOf(err) != wdl.KindImportError {
		t.Fatalf("error = %v, want ImportError", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %v should mention a cycle", err)
	}
}

func TestCheck_StructCycle(t *testing.T) {
	_, err := loadErr(`
version 1.0
struct A {
  B b
}
struct B {
  A a
}
workflow w {
}
`)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("error = %v, want struct cycle", err)
	}
}

func TestCheck_AftersAugmentEdges(t *testing.T) {
	res := load(t, `
version 1.0
task t {
  command <<<true>>>
  output {
    Int out = 0
  }
}
workflow w {
  call t as first
  call t as second after first
}
`)
	second := res.Graph.Get("call-second")
	if second == nil {
		t.Fatal("call-second missing")
	}
	found := false
	for _, dep := range second.Deps {
		if dep == "call-first" {
			found = true
		}
	}
	if !found {
		t.Errorf("deps = %v, want call-first", second.Deps)
	}
}

func TestCheck_UnknownFunction(t *testing.T) {
	_, err := loadErr(`
version 1.0
workflow w {
  Int x = nonesuch(1)
}
`)
	se, ok := err.(*wdl.SourceError)
	if !ok || se.Variant != wdl.NoSuchFunction {
		t.Fatalf("error = %v, want NoSuchFunction", err)
	}
}
