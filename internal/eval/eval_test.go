package eval

import (
	"testing"

	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

func lib() *stdlib.Library { return stdlib.New(nil) }

func intLit(v int64) wdl.Expr    { return &wdl.ExprInt{V: v} }
func floatLit(v float64) wdl.Expr { return &wdl.ExprFloat{V: v} }
func ident(name string) wdl.Expr {
	return &wdl.ExprIdent{Name: name}
}

func binary(op string, l, r wdl.Expr) wdl.Expr {
	return &wdl.ExprBinary{Op: op, Left: l, Right: r}
}

func TestEval_Arithmetic(t *testing.T) {
	var env wdl.Env[wdl.Value]
	cases := []struct {
		expr wdl.Expr
		want wdl.Value
	}{
		{binary("+", intLit(2), intLit(3)), wdl.NewInt(5)},
		{binary("*", intLit(4), intLit(5)), wdl.NewInt(20)},
		{binary("-", intLit(1), intLit(3)), wdl.NewInt(-2)},
		{binary("/", intLit(7), intLit(2)), wdl.NewInt(3)},
		{binary("%", intLit(7), intLit(2)), wdl.NewInt(1)},
		{binary("+", intLit(1), floatLit(0.5)), wdl.NewFloat(1.5)},
	}
	for _, c := range cases {
		got, err := Eval(c.expr, env, lib())
		if err != nil {
			t.Fatalf("Eval error: %v", err)
		}
		if !wdl.ValuesEqual(got, c.want) {
			t.Errorf("Eval = %v, want %v", got, c.want)
		}
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	var env wdl.Env[wdl.Value]
	_, err := Eval(binary("/", intLit(1), intLit(0)), env, lib())
	if err == nil {
		t.Fatal("expected division-by-zero error")
	}
	if wdl.KindOf(err) != wdl.KindEvalError {
		t.Errorf("kind = %v, want EvalError", wdl.KindOf(err))
	}
}

func TestEval_IdentLookup(t *testing.T) {
	var env wdl.Env[wdl.Value]
	env = env.Bind("x", wdl.NewInt(7))
	got, err := Eval(ident("x"), env, lib())
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if !wdl.ValuesEqual(got, wdl.NewInt(7)) {
		t.Errorf("x = %v, want 7", got)
	}
	if _, err := Eval(ident("missing"), env, lib()); err == nil {
		t.Error("unbound identifier should error")
	}
}

func TestEval_CallOutputNamespace(t *testing.T) {
	var outputs wdl.Env[wdl.Value]
	outputs = outputs.Bind("out", wdl.NewString("v"))
	var env wdl.Env[wdl.Value]
	env = env.BindNamespace("t", outputs)

	expr := &wdl.ExprGetMember{Base: ident("t"), Name: "out"}
	got, err := Eval(expr, env, lib())
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got.String() != "v" {
		t.Errorf("t.out = %v, want v", got)
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	var env wdl.Env[wdl.Value]
	// The right side would fail if evaluated.
	expr := binary("||", &wdl.ExprBoolean{V: true}, ident("boom"))
	got, err := Eval(expr, env, lib())
	if err != nil {
		t.Fatalf("|| should short-circuit: %v", err)
	}
	if b := got.(wdl.BooleanValue); !b.V {
		t.Error("true || _ = false")
	}

	expr = binary("&&", &wdl.ExprBoolean{V: false}, ident("boom"))
	got, err = Eval(expr, env, lib())
	if err != nil {
		t.Fatalf("&& should short-circuit: %v", err)
	}
	if b := got.(wdl.BooleanValue); b.V {
		t.Error("false && _ = true")
	}
}

func TestEval_TernaryLazy(t *testing.T) {
	var env wdl.Env[wdl.Value]
	expr := &wdl.ExprTernary{
		Cond: &wdl.ExprBoolean{V: true},
		Then: intLit(1),
		Else: ident("boom"),
	}
	got, err := Eval(expr, env, lib())
	if err != nil {
		t.Fatalf("ternary should not evaluate the dead branch: %v", err)
	}
	if !wdl.ValuesEqual(got, wdl.NewInt(1)) {
		t.Errorf("ternary = %v, want 1", got)
	}
}

func TestEval_StringConcatNonePropagation(t *testing.T) {
	var env wdl.Env[wdl.Value]
	env = env.Bind("opt", wdl.NewNull())
	expr := binary("+", &wdl.ExprString{Parts: []wdl.StringPart{{Literal: "x"}}}, ident("opt"))
	got, err := Eval(expr, env, lib())
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if !wdl.IsNull(got) {
		t.Errorf(`"x" + None = %v, want None`, got)
	}
}

func TestEval_Indexing(t *testing.T) {
	var env wdl.Env[wdl.Value]
	env = env.Bind("arr", wdl.NewArray(wdl.Int{}, wdl.NewInt(10), wdl.NewInt(20)))

	got, err := Eval(&wdl.ExprAt{Base: ident("arr"), Index: intLit(1)}, env, lib())
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if !wdl.ValuesEqual(got, wdl.NewInt(20)) {
		t.Errorf("arr[1] = %v, want 20", got)
	}

	if _, err := Eval(&wdl.ExprAt{Base: ident("arr"), Index: intLit(5)}, env, lib()); err == nil {
		t.Error("out-of-bounds index should error")
	}
}

func TestEvalPlaceholder_Options(t *testing.T) {
	var env wdl.Env[wdl.Value]
	env = env.Bind("xs", wdl.NewArray(wdl.StringType{}, wdl.NewString("a"), wdl.NewString("b")))
	env = env.Bind("flag", wdl.NewBoolean(false))
	env = env.Bind("opt", wdl.NewNull())

	sep := &wdl.Placeholder{Expr: ident("xs"),
		Options: []wdl.PlaceholderOption{{Name: "sep", Value: ", "}}}
	if got, err := EvalPlaceholder(sep, env, lib()); err != nil || got != "a, b" {
		t.Errorf("sep placeholder = %q, %v, want \"a, b\"", got, err)
	}

	tf := &wdl.Placeholder{Expr: ident("flag"),
		Options: []wdl.PlaceholderOption{{Name: "true", Value: "y"}, {Name: "false", Value: "n"}}}
	if got, err := EvalPlaceholder(tf, env, lib()); err != nil || got != "n" {
		t.Errorf("true/false placeholder = %q, %v, want n", got, err)
	}

	def := &wdl.Placeholder{Expr: ident("opt"),
		Options: []wdl.PlaceholderOption{{Name: "default", Value: "fallback"}}}
	if got, err := EvalPlaceholder(def, env, lib()); err != nil || got != "fallback" {
		t.Errorf("default placeholder = %q, %v, want fallback", got, err)
	}

	bare := &wdl.Placeholder{Expr: ident("opt")}
	if got, err := EvalPlaceholder(bare, env, lib()); err != nil || got != "" {
		t.Errorf("absent placeholder = %q, %v, want empty", got, err)
	}
}

func TestInterpolate(t *testing.T) {
	var env wdl.Env[wdl.Value]
	env = env.Bind("who", wdl.NewString("Alyssa"))
	parts := []wdl.StringPart{
		{Literal: "Hello, "},
		{Placeholder: &wdl.Placeholder{Expr: ident("who")}},
		{Literal: "!"},
	}
	got, err := Interpolate(parts, env, lib())
	if err != nil {
		t.Fatalf("Interpolate error: %v", err)
	}
	if got != "Hello, Alyssa!" {
		t.Errorf("Interpolate = %q", got)
	}
}
