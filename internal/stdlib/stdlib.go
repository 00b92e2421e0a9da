// Package stdlib implements the WDL standard-library function
// registry: static functions with fixed signatures plus polymorphic
// functions with custom type inference. The registry is explicit and
// passed into the typechecker and evaluator; nothing is global.
package stdlib

import (
	"fmt"

	"github.com/me/gowdl/pkg/wdl"
)

// Context supplies the filesystem capabilities that the impure
// functions need. With a nil Mapper, file functions treat File values
// as host paths directly.
type Context struct {
	// Mapper resolves virtualized File/Directory paths.
	Mapper wdl.PathMapper
	// WriteDir receives files synthesized by write_* functions.
	WriteDir string
	// WorkDir is the task working directory for glob expansion.
	WorkDir string
	// StdoutPath/StderrPath back stdout()/stderr() during task output
	// collection.
	StdoutPath string
	StderrPath string
}

// Function is one standard-library function.
type Function interface {
	// Infer computes the application's result type; argument types
	// are already inferred on the apply node.
	Infer(apply *wdl.ExprApply) (wdl.Type, error)
	// Call evaluates the function over argument values.
	Call(args []wdl.Value, ctx *Context) (wdl.Value, error)
}

// Library is a registry of functions bound to one filesystem context.
type Library struct {
	funcs map[string]Function
	ctx   *Context
}

// New builds the full standard library over the given context.
func New(ctx *Context) *Library {
	if ctx == nil {
		ctx = &Context{}
	}
	l := &Library{funcs: make(map[string]Function), ctx: ctx}
	registerPure(l)
	registerIO(l)
	return l
}

// WithContext returns a library sharing the function table but bound
// to a different filesystem context (used when tasks enter their
// output-collection stage).
func (l *Library) WithContext(ctx *Context) *Library {
	return &Library{funcs: l.funcs, ctx: ctx}
}

// Context returns the library's filesystem context.
func (l *Library) Context() *Context { return l.ctx }

func (l *Library) register(name string, fn Function) {
	l.funcs[name] = fn
}

// Has reports whether the named function exists.
func (l *Library) Has(name string) bool {
	_, ok := l.funcs[name]
	return ok
}

// Infer computes the result type of a function application.
func (l *Library) Infer(apply *wdl.ExprApply) (wdl.Type, error) {
	fn, ok := l.funcs[apply.Func]
	if !ok {
		return nil, fmt.Errorf("no function %q", apply.Func)
	}
	return fn.Infer(apply)
}

// Call evaluates the named function over argument values.
func (l *Library) Call(name string, args []wdl.Value) (wdl.Value, error) {
	fn, ok := l.funcs[name]
	if !ok {
		return nil, fmt.Errorf("no function %q", name)
	}
	return fn.Call(args, l.ctx)
}

// static is a Function with a fixed signature. A trailing optional
// parameter is expressed by minArgs < len(params).
type static struct {
	name    string
	params  []wdl.Type
	minArgs int
	ret     wdl.Type
	impl    func(args []wdl.Value, ctx *Context) (wdl.Value, error)
}

func (f *static) Infer(apply *wdl.ExprApply) (wdl.Type, error) {
	if len(apply.Args) < f.minArgs || len(apply.Args) > len(f.params) {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", f.name, f.minArgs, len(apply.Args))
	}
	for i, arg := range apply.Args {
		at := arg.InferredType()
		if at == nil {
			continue
		}
		if wdl.Coerce(at, f.params[i]).Verdict == wdl.CoerceErr {
			return nil, fmt.Errorf("%s argument %d: %s cannot flow into %s", f.name, i+1, at, f.params[i])
		}
	}
	return f.ret, nil
}

func (f *static) Call(args []wdl.Value, ctx *Context) (wdl.Value, error) {
	if len(args) < f.minArgs || len(args) > len(f.params) {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", f.name, f.minArgs, len(args))
	}
	coerced := make([]wdl.Value, len(args))
	for i, a := range args {
		v, err := wdl.CoerceValue(a, f.params[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", f.name, i+1, err)
		}
		coerced[i] = v
	}
	return f.impl(coerced, ctx)
}

// polymorphic is a Function with custom type inference.
type polymorphic struct {
	name  string
	infer func(apply *wdl.ExprApply) (wdl.Type, error)
	impl  func(args []wdl.Value, ctx *Context) (wdl.Value, error)
}

func (f *polymorphic) Infer(apply *wdl.ExprApply) (wdl.Type, error) {
	return f.infer(apply)
}

func (f *polymorphic) Call(args []wdl.Value, ctx *Context) (wdl.Value, error) {
	return f.impl(args, ctx)
}

// argType returns the inferred type of argument i, or Any.
func argType(apply *wdl.ExprApply, i int) wdl.Type {
	if i < len(apply.Args) {
		if t := apply.Args[i].InferredType(); t != nil {
			return t
		}
	}
	return wdl.Any{}
}

func arity(apply *wdl.ExprApply, name string, min, max int) error {
	n := len(apply.Args)
	if n < min || n > max {
		return fmt.Errorf("%s expects %d to %d arguments, got %d", name, min, max, n)
	}
	return nil
}
