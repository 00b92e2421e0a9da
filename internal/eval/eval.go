// Package eval evaluates typed WDL expressions against an environment
// of runtime values, using the standard-library registry for function
// application and string interpolation.
package eval

import (
	"strings"

	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

// Eval evaluates an expression. All failures are EvalErrors carrying
// the offending expression's position.
func Eval(e wdl.Expr, env wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Value, error) {
	switch ex := e.(type) {
	case *wdl.ExprBoolean:
		return wdl.NewBoolean(ex.V), nil
	case *wdl.ExprInt:
		return wdl.NewInt(ex.V), nil
	case *wdl.ExprFloat:
		return wdl.NewFloat(ex.V), nil
	case *wdl.ExprNull:
		return wdl.NewNull(), nil

	case *wdl.ExprString:
		s, err := Interpolate(ex.Parts, env, lib)
		if err != nil {
			return nil, err
		}
		return wdl.NewString(s), nil

	case *wdl.ExprIdent:
		v, ok := env.Lookup(ex.Name)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "unbound identifier %q", ex.Name)
		}
		return v, nil

	case *wdl.ExprArray:
		items := make([]wdl.Value, len(ex.Items))
		for i, itemE := range ex.Items {
			v, err := Eval(itemE, env, lib)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		t := ex.InferredType()
		if t == nil {
			types := make([]wdl.Type, len(items))
			for i, v := range items {
				types[i] = v.Type()
			}
			item, err := wdl.Unify(types)
			if err != nil {
				item = wdl.Any{}
			}
			t = wdl.Array{Item: item, Nonempty: len(items) > 0}
		}
		if at, ok := t.(wdl.Array); ok {
			coerced := make([]wdl.Value, len(items))
			for i, v := range items {
				cv, err := wdl.CoerceValue(v, at.Item)
				if err != nil {
					return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "array item %d: %v", i, err)
				}
				coerced[i] = cv
			}
			return wdl.ArrayValue{T: at, Items: coerced}, nil
		}
		return wdl.ArrayValue{T: wdl.Array{Item: wdl.Any{}}, Items: items}, nil

	case *wdl.ExprPair:
		left, err := Eval(ex.Left, env, lib)
		if err != nil {
			return nil, err
		}
		right, err := Eval(ex.Right, env, lib)
		if err != nil {
			return nil, err
		}
		t, ok := ex.InferredType().(wdl.Pair)
		if !ok {
			t = wdl.Pair{Left: left.Type(), Right: right.Type()}
		}
		return wdl.PairValue{T: t, Left: left, Right: right}, nil

	case *wdl.ExprMap:
		entries := make([]wdl.MapEntry, len(ex.Entries))
		for i, entry := range ex.Entries {
			k, err := Eval(entry.Key, env, lib)
			if err != nil {
				return nil, err
			}
			v, err := Eval(entry.Value, env, lib)
			if err != nil {
				return nil, err
			}
			entries[i] = wdl.MapEntry{Key: k, Value: v}
		}
		t, ok := ex.InferredType().(wdl.Map)
		if !ok {
			t = wdl.Map{Key: wdl.Any{}, Value: wdl.Any{}}
		}
		return wdl.MapValue{T: t, Entries: entries}, nil

	case *wdl.ExprObject:
		members := make([]wdl.NamedValue, len(ex.Members))
		memberTypes := make([]wdl.StructMember, len(ex.Members))
		for i, m := range ex.Members {
			v, err := Eval(m.Value, env, lib)
			if err != nil {
				return nil, err
			}
			members[i] = wdl.NamedValue{Name: m.Name, Value: v}
			memberTypes[i] = wdl.StructMember{Name: m.Name, Type: v.Type()}
		}
		lit := wdl.StructValue{T: wdl.Object{Members: memberTypes}, Members: members}
		if t := ex.InferredType(); t != nil {
			if _, isStruct := t.(wdl.StructInstance); isStruct {
				v, err := wdl.CoerceValue(lit, t)
				if err != nil {
					return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "%v", err)
				}
				return v, nil
			}
		}
		return lit, nil

	case *wdl.ExprAt:
		return evalAt(ex, env, lib)

	case *wdl.ExprGetMember:
		return evalGetMember(ex, env, lib)

	case *wdl.ExprUnary:
		return evalUnary(ex, env, lib)

	case *wdl.ExprBinary:
		return evalBinary(ex, env, lib)

	case *wdl.ExprTernary:
		cond, err := Eval(ex.Cond, env, lib)
		if err != nil {
			return nil, err
		}
		b, ok := cond.(wdl.BooleanValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.Cond.ExprPos(), "if condition is not Boolean")
		}
		if b.V {
			return Eval(ex.Then, env, lib)
		}
		return Eval(ex.Else, env, lib)

	case *wdl.ExprApply:
		args := make([]wdl.Value, len(ex.Args))
		for i, argE := range ex.Args {
			v, err := Eval(argE, env, lib)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		v, err := lib.Call(ex.Func, args)
		if err != nil {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "%s: %v", ex.Func, err)
		}
		return v, nil
	}
	return nil, wdl.Errorf(wdl.KindEvalError, e.ExprPos(), "unsupported expression")
}

func evalAt(ex *wdl.ExprAt, env wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Value, error) {
	base, err := Eval(ex.Base, env, lib)
	if err != nil {
		return nil, err
	}
	index, err := Eval(ex.Index, env, lib)
	if err != nil {
		return nil, err
	}
	switch bv := base.(type) {
	case wdl.ArrayValue:
		iv, ok := index.(wdl.IntValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.Index.ExprPos(), "array index is not an Int")
		}
		if iv.V < 0 || iv.V >= int64(len(bv.Items)) {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(),
				"array index %d out of bounds (length %d)", iv.V, len(bv.Items))
		}
		return bv.Items[iv.V], nil
	case wdl.MapValue:
		for _, entry := range bv.Entries {
			if wdl.ValuesEqual(entry.Key, index) {
				return entry.Value, nil
			}
		}
		return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "map has no key %s", index)
	}
	return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "cannot index %s", base.Type())
}

func evalGetMember(ex *wdl.ExprGetMember, env wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Value, error) {
	// A dotted identifier chain may denote a namespaced binding
	// (call.output) rather than a member access.
	if dotted, ok := flattenIdent(ex); ok {
		if v, found := env.Lookup(dotted); found {
			return v, nil
		}
	}
	base, err := Eval(ex.Base, env, lib)
	if err != nil {
		return nil, err
	}
	switch bv := base.(type) {
	case wdl.PairValue:
		switch ex.Name {
		case "left":
			return bv.Left, nil
		case "right":
			return bv.Right, nil
		}
	case wdl.StructValue:
		for _, m := range bv.Members {
			if m.Name == ex.Name {
				return m.Value, nil
			}
		}
	case wdl.MapValue:
		for _, entry := range bv.Entries {
			if ks, ok := entry.Key.(wdl.StringValue); ok && ks.V == ex.Name {
				return entry.Value, nil
			}
		}
	}
	return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "no member %q in %s", ex.Name, base.Type())
}

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

func evalUnary(ex *wdl.ExprUnary, env wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Value, error) {
	v, err := Eval(ex.Operand, env, lib)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case "!":
		b, ok := v.(wdl.BooleanValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "! operand is not Boolean")
		}
		return wdl.NewBoolean(!b.V), nil
	case "-":
		switch n := v.(type) {
		case wdl.IntValue:
			return wdl.NewInt(-n.V), nil
		case wdl.FloatValue:
			return wdl.NewFloat(-n.V), nil
		}
		return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "unary - operand is not numeric")
	}
	return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "unknown operator %q", ex.Op)
}

func evalBinary(ex *wdl.ExprBinary, env wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Value, error) {
	// Logical operators short-circuit.
	if ex.Op == "&&" || ex.Op == "||" {
		left, err := Eval(ex.Left, env, lib)
		if err != nil {
			return nil, err
		}
		lb, ok := left.(wdl.BooleanValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.Left.ExprPos(), "%s operand is not Boolean", ex.Op)
		}
		if (ex.Op == "&&" && !lb.V) || (ex.Op == "||" && lb.V) {
			return lb, nil
		}
		right, err := Eval(ex.Right, env, lib)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(wdl.BooleanValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.Right.ExprPos(), "%s operand is not Boolean", ex.Op)
		}
		return rb, nil
	}

	left, err := Eval(ex.Left, env, lib)
	if err != nil {
		return nil, err
	}
	right, err := Eval(ex.Right, env, lib)
	if err != nil {
		return nil, err
	}

	switch ex.Op {
	case "==":
		return wdl.NewBoolean(wdl.ValuesEqual(left, right)), nil
	case "!=":
		return wdl.NewBoolean(!wdl.ValuesEqual(left, right)), nil
	case "<", "<=", ">", ">=":
		return evalOrder(ex, left, right)
	}

	// String (and File) concatenation with +; an absent optional
	// operand propagates None.
	if ex.Op == "+" {
		if concat, ok, err := evalConcat(ex, left, right); ok {
			return concat, err
		}
	}

	return evalArith(ex, left, right)
}

func evalConcat(ex *wdl.ExprBinary, left, right wdl.Value) (wdl.Value, bool, error) {
	isStringish := func(v wdl.Value) bool {
		switch v.(type) {
		case wdl.StringValue, wdl.FileValue, wdl.DirectoryValue, wdl.NullValue:
			return true
		}
		return false
	}
	if !isStringish(left) && !isStringish(right) {
		return nil, false, nil
	}
	if wdl.IsNull(left) || wdl.IsNull(right) {
		return wdl.NewNull(), true, nil
	}
	ls, err := stringify(left, ex.Left.ExprPos())
	if err != nil {
		return nil, true, err
	}
	rs, err := stringify(right, ex.Right.ExprPos())
	if err != nil {
		return nil, true, err
	}
	if _, isFile := left.(wdl.FileValue); isFile {
		return wdl.NewFile(ls + rs), true, nil
	}
	return wdl.NewString(ls + rs), true, nil
}

func stringify(v wdl.Value, pos wdl.Pos) (string, error) {
	switch v.(type) {
	case wdl.StringValue, wdl.IntValue, wdl.FloatValue, wdl.BooleanValue, wdl.FileValue, wdl.DirectoryValue:
		return v.String(), nil
	}
	return "", wdl.Errorf(wdl.KindEvalError, pos, "cannot interpolate %s", v.Type())
}

func evalOrder(ex *wdl.ExprBinary, left, right wdl.Value) (wdl.Value, error) {
	var cmp int
	switch lv := left.(type) {
	case wdl.IntValue:
		rf, _, err := numArg(right, ex)
		if err != nil {
			return nil, err
		}
		cmp = compareFloat(float64(lv.V), rf)
	case wdl.FloatValue:
		rf, _, err := numArg(right, ex)
		if err != nil {
			return nil, err
		}
		cmp = compareFloat(lv.V, rf)
	case wdl.StringValue:
		rv, ok := right.(wdl.StringValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "cannot order %s and %s", left.Type(), right.Type())
		}
		cmp = strings.Compare(lv.V, rv.V)
	case wdl.BooleanValue:
		rv, ok := right.(wdl.BooleanValue)
		if !ok {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "cannot order %s and %s", left.Type(), right.Type())
		}
		cmp = boolToInt(lv.V) - boolToInt(rv.V)
	default:
		return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "cannot order %s", left.Type())
	}
	switch ex.Op {
	case "<":
		return wdl.NewBoolean(cmp < 0), nil
	case "<=":
		return wdl.NewBoolean(cmp <= 0), nil
	case ">":
		return wdl.NewBoolean(cmp > 0), nil
	case ">=":
		return wdl.NewBoolean(cmp >= 0), nil
	}
	return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "unknown operator %q", ex.Op)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func numArg(v wdl.Value, ex *wdl.ExprBinary) (float64, bool, error) {
	switch n := v.(type) {
	case wdl.IntValue:
		return float64(n.V), true, nil
	case wdl.FloatValue:
		return n.V, false, nil
	}
	return 0, false, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(),
		"%s operand is not numeric (%s)", ex.Op, v.Type())
}

func evalArith(ex *wdl.ExprBinary, left, right wdl.Value) (wdl.Value, error) {
	lf, lInt, err := numArg(left, ex)
	if err != nil {
		return nil, err
	}
	rf, rInt, err := numArg(right, ex)
	if err != nil {
		return nil, err
	}

	if lInt && rInt {
		li, ri := int64(lf), int64(rf)
		switch ex.Op {
		case "+":
			return wdl.NewInt(li + ri), nil
		case "-":
			return wdl.NewInt(li - ri), nil
		case "*":
			return wdl.NewInt(li * ri), nil
		case "/":
			if ri == 0 {
				return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "division by zero")
			}
			return wdl.NewInt(li / ri), nil
		case "%":
			if ri == 0 {
				return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "modulo by zero")
			}
			return wdl.NewInt(li % ri), nil
		}
	}

	switch ex.Op {
	case "+":
		return wdl.NewFloat(lf + rf), nil
	case "-":
		return wdl.NewFloat(lf - rf), nil
	case "*":
		return wdl.NewFloat(lf * rf), nil
	case "/":
		if rf == 0 {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "division by zero")
		}
		return wdl.NewFloat(lf / rf), nil
	case "%":
		if rf == 0 {
			return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "modulo by zero")
		}
		return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "%% requires Int operands")
	}
	return nil, wdl.Errorf(wdl.KindEvalError, ex.ExprPos(), "unknown operator %q", ex.Op)
}

// Interpolate renders the parts of a string or command template,
// evaluating each placeholder and applying its options.
func Interpolate(parts []wdl.StringPart, env wdl.Env[wdl.Value], lib *stdlib.Library) (string, error) {
	var b strings.Builder
	for _, part := range parts {
		if part.Placeholder == nil {
			b.WriteString(part.Literal)
			continue
		}
		s, err := EvalPlaceholder(part.Placeholder, env, lib)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// EvalPlaceholder evaluates one ~{...} placeholder to its string
// rendering, honoring sep=, default=, and true=/false= options.
func EvalPlaceholder(ph *wdl.Placeholder, env wdl.Env[wdl.Value], lib *stdlib.Library) (string, error) {
	v, err := Eval(ph.Expr, env, lib)
	if err != nil {
		return "", err
	}

	if tv, ok := ph.Option("true"); ok {
		fv, _ := ph.Option("false")
		b, isBool := v.(wdl.BooleanValue)
		if !isBool {
			return "", wdl.Errorf(wdl.KindEvalError, ph.Pos, "true=/false= placeholder is not Boolean")
		}
		if b.V {
			return tv, nil
		}
		return fv, nil
	}

	if wdl.IsNull(v) {
		if def, ok := ph.Option("default"); ok {
			return def, nil
		}
		return "", nil
	}

	if arr, ok := v.(wdl.ArrayValue); ok {
		sep, _ := ph.Option("sep")
		parts := make([]string, len(arr.Items))
		for i, item := range arr.Items {
			s, err := stringify(item, ph.Pos)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil
	}

	return stringify(v, ph.Pos)
}
