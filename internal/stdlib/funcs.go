package stdlib

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// registerPure installs the filesystem-free functions.
func registerPure(l *Library) {
	anyArray := wdl.Array{Item: wdl.Any{}}

	l.register("length", &static{
		name: "length", params: []wdl.Type{anyArray}, minArgs: 1, ret: wdl.Int{},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return wdl.NewInt(int64(len(args[0].(wdl.ArrayValue).Items))), nil
		},
	})

	l.register("range", &static{
		name: "range", params: []wdl.Type{wdl.Int{}}, minArgs: 1,
		ret: wdl.Array{Item: wdl.Int{}},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			n := args[0].(wdl.IntValue).V
			if n < 0 {
				return nil, fmt.Errorf("range(%d): negative length", n)
			}
			items := make([]wdl.Value, n)
			for i := int64(0); i < n; i++ {
				items[i] = wdl.NewInt(i)
			}
			return wdl.ArrayValue{T: wdl.Array{Item: wdl.Int{}, Nonempty: n > 0}, Items: items}, nil
		},
	})

	for _, fn := range []struct {
		name string
		f    func(float64) float64
	}{
		{"floor", math.Floor},
		{"ceil", math.Ceil},
		{"round", math.Round},
	} {
		f := fn.f
		l.register(fn.name, &static{
			name: fn.name, params: []wdl.Type{wdl.Float{}}, minArgs: 1, ret: wdl.Int{},
			impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
				return wdl.NewInt(int64(f(args[0].(wdl.FloatValue).V))), nil
			},
		})
	}

	for _, name := range []string{"min", "max"} {
		isMin := name == "min"
		l.register(name, &polymorphic{
			name: name,
			infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
				if err := arity(apply, name, 2, 2); err != nil {
					return nil, err
				}
				bothInt := true
				for i := 0; i < 2; i++ {
					switch argType(apply, i).(type) {
					case wdl.Int:
					case wdl.Float:
						bothInt = false
					case wdl.Any:
					default:
						return nil, fmt.Errorf("numeric argument required")
					}
				}
				if bothInt {
					return wdl.Int{}, nil
				}
				return wdl.Float{}, nil
			},
			impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
				a, aInt, err := numArg(args[0])
				if err != nil {
					return nil, err
				}
				b, bInt, err := numArg(args[1])
				if err != nil {
					return nil, err
				}
				pick := a
				if (isMin && b < a) || (!isMin && b > a) {
					pick = b
				}
				if aInt && bInt {
					return wdl.NewInt(int64(pick)), nil
				}
				return wdl.NewFloat(pick), nil
			},
		})
	}

	l.register("sub", &static{
		name:   "sub",
		params: []wdl.Type{wdl.StringType{}, wdl.StringType{}, wdl.StringType{}},
		minArgs: 3, ret: wdl.StringType{},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			input := args[0].(wdl.StringValue).V
			pattern := args[1].(wdl.StringValue).V
			replace := args[2].(wdl.StringValue).V
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("sub: invalid pattern %q: %w", pattern, err)
			}
			return wdl.NewString(re.ReplaceAllString(input, replace)), nil
		},
	})

	l.register("basename", &static{
		name:   "basename",
		params: []wdl.Type{wdl.StringType{}, wdl.StringType{}},
		minArgs: 1, ret: wdl.StringType{},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			base := path.Base(args[0].(wdl.StringValue).V)
			if len(args) == 2 {
				base = strings.TrimSuffix(base, args[1].(wdl.StringValue).V)
			}
			return wdl.NewString(base), nil
		},
	})

	l.register("defined", &static{
		name: "defined", params: []wdl.Type{wdl.Any{Opt: true}}, minArgs: 1, ret: wdl.Boolean{},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return wdl.NewBoolean(!wdl.IsNull(args[0])), nil
		},
	})

	l.register("select_first", &polymorphic{
		name: "select_first",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "select_first", 1, 1); err != nil {
				return nil, err
			}
			arr, ok := argType(apply, 0).(wdl.Array)
			if !ok {
				return nil, fmt.Errorf("select_first requires an Array argument")
			}
			return arr.Item.WithOptional(false), nil
		},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			arr, ok := args[0].(wdl.ArrayValue)
			if !ok {
				return nil, fmt.Errorf("select_first requires an array")
			}
			for _, item := range arr.Items {
				if !wdl.IsNull(item) {
					t := item.Type().WithOptional(false)
					return wdl.CoerceValue(item, t)
				}
			}
			return nil, fmt.Errorf("select_first: no defined value")
		},
	})

	l.register("select_all", &polymorphic{
		name: "select_all",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "select_all", 1, 1); err != nil {
				return nil, err
			}
			arr, ok := argType(apply, 0).(wdl.Array)
			if !ok {
				return nil, fmt.Errorf("select_all requires an Array argument")
			}
			return wdl.Array{Item: arr.Item.WithOptional(false)}, nil
		},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			arr, ok := args[0].(wdl.ArrayValue)
			if !ok {
				return nil, fmt.Errorf("select_all requires an array")
			}
			item := wdl.Any{}.WithOptional(false)
			if at, ok := arr.T.(wdl.Array); ok {
				item = at.Item.WithOptional(false)
			}
			var out []wdl.Value
			for _, v := range arr.Items {
				if !wdl.IsNull(v) {
					cv, err := wdl.CoerceValue(v, v.Type().WithOptional(false))
					if err != nil {
						return nil, err
					}
					out = append(out, cv)
				}
			}
			return wdl.ArrayValue{T: wdl.Array{Item: item, Nonempty: len(out) > 0}, Items: out}, nil
		},
	})

	l.register("flatten", &polymorphic{
		name: "flatten",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "flatten", 1, 1); err != nil {
				return nil, err
			}
			outer, ok := argType(apply, 0).(wdl.Array)
			if !ok {
				return nil, fmt.Errorf("flatten requires Array[Array[X]]")
			}
			inner, ok := outer.Item.(wdl.Array)
			if !ok {
				if _, isAny := outer.Item.(wdl.Any); isAny {
					return wdl.Array{Item: wdl.Any{}}, nil
				}
				return nil, fmt.Errorf("flatten requires Array[Array[X]], got %s", outer)
			}
			return wdl.Array{Item: inner.Item}, nil
		},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			outer, ok := args[0].(wdl.ArrayValue)
			if !ok {
				return nil, fmt.Errorf("flatten requires an array")
			}
			item := wdl.Type(wdl.Any{})
			if at, ok := outer.T.(wdl.Array); ok {
				if it, ok := at.Item.(wdl.Array); ok {
					item = it.Item
				}
			}
			var out []wdl.Value
			for _, inner := range outer.Items {
				iv, ok := inner.(wdl.ArrayValue)
				if !ok {
					return nil, fmt.Errorf("flatten: inner value is not an array")
				}
				out = append(out, iv.Items...)
			}
			return wdl.ArrayValue{T: wdl.Array{Item: item, Nonempty: len(out) > 0}, Items: out}, nil
		},
	})

	l.register("zip", &polymorphic{
		name:  "zip",
		infer: zipCrossInfer("zip"),
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			a, b, pairT, err := zipCrossArgs(args)
			if err != nil {
				return nil, err
			}
			if len(a.Items) != len(b.Items) {
				return nil, fmt.Errorf("zip: arrays have different lengths (%d, %d)", len(a.Items), len(b.Items))
			}
			items := make([]wdl.Value, len(a.Items))
			for i := range a.Items {
				items[i] = wdl.PairValue{T: pairT, Left: a.Items[i], Right: b.Items[i]}
			}
			return wdl.ArrayValue{T: wdl.Array{Item: pairT, Nonempty: len(items) > 0}, Items: items}, nil
		},
	})

	l.register("cross", &polymorphic{
		name:  "cross",
		infer: zipCrossInfer("cross"),
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			a, b, pairT, err := zipCrossArgs(args)
			if err != nil {
				return nil, err
			}
			var items []wdl.Value
			for _, av := range a.Items {
				for _, bv := range b.Items {
					items = append(items, wdl.PairValue{T: pairT, Left: av, Right: bv})
				}
			}
			return wdl.ArrayValue{T: wdl.Array{Item: pairT, Nonempty: len(items) > 0}, Items: items}, nil
		},
	})

	l.register("transpose", &polymorphic{
		name: "transpose",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "transpose", 1, 1); err != nil {
				return nil, err
			}
			outer, ok := argType(apply, 0).(wdl.Array)
			if !ok {
				return nil, fmt.Errorf("transpose requires Array[Array[X]]")
			}
			return outer.WithOptional(false), nil
		},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			outer, ok := args[0].(wdl.ArrayValue)
			if !ok {
				return nil, fmt.Errorf("transpose requires an array")
			}
			var rows [][]wdl.Value
			width := -1
			for _, r := range outer.Items {
				rv, ok := r.(wdl.ArrayValue)
				if !ok {
					return nil, fmt.Errorf("transpose: inner value is not an array")
				}
				if width >= 0 && len(rv.Items) != width {
					return nil, fmt.Errorf("transpose: ragged rows")
				}
				width = len(rv.Items)
				rows = append(rows, rv.Items)
			}
			innerT := wdl.Type(wdl.Any{})
			if at, ok := outer.T.(wdl.Array); ok {
				innerT = at.Item
			}
			if width < 0 {
				width = 0
			}
			out := make([]wdl.Value, width)
			for c := 0; c < width; c++ {
				col := make([]wdl.Value, len(rows))
				for r := range rows {
					col[r] = rows[r][c]
				}
				out[c] = wdl.ArrayValue{T: innerT, Items: col}
			}
			return wdl.ArrayValue{T: outer.T, Items: out}, nil
		},
	})

	stringArray := wdl.Array{Item: wdl.StringType{}}

	l.register("prefix", &static{
		name:   "prefix",
		params: []wdl.Type{wdl.StringType{}, stringArray},
		minArgs: 2, ret: stringArray,
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return mapStrings(args[1], func(s string) string { return args[0].(wdl.StringValue).V + s })
		},
	})

	l.register("suffix", &static{
		name:   "suffix",
		params: []wdl.Type{wdl.StringType{}, stringArray},
		minArgs: 2, ret: stringArray,
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return mapStrings(args[1], func(s string) string { return s + args[0].(wdl.StringValue).V })
		},
	})

	l.register("quote", &static{
		name: "quote", params: []wdl.Type{stringArray}, minArgs: 1, ret: stringArray,
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return mapStrings(args[0], func(s string) string { return `"` + s + `"` })
		},
	})

	l.register("squote", &static{
		name: "squote", params: []wdl.Type{stringArray}, minArgs: 1, ret: stringArray,
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			return mapStrings(args[0], func(s string) string { return "'" + s + "'" })
		},
	})

	l.register("sep", &static{
		name:   "sep",
		params: []wdl.Type{wdl.StringType{}, stringArray},
		minArgs: 2, ret: wdl.StringType{},
		impl: func(args []wdl.Value, _ *Context) (wdl.Value, error) {
			arr := args[1].(wdl.ArrayValue)
			parts := make([]string, len(arr.Items))
			for i, v := range arr.Items {
				parts[i] = v.String()
			}
			return wdl.NewString(strings.Join(parts, args[0].(wdl.StringValue).V)), nil
		},
	})
}

func numArg(v wdl.Value) (float64, bool, error) {
	switch n := v.(type) {
	case wdl.IntValue:
		return float64(n.V), true, nil
	case wdl.FloatValue:
		return n.V, false, nil
	}
	return 0, false, fmt.Errorf("numeric argument required, got %s", v.Type())
}

func mapStrings(v wdl.Value, f func(string) string) (wdl.Value, error) {
	arr, ok := v.(wdl.ArrayValue)
	if !ok {
		return nil, fmt.Errorf("array argument required")
	}
	items := make([]wdl.Value, len(arr.Items))
	for i, item := range arr.Items {
		items[i] = wdl.NewString(f(item.String()))
	}
	return wdl.ArrayValue{
		T:     wdl.Array{Item: wdl.StringType{}, Nonempty: len(items) > 0},
		Items: items,
	}, nil
}

func zipCrossInfer(name string) func(apply *wdl.ExprApply) (wdl.Type, error) {
	return func(apply *wdl.ExprApply) (wdl.Type, error) {
		if err := arity(apply, name, 2, 2); err != nil {
			return nil, err
		}
		a, aok := argType(apply, 0).(wdl.Array)
		b, bok := argType(apply, 1).(wdl.Array)
		if !aok || !bok {
			return nil, fmt.Errorf("%s requires two Array arguments", name)
		}
		return wdl.Array{Item: wdl.Pair{Left: a.Item, Right: b.Item}}, nil
	}
}

func zipCrossArgs(args []wdl.Value) (wdl.ArrayValue, wdl.ArrayValue, wdl.Pair, error) {
	a, aok := args[0].(wdl.ArrayValue)
	b, bok := args[1].(wdl.ArrayValue)
	if !aok || !bok {
		return wdl.ArrayValue{}, wdl.ArrayValue{}, wdl.Pair{}, fmt.Errorf("two arrays required")
	}
	left := wdl.Type(wdl.Any{})
	right := wdl.Type(wdl.Any{})
	if at, ok := a.T.(wdl.Array); ok {
		left = at.Item
	}
	if bt, ok := b.T.(wdl.Array); ok {
		right = bt.Item
	}
	return a, b, wdl.Pair{Left: left, Right: right}, nil
}
