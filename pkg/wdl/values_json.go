package wdl

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueFromJSON converts a decoded JSON value (as produced by
// encoding/json into any) to a WDL value of the given type. null maps
// to an absent optional; mismatches are reported as plain errors for
// the caller to wrap as InputError.
func ValueFromJSON(t Type, raw any) (Value, error) {
	if raw == nil {
		if t.Optional() {
			return NullValue{T: t}, nil
		}
		return nil, fmt.Errorf("null where non-optional %s expected", t)
	}

	switch tt := t.(type) {
	case Boolean:
		if b, ok := raw.(bool); ok {
			return BooleanValue{T: t, V: b}, nil
		}
	case Int:
		if n, ok := jsonNumber(raw); ok {
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("non-integer %v where %s expected", raw, t)
			}
			return IntValue{T: t, V: int64(n)}, nil
		}
	case Float:
		if n, ok := jsonNumber(raw); ok {
			return FloatValue{T: t, V: n}, nil
		}
	case StringType:
		if s, ok := raw.(string); ok {
			return StringValue{T: t, V: s}, nil
		}
	case File:
		if s, ok := raw.(string); ok {
			return FileValue{T: t, V: s}, nil
		}
	case Directory:
		if s, ok := raw.(string); ok {
			return DirectoryValue{T: t, V: s}, nil
		}
	case Array:
		arr, ok := raw.([]any)
		if !ok {
			break
		}
		if tt.Nonempty && len(arr) == 0 {
			return nil, fmt.Errorf("empty array where nonempty %s expected", t)
		}
		items := make([]Value, len(arr))
		for i, item := range arr {
			v, err := ValueFromJSON(tt.Item, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return ArrayValue{T: t, Items: items}, nil
	case Map:
		obj, ok := raw.(map[string]any)
		if !ok {
			break
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]MapEntry, 0, len(obj))
		for _, k := range keys {
			kv, err := ValueFromJSON(tt.Key, k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			vv, err := ValueFromJSON(tt.Value, obj[k])
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			entries = append(entries, MapEntry{Key: kv, Value: vv})
		}
		return MapValue{T: t, Entries: entries}, nil
	case Pair:
		obj, ok := raw.(map[string]any)
		if !ok {
			break
		}
		left, lok := obj["left"]
		right, rok := obj["right"]
		if !lok || !rok {
			return nil, fmt.Errorf("pair requires left and right keys")
		}
		lv, err := ValueFromJSON(tt.Left, left)
		if err != nil {
			return nil, fmt.Errorf("left: %w", err)
		}
		rv, err := ValueFromJSON(tt.Right, right)
		if err != nil {
			return nil, fmt.Errorf("right: %w", err)
		}
		return PairValue{T: t, Left: lv, Right: rv}, nil
	case StructInstance:
		obj, ok := raw.(map[string]any)
		if !ok {
			break
		}
		members := make([]NamedValue, 0, len(tt.Members))
		for _, m := range tt.Members {
			rawM, present := obj[m.Name]
			if !present {
				if m.Type.Optional() {
					members = append(members, NamedValue{Name: m.Name, Value: NullValue{T: m.Type}})
					continue
				}
				return nil, fmt.Errorf("missing member %s of %s", m.Name, tt.Name)
			}
			v, err := ValueFromJSON(m.Type, rawM)
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", m.Name, err)
			}
			members = append(members, NamedValue{Name: m.Name, Value: v})
		}
		for k := range obj {
			known := false
			for _, m := range tt.Members {
				if m.Name == k {
					known = true
					break
				}
			}
			if !known {
				return nil, fmt.Errorf("unknown member %s of %s", k, tt.Name)
			}
		}
		return StructValue{T: t, Members: members}, nil
	case Object:
		obj, ok := raw.(map[string]any)
		if !ok {
			break
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]NamedValue, 0, len(obj))
		for _, k := range keys {
			v, err := valueFromJSONAny(obj[k])
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", k, err)
			}
			members = append(members, NamedValue{Name: k, Value: v})
		}
		return StructValue{T: t, Members: members}, nil
	case Any:
		return valueFromJSONAny(raw)
	}
	return nil, fmt.Errorf("JSON %T where %s expected", raw, t)
}

// valueFromJSONAny infers a WDL value from untyped JSON.
func valueFromJSONAny(raw any) (Value, error) {
	switch rv := raw.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBoolean(rv), nil
	case float64:
		if rv == math.Trunc(rv) && math.Abs(rv) < 1e15 {
			return NewInt(int64(rv)), nil
		}
		return NewFloat(rv), nil
	case json.Number:
		if i, err := rv.Int64(); err == nil {
			return NewInt(i), nil
		}
		f, err := rv.Float64()
		if err != nil {
			return nil, err
		}
		return NewFloat(f), nil
	case string:
		return NewString(rv), nil
	case []any:
		items := make([]Value, len(rv))
		types := make([]Type, len(rv))
		for i, item := range rv {
			v, err := valueFromJSONAny(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
			types[i] = v.Type()
		}
		item, err := Unify(types)
		if err != nil {
			item = Any{}
		}
		return ArrayValue{T: Array{Item: item, Nonempty: len(items) > 0}, Items: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(rv))
		for k := range rv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]NamedValue, 0, len(rv))
		memberTypes := make([]StructMember, 0, len(rv))
		for _, k := range keys {
			v, err := valueFromJSONAny(rv[k])
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", k, err)
			}
			members = append(members, NamedValue{Name: k, Value: v})
			memberTypes = append(memberTypes, StructMember{Name: k, Type: v.Type()})
		}
		return StructValue{T: Object{Members: memberTypes}, Members: members}, nil
	}
	return nil, fmt.Errorf("unsupported JSON value %T", raw)
}

func jsonNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
