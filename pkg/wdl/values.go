package wdl

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the closed variant of WDL runtime values. Values carry
// their own type tag, including optionality, so a value bound to an
// optional slot remembers that it is optional.
type Value interface {
	// Type returns the value's type tag.
	Type() Type
	// JSON returns the JSON-serializable representation.
	JSON() any
	// String renders the value the way command interpolation does.
	String() string

	isValue()
}

// PathMapper resolves the opaque virtualized paths carried by File and
// Directory values to real host (or in-container) paths. Two handles
// denote the same file iff they resolve to the same path.
type PathMapper interface {
	// HostPath maps a virtualized path to a readable host path.
	HostPath(virtual string) (string, error)
	// ContainerPath maps a virtualized path to the path visible
	// inside the task container, if any.
	ContainerPath(virtual string) (string, error)
}

type (
	// NullValue is an absent optional; T records the slot's type.
	NullValue struct{ T Type }
	// BooleanValue wraps a Boolean.
	BooleanValue struct {
		T Type
		V bool
	}
	// IntValue wraps an Int.
	IntValue struct {
		T Type
		V int64
	}
	// FloatValue wraps a Float.
	FloatValue struct {
		T Type
		V float64
	}
	// StringValue wraps a String.
	StringValue struct {
		T Type
		V string
	}
	// FileValue wraps a File's virtualized path handle.
	FileValue struct {
		T Type
		V string
	}
	// DirectoryValue wraps a Directory's virtualized path handle.
	DirectoryValue struct {
		T Type
		V string
	}
	// ArrayValue holds ordered items.
	ArrayValue struct {
		T     Type
		Items []Value
	}
	// MapValue holds insertion-ordered entries.
	MapValue struct {
		T       Type
		Entries []MapEntry
	}
	// PairValue holds a left and right value.
	PairValue struct {
		T           Type
		Left, Right Value
	}
	// StructValue holds insertion-ordered named members; T is either a
	// StructInstance or the legacy Object type.
	StructValue struct {
		T       Type
		Members []NamedValue
	}
)

// MapEntry is one key/value entry of a MapValue.
type MapEntry struct {
	Key   Value
	Value Value
}

// NamedValue is one named member of a StructValue.
type NamedValue struct {
	Name  string
	Value Value
}

func (NullValue) isValue()      {}
func (BooleanValue) isValue()   {}
func (IntValue) isValue()       {}
func (FloatValue) isValue()     {}
func (StringValue) isValue()    {}
func (FileValue) isValue()      {}
func (DirectoryValue) isValue() {}
func (ArrayValue) isValue()     {}
func (MapValue) isValue()       {}
func (PairValue) isValue()      {}
func (StructValue) isValue()    {}

func (v NullValue) Type() Type {
	if v.T == nil {
		return Any{None: true}
	}
	return v.T
}
func (v BooleanValue) Type() Type   { return v.T }
func (v IntValue) Type() Type       { return v.T }
func (v FloatValue) Type() Type     { return v.T }
func (v StringValue) Type() Type    { return v.T }
func (v FileValue) Type() Type      { return v.T }
func (v DirectoryValue) Type() Type { return v.T }
func (v ArrayValue) Type() Type     { return v.T }
func (v MapValue) Type() Type       { return v.T }
func (v PairValue) Type() Type      { return v.T }
func (v StructValue) Type() Type    { return v.T }

// Constructors tagging values with their natural type.

func NewBoolean(v bool) BooleanValue  { return BooleanValue{T: Boolean{}, V: v} }
func NewInt(v int64) IntValue         { return IntValue{T: Int{}, V: v} }
func NewFloat(v float64) FloatValue   { return FloatValue{T: Float{}, V: v} }
func NewString(v string) StringValue  { return StringValue{T: StringType{}, V: v} }
func NewFile(path string) FileValue   { return FileValue{T: File{}, V: path} }
func NewDirectory(p string) DirectoryValue {
	return DirectoryValue{T: Directory{}, V: p}
}
func NewNull() NullValue { return NullValue{T: Any{None: true}} }

// NewArray builds an ArrayValue of the given item type.
func NewArray(item Type, items ...Value) ArrayValue {
	return ArrayValue{T: Array{Item: item, Nonempty: len(items) > 0}, Items: items}
}

func (v NullValue) JSON() any    { return nil }
func (v BooleanValue) JSON() any { return v.V }
func (v IntValue) JSON() any     { return v.V }
func (v FloatValue) JSON() any   { return v.V }
func (v StringValue) JSON() any  { return v.V }
func (v FileValue) JSON() any    { return v.V }
func (v DirectoryValue) JSON() any {
	return v.V
}

func (v ArrayValue) JSON() any {
	out := make([]any, len(v.Items))
	for i, item := range v.Items {
		out[i] = item.JSON()
	}
	return out
}

func (v MapValue) JSON() any {
	out := make(map[string]any, len(v.Entries))
	for _, e := range v.Entries {
		out[e.Key.String()] = e.Value.JSON()
	}
	return out
}

func (v PairValue) JSON() any {
	return map[string]any{"left": v.Left.JSON(), "right": v.Right.JSON()}
}

func (v StructValue) JSON() any {
	out := make(map[string]any, len(v.Members))
	for _, m := range v.Members {
		out[m.Name] = m.Value.JSON()
	}
	return out
}

func (v NullValue) String() string    { return "None" }
func (v BooleanValue) String() string { return strconv.FormatBool(v.V) }
func (v IntValue) String() string     { return strconv.FormatInt(v.V, 10) }
func (v FloatValue) String() string   { return strconv.FormatFloat(v.V, 'f', 6, 64) }
func (v StringValue) String() string  { return v.V }
func (v FileValue) String() string    { return v.V }
func (v DirectoryValue) String() string {
	return v.V
}

func (v ArrayValue) String() string {
	parts := make([]string, len(v.Items))
	for i, item := range v.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v MapValue) String() string {
	parts := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		parts[i] = fmt.Sprintf("%s: %s", e.Key, e.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (v PairValue) String() string {
	return fmt.Sprintf("(%s, %s)", v.Left, v.Right)
}

func (v StructValue) String() string {
	parts := make([]string, len(v.Members))
	for i, m := range v.Members {
		parts[i] = fmt.Sprintf("%s: %s", m.Name, m.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// IsNull reports whether v is an absent optional.
func IsNull(v Value) bool {
	_, ok := v.(NullValue)
	return ok
}

// ValuesEqual reports deep equality. File and Directory handles
// compare by virtualized path; the runtime canonicalizes handles so
// that equal paths imply the same inode or downloaded URI.
func ValuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case NullValue:
		return IsNull(b)
	case BooleanValue:
		bv, ok := b.(BooleanValue)
		return ok && av.V == bv.V
	case IntValue:
		switch bv := b.(type) {
		case IntValue:
			return av.V == bv.V
		case FloatValue:
			return float64(av.V) == bv.V
		}
	case FloatValue:
		switch bv := b.(type) {
		case FloatValue:
			return av.V == bv.V
		case IntValue:
			return av.V == float64(bv.V)
		}
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av.V == bv.V
	case FileValue:
		bv, ok := b.(FileValue)
		return ok && av.V == bv.V
	case DirectoryValue:
		bv, ok := b.(DirectoryValue)
		return ok && av.V == bv.V
	case ArrayValue:
		bv, ok := b.(ArrayValue)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !ValuesEqual(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case MapValue:
		bv, ok := b.(MapValue)
		if !ok || len(av.Entries) != len(bv.Entries) {
			return false
		}
		for i := range av.Entries {
			if !ValuesEqual(av.Entries[i].Key, bv.Entries[i].Key) ||
				!ValuesEqual(av.Entries[i].Value, bv.Entries[i].Value) {
				return false
			}
		}
		return true
	case PairValue:
		bv, ok := b.(PairValue)
		return ok && ValuesEqual(av.Left, bv.Left) && ValuesEqual(av.Right, bv.Right)
	case StructValue:
		bv, ok := b.(StructValue)
		if !ok || len(av.Members) != len(bv.Members) {
			return false
		}
		for i := range av.Members {
			if av.Members[i].Name != bv.Members[i].Name ||
				!ValuesEqual(av.Members[i].Value, bv.Members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// CoerceValue converts v to type to, materializing numeric promotion
// and stringification. It fails where Coerce(v.Type(), to) is CoerceErr
// or where a runtime constraint (nonempty array, map key duplication)
// is violated.
func CoerceValue(v Value, to Type) (Value, error) {
	if IsNull(v) {
		if to.Optional() {
			return NullValue{T: to}, nil
		}
		if _, ok := to.(Any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce None to non-optional %s", to)
	}
	if _, ok := to.(Any); ok {
		return v, nil
	}

	switch tt := to.(type) {
	case Boolean:
		if bv, ok := v.(BooleanValue); ok {
			return BooleanValue{T: to, V: bv.V}, nil
		}
	case Int:
		if iv, ok := v.(IntValue); ok {
			return IntValue{T: to, V: iv.V}, nil
		}
	case Float:
		switch nv := v.(type) {
		case FloatValue:
			return FloatValue{T: to, V: nv.V}, nil
		case IntValue:
			return FloatValue{T: to, V: float64(nv.V)}, nil
		}
	case StringType:
		switch sv := v.(type) {
		case StringValue:
			return StringValue{T: to, V: sv.V}, nil
		case IntValue, FloatValue, BooleanValue, FileValue, DirectoryValue:
			return StringValue{T: to, V: v.String()}, nil
		}
	case File:
		switch sv := v.(type) {
		case FileValue:
			return FileValue{T: to, V: sv.V}, nil
		case StringValue:
			return FileValue{T: to, V: sv.V}, nil
		}
	case Directory:
		switch sv := v.(type) {
		case DirectoryValue:
			return DirectoryValue{T: to, V: sv.V}, nil
		case StringValue:
			return DirectoryValue{T: to, V: sv.V}, nil
		}
	case Array:
		av, ok := v.(ArrayValue)
		if !ok {
			break
		}
		if tt.Nonempty && len(av.Items) == 0 {
			return nil, fmt.Errorf("empty array where nonempty %s required", to)
		}
		items := make([]Value, len(av.Items))
		for i, item := range av.Items {
			conv, err := CoerceValue(item, tt.Item)
			if err != nil {
				return nil, fmt.Errorf("array item %d: %w", i, err)
			}
			items[i] = conv
		}
		return ArrayValue{T: to, Items: items}, nil
	case Map:
		switch mv := v.(type) {
		case MapValue:
			entries := make([]MapEntry, len(mv.Entries))
			for i, e := range mv.Entries {
				k, err := CoerceValue(e.Key, tt.Key)
				if err != nil {
					return nil, fmt.Errorf("map key: %w", err)
				}
				for _, prev := range entries[:i] {
					if ValuesEqual(prev.Key, k) {
						return nil, fmt.Errorf("duplicate map key %s", k)
					}
				}
				val, err := CoerceValue(e.Value, tt.Value)
				if err != nil {
					return nil, fmt.Errorf("map value for %s: %w", k, err)
				}
				entries[i] = MapEntry{Key: k, Value: val}
			}
			return MapValue{T: to, Entries: entries}, nil
		case StructValue:
			entries := make([]MapEntry, len(mv.Members))
			for i, m := range mv.Members {
				k, err := CoerceValue(NewString(m.Name), tt.Key)
				if err != nil {
					return nil, err
				}
				val, err := CoerceValue(m.Value, tt.Value)
				if err != nil {
					return nil, fmt.Errorf("member %s: %w", m.Name, err)
				}
				entries[i] = MapEntry{Key: k, Value: val}
			}
			return MapValue{T: to, Entries: entries}, nil
		}
	case Pair:
		if pv, ok := v.(PairValue); ok {
			left, err := CoerceValue(pv.Left, tt.Left)
			if err != nil {
				return nil, fmt.Errorf("pair left: %w", err)
			}
			right, err := CoerceValue(pv.Right, tt.Right)
			if err != nil {
				return nil, fmt.Errorf("pair right: %w", err)
			}
			return PairValue{T: to, Left: left, Right: right}, nil
		}
	case StructInstance:
		switch sv := v.(type) {
		case StructValue:
			return coerceStruct(sv, tt)
		case MapValue:
			members := make([]NamedValue, 0, len(tt.Members))
			byKey := make(map[string]Value, len(sv.Entries))
			for _, e := range sv.Entries {
				byKey[e.Key.String()] = e.Value
			}
			for _, m := range tt.Members {
				raw, ok := byKey[m.Name]
				if !ok {
					if m.Type.Optional() {
						members = append(members, NamedValue{Name: m.Name, Value: NullValue{T: m.Type}})
						continue
					}
					return nil, fmt.Errorf("missing member %s initializing %s", m.Name, tt.Name)
				}
				conv, err := CoerceValue(raw, m.Type)
				if err != nil {
					return nil, fmt.Errorf("member %s: %w", m.Name, err)
				}
				members = append(members, NamedValue{Name: m.Name, Value: conv})
			}
			return StructValue{T: to, Members: members}, nil
		}
	case Object:
		switch sv := v.(type) {
		case StructValue:
			return StructValue{T: to, Members: sv.Members}, nil
		case MapValue:
			members := make([]NamedValue, len(sv.Entries))
			for i, e := range sv.Entries {
				members[i] = NamedValue{Name: e.Key.String(), Value: e.Value}
			}
			return StructValue{T: to, Members: members}, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %s to %s", v.Type(), to)
}

func coerceStruct(sv StructValue, tt StructInstance) (Value, error) {
	byName := make(map[string]Value, len(sv.Members))
	for _, m := range sv.Members {
		byName[m.Name] = m.Value
	}
	members := make([]NamedValue, 0, len(tt.Members))
	for _, m := range tt.Members {
		raw, ok := byName[m.Name]
		if !ok {
			if m.Type.Optional() {
				members = append(members, NamedValue{Name: m.Name, Value: NullValue{T: m.Type}})
				continue
			}
			return nil, fmt.Errorf("missing member %s initializing %s", m.Name, tt.Name)
		}
		conv, err := CoerceValue(raw, m.Type)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Name, err)
		}
		members = append(members, NamedValue{Name: m.Name, Value: conv})
	}
	for _, m := range sv.Members {
		found := false
		for _, tm := range tt.Members {
			if tm.Name == m.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unexpected member %s initializing %s", m.Name, tt.Name)
		}
	}
	return StructValue{T: tt, Members: members}, nil
}
