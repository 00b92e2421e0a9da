package wdl

import (
	"fmt"
	"strings"
)

// Type is the closed variant of WDL static types. Every type carries
// an optional quantifier (T?); arrays additionally carry a nonempty
// flag (Array[T]+).
type Type interface {
	fmt.Stringer
	// Optional reports whether the type carries the ? quantifier.
	Optional() bool
	// WithOptional returns a copy of the type with the quantifier set.
	WithOptional(opt bool) Type

	isType()
}

type (
	// Boolean is the WDL Boolean type.
	Boolean struct{ Opt bool }
	// Int is the WDL Int type (64-bit).
	Int struct{ Opt bool }
	// Float is the WDL Float type (IEEE double).
	Float struct{ Opt bool }
	// StringType is the WDL String type.
	StringType struct{ Opt bool }
	// File is the WDL File type; values hold virtualized paths.
	File struct{ Opt bool }
	// Directory is the WDL Directory type.
	Directory struct{ Opt bool }

	// Array is Array[Item] with an optional nonempty (+) flag.
	Array struct {
		Item     Type
		Opt      bool
		Nonempty bool
	}
	// Map is Map[Key,Value].
	Map struct {
		Key, Value Type
		Opt        bool
	}
	// Pair is Pair[Left,Right].
	Pair struct {
		Left, Right Type
		Opt         bool
	}
	// StructInstance names a struct type; Members is nil until the
	// typechecker resolves the name against the document's typedefs.
	// Member order is the definition order.
	StructInstance struct {
		Name    string
		Members []StructMember
		Opt     bool
	}
	// Object is the legacy untyped record, retained only to
	// initialize structs and Map[String,String].
	Object struct {
		Members []StructMember
		Opt     bool
	}
	// Any is the inference placeholder; None marks the type of the
	// None literal (an Any that is vacuously optional).
	Any struct {
		Opt  bool
		None bool
	}
)

// StructMember is one named, ordered member of a struct or object type.
type StructMember struct {
	Name string
	Type Type
}

func (Boolean) isType()        {}
func (Int) isType()            {}
func (Float) isType()          {}
func (StringType) isType()     {}
func (File) isType()           {}
func (Directory) isType()      {}
func (Array) isType()          {}
func (Map) isType()            {}
func (Pair) isType()           {}
func (StructInstance) isType() {}
func (Object) isType()         {}
func (Any) isType()            {}

func (t Boolean) Optional() bool        { return t.Opt }
func (t Int) Optional() bool            { return t.Opt }
func (t Float) Optional() bool          { return t.Opt }
func (t StringType) Optional() bool     { return t.Opt }
func (t File) Optional() bool           { return t.Opt }
func (t Directory) Optional() bool      { return t.Opt }
func (t Array) Optional() bool          { return t.Opt }
func (t Map) Optional() bool            { return t.Opt }
func (t Pair) Optional() bool           { return t.Opt }
func (t StructInstance) Optional() bool { return t.Opt }
func (t Object) Optional() bool         { return t.Opt }
func (t Any) Optional() bool            { return t.Opt || t.None }

func (t Boolean) WithOptional(opt bool) Type        { t.Opt = opt; return t }
func (t Int) WithOptional(opt bool) Type            { t.Opt = opt; return t }
func (t Float) WithOptional(opt bool) Type          { t.Opt = opt; return t }
func (t StringType) WithOptional(opt bool) Type     { t.Opt = opt; return t }
func (t File) WithOptional(opt bool) Type           { t.Opt = opt; return t }
func (t Directory) WithOptional(opt bool) Type      { t.Opt = opt; return t }
func (t Array) WithOptional(opt bool) Type          { t.Opt = opt; return t }
func (t Map) WithOptional(opt bool) Type            { t.Opt = opt; return t }
func (t Pair) WithOptional(opt bool) Type           { t.Opt = opt; return t }
func (t StructInstance) WithOptional(opt bool) Type { t.Opt = opt; return t }
func (t Object) WithOptional(opt bool) Type         { t.Opt = opt; return t }
func (t Any) WithOptional(opt bool) Type            { t.Opt = opt; return t }

func quant(opt bool) string {
	if opt {
		return "?"
	}
	return ""
}

func (t Boolean) String() string    { return "Boolean" + quant(t.Opt) }
func (t Int) String() string        { return "Int" + quant(t.Opt) }
func (t Float) String() string      { return "Float" + quant(t.Opt) }
func (t StringType) String() string { return "String" + quant(t.Opt) }
func (t File) String() string       { return "File" + quant(t.Opt) }
func (t Directory) String() string  { return "Directory" + quant(t.Opt) }

func (t Array) String() string {
	s := fmt.Sprintf("Array[%s]", t.Item)
	if t.Nonempty {
		s += "+"
	}
	return s + quant(t.Opt)
}

func (t Map) String() string {
	return fmt.Sprintf("Map[%s,%s]%s", t.Key, t.Value, quant(t.Opt))
}

func (t Pair) String() string {
	return fmt.Sprintf("Pair[%s,%s]%s", t.Left, t.Right, quant(t.Opt))
}

func (t StructInstance) String() string {
	if t.Name != "" {
		return t.Name + quant(t.Opt)
	}
	var b strings.Builder
	b.WriteString("struct{")
	for i, m := range t.Members {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", m.Name, m.Type)
	}
	b.WriteString("}")
	return b.String() + quant(t.Opt)
}

func (t Object) String() string { return "Object" + quant(t.Opt) }

func (t Any) String() string {
	if t.None {
		return "None"
	}
	return "Any" + quant(t.Opt)
}

// TypesEqual reports structural equality of two types. Any unifies
// with any type; on a match involving Any, the optionality of the
// non-Any side is what counts, so Any comparisons ignore quantifiers.
// Struct types compare by member list, so aliased struct names with
// identical members are equal.
func TypesEqual(a, b Type) bool {
	if _, ok := a.(Any); ok {
		return true
	}
	if _, ok := b.(Any); ok {
		return true
	}
	if a.Optional() != b.Optional() {
		return false
	}
	switch at := a.(type) {
	case Boolean:
		_, ok := b.(Boolean)
		return ok
	case Int:
		_, ok := b.(Int)
		return ok
	case Float:
		_, ok := b.(Float)
		return ok
	case StringType:
		_, ok := b.(StringType)
		return ok
	case File:
		_, ok := b.(File)
		return ok
	case Directory:
		_, ok := b.(Directory)
		return ok
	case Array:
		bt, ok := b.(Array)
		return ok && at.Nonempty == bt.Nonempty && TypesEqual(at.Item, bt.Item)
	case Map:
		bt, ok := b.(Map)
		return ok && TypesEqual(at.Key, bt.Key) && TypesEqual(at.Value, bt.Value)
	case Pair:
		bt, ok := b.(Pair)
		return ok && TypesEqual(at.Left, bt.Left) && TypesEqual(at.Right, bt.Right)
	case StructInstance:
		bt, ok := b.(StructInstance)
		if !ok {
			return false
		}
		return membersEqual(at.Members, bt.Members)
	case Object:
		_, ok := b.(Object)
		return ok
	}
	return false
}

func membersEqual(a, b []StructMember) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !TypesEqual(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

// CoercionVerdict classifies a type coercion.
type CoercionVerdict int

const (
	CoerceOK CoercionVerdict = iota
	CoerceWarn
	CoerceErr
)

// Warning kinds attached to CoerceWarn verdicts.
const (
	WarnStringCoercion = "string-coercion"
	WarnFileCoercion   = "file-coercion"
	WarnEmptyNonempty  = "possibly-empty-to-nonempty"
)

// Coercion is the result of Coerce: the verdict, the warning kind for
// CoerceWarn, and Quantity marking failures that are purely T? → T
// (which --no-quant-check relaxes).
type Coercion struct {
	Verdict  CoercionVerdict
	Warning  string
	Quantity bool
}

func coerceOK() Coercion              { return Coercion{Verdict: CoerceOK} }
func coerceWarn(kind string) Coercion { return Coercion{Verdict: CoerceWarn, Warning: kind} }
func coerceErr() Coercion             { return Coercion{Verdict: CoerceErr} }

func worst(a, b Coercion) Coercion {
	if b.Verdict > a.Verdict {
		a.Verdict = b.Verdict
		a.Warning = b.Warning
	}
	a.Quantity = a.Quantity || b.Quantity
	return a
}

// Coerce decides whether a value of type from may flow into a slot of
// type to. The case order follows the WDL coercion rules: identity,
// optional widening, numeric widening, stringification (warned),
// string-to-file (warned), container covariance, struct/object
// initialization.
func Coerce(from, to Type) Coercion {
	// Any flows anywhere and anything flows into Any; None (the
	// optional Any) only flows into optional slots.
	if ft, ok := from.(Any); ok {
		if ft.None && !to.Optional() {
			if _, toAny := to.(Any); !toAny {
				return Coercion{Verdict: CoerceErr, Quantity: true}
			}
		}
		return coerceOK()
	}
	if _, ok := to.(Any); ok {
		return coerceOK()
	}

	// Quantifier check: T? may not flow into T.
	res := coerceOK()
	if from.Optional() && !to.Optional() {
		res = Coercion{Verdict: CoerceErr, Quantity: true}
	}

	base := coerceBase(from, to)
	if base.Verdict == CoerceErr {
		return base
	}
	return worst(base, res)
}

// coerceBase decides coercion ignoring the outermost quantifiers.
func coerceBase(from, to Type) Coercion {
	switch tt := to.(type) {
	case Boolean:
		if _, ok := from.(Boolean); ok {
			return coerceOK()
		}
	case Int:
		if _, ok := from.(Int); ok {
			return coerceOK()
		}
	case Float:
		switch from.(type) {
		case Float, Int:
			return coerceOK()
		}
	case StringType:
		switch from.(type) {
		case StringType:
			return coerceOK()
		case Int, Float, Boolean:
			return coerceWarn(WarnStringCoercion)
		case File, Directory:
			return coerceWarn(WarnStringCoercion)
		}
	case File:
		switch from.(type) {
		case File:
			return coerceOK()
		case StringType:
			return coerceWarn(WarnFileCoercion)
		}
	case Directory:
		switch from.(type) {
		case Directory:
			return coerceOK()
		case StringType:
			return coerceWarn(WarnFileCoercion)
		}
	case Array:
		ft, ok := from.(Array)
		if !ok {
			break
		}
		res := Coerce(ft.Item, tt.Item)
		if res.Verdict == CoerceErr {
			return res
		}
		if tt.Nonempty && !ft.Nonempty {
			res = worst(res, coerceWarn(WarnEmptyNonempty))
		}
		return res
	case Map:
		switch ft := from.(type) {
		case Map:
			res := Coerce(ft.Key, tt.Key)
			res = worst(res, Coerce(ft.Value, tt.Value))
			if res.Verdict == CoerceErr {
				return coerceErr()
			}
			return res
		case Object:
			// Object literal initializing Map[String,V].
			if _, ok := tt.Key.(StringType); ok {
				res := coerceOK()
				for _, m := range ft.Members {
					res = worst(res, Coerce(m.Type, tt.Value))
				}
				if res.Verdict == CoerceErr {
					return coerceErr()
				}
				return res
			}
		case StructInstance:
			if _, ok := tt.Key.(StringType); ok {
				res := coerceOK()
				for _, m := range ft.Members {
					res = worst(res, Coerce(m.Type, tt.Value))
				}
				if res.Verdict == CoerceErr {
					return coerceErr()
				}
				return res
			}
		}
	case Pair:
		if ft, ok := from.(Pair); ok {
			res := Coerce(ft.Left, tt.Left)
			res = worst(res, Coerce(ft.Right, tt.Right))
			if res.Verdict == CoerceErr {
				return coerceErr()
			}
			return res
		}
	case StructInstance:
		switch ft := from.(type) {
		case StructInstance:
			if membersCoerce(ft.Members, tt.Members) {
				return coerceOK()
			}
		case Object:
			// Object literal initializes a struct by member name.
			if objectInitializes(ft.Members, tt.Members) {
				return coerceOK()
			}
		case Map:
			// Map[String,V] may initialize a struct when every member
			// accepts V.
			if _, ok := ft.Key.(StringType); ok {
				ok := true
				for _, m := range tt.Members {
					if Coerce(ft.Value, m.Type).Verdict == CoerceErr {
						ok = false
						break
					}
				}
				if ok {
					return coerceOK()
				}
			}
		}
	case Object:
		switch from.(type) {
		case Object, StructInstance, Map:
			return coerceOK()
		}
	}
	return coerceErr()
}

func membersCoerce(from, to []StructMember) bool {
	if len(from) != len(to) {
		return false
	}
	byName := make(map[string]Type, len(from))
	for _, m := range from {
		byName[m.Name] = m.Type
	}
	for _, m := range to {
		ft, ok := byName[m.Name]
		if !ok || !TypesEqual(ft, m.Type) {
			return false
		}
	}
	return true
}

func objectInitializes(from, to []StructMember) bool {
	byName := make(map[string]Type, len(from))
	for _, m := range from {
		byName[m.Name] = m.Type
	}
	for _, m := range to {
		ft, ok := byName[m.Name]
		if !ok {
			if m.Type.Optional() {
				continue
			}
			return false
		}
		if Coerce(ft, m.Type).Verdict == CoerceErr {
			return false
		}
	}
	// No extraneous members.
	names := make(map[string]bool, len(to))
	for _, m := range to {
		names[m.Name] = true
	}
	for _, m := range from {
		if !names[m.Name] {
			return false
		}
	}
	return true
}

// CheckQuant reports whether from may flow into to respecting the
// optional quantifier; T? → T is rejected. Callers pass relax=true
// when the quant check is disabled by configuration.
func CheckQuant(from, to Type, relax bool) bool {
	c := Coerce(from, to)
	if c.Verdict != CoerceErr {
		return true
	}
	return relax && c.Quantity
}

// Unify computes the least upper bound of the given types, used for
// container literals. It fails when no common type exists.
func Unify(types []Type) (Type, error) {
	if len(types) == 0 {
		return Any{}, nil
	}
	result := types[0]
	for _, t := range types[1:] {
		var err error
		result, err = lub(result, t)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func lub(a, b Type) (Type, error) {
	if at, ok := a.(Any); ok {
		// None forces optionality onto the other side.
		if at.None || at.Opt {
			return b.WithOptional(true), nil
		}
		return b, nil
	}
	if bt, ok := b.(Any); ok {
		if bt.None || bt.Opt {
			return a.WithOptional(true), nil
		}
		return a, nil
	}

	opt := a.Optional() || b.Optional()

	switch at := a.(type) {
	case Int:
		switch b.(type) {
		case Int:
			return Int{Opt: opt}, nil
		case Float:
			return Float{Opt: opt}, nil
		}
	case Float:
		switch b.(type) {
		case Int, Float:
			return Float{Opt: opt}, nil
		}
	case Array:
		if bt, ok := b.(Array); ok {
			item, err := lub(at.Item, bt.Item)
			if err != nil {
				return nil, err
			}
			return Array{Item: item, Opt: opt, Nonempty: at.Nonempty && bt.Nonempty}, nil
		}
	case Map:
		if bt, ok := b.(Map); ok {
			key, err := lub(at.Key, bt.Key)
			if err != nil {
				return nil, err
			}
			val, err := lub(at.Value, bt.Value)
			if err != nil {
				return nil, err
			}
			return Map{Key: key, Value: val, Opt: opt}, nil
		}
	case Pair:
		if bt, ok := b.(Pair); ok {
			left, err := lub(at.Left, bt.Left)
			if err != nil {
				return nil, err
			}
			right, err := lub(at.Right, bt.Right)
			if err != nil {
				return nil, err
			}
			return Pair{Left: left, Right: right, Opt: opt}, nil
		}
	}

	if TypesEqual(a.WithOptional(false), b.WithOptional(false)) {
		return a.WithOptional(opt), nil
	}
	return nil, fmt.Errorf("no common type for %s and %s", a, b)
}
