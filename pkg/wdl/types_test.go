package wdl

import "testing"

func TestCoerce_Identity(t *testing.T) {
	cases := []Type{Boolean{}, Int{}, Float{}, StringType{}, File{}, Directory{},
		Array{Item: Int{}}, Map{Key: StringType{}, Value: Int{}}}
	for _, ty := range cases {
		if got := Coerce(ty, ty); got.Verdict != CoerceOK {
			t.Errorf("Coerce(%s, %s) = %v, want OK", ty, ty, got.Verdict)
		}
	}
}

func TestCoerce_OptionalWidening(t *testing.T) {
	if got := Coerce(Int{}, Int{Opt: true}); got.Verdict != CoerceOK {
		t.Errorf("Int -> Int? = %v, want OK", got.Verdict)
	}
	got := Coerce(Int{Opt: true}, Int{})
	if got.Verdict != CoerceErr || !got.Quantity {
		t.Errorf("Int? -> Int = %+v, want quantity error", got)
	}
}

func TestCoerce_NumericWidening(t *testing.T) {
	if got := Coerce(Int{}, Float{}); got.Verdict != CoerceOK {
		t.Errorf("Int -> Float = %v, want OK", got.Verdict)
	}
	if got := Coerce(Float{}, Int{}); got.Verdict != CoerceErr {
		t.Errorf("Float -> Int = %v, want Err", got.Verdict)
	}
}

func TestCoerce_Stringification(t *testing.T) {
	for _, from := range []Type{Int{}, Float{}, Boolean{}, File{}} {
		got := Coerce(from, StringType{})
		if got.Verdict != CoerceWarn || got.Warning != WarnStringCoercion {
			t.Errorf("%s -> String = %+v, want string-coercion warning", from, got)
		}
	}
}

func TestCoerce_StringToFile(t *testing.T) {
	got := Coerce(StringType{}, File{})
	if got.Verdict != CoerceWarn || got.Warning != WarnFileCoercion {
		t.Errorf("String -> File = %+v, want file-coercion warning", got)
	}
	got = Coerce(StringType{}, Directory{})
	if got.Verdict != CoerceWarn || got.Warning != WarnFileCoercion {
		t.Errorf("String -> Directory = %+v, want file-coercion warning", got)
	}
}

func TestCoerce_ArrayCovariance(t *testing.T) {
	if got := Coerce(Array{Item: Int{}}, Array{Item: Float{}}); got.Verdict != CoerceOK {
		t.Errorf("Array[Int] -> Array[Float] = %v, want OK", got.Verdict)
	}
	got := Coerce(Array{Item: Int{}}, Array{Item: Int{}, Nonempty: true})
	if got.Verdict != CoerceWarn || got.Warning != WarnEmptyNonempty {
		t.Errorf("Array[Int] -> Array[Int]+ = %+v, want warning", got)
	}
	if got := Coerce(Array{Item: StringType{}}, Array{Item: Boolean{}}); got.Verdict != CoerceErr {
		t.Errorf("Array[String] -> Array[Boolean] = %v, want Err", got.Verdict)
	}
}

func TestCoerce_StructFromObject(t *testing.T) {
	person := StructInstance{Name: "Person", Members: []StructMember{
		{Name: "name", Type: StringType{}},
		{Name: "age", Type: Int{}},
	}}
	lit := Object{Members: []StructMember{
		{Name: "name", Type: StringType{}},
		{Name: "age", Type: Int{}},
	}}
	if got := Coerce(lit, person); got.Verdict != CoerceOK {
		t.Errorf("object literal -> Person = %v, want OK", got.Verdict)
	}
	missing := Object{Members: []StructMember{{Name: "name", Type: StringType{}}}}
	if got := Coerce(missing, person); got.Verdict != CoerceErr {
		t.Errorf("incomplete object -> Person = %v, want Err", got.Verdict)
	}
}

func TestTypesEqual_StructAliasing(t *testing.T) {
	members := []StructMember{{Name: "x", Type: Int{}}}
	a := StructInstance{Name: "A", Members: members}
	b := StructInstance{Name: "B", Members: members}
	if !TypesEqual(a, b) {
		t.Error("aliased structs with identical members should be equal")
	}
	c := StructInstance{Name: "C", Members: []StructMember{{Name: "x", Type: Float{}}}}
	if TypesEqual(a, c) {
		t.Error("structs with different member types should not be equal")
	}
}

func TestTypesEqual_Any(t *testing.T) {
	if !TypesEqual(Any{}, Int{Opt: true}) {
		t.Error("Any should unify with Int?")
	}
	if !TypesEqual(StringType{}, Any{}) {
		t.Error("String should unify with Any")
	}
}

func TestUnify_Numeric(t *testing.T) {
	got, err := Unify([]Type{Int{}, Float{}, Int{}})
	if err != nil {
		t.Fatalf("Unify error: %v", err)
	}
	if got.String() != "Float" {
		t.Errorf("Unify(Int, Float, Int) = %s, want Float", got)
	}
}

func TestUnify_NonePropagatesOptional(t *testing.T) {
	got, err := Unify([]Type{Int{}, Any{None: true}})
	if err != nil {
		t.Fatalf("Unify error: %v", err)
	}
	if !got.Optional() {
		t.Errorf("Unify(Int, None) = %s, want optional", got)
	}
}

func TestUnify_Fails(t *testing.T) {
	if _, err := Unify([]Type{Int{}, Map{Key: StringType{}, Value: Int{}}}); err == nil {
		t.Error("Unify(Int, Map) should fail")
	}
}

func TestCheckQuant(t *testing.T) {
	if CheckQuant(Int{Opt: true}, Int{}, false) {
		t.Error("Int? -> Int should be rejected with strict quant check")
	}
	if !CheckQuant(Int{Opt: true}, Int{}, true) {
		t.Error("Int? -> Int should pass with relaxed quant check")
	}
	if CheckQuant(StringType{}, Int{}, true) {
		t.Error("String -> Int should fail regardless of quant relaxation")
	}
}
