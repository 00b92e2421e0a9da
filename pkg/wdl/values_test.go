package wdl

import (
	"reflect"
	"testing"
)

func TestCoerceValue_NumericPromotion(t *testing.T) {
	v, err := CoerceValue(NewInt(3), Float{})
	if err != nil {
		t.Fatalf("CoerceValue error: %v", err)
	}
	fv, ok := v.(FloatValue)
	if !ok || fv.V != 3.0 {
		t.Errorf("Int 3 into Float slot = %#v, want FloatValue 3.0", v)
	}
}

func TestCoerceValue_NonemptyViolation(t *testing.T) {
	empty := NewArray(Int{})
	if _, err := CoerceValue(empty, Array{Item: Int{}, Nonempty: true}); err == nil {
		t.Error("empty array into Array[Int]+ should fail")
	}
}

func TestCoerceValue_NullIntoOptional(t *testing.T) {
	v, err := CoerceValue(NewNull(), Int{Opt: true})
	if err != nil {
		t.Fatalf("CoerceValue error: %v", err)
	}
	if !IsNull(v) {
		t.Errorf("None into Int? = %#v, want null", v)
	}
	if _, err := CoerceValue(NewNull(), Int{}); err == nil {
		t.Error("None into Int should fail")
	}
}

func TestValueFromJSON_Scalars(t *testing.T) {
	cases := []struct {
		ty   Type
		raw  any
		want Value
	}{
		{Int{}, float64(7), IntValue{T: Int{}, V: 7}},
		{Float{}, float64(2.5), FloatValue{T: Float{}, V: 2.5}},
		{Boolean{}, true, BooleanValue{T: Boolean{}, V: true}},
		{StringType{}, "hi", StringValue{T: StringType{}, V: "hi"}},
		{File{}, "/tmp/x", FileValue{T: File{}, V: "/tmp/x"}},
	}
	for _, c := range cases {
		got, err := ValueFromJSON(c.ty, c.raw)
		if err != nil {
			t.Fatalf("ValueFromJSON(%s, %v) error: %v", c.ty, c.raw, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("ValueFromJSON(%s, %v) = %#v, want %#v", c.ty, c.raw, got, c.want)
		}
	}
}

func TestValueFromJSON_NullOptional(t *testing.T) {
	got, err := ValueFromJSON(StringType{Opt: true}, nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if !IsNull(got) {
		t.Errorf("null into String? = %#v, want null", got)
	}
	if _, err := ValueFromJSON(StringType{}, nil); err == nil {
		t.Error("null into String should fail")
	}
}

func TestValueFromJSON_NestedRoundTrip(t *testing.T) {
	ty := Map{Key: StringType{}, Value: Array{Item: Int{}}}
	raw := map[string]any{
		"a": []any{float64(1), float64(2)},
		"b": []any{float64(3)},
	}
	v, err := ValueFromJSON(ty, raw)
	if err != nil {
		t.Fatalf("ValueFromJSON error: %v", err)
	}
	back := v.JSON()
	want := map[string]any{"a": []any{int64(1), int64(2)}, "b": []any{int64(3)}}
	if !reflect.DeepEqual(back, want) {
		t.Errorf("round trip = %#v, want %#v", back, want)
	}
}

func TestValueFromJSON_IntRejectsFraction(t *testing.T) {
	if _, err := ValueFromJSON(Int{}, float64(1.5)); err == nil {
		t.Error("1.5 into Int should fail")
	}
}

func TestValuesEqual_MixedNumeric(t *testing.T) {
	if !ValuesEqual(NewInt(2), NewFloat(2.0)) {
		t.Error("2 == 2.0 should hold")
	}
	if ValuesEqual(NewInt(2), NewFloat(2.5)) {
		t.Error("2 == 2.5 should not hold")
	}
}

func TestStructCoercion_FillsOptionals(t *testing.T) {
	person := StructInstance{Name: "Person", Members: []StructMember{
		{Name: "name", Type: StringType{}},
		{Name: "nick", Type: StringType{Opt: true}},
	}}
	lit := StructValue{
		T:       Object{Members: []StructMember{{Name: "name", Type: StringType{}}}},
		Members: []NamedValue{{Name: "name", Value: NewString("Alyssa")}},
	}
	v, err := CoerceValue(lit, person)
	if err != nil {
		t.Fatalf("CoerceValue error: %v", err)
	}
	sv := v.(StructValue)
	if len(sv.Members) != 2 || sv.Members[0].Name != "name" || !IsNull(sv.Members[1].Value) {
		t.Errorf("struct coercion = %#v, want name + absent nick", sv.Members)
	}
}
