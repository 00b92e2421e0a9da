package wdl

import "testing"

func TestEnv_BindLookup(t *testing.T) {
	var env Env[int]
	env = env.Bind("a", 1).Bind("b", 2)

	if v, ok := env.Lookup("a"); !ok || v != 1 {
		t.Errorf("Lookup(a) = %d, %v", v, ok)
	}
	if _, ok := env.Lookup("c"); ok {
		t.Error("Lookup(c) should miss")
	}
}

func TestEnv_Shadowing(t *testing.T) {
	var env Env[int]
	env = env.Bind("x", 1)
	inner := env.Bind("x", 2)

	if v, _ := inner.Lookup("x"); v != 2 {
		t.Errorf("shadowed Lookup(x) = %d, want 2", v)
	}
	// The original environment is unchanged (structure sharing).
	if v, _ := env.Lookup("x"); v != 1 {
		t.Errorf("original Lookup(x) = %d, want 1", v)
	}
}

func TestEnv_Namespace(t *testing.T) {
	var outputs Env[int]
	outputs = outputs.Bind("out", 7)
	var env Env[int]
	env = env.BindNamespace("call", outputs)

	if v, ok := env.Lookup("call.out"); !ok || v != 7 {
		t.Errorf("Lookup(call.out) = %d, %v, want 7", v, ok)
	}
	if _, ok := env.Lookup("call"); ok {
		t.Error("namespace should not resolve as a plain binding")
	}
	ns, ok := env.Namespace("call")
	if !ok {
		t.Fatal("Namespace(call) should resolve")
	}
	if v, _ := ns.Lookup("out"); v != 7 {
		t.Errorf("namespace Lookup(out) = %d, want 7", v)
	}
}

func TestEnv_Names(t *testing.T) {
	var env Env[int]
	env = env.Bind("a", 1).Bind("b", 2).Bind("a", 3)
	names := env.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}
