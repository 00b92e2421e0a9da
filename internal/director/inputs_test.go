package director

import (
	"testing"

	"github.com/me/gowdl/pkg/wdl"
)

func sampleWorkflow() *wdl.Workflow {
	task := &wdl.Task{
		Name: "t",
		Inputs: []*wdl.Decl{
			{Name: "n", Type: wdl.Int{}},
		},
	}
	return &wdl.Workflow{
		Name: "w",
		Inputs: []*wdl.Decl{
			{Name: "who", Type: wdl.StringType{}},
			{Name: "x", Type: wdl.Int{Opt: true}},
		},
		Body: []wdl.WorkflowNode{
			&wdl.Call{Callee: "t", Task: task},
		},
	}
}

func TestParseWorkflowInputs_Namespaced(t *testing.T) {
	wf := sampleWorkflow()
	env, err := ParseWorkflowInputs(wf, map[string]any{
		"w.who": "Alyssa",
		"w.t.n": float64(3),
	})
	if err != nil {
		t.Fatalf("ParseWorkflowInputs error: %v", err)
	}
	if v, ok := env.Lookup("who"); !ok || v.String() != "Alyssa" {
		t.Errorf("who = %v, %v", v, ok)
	}
	if v, ok := env.Lookup("t.n"); !ok || !wdl.ValuesEqual(v, wdl.NewInt(3)) {
		t.Errorf("t.n = %v, %v", v, ok)
	}
}

func TestParseWorkflowInputs_UnknownKey(t *testing.T) {
	wf := sampleWorkflow()
	_, err := ParseWorkflowInputs(wf, map[string]any{"w.nope": 1})
	if err == nil || wdl.KindOf(err) != wdl.KindInputError {
		t.Fatalf("error = %v, want InputError", err)
	}
}

func TestParseWorkflowInputs_NullOptional(t *testing.T) {
	wf := sampleWorkflow()
	env, err := ParseWorkflowInputs(wf, map[string]any{"w.x": nil, "w.who": "a"})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	v, ok := env.Lookup("x")
	if !ok || !wdl.IsNull(v) {
		t.Errorf("x = %v, %v; want explicit None", v, ok)
	}

	_, err = ParseWorkflowInputs(wf, map[string]any{"w.who": nil})
	if err == nil {
		t.Error("null for a required input should fail")
	}
}

func TestParseWorkflowInputs_TypeMismatch(t *testing.T) {
	wf := sampleWorkflow()
	_, err := ParseWorkflowInputs(wf, map[string]any{"w.who": float64(5)})
	if err == nil || wdl.KindOf(err) != wdl.KindInputError {
		t.Fatalf("error = %v, want InputError", err)
	}
}

func TestParseTaskInputs_QualifiedAndBare(t *testing.T) {
	task := &wdl.Task{
		Name:   "t",
		Inputs: []*wdl.Decl{{Name: "n", Type: wdl.Int{}}},
	}
	env, err := ParseTaskInputs(task, map[string]any{"t.n": float64(7)})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if v, _ := env.Lookup("n"); !wdl.ValuesEqual(v, wdl.NewInt(7)) {
		t.Errorf("n = %v", v)
	}

	env, err = ParseTaskInputs(task, map[string]any{"n": float64(8)})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if v, _ := env.Lookup("n"); !wdl.ValuesEqual(v, wdl.NewInt(8)) {
		t.Errorf("bare n = %v", v)
	}
}
