package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/me/gowdl/pkg/wdl"
)

func testWorkflow() *wdl.Workflow {
	return &wdl.Workflow{
		Name: "w",
		Inputs: []*wdl.Decl{
			{Name: "who", Type: wdl.StringType{}},
			{Name: "n", Type: wdl.Int{}},
			{Name: "ratio", Type: wdl.Float{}},
			{Name: "on", Type: wdl.Boolean{}},
			{Name: "xs", Type: wdl.Array{Item: wdl.Int{}}},
			{Name: "opt", Type: wdl.Int{Opt: true}},
		},
	}
}

func TestBuildInputsJSON_TypedPositionals(t *testing.T) {
	wf := testWorkflow()
	inputs, err := buildInputsJSON("w", declFinder(wf, nil), "",
		[]string{"who=Alyssa", "n=7", "ratio=0.5", "on=true"}, nil, nil)
	if err != nil {
		t.Fatalf("buildInputsJSON error: %v", err)
	}
	want := map[string]any{
		"w.who":   "Alyssa",
		"w.n":     int64(7),
		"w.ratio": 0.5,
		"w.on":    true,
	}
	if !reflect.DeepEqual(inputs, want) {
		t.Errorf("inputs = %#v, want %#v", inputs, want)
	}
}

func TestBuildInputsJSON_RepeatedBecomesArray(t *testing.T) {
	wf := testWorkflow()
	inputs, err := buildInputsJSON("w", declFinder(wf, nil), "",
		[]string{"xs=1", "xs=2", "xs=3"}, nil, nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	arr, ok := inputs["w.xs"].([]any)
	if !ok || len(arr) != 3 || arr[2] != int64(3) {
		t.Errorf("w.xs = %#v", inputs["w.xs"])
	}
}

func TestBuildInputsJSON_EmptyAndNone(t *testing.T) {
	wf := testWorkflow()
	inputs, err := buildInputsJSON("w", declFinder(wf, nil), "",
		nil, []string{"xs"}, []string{"opt"})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if arr, ok := inputs["w.xs"].([]any); !ok || len(arr) != 0 {
		t.Errorf("w.xs = %#v, want empty array", inputs["w.xs"])
	}
	if v, present := inputs["w.opt"]; !present || v != nil {
		t.Errorf("w.opt = %#v, want explicit null", v)
	}
}

func TestBuildInputsJSON_MergesInputFile(t *testing.T) {
	wf := testWorkflow()
	path := filepath.Join(t.TempDir(), "in.json")
	if err := os.WriteFile(path, []byte(`{"w.who": "from-file", "w.n": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	inputs, err := buildInputsJSON("w", declFinder(wf, nil), path,
		[]string{"who=override"}, nil, nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if inputs["w.who"] != "override" {
		t.Errorf("positional should override the file: %v", inputs["w.who"])
	}
	if inputs["w.n"] != float64(1) {
		t.Errorf("file value lost: %#v", inputs["w.n"])
	}
}

func TestBuildInputsJSON_RejectsUnknownAndMalformed(t *testing.T) {
	wf := testWorkflow()
	if _, err := buildInputsJSON("w", declFinder(wf, nil), "", []string{"nope=1"}, nil, nil); err == nil {
		t.Error("unknown input should fail")
	}
	if _, err := buildInputsJSON("w", declFinder(wf, nil), "", []string{"who"}, nil, nil); err == nil {
		t.Error("token without = should fail")
	}
	if _, err := buildInputsJSON("w", declFinder(wf, nil), "", []string{"n=abc"}, nil, nil); err == nil {
		t.Error("non-integer for Int should fail")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	typeErr := wdl.TypeErrorf(wdl.StaticTypeMismatch, wdl.Pos{}, "bad")
	if got := ExitCode(typeErr); got != 2 {
		t.Errorf("ExitCode(type error) = %d, want 2", got)
	}
	taskErr := &wdl.TaskFailure{Task: "t", ExitStatus: 7}
	if got := ExitCode(taskErr); got != 7 {
		t.Errorf("ExitCode(task failure) = %d, want 7", got)
	}
}
