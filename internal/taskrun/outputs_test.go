package taskrun

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

func TestResolveOutputPath_RelativeInWorkDir(t *testing.T) {
	callDir := t.TempDir()
	workDir := filepath.Join(callDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "m.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	host, err := resolveOutputPath("m.txt", false, callDir, workDir)
	if err != nil {
		t.Fatalf("resolveOutputPath error: %v", err)
	}
	if host != filepath.Join(workDir, "m.txt") {
		t.Errorf("host = %q", host)
	}
}

func TestResolveOutputPath_ContainerView(t *testing.T) {
	callDir := t.TempDir()
	workDir := filepath.Join(callDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "out.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	host, err := resolveOutputPath("/var/spool/wdl/work/out.bin", false, callDir, workDir)
	if err != nil {
		t.Fatalf("resolveOutputPath error: %v", err)
	}
	if host != filepath.Join(workDir, "out.bin") {
		t.Errorf("host = %q", host)
	}
}

func TestResolveOutputPath_RejectsOutside(t *testing.T) {
	callDir := t.TempDir()
	workDir := filepath.Join(callDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "outside.txt")
	if err := os.WriteFile(outside, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := resolveOutputPath(outside, false, callDir, workDir)
	if err == nil {
		t.Fatal("output outside the call directory should be rejected")
	}
	if wdl.KindOf(err) != wdl.KindFilesystem {
		t.Errorf("kind = %v, want FilesystemError", wdl.KindOf(err))
	}
}

func TestCollectOutputs_OptionalMissingIsNone(t *testing.T) {
	callDir := t.TempDir()
	workDir := filepath.Join(callDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	task := &wdl.Task{
		Name: "t",
		Outputs: []*wdl.Decl{{
			Name: "maybe",
			Type: wdl.File{Opt: true},
			Expr: wdl.NewLiteralString(wdl.Pos{}, "never-created.txt"),
		}},
	}
	lib := stdlib.New(&stdlib.Context{WorkDir: workDir})
	outputs, err := collectOutputs(task, wdl.Env[wdl.Value]{}, lib, callDir, workDir)
	if err != nil {
		t.Fatalf("collectOutputs error: %v", err)
	}
	v, ok := outputs.Lookup("maybe")
	if !ok || !wdl.IsNull(v) {
		t.Errorf("maybe = %#v, want None", v)
	}
}

func TestCollectOutputs_RequiredMissingFails(t *testing.T) {
	callDir := t.TempDir()
	workDir := filepath.Join(callDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	task := &wdl.Task{
		Name: "t",
		Outputs: []*wdl.Decl{{
			Name: "must",
			Type: wdl.File{},
			Expr: wdl.NewLiteralString(wdl.Pos{}, "never-created.txt"),
		}},
	}
	lib := stdlib.New(&stdlib.Context{WorkDir: workDir})
	_, err := collectOutputs(task, wdl.Env[wdl.Value]{}, lib, callDir, workDir)
	if err == nil {
		t.Fatal("missing required File output should fail")
	}
	if !errors.Is(err, errOutputMissing) && wdl.KindOf(err) != wdl.KindFilesystem {
		t.Errorf("error = %v, want filesystem error", err)
	}
}

func TestBindTaskInputs_DefaultsAndRequired(t *testing.T) {
	task := &wdl.Task{
		Name: "t",
		Inputs: []*wdl.Decl{
			{Name: "a", Type: wdl.Int{}},
			{Name: "b", Type: wdl.Int{}, Expr: &wdl.ExprInt{V: 9}},
			{Name: "c", Type: wdl.Int{Opt: true}},
		},
	}
	lib := stdlib.New(nil)

	var in wdl.Env[wdl.Value]
	in = in.Bind("a", wdl.NewInt(1))
	env, err := bindTaskInputs(task, in, lib)
	if err != nil {
		t.Fatalf("bindTaskInputs error: %v", err)
	}
	if v, _ := env.Lookup("b"); !wdl.ValuesEqual(v, wdl.NewInt(9)) {
		t.Errorf("b = %v, want default 9", v)
	}
	if v, _ := env.Lookup("c"); !wdl.IsNull(v) {
		t.Errorf("c = %v, want None", v)
	}

	var empty wdl.Env[wdl.Value]
	if _, err := bindTaskInputs(task, empty, lib); err == nil {
		t.Error("missing required input a should fail")
	} else if wdl.KindOf(err) != wdl.KindInputError {
		t.Errorf("kind = %v, want InputError", wdl.KindOf(err))
	}
}
