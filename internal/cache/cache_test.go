package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/gowdl/pkg/wdl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNormalizeSource(t *testing.T) {
	a := "task t {\n  # a comment\n  command <<< echo >>>\n}\n"
	b := "task   t   {\n\n\tcommand <<< echo >>>\n}\n"
	if NormalizeSource(a) != NormalizeSource(b) {
		t.Errorf("normalization should erase comments and whitespace runs:\n%q\n%q",
			NormalizeSource(a), NormalizeSource(b))
	}
	c := "task t { command <<< echo changed >>> }"
	if NormalizeSource(a) == NormalizeSource(c) {
		t.Error("distinct commands should normalize differently")
	}
}

// Pinned fixture: the digesting function is a conformance boundary,
// so its output for a fixed input must never drift.
func TestNormalizeSource_Fixture(t *testing.T) {
	in := "version 1.0\ntask t { # greet\n  command <<< echo hi >>>\n}\n"
	want := "version 1.0 task t { command <<< echo hi >>> }"
	if got := NormalizeSource(in); got != want {
		t.Errorf("NormalizeSource fixture drifted:\n got %q\nwant %q", got, want)
	}
}

func TestSourceDigest_Stability(t *testing.T) {
	doc := &wdl.Document{URI: "a.wdl", Source: "version 1.0\ntask t { command <<< true >>> }\n"}
	d1 := SourceDigest(doc, "t")
	d2 := SourceDigest(doc, "t")
	if d1 != d2 {
		t.Error("digest must be deterministic")
	}
	if SourceDigest(doc, "other") == d1 {
		t.Error("task name must feed the digest")
	}
	doc2 := &wdl.Document{URI: "a.wdl", Source: "version 1.0\ntask t { command <<< false >>> }\n"}
	if SourceDigest(doc2, "t") == d1 {
		t.Error("source change must change the digest")
	}
}

func TestInputDigest_FileCapsule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(path, []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var inputs wdl.Env[wdl.Value]
	inputs = inputs.Bind("f", wdl.NewFile(path)).Bind("n", wdl.NewInt(3))

	d1, err := InputDigest(inputs)
	if err != nil {
		t.Fatalf("InputDigest error: %v", err)
	}
	d2, _ := InputDigest(inputs)
	if d1 != d2 {
		t.Error("digest must be deterministic")
	}

	// Touching the file (mtime) changes the digest.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	d3, _ := InputDigest(inputs)
	if d3 == d1 {
		t.Error("mtime change must change the digest")
	}
}

func TestCache_PutGetInvalidate(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, true, true, testLogger())

	inFile := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(inFile, []byte("payload\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	outFile := filepath.Join(t.TempDir(), "result.txt")
	if err := os.WriteFile(outFile, []byte("8\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	decls := []*wdl.Decl{
		{Name: "count", Type: wdl.Int{}},
		{Name: "report", Type: wdl.File{}},
	}
	var outputs wdl.Env[wdl.Value]
	outputs = outputs.Bind("count", wdl.NewInt(8)).Bind("report", wdl.NewFile(outFile))

	key := Key("src", "in")
	if err := c.Put(key, outputs, []string{inFile}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, ok := c.Get(key, decls)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if v, _ := got.Lookup("count"); !wdl.ValuesEqual(v, wdl.NewInt(8)) {
		t.Errorf("count = %v, want 8", v)
	}
	if v, _ := got.Lookup("report"); v.String() != outFile {
		t.Errorf("report = %v", v)
	}

	// Mutating a referenced file invalidates the entry.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(inFile, future, future); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(key, decls); ok {
		t.Error("entry should be invalidated after file mutation")
	}
	// And the invalidated entry stays gone.
	if _, ok := c.Get(key, decls); ok {
		t.Error("invalidated entry should not resurface")
	}
}

func TestCache_DisabledGates(t *testing.T) {
	dir := t.TempDir()
	writeOnly := New(dir, false, true, testLogger())
	var outputs wdl.Env[wdl.Value]
	outputs = outputs.Bind("x", wdl.NewInt(1))
	key := Key("a", "b")
	if err := writeOnly.Put(key, outputs, nil); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, ok := writeOnly.Get(key, []*wdl.Decl{{Name: "x", Type: wdl.Int{}}}); ok {
		t.Error("get=false must not read")
	}

	readOnly := New(dir, true, false, testLogger())
	if _, ok := readOnly.Get(key, []*wdl.Decl{{Name: "x", Type: wdl.Int{}}}); !ok {
		t.Error("get=true should read the previously-written entry")
	}
}
