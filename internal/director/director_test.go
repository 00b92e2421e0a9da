package director

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/gowdl/pkg/wdl"
)

func TestCreateRunDir_Timestamped(t *testing.T) {
	parent := t.TempDir()
	d := &Director{opts: Options{Dir: parent}}

	dir, err := d.createRunDir("hello")
	if err != nil {
		t.Fatalf("createRunDir error: %v", err)
	}
	if filepath.Dir(dir) != parent {
		t.Errorf("run dir %q not under %q", dir, parent)
	}
	if !strings.HasSuffix(dir, "_hello") {
		t.Errorf("run dir %q lacks name suffix", dir)
	}

	// _LAST points at the newest run.
	last, err := os.Readlink(filepath.Join(parent, "_LAST"))
	if err != nil {
		t.Fatalf("_LAST: %v", err)
	}
	if last != filepath.Base(dir) {
		t.Errorf("_LAST -> %q, want %q", last, filepath.Base(dir))
	}

	// A second run in the same second gets a distinct directory.
	dir2, err := d.createRunDir("hello")
	if err != nil {
		t.Fatalf("second createRunDir error: %v", err)
	}
	if dir2 == dir {
		t.Error("successive runs should not share a directory")
	}
}

func TestCreateRunDir_ExactWithDot(t *testing.T) {
	parent := t.TempDir()
	exact := filepath.Join(parent, "myrun") + "/."
	d := &Director{opts: Options{Dir: exact}}
	dir, err := d.createRunDir("hello")
	if err != nil {
		t.Fatalf("createRunDir error: %v", err)
	}
	if filepath.Base(dir) != "myrun" {
		t.Errorf("exact dir = %q, want .../myrun", dir)
	}
}

func TestWriteErrorJSON(t *testing.T) {
	dir := t.TempDir()
	d := &Director{}
	d.writeErrorJSON(dir, &wdl.TaskFailure{Task: "t", ExitStatus: 3, Attempt: 2, StderrPath: "/x/stderr.txt"})

	data, err := os.ReadFile(filepath.Join(dir, "error.json"))
	if err != nil {
		t.Fatalf("error.json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("error.json parse: %v", err)
	}
	if doc["error"] != "TaskFailure" {
		t.Errorf("error kind = %v", doc["error"])
	}
	cause, ok := doc["cause"].(map[string]any)
	if !ok || cause["exit_status"] != float64(3) {
		t.Errorf("cause = %#v", doc["cause"])
	}
}

func TestOpenRunLog_Flock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.log")
	d := &Director{}

	f, err := d.openRunLog(path)
	if err != nil {
		t.Fatalf("openRunLog: %v", err)
	}
	defer f.Close()

	// A second open in the same process observes the held lock.
	if _, err := d.openRunLog(path); err == nil {
		t.Error("second openRunLog should fail while the lock is held")
	}
}
