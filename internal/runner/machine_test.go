package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func loadGraph(t *testing.T, source string) *check.Result {
	t.Helper()
	checker := check.New(testLogger(), nil, stdlib.New(nil), check.DefaultOptions())
	res, err := checker.Load("test.wdl", []byte(source))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return res
}

// drain advances the machine until no more progress without a driver
// (works for workflows without calls).
func drain(t *testing.T, s *State) {
	t.Helper()
	jobs, err := s.Step()
	if err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("unexpected jobs %v", jobs)
	}
}

func TestState_ScatterSquares(t *testing.T) {
	// Scatter arithmetic: squares of 1..4 in index order.
	res := loadGraph(t, `
version 1.0
workflow w {
  scatter (i in range(4)) {
    Int sq = (i + 1) * (i + 1)
  }
  output {
    Array[Int] squares = sq
  }
}
`)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	drain(t, s)
	if !s.Done() {
		t.Fatal("machine not done")
	}
	outputs, err := s.Outputs()
	if err != nil {
		t.Fatalf("Outputs error: %v", err)
	}
	arr, ok := outputs["squares"].(wdl.ArrayValue)
	if !ok || len(arr.Items) != 4 {
		t.Fatalf("squares = %#v", outputs["squares"])
	}
	for i, want := range []int64{1, 4, 9, 16} {
		if !wdl.ValuesEqual(arr.Items[i], wdl.NewInt(want)) {
			t.Errorf("squares[%d] = %v, want %d", i, arr.Items[i], want)
		}
	}
}

func TestState_ConditionalFalseGathersNone(t *testing.T) {
	res := loadGraph(t, `
version 1.0
workflow w {
  input {
    Boolean go = false
  }
  if (go) {
    Int x = 1
  }
  output {
    Int? maybe = x
  }
}
`)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	drain(t, s)
	outputs, err := s.Outputs()
	if err != nil {
		t.Fatalf("Outputs error: %v", err)
	}
	if !wdl.IsNull(outputs["maybe"]) {
		t.Errorf("maybe = %v, want None", outputs["maybe"])
	}
}

func TestState_ConditionalTrue(t *testing.T) {
	res := loadGraph(t, `
version 1.0
workflow w {
  input {
    Boolean go = true
  }
  if (go) {
    Int x = 42
  }
  output {
    Int? maybe = x
  }
}
`)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	drain(t, s)
	outputs, _ := s.Outputs()
	if !wdl.ValuesEqual(outputs["maybe"], wdl.NewInt(42)) {
		t.Errorf("maybe = %v, want 42", outputs["maybe"])
	}
}

const callWorkflow = `
version 1.0
task double {
  input {
    Int n
  }
  command <<<
    echo ~{n}
  >>>
  output {
    Int out = n * 2
  }
}
workflow w {
  scatter (i in [1, 2, 3]) {
    call double { input: n = i }
  }
  output {
    Array[Int] doubled = double.out
  }
}
`

// stubRunner computes double's outputs in-process.
type stubRunner struct {
	mu    sync.Mutex
	calls []int64
}

func (r *stubRunner) RunCall(_ context.Context, job Job) (wdl.Env[wdl.Value], error) {
	n, ok := job.Inputs.Lookup("n")
	if !ok {
		return wdl.Env[wdl.Value]{}, fmt.Errorf("missing input n")
	}
	iv := n.(wdl.IntValue)
	r.mu.Lock()
	r.calls = append(r.calls, iv.V)
	r.mu.Unlock()
	var outputs wdl.Env[wdl.Value]
	outputs = outputs.Bind("out", wdl.NewInt(iv.V*2))
	return outputs, nil
}

func TestDriver_ScatterCalls(t *testing.T) {
	res := loadGraph(t, callWorkflow)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	stub := &stubRunner{}
	drv := NewDriver(s, stub, testLogger(), false)

	outputs, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	arr := outputs["doubled"].(wdl.ArrayValue)
	if len(arr.Items) != 3 {
		t.Fatalf("doubled = %v", arr)
	}
	for i, want := range []int64{2, 4, 6} {
		if !wdl.ValuesEqual(arr.Items[i], wdl.NewInt(want)) {
			t.Errorf("doubled[%d] = %v, want %d", i, arr.Items[i], want)
		}
	}
	if len(stub.calls) != 3 {
		t.Errorf("calls = %v, want 3 invocations", stub.calls)
	}
}

// failRunner fails a specific input value and counts invocations.
type failRunner struct {
	failOn  int64
	started atomic.Int32
}

func (r *failRunner) RunCall(_ context.Context, job Job) (wdl.Env[wdl.Value], error) {
	r.started.Add(1)
	n, _ := job.Inputs.Lookup("n")
	if n.(wdl.IntValue).V == r.failOn {
		return wdl.Env[wdl.Value]{}, &wdl.TaskFailure{Task: "double", ExitStatus: 1, Attempt: 1}
	}
	var outputs wdl.Env[wdl.Value]
	outputs = outputs.Bind("out", wdl.NewInt(0))
	return outputs, nil
}

func TestDriver_FailureDrains(t *testing.T) {
	res := loadGraph(t, callWorkflow)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	drv := NewDriver(s, &failRunner{failOn: 2}, testLogger(), false)

	_, err := drv.Run(context.Background())
	if err == nil {
		t.Fatal("expected run failure")
	}
	if wdl.KindOf(err) != wdl.KindTaskFailure {
		t.Errorf("kind = %v, want TaskFailure", wdl.KindOf(err))
	}
}

func TestState_CancelBlocksJobs(t *testing.T) {
	res := loadGraph(t, callWorkflow)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	s.Cancel()
	jobs, _ := s.Step()
	if len(jobs) != 0 {
		t.Errorf("cancelled machine emitted jobs: %v", jobs)
	}
	if wdl.KindOf(s.Failure()) != wdl.KindInterrupted {
		t.Errorf("failure = %v, want Interrupted", s.Failure())
	}
}

func TestState_ReadyOrderDeterministic(t *testing.T) {
	res := loadGraph(t, `
version 1.0
task t {
  input {
    Int n
  }
  command <<<true>>>
  output {
    Int out = n
  }
}
workflow w {
  call t as b { input: n = 1 }
  call t as a { input: n = 2 }
  output {
    Int x = b.out
    Int y = a.out
  }
}
`)
	s := NewState(res.Graph, wdl.Env[wdl.Value]{}, stdlib.New(nil))
	jobs, err := s.Step()
	if err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	// Document order: b before a.
	if jobs[0].Call.Name() != "b" || jobs[1].Call.Name() != "a" {
		t.Errorf("job order = %s, %s; want b, a", jobs[0].Call.Name(), jobs[1].Call.Name())
	}
}
