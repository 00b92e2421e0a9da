package store

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateFinishGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID: "r1", Name: "hello", Source: "hello.wdl", Dir: "/tmp/run1",
		State: RunStateRunning, Started: time.Now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "hello" || got.State != RunStateRunning {
		t.Errorf("run = %+v", got)
	}

	if err := s.FinishRun(ctx, "r1", RunStateFailed, "TaskFailure"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, _ = s.GetRun(ctx, "r1")
	if got.State != RunStateFailed || got.ErrorKind != "TaskFailure" {
		t.Errorf("finished run = %+v", got)
	}
	if got.Finished.IsZero() {
		t.Error("finished timestamp missing")
	}
}

func TestStore_ListAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		err := s.CreateRun(ctx, &Run{
			ID: id, Name: "wf-" + id, Source: "x.wdl", Dir: "/tmp/" + id,
			State: RunStateSucceeded, Started: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateRun %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns order = %v", runs)
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.ID != "c" {
		t.Errorf("LatestRun = %s, want c", latest.ID)
	}
}
