package taskrun

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAdmission_CapsCPU(t *testing.T) {
	adm := NewAdmission(3, 1<<30, testLogger())

	var maxConcurrent int32
	var current int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adm.Acquire(context.Background(), 1, 1<<20); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			c := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if c <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			adm.Release(1, 1<<20)
		}()
	}
	wg.Wait()

	if maxConcurrent > 3 {
		t.Errorf("max concurrent %d exceeded CPU budget 3", maxConcurrent)
	}
	cpu, mem := adm.InUse()
	if cpu != 0 || mem != 0 {
		t.Errorf("leaked reservations: cpu=%d mem=%d", cpu, mem)
	}
}

func TestAdmission_MemoryBlocks(t *testing.T) {
	adm := NewAdmission(8, 1000, testLogger())
	if err := adm.Acquire(context.Background(), 1, 800); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = adm.Acquire(context.Background(), 1, 800)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block on memory")
	case <-time.After(20 * time.Millisecond):
	}

	adm.Release(1, 800)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never admitted after release")
	}
}

func TestAdmission_AcquireCancellable(t *testing.T) {
	adm := NewAdmission(1, 1000, testLogger())
	if err := adm.Acquire(context.Background(), 1, 100); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- adm.Acquire(ctx, 1, 100)
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("cancelled Acquire should return an error")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire never returned")
	}
}

func TestAdmission_Clamp(t *testing.T) {
	adm := NewAdmission(4, 1000, testLogger())
	cpu, mem, clamped := adm.Clamp(16, 4000)
	if !clamped || cpu != 4 || mem != 1000 {
		t.Errorf("Clamp = %d, %d, %v; want 4, 1000, true", cpu, mem, clamped)
	}
	cpu, mem, clamped = adm.Clamp(2, 500)
	if clamped || cpu != 2 || mem != 500 {
		t.Errorf("Clamp within budget = %d, %d, %v", cpu, mem, clamped)
	}
}

func TestRuntimeAttrs_ReturnCodes(t *testing.T) {
	attrs := &RuntimeAttrs{}
	if !attrs.Accepts(0) || attrs.Accepts(1) {
		t.Error("default returnCodes should accept only 0")
	}
	attrs.ReturnCodes = []int{3, 7}
	if attrs.Accepts(0) || !attrs.Accepts(7) {
		t.Error("explicit returnCodes should replace the default")
	}
	attrs = &RuntimeAttrs{AnyReturnCode: true}
	if !attrs.Accepts(42) {
		t.Error("returnCodes \"*\" should accept everything")
	}
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"4 GiB", 4 << 30},
		{"2GB", 2_000_000_000},
		{"512 MiB", 512 << 20},
	}
	for _, c := range cases {
		got, err := ParseMemory(c.in)
		if err != nil {
			t.Errorf("ParseMemory(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseMemory(%q) = %d, want %d", c.in, got, c.want)
		}
	}
	if _, err := ParseMemory("lots"); err == nil {
		t.Error("ParseMemory(lots) should fail")
	}
}

func TestShellEscape(t *testing.T) {
	if got := shellEscape("it's"); got != `'it'\''s'` {
		t.Errorf("shellEscape = %q", got)
	}
}
