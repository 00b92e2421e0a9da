// Package taskrun executes one task attempt sequence per Call
// instance: staging, command assembly, container execution through a
// backend, output collection, and retry.
package taskrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
)

// Admission is the process-wide CPU/memory admission control: the sum
// of running tasks' reservations never exceeds the host budget. Tasks
// whose reservation exceeds the budget are downscaled with a warning
// by the caller before acquiring.
type Admission struct {
	mu   sync.Mutex
	cond *sync.Cond

	cpuBudget int
	memBudget int64
	cpuUsed   int
	memUsed   int64
}

// NewAdmission creates the admission controller. Zero budgets default
// to the host's CPU count and total memory.
func NewAdmission(cpu int, memory int64, logger *slog.Logger) *Admission {
	if cpu <= 0 {
		cpu = runtime.NumCPU()
	}
	if memory <= 0 {
		memory = hostMemoryBytes()
	}
	a := &Admission{cpuBudget: cpu, memBudget: memory}
	a.cond = sync.NewCond(&a.mu)
	logger.Debug("admission budget", "cpu", cpu, "memory", memory)
	return a
}

// Budget returns the configured budgets.
func (a *Admission) Budget() (int, int64) {
	return a.cpuBudget, a.memBudget
}

// Clamp downscales a reservation to the budget, reporting whether it
// was reduced.
func (a *Admission) Clamp(cpu int, memory int64) (int, int64, bool) {
	clamped := false
	if cpu > a.cpuBudget {
		cpu = a.cpuBudget
		clamped = true
	}
	if memory > a.memBudget {
		memory = a.memBudget
		clamped = true
	}
	return cpu, memory, clamped
}

// Acquire blocks until the reservation fits within the remaining
// budget, or the context is cancelled.
func (a *Admission) Acquire(ctx context.Context, cpu int, memory int64) error {
	// Wake waiters when the context ends so the loop can observe it.
	stop := context.AfterFunc(ctx, func() {
		a.mu.Lock()
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	for a.cpuUsed+cpu > a.cpuBudget || a.memUsed+memory > a.memBudget {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.cpuUsed += cpu
	a.memUsed += memory
	return nil
}

// Release returns a reservation to the budget.
func (a *Admission) Release(cpu int, memory int64) {
	a.mu.Lock()
	a.cpuUsed -= cpu
	a.memUsed -= memory
	if a.cpuUsed < 0 {
		a.cpuUsed = 0
	}
	if a.memUsed < 0 {
		a.memUsed = 0
	}
	a.cond.Broadcast()
	a.mu.Unlock()
}

// InUse returns the currently-reserved totals.
func (a *Admission) InUse() (int, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cpuUsed, a.memUsed
}

// hostMemoryBytes reads the host's total memory, falling back to 8GiB
// when /proc is unavailable.
func hostMemoryBytes() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 8 << 30
	}
	var kb int64
	for _, line := range strings.Split(string(data), "\n") {
		var n int64
		if _, err := fmt.Sscanf(line, "MemTotal: %d kB", &n); err == nil && n > 0 {
			kb = n
			break
		}
	}
	if kb == 0 {
		return 8 << 30
	}
	return kb * 1024
}
