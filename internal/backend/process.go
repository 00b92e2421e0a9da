package backend

import (
	"context"
	"errors"
	"os/exec"
	"sync"
)

// processHandle tracks a backend that runs its container engine as a
// foreground child process (singularity, udocker): the process is the
// container.
type processHandle struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error
}

func (h *processHandle) ID() string { return h.id }

// startProcess launches cmd and arranges exit-code capture.
func startProcess(id string, cmd *exec.Cmd) (*processHandle, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &processHandle{id: id, cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.exited = true
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			h.exitCode = 0
		case errors.As(err, &exitErr):
			h.exitCode = exitErr.ExitCode()
		default:
			h.exitCode = -1
			h.waitErr = err
		}
		close(h.done)
	}()
	return h, nil
}

func (h *processHandle) poll() (PollResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return PollResult{Running: true}, nil
	}
	return PollResult{Running: false, ExitCode: h.exitCode}, h.waitErr
}

func (h *processHandle) kill(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
