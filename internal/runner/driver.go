package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/me/gowdl/pkg/wdl"
)

// CallRunner executes one ready call (a task attempt sequence or a
// nested sub-workflow) and returns its output namespace.
type CallRunner interface {
	RunCall(ctx context.Context, job Job) (wdl.Env[wdl.Value], error)
}

// Driver advances a State over a completion queue and a pool of
// call goroutines. The state machine itself is only touched from the
// driver goroutine.
type Driver struct {
	state    *State
	runner   CallRunner
	logger   *slog.Logger
	failSlow bool
}

// NewDriver creates a Driver. failSlow lets in-flight calls finish
// after a sibling failure instead of cancelling them.
func NewDriver(state *State, runner CallRunner, logger *slog.Logger, failSlow bool) *Driver {
	return &Driver{
		state:    state,
		runner:   runner,
		logger:   logger.With("component", "driver"),
		failSlow: failSlow,
	}
}

type completion struct {
	key     InstanceKey
	outputs wdl.Env[wdl.Value]
	err     error
}

// Run drives the workflow to completion and returns its qualified
// outputs. Cancelling ctx blocks new jobs, terminates running calls,
// and fails the run as Interrupted.
func (d *Driver) Run(ctx context.Context) (map[string]wdl.Value, error) {
	completions := make(chan completion)
	var wg sync.WaitGroup
	cancels := make(map[InstanceKey]context.CancelFunc)
	inFlight := 0

	launch := func(job Job) {
		jobCtx, cancel := context.WithCancel(ctx)
		cancels[job.Key] = cancel
		inFlight++
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs, err := d.runner.RunCall(jobCtx, job)
			completions <- completion{key: job.Key, outputs: outputs, err: err}
		}()
	}

	cancelAll := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
	defer cancelAll()

	for {
		jobs, err := d.state.Step()
		if err != nil && inFlight == 0 && d.state.Done() {
			return nil, err
		}
		for _, job := range jobs {
			if d.state.Failure() != nil && !d.failSlow {
				// Draining: a sibling already failed in this sweep.
				d.state.CompleteFailure(job.Key, d.state.Failure())
				continue
			}
			d.logger.Debug("job ready", "call", job.Key.String())
			launch(job)
		}

		if d.state.Done() && inFlight == 0 {
			break
		}
		if inFlight == 0 && len(jobs) == 0 {
			// No forward progress possible.
			if f := d.state.Failure(); f != nil {
				return nil, f
			}
			break
		}

		select {
		case <-ctx.Done():
			d.logger.Info("cancellation requested, draining")
			d.state.Cancel()
			cancelAll()
			// Drain remaining completions.
			for inFlight > 0 {
				c := <-completions
				inFlight--
				delete(cancels, c.key)
				d.applyCompletion(c)
			}
			wg.Wait()
			return nil, d.state.Failure()

		case c := <-completions:
			inFlight--
			if cancel, ok := cancels[c.key]; ok {
				cancel()
				delete(cancels, c.key)
			}
			d.applyCompletion(c)
			if d.state.Failure() != nil && !d.failSlow {
				// Fail-fast: terminate sibling calls promptly.
				cancelAll()
			}
		}
	}

	wg.Wait()
	if f := d.state.Failure(); f != nil {
		return nil, f
	}
	return d.state.Outputs()
}

func (d *Driver) applyCompletion(c completion) {
	if c.err != nil {
		d.logger.Error("call failed", "call", c.key.String(), "error", c.err)
		d.state.CompleteFailure(c.key, c.err)
		return
	}
	d.logger.Debug("call complete", "call", c.key.String())
	if err := d.state.Complete(c.key, c.outputs); err != nil {
		d.state.CompleteFailure(c.key, err)
	}
}
