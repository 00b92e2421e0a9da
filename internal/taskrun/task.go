package taskrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/eval"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

// containerInputDir is where input files from outside the work
// directory are mounted read-only.
const containerInputDir = "/mnt/inputs"

// Options configure task execution.
type Options struct {
	// CopyInputFiles copies inputs into the work directory instead of
	// read-only mounting them.
	CopyInputFiles bool
	// Verbose echoes sampled stdout lines to the console.
	Verbose bool
	// PlaceholderRegex, when set, is the template-injection guard:
	// every interpolated value must match it in full.
	PlaceholderRegex string
	// Defaults supply image/cpu/memory when runtime omits them.
	Defaults RuntimeDefaults
	// PollInterval is the container poll cadence (default 1s).
	PollInterval time.Duration
	// Env are extra container environment variables (KEY=VALUE).
	Env []string
}

// Runner executes tasks against one container backend under the
// process-wide admission controller.
type Runner struct {
	backend   backend.Backend
	admission *Admission
	logger    *slog.Logger
	opts      Options
}

// New creates a task Runner.
func New(b backend.Backend, adm *Admission, logger *slog.Logger, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Runner{backend: b, admission: adm, logger: logger.With("component", "task"), opts: opts}
}

// RunTask executes a task invocation under callDir, retrying up to
// runtime.maxRetries times, and returns the output namespace.
func (r *Runner) RunTask(ctx context.Context, task *wdl.Task, inputs wdl.Env[wdl.Value], callDir string) (wdl.Env[wdl.Value], error) {
	var empty wdl.Env[wdl.Value]
	if err := os.MkdirAll(callDir, 0o755); err != nil {
		return empty, err
	}
	writeDir := filepath.Join(callDir, "write_")
	lib := stdlib.New(&stdlib.Context{WriteDir: writeDir})

	// Phase 1: bind inputs and post-input declarations in order.
	env, err := bindTaskInputs(task, inputs, lib)
	if err != nil {
		return empty, err
	}

	attrs, err := evalRuntime(task, env, lib, r.opts.Defaults)
	if err != nil {
		return empty, err
	}

	var lastErr error
	for attempt := 1; attempt <= attrs.MaxRetries+1; attempt++ {
		outputs, err := r.runAttempt(ctx, task, env, lib, attrs, callDir, attempt)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return empty, wdl.Errorf(wdl.KindInterrupted, task.Pos, "task %s interrupted", task.Name)
		}
		if attempt <= attrs.MaxRetries {
			r.logger.Warn("task attempt failed, retrying",
				"task", task.Name, "attempt", attempt, "error", err)
		}
	}
	return empty, lastErr
}

// bindTaskInputs resolves input values (bound, defaulted, or absent
// optional) and evaluates post-input declarations.
func bindTaskInputs(task *wdl.Task, inputs wdl.Env[wdl.Value], lib *stdlib.Library) (wdl.Env[wdl.Value], error) {
	var env wdl.Env[wdl.Value]
	for _, d := range task.Inputs {
		v, ok := inputs.Lookup(d.Name)
		switch {
		case ok:
		case d.Expr != nil:
			ev, err := eval.Eval(d.Expr, env, lib)
			if err != nil {
				return env, err
			}
			v = ev
		case d.Type.Optional():
			v = wdl.NullValue{T: d.Type}
		default:
			return env, wdl.Errorf(wdl.KindInputError, d.Pos,
				"required input %s.%s was not provided", task.Name, d.Name)
		}
		cv, err := wdl.CoerceValue(v, d.Type)
		if err != nil {
			return env, wdl.Errorf(wdl.KindInputError, d.Pos, "%s: %v", d.Name, err)
		}
		env = env.Bind(d.Name, cv)
	}
	for _, d := range task.PostInputs {
		v, err := eval.Eval(d.Expr, env, lib)
		if err != nil {
			return env, err
		}
		cv, err := wdl.CoerceValue(v, d.Type)
		if err != nil {
			return env, wdl.Errorf(wdl.KindEvalError, d.Pos, "%s: %v", d.Name, err)
		}
		env = env.Bind(d.Name, cv)
	}
	return env, nil
}

// runAttempt executes one container attempt and collects outputs.
func (r *Runner) runAttempt(ctx context.Context, task *wdl.Task, env wdl.Env[wdl.Value],
	lib *stdlib.Library, attrs *RuntimeAttrs, callDir string, attempt int) (wdl.Env[wdl.Value], error) {

	var empty wdl.Env[wdl.Value]
	workName := "work"
	if attempt > 1 {
		workName = "work" + strconv.Itoa(attempt)
	}
	workDir := filepath.Join(callDir, workName)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return empty, err
	}

	// Phase 2: stage File/Directory inputs.
	staging, err := r.stageInputs(env, workDir)
	if err != nil {
		return empty, err
	}

	// Phase 3: image preparation.
	image, err := r.backend.PrepareImage(ctx, attrs.Image)
	if err != nil {
		return empty, &wdl.TaskFailure{Task: task.Name, Attempt: attempt,
			Cause: fmt.Errorf("prepare image: %w", err)}
	}

	// Phase 4: command assembly with the container view of paths.
	script, err := r.assembleCommand(task, staging.containerEnv, lib)
	if err != nil {
		return empty, err
	}
	if err := os.WriteFile(filepath.Join(callDir, "command.sh"), []byte(script), 0o644); err != nil {
		return empty, err
	}

	// Environment-variable inputs, shell-escaped.
	envVars := append([]string(nil), r.opts.Env...)
	for _, d := range task.Inputs {
		if !d.Env {
			continue
		}
		if v, ok := staging.containerEnv.Lookup(d.Name); ok && !wdl.IsNull(v) {
			envVars = append(envVars, d.Name+"="+shellEscape(v.String()))
		}
	}

	// Phase 5/6: admission, execution, termination.
	cpu, mem, clamped := r.admission.Clamp(attrs.CPU, attrs.MemoryBytes)
	if clamped {
		r.logger.Warn("reservation exceeds host budget, downscaling",
			"task", task.Name, "cpu", attrs.CPU, "memory", attrs.MemoryBytes)
	}
	if err := r.admission.Acquire(ctx, cpu, mem); err != nil {
		return empty, wdl.Errorf(wdl.KindInterrupted, task.Pos, "task %s interrupted", task.Name)
	}
	defer r.admission.Release(cpu, mem)

	exitCode, err := r.execute(ctx, backend.RunSpec{
		Image:       image,
		WorkDir:     callDir,
		Work:        workName,
		Mounts:      staging.mounts,
		Env:         envVars,
		CPU:         cpu,
		MemoryBytes: mem,
		Privileged:  attrs.Privileged,
	}, task.Name)
	if err != nil {
		return empty, err
	}

	stdoutPath := filepath.Join(callDir, "stdout.txt")
	stderrPath := filepath.Join(callDir, "stderr.txt")

	if !attrs.Accepts(exitCode) {
		return empty, &wdl.TaskFailure{
			Task: task.Name, ExitStatus: exitCode, StderrPath: stderrPath, Attempt: attempt,
		}
	}

	// Phase 7: output collection.
	outLib := lib.WithContext(&stdlib.Context{
		WriteDir:   filepath.Join(callDir, "write_"),
		WorkDir:    workDir,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	outputs, err := collectOutputs(task, env, outLib, callDir, workDir)
	if err != nil {
		return empty, err
	}
	return outputs, nil
}

// execute starts the container and polls it to completion, checking
// for cancellation at every poll boundary.
func (r *Runner) execute(ctx context.Context, spec backend.RunSpec, taskName string) (int, error) {
	handle, err := r.backend.Run(ctx, spec)
	if err != nil {
		return 0, &wdl.TaskFailure{Task: taskName, Cause: err}
	}
	r.logger.Info("container started", "task", taskName, "id", handle.ID())

	var echo *stdoutEcho
	if r.opts.Verbose && isatty.IsTerminal(os.Stderr.Fd()) {
		echo = &stdoutEcho{path: filepath.Join(spec.WorkDir, "stdout.txt"), logger: r.logger}
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			killCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.backend.Kill(killCtx, handle); err != nil {
				r.logger.Warn("kill failed", "task", taskName, "error", err)
			}
			return 0, wdl.Errorf(wdl.KindInterrupted, wdl.Pos{}, "task %s interrupted", taskName)
		case <-ticker.C:
			res, err := r.backend.Poll(ctx, handle)
			if err != nil {
				return 0, &wdl.TaskFailure{Task: taskName, Cause: fmt.Errorf("poll: %w", err)}
			}
			if echo != nil {
				echo.sample()
			}
			if !res.Running {
				if echo != nil {
					echo.sample()
				}
				r.logger.Info("container exited", "task", taskName, "exit_code", res.ExitCode)
				return res.ExitCode, nil
			}
		}
	}
}

// stdoutEcho tails a task's stdout file between polls under verbose
// mode.
type stdoutEcho struct {
	path   string
	offset int64
	buf    string
	logger *slog.Logger
}

func (e *stdoutEcho) sample() {
	f, err := os.Open(e.path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(e.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return
	}
	e.offset += int64(len(data))
	e.buf += string(data)
	for {
		line, rest, ok := strings.Cut(e.buf, "\n")
		if !ok {
			break
		}
		e.buf = rest
		fmt.Fprintf(os.Stderr, "    | %s\n", line)
	}
}

// assembleCommand interpolates the command template, enforcing the
// placeholder regex guard on every interpolated value.
func (r *Runner) assembleCommand(task *wdl.Task, env wdl.Env[wdl.Value], lib *stdlib.Library) (string, error) {
	var guard *regexp.Regexp
	if r.opts.PlaceholderRegex != "" {
		g, err := regexp.Compile("^(" + r.opts.PlaceholderRegex + ")$")
		if err != nil {
			return "", wdl.Errorf(wdl.KindConfiguration, wdl.Pos{},
				"invalid placeholder regex: %v", err)
		}
		guard = g
	}

	var b strings.Builder
	for _, part := range task.Command.Parts {
		if part.Placeholder == nil {
			b.WriteString(part.Literal)
			continue
		}
		s, err := eval.EvalPlaceholder(part.Placeholder, env, lib)
		if err != nil {
			return "", err
		}
		if guard != nil && !guard.MatchString(s) {
			return "", wdl.Errorf(wdl.KindCommandError, part.Placeholder.Pos,
				"interpolated value %q rejected by placeholder regex", s)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// shellEscape single-quotes a value for safe use in shell and
// container environment variables.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
