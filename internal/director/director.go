// Package director owns one top-level invocation: run-directory
// layout, log files with liveness flocks, signal handling, the call
// runner bridging the state machine to the task runtime and call
// cache, and result JSON.
package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/cache"
	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/config"
	"github.com/me/gowdl/internal/download"
	"github.com/me/gowdl/internal/logging"
	"github.com/me/gowdl/internal/runner"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/internal/store"
	"github.com/me/gowdl/internal/taskrun"
	"github.com/me/gowdl/pkg/wdl"
	"golang.org/x/sys/unix"
)

// Options configure one invocation.
type Options struct {
	// Dir is the requested run directory; a trailing "/." suppresses
	// the timestamp prefix. Empty uses the current directory's
	// timestamped subdirectory.
	Dir            string
	TaskName       string // run a single task instead of the workflow
	CopyInputFiles bool
	Verbose        bool
	NoCache        bool
	Env            []string // extra container environment KEY=VALUE
}

// Director executes one parsed+checked document against a run
// directory.
type Director struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend backend.Backend
	adm     *taskrun.Admission
	history store.Store // optional
	opts    Options
}

// New wires a Director from configuration. history may be nil.
func New(cfg *config.Config, logger *slog.Logger, reg *backend.Registry, history store.Store, opts Options) (*Director, error) {
	backendName := cfg.String("scheduler.container_backend")
	be, err := reg.Get(backendName)
	if err != nil {
		return nil, wdl.Errorf(wdl.KindConfiguration, wdl.Pos{}, "%v", err)
	}
	cpu, err := cfg.Int("resources.cpu")
	if err != nil {
		return nil, err
	}
	memStr := cfg.String("resources.memory")
	var mem int64
	if memStr != "" && memStr != "0" {
		m, err := taskrun.ParseMemory(memStr)
		if err != nil {
			return nil, wdl.Errorf(wdl.KindConfiguration, wdl.Pos{}, "resources.memory: %v", err)
		}
		mem = m
	}
	return &Director{
		cfg:     cfg,
		logger:  logger,
		backend: be,
		adm:     taskrun.NewAdmission(cpu, mem, logger),
		history: history,
		opts:    opts,
	}, nil
}

// Result of a run, mirroring outputs.json.
type Result struct {
	Outputs map[string]any `json:"outputs"`
	Dir     string         `json:"dir"`
}

// Run executes the checked document's workflow (or, with --task, one
// task) and returns the outputs JSON document. The run directory is
// fully laid out on return; error.json is written on failure.
func (d *Director) Run(ctx context.Context, res *check.Result, inputsJSON map[string]any) (*Result, error) {
	name, err := d.entrypointName(res)
	if err != nil {
		return nil, err
	}

	runDir, err := d.createRunDir(name)
	if err != nil {
		return nil, err
	}

	logFileName := "workflow.log"
	if d.opts.TaskName != "" {
		logFileName = "task.log"
	}
	logFile, err := d.openRunLog(filepath.Join(runDir, logFileName))
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	logger := logging.Tee(d.logger,
		logging.NewLoggerWithWriter(logging.ParseLevel(d.cfg.String("logging.level")), "text", logFile))
	logger.Info("run starting", "name", name, "dir", runDir)

	if err := d.copySources(res.Document, runDir); err != nil {
		return nil, err
	}
	if err := d.writeRerun(runDir, inputsJSON); err != nil {
		logger.Warn("cannot write rerun script", "error", err)
	}

	runID := uuid.NewString()
	if d.history != nil {
		_ = d.history.CreateRun(ctx, &store.Run{
			ID: runID, Name: name, Source: res.Document.URI, Dir: runDir,
			State: store.RunStateRunning, Started: time.Now(),
		})
	}

	// Two-stage signal handling: first signal cancels cooperatively,
	// second aborts immediately.
	ctx, stop := d.installSignals(ctx, logger)
	defer stop()

	outputs, runErr := d.execute(ctx, res, inputsJSON, runDir, logger)

	if runErr != nil {
		d.writeErrorJSON(runDir, runErr)
		if d.history != nil {
			state := store.RunStateFailed
			if wdl.KindOf(runErr) == wdl.KindInterrupted {
				state = store.RunStateCancelled
			}
			_ = d.history.FinishRun(context.Background(), runID, state, string(wdl.KindOf(runErr)))
		}
		logger.Error("run failed", "error", runErr)
		return nil, runErr
	}

	result := &Result{Outputs: make(map[string]any), Dir: runDir}
	for key, v := range outputs {
		result.Outputs[name+"."+key] = v.JSON()
	}
	if err := writeJSON(filepath.Join(runDir, "outputs.json"), result); err != nil {
		return nil, err
	}
	d.linkOutputs(runDir, outputs, logger)
	if d.history != nil {
		_ = d.history.FinishRun(context.Background(), runID, store.RunStateSucceeded, "")
	}
	logger.Info("run succeeded", "dir", runDir)
	return result, nil
}

func (d *Director) entrypointName(res *check.Result) (string, error) {
	if d.opts.TaskName != "" {
		if res.Document.FindTask(d.opts.TaskName) == nil {
			return "", wdl.Errorf(wdl.KindInputError, wdl.Pos{},
				"no task %q in document", d.opts.TaskName)
		}
		return d.opts.TaskName, nil
	}
	if res.Document.Workflow != nil {
		return res.Document.Workflow.Name, nil
	}
	if len(res.Document.Tasks) == 1 {
		return res.Document.Tasks[0].Name, nil
	}
	return "", wdl.Errorf(wdl.KindInputError, wdl.Pos{},
		"document has no workflow; select a task with --task")
}

// createRunDir makes the timestamp-prefixed run directory (or the
// exact directory when the request ends in "/.") and maintains the
// _LAST symlink in its parent.
func (d *Director) createRunDir(name string) (string, error) {
	dir := d.opts.Dir
	exact := strings.HasSuffix(dir, string(filepath.Separator)+".") || dir == "."
	if exact {
		dir = filepath.Clean(dir)
	} else {
		parent := dir
		if parent == "" {
			parent = "."
		}
		stamp := time.Now().Format("20060102_150405")
		dir = filepath.Join(parent, stamp+"_"+name)
		// Disambiguate rapid successive runs.
		for i := 2; ; i++ {
			if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
				break
			}
			dir = filepath.Join(parent, fmt.Sprintf("%s_%s_%d", stamp, name, i))
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	link := filepath.Join(filepath.Dir(abs), "_LAST")
	_ = os.Remove(link)
	_ = os.Symlink(filepath.Base(abs), link)
	return abs, nil
}

// openRunLog opens the run log and takes the advisory exclusive flock
// that external observers use to detect liveness.
func (d *Director) openRunLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("run log is locked by another process: %w", err)
	}
	return f, nil
}

// copySources writes the executed document and its imports under
// wdl/.
func (d *Director) copySources(doc *wdl.Document, runDir string) error {
	dir := filepath.Join(runDir, "wdl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	seen := make(map[string]bool)
	var write func(doc *wdl.Document) error
	write = func(doc *wdl.Document) error {
		base := filepath.Base(strings.TrimPrefix(doc.URI, "file://"))
		if base == "" || seen[base] {
			return nil
		}
		seen[base] = true
		if err := os.WriteFile(filepath.Join(dir, base), []byte(doc.Source), 0o644); err != nil {
			return err
		}
		for _, imp := range doc.Imports {
			if imp.Doc != nil {
				if err := write(imp.Doc); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return write(doc)
}

// writeRerun records a shell script re-invoking the run with
// identical inputs.
func (d *Director) writeRerun(runDir string, inputsJSON map[string]any) error {
	inputsPath := filepath.Join(runDir, "inputs.json")
	if err := writeJSON(inputsPath, inputsJSON); err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "gowdl"
	}
	wdlFiles, _ := filepath.Glob(filepath.Join(runDir, "wdl", "*.wdl"))
	src := "wdl/source.wdl"
	if len(wdlFiles) > 0 {
		src = filepath.Join("wdl", filepath.Base(wdlFiles[0]))
	}
	script := fmt.Sprintf("#!/bin/sh\n# re-invoke this run with identical inputs\ncd \"$(dirname \"$0\")\"\nexec %q run %s -i inputs.json \"$@\"\n",
		exe, src)
	return os.WriteFile(filepath.Join(runDir, "rerun"), []byte(script), 0o755)
}

func (d *Director) installSignals(ctx context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			logger.Warn("signal received, cancelling run", "signal", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			logger.Error("second signal, aborting immediately")
			os.Exit(130)
		case <-done:
		}
	}()
	return ctx, func() {
		close(done)
		cancel()
	}
}

func (d *Director) writeErrorJSON(runDir string, runErr error) {
	path := filepath.Join(runDir, "error.json")
	_ = os.WriteFile(path, wdl.MarshalErrorJSON(runErr), 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// linkOutputs builds the out/ symlink tree organized by qualified
// output name.
func (d *Director) linkOutputs(runDir string, outputs map[string]wdl.Value, logger *slog.Logger) {
	outDir := filepath.Join(runDir, "out")
	for name, v := range outputs {
		dir := filepath.Join(outDir, name)
		n := 0
		_, _ = mapFilesOnly(v, func(p string) (string, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return p, nil
			}
			link := filepath.Join(dir, filepath.Base(p))
			if n > 0 {
				link = filepath.Join(dir, fmt.Sprintf("%d_%s", n, filepath.Base(p)))
			}
			n++
			if err := os.Symlink(p, link); err != nil {
				logger.Debug("output link", "error", err)
			}
			return p, nil
		})
	}
}

// mapFilesOnly visits File/Directory handles in a value.
func mapFilesOnly(v wdl.Value, f func(string) (string, error)) (wdl.Value, error) {
	switch vv := v.(type) {
	case wdl.FileValue:
		p, err := f(vv.V)
		if err != nil {
			return nil, err
		}
		vv.V = p
		return vv, nil
	case wdl.DirectoryValue:
		p, err := f(vv.V)
		if err != nil {
			return nil, err
		}
		vv.V = p
		return vv, nil
	case wdl.ArrayValue:
		for i, item := range vv.Items {
			m, err := mapFilesOnly(item, f)
			if err != nil {
				return nil, err
			}
			vv.Items[i] = m
		}
		return vv, nil
	case wdl.MapValue:
		for i, e := range vv.Entries {
			m, err := mapFilesOnly(e.Value, f)
			if err != nil {
				return nil, err
			}
			vv.Entries[i].Value = m
		}
		return vv, nil
	case wdl.PairValue:
		left, err := mapFilesOnly(vv.Left, f)
		if err != nil {
			return nil, err
		}
		right, err := mapFilesOnly(vv.Right, f)
		if err != nil {
			return nil, err
		}
		vv.Left, vv.Right = left, right
		return vv, nil
	case wdl.StructValue:
		for i, m := range vv.Members {
			mv, err := mapFilesOnly(m.Value, f)
			if err != nil {
				return nil, err
			}
			vv.Members[i].Value = mv
		}
		return vv, nil
	}
	return v, nil
}

// execute runs the selected entrypoint after localizing URI inputs.
func (d *Director) execute(ctx context.Context, res *check.Result, inputsJSON map[string]any,
	runDir string, logger *slog.Logger) (map[string]wdl.Value, error) {

	taskOpts := taskrun.Options{
		CopyInputFiles: d.opts.CopyInputFiles || mustBool(d.cfg, "file_io.copy_input_files"),
		Verbose:        d.opts.Verbose,
		PlaceholderRegex: d.cfg.String("task_runtime.placeholder_regex"),
		Env:              d.opts.Env,
	}
	if err := d.cfg.JSON("task_runtime.defaults", &taskOpts.Defaults); err != nil {
		return nil, err
	}
	tasks := taskrun.New(d.backend, d.adm, logger, taskOpts)

	dl := d.newOrchestrator(tasks, logger)
	defer dl.Close()

	callCache := d.newCallCache(logger)

	if d.opts.TaskName != "" {
		task := res.Document.FindTask(d.opts.TaskName)
		inputs, err := ParseTaskInputs(task, inputsJSON)
		if err != nil {
			return nil, err
		}
		inputs, err = dl.LocalizeInputs(ctx, inputs, filepath.Join(runDir, "download"))
		if err != nil {
			return nil, err
		}
		cr := &callRunner{d: d, res: res, tasks: tasks, cache: callCache, runDir: runDir, logger: logger}
		outputs, err := cr.runTask(ctx, task, inputs, filepath.Join(runDir, "call-"+task.Name), res.Document)
		return envToMap(outputs, err)
	}

	wf := res.Document.Workflow
	if wf == nil {
		if len(res.Document.Tasks) == 1 {
			d.opts.TaskName = res.Document.Tasks[0].Name
			return d.execute(ctx, res, inputsJSON, runDir, logger)
		}
		return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{},
			"document has no workflow; select a task with --task")
	}
	inputs, err := ParseWorkflowInputs(wf, inputsJSON)
	if err != nil {
		return nil, err
	}
	inputs, err = dl.LocalizeInputs(ctx, inputs, filepath.Join(runDir, "download"))
	if err != nil {
		return nil, err
	}

	cr := &callRunner{d: d, res: res, tasks: tasks, cache: callCache, runDir: runDir, logger: logger}
	lib := stdlib.New(&stdlib.Context{WriteDir: filepath.Join(runDir, "write_")})
	state := runner.NewState(res.Graph, inputs, lib)
	failSlow := mustBool(d.cfg, "scheduler.fail_slow")
	drv := runner.NewDriver(state, cr, logger, failSlow)
	return drv.Run(ctx)
}

func (d *Director) newOrchestrator(tasks *taskrun.Runner, logger *slog.Logger) *download.Orchestrator {
	cacheCfg := download.CacheConfig{Dir: d.cfg.Path("download_cache.dir")}
	cacheCfg.Get = mustBool(d.cfg, "download_cache.get")
	cacheCfg.Put = mustBool(d.cfg, "download_cache.put")
	cacheCfg.EnablePatterns, _ = d.cfg.StringList("download_cache.enable_patterns")
	cacheCfg.DisablePatterns, _ = d.cfg.StringList("download_cache.disable_patterns")
	return download.NewOrchestrator(cacheCfg, logger,
		download.NewS3Downloader(logger),
		download.NewHelperDownloader(tasks, d.cfg.String("download.helper_image"), logger),
	)
}

func (d *Director) newCallCache(logger *slog.Logger) *cache.Cache {
	get := mustBool(d.cfg, "call_cache.get") && !d.opts.NoCache
	put := mustBool(d.cfg, "call_cache.put") && !d.opts.NoCache
	return cache.New(d.cfg.Path("call_cache.dir"), get, put, logger)
}

func mustBool(cfg *config.Config, key string) bool {
	b, _ := cfg.Bool(key)
	return b
}

func envToMap(env wdl.Env[wdl.Value], err error) (map[string]wdl.Value, error) {
	if err != nil {
		return nil, err
	}
	out := make(map[string]wdl.Value)
	bindings := env.All()
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace == nil {
			out[b.Name] = b.Value
		}
	}
	return out, nil
}
