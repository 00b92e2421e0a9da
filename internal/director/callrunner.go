package director

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/me/gowdl/internal/cache"
	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/runner"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/internal/taskrun"
	"github.com/me/gowdl/pkg/wdl"
)

// callRunner bridges the state machine's ready jobs to the task
// runtime and the call cache, and recursively drives sub-workflow
// calls.
type callRunner struct {
	d      *Director
	res    *check.Result
	tasks  *taskrun.Runner
	cache  *cache.Cache
	runDir string
	logger *slog.Logger
}

// RunCall implements runner.CallRunner.
func (r *callRunner) RunCall(ctx context.Context, job runner.Job) (wdl.Env[wdl.Value], error) {
	callDir := filepath.Join(r.runDir, callDirName(job))
	if job.Call.Task != nil {
		return r.runTask(ctx, job.Call.Task, job.Inputs, callDir, r.docOf(job.Call.Task))
	}
	return r.runSubworkflow(ctx, job.Call.Workflow, job.Inputs, callDir)
}

// callDirName renders call-NAME, with scatter indices appended as
// call-NAME-I-J.
func callDirName(job runner.Job) string {
	name := "call-" + job.Call.Name()
	if job.Key.Path != "" {
		name += "-" + strings.ReplaceAll(job.Key.Path, ".", "-")
	}
	return name
}

// docOf finds the document defining a task, for source digesting.
func (r *callRunner) docOf(task *wdl.Task) *wdl.Document {
	var find func(doc *wdl.Document) *wdl.Document
	find = func(doc *wdl.Document) *wdl.Document {
		for _, t := range doc.Tasks {
			if t == task {
				return doc
			}
		}
		for _, imp := range doc.Imports {
			if imp.Doc == nil {
				continue
			}
			if found := find(imp.Doc); found != nil {
				return found
			}
		}
		return nil
	}
	if doc := find(r.res.Document); doc != nil {
		return doc
	}
	return r.res.Document
}

// runTask executes one task call through the cache: a hit
// short-circuits without launching a container; a successful run is
// written back.
func (r *callRunner) runTask(ctx context.Context, task *wdl.Task, inputs wdl.Env[wdl.Value],
	callDir string, doc *wdl.Document) (wdl.Env[wdl.Value], error) {

	var key string
	if r.cache.Enabled() {
		inputDigest, err := cache.InputDigest(inputs)
		if err != nil {
			r.logger.Debug("input digest unavailable, skipping cache", "task", task.Name, "error", err)
		} else {
			key = cache.Key(cache.SourceDigest(doc, task.Name), inputDigest)
			if outputs, ok := r.cache.Get(key, task.Outputs); ok {
				r.writeCallResult(callDir, outputs, nil)
				return outputs, nil
			}
		}
	}

	outputs, err := r.tasks.RunTask(ctx, task, inputs, callDir)
	r.writeCallResult(callDir, outputs, err)
	if err != nil {
		return outputs, err
	}

	if key != "" {
		var inputFiles []string
		collectFilePaths(inputs, &inputFiles)
		if err := r.cache.Put(key, outputs, inputFiles); err != nil {
			r.logger.Warn("call cache write failed", "task", task.Name, "error", err)
		}
	}
	return outputs, nil
}

// runSubworkflow drives a nested workflow with its own state machine
// under the call directory.
func (r *callRunner) runSubworkflow(ctx context.Context, wf *wdl.Workflow, inputs wdl.Env[wdl.Value],
	callDir string) (wdl.Env[wdl.Value], error) {

	var empty wdl.Env[wdl.Value]
	graph, ok := r.res.Graphs[wf]
	if !ok {
		return empty, wdl.Errorf(wdl.KindRunFailure, wf.Pos, "no graph for sub-workflow %s", wf.Name)
	}

	sub := &callRunner{d: r.d, res: r.res, tasks: r.tasks, cache: r.cache,
		runDir: callDir, logger: r.logger}
	lib := stdlib.New(&stdlib.Context{WriteDir: filepath.Join(callDir, "write_")})
	state := runner.NewState(graph, inputs, lib)
	failSlow := mustBool(r.d.cfg, "scheduler.fail_slow")
	drv := runner.NewDriver(state, sub, r.logger, failSlow)

	outMap, err := drv.Run(ctx)
	if err != nil {
		return empty, err
	}
	var outputs wdl.Env[wdl.Value]
	for _, d := range wf.Outputs {
		if v, ok := outMap[d.Name]; ok {
			outputs = outputs.Bind(d.Name, v)
		}
	}
	return outputs, nil
}

// writeCallResult records outputs.json or error.json (and the out/
// link tree) in the call directory.
func (r *callRunner) writeCallResult(callDir string, outputs wdl.Env[wdl.Value], runErr error) {
	if runErr != nil {
		r.d.writeErrorJSON(callDir, runErr)
		return
	}
	doc := make(map[string]any)
	bindings := outputs.All()
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace == nil {
			doc[b.Name] = b.Value.JSON()
		}
	}
	if err := writeJSON(filepath.Join(callDir, "outputs.json"), doc); err != nil {
		r.logger.Warn("cannot write call outputs.json", "error", err)
	}
	outs := make(map[string]wdl.Value)
	for i := len(bindings) - 1; i >= 0; i-- {
		if bindings[i].Namespace == nil {
			outs[bindings[i].Name] = bindings[i].Value
		}
	}
	r.d.linkOutputs(callDir, outs, r.logger)
}

func collectFilePaths(env wdl.Env[wdl.Value], into *[]string) {
	for _, b := range env.All() {
		if b.Namespace != nil {
			continue
		}
		_, _ = mapFilesOnly(b.Value, func(p string) (string, error) {
			*into = append(*into, p)
			return p, nil
		})
	}
}
