package taskrun

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/eval"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

// errOutputMissing marks a declared File/Directory output whose path
// does not exist; optional outputs absorb it as None.
var errOutputMissing = errors.New("output path does not exist")

// collectOutputs evaluates the task's output declarations against the
// post-execution environment. File outputs are resolved from the
// container's view back to host paths and must land under the call
// directory; anything else is a FilesystemError.
func collectOutputs(task *wdl.Task, env wdl.Env[wdl.Value], lib *stdlib.Library,
	callDir, workDir string) (wdl.Env[wdl.Value], error) {

	var outputs wdl.Env[wdl.Value]
	scope := env
	for _, d := range task.Outputs {
		v, err := eval.Eval(d.Expr, scope, lib)
		if err != nil {
			return outputs, err
		}
		cv, err := wdl.CoerceValue(v, d.Type)
		if err != nil {
			return outputs, wdl.Errorf(wdl.KindEvalError, d.Pos, "output %s: %v", d.Name, err)
		}
		resolved, err := mapPaths(cv, func(p string, isDir bool) (string, error) {
			return resolveOutputPath(p, isDir, callDir, workDir)
		})
		if err != nil {
			if errors.Is(err, errOutputMissing) && d.Type.Optional() {
				resolved = wdl.NullValue{T: d.Type}
			} else {
				var se *wdl.SourceError
				if errors.As(err, &se) {
					se.Pos = d.Pos
					return outputs, se
				}
				return outputs, wdl.Errorf(wdl.KindFilesystem, d.Pos, "output %s: %v", d.Name, err)
			}
		}
		outputs = outputs.Bind(d.Name, resolved)
		scope = scope.Bind(d.Name, resolved)
	}
	return outputs, nil
}

// resolveOutputPath maps an output path from the container's view to
// the host and enforces containment under the call directory.
func resolveOutputPath(p string, isDir bool, callDir, workDir string) (string, error) {
	host := p
	switch {
	case strings.HasPrefix(p, backend.ContainerWorkDir+"/"):
		host = filepath.Join(callDir, strings.TrimPrefix(p, backend.ContainerWorkDir+"/"))
	case !filepath.IsAbs(p):
		host = filepath.Join(workDir, p)
	}
	host = filepath.Clean(host)

	info, err := os.Stat(host)
	if err != nil {
		return "", &wdl.SourceError{Kind: wdl.KindFilesystem,
			Message: "output path does not exist: " + p, Cause: errOutputMissing}
	}
	if isDir != info.IsDir() {
		return "", wdl.Errorf(wdl.KindFilesystem, wdl.Pos{},
			"output path %s is not a %s", p, kindName(isDir))
	}

	absCall, err := filepath.Abs(callDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absCall, host)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", wdl.Errorf(wdl.KindFilesystem, wdl.Pos{},
			"output path %s is outside the task working directory", p)
	}
	return host, nil
}

func kindName(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}
