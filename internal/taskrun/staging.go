package taskrun

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/pkg/wdl"
)

// staging is the result of input-file staging: the container mounts
// and the environment with File/Directory handles rewritten to their
// in-container paths.
type staging struct {
	mounts       []backend.Mount
	containerEnv wdl.Env[wdl.Value]
}

// stageInputs prepares every File/Directory input for the container.
// By default inputs are read-only mounts under /mnt/inputs; with
// copy_input_files they are copied into the work directory instead.
func (r *Runner) stageInputs(env wdl.Env[wdl.Value], workDir string) (*staging, error) {
	st := &staging{}
	seen := make(map[string]string) // host path -> container path
	n := 0

	stagePath := func(host string, isDir bool) (string, error) {
		if c, ok := seen[host]; ok {
			return c, nil
		}
		abs, err := filepath.Abs(host)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", wdl.Errorf(wdl.KindFilesystem, wdl.Pos{}, "input not found: %s", host)
		}
		base := filepath.Base(abs)
		var container string
		if r.opts.CopyInputFiles {
			dest := filepath.Join(workDir, "_inputs", strconv.Itoa(n), base)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return "", err
			}
			if isDir {
				if err := copyTree(abs, dest); err != nil {
					return "", err
				}
			} else if err := copyFile(abs, dest); err != nil {
				return "", err
			}
			container = backend.ContainerWorkDir + "/" + filepath.Base(workDir) +
				"/_inputs/" + strconv.Itoa(n) + "/" + base
		} else {
			container = containerInputDir + "/" + strconv.Itoa(n) + "/" + base
			st.mounts = append(st.mounts, backend.Mount{Host: abs, Container: container, ReadOnly: true})
		}
		seen[host] = container
		n++
		return container, nil
	}

	rewrite := func(v wdl.Value) (wdl.Value, error) {
		return mapPaths(v, func(p string, isDir bool) (string, error) {
			return stagePath(p, isDir)
		})
	}

	// Rebuild the environment oldest-first so shadowing is preserved.
	bindings := env.All()
	var out wdl.Env[wdl.Value]
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace != nil {
			out = out.BindNamespace(b.Name, *b.Namespace)
			continue
		}
		v, err := rewrite(b.Value)
		if err != nil {
			return nil, err
		}
		out = out.Bind(b.Name, v)
	}
	st.containerEnv = out
	return st, nil
}

// mapPaths rewrites every File/Directory handle in a value tree.
func mapPaths(v wdl.Value, f func(path string, isDir bool) (string, error)) (wdl.Value, error) {
	switch vv := v.(type) {
	case wdl.FileValue:
		p, err := f(vv.V, false)
		if err != nil {
			return nil, err
		}
		vv.V = p
		return vv, nil
	case wdl.DirectoryValue:
		p, err := f(vv.V, true)
		if err != nil {
			return nil, err
		}
		vv.V = p
		return vv, nil
	case wdl.ArrayValue:
		items := make([]wdl.Value, len(vv.Items))
		for i, item := range vv.Items {
			m, err := mapPaths(item, f)
			if err != nil {
				return nil, err
			}
			items[i] = m
		}
		vv.Items = items
		return vv, nil
	case wdl.MapValue:
		entries := make([]wdl.MapEntry, len(vv.Entries))
		for i, e := range vv.Entries {
			k, err := mapPaths(e.Key, f)
			if err != nil {
				return nil, err
			}
			val, err := mapPaths(e.Value, f)
			if err != nil {
				return nil, err
			}
			entries[i] = wdl.MapEntry{Key: k, Value: val}
		}
		vv.Entries = entries
		return vv, nil
	case wdl.PairValue:
		left, err := mapPaths(vv.Left, f)
		if err != nil {
			return nil, err
		}
		right, err := mapPaths(vv.Right, f)
		if err != nil {
			return nil, err
		}
		vv.Left, vv.Right = left, right
		return vv, nil
	case wdl.StructValue:
		members := make([]wdl.NamedValue, len(vv.Members))
		for i, m := range vv.Members {
			mv, err := mapPaths(m.Value, f)
			if err != nil {
				return nil, err
			}
			members[i] = wdl.NamedValue{Name: m.Name, Value: mv}
		}
		vv.Members = members
		return vv, nil
	}
	return v, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
