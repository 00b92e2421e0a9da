package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// buildInputsJSON merges -i FILE.json with positional NAME=VALUE
// pairs (typed against the entrypoint's input declarations), --empty
// arrays, and --none optionals, producing the namespaced inputs
// object the director consumes.
func buildInputsJSON(entrypoint string, decls func(name string) *wdl.Decl,
	inputFile string, positional, empties, nones []string) (map[string]any, error) {

	inputs := make(map[string]any)
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "read inputs: %v", err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "inputs JSON: %v", err)
		}
	}

	for _, arg := range positional {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{},
				"invalid input %q (expected NAME=VALUE)", arg)
		}
		decl := decls(name)
		if decl == nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "no input named %q", name)
		}
		v, err := parseInputValue(decl.Type, raw)
		if err != nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "%s: %v", name, err)
		}
		key := entrypoint + "." + name
		if _, isArr := decl.Type.(wdl.Array); isArr {
			// Repeated NAME=VALUE accumulates an array.
			prior, _ := inputs[key].([]any)
			inputs[key] = append(prior, v)
		} else {
			inputs[key] = v
		}
	}

	for _, name := range empties {
		if decls(name) == nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "no input named %q", name)
		}
		inputs[entrypoint+"."+name] = []any{}
	}
	for _, name := range nones {
		if decls(name) == nil {
			return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "no input named %q", name)
		}
		inputs[entrypoint+"."+name] = nil
	}
	return inputs, nil
}

// parseInputValue converts a command-line token by the declared
// (element) type.
func parseInputValue(t wdl.Type, raw string) (any, error) {
	if arr, ok := t.(wdl.Array); ok {
		return parseInputValue(arr.Item, raw)
	}
	switch t.(type) {
	case wdl.Int:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an Int", raw)
		}
		return n, nil
	case wdl.Float:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a Float", raw)
		}
		return f, nil
	case wdl.Boolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a Boolean", raw)
		}
		return b, nil
	case wdl.File, wdl.Directory:
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, err
		}
		return abs, nil
	}
	return raw, nil
}

// declFinder builds the NAME → input declaration lookup over a
// workflow or task, accepting dotted call-qualified names.
func declFinder(wf *wdl.Workflow, task *wdl.Task) func(string) *wdl.Decl {
	return func(name string) *wdl.Decl {
		if task != nil {
			return findDecl(task.Inputs, strings.TrimPrefix(name, task.Name+"."))
		}
		if wf == nil {
			return nil
		}
		if call, input, dotted := strings.Cut(name, "."); dotted {
			return findCallInputDecl(wf.Body, call, input)
		}
		return findDecl(wf.Inputs, name)
	}
}

func findDecl(decls []*wdl.Decl, name string) *wdl.Decl {
	for _, d := range decls {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func findCallInputDecl(body []wdl.WorkflowNode, callName, input string) *wdl.Decl {
	for _, node := range body {
		switch n := node.(type) {
		case *wdl.Call:
			if n.Name() != callName {
				continue
			}
			var decls []*wdl.Decl
			if n.Task != nil {
				decls = n.Task.Inputs
			} else if n.Workflow != nil {
				decls = n.Workflow.Inputs
			}
			if d := findDecl(decls, input); d != nil {
				return d
			}
		case *wdl.Scatter:
			if d := findCallInputDecl(n.Body, callName, input); d != nil {
				return d
			}
		case *wdl.Conditional:
			if d := findCallInputDecl(n.Body, callName, input); d != nil {
				return d
			}
		}
	}
	return nil
}
