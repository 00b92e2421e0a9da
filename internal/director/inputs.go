package director

import (
	"sort"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// ParseWorkflowInputs binds a namespaced inputs JSON object
// ({"WF.INPUT": ..., "WF.CALL.INPUT": ...}) against a workflow's
// declarations. JSON null binds an optional input to None, overriding
// its default; unknown keys are
// InputErrors. Missing required inputs surface later, when the state
// machine reaches the declaration.
func ParseWorkflowInputs(wf *wdl.Workflow, raw map[string]any) (wdl.Env[wdl.Value], error) {
	var env wdl.Env[wdl.Value]
	callNS := make(map[string]wdl.Env[wdl.Value])

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := strings.TrimPrefix(key, wf.Name+".")
		if name == key && strings.Contains(key, ".") && !strings.HasPrefix(key, wf.Name+".") {
			return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{},
				"input key %q does not belong to workflow %s", key, wf.Name)
		}

		if call, input, dotted := strings.Cut(name, "."); dotted {
			decl := findCallInput(wf.Body, call, input)
			if decl == nil {
				return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{},
					"unknown input key %q", key)
			}
			v, err := wdl.ValueFromJSON(decl.Type, raw[key])
			if err != nil {
				return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "%s: %v", key, err)
			}
			callNS[call] = callNS[call].Bind(input, v)
			continue
		}

		decl := findInput(wf.Inputs, name)
		if decl == nil {
			return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "unknown input key %q", key)
		}
		if raw[key] == nil {
			// Explicit null forces the optional absent, overriding any
			// default.
			if !decl.Type.Optional() {
				return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{},
					"%s: null where non-optional %s expected", key, decl.Type)
			}
			env = env.Bind(name, wdl.NullValue{T: decl.Type})
			continue
		}
		v, err := wdl.ValueFromJSON(decl.Type, raw[key])
		if err != nil {
			return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "%s: %v", key, err)
		}
		env = env.Bind(name, v)
	}

	for call, ns := range callNS {
		env = env.BindNamespace(call, ns)
	}
	return env, nil
}

// ParseTaskInputs binds inputs for a bare --task run; keys may be
// qualified by the task name or bare.
func ParseTaskInputs(task *wdl.Task, raw map[string]any) (wdl.Env[wdl.Value], error) {
	var env wdl.Env[wdl.Value]
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := strings.TrimPrefix(key, task.Name+".")
		decl := findInput(task.Inputs, name)
		if decl == nil {
			return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "unknown input key %q", key)
		}
		if raw[key] == nil {
			continue
		}
		v, err := wdl.ValueFromJSON(decl.Type, raw[key])
		if err != nil {
			return env, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "%s: %v", key, err)
		}
		env = env.Bind(name, v)
	}
	return env, nil
}

func findInput(decls []*wdl.Decl, name string) *wdl.Decl {
	for _, d := range decls {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// findCallInput locates a call (by bound name, anywhere in the body
// tree) and the named input declaration of its callee.
func findCallInput(body []wdl.WorkflowNode, callName, input string) *wdl.Decl {
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
			if d := findInput(decls, input); d != nil {
				return d
			}
		case *wdl.Scatter:
			if d := findCallInput(n.Body, callName, input); d != nil {
				return d
			}
		case *wdl.Conditional:
			if d := findCallInput(n.Body, callName, input); d != nil {
				return d
			}
		}
	}
	return nil
}
