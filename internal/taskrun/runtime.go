package taskrun

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/me/gowdl/internal/eval"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
)

// RuntimeAttrs are a task's evaluated runtime attributes, after
// defaults and clamping.
type RuntimeAttrs struct {
	Image       string
	CPU         int
	MemoryBytes int64
	MaxRetries  int
	// ReturnCodes lists the accepted exit codes; AnyReturnCode accepts
	// every code ("*"). Empty means {0}.
	ReturnCodes   []int
	AnyReturnCode bool
	Privileged    bool
}

// RuntimeDefaults mirrors the task_runtime.defaults config entry.
type RuntimeDefaults struct {
	Docker string `json:"docker"`
	CPU    int    `json:"cpu"`
	Memory string `json:"memory"`
}

// Accepts reports whether an exit code satisfies the task's
// returnCodes contract.
func (r *RuntimeAttrs) Accepts(code int) bool {
	if r.AnyReturnCode {
		return true
	}
	if len(r.ReturnCodes) == 0 {
		return code == 0
	}
	for _, ok := range r.ReturnCodes {
		if code == ok {
			return true
		}
	}
	return false
}

// evalRuntime evaluates the task's runtime section against the input
// environment, applying configured defaults.
func evalRuntime(task *wdl.Task, env wdl.Env[wdl.Value], lib *stdlib.Library, defaults RuntimeDefaults) (*RuntimeAttrs, error) {
	attrs := &RuntimeAttrs{
		Image: defaults.Docker,
		CPU:   defaults.CPU,
	}
	if attrs.CPU <= 0 {
		attrs.CPU = 1
	}
	if defaults.Memory != "" {
		mem, err := parseMemory(defaults.Memory)
		if err != nil {
			return nil, fmt.Errorf("configured default memory: %w", err)
		}
		attrs.MemoryBytes = mem
	}

	for _, entry := range task.Runtime {
		v, err := eval.Eval(entry.Expr, env, lib)
		if err != nil {
			return nil, err
		}
		switch entry.Key {
		case "docker", "container":
			s, err := asString(v)
			if err != nil {
				return nil, fmt.Errorf("runtime.%s: %w", entry.Key, err)
			}
			attrs.Image = s
		case "cpu":
			n, err := asInt(v)
			if err != nil {
				return nil, fmt.Errorf("runtime.cpu: %w", err)
			}
			if n < 1 {
				n = 1
			}
			attrs.CPU = int(n)
		case "memory":
			mem, err := memoryValue(v)
			if err != nil {
				return nil, fmt.Errorf("runtime.memory: %w", err)
			}
			attrs.MemoryBytes = mem
		case "maxRetries", "preemptible_tries_max", "max_retries":
			n, err := asInt(v)
			if err != nil {
				return nil, fmt.Errorf("runtime.maxRetries: %w", err)
			}
			if n < 0 {
				n = 0
			}
			attrs.MaxRetries = int(n)
		case "returnCodes":
			if err := parseReturnCodes(attrs, v); err != nil {
				return nil, err
			}
		case "privileged":
			b, ok := v.(wdl.BooleanValue)
			if !ok {
				return nil, fmt.Errorf("runtime.privileged must be Boolean")
			}
			attrs.Privileged = b.V
		}
	}

	if attrs.Image == "" {
		return nil, fmt.Errorf("no container image: set runtime.docker or configure a default")
	}
	return attrs, nil
}

func parseReturnCodes(attrs *RuntimeAttrs, v wdl.Value) error {
	switch rv := v.(type) {
	case wdl.StringValue:
		if rv.V == "*" {
			attrs.AnyReturnCode = true
			return nil
		}
		return fmt.Errorf("runtime.returnCodes: string form must be %q", "*")
	case wdl.IntValue:
		attrs.ReturnCodes = []int{int(rv.V)}
		return nil
	case wdl.ArrayValue:
		for _, item := range rv.Items {
			iv, ok := item.(wdl.IntValue)
			if !ok {
				return fmt.Errorf("runtime.returnCodes: array items must be Int")
			}
			attrs.ReturnCodes = append(attrs.ReturnCodes, int(iv.V))
		}
		return nil
	}
	return fmt.Errorf("runtime.returnCodes must be Int, Array[Int], or %q", "*")
}

func asString(v wdl.Value) (string, error) {
	switch sv := v.(type) {
	case wdl.StringValue:
		return sv.V, nil
	case wdl.FileValue:
		return sv.V, nil
	}
	return "", fmt.Errorf("expected String, got %s", v.Type())
}

func asInt(v wdl.Value) (int64, error) {
	switch nv := v.(type) {
	case wdl.IntValue:
		return nv.V, nil
	case wdl.FloatValue:
		if nv.V == math.Trunc(nv.V) {
			return int64(nv.V), nil
		}
	case wdl.StringValue:
		var n int64
		if _, err := fmt.Sscanf(nv.V, "%d", &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("expected Int, got %s", v.Type())
}

// memoryValue accepts an Int byte count or a humanized string
// ("4 GiB", "2000 MB").
func memoryValue(v wdl.Value) (int64, error) {
	switch mv := v.(type) {
	case wdl.IntValue:
		return mv.V, nil
	case wdl.StringValue:
		return parseMemory(mv.V)
	}
	return 0, fmt.Errorf("expected Int bytes or size string, got %s", v.Type())
}

// ParseMemory parses a humanized size string ("4 GiB") into bytes.
func ParseMemory(s string) (int64, error) {
	return parseMemory(s)
}

func parseMemory(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("memory size %q overflows", s)
	}
	return int64(n), nil
}
