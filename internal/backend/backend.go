// Package backend defines the container-backend capability used by
// the task runtime, and its local variants: docker, podman,
// singularity, and udocker. Backends are an explicit registry
// populated at program start.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Mount is one bind mount into the task container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// RunSpec describes one container invocation. WorkDir is the host
// attempt directory laid out by the task runtime: command.sh at its
// root, work/ as the in-container working directory, and stdout.txt/
// stderr.txt receiving the command's streams. Backends bind WorkDir
// into the container and run
//
//	cd work && /bin/bash ../command.sh > ../stdout.txt 2> ../stderr.txt
type RunSpec struct {
	Image       string // handle returned by PrepareImage
	WorkDir     string // host attempt directory
	Work        string // work subdirectory name ("work", "work2", ...)
	Mounts      []Mount
	Env         []string // KEY=VALUE pairs
	CPU         int
	MemoryBytes int64
	Privileged  bool
}

// PollResult is a container's observed status.
type PollResult struct {
	Running  bool
	ExitCode int
}

// Handle identifies a running container to its backend.
type Handle interface {
	// ID is a backend-specific identifier for logs.
	ID() string
}

// Backend is the container capability set: prepare an image, start a
// run, poll it, kill it.
type Backend interface {
	Name() string
	// PrepareImage ensures the image is available locally (possibly
	// pulling) and returns the reference the backend understands.
	PrepareImage(ctx context.Context, ref string) (string, error)
	Run(ctx context.Context, spec RunSpec) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollResult, error)
	Kill(ctx context.Context, h Handle) error
}

// Registry holds the configured backends by name.
type Registry struct {
	backends map[string]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		logger:   logger.With("component", "backend"),
	}
}

// Register adds a backend. Later registrations with the same name
// replace earlier ones.
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
	r.logger.Debug("registered backend", "name", b.Name())
}

// Get returns the named backend.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unsupported container backend %q (have %v)", name, r.Names())
	}
	return b, nil
}

// Names lists registered backends, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry registers all built-in backends.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(&Docker{logger: logger})
	r.Register(&Podman{logger: logger})
	r.Register(&Singularity{logger: logger})
	r.Register(&UDocker{logger: logger})
	return r
}
