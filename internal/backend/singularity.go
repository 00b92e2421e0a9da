package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Singularity runs tasks through `singularity exec`. Docker image
// tags are pulled via singularity's docker import; the container sees
// writable paths only under /tmp and the work directory. Resource
// limits are advisory.
type Singularity struct {
	// Command overrides the singularity binary (default "singularity";
	// set it to "apptainer" for an apptainer installation).
	Command string
	// ImageDir caches pulled SIF files (default: os.TempDir()).
	ImageDir string
	logger   *slog.Logger
}

func (s *Singularity) Name() string { return "singularity" }

func (s *Singularity) bin() string {
	if s.Command != "" {
		return s.Command
	}
	return "singularity"
}

// PrepareImage pulls a docker:// reference into a cached SIF file.
func (s *Singularity) PrepareImage(ctx context.Context, ref string) (string, error) {
	dir := s.ImageDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gowdl-sif")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	sif := filepath.Join(dir, sanitizeImageRef(ref)+".sif")
	if _, err := os.Stat(sif); err == nil {
		return sif, nil
	}
	s.logger.Info("pulling image", "image", ref, "sif", sif)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.bin(), "pull", sif, "docker://"+ref)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("singularity pull %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return sif, nil
}

func sanitizeImageRef(ref string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '@':
			return '_'
		}
		return r
	}, ref)
}

func (s *Singularity) Run(ctx context.Context, spec RunSpec) (Handle, error) {
	work := spec.Work
	if work == "" {
		work = "work"
	}
	args := []string{"exec", "--containall", "--pwd", ContainerWorkDir + "/" + work}
	args = append(args, "--bind", resolveSymlinks(spec.WorkDir)+":"+ContainerWorkDir)
	for _, m := range spec.Mounts {
		bind := resolveSymlinks(m.Host) + ":" + m.Container
		if m.ReadOnly {
			bind += ":ro"
		}
		args = append(args, "--bind", bind)
	}
	for _, kv := range spec.Env {
		args = append(args, "--env", kv)
	}
	args = append(args, spec.Image, "/bin/bash", "-c", shellInvocation(ContainerWorkDir, spec.Work))

	cmd := exec.Command(s.bin(), args...)
	h, err := startProcess("singularity:"+filepath.Base(spec.WorkDir), cmd)
	if err != nil {
		return nil, fmt.Errorf("singularity exec: %w", err)
	}
	_ = ctx
	return h, nil
}

func (s *Singularity) Poll(_ context.Context, h Handle) (PollResult, error) {
	return h.(*processHandle).poll()
}

func (s *Singularity) Kill(ctx context.Context, h Handle) error {
	return h.(*processHandle).kill(ctx)
}
