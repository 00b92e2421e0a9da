package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ContainerWorkDir is where containerized backends bind the host
// attempt directory; the command runs inside its work/ subdirectory.
const ContainerWorkDir = "/var/spool/wdl"

// shellInvocation renders the wrapper that runs the command script
// from the attempt's work subdirectory with streams captured,
// relative to the attempt directory visible at base.
func shellInvocation(base, work string) string {
	if work == "" {
		work = "work"
	}
	return fmt.Sprintf("cd %[1]s/%[2]s && /bin/bash %[1]s/command.sh > %[1]s/stdout.txt 2> %[1]s/stderr.txt",
		base, work)
}

// Docker runs task containers through the local docker daemon.
// CPU and memory reservations are enforced by the engine.
type Docker struct {
	// Command is the docker binary path (default "docker").
	Command string
	logger  *slog.Logger
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) bin() string {
	if d.Command != "" {
		return d.Command
	}
	return "docker"
}

// PrepareImage pulls the image unless it is already present.
func (d *Docker) PrepareImage(ctx context.Context, ref string) (string, error) {
	inspect := exec.CommandContext(ctx, d.bin(), "image", "inspect", ref)
	inspect.Stdout, inspect.Stderr = nil, nil
	if err := inspect.Run(); err == nil {
		return ref, nil
	}
	d.logger.Info("pulling image", "image", ref)
	var stderr bytes.Buffer
	pull := exec.CommandContext(ctx, d.bin(), "pull", ref)
	pull.Stderr = &stderr
	if err := pull.Run(); err != nil {
		return "", fmt.Errorf("docker pull %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return ref, nil
}

// containerHandle identifies a detached container by id.
type containerHandle struct {
	id string
}

func (h *containerHandle) ID() string { return h.id }

// Run starts a detached container executing the command script.
func (d *Docker) Run(ctx context.Context, spec RunSpec) (Handle, error) {
	args := []string{"run", "--detach"}
	args = append(args, mountArgs(spec, true)...)
	args = append(args, "--workdir", ContainerWorkDir)
	if spec.CPU > 0 {
		args = append(args, "--cpus", strconv.Itoa(spec.CPU))
	}
	if spec.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryBytes, 10))
	}
	if spec.Privileged {
		args = append(args, "--privileged")
	}
	for _, kv := range spec.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, spec.Image, "/bin/bash", "-c", shellInvocation(ContainerWorkDir, spec.Work))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.bin(), args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	d.logger.Debug("container started", "id", id)
	return &containerHandle{id: id}, nil
}

// Poll inspects the container's state. The run script already
// redirects the command's streams into the mounted attempt directory,
// so only the exit code is read here.
func (d *Docker) Poll(ctx context.Context, h Handle) (PollResult, error) {
	ch := h.(*containerHandle)
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, d.bin(), "inspect",
		"--format", "{{.State.Running}} {{.State.ExitCode}}", ch.id)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return PollResult{}, fmt.Errorf("docker inspect %s: %w", ch.id, err)
	}
	fields := strings.Fields(stdout.String())
	if len(fields) != 2 {
		return PollResult{}, fmt.Errorf("docker inspect %s: unexpected output %q", ch.id, stdout.String())
	}
	if fields[0] == "true" {
		return PollResult{Running: true}, nil
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return PollResult{}, fmt.Errorf("docker inspect %s: bad exit code %q", ch.id, fields[1])
	}
	// Reap the stopped container.
	_ = exec.CommandContext(ctx, d.bin(), "rm", ch.id).Run()
	return PollResult{Running: false, ExitCode: code}, nil
}

// Kill force-removes the container.
func (d *Docker) Kill(ctx context.Context, h Handle) error {
	ch := h.(*containerHandle)
	return exec.CommandContext(ctx, d.bin(), "rm", "--force", ch.id).Run()
}

// mountArgs renders the work-directory and input mounts as --mount
// flags. When enforceRO is false (udocker) the read-only flag is
// dropped.
func mountArgs(spec RunSpec, enforceRO bool) []string {
	args := []string{
		"--mount", fmt.Sprintf("type=bind,source=%s,target=%s", resolveSymlinks(spec.WorkDir), ContainerWorkDir),
	}
	for _, m := range spec.Mounts {
		opt := ""
		if m.ReadOnly && enforceRO {
			opt = ",readonly"
		}
		args = append(args,
			"--mount", fmt.Sprintf("type=bind,source=%s,target=%s%s", resolveSymlinks(m.Host), m.Container, opt))
	}
	return args
}

// resolveSymlinks resolves a path for bind mounting; docker refuses
// dangling symlink sources.
func resolveSymlinks(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}
