package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Podman runs task containers through `sudo podman`, which requires a
// passwordless sudoers entry for the podman binary. Resource limits
// are advisory; there is no cross-process admission.
type Podman struct {
	// Command overrides the podman binary (default "podman").
	Command string
	// NoSudo drops the sudo prefix (rootless setups).
	NoSudo bool
	logger *slog.Logger
}

func (p *Podman) Name() string { return "podman" }

func (p *Podman) argv(args ...string) (string, []string) {
	bin := p.Command
	if bin == "" {
		bin = "podman"
	}
	if p.NoSudo {
		return bin, args
	}
	return "sudo", append([]string{"-n", bin}, args...)
}

func (p *Podman) PrepareImage(ctx context.Context, ref string) (string, error) {
	bin, args := p.argv("image", "exists", ref)
	if err := exec.CommandContext(ctx, bin, args...).Run(); err == nil {
		return ref, nil
	}
	p.logger.Info("pulling image", "image", ref)
	var stderr bytes.Buffer
	bin, args = p.argv("pull", ref)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("podman pull %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return ref, nil
}

func (p *Podman) Run(ctx context.Context, spec RunSpec) (Handle, error) {
	runArgs := []string{"run", "--detach"}
	runArgs = append(runArgs, mountArgs(spec, true)...)
	runArgs = append(runArgs, "--workdir", ContainerWorkDir)
	if spec.CPU > 0 {
		runArgs = append(runArgs, "--cpus", strconv.Itoa(spec.CPU))
	}
	if spec.MemoryBytes > 0 {
		runArgs = append(runArgs, "--memory", strconv.FormatInt(spec.MemoryBytes, 10))
	}
	if spec.Privileged {
		runArgs = append(runArgs, "--privileged")
	}
	for _, kv := range spec.Env {
		runArgs = append(runArgs, "-e", kv)
	}
	runArgs = append(runArgs, spec.Image, "/bin/bash", "-c", shellInvocation(ContainerWorkDir, spec.Work))

	var stdout, stderr bytes.Buffer
	bin, args := p.argv(runArgs...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("podman run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	p.logger.Debug("container started", "id", id)
	return &containerHandle{id: id}, nil
}

func (p *Podman) Poll(ctx context.Context, h Handle) (PollResult, error) {
	ch := h.(*containerHandle)
	var stdout bytes.Buffer
	bin, args := p.argv("inspect", "--format", "{{.State.Running}} {{.State.ExitCode}}", ch.id)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return PollResult{}, fmt.Errorf("podman inspect %s: %w", ch.id, err)
	}
	fields := strings.Fields(stdout.String())
	if len(fields) != 2 {
		return PollResult{}, fmt.Errorf("podman inspect %s: unexpected output %q", ch.id, stdout.String())
	}
	if fields[0] == "true" {
		return PollResult{Running: true}, nil
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return PollResult{}, fmt.Errorf("podman inspect %s: bad exit code %q", ch.id, fields[1])
	}
	bin, args = p.argv("rm", ch.id)
	_ = exec.CommandContext(ctx, bin, args...).Run()
	return PollResult{Running: false, ExitCode: code}, nil
}

func (p *Podman) Kill(ctx context.Context, h Handle) error {
	ch := h.(*containerHandle)
	bin, args := p.argv("rm", "--force", ch.id)
	return exec.CommandContext(ctx, bin, args...).Run()
}
