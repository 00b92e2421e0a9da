package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// UDocker runs tasks through udocker, a user-space docker emulation
// with no isolation guarantees: inputs are mounted writable and
// resource limits are advisory only.
type UDocker struct {
	// Command overrides the udocker binary (default "udocker").
	Command string
	logger  *slog.Logger
}

func (u *UDocker) Name() string { return "udocker" }

func (u *UDocker) bin() string {
	if u.Command != "" {
		return u.Command
	}
	return "udocker"
}

func (u *UDocker) PrepareImage(ctx context.Context, ref string) (string, error) {
	u.logger.Info("pulling image", "image", ref)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, u.bin(), "pull", ref)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("udocker pull %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return ref, nil
}

func (u *UDocker) Run(ctx context.Context, spec RunSpec) (Handle, error) {
	work := spec.Work
	if work == "" {
		work = "work"
	}
	args := []string{"run", "--rm",
		"--volume", resolveSymlinks(spec.WorkDir) + ":" + ContainerWorkDir,
		"--workdir", ContainerWorkDir + "/" + work,
	}
	// udocker cannot mount read-only; inputs are exposed writable.
	for _, m := range spec.Mounts {
		args = append(args, "--volume", resolveSymlinks(m.Host)+":"+m.Container)
	}
	for _, kv := range spec.Env {
		args = append(args, "--env", kv)
	}
	args = append(args, spec.Image, "/bin/bash", "-c", shellInvocation(ContainerWorkDir, spec.Work))

	cmd := exec.Command(u.bin(), args...)
	h, err := startProcess("udocker:"+filepath.Base(spec.WorkDir), cmd)
	if err != nil {
		return nil, fmt.Errorf("udocker run: %w", err)
	}
	_ = ctx
	return h, nil
}

func (u *UDocker) Poll(_ context.Context, h Handle) (PollResult, error) {
	return h.(*processHandle).poll()
}

func (u *UDocker) Kill(ctx context.Context, h Handle) error {
	return h.(*processHandle).kill(ctx)
}
