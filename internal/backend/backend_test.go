package backend

import (
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry(testLogger())
	want := []string{"docker", "podman", "singularity", "udocker"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := reg.Get("docker"); err != nil {
		t.Errorf("Get(docker): %v", err)
	}
	if _, err := reg.Get("kubernetes"); err == nil {
		t.Error("Get(kubernetes) should fail")
	}
}

func TestShellInvocation(t *testing.T) {
	got := shellInvocation("/var/spool/wdl", "")
	want := "cd /var/spool/wdl/work && /bin/bash /var/spool/wdl/command.sh > /var/spool/wdl/stdout.txt 2> /var/spool/wdl/stderr.txt"
	if got != want {
		t.Errorf("shellInvocation = %q", got)
	}
	got = shellInvocation("/var/spool/wdl", "work3")
	if !strings.Contains(got, "cd /var/spool/wdl/work3 &&") {
		t.Errorf("retry invocation = %q", got)
	}
}

func TestMountArgs(t *testing.T) {
	spec := RunSpec{
		WorkDir: "/tmp/attempt",
		Mounts: []Mount{
			{Host: "/data/in.fa", Container: "/mnt/inputs/0/in.fa", ReadOnly: true},
		},
	}
	args := mountArgs(spec, true)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "target="+ContainerWorkDir) {
		t.Errorf("work dir mount missing: %v", args)
	}
	if !strings.Contains(joined, "readonly") {
		t.Errorf("input mount should be readonly: %v", args)
	}

	// udocker path: read-only not enforced.
	args = mountArgs(spec, false)
	if strings.Contains(strings.Join(args, " "), "readonly") {
		t.Errorf("enforceRO=false should drop readonly: %v", args)
	}
}

func TestSanitizeImageRef(t *testing.T) {
	if got := sanitizeImageRef("quay.io/biocontainers/samtools:1.9--h91753b0_8"); strings.ContainsAny(got, "/:@") {
		t.Errorf("sanitized ref still has separators: %q", got)
	}
}
