package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.String("scheduler.container_backend") != "docker" {
		t.Errorf("default backend = %q", c.String("scheduler.container_backend"))
	}
	if got, err := c.Bool("call_cache.get"); err != nil || got {
		t.Errorf("call_cache.get default = %v, %v", got, err)
	}
	var defaults struct {
		Docker string `json:"docker"`
		CPU    int    `json:"cpu"`
	}
	if err := c.JSON("task_runtime.defaults", &defaults); err != nil {
		t.Fatalf("defaults JSON: %v", err)
	}
	if defaults.Docker == "" || defaults.CPU != 1 {
		t.Errorf("runtime defaults = %+v", defaults)
	}
}

func TestEnvOverride(t *testing.T) {
	c := Defaults()
	c.mergeEnv([]string{
		"GOWDL__SCHEDULER__CONTAINER_BACKEND=podman",
		"GOWDL__CALL_CACHE__GET=true",
		"UNRELATED=x",
	})
	if c.String("scheduler.container_backend") != "podman" {
		t.Errorf("env override missed: %q", c.String("scheduler.container_backend"))
	}
	if got, _ := c.Bool("call_cache.get"); !got {
		t.Error("call_cache.get should be true from env")
	}
	if c.Source("scheduler.container_backend") != "environment" {
		t.Errorf("source = %q", c.Source("scheduler.container_backend"))
	}
}

func TestFileThenOverridePriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gowdl.yaml")
	content := "scheduler:\n  container_backend: singularity\nresources:\n  cpu: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := Defaults()
	if err := c.mergeFile(path); err != nil {
		t.Fatalf("mergeFile error: %v", err)
	}
	if c.String("scheduler.container_backend") != "singularity" {
		t.Errorf("file value = %q", c.String("scheduler.container_backend"))
	}
	if n, _ := c.Int("resources.cpu"); n != 4 {
		t.Errorf("resources.cpu = %d", n)
	}

	// Environment beats the file; command line beats both.
	c.mergeEnv([]string{"GOWDL__SCHEDULER__CONTAINER_BACKEND=udocker"})
	if c.String("scheduler.container_backend") != "udocker" {
		t.Error("environment should override the file")
	}
	c.Override("scheduler.container_backend", "docker")
	if c.String("scheduler.container_backend") != "docker" {
		t.Error("command line should override the environment")
	}
	if c.Source("scheduler.container_backend") != "command line" {
		t.Errorf("source = %q", c.Source("scheduler.container_backend"))
	}
}

func TestStructuredYAMLValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gowdl.yaml")
	content := "download_cache:\n  enable_patterns: [\"s3://*\", \"https://*\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Defaults()
	if err := c.mergeFile(path); err != nil {
		t.Fatalf("mergeFile error: %v", err)
	}
	patterns, err := c.StringList("download_cache.enable_patterns")
	if err != nil {
		t.Fatalf("StringList error: %v", err)
	}
	if len(patterns) != 2 || patterns[0] != "s3://*" {
		t.Errorf("patterns = %v", patterns)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("ExpandPath(~/x) = %q", got)
	}
	if got := ExpandPath("/abs/x"); got != "/abs/x" {
		t.Errorf("ExpandPath(/abs/x) = %q", got)
	}
}
