package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/me/gowdl/internal/taskrun"
	"github.com/me/gowdl/pkg/wdl"
)

// HelperDownloader fetches http/https/ftp URIs by materializing a
// synthetic task whose command runs the configured helper image's
// fetch tool through the ordinary task runtime, so downloads obey the
// same admission control, logging, and directory layout as user
// tasks.
type HelperDownloader struct {
	runner *taskrun.Runner
	image  string
	logger *slog.Logger
}

// NewHelperDownloader creates the helper-image downloader.
func NewHelperDownloader(runner *taskrun.Runner, image string, logger *slog.Logger) *HelperDownloader {
	return &HelperDownloader{runner: runner, image: image, logger: logger.With("component", "download-task")}
}

func (d *HelperDownloader) Schemes() []string {
	return []string{"http", "https", "ftp"}
}

// Fetch runs the synthetic download task under destDir and moves the
// produced file into place.
func (d *HelperDownloader) Fetch(ctx context.Context, uri, destDir string) (string, error) {
	name := uriBasename(uri)
	task := syntheticDownloadTask(d.image, uri, name)

	callDir := filepath.Join(destDir, ".fetch")
	var inputs wdl.Env[wdl.Value]
	outputs, err := d.runner.RunTask(ctx, task, inputs, callDir)
	if err != nil {
		return "", err
	}
	v, ok := outputs.Lookup("file")
	if !ok {
		return "", fmt.Errorf("download task produced no output")
	}
	fv, ok := v.(wdl.FileValue)
	if !ok {
		return "", fmt.Errorf("download task output is not a File")
	}

	dest := filepath.Join(destDir, name)
	if err := os.Rename(fv.V, dest); err != nil {
		// Cross-device fallback.
		if err := copyAcross(fv.V, dest); err != nil {
			return "", err
		}
	}
	_ = os.RemoveAll(callDir)
	return dest, nil
}

// syntheticDownloadTask builds the one-shot task that downloads a URI
// with the helper image. Values are shell-quoted into the literal
// command; there are no placeholders to guard.
func syntheticDownloadTask(image, uri, name string) *wdl.Task {
	script := fmt.Sprintf("set -euo pipefail\ncurl -fsSL %s -o %s\n",
		shellQuote(uri), shellQuote(name))
	return &wdl.Task{
		Name:    "download",
		Command: wdl.NewLiteralString(wdl.Pos{}, script),
		Outputs: []*wdl.Decl{{
			Name: "file",
			Type: wdl.File{},
			Expr: wdl.NewLiteralString(wdl.Pos{}, name),
		}},
		Runtime: []wdl.RuntimeEntry{{
			Key:  "docker",
			Expr: wdl.NewLiteralString(wdl.Pos{}, image),
		}},
	}
}

func shellQuote(s string) string {
	out := "'"
	for _, r := range s {
		if r == '\'' {
			out += `'\''`
			continue
		}
		out += string(r)
	}
	return out + "'"
}

func copyAcross(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
