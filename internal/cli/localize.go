package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/download"
	"github.com/me/gowdl/internal/taskrun"
	"github.com/spf13/cobra"
)

func newLocalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localize SOURCE.wdl INPUTS.json",
		Short: "Pre-populate the download cache with the inputs' URIs",
		Long: `Scans an inputs JSON file for downloadable URIs and fetches each one
into the download cache, so subsequent runs start without network
traffic. The source file is accepted for interface compatibility and
future type-directed scanning.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var inputs map[string]any
			if err := json.Unmarshal(data, &inputs); err != nil {
				return fmt.Errorf("inputs JSON: %w", err)
			}

			// Force cache writes on for localization.
			cfg.Override("download_cache.put", "true")
			cfg.Override("download_cache.get", "true")

			reg := backend.DefaultRegistry(logger)
			be, err := reg.Get(cfg.String("scheduler.container_backend"))
			if err != nil {
				return err
			}
			adm := taskrun.NewAdmission(0, 0, logger)
			var taskOpts taskrun.Options
			if err := cfg.JSON("task_runtime.defaults", &taskOpts.Defaults); err != nil {
				return err
			}
			tasks := taskrun.New(be, adm, logger, taskOpts)

			dl := download.NewOrchestrator(download.CacheConfig{
				Get: true, Put: true,
				Dir: cfg.Path("download_cache.dir"),
			}, logger,
				download.NewS3Downloader(logger),
				download.NewHelperDownloader(tasks, cfg.String("download.helper_image"), logger),
			)
			defer dl.Close()

			n := 0
			var scan func(v any) error
			scan = func(v any) error {
				switch vv := v.(type) {
				case string:
					if dl.IsURI(vv) {
						p, err := dl.Localize(cmd.Context(), vv, cfg.Path("download_cache.dir"))
						if err != nil {
							return err
						}
						logger.Info("localized", "uri", vv, "path", p)
						n++
					}
				case []any:
					for _, item := range vv {
						if err := scan(item); err != nil {
							return err
						}
					}
				case map[string]any:
					for _, item := range vv {
						if err := scan(item); err != nil {
							return err
						}
					}
				}
				return nil
			}
			if err := scan(inputs); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "localized %d URI(s)\n", n)
			return nil
		},
	}
	return cmd
}
