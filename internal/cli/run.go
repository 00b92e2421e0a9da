package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/director"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/internal/store"
	"github.com/me/gowdl/pkg/wdl"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		dir        string
		inputFile  string
		taskName   string
		copyInputs bool
		verbose    bool
		noCache    bool
		noQuant    bool
		envVars    []string
		empties    []string
		nones      []string
	)

	cmd := &cobra.Command{
		Use:   "run SOURCE.wdl [NAME=VALUE ...]",
		Short: "Execute a workflow or task",
		Long: `Parses, typechecks, and executes a WDL workflow (or, with --task, a
single task), scheduling each task as a container on the local host.
Prints the outputs JSON on success.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadDocument(args[0], check.Options{QuantCheck: !noQuant})
			if err != nil {
				return err
			}

			var wf *wdl.Workflow
			var task *wdl.Task
			entrypoint := ""
			if taskName != "" {
				task = res.Document.FindTask(taskName)
				if task == nil {
					return wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "no task %q in document", taskName)
				}
				entrypoint = taskName
			} else if res.Document.Workflow != nil {
				wf = res.Document.Workflow
				entrypoint = wf.Name
			} else if len(res.Document.Tasks) == 1 {
				task = res.Document.Tasks[0]
				taskName = task.Name
				entrypoint = task.Name
			} else {
				return wdl.Errorf(wdl.KindInputError, wdl.Pos{},
					"document has no workflow; select a task with --task")
			}

			inputs, err := buildInputsJSON(entrypoint, declFinder(wf, task),
				inputFile, args[1:], empties, nones)
			if err != nil {
				return err
			}

			history := openHistory()
			if history != nil {
				defer history.Close()
			}

			d, err := director.New(cfg, logger, backend.DefaultRegistry(logger), history, director.Options{
				Dir:            dir,
				TaskName:       taskName,
				CopyInputFiles: copyInputs,
				Verbose:        verbose,
				NoCache:        noCache,
				Env:            envVars,
			})
			if err != nil {
				return err
			}

			result, err := d.Run(cmd.Context(), res, inputs)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Run directory (timestamped unless it ends in /.)")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Inputs JSON file")
	cmd.Flags().StringVar(&taskName, "task", "", "Run this task instead of the workflow")
	cmd.Flags().BoolVar(&copyInputs, "copy-input-files", false, "Copy input files into the work directory instead of mounting")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Echo task stdout lines to the console")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the call cache for this run")
	cmd.Flags().BoolVar(&noQuant, "no-quant-check", false, "Relax the optional-quantifier type check")
	cmd.Flags().StringArrayVar(&envVars, "env", nil, "Extra container environment variable K[=V] (repeatable)")
	cmd.Flags().StringArrayVar(&empties, "empty", nil, "Force the named array input empty (repeatable)")
	cmd.Flags().StringArrayVar(&nones, "none", nil, "Force the named optional input absent (repeatable)")

	return cmd
}

// loadDocument reads and checks a WDL source file.
func loadDocument(path string, opts check.Options) (*check.Result, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "read source: %v", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	lib := stdlib.New(nil)
	checker := check.New(logger, nil, lib, opts)
	res, err := checker.Load(abs, source)
	if err != nil {
		return nil, err
	}
	for _, w := range checker.Warnings() {
		logger.Warn(w.Message, "pos", w.Pos.String(), "kind", w.Kind)
	}
	return res, nil
}

// openHistory opens the run-history database; failures only disable
// history.
func openHistory() store.Store {
	path := cfg.Path("history.db")
	if path == "" {
		return nil
	}
	s, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return nil
	}
	return s
}
