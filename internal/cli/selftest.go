package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/gowdl/internal/backend"
	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/director"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/spf13/cobra"
)

// selfTestSource is a canned workflow exercising scatter, a
// conditional, string interpolation, and output collection end to
// end.
const selfTestSource = `version 1.0

task hello {
  input {
    String who
  }
  command <<<
    echo "Hello, ~{who}!" > message.txt
  >>>
  output {
    File message = "message.txt"
    String text = read_string("message.txt")
  }
  runtime {
    cpu: 1
    memory: "64 MB"
  }
}

workflow self_test {
  input {
    Array[String] names = ["Alyssa", "Ben"]
    Boolean extra = true
  }
  scatter (name in names) {
    call hello { input: who = name }
  }
  if (extra) {
    call hello as hello_extra { input: who = "world" }
  }
  output {
    Array[String] greetings = hello.text
    String? extra_greeting = hello_extra.text
  }
}
`

func newSelfTestCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "run-self-test",
		Aliases: []string{"run_self_test"},
		Short:   "Execute a canned trivial workflow end-to-end",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := dir
			if workDir == "" {
				tmp, err := os.MkdirTemp("", "gowdl-selftest-")
				if err != nil {
					return err
				}
				workDir = tmp
			}
			srcPath := filepath.Join(workDir, "self_test.wdl")
			if err := os.WriteFile(srcPath, []byte(selfTestSource), 0o644); err != nil {
				return err
			}

			lib := stdlib.New(nil)
			checker := check.New(logger, nil, lib, check.DefaultOptions())
			res, err := checker.Load(srcPath, []byte(selfTestSource))
			if err != nil {
				return err
			}

			d, err := director.New(cfg, logger, backend.DefaultRegistry(logger), nil, director.Options{
				Dir: workDir,
			})
			if err != nil {
				return err
			}
			result, err := d.Run(cmd.Context(), res, map[string]any{})
			if err != nil {
				return err
			}

			greetings, ok := result.Outputs["self_test.greetings"].([]any)
			if !ok || len(greetings) != 2 {
				return fmt.Errorf("self test: unexpected greetings %v", result.Outputs)
			}
			fmt.Fprintln(os.Stdout, "self test ok:", result.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory for the self-test run")
	return cmd
}
