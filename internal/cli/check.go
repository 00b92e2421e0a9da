package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/internal/lint"
	"github.com/me/gowdl/internal/stdlib"
	"github.com/me/gowdl/pkg/wdl"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		paths      []string
		strict     bool
		suppress   string
		noSuppress bool
		noQuant    bool
	)

	cmd := &cobra.Command{
		Use:   "check SOURCE.wdl [SOURCE2.wdl ...]",
		Short: "Parse, typecheck, and lint WDL documents",
		Long: `Loads each document (resolving imports), typechecks it, and runs the
advisory lint rules. Exits non-zero on errors, and with --strict also
on warnings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var suppressed []string
			if suppress != "" {
				suppressed = strings.Split(suppress, ",")
			}
			linter := lint.New(suppressed, noSuppress)

			failed := false
			for _, path := range args {
				source, err := os.ReadFile(path)
				if err != nil {
					return wdl.Errorf(wdl.KindInputError, wdl.Pos{}, "read source: %v", err)
				}
				lib := stdlib.New(nil)
				resolver := &check.FileResolver{Root: dirOfPath(path), AllowOutside: len(paths) > 0}
				checker := check.New(logger, resolver, lib, check.Options{
					QuantCheck: !noQuant,
					Strict:     strict,
				})
				res, err := checker.Load(path, source)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failed = true
					continue
				}

				warnings := checker.Warnings()
				findings := linter.Lint(res.Document)
				fmt.Fprintf(os.Stdout, "%s: ok (%d warnings, %d lint findings)\n",
					path, len(warnings), len(findings))
				for _, w := range warnings {
					fmt.Fprintf(os.Stdout, "  (%s) [%s] %s\n", w.Pos, w.Kind, w.Message)
				}
				for _, f := range findings {
					fmt.Fprintf(os.Stdout, "  %s\n", f)
				}
				if strict && (len(warnings) > 0 || len(findings) > 0) {
					failed = true
				}
			}
			if failed {
				return wdl.Errorf(wdl.KindTypeError, wdl.Pos{}, "check failed")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&paths, "path", "p", nil, "Allow imports from outside the document's directory (repeatable; the given directories are not searched)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero on warnings as well as errors")
	cmd.Flags().StringVar(&suppress, "suppress", "", "Comma-separated lint rules to suppress")
	cmd.Flags().BoolVar(&noSuppress, "no-suppress", false, "Ignore suppressions")
	cmd.Flags().BoolVar(&noQuant, "no-quant-check", false, "Relax the optional-quantifier type check")

	return cmd
}

func dirOfPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}
