// Package cli implements the gowdl command-line interface.
package cli

import (
	"errors"
	"log/slog"
	"os"

	"github.com/me/gowdl/internal/config"
	"github.com/me/gowdl/internal/logging"
	"github.com/me/gowdl/pkg/wdl"
	"github.com/spf13/cobra"
)

var (
	flagCfgFile   string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	cfg    *config.Config
)

// NewRootCmd creates the root cobra command for the gowdl CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gowdl",
		Short: "gowdl — local WDL workflow runner",
		Long:  "gowdl parses, typechecks, and executes Workflow Description Language documents with containerized tasks on the local host.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagCfgFile)
			if err != nil {
				return wdl.Errorf(wdl.KindConfiguration, wdl.Pos{}, "%v", err)
			}
			if flagLogLevel != "" {
				cfg.Override("logging.level", flagLogLevel)
			}
			if flagLogFormat != "" {
				cfg.Override("logging.format", flagLogFormat)
			}
			if flagDebug {
				cfg.Override("logging.level", "debug")
			}
			logger = logging.NewLogger(
				logging.ParseLevel(cfg.String("logging.level")),
				cfg.String("logging.format"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagCfgFile, "cfg", "", "Configuration file (default: $GOWDL_CFG, ~/.config/gowdl.yaml)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newInputTemplateCmd(),
		newLocalizeCmd(),
		newSelfTestCmd(),
		newRunsCmd(),
	)

	return root
}

// ExitCode maps an error to the process exit code: 2 for frontend,
// input, and configuration errors; a failed task's exit status; 1
// otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch wdl.KindOf(err) {
	case wdl.KindSyntaxError, wdl.KindLexicalError, wdl.KindImportError,
		wdl.KindTypeError, wdl.KindInputError, wdl.KindConfiguration:
		return 2
	}
	var tf *wdl.TaskFailure
	if errors.As(err, &tf) && tf.ExitStatus != 0 {
		return tf.ExitStatus
	}
	return 1
}

// Main runs the CLI and exits with the mapped code.
func Main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(ExitCode(err))
	}
}
