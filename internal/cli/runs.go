package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRunsCmd() *cobra.Command {
	var limit int
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history := openHistory()
			if history == nil {
				return fmt.Errorf("run history unavailable")
			}
			defer history.Close()

			runs, err := history.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asYAML {
				type row struct {
					ID       string `yaml:"id"`
					Name     string `yaml:"name"`
					State    string `yaml:"state"`
					Dir      string `yaml:"dir"`
					Started  string `yaml:"started"`
					Finished string `yaml:"finished,omitempty"`
					Error    string `yaml:"error,omitempty"`
				}
				rows := make([]row, len(runs))
				for i, r := range runs {
					rows[i] = row{
						ID: r.ID, Name: r.Name, State: string(r.State), Dir: r.Dir,
						Started: r.Started.Format(time.RFC3339), Error: r.ErrorKind,
					}
					if !r.Finished.IsZero() {
						rows[i].Finished = r.Finished.Format(time.RFC3339)
					}
				}
				out, err := yaml.Marshal(rows)
				if err != nil {
					return err
				}
				os.Stdout.Write(out)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tNAME\tSTATE\tDIR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Started.Format("2006-01-02 15:04:05"), r.Name, r.State, r.Dir)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Emit YAML instead of a table")
	return cmd
}
