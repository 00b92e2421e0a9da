package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/me/gowdl/internal/check"
	"github.com/me/gowdl/pkg/wdl"
	"github.com/spf13/cobra"
)

func newInputTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "input-template SOURCE.wdl",
		Short: "Print a JSON skeleton of required inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadDocument(args[0], check.DefaultOptions())
			if err != nil {
				return err
			}

			template := make(map[string]any)
			switch {
			case res.Document.Workflow != nil:
				wf := res.Document.Workflow
				for _, d := range wf.Inputs {
					if d.Expr != nil || d.Type.Optional() {
						continue
					}
					template[wf.Name+"."+d.Name] = typePlaceholder(d.Type)
				}
			case len(res.Document.Tasks) == 1:
				task := res.Document.Tasks[0]
				for _, d := range task.Inputs {
					if d.Expr != nil || d.Type.Optional() {
						continue
					}
					template[task.Name+"."+d.Name] = typePlaceholder(d.Type)
				}
			default:
				return wdl.Errorf(wdl.KindInputError, wdl.Pos{},
					"document has no workflow and multiple tasks")
			}

			out, _ := json.MarshalIndent(template, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
	return cmd
}

// typePlaceholder produces an example JSON value for a type.
func typePlaceholder(t wdl.Type) any {
	switch tt := t.(type) {
	case wdl.Boolean:
		return false
	case wdl.Int:
		return 42
	case wdl.Float:
		return 3.14
	case wdl.StringType:
		return "String"
	case wdl.File:
		return "/path/to/file"
	case wdl.Directory:
		return "/path/to/directory"
	case wdl.Array:
		return []any{typePlaceholder(tt.Item)}
	case wdl.Map:
		return map[string]any{"key": typePlaceholder(tt.Value)}
	case wdl.Pair:
		return map[string]any{"left": typePlaceholder(tt.Left), "right": typePlaceholder(tt.Right)}
	case wdl.StructInstance:
		out := make(map[string]any, len(tt.Members))
		for _, m := range tt.Members {
			if !m.Type.Optional() {
				out[m.Name] = typePlaceholder(m.Type)
			}
		}
		return out
	}
	return nil
}
