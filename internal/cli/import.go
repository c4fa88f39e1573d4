package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <entity> <file.jsonl>",
		Short: "Append JSONL records to an entity's table",
		Long: "Import reads one JSON object per line and inserts it into the\n" +
			"entity's table, creating the table from the records when it does not\n" +
			"exist. Unregistered names are used as table names.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				table, _, err := s.registry.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				report, err := s.backend.ImportJSONL(cmd.Context(), table, args[1])
				if err != nil {
					return err
				}
				if a.jsonMode {
					return printJSON(cmd, report)
				}
				fmt.Fprintf(out(cmd), "Imported %d rows into %s (%d skipped)\n", report.Inserted, report.Table, report.Skipped)
				return nil
			})
		},
	}
}
