package cli

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/canopy/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a canopy project",
		Long: "Create the configuration directory with a default canopy.yaml,\n" +
			"then attach the backend once so the registry table exists.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.Default()
			file.Backend = a.file.Backend
			file.DSN = a.file.DSN
			wrote, err := config.WriteIfMissing(a.dirs.Config, file)
			if err != nil {
				return errors.Wrap(err, "write config")
			}
			if err := a.withSession(cmd, func(*session) error { return nil }); err != nil {
				return errors.Wrap(err, "initialize storage")
			}

			if a.jsonMode {
				return printJSON(cmd, map[string]any{
					"config_dir":     a.dirs.Config,
					"data_dir":       a.dirs.Data,
					"config_written": wrote,
				})
			}
			fmt.Fprintf(out(cmd), "Initialized canopy project in %s\n", a.dirs.Config)
			return nil
		},
	}
}
