package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

func newEntityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage the entity registry",
	}
	cmd.AddCommand(newEntityRegisterCmd(a), newEntityGetCmd(a), newEntityListCmd(a), newEntityRemoveCmd(a))
	return cmd
}

func newEntityRegisterCmd(a *app) *cobra.Command {
	var (
		kind       string
		table      string
		configJSON string
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Create or replace an entity record",
		Example: `  canopy entity register taxonomy --kind reference --table taxa \
    --config '{"hierarchy":{"parent_field":"parent_taxon"}}'
  canopy entity register observations --kind dataset --table obs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := types.ParseEntityKind(kind)
			if err != nil {
				return err
			}
			var cfg map[string]any
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return types.NewConfigurationError("config", "not a JSON object: %v", err)
				}
			}
			if table == "" {
				table = args[0]
			}
			return a.withSession(cmd, func(s *session) error {
				if err := s.registry.Register(cmd.Context(), args[0], k, table, cfg); err != nil {
					return err
				}
				meta, err := s.registry.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonMode {
					return printJSON(cmd, meta)
				}
				fmt.Fprintf(out(cmd), "Registered %s %q -> %s\n", meta.Kind, meta.Name, meta.TableName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(types.KindDataset), "entity kind: reference or dataset")
	cmd.Flags().StringVar(&table, "table", "", "physical table name (default: the entity name)")
	cmd.Flags().StringVar(&configJSON, "config", "", "entity config as a JSON object")
	return cmd
}

func newEntityGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show one entity record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				meta, err := s.registry.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonMode {
					return printJSON(cmd, meta)
				}
				cfg, _ := json.Marshal(meta.Config)
				fmt.Fprintf(out(cmd), "name:   %s\nkind:   %s\ntable:  %s\nconfig: %s\n", meta.Name, meta.Kind, meta.TableName, cfg)
				return nil
			})
		},
	}
}

func newEntityListCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *types.EntityKind
			if kind != "" {
				k, err := types.ParseEntityKind(kind)
				if err != nil {
					return err
				}
				filter = &k
			}
			return a.withSession(cmd, func(s *session) error {
				metas, err := s.registry.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if a.jsonMode {
					if metas == nil {
						metas = []types.EntityMetadata{}
					}
					return printJSON(cmd, metas)
				}
				tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tKIND\tTABLE")
				for _, m := range metas {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Kind, m.TableName)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list entities of this kind")
	return cmd
}

func newEntityRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an entity record; the physical table is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				if err := s.registry.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				if !a.jsonMode {
					fmt.Fprintf(out(cmd), "Removed %q\n", args[0])
				}
				return nil
			})
		},
	}
}
