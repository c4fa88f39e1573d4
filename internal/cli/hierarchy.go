package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/canopy/internal/hierarchy"
)

func newHierarchyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Maintain nested-set coordinates of reference tables",
	}
	cmd.AddCommand(newHierarchyBuildCmd(a))
	return cmd
}

func newHierarchyBuildCmd(a *app) *cobra.Command {
	var (
		strict   bool
		sentinel int64
		ranks    []string
		target   string
	)
	cmd := &cobra.Command{
		Use:   "build <entity>",
		Short: "Recompute lft, rght and level for every node",
		Long: "Build reads the entity's parent links, numbers the forest and writes\n" +
			"the coordinates back in one transaction. With --ranks the hierarchy is\n" +
			"derived from rank columns instead and written to --target.",
		Example: `  canopy hierarchy build taxonomy
  canopy hierarchy build observations --ranks kingdom,family,genus --target taxonomy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				var (
					report hierarchy.RebuildReport
					err    error
				)
				if len(ranks) > 0 || target != "" {
					report, err = s.rebuilder.RebuildFromRanks(cmd.Context(), args[0], ranks, target)
				} else {
					opts := hierarchy.Options{Strict: strict || a.file.StrictHierarchy}
					if cmd.Flags().Changed("root-sentinel") {
						opts.RootSentinel = &sentinel
					}
					report, err = s.rebuilder.Rebuild(cmd.Context(), args[0], opts)
				}
				if err != nil {
					return err
				}
				if a.jsonMode {
					return printJSON(cmd, report)
				}
				fmt.Fprintf(out(cmd), "Built %s: %d nodes, %d roots, depth %d (build %s)\n",
					report.Table, report.Nodes, report.Roots, report.MaxLevel, report.BuildID)
				for _, w := range report.Warnings {
					fmt.Fprintf(out(cmd), "  node %d promoted to root: parent %d missing\n", w.NodeID, w.MissingParent)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on nodes whose parent is missing")
	cmd.Flags().Int64Var(&sentinel, "root-sentinel", 0, "parent id value that marks a root")
	cmd.Flags().StringSliceVar(&ranks, "ranks", nil, "rank columns, most general first")
	cmd.Flags().StringVar(&target, "target", "", "table receiving a rank-derived hierarchy")
	return cmd
}
