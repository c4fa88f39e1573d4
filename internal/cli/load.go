package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
)

func newLoadCmd(a *app) *cobra.Command {
	var (
		output  string
		metrics bool
	)
	cmd := &cobra.Command{
		Use:   "load <dimension> <group-id>",
		Short: "Load the dataset rows of one group",
		Long: "Load looks up the dimension under groups: in canopy.yaml and runs its\n" +
			"loader for the given group id. Integer ids are passed as integers.",
		Example: `  canopy load taxonomy 7
  canopy load site S-014 --output site-S-014.jsonl`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decl, err := a.file.Group(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(s *session) error {
				rs, err := s.engine.Load(cmd.Context(), parseGroupID(args[1]), decl)
				if metrics {
					if err := dumpMetrics(cmd, s); err != nil {
						return err
					}
				}
				if err != nil {
					return err
				}
				switch {
				case output != "":
					if err := storage.WriteRowSet(output, rs); err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "Wrote %d rows to %s\n", rs.Len(), output)
					return nil
				case a.jsonMode:
					return printJSON(cmd, rs.Records())
				default:
					return printRows(cmd, rs)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write rows as JSONL to this file")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print loader metrics to stderr")
	return cmd
}

func newLoadersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "loaders",
		Short: "List the registered loaders and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				type param struct {
					Name     string `json:"name"`
					Type     string `json:"type"`
					Required bool   `json:"required"`
				}
				listing := map[string][]param{}
				for _, name := range s.plugins.Names(plugin.CapabilityLoader) {
					d, err := s.plugins.Lookup(plugin.CapabilityLoader, name)
					if err != nil {
						return err
					}
					for _, f := range d.Schema.Fields {
						listing[name] = append(listing[name], param{Name: f.Name, Type: f.Type.String(), Required: f.Required})
					}
				}
				if a.jsonMode {
					return printJSON(cmd, listing)
				}
				names := make([]string, 0, len(listing))
				for n := range listing {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintln(out(cmd), n)
					for _, p := range listing[n] {
						req := ""
						if p.Required {
							req = " (required)"
						}
						fmt.Fprintf(out(cmd), "  %s: %s%s\n", p.Name, p.Type, req)
					}
				}
				return nil
			})
		},
	}
}

// parseGroupID passes integer ids as int64 so they compare equal to integer
// key columns.
func parseGroupID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func dumpMetrics(cmd *cobra.Command, s *session) error {
	families, err := s.metrics.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(cmd.ErrOrStderr(), mf); err != nil {
			return err
		}
	}
	return nil
}
