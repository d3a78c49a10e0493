package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/spf13/cobra"
)

func newModelsCmd(opts *cliOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the generation models of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg.Generation)
			if err != nil {
				return err
			}

			models := catalog.Models()
			if kindFlag != "" {
				kind, err := domain.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				models = catalog.ForKind(kind)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tPROVIDER\tKINDS\tDEFAULT")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Provider, joinKinds(m.Kinds), yesNo(m.Default))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "only list models supporting this job kind")
	return cmd
}

func joinKinds(kinds []domain.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
