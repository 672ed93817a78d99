package cmd

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/source"
)

// NewModulesCommand creates the modules command, which lists the modules
// found in the modules directory without starting them.
func NewModulesCommand(flags *globalFlags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List modules and check their descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := flags.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.ModulesDir
			}
			return listModules(cmd, source.NewDir(dir), modhost.DefaultCatalog)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "modules directory (overrides the configuration)")
	return cmd
}

func listModules(cmd *cobra.Command, src *source.Dir, catalog *modhost.Catalog) error {
	ids, err := src.List(cmd.Context())
	if err != nil {
		return err
	}
	known := catalog.EntryPoints()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tENTRY POINT\tDEPENDENCIES\tSTATUS")
	invalid := 0
	for _, id := range ids {
		d, err := src.Descriptor(cmd.Context(), id)
		if err == nil {
			err = d.Validate()
		}
		if err != nil {
			invalid++
			fmt.Fprintf(tw, "%s\t\t\t\tinvalid: %v\n", id, err)
			continue
		}
		status := "ok"
		if !slices.Contains(known, d.EntryPoint) {
			status = "unknown entry point"
			invalid++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Version, d.EntryPoint, strings.Join(d.DependencyIDs(), ","), status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d module(s) cannot be loaded", invalid, len(ids))
	}
	return nil
}
