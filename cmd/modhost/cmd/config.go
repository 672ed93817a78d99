package cmd

import (
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
)

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var format string
	sample := &cobra.Command{
		Use:   "sample",
		Short: "Print a configuration file with every default filled in",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := modhost.SampleConfig(&modhost.HostConfig{}, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	sample.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml or toml)")
	cmd.AddCommand(sample)
	return cmd
}
