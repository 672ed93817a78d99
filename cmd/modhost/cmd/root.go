// Package cmd implements the modhost command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/feeders"

	// Demo modules register their entry points in the default catalog.
	_ "github.com/GoCodeAlone/modhost/internal/demo"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("modhost v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

type globalFlags struct {
	configFile string
	envPrefix  string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "modhost",
		Short: "modhost - run modules with isolated contexts and a shared host",
		Long: `modhost loads modules from a directory, builds an isolated context for
each one and drives their lifecycle in dependency order. Modules share
resources with the host and with each other through explicit imports.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "configuration file (.yaml, .toml or .env)")
	cmd.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", "MODHOST", "prefix of configuration environment variables")

	cmd.AddCommand(NewServeCommand(flags))
	cmd.AddCommand(NewModulesCommand(flags))
	cmd.AddCommand(NewConfigCommand())
	return cmd
}

// loadConfig reads the configuration file, if any, then the environment.
func (f *globalFlags) loadConfig() (*modhost.HostConfig, error) {
	var sources []modhost.ConfigFeeder
	if f.configFile != "" {
		feeder, err := feeders.ForFile(f.configFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, feeder)
	}
	sources = append(sources, feeders.NewEnvFeeder(f.envPrefix))
	return modhost.LoadHostConfig(sources...)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
