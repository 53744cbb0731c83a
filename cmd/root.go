// Package cmd implements the catalog-sync command line: the API server, one-shot
// sync passes and configuration inspection.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-sync/pkg/config"
)

var (
	// version is injected by main.
	version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "catalog-sync",
	Short:         "Mirror local dataset definitions into a remote BI catalog",
	Long:          `catalog-sync keeps a registry of SQL datasets and reconciles their databases, datasets, columns and metrics into a Superset-compatible catalog.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// With no subcommand the server runs.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the CLI with the given build version.
func Execute(buildVersion string) {
	version = buildVersion
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd, syncCmd, configCmd, enginesCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(configPath, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "catalog-sync %s\n", version)
	},
}
