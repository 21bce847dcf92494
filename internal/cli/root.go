// Package cli provides the command-line interface for QueryPad.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/queryworks/querypad/internal/cli/commands"
	"github.com/queryworks/querypad/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "querypad",
		Short: "QueryPad - interactive query workbench",
		Long: `QueryPad runs ad-hoc queries against a remote tabular-data API or a
local database, as independent sessions (tabs) with in-place row editing,
cursor pagination, and asynchronous bulk CSV export.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./querypad.yaml)")
	rootCmd.PersistentFlags().StringP("source", "s", "", "Data source type (sqlite|postgres|duckdb|rest)")
	rootCmd.PersistentFlags().String("path", "", "Database file path for sqlite/duckdb")
	rootCmd.PersistentFlags().String("url", "", "Base URL for the rest source")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for the rest source")
	rootCmd.PersistentFlags().String("host", "", "Database host for postgres")
	rootCmd.PersistentFlags().Int("port", 0, "Database port for postgres")
	rootCmd.PersistentFlags().String("database", "", "Database name for postgres")
	rootCmd.PersistentFlags().String("username", "", "Database user for postgres")
	rootCmd.PersistentFlags().String("password", "", "Database password for postgres")
	rootCmd.PersistentFlags().Int("page-size", 0, "Query page size")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json|csv|md)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "csv", "md"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("source", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "postgres", "duckdb", "rest"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewQueryCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
