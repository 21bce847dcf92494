package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format string
	Input  string
	All    bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [QUERY]",
		Short: "Run a query against the configured data source",
		Long: `Run an ad-hoc query against the configured data source.

Results are fetched as one session with cursor pagination. Supports
multiple output formats for scripting and integration.

When invoked without arguments on a terminal, enters interactive REPL
mode with tabbed sessions, in-place editing, and bulk export.`,
		Example: `  # Execute a query directly
  querypad query "SELECT id, name FROM account"

  # Fetch every page, output as JSON
  querypad query "SELECT id FROM contact" --all --format json

  # Read the query from a file
  querypad query -i report.sql

  # Interactive mode
  querypad query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read query from file")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Fetch every page before rendering")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cc := NewCommandContext(cmd)
	if opts.Format == "" {
		opts.Format = cc.Cfg.OutputFormat
	}

	// Determine query source.
	var queryText string
	switch {
	case len(args) > 0:
		queryText = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		queryText = string(content)
	case !isTerminal(os.Stdin):
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		queryText = string(content)
	default:
		// No input, TTY detected: enter REPL mode.
		return runQueryREPL(cmd, cc, opts)
	}

	reg, closer, err := newRegistry(cmd, cc)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	id, err := reg.Execute(cmd.Context(), queryText)
	if err != nil {
		return err
	}

	if opts.All {
		for {
			s, _ := reg.Get(id)
			if s == nil || s.Done || s.Cursor == "" {
				break
			}
			if err := reg.LoadMore(cmd.Context(), id); err != nil {
				return err
			}
		}
	}

	s, ok := reg.Get(id)
	if !ok {
		return fmt.Errorf("session %d disappeared", id)
	}
	return renderSession(cmd.OutOrStdout(), s, opts.Format)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
