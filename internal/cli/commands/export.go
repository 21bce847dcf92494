package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/queryworks/querypad/internal/bulk"
	"github.com/queryworks/querypad/internal/source"
)

// ExportOptions holds options for the export command.
type ExportOptions struct {
	Output         string
	IncludeDeleted bool
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export QUERY",
		Short: "Bulk-export a query result to a CSV file",
		Long: `Export a high-volume query result through the asynchronous bulk path.

A server-side job is created and polled until completion, then the
paginated result chunks are downloaded and stitched into one CSV
artifact. Progress is reported on stderr.`,
		Example: `  querypad export "SELECT id, name FROM account" -o accounts.csv

  # Include soft-deleted records
  querypad export "SELECT id FROM contact" --include-deleted -o contacts.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "Include soft-deleted records")

	return cmd
}

func runExport(cmd *cobra.Command, query string, opts *ExportOptions) error {
	cc := NewCommandContext(cmd)

	_, runner, closer, err := openSource(cmd, cc)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()
	if runner == nil {
		return fmt.Errorf("source %q does not support bulk export", cc.Cfg.Source.Type)
	}

	exporter := bulk.NewExporter(runner, cc.Cfg.PollDuration(), cc.Logger)

	csv, err := exporter.Run(cmd.Context(), query, source.QueryOptions{
		IncludeDeleted: opts.IncludeDeleted,
	}, func(ev bulk.Event) {
		reportProgress(cmd.ErrOrStderr(), ev)
	})
	if err != nil {
		return err
	}

	if opts.Output == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), csv)
		return err
	}
	if err := os.WriteFile(opts.Output, []byte(csv), 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", opts.Output)
	return nil
}

// reportProgress writes one progress line per export event.
func reportProgress(w io.Writer, ev bulk.Event) {
	switch ev.Kind {
	case bulk.EventJobCreated:
		_, _ = fmt.Fprintf(w, "job %s created\n", ev.JobID)
	case bulk.EventPoll:
		_, _ = fmt.Fprintf(w, "  %s (%d records processed)\n", ev.State, ev.RecordsProcessed)
	case bulk.EventDownloading:
		_, _ = fmt.Fprintln(w, "downloading results...")
	case bulk.EventChunk:
		_, _ = fmt.Fprintf(w, "  %d rows downloaded\n", ev.RowTotal)
	}
}
