package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/queryworks/querypad/internal/session"
	"github.com/queryworks/querypad/internal/source"
)

// renderSession writes a session's result set in the requested format.
func renderSession(w io.Writer, s *session.Session, format string) error {
	if s.Err != nil {
		return s.Err
	}

	switch format {
	case "json":
		return renderJSON(w, s)
	case "csv":
		return renderCSV(w, s)
	case "md", "markdown":
		return renderMarkdown(w, s)
	default:
		return renderTable(w, s)
	}
}

func renderTable(w io.Writer, s *session.Session) error {
	if len(s.Records) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(s.Columns))
	for i, col := range s.Columns {
		headerRow[i] = col.Title
	}
	t.AppendHeader(headerRow)

	for _, rec := range s.Records {
		row := make(table.Row, len(s.Columns))
		for i, col := range s.Columns {
			row[i] = cellValue(rec, col.Path, col.IsSubquery())
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintln(w, rowCountLine(s))
	return nil
}

// cellValue renders one cell. Subquery cells hold an entire nested result
// set, summarized as a row count.
func cellValue(rec source.Row, path string, subquery bool) string {
	v := rec.Get(path)
	if subquery {
		switch nested := v.(type) {
		case []any:
			return fmt.Sprintf("[%d rows]", len(nested))
		case nil:
			return "[0 rows]"
		default:
			return "[nested]"
		}
	}
	return formatValue(v)
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// rowCountLine reports fetched vs. total rows, flagging incomplete
// pagination.
func rowCountLine(s *session.Session) string {
	if !s.Done && s.TotalSize > len(s.Records) {
		return fmt.Sprintf("(%d of %d rows, more available)", len(s.Records), s.TotalSize)
	}
	return fmt.Sprintf("(%d rows)", len(s.Records))
}

func renderJSON(w io.Writer, s *session.Session) error {
	out := make([]map[string]any, 0, len(s.Records))
	for _, rec := range s.Records {
		row := make(map[string]any, len(s.Columns))
		for _, col := range s.Columns {
			row[col.Path] = rec.Get(col.Path)
		}
		out = append(out, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func renderCSV(w io.Writer, s *session.Session) error {
	titles := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		titles[i] = col.Title
	}
	_, _ = fmt.Fprintln(w, strings.Join(titles, ","))

	for _, rec := range s.Records {
		values := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			values[i] = escapeCSV(cellValue(rec, col.Path, col.IsSubquery()))
		}
		_, _ = fmt.Fprintln(w, strings.Join(values, ","))
	}
	return nil
}

func escapeCSV(v string) string {
	if strings.ContainsAny(v, ",\"\n") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

func renderMarkdown(w io.Writer, s *session.Session) error {
	if len(s.Records) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	titles := make([]string, len(s.Columns))
	seps := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		titles[i] = col.Title
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(titles, " | "))
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, rec := range s.Records {
		values := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			v := cellValue(rec, col.Path, col.IsSubquery())
			values[i] = strings.ReplaceAll(v, "|", "\\|")
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}
