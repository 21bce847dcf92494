package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryworks/querypad/internal/columns"
	"github.com/queryworks/querypad/internal/session"
	"github.com/queryworks/querypad/internal/source"
)

func sampleSession() *session.Session {
	return &session.Session{
		ObjectName: "Account",
		Columns: []columns.Column{
			{Title: "Id", Path: "Id", Kind: columns.KindScalar},
			{Title: "Name", Path: "Name", Kind: columns.KindScalar},
			{Title: "Owner.Name", Path: "Owner.Name", Kind: columns.KindScalar},
			{Title: "Contacts", Path: "Contacts", Kind: columns.KindSubquery},
		},
		Records: []source.Row{
			{
				"Id":       "001",
				"Name":     "Acme, Inc",
				"Owner":    map[string]any{"Name": "Pat"},
				"Contacts": []any{map[string]any{"Id": "c1"}, map[string]any{"Id": "c2"}},
			},
			{
				"Id":   "002",
				"Name": "Globex",
			},
		},
		TotalSize: 2,
		Done:      true,
	}
}

func TestRenderSession_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, sampleSession(), "table"))

	out := buf.String()
	assert.Contains(t, out, "Owner.Name")
	assert.Contains(t, out, "Acme, Inc")
	assert.Contains(t, out, "Pat")
	assert.Contains(t, out, "[2 rows]")
	assert.Contains(t, out, "[0 rows]")
	assert.Contains(t, out, "(2 rows)")
}

func TestRenderSession_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	s := &session.Session{Done: true}
	require.NoError(t, renderSession(&buf, s, "table"))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestRenderSession_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, sampleSession(), "json"))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)

	// Joined values are keyed by their flattened path.
	assert.Equal(t, "Pat", rows[0]["Owner.Name"])
	assert.Equal(t, "Acme, Inc", rows[0]["Name"])
	assert.Nil(t, rows[1]["Owner.Name"])
}

func TestRenderSession_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, sampleSession(), "csv"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Id,Name,Owner.Name,Contacts", lines[0])
	assert.Equal(t, `001,"Acme, Inc",Pat,[2 rows]`, lines[1])
	assert.Equal(t, "002,Globex,,[0 rows]", lines[2])
}

func TestRenderSession_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, sampleSession(), "md"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| Id | Name | Owner.Name | Contacts |", lines[0])
	assert.Equal(t, "| --- | --- | --- | --- |", lines[1])
}

func TestRenderSession_SessionError(t *testing.T) {
	var buf bytes.Buffer
	s := &session.Session{Err: fmt.Errorf("MALFORMED_QUERY")}

	err := renderSession(&buf, s, "table")
	require.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestRowCountLine_MoreAvailable(t *testing.T) {
	s := &session.Session{
		Records:   []source.Row{{"Id": "001"}},
		TotalSize: 50,
		Done:      false,
	}
	assert.Equal(t, "(1 of 50 rows, more available)", rowCountLine(s))
}

func TestEscapeCSV(t *testing.T) {
	assert.Equal(t, "plain", escapeCSV("plain"))
	assert.Equal(t, `"a,b"`, escapeCSV("a,b"))
	assert.Equal(t, `"say ""hi"""`, escapeCSV(`say "hi"`))
	assert.Equal(t, "\"a\nb\"", escapeCSV("a\nb"))
}
