// Package session owns the set of open query tabs: it deduplicates
// sessions by normalized query text and orchestrates the
// fetch → normalize → diff-reset pipeline that turns an ad-hoc query into
// a render-ready result set.
package session

import (
	"strings"

	"github.com/queryworks/querypad/internal/columns"
	"github.com/queryworks/querypad/internal/edits"
	"github.com/queryworks/querypad/internal/source"
)

// labelBudget is the character budget for tab labels derived from raw
// query text.
const labelBudget = 24

// ID identifies one session. Ids are opaque and monotonically assigned.
type ID int64

// Session is one open query result tab.
type Session struct {
	ID ID

	// QueryText is the query as typed; NormalizedQuery is the dedup key.
	QueryText       string
	NormalizedQuery string

	// ObjectName is the primary entity of the result, used for labeling
	// and edit authorization. Empty when the result has no single entity.
	ObjectName string

	// Records holds fetched rows in server order; Columns is the display
	// schema fixed by the first page.
	Records []source.Row
	Columns []columns.Column

	// TotalSize is the server-reported count and may exceed len(Records)
	// while pagination is incomplete.
	TotalSize int
	Done      bool
	Cursor    string

	// FieldMetadata is present only when edit mode is eligible. Editable
	// is always false while FieldMetadata is nil.
	FieldMetadata map[string]source.FieldInfo
	Editable      bool

	// Edits tracks pending field modifications against Records.
	Edits *edits.Tracker

	Loading bool
	Err     error

	// fetchSeq orders fetches for this session: a response is applied only
	// if no newer fetch has started since it was issued.
	fetchSeq uint64
	closed   bool
}

// Label derives the tab label: the resolved object name when known,
// otherwise the query text truncated to a fixed budget.
func (s *Session) Label() string {
	if s.ObjectName != "" {
		return s.ObjectName
	}
	text := strings.TrimSpace(s.QueryText)
	runes := []rune(text)
	if len(runes) <= labelBudget {
		return text
	}
	return string(runes[:labelBudget]) + "…"
}

// HasPendingEdits reports whether any edit is awaiting commit.
func (s *Session) HasPendingEdits() bool {
	return s.Edits != nil && s.Edits.HasChanges()
}

// Normalize produces the session dedup key: lower-cased,
// whitespace-collapsed, trimmed query text.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
