// Package source defines the boundary between the query engine and the
// systems that actually execute queries: a remote tabular-data API or a
// local database. The engine depends only on the interfaces here; concrete
// backends register the same way database adapters do.
package source

import (
	"context"
	"fmt"
	"strings"
)

// LocatorEnd is the sentinel locator value that terminates a bulk chunk
// download loop. Servers report it as the literal string "null".
const LocatorEnd = "null"

// AttributesKey is the per-row bookkeeping envelope key returned by the
// remote API. It is never treated as a data column.
const AttributesKey = "attributes"

// Row is one fetched record: a mapping from field path to value. Joined
// relationship fields are nested maps, addressed with dotted paths
// (e.g. "Owner.Name").
type Row map[string]any

// Get resolves a dot-addressable field path against the row. Returns nil
// when any path segment is absent.
func (r Row) Get(path string) any {
	if !strings.Contains(path, ".") {
		return r[path]
	}
	var cur any = map[string]any(r)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if rm, ok2 := cur.(Row); ok2 {
				m = map[string]any(rm)
			} else {
				return nil
			}
		}
		cur = m[seg]
	}
	return cur
}

// ID returns the row's primary identifier as a string, or "" when the row
// has no recognizable identifier field.
func (r Row) ID() string {
	for _, key := range []string{"Id", "id", "ID"} {
		if v, ok := r[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// RawColumn is the server-provided column descriptor, possibly recursive.
// A column with children and Aggregate=false describes a joined parent
// relationship; with children and Aggregate=true it describes a nested
// child result set (subquery); with no children it is a plain field or an
// aggregate expression depending on the flag.
type RawColumn struct {
	Name      string      `json:"name"`
	Aggregate bool        `json:"aggregate"`
	Children  []RawColumn `json:"children,omitempty"`
}

// QueryOptions tunes a query execution.
type QueryOptions struct {
	// PageSize is the requested page size for cursor pagination.
	// Zero lets the backend pick its default.
	PageSize int

	// IncludeDeleted asks the backend to include soft-deleted records.
	IncludeDeleted bool
}

// QueryResult is the first page of a query execution.
type QueryResult struct {
	Rows       []Row
	TotalSize  int
	Done       bool
	Cursor     string
	Columns    []RawColumn
	ObjectName string
}

// PageResult is a continuation page.
type PageResult struct {
	Rows   []Row
	Done   bool
	Cursor string
}

// FieldInfo describes one field's capabilities on an object.
type FieldInfo struct {
	Writable bool
	Type     string
	Label    string
}

// BulkJobState is the lifecycle state of a server-side bulk export job.
type BulkJobState string

// Bulk job lifecycle states.
const (
	JobStateCreated        BulkJobState = "Created"
	JobStateUploadComplete BulkJobState = "UploadComplete"
	JobStateInProgress     BulkJobState = "InProgress"
	JobStateComplete       BulkJobState = "JobComplete"
	JobStateFailed         BulkJobState = "Failed"
	JobStateAborted        BulkJobState = "Aborted"
)

// Terminal reports whether the state ends the polling loop.
func (s BulkJobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateFailed, JobStateAborted:
		return true
	}
	return false
}

// BulkJob is a snapshot of a server-side export job.
type BulkJob struct {
	ID               string
	State            BulkJobState
	RecordsProcessed int
	ErrorMessage     string
}

// BulkChunk is one page of a bulk result download. CSV always carries the
// header row; NextLocator is LocatorEnd (or empty) on the final chunk.
type BulkChunk struct {
	CSV         string
	NextLocator string
}

// DataSource executes queries and record updates. Implementations must be
// safe for concurrent use.
type DataSource interface {
	// RunQuery executes the query text and returns the first page.
	RunQuery(ctx context.Context, text string, opts QueryOptions) (*QueryResult, error)

	// ContinueQuery fetches the next page for a cursor returned earlier.
	ContinueQuery(ctx context.Context, cursor string) (*PageResult, error)

	// DescribeObjectFields returns field capability metadata for an object.
	DescribeObjectFields(ctx context.Context, objectName string) (map[string]FieldInfo, error)

	// UpdateRecord writes the given field values to one record.
	UpdateRecord(ctx context.Context, objectName, recordID string, fields map[string]any) error
}

// BulkRunner drives server-side asynchronous bulk exports.
type BulkRunner interface {
	// SubmitBulkJob creates an export job and returns its id.
	SubmitBulkJob(ctx context.Context, query string, opts QueryOptions) (string, error)

	// PollBulkJob returns the current job snapshot.
	PollBulkJob(ctx context.Context, jobID string) (*BulkJob, error)

	// DownloadBulkChunk fetches one result chunk. An empty locator requests
	// the first chunk.
	DownloadBulkChunk(ctx context.Context, jobID, locator string) (*BulkChunk, error)

	// AbortBulkJob requests cancellation of a running job.
	AbortBulkJob(ctx context.Context, jobID string) error
}
