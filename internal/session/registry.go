package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/queryworks/querypad/internal/bulk"
	"github.com/queryworks/querypad/internal/columns"
	"github.com/queryworks/querypad/internal/edits"
	"github.com/queryworks/querypad/internal/pager"
	"github.com/queryworks/querypad/internal/source"
)

// Registry errors.
var (
	ErrEmptyQuery       = errors.New("query text is empty")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotEditable      = errors.New("session is not editable")
	ErrFieldNotWritable = errors.New("field is not writable")
	ErrExportInProgress = errors.New("export already in progress")
	ErrBulkUnsupported  = errors.New("data source does not support bulk export")
	ErrNoExport         = errors.New("no export in flight")
)

// Config configures a Registry.
type Config struct {
	// Source executes queries and updates. Required.
	Source source.DataSource

	// Bulk drives bulk exports. Optional; exports are rejected when nil.
	Bulk source.BulkRunner

	// PollInterval is the bulk job poll interval (default 2s).
	PollInterval time.Duration

	// PageSize is the requested page size for query pagination.
	PageSize int

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Registry owns the set of open sessions. Exactly one session exists per
// distinct normalized query at any time: executing a query whose
// normalized form matches an open session refreshes that session in place.
type Registry struct {
	mu     sync.Mutex
	store  *Store
	byKey  map[string]ID
	nextID ID
	active ID

	src      source.DataSource
	pager    *pager.Client
	exporter *bulk.Exporter
	exports  map[ID]*bulk.Handle

	pageSize int
	logger   *slog.Logger
}

// New creates a registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Registry{
		store:    NewStore(),
		byKey:    make(map[string]ID),
		src:      cfg.Source,
		pager:    pager.New(cfg.Source, logger),
		exports:  make(map[ID]*bulk.Handle),
		pageSize: cfg.PageSize,
		logger:   logger,
	}
	if cfg.Bulk != nil {
		r.exporter = bulk.NewExporter(cfg.Bulk, cfg.PollInterval, logger)
	}
	return r
}

// Execute runs a query. The normalized query text is the dedup key: a
// session already holding it is refreshed in place (records, columns and
// metadata replaced, pending edits cleared); otherwise a new session is
// allocated. Fetch failures are stored on the session and also returned;
// validation failures are only returned.
func (r *Registry) Execute(ctx context.Context, queryText string) (ID, error) {
	key := Normalize(queryText)
	if key == "" {
		return 0, ErrEmptyQuery
	}

	r.mu.Lock()
	id, ok := r.byKey[key]
	var s *Session
	if ok {
		s, _ = r.store.Get(id)
	} else {
		r.nextID++
		id = r.nextID
		s = &Session{
			ID:              id,
			NormalizedQuery: key,
			Edits:           edits.NewTracker(),
		}
		r.store.Add(s)
		r.byKey[key] = id
	}
	s.QueryText = queryText
	s.Loading = true
	s.Err = nil
	s.fetchSeq++
	seq := s.fetchSeq
	r.active = id
	r.mu.Unlock()

	r.logger.Debug("executing query", "session_id", id, "refresh", ok)

	res, err := r.pager.FirstPage(ctx, queryText, source.QueryOptions{PageSize: r.pageSize})

	var (
		cols []columns.Column
		meta map[string]source.FieldInfo
	)
	if err == nil {
		var sample source.Row
		if len(res.Rows) > 0 {
			sample = res.Rows[0]
		}
		cols = columns.Normalize(res.Columns, sample)
		meta = r.describeForEdit(ctx, res.ObjectName, cols)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.store.Get(id)
	if !ok || cur.closed || cur.fetchSeq != seq {
		// A newer execute superseded this fetch, or the session closed
		// while it was in flight. Drop the result.
		r.logger.Debug("dropping stale query result", "session_id", id)
		return id, nil
	}

	cur.Loading = false
	if err != nil {
		r.failSession(cur, err)
		return id, err
	}

	cur.ObjectName = res.ObjectName
	cur.Records = res.Rows
	cur.Columns = cols
	cur.TotalSize = res.TotalSize
	cur.Done = res.Done
	cur.Cursor = res.Cursor
	cur.FieldMetadata = meta
	cur.Editable = meta != nil
	cur.Edits.ClearAll()
	return id, nil
}

// describeForEdit fetches field metadata when the structural editability
// checks pass: an identifier column, no aggregates, and a single result
// entity. A describe failure silently downgrades the session to read-only.
func (r *Registry) describeForEdit(ctx context.Context, objectName string, cols []columns.Column) map[string]source.FieldInfo {
	if objectName == "" || !columns.HasIdentifier(cols) || columns.HasAggregate(cols) {
		return nil
	}
	meta, err := r.src.DescribeObjectFields(ctx, objectName)
	if err != nil {
		r.logger.Warn("field describe failed, session is read-only",
			"object", objectName, "error", err)
		return nil
	}
	return meta
}

// failSession records a fetch failure: the error is stored and the session
// holds no rows or columns until the next execute.
func (r *Registry) failSession(s *Session, err error) {
	s.Err = err
	s.Records = nil
	s.Columns = nil
	s.TotalSize = 0
	s.Done = true
	s.Cursor = ""
	s.FieldMetadata = nil
	s.Editable = false
	s.Edits.ClearAll()
}

// LoadMore appends the next page to the session. On a session that is
// already complete it is a no-op and issues no call. The column schema is
// fixed by the first page and is never re-normalized.
func (r *Registry) LoadMore(ctx context.Context, id ID) error {
	r.mu.Lock()
	s, ok := r.store.Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.Done || s.Cursor == "" {
		r.mu.Unlock()
		return nil
	}
	cursor := s.Cursor
	seq := s.fetchSeq
	r.mu.Unlock()

	page, err := r.pager.NextPage(ctx, cursor)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.store.Get(id)
	if !ok || cur.closed || cur.fetchSeq != seq {
		return nil
	}
	if err != nil {
		r.failSession(cur, err)
		return err
	}

	cur.Records = append(cur.Records, page.Rows...)
	cur.Done = page.Done
	cur.Cursor = page.Cursor
	return nil
}

// Close destroys a session. Any in-flight fetch result for it is dropped
// and any in-flight export is cancelled.
func (r *Registry) Close(id ID) error {
	r.mu.Lock()
	s, ok := r.store.Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.closed = true
	delete(r.byKey, s.NormalizedQuery)
	r.store.Remove(id)
	h := r.exports[id]
	delete(r.exports, id)
	if r.active == id {
		r.active = 0
		if rest := r.store.All(); len(rest) > 0 {
			r.active = rest[0].ID
		}
	}
	r.mu.Unlock()

	if h != nil && !h.Finished() {
		h.Cancel()
	}
	r.logger.Debug("session closed", "session_id", id)
	return nil
}

// SwitchActive makes the given session the active tab.
func (r *Registry) SwitchActive(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store.Get(id); !ok {
		return ErrSessionNotFound
	}
	r.active = id
	return nil
}

// Active returns the active session, if any.
func (r *Registry) Active() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Get(r.active)
}

// Get returns a session by id.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Get(id)
}

// Sessions returns all open sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.All()
}

// SetField records a pending edit against a fetched record. The field must
// be present in the session's field metadata and writable.
func (r *Registry) SetField(id ID, recordID, fieldPath string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.Editable || s.FieldMetadata == nil {
		return ErrNotEditable
	}
	fi, ok := s.FieldMetadata[fieldPath]
	if !ok || !fi.Writable {
		return fmt.Errorf("%w: %s", ErrFieldNotWritable, fieldPath)
	}

	original, ok := originalValue(s.Records, recordID, fieldPath)
	if !ok {
		return fmt.Errorf("record %s not found in session", recordID)
	}
	s.Edits.SetField(recordID, fieldPath, value, original)
	return nil
}

// UnsetField discards one pending edit.
func (r *Registry) UnsetField(id ID, recordID, fieldPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Edits.ClearField(recordID, fieldPath)
	return nil
}

// originalValue looks up the fetched value of a field on a record.
func originalValue(records []source.Row, recordID, fieldPath string) (any, bool) {
	for _, row := range records {
		if row.ID() == recordID {
			return row.Get(fieldPath), true
		}
	}
	return nil, false
}

// CommitEdits submits all pending edits for a session, one concurrent
// update per modified record. It returns a map of record id to error
// message for the records that failed; successful records are cleared
// from the pending set and their new values applied to the fetched rows.
func (r *Registry) CommitEdits(ctx context.Context, id ID) (map[string]string, error) {
	r.mu.Lock()
	s, ok := r.store.Get(id)
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !s.Editable {
		r.mu.Unlock()
		return nil, ErrNotEditable
	}
	objectName := s.ObjectName
	tracker := s.Edits
	pending := tracker.Changes()
	r.mu.Unlock()

	failures, err := edits.Commit(ctx, r.src, objectName, tracker)
	if err != nil {
		return failures, err
	}

	// Fold committed values into the fetched rows so the session reflects
	// what the server accepted.
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.store.Get(id)
	if !ok || cur.closed {
		return failures, nil
	}
	for recordID, fields := range pending {
		if _, failed := failures[recordID]; failed {
			continue
		}
		applyFields(cur.Records, recordID, fields)
	}
	return failures, nil
}

func applyFields(records []source.Row, recordID string, fields map[string]any) {
	for _, row := range records {
		if row.ID() != recordID {
			continue
		}
		for path, value := range fields {
			row[path] = value
		}
		return
	}
}

// Export starts a bulk export of the session's query. Only one export may
// be in flight per session; a second request is rejected.
func (r *Registry) Export(ctx context.Context, id ID, progress bulk.ProgressFunc) (*bulk.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exporter == nil {
		return nil, ErrBulkUnsupported
	}
	s, ok := r.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if h := r.exports[id]; h != nil && !h.Finished() {
		return nil, ErrExportInProgress
	}

	h := r.exporter.Start(ctx, s.QueryText, source.QueryOptions{}, progress)
	r.exports[id] = h
	r.logger.Debug("export started", "session_id", id)
	return h, nil
}

// CancelExport cancels the session's in-flight export.
func (r *Registry) CancelExport(id ID) error {
	r.mu.Lock()
	h := r.exports[id]
	r.mu.Unlock()

	if h == nil || h.Finished() {
		return ErrNoExport
	}
	h.Cancel()
	return nil
}
