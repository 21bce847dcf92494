package source

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	// Drivers for the supported local backends.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

// Default paging and chunking for the local backend.
const (
	defaultLocalPageSize = 200
	defaultChunkRows     = 10000
)

// LocalConfig configures a Local source.
type LocalConfig struct {
	// Driver selects the backend: "sqlite", "postgres" or "duckdb".
	Driver string

	// Path is the database file for sqlite/duckdb (":memory:" for in-memory).
	Path string

	// Network settings for postgres.
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Options holds driver-specific settings (e.g. sslmode).
	Options map[string]string

	// PageSize is the default page size for cursor pagination.
	PageSize int

	// ChunkRows is the number of data rows per simulated bulk chunk.
	ChunkRows int
}

// Local implements DataSource and BulkRunner over database/sql. Pagination
// is client-side: the full result is materialized and sliced into pages,
// with continuation state held behind opaque cursor tokens. Bulk jobs run
// as local goroutines that advance through the same lifecycle states a
// remote job would.
type Local struct {
	db     *sql.DB
	cfg    LocalConfig
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[string]*cursorState
	jobs    map[string]*localJob
}

type cursorState struct {
	rows     []Row
	offset   int
	pageSize int
}

type localJob struct {
	state     BulkJobState
	processed int
	errMsg    string
	chunks    []string
}

// OpenLocal connects to the configured database and verifies the connection.
func OpenLocal(ctx context.Context, cfg LocalConfig, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultLocalPageSize
	}
	if cfg.ChunkRows <= 0 {
		cfg.ChunkRows = defaultChunkRows
	}

	driver, dsn, err := resolveDriver(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening local source", "driver", driver)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// An in-memory sqlite database exists per connection; a pool of one
		// keeps every statement on the same database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	return &Local{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		cursors: make(map[string]*cursorState),
		jobs:    make(map[string]*localJob),
	}, nil
}

// resolveDriver maps the config to a database/sql driver name and DSN.
func resolveDriver(cfg LocalConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return "sqlite", path, nil
	case "duckdb":
		return "duckdb", cfg.Path, nil
	case "postgres":
		return "pgx", buildPostgresDSN(cfg), nil
	default:
		return "", "", fmt.Errorf("unknown local driver %q (supported: sqlite, postgres, duckdb)", cfg.Driver)
	}
}

// buildPostgresDSN constructs a key=value PostgreSQL connection string.
func buildPostgresDSN(cfg LocalConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

// Close releases the database connection and any open cursors.
func (l *Local) Close() error {
	l.mu.Lock()
	l.cursors = make(map[string]*cursorState)
	l.jobs = make(map[string]*localJob)
	l.mu.Unlock()
	return l.db.Close()
}

var fromTableRe = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z_][A-Za-z0-9_.]*)`)

// tableNameFromQuery extracts the primary entity of a query, used for
// labels and edit authorization. Returns "" when no single table can be
// identified.
func tableNameFromQuery(text string) string {
	m := fromTableRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// queryAll runs the query and materializes every row plus the column list.
func (l *Local) queryAll(ctx context.Context, text string) ([]string, []Row, error) {
	rows, err := l.db.QueryContext(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			val := values[i]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

// RunQuery executes the query and returns the first page. Results larger
// than the page size are parked behind a cursor token.
func (l *Local) RunQuery(ctx context.Context, text string, opts QueryOptions) (*QueryResult, error) {
	cols, all, err := l.queryAll(ctx, text)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = l.cfg.PageSize
	}

	raw := make([]RawColumn, 0, len(cols))
	for _, c := range cols {
		raw = append(raw, RawColumn{Name: c})
	}

	res := &QueryResult{
		TotalSize:  len(all),
		Columns:    raw,
		ObjectName: tableNameFromQuery(text),
		Done:       true,
	}

	if len(all) > pageSize {
		res.Rows = all[:pageSize]
		res.Done = false
		res.Cursor = l.parkCursor(all[pageSize:], pageSize)
	} else {
		res.Rows = all
	}

	l.logger.Debug("query executed", "rows", len(all), "done", res.Done)
	return res, nil
}

// parkCursor stashes the unreturned remainder of a result set and returns
// an opaque continuation token for it.
func (l *Local) parkCursor(rest []Row, pageSize int) string {
	token := uuid.NewString()
	l.mu.Lock()
	l.cursors[token] = &cursorState{rows: rest, pageSize: pageSize}
	l.mu.Unlock()
	return token
}

// ContinueQuery returns the next page for a cursor token.
func (l *Local) ContinueQuery(ctx context.Context, cursor string) (*PageResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.cursors[cursor]
	if !ok {
		return nil, fmt.Errorf("unknown query cursor %q", cursor)
	}

	end := st.offset + st.pageSize
	if end >= len(st.rows) {
		page := st.rows[st.offset:]
		delete(l.cursors, cursor)
		return &PageResult{Rows: page, Done: true}, nil
	}

	page := st.rows[st.offset:end]
	st.offset = end
	return &PageResult{Rows: page, Done: false, Cursor: cursor}, nil
}

// DescribeObjectFields reports field capability metadata for a table.
// The primary key is reported non-writable; everything else is writable.
func (l *Local) DescribeObjectFields(ctx context.Context, objectName string) (map[string]FieldInfo, error) {
	if objectName == "" {
		return nil, fmt.Errorf("object name is empty")
	}
	if l.cfg.Driver == "sqlite" || l.cfg.Driver == "" {
		return l.describeSQLite(ctx, objectName)
	}
	return l.describeInformationSchema(ctx, objectName)
}

func (l *Local) describeSQLite(ctx context.Context, table string) (map[string]FieldInfo, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	fields := make(map[string]FieldInfo)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		fields[name] = FieldInfo{
			Writable: pk == 0 && !strings.EqualFold(name, "id"),
			Type:     typ,
			Label:    name,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("object %s not found", table)
	}
	return fields, nil
}

func (l *Local) describeInformationSchema(ctx context.Context, table string) (map[string]FieldInfo, error) {
	schema := "public"
	name := table
	if parts := strings.SplitN(table, ".", 2); len(parts) == 2 {
		schema, name = parts[0], parts[1]
	}

	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	if l.cfg.Driver == "duckdb" {
		query = strings.NewReplacer("$1", "?", "$2", "?").Replace(query)
	}

	rows, err := l.db.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	fields := make(map[string]FieldInfo)
	for rows.Next() {
		var colName, colType string
		if err := rows.Scan(&colName, &colType); err != nil {
			return nil, err
		}
		fields[colName] = FieldInfo{
			Writable: !strings.EqualFold(colName, "id"),
			Type:     colType,
			Label:    colName,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("object %s not found", table)
	}
	return fields, nil
}

// UpdateRecord writes the given fields to one record by primary key.
func (l *Local) UpdateRecord(ctx context.Context, objectName, recordID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	// Stable statement shape for a given field set.
	sort.Strings(names)

	var (
		sets = make([]string, 0, len(names))
		args = make([]any, 0, len(names)+1)
	)
	for i, name := range names {
		sets = append(sets, fmt.Sprintf("%s = %s", quoteIdent(name), l.placeholder(i+1)))
		args = append(args, fields[name])
	}
	args = append(args, recordID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		quoteIdent(objectName), strings.Join(sets, ", "), l.placeholder(len(names)+1))

	res, err := l.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s record %s: %w", objectName, recordID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record %s not found in %s", recordID, objectName)
	}
	return nil
}

// placeholder returns the driver's positional parameter marker.
func (l *Local) placeholder(n int) string {
	if l.cfg.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// quoteIdent quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// --- Bulk job simulation ---

// SubmitBulkJob starts a local export job. The query runs on a background
// goroutine; poll snapshots advance through the same lifecycle a remote
// job reports.
func (l *Local) SubmitBulkJob(ctx context.Context, query string, opts QueryOptions) (string, error) {
	jobID := uuid.NewString()
	job := &localJob{state: JobStateUploadComplete}

	l.mu.Lock()
	l.jobs[jobID] = job
	l.mu.Unlock()

	l.logger.Debug("bulk job submitted", "job_id", jobID)

	go l.runBulkJob(jobID, query)
	return jobID, nil
}

func (l *Local) runBulkJob(jobID, query string) {
	// The job outlives the submitting call, so it runs on its own context.
	cols, all, err := l.queryAll(context.Background(), query)

	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok || job.state.Terminal() {
		return
	}
	if err != nil {
		job.state = JobStateFailed
		job.errMsg = err.Error()
		return
	}

	job.state = JobStateInProgress
	job.processed = len(all)
	job.chunks = encodeChunks(cols, all, l.cfg.ChunkRows)
	job.state = JobStateComplete
}

// encodeChunks renders rows as CSV chunks of at most chunkRows data rows,
// repeating the header in every chunk.
func encodeChunks(cols []string, rows []Row, chunkRows int) []string {
	var chunks []string
	for start := 0; ; start += chunkRows {
		end := start + chunkRows
		if end > len(rows) {
			end = len(rows)
		}

		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write(cols)
		for _, row := range rows[start:end] {
			rec := make([]string, len(cols))
			for i, c := range cols {
				if v := row[c]; v != nil {
					rec[i] = fmt.Sprint(v)
				}
			}
			_ = w.Write(rec)
		}
		w.Flush()
		chunks = append(chunks, sb.String())

		if end >= len(rows) {
			break
		}
	}
	return chunks
}

// PollBulkJob returns a snapshot of the job.
func (l *Local) PollBulkJob(ctx context.Context, jobID string) (*BulkJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown bulk job %q", jobID)
	}
	return &BulkJob{
		ID:               jobID,
		State:            job.state,
		RecordsProcessed: job.processed,
		ErrorMessage:     job.errMsg,
	}, nil
}

// DownloadBulkChunk returns one CSV chunk of a completed job.
func (l *Local) DownloadBulkChunk(ctx context.Context, jobID, locator string) (*BulkChunk, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown bulk job %q", jobID)
	}
	if job.state != JobStateComplete {
		return nil, fmt.Errorf("bulk job %s is not complete (state %s)", jobID, job.state)
	}

	idx := 0
	if locator != "" && locator != LocatorEnd {
		n, err := strconv.Atoi(locator)
		if err != nil || n < 0 || n >= len(job.chunks) {
			return nil, fmt.Errorf("invalid bulk locator %q", locator)
		}
		idx = n
	}

	next := LocatorEnd
	if idx+1 < len(job.chunks) {
		next = strconv.Itoa(idx + 1)
	}
	return &BulkChunk{CSV: job.chunks[idx], NextLocator: next}, nil
}

// AbortBulkJob moves a non-terminal job to Aborted.
func (l *Local) AbortBulkJob(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown bulk job %q", jobID)
	}
	if !job.state.Terminal() {
		job.state = JobStateAborted
	}
	return nil
}

// Interface checks.
var (
	_ DataSource = (*Local)(nil)
	_ BulkRunner = (*Local)(nil)
)
