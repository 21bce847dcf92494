package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// locatorHeader carries the next-chunk locator on bulk result responses.
const locatorHeader = "Sforce-Locator"

// RESTConfig configures a REST source.
type RESTConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/data/v1".
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// PageSize is sent as the query batch-size hint. Zero omits the hint.
	PageSize int

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// REST implements DataSource and BulkRunner against the remote tabular-data
// HTTP API. All calls are single JSON round-trips except bulk chunk
// downloads, which return raw CSV bodies.
type REST struct {
	cfg    RESTConfig
	client *http.Client
	logger *slog.Logger
}

// NewREST creates a REST source.
func NewREST(cfg RESTConfig, logger *slog.Logger) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest source: base URL is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &REST{
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}

// apiError is the server's JSON error body.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"errorCode"`
}

// do issues a request and decodes a JSON response into out (when non-nil).
func (r *REST) do(ctx context.Context, method, path string, body, out any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	u := strings.TrimRight(r.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Message != "" {
			return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, ae.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	}
	return resp, nil
}

// queryResponse is the wire shape of query and query-continuation results.
type queryResponse struct {
	TotalSize  int              `json:"totalSize"`
	Done       bool             `json:"done"`
	Cursor     string           `json:"nextCursor"`
	Records    []map[string]any `json:"records"`
	Columns    []RawColumn      `json:"columnMetadata"`
	ObjectName string           `json:"entityName"`
}

func toRows(records []map[string]any) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row(rec))
	}
	return rows
}

// RunQuery executes the query text against GET /query.
func (r *REST) RunQuery(ctx context.Context, text string, opts QueryOptions) (*QueryResult, error) {
	q := url.Values{"q": {text}}
	if opts.IncludeDeleted {
		q.Set("includeDeleted", "true")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}
	if pageSize > 0 {
		q.Set("batchSize", fmt.Sprint(pageSize))
	}

	var body queryResponse
	if _, err := r.do(ctx, http.MethodGet, "/query?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return &QueryResult{
		Rows:       toRows(body.Records),
		TotalSize:  body.TotalSize,
		Done:       body.Done,
		Cursor:     body.Cursor,
		Columns:    body.Columns,
		ObjectName: body.ObjectName,
	}, nil
}

// ContinueQuery fetches the next page via GET /query/{cursor}.
func (r *REST) ContinueQuery(ctx context.Context, cursor string) (*PageResult, error) {
	var body queryResponse
	if _, err := r.do(ctx, http.MethodGet, "/query/"+url.PathEscape(cursor), nil, &body); err != nil {
		return nil, err
	}
	return &PageResult{
		Rows:   toRows(body.Records),
		Done:   body.Done,
		Cursor: body.Cursor,
	}, nil
}

// describeResponse is the wire shape of GET /sobjects/{name}/describe.
type describeResponse struct {
	Fields []struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Label      string `json:"label"`
		Updateable bool   `json:"updateable"`
	} `json:"fields"`
}

// DescribeObjectFields fetches field capability metadata for an object.
func (r *REST) DescribeObjectFields(ctx context.Context, objectName string) (map[string]FieldInfo, error) {
	var body describeResponse
	path := "/sobjects/" + url.PathEscape(objectName) + "/describe"
	if _, err := r.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}

	fields := make(map[string]FieldInfo, len(body.Fields))
	for _, f := range body.Fields {
		fields[f.Name] = FieldInfo{
			Writable: f.Updateable,
			Type:     f.Type,
			Label:    f.Label,
		}
	}
	return fields, nil
}

// UpdateRecord writes field values via PATCH /sobjects/{name}/{id}.
func (r *REST) UpdateRecord(ctx context.Context, objectName, recordID string, fields map[string]any) error {
	path := "/sobjects/" + url.PathEscape(objectName) + "/" + url.PathEscape(recordID)
	resp, err := r.do(ctx, http.MethodPatch, path, fields, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// SubmitBulkJob creates an export job via POST /jobs/query.
func (r *REST) SubmitBulkJob(ctx context.Context, query string, opts QueryOptions) (string, error) {
	req := map[string]any{"query": query}
	if opts.IncludeDeleted {
		req["operation"] = "queryAll"
	}

	var body struct {
		ID string `json:"id"`
	}
	if _, err := r.do(ctx, http.MethodPost, "/jobs/query", req, &body); err != nil {
		return "", err
	}
	return body.ID, nil
}

// PollBulkJob fetches the job snapshot via GET /jobs/query/{id}.
func (r *REST) PollBulkJob(ctx context.Context, jobID string) (*BulkJob, error) {
	var body struct {
		ID               string `json:"id"`
		State            string `json:"state"`
		RecordsProcessed int    `json:"numberRecordsProcessed"`
		ErrorMessage     string `json:"errorMessage"`
	}
	if _, err := r.do(ctx, http.MethodGet, "/jobs/query/"+url.PathEscape(jobID), nil, &body); err != nil {
		return nil, err
	}
	return &BulkJob{
		ID:               body.ID,
		State:            BulkJobState(body.State),
		RecordsProcessed: body.RecordsProcessed,
		ErrorMessage:     body.ErrorMessage,
	}, nil
}

// DownloadBulkChunk fetches one CSV chunk. The continuation locator comes
// back in the Sforce-Locator response header.
func (r *REST) DownloadBulkChunk(ctx context.Context, jobID, locator string) (*BulkChunk, error) {
	path := "/jobs/query/" + url.PathEscape(jobID) + "/results"
	if locator != "" {
		path += "?locator=" + url.QueryEscape(locator)
	}

	resp, err := r.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bulk chunk: %w", err)
	}
	return &BulkChunk{
		CSV:         string(data),
		NextLocator: resp.Header.Get(locatorHeader),
	}, nil
}

// AbortBulkJob requests job cancellation via PATCH /jobs/query/{id}.
func (r *REST) AbortBulkJob(ctx context.Context, jobID string) error {
	path := "/jobs/query/" + url.PathEscape(jobID)
	resp, err := r.do(ctx, http.MethodPatch, path, map[string]string{"state": string(JobStateAborted)}, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Interface checks.
var (
	_ DataSource = (*REST)(nil)
	_ BulkRunner = (*REST)(nil)
)
