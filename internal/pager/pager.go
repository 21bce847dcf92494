// Package pager wraps the data source's paged fetch calls behind a small
// client the session registry drives. The display schema is fixed by the
// first page; continuation pages only ever append rows.
package pager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/queryworks/querypad/internal/source"
)

// Client fetches result pages from a data source.
type Client struct {
	src    source.DataSource
	logger *slog.Logger
}

// New creates a pagination client. A nil logger discards output.
func New(src source.DataSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{src: src, logger: logger}
}

// FirstPage executes the query and returns the first page together with
// the column metadata and result entity name.
func (c *Client) FirstPage(ctx context.Context, query string, opts source.QueryOptions) (*source.QueryResult, error) {
	res, err := c.src.RunQuery(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	c.logger.Debug("first page fetched",
		"rows", len(res.Rows), "total", res.TotalSize, "done", res.Done)
	return res, nil
}

// NextPage fetches the continuation page for a cursor. An empty cursor
// means the result is already complete; the call is a no-op returning an
// empty done page rather than an error, since the UI is expected to gate
// the control but the engine must tolerate the call.
func (c *Client) NextPage(ctx context.Context, cursor string) (*source.PageResult, error) {
	if cursor == "" {
		return &source.PageResult{Done: true}, nil
	}
	page, err := c.src.ContinueQuery(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next page: %w", err)
	}
	c.logger.Debug("next page fetched", "rows", len(page.Rows), "done", page.Done)
	return page, nil
}
