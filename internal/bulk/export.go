// Package bulk drives server-side asynchronous exports: it creates a job,
// polls it to a terminal state on a fixed interval, then downloads the
// cursor-paginated CSV chunks and stitches them into one artifact.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/queryworks/querypad/internal/source"
)

// DefaultPollInterval is how often a job is polled until terminal.
const DefaultPollInterval = 2 * time.Second

// ErrAborted is returned when the server reports the job Aborted.
var ErrAborted = errors.New("export aborted")

// EventKind identifies a progress event.
type EventKind int

// Progress event kinds, emitted in order: one EventJobCreated, then one
// EventPoll per tick, then EventDownloading, then one EventChunk per chunk.
const (
	EventJobCreated EventKind = iota
	EventPoll
	EventDownloading
	EventChunk
)

// Event is one ordered progress notification from a running export.
type Event struct {
	Kind  EventKind
	JobID string

	// State and RecordsProcessed are set on EventPoll.
	State            source.BulkJobState
	RecordsProcessed int

	// RowTotal is the running count of downloaded data rows, set on
	// EventChunk.
	RowTotal int
}

// ProgressFunc receives ordered progress events. It is called from the
// export's own goroutine and must not block for long.
type ProgressFunc func(Event)

// Exporter runs bulk exports against a BulkRunner.
type Exporter struct {
	runner   source.BulkRunner
	interval time.Duration
	logger   *slog.Logger
}

// NewExporter creates an exporter. A non-positive interval uses
// DefaultPollInterval; a nil logger discards output.
func NewExporter(runner source.BulkRunner, interval time.Duration, logger *slog.Logger) *Exporter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{runner: runner, interval: interval, logger: logger}
}

// Handle is the single in-flight-task handle for one export. It supports
// waiting for the result and cancelling the task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	jobID string
	csv   string
	err   error

	abort func(jobID string)
}

// Start begins an export on its own goroutine and returns its handle.
func (e *Exporter) Start(ctx context.Context, query string, opts source.QueryOptions, progress ProgressFunc) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		abort: func(jobID string) {
			// Fire and forget: failure to abort is not escalated.
			if err := e.runner.AbortBulkJob(context.Background(), jobID); err != nil {
				e.logger.Warn("failed to abort bulk job", "job_id", jobID, "error", err)
			}
		},
	}

	go func() {
		defer close(h.done)
		csv, err := e.run(ctx, h, query, opts, progress)
		h.mu.Lock()
		h.csv, h.err = csv, err
		h.mu.Unlock()
	}()

	return h
}

// Run executes an export synchronously and returns the stitched CSV.
func (e *Exporter) Run(ctx context.Context, query string, opts source.QueryOptions, progress ProgressFunc) (string, error) {
	h := e.Start(ctx, query, opts, progress)
	return h.Wait()
}

// Wait blocks until the export finishes and returns the stitched CSV.
func (h *Handle) Wait() (string, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.csv, h.err
}

// Done returns a channel closed when the export finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Finished reports whether the export has completed.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// JobID returns the server job id, or "" before submission completes.
func (h *Handle) JobID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobID
}

// Cancel stops the export task and asks the server to abort the job.
func (h *Handle) Cancel() {
	h.cancel()
	if id := h.JobID(); id != "" && h.abort != nil {
		go h.abort(id)
	}
}

func (h *Handle) setJobID(id string) {
	h.mu.Lock()
	h.jobID = id
	h.mu.Unlock()
}

func (e *Exporter) run(ctx context.Context, h *Handle, query string, opts source.QueryOptions, progress ProgressFunc) (string, error) {
	emit := progress
	if emit == nil {
		emit = func(Event) {}
	}

	jobID, err := e.runner.SubmitBulkJob(ctx, query, opts)
	if err != nil {
		return "", fmt.Errorf("failed to submit bulk job: %w", err)
	}
	h.setJobID(jobID)
	e.logger.Debug("bulk job created", "job_id", jobID)
	emit(Event{Kind: EventJobCreated, JobID: jobID})

	// Poll immediately after creation, then on the fixed interval, until a
	// terminal state. Any network failure aborts the whole export.
	for {
		job, err := e.runner.PollBulkJob(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("failed to poll bulk job: %w", err)
		}
		emit(Event{
			Kind:             EventPoll,
			JobID:            jobID,
			State:            job.State,
			RecordsProcessed: job.RecordsProcessed,
		})

		switch job.State {
		case source.JobStateComplete:
			return e.download(ctx, jobID, emit)
		case source.JobStateFailed:
			return "", fmt.Errorf("export failed: %s", job.ErrorMessage)
		case source.JobStateAborted:
			return "", ErrAborted
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.interval):
		}
	}
}

// download retrieves every result chunk sequentially and stitches them:
// the first chunk is taken verbatim, every later chunk contributes only
// its data rows. Row order is preserved across chunks.
func (e *Exporter) download(ctx context.Context, jobID string, emit ProgressFunc) (string, error) {
	emit(Event{Kind: EventDownloading, JobID: jobID})

	var (
		sb      strings.Builder
		locator string
		total   int
	)
	for first := true; ; first = false {
		chunk, err := e.runner.DownloadBulkChunk(ctx, jobID, locator)
		if err != nil {
			return "", fmt.Errorf("failed to download bulk chunk: %w", err)
		}

		text := chunk.CSV
		if !first {
			text = dropHeaderLine(text)
		}
		sb.WriteString(text)
		if text != "" && !strings.HasSuffix(text, "\n") {
			sb.WriteByte('\n')
		}

		rows := countRows(text)
		if first && rows > 0 {
			rows-- // header line
		}
		total += rows
		emit(Event{Kind: EventChunk, JobID: jobID, RowTotal: total})

		if chunk.NextLocator == "" || chunk.NextLocator == source.LocatorEnd {
			break
		}
		locator = chunk.NextLocator
	}

	e.logger.Debug("bulk export downloaded", "job_id", jobID, "rows", total)
	return sb.String(), nil
}

// dropHeaderLine removes the first line of a CSV chunk.
func dropHeaderLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return ""
}

// countRows counts non-empty lines.
func countRows(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
