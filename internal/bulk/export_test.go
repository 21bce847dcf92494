package bulk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryworks/querypad/internal/source"
)

// fakeRunner scripts a job lifecycle: each poll consumes the next state,
// repeating the last one once the script runs out.
type fakeRunner struct {
	mu      sync.Mutex
	states  []source.BulkJob
	polls   int
	chunks  []source.BulkChunk
	aborted bool

	submitErr error
	pollErr   error
}

func (f *fakeRunner) SubmitBulkJob(context.Context, string, source.QueryOptions) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "750-job", nil
}

func (f *fakeRunner) PollBulkJob(context.Context, string) (*source.BulkJob, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.polls++
	job := f.states[i]
	job.ID = "750-job"
	return &job, nil
}

func (f *fakeRunner) DownloadBulkChunk(_ context.Context, _ string, locator string) (*source.BulkChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := 0
	if locator != "" {
		if _, err := fmt.Sscanf(locator, "chunk-%d", &i); err != nil {
			return nil, fmt.Errorf("bad locator %q", locator)
		}
	}
	if i >= len(f.chunks) {
		return nil, fmt.Errorf("no chunk at %d", i)
	}
	chunk := f.chunks[i]
	if i == len(f.chunks)-1 {
		chunk.NextLocator = source.LocatorEnd
	} else {
		chunk.NextLocator = fmt.Sprintf("chunk-%d", i+1)
	}
	return &chunk, nil
}

func (f *fakeRunner) AbortBulkJob(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return nil
}

func (f *fakeRunner) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func collectEvents(events *[]Event, mu *sync.Mutex) ProgressFunc {
	return func(ev Event) {
		mu.Lock()
		*events = append(*events, ev)
		mu.Unlock()
	}
}

func TestRun_StitchesChunks(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{
			{State: source.JobStateUploadComplete},
			{State: source.JobStateInProgress, RecordsProcessed: 50},
			{State: source.JobStateComplete, RecordsProcessed: 100},
		},
		chunks: []source.BulkChunk{
			{CSV: "Id,Name\n001,Acme\n002,Globex\n"},
			{CSV: "Id,Name\n003,Initech\n"},
		},
	}
	e := NewExporter(runner, time.Millisecond, nil)

	var (
		mu     sync.Mutex
		events []Event
	)
	csv, err := e.Run(context.Background(), "select id, name from account",
		source.QueryOptions{}, collectEvents(&events, &mu))

	require.NoError(t, err)
	// First chunk verbatim, later chunks lose their header row.
	assert.Equal(t, "Id,Name\n001,Acme\n002,Globex\n003,Initech\n", csv)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, EventJobCreated, events[0].Kind)
	assert.Equal(t, "750-job", events[0].JobID)

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{
		EventJobCreated,
		EventPoll, EventPoll, EventPoll,
		EventDownloading,
		EventChunk, EventChunk,
	}, kinds)

	// Running row total, header excluded from the first chunk's count.
	assert.Equal(t, 2, events[5].RowTotal)
	assert.Equal(t, 3, events[6].RowTotal)

	// Poll events carry the job snapshot.
	assert.Equal(t, source.JobStateInProgress, events[2].State)
	assert.Equal(t, 50, events[2].RecordsProcessed)
}

func TestRun_SingleChunk(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{{State: source.JobStateComplete}},
		chunks: []source.BulkChunk{{CSV: "Id\n001\n"}},
	}
	e := NewExporter(runner, time.Millisecond, nil)

	csv, err := e.Run(context.Background(), "select id from account", source.QueryOptions{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Id\n001\n", csv)
	assert.Equal(t, 1, runner.polls)
}

func TestRun_JobFailed(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{
			{State: source.JobStateInProgress},
			{State: source.JobStateFailed, ErrorMessage: "MALFORMED_QUERY: unexpected token"},
		},
	}
	e := NewExporter(runner, time.Millisecond, nil)

	_, err := e.Run(context.Background(), "select broken", source.QueryOptions{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MALFORMED_QUERY")
}

func TestRun_JobAborted(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{{State: source.JobStateAborted}},
		chunks: []source.BulkChunk{{CSV: "Id\n001\n"}},
	}
	e := NewExporter(runner, time.Millisecond, nil)

	var (
		mu     sync.Mutex
		events []Event
	)
	_, err := e.Run(context.Background(), "select id from account",
		source.QueryOptions{}, collectEvents(&events, &mu))

	require.ErrorIs(t, err, ErrAborted)

	// No download happens on an aborted job.
	mu.Lock()
	defer mu.Unlock()
	for _, ev := range events {
		assert.NotEqual(t, EventDownloading, ev.Kind)
		assert.NotEqual(t, EventChunk, ev.Kind)
	}
}

func TestRun_SubmitError(t *testing.T) {
	runner := &fakeRunner{submitErr: fmt.Errorf("401 unauthorized")}
	e := NewExporter(runner, time.Millisecond, nil)

	_, err := e.Run(context.Background(), "select id from account", source.QueryOptions{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to submit bulk job")
}

func TestRun_PollError(t *testing.T) {
	runner := &fakeRunner{pollErr: fmt.Errorf("timeout")}
	e := NewExporter(runner, time.Millisecond, nil)

	_, err := e.Run(context.Background(), "select id from account", source.QueryOptions{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to poll bulk job")
}

func TestHandle_CancelAbortsJob(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{{State: source.JobStateInProgress}},
	}
	e := NewExporter(runner, 10*time.Millisecond, nil)

	h := e.Start(context.Background(), "select id from account", source.QueryOptions{}, nil)

	// Wait for submission so the handle knows its job id.
	require.Eventually(t, func() bool { return h.JobID() != "" },
		time.Second, time.Millisecond)

	h.Cancel()

	_, err := h.Wait()
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.Finished())

	require.Eventually(t, runner.wasAborted, time.Second, time.Millisecond)
}

func TestHandle_DoneAndWait(t *testing.T) {
	runner := &fakeRunner{
		states: []source.BulkJob{{State: source.JobStateComplete}},
		chunks: []source.BulkChunk{{CSV: "Id\n001\n"}},
	}
	e := NewExporter(runner, time.Millisecond, nil)

	h := e.Start(context.Background(), "select id from account", source.QueryOptions{}, nil)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("export did not finish")
	}

	csv, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Id\n001\n", csv)
	assert.True(t, h.Finished())
}

func TestDropHeaderLine(t *testing.T) {
	assert.Equal(t, "001,Acme\n", dropHeaderLine("Id,Name\n001,Acme\n"))
	assert.Equal(t, "", dropHeaderLine("Id,Name"))
	assert.Equal(t, "", dropHeaderLine(""))
}

func TestCountRows(t *testing.T) {
	assert.Equal(t, 2, countRows("a\nb\n"))
	assert.Equal(t, 2, countRows("a\n\nb\n\n"))
	assert.Equal(t, 0, countRows(""))
}
