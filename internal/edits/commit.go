package edits

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/queryworks/querypad/internal/source"
)

// Commit submits every record with pending edits to the update endpoint
// concurrently and waits for all of them to settle. Records that commit
// cleanly are cleared from the tracker; failing records keep their edits
// and are reported in the returned map of record id to error message.
// Partial success across a multi-record commit is the expected shape.
func Commit(ctx context.Context, src source.DataSource, objectName string, t *Tracker) (map[string]string, error) {
	if objectName == "" {
		return nil, fmt.Errorf("cannot commit edits: no object name")
	}

	pending := t.Changes()
	if len(pending) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]string)
	)

	g, ctx := errgroup.WithContext(ctx)
	for recordID, fields := range pending {
		g.Go(func() error {
			if err := src.UpdateRecord(ctx, objectName, recordID, fields); err != nil {
				mu.Lock()
				failures[recordID] = err.Error()
				mu.Unlock()
				return nil
			}
			t.ClearRecord(recordID)
			return nil
		})
	}
	// Workers never return errors, so every update settles before Wait
	// returns regardless of individual failures.
	_ = g.Wait()

	if len(failures) == 0 {
		return nil, nil
	}
	return failures, nil
}
