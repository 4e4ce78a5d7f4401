package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingSink struct {
	started  []Snapshot
	finished []Snapshot
	errs     []error
	fail     error
}

func (r *recordingSink) RunStarted(_ context.Context, snap Snapshot) error {
	r.started = append(r.started, snap)
	return r.fail
}

func (r *recordingSink) RunFinished(_ context.Context, snap Snapshot, runErr error) error {
	r.finished = append(r.finished, snap)
	r.errs = append(r.errs, runErr)
	return r.fail
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(uuid.New(), []string{"K-STARTUP"}, clock, nil, sink)

	require.NoError(t, tr.Start(context.Background()))
	tr.Enter("K-STARTUP", StageFetching)
	tr.Add(Counters{Discovered: 3, Fetched: 2})
	tr.Add(Counters{Stored: 2, Failed: 1})

	snap := tr.Snapshot()
	assert.Equal(t, StageFetching, snap.Stage)
	assert.Equal(t, "K-STARTUP", snap.Source)
	assert.Equal(t, Counters{Discovered: 3, Fetched: 2, Stored: 2, Failed: 1}, snap.Counters)
	assert.Nil(t, snap.FinishedAt)

	require.NoError(t, tr.Finish(context.Background(), nil))
	final := tr.Snapshot()
	assert.Equal(t, StageDone, final.Stage)
	assert.Empty(t, final.Source)
	require.NotNil(t, final.FinishedAt)
	assert.True(t, final.FinishedAt.After(final.StartedAt))

	require.Len(t, sink.started, 1)
	require.Len(t, sink.finished, 1)
	assert.Equal(t, tr.RunID(), sink.finished[0].RunID)
	assert.NoError(t, sink.errs[0])
}

func TestTrackerFinishWithError(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	tr := NewTracker(uuid.New(), nil, &stepClock{}, nil, sink)
	runErr := errors.New("list not rendered")

	require.NoError(t, tr.Finish(context.Background(), runErr))
	snap := tr.Snapshot()
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Equal(t, "list not rendered", snap.Error)
	assert.ErrorIs(t, sink.errs[0], runErr)
}

func TestTrackerJoinsSinkErrors(t *testing.T) {
	t.Parallel()

	a := &recordingSink{fail: errors.New("a down")}
	b := &recordingSink{fail: errors.New("b down")}
	tr := NewTracker(uuid.New(), nil, &stepClock{}, nil, a, b)

	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
	assert.Len(t, b.started, 1, "every sink is notified")
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(uuid.New(), []string{"A"}, &stepClock{}, nil)
	snap := tr.Snapshot()
	snap.Sources[0] = "mutated"
	assert.Equal(t, []string{"A"}, tr.Snapshot().Sources)
}

func TestTrackerConcurrentReads(t *testing.T) {
	t.Parallel()

	tr := NewTracker(uuid.New(), []string{"A"}, &stepClock{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Add(Counters{Stored: 1})
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, tr.Snapshot().Counters.Stored)
}
