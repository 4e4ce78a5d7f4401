package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/logging"
)

// Stage names the phase a run is in.
type Stage string

// Run phases, in the order a source passes through them.
const (
	StagePending   Stage = "pending"
	StageListing   Stage = "listing"
	StageFetching  Stage = "fetching"
	StageAnalyzing Stage = "analyzing"
	StageStoring   Stage = "storing"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Counters accumulate over every source of a run.
type Counters struct {
	Discovered int `json:"discovered"`
	Fetched    int `json:"fetched"`
	Analyzed   int `json:"analyzed"`
	Stored     int `json:"stored"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Add returns the element-wise sum of c and d.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Discovered: c.Discovered + d.Discovered,
		Fetched:    c.Fetched + d.Fetched,
		Analyzed:   c.Analyzed + d.Analyzed,
		Stored:     c.Stored + d.Stored,
		Failed:     c.Failed + d.Failed,
		Skipped:    c.Skipped + d.Skipped,
	}
}

// Snapshot is a point-in-time copy of a run's state.
type Snapshot struct {
	RunID      uuid.UUID  `json:"run_id"`
	Sources    []string   `json:"sources"`
	Source     string     `json:"source,omitempty"`
	Stage      Stage      `json:"stage"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counters   Counters   `json:"counters"`
	Error      string     `json:"error,omitempty"`
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Tracker holds the live state of one run.
type Tracker struct {
	mu     sync.Mutex
	snap   Snapshot
	clock  Clock
	sinks  []Sink
	logger *zap.Logger
}

// NewTracker creates a pending run.
func NewTracker(runID uuid.UUID, sources []string, clock Clock, logger *zap.Logger, sinks ...Sink) *Tracker {
	return &Tracker{
		snap: Snapshot{
			RunID:   runID,
			Sources: append([]string(nil), sources...),
			Stage:   StagePending,
		},
		clock:  clock,
		sinks:  sinks,
		logger: logging.OrNop(logger).Named("progress"),
	}
}

// RunID returns the identifier of the run.
func (t *Tracker) RunID() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.RunID
}

// Start stamps the start time and notifies every sink. Sink failures are
// joined into the returned error; the run itself stays usable.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.snap.StartedAt = t.clock.Now()
	snap := t.copyLocked()
	t.mu.Unlock()

	var errs []error
	for _, s := range t.sinks {
		if err := s.RunStarted(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enter moves the run to stage for source.
func (t *Tracker) Enter(source string, stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Source = source
	t.snap.Stage = stage
}

// Add accumulates d into the run counters.
func (t *Tracker) Add(d Counters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counters = t.snap.Counters.Add(d)
}

// Finish stamps completion, records runErr and notifies every sink.
func (t *Tracker) Finish(ctx context.Context, runErr error) error {
	t.mu.Lock()
	now := t.clock.Now()
	t.snap.FinishedAt = &now
	t.snap.Source = ""
	t.snap.Stage = StageDone
	if runErr != nil {
		t.snap.Stage = StageFailed
		t.snap.Error = runErr.Error()
	}
	snap := t.copyLocked()
	t.mu.Unlock()

	t.logger.Debug("run finished",
		zap.String("run_id", snap.RunID.String()),
		zap.String("stage", string(snap.Stage)),
		zap.Int("stored", snap.Counters.Stored),
		zap.Int("failed", snap.Counters.Failed),
	)
	var errs []error
	for _, s := range t.sinks {
		if err := s.RunFinished(ctx, snap, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() Snapshot {
	snap := t.snap
	snap.Sources = append([]string(nil), t.snap.Sources...)
	if t.snap.FinishedAt != nil {
		finished := *t.snap.FinishedAt
		snap.FinishedAt = &finished
	}
	return snap
}
