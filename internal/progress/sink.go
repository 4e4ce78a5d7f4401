package progress

import "context"

// Sink observes run boundaries. Implementations must honor ctx deadlines.
type Sink interface {
	RunStarted(ctx context.Context, snap Snapshot) error
	RunFinished(ctx context.Context, snap Snapshot, runErr error) error
}
