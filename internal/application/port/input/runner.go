package input

import (
	"context"

	"browser-bridge/internal/domain/entity"
)

// RunControl exposes the cooperative signals the loop checks between
// steps, never mid-action.
type RunControl interface {
	Cancelled() bool
	Paused() bool
}

// RunSink is where the runner reports progress. The registry implements
// it and is the single synchronization point for task mutation.
type RunSink interface {
	AppendStep(step entity.Step)
	SetStatus(status entity.TaskStatus)
}

// TaskRunner drives one task from Running to a terminal status. The
// browser session it acquires is released on every exit path before Run
// returns.
type TaskRunner interface {
	Run(ctx context.Context, spec entity.TaskSpec, control RunControl, sink RunSink) entity.RunOutcome
}
