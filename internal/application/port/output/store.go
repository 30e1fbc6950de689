package output

import (
	"context"

	"browser-bridge/internal/domain/entity"
)

// TaskStore persists task records and transcripts so they survive a
// process restart. The registry treats a nil store as "persistence off".
type TaskStore interface {
	Save(ctx context.Context, task *entity.Task) error
	Load(ctx context.Context, id string) (*entity.Task, error)
	LoadAll(ctx context.Context) ([]*entity.Task, error)
}

// MediaStore stores per-step artifacts (screenshots) and returns a path
// the step record can reference.
type MediaStore interface {
	SaveScreenshot(taskID string, stepIndex int, shot *entity.Screenshot) (string, error)
}
