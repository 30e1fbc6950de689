package input

import (
	"context"

	"browser-bridge/internal/domain/entity"
)

// SubmitRequest is one task submission from the outer HTTP layer.
type SubmitRequest struct {
	Instruction string
	Provider    string
	Options     entity.TaskOptions
}

// TaskService is the registry contract the HTTP layer translates onto.
// All returned tasks are immutable snapshots.
type TaskService interface {
	Submit(ctx context.Context, req SubmitRequest) (*entity.Task, error)
	Status(id string) (*entity.Task, error)
	List() []*entity.Task
	Cancel(id string) error
	Pause(id string) error
	Resume(id string) error
}
