package output

import (
	"context"
	"time"

	"browser-bridge/internal/domain/entity"
)

// NextActionRequest carries everything a model backend needs to choose the
// next action: the original instruction, the transcript so far, the current
// observation, and the permitted action set.
type NextActionRequest struct {
	TaskID      string
	Instruction string
	Steps       []entity.Step
	Observation *entity.Observation
	Schema      entity.ActionSchema

	// CorrectiveNote is appended to the prompt after a protocol violation
	// (malformed output or an action outside the schema).
	CorrectiveNote string
}

// ProviderPort is the uniform contract over distinct LLM backends. The
// returned action conforms to the schema, or the call fails with a
// *entity.ProviderError / *entity.UnsupportedActionError. Implementations
// must not mutate task state; the caller records everything.
type ProviderPort interface {
	Name() string
	NextAction(ctx context.Context, req NextActionRequest) (*entity.Action, error)
}

// ProviderFactory resolves a configured backend by name. An empty name
// selects the default provider.
type ProviderFactory interface {
	Provider(name string) (ProviderPort, error)
	DefaultName() string
}

// ProviderConfig identifies one backend: which adapter to build and the
// credential/endpoint/model triple it needs. Immutable for a task's
// duration once selected.
type ProviderConfig struct {
	Kind    string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}
