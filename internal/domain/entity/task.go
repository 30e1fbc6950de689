package entity

import "time"

type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: no further steps or
// status changes are permitted once a task reaches it.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// FailReason is the stable reason code attached to a failed task.
type FailReason string

const (
	ReasonStepLimitExceeded FailReason = "step-limit-exceeded"
	ReasonDeadlineExceeded  FailReason = "deadline-exceeded"
	ReasonProviderError     FailReason = "provider-error"
	ReasonExecutionError    FailReason = "execution-error"
	ReasonUnsupportedAction FailReason = "unsupported-action"
	ReasonSessionError      FailReason = "session-error"
	ReasonInterrupted       FailReason = "interrupted"
)

// TaskOptions are the per-task knobs a caller may override at submission.
// Zero values mean "use the configured defaults".
type TaskOptions struct {
	Headful         bool
	SaveScreenshots bool
	MaxSteps        int
	Deadline        time.Duration
}

type Task struct {
	ID          string
	Instruction string
	Provider    string
	Status      TaskStatus
	Reason      FailReason
	Result      string
	Error       string
	Steps       []Step
	Options     TaskOptions
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Snapshot returns a deep copy safe to hand to readers while the owning
// loop keeps mutating the original.
func (t *Task) Snapshot() *Task {
	cp := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		cp.FinishedAt = &finished
	}
	cp.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		cp.Steps[i] = s.copy()
	}
	return &cp
}

// StepOutcome records how a single action execution went.
type StepOutcome struct {
	Success bool
	Data    string
	Error   string
}

// Step is one observe -> decide -> act cycle. Append-only, owned by
// exactly one task.
type Step struct {
	Index          int
	Observation    Observation
	Action         Action
	Outcome        StepOutcome
	ScreenshotPath string
	Timestamp      time.Time
}

func (s Step) copy() Step {
	cp := s
	cp.Observation = s.Observation.copy()
	return cp
}

// TaskSpec is the immutable part of a task handed to the runner.
type TaskSpec struct {
	ID          string
	Instruction string
	Provider    string
	Options     TaskOptions
}

// RunOutcome is the runner's verdict for one task.
type RunOutcome struct {
	Status TaskStatus
	Result string
	Reason FailReason
	Err    error
}
