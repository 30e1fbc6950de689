package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browser-bridge/internal/application/port/input"
	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

const (
	defaultMaxSteps     = 25
	defaultTaskDeadline = 10 * time.Minute
	pausePollInterval   = 200 * time.Millisecond
)

// RunnerConfig carries the loop's policy defaults; per-task options
// override MaxSteps and Deadline.
type RunnerConfig struct {
	MaxSteps      int
	TaskDeadline  time.Duration
	ActionRetries int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxSteps:      defaultMaxSteps,
		TaskDeadline:  defaultTaskDeadline,
		ActionRetries: 1,
	}
}

// TaskRunner is the agent loop: observe browser state, ask the model for
// the next action, execute it, repeat until a terminal condition. One
// runner instance serves all tasks; per-task state lives on the stack of
// each Run call.
type TaskRunner struct {
	sessions  output.SessionManager
	providers output.ProviderFactory
	executor  *ActionExecutor
	media     output.MediaStore
	logger    output.LoggerPort
	schema    entity.ActionSchema
	cfg       RunnerConfig
}

var _ input.TaskRunner = (*TaskRunner)(nil)

func NewTaskRunner(
	sessions output.SessionManager,
	providers output.ProviderFactory,
	executor *ActionExecutor,
	media output.MediaStore,
	logger output.LoggerPort,
	cfg RunnerConfig,
) *TaskRunner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.TaskDeadline <= 0 {
		cfg.TaskDeadline = defaultTaskDeadline
	}
	return &TaskRunner{
		sessions:  sessions,
		providers: providers,
		executor:  executor,
		media:     media,
		logger:    logger,
		schema:    entity.DefaultSchema(),
		cfg:       cfg,
	}
}

func (r *TaskRunner) Run(ctx context.Context, spec entity.TaskSpec, control input.RunControl, sink input.RunSink) entity.RunOutcome {
	log := r.logger.WithField("task", spec.ID)

	maxSteps := spec.Options.MaxSteps
	if maxSteps <= 0 {
		maxSteps = r.cfg.MaxSteps
	}
	deadline := spec.Options.Deadline
	if deadline <= 0 {
		deadline = r.cfg.TaskDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	provider, err := r.providers.Provider(spec.Provider)
	if err != nil {
		return failed(entity.ReasonProviderError, err)
	}

	session, err := r.sessions.Acquire(ctx, spec.ID, output.SessionOptions{Headful: spec.Options.Headful})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failed(entity.ReasonDeadlineExceeded, err)
		}
		return failed(entity.ReasonSessionError, err)
	}
	// Teardown is unconditional: success, failure, cancellation, panic.
	defer session.Release()

	log.Info("Task started", "provider", provider.Name(), "maxSteps", maxSteps)

	obs, err := session.Observe(ctx)
	if err != nil {
		return failed(entity.ReasonSessionError, fmt.Errorf("initial observation: %w", err))
	}

	steps := make([]entity.Step, 0, maxSteps)
	correctiveNote := ""
	violated := false

	for stepIndex := 0; ; stepIndex++ {
		if outcome, stop := r.checkpoint(ctx, control, sink); stop {
			return outcome
		}
		if stepIndex >= maxSteps {
			log.Warn("Step limit exceeded", "steps", stepIndex)
			return failed(entity.ReasonStepLimitExceeded,
				fmt.Errorf("step limit of %d exceeded", maxSteps))
		}

		action, err := provider.NextAction(ctx, output.NextActionRequest{
			TaskID:         spec.ID,
			Instruction:    spec.Instruction,
			Steps:          steps,
			Observation:    obs,
			Schema:         r.schema,
			CorrectiveNote: correctiveNote,
		})
		correctiveNote = ""
		if err != nil {
			var unsupported *entity.UnsupportedActionError
			if errors.As(err, &unsupported) {
				// One corrective retry, then treat a repeat violation as
				// a provider fault to avoid a malformed-action loop.
				if !violated {
					violated = true
					correctiveNote = fmt.Sprintf(
						"Your previous reply requested the unknown action %q. Respond with exactly one action from the declared set.",
						unsupported.Name)
					log.Warn("Unsupported action, retrying with corrective note", "name", unsupported.Name)
					stepIndex--
					continue
				}
				return failed(entity.ReasonUnsupportedAction, err)
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return failed(entity.ReasonDeadlineExceeded, err)
			}
			return failed(entity.ReasonProviderError, err)
		}

		if action.Name == entity.ActionFinish {
			step := r.record(sink, &steps, stepIndex, obs, *action, entity.StepOutcome{
				Success: true,
				Data:    action.Args.Result,
			}, "")
			log.Info("Task finished", "steps", step.Index+1)
			return entity.RunOutcome{Status: entity.StatusSucceeded, Result: action.Args.Result}
		}

		newObs, data, execErr := r.executeWithRetry(ctx, session, *action, log)
		if execErr != nil {
			r.record(sink, &steps, stepIndex, obs, *action, entity.StepOutcome{
				Success: false,
				Error:   execErr.Error(),
			}, "")
			var execErrT *entity.ExecutionError
			if errors.As(execErr, &execErrT) && execErrT.Timeout {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return failed(entity.ReasonDeadlineExceeded, execErr)
				}
				return failed(entity.ReasonExecutionError, execErr)
			}
			// Non-timeout failures (selector not found, navigation error)
			// are surfaced to the model, which may pick a different
			// approach on the next step.
			log.Warn("Action failed, feeding error back to model", "action", action.Name, "error", execErr)
			continue
		}

		screenshotPath := ""
		if spec.Options.SaveScreenshots && r.media != nil {
			screenshotPath = r.captureScreenshot(ctx, session, spec.ID, stepIndex, log)
		}

		r.record(sink, &steps, stepIndex, obs, *action, entity.StepOutcome{
			Success: true,
			Data:    data,
		}, screenshotPath)
		obs = newObs
	}
}

// checkpoint is the safe point between steps where cancellation and pause
// take effect.
func (r *TaskRunner) checkpoint(ctx context.Context, control input.RunControl, sink input.RunSink) (entity.RunOutcome, bool) {
	if control.Cancelled() {
		return entity.RunOutcome{Status: entity.StatusCancelled}, true
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failed(entity.ReasonDeadlineExceeded, ctx.Err()), true
	}

	if control.Paused() {
		sink.SetStatus(entity.StatusPaused)
		for control.Paused() {
			if control.Cancelled() {
				return entity.RunOutcome{Status: entity.StatusCancelled}, true
			}
			select {
			case <-ctx.Done():
				return failed(entity.ReasonDeadlineExceeded, ctx.Err()), true
			case <-time.After(pausePollInterval):
			}
		}
		sink.SetStatus(entity.StatusRunning)
	}
	return entity.RunOutcome{}, false
}

func (r *TaskRunner) executeWithRetry(ctx context.Context, session output.BrowserSession, action entity.Action, log output.LoggerPort) (*entity.Observation, string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.ActionRetries; attempt++ {
		obs, data, err := r.executor.Execute(ctx, session, action)
		if err == nil {
			return obs, data, nil
		}
		lastErr = err

		var execErr *entity.ExecutionError
		if !errors.As(err, &execErr) || !execErr.Timeout {
			return nil, "", err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", err
		}
		if attempt < r.cfg.ActionRetries {
			log.Warn("Action timed out, retrying", "action", action.Name, "attempt", attempt+1)
		}
	}
	return nil, "", lastErr
}

func (r *TaskRunner) record(sink input.RunSink, steps *[]entity.Step, index int, obs *entity.Observation, action entity.Action, outcome entity.StepOutcome, screenshotPath string) entity.Step {
	step := entity.Step{
		Index:          index,
		Observation:    *obs,
		Action:         action,
		Outcome:        outcome,
		ScreenshotPath: screenshotPath,
		Timestamp:      time.Now(),
	}
	*steps = append(*steps, step)
	sink.AppendStep(step)
	return step
}

func (r *TaskRunner) captureScreenshot(ctx context.Context, session output.BrowserSession, taskID string, stepIndex int, log output.LoggerPort) string {
	shot, err := session.Screenshot(ctx)
	if err != nil {
		log.Warn("Screenshot capture failed", "step", stepIndex, "error", err)
		return ""
	}
	path, err := r.media.SaveScreenshot(taskID, stepIndex, shot)
	if err != nil {
		log.Warn("Screenshot save failed", "step", stepIndex, "error", err)
		return ""
	}
	return path
}

func failed(reason entity.FailReason, err error) entity.RunOutcome {
	outcome := entity.RunOutcome{Status: entity.StatusFailed, Reason: reason, Err: err}
	return outcome
}
