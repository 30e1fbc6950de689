package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

const defaultActionTimeout = 30 * time.Second

// ActionExecutor translates one abstract action into concrete browser
// operations and captures the resulting page state. Actions run strictly
// sequentially against a session; the executor itself is stateless and
// shared across tasks.
type ActionExecutor struct {
	timeout time.Duration
	logger  output.LoggerPort
}

func NewActionExecutor(timeout time.Duration, logger output.LoggerPort) *ActionExecutor {
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return &ActionExecutor{timeout: timeout, logger: logger}
}

// Execute performs the action and re-observes the page. The returned data
// string is the action's own payload (extracted text, confirmation) and
// feeds the next model request. finish is terminal and never reaches the
// executor.
func (e *ActionExecutor) Execute(ctx context.Context, session output.BrowserSession, action entity.Action) (*entity.Observation, string, error) {
	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := e.dispatch(actionCtx, session, action)
	if err != nil {
		return nil, "", e.wrap(actionCtx, action.Name, err)
	}

	obsCtx, cancelObs := context.WithTimeout(ctx, e.timeout)
	defer cancelObs()

	obs, err := session.Observe(obsCtx)
	if err != nil {
		return nil, "", e.wrap(obsCtx, action.Name, fmt.Errorf("observe after action: %w", err))
	}

	e.logger.Debug("Action executed", "action", action.Name, "url", obs.URL)
	return obs, data, nil
}

func (e *ActionExecutor) dispatch(ctx context.Context, session output.BrowserSession, action entity.Action) (string, error) {
	args := action.Args
	switch action.Name {
	case entity.ActionNavigate:
		if err := session.Navigate(ctx, args.URL); err != nil {
			return "", err
		}
		return fmt.Sprintf("Navigated to %s", session.CurrentURL()), nil

	case entity.ActionClick:
		if err := session.Click(ctx, args.Selector); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked %s", args.Selector), nil

	case entity.ActionType:
		if err := session.Type(ctx, args.Selector, args.Text); err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed into %s", args.Selector), nil

	case entity.ActionPressEnter:
		if err := session.PressEnter(ctx); err != nil {
			return "", err
		}
		return "Pressed Enter", nil

	case entity.ActionScroll:
		amount := args.Amount
		if amount <= 0 {
			amount = 1
		}
		if err := session.Scroll(ctx, args.Direction, amount); err != nil {
			return "", err
		}
		return fmt.Sprintf("Scrolled %s", args.Direction), nil

	case entity.ActionExtractText:
		text, err := session.ExtractText(ctx, args.Selector)
		if err != nil {
			return "", err
		}
		return text, nil

	case entity.ActionWait:
		if args.Selector != "" {
			if err := session.WaitVisible(ctx, args.Selector); err != nil {
				return "", err
			}
			return fmt.Sprintf("Element %s is visible", args.Selector), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(args.Seconds * float64(time.Second))):
		}
		return fmt.Sprintf("Waited %.1fs", args.Seconds), nil

	case entity.ActionScreenshot:
		// Capture happens here only to confirm the page renders; the
		// runner persists per-step screenshots through the media store.
		if _, err := session.Screenshot(ctx); err != nil {
			return "", err
		}
		return "Screenshot captured", nil

	default:
		return "", &entity.UnsupportedActionError{Name: string(action.Name)}
	}
}

// wrap classifies an execution failure, marking timeout-class errors so
// the loop can apply its retry policy.
func (e *ActionExecutor) wrap(ctx context.Context, name entity.ActionName, err error) error {
	var unsupported *entity.UnsupportedActionError
	if errors.As(err, &unsupported) {
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &entity.ExecutionError{Action: name, Timeout: timeout, Err: err}
}
