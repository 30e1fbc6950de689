package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                      {}
func (nopLogger) Info(string, ...any)                       {}
func (nopLogger) Warn(string, ...any)                       {}
func (nopLogger) Error(string, ...any)                      {}
func (nopLogger) WithField(string, any) output.LoggerPort   { return nopLogger{} }
func (nopLogger) Close() error                              { return nil }

// scriptProvider replays a fixed sequence of replies and records every
// request it receives.
type scriptProvider struct {
	replies  []func(output.NextActionRequest) (*entity.Action, error)
	requests []output.NextActionRequest
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) NextAction(ctx context.Context, req output.NextActionRequest) (*entity.Action, error) {
	p.requests = append(p.requests, req)
	call := len(p.requests) - 1
	if call >= len(p.replies) {
		return nil, fmt.Errorf("unexpected provider call %d", call)
	}
	return p.replies[call](req)
}

type scriptFactory struct {
	provider output.ProviderPort
	err      error
}

func (f *scriptFactory) Provider(string) (output.ProviderPort, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

func (f *scriptFactory) DefaultName() string { return "script" }

type fakeSession struct {
	url          string
	extractText  string
	navigateErr  error
	clickErr     error
	clickCalls   int
	releaseCalls int
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if s.navigateErr != nil {
		return s.navigateErr
	}
	s.url = url
	return nil
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	s.clickCalls++
	return s.clickErr
}

func (s *fakeSession) Type(ctx context.Context, selector, text string) error { return nil }
func (s *fakeSession) PressEnter(ctx context.Context) error                  { return nil }
func (s *fakeSession) Scroll(ctx context.Context, direction string, amount int) error {
	return nil
}

func (s *fakeSession) ExtractText(ctx context.Context, selector string) (string, error) {
	return s.extractText, nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string) error { return nil }

func (s *fakeSession) Observe(ctx context.Context) (*entity.Observation, error) {
	return &entity.Observation{URL: s.url, Title: "page"}, nil
}

func (s *fakeSession) Screenshot(ctx context.Context) (*entity.Screenshot, error) {
	return &entity.Screenshot{Data: []byte{0xff}, Format: "jpeg"}, nil
}

func (s *fakeSession) CurrentURL() string { return s.url }
func (s *fakeSession) Release()           { s.releaseCalls++ }

type fakeManager struct {
	session    *fakeSession
	acquireErr error
}

func (m *fakeManager) Acquire(ctx context.Context, taskID string, opts output.SessionOptions) (output.BrowserSession, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	return m.session, nil
}

func (m *fakeManager) Close() {}

type memSink struct {
	steps    []entity.Step
	statuses []entity.TaskStatus
}

func (s *memSink) AppendStep(step entity.Step)          { s.steps = append(s.steps, step) }
func (s *memSink) SetStatus(status entity.TaskStatus)   { s.statuses = append(s.statuses, status) }

// ctrl drives cancellation and pause from the test. The sink pointer lets
// cancellation trigger after a given number of recorded steps.
type ctrl struct {
	sink        *memSink
	cancelAfter int
	pausedLeft  int
}

func (c *ctrl) Cancelled() bool {
	return c.cancelAfter > 0 && c.sink != nil && len(c.sink.steps) >= c.cancelAfter
}

func (c *ctrl) Paused() bool {
	if c.pausedLeft > 0 {
		c.pausedLeft--
		return true
	}
	return false
}

func navigateAction(url string) *entity.Action {
	return &entity.Action{
		Name: entity.ActionNavigate,
		Args: entity.ActionArgs{URL: url},
		Raw:  fmt.Sprintf(`{"url":%q}`, url),
	}
}

func reply(action *entity.Action) func(output.NextActionRequest) (*entity.Action, error) {
	return func(output.NextActionRequest) (*entity.Action, error) { return action, nil }
}

func newTestRunner(session *fakeSession, provider output.ProviderPort, cfg RunnerConfig) *TaskRunner {
	executor := NewActionExecutor(time.Second, nopLogger{})
	return NewTaskRunner(
		&fakeManager{session: session},
		&scriptFactory{provider: provider},
		executor,
		nil,
		nopLogger{},
		cfg,
	)
}

func TestRun_SucceedsAfterFinish(t *testing.T) {
	session := &fakeSession{extractText: "Example Domain"}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		reply(navigateAction("https://example.com")),
		reply(&entity.Action{
			Name: entity.ActionExtractText,
			Args: entity.ActionArgs{Selector: "h1"},
			Raw:  `{"selector":"h1"}`,
		}),
		reply(&entity.Action{
			Name: entity.ActionFinish,
			Args: entity.ActionArgs{Result: "Example Domain"},
			Raw:  `{"result":"Example Domain"}`,
		}),
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t1", Instruction: "read the heading"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (err=%v)", outcome.Status, outcome.Err)
	}
	if outcome.Result != "Example Domain" {
		t.Errorf("expected result from finish action, got %q", outcome.Result)
	}
	if len(sink.steps) != 3 {
		t.Fatalf("expected exactly 3 steps, got %d", len(sink.steps))
	}
	for i, step := range sink.steps {
		if step.Index != i {
			t.Errorf("step %d has index %d, ordinals must be contiguous", i, step.Index)
		}
		if !step.Outcome.Success {
			t.Errorf("step %d unexpectedly failed: %s", i, step.Outcome.Error)
		}
	}
	if sink.steps[1].Outcome.Data != "Example Domain" {
		t.Errorf("extract_text step should carry the extracted text, got %q", sink.steps[1].Outcome.Data)
	}
	if session.releaseCalls != 1 {
		t.Errorf("session must be released exactly once, got %d", session.releaseCalls)
	}
	// The transcript handed to the model grows step by step.
	if got := len(provider.requests[2].Steps); got != 2 {
		t.Errorf("third model request should carry 2 prior steps, got %d", got)
	}
}

func TestRun_UnsupportedActionRetriesOnceThenFails(t *testing.T) {
	session := &fakeSession{}
	unsupported := func(output.NextActionRequest) (*entity.Action, error) {
		return nil, &entity.UnsupportedActionError{Name: "hover"}
	}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		unsupported,
		unsupported,
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t2", Instruction: "do something"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonUnsupportedAction {
		t.Fatalf("expected failed/unsupported-action, got %s/%s", outcome.Status, outcome.Reason)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("expected exactly one corrective retry (2 calls), got %d", len(provider.requests))
	}
	if note := provider.requests[1].CorrectiveNote; !strings.Contains(note, "hover") {
		t.Errorf("corrective note should name the offending action, got %q", note)
	}
	if len(sink.steps) != 0 {
		t.Errorf("violations must not produce steps, got %d", len(sink.steps))
	}
	if session.releaseCalls != 1 {
		t.Errorf("session must be released on failure, got %d releases", session.releaseCalls)
	}
}

func TestRun_UnsupportedActionRecoversAfterCorrection(t *testing.T) {
	session := &fakeSession{}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		func(output.NextActionRequest) (*entity.Action, error) {
			return nil, &entity.UnsupportedActionError{Name: "drag"}
		},
		reply(navigateAction("https://example.com")),
		reply(&entity.Action{
			Name: entity.ActionFinish,
			Args: entity.ActionArgs{Result: "done"},
			Raw:  `{"result":"done"}`,
		}),
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t3", Instruction: "open the site"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusSucceeded {
		t.Fatalf("expected recovery after corrective retry, got %s", outcome.Status)
	}
	// The violation consumed no ordinal: recorded steps stay gapless.
	if len(sink.steps) != 2 || sink.steps[0].Index != 0 || sink.steps[1].Index != 1 {
		t.Errorf("expected gapless steps 0,1 got %+v", stepIndices(sink.steps))
	}
}

func TestRun_ActionTimeoutRetriedOnceThenFailsTask(t *testing.T) {
	session := &fakeSession{
		clickErr: fmt.Errorf("element wait: %w", context.DeadlineExceeded),
	}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		reply(navigateAction("https://example.com")),
		reply(&entity.Action{
			Name: entity.ActionClick,
			Args: entity.ActionArgs{Selector: "#missing"},
			Raw:  `{"selector":"#missing"}`,
		}),
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t4", Instruction: "click it"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonExecutionError {
		t.Fatalf("expected failed/execution-error, got %s/%s (err=%v)", outcome.Status, outcome.Reason, outcome.Err)
	}
	if session.clickCalls != 2 {
		t.Errorf("timed-out action should be retried exactly once, got %d attempts", session.clickCalls)
	}
	if len(sink.steps) != 2 {
		t.Fatalf("expected navigate step plus failed click step, got %d", len(sink.steps))
	}
	failed := sink.steps[1]
	if failed.Outcome.Success || failed.Outcome.Error == "" {
		t.Errorf("failed step must record the error, got %+v", failed.Outcome)
	}
	if session.releaseCalls != 1 {
		t.Errorf("session must be released after the failure, got %d releases", session.releaseCalls)
	}
}

func TestRun_NonTimeoutFailureFeedsBackToModel(t *testing.T) {
	session := &fakeSession{clickErr: errors.New("no element matches selector")}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		reply(&entity.Action{
			Name: entity.ActionClick,
			Args: entity.ActionArgs{Selector: "#gone"},
			Raw:  `{"selector":"#gone"}`,
		}),
		reply(&entity.Action{
			Name: entity.ActionFinish,
			Args: entity.ActionArgs{Result: "gave up on the button"},
			Raw:  `{"result":"gave up on the button"}`,
		}),
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t5", Instruction: "click"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusSucceeded {
		t.Fatalf("loop should continue past a selector failure, got %s", outcome.Status)
	}
	if len(sink.steps) != 2 {
		t.Fatalf("expected failed click plus finish, got %d steps", len(sink.steps))
	}
	if sink.steps[0].Outcome.Success {
		t.Error("click step should be recorded as failed")
	}
	// The next model request must see the failed step so it can adapt.
	second := provider.requests[1]
	if len(second.Steps) != 1 || second.Steps[0].Outcome.Success {
		t.Errorf("second request should carry the failed step, got %+v", second.Steps)
	}
}

func TestRun_StepLimitProducesExactlyMaxSteps(t *testing.T) {
	session := &fakeSession{}
	scroll := reply(&entity.Action{
		Name: entity.ActionScroll,
		Args: entity.ActionArgs{Direction: "down"},
		Raw:  `{"direction":"down"}`,
	})
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		scroll, scroll, scroll, scroll,
	}}
	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 3
	runner := newTestRunner(session, provider, cfg)
	sink := &memSink{}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t6", Instruction: "scroll forever"}, &ctrl{}, sink)

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonStepLimitExceeded {
		t.Fatalf("expected failed/step-limit-exceeded, got %s/%s", outcome.Status, outcome.Reason)
	}
	if len(sink.steps) != 3 {
		t.Errorf("a task with limit 3 must record exactly 3 steps, got %d", len(sink.steps))
	}
	if len(provider.requests) != 3 {
		t.Errorf("no model call may happen past the limit, got %d calls", len(provider.requests))
	}
}

func TestRun_PerTaskMaxStepsOverridesDefault(t *testing.T) {
	session := &fakeSession{}
	scroll := reply(&entity.Action{
		Name: entity.ActionScroll,
		Args: entity.ActionArgs{Direction: "down"},
		Raw:  `{"direction":"down"}`,
	})
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){scroll, scroll}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	spec := entity.TaskSpec{
		ID:          "t7",
		Instruction: "scroll",
		Options:     entity.TaskOptions{MaxSteps: 1},
	}
	outcome := runner.Run(context.Background(), spec, &ctrl{}, sink)

	if outcome.Reason != entity.ReasonStepLimitExceeded {
		t.Fatalf("expected step-limit-exceeded, got %s", outcome.Reason)
	}
	if len(sink.steps) != 1 {
		t.Errorf("per-task limit of 1 must yield 1 step, got %d", len(sink.steps))
	}
}

func TestRun_CancellationBetweenSteps(t *testing.T) {
	session := &fakeSession{}
	scroll := reply(&entity.Action{
		Name: entity.ActionScroll,
		Args: entity.ActionArgs{Direction: "down"},
		Raw:  `{"direction":"down"}`,
	})
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		scroll, scroll, scroll, scroll, scroll,
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}
	control := &ctrl{sink: sink, cancelAfter: 2}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t8", Instruction: "scroll"}, control, sink)

	if outcome.Status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", outcome.Status)
	}
	if len(sink.steps) != 2 {
		t.Errorf("no step may start after cancellation, got %d steps", len(sink.steps))
	}
	if session.releaseCalls != 1 {
		t.Errorf("session must be released on cancellation, got %d releases", session.releaseCalls)
	}
}

func TestRun_PauseHoldsLoopUntilResumed(t *testing.T) {
	session := &fakeSession{}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		reply(&entity.Action{
			Name: entity.ActionFinish,
			Args: entity.ActionArgs{Result: "ok"},
			Raw:  `{"result":"ok"}`,
		}),
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}
	control := &ctrl{pausedLeft: 1}

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t9", Instruction: "pause me"}, control, sink)

	if outcome.Status != entity.StatusSucceeded {
		t.Fatalf("expected succeeded after resume, got %s", outcome.Status)
	}
	want := []entity.TaskStatus{entity.StatusPaused, entity.StatusRunning}
	if len(sink.statuses) != 2 || sink.statuses[0] != want[0] || sink.statuses[1] != want[1] {
		t.Errorf("expected paused then running status reports, got %v", sink.statuses)
	}
}

func TestRun_DeadlineExceeded(t *testing.T) {
	session := &fakeSession{}
	provider := &scriptProvider{replies: []func(output.NextActionRequest) (*entity.Action, error){
		func(req output.NextActionRequest) (*entity.Action, error) {
			return nil, context.DeadlineExceeded
		},
	}}
	runner := newTestRunner(session, provider, DefaultRunnerConfig())
	sink := &memSink{}

	spec := entity.TaskSpec{
		ID:          "t10",
		Instruction: "slow task",
		Options:     entity.TaskOptions{Deadline: time.Nanosecond},
	}
	outcome := runner.Run(context.Background(), spec, &ctrl{}, sink)

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonDeadlineExceeded {
		t.Fatalf("expected failed/deadline-exceeded, got %s/%s", outcome.Status, outcome.Reason)
	}
	if session.releaseCalls > 1 {
		t.Errorf("release must stay idempotent, got %d calls", session.releaseCalls)
	}
}

func TestRun_AcquireFailureIsSessionError(t *testing.T) {
	provider := &scriptProvider{}
	executor := NewActionExecutor(time.Second, nopLogger{})
	runner := NewTaskRunner(
		&fakeManager{acquireErr: entity.ErrResourceExhausted},
		&scriptFactory{provider: provider},
		executor,
		nil,
		nopLogger{},
		DefaultRunnerConfig(),
	)

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t11", Instruction: "x"}, &ctrl{}, &memSink{})

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonSessionError {
		t.Fatalf("expected failed/session-error, got %s/%s", outcome.Status, outcome.Reason)
	}
	if len(provider.requests) != 0 {
		t.Errorf("no model call may happen without a session, got %d", len(provider.requests))
	}
}

func TestRun_UnknownProviderFailsTask(t *testing.T) {
	session := &fakeSession{}
	executor := NewActionExecutor(time.Second, nopLogger{})
	runner := NewTaskRunner(
		&fakeManager{session: session},
		&scriptFactory{err: errors.New(`unknown provider "claude"`)},
		executor,
		nil,
		nopLogger{},
		DefaultRunnerConfig(),
	)

	outcome := runner.Run(context.Background(), entity.TaskSpec{ID: "t12", Instruction: "x", Provider: "claude"}, &ctrl{}, &memSink{})

	if outcome.Status != entity.StatusFailed || outcome.Reason != entity.ReasonProviderError {
		t.Fatalf("expected failed/provider-error, got %s/%s", outcome.Status, outcome.Reason)
	}
	if session.releaseCalls != 0 {
		t.Errorf("no session is acquired when the provider is unknown")
	}
}

func stepIndices(steps []entity.Step) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.Index
	}
	return out
}
