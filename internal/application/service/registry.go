package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"browser-bridge/internal/application/port/input"
	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

// BackpressurePolicy decides what Submit does when every running slot is
// taken.
type BackpressurePolicy string

const (
	// PolicyQueue keeps excess submissions queued in FIFO order.
	PolicyQueue BackpressurePolicy = "queue"
	// PolicyReject fails excess submissions with ErrResourceExhausted.
	PolicyReject BackpressurePolicy = "reject"
)

type RegistryConfig struct {
	MaxRunning   int
	Backpressure BackpressurePolicy
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{MaxRunning: 4, Backpressure: PolicyQueue}
}

// TaskRegistry accepts task submissions, enforces the global concurrency
// limit, and tracks task lifecycle. It is the single synchronization
// point for the task table: the owning loop writes through the sink
// methods, readers get deep-copied snapshots.
type TaskRegistry struct {
	mu      sync.Mutex
	tasks   map[string]*taskEntry
	order   []string
	queue   []string
	running int

	runner input.TaskRunner
	store  output.TaskStore
	logger output.LoggerPort
	cfg    RegistryConfig

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

type taskEntry struct {
	task            *entity.Task
	cancelRequested atomic.Bool
	pauseRequested  atomic.Bool
}

var _ input.TaskService = (*TaskRegistry)(nil)

func NewTaskRegistry(runner input.TaskRunner, store output.TaskStore, logger output.LoggerPort, cfg RegistryConfig) *TaskRegistry {
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = DefaultRegistryConfig().MaxRunning
	}
	if cfg.Backpressure == "" {
		cfg.Backpressure = PolicyQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &TaskRegistry{
		tasks:   make(map[string]*taskEntry),
		runner:  runner,
		store:   store,
		logger:  logger,
		cfg:     cfg,
		baseCtx: ctx,
		stop:    cancel,
	}
	r.restore()
	return r
}

// restore loads persisted tasks so history survives a restart. Tasks that
// were in flight when the previous process died are marked failed; their
// browser sessions are gone and cannot be resumed.
func (r *TaskRegistry) restore() {
	if r.store == nil {
		return
	}
	tasks, err := r.store.LoadAll(r.baseCtx)
	if err != nil {
		r.logger.Warn("Failed to restore persisted tasks", "error", err)
		return
	}
	now := time.Now()
	for _, t := range tasks {
		if !t.Status.Terminal() {
			t.Status = entity.StatusFailed
			t.Reason = entity.ReasonInterrupted
			t.Error = "interrupted by service restart"
			finished := now
			t.FinishedAt = &finished
			if err := r.store.Save(r.baseCtx, t); err != nil {
				r.logger.Warn("Failed to persist interrupted task", "task", t.ID, "error", err)
			}
		}
		r.tasks[t.ID] = &taskEntry{task: t}
		r.order = append(r.order, t.ID)
	}
	if len(tasks) > 0 {
		r.logger.Info("Restored persisted tasks", "count", len(tasks))
	}
}

func (r *TaskRegistry) Submit(ctx context.Context, req input.SubmitRequest) (*entity.Task, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return nil, entity.ErrEmptyInstruction
	}

	task := &entity.Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Provider:    req.Provider,
		Status:      entity.StatusQueued,
		Options:     req.Options,
		CreatedAt:   time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, entity.ErrResourceExhausted
	}
	if r.cfg.Backpressure == PolicyReject && r.running >= r.cfg.MaxRunning {
		return nil, entity.ErrResourceExhausted
	}

	r.tasks[task.ID] = &taskEntry{task: task}
	r.order = append(r.order, task.ID)
	r.queue = append(r.queue, task.ID)
	r.persistLocked(task)
	r.logger.Info("Task submitted", "task", task.ID, "provider", req.Provider)

	r.dispatchLocked()
	return task.Snapshot(), nil
}

// dispatchLocked starts queued tasks while running slots are free.
// Callers must hold r.mu.
func (r *TaskRegistry) dispatchLocked() {
	for r.running < r.cfg.MaxRunning && len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		entry, ok := r.tasks[id]
		if !ok || entry.task.Status != entity.StatusQueued {
			continue
		}
		r.running++
		started := time.Now()
		entry.task.Status = entity.StatusRunning
		entry.task.StartedAt = &started
		r.persistLocked(entry.task)

		r.wg.Add(1)
		go r.runTask(entry)
	}
}

func (r *TaskRegistry) runTask(entry *taskEntry) {
	defer r.wg.Done()

	spec := entity.TaskSpec{
		ID:          entry.task.ID,
		Instruction: entry.task.Instruction,
		Provider:    entry.task.Provider,
		Options:     entry.task.Options,
	}
	outcome := r.runner.Run(r.baseCtx, spec, entry, &runSink{registry: r, id: spec.ID})

	r.mu.Lock()
	defer r.mu.Unlock()
	task := entry.task
	if !task.Status.Terminal() {
		task.Status = outcome.Status
		task.Result = outcome.Result
		task.Reason = outcome.Reason
		if outcome.Err != nil {
			task.Error = outcome.Err.Error()
		}
		finished := time.Now()
		task.FinishedAt = &finished
		r.persistLocked(task)
	}
	r.logger.Info("Task finished", "task", task.ID, "status", task.Status, "reason", task.Reason, "steps", len(task.Steps))

	r.running--
	r.dispatchLocked()
}

func (r *TaskRegistry) Status(id string) (*entity.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok {
		return nil, entity.ErrTaskNotFound
	}
	return entry.task.Snapshot(), nil
}

// List returns snapshots of all known tasks, most recent first.
func (r *TaskRegistry) List() []*entity.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*entity.Task, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if entry, ok := r.tasks[r.order[i]]; ok {
			result = append(result, entry.task.Snapshot())
		}
	}
	return result
}

// Cancel removes a queued task directly; on a running task it sets the
// cooperative cancellation flag, which the loop honors at the next safe
// point. Cancelling a terminal task is a no-op.
func (r *TaskRegistry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok {
		return entity.ErrTaskNotFound
	}
	task := entry.task
	switch {
	case task.Status.Terminal():
		return nil
	case task.Status == entity.StatusQueued:
		r.removeFromQueueLocked(id)
		task.Status = entity.StatusCancelled
		finished := time.Now()
		task.FinishedAt = &finished
		r.persistLocked(task)
		r.logger.Info("Queued task cancelled", "task", id)
	default:
		entry.cancelRequested.Store(true)
		r.logger.Info("Cancellation requested", "task", id)
	}
	return nil
}

// Pause requests a cooperative pause; only running tasks can be paused.
func (r *TaskRegistry) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok {
		return entity.ErrTaskNotFound
	}
	if entry.task.Status != entity.StatusRunning {
		return entity.ErrInvalidTransition
	}
	entry.pauseRequested.Store(true)
	return nil
}

func (r *TaskRegistry) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok {
		return entity.ErrTaskNotFound
	}
	status := entry.task.Status
	if status != entity.StatusPaused && status != entity.StatusRunning {
		return entity.ErrInvalidTransition
	}
	entry.pauseRequested.Store(false)
	return nil
}

// Shutdown stops accepting submissions and waits for in-flight tasks.
func (r *TaskRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.stop()
		<-done
	}
	r.stop()
	return ctx.Err()
}

func (r *TaskRegistry) removeFromQueueLocked(id string) {
	for i, queued := range r.queue {
		if queued == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

func (r *TaskRegistry) persistLocked(task *entity.Task) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(r.baseCtx, task.Snapshot()); err != nil {
		r.logger.Warn("Failed to persist task", "task", task.ID, "error", err)
	}
}

// taskEntry implements input.RunControl for its own task.
func (e *taskEntry) Cancelled() bool { return e.cancelRequested.Load() }
func (e *taskEntry) Paused() bool    { return e.pauseRequested.Load() }

// runSink routes the runner's progress reports back through the registry
// lock, keeping the task table single-writer.
type runSink struct {
	registry *TaskRegistry
	id       string
}

var _ input.RunSink = (*runSink)(nil)

func (s *runSink) AppendStep(step entity.Step) {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[s.id]
	if !ok || entry.task.Status.Terminal() {
		return
	}
	entry.task.Steps = append(entry.task.Steps, step)
}

func (s *runSink) SetStatus(status entity.TaskStatus) {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[s.id]
	if !ok || entry.task.Status.Terminal() || status.Terminal() {
		return
	}
	entry.task.Status = status
}
