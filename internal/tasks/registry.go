package tasks

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"solasola/internal/events"
	"solasola/internal/logging"
	"solasola/internal/services"
)

// DefaultCancelGrace is how long an attached process gets between SIGTERM
// and SIGKILL when its task is cancelled.
const DefaultCancelGrace = 5 * time.Second

// Process is an external process running on behalf of a task.
type Process interface {
	Terminate(grace time.Duration) error
}

// Options configures a Registry.
type Options struct {
	Store       Store
	Publisher   events.Publisher
	Logger      *slog.Logger
	CancelGrace time.Duration
	// BaseContext parents every task context. Cancelling it cancels all tasks.
	BaseContext context.Context
	Now         func() time.Time
}

type runtimeState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	process Process
}

// Registry owns task lifecycle transitions.
type Registry struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	grace     time.Duration
	base      context.Context
	now       func() time.Time

	mu      sync.Mutex
	runtime map[string]*runtimeState
}

// NewRegistry constructs a registry. A nil store gets a MemoryStore.
func NewRegistry(opts Options) *Registry {
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	grace := opts.CancelGrace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:     store,
		publisher: opts.Publisher,
		logger:    logging.NewComponentLogger(opts.Logger, "tasks"),
		grace:     grace,
		base:      base,
		now:       now,
		runtime:   make(map[string]*runtimeState),
	}
}

// CreateOption customizes a new task.
type CreateOption func(*Task)

// WithModelKey tags an install task with the model it installs.
func WithModelKey(key string) CreateOption {
	return func(t *Task) { t.ModelKey = strings.TrimSpace(key) }
}

// WithStep sets the initial current step message.
func WithStep(step string) CreateOption {
	return func(t *Task) { t.CurrentStep = step }
}

// Create registers a new task in the starting state.
func (r *Registry) Create(kind Kind, opts ...CreateOption) *Task {
	if kind == "" {
		kind = KindProcessing
	}
	now := r.now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      StatusStarting,
		CurrentStep: "Initializing...",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(task)
	}
	if err := r.store.Create(task); err != nil {
		r.logger.Error("task create failed", logging.Error(err))
	}

	ctx, cancel := context.WithCancel(services.WithTaskID(r.base, task.ID))
	r.mu.Lock()
	r.runtime[task.ID] = &runtimeState{ctx: ctx, cancel: cancel}
	r.mu.Unlock()

	r.logger.Info("task created",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("kind", string(kind)),
		logging.String(logging.FieldEventType, "task_created"),
	)
	r.publish(task)
	return task.Clone()
}

// Context returns the cancellation context for a task. Unknown ids get an
// already-cancelled context.
func (r *Registry) Context(id string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runtime[id]; ok {
		return state.ctx
	}
	ctx, cancel := context.WithCancel(r.base)
	cancel()
	return ctx
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (*Task, bool) {
	return r.store.Get(id)
}

// List returns snapshots of every task, oldest first.
func (r *Registry) List() []*Task {
	return r.store.List()
}

// UpdateStatus sets overall progress and the current step message directly.
func (r *Registry) UpdateStatus(id string, progress float64, step string) {
	r.mutate(id, func(t *Task) {
		if t.Status == StatusStarting {
			t.Status = StatusRunning
		}
		t.Progress = clampPercent(progress)
		if step != "" {
			t.CurrentStep = step
		}
	})
}

// UpdateDetailed records layout-relative progress. The first update moves
// the task from starting to running.
func (r *Registry) UpdateDetailed(id string, stage, subStage int, percent float64, step string) {
	r.mutate(id, func(t *Task) {
		if t.Status.Terminal() {
			return
		}
		if t.Status == StatusStarting {
			t.Status = StatusRunning
		}
		t.Details = Details{Stage: stage, SubStage: subStage, SubStagePercent: clampPercent(percent)}
		if len(t.Layout) > 0 {
			t.Progress = t.Layout.Progress(t.Details)
		}
		if step != "" {
			t.CurrentStep = step
		}
	})
}

// SetLayout installs the progress layout for a task.
func (r *Registry) SetLayout(id string, layout Layout) {
	r.mutate(id, func(t *Task) {
		t.Layout = append(Layout(nil), layout...)
	})
}

// LogToUI appends a user-facing message. It never fails; unknown ids are ignored.
func (r *Registry) LogToUI(id, message, icon string, severity Severity, audience Audience) {
	if severity == "" {
		severity = SeverityInfo
	}
	if audience == "" {
		audience = AudienceBoth
	}
	entry := LogEntry{
		Message:  message,
		Icon:     icon,
		Severity: severity,
		Audience: audience,
		Time:     r.now().UTC(),
	}
	r.mutate(id, func(t *Task) {
		t.UILogs = append(t.UILogs, entry)
	})
}

// AttachProcess records the external process currently working for a task.
// A task cancelled before the attach terminates the process immediately.
func (r *Registry) AttachProcess(id string, proc Process) {
	if proc == nil {
		return
	}
	r.mu.Lock()
	state, ok := r.runtime[id]
	if ok {
		state.process = proc
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if task, found := r.store.Get(id); found && task.CancelRequested {
		go r.terminate(id, proc)
	}
}

// DetachProcess clears the attached process.
func (r *Registry) DetachProcess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runtime[id]; ok {
		state.process = nil
	}
}

// RequestCancel flags the task, cancels its context, and terminates any
// attached process. Terminal tasks are left untouched.
func (r *Registry) RequestCancel(id string) error {
	var terminal bool
	_, ok := r.mutateResult(id, func(t *Task) {
		if t.Status.Terminal() {
			terminal = true
			return
		}
		t.CancelRequested = true
		t.CurrentStep = "Cancellation requested..."
	})
	if !ok {
		return services.Wrap(services.ErrNotFound, "tasks", "cancel", "unknown task "+id, nil)
	}
	if terminal {
		return nil
	}

	r.mu.Lock()
	state := r.runtime[id]
	var proc Process
	if state != nil {
		proc = state.process
		state.cancel()
	}
	r.mu.Unlock()

	r.logger.Info("task cancellation requested",
		logging.String(logging.FieldTaskID, id),
		logging.Bool("process_attached", proc != nil),
		logging.String(logging.FieldEventType, "task_cancel_requested"),
	)
	if proc != nil {
		go r.terminate(id, proc)
	}
	return nil
}

func (r *Registry) terminate(id string, proc Process) {
	if err := proc.Terminate(r.grace); err != nil {
		logging.WarnWithContext(r.logger, "terminate attached process failed", "task_cancel_terminate",
			logging.String(logging.FieldTaskID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "external stage may keep running until it exits"),
		)
	}
}

// CheckCancelled returns ErrCancelled when the task was flagged or ctx is done.
func (r *Registry) CheckCancelled(ctx context.Context, id string) error {
	if ctx != nil && ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, "tasks", "check", "task cancelled", ctx.Err())
	}
	if task, ok := r.store.Get(id); ok && task.CancelRequested {
		return services.Wrap(services.ErrCancelled, "tasks", "check", "task cancelled by user", nil)
	}
	return nil
}

// Complete marks a task as finished successfully. A task whose
// cancellation was requested ends as cancelled instead, and a task that is
// already terminal is left as it is. It reports whether the task completed.
func (r *Registry) Complete(id string, results map[string]any) bool {
	completed := false
	r.finish(id, func(t *Task) {
		switch {
		case t.Status.Terminal():
			return
		case t.CancelRequested:
			t.Status = StatusCancelled
			t.CurrentStep = "Cancelled by user."
			return
		}
		t.Status = StatusCompleted
		t.Progress = 100
		t.CurrentStep = "Processing complete!"
		t.Results = results
		t.Error = ""
		completed = true
	})
	return completed
}

// Fail marks a task as failed with a user-facing message.
func (r *Registry) Fail(id, message string) {
	r.finish(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = strings.TrimSpace(message)
		t.CurrentStep = "Failed"
	})
}

// MarkCancelled marks a task as cancelled.
func (r *Registry) MarkCancelled(id string) {
	r.finish(id, func(t *Task) {
		t.Status = StatusCancelled
		t.CancelRequested = true
		t.CurrentStep = "Cancelled by user."
	})
}

// RunningInstalls returns the model keys of install tasks that have not
// reached a terminal state.
func (r *Registry) RunningInstalls() map[string]string {
	out := make(map[string]string)
	for _, task := range r.store.List() {
		if task.Kind == KindInstall && !task.Status.Terminal() && task.ModelKey != "" {
			out[task.ModelKey] = task.ID
		}
	}
	return out
}

func (r *Registry) finish(id string, mutate func(*Task)) {
	task, ok := r.mutateResult(id, mutate)
	r.releaseRuntime(id)
	if !ok {
		return
	}
	r.logger.Info("task finished",
		logging.String(logging.FieldTaskID, id),
		logging.String("status", string(task.Status)),
		logging.String(logging.FieldEventType, "task_finished"),
	)
}

func (r *Registry) releaseRuntime(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runtime[id]; ok {
		state.process = nil
		state.cancel()
	}
}

func (r *Registry) mutate(id string, fn func(*Task)) {
	r.mutateResult(id, fn)
}

func (r *Registry) mutateResult(id string, fn func(*Task)) (*Task, bool) {
	now := r.now().UTC()
	task, ok := r.store.Update(id, func(t *Task) {
		fn(t)
		t.UpdatedAt = now
	})
	if ok {
		r.publish(task)
	}
	return task, ok
}

func (r *Registry) publish(task *Task) {
	if r.publisher == nil || task == nil {
		return
	}
	r.publisher.Broadcast(events.Event{
		Type:   events.TypeTaskUpdate,
		TaskID: task.ID,
		Payload: map[string]any{
			"kind":         string(task.Kind),
			"status":       string(task.Status),
			"progress":     task.Progress,
			"current_step": task.CurrentStep,
			"model_key":    task.ModelKey,
		},
	})
}

func clampPercent(value float64) float64 {
	return min(max(value, 0), 100)
}
