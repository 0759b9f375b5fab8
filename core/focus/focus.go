package focus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

// DefaultMaxSteps bounds how many steps a decomposition may produce.
const DefaultMaxSteps = 5

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Step is a single unit of a decomposed task.
type Step struct {
	ID          string
	Description string
	Status      Status
	Result      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Task is a complex goal handled outside the execution agent's task slot.
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Status      Status
	Steps       []Step
	Result      string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Progress reports the share of completed steps as a percentage.
func (t *Task) Progress() float64 {
	if len(t.Steps) == 0 {
		return 0
	}
	completed := 0
	for _, step := range t.Steps {
		if step.Status == StatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(t.Steps)) * 100
}

// StepSpec is one planned step as produced by the decomposition prompt.
type StepSpec struct {
	ID          string
	Description string
}

// ParseSteps extracts the decomposition plan from a parsed model reply.
// Numeric and missing step ids are normalized, blank steps are skipped.
func ParseSteps(parsed map[string]interface{}) []StepSpec {
	raw, ok := parsed["steps"].([]interface{})
	if !ok {
		return nil
	}

	var steps []StepSpec
	for i, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		description, _ := entry["description"].(string)
		if strings.TrimSpace(description) == "" {
			continue
		}

		id := ""
		switch v := entry["id"].(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("step_%d", int(v))
		}
		if id == "" {
			id = fmt.Sprintf("step_%d", i+1)
		}

		steps = append(steps, StepSpec{ID: id, Description: description})
	}
	return steps
}

// Module tracks decomposed tasks and their step lifecycles. It never blocks
// the execution agent: callers hand it a plan and poll steps at their own
// pace.
type Module struct {
	mu             sync.Mutex
	maxSteps       int
	tasks          map[string]*Task
	order          []string
	onStepComplete func(*Task, *Step)
	onTaskComplete func(*Task)
	logger         *slog.Logger
	now            func() time.Time
}

type Option func(*Module)

func WithMaxSteps(n int) Option {
	return func(m *Module) {
		if n > 0 {
			m.maxSteps = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Module) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

func New(opts ...Option) *Module {
	m := &Module{
		maxSteps: DefaultMaxSteps,
		tasks:    map[string]*Task{},
		logger:   xlog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxSteps returns the per-task step bound.
func (m *Module) MaxSteps() int {
	return m.maxSteps
}

// CreateTask registers a new task in pending state and returns a snapshot.
func (m *Module) CreateTask(title, description string, priority Priority) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	task := &Task{
		ID:          "focus_" + uuid.New().String(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		CreatedAt:   m.now(),
	}
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)

	m.logger.Info("focus task created", "id", task.ID, "title", title)
	return snapshot(task)
}

// Decompose attaches the planned steps to a task. Plans longer than the step
// bound are trimmed.
func (m *Module) Decompose(taskID string, steps []StepSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}

	if len(steps) > m.maxSteps {
		m.logger.Warn("trimming oversized plan", "id", taskID, "steps", len(steps), "max", m.maxSteps)
		steps = steps[:m.maxSteps]
	}

	for _, spec := range steps {
		task.Steps = append(task.Steps, Step{
			ID:          spec.ID,
			Description: spec.Description,
			Status:      StatusPending,
		})
	}

	m.logger.Info("focus task decomposed", "id", taskID, "steps", len(steps))
	return nil
}

// StartTask marks a task as in progress.
func (m *Module) StartTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}

	task.Status = StatusInProgress
	task.StartedAt = m.now()
	m.logger.Info("focus task started", "id", taskID, "title", task.Title)
	return nil
}

// NextStep claims the first pending step, marking it in progress. Returns nil
// when no pending step remains.
func (m *Module) NextStep(taskID string) *Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil
	}

	for i := range task.Steps {
		if task.Steps[i].Status == StatusPending {
			task.Steps[i].Status = StatusInProgress
			task.Steps[i].StartedAt = m.now()
			step := task.Steps[i]
			return &step
		}
	}
	return nil
}

// CompleteStep records a step outcome. A non-empty errMsg fails the step.
// When every step has finished the task is closed and its results aggregated.
func (m *Module) CompleteStep(taskID, stepID, result, errMsg string) *Step {
	m.mu.Lock()

	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	var completed *Step
	for i := range task.Steps {
		if task.Steps[i].ID != stepID {
			continue
		}
		task.Steps[i].CompletedAt = m.now()
		task.Steps[i].Result = result
		task.Steps[i].Error = errMsg
		if errMsg != "" {
			task.Steps[i].Status = StatusFailed
		} else {
			task.Steps[i].Status = StatusCompleted
		}
		step := task.Steps[i]
		completed = &step
		break
	}

	if completed == nil {
		m.mu.Unlock()
		return nil
	}

	m.logger.Info("focus step completed", "task", taskID, "step", stepID, "status", completed.Status)
	taskDone := m.checkCompletion(task)

	stepCb := m.onStepComplete
	taskCb := m.onTaskComplete
	taskCopy := snapshot(task)
	m.mu.Unlock()

	if stepCb != nil {
		stepCb(taskCopy, completed)
	}
	if taskDone && taskCb != nil {
		taskCb(taskCopy)
	}
	return completed
}

// checkCompletion closes the task once no step is pending or running.
// Callers hold the lock.
func (m *Module) checkCompletion(task *Task) bool {
	if len(task.Steps) == 0 {
		return false
	}

	failed := false
	for _, step := range task.Steps {
		switch step.Status {
		case StatusFailed:
			failed = true
		case StatusCompleted:
		default:
			return false
		}
	}

	if failed {
		task.Status = StatusFailed
	} else {
		task.Status = StatusCompleted
	}
	task.CompletedAt = m.now()
	task.Result = aggregateResults(task)

	m.logger.Info("focus task finished", "id", task.ID, "status", task.Status)
	return true
}

func aggregateResults(task *Task) string {
	var results []string
	for _, step := range task.Steps {
		if step.Result != "" {
			results = append(results, fmt.Sprintf("[%s] %s", step.ID, step.Result))
		} else if step.Error != "" {
			results = append(results, fmt.Sprintf("[%s] ERROR: %s", step.ID, step.Error))
		}
	}
	return strings.Join(results, "\n")
}

// Task returns a snapshot of one task.
func (m *Module) Task(taskID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	return snapshot(task), true
}

// ActiveTasks lists the in-progress tasks in creation order.
func (m *Module) ActiveTasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*Task
	for _, id := range m.order {
		if task := m.tasks[id]; task != nil && task.Status == StatusInProgress {
			active = append(active, snapshot(task))
		}
	}
	return active
}

// Summary renders a human-readable status report for one task.
func (m *Module) Summary(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return "Task not found"
	}

	lines := []string{
		fmt.Sprintf("Task: %s", task.Title),
		fmt.Sprintf("Status: %s", task.Status),
		fmt.Sprintf("Progress: %.1f%%", task.Progress()),
		fmt.Sprintf("Steps: %d", len(task.Steps)),
	}
	for _, step := range task.Steps {
		lines = append(lines, fmt.Sprintf("  [%s] %s: %s", step.Status, step.ID, step.Description))
	}
	return strings.Join(lines, "\n")
}

// CancelTask aborts a task that has not finished yet.
func (m *Module) CancelTask(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status == StatusCompleted || task.Status == StatusFailed {
		return false
	}

	task.Status = StatusCancelled
	task.CompletedAt = m.now()
	m.logger.Info("focus task cancelled", "id", taskID, "title", task.Title)
	return true
}

// ClearCompleted drops finished tasks and reports how many were removed.
func (m *Module) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []string
	removed := 0
	for _, id := range m.order {
		task := m.tasks[id]
		if task == nil {
			continue
		}
		switch task.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			delete(m.tasks, id)
			removed++
		default:
			kept = append(kept, id)
		}
	}
	m.order = kept
	return removed
}

// OnStepComplete registers a callback fired after each finished step.
func (m *Module) OnStepComplete(fn func(*Task, *Step)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStepComplete = fn
}

// OnTaskComplete registers a callback fired when a task closes.
func (m *Module) OnTaskComplete(fn func(*Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTaskComplete = fn
}

func snapshot(task *Task) *Task {
	copied := *task
	copied.Steps = append([]Step(nil), task.Steps...)
	return &copied
}
