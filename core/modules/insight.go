package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

const (
	insightSource     = "insight"
	insightImportance = 0.85

	// DefaultInsightThreshold is the relevance bar for recalling a solution.
	DefaultInsightThreshold = 0.6
)

// Store is the slice of the memory matrix the background modules use.
type Store interface {
	Save(ctx context.Context, text, source string, importance float64, metadata map[string]string) (string, error)
	Search(ctx context.Context, query string, threshold float64, maxResults int) ([]memory.SearchResult, error)
}

// Thinker produces a completion for one prompt.
type Thinker func(ctx context.Context, prompt string) (string, error)

type InsightStatus string

const (
	InsightPending    InsightStatus = "pending"
	InsightProcessing InsightStatus = "processing"
	InsightSolved     InsightStatus = "solved"
	InsightFailed     InsightStatus = "failed"
)

// InsightTask is a problem submitted for background solving.
type InsightTask struct {
	ID        string
	Problem   string
	Context   string
	Status    InsightStatus
	Solution  string
	Error     string
	Priority  int
	CreatedAt time.Time
	SolvedAt  time.Time
}

// InsightModule mulls over submitted problems in the background and saves the
// solutions to memory, so recalling the problem later surfaces the answer.
type InsightModule struct {
	mu        sync.Mutex
	memory    Store
	think     Thinker
	delay     time.Duration
	tasks     map[string]*InsightTask
	queue     chan string
	pending   []string
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onInsight func(InsightTask)
	logger    *slog.Logger
	now       func() time.Time
}

type InsightOption func(*InsightModule)

func WithInsightMemory(store Store) InsightOption {
	return func(m *InsightModule) { m.memory = store }
}

func WithInsightThinker(think Thinker) InsightOption {
	return func(m *InsightModule) { m.think = think }
}

// WithProcessingDelay sets the pause before a problem is worked on.
func WithProcessingDelay(d time.Duration) InsightOption {
	return func(m *InsightModule) { m.delay = d }
}

func WithInsightLogger(l *slog.Logger) InsightOption {
	return func(m *InsightModule) { m.logger = l }
}

func WithInsightClock(now func() time.Time) InsightOption {
	return func(m *InsightModule) { m.now = now }
}

func NewInsight(opts ...InsightOption) *InsightModule {
	m := &InsightModule{
		delay:  2 * time.Second,
		tasks:  map[string]*InsightTask{},
		queue:  make(chan string, 64),
		logger: xlog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetThinker replaces the solving callback.
func (m *InsightModule) SetThinker(think Thinker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.think = think
}

// OnInsight registers a callback fired when a problem gets solved.
func (m *InsightModule) OnInsight(fn func(InsightTask)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInsight = fn
}

func (m *InsightModule) generateID(problem string) string {
	content := m.now().Format(time.RFC3339Nano) + ":" + clipRunes(problem, 100)
	sum := sha256.Sum256([]byte(content))
	return "insight_" + hex.EncodeToString(sum[:])[:12]
}

// SubmitProblem queues a problem for background solving and returns its id.
// Problems submitted before Start are held and queued on startup.
func (m *InsightModule) SubmitProblem(problem, contextText string, priority int) string {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	m.mu.Lock()
	task := &InsightTask{
		ID:        m.generateID(problem),
		Problem:   problem,
		Context:   contextText,
		Status:    InsightPending,
		Priority:  priority,
		CreatedAt: m.now(),
	}
	m.tasks[task.ID] = task
	running := m.running
	if !running {
		m.pending = append(m.pending, task.ID)
	}
	m.mu.Unlock()

	if running {
		m.enqueue(task.ID)
	}

	m.logger.Info("problem submitted", "id", task.ID, "problem", clip(problem, 50))
	return task.ID
}

func (m *InsightModule) enqueue(id string) {
	select {
	case m.queue <- id:
	default:
		m.logger.Warn("insight queue full, dropping problem", "id", id)
	}
}

// Start launches the background processor. Idempotent.
func (m *InsightModule) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, id := range pending {
		m.enqueue(id)
	}

	m.wg.Add(1)
	go m.process(ctx)
	m.logger.Info("insight processor started")
}

// Stop halts the background processor and waits for it to exit.
func (m *InsightModule) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("insight processor stopped")
}

func (m *InsightModule) process(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.mu.Lock()
			task, ok := m.tasks[id]
			pending := ok && task.Status == InsightPending
			m.mu.Unlock()
			if !pending {
				continue
			}

			if m.delay > 0 {
				timer := time.NewTimer(m.delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			m.solve(ctx, id)
		}
	}
}

func (m *InsightModule) solve(ctx context.Context, id string) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	task.Status = InsightProcessing
	problem := task.Problem
	contextText := task.Context
	think := m.think
	m.mu.Unlock()

	if think == nil {
		m.logger.Warn("no thinker set, recording placeholder", "id", id)
		m.finish(ctx, id, fmt.Sprintf("[Pending human insight for: %s]", clip(problem, 100)), false)
		return
	}

	prompt, err := prompts.Render("insight_solve", prompts.InsightSolveTemplate, prompts.InsightData{
		Problem: problem,
		Context: contextText,
	})
	if err != nil {
		m.fail(id, err)
		return
	}

	solution, err := think(ctx, prompt)
	if err != nil {
		m.fail(id, err)
		return
	}

	m.finish(ctx, id, solution, true)
	m.logger.Info("problem solved", "id", id, "problem", clip(problem, 50))
}

func (m *InsightModule) fail(id string, err error) {
	m.mu.Lock()
	if task, ok := m.tasks[id]; ok {
		task.Status = InsightFailed
		task.Error = err.Error()
	}
	m.mu.Unlock()
	m.logger.Error("problem solving failed", "id", id, "error", err)
}

// finish marks a task solved, persists the solution, and (for genuine
// solutions) notifies the callback.
func (m *InsightModule) finish(ctx context.Context, id, solution string, notify bool) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	task.Solution = solution
	task.Status = InsightSolved
	task.SolvedAt = m.now()
	snapshot := *task
	cb := m.onInsight
	m.mu.Unlock()

	m.saveInsight(ctx, snapshot)

	if notify && cb != nil {
		cb(snapshot)
	}
}

func (m *InsightModule) saveInsight(ctx context.Context, task InsightTask) {
	if m.memory == nil || task.Solution == "" {
		return
	}

	text := fmt.Sprintf("[INSIGHT] Problem: %s Solution: %s", clip(task.Problem, 100), clipRunes(task.Solution, 500))
	_, err := m.memory.Save(ctx, text, insightSource, insightImportance, map[string]string{
		"type":      "insight",
		"task_id":   task.ID,
		"priority":  strconv.Itoa(task.Priority),
		"solved_at": task.SolvedAt.Format(time.RFC3339),
	})
	if err != nil {
		m.logger.Error("failed to save insight", "id", task.ID, "error", err)
		return
	}
	m.logger.Debug("insight saved", "id", task.ID)
}

// CheckInsight looks for a previously solved problem matching the query. The
// eureka effect: recalling a problem surfaces its stored solution.
func (m *InsightModule) CheckInsight(ctx context.Context, query string, threshold float64) string {
	if m.memory == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, task := range m.tasks {
			if task.Status == InsightSolved && task.Solution != "" &&
				strings.Contains(strings.ToLower(task.Problem), strings.ToLower(query)) {
				return task.Solution
			}
		}
		return ""
	}

	results, err := m.memory.Search(ctx, query, threshold, 3)
	if err != nil {
		m.logger.Error("insight lookup failed", "error", err)
		return ""
	}

	for _, result := range results {
		if result.Entry.Source != insightSource {
			continue
		}
		if idx := strings.Index(result.Entry.Text, "Solution:"); idx >= 0 {
			return strings.TrimSpace(result.Entry.Text[idx+len("Solution:"):])
		}
		return result.Entry.Text
	}
	return ""
}

// PendingCount reports how many problems still await a solution.
func (m *InsightModule) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, task := range m.tasks {
		if task.Status == InsightPending || task.Status == InsightProcessing {
			count++
		}
	}
	return count
}

// SolvedCount reports how many problems have been solved.
func (m *InsightModule) SolvedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, task := range m.tasks {
		if task.Status == InsightSolved {
			count++
		}
	}
	return count
}

// Task returns a snapshot of one task.
func (m *InsightModule) Task(id string) (InsightTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return InsightTask{}, false
	}
	return *task, true
}

// Insights lists all solved tasks.
func (m *InsightModule) Insights() []InsightTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	var solved []InsightTask
	for _, task := range m.tasks {
		if task.Status == InsightSolved {
			solved = append(solved, *task)
		}
	}
	return solved
}

// ClearSolved drops solved and failed tasks, reporting how many were removed.
func (m *InsightModule) ClearSolved() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, task := range m.tasks {
		if task.Status == InsightSolved || task.Status == InsightFailed {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
