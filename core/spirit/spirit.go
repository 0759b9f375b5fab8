package spirit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/pkg/llm"
)

const (
	// DefaultInterval bounds how long one tick blocks waiting for a signal.
	DefaultInterval = 3 * time.Second

	// FreshnessWindow is the age past which a signal is flagged as stale:
	// the prompt then steers towards a wait command instead of a duplicate
	// reply.
	FreshnessWindow = 5 * time.Second

	rememberImportance = 0.8
	memoryDigestSize   = 5
	minRememberLength  = 5
)

// State tags what the Deliberation Agent is doing right now.
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
)

// Memory is the slice of the memory matrix the Deliberation Agent uses:
// immediate writes for remember commands and a relevance digest per signal.
type Memory interface {
	Save(ctx context.Context, text, source string, importance float64, metadata map[string]string) (string, error)
	AutoSearch(ctx context.Context, contextText string, maxResults int) ([]memory.SearchResult, error)
}

// Compressor keeps the conversation history under the token budget.
type Compressor interface {
	NeedsReduction(messages []openai.ChatCompletionMessage) bool
	Reduce(ctx context.Context, messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage
}

// Spirit is the Deliberation Agent: it consumes signals one per tick, thinks,
// and turns the structured thought into memory writes and commands for the
// Execution Agent. It never executes anything itself.
type Spirit struct {
	requester  *llm.Requester
	memory     Memory
	compressor Compressor
	signals    *types.SignalQueue
	commands   *types.CommandQueue

	interval        time.Duration
	freshnessWindow time.Duration
	narrativeSize   int

	mu          sync.Mutex
	state       State
	narrative   []string
	lastThought *types.Thought
	onThought   []func(types.Thought)
	running     bool
	cancel      context.CancelFunc

	wg     sync.WaitGroup
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Deliberation Agent around an LLM requester.
func New(requester *llm.Requester, opts ...Option) (*Spirit, error) {
	if requester == nil {
		return nil, fmt.Errorf("spirit requires a requester")
	}
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	commands := o.commands
	if commands == nil {
		commands = types.NewCommandQueue(0)
	}

	return &Spirit{
		requester:       requester,
		memory:          o.memory,
		compressor:      o.compressor,
		signals:         types.NewSignalQueue(o.signalCapacity),
		commands:        commands,
		interval:        o.interval,
		freshnessWindow: o.freshnessWindow,
		narrativeSize:   o.narrativeSize,
		state:           StateIdle,
		logger:          o.logger,
		now:             o.now,
	}, nil
}

// Commands exposes the queue the Execution Agent should consume.
func (s *Spirit) Commands() *types.CommandQueue {
	return s.commands
}

// ReceiveInput wraps text in a signal and enqueues it. Never blocks.
func (s *Spirit) ReceiveInput(content, source string) {
	s.ReceiveSignal(types.NewSignal(content, source, types.PriorityMedium))
}

// ReceiveSignal enqueues a signal. Never blocks; a full queue drops the
// signal with a warning.
func (s *Spirit) ReceiveSignal(sig types.Signal) {
	if !s.signals.Enqueue(sig) {
		s.logger.Warn("signal queue full, dropping signal", "source", sig.Source)
		return
	}
	s.logger.Debug("signal received", "source", sig.Source, "priority", sig.Priority)
}

// PendingSignals reports how many signals await a tick.
func (s *Spirit) PendingSignals() int {
	return s.signals.Len()
}

// OnThought registers a callback fired after every successfully parsed tick.
func (s *Spirit) OnThought(fn func(types.Thought)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onThought = append(s.onThought, fn)
}

// State reports the current loop state.
func (s *Spirit) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastThought returns the most recent parsed thought, if any tick succeeded.
func (s *Spirit) LastThought() (types.Thought, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastThought == nil {
		return types.Thought{}, false
	}
	return *s.lastThought, true
}

// Context returns the rolling narrative: the narration of recent thoughts.
func (s *Spirit) Context() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.narrative...)
}

// ClearContext wipes the rolling narrative.
func (s *Spirit) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrative = nil
}

// Start launches the deliberation loop. Idempotent.
func (s *Spirit) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("deliberation loop already running")
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("deliberation loop started", "interval", s.interval)
}

// Stop halts the loop and waits for the current tick to finish. Idempotent.
func (s *Spirit) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("deliberation loop stopped")
}

func (s *Spirit) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		sig, ok := s.signals.Dequeue(ctx, s.interval)
		if !ok {
			continue
		}
		s.tick(ctx, sig)
	}
}

// tick processes exactly one signal. Failures are logged and skipped; the
// narrative is only mutated by a successfully parsed thought.
func (s *Spirit) tick(ctx context.Context, sig types.Signal) {
	s.setState(StateAnalyzing)
	defer s.setState(StateIdle)

	s.reduceHistory(ctx)

	prompt, err := s.buildPrompt(ctx, sig)
	if err != nil {
		s.logger.Error("failed to build deliberation prompt", "error", err)
		return
	}

	response, err := s.requester.Think(ctx, prompt, llm.WithHistory(), llm.WithJSONMode())
	if err != nil {
		s.logger.Error("deliberation request failed", "source", sig.Source, "error", err)
		return
	}

	obj := llm.ParseStructuredResponse(response)
	if obj == nil {
		s.logger.Warn("unparseable thought, skipping tick", "source", sig.Source)
		return
	}
	thought, err := types.ThoughtFromObject(obj)
	if err != nil {
		s.logger.Warn("invalid thought object, skipping tick", "error", err)
		return
	}

	s.apply(ctx, *thought)
}

func (s *Spirit) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Spirit) reduceHistory(ctx context.Context) {
	if s.compressor == nil {
		return
	}
	history := s.requester.History()
	if !s.compressor.NeedsReduction(history) {
		return
	}
	reduced := s.compressor.Reduce(ctx, history)
	s.requester.SetHistory(reduced)
	s.logger.Debug("conversation history reduced", "before", len(history), "after", len(reduced))
}

func (s *Spirit) buildPrompt(ctx context.Context, sig types.Signal) (string, error) {
	if sig.Source == types.SourceBrainAction {
		return prompts.Render("spirit_reflection", prompts.SpiritReflectionTemplate, prompts.ReflectionData{
			RecentActions: s.narrativeText(),
			Results:       sig.Content,
		})
	}

	now := s.now()
	age := sig.Age(now)
	return prompts.Render("spirit_analysis", prompts.SpiritAnalysisTemplate, prompts.AnalysisData{
		CurrentTime: now.Format("2006-01-02 15:04:05"),
		Context:     s.narrativeText(),
		Memories:    s.memoryDigest(ctx, sig.Content),
		Source:      sig.Source,
		SignalTime:  sig.Timestamp.Format("2006-01-02 15:04:05"),
		Signal:      sig.Content,
		Stale:       age > s.freshnessWindow,
		Age:         age.Round(time.Second),
	})
}

func (s *Spirit) narrativeText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.narrative) == 0 {
		return "(no prior context)"
	}
	return strings.Join(s.narrative, "\n")
}

func (s *Spirit) memoryDigest(ctx context.Context, query string) string {
	if s.memory == nil {
		return "No relevant memories."
	}
	results, err := s.memory.AutoSearch(ctx, query, memoryDigestSize)
	if err != nil {
		s.logger.Warn("memory digest lookup failed", "error", err)
		return "No relevant memories."
	}
	if len(results) == 0 {
		return "No relevant memories."
	}

	var b strings.Builder
	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(truncate(r.Entry.Text, 200))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// apply routes a parsed thought: remember commands are written to memory,
// delegate and focus go onto the command queue in order, wait ends the tick.
func (s *Spirit) apply(ctx context.Context, thought types.Thought) {
	for _, cmd := range thought.Commands {
		switch cmd.Type {
		case types.CommandRemember:
			s.applyRemember(ctx, cmd)
		case types.CommandDelegate, types.CommandFocus:
			if !s.commands.Enqueue(cmd) {
				s.logger.Warn("command queue full, dropping command", "type", cmd.Type)
				continue
			}
			s.logger.Info("command enqueued", "type", cmd.Type, "content", truncate(cmd.Content, 80))
		case types.CommandWait:
			s.logger.Debug("waiting for new signals")
		}
	}

	s.mu.Lock()
	if thought.Narration != "" {
		s.narrative = append(s.narrative, thought.Narration)
		if len(s.narrative) > s.narrativeSize {
			s.narrative = s.narrative[len(s.narrative)-s.narrativeSize:]
		}
	}
	snapshot := thought
	s.lastThought = &snapshot
	callbacks := append(([]func(types.Thought))(nil), s.onThought...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(thought)
	}
}

func (s *Spirit) applyRemember(ctx context.Context, cmd types.Command) {
	content := strings.TrimSpace(cmd.Content)
	if len([]rune(content)) < minRememberLength {
		s.logger.Debug("skipping trivial remember", "content", content)
		return
	}
	if s.memory == nil {
		s.logger.Debug("no memory wired, dropping remember", "content", truncate(content, 50))
		return
	}

	id, err := s.memory.Save(ctx, content, "spirit", rememberImportance, map[string]string{
		"priority": string(cmd.Priority),
	})
	if err != nil {
		s.logger.Error("failed to save memory", "error", err)
		return
	}
	if id == "" {
		s.logger.Debug("near-duplicate memory suppressed", "content", truncate(content, 50))
		return
	}
	s.logger.Info("memory saved", "id", id, "content", truncate(content, 50))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
