package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mudler/LocalEntity/core/brain"
	"github.com/mudler/LocalEntity/core/conversations"
	"github.com/mudler/LocalEntity/core/executor"
	"github.com/mudler/LocalEntity/core/focus"
	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/modules"
	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/core/spirit"
	"github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/pkg/config"
	"github.com/mudler/LocalEntity/pkg/llm"
	builtin "github.com/mudler/LocalEntity/services/tools"
)

const (
	// DefaultStopTimeout bounds the graceful join of the agent loops.
	DefaultStopTimeout = 5 * time.Second

	// retentionSchedule drives the periodic memory sweep. The matrix applies
	// its own 24h/size gating, the cron only gives it chances to run.
	retentionSchedule = "@hourly"

	foundationalImportance = 0.9
	minPersonalityLine     = 10

	personalityHeader = "## My personality and context:"
)

// ErrNoMemory is returned by memory operations when the entity was built
// without a matrix.
var ErrNoMemory = errors.New("no memory store configured")

// Entity is the orchestrator: it owns both agents, the shared collaborators,
// and the external API (signal in, output callback out).
type Entity struct {
	model  string
	params config.SystemParams

	memory     *memory.Matrix
	tools      *tools.Registry
	executor   *executor.Executor
	focus      *focus.Module
	insight    *modules.InsightModule
	prediction *modules.PredictionModule

	spirit          *spirit.Spirit
	brain           *brain.Brain
	spiritRequester *llm.Requester

	mu          sync.Mutex
	running     bool
	outputs     []func(string)
	cron        *cron.Cron
	personality string

	stopTimeout time.Duration
	logger      *slog.Logger
}

// New wires the full runtime: request layers for both agents, the tool
// registry with its builtin set, the sandboxed executor, the focus module,
// the background heuristics, and the relay between the agents.
func New(opts ...Option) (*Entity, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	params, err := config.NewSystemParams(o.params)
	if err != nil {
		return nil, fmt.Errorf("invalid system params: %w", err)
	}

	e := &Entity{
		model:       o.model,
		params:      params,
		memory:      o.memory,
		stopTimeout: o.stopTimeout,
		logger:      o.logger.With("component", "entity"),
	}

	e.tools = tools.NewRegistry(tools.WithRegistryLogger(o.logger.With("component", "tools")))
	if err := e.registerBuiltinTools(params, o.extraTools); err != nil {
		return nil, err
	}

	e.executor, err = executor.New(
		executor.WithSandboxPath(params.SandboxPath),
		executor.WithUnsafeMode(!params.SafeMode),
		executor.WithLogger(o.logger.With("component", "executor")),
	)
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	e.focus = focus.New(focus.WithLogger(o.logger.With("component", "focus")))

	spiritCfg := llm.DefaultAgentConfig()
	spiritCfg.Temperature = params.SpiritTemperature
	spiritCfg.MaxTokens = params.MaxTokens
	e.spiritRequester, err = llm.NewRequester(o.client, o.model,
		llm.WithAgentConfig(spiritCfg),
		llm.WithSystemPrompt(prompts.SpiritSystemPrompt),
		llm.WithLogger(o.logger.With("component", "spirit")),
	)
	if err != nil {
		return nil, fmt.Errorf("building spirit requester: %w", err)
	}

	spiritOpts := []spirit.Option{
		spirit.WithInterval(params.SpiritInterval),
		spirit.WithCompressor(conversations.NewReducer(o.client, o.model,
			params.MaxContextTokens, params.CompressionThreshold,
			conversations.WithReducerLogger(o.logger.With("component", "spirit")))),
		spirit.WithLogger(o.logger.With("component", "spirit")),
	}
	if e.memory != nil {
		spiritOpts = append(spiritOpts, spirit.WithMemory(e.memory))
	}
	e.spirit, err = spirit.New(e.spiritRequester, spiritOpts...)
	if err != nil {
		return nil, fmt.Errorf("building spirit: %w", err)
	}

	brainCfg := llm.DefaultAgentConfig()
	brainCfg.Temperature = params.BrainTemperature
	brainCfg.MaxTokens = params.MaxTokens
	brainRequester, err := llm.NewRequester(o.client, o.model,
		llm.WithAgentConfig(brainCfg),
		llm.WithLogger(o.logger.With("component", "brain")),
	)
	if err != nil {
		return nil, fmt.Errorf("building brain requester: %w", err)
	}

	brainOpts := []brain.Option{
		brain.WithInterval(params.BrainInterval),
		brain.WithTools(e.tools),
		brain.WithExecutor(e.executor),
		brain.WithFocus(e.focus),
		brain.WithCompressor(conversations.NewReducer(o.client, o.model,
			params.MaxContextTokens, params.CompressionThreshold,
			conversations.WithReducerLogger(o.logger.With("component", "brain")))),
		brain.WithLogger(o.logger.With("component", "brain")),
	}
	if e.memory != nil {
		brainOpts = append(brainOpts, brain.WithMemory(e.memory))
	}
	e.brain, err = brain.New(brainRequester, brainOpts...)
	if err != nil {
		return nil, fmt.Errorf("building brain: %w", err)
	}

	e.brain.SetCommandSource(e.spirit.Commands())
	e.brain.SetOutputCallback(e.dispatchOutput)
	e.brain.OnAction(e.relayAction)

	if err := e.wireModules(o); err != nil {
		return nil, err
	}

	if o.personality != "" {
		e.bootstrapPersonality(context.Background(), o.personality)
	}

	e.logger.Info("entity initialized", "model", o.model)
	return e, nil
}

// registerBuiltinTools loads the default tool set: user output, sandboxed
// file access, clock, and the zero-config web tools.
func (e *Entity) registerBuiltinTools(params config.SystemParams, extra []tools.Tool) error {
	createFile, readFile, listFiles, deleteFile := builtin.NewFileActions(params.SandboxPath)
	defaults := []tools.Tool{
		// The brain collects say_to_user texts from the invocation arguments
		// and flushes them itself, so the tool carries no callback.
		builtin.NewSayToUser(nil),
		createFile,
		readFile,
		listFiles,
		deleteFile,
		builtin.NewGetTime(),
		builtin.NewBrowse(),
		builtin.NewSearch(5),
		builtin.NewScraper(),
	}
	for _, t := range append(defaults, extra...) {
		if err := e.tools.Register(t); err != nil {
			return fmt.Errorf("registering tool: %w", err)
		}
	}
	return nil
}

// wireModules builds the background heuristics around a dedicated requester
// so their traffic never pollutes either agent's conversation history.
func (e *Entity) wireModules(o *options) error {
	backgroundCfg := llm.DefaultAgentConfig()
	backgroundCfg.Temperature = e.params.BrainTemperature
	backgroundCfg.MaxTokens = e.params.MaxTokens
	background, err := llm.NewRequester(o.client, o.model,
		llm.WithAgentConfig(backgroundCfg),
		llm.WithLogger(o.logger.With("component", "modules")),
	)
	if err != nil {
		return fmt.Errorf("building module requester: %w", err)
	}
	think := func(ctx context.Context, prompt string) (string, error) {
		return background.Think(ctx, prompt)
	}

	insightOpts := []modules.InsightOption{
		modules.WithInsightThinker(think),
		modules.WithInsightLogger(o.logger.With("component", "insight")),
	}
	if e.memory != nil {
		insightOpts = append(insightOpts, modules.WithInsightMemory(e.memory))
	}
	e.insight = modules.NewInsight(insightOpts...)
	e.insight.OnInsight(e.relayInsight)

	e.prediction = modules.NewPrediction(
		modules.WithPredictionThinker(think),
		modules.WithPredictionLogger(o.logger.With("component", "prediction")),
	)
	return nil
}

// Start launches both agent loops and the background modules. Idempotent. A
// one-shot retention sweep runs before the loops come up.
func (e *Entity) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("entity already running")
		return
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("starting entity",
		"spirit_interval", e.params.SpiritInterval,
		"brain_interval", e.params.BrainInterval)

	if e.memory != nil {
		if cleaned, err := e.memory.CheckAndCleanup(ctx); err != nil {
			e.logger.Warn("memory retention sweep failed", "error", err)
		} else if cleaned {
			e.logger.Info("memory retention sweep completed")
		}
	}

	e.spirit.Start(ctx)
	e.brain.Start(ctx)
	e.insight.Start(ctx)

	if e.memory != nil {
		c := cron.New()
		if _, err := c.AddFunc(retentionSchedule, func() {
			if _, err := e.memory.CheckAndCleanup(context.Background()); err != nil {
				e.logger.Warn("scheduled retention sweep failed", "error", err)
			}
		}); err != nil {
			e.logger.Warn("scheduling retention sweep", "error", err)
		} else {
			c.Start()
			e.mu.Lock()
			e.cron = c
			e.mu.Unlock()
		}
	}

	e.logger.Info("entity started")
}

// Stop halts the loops, waiting up to the stop timeout before giving up on
// the join, then flushes memory. Idempotent.
func (e *Entity) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	e.logger.Info("stopping entity")
	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.spirit.Stop()
		e.brain.Stop()
		e.insight.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.stopTimeout):
		e.logger.Warn("agent loops did not stop in time", "timeout", e.stopTimeout)
	}

	if e.memory != nil {
		if err := e.memory.Persist(); err != nil {
			e.logger.Error("persisting memory", "error", err)
		}
	}
	e.logger.Info("entity stopped")
}

// IsRunning reports whether the loops are up.
func (e *Entity) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// InputSignal feeds external input to the deliberation agent. Dropped with a
// warning when the entity is not running.
func (e *Entity) InputSignal(text, source string) {
	if !e.IsRunning() {
		e.logger.Warn("entity not running, signal dropped", "source", source)
		return
	}
	e.logger.Info("input signal", "source", source, "content", clip(text, 50))
	if source == types.SourceUser {
		e.prediction.RecordInput(text)
	}
	e.spirit.ReceiveInput(text, source)
}

// OnOutput registers a sink for user-facing text. Callbacks run in
// registration order, one message at a time.
func (e *Entity) OnOutput(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs = append(e.outputs, fn)
}

// OnThought registers a callback for deliberation thoughts.
func (e *Entity) OnThought(fn func(types.Thought)) {
	e.spirit.OnThought(fn)
}

// OnAction registers a callback for execution actions.
func (e *Entity) OnAction(fn func(types.Action)) {
	e.brain.OnAction(fn)
}

func (e *Entity) dispatchOutput(text string) {
	e.mu.Lock()
	callbacks := make([]func(string), len(e.outputs))
	copy(callbacks, e.outputs)
	e.mu.Unlock()
	for _, fn := range callbacks {
		fn(text)
	}
}

// relayAction reports an execution action back to the deliberation agent as
// a low-priority signal. Only the action type, a content preview, and the
// outcome are relayed; the brain's reasoning never crosses over.
func (e *Entity) relayAction(action types.Action) {
	var sb strings.Builder
	sb.WriteString("[Execution report]\n")
	fmt.Fprintf(&sb, "Action: %s\n", action.Type)

	if action.Result != nil && len(action.Result.UserMessages) > 0 {
		shown := action.Result.UserMessages
		if len(shown) > 2 {
			shown = shown[:2]
		}
		fmt.Fprintf(&sb, "User context: %s\n", strings.Join(shown, "; "))
	}

	fmt.Fprintf(&sb, "Content: %s\n", clip(action.Content, 100))

	result := "No result"
	if action.Result != nil {
		if action.Result.Success {
			result = "Success"
			if action.Result.Output != "" {
				result += ": " + clip(action.Result.Output, 200)
			}
		} else {
			errText := action.Result.Error
			if errText == "" {
				errText = "unknown"
			}
			result = "Error: " + errText
		}
	} else if action.Error != "" {
		result = "Error: " + action.Error
	}
	fmt.Fprintf(&sb, "Result: %s", result)

	e.spirit.ReceiveSignal(types.NewSignal(sb.String(), types.SourceBrainAction, types.PriorityLow))
	e.logger.Debug("action relayed", "type", action.Type)
}

// relayInsight surfaces a solved background problem as a signal.
func (e *Entity) relayInsight(task modules.InsightTask) {
	content := fmt.Sprintf("Background insight on %q: %s", clip(task.Problem, 80), task.Solution)
	e.spirit.ReceiveSignal(types.NewSignal(content, types.SourceInsight, types.PriorityMedium))
}

// SetPersonality replaces the personality at runtime: prompt suffixes are
// rebuilt and new foundational memories are written.
func (e *Entity) SetPersonality(text string) {
	e.bootstrapPersonality(context.Background(), text)
}

func (e *Entity) bootstrapPersonality(ctx context.Context, text string) {
	e.mu.Lock()
	e.personality = text
	e.mu.Unlock()

	suffix := personalityHeader + "\n" + text
	e.spiritRequester.SetSystemPrompt(prompts.SpiritSystemPrompt + "\n\n" + suffix)
	if err := e.brain.SetPromptSuffix(suffix); err != nil {
		e.logger.Warn("rebuilding brain prompt", "error", err)
	}

	if e.memory == nil {
		e.logger.Info("personality set without memory, no foundational memories written")
		return
	}
	saved := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) < minPersonalityLine {
			continue
		}
		if _, err := e.memory.Save(ctx, line, "personality", foundationalImportance,
			map[string]string{"type": "foundational", "origin": "personality_init"}); err != nil {
			e.logger.Warn("saving foundational memory", "error", err)
			continue
		}
		saved++
	}
	e.logger.Info("personality processed", "foundational_memories", saved)
}

// Personality returns the current personality text.
func (e *Entity) Personality() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.personality
}

// RegisterTool adds a tool to the registry. Call RebuildToolPrompts afterward
// so the execution agent sees it.
func (e *Entity) RegisterTool(t tools.Tool) error {
	return e.tools.Register(t)
}

// DeregisterTool removes a tool by name.
func (e *Entity) DeregisterTool(name string) {
	e.tools.Deregister(name)
}

// RebuildToolPrompts refreshes the execution agent's system prompt from the
// current tool catalog.
func (e *Entity) RebuildToolPrompts() error {
	return e.brain.RefreshToolPrompt()
}

// ExecuteTool invokes a registered tool directly, outside the agent loops.
func (e *Entity) ExecuteTool(ctx context.Context, name string, params tools.Params) (tools.Result, error) {
	return e.tools.Execute(ctx, name, params)
}

// ToolNames lists the registered tools.
func (e *Entity) ToolNames() []string {
	return e.tools.Names()
}

// ToolsDescription renders the grouped tool catalog.
func (e *Entity) ToolsDescription() string {
	return e.tools.Describe()
}

// SaveMemory writes text to the matrix with default importance.
func (e *Entity) SaveMemory(ctx context.Context, text, source string) (string, error) {
	if e.memory == nil {
		return "", ErrNoMemory
	}
	return e.memory.Save(ctx, text, source, 0.5, nil)
}

// SearchMemory runs an auto-thresholded search against the matrix.
func (e *Entity) SearchMemory(ctx context.Context, query string, maxResults int) ([]memory.SearchResult, error) {
	if e.memory == nil {
		return nil, ErrNoMemory
	}
	return e.memory.AutoSearch(ctx, query, maxResults)
}

// MemoryCount reports how many entries the matrix holds.
func (e *Entity) MemoryCount() int {
	if e.memory == nil {
		return 0
	}
	return e.memory.Count()
}

// SubmitProblem hands a problem to the background insight module.
func (e *Entity) SubmitProblem(problem, contextText string, priority int) string {
	return e.insight.SubmitProblem(problem, contextText, priority)
}

// SpiritContext returns the deliberation agent's rolling narrative.
func (e *Entity) SpiritContext() []string {
	return e.spirit.Context()
}

// LastThought returns the most recent deliberation thought.
func (e *Entity) LastThought() (types.Thought, bool) {
	return e.spirit.LastThought()
}

// BrainHistory returns the execution agent's recorded actions.
func (e *Entity) BrainHistory() []types.Action {
	return e.brain.ActionHistory()
}

// BrainState reports the execution agent's task state.
func (e *Entity) BrainState() brain.TaskState {
	return e.brain.State()
}

// PendingSignals reports the deliberation agent's queue depth.
func (e *Entity) PendingSignals() int {
	return e.spirit.PendingSignals()
}

// ClearAll drops conversational context, action history, and sandbox files.
// Long-term memory survives.
func (e *Entity) ClearAll() {
	e.spirit.ClearContext()
	e.spiritRequester.ClearHistory()
	e.brain.ClearHistory()
	if err := e.executor.ClearSandbox(); err != nil {
		e.logger.Warn("clearing sandbox", "error", err)
	}
}

// Model exposes the configured model name.
func (e *Entity) Model() string {
	return e.model
}

// Params exposes the validated system parameters.
func (e *Entity) Params() config.SystemParams {
	return e.params
}

// FocusModule exposes the focus collaborator.
func (e *Entity) FocusModule() *focus.Module {
	return e.focus
}

// InsightModule exposes the background insight collaborator.
func (e *Entity) InsightModule() *modules.InsightModule {
	return e.insight
}

// PredictionModule exposes the background prediction collaborator.
func (e *Entity) PredictionModule() *modules.PredictionModule {
	return e.prediction
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
