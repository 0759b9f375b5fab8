package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mudler/LocalEntity/core/executor"
	"github.com/mudler/LocalEntity/core/focus"
	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/pkg/llm"
)

const (
	// DefaultInterval bounds how long one loop turn blocks waiting for a command.
	DefaultInterval = 1 * time.Second
	// DefaultHistoryCap bounds the recorded action ring.
	DefaultHistoryCap = 50
	// DefaultMaxRounds bounds LLM rounds per task so a model that never ends
	// a task cannot spin forever.
	DefaultMaxRounds = 8

	memoryDigestSize = 5

	// resultPlaceholder in a tool argument is replaced with the output of the
	// previous invocation in the same step.
	resultPlaceholder = "{{result}}"

	// sayToolName marks the tool whose output ends a task.
	sayToolName = "say_to_user"
)

// TaskState describes where the current task sits in its lifecycle.
type TaskState string

const (
	StateIdle       TaskState = "idle"
	StateActive     TaskState = "active"
	StateContinuing TaskState = "continuing"
)

// Memory is the slice of the memory matrix the brain reads for task context.
type Memory interface {
	AutoSearch(ctx context.Context, contextText string, maxResults int) ([]memory.SearchResult, error)
}

// ToolRunner executes named tools. Satisfied by *tools.Registry.
type ToolRunner interface {
	Execute(ctx context.Context, name string, params tools.Params) (tools.Result, error)
	Describe() string
}

// CodeExecutor runs a code block in the sandbox.
type CodeExecutor interface {
	Execute(ctx context.Context, code string) executor.Result
}

// Compressor shrinks conversation history when it grows past budget.
type Compressor interface {
	NeedsReduction(messages []openai.ChatCompletionMessage) bool
	Reduce(ctx context.Context, messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage
}

// Brain is the execution agent. It drains delegated commands from its command
// source, turns each into a bounded sequence of LLM-planned actions (tool
// calls, direct responses, code runs), and reports every action it takes.
type Brain struct {
	requester  *llm.Requester
	tools      ToolRunner
	executor   CodeExecutor
	focus      *focus.Module
	memory     Memory
	compressor Compressor

	interval   time.Duration
	historyCap int
	maxRounds  int

	mu           sync.Mutex
	commands     *types.CommandQueue
	state        TaskState
	current      *types.Command
	taskContext  string
	promptSuffix string
	history      []types.Action
	onAction     []func(types.Action)
	output       func(string)
	running      bool
	cancel       context.CancelFunc

	wg     sync.WaitGroup
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Brain around the given requester. The system prompt is derived
// from the registered tools and can be rebuilt with RefreshToolPrompt after
// the tool set changes.
func New(requester *llm.Requester, opts ...Option) (*Brain, error) {
	if requester == nil {
		return nil, errors.New("brain requires a requester")
	}
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	b := &Brain{
		requester:  requester,
		tools:      o.tools,
		executor:   o.executor,
		focus:      o.focus,
		memory:     o.memory,
		compressor: o.compressor,
		interval:   o.interval,
		historyCap: o.historyCap,
		maxRounds:  o.maxRounds,
		state:      StateIdle,
		logger:     o.logger,
		now:        o.now,
	}
	if err := b.RefreshToolPrompt(); err != nil {
		return nil, err
	}
	return b, nil
}

// SetCommandSource points the brain at the queue it drains. Typically the
// deliberation agent's command queue.
func (b *Brain) SetCommandSource(q *types.CommandQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = q
}

// SetOutputCallback registers the sink for user-facing text. Each user-facing
// message is delivered exactly once.
func (b *Brain) SetOutputCallback(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = fn
}

// OnAction registers a callback invoked after every recorded action.
func (b *Brain) OnAction(fn func(types.Action)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAction = append(b.onAction, fn)
}

// SetPromptSuffix appends extra instructions (personality, standing guidance)
// after the tool-derived system prompt and rebuilds it.
func (b *Brain) SetPromptSuffix(suffix string) error {
	b.mu.Lock()
	b.promptSuffix = strings.TrimSpace(suffix)
	b.mu.Unlock()
	return b.RefreshToolPrompt()
}

// RefreshToolPrompt rebuilds the system prompt from the current tool catalog.
// Call after registering or removing tools.
func (b *Brain) RefreshToolPrompt() error {
	description := "No tools registered."
	if b.tools != nil {
		description = b.tools.Describe()
	}
	prompt, err := prompts.Render("brain_system", prompts.BrainSystemTemplate, prompts.SystemData{
		Tools: description,
	})
	if err != nil {
		return fmt.Errorf("rendering brain system prompt: %w", err)
	}
	b.mu.Lock()
	suffix := b.promptSuffix
	b.mu.Unlock()
	if suffix != "" {
		prompt = prompt + "\n\n" + suffix
	}
	b.requester.SetSystemPrompt(prompt)
	return nil
}

// State reports the task lifecycle state.
func (b *Brain) State() TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CurrentCommand returns the command being worked on, if any.
func (b *Brain) CurrentCommand() (types.Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return types.Command{}, false
	}
	return *b.current, true
}

// ActionHistory returns a copy of the recorded action ring, oldest first.
func (b *Brain) ActionHistory() []types.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Action, len(b.history))
	copy(out, b.history)
	return out
}

// ClearHistory drops both the action ring and the conversation history.
func (b *Brain) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
	b.requester.ClearHistory()
}

// Start launches the command loop. Idempotent.
func (b *Brain) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.logger.Warn("brain already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(ctx)
	b.logger.Info("brain started", "interval", b.interval)
}

// Stop halts the loop and waits for the current task to finish.
func (b *Brain) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	b.logger.Info("brain stopped")
}

func (b *Brain) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		b.mu.Lock()
		source := b.commands
		b.mu.Unlock()
		if source == nil {
			if !sleepCtx(ctx, b.interval) {
				return
			}
			continue
		}
		cmd, ok := source.Dequeue(ctx, b.interval)
		if !ok {
			continue
		}
		if cmd.Type == types.CommandFocus {
			b.handleFocus(ctx, cmd)
			continue
		}
		b.runTask(ctx, cmd)
	}
}

// runTask drives one command through its lifecycle: plan an action, execute
// it, then either finish, continue with the result, or attempt one recovery.
// The task is only retired as complete when an action ends it.
func (b *Brain) runTask(ctx context.Context, cmd types.Command) {
	guidance := strings.TrimSpace(cmd.Content)
	if guidance == "" {
		b.logger.Warn("empty task guidance, dropping command", "type", cmd.Type)
		return
	}

	b.mu.Lock()
	b.current = &cmd
	b.state = StateActive
	b.taskContext = ""
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.current = nil
		b.state = StateIdle
		b.taskContext = ""
		b.mu.Unlock()
	}()

	b.logger.Info("task started", "guidance", clip(guidance, 80), "priority", cmd.Priority)

	prompt, err := prompts.Render("brain_task", prompts.BrainTaskTemplate, prompts.TaskData{
		Task:     guidance,
		Priority: string(cmd.Priority),
		Context:  b.taskContextBlock(ctx, guidance),
	})
	if err != nil {
		b.logger.Error("rendering task prompt", "error", err)
		return
	}

	withHistory := true
	recovering := false
	for round := 1; ; round++ {
		if ctx.Err() != nil {
			b.logger.Warn("task interrupted by shutdown", "guidance", clip(guidance, 80))
			return
		}
		if round > b.maxRounds {
			b.logger.Warn("task abandoned, round budget exhausted",
				"guidance", clip(guidance, 80), "rounds", b.maxRounds)
			return
		}

		b.reduceHistory(ctx)
		parsed := b.thinkAction(ctx, prompt, guidance, withHistory)
		if parsed == nil {
			b.logger.Warn("task abandoned, no parseable action", "guidance", clip(guidance, 80))
			return
		}

		brainAction, err := types.ParseBrainAction(parsed)
		if err != nil {
			// An action type outside the closed set abandons the task
			// outright; there is nothing sensible to recover toward.
			failed := types.Action{Timestamp: b.now(), Error: err.Error()}
			var unknown *types.UnknownActionTypeError
			if errors.As(err, &unknown) {
				failed.Type = types.ActionType(unknown.Type)
			}
			b.recordAction(failed)
			b.logger.Warn("task abandoned, unusable action", "error", err)
			return
		}

		action := b.executeAction(ctx, brainAction)
		b.recordAction(action)

		switch {
		case action.Result != nil && action.Result.TaskEnded:
			b.logger.Info("task complete", "guidance", clip(guidance, 80), "rounds", round)
			return
		case action.Success:
			recovering = false
			b.setState(StateContinuing)
			output := "No result recorded"
			if action.Result != nil {
				output = action.Result.Output
				if output == "" {
					output = "(step succeeded with no output)"
				}
			}
			earlier := b.currentTaskContext()
			b.appendTaskContext(action.Content, output)
			prompt, err = prompts.Render("brain_continuation", prompts.BrainContinuationTemplate,
				prompts.ContinuationData{
					TaskContext:     earlier,
					PreviousAction:  action.Content,
					ExecutionResult: output,
				})
			if err != nil {
				b.logger.Error("rendering continuation prompt", "error", err)
				return
			}
			withHistory = false
		default:
			if recovering {
				b.logger.Warn("task abandoned, recovery failed",
					"guidance", clip(guidance, 80), "error", action.Error)
				return
			}
			recovering = true
			b.setState(StateContinuing)
			b.logger.Warn("action failed, attempting recovery", "error", action.Error)
			earlier := b.currentTaskContext()
			b.appendTaskContext(action.Content, "ERROR: "+action.Error)
			prompt, err = prompts.Render("brain_continuation", prompts.BrainContinuationTemplate,
				prompts.ContinuationData{
					TaskContext:     earlier,
					PreviousAction:  action.Content,
					ExecutionResult: "ERROR: " + action.Error,
				})
			if err != nil {
				b.logger.Error("rendering recovery prompt", "error", err)
				return
			}
			withHistory = true
		}
	}
}

// thinkAction asks the model for the next action and parses it, allowing one
// correction round-trip when the reply is not valid JSON.
func (b *Brain) thinkAction(ctx context.Context, prompt, guidance string, withHistory bool) map[string]interface{} {
	thinkOpts := []llm.ThinkOption{llm.WithJSONMode()}
	if withHistory {
		thinkOpts = append(thinkOpts, llm.WithHistory())
	}
	response, err := b.requester.Think(ctx, prompt, thinkOpts...)
	if err != nil {
		b.logger.Error("thinking failed", "error", err)
		return nil
	}
	parsed := llm.ParseStructuredResponse(response)
	if parsed != nil {
		return parsed
	}

	b.logger.Warn("malformed action response, requesting correction", "response", clip(response, 120))
	correction, err := prompts.Render("brain_correction", prompts.BrainCorrectionTemplate,
		prompts.CorrectionData{
			Malformed: response,
			Task:      guidance,
		})
	if err != nil {
		b.logger.Error("rendering correction prompt", "error", err)
		return nil
	}
	response, err = b.requester.Think(ctx, correction, llm.WithJSONMode())
	if err != nil {
		b.logger.Error("correction thinking failed", "error", err)
		return nil
	}
	parsed = llm.ParseStructuredResponse(response)
	if parsed == nil {
		b.logger.Error("correction still malformed, giving up", "response", clip(response, 120))
		return nil
	}
	b.logger.Debug("correction accepted")
	return parsed
}

// executeAction dispatches one validated action and returns its record.
func (b *Brain) executeAction(ctx context.Context, brainAction types.BrainAction) types.Action {
	action := types.Action{Timestamp: b.now(), Type: brainAction.ActionType()}

	switch a := brainAction.(type) {
	case types.ToolCallAction:
		action.Content = fmt.Sprintf("Tool calls: %d", len(a.Calls))
		outcome := b.runToolCalls(ctx, a.Calls)
		action.Result = outcome
		action.Success = outcome.Success
		action.Error = outcome.Error
	case types.ResponseAction:
		action.Content = a.Text
		messages := []string{}
		if a.Text != "" {
			messages = append(messages, a.Text)
		}
		b.flushMessages(messages)
		action.Result = &types.ExecutionOutcome{
			Success:      true,
			TaskEnded:    true,
			UserMessages: messages,
			Output:       a.Text,
		}
		action.Success = true
	case types.CodeAction:
		action.Content = a.Code
		outcome := b.runCode(ctx, a.Code)
		action.Result = outcome
		action.Success = outcome.Success
		action.Error = outcome.Error
	default:
		action.Success = false
		action.Error = fmt.Sprintf("unhandled action type: %s", brainAction.ActionType())
	}
	return action
}

// runToolCalls executes the invocations in order. The step ends the task only
// when it produced user-facing messages via say_to_user.
func (b *Brain) runToolCalls(ctx context.Context, calls []types.ToolInvocation) *types.ExecutionOutcome {
	if b.tools == nil {
		return &types.ExecutionOutcome{Success: false, Error: "no tool registry wired"}
	}

	var outputs []string
	var messages []string
	success := true
	var firstErr string
	for _, call := range calls {
		if call.Tool == "" {
			b.logger.Warn("tool call without a name, skipping")
			continue
		}
		args := resolveResultPlaceholders(call.Args, outputs)
		result, err := b.tools.Execute(ctx, call.Tool, tools.Params(args))
		if err != nil {
			success = false
			if firstErr == "" {
				firstErr = err.Error()
			}
			b.logger.Warn("tool failed", "tool", call.Tool, "error", err)
			continue
		}
		outputs = append(outputs, result.Output)
		if call.Tool == sayToolName {
			if text, ok := args["text"].(string); ok && text != "" {
				messages = append(messages, text)
			}
		}
		b.logger.Debug("tool executed", "tool", call.Tool)
	}

	b.flushMessages(messages)
	return &types.ExecutionOutcome{
		Success:      success,
		TaskEnded:    len(messages) > 0,
		UserMessages: messages,
		Output:       strings.Join(outputs, "\n"),
		Error:        firstErr,
	}
}

func (b *Brain) runCode(ctx context.Context, code string) *types.ExecutionOutcome {
	if strings.TrimSpace(code) == "" {
		return &types.ExecutionOutcome{Success: false, Error: "empty code block"}
	}
	if b.executor == nil {
		return &types.ExecutionOutcome{Success: false, Error: "no code executor wired"}
	}
	result := b.executor.Execute(ctx, code)
	b.flushMessages(result.UserMessages)
	return &types.ExecutionOutcome{
		Success:      result.Success,
		TaskEnded:    result.TaskEnded,
		UserMessages: result.UserMessages,
		Output:       result.Output,
		Error:        result.Error,
	}
}

// handleFocus decomposes a focus command into tracked steps and returns
// immediately. The focus module owns the task from there.
func (b *Brain) handleFocus(ctx context.Context, cmd types.Command) {
	goal := strings.TrimSpace(cmd.Content)
	if goal == "" {
		b.logger.Warn("empty focus goal, dropping command")
		return
	}
	if b.focus == nil {
		b.logger.Warn("focus module not wired, dropping command", "goal", clip(goal, 80))
		return
	}

	task := b.focus.CreateTask(clip(goal, 50), goal, focus.PriorityMedium)
	prompt, err := prompts.Render("focus_decomposition", prompts.FocusDecompositionTemplate,
		prompts.FocusData{
			Goal:     goal,
			MaxSteps: b.focus.MaxSteps(),
		})
	if err != nil {
		b.logger.Error("rendering decomposition prompt", "error", err)
		return
	}
	response, err := b.requester.Think(ctx, prompt, llm.WithJSONMode())
	if err != nil {
		b.logger.Error("decomposition thinking failed", "error", err)
		return
	}
	steps := focus.ParseSteps(llm.ParseStructuredResponse(response))
	if len(steps) == 0 {
		b.logger.Warn("focus goal produced no steps", "goal", clip(goal, 80))
		return
	}
	if err := b.focus.Decompose(task.ID, steps); err != nil {
		b.logger.Error("decomposing focus task", "error", err)
		return
	}
	if err := b.focus.StartTask(task.ID); err != nil {
		b.logger.Error("starting focus task", "error", err)
		return
	}
	b.logger.Info("focus task started", "goal", clip(goal, 80), "steps", len(steps))
}

// taskContextBlock seeds the first prompt of a task with relevant memories.
func (b *Brain) taskContextBlock(ctx context.Context, guidance string) string {
	if b.memory == nil {
		return "No previous context"
	}
	results, err := b.memory.AutoSearch(ctx, guidance, memoryDigestSize)
	if err != nil {
		b.logger.Warn("memory search failed", "error", err)
		return "No previous context"
	}
	if len(results) == 0 {
		return "No previous context"
	}
	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, r := range results {
		sb.WriteString("- ")
		sb.WriteString(clip(r.Entry.Text, 200))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Brain) currentTaskContext() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.taskContext
}

func (b *Brain) appendTaskContext(previous, result string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskContext += fmt.Sprintf("\nPrevious action: %s\nResult: %s", clip(previous, 200), clip(result, 200))
}

func (b *Brain) reduceHistory(ctx context.Context) {
	if b.compressor == nil {
		return
	}
	history := b.requester.History()
	if !b.compressor.NeedsReduction(history) {
		return
	}
	reduced := b.compressor.Reduce(ctx, history)
	b.requester.SetHistory(reduced)
	b.logger.Debug("history reduced", "from", len(history), "to", len(reduced))
}

func (b *Brain) recordAction(action types.Action) {
	b.mu.Lock()
	b.history = append(b.history, action)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	callbacks := make([]func(types.Action), len(b.onAction))
	copy(callbacks, b.onAction)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(action)
	}
}

func (b *Brain) flushMessages(messages []string) {
	b.mu.Lock()
	output := b.output
	b.mu.Unlock()
	if output == nil {
		return
	}
	for _, msg := range messages {
		output(msg)
	}
}

func (b *Brain) setState(s TaskState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// resolveResultPlaceholders substitutes the previous invocation's output into
// string arguments.
func resolveResultPlaceholders(args map[string]interface{}, outputs []string) map[string]interface{} {
	if len(args) == 0 {
		return map[string]interface{}{}
	}
	resolved := make(map[string]interface{}, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if ok && strings.Contains(s, resultPlaceholder) && len(outputs) > 0 {
			resolved[k] = strings.ReplaceAll(s, resultPlaceholder, outputs[len(outputs)-1])
			continue
		}
		resolved[k] = v
	}
	return resolved
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
