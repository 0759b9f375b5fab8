package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

const (
	// MaxRetries bounds the attempts for one Think call. Rate-limit waits do
	// not consume this budget.
	MaxRetries = 3

	// BaseRetryDelay seeds the exponential backoff between failed attempts.
	BaseRetryDelay = 1 * time.Second

	defaultMaxHistory = 20
)

// Sleeper pauses for d or returns early when ctx is cancelled. Tests inject
// one to observe waits instead of serving them.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Requester wraps one chat endpoint for one agent: it owns that agent's
// system prompt and conversation history and turns prompts into completions
// with retry, backoff and rate-limit handling. The underlying Client may be
// shared between agents; a Requester itself is exercised from a single loop
// but serializes its history for the benefit of outside observers.
type Requester struct {
	client Client
	model  string
	cfg    AgentConfig

	mu           sync.Mutex
	systemPrompt string
	history      []openai.ChatCompletionMessage
	maxHistory   int

	maxRetries int
	baseDelay  time.Duration
	sleep      Sleeper
	logger     *slog.Logger
}

// RequesterOption mutates a Requester during construction.
type RequesterOption func(*Requester) error

// WithAgentConfig overrides the sampling parameters.
func WithAgentConfig(cfg AgentConfig) RequesterOption {
	return func(r *Requester) error {
		r.cfg = cfg
		return nil
	}
}

// WithSystemPrompt sets the initial system prompt.
func WithSystemPrompt(prompt string) RequesterOption {
	return func(r *Requester) error {
		r.systemPrompt = prompt
		return nil
	}
}

// WithLogger attaches a logger handle.
func WithLogger(l *slog.Logger) RequesterOption {
	return func(r *Requester) error {
		r.logger = l
		return nil
	}
}

// WithSleeper replaces the wait primitive, letting tests observe retry and
// rate-limit pauses without serving them.
func WithSleeper(s Sleeper) RequesterOption {
	return func(r *Requester) error {
		if s == nil {
			return fmt.Errorf("sleeper cannot be nil")
		}
		r.sleep = s
		return nil
	}
}

// WithMaxRetries overrides the attempt budget.
func WithMaxRetries(n int) RequesterOption {
	return func(r *Requester) error {
		if n < 1 {
			return fmt.Errorf("retries must be at least 1, got %d", n)
		}
		r.maxRetries = n
		return nil
	}
}

// WithBaseRetryDelay overrides the backoff seed.
func WithBaseRetryDelay(d time.Duration) RequesterOption {
	return func(r *Requester) error {
		r.baseDelay = d
		return nil
	}
}

// WithMaxHistory bounds how many conversation turns are kept.
func WithMaxHistory(n int) RequesterOption {
	return func(r *Requester) error {
		if n < 2 {
			return fmt.Errorf("history must keep at least one exchange, got %d", n)
		}
		r.maxHistory = n
		return nil
	}
}

// NewRequester builds the request layer for one agent.
func NewRequester(client Client, model string, opts ...RequesterOption) (*Requester, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	r := &Requester{
		client:     client,
		model:      model,
		cfg:        DefaultAgentConfig(),
		maxHistory: defaultMaxHistory,
		maxRetries: MaxRetries,
		baseDelay:  BaseRetryDelay,
		sleep:      sleepContext,
		logger:     xlog.Nop(),
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ThinkOption tunes one Think call.
type ThinkOption func(*thinkRequest)

type thinkRequest struct {
	contextBlock   string
	includeHistory bool
	jsonMode       bool
}

// WithContextBlock injects an extra context block before the prompt.
func WithContextBlock(context string) ThinkOption {
	return func(t *thinkRequest) {
		t.contextBlock = context
	}
}

// WithHistory includes the prior conversation turns in the request.
func WithHistory() ThinkOption {
	return func(t *thinkRequest) {
		t.includeHistory = true
	}
}

// WithJSONMode asks the provider for a JSON object response.
func WithJSONMode() ThinkOption {
	return func(t *thinkRequest) {
		t.jsonMode = true
	}
}

// Think sends one prompt through the endpoint and returns the completion
// text. Transient failures are retried with exponential backoff up to the
// attempt budget; detected rate limits are waited out without consuming it.
// On success the exchange is appended to the conversation history.
func (r *Requester) Think(ctx context.Context, prompt string, opts ...ThinkOption) (string, error) {
	var tr thinkRequest
	for _, o := range opts {
		o(&tr)
	}

	req := openai.ChatCompletionRequest{
		Model:            r.model,
		Messages:         r.buildMessages(prompt, tr),
		Temperature:      r.cfg.Temperature,
		MaxTokens:        r.cfg.MaxTokens,
		TopP:             r.cfg.TopP,
		FrequencyPenalty: r.cfg.FrequencyPenalty,
		PresencePenalty:  r.cfg.PresencePenalty,
	}
	if tr.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	attempt := 0
	for attempt < r.maxRetries {
		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err == nil && len(resp.Choices) == 0 {
			err = fmt.Errorf("empty completion response")
		}
		if err == nil {
			text := resp.Choices[0].Message.Content
			r.recordExchange(prompt, text)
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if IsRateLimitError(err) {
			wait := RateLimitWait(err)
			r.logger.Warn("rate limited, waiting", "wait", wait, "error", err)
			if serr := r.sleep(ctx, wait); serr != nil {
				return "", serr
			}
			continue
		}

		delay := r.baseDelay * time.Duration(1<<attempt)
		attempt++
		if attempt >= r.maxRetries {
			break
		}
		r.logger.Debug("request failed, backing off", "attempt", attempt, "delay", delay, "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}

	return "", &RequestError{Attempts: r.maxRetries, Err: lastErr}
}

func (r *Requester) buildMessages(prompt string, tr thinkRequest) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var messages []openai.ChatCompletionMessage
	if r.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.systemPrompt,
		})
	}
	if tr.contextBlock != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context: " + tr.contextBlock,
		})
	}
	if tr.includeHistory {
		messages = append(messages, r.history...)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return messages
}

func (r *Requester) recordExchange(prompt, response string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: response},
	)
	if len(r.history) > r.maxHistory {
		r.history = append([]openai.ChatCompletionMessage(nil), r.history[len(r.history)-r.maxHistory:]...)
	}
}

// History returns a copy of the recorded conversation turns.
func (r *Requester) History() []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), r.history...)
}

// SetHistory replaces the conversation turns, e.g. after compression.
func (r *Requester) SetHistory(history []openai.ChatCompletionMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append([]openai.ChatCompletionMessage(nil), history...)
}

// ClearHistory drops all recorded turns.
func (r *Requester) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// SystemPrompt returns the current system prompt.
func (r *Requester) SystemPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemPrompt
}

// SetSystemPrompt replaces the system prompt, e.g. after the tool catalog
// changed.
func (r *Requester) SetSystemPrompt(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemPrompt = prompt
}

// AppendSystemPrompt adds a suffix to the system prompt.
func (r *Requester) AppendSystemPrompt(suffix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.systemPrompt == "" {
		r.systemPrompt = suffix
		return
	}
	r.systemPrompt = r.systemPrompt + "\n\n" + suffix
}

// Model exposes the endpoint model name.
func (r *Requester) Model() string {
	return r.model
}
