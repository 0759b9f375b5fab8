package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/pkg/llm"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

const (
	// ReservedTokens is held back from the context window for the reply and
	// for prompt framing the counter cannot see.
	ReservedTokens = 1500

	// DefaultPreserveLast is how many trailing dialog messages survive a
	// reduction untouched.
	DefaultPreserveLast = 4

	compressionTemperature = 0.3
	compressionMaxTokens   = 500
)

// Reducer keeps a conversation inside its model's context window, first by
// summarizing the oldest stretch of dialog, then by dropping messages
// outright when summarizing is not enough.
type Reducer struct {
	client       llm.Client
	model        string
	counter      *TokenCounter
	maxContext   int
	threshold    float64
	preserveLast int
	logger       *slog.Logger
}

// ReducerOption configures a Reducer.
type ReducerOption func(*Reducer)

// WithPreserveLast overrides how many trailing messages a reduction keeps.
func WithPreserveLast(n int) ReducerOption {
	return func(r *Reducer) {
		if n > 0 {
			r.preserveLast = n
		}
	}
}

// WithReducerLogger attaches a logger.
func WithReducerLogger(l *slog.Logger) ReducerOption {
	return func(r *Reducer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReducer builds a reducer for one model. maxContext of 0 falls back to
// the model's known window, threshold scales the usable share of it.
func NewReducer(client llm.Client, model string, maxContext int, threshold float64, opts ...ReducerOption) *Reducer {
	if maxContext <= 0 {
		maxContext = ModelContextLimit(model)
	}
	r := &Reducer{
		client:       client,
		model:        model,
		counter:      NewTokenCounter(model),
		maxContext:   maxContext,
		threshold:    threshold,
		preserveLast: DefaultPreserveLast,
		logger:       xlog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EffectiveLimit is the token budget a transcript must fit into.
func (r *Reducer) EffectiveLimit() int {
	usable := r.maxContext - ReservedTokens
	if usable < 0 {
		usable = 0
	}
	return int(float64(usable) * r.threshold)
}

// CountTokens totals the transcript with the reducer's counter.
func (r *Reducer) CountTokens(messages []openai.ChatCompletionMessage) int {
	return r.counter.CountMessages(messages)
}

// NeedsReduction reports whether the transcript has outgrown the budget.
func (r *Reducer) NeedsReduction(messages []openai.ChatCompletionMessage) bool {
	return r.counter.CountMessages(messages) > r.EffectiveLimit()
}

// Reduce shrinks the transcript until it fits the budget. System messages
// always survive; the oldest dialog is folded into a summary message and the
// last few exchanges are kept verbatim. If summarizing fails or is not
// enough, messages are dropped oldest-first instead.
func (r *Reducer) Reduce(ctx context.Context, messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if !r.NeedsReduction(messages) {
		return messages
	}

	system, dialog := splitSystem(messages)
	if len(dialog) <= r.preserveLast {
		return r.TruncateToFit(messages, r.EffectiveLimit())
	}

	older := dialog[:len(dialog)-r.preserveLast]
	recent := dialog[len(dialog)-r.preserveLast:]

	summary, err := r.compress(ctx, older)
	if err != nil {
		r.logger.Warn("history compression failed, truncating instead", "error", err)
		return r.TruncateToFit(messages, r.EffectiveLimit())
	}

	reduced := make([]openai.ChatCompletionMessage, 0, len(system)+1+len(recent))
	reduced = append(reduced, system...)
	reduced = append(reduced, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: "[Previous conversation context]\n" + summary,
	})
	reduced = append(reduced, recent...)

	if r.counter.CountMessages(reduced) > r.EffectiveLimit() {
		reduced = r.TruncateToFit(reduced, r.EffectiveLimit())
	}

	r.logger.Debug("conversation reduced",
		"before", len(messages), "after", len(reduced),
		"tokens", r.counter.CountMessages(reduced))
	return reduced
}

// TruncateToFit keeps the system messages and as many of the newest dialog
// messages as fit within maxTokens, preserving their order.
func (r *Reducer) TruncateToFit(messages []openai.ChatCompletionMessage, maxTokens int) []openai.ChatCompletionMessage {
	system, dialog := splitSystem(messages)

	budget := maxTokens - 3
	for _, m := range system {
		budget -= r.counter.Count(m.Content) + 4
	}

	kept := make([]openai.ChatCompletionMessage, 0, len(dialog))
	for i := len(dialog) - 1; i >= 0; i-- {
		cost := r.counter.Count(dialog[i].Content) + 4
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, dialog[i])
	}

	out := make([]openai.ChatCompletionMessage, 0, len(system)+len(kept))
	out = append(out, system...)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

func (r *Reducer) compress(ctx context.Context, history []openai.ChatCompletionMessage) (string, error) {
	prompt, err := prompts.Render("compress", prompts.CompressionTemplate, prompts.CompressData{
		History: formatHistory(history),
	})
	if err != nil {
		return "", err
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: compressionTemperature,
		MaxTokens:   compressionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("compressing history: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("compressing history: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func formatHistory(messages []openai.ChatCompletionMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(m.Role), m.Content))
	}
	return strings.Join(lines, "\n\n")
}

func splitSystem(messages []openai.ChatCompletionMessage) (system, dialog []openai.ChatCompletionMessage) {
	for _, m := range messages {
		if m.Role == openai.ChatMessageRoleSystem {
			system = append(system, m)
		} else {
			dialog = append(dialog, m)
		}
	}
	return system, dialog
}
