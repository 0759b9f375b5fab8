package conversations

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// charsPerToken approximates tokenization density per model family, used when
// no real encoder is available.
var charsPerToken = map[string]float64{
	"gpt":      4.0,
	"llama":    3.5,
	"mixtral":  3.5,
	"deepseek": 3.8,
	"default":  4.0,
}

var (
	wordPattern       = regexp.MustCompile(`\w+`)
	specialPattern    = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// TokenCounter counts tokens for one model: exactly via tiktoken for the
// OpenAI family, approximately for everything else.
type TokenCounter struct {
	model   string
	family  string
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model name.
func NewTokenCounter(model string) *TokenCounter {
	c := &TokenCounter{
		model:  strings.ToLower(model),
		family: detectModelFamily(model),
	}
	if c.family == "gpt" {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			c.encoder = enc
		}
	}
	return c
}

func detectModelFamily(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt") || strings.Contains(m, "text-davinci"):
		return "gpt"
	case strings.Contains(m, "llama"):
		return "llama"
	case strings.Contains(m, "mixtral") || strings.Contains(m, "mistral"):
		return "mixtral"
	case strings.Contains(m, "deepseek"):
		return "deepseek"
	}
	return "default"
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return c.approximateCount(text)
}

// approximateCount estimates tokens from character statistics when no real
// encoder exists for the model.
func (c *TokenCounter) approximateCount(text string) int {
	cpt, ok := charsPerToken[c.family]
	if !ok {
		cpt = charsPerToken["default"]
	}

	var wordTokens float64
	for _, w := range wordPattern.FindAllString(text, -1) {
		t := float64(len(w)) / cpt
		if t < 1 {
			t = 1
		}
		wordTokens += t
	}
	specialTokens := len(specialPattern.FindAllString(text, -1))
	whitespace := len(whitespacePattern.FindAllString(text, -1))

	return int(wordTokens + float64(specialTokens) + float64(whitespace)*0.1)
}

// CountMessages totals a chat transcript, including the per-message framing
// overhead and reply priming.
func (c *TokenCounter) CountMessages(messages []openai.ChatCompletionMessage) int {
	total := 0
	for _, m := range messages {
		if m.Content != "" {
			total += c.Count(m.Content)
		}
		total += 4
	}
	return total + 3
}

// TruncateToLimit cuts text so it fits within maxTokens, binary-searching the
// cut point.
func (c *TokenCounter) TruncateToLimit(text string, maxTokens int) string {
	if c.Count(text) <= maxTokens {
		return text
	}

	low, high := 0, len(text)
	for low < high {
		mid := (low + high + 1) / 2
		if c.Count(text[:mid]) <= maxTokens {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return text[:low]
}

// FitsContext reports whether the transcript fits the given window.
func (c *TokenCounter) FitsContext(messages []openai.ChatCompletionMessage, maxContext int) bool {
	return c.CountMessages(messages) <= maxContext
}

type contextLimit struct {
	model string
	limit int
}

// contextLimits is ordered most-specific first so that prefix variants like
// "gpt-4o-mini" resolve to their family's window.
var contextLimits = []contextLimit{
	{"gpt-4-32k", 32768},
	{"gpt-4-turbo", 128000},
	{"gpt-4o", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo-16k", 16385},
	{"gpt-3.5-turbo", 16385},
	{"llama3-70b-8192", 8192},
	{"llama3-8b-8192", 8192},
	{"llama-3.1-70b-versatile", 32768},
	{"llama-3.1-8b-instant", 8192},
	{"mixtral-8x7b-32768", 32768},
	{"gemma-7b-it", 8192},
	{"deepseek-coder", 16384},
	{"deepseek-chat", 32768},
}

// ModelContextLimit returns the context window for a model, defaulting
// conservatively for unknown ones.
func ModelContextLimit(model string) int {
	m := strings.ToLower(model)

	for _, cl := range contextLimits {
		if cl.model == m {
			return cl.limit
		}
	}
	for _, cl := range contextLimits {
		if strings.Contains(m, cl.model) || strings.Contains(cl.model, m) {
			return cl.limit
		}
	}
	return 4096
}
