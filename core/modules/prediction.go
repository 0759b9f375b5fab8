package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mudler/LocalEntity/core/prompts"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

const (
	// PatternConfidenceThreshold is the minimum confidence for a pattern to
	// yield predictions.
	PatternConfidenceThreshold = 0.3

	// PredictionExpiry is how long a prediction stays active.
	PredictionExpiry = 5 * time.Minute

	defaultHistorySize   = 100
	maxActivePredictions = 10
)

// Pattern is a detected regularity in the input stream.
type Pattern struct {
	ID          string
	Type        string // "sequence" or "time_based"
	Trigger     string
	Prediction  string
	Confidence  float64
	Occurrences int
	LastSeen    time.Time
	Hour        int
}

// Prediction is an expected future input.
type Prediction struct {
	Input      string
	Confidence float64
	Reasoning  string
	PatternID  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type inputRecord struct {
	text string
	at   time.Time
}

// PredictionModule watches the input stream for repeats and keeps a short
// list of expected next inputs for proactive decisions.
type PredictionModule struct {
	mu           sync.Mutex
	history      []inputRecord
	historySize  int
	patterns     map[string]*Pattern
	predictions  []Prediction
	think        Thinker
	onPrediction func(Prediction)
	logger       *slog.Logger
	now          func() time.Time
}

type PredictionOption func(*PredictionModule)

func WithHistorySize(n int) PredictionOption {
	return func(m *PredictionModule) {
		if n > 0 {
			m.historySize = n
		}
	}
}

func WithPredictionThinker(think Thinker) PredictionOption {
	return func(m *PredictionModule) { m.think = think }
}

func WithPredictionLogger(l *slog.Logger) PredictionOption {
	return func(m *PredictionModule) { m.logger = l }
}

func WithPredictionClock(now func() time.Time) PredictionOption {
	return func(m *PredictionModule) { m.now = now }
}

func NewPrediction(opts ...PredictionOption) *PredictionModule {
	m := &PredictionModule{
		historySize: defaultHistorySize,
		patterns:    map[string]*Pattern{},
		logger:      xlog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnPrediction registers a callback fired for each newly produced prediction.
func (m *PredictionModule) OnPrediction(fn func(Prediction)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPrediction = fn
}

func patternID(patternType, trigger string) string {
	sum := sha256.Sum256([]byte(patternType + ":" + trigger))
	return "pat_" + hex.EncodeToString(sum[:])[:10]
}

// RecordInput feeds one observed input into the sliding window and refreshes
// patterns and predictions.
func (m *PredictionModule) RecordInput(text string) {
	m.mu.Lock()
	m.history = append(m.history, inputRecord{text: text, at: m.now()})
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}

	m.detectSequencePattern()
	m.detectTimePatterns()
	fresh := m.refreshPredictions()
	cb := m.onPrediction
	m.mu.Unlock()

	if cb != nil {
		for _, p := range fresh {
			cb(p)
		}
	}
	m.logger.Debug("input recorded", "text", clip(text, 30))
}

// detectSequencePattern learns "A is followed by B" from the newest pair.
// Callers hold the lock.
func (m *PredictionModule) detectSequencePattern() {
	if len(m.history) < 2 {
		return
	}

	trigger := m.history[len(m.history)-2].text
	follow := m.history[len(m.history)-1].text
	if strings.EqualFold(trigger, follow) {
		return
	}

	id := patternID("sequence", strings.ToLower(clipRunes(trigger, 50)))
	if p, ok := m.patterns[id]; ok {
		p.Occurrences++
		p.LastSeen = m.now()
		p.Confidence = math.Min(0.3+float64(p.Occurrences)*0.1, 0.9)
		return
	}

	m.patterns[id] = &Pattern{
		ID:          id,
		Type:        "sequence",
		Trigger:     clipRunes(trigger, 100),
		Prediction:  clipRunes(follow, 100),
		Confidence:  0.3,
		Occurrences: 1,
		LastSeen:    m.now(),
	}
}

// detectTimePatterns learns inputs that repeat within the same hour of day.
// Callers hold the lock.
func (m *PredictionModule) detectTimePatterns() {
	if len(m.history) < 3 {
		return
	}

	counts := map[int]map[string]int{}
	for _, rec := range m.history {
		hour := rec.at.Hour()
		key := strings.ToLower(clipRunes(rec.text, 50))
		if counts[hour] == nil {
			counts[hour] = map[string]int{}
		}
		counts[hour][key]++
	}

	for hour, inputs := range counts {
		best, bestCount := "", 0
		for text, count := range inputs {
			if count > bestCount {
				best, bestCount = text, count
			}
		}
		if bestCount < 2 {
			continue
		}

		id := patternID("time_based", fmt.Sprintf("hour_%d", hour))
		if _, ok := m.patterns[id]; ok {
			continue
		}
		m.patterns[id] = &Pattern{
			ID:          id,
			Type:        "time_based",
			Trigger:     fmt.Sprintf("hour:%d", hour),
			Prediction:  best,
			Confidence:  0.4,
			Occurrences: bestCount,
			LastSeen:    m.now(),
			Hour:        hour,
		}
	}
}

// pruneExpired drops predictions past their expiry. Callers hold the lock.
func (m *PredictionModule) pruneExpired() {
	now := m.now()
	var active []Prediction
	for _, p := range m.predictions {
		if p.ExpiresAt.After(now) {
			active = append(active, p)
		}
	}
	m.predictions = active
}

// refreshPredictions derives new predictions from the latest input. Only
// RecordInput mints predictions; reads just prune. Returns the fresh ones.
// Callers hold the lock.
func (m *PredictionModule) refreshPredictions() []Prediction {
	now := m.now()
	m.pruneExpired()

	if len(m.history) == 0 {
		return nil
	}
	last := strings.ToLower(clipRunes(m.history[len(m.history)-1].text, 50))

	seen := map[string]bool{}
	for _, p := range m.predictions {
		seen[strings.ToLower(p.Input)] = true
	}

	var added []Prediction
	for _, pattern := range m.patterns {
		if pattern.Confidence < PatternConfidenceThreshold {
			continue
		}

		var pred *Prediction
		switch pattern.Type {
		case "sequence":
			if last == strings.ToLower(clipRunes(pattern.Trigger, 50)) {
				pred = &Prediction{
					Input:      pattern.Prediction,
					Confidence: pattern.Confidence,
					Reasoning:  fmt.Sprintf("Sequence pattern: %q is often followed by this", clipRunes(pattern.Trigger, 30)),
					PatternID:  pattern.ID,
					CreatedAt:  now,
					ExpiresAt:  now.Add(PredictionExpiry),
				}
			}
		case "time_based":
			if pattern.Hour == now.Hour() {
				pred = &Prediction{
					Input:      pattern.Prediction,
					Confidence: pattern.Confidence * 0.8,
					Reasoning:  fmt.Sprintf("Time-based pattern: common input at hour %d", now.Hour()),
					PatternID:  pattern.ID,
					CreatedAt:  now,
					ExpiresAt:  now.Add(PredictionExpiry),
				}
			}
		}

		if pred == nil || seen[strings.ToLower(pred.Input)] {
			continue
		}
		seen[strings.ToLower(pred.Input)] = true
		m.predictions = append(m.predictions, *pred)
		added = append(added, *pred)
	}

	sort.SliceStable(m.predictions, func(i, j int) bool {
		return m.predictions[i].Confidence > m.predictions[j].Confidence
	})
	if len(m.predictions) > maxActivePredictions {
		m.predictions = m.predictions[:maxActivePredictions]
	}
	return added
}

// PredictNext returns the most likely next input, if any.
func (m *PredictionModule) PredictNext() *Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpired()
	if len(m.predictions) == 0 {
		return nil
	}
	pred := m.predictions[0]
	return &pred
}

// Predictions lists the active predictions at or above minConfidence, sorted
// by confidence.
func (m *PredictionModule) Predictions(minConfidence float64) []Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictionsLocked(minConfidence)
}

func (m *PredictionModule) predictionsLocked(minConfidence float64) []Prediction {
	m.pruneExpired()

	var out []Prediction
	for _, p := range m.predictions {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out
}

// Patterns lists the detected patterns.
func (m *PredictionModule) Patterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Pattern
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	return out
}

// PatternCount reports how many patterns have been detected.
func (m *PredictionModule) PatternCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patterns)
}

// Summary renders the active predictions for a human reader.
func (m *PredictionModule) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	predictions := m.predictionsLocked(PatternConfidenceThreshold)
	if len(predictions) == 0 {
		return "No active predictions"
	}

	lines := []string{"Predictions:"}
	for i, pred := range predictions {
		if i == 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %q (%.0f%%) - %s", i+1, pred.Input, pred.Confidence*100, pred.Reasoning))
	}
	return strings.Join(lines, "\n")
}

// PredictWithLLM asks the model for a prediction when the heuristics are not
// enough. Returns nil without error when no thinker is wired or the reply
// carries no prediction.
func (m *PredictionModule) PredictWithLLM(ctx context.Context, contextText string) (*Prediction, error) {
	m.mu.Lock()
	think := m.think
	var recent []string
	start := len(m.history) - 10
	if start < 0 {
		start = 0
	}
	for _, rec := range m.history[start:] {
		recent = append(recent, "- "+rec.text)
	}
	m.mu.Unlock()

	if think == nil {
		return nil, nil
	}

	prompt, err := prompts.Render("prediction", prompts.PredictionTemplate, prompts.PredictionData{
		History: strings.Join(recent, "\n"),
		Context: contextText,
	})
	if err != nil {
		return nil, err
	}

	response, err := think(ctx, prompt)
	if err != nil {
		return nil, err
	}

	prediction := Prediction{Confidence: 0.5}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Prediction:"):
			prediction.Input = strings.TrimSpace(strings.TrimPrefix(line, "Prediction:"))
		case strings.HasPrefix(line, "Confidence:"):
			if v, perr := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "Confidence:")), 64); perr == nil {
				prediction.Confidence = v
			}
		case strings.HasPrefix(line, "Reasoning:"):
			prediction.Reasoning = strings.TrimSpace(strings.TrimPrefix(line, "Reasoning:"))
		}
	}

	if prediction.Input == "" {
		return nil, nil
	}
	if prediction.Reasoning == "" {
		prediction.Reasoning = "LLM prediction"
	}
	prediction.CreatedAt = m.now()
	prediction.ExpiresAt = m.now().Add(time.Minute)
	return &prediction, nil
}

// ClearHistory wipes the input window and the active predictions.
func (m *PredictionModule) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.predictions = nil
}

// ClearPatterns wipes the learned patterns and the active predictions.
func (m *PredictionModule) ClearPatterns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = map[string]*Pattern{}
	m.predictions = nil
}
