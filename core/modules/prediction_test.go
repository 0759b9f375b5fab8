package modules_test

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/core/modules"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var _ = Describe("PredictionModule", func() {
	var (
		clock *fakeClock
		m     *modules.PredictionModule
	)

	BeforeEach(func() {
		clock = newFakeClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
		m = modules.NewPrediction(modules.WithPredictionClock(clock.Now))
	})

	Describe("sequence patterns", func() {
		It("predicts the follow-up after seeing a pair", func() {
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			clock.Advance(time.Hour)
			m.RecordInput("check email")

			pred := m.PredictNext()
			Expect(pred).NotTo(BeNil())
			Expect(pred.Input).To(Equal("open calendar"))
			Expect(pred.Confidence).To(BeNumerically("~", 0.3, 0.001))
			Expect(pred.Reasoning).To(ContainSubstring("Sequence pattern"))
			Expect(pred.PatternID).To(HavePrefix("pat_"))
		})

		It("strengthens the pattern each time the pair repeats", func() {
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			clock.Advance(time.Hour)
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")

			var found bool
			for _, p := range m.Patterns() {
				if p.Type == "sequence" && p.Trigger == "check email" {
					found = true
					Expect(p.Occurrences).To(Equal(2))
					Expect(p.Confidence).To(BeNumerically("~", 0.5, 0.001))
				}
			}
			Expect(found).To(BeTrue())
		})

		It("ignores pairs that only differ in case", func() {
			m.RecordInput("Deploy")
			m.RecordInput("deploy")
			Expect(m.PatternCount()).To(Equal(0))
			Expect(m.PredictNext()).To(BeNil())
		})
	})

	Describe("time patterns", func() {
		It("spots inputs that recur within the same hour", func() {
			m.RecordInput("standup notes")
			clock.Advance(5 * time.Minute)
			m.RecordInput("standup notes")
			clock.Advance(5 * time.Minute)
			m.RecordInput("coffee break")

			var timePattern *modules.Pattern
			for _, p := range m.Patterns() {
				if p.Type == "time_based" {
					pp := p
					timePattern = &pp
				}
			}
			Expect(timePattern).NotTo(BeNil())
			Expect(timePattern.Hour).To(Equal(9))
			Expect(timePattern.Prediction).To(Equal("standup notes"))
			Expect(timePattern.Confidence).To(BeNumerically("~", 0.4, 0.001))

			pred := m.PredictNext()
			Expect(pred).NotTo(BeNil())
			Expect(pred.Input).To(Equal("standup notes"))
			Expect(pred.Confidence).To(BeNumerically("~", 0.32, 0.001))
			Expect(pred.Reasoning).To(ContainSubstring("hour 9"))
		})
	})

	Describe("active predictions", func() {
		It("expire after their time to live", func() {
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			clock.Advance(time.Hour)
			m.RecordInput("check email")
			Expect(m.PredictNext()).NotTo(BeNil())

			clock.Advance(modules.PredictionExpiry + time.Second)
			Expect(m.PredictNext()).To(BeNil())
			Expect(m.Predictions(0)).To(BeEmpty())
		})

		It("keeps one prediction per distinct input", func() {
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			clock.Advance(time.Hour)
			m.RecordInput("check email")
			clock.Advance(time.Minute)
			m.RecordInput("open calendar")
			clock.Advance(time.Minute)
			m.RecordInput("check email")

			var inputs []string
			for _, p := range m.Predictions(0) {
				inputs = append(inputs, p.Input)
			}
			Expect(inputs).To(ConsistOf("open calendar", "check email"))
		})

		It("notifies the callback for each fresh prediction", func() {
			var fired []modules.Prediction
			m.OnPrediction(func(p modules.Prediction) { fired = append(fired, p) })

			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			Expect(fired).To(BeEmpty())

			clock.Advance(time.Hour)
			m.RecordInput("check email")
			Expect(fired).To(HaveLen(1))
			Expect(fired[0].Input).To(Equal("open calendar"))
		})
	})

	Describe("Summary", func() {
		It("reports no predictions on a fresh module", func() {
			Expect(m.Summary()).To(Equal("No active predictions"))
		})

		It("lists the active predictions", func() {
			m.RecordInput("check email")
			clock.Advance(time.Hour)
			m.RecordInput("open calendar")
			clock.Advance(time.Hour)
			m.RecordInput("check email")

			summary := m.Summary()
			Expect(summary).To(HavePrefix("Predictions:"))
			Expect(summary).To(ContainSubstring(`"open calendar"`))
			Expect(summary).To(ContainSubstring("(30%)"))
			Expect(summary).To(ContainSubstring("Sequence pattern"))
		})
	})

	Describe("PredictWithLLM", func() {
		It("returns nil when no thinker is wired", func() {
			pred, err := m.PredictWithLLM(context.Background(), "")
			Expect(err).ToNot(HaveOccurred())
			Expect(pred).To(BeNil())
		})

		It("parses the model's labeled reply", func() {
			var prompt string
			m = modules.NewPrediction(
				modules.WithPredictionClock(clock.Now),
				modules.WithPredictionThinker(func(ctx context.Context, p string) (string, error) {
					prompt = p
					return "Prediction: run the weekly report\nConfidence: 0.8\nReasoning: Friday routine", nil
				}),
			)
			m.RecordInput("check email")
			m.RecordInput("open calendar")

			pred, err := m.PredictWithLLM(context.Background(), "it is Friday")
			Expect(err).ToNot(HaveOccurred())
			Expect(prompt).To(ContainSubstring("- check email"))
			Expect(prompt).To(ContainSubstring("- open calendar"))
			Expect(prompt).To(ContainSubstring("it is Friday"))

			Expect(pred).NotTo(BeNil())
			Expect(pred.Input).To(Equal("run the weekly report"))
			Expect(pred.Confidence).To(BeNumerically("~", 0.8, 0.001))
			Expect(pred.Reasoning).To(Equal("Friday routine"))
			Expect(pred.ExpiresAt.After(pred.CreatedAt)).To(BeTrue())
		})

		It("falls back to the default confidence when the reply is vague", func() {
			m = modules.NewPrediction(
				modules.WithPredictionClock(clock.Now),
				modules.WithPredictionThinker(func(ctx context.Context, p string) (string, error) {
					return "Prediction: stretch\nConfidence: quite high", nil
				}),
			)

			pred, err := m.PredictWithLLM(context.Background(), "")
			Expect(err).ToNot(HaveOccurred())
			Expect(pred).NotTo(BeNil())
			Expect(pred.Confidence).To(BeNumerically("~", 0.5, 0.001))
			Expect(pred.Reasoning).To(Equal("LLM prediction"))
		})

		It("returns nil when the reply has no prediction line", func() {
			m = modules.NewPrediction(
				modules.WithPredictionThinker(func(ctx context.Context, p string) (string, error) {
					return "I cannot tell.", nil
				}),
			)

			pred, err := m.PredictWithLLM(context.Background(), "")
			Expect(err).ToNot(HaveOccurred())
			Expect(pred).To(BeNil())
		})
	})

	It("clears patterns and history independently", func() {
		m.RecordInput("check email")
		clock.Advance(time.Hour)
		m.RecordInput("open calendar")
		clock.Advance(time.Hour)
		m.RecordInput("check email")
		Expect(m.PatternCount()).To(BeNumerically(">", 0))
		Expect(m.PredictNext()).NotTo(BeNil())

		m.ClearPatterns()
		Expect(m.PatternCount()).To(Equal(0))
		Expect(m.PredictNext()).To(BeNil())

		m.ClearHistory()
		m.RecordInput("fresh start")
		clock.Advance(time.Hour)
		m.RecordInput("new habit")
		Expect(m.PatternCount()).To(Equal(1))
	})
})

var _ = Describe("prediction summaries", func() {
	It("truncates long trigger text in the reasoning", func() {
		clock := newFakeClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
		m := modules.NewPrediction(modules.WithPredictionClock(clock.Now))

		long := strings.Repeat("very long trigger ", 10)
		m.RecordInput(long)
		clock.Advance(time.Hour)
		m.RecordInput("short follow")
		clock.Advance(time.Hour)
		m.RecordInput(long)

		pred := m.PredictNext()
		Expect(pred).NotTo(BeNil())
		Expect(len(pred.Reasoning)).To(BeNumerically("<", 100))
	})
})
