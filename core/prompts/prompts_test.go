package prompts_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/core/prompts"
)

var _ = Describe("Prompt rendering", func() {
	Context("signal analysis", func() {
		It("renders a fresh signal without a staleness marker", func() {
			out, err := prompts.Render("analysis", prompts.SpiritAnalysisTemplate, prompts.AnalysisData{
				CurrentTime: "2026-01-02 15:04:05",
				Context:     "no active task",
				Memories:    "none",
				Source:      "user",
				SignalTime:  "2026-01-02 15:04:03",
				Signal:      "hello there",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("hello there"))
			Expect(out).To(ContainSubstring("user"))
			Expect(out).ToNot(ContainSubstring("STALE"))
		})

		It("marks stale signals with their age", func() {
			out, err := prompts.Render("analysis", prompts.SpiritAnalysisTemplate, prompts.AnalysisData{
				CurrentTime: "2026-01-02 15:04:05",
				Context:     "no active task",
				Memories:    "none",
				Source:      "user",
				SignalTime:  "2026-01-02 15:03:00",
				Signal:      "old news",
				Stale:       true,
				Age:         65 * time.Second,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("STALE"))
			Expect(out).To(ContainSubstring("1m5s"))
		})
	})

	Context("execution prompts", func() {
		It("keeps the result placeholder literal in the system prompt", func() {
			out, err := prompts.Render("system", prompts.BrainSystemTemplate, prompts.SystemData{
				Tools: "- say_to_user: deliver text to the user",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("{{result}}"))
			Expect(out).To(ContainSubstring("say_to_user"))
		})

		It("renders a task with its priority and context", func() {
			out, err := prompts.Render("task", prompts.BrainTaskTemplate, prompts.TaskData{
				Task:     "tell the user a joke",
				Priority: "high",
				Context:  "the user enjoys puns",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("tell the user a joke"))
			Expect(out).To(ContainSubstring("high"))
			Expect(out).To(ContainSubstring("puns"))
		})

		It("quotes the malformed reply in the correction prompt", func() {
			out, err := prompts.Render("correction", prompts.BrainCorrectionTemplate, prompts.CorrectionData{
				Malformed: "sure, I'll do that!",
				Task:      "tell the user a joke",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("sure, I'll do that!"))
			Expect(out).To(ContainSubstring("tell the user a joke"))
		})
	})

	Context("auxiliary prompts", func() {
		It("embeds the dialog into the compression prompt", func() {
			out, err := prompts.Render("compress", prompts.CompressionTemplate, prompts.CompressData{
				History: "USER: what is the capital of France?\n\nASSISTANT: Paris.",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("capital of France"))
			Expect(out).To(ContainSubstring("SUMMARY:"))
		})

		It("bounds the plan size in the decomposition prompt", func() {
			out, err := prompts.Render("focus", prompts.FocusDecompositionTemplate, prompts.FocusData{
				Goal:     "research and summarize three articles",
				MaxSteps: 5,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("at most 5 steps"))
			Expect(out).To(ContainSubstring("research and summarize three articles"))
		})
	})

	It("fails on malformed templates", func() {
		_, err := prompts.Render("broken", "{{.Missing", nil)
		Expect(err).To(HaveOccurred())
	})
})
