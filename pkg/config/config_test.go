package config_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/pkg/config"
)

var _ = Describe("SystemParams", func() {
	It("accepts the defaults", func() {
		_, err := config.NewSystemParams(config.DefaultSystemParams())
		Expect(err).ToNot(HaveOccurred())
	})

	It("rejects a spirit interval below half a second", func() {
		p := config.DefaultSystemParams()
		p.SpiritInterval = 100 * time.Millisecond
		_, err := config.NewSystemParams(p)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("spirit interval"))
	})

	It("rejects a brain interval below a tenth of a second", func() {
		p := config.DefaultSystemParams()
		p.BrainInterval = 50 * time.Millisecond
		_, err := config.NewSystemParams(p)
		Expect(err).To(HaveOccurred())
	})

	It("rejects compression thresholds outside [0.5, 1.0]", func() {
		for _, v := range []float64{0.2, 0.49, 1.01, 2} {
			p := config.DefaultSystemParams()
			p.CompressionThreshold = v
			_, err := config.NewSystemParams(p)
			Expect(err).To(HaveOccurred(), "threshold %v should be rejected", v)
		}
	})

	It("accepts boundary compression thresholds", func() {
		for _, v := range []float64{0.5, 1.0} {
			p := config.DefaultSystemParams()
			p.CompressionThreshold = v
			_, err := config.NewSystemParams(p)
			Expect(err).ToNot(HaveOccurred())
		}
	})

	It("rejects out-of-range temperatures", func() {
		p := config.DefaultSystemParams()
		p.BrainTemperature = 2.5
		_, err := config.NewSystemParams(p)
		Expect(err).To(HaveOccurred())

		p = config.DefaultSystemParams()
		p.SpiritTemperature = -0.1
		_, err = config.NewSystemParams(p)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a non-positive token budget", func() {
		p := config.DefaultSystemParams()
		p.MaxTokens = 0
		_, err := config.NewSystemParams(p)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Providers", func() {
	It("resolves the known presets", func() {
		for _, name := range []string{"openai", "cerebras", "groq", "deepseek"} {
			p, err := config.LookupProvider(name)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.BaseURL).ToNot(BeEmpty())
			Expect(p.DefaultModel).ToNot(BeEmpty())
		}
	})

	It("fails on unknown providers", func() {
		_, err := config.LookupProvider("nope")
		Expect(err).To(HaveOccurred())
	})
})
