package tools_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	coretools "github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/services/tools"
)

var _ = Describe("GetTimeAction", func() {
	It("returns a timestamp the model can parse", func() {
		result, err := tools.NewGetTime().Run(context.Background(), coretools.Params{})
		Expect(err).ToNot(HaveOccurred())

		_, err = time.Parse("2006-01-02 15:04:05", result.Output)
		Expect(err).ToNot(HaveOccurred())
	})

	It("takes no parameters", func() {
		def := tools.NewGetTime().Definition()
		Expect(def.Name).To(Equal("get_time"))
		Expect(def.Category).To(Equal("utility"))
		Expect(def.Required).To(BeEmpty())
	})
})

var _ = Describe("ShellAction", func() {
	It("rejects an unparseable private key", func() {
		action := tools.NewShell(tools.ShellConfig{
			PrivateKey: "not a key",
			User:       "deploy",
			Host:       "example.com:22",
		})

		_, err := action.Run(context.Background(), coretools.Params{"command": "uptime"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("failed to parse private key"))
	})

	It("asks only for the command when the target is preconfigured", func() {
		def := tools.NewShell(tools.ShellConfig{User: "deploy", Host: "example.com:22"}).Definition()
		Expect(def.Name).To(Equal("run_shell"))
		Expect(def.Category).To(Equal("system"))
		Expect(def.Required).To(Equal([]string{"command"}))
	})

	It("asks for the target when unconfigured", func() {
		def := tools.NewShell(tools.ShellConfig{}).Definition()
		Expect(def.Required).To(ConsistOf("command", "host", "user"))
	})
})

var _ = Describe("Web tool definitions", func() {
	It("keeps the web tools under one category", func() {
		for name, tool := range map[string]coretools.Tool{
			"browse_webpage": tools.NewBrowse(),
			"web_search":     tools.NewSearch(2),
			"scrape_website": tools.NewScraper(),
		} {
			def := tool.Definition()
			Expect(def.Name).To(Equal(name))
			Expect(def.Category).To(Equal("web"))
			Expect(def.Required).To(ContainElement(def.ParamNames()[0]))
		}
	})
})
