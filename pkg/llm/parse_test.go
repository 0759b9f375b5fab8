package llm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/pkg/llm"
)

var _ = Describe("ParseStructuredResponse", func() {
	It("parses a clean JSON object", func() {
		obj := llm.ParseStructuredResponse(`{"thought": "ok", "commands": []}`)
		Expect(obj).ToNot(BeNil())
		Expect(obj["thought"]).To(Equal("ok"))
	})

	It("recovers the same object from a fenced response", func() {
		plain := `{"action_type": "response", "reasoning": "done"}`
		fenced := "```json\n" + plain + "\n```"

		Expect(llm.ParseStructuredResponse(fenced)).To(Equal(llm.ParseStructuredResponse(plain)))
	})

	It("handles fences without a language tag", func() {
		obj := llm.ParseStructuredResponse("```\n{\"a\": 1}\n```")
		Expect(obj).To(HaveKey("a"))
	})

	It("extracts the object out of surrounding prose", func() {
		obj := llm.ParseStructuredResponse(`Sure! Here is the plan: {"a": 1, "b": [2, 3]} Hope that helps.`)
		Expect(obj).ToNot(BeNil())
		Expect(obj["a"]).To(BeNumerically("==", 1))
	})

	It("repairs missing closing brackets in nesting order", func() {
		obj := llm.ParseStructuredResponse(`{"commands": [{"type": "wait", "content": "idle"`)
		Expect(obj).ToNot(BeNil())
		commands, ok := obj["commands"].([]interface{})
		Expect(ok).To(BeTrue())
		Expect(commands).To(HaveLen(1))
	})

	It("closes an unterminated string before balancing", func() {
		obj := llm.ParseStructuredResponse(`{"thought": "I was cut of`)
		Expect(obj).ToNot(BeNil())
		Expect(obj["thought"]).To(HavePrefix("I was cut"))
	})

	It("returns nil when nothing object-shaped exists", func() {
		Expect(llm.ParseStructuredResponse("I cannot answer in JSON, sorry.")).To(BeNil())
		Expect(llm.ParseStructuredResponse("")).To(BeNil())
	})

	It("returns nil for irreparable garbage", func() {
		Expect(llm.ParseStructuredResponse(`{]]{{"`)).To(BeNil())
	})
})
