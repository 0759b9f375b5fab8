package entity_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"

	"github.com/mudler/LocalEntity/core/brain"
	"github.com/mudler/LocalEntity/core/entity"
	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/pkg/config"
	"github.com/mudler/LocalEntity/pkg/llm"
)

const (
	delegateThought = `{"thought": "The user wants a hello-world page built.", "analysis": "Fresh request, act on it.",
		"commands": [{"type": "delegate", "content": "Create a hello-world HTML page and tell the user about it", "priority": "high"}]}`
	waitThought = `{"thought": "Nothing new to act on.", "analysis": "Standing by.",
		"commands": [{"type": "wait", "content": "", "priority": "low"}]}`
	createPageAction = `{"action_type": "tool_call", "reasoning": "build the page and report", "tool_calls": [
		{"tool": "create_file", "args": {"path": "hello.html", "content": "<h1>Hello, world!</h1>"}},
		{"tool": "say_to_user", "args": {"text": "I created hello.html for you."}}]}`
)

// splitBrainLLM routes requests on the system prompt: the execution agent's
// prompt carries the tool catalog, the deliberation agent's does not. The
// first deliberation request gets the delegation, later ones idle.
type splitBrainLLM struct {
	mu            sync.Mutex
	spiritPrompts []string
	brainPrompts  []string
	brainReply    string
}

func (s *splitBrainLLM) client() *llm.MockClient {
	return &llm.MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			system := ""
			if len(req.Messages) > 0 && req.Messages[0].Role == openai.ChatMessageRoleSystem {
				system = req.Messages[0].Content
			}
			prompt := req.Messages[len(req.Messages)-1].Content
			if strings.Contains(system, "ACT in the real world") {
				s.brainPrompts = append(s.brainPrompts, prompt)
				return llm.TextResponse(s.brainReply), nil
			}
			s.spiritPrompts = append(s.spiritPrompts, prompt)
			if len(s.spiritPrompts) == 1 {
				return llm.TextResponse(delegateThought), nil
			}
			return llm.TextResponse(waitThought), nil
		},
	}
}

func (s *splitBrainLLM) spiritPromptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spiritPrompts)
}

func (s *splitBrainLLM) spiritPrompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.spiritPrompts) {
		return ""
	}
	return s.spiritPrompts[i]
}

func fastParams(sandbox string) config.SystemParams {
	params := config.DefaultSystemParams()
	params.SpiritInterval = 500 * time.Millisecond
	params.BrainInterval = 100 * time.Millisecond
	params.SandboxPath = sandbox
	return params
}

// stubEmbedding puts each distinct text on its own axis.
func stubEmbedding() chromem.EmbeddingFunc {
	var mu sync.Mutex
	dims := map[string]int{}
	return func(_ context.Context, text string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		dim, ok := dims[text]
		if !ok {
			dim = len(dims)
			dims[text] = dim
		}
		vec := make([]float32, 64)
		vec[dim%64] = 1
		return vec, nil
	}
}

var _ = Describe("Entity", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		mock    *splitBrainLLM
		sandbox string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		mock = &splitBrainLLM{brainReply: createPageAction}
		sandbox = GinkgoT().TempDir()
	})

	AfterEach(func() {
		cancel()
	})

	newEntity := func(opts ...entity.Option) *entity.Entity {
		base := []entity.Option{
			entity.WithClient(mock.client()),
			entity.WithModel("test-model"),
			entity.WithSystemParams(fastParams(sandbox)),
		}
		e, err := entity.New(append(base, opts...)...)
		Expect(err).ToNot(HaveOccurred())
		return e
	}

	Context("construction", func() {
		It("requires a client and a model", func() {
			_, err := entity.New(entity.WithModel("m"))
			Expect(err).To(HaveOccurred())

			_, err = entity.New(entity.WithClient(mock.client()))
			Expect(err).To(HaveOccurred())
		})

		It("rejects out-of-range system params", func() {
			params := fastParams(sandbox)
			params.SpiritInterval = 100 * time.Millisecond
			_, err := entity.New(
				entity.WithClient(mock.client()),
				entity.WithModel("test-model"),
				entity.WithSystemParams(params),
			)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("spirit interval"))
		})

		It("registers the builtin tool set", func() {
			e := newEntity()
			names := e.ToolNames()
			Expect(names).To(ContainElements("say_to_user", "create_file", "read_file", "get_time"))
		})
	})

	Context("lifecycle", func() {
		It("starts and stops idempotently", func() {
			e := newEntity()
			Expect(e.IsRunning()).To(BeFalse())

			e.Start(ctx)
			e.Start(ctx)
			Expect(e.IsRunning()).To(BeTrue())

			e.Stop()
			e.Stop()
			Expect(e.IsRunning()).To(BeFalse())
		})

		It("drops signals when not running", func() {
			e := newEntity()
			e.InputSignal("anyone there?", types.SourceUser)
			Expect(e.PendingSignals()).To(BeZero())
		})
	})

	Context("end to end", func() {
		It("turns a user request into a tool action and exactly one reply", func() {
			e := newEntity()

			var mu sync.Mutex
			var outputs []string
			e.OnOutput(func(text string) {
				mu.Lock()
				defer mu.Unlock()
				outputs = append(outputs, text)
			})

			e.Start(ctx)
			defer e.Stop()

			e.InputSignal("Create a hello-world page", types.SourceUser)

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(outputs)
			}, "10s", "50ms").Should(Equal(1))

			mu.Lock()
			Expect(outputs[0]).To(Equal("I created hello.html for you."))
			mu.Unlock()

			history := e.BrainHistory()
			Expect(history).To(HaveLen(1))
			Expect(history[0].Type).To(Equal(types.ActionToolCall))
			Expect(history[0].Result).ToNot(BeNil())
			Expect(history[0].Result.TaskEnded).To(BeTrue())

			content, err := os.ReadFile(filepath.Join(sandbox, "hello.html"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(ContainSubstring("Hello, world!"))

			// No second reply shows up later.
			Consistently(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(outputs)
			}, "500ms", "100ms").Should(Equal(1))
		})

		It("relays the execution outcome back to the deliberation agent", func() {
			e := newEntity()
			e.Start(ctx)
			defer e.Stop()

			e.InputSignal("Create a hello-world page", types.SourceUser)

			// The second deliberation prompt is the relayed execution report.
			Eventually(mock.spiritPromptCount, "10s", "50ms").Should(BeNumerically(">=", 2))
			report := mock.spiritPrompt(1)
			Expect(report).To(ContainSubstring("[Execution report]"))
			Expect(report).To(ContainSubstring("tool_call"))
			Expect(report).ToNot(ContainSubstring("build the page and report"))

			Eventually(func() brain.TaskState { return e.BrainState() }, "5s", "50ms").
				Should(Equal(brain.StateIdle))
		})
	})

	Context("personality", func() {
		It("writes foundational memories and survives trivial lines", func() {
			matrix, err := memory.New(
				memory.WithEmbeddingFunc(stubEmbedding()),
			)
			Expect(err).ToNot(HaveOccurred())
			defer matrix.Close()

			personality := strings.Join([]string{
				"I am a patient and curious assistant.",
				"short",
				"",
				"I never give up on a task halfway through.",
			}, "\n")

			e := newEntity(
				entity.WithMemory(matrix),
				entity.WithPersonality(personality),
			)

			Expect(e.Personality()).To(Equal(personality))
			Expect(e.MemoryCount()).To(Equal(2))

			results, err := e.SearchMemory(context.Background(), "I am a patient and curious assistant.", 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).ToNot(BeEmpty())
			Expect(results[0].Entry.Metadata).To(HaveKeyWithValue("type", "foundational"))
		})
	})

	Context("memory pass-through", func() {
		It("errors without a matrix", func() {
			e := newEntity()
			_, err := e.SaveMemory(context.Background(), "note to self", "test")
			Expect(err).To(MatchError(entity.ErrNoMemory))
			Expect(e.MemoryCount()).To(BeZero())
		})
	})
})
