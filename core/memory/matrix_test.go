package memory_test

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/philippgille/chromem-go"

	"github.com/mudler/LocalEntity/core/memory"
)

// stubEmbedding maps each distinct text onto its own axis, so identical texts
// are perfect matches and different texts are orthogonal.
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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var _ = Describe("Matrix", func() {
	var (
		ctx    context.Context
		matrix *memory.Matrix
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		matrix, err = memory.New(memory.WithEmbeddingFunc(stubEmbedding()))
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(matrix.Close()).To(Succeed())
	})

	It("requires an embedding source", func() {
		_, err := memory.New()
		Expect(err).To(HaveOccurred())
	})

	Describe("Save", func() {
		It("stores entries and skips near-duplicates", func() {
			id, err := matrix.Save(ctx, "the sky is blue", "user", 0.5, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(id).ToNot(BeEmpty())
			Expect(matrix.Count()).To(Equal(1))

			dup, err := matrix.Save(ctx, "the sky is blue", "user", 0.5, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(dup).To(BeEmpty())
			Expect(matrix.Count()).To(Equal(1))

			other, err := matrix.Save(ctx, "quarterly report due friday", "user", 0.5, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(other).ToNot(BeEmpty())
			Expect(matrix.Count()).To(Equal(2))
		})

		It("rejects empty text", func() {
			_, err := matrix.Save(ctx, "", "user", 0.5, nil)
			Expect(err).To(HaveOccurred())
		})

		It("chunks long texts into multiple entries", func() {
			chunked, err := memory.New(
				memory.WithEmbeddingFunc(stubEmbedding()),
				memory.WithChunking(60, 10),
			)
			Expect(err).ToNot(HaveOccurred())
			defer chunked.Close()

			long := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 8)
			id, err := chunked.Save(ctx, long, "user", 0.5, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(id).ToNot(BeEmpty())
			Expect(chunked.Count()).To(BeNumerically(">", 1))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			_, err := matrix.Save(ctx, "the meeting about project atlas went well", "spirit", 0.8, nil)
			Expect(err).ToNot(HaveOccurred())
			_, err = matrix.Save(ctx, "ate pizza for lunch", "user", 0.3, nil)
			Expect(err).ToNot(HaveOccurred())
		})

		It("finds semantic matches with their similarity as relevance", func() {
			results, err := matrix.Search(ctx, "the meeting about project atlas went well", 0.7, 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).ToNot(BeEmpty())
			Expect(results[0].Entry.Text).To(Equal("the meeting about project atlas went well"))
			Expect(results[0].Entry.Source).To(Equal("spirit"))
			Expect(results[0].Entry.Importance).To(BeNumerically("~", 0.8, 0.001))
			Expect(results[0].Relevance).To(BeNumerically("~", 1.0, 0.01))
		})

		It("falls back to keyword matches at the threshold floor", func() {
			results, err := matrix.Search(ctx, "pizza", 0.7, 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Entry.Text).To(Equal("ate pizza for lunch"))
			Expect(results[0].Entry.Source).To(Equal("user"))
			Expect(results[0].Relevance).To(BeNumerically("~", 0.7, 0.001))
		})

		It("rejects empty queries", func() {
			_, err := matrix.Search(ctx, "", 0.7, 5)
			Expect(err).To(HaveOccurred())
		})

		It("loosens the floor for associative search", func() {
			results, err := matrix.AutoSearch(ctx, "ate pizza for lunch", 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).ToNot(BeEmpty())
		})
	})

	It("deletes entries from both halves", func() {
		id, err := matrix.Save(ctx, "temporary note", "user", 0.5, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(matrix.Count()).To(Equal(1))

		Expect(matrix.Delete(ctx, id)).To(Succeed())
		Expect(matrix.Count()).To(Equal(0))

		results, err := matrix.Search(ctx, "temporary", 0.5, 5)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("lists stored entries", func() {
		_, err := matrix.Save(ctx, "first note", "user", 0.5, nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = matrix.Save(ctx, "second note", "spirit", 0.9, nil)
		Expect(err).ToNot(HaveOccurred())

		entries, err := matrix.All(10)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		var texts []string
		for _, e := range entries {
			texts = append(texts, e.Text)
		}
		Expect(texts).To(ConsistOf("first note", "second note"))
	})

	Describe("retention", func() {
		var clock *fakeClock

		BeforeEach(func() {
			clock = &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
			var err error
			matrix, err = memory.New(
				memory.WithEmbeddingFunc(stubEmbedding()),
				memory.WithClock(clock.Now),
				memory.WithRetention(time.Hour, 2),
			)
			Expect(err).ToNot(HaveOccurred())
		})

		It("does nothing while the store is small", func() {
			_, err := matrix.Save(ctx, "a single note", "user", 0.5, nil)
			Expect(err).ToNot(HaveOccurred())

			performed, err := matrix.CheckAndCleanup(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(performed).To(BeFalse())
			Expect(matrix.Count()).To(Equal(1))
		})

		It("evicts only aged, low-value, non-foundational entries", func() {
			_, err := matrix.Save(ctx, "I am a curious entity", "personality", 0.9, map[string]string{"type": "foundational"})
			Expect(err).ToNot(HaveOccurred())
			_, err = matrix.Save(ctx, "the user's name is Sam", "spirit", 0.1, map[string]string{"type": "foundational"})
			Expect(err).ToNot(HaveOccurred())
			_, err = matrix.Save(ctx, "decided to focus on the atlas project", "spirit", 0.9, nil)
			Expect(err).ToNot(HaveOccurred())
			_, err = matrix.Save(ctx, "small talk about the weather", "conversation", 0.2, nil)
			Expect(err).ToNot(HaveOccurred())

			clock.Advance(8 * 24 * time.Hour)

			_, err = matrix.Save(ctx, "fresh chat about lunch plans", "conversation", 0.2, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(matrix.Count()).To(Equal(5))

			performed, err := matrix.CheckAndCleanup(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(performed).To(BeTrue())
			Expect(matrix.Count()).To(Equal(4))

			entries, err := matrix.All(10)
			Expect(err).ToNot(HaveOccurred())
			var texts []string
			for _, e := range entries {
				texts = append(texts, e.Text)
			}
			Expect(texts).ToNot(ContainElement("small talk about the weather"))
			Expect(texts).To(ContainElement("I am a curious entity"))
			Expect(texts).To(ContainElement("the user's name is Sam"))
		})
	})
})
