package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mudler/LocalEntity/pkg/llm"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

const (
	collectionName = "entity_memory"

	// dedupSimilarity is the vector similarity above which a new memory is
	// considered a duplicate of an existing one and silently skipped.
	dedupSimilarity = 0.9

	// autoSearchThreshold is the looser relevance floor used when memories
	// are pulled in associatively rather than by an explicit query.
	autoSearchThreshold = 0.5

	defaultChunkSize    = 2000
	defaultChunkOverlap = 200

	defaultCleanupInterval = 24 * time.Hour
	defaultMaxEntries      = 1000

	retentionImportance = 0.7
	retentionWindow     = 7 * 24 * time.Hour

	cleanupScanLimit = 2000
)

// Entry is a single stored memory.
type Entry struct {
	ID         string
	Text       string
	Source     string
	Importance float64
	Timestamp  time.Time
	Metadata   map[string]string
}

// SearchResult pairs an entry with how strongly it matched.
type SearchResult struct {
	Entry     Entry
	Relevance float64
}

// indexedMemory is the shape stored in the keyword index.
type indexedMemory struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Importance float64 `json:"importance"`
	Timestamp  string  `json:"timestamp"`
	Type       string  `json:"type"`
}

// Matrix is a hybrid memory store: a vector collection for semantic recall
// and a keyword index for exact-term recall, kept in step under the same ids.
type Matrix struct {
	db         *chromem.DB
	collection *chromem.Collection
	index      bleve.Index
	splitter   textsplitter.RecursiveCharacter

	mu          sync.Mutex
	lastCleanup time.Time

	cleanupInterval time.Duration
	maxEntries      int

	embed          chromem.EmbeddingFunc
	client         llm.Client
	embeddingModel string

	persistPath  string
	chunkSize    int
	chunkOverlap int
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithPersistPath stores both halves of the matrix under dir instead of in
// memory.
func WithPersistPath(dir string) Option {
	return func(m *Matrix) { m.persistPath = dir }
}

// WithEmbeddingFunc overrides how texts are embedded.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) Option {
	return func(m *Matrix) { m.embed = fn }
}

// WithClient embeds through an OpenAI-compatible endpoint.
func WithClient(client llm.Client) Option {
	return func(m *Matrix) { m.client = client }
}

// WithEmbeddingModel selects the embedding model used with WithClient.
func WithEmbeddingModel(model string) Option {
	return func(m *Matrix) { m.embeddingModel = model }
}

// WithChunking overrides how long texts are split before embedding.
func WithChunking(size, overlap int) Option {
	return func(m *Matrix) {
		if size > 0 {
			m.chunkSize = size
		}
		if overlap >= 0 {
			m.chunkOverlap = overlap
		}
	}
}

// WithRetention overrides the cleanup cadence and the entry count that forces
// an early sweep.
func WithRetention(interval time.Duration, maxEntries int) Option {
	return func(m *Matrix) {
		if interval > 0 {
			m.cleanupInterval = interval
		}
		if maxEntries > 0 {
			m.maxEntries = maxEntries
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matrix) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matrix) {
		if l != nil {
			m.logger = l
		}
	}
}

// New builds a Matrix. Without a persist path both stores live in memory;
// either an explicit embedding func or an API client must be provided.
func New(opts ...Option) (*Matrix, error) {
	m := &Matrix{
		embeddingModel:  string(openai.AdaEmbeddingV2),
		chunkSize:       defaultChunkSize,
		chunkOverlap:    defaultChunkOverlap,
		cleanupInterval: defaultCleanupInterval,
		maxEntries:      defaultMaxEntries,
		now:             time.Now,
		logger:          xlog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}

	if m.embed == nil {
		if m.client == nil {
			return nil, fmt.Errorf("memory: an embedding func or an API client is required")
		}
		m.embed = m.clientEmbedding()
	}

	if err := m.openVectorStore(); err != nil {
		return nil, err
	}
	if err := m.openKeywordIndex(); err != nil {
		return nil, err
	}

	m.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(m.chunkSize),
		textsplitter.WithChunkOverlap(m.chunkOverlap),
	)

	return m, nil
}

func (m *Matrix) openVectorStore() error {
	var err error
	if m.persistPath != "" {
		m.db, err = chromem.NewPersistentDB(filepath.Join(m.persistPath, "vectors"), true)
		if err != nil {
			return fmt.Errorf("opening vector store: %w", err)
		}
	} else {
		m.db = chromem.NewDB()
	}

	m.collection, err = m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return fmt.Errorf("opening memory collection: %w", err)
	}
	return nil
}

func (m *Matrix) openKeywordIndex() error {
	mapping := bleve.NewIndexMapping()
	mapping.TypeField = "_type"

	if m.persistPath == "" {
		idx, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return fmt.Errorf("opening keyword index: %w", err)
		}
		m.index = idx
		return nil
	}

	path := filepath.Join(m.persistPath, "memory.bleve")
	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return fmt.Errorf("opening keyword index: %w", err)
	}
	m.index = idx
	return nil
}

func (m *Matrix) clientEmbedding() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(m.embeddingModel),
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("creating embedding: empty response")
		}
		return resp.Data[0].Embedding, nil
	}
}

func (m *Matrix) generateID(text string) string {
	sum := sha256.Sum256([]byte(m.now().Format(time.RFC3339Nano) + ":" + text))
	return hex.EncodeToString(sum[:])[:16]
}

// Save stores a memory in both halves of the matrix. Texts too similar to an
// existing memory are skipped and yield an empty id. Long texts are chunked;
// the base id is returned.
func (m *Matrix) Save(ctx context.Context, text, source string, importance float64, metadata map[string]string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("memory: empty text")
	}

	if m.collection.Count() > 0 {
		existing, err := m.collection.Query(ctx, text, 1, nil, nil)
		if err != nil {
			m.logger.Debug("duplicate check failed", "error", err)
		} else if len(existing) > 0 && float64(existing[0].Similarity) > dedupSimilarity {
			m.logger.Debug("duplicate memory skipped",
				"text", preview(text, 30), "similarity", existing[0].Similarity)
			return "", nil
		}
	}

	id := m.generateID(text)
	timestamp := m.now()

	meta := map[string]string{
		"source":     source,
		"importance": strconv.FormatFloat(importance, 'f', -1, 64),
		"timestamp":  timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		meta[k] = v
	}

	chunks := []string{text}
	if len(text) > m.chunkSize {
		split, err := m.splitter.SplitText(text)
		if err == nil && len(split) > 1 {
			chunks = split
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docID := id
		if len(chunks) > 1 {
			docID = fmt.Sprintf("%s-%d", id, i)
		}
		docs = append(docs, chromem.Document{ID: docID, Content: chunk, Metadata: meta})
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("storing memory: %w", err)
	}

	for _, doc := range docs {
		err := m.index.Index(doc.ID, indexedMemory{
			Text:       doc.Content,
			Source:     source,
			Importance: importance,
			Timestamp:  timestamp.Format(time.RFC3339Nano),
			Type:       metadata["type"],
		})
		if err != nil {
			m.logger.Warn("keyword indexing failed", "id", doc.ID, "error", err)
		}
	}

	m.logger.Debug("memory saved", "id", id, "source", source, "text", preview(text, 50))
	return id, nil
}

// Search returns memories matching the query with relevance at or above
// threshold. Vector matches carry their similarity as relevance; keyword-only
// matches enter at the threshold floor since their scores are unbounded.
func (m *Matrix) Search(ctx context.Context, query string, threshold float64, maxResults int) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("memory: empty query")
	}
	if maxResults <= 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	var results []SearchResult

	if count := m.collection.Count(); count > 0 {
		n := maxResults
		if n > count {
			n = count
		}
		vector, err := m.collection.Query(ctx, query, n, nil, nil)
		if err != nil {
			m.logger.Warn("vector search failed", "error", err)
		} else {
			for _, r := range vector {
				relevance := float64(r.Similarity)
				if relevance < threshold {
					continue
				}
				seen[r.ID] = true
				results = append(results, SearchResult{Entry: entryFromVector(r), Relevance: relevance})
			}
		}
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = maxResults
	req.Fields = []string{"*"}
	keyword, err := m.index.Search(req)
	if err != nil {
		m.logger.Warn("keyword search failed", "error", err)
	} else {
		for _, hit := range keyword.Hits {
			if seen[hit.ID] {
				continue
			}
			results = append(results, SearchResult{Entry: entryFromFields(hit.ID, hit.Fields), Relevance: threshold})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// AutoSearch pulls associatively related memories for a context block, using
// a looser relevance floor than an explicit search.
func (m *Matrix) AutoSearch(ctx context.Context, contextText string, maxResults int) ([]SearchResult, error) {
	return m.Search(ctx, contextText, autoSearchThreshold, maxResults)
}

// Delete removes a memory from both halves.
func (m *Matrix) Delete(ctx context.Context, id string) error {
	if err := m.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	if err := m.index.Delete(id); err != nil {
		return fmt.Errorf("deleting memory %s from index: %w", id, err)
	}
	return nil
}

// All lists stored memories up to limit, in index order.
func (m *Matrix) All(limit int) ([]Entry, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = limit
	req.Fields = []string{"*"}
	res, err := m.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}

	entries := make([]Entry, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entries = append(entries, entryFromFields(hit.ID, hit.Fields))
	}
	return entries, nil
}

// Count is the number of stored entries.
func (m *Matrix) Count() int {
	return m.collection.Count()
}

// CheckAndCleanup sweeps out aged low-value memories when the store is due
// for it: either the retention interval has elapsed since the last sweep or
// the store has outgrown its size bound. Personality and foundational
// memories, entries with importance at or above 0.7, and anything from the
// last seven days survive.
func (m *Matrix) CheckAndCleanup(ctx context.Context) (bool, error) {
	m.mu.Lock()
	now := m.now()
	needs := m.Count() > m.maxEntries
	if !needs && !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) >= m.cleanupInterval {
		needs = true
	}
	if !needs {
		m.mu.Unlock()
		return false, nil
	}
	m.lastCleanup = now
	m.mu.Unlock()

	m.logger.Info("starting memory cleanup")

	entries, err := m.All(cleanupScanLimit)
	if err != nil {
		return false, err
	}

	cutoff := now.Add(-retentionWindow)
	removed := 0
	for _, e := range entries {
		if e.Source == "personality" || e.Metadata["type"] == "foundational" {
			continue
		}
		if e.Importance >= retentionImportance {
			continue
		}
		if e.Timestamp.After(cutoff) {
			continue
		}
		if err := m.Delete(ctx, e.ID); err != nil {
			m.logger.Warn("cleanup delete failed", "id", e.ID, "error", err)
			continue
		}
		removed++
	}

	m.logger.Info("memory cleanup complete", "removed", removed, "remaining", m.Count())
	return true, nil
}

// Clear drops every memory from both halves.
func (m *Matrix) Clear(ctx context.Context) error {
	if err := m.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("clearing memories: %w", err)
	}
	collection, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return fmt.Errorf("clearing memories: %w", err)
	}
	m.collection = collection

	entries, err := m.All(cleanupScanLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.index.Delete(e.ID); err != nil {
			return fmt.Errorf("clearing memory index: %w", err)
		}
	}
	return nil
}

// Persist flushes state to disk. The persistent vector store writes through
// on every change, so this only closes over the keyword index's batching.
func (m *Matrix) Persist() error {
	if m.persistPath == "" {
		return nil
	}
	m.logger.Debug("memory persisted", "path", m.persistPath)
	return nil
}

// Close releases the keyword index.
func (m *Matrix) Close() error {
	return m.index.Close()
}

func entryFromVector(r chromem.Result) Entry {
	e := Entry{
		ID:         r.ID,
		Text:       r.Content,
		Source:     "unknown",
		Importance: 0.5,
		Metadata:   map[string]string{},
	}
	for k, v := range r.Metadata {
		switch k {
		case "source":
			e.Source = v
		case "importance":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				e.Importance = f
			}
		case "timestamp":
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				e.Timestamp = t
			}
		default:
			e.Metadata[k] = v
		}
	}
	return e
}

func entryFromFields(id string, fields map[string]interface{}) Entry {
	e := Entry{
		ID:         id,
		Source:     "unknown",
		Importance: 0.5,
		Metadata:   map[string]string{},
	}
	if s, ok := fields["text"].(string); ok {
		e.Text = s
	}
	if s, ok := fields["source"].(string); ok && s != "" {
		e.Source = s
	}
	if f, ok := fields["importance"].(float64); ok {
		e.Importance = f
	}
	if s, ok := fields["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Timestamp = t
		}
	}
	if s, ok := fields["type"].(string); ok && s != "" {
		e.Metadata["type"] = s
	}
	return e
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
