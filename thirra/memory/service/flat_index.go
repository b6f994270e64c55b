package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultMaxChunksPerConversation = 2000
	DefaultEmbedBatchSize           = 32
	DefaultEmbedConcurrency         = 4
)

// SemanticIndexOptions tune chunking and embedding.
type SemanticIndexOptions struct {
	ChunkSize          int
	ChunkOverlap       int
	MaxChunks          int  // per conversation; oldest chunks are evicted first
	BatchSize          int  // texts per EmbedBatch call
	Concurrency        int  // concurrent EmbedBatch calls
	IndexAssistantText bool // index assistant replies as well as user text
}

// SemanticIndex is a per-conversation flat vector index searched by linear cosine scan.
type SemanticIndex struct {
	states  *StateStore[*conversationIndex]
	opts    SemanticIndexOptions
	metrics *Metrics
	logger  zerolog.Logger
}

type conversationIndex struct {
	mu        sync.Mutex
	chunks    []IndexedChunk    // insertion order
	seen      *roaring64.Bitmap // digests of stored chunks
	watermark int               // turns already indexed
}

type pendingChunk struct {
	id   uint64
	text string
}

type embeddedBatch struct {
	start int
	vecs  [][]float64
}

// NewSemanticIndex creates an index whose per-conversation state is bounded by states.
func NewSemanticIndex(states StateStoreOptions, opts SemanticIndexOptions, metrics *Metrics, logger zerolog.Logger) *SemanticIndex {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunksPerConversation
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultEmbedConcurrency
	}
	return &SemanticIndex{
		states:  NewStateStore[*conversationIndex](states),
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "semantic_index").Logger(),
	}
}

// EnsureIndexed embeds turn text past the conversation's watermark plus the given files.
// Chunks already stored are skipped. The watermark only advances when embedding succeeds.
// It returns the number of chunks added.
func (s *SemanticIndex) EnsureIndexed(
	ctx context.Context,
	conversationID string,
	embedder ports.Embedder,
	turns []ports.ConversationTurn,
	files []EphemeralFile,
) (int, error) {
	if conversationID == "" {
		return 0, ErrEmptyConversationID
	}
	if embedder == nil {
		return 0, nil
	}

	idx := s.states.GetOrCreate(conversationID, func() *conversationIndex {
		return &conversationIndex{seen: roaring64.New()}
	})

	idx.mu.Lock()
	from := idx.watermark
	if from > len(turns) {
		// The store shrank; rescan once and let the watermark follow the shorter history.
		from = 0
		idx.watermark = 0
	}
	pending := s.collect(idx, turns[from:], files)
	idx.mu.Unlock()

	if len(pending) > 0 {
		vecs, err := s.embed(ctx, embedder, pending)
		if err != nil {
			return 0, fmt.Errorf("embed %d chunks for %s: %w", len(pending), conversationID, err)
		}

		added := 0
		idx.mu.Lock()
		for i, p := range pending {
			if len(vecs[i]) == 0 || idx.seen.Contains(p.id) {
				continue
			}
			idx.chunks = append(idx.chunks, IndexedChunk{ID: p.id, Text: p.text, Embedding: vecs[i]})
			idx.seen.Add(p.id)
			added++
		}
		for len(idx.chunks) > s.opts.MaxChunks {
			idx.seen.Remove(idx.chunks[0].ID)
			idx.chunks = idx.chunks[1:]
		}
		if len(turns) > idx.watermark {
			idx.watermark = len(turns)
		}
		idx.mu.Unlock()

		s.metrics.RecordIndexed(added)
		return added, nil
	}

	idx.mu.Lock()
	if len(turns) > idx.watermark {
		idx.watermark = len(turns)
	}
	idx.mu.Unlock()
	return 0, nil
}

// collect chunks the new text and drops chunks already indexed. Caller holds idx.mu.
func (s *SemanticIndex) collect(idx *conversationIndex, turns []ports.ConversationTurn, files []EphemeralFile) []pendingChunk {
	var texts []string
	for _, t := range turns {
		if t.UserText != "" {
			texts = append(texts, t.UserText)
		}
		if s.opts.IndexAssistantText && t.AssistantText != "" {
			texts = append(texts, t.AssistantText)
		}
	}
	for _, f := range files {
		if f.Content != "" {
			texts = append(texts, f.Content)
		}
	}

	var pending []pendingChunk
	batch := make(map[uint64]struct{})
	for _, text := range texts {
		for _, chunk := range ChunkText(text, s.opts.ChunkSize, s.opts.ChunkOverlap) {
			norm := normalizeChunk(chunk)
			if norm == "" {
				continue
			}
			id := chunkDigest(norm)
			if idx.seen.Contains(id) {
				continue
			}
			if _, dup := batch[id]; dup {
				continue
			}
			batch[id] = struct{}{}
			pending = append(pending, pendingChunk{id: id, text: chunk})
		}
	}
	return pending
}

// embed fans batches out on a bounded pool. The first failure cancels the rest.
func (s *SemanticIndex) embed(ctx context.Context, embedder ports.Embedder, pending []pendingChunk) ([][]float64, error) {
	p := pool.NewWithResults[embeddedBatch]().
		WithContext(ctx).
		WithMaxGoroutines(s.opts.Concurrency).
		WithCancelOnError()

	for start := 0; start < len(pending); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		texts := make([]string, 0, end-start)
		for _, c := range pending[start:end] {
			texts = append(texts, c.text)
		}
		p.Go(func(ctx context.Context) (embeddedBatch, error) {
			vecs, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return embeddedBatch{}, err
			}
			if len(vecs) != len(texts) {
				return embeddedBatch{}, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			return embeddedBatch{start: start, vecs: vecs}, nil
		})
	}

	batches, err := p.Wait()
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(pending))
	for _, b := range batches {
		copy(out[b.start:], b.vecs)
	}
	return out, nil
}

// Retrieve returns the topK chunks most similar to query. When the query cannot be
// embedded the result is empty and no error is returned.
func (s *SemanticIndex) Retrieve(
	ctx context.Context,
	conversationID string,
	embedder ports.Embedder,
	query string,
	topK int,
) (Retrieval, error) {
	if topK <= 0 || embedder == nil || query == "" {
		return Retrieval{}, nil
	}
	idx, ok := s.states.Get(conversationID)
	if !ok {
		return Retrieval{}, nil
	}

	qv, err := embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("query embedding failed")
		return Retrieval{}, nil
	}
	qNorm := floats.Norm(qv, 2)
	if qNorm == 0 {
		return Retrieval{}, nil
	}

	idx.mu.Lock()
	results := make([]RetrievalResult, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		if len(c.Embedding) != len(qv) {
			continue
		}
		cNorm := floats.Norm(c.Embedding, 2)
		if cNorm == 0 {
			continue
		}
		results = append(results, RetrievalResult{
			Text:       c.Text,
			Similarity: floats.Dot(qv, c.Embedding) / (qNorm * cNorm),
		})
	}
	idx.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}

	out := Retrieval{Results: results}
	if len(results) > 0 {
		out.MaxSimilarity = results[0].Similarity
	}
	return out, nil
}

// Len returns the number of chunks held for the conversation.
func (s *SemanticIndex) Len(conversationID string) int {
	idx, ok := s.states.Get(conversationID)
	if !ok {
		return 0
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.chunks)
}

// Forget drops the conversation's index.
func (s *SemanticIndex) Forget(conversationID string) {
	s.states.Delete(conversationID)
}

// Close drops every index.
func (s *SemanticIndex) Close() {
	s.states.Close()
}
