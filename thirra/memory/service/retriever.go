package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/rs/zerolog"
)

const (
	DefaultRetrievalMaxContextChars = 4000

	contextSeparator = "\n---\n"
)

// RetrieverOptions tune semantic recall.
type RetrieverOptions struct {
	ComplexityThreshold float64 // KDynamic switch point
	RelativeThreshold   float64 // keep results >= factor * best
	MinSimilarity       float64 // absolute floor, 0 disables
	MaxContextChars     int
}

// Recall is the retrieved context for one query.
type Recall struct {
	K             int
	Results       []RetrievalResult
	MaxSimilarity float64
	ContextText   string
}

// Retriever indexes a conversation and recalls the chunks relevant to a query.
type Retriever struct {
	index   *SemanticIndex
	opts    RetrieverOptions
	metrics *Metrics
	logger  zerolog.Logger
}

// NewRetriever creates a retriever over index.
func NewRetriever(index *SemanticIndex, opts RetrieverOptions, metrics *Metrics, logger zerolog.Logger) *Retriever {
	if opts.ComplexityThreshold <= 0 {
		opts.ComplexityThreshold = DefaultComplexityThreshold
	}
	if opts.RelativeThreshold <= 0 {
		opts.RelativeThreshold = DefaultRelativeThreshold
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultRetrievalMaxContextChars
	}
	return &Retriever{
		index:   index,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "retriever").Logger(),
	}
}

// Recall brings the index up to date and returns the relevant chunks. Every failure
// degrades to an empty recall.
func (r *Retriever) Recall(
	ctx context.Context,
	conversationID string,
	embedder ports.Embedder,
	turns []ports.ConversationTurn,
	files []EphemeralFile,
	query string,
) Recall {
	if embedder == nil || strings.TrimSpace(query) == "" {
		return Recall{}
	}

	start := time.Now()
	defer func() { r.metrics.RecordRetrieval(time.Since(start)) }()

	if _, err := r.index.EnsureIndexed(ctx, conversationID, embedder, turns, files); err != nil {
		// Chunks indexed on earlier turns are still searchable.
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("indexing failed")
	}

	k := KDynamic(query, r.opts.ComplexityThreshold)
	found, err := r.index.Retrieve(ctx, conversationID, embedder, query, k)
	if err != nil {
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("retrieval failed")
		return Recall{K: k}
	}

	results := FilterRelative(found.Results, r.opts.RelativeThreshold)
	if r.opts.MinSimilarity > 0 {
		kept := results[:0]
		for _, res := range results {
			if res.Similarity >= r.opts.MinSimilarity {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	r.logger.Debug().
		Str("conversation_id", conversationID).
		Int("k", k).
		Int("candidates", len(found.Results)).
		Int("kept", len(results)).
		Float64("max_similarity", found.MaxSimilarity).
		Msg("recall")

	return Recall{
		K:             k,
		Results:       results,
		MaxSimilarity: found.MaxSimilarity,
		ContextText:   joinContext(results, r.opts.MaxContextChars),
	}
}

// joinContext concatenates result texts up to max runes. The first result is truncated
// rather than dropped; later ones are dropped whole.
func joinContext(results []RetrievalResult, max int) string {
	var b strings.Builder
	used := 0
	sepLen := utf8.RuneCountInString(contextSeparator)
	for i, res := range results {
		text := strings.TrimSpace(res.Text)
		n := utf8.RuneCountInString(text)
		if i == 0 {
			if n > max {
				text, n = capRunes(text, max), max
			}
			b.WriteString(text)
			used = n
			continue
		}
		if used+sepLen+n > max {
			break
		}
		b.WriteString(contextSeparator)
		b.WriteString(text)
		used += sepLen + n
	}
	return b.String()
}
