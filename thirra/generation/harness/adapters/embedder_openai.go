package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

type openaiEmbeddings interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder implements Embedder over the embeddings API.
type OpenAIEmbedder struct {
	embeddings openaiEmbeddings
	model      string
	dims       int
	batchSize  int
}

// NewOpenAIEmbedder builds an embedder; dims <= 0 keeps the model's native size.
func NewOpenAIEmbedder(cfg OpenAIConfig, model string, dims, batchSize int) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client := openai.NewClient(cfg.requestOptions()...)
	return newOpenAIEmbedder(&client.Embeddings, model, dims, batchSize), nil
}

func newOpenAIEmbedder(embeddings openaiEmbeddings, model string, dims, batchSize int) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &OpenAIEmbedder{
		embeddings: embeddings,
		model:      model,
		dims:       dims,
		batchSize:  batchSize,
	}
}

// Embed returns the vector for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		params := openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Model: openai.EmbeddingModel(e.model),
		}
		if e.dims > 0 {
			params.Dimensions = openai.Int(int64(e.dims))
		}

		resp, err := e.embeddings.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai embed: expected %d vectors, got %d", end-start, len(resp.Data))
		}
		for i, d := range resp.Data {
			idx := start + i
			if d.Index >= 0 && int(d.Index) < end-start {
				idx = start + int(d.Index)
			}
			out[idx] = d.Embedding
		}
	}
	return out, nil
}

var _ ports.Embedder = (*OpenAIEmbedder)(nil)
