package models

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/rs/zerolog"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// DefaultHugotBatchSize is used when the configured batch size is not positive.
const DefaultHugotBatchSize = 16

// HugotEmbedder runs a local ONNX sentence-embedding model through hugot's pure Go backend.
type HugotEmbedder struct {
	mu        sync.Mutex
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	batchSize int
	logger    zerolog.Logger
}

// NewHugotEmbedder loads the model found at modelPath.
func NewHugotEmbedder(modelPath string, batchSize int, logger zerolog.Logger) (*HugotEmbedder, error) {
	if modelPath == "" {
		return nil, errors.New("hugot embedder requires a model path")
	}
	if batchSize <= 0 {
		batchSize = DefaultHugotBatchSize
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "thirra-embedder",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("load embedding model %s: %w", modelPath, err)
	}

	logger.Info().Str("model_path", modelPath).Int("batch_size", batchSize).Msg("local embedding model loaded")

	return &HugotEmbedder{
		session:   session,
		pipeline:  pipeline,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

func (h *HugotEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (h *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += h.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+h.batchSize, len(texts))

		h.mu.Lock()
		result, err := h.pipeline.RunPipeline(texts[start:end])
		h.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("run embedding pipeline: %w", err)
		}
		if len(result.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding pipeline returned %d vectors for %d texts", len(result.Embeddings), end-start)
		}
		for _, emb := range result.Embeddings {
			out = append(out, toFloat64(emb))
		}
	}
	return out, nil
}

// Close releases the ONNX session.
func (h *HugotEmbedder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	return err
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

var _ ports.Embedder = (*HugotEmbedder)(nil)
