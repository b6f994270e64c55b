package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/rs/zerolog"
)

// ErrMissingAPIKey is returned when an OpenAI adapter is built without credentials.
var ErrMissingAPIKey = errors.New("openai: api key required")

type openaiChatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIConfig configures the chat and embedding adapters. BaseURL may point at
// any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	StreamBuf  int
}

func (c OpenAIConfig) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(c.APIKey))}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if c.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(c.MaxRetries))
	}
	if c.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.Timeout))
	}
	return opts
}

// OpenAIProvider implements Provider over the chat completions API.
type OpenAIProvider struct {
	completions openaiChatCompletions
	streamBuf   int
	logger      zerolog.Logger
}

// NewOpenAIProvider builds a provider from config.
func NewOpenAIProvider(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client := openai.NewClient(cfg.requestOptions()...)
	return newOpenAIProvider(&client.Chat.Completions, cfg.StreamBuf, logger), nil
}

func newOpenAIProvider(completions openaiChatCompletions, streamBuf int, logger zerolog.Logger) *OpenAIProvider {
	if streamBuf <= 0 {
		streamBuf = 64
	}
	return &OpenAIProvider{
		completions: completions,
		streamBuf:   streamBuf,
		logger:      logger.With().Str("component", "openai_provider").Logger(),
	}
}

// Complete issues a non-streaming completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	ctx, cancel := withProviderTimeout(ctx, opts)
	defer cancel()

	completion, err := p.completions.New(ctx, buildChatParams(in, opts))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai complete: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return ports.Completion{Raw: completion}, nil
	}

	usage := convertUsage(completion.Usage)
	return ports.Completion{
		Text:  completion.Choices[0].Message.Content,
		Raw:   completion,
		Usage: &usage,
	}, nil
}

// Stream issues a streaming completion. The channel closes when the upstream
// stream ends or ctx is cancelled; an upstream failure arrives as Err on the last chunk.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	params := buildChatParams(in, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	ctx, cancel := withProviderTimeout(ctx, opts)
	stream := p.completions.NewStreaming(ctx, params)
	if stream == nil {
		cancel()
		return nil, errors.New("openai stream not available")
	}
	// Errors from the initial request surface before any chunk is read.
	if err := stream.Err(); err != nil {
		cancel()
		stream.Close()
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan ports.CompletionChunk, p.streamBuf)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		var (
			usage     *ports.Usage
			reasoning bool
		)
		send := func(chunk ports.CompletionChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				u := convertUsage(chunk.Usage)
				usage = &u
			}

			for _, choice := range chunk.Choices {
				delta := choice.Delta
				if hasReasoningContent(delta.RawJSON()) {
					if !reasoning {
						reasoning = true
						if !send(ports.CompletionChunk{Marker: ports.MarkerReasoningStart}) {
							return
						}
					}
					continue
				}
				if delta.Content == "" {
					continue
				}
				if reasoning {
					reasoning = false
					if !send(ports.CompletionChunk{Marker: ports.MarkerReasoningEnd}) {
						return
					}
				}
				if !send(ports.CompletionChunk{DeltaText: delta.Content}) {
					return
				}
			}
		}

		final := ports.CompletionChunk{Done: true, Usage: usage}
		if err := stream.Err(); err != nil {
			p.logger.Warn().Err(err).Str("model", in.Model).Msg("stream ended with error")
			final.Err = err
		}
		if reasoning {
			final.Marker = ports.MarkerReasoningEnd
		}
		send(final)
	}()

	return out, nil
}

func buildChatParams(in ports.PromptInput, opts ports.Options) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(in.Model),
		Messages: convertMessages(in.System, in.Messages),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(float64(opts.TopP))
	}
	if opts.Seed != 0 {
		params.Seed = openai.Int(int64(opts.Seed))
	}
	return params
}

func convertMessages(system string, msgs []ports.PromptMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if s := strings.TrimSpace(system); s != "" {
		result = append(result, openai.SystemMessage(s))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case ports.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case ports.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func convertUsage(usage openai.CompletionUsage) ports.Usage {
	return ports.Usage{
		PromptTokens:     int(usage.PromptTokens),
		CompletionTokens: int(usage.CompletionTokens),
		TotalTokens:      int(usage.TotalTokens),
	}
}

// hasReasoningContent detects the reasoning_content extension some
// OpenAI-compatible servers put on stream deltas.
func hasReasoningContent(raw string) bool {
	if raw == "" || !strings.Contains(raw, "reasoning_content") {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return false
	}
	rc, ok := fields["reasoning_content"]
	if !ok {
		return false
	}
	var s string
	return json.Unmarshal(rc, &s) == nil && s != ""
}

func withProviderTimeout(ctx context.Context, opts ports.Options) (context.Context, context.CancelFunc) {
	if opts.TimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

var _ ports.Provider = (*OpenAIProvider)(nil)
