package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/rs/zerolog"
)

var (
	// ErrNoProvider is returned when a turn is streamed without a chat provider.
	ErrNoProvider = errors.New("no chat provider configured")
	// ErrStreamTruncated is returned when the upstream closed without a final chunk.
	ErrStreamTruncated = errors.New("stream ended before completion")
)

// Policy controls orchestration behavior.
type Policy struct {
	RetryCount   int           // provider stream start retries
	RetryBackoff time.Duration // base delay between retries, grows linearly
	StreamBuffer int           // delta channel capacity
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		RetryCount:   2,
		RetryBackoff: 250 * time.Millisecond,
		StreamBuffer: 64,
	}
}

// TurnRequest is one model call.
type TurnRequest struct {
	ConversationID string
	Model          string
	System         string
	Messages       []ports.PromptMessage // history followed by the current user input
	Options        ports.Options
	ExpectTitle    bool
}

// Delta is one streamed increment: either text or a side-channel marker.
type Delta struct {
	Text   string
	Marker ports.StreamMarker
}

// TurnResult is delivered once, after the delta channel closes.
type TurnResult struct {
	Text    string
	Usage   *ports.Usage
	Parsed  ParsedOutput
	Model   string
	Partial bool // the stream was cut short; Text is whatever arrived
}

// TurnStream is a single-consumer, non-restartable view of one streamed turn.
type TurnStream struct {
	deltas chan Delta
	done   chan struct{}
	result TurnResult
	err    error
}

// Deltas delivers increments until the stream ends.
func (s *TurnStream) Deltas() <-chan Delta { return s.deltas }

// Result blocks until the stream ends and returns the accumulated turn. Unread deltas
// are discarded.
func (s *TurnStream) Result() (TurnResult, error) {
	for range s.deltas {
	}
	<-s.done
	return s.result, s.err
}

// Orchestrator runs streamed model calls with rate limiting, retries and tracing.
type Orchestrator struct {
	provider ports.Provider
	builder  *PromptBuilder
	parser   *OutputParser
	guards   *Guardrails
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	policy   *Policy
	logger   zerolog.Logger
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(
	provider ports.Provider,
	parser *OutputParser,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	policy *Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if parser == nil {
		parser = NewOutputParser(0, 0)
	}
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Orchestrator{
		provider: provider,
		builder:  NewPromptBuilder(),
		parser:   parser,
		guards:   NewGuardrails(),
		limiter:  limiter,
		tracer:   tracer,
		policy:   policy,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Stream starts a turn. Errors before the first byte (rate limit, provider start) are
// returned directly; later failures arrive through Result.
func (o *Orchestrator) Stream(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}

	release, err := o.limiter.Acquire(ctx, req.Model)
	if err != nil {
		return nil, fmt.Errorf("acquire permit for %s: %w", req.Model, err)
	}

	ctx, finish := o.tracer.StartSpan(ctx, "turn_stream", map[string]any{
		"conversation_id": req.ConversationID,
		"model":           req.Model,
		"messages":        len(req.Messages),
	})

	prompt := o.builder.Build(req.System, req.Messages, req.Model, map[string]string{
		"conversation_id": req.ConversationID,
	})

	upstream, err := o.startWithRetry(ctx, prompt, req.Options)
	if err != nil {
		finish(err)
		release()
		return nil, err
	}

	buf := o.policy.StreamBuffer
	if buf <= 0 {
		buf = 1
	}
	s := &TurnStream{
		deltas: make(chan Delta, buf),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer release()

		text, usage, streamErr := o.pump(ctx, upstream, s.deltas)
		close(s.deltas)

		s.result = TurnResult{
			Text:    text,
			Usage:   usage,
			Parsed:  o.parser.ParseModelOutput(text, req.ExpectTitle),
			Model:   req.Model,
			Partial: streamErr != nil,
		}
		s.err = streamErr
		finish(streamErr)

		if streamErr != nil {
			o.logger.Warn().Err(streamErr).
				Str("conversation_id", req.ConversationID).
				Int("chars", len(text)).
				Msg("turn stream ended early")
		}
		o.logger.Debug().
			Str("conversation_id", req.ConversationID).
			Str("model", req.Model).
			Str("preview", o.guards.Preview(s.result.Parsed.Response, 120)).
			Msg("turn finished")
	}()

	return s, nil
}

// Run is the callback form of Stream. onDelta may be nil.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, onDelta func(Delta)) (TurnResult, error) {
	s, err := o.Stream(ctx, req)
	if err != nil {
		return TurnResult{Model: req.Model}, err
	}
	for d := range s.Deltas() {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return s.Result()
}

func (o *Orchestrator) startWithRetry(ctx context.Context, prompt ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	var lastErr error
	for attempt := 0; attempt <= o.policy.RetryCount; attempt++ {
		if attempt > 0 {
			o.tracer.Event(ctx, "stream_retry", map[string]any{"attempt": attempt, "error": lastErr.Error()})
			timer := time.NewTimer(o.policy.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		ch, err := o.provider.Stream(ctx, prompt, opts)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("provider stream failed: %w", lastErr)
}

// pump forwards upstream chunks to out until the upstream finishes or ctx ends.
func (o *Orchestrator) pump(ctx context.Context, upstream <-chan ports.CompletionChunk, out chan<- Delta) (string, *ports.Usage, error) {
	var (
		text  strings.Builder
		usage *ports.Usage
	)

	send := func(d Delta) bool {
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return text.String(), usage, ctx.Err()
		case chunk, ok := <-upstream:
			if !ok {
				if ctx.Err() != nil {
					return text.String(), usage, ctx.Err()
				}
				return text.String(), usage, ErrStreamTruncated
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.DeltaText != "" {
				text.WriteString(chunk.DeltaText)
				if !send(Delta{Text: chunk.DeltaText}) {
					return text.String(), usage, ctx.Err()
				}
			}
			if chunk.Marker != ports.MarkerNone {
				if !send(Delta{Marker: chunk.Marker}) {
					return text.String(), usage, ctx.Err()
				}
			}
			if chunk.Done {
				return text.String(), usage, chunk.Err
			}
		}
	}
}
