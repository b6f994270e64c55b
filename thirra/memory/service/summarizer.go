package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/rs/zerolog"
)

const (
	DefaultSummaryTTL            = 120 * time.Second
	DefaultSummaryDriftThreshold = 2
	DefaultSummaryMaxChars       = 600

	summaryLineChars = 200
)

// Summary event labels.
const (
	summaryRegenerated = "regenerated"
	summaryReused      = "reused"
	summaryFailed      = "failed"
	summarySkipped     = "skipped"
)

// SummaryCacheOptions tune the long-term summary.
type SummaryCacheOptions struct {
	Window         int           // short-term window; older messages are summarized
	TTL            time.Duration // entries older than this are rebuilt from scratch
	DriftThreshold int           // regenerate after this many new messages
	MaxChars       int
}

// SummaryCache keeps a rolling summary of everything older than the short-term window.
type SummaryCache struct {
	turns      *TurnCache
	entries    *StateStore[SummaryEntry]
	summarizer Summarizer
	opts       SummaryCacheOptions
	metrics    *Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewSummaryCache creates a summary cache. entries bounds how many conversations are held.
func NewSummaryCache(
	turns *TurnCache,
	entries *StateStore[SummaryEntry],
	summarizer Summarizer,
	opts SummaryCacheOptions,
	metrics *Metrics,
	logger zerolog.Logger,
) *SummaryCache {
	if entries == nil {
		entries = NewStateStore[SummaryEntry](StateStoreOptions{})
	}
	if opts.Window <= 0 {
		opts.Window = DefaultShortTermK
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultSummaryTTL
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = DefaultSummaryDriftThreshold
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultSummaryMaxChars
	}
	return &SummaryCache{
		turns:      turns,
		entries:    entries,
		summarizer: summarizer,
		opts:       opts,
		metrics:    metrics,
		logger:     logger.With().Str("component", "summary_cache").Logger(),
		now:        time.Now,
	}
}

// Get returns the summary message for the conversation, or nil when every message still
// fits in the short-term window or no summary could be produced. Only store errors are
// returned.
func (c *SummaryCache) Get(ctx context.Context, conversationID, instruction string) (*ports.PromptMessage, error) {
	turns, err := c.turns.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgs := TurnsToMessages(turns)
	if len(msgs) <= c.opts.Window {
		c.metrics.RecordSummary(summarySkipped)
		return nil, nil
	}
	older := msgs[:len(msgs)-c.opts.Window]

	entry, ok := c.entries.Get(conversationID)
	if ok && c.fresh(entry, len(msgs), len(older)) {
		c.metrics.RecordSummary(summaryReused)
		return summaryMessage(entry.SummaryText), nil
	}

	req := SummaryRequest{
		ConversationID: conversationID,
		Messages:       older,
		Instruction:    instruction,
		MaxChars:       c.opts.MaxChars,
	}
	// Fold only what the cached summary has not seen yet.
	if ok && !c.expired(entry) && entry.FoldedCount <= len(older) {
		req.PriorSummary = entry.SummaryText
		req.Messages = older[entry.FoldedCount:]
	}

	text, err := c.summarizer.Summarize(ctx, req)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		c.metrics.RecordSummary(summaryFailed)
		c.logger.Warn().Err(err).
			Str("conversation_id", conversationID).
			Int("messages", len(req.Messages)).
			Msg("summary unavailable")
		return nil, nil
	}
	text = capRunes(text, c.opts.MaxChars)

	c.entries.Put(conversationID, SummaryEntry{
		ConversationID:           conversationID,
		SummaryText:              text,
		TurnCountAtSummarization: len(msgs),
		FoldedCount:              len(older),
		GeneratedAt:              c.now(),
	})
	c.metrics.RecordSummary(summaryRegenerated)
	return summaryMessage(text), nil
}

// Forget drops the conversation's summary.
func (c *SummaryCache) Forget(conversationID string) {
	c.entries.Delete(conversationID)
}

func (c *SummaryCache) fresh(e SummaryEntry, count, olderCount int) bool {
	if c.expired(e) {
		return false
	}
	if e.FoldedCount > olderCount {
		return false
	}
	drift := count - e.TurnCountAtSummarization
	if drift < 0 {
		drift = -drift
	}
	return drift < c.opts.DriftThreshold
}

func (c *SummaryCache) expired(e SummaryEntry) bool {
	return c.now().Sub(e.GeneratedAt) > c.opts.TTL
}

func summaryMessage(text string) *ports.PromptMessage {
	return &ports.PromptMessage{
		Role:    ports.RoleSystem,
		Content: harness.SummaryPrefix + "\n" + text,
	}
}

// LLMSummarizer asks a chat model for the summary.
type LLMSummarizer struct {
	provider ports.Provider
	model    string
	opts     ports.Options
}

// NewLLMSummarizer creates a summarizer that calls provider on model.
func NewLLMSummarizer(provider ports.Provider, model string, opts ports.Options) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model, opts: opts}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if len(req.Messages) == 0 && req.PriorSummary == "" {
		return "", nil
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "Summarize the conversation below in at most %d characters. ", req.MaxChars)
	sys.WriteString("Keep names, numbers, decisions and open questions. Write plain prose without headings.")
	if req.Instruction != "" {
		sys.WriteString("\nThe user's standing instruction, keep it in mind: ")
		sys.WriteString(req.Instruction)
	}

	var body strings.Builder
	if req.PriorSummary != "" {
		body.WriteString("Summary so far:\n")
		body.WriteString(req.PriorSummary)
		body.WriteString("\n\nNew messages:\n")
	}
	for _, m := range req.Messages {
		body.WriteString(string(m.Role))
		body.WriteString(": ")
		body.WriteString(m.Content)
		body.WriteString("\n")
	}

	out, err := s.provider.Complete(ctx, ports.PromptInput{
		System:   sys.String(),
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: body.String()}},
		Model:    s.model,
		Meta:     map[string]string{"purpose": "summary", "conversation_id": req.ConversationID},
	}, s.opts)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", req.ConversationID, err)
	}
	return out.Text, nil
}

// ExtractiveSummarizer builds the summary from compact role-tagged lines without a model.
// The oldest lines are dropped first when over the limit.
type ExtractiveSummarizer struct{}

// Summarize implements Summarizer.
func (ExtractiveSummarizer) Summarize(_ context.Context, req SummaryRequest) (string, error) {
	lines := make([]string, 0, len(req.Messages)+1)
	if req.PriorSummary != "" {
		lines = append(lines, req.PriorSummary)
	}
	for _, m := range req.Messages {
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		if t, cut := truncated(text, summaryLineChars); cut {
			text = t + "..."
		}
		lines = append(lines, string(m.Role)+": "+text)
	}

	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l) + 1
	}
	for req.MaxChars > 0 && total-1 > req.MaxChars && len(lines) > 1 {
		total -= utf8.RuneCountInString(lines[0]) + 1
		lines = lines[1:]
	}
	return capRunes(strings.Join(lines, "\n"), req.MaxChars), nil
}

// capRunes truncates s to max runes; max <= 0 leaves s unchanged.
func capRunes(s string, max int) string {
	t, _ := truncated(s, max)
	return t
}

func truncated(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}

var (
	_ Summarizer = (*LLMSummarizer)(nil)
	_ Summarizer = ExtractiveSummarizer{}
)
