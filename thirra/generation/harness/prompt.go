package harness

import (
	"fmt"
	"strings"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// DefaultBasePrompt opens every system prompt unless the caller supplies its own.
const DefaultBasePrompt = "You are a helpful assistant. Answer accurately and concisely."

// PromptSections are the inputs to BuildPrompt. Empty sections are omitted.
type PromptSections struct {
	Base        string // persona / product preamble
	Context     string // retrieved conversation snippets
	Facts       string // "k1=v1; k2=v2"
	Instruction string // user-supplied standing instruction
	ExpectTitle bool   // ask for a title block (first turn of a conversation)

	// Caps announced to the model; non-positive values use the parser defaults.
	TitleMaxChars   int
	SummaryMaxChars int
}

// BuildPrompt renders the system prompt. It is the dual of OutputParser: the block
// syntax described here is exactly what Parse extracts.
func BuildPrompt(s PromptSections) string {
	var b strings.Builder

	base := normalize(s.Base)
	if base == "" {
		base = DefaultBasePrompt
	}
	b.WriteString(base)
	b.WriteString("\n\n")

	titleMax, summaryMax := s.TitleMaxChars, s.SummaryMaxChars
	if titleMax <= 0 {
		titleMax = DefaultTitleMaxChars
	}
	if summaryMax <= 0 {
		summaryMax = DefaultSummaryMaxChars
	}

	b.WriteString("Format your reply using these exact markers:\n")
	if s.ExpectTitle {
		fmt.Fprintf(&b, "%s a short conversation title (at most %d characters) %s\n",
			openMarker(BlockTitle), titleMax, closeMarker(BlockTitle))
	}
	fmt.Fprintf(&b, "%s one or two sentences summarizing your answer (at most %d characters) %s\n",
		openMarker(BlockSummary), summaryMax, closeMarker(BlockSummary))
	fmt.Fprintf(&b, "%s your full answer %s\n", openMarker(BlockResponse), closeMarker(BlockResponse))
	b.WriteString("Do not write anything outside these blocks.")

	if c := normalize(s.Context); c != "" {
		b.WriteString("\n\nRelevant context from earlier in this conversation:\n")
		b.WriteString(c)
	}
	if f := normalize(s.Facts); f != "" {
		b.WriteString("\n\nKnown facts (key=value): ")
		b.WriteString(f)
	}
	if i := normalize(s.Instruction); i != "" {
		b.WriteString("\n\nUser instructions:\n")
		b.WriteString(i)
	}
	return b.String()
}

func openMarker(name string) string  { return "{{{{" + name + "}}}}" }
func closeMarker(name string) string { return "{{{{/" + name + "}}}}" }

// normalize unifies newlines and trims whitespace to reduce prompt diffs.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// PromptBuilder assembles model-ready inputs from system text and messages.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build flattens system + chat messages into a Provider PromptInput. Messages are copied,
// the caller's slice is left untouched.
func (b *PromptBuilder) Build(system string, messages []ports.PromptMessage, model string, meta map[string]string) ports.PromptInput {
	msgs := make([]ports.PromptMessage, 0, len(messages))
	for _, m := range messages {
		content := normalize(m.Content)
		if content == "" {
			continue
		}
		msgs = append(msgs, ports.PromptMessage{Role: m.Role, Content: content})
	}

	return ports.PromptInput{
		System:   normalize(system),
		Messages: msgs,
		Model:    model,
		Meta:     meta,
	}
}
