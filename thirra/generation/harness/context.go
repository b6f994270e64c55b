package harness

import (
	"strings"
	"unicode/utf8"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// SummaryPrefix marks the long-term summary message in a history.
const SummaryPrefix = "Earlier conversation summary (compact):"

// Budget stage names, reported in BudgetResult.Stages in the order they ran.
const (
	StageRepeatElision      = "repeat_elision"
	StageHistoryCompression = "history_compression"
	StageSummaryTruncation  = "summary_truncation"
	StageOverBudget         = "over_budget"
)

// BudgetParams are the character limits enforced by BudgetGuard. A non-positive limit
// disables the stage that depends on it.
type BudgetParams struct {
	MaxPromptChars         int // history + input
	MaxHistoryChars        int // history alone, triggers compression
	CompressedMessageChars int // one-line cap for compressed messages
	SummaryCapChars        int // hard cap for the summary under global pressure
}

// DefaultBudgetParams mirrors the config defaults.
func DefaultBudgetParams() BudgetParams {
	return BudgetParams{
		MaxPromptChars:         24000,
		MaxHistoryChars:        12000,
		CompressedMessageChars: 240,
		SummaryCapChars:        600,
	}
}

// BudgetResult is the reconciled history plus what it cost.
type BudgetResult struct {
	HistoryMessages []ports.PromptMessage
	TotalChars      int // runes in history + input
	TokenEstimate   int
	OverBudgetBy    int // > 0 when the budget could not be met
	Stages          []string
}

// BudgetGuard trims history to fit a character budget.
type BudgetGuard struct {
	// TokenEstimator should be a fast heuristic; we avoid binding to a specific tokenizer here.
	TokenEstimator func(s string) int
}

func NewBudgetGuard(est func(s string) int) *BudgetGuard {
	if est == nil {
		est = EstimateTokens
	}
	return &BudgetGuard{TokenEstimator: est}
}

// EstimateTokens is the rough ~4 characters per token heuristic.
func EstimateTokens(s string) int {
	l := utf8.RuneCountInString(s)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}

// Apply runs the four budget stages in order:
//  1. drop the summary when the query repeats the last user message
//  2. compress the two messages before the last two when history is over its cap
//  3. truncate the summary when history + input is over the prompt cap
//  4. report whatever overflow is left
//
// The input history is not modified.
func (g *BudgetGuard) Apply(history, input []ports.PromptMessage, rawQuery string, p BudgetParams) BudgetResult {
	res := BudgetResult{}
	msgs := make([]ports.PromptMessage, len(history))
	copy(msgs, history)

	// 1. Repeat-question elision
	if n := len(msgs); n > 0 && msgs[n-1].Role == ports.RoleUser &&
		normalizeQuery(msgs[n-1].Content) != "" &&
		normalizeQuery(msgs[n-1].Content) == normalizeQuery(rawQuery) {
		if i := summaryIndex(msgs); i >= 0 {
			msgs = append(msgs[:i], msgs[i+1:]...)
			res.Stages = append(res.Stages, StageRepeatElision)
		}
	}

	// 2. Proactive history compression
	if p.MaxHistoryChars > 0 && countChars(msgs) > p.MaxHistoryChars {
		var regular []int
		for i, m := range msgs {
			if !isSummary(m) {
				regular = append(regular, i)
			}
		}
		if n := len(regular); n >= 4 {
			for _, i := range regular[n-4 : n-2] {
				msgs[i].Content = compressLine(msgs[i], p.CompressedMessageChars)
			}
			res.Stages = append(res.Stages, StageHistoryCompression)
		}
	}

	inputChars := countChars(input)
	total := countChars(msgs) + inputChars

	// 3. Global budget check
	if p.MaxPromptChars > 0 && total > p.MaxPromptChars && p.SummaryCapChars > 0 {
		if i := summaryIndex(msgs); i >= 0 {
			if t, cut := truncateRunes(msgs[i].Content, p.SummaryCapChars); cut {
				msgs[i].Content = t
				res.Stages = append(res.Stages, StageSummaryTruncation)
				total = countChars(msgs) + inputChars
			}
		}
	}

	// 4. Report
	if p.MaxPromptChars > 0 && total > p.MaxPromptChars {
		res.OverBudgetBy = total - p.MaxPromptChars
		res.Stages = append(res.Stages, StageOverBudget)
	}

	res.HistoryMessages = msgs
	res.TotalChars = total
	for _, m := range msgs {
		res.TokenEstimate += g.TokenEstimator(m.Content)
	}
	for _, m := range input {
		res.TokenEstimate += g.TokenEstimator(m.Content)
	}
	return res
}

// IsSummaryMessage reports whether m is the long-term summary message.
func IsSummaryMessage(m ports.PromptMessage) bool { return isSummary(m) }

func isSummary(m ports.PromptMessage) bool {
	return m.Role == ports.RoleSystem && strings.HasPrefix(m.Content, SummaryPrefix)
}

func summaryIndex(msgs []ports.PromptMessage) int {
	for i, m := range msgs {
		if isSummary(m) {
			return i
		}
	}
	return -1
}

func countChars(msgs []ports.PromptMessage) int {
	n := 0
	for _, m := range msgs {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

// compressLine renders a message as a single "role: text" line of at most max runes.
func compressLine(m ports.PromptMessage, max int) string {
	line := string(m.Role) + ": " + strings.Join(strings.Fields(m.Content), " ")
	if max <= 0 {
		return line
	}
	if utf8.RuneCountInString(line) <= max {
		return line
	}
	if max <= 3 {
		return string([]rune(line)[:max])
	}
	return string([]rune(line)[:max-3]) + "..."
}

func normalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
