package harness

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

func summaryMsg(body string) ports.PromptMessage {
	return ports.PromptMessage{Role: ports.RoleSystem, Content: SummaryPrefix + " " + body}
}

func user(s string) ports.PromptMessage      { return ports.PromptMessage{Role: ports.RoleUser, Content: s} }
func assistant(s string) ports.PromptMessage { return ports.PromptMessage{Role: ports.RoleAssistant, Content: s} }

func TestBudgetGuard_RepeatQuestionElision(t *testing.T) {
	g := NewBudgetGuard(nil)
	history := []ports.PromptMessage{
		summaryMsg("we talked about go"),
		user("hello"),
		assistant("hi"),
		user("What is  Go?"),
	}

	res := g.Apply(history, []ports.PromptMessage{user("what is go?")}, "  what is go? ", DefaultBudgetParams())

	require.Len(t, res.HistoryMessages, 3)
	assert.False(t, IsSummaryMessage(res.HistoryMessages[0]))
	assert.Equal(t, []string{StageRepeatElision}, res.Stages)
	assert.Len(t, history, 4, "input history is not modified")
	assert.True(t, IsSummaryMessage(history[0]))
}

func TestBudgetGuard_NoElisionForNewQuestion(t *testing.T) {
	g := NewBudgetGuard(nil)
	history := []ports.PromptMessage{summaryMsg("s"), user("a"), assistant("b")}

	res := g.Apply(history, nil, "a", DefaultBudgetParams())

	assert.Len(t, res.HistoryMessages, 3, "last message is not a user message")
	assert.Empty(t, res.Stages)
	assert.Zero(t, res.OverBudgetBy)
}

func TestBudgetGuard_HistoryCompression(t *testing.T) {
	g := NewBudgetGuard(nil)
	long := strings.Repeat("lorem ipsum ", 20)
	history := []ports.PromptMessage{
		summaryMsg("short"),
		user(long + "1"),
		assistant(long + "2"),
		user(long + "3"),
		assistant(long + "4"),
		user(long + "5"),
	}
	params := BudgetParams{MaxHistoryChars: 500, CompressedMessageChars: 40}

	res := g.Apply(history, nil, "new question", params)

	require.Len(t, res.HistoryMessages, 6)
	assert.Equal(t, history[0], res.HistoryMessages[0], "summary is untouched")
	assert.Equal(t, history[1], res.HistoryMessages[1])

	for _, i := range []int{2, 3} {
		c := res.HistoryMessages[i].Content
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 40)
		assert.NotContains(t, c, "\n")
		assert.True(t, strings.HasSuffix(c, "..."))
	}
	assert.True(t, strings.HasPrefix(res.HistoryMessages[2].Content, "assistant: lorem"))
	assert.True(t, strings.HasPrefix(res.HistoryMessages[3].Content, "user: lorem"))
	assert.Equal(t, ports.RoleUser, res.HistoryMessages[3].Role, "roles are preserved")

	assert.Equal(t, history[4], res.HistoryMessages[4])
	assert.Equal(t, history[5], res.HistoryMessages[5])
	assert.Equal(t, []string{StageHistoryCompression}, res.Stages)
}

func TestBudgetGuard_CompressionNeedsFourMessages(t *testing.T) {
	g := NewBudgetGuard(nil)
	long := strings.Repeat("x", 400)
	history := []ports.PromptMessage{summaryMsg(long), user(long), assistant(long), user(long)}

	res := g.Apply(history, nil, "q", BudgetParams{MaxHistoryChars: 100, CompressedMessageChars: 40})

	assert.Equal(t, history, res.HistoryMessages)
	assert.Empty(t, res.Stages)
}

func TestBudgetGuard_SummaryTruncation(t *testing.T) {
	g := NewBudgetGuard(nil)
	history := []ports.PromptMessage{summaryMsg(strings.Repeat("s", 2000)), user("hi"), assistant("hello")}
	input := []ports.PromptMessage{user("next")}
	params := BudgetParams{MaxPromptChars: 1000, SummaryCapChars: 600}

	res := g.Apply(history, input, "next", params)

	summary := res.HistoryMessages[0].Content
	assert.Equal(t, 600, utf8.RuneCountInString(summary))
	assert.True(t, strings.HasPrefix(summary, SummaryPrefix))
	assert.Equal(t, 600+2+5+4, res.TotalChars)
	assert.LessOrEqual(t, res.TotalChars, params.MaxPromptChars)
	assert.Zero(t, res.OverBudgetBy)
	assert.Equal(t, []string{StageSummaryTruncation}, res.Stages)
}

func TestBudgetGuard_ReportsIrreducibleOverflow(t *testing.T) {
	g := NewBudgetGuard(nil)
	history := []ports.PromptMessage{user("hi"), assistant("hello")}
	huge := strings.Repeat("é", 5000)

	res := g.Apply(history, []ports.PromptMessage{user(huge)}, huge, BudgetParams{MaxPromptChars: 1000, SummaryCapChars: 600})

	assert.Equal(t, 5000+2+5, res.TotalChars, "characters are counted as runes")
	assert.Equal(t, res.TotalChars-1000, res.OverBudgetBy)
	assert.Equal(t, []string{StageOverBudget}, res.Stages)
	assert.Equal(t, history, res.HistoryMessages)
}

func TestBudgetGuard_LongRecentMessagesAreReportedNotCut(t *testing.T) {
	g := NewBudgetGuard(nil)
	long := strings.Repeat("a", 10000)
	history := []ports.PromptMessage{user(long), assistant(long), user(long), assistant(long), user(long)}

	res := g.Apply(history, []ports.PromptMessage{user("next")}, "next", DefaultBudgetParams())

	assert.Equal(t, []string{StageHistoryCompression, StageOverBudget}, res.Stages)
	assert.Equal(t, 3*10000+2*240+4, res.TotalChars)
	assert.Equal(t, res.TotalChars-24000, res.OverBudgetBy)

	require.Len(t, res.HistoryMessages, 5)
	assert.Equal(t, long, res.HistoryMessages[0].Content)
	assert.Equal(t, 240, utf8.RuneCountInString(res.HistoryMessages[1].Content))
	assert.Equal(t, 240, utf8.RuneCountInString(res.HistoryMessages[2].Content))
	assert.Equal(t, long, res.HistoryMessages[3].Content)
	assert.Equal(t, long, res.HistoryMessages[4].Content)
	assert.Equal(t, long, history[1].Content, "input history is not modified")
}

func TestBudgetGuard_EmptyInputs(t *testing.T) {
	g := NewBudgetGuard(nil)

	res := g.Apply(nil, nil, "", DefaultBudgetParams())

	assert.Empty(t, res.HistoryMessages)
	assert.Zero(t, res.TotalChars)
	assert.Zero(t, res.TokenEstimate)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("éééé"))
}
