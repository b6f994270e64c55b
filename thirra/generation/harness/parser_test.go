package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputParser_Parse(t *testing.T) {
	p := NewOutputParser(0, 0)

	tests := []struct {
		name       string
		raw        string
		title      string
		summary    string
		response   string
		hasTitle   bool
		hasSummary bool
	}{
		{
			name:       "all blocks",
			raw:        "{{{{title}}}}T{{{{/title}}}}\n{{{{summary}}}}S{{{{/summary}}}}\n{{{{response}}}}R{{{{/response}}}}",
			title:      "T",
			summary:    "S",
			response:   "R",
			hasTitle:   true,
			hasSummary: true,
		},
		{
			name:     "plain text",
			raw:      "plain text, no blocks",
			response: "plain text, no blocks",
		},
		{
			name:       "case insensitive markers",
			raw:        "{{{{TITLE}}}} Hello {{{{/Title}}}}{{{{Summary}}}}sum{{{{/SUMMARY}}}}{{{{Response}}}}\nbody\n{{{{/response}}}}",
			title:      "Hello",
			summary:    "sum",
			response:   "body",
			hasTitle:   true,
			hasSummary: true,
		},
		{
			name:       "response is the remainder without a response block",
			raw:        "before {{{{summary}}}}S{{{{/summary}}}} middle {{{{title}}}}T{{{{/title}}}} after",
			title:      "T",
			summary:    "S",
			response:   "before  middle  after",
			hasTitle:   true,
			hasSummary: true,
		},
		{
			name:       "first block wins",
			raw:        "{{{{summary}}}}first{{{{/summary}}}}{{{{summary}}}}second{{{{/summary}}}}{{{{response}}}}a{{{{/response}}}}{{{{response}}}}b{{{{/response}}}}",
			summary:    "first",
			response:   "a",
			hasSummary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.raw)
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, tt.summary, got.Summary)
			assert.Equal(t, tt.response, got.Response)
			assert.Equal(t, tt.hasTitle, got.HasTitle)
			assert.Equal(t, tt.hasSummary, got.HasSummary)
			assert.Empty(t, got.Errors)
		})
	}
}

func TestOutputParser_ParseTruncates(t *testing.T) {
	p := NewOutputParser(0, 0)
	raw := "{{{{title}}}}" + strings.Repeat("é", 130) + "{{{{/title}}}}" +
		"{{{{summary}}}}" + strings.Repeat("s", 501) + "{{{{/summary}}}}" +
		"{{{{response}}}}ok{{{{/response}}}}"

	got := p.Parse(raw)

	assert.Equal(t, strings.Repeat("é", 120), got.Title)
	assert.Len(t, got.Summary, 500)
	assert.Equal(t, []string{
		"title truncated to 120 characters",
		"summary truncated to 500 characters",
	}, got.Errors)
	assert.True(t, p.Validate(got, true).IsValid, "truncation notes are not fatal")
}

func TestOutputParser_Validate(t *testing.T) {
	p := NewOutputParser(0, 0)

	v := p.Validate(ParsedOutput{Response: "R"}, true)
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"title", "summary"}, v.MissingFields)
	assert.Empty(t, v.CriticalErrors)

	v = p.Validate(ParsedOutput{Summary: "S", HasSummary: true, Response: "R"}, false)
	assert.True(t, v.IsValid)

	v = p.Validate(ParsedOutput{Summary: "S", HasSummary: true, Response: "  "}, false)
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"response"}, v.MissingFields)
	assert.Equal(t, []string{"no response content found"}, v.CriticalErrors)

	v = p.Validate(ParsedOutput{Summary: "S", HasSummary: true, Response: "R", Errors: []string{"parsing exception: boom"}}, false)
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"parsing exception: boom"}, v.CriticalErrors)
}

func TestOutputParser_FallbackParse(t *testing.T) {
	p := NewOutputParser(0, 0)

	got := p.FallbackParse("Quick Answer\nGo is a language. It is fast.", true)
	assert.True(t, got.HasTitle)
	assert.Equal(t, "Quick Answer", got.Title)
	assert.Equal(t, "Go is a language. It is fast.", got.Response)
	assert.Equal(t, "It is fast.", got.Summary)
	assert.True(t, got.HasSummary)

	got = p.FallbackParse("Hello, world\nrest of it", true)
	assert.False(t, got.HasTitle, "punctuated first line is not a title")
	assert.Equal(t, "Hello, world\nrest of it", got.Response)

	got = p.FallbackParse(strings.Repeat("word ", 20)+"\nbody", true)
	assert.False(t, got.HasTitle, "long first line is not a title")

	got = p.FallbackParse("Only Line", true)
	assert.False(t, got.HasTitle, "a single line stays the response")
	assert.Equal(t, "Only Line", got.Response)

	got = p.FallbackParse("{{{{response}}}}unterminated answer", false)
	assert.Equal(t, "unterminated answer", got.Response)
}

func TestOutputParser_ParseModelOutput(t *testing.T) {
	p := NewOutputParser(0, 0)

	t.Run("valid output is returned untouched", func(t *testing.T) {
		got := p.ParseModelOutput("{{{{summary}}}}S{{{{/summary}}}}{{{{response}}}}R{{{{/response}}}}", false)
		assert.Equal(t, "S", got.Summary)
		assert.Equal(t, "R", got.Response)
		assert.Empty(t, got.Errors)
	})

	t.Run("no blocks uses the fallback", func(t *testing.T) {
		got := p.ParseModelOutput("just words", false)
		assert.Equal(t, "just words", got.Response)
		assert.Equal(t, "just words", got.Summary)
		assert.Contains(t, got.Errors, "fallback parse applied")
	})

	t.Run("partial blocks keep what was found", func(t *testing.T) {
		got := p.ParseModelOutput("{{{{title}}}}T{{{{/title}}}}\nBody text here. Final line.", true)
		assert.Equal(t, "T", got.Title)
		assert.Equal(t, "Body text here. Final line.", got.Response)
		assert.Equal(t, "Final line.", got.Summary)
		assert.True(t, got.HasSummary)
	})

	t.Run("expected title missing with other blocks present", func(t *testing.T) {
		raw := "Go Concurrency Basics\n{{{{summary}}}}S.{{{{/summary}}}}\n{{{{response}}}}R body.{{{{/response}}}}"
		got := p.ParseModelOutput(raw, true)
		assert.Equal(t, "Go Concurrency Basics", got.Title)
		assert.True(t, got.HasTitle)
		assert.Equal(t, "S.", got.Summary)
		assert.Equal(t, "R body.", got.Response)
		assert.True(t, p.Validate(got, true).IsValid)
		assert.Contains(t, got.Errors, "fallback parse applied")
	})

	t.Run("leading title line without a response block", func(t *testing.T) {
		raw := "Deploy Notes\n{{{{summary}}}}Use docker.{{{{/summary}}}}\nWe deploy with docker compose."
		got := p.ParseModelOutput(raw, true)
		assert.Equal(t, "Deploy Notes", got.Title)
		assert.Equal(t, "We deploy with docker compose.", got.Response)
		assert.True(t, p.Validate(got, true).IsValid)
	})

	t.Run("punctuated leading line is not a title", func(t *testing.T) {
		raw := "Sure, here it is.\n{{{{summary}}}}S.{{{{/summary}}}}\n{{{{response}}}}R body.{{{{/response}}}}"
		got := p.ParseModelOutput(raw, true)
		assert.False(t, got.HasTitle)
		assert.Empty(t, got.Title)
	})

	t.Run("empty response block recovers text", func(t *testing.T) {
		got := p.ParseModelOutput("{{{{summary}}}}S{{{{/summary}}}}{{{{response}}}}{{{{/response}}}}", false)
		assert.Equal(t, "S", got.Summary)
		assert.Equal(t, "S", got.Response)
	})
}

func TestOutputParser_ParseJSONOutput(t *testing.T) {
	p := NewOutputParser(0, 0)

	raw, err := p.ParseJSONOutput(`Sure: {"category": "coding", "reasoning": "mentions a stack trace"} done`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"coding","reasoning":"mentions a stack trace"}`, string(raw))

	raw, err = p.ParseJSONOutput(`{category: 'heavy', "reasoning": "x",}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"heavy","reasoning":"x"}`, string(raw))

	_, err = p.ParseJSONOutput("no json at all")
	assert.Error(t, err)
}
