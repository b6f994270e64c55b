package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTitleMaxChars   = 120
	DefaultSummaryMaxChars = 500

	// fallbackTitleMaxChars bounds the first-line title heuristic.
	fallbackTitleMaxChars = 80

	parseExceptionPrefix = "parsing exception: "
	noResponseContent    = "no response content found"
	fallbackNote         = "fallback parse applied"
)

// Block names used by the four-brace output protocol.
const (
	BlockTitle    = "title"
	BlockSummary  = "summary"
	BlockResponse = "response"
)

// ParsedOutput is the structured view of one raw model reply.
type ParsedOutput struct {
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Response   string   `json:"response"`
	HasTitle   bool     `json:"has_title"`
	HasSummary bool     `json:"has_summary"`
	Errors     []string `json:"errors"`

	hasResponseBlock bool
}

// Validation reports which required fields a ParsedOutput lacks.
type Validation struct {
	IsValid        bool     `json:"is_valid"`
	MissingFields  []string `json:"missing_fields"`
	CriticalErrors []string `json:"critical_errors"`
}

var (
	blockPatterns = map[string]*regexp.Regexp{
		BlockTitle:    blockPattern(BlockTitle),
		BlockSummary:  blockPattern(BlockSummary),
		BlockResponse: blockPattern(BlockResponse),
	}
	// strayMarker matches any opening or closing marker left behind by a malformed reply.
	strayMarker = regexp.MustCompile(`(?i)\{\{\{\{\s*/?\s*(?:title|summary|response)\s*\}\}\}\}`)
	sentence    = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
	jsonPattern = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	trailComma  = regexp.MustCompile(`,\s*([}\]])`)
	bareKey     = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

func blockPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\{\{\{\{\s*` + name + `\s*\}\}\}\}(.*?)\{\{\{\{\s*/\s*` + name + `\s*\}\}\}\}`)
}

// OutputParser extracts title, summary and response blocks from model replies.
type OutputParser struct {
	TitleMaxChars   int
	SummaryMaxChars int
}

// NewOutputParser creates a parser; non-positive caps fall back to the defaults.
func NewOutputParser(titleMax, summaryMax int) *OutputParser {
	if titleMax <= 0 {
		titleMax = DefaultTitleMaxChars
	}
	if summaryMax <= 0 {
		summaryMax = DefaultSummaryMaxChars
	}
	return &OutputParser{TitleMaxChars: titleMax, SummaryMaxChars: summaryMax}
}

// Parse runs the strict block extraction. The first match of each block wins.
// Without a response block the response is everything outside the title and summary blocks.
func (p *OutputParser) Parse(raw string) (out ParsedOutput) {
	out.Errors = []string{}
	defer func() {
		if r := recover(); r != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s%v", parseExceptionPrefix, r))
		}
	}()

	var cut [][]int
	if m := blockPatterns[BlockTitle].FindStringSubmatchIndex(raw); m != nil {
		out.Title = strings.TrimSpace(raw[m[2]:m[3]])
		out.HasTitle = true
		cut = append(cut, m[:2])
	}
	if m := blockPatterns[BlockSummary].FindStringSubmatchIndex(raw); m != nil {
		out.Summary = strings.TrimSpace(raw[m[2]:m[3]])
		out.HasSummary = true
		cut = append(cut, m[:2])
	}
	if m := blockPatterns[BlockResponse].FindStringSubmatchIndex(raw); m != nil {
		out.Response = strings.TrimSpace(raw[m[2]:m[3]])
		out.hasResponseBlock = true
	} else {
		out.Response = strings.TrimSpace(removeRanges(raw, cut))
	}

	if t, ok := truncateRunes(out.Title, p.TitleMaxChars); ok {
		out.Title = t
		out.Errors = append(out.Errors, fmt.Sprintf("title truncated to %d characters", p.TitleMaxChars))
	}
	if s, ok := truncateRunes(out.Summary, p.SummaryMaxChars); ok {
		out.Summary = s
		out.Errors = append(out.Errors, fmt.Sprintf("summary truncated to %d characters", p.SummaryMaxChars))
	}
	return out
}

// Validate flags missing fields. The title is required only when expectTitle is set.
func (p *OutputParser) Validate(parsed ParsedOutput, expectTitle bool) Validation {
	v := Validation{MissingFields: []string{}, CriticalErrors: []string{}}

	if expectTitle && (!parsed.HasTitle || parsed.Title == "") {
		v.MissingFields = append(v.MissingFields, BlockTitle)
	}
	if !parsed.HasSummary || parsed.Summary == "" {
		v.MissingFields = append(v.MissingFields, BlockSummary)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		v.MissingFields = append(v.MissingFields, BlockResponse)
		v.CriticalErrors = append(v.CriticalErrors, noResponseContent)
	}
	for _, e := range parsed.Errors {
		if strings.HasPrefix(e, parseExceptionPrefix) {
			v.CriticalErrors = append(v.CriticalErrors, e)
		}
	}

	v.IsValid = len(v.MissingFields) == 0 && len(v.CriticalErrors) == 0
	return v
}

// FallbackParse reads a reply that ignored the block protocol. When a title is expected
// the first line becomes the title if it is short and has no punctuation; the rest is the
// response and its last sentence doubles as the summary.
func (p *OutputParser) FallbackParse(raw string, expectTitle bool) ParsedOutput {
	out := ParsedOutput{Errors: []string{fallbackNote}}
	text := strings.TrimSpace(strayMarker.ReplaceAllString(raw, "\n"))

	if expectTitle {
		first, rest, found := strings.Cut(text, "\n")
		first = strings.TrimSpace(first)
		if found && strings.TrimSpace(rest) != "" && isTitleLine(first) {
			out.Title = first
			out.HasTitle = true
			text = strings.TrimSpace(rest)
		}
	}
	out.Response = text

	if s := lastSentence(text); s != "" {
		out.Summary, _ = truncateRunes(s, p.SummaryMaxChars)
		out.HasSummary = true
	}
	return out
}

// ParseModelOutput is the two-pass parse: strict blocks first, then the fallback heuristics
// for whatever the strict pass could not fill.
func (p *OutputParser) ParseModelOutput(raw string, expectTitle bool) ParsedOutput {
	parsed := p.Parse(raw)
	if p.Validate(parsed, expectTitle).IsValid {
		return parsed
	}

	if !parsed.HasTitle && !parsed.HasSummary && !parsed.hasResponseBlock {
		return p.FallbackParse(raw, expectTitle)
	}

	// Some blocks were present; fill the gaps from the leftover response text.
	if expectTitle && !parsed.HasTitle {
		p.titleFromLeadingLine(&parsed, raw)
	}
	fill := p.FallbackParse(parsed.Response, false)
	if !parsed.HasSummary || parsed.Summary == "" {
		parsed.Summary = fill.Summary
		parsed.HasSummary = fill.HasSummary
	}
	if strings.TrimSpace(parsed.Response) == "" {
		parsed.Response = p.FallbackParse(raw, false).Response
	}
	parsed.Errors = append(parsed.Errors, fallbackNote)
	return parsed
}

// titleFromLeadingLine takes the first line outside every block as the title when it looks
// like one. Without a response block that line is also dropped from the response, as long as
// some response text remains.
func (p *OutputParser) titleFromLeadingLine(parsed *ParsedOutput, raw string) {
	line := leadingLine(raw)
	if !isTitleLine(line) {
		return
	}
	if !parsed.hasResponseBlock {
		rest := strings.TrimSpace(strings.TrimPrefix(parsed.Response, line))
		if rest == "" || rest == parsed.Response {
			return
		}
		parsed.Response = rest
	}
	parsed.Title, _ = truncateRunes(line, p.TitleMaxChars)
	parsed.HasTitle = true
}

// leadingLine returns the first non-empty line of raw once every block and stray marker
// is removed.
func leadingLine(raw string) string {
	text := raw
	for _, name := range []string{BlockTitle, BlockSummary, BlockResponse} {
		text = blockPatterns[name].ReplaceAllString(text, "\n")
	}
	text = strayMarker.ReplaceAllString(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// ParseJSONOutput extracts the outermost JSON object or array from text, repairing
// trailing commas, bare keys and single quotes.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	match := jsonPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	if json.Valid([]byte(match)) {
		return json.RawMessage(match), nil
	}
	cleaned := fixJSON(match)
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	return json.RawMessage(cleaned), nil
}

func fixJSON(s string) string {
	s = trailComma.ReplaceAllString(s, "$1")
	s = bareKey.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}

func isTitleLine(line string) bool {
	if line == "" || utf8.RuneCountInString(line) > fallbackTitleMaxChars {
		return false
	}
	for _, r := range line {
		if unicode.IsPunct(r) {
			return false
		}
	}
	return true
}

func lastSentence(text string) string {
	matches := sentence.FindAllString(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(matches[i]); s != "" {
			return s
		}
	}
	return ""
}

// removeRanges drops the given [start,end) byte ranges from s.
func removeRanges(s string, ranges [][]int) string {
	if len(ranges) == 0 {
		return s
	}
	if len(ranges) == 2 && ranges[1][0] < ranges[0][0] {
		ranges[0], ranges[1] = ranges[1], ranges[0]
	}

	var b strings.Builder
	pos := 0
	for _, r := range ranges {
		if r[0] < pos {
			// overlapping blocks; the earlier cut already covers it
			if r[1] > pos {
				pos = r[1]
			}
			continue
		}
		b.WriteString(s[pos:r[0]])
		pos = r[1]
	}
	b.WriteString(s[pos:])
	return b.String()
}

// truncateRunes caps s at max runes and reports whether it cut anything.
func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}
