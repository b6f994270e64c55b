package service

import (
	"regexp"
	"sort"
	"strings"
)

const (
	factKey      = `([A-Za-z_][\w.-]*)`
	factValue    = `(?:"([^"]*)"|'([^']*)'|([^\s"']+))`
	factTrimTail = ".,;!?"
)

// assignment patterns in scan order. Group 1 is the key; groups 2-4 hold the value.
var assignmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b` + factKey + `\s*=\s*` + factValue),
	regexp.MustCompile(`(?i)\b` + factKey + `\s*:\s*` + factValue),
	regexp.MustCompile(`(?i)\b(?:value of\s+)?` + factKey + `\s+is\s+` + factValue),
	regexp.MustCompile(`(?i)\bset\s+` + factKey + `\s+to\s+` + factValue),
}

// keys the "is" pattern would otherwise pick up from ordinary prose.
var proseKeys = map[string]struct{}{
	"it": {}, "this": {}, "that": {}, "there": {}, "what": {}, "which": {}, "who": {},
	"he": {}, "she": {}, "here": {}, "where": {}, "how": {}, "why": {}, "when": {},
	"set": {}, "of": {},
}

type assignmentMatch struct {
	pos   int
	key   string
	value string
}

// ExtractAssignments pulls key/value assignments out of free text. When a key is assigned
// more than once the last occurrence in the text wins; keys are returned lowercased, ordered
// by the position of the winning assignment.
func ExtractAssignments(text string) []Fact {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var matches []assignmentMatch
	for pi, re := range assignmentPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			key := strings.ToLower(text[m[2]:m[3]])
			if _, skip := proseKeys[key]; skip && pi >= 2 {
				continue
			}

			var value string
			quoted := false
			switch {
			case m[4] >= 0:
				value, quoted = text[m[4]:m[5]], true
			case m[6] >= 0:
				value, quoted = text[m[6]:m[7]], true
			case m[8] >= 0:
				value = text[m[8]:m[9]]
			}
			if !quoted {
				// "key: //path" style comments and URLs after a colon are not assignments.
				if pi == 1 && strings.HasPrefix(value, "//") {
					continue
				}
				value = strings.TrimRight(value, factTrimTail)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			matches = append(matches, assignmentMatch{pos: m[0], key: key, value: value})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	winner := make(map[string]int, len(matches))
	for i, m := range matches {
		winner[m.key] = i
	}

	facts := make([]Fact, 0, len(winner))
	for i, m := range matches {
		if winner[m.key] == i {
			facts = append(facts, Fact{Key: m.key, Value: m.value})
		}
	}
	return facts
}
