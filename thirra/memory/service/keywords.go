package service

import (
	"strings"
	"unicode"

	radix "github.com/armon/go-radix"
)

// keywordSet matches query words against keywords stored in a radix tree. A prefix
// keyword matches every word it starts ("compil" matches "compiler"); an exact keyword
// only matches itself.
type keywordSet struct {
	tree *radix.Tree
}

func newKeywordSet(prefixes, exact []string) keywordSet {
	tree := radix.New()
	for _, w := range prefixes {
		tree.Insert(strings.ToLower(w), false)
	}
	for _, w := range exact {
		tree.Insert(strings.ToLower(w), true)
	}
	return keywordSet{tree: tree}
}

// match reports whether any keyword covers word.
func (k keywordSet) match(word string) bool {
	found := false
	k.tree.WalkPath(word, func(key string, v any) bool {
		if exactOnly, _ := v.(bool); !exactOnly || key == word {
			found = true
			return true
		}
		return false
	})
	return found
}

// hits counts the words covered by the set.
func (k keywordSet) hits(words []string) int {
	n := 0
	for _, w := range words {
		if k.match(w) {
			n++
		}
	}
	return n
}

// containsPhrase reports whether any multi-word keyword occurs in the normalized text.
func containsPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it on anything that is not a letter, digit or '+'/'#'
// (so "c++" and "c#" survive).
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}
