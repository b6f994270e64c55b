package service

import (
	"strings"
)

const (
	DefaultComplexityThreshold = 0.6
	DefaultRelativeThreshold   = 0.8

	complexityWordsFull = 30 // words at which the length component saturates
	lengthWeight        = 0.4
	analyticalWeight    = 0.35
	referentialWeight   = 0.25

	baseTopK    = 2
	complexTopK = 3
)

// Analytical keywords are prefixes: "compar" covers compare, comparison, comparing.
var analyticalKeywords = newKeywordSet(
	[]string{
		"compar", "contrast", "analy", "explain", "evaluat", "differen", "tradeoff",
		"summari", "relationship", "implication", "reason", "advantag",
		"disadvantag", "assess",
	},
	[]string{"why", "how", "pros", "cons"},
)

// Referential words point back at earlier parts of the conversation.
var referentialWords = newKeywordSet(
	nil,
	[]string{"earlier", "previous", "previously", "before", "above", "mentioned", "again", "said", "recall", "remember", "context"},
)

var referentialPhrases = []string{
	"you said", "i said", "we discussed", "as discussed", "last time", "go back", "from before",
	"that file", "the file", "that one",
}

// QueryComplexity scores how much context a query is likely to need, in [0, 1].
// It blends length, analytical vocabulary and references to earlier turns.
func QueryComplexity(query string) float64 {
	words := tokenize(query)
	if len(words) == 0 {
		return 0
	}

	length := float64(len(words)) / complexityWordsFull
	if length > 1 {
		length = 1
	}

	analytical := float64(analyticalKeywords.hits(words)) / 2
	if analytical > 1 {
		analytical = 1
	}

	referential := 0.0
	normalized := strings.Join(words, " ")
	if referentialWords.hits(words) > 0 || containsPhrase(normalized, referentialPhrases) {
		referential = 1
	}

	score := length*lengthWeight + analytical*analyticalWeight + referential*referentialWeight
	if score > 1 {
		score = 1
	}
	return score
}

// KDynamic returns how many chunks to retrieve for query: 3 for complex queries, 2 otherwise.
// A non-positive threshold uses DefaultComplexityThreshold.
func KDynamic(query string, threshold float64) int {
	if threshold <= 0 {
		threshold = DefaultComplexityThreshold
	}
	if QueryComplexity(query) >= threshold {
		return complexTopK
	}
	return baseTopK
}

// FilterRelative keeps results whose similarity is at least factor times the best one.
// Results are expected in descending order; factor <= 0 uses DefaultRelativeThreshold.
func FilterRelative(results []RetrievalResult, factor float64) []RetrievalResult {
	if len(results) == 0 {
		return nil
	}
	if factor <= 0 {
		factor = DefaultRelativeThreshold
	}

	best := results[0].Similarity
	for _, r := range results[1:] {
		if r.Similarity > best {
			best = r.Similarity
		}
	}

	cutoff := best * factor
	out := make([]RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Similarity >= cutoff {
			out = append(out, r)
		}
	}
	return out
}
