package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, NormalizeName(m)) {
			return true
		}
	}
	return false
}

// BestMatch returns the index of the candidate most similar to name and its
// similarity, or -1 when no candidate reaches threshold.
func BestMatch(name string, candidates []string, threshold float64) (int, float64) {
	normalized := NormalizeName(name)
	best := -1
	var bestSimilarity float64
	for i, candidate := range candidates {
		similarity := matchr.JaroWinkler(normalized, NormalizeName(candidate), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = i
		}
	}
	if bestSimilarity < threshold {
		return -1, bestSimilarity
	}
	return best, bestSimilarity
}
