package craftcord

import (
	"github.com/agnivade/levenshtein"
)

// levenshteinLimit scales the accepted edit distance with word length
func levenshteinLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

// closestMatch returns the candidate nearest to input, if any is
// within levenshteinLimit. Comparison ignores case and whitespace.
func closestMatch(input string, candidates []string) (string, bool) {
	token := normalizeName(input)
	if token == "" {
		return "", false
	}
	best := ""
	bestDist := -1
	for _, cand := range candidates {
		norm := normalizeName(cand)
		dist := levenshtein.ComputeDistance(token, norm)
		if dist > levenshteinLimit(len(norm)) {
			continue
		}
		if bestDist == -1 || dist < bestDist {
			best, bestDist = cand, dist
		}
	}
	return best, bestDist != -1
}

// didYouMean formats a suggestion suffix, or "" when nothing is close
func didYouMean(input string, candidates []string) string {
	if m, ok := closestMatch(input, candidates); ok {
		return " Did you mean **" + m + "**?"
	}
	return ""
}
