// Package alias produces and validates the anonymous identifier that stands
// in for a reporter across sessions.
package alias

import (
	"math/rand/v2"
)

const generateAttempts = 32

// Generate picks one plant-or-mineral word and one landscape word, joined by
// a space. Rejection sampling keeps the result within maxLen without
// weighting the vocabularies unfairly; after too many rejections it falls
// back to the shortest possible pair. Generation is purely syntactic; the
// claim flow and the store's unique constraint own uniqueness.
func Generate(maxLen int) string {
	firsts := make([]string, 0, len(plants)+len(minerals))
	firsts = append(firsts, plants...)
	firsts = append(firsts, minerals...)

	for i := 0; i < generateAttempts; i++ {
		candidate := firsts[rand.IntN(len(firsts))] + " " + landscapes[rand.IntN(len(landscapes))]
		if maxLen <= 0 || len(candidate) <= maxLen {
			return candidate
		}
	}
	return shortest(firsts) + " " + shortest(landscapes)
}

func shortest(words []string) string {
	best := words[0]
	for _, w := range words[1:] {
		if len(w) < len(best) {
			best = w
		}
	}
	return best
}
