package directory

import "strings"

// maxSuggestDistance bounds how far a suggestion may be from the input.
const maxSuggestDistance = 3

// Suggest returns the candidate closest to name by edit distance, or ""
// when nothing is close enough.
func Suggest(name string, candidates []string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	best := ""
	bestDist := maxSuggestDistance + 1
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if strings.Contains(lc, name) {
			return c
		}
		if d := levenshtein(name, lc); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}
