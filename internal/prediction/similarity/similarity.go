package similarity

import "strings"

// Normalize is the comparison form used by Score: lower case, whitespace runs collapsed.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Distance is the Levenshtein distance between a and b over runes.
func Distance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	// Two rolling rows are enough for the distance.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Score returns 1 - distance/maxLen over the normalised inputs, in [0,1].
// An empty input on either side scores 0.
func Score(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	maxLen := max(len(ra), len(rb))
	s := 1 - float64(Distance(ra, rb))/float64(maxLen)
	if s < 0 {
		return 0
	}
	return s
}
