// Package fuzzy does typo tolerant matching for the email list filter.
package fuzzy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// LevenshteinDistance is the number of single rune edits between s1 and s2 after folding
func LevenshteinDistance(s1, s2 string) int {
	return distance([]rune(Fold(s1)), []rune(Fold(s2)))
}

func distance(r1, r2 []rune) int {
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	cur := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		cur[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(r2)]
}

// Threshold is the edit budget allowed for a query of this length
func Threshold(query string) int {
	n := len([]rune(query))
	switch {
	case n <= 3:
		return 1
	case n >= 8:
		return 3
	default:
		return 2
	}
}

// Match reports whether query is contained in, a prefix of, or within threshold
// edits of a word of text
func Match(query, text string, threshold int) bool {
	q := Fold(query)
	t := Fold(text)
	if q == "" {
		return true
	}
	if strings.Contains(t, q) {
		return true
	}
	qr := []rune(q)
	for _, word := range strings.Fields(t) {
		if strings.HasPrefix(word, q) || distance(qr, []rune(word)) <= threshold {
			return true
		}
	}
	return false
}

// MatchEmail checks subject, sender and the first 500 characters of the body
func MatchEmail(query, subject, sender, body string) bool {
	threshold := Threshold(query)
	if Match(query, subject, threshold) || Match(query, sender, threshold) {
		return true
	}
	if r := []rune(body); len(r) > 500 {
		body = string(r[:500])
	}
	return body != "" && Match(query, body, threshold)
}

// Score ranks a match; subject hits weigh more than sender hits
func Score(query, subject, sender string) float64 {
	q := Fold(query)
	score := 0.0

	subj := Fold(subject)
	if strings.Contains(subj, q) {
		score += 100
		if containsWord(subj, q) {
			score += 50
		}
	} else {
		for _, word := range strings.Fields(subj) {
			if d := distance([]rune(q), []rune(word)); d <= 2 {
				score += 50 - float64(d)*15
			}
			if strings.HasPrefix(word, q) {
				score += 40
			}
		}
	}

	from := Fold(sender)
	if strings.Contains(from, q) {
		score += 80
		if containsWord(from, q) {
			score += 30
		}
	} else {
		local := from
		if idx := strings.Index(from, "@"); idx > 0 {
			local = from[:idx]
		}
		if strings.HasPrefix(local, q) {
			score += 30
		}
	}
	return score
}

func containsWord(text, query string) bool {
	for _, word := range strings.Fields(text) {
		if word == query {
			return true
		}
	}
	return false
}
