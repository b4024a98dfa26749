package classify

import (
	"regexp"
	"slices"
	"strings"

	"github.com/felo/reportmaster/internal/model"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]{4,}`)

var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "will": {},
	"your": {}, "which": {}, "there": {}, "their": {}, "would": {}, "about": {},
	"been": {}, "were": {}, "they": {}, "them": {}, "then": {}, "than": {},
	"also": {}, "into": {}, "please": {}, "regards": {}, "thanks": {},
	"после": {}, "письмо": {}, "чтобы": {}, "также": {},
}

// Keywords returns up to n of the most frequent words of four or more
// letters across the thread's bodies, most frequent first. Ties keep the
// order of first appearance.
func Keywords(t *model.Thread, n int) []string {
	if n <= 0 {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for i := range t.Messages {
		for _, w := range wordPattern.FindAllString(strings.ToLower(t.Messages[i].Body), -1) {
			if _, stop := stopWords[w]; stop {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return counts[b] - counts[a]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Sample returns the body of the thread's first message, cut to maxRunes
// with a trailing ellipsis when longer.
func Sample(t *model.Thread, maxRunes int) string {
	if len(t.Messages) == 0 {
		return ""
	}
	body := []rune(t.Messages[0].Body)
	if len(body) <= maxRunes {
		return string(body)
	}
	return string(body[:maxRunes]) + "..."
}
