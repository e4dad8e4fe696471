// Package memory implements the context-window manager: an approximate
// token counter and a Fit step that condenses the oldest prefix of a
// conversation into a running summary whenever the history outgrows the
// configured token budget.
package memory

import "unicode/utf8"

// Approximate tokenization constants. Exactness is not required; the only
// contract is monotonicity: more text never yields a smaller estimate.
const (
	runesPerToken       = 4
	perMessageOverhead  = 4
	perToolCallOverhead = 8
)

// EstimateText approximates the token count of a text fragment.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	return (n + runesPerToken - 1) / runesPerToken
}
