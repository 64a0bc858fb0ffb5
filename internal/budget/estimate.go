// Package budget splits a model's context window between the system prompt,
// the conversation and the reserved output, and picks a prompt tier and
// message window that fit.
package budget

import (
	"math"
	"strings"
	"unicode/utf8"

	"vramd/pkg/types"
)

// DefaultWordFactor scales whitespace-separated words to tokens.
const DefaultWordFactor = 1.3

// perMessageOverhead approximates role framing added by chat templates.
const perMessageOverhead = 4

// Estimator approximates token counts. It is deterministic and never
// decreases when text is appended.
type Estimator struct {
	// WordFactor multiplies the word count; zero uses DefaultWordFactor.
	WordFactor float64
}

// Estimate returns the approximate token count of text: the larger of the
// scaled word count and one token per four characters.
func (e Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	f := e.WordFactor
	if f <= 0 {
		f = DefaultWordFactor
	}
	words := int(math.Ceil(float64(len(strings.Fields(text))) * f))
	chars := (utf8.RuneCountInString(text) + 3) / 4
	if chars > words {
		return chars
	}
	return words
}

// Messages estimates a message list including per-message framing.
func (e Estimator) Messages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Estimate(m.Content) + perMessageOverhead
	}
	return total
}
