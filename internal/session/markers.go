package session

import (
	"fmt"
	"regexp"
	"strings"

	"vramd/pkg/types"
)

var markerRe = regexp.MustCompile(`^\s*\[Model:\s*([^\]\n]+?)\s*\]\s*\[Provider:\s*([^\]\n]+?)\s*\]\s*`)

// FormatMarkers renders the provider/model prefix carried by user messages.
func FormatMarkers(provider, model string) string {
	return fmt.Sprintf("[Model: %s]\n\n[Provider: %s]\n\n", model, provider)
}

// ParseMarkers extracts the markers at the start of content.
func ParseMarkers(content string) (provider, model string, ok bool) {
	m := markerRe.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[2], m[1], true
}

// StripMarkers removes a leading marker prefix.
func StripMarkers(content string) string {
	loc := markerRe.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[loc[1]:]
}

// WithMarkers replaces any marker prefix of content with provider/model.
func WithMarkers(content, provider, model string) string {
	return FormatMarkers(provider, model) + StripMarkers(content)
}

// lastUserIndex returns the index of the latest user message, or -1.
func lastUserIndex(msgs []types.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return i
		}
	}
	return -1
}

// rewriteLastMarked rewrites the markers of the latest user message that
// carries markers, scanning backward. Earlier marked messages are left alone.
func rewriteLastMarked(msgs []types.Message, provider, model string) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleUser {
			continue
		}
		if _, _, ok := ParseMarkers(msgs[i].Content); ok {
			msgs[i].Content = WithMarkers(msgs[i].Content, provider, model)
			return true
		}
	}
	return false
}

// stripAll returns a copy of msgs with marker prefixes removed from user
// messages.
func stripAll(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		if m.Role == types.RoleUser {
			m.Content = strings.TrimLeft(StripMarkers(m.Content), "\n")
		}
		out[i] = m
	}
	return out
}
