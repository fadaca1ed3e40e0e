package fallback

import "strings"

// DefaultDegradeLimit is the rune budget for a degraded prompt.
const DefaultDegradeLimit = 512

// degradePrompt produces the simplified prompt used by StrategyDegrade:
// whitespace is collapsed and the text is truncated to limit runes at a word
// boundary. The same prompt always degrades the same way.
func degradePrompt(prompt string, limit int) string {
	if limit <= 0 {
		limit = DefaultDegradeLimit
	}
	collapsed := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	truncated := string(runes[:limit])
	if i := strings.LastIndexByte(truncated, ' '); i > 0 {
		truncated = truncated[:i]
	}
	return truncated
}
