package title

import "strings"

// maxTitleRunes bounds thread titles derived from prompts.
const maxTitleRunes = 100

// FromPrompt derives a thread title from the first user prompt of a thread.
// The prompt is whitespace-collapsed and truncated to 100 runes.
func FromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	if title == "" {
		title = "New chat"
	}
	return title
}
