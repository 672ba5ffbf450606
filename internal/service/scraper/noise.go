package scraper

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

var (
	assistantPrefixes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^ChatGPT said:\s*`),
		regexp.MustCompile(`(?i)^(ChatGPT|GPT-\d+):\s*`),
	}
	userPrefix = regexp.MustCompile(`(?i)^You said:\s*`)

	noisePatterns = []*regexp.Regexp{
		// thinking indicators
		regexp.MustCompile(`(?i)^Thinking\s*(Skip)?$`),
		regexp.MustCompile(`(?i)^Thought for .*(Skip)?$`),
		// feedback and comparison UI
		regexp.MustCompile(`(?i)response do you prefer\?`),
		regexp.MustCompile(`(?i)You're giving feedback on a new version`),
		regexp.MustCompile(`(?i)ChatGPT Response \d+`),
		regexp.MustCompile(`(?i)Responses may take a moment to load`),
		// buttons
		regexp.MustCompile(`(?i)^(copy|regenerate|share|edit|retry)$`),
		regexp.MustCompile(`(?i)^(thumbs up|thumbs down|like|dislike|read aloud)$`),
		regexp.MustCompile(`(?i)^(stop generating|continue|show more|new chat|clear chat)$`),
		regexp.MustCompile(`^\d+/\d+$`),
	}
)

// CleanText strips the screen-reader headings chat UIs put in front of
// message text.
func CleanText(role chat.Role, text string) string {
	cleaned := strings.TrimSpace(text)
	switch role {
	case chat.RoleAssistant:
		for _, p := range assistantPrefixes {
			cleaned = p.ReplaceAllString(cleaned, "")
		}
	case chat.RoleUser:
		cleaned = userPrefix.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

// IsNoise reports UI text that is not part of the conversation.
func IsNoise(text string) bool {
	if len([]rune(text)) < 3 {
		return true
	}
	for _, p := range noisePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
