package sink

import (
	"regexp"
	"strings"
)

var cssFragments = []string{
	"@keyframes", "position: fixed", "z-index:", "rgba(", "transform:",
	"animation:", "box-shadow:", "border-radius:", "opacity:", "background:",
	".intercom-", "px;", "rem;", "vh;", "vw;", "%;",
}

var greetingFragments = []string{
	"hi, i'm claude",
	"hello, i'm claude",
	"i'm claude",
	"how can i help you today",
	"what can i help you with today",
	"how may i assist you today",
	"hi there! how can i help",
}

var uiNoiseExact = map[string]struct{}{
	"all chats":                       {},
	"new chat":                        {},
	"retry":                           {},
	"share":                           {},
	"delete":                          {},
	"claude can make mistakes":        {},
	"please double-check responses":   {},
	"pending context request":         {},
	"artifacts":                       {},
	"projects":                        {},
	"claude code":                     {},
	"starred":                         {},
	"chats projects artifacts":        {},
	"recents":                         {},
	"test message confirmation share": {},
	"test message confirmation":       {},
	"confirmation":                    {},
	"message confirmation":            {},
}

var uiNoiseFragments = []string{
	"chats projects artifacts",
	"claude can make mistakes",
	"confirmation share",
	"message confirmation",
}

var singleWordUI = map[string]struct{}{
	"research": {},
	"sonnet":   {},
	"writing":  {},
	"method":   {},
	"analysis": {},
	"review":   {},
	"request":  {},
}

var (
	okayPattern    = regexp.MustCompile(`^okay\d+$`)
	buttonSuffix   = regexp.MustCompile(`^.*\s+(retry|share)$`)
	confirmationUI = regexp.MustCompile(`^test\s+message\s+confirmation`)
)

const sidebarChatLink = "claude.ai/chat/"

// IsNoise reports whether content is UI chrome rather than conversation and
// should stay out of chat.log. urls are the links found in the message.
func IsNoise(content string, urls []string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))

	if len([]rune(content)) < 3 {
		return true
	}

	for _, fragment := range cssFragments {
		if strings.Contains(content, fragment) {
			return true
		}
	}

	for _, greeting := range greetingFragments {
		if strings.Contains(lower, greeting) {
			// Sonnet greetings carry the model in the page links and are kept.
			return !anyContains(urls, "sonnet")
		}
	}

	if _, ok := uiNoiseExact[lower]; ok {
		return true
	}
	for _, fragment := range uiNoiseFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}

	// Sidebar chat titles come with a link to the chat they open.
	if anyContains(urls, sidebarChatLink) && len(strings.Fields(content)) <= 6 {
		return true
	}

	if _, ok := singleWordUI[lower]; ok {
		return true
	}

	if okayPattern.MatchString(lower) || strings.HasPrefix(lower, "testmessage") {
		return false
	}

	return buttonSuffix.MatchString(lower) || confirmationUI.MatchString(lower)
}

func anyContains(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
