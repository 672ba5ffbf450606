package chat

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	trailingPunct   = regexp.MustCompile(`[.,;!?)]+$`)
	invisibleRunes  = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
	chatGPTNavLinks = []*regexp.Regexp{
		regexp.MustCompile(`^https://chatgpt\.com/c/[a-f0-9-]+$`),
		regexp.MustCompile(`^https://chatgpt\.com/(library|gpts|codex)$`),
		regexp.MustCompile(`^https://chatgpt\.com/g/g-[a-zA-Z0-9-]+`),
		regexp.MustCompile(`^https://chatgpt\.com/(#main)?$`),
		regexp.MustCompile(`^https://sora\.chatgpt\.com`),
	}
)

// NormalizeText removes zero-width characters and collapses whitespace runs
// into single spaces. URLs never contain whitespace, so they survive intact.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(invisibleRunes.Replace(s)), " ")
}

// ExtractURLs returns the distinct content URLs mentioned in text, skipping
// ChatGPT's own navigation links.
func ExtractURLs(text string) []string {
	urls := make([]string, 0)
	seen := make(map[string]struct{})
	for _, match := range urlPattern.FindAllString(text, -1) {
		clean := trailingPunct.ReplaceAllString(match, "")
		if clean == "" || isChatGPTNavigationURL(clean) {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		urls = append(urls, clean)
	}
	return urls
}

func isChatGPTNavigationURL(u string) bool {
	for _, p := range chatGPTNavLinks {
		if p.MatchString(u) {
			return true
		}
	}
	return false
}

// ConvoIDFromURL extracts the conversation id from a chat page URL.
func ConvoIDFromURL(platform chat.Platform, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "no-convo"
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch platform {
	case chat.PlatformChatGPT:
		if id := segmentAfter(parts, "c"); id != "" {
			return id
		}
	case chat.PlatformClaude:
		if id := segmentAfter(parts, "chat"); id != "" {
			return id
		}
		if len(parts) > 0 && len(parts[len(parts)-1]) > 10 {
			return parts[len(parts)-1]
		}
	}

	if joined := strings.Join(parts, "/"); joined != "" {
		return joined
	}
	if u.Path != "" {
		return u.Path
	}
	return "no-convo"
}

func segmentAfter(parts []string, marker string) string {
	for i, p := range parts {
		if p == marker && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
