package chat

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

var (
	commonToolPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:used|using|calling)\s+(\w+)\s+tool`),
		regexp.MustCompile(`(?i)\[Tool:\s*(\w+)\]`),
		regexp.MustCompile("(?i)```(\\w+)\\s*\\n"),
		regexp.MustCompile(`(?i)\*\*Tool Used:\*\*\s*(\w+)`),
		regexp.MustCompile(`(?i)tool_calls?["']?:\s*["']?(\w+)`),
	}
	claudeToolPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)thinking`),
		regexp.MustCompile(`(?i)computer_use`),
		regexp.MustCompile(`(?i)bash`),
		regexp.MustCompile(`(?i)python`),
		regexp.MustCompile(`(?i)code_execution`),
	}
	chatGPTToolPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)web_search`),
		regexp.MustCompile(`(?i)dall_e`),
		regexp.MustCompile(`(?i)code_interpreter`),
		regexp.MustCompile(`(?i)browser`),
	}
)

// DetectTools guesses which tools an assistant reply mentions.
func DetectTools(text string, platform chat.Platform) []string {
	patterns := append([]*regexp.Regexp(nil), commonToolPatterns...)
	switch platform {
	case chat.PlatformClaude:
		patterns = append(patterns, claudeToolPatterns...)
	case chat.PlatformChatGPT:
		patterns = append(patterns, chatGPTToolPatterns...)
	}

	tools := make([]string, 0)
	for _, p := range patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		tool := strings.ToLower(m[0])
		if len(m) > 1 && m[1] != "" {
			tool = m[1]
		}
		if !contains(tools, tool) {
			tools = append(tools, tool)
		}
	}
	return tools
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
