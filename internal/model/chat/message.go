package chat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Role identifies who authored a captured message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole accepts "user" or "assistant" in any case.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// Platform is the chat web UI a message was scraped from.
type Platform string

const (
	PlatformChatGPT Platform = "chatgpt"
	PlatformClaude  Platform = "claude"
	PlatformUnknown Platform = "unknown"
)

// Observation is a message as the scraper saw it, before the dedup gate.
type Observation struct {
	Platform Platform
	Role     Role
	Text     string
	Convo    string
	URL      string
}

// Payload is the JSON body posted to the local logger endpoint.
type Payload struct {
	ID       string   `json:"id,omitempty"`
	TS       string   `json:"ts,omitempty"`
	Platform Platform `json:"platform,omitempty"`
	Convo    string   `json:"convo,omitempty"`
	Role     Role     `json:"role"`
	Text     string   `json:"text"`
	URLs     []string `json:"urls"`
	Metadata Metadata `json:"metadata"`
}

// Artifact is a code block or canvas attached to an assistant reply.
type Artifact struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Entry is one line of the flat log files, as written by the logger endpoint.
type Entry struct {
	TS       time.Time `json:"ts"`
	Platform Platform  `json:"platform"`
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	URLs     []string  `json:"urls"`
	Metadata Metadata  `json:"metadata"`
}

// DetectPlatform maps a page URL (or bare hostname) to the chat UI it belongs to.
func DetectPlatform(pageURL string) Platform {
	host := strings.ToLower(pageURL)
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = strings.ToLower(u.Hostname())
	}
	switch {
	case strings.Contains(host, "claude.ai"):
		return PlatformClaude
	case strings.Contains(host, "chatgpt.com"), strings.Contains(host, "chat.openai.com"):
		return PlatformChatGPT
	default:
		return PlatformUnknown
	}
}
