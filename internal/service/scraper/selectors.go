package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// SelectorGroup is a list of CSS selectors tried in order for one role. The
// first selector that matches anything wins. When RoleAttr is set the role
// is read from that attribute instead.
type SelectorGroup struct {
	Role      chat.Role `json:"role,omitempty"`
	RoleAttr  string    `json:"roleAttr,omitempty"`
	Selectors []string  `json:"selectors"`
}

var platformSelectors = map[chat.Platform][]SelectorGroup{
	chat.PlatformChatGPT: {
		{
			RoleAttr:  "data-message-author-role",
			Selectors: []string{"[data-message-author-role]"},
		},
	},
	chat.PlatformClaude: {
		{
			Role: chat.RoleUser,
			Selectors: []string{
				`[data-testid="user-message"]`,
				`div[class*="font-user-message"]`,
			},
		},
		{
			Role: chat.RoleAssistant,
			Selectors: []string{
				"div.font-claude-response",
				`div[class*="font-claude-response"]`,
				"div.standard-markdown",
				`div[class*="standard-markdown"]`,
			},
		},
	},
}

// Selectors returns the selector groups used for platform.
func Selectors(platform chat.Platform) ([]SelectorGroup, error) {
	groups, ok := platformSelectors[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return groups, nil
}

const scanTemplate = `(() => {
  const groups = %s;
  const seen = new Set();
  const nodes = [];
  for (const group of groups) {
    for (const selector of group.selectors) {
      let found;
      try { found = document.querySelectorAll(selector); } catch (e) { continue; }
      if (found.length === 0) continue;
      for (const el of found) {
        if (seen.has(el)) continue;
        seen.add(el);
        const role = group.roleAttr ? el.getAttribute(group.roleAttr) : group.role;
        nodes.push({ el, role });
      }
      break;
    }
  }
  nodes.sort((a, b) => (a.el.compareDocumentPosition(b.el) & Node.DOCUMENT_POSITION_FOLLOWING) ? -1 : 1);
  const messages = [];
  for (const n of nodes) {
    if (nodes.some(o => o !== n && o.el.contains(n.el))) continue;
    const text = (n.el.innerText || n.el.textContent || '').trim();
    if (text) messages.push({ role: n.role, text });
  }
  return JSON.stringify({ url: location.href, messages });
})()`

var (
	scanMu    sync.Mutex
	scanCache = map[chat.Platform]string{}
)

// ScanExpression returns the script that lists the messages currently in
// the DOM. Scripts are rendered once per platform.
func ScanExpression(platform chat.Platform) (string, error) {
	scanMu.Lock()
	defer scanMu.Unlock()

	if expr, ok := scanCache[platform]; ok {
		return expr, nil
	}
	groups, err := Selectors(platform)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	expr := fmt.Sprintf(scanTemplate, encoded)
	scanCache[platform] = expr
	return expr, nil
}

// ScanResult is what the scan script returns.
type ScanResult struct {
	URL      string        `json:"url"`
	Messages []ScanMessage `json:"messages"`
}

// ScanMessage is one message node found by the scan.
type ScanMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// DecodeScan parses the scan's return value, which is a JSON string
// holding the result document.
func DecodeScan(raw json.RawMessage) (ScanResult, error) {
	var doc string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ScanResult{}, fmt.Errorf("scan returned non-string value: %w", err)
	}
	var res ScanResult
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return ScanResult{}, fmt.Errorf("decode scan result: %w", err)
	}
	return res, nil
}
