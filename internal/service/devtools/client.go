package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrTargetNotFound = errors.New("devtools target not found")

// Target is one entry of the browser's /json listing.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Options 连接选项
type Options struct {
	HandshakeTimeout time.Duration
	HTTPTimeout      time.Duration
}

// DefaultOptions 默认连接选项
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		HTTPTimeout:      5 * time.Second,
	}
}

// Client talks to a browser started with --remote-debugging-port.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewClient returns a client for baseURL, e.g. http://localhost:9222.
func NewClient(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = def.HTTPTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: opts.HTTPTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger:  logger.Named("devtools"),
	}
}

// ListTargets fetches all debuggable targets.
func (c *Client) ListTargets(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json", nil)
	if err != nil {
		return nil, fmt.Errorf("build targets request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get debug targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get debug targets: status %d", resp.StatusCode)
	}

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode debug targets: %w", err)
	}
	return targets, nil
}

// FindTarget returns the first page whose id equals match or whose URL
// contains it. An empty match selects the first chat page.
func (c *Client) FindTarget(ctx context.Context, match string) (Target, error) {
	targets, err := c.ListTargets(ctx)
	if err != nil {
		return Target{}, err
	}

	for _, t := range targets {
		if t.Type != "page" || t.WebSocketDebuggerURL == "" {
			continue
		}
		if match == "" {
			if isChatPage(t.URL) {
				return t, nil
			}
			continue
		}
		if t.ID == match || strings.Contains(t.URL, match) {
			c.logger.Debug("target found", zap.String("id", t.ID), zap.String("url", t.URL))
			return t, nil
		}
	}
	if match == "" {
		match = "chat page"
	}
	return Target{}, fmt.Errorf("%w: %s", ErrTargetNotFound, match)
}

func isChatPage(u string) bool {
	return strings.Contains(u, "claude.ai") || strings.Contains(u, "chatgpt.com") || strings.Contains(u, "chat.openai.com")
}

// Attach opens a protocol session on target.
func (c *Client) Attach(ctx context.Context, target Target) (*Session, error) {
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("target %s has no websocket debugger url", target.ID)
	}

	conn, _, err := c.dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	c.logger.Info("attached", zap.String("id", target.ID), zap.String("title", target.Title))
	return newSession(conn, target), nil
}
