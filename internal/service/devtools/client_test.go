package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowser serves /json and a page websocket that answers Runtime.evaluate.
func fakeBrowser(t *testing.T, answer func(expr string) map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/page/"
		targets := []Target{
			{ID: "SW1", Type: "service_worker", URL: "chrome-extension://abc/bg.js", WebSocketDebuggerURL: ws + "SW1"},
			{ID: "P1", Type: "page", Title: "New Tab", URL: "chrome://newtab/", WebSocketDebuggerURL: ws + "P1"},
			{ID: "P2", Type: "page", Title: "Claude", URL: "https://claude.ai/chat/abc", WebSocketDebuggerURL: ws + "P2"},
		}
		_ = json.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/devtools/page/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
				Params struct {
					Expression string `json:"expression"`
				} `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]any{"method": "Runtime.consoleAPICalled", "params": map[string]any{}})
			if req.Method == "Runtime.hang" {
				continue
			}
			if req.Method != "Runtime.evaluate" {
				_ = conn.WriteJSON(map[string]any{"id": req.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
				continue
			}
			_ = conn.WriteJSON(map[string]any{"id": req.ID, "result": answer(req.Params.Expression)})
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func valueResult(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "string", "value": v}}
}

func TestFindTarget(t *testing.T) {
	srv := fakeBrowser(t, nil)
	c := NewClient(srv.URL+"/", Options{}, nil)
	ctx := context.Background()

	targets, err := c.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 3)

	got, err := c.FindTarget(ctx, "claude.ai")
	require.NoError(t, err)
	assert.Equal(t, "P2", got.ID)

	got, err = c.FindTarget(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", got.ID)

	got, err = c.FindTarget(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "P2", got.ID)

	_, err = c.FindTarget(ctx, "bg.js")
	assert.True(t, errors.Is(err, ErrTargetNotFound))
}

func TestEvaluateReturnsValueAndSkipsEvents(t *testing.T) {
	srv := fakeBrowser(t, func(expr string) map[string]any {
		if expr == "document.title" {
			return valueResult("Claude")
		}
		return map[string]any{"result": map[string]any{"type": "undefined"}}
	})
	c := NewClient(srv.URL, Options{HandshakeTimeout: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target, err := c.FindTarget(ctx, "claude.ai")
	require.NoError(t, err)
	sess, err := c.Attach(ctx, target)
	require.NoError(t, err)
	defer sess.Close()

	raw, err := sess.Evaluate(ctx, "document.title")
	require.NoError(t, err)
	var title string
	require.NoError(t, json.Unmarshal(raw, &title))
	assert.Equal(t, "Claude", title)

	raw, err = sess.Evaluate(ctx, "void 0")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestEvaluateException(t *testing.T) {
	srv := fakeBrowser(t, func(string) map[string]any {
		return map[string]any{
			"result": map[string]any{"type": "object"},
			"exceptionDetails": map[string]any{
				"text":      "Uncaught",
				"exception": map[string]any{"description": "ReferenceError: nope is not defined"},
			},
		}
	})
	c := NewClient(srv.URL, Options{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target, err := c.FindTarget(ctx, "P2")
	require.NoError(t, err)
	sess, err := c.Attach(ctx, target)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Evaluate(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluation))
	assert.Contains(t, err.Error(), "ReferenceError")
}

func TestCallProtocolError(t *testing.T) {
	srv := fakeBrowser(t, nil)
	c := NewClient(srv.URL, Options{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target, err := c.FindTarget(ctx, "P1")
	require.NoError(t, err)
	sess, err := c.Attach(ctx, target)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Call(ctx, "Page.reload", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestCallReturnsPromptlyOnCancel(t *testing.T) {
	srv := fakeBrowser(t, nil)
	c := NewClient(srv.URL, Options{}, nil)

	target, err := c.FindTarget(context.Background(), "P1")
	require.NoError(t, err)
	sess, err := c.Attach(context.Background(), target)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = sess.Call(ctx, "Runtime.hang", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAttachWithoutDebuggerURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", Options{}, nil)
	_, err := c.Attach(context.Background(), Target{ID: "x"})
	require.Error(t, err)
}
