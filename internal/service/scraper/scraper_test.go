package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/dedup"
)

type scriptedPage struct {
	mu     sync.Mutex
	frames []ScanResult
	calls  int
	err    error
}

func (p *scriptedPage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := p.calls
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	frame := p.frames[len(p.frames)-1]
	if call < len(p.frames) {
		frame = p.frames[call]
	}
	doc, _ := json.Marshal(frame)
	return json.Marshal(string(doc))
}

type gateSink struct {
	gate      *dedup.Gate
	forwarded []chat.Observation
}

func (s *gateSink) Submit(_ context.Context, obs chat.Observation) dedup.Decision {
	d := s.gate.Check(obs.Role, obs.Text)
	if d.Forward {
		s.forwarded = append(s.forwarded, obs)
	}
	return d
}

func frame(msgs ...string) ScanResult {
	res := ScanResult{URL: "https://claude.ai/chat/abc"}
	for i := 0; i+1 < len(msgs); i += 2 {
		res.Messages = append(res.Messages, ScanMessage{Role: msgs[i], Text: msgs[i+1]})
	}
	return res
}

func newTestScraper(t *testing.T, page *scriptedPage, baseline bool) (*Scraper, *gateSink) {
	t.Helper()
	gate := dedup.NewGate(nil)
	sink := &gateSink{gate: gate}
	s, err := New(page, sink, gate, Options{Platform: chat.PlatformClaude, Baseline: baseline, Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	return s, sink
}

func TestPollReRenderDoesNotRelog(t *testing.T) {
	page := &scriptedPage{frames: []ScanResult{
		frame("user", "testmessage 38, respond okay 38", "assistant", "okay38"),
		// re-render presents the same history plus a new turn
		frame("user", "testmessage 38, respond okay 38", "assistant", "okay38",
			"user", "testmessage 39, respond okay 39", "assistant", "okay39"),
	}}
	s, sink := newTestScraper(t, page, false)
	ctx := context.Background()

	first, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Forwarded)

	second, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Forwarded)
	assert.Equal(t, 2, second.Blocked)

	var texts []string
	for _, o := range sink.forwarded {
		texts = append(texts, o.Text)
	}
	assert.Equal(t, []string{"testmessage 38, respond okay 38", "okay38", "testmessage 39, respond okay 39", "okay39"}, texts)
	assert.Equal(t, "https://claude.ai/chat/abc", sink.forwarded[0].URL)
}

func TestPollBaselineSeedsHistory(t *testing.T) {
	page := &scriptedPage{frames: []ScanResult{
		frame("user", "old question", "assistant", "old answer"),
		frame("user", "old question", "assistant", "old answer", "assistant", "okay40"),
	}}
	s, sink := newTestScraper(t, page, true)
	ctx := context.Background()

	first, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Seeded)
	assert.Empty(t, sink.forwarded)

	second, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Forwarded)
	require.Len(t, sink.forwarded, 1)
	assert.Equal(t, "okay40", sink.forwarded[0].Text)
}

func TestPollFiltersNoiseAndUnknownRoles(t *testing.T) {
	page := &scriptedPage{frames: []ScanResult{
		frame("assistant", "Copy", "assistant", "ok", "system", "hidden", "assistant", "ChatGPT said: okay172"),
	}}
	s, sink := newTestScraper(t, page, false)

	res, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seen)
	assert.Equal(t, 2, res.Filtered)
	require.Len(t, sink.forwarded, 1)
	assert.Equal(t, "okay172", sink.forwarded[0].Text)
}

func TestPollPropagatesEvaluateError(t *testing.T) {
	page := &scriptedPage{err: errors.New("target closed")}
	s, _ := newTestScraper(t, page, false)

	_, err := s.Poll(context.Background())
	require.Error(t, err)
}

func TestRunKeepsPollingAfterErrors(t *testing.T) {
	page := &scriptedPage{err: errors.New("target closed")}
	s, _ := newTestScraper(t, page, false)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	page.mu.Lock()
	defer page.mu.Unlock()
	assert.Greater(t, page.calls, 1)
}

func TestNewRejectsUnknownPlatform(t *testing.T) {
	_, err := New(&scriptedPage{}, &gateSink{gate: dedup.NewGate(nil)}, nil, Options{Platform: chat.PlatformUnknown}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}
