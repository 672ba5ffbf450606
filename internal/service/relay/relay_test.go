package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/dedup"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads []chat.Payload
	fail     map[string]bool
	done     chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fail: map[string]bool{}, done: make(chan struct{}, 64)}
}

func (s *recordingSender) Send(_ context.Context, p chat.Payload) error {
	defer func() { s.done <- struct{}{} }()
	if s.fail[p.Text] {
		return errors.New("connection refused")
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.payloads))
	for _, p := range s.payloads {
		out = append(out, p.Text)
	}
	return out
}

func (s *recordingSender) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
}

func startRelay(t *testing.T, sender Sender, logger *zap.Logger) *Relay {
	t.Helper()
	r := New(dedup.NewGate(logger), sender, 16, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func observe(role chat.Role, text string) chat.Observation {
	return chat.Observation{Platform: chat.PlatformClaude, Role: role, Text: text, Convo: "test-conversation"}
}

func TestSubmitForwardsEachTextOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sender := newRecordingSender()
	r := startRelay(t, sender, zap.New(core))
	ctx := context.Background()

	var reasons []dedup.Reason
	for _, text := range []string{"okay38", "okay38", "okay39"} {
		reasons = append(reasons, r.Submit(ctx, observe(chat.RoleAssistant, text)).Reason)
	}
	sender.waitFor(t, 2)

	assert.Equal(t, []dedup.Reason{dedup.ReasonForwarded, dedup.ReasonDuplicate, dedup.ReasonForwarded}, reasons)
	assert.Equal(t, []string{"okay38", "okay39"}, sender.texts())
	assert.Equal(t, 1, logs.FilterMessage("duplicate blocked").Len())
	assert.Equal(t, 2, r.Badge().Count())

	stats := r.Stats()
	assert.Equal(t, 2, stats.Forwarded)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 2, stats.SeenSet)
}

func TestBadgeTracksForwardedCount(t *testing.T) {
	sender := newRecordingSender()
	r := startRelay(t, sender, zap.NewNop())

	var seen []int
	var mu sync.Mutex
	r.Badge().OnChange(func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	ctx := context.Background()
	for _, text := range []string{"a message", "a message", "another one", "third one", "another one"} {
		r.Submit(ctx, observe(chat.RoleUser, text))
	}
	sender.waitFor(t, 3)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, len(sender.texts()), r.Badge().Count())
}

func TestSendFailureIsLoggedAndDropped(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sender := newRecordingSender()
	sender.fail["okay40"] = true
	r := startRelay(t, sender, zap.New(core))
	ctx := context.Background()

	r.Submit(ctx, observe(chat.RoleAssistant, "okay40"))
	r.Submit(ctx, observe(chat.RoleAssistant, "okay41"))
	sender.waitFor(t, 2)

	assert.Equal(t, []string{"okay41"}, sender.texts())
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("send failed, message lost").Len() == 1 && r.Stats().Failed == 1
	}, time.Second, 10*time.Millisecond)

	// no retry: the lost text is still in the seen-set
	assert.Equal(t, dedup.ReasonDuplicate, r.Submit(ctx, observe(chat.RoleAssistant, "okay40")).Reason)
}

func TestResetForwardsPreviouslyBlockedText(t *testing.T) {
	sender := newRecordingSender()
	r := startRelay(t, sender, zap.NewNop())
	ctx := context.Background()

	first := r.Stats().Session
	r.Submit(ctx, observe(chat.RoleAssistant, "okay38"))
	require.Equal(t, dedup.ReasonDuplicate, r.Submit(ctx, observe(chat.RoleAssistant, "okay38")).Reason)

	session := r.Reset()
	assert.NotEqual(t, first.ID, session.ID)
	assert.Zero(t, r.Badge().Count())

	assert.Equal(t, dedup.ReasonForwarded, r.Submit(ctx, observe(chat.RoleAssistant, "okay38")).Reason)
	sender.waitFor(t, 2)
	assert.Equal(t, []string{"okay38", "okay38"}, sender.texts())
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := New(dedup.NewGate(nil), newRecordingSender(), 1, zap.New(core))
	ctx := context.Background()

	r.Submit(ctx, observe(chat.RoleUser, "first"))
	r.Submit(ctx, observe(chat.RoleUser, "second"))

	assert.Equal(t, 1, logs.FilterMessage("queue full, message dropped").Len())
	assert.Equal(t, 1, r.Stats().Dropped)
}

func TestDispatch(t *testing.T) {
	sender := newRecordingSender()
	r := startRelay(t, sender, zap.NewNop())
	ctx := context.Background()

	reply := r.Dispatch(ctx, chat.Envelope{
		Type:    chat.EnvelopeTypeLog,
		Payload: &chat.Payload{Role: "assistant", Text: "okay42", Platform: chat.PlatformChatGPT},
	})
	assert.True(t, reply.OK)
	assert.Equal(t, string(dedup.ReasonForwarded), reply.Status)
	assert.Equal(t, 1, reply.Count)
	sender.waitFor(t, 1)

	reply = r.Dispatch(ctx, chat.Envelope{Type: chat.EnvelopeTypeLog, Payload: &chat.Payload{Role: "assistant", Text: "okay42"}})
	assert.Equal(t, string(dedup.ReasonDuplicate), reply.Status)

	reply = r.Dispatch(ctx, chat.Envelope{Type: chat.EnvelopeTypeLog})
	assert.False(t, reply.OK)

	reply = r.Dispatch(ctx, chat.Envelope{Type: chat.EnvelopeTypeLog, Payload: &chat.Payload{Role: "system", Text: "x"}})
	assert.False(t, reply.OK)

	count := 7
	reply = r.Dispatch(ctx, chat.Envelope{Action: chat.ActionUpdateBadge, Count: &count})
	assert.True(t, reply.OK)
	assert.Equal(t, 1, reply.Count)

	reply = r.Dispatch(ctx, chat.Envelope{Action: chat.ActionGetStats})
	assert.True(t, reply.OK)
	require.NotNil(t, reply.Stats)
	assert.Equal(t, 1, reply.Stats.Forwarded)
	assert.Equal(t, 1, reply.Stats.Blocked)
	assert.Equal(t, 1, reply.Stats.SeenSet)
	require.Len(t, reply.Seen, 1)
	assert.Equal(t, "okay42", reply.Seen[0].Text)

	assert.Equal(t, chat.OKReply(), r.Dispatch(ctx, chat.Envelope{Action: "somethingElse"}))

	before := r.Stats().Session.ID
	reply = r.Dispatch(ctx, chat.Envelope{Action: chat.ActionReset})
	assert.True(t, reply.OK)
	assert.NotEqual(t, before, reply.Status)
	assert.Zero(t, r.Badge().Count())
	assert.Zero(t, r.Gate().Len())
}

func TestUpdateBadgeCannotDesyncForwardedCount(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sender := newRecordingSender()
	r := startRelay(t, sender, zap.New(core))
	ctx := context.Background()

	r.Submit(ctx, observe(chat.RoleAssistant, "okay38"))
	count := 7
	reply := r.Dispatch(ctx, chat.Envelope{Action: chat.ActionUpdateBadge, Count: &count})
	assert.Equal(t, 1, reply.Count)
	r.Submit(ctx, observe(chat.RoleAssistant, "okay39"))
	sender.waitFor(t, 2)

	assert.Equal(t, 2, r.Badge().Count())
	assert.Equal(t, 2, r.Stats().Forwarded)
	assert.Len(t, sender.texts(), 2)
	assert.Equal(t, 1, logs.FilterMessage("badge override ignored").Len())
}

func TestGetStatsListsSeenSetInOrder(t *testing.T) {
	r := New(dedup.NewGate(zap.NewNop()), newRecordingSender(), 4, zap.NewNop())
	ctx := context.Background()
	r.Gate().Seed("history message")
	r.Submit(ctx, observe(chat.RoleUser, "okay60"))

	reply := r.Dispatch(ctx, chat.Envelope{Action: chat.ActionGetStats})
	require.NotNil(t, reply.Stats)
	assert.Equal(t, r.Stats().Session.ID, reply.Stats.Session.ID)
	assert.Equal(t, 2, reply.Stats.SeenSet)
	require.Len(t, reply.Seen, 2)
	assert.Equal(t, "history message", reply.Seen[0].Text)
	assert.Equal(t, "okay60", reply.Seen[1].Text)
}

func TestDrainDeliversQueuedPayloads(t *testing.T) {
	sender := newRecordingSender()
	r := New(dedup.NewGate(zap.NewNop()), sender, 4, zap.NewNop())
	ctx := context.Background()

	for _, text := range []string{"okay50", "okay51", "okay50"} {
		r.Submit(ctx, observe(chat.RoleUser, text))
	}

	assert.Equal(t, 2, r.Drain(ctx))
	assert.Equal(t, []string{"okay50", "okay51"}, sender.texts())
	assert.Zero(t, r.Drain(ctx))
}
