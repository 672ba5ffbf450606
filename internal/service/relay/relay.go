// Package relay moves gated observations to the local logger endpoint. The
// producer side (Submit, Dispatch) runs the dedup gate and queues payloads;
// the consumer side (Run) posts them one at a time in arrival order.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	chatservice "github.com/zhouzirui/chat-live-logger/internal/service/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/dedup"
)

var ErrMissingPayload = errors.New("LOG message without payload")

// Stats summarises a relay session.
type Stats = chat.RelayStats

// Relay owns the gate, the badge and the payload queue of one tab session.
type Relay struct {
	gate   *dedup.Gate
	sender Sender
	badge  *Badge
	queue  chan chat.Payload
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	session   chat.Session
	forwarded int
	blocked   int
	sent      int
	failed    int
	dropped   int
}

// New wires a relay. queueSize bounds the number of payloads waiting for Run.
func New(gate *dedup.Gate, sender Sender, queueSize int, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Relay{
		gate:   gate,
		sender: sender,
		badge:  &Badge{},
		queue:  make(chan chat.Payload, queueSize),
		logger: logger.Named("relay"),
		now:    time.Now,
	}
	r.session = r.newSession()
	return r
}

// Badge exposes the forwarded-message counter.
func (r *Relay) Badge() *Badge {
	return r.badge
}

// Gate exposes the seen-set, e.g. for baseline seeding.
func (r *Relay) Gate() *dedup.Gate {
	return r.gate
}

// Submit runs obs through the gate and queues it when it is new.
func (r *Relay) Submit(_ context.Context, obs chat.Observation) dedup.Decision {
	decision := r.gate.Check(obs.Role, obs.Text)
	if !decision.Forward {
		if decision.Reason == dedup.ReasonDuplicate {
			r.mu.Lock()
			r.blocked++
			r.mu.Unlock()
		}
		return decision
	}

	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
	count := r.badge.increment()
	payload := chatservice.NewPayload(obs, r.now())
	select {
	case r.queue <- payload:
		r.logger.Debug("queued",
			zap.String("role", string(payload.Role)),
			zap.String("text", logging.Preview(payload.Text, 50)),
			zap.Int("badge", count),
		)
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("queue full, message dropped",
			zap.String("role", string(payload.Role)),
			zap.String("text", logging.Preview(payload.Text, 50)),
		)
	}
	return decision
}

// Run posts queued payloads until ctx ends. A failed post is logged and the
// payload is dropped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-r.queue:
			r.deliver(ctx, payload)
		}
	}
}

// Drain posts whatever is still queued and returns how many payloads it
// handled. Call it after Run has returned.
func (r *Relay) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case payload := <-r.queue:
			r.deliver(ctx, payload)
			n++
		default:
			return n
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload chat.Payload) {
	if err := r.sender.Send(ctx, payload); err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.logger.Error("send failed, message lost",
			zap.String("role", string(payload.Role)),
			zap.String("text", logging.Preview(payload.Text, 50)),
			zap.Error(err),
		)
		return
	}
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
	r.logger.Info("forwarded",
		zap.String("role", string(payload.Role)),
		zap.String("text", logging.Preview(payload.Text, 50)),
	)
}

// Dispatch answers an extension message the way the background worker does.
func (r *Relay) Dispatch(ctx context.Context, env chat.Envelope) chat.Reply {
	switch {
	case env.Type == chat.EnvelopeTypeLog:
		if env.Payload == nil {
			return chat.Reply{OK: false, Error: ErrMissingPayload.Error()}
		}
		role, err := chat.ParseRole(string(env.Payload.Role))
		if err != nil {
			return chat.Reply{OK: false, Error: err.Error()}
		}
		obs := chat.Observation{
			Platform: env.Payload.Platform,
			Role:     role,
			Text:     env.Payload.Text,
			Convo:    env.Payload.Convo,
		}
		d := r.Submit(ctx, obs)
		return chat.Reply{OK: true, Status: string(d.Reason), Count: r.badge.Count()}
	case env.Action == chat.ActionUpdateBadge:
		// The badge only moves with Submit; an external count is echoed back.
		if env.Count != nil && *env.Count != r.badge.Count() {
			r.logger.Debug("badge override ignored",
				zap.Int("requested", *env.Count),
				zap.Int("badge", r.badge.Count()),
			)
		}
		return chat.Reply{OK: true, Status: "ok", Count: r.badge.Count()}
	case env.Action == chat.ActionGetStats:
		stats := r.Stats()
		return chat.Reply{OK: true, Status: "ok", Count: stats.Forwarded, Stats: &stats, Seen: r.Seen()}
	case env.Action == chat.ActionReset:
		session := r.Reset()
		return chat.Reply{OK: true, Status: session.ID}
	default:
		return chat.OKReply()
	}
}

// Reset starts a new session: the seen-set and badge are cleared.
func (r *Relay) Reset() chat.Session {
	cleared := r.gate.Reset()
	r.badge.reset()

	r.mu.Lock()
	r.session = r.newSession()
	r.forwarded, r.blocked, r.sent, r.failed, r.dropped = 0, 0, 0, 0, 0
	session := r.session
	r.mu.Unlock()

	r.logger.Info("session reset", zap.String("session", session.ID), zap.Int("cleared", cleared))
	return session
}

// Stats returns counters for the current session.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Session:   r.session,
		Forwarded: r.forwarded,
		Blocked:   r.blocked,
		Sent:      r.sent,
		Failed:    r.failed,
		Dropped:   r.dropped,
		SeenSet:   r.gate.Len(),
	}
}

// Seen lists the gate's seen-set, oldest first.
func (r *Relay) Seen() []chat.SeenEntry {
	snap := r.gate.Snapshot()
	seen := make([]chat.SeenEntry, len(snap))
	for i, e := range snap {
		seen[i] = chat.SeenEntry{Text: e.Text, FirstSeen: e.FirstSeen}
	}
	return seen
}

func (r *Relay) newSession() chat.Session {
	return chat.Session{ID: uuid.NewString(), StartedAt: r.now().UTC()}
}
