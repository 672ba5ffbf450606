// Package dedup holds the session seen-set that keeps re-rendered chat
// messages from being logged twice.
//
// Keys are the normalized message text and matching is exact: a prefix or
// substring of an earlier message is a different message.
package dedup

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	chatservice "github.com/zhouzirui/chat-live-logger/internal/service/chat"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonForwarded Reason = "forwarded"
	ReasonDuplicate Reason = "duplicate"
	ReasonEmpty     Reason = "empty"
)

// Decision is the outcome of Check.
type Decision struct {
	Forward   bool
	Reason    Reason
	Key       string
	FirstSeen time.Time
}

// Entry is one seen-set record.
type Entry struct {
	Text      string    `json:"text"`
	FirstSeen time.Time `json:"firstSeen"`
}

// Gate owns the seen-set of one tab session. Entries are never evicted; the
// set lives until Reset.
type Gate struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Gate.
type Option func(*Gate)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate returns an empty gate.
func NewGate(logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		seen:   make(map[string]time.Time),
		now:    time.Now,
		logger: logger.Named("dedup"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check records text as seen and reports whether it should be forwarded.
func (g *Gate) Check(role chat.Role, text string) Decision {
	key := chatservice.NormalizeText(text)
	if key == "" {
		return Decision{Reason: ReasonEmpty}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if first, ok := g.seen[key]; ok {
		g.logger.Debug("duplicate blocked",
			zap.String("role", string(role)),
			zap.String("text", logging.Preview(key, 30)),
			zap.Time("first_seen", first),
		)
		return Decision{Reason: ReasonDuplicate, Key: key, FirstSeen: first}
	}

	now := g.now()
	g.seen[key] = now
	return Decision{Forward: true, Reason: ReasonForwarded, Key: key, FirstSeen: now}
}

// Seed marks text as seen without forwarding it. It reports whether the text
// was new.
func (g *Gate) Seed(text string) bool {
	key := chatservice.NormalizeText(text)
	if key == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[key]; ok {
		return false
	}
	g.seen[key] = g.now()
	return true
}

// Len returns the size of the seen-set.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Reset clears the seen-set, as a page reload does, and returns how many
// entries were dropped.
func (g *Gate) Reset() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.seen)
	g.seen = make(map[string]time.Time)
	return n
}

// Snapshot lists the seen-set ordered by first-seen time.
func (g *Gate) Snapshot() []Entry {
	g.mu.Lock()
	entries := make([]Entry, 0, len(g.seen))
	for text, ts := range g.seen {
		entries = append(entries, Entry{Text: text, FirstSeen: ts})
	}
	g.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstSeen.Equal(entries[j].FirstSeen) {
			return entries[i].Text < entries[j].Text
		}
		return entries[i].FirstSeen.Before(entries[j].FirstSeen)
	})
	return entries
}
