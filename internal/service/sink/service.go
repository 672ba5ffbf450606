package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/config"
	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

// File names inside the sink directory.
const (
	ChatLogName    = "chat.log"
	VerboseLogName = "chatverbose.log"
	RecentName     = "recent.ndjson"
	DiagnosticName = "diagnostic.ndjson"
	AnalyticsName  = "analytics.ndjson"
)

const subscriberBuffer = 16

// ErrEmptyText is returned when a payload carries no text.
var ErrEmptyText = errors.New("text is required")

// Result tells the caller what happened to an ingested payload.
type Result string

const (
	ResultSaved     Result = "saved"
	ResultFiltered  Result = "filtered"
	ResultDuplicate Result = "duplicate"
)

// Stats are the counters exposed on /stats.
type Stats struct {
	StartedAt   time.Time `json:"startedAt"`
	Received    int64     `json:"received"`
	Saved       int64     `json:"saved"`
	Filtered    int64     `json:"filtered"`
	Duplicates  int64     `json:"duplicates"`
	Diagnostics int64     `json:"diagnostics"`
	Analytics   int64     `json:"analytics"`
	Subscribers int       `json:"subscribers"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the local logger endpoint: it filters incoming payloads and
// appends them to the flat log files.
type Service struct {
	chatLog     *RollingFile
	verboseLog  *RollingFile
	recentLog   *RollingFile
	diagnostics *RollingFile
	analytics   *RollingFile

	historyLimit int
	now          func() time.Time
	logger       *zap.Logger

	mu          sync.Mutex
	history     []chat.Entry
	stats       Stats
	subscribers map[chan chat.Entry]struct{}
}

// NewService creates the sink directory if needed and loads the tail of
// chat.log so the duplicate window survives a restart.
func NewService(cfg config.SinkConfig, logger *zap.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	s := &Service{
		chatLog:      NewRollingFile(filepath.Join(cfg.Dir, ChatLogName), cfg.ChatLogMaxLines),
		verboseLog:   NewRollingFile(filepath.Join(cfg.Dir, VerboseLogName), cfg.VerboseMaxLines),
		recentLog:    NewRollingFile(filepath.Join(cfg.Dir, RecentName), cfg.RecentLines),
		diagnostics:  NewRollingFile(filepath.Join(cfg.Dir, DiagnosticName), cfg.DiagnosticMaxLines),
		analytics:    NewRollingFile(filepath.Join(cfg.Dir, AnalyticsName), cfg.AnalyticsMaxLines),
		historyLimit: cfg.DuplicateHistory,
		now:          time.Now,
		logger:       logger.Named("sink"),
		subscribers:  make(map[chan chat.Entry]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.StartedAt = s.now()

	if err := s.loadHistory(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) loadHistory() error {
	lines, err := s.chatLog.Tail(s.historyLimit)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}

	skipped := 0
	for _, line := range lines {
		var entry chat.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}
		s.history = append(s.history, entry)
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed chat.log lines", zap.Int("count", skipped))
	}
	s.logger.Debug("chat history loaded", zap.Int("entries", len(s.history)))
	return nil
}

// Ingest filters and records one payload posted to /log.
func (s *Service) Ingest(ctx context.Context, p chat.Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Text) == "" {
		return "", ErrEmptyText
	}

	entry := s.newEntry(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Received++

	if kind, prior := duplicateOf(entry, s.history); kind != DuplicateNone {
		s.stats.Duplicates++
		s.logger.Info("duplicate skipped",
			zap.String("rule", string(kind)),
			zap.String("platform", string(entry.Platform)),
			zap.String("role", string(entry.Role)),
			zap.String("text", logging.Preview(entry.Content, 30)),
			zap.Duration("since", entry.TS.Sub(prior.TS)),
		)
		return ResultDuplicate, nil
	}

	noise := IsNoise(entry.Content, entry.URLs) || entry.Metadata.SignalNoise()
	if !noise && isUserInputEcho(entry, s.history) {
		entry.Metadata.MarkSignalNoise(chat.FilterUserInputEcho)
		noise = true
	}

	result := ResultFiltered
	if !noise {
		if err := s.chatLog.Append(entry); err != nil {
			return "", err
		}
		s.remember(entry)
	}
	if err := s.verboseLog.Append(entry); err != nil {
		return "", err
	}
	if err := s.recentLog.Append(entry); err != nil {
		return "", err
	}

	if !noise {
		s.broadcast(entry)
		result = ResultSaved
		s.stats.Saved++
	} else {
		s.stats.Filtered++
	}

	fields := []zap.Field{
		zap.String("platform", string(entry.Platform)),
		zap.String("role", string(entry.Role)),
		zap.Int("chars", len([]rune(entry.Content))),
		zap.String("text", logging.Preview(entry.Content, 30)),
		zap.String("result", string(result)),
	}
	if len(entry.Metadata.Tools) > 0 {
		fields = append(fields, zap.Strings("tools", entry.Metadata.Tools))
	}
	if len(entry.Metadata.Artifacts) > 0 {
		fields = append(fields, zap.Int("artifacts", len(entry.Metadata.Artifacts)))
	}
	s.logger.Info("logged", fields...)

	return result, nil
}

func (s *Service) newEntry(p chat.Payload) chat.Entry {
	role, err := chat.ParseRole(string(p.Role))
	if err != nil {
		role = chat.RoleAssistant
	}
	platform := p.Platform
	if platform == "" {
		platform = chat.PlatformUnknown
	}
	urls := p.URLs
	if urls == nil {
		urls = []string{}
	}
	return chat.Entry{
		TS:       s.now(),
		Platform: platform,
		Role:     role,
		Content:  p.Text,
		URLs:     urls,
		Metadata: p.Metadata,
	}
}

// remember must be called with s.mu held.
func (s *Service) remember(entry chat.Entry) {
	s.history = append(s.history, entry)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = append(s.history[:0:0], s.history[len(s.history)-s.historyLimit:]...)
	}
}

// broadcast must be called with s.mu held. Slow subscribers miss entries.
func (s *Service) broadcast(entry chat.Entry) {
	for ch := range s.subscribers {
		select {
		case ch <- entry:
		default:
			s.logger.Warn("subscriber lagging, entry skipped")
		}
	}
}

// RecordDiagnostic appends a transmission diagnostic to diagnostic.ndjson.
func (s *Service) RecordDiagnostic(ctx context.Context, item chat.DiagnosticItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.Type == "" {
		item.Type = "diagnostic"
	}
	item.TS = s.now()

	if err := s.diagnostics.Append(item); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.Diagnostics++
	s.mu.Unlock()

	preview, _ := item.ElementSignature["textPreview"].(string)
	length, _ := item.ElementSignature["textLength"].(float64)
	s.logger.Info("diagnostic",
		zap.String("transmission", item.TransmissionType),
		zap.String("text", logging.Preview(preview, 50)),
		zap.Int("length", int(length)),
	)
	return nil
}

// RecordAnalytics appends a retransmission test event to analytics.ndjson.
func (s *Service) RecordAnalytics(ctx context.Context, item chat.AnalyticsItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item.TS = s.now()

	if err := s.analytics.Append(item); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.Analytics++
	s.mu.Unlock()

	s.logAnalytics(item)
	return nil
}

func (s *Service) logAnalytics(item chat.AnalyticsItem) {
	phase := item.TestPhase
	if phase == "" {
		phase = "none"
	}
	str := func(key string) string {
		v, _ := item.Data[key].(string)
		return v
	}
	num := func(key string) int {
		v, _ := item.Data[key].(float64)
		return int(v)
	}

	switch item.Type {
	case "transmission":
		duplicate, _ := item.Data["isDuplicate"].(bool)
		s.logger.Info("analytics transmission",
			zap.String("phase", phase),
			zap.String("role", str("role")),
			zap.String("text", logging.Preview(str("text"), 50)),
			zap.Bool("duplicate", duplicate),
		)
	case "duplicate_detected":
		pattern := "unknown"
		if info, ok := item.Data["duplicateInfo"].(map[string]any); ok {
			if p, ok := info["pattern"].(string); ok {
				pattern = p
			}
		}
		s.logger.Info("analytics duplicate pattern",
			zap.String("phase", phase),
			zap.String("pattern", pattern),
			zap.String("text", logging.Preview(str("text"), 50)),
		)
	case "conversation_event":
		s.logger.Info("analytics conversation event",
			zap.String("phase", phase),
			zap.String("event", str("eventType")),
		)
	case "test_start":
		s.logger.Info("analytics test start", zap.String("test", str("testName")))
	case "test_end":
		s.logger.Info("analytics test end",
			zap.String("test", str("testName")),
			zap.Int("transmissions", num("transmissionCount")),
			zap.Int("duplicates", num("duplicateCount")),
		)
	default:
		s.logger.Debug("analytics event", zap.String("type", item.Type), zap.String("phase", phase))
	}
}

// Subscribe registers a live tail of entries saved to chat.log. The returned
// cancel func unregisters and closes the channel.
func (s *Service) Subscribe() (<-chan chat.Entry, func()) {
	ch := make(chan chat.Entry, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Subscribers = len(s.subscribers)
	return stats
}

// Recent returns the entries currently held for duplicate checks, oldest first.
func (s *Service) Recent() []chat.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Entry, len(s.history))
	copy(out, s.history)
	return out
}
