// Package scraper polls a chat tab over the DevTools protocol and feeds the
// messages it finds into the relay.
package scraper

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/dedup"
)

// Evaluator runs a script in the page.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
}

// Submitter accepts observations, normally a *relay.Relay.
type Submitter interface {
	Submit(ctx context.Context, obs chat.Observation) dedup.Decision
}

// Seeder marks text as already seen, normally a *dedup.Gate.
type Seeder interface {
	Seed(text string) bool
}

// Options 抓取选项
type Options struct {
	Platform chat.Platform
	Interval time.Duration
	// Baseline seeds the gate with whatever the first poll finds, so history
	// already on screen is not logged.
	Baseline bool
}

// PollResult counts what one poll did.
type PollResult struct {
	Seen      int
	Forwarded int
	Blocked   int
	Filtered  int
	Seeded    int
}

// Scraper polls one tab.
type Scraper struct {
	eval   Evaluator
	sink   Submitter
	seeder Seeder
	opts   Options
	expr   string
	logger *zap.Logger

	polled bool
}

// New prepares a scraper for opts.Platform.
func New(eval Evaluator, sink Submitter, seeder Seeder, opts Options, logger *zap.Logger) (*Scraper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	expr, err := ScanExpression(opts.Platform)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Scraper{
		eval:   eval,
		sink:   sink,
		seeder: seeder,
		opts:   opts,
		expr:   expr,
		logger: logger.Named("scraper").With(zap.String("platform", string(opts.Platform))),
	}, nil
}

// Poll runs the scan once and submits every message it returns.
func (s *Scraper) Poll(ctx context.Context) (PollResult, error) {
	var res PollResult

	raw, err := s.eval.Evaluate(ctx, s.expr)
	if err != nil {
		return res, err
	}
	scan, err := DecodeScan(raw)
	if err != nil {
		return res, err
	}

	baseline := s.opts.Baseline && !s.polled && s.seeder != nil
	s.polled = true

	for _, m := range scan.Messages {
		role, err := chat.ParseRole(m.Role)
		if err != nil {
			s.logger.Debug("skipping node with unknown role", zap.String("role", m.Role))
			continue
		}
		text := CleanText(role, m.Text)
		res.Seen++
		if IsNoise(text) {
			res.Filtered++
			continue
		}

		if baseline {
			if s.seeder.Seed(text) {
				res.Seeded++
			}
			continue
		}

		d := s.sink.Submit(ctx, chat.Observation{
			Platform: s.opts.Platform,
			Role:     role,
			Text:     text,
			URL:      scan.URL,
		})
		switch d.Reason {
		case dedup.ReasonForwarded:
			res.Forwarded++
			s.logger.Info("captured", zap.String("role", string(role)), zap.String("text", logging.Preview(text, 50)))
		case dedup.ReasonDuplicate:
			res.Blocked++
		}
	}

	if baseline {
		s.logger.Info("baseline recorded", zap.Int("messages", res.Seeded))
	}
	return res, nil
}

// Run polls until ctx ends. Scan failures are logged and polling goes on.
func (s *Scraper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
