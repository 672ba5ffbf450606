package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-live-logger/internal/config"
	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/dedup"
	"github.com/zhouzirui/chat-live-logger/internal/service/devtools"
	"github.com/zhouzirui/chat-live-logger/internal/service/relay"
	"github.com/zhouzirui/chat-live-logger/internal/service/scraper"
)

const (
	sourceCDP   = "cdp"
	sourceStdin = "stdin"
)

func main() {
	source := flag.String("source", sourceCDP, "where messages come from: cdp (scrape a browser tab) or stdin (NDJSON extension envelopes)")
	target := flag.String("target", "", "tab id or URL substring to scrape, overrides DEVTOOLS_TARGET")
	devtoolsURL := flag.String("devtools", "", "DevTools HTTP endpoint, overrides DEVTOOLS_URL")
	endpoint := flag.String("endpoint", "", "logger endpoint, overrides RELAY_ENDPOINT")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *target != "" {
		cfg.DevTools.Target = *target
	}
	if *devtoolsURL != "" {
		cfg.DevTools.URL = *devtoolsURL
	}
	if *endpoint != "" {
		cfg.Relay.Endpoint = *endpoint
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	gate := dedup.NewGate(logger)
	rl := relay.New(gate, relay.NewHTTPSender(cfg.Relay.Endpoint, cfg.Relay.Timeout), cfg.Relay.QueueSize, logger)
	rl.Badge().OnChange(func(n int) {
		logger.Info("badge updated", zap.Int("count", n))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rl.Run(gctx)
	})

	switch *source {
	case sourceCDP:
		g.Go(func() error {
			return scrapeTab(gctx, cfg, rl, gate, logger)
		})
	case sourceStdin:
		g.Go(func() error {
			err := serveEnvelopes(gctx, os.Stdin, os.Stdout, rl)
			// stdin closed: stop the consumer too.
			stop()
			return err
		})
	default:
		logger.Fatal("unknown source", zap.String("source", *source))
	}

	logger.Info("relay started",
		zap.String("source", *source),
		zap.String("endpoint", cfg.Relay.Endpoint),
		zap.String("session", rl.Stats().Session.ID),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("relay stopped", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.Timeout)
	if n := rl.Drain(drainCtx); n > 0 {
		logger.Info("drained queue", zap.Int("payloads", n))
	}
	cancel()

	stats := rl.Stats()
	logger.Info("relay stopped",
		zap.Int("forwarded", stats.Forwarded),
		zap.Int("blocked", stats.Blocked),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("dropped", stats.Dropped),
	)
}

// scrapeTab attaches to the chat tab and polls it until ctx ends.
func scrapeTab(ctx context.Context, cfg *config.Config, rl *relay.Relay, gate *dedup.Gate, logger *zap.Logger) error {
	client := devtools.NewClient(cfg.DevTools.URL, devtools.Options{HandshakeTimeout: cfg.DevTools.HandshakeTimeout}, logger)

	target, err := client.FindTarget(ctx, cfg.DevTools.Target)
	if err != nil {
		return fmt.Errorf("find chat tab: %w", err)
	}
	session, err := client.Attach(ctx, target)
	if err != nil {
		return fmt.Errorf("attach to %s: %w", target.URL, err)
	}
	defer session.Close()

	s, err := scraper.New(session, rl, gate, scraper.Options{
		Platform: chat.DetectPlatform(target.URL),
		Interval: cfg.Relay.PollInterval,
		Baseline: cfg.Relay.Baseline,
	}, logger)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", target.URL, err)
	}

	logger.Info("scraping tab", zap.String("title", target.Title), zap.String("url", target.URL))
	return s.Run(ctx)
}

// dispatcher is the part of the relay that answers extension messages.
type dispatcher interface {
	Dispatch(ctx context.Context, env chat.Envelope) chat.Reply
}

// serveEnvelopes reads one JSON envelope per line and writes one reply per
// line, until in is exhausted or ctx ends. Reading happens on its own
// goroutine so a cancel is honoured while in is still open.
func serveEnvelopes(ctx context.Context, in io.Reader, out io.Writer, d dispatcher) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line = <-lines:
		}
		if len(line) == 0 {
			continue
		}

		var reply chat.Reply
		var env chat.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			reply = chat.Reply{OK: false, Error: fmt.Sprintf("invalid envelope: %v", err)}
		} else {
			reply = d.Dispatch(ctx, env)
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}
