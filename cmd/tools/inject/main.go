package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/config"
	"github.com/zhouzirui/chat-live-logger/internal/logging"
	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/internal/service/devtools"
	"github.com/zhouzirui/chat-live-logger/internal/service/scraper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	devtoolsURL := flag.String("devtools", cfg.DevTools.URL, "DevTools HTTP endpoint")
	target := flag.String("target", cfg.DevTools.Target, "tab id or URL substring; empty picks the first chat tab")
	list := flag.Bool("list", false, "list debuggable tabs and exit")
	file := flag.String("file", "", "script file to evaluate in the tab")
	expr := flag.String("expr", "", "expression to evaluate in the tab")
	scan := flag.Bool("scan", false, "run the message scan once and print what it finds")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := devtools.NewClient(*devtoolsURL, devtools.Options{HandshakeTimeout: cfg.DevTools.HandshakeTimeout}, logger)

	if *list {
		if err := listTargets(ctx, client, os.Stdout); err != nil {
			logger.Fatal("list targets failed", zap.Error(err))
		}
		return
	}

	script, err := resolveScript(*file, *expr)
	if err != nil && !*scan {
		flag.Usage()
		logger.Fatal("nothing to inject", zap.Error(err))
	}

	tab, err := client.FindTarget(ctx, *target)
	if err != nil {
		logger.Fatal("find target failed", zap.String("target", *target), zap.Error(err))
	}
	session, err := client.Attach(ctx, tab)
	if err != nil {
		logger.Fatal("attach failed", zap.String("url", tab.URL), zap.Error(err))
	}
	defer session.Close()

	logger.Info("attached", zap.String("title", tab.Title), zap.String("url", tab.URL))

	if *scan {
		if err := runScan(ctx, session, chat.DetectPlatform(tab.URL), os.Stdout); err != nil {
			logger.Fatal("scan failed", zap.Error(err))
		}
		return
	}

	result, err := session.Evaluate(ctx, script)
	if err != nil {
		logger.Fatal("injection failed", zap.Error(err))
	}
	fmt.Println(prettyJSON(result))
}

func listTargets(ctx context.Context, client *devtools.Client, out io.Writer) error {
	targets, err := client.ListTargets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tURL")
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Type, logging.Preview(t.Title, 40), t.URL)
	}
	return w.Flush()
}

// resolveScript prefers -file over -expr.
func resolveScript(file, expr string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	}
	if expr != "" {
		return expr, nil
	}
	return "", fmt.Errorf("one of -file, -expr or -scan is required")
}

func runScan(ctx context.Context, eval scraper.Evaluator, platform chat.Platform, out io.Writer) error {
	expr, err := scraper.ScanExpression(platform)
	if err != nil {
		return err
	}
	raw, err := eval.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	result, err := scraper.DecodeScan(raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s  %d messages\n", result.URL, len(result.Messages))
	for i, m := range result.Messages {
		role, err := chat.ParseRole(m.Role)
		text := m.Text
		if err == nil {
			text = scraper.CleanText(role, text)
		}
		marker := " "
		if scraper.IsNoise(text) {
			marker = "~"
		}
		fmt.Fprintf(out, "%3d %s %-9s %s\n", i+1, marker, m.Role, logging.Preview(text, 80))
	}
	return nil
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
