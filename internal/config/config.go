package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Sink     SinkConfig
	Relay    RelayConfig
	DevTools DevToolsConfig
	Log      LogConfig
}

// ServerConfig describes the local logger endpoint listener.
type ServerConfig struct {
	Addr      string        `env:"LOGGER_ADDR" envDefault:"127.0.0.1:8788"`
	Heartbeat time.Duration `env:"EVENTS_HEARTBEAT" envDefault:"15s"`
}

// SinkConfig controls where and how accepted messages are written.
type SinkConfig struct {
	Dir string `env:"LOG_DIR" envDefault:"."`
	// ChatLogMaxLines of 0 keeps chat.log strictly append-only.
	ChatLogMaxLines    int `env:"CHAT_LOG_MAX_LINES" envDefault:"0"`
	VerboseMaxLines    int `env:"VERBOSE_LOG_MAX_LINES" envDefault:"100"`
	RecentLines        int `env:"RECENT_LINES" envDefault:"2"`
	DiagnosticMaxLines int `env:"DIAGNOSTIC_MAX_LINES" envDefault:"1000"`
	AnalyticsMaxLines  int `env:"ANALYTICS_MAX_LINES" envDefault:"2000"`
	DuplicateHistory   int `env:"DUPLICATE_HISTORY" envDefault:"50"`
}

// RelayConfig describes the scraper -> gate -> relay pipeline.
type RelayConfig struct {
	Endpoint     string        `env:"RELAY_ENDPOINT" envDefault:"http://127.0.0.1:8788/log"`
	Timeout      time.Duration `env:"RELAY_TIMEOUT" envDefault:"5s"`
	QueueSize    int           `env:"RELAY_QUEUE_SIZE" envDefault:"64"`
	PollInterval time.Duration `env:"SCRAPE_INTERVAL" envDefault:"1s"`
	Baseline     bool          `env:"SCRAPE_BASELINE" envDefault:"true"`
}

// DevToolsConfig points at a browser started with --remote-debugging-port.
type DevToolsConfig struct {
	URL              string        `env:"DEVTOOLS_URL" envDefault:"http://localhost:9222"`
	Target           string        `env:"DEVTOOLS_TARGET"`
	HandshakeTimeout time.Duration `env:"DEVTOOLS_HANDSHAKE_TIMEOUT" envDefault:"10s"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeAddr accepts "8788", ":8788" or "127.0.0.1:8788".
func normalizeAddr(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", fmt.Errorf("LOGGER_ADDR must not be empty")
	}
	if strings.Contains(addr, " ") {
		return "", fmt.Errorf("invalid LOGGER_ADDR value: %q", raw)
	}
	if strings.Contains(addr, ":") {
		return addr, nil
	}
	return "127.0.0.1:" + addr, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Relay.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid RELAY_ENDPOINT value: %q", c.Relay.Endpoint)
	}
	if c.Relay.QueueSize < 1 {
		return fmt.Errorf("RELAY_QUEUE_SIZE must be positive, got %d", c.Relay.QueueSize)
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("RELAY_TIMEOUT must be positive, got %s", c.Relay.Timeout)
	}
	if c.Relay.PollInterval <= 0 {
		return fmt.Errorf("SCRAPE_INTERVAL must be positive, got %s", c.Relay.PollInterval)
	}
	if c.Sink.ChatLogMaxLines < 0 {
		return fmt.Errorf("CHAT_LOG_MAX_LINES must not be negative, got %d", c.Sink.ChatLogMaxLines)
	}
	if c.Sink.RecentLines < 1 || c.Sink.VerboseMaxLines < 1 {
		return fmt.Errorf("rolling log limits must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT value: %q", c.Log.Format)
	}
	return nil
}
