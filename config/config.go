// Package config loads the server configuration from an ini file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

type ServerConfig struct {
	Listen           string `ini:"listen"`
	Backend          string `ini:"backend"`
	PollTimeoutMs    int    `ini:"poll_timeout_ms"`
	TimeoutSec       int    `ini:"timeout_sec"`
	PollCloseSec     int    `ini:"poll_close_sec"`
	SweepIntervalMs  int    `ini:"sweep_interval_ms"`
	MaxContentLength int    `ini:"max_content_length"`
	MaxOutputBytes   int    `ini:"max_output_bytes"`
	Domain           string `ini:"domain"`
}

type JSONPConfig struct {
	Callback string `ini:"callback"`
}

type LimitsConfig struct {
	MaxChannelLength int     `ini:"max_channel_length"`
	MaxTopicLength   int     `ini:"max_topic_length"`
	MaxHostLength    int     `ini:"max_host_length"`
	MaxSessionLength int     `ini:"max_session_length"`
	MaxSessionKey    int     `ini:"max_session_key"`
	MaxLineLength    int     `ini:"max_line_length"`
	CommandRate      float64 `ini:"command_rate"`
	CommandBurst     int     `ini:"command_burst"`
}

type LogConfig struct {
	Level  string `ini:"level"`
	Format string `ini:"format"`
}

type AdminConfig struct {
	Listen string `ini:"listen"`
}

// Config is the whole configuration file
type Config struct {
	Server ServerConfig
	JSONP  JSONPConfig
	Limits LimitsConfig
	Log    LogConfig
	Admin  AdminConfig
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:           "0.0.0.0:6969",
			Backend:          "auto",
			PollTimeoutMs:    1,
			TimeoutSec:       45,
			PollCloseSec:     25,
			SweepIntervalMs:  1000,
			MaxContentLength: 51200,
			MaxOutputBytes:   4 << 20,
		},
		JSONP: JSONPConfig{
			Callback: "Comet.transport.read",
		},
		Limits: LimitsConfig{
			MaxChannelLength: 16,
			MaxTopicLength:   128,
			MaxHostLength:    256,
			MaxSessionLength: 102400,
			MaxSessionKey:    32,
			MaxLineLength:    4096,
			CommandRate:      100,
			CommandBurst:     200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}
	sections := []struct {
		name string
		dst  any
	}{
		{"Server", &cfg.Server},
		{"JSONP", &cfg.JSONP},
		{"Limits", &cfg.Limits},
		{"Log", &cfg.Log},
		{"Admin", &cfg.Admin},
	}
	for _, s := range sections {
		if !f.HasSection(s.name) {
			continue
		}
		if err := f.Section(s.name).MapTo(s.dst); err != nil {
			return cfg, fmt.Errorf("config: section %s: %w", s.name, err)
		}
	}
	return cfg, cfg.Validate()
}

var (
	ErrListen   = errors.New("config: invalid listen address")
	ErrBackend  = errors.New("config: unknown poll backend")
	ErrLimits   = errors.New("config: limits must be positive")
	ErrLogLevel = errors.New("config: unknown log level")
)

// Validate checks values Load cannot check by type
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("%w %q: %v", ErrListen, c.Server.Listen, err)
	}
	switch c.Server.Backend {
	case "", "auto", "epoll", "poll":
	default:
		return fmt.Errorf("%w %q", ErrBackend, c.Server.Backend)
	}
	if c.Server.TimeoutSec <= 0 || c.Server.SweepIntervalMs <= 0 || c.Server.MaxContentLength <= 0 ||
		c.Limits.MaxChannelLength <= 0 || c.Limits.MaxHostLength <= 0 || c.Limits.MaxSessionKey <= 0 ||
		c.Limits.MaxSessionLength <= 0 || c.Limits.MaxLineLength <= 0 || c.Limits.MaxTopicLength <= 0 {
		return ErrLimits
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c ServerConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

func (c ServerConfig) PollClose() time.Duration { return time.Duration(c.PollCloseSec) * time.Second }

func (c ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// ParseLevel maps a level name to slog
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w %q", ErrLogLevel, s)
}

// NewLogger builds the process logger. Format "json" selects the JSON handler.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
