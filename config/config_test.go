package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chitocomet.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
[Server]
listen = 127.0.0.1:7000
timeout_sec = 30
backend = poll

[JSONP]
callback = App.read

[Limits]
command_rate = 0

[Log]
level = debug
format = json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:7000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v", cfg.Server.Timeout())
	}
	if cfg.Server.Backend != "poll" {
		t.Errorf("Backend = %q", cfg.Server.Backend)
	}
	if cfg.JSONP.Callback != "App.read" {
		t.Errorf("Callback = %q", cfg.JSONP.Callback)
	}
	if cfg.Limits.CommandRate != 0 {
		t.Errorf("CommandRate = %v, want 0", cfg.Limits.CommandRate)
	}
	// untouched keys keep their defaults
	if cfg.Limits.MaxChannelLength != 16 || cfg.Server.MaxContentLength != 51200 {
		t.Errorf("defaults lost: %+v %+v", cfg.Limits, cfg.Server)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "listen", body: "[Server]\nlisten = nowhere\n", want: ErrListen},
		{name: "backend", body: "[Server]\nbackend = kqueue\n", want: ErrBackend},
		{name: "limits", body: "[Limits]\nmax_channel_length = 0\n", want: ErrLimits},
		{name: "level", body: "[Log]\nlevel = loud\n", want: ErrLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.ini")); err == nil {
		t.Errorf("Load() of a missing file succeeded")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "fd", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"fd":7`) {
		t.Errorf("json record = %s", out)
	}
}
