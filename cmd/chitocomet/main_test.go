package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sairash/chitocomet"
	"github.com/sairash/chitocomet/config"
)

func TestServeOptionsOverride(t *testing.T) {
	t.Parallel()

	opts := serveOptions{listen: "127.0.0.1:7000", admin: "127.0.0.1:7001", logLevel: "debug"}
	cfg, err := opts.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:7000" || cfg.Admin.Listen != "127.0.0.1:7001" || cfg.Log.Level != "debug" {
		t.Errorf("load() = %+v, overrides not applied", cfg)
	}

	opts = serveOptions{configPath: "does-not-exist.ini"}
	if _, err := opts.load(); err == nil {
		t.Errorf("load() with a missing file error = nil")
	}
}

func TestVersionShort(t *testing.T) {
	t.Parallel()

	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version --short = %q, want %q", got, version)
	}
}

func TestAdminRouter(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	reg := prometheus.NewRegistry()
	srv, err := chitocomet.New(cfg,
		chitocomet.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		chitocomet.WithRegisterer(reg))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ts := httptest.NewServer(adminRouter(srv, reg))
	defer ts.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "ok"},
		{"/stats", `"connections":1`},
		{"/metrics", "chitocomet_"},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), tt.want) {
			t.Errorf("GET %s = %d %q, want 200 containing %q", tt.path, resp.StatusCode, body, tt.want)
		}
	}
}
