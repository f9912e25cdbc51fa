package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sairash/chitocomet"
	"github.com/sairash/chitocomet/config"
)

// serveOptions are the command line overrides of the config file
type serveOptions struct {
	configPath string
	listen     string
	admin      string
	logLevel   string
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "ini configuration file")
	cmd.Flags().StringVarP(&o.listen, "listen", "l", "", "comet listen address (overrides Server.listen)")
	cmd.Flags().StringVar(&o.admin, "admin", "", "admin HTTP address (overrides Admin.listen)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides Log.level)")
}

// load reads the config file, applies the overrides and validates the result
func (o *serveOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.admin != "" {
		cfg.Admin.Listen = o.admin
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the comet server in the foreground",
		Long: `Run the comet server until SIGINT or SIGTERM.

Examples:
  chitocomet serve
  chitocomet serve --config /etc/chitocomet.ini
  chitocomet serve --listen :6969 --admin 127.0.0.1:6970 --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

// serve runs the comet loop and the admin listener until ctx ends
func serve(ctx context.Context, opts serveOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := chitocomet.New(cfg, chitocomet.WithLogger(log), chitocomet.WithRegisterer(reg))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	var admin *http.Server
	if cfg.Admin.Listen != "" {
		admin = &http.Server{
			Addr:              cfg.Admin.Listen,
			Handler:           adminRouter(srv, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("admin listening", "addr", cfg.Admin.Listen)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", "err", err)
			}
		}()
	}

	log.Info("chitocomet starting", "version", version, "listen", srv.Addr().String())
	err = srv.Run(ctx)

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := admin.Shutdown(shutdownCtx); serr != nil {
			log.Warn("admin shutdown", "err", serr)
		}
	}
	return err
}
