package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts serve to the service manager's start and stop calls
type program struct {
	opts   serveOptions
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := serve(ctx, p.opts)
		if err != nil {
			slog.Error("server stopped", "err", err)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Manage chitocomet as a system service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svcArgs := []string{"service", "run"}
			if opts.configPath != "" {
				svcArgs = append(svcArgs, "--config", opts.configPath)
			}
			if opts.listen != "" {
				svcArgs = append(svcArgs, "--listen", opts.listen)
			}
			if opts.admin != "" {
				svcArgs = append(svcArgs, "--admin", opts.admin)
			}
			if opts.logLevel != "" {
				svcArgs = append(svcArgs, "--log-level", opts.logLevel)
			}
			prg := &program{opts: opts}
			svc, err := service.New(prg, &service.Config{
				Name:        "chitocomet",
				DisplayName: "chitocomet comet server",
				Description: "Pushes JSON raws to browsers over comet transports.",
				Arguments:   svcArgs,
			})
			if err != nil {
				return err
			}
			if args[0] == "run" {
				return svc.Run()
			}
			if err := service.Control(svc, args[0]); err != nil {
				return fmt.Errorf("service %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", args[0])
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}
