package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sairash/chitocomet"
	"github.com/sairash/chitocomet/config"
	"github.com/sairash/chitocomet/jsontree"
)

const lobby = "lobby"

func main() {
	cfg := config.Default()
	cfg.Server.Listen = ":8080"
	if v := os.Getenv("CHAT_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	log := config.NewLogger(config.LogConfig{Level: "debug"}, os.Stderr)

	hooks := chitocomet.Hooks{
		UserAdded: func(u *chitocomet.User) error {
			u.Pipe.Properties.SetString("name", "guest-"+u.Pipe.ID[:6])
			return nil
		},
		Join: func(u *chitocomet.User, ch *chitocomet.Channel) error {
			// guests stay in the lobby until they pick a name
			if ch.Name != lobby && strings.HasPrefix(nameOf(u), "guest-") {
				return chitocomet.ErrCantJoinChannel
			}
			return nil
		},
		UserRemoved: func(u *chitocomet.User) {
			log.Info("user left", "name", nameOf(u))
		},
	}

	srv, err := chitocomet.New(cfg, chitocomet.WithLogger(log), chitocomet.WithHooks(hooks))
	if err != nil {
		log.Error("failed to create server", "err", err)
		os.Exit(1)
	}
	if _, err := srv.CreateChannel(lobby, "Welcome"); err != nil {
		log.Error("failed to create lobby", "err", err)
		os.Exit(1)
	}

	// NICK {name} renames the caller and tells everyone in the lobby
	srv.RegisterCommand("NICK", chitocomet.NeedSession, chitocomet.HandlerFunc(func(cc *chitocomet.CallContext) chitocomet.Result {
		name, ok := cc.String("name")
		if !ok || len(name) > 24 || strings.HasPrefix(name, "guest-") {
			return chitocomet.ResultBadParams
		}
		old := nameOf(cc.User)
		cc.User.Pipe.Properties.SetString("name", name)
		if ch := cc.Server.Channel(lobby); ch != nil {
			data := jsontree.NewObject().SetString("old", old).SetString("name", name)
			cc.Server.PostChannel(ch, "NICK", data)
		}
		return chitocomet.ResultOK
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// announcements come from another goroutine and go through Do
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				err := srv.Do(func() {
					if ch := srv.Channel(lobby); ch != nil {
						data := jsontree.NewObject().SetString("text", "server time is "+now.Format(time.Kitchen))
						srv.PostChannel(ch, "ANNOUNCE", data)
					}
				})
				if err != nil {
					return
				}
			}
		}
	}()

	log.Info("chat server starting", "listen", cfg.Server.Listen)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func nameOf(u *chitocomet.User) string {
	v, _ := u.Pipe.Properties.Get("name").Str()
	return v
}
