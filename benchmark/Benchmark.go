package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type command struct {
	Cmd    string         `json:"cmd"`
	Chl    int64          `json:"chl,omitempty"`
	SessID string         `json:"sessid,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type raw struct {
	Raw  string          `json:"raw"`
	Data json.RawMessage `json:"data"`
}

func main() {
	serverAddr := flag.String("addr", "127.0.0.1:6969", "comet server address")
	totalConns := flag.Int("conns", 10000, "connections to open")
	rampUpRate := flag.Int("rate", 1000, "new connections per second")
	channels := flag.Int("channels", 100, "channels to spread users over")
	sendEvery := flag.Duration("send", 5*time.Second, "interval between SEND commands per user")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var activeConns int64
	var attemptedConns int64
	var skippedConns int64
	var received int64

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/7/"}

	isLocal := strings.HasPrefix(*serverAddr, "127.") || strings.HasPrefix(*serverAddr, "localhost")
	fmt.Printf("Starting Benchmark to %s (Mode: %s)\n", u.String(), map[bool]string{true: "Local", false: "Remote"}[isLocal])

	numIPs := 16
	if !isLocal {
		numIPs = 1
	}

	for i := 1; i <= numIPs; i++ {
		dialer := &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}
		if isLocal {
			localAddr := &net.TCPAddr{IP: net.ParseIP(fmt.Sprintf("127.0.0.%d", i))}
			dialer.NetDial = func(network, addr string) (net.Conn, error) {
				return (&net.Dialer{LocalAddr: localAddr}).DialContext(ctx, network, addr)
			}
		}

		connsForThisIP := *totalConns / numIPs
		for j := 0; j < connsForThisIP; j++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			channel := fmt.Sprintf("bench%d", (i*connsForThisIP+j)%*channels)
			go func() {
				n := atomic.AddInt64(&attemptedConns, 1)
				conn, _, err := dialer.Dial(u.String(), nil)
				if err != nil {
					if strings.Contains(err.Error(), "address already in use") {
						atomic.AddInt64(&skippedConns, 1)
						return
					}
					fmt.Printf("\n[FATAL ERROR] %v\n", err)
					cancel()
					return
				}

				atomic.AddInt64(&activeConns, 1)
				defer func() {
					atomic.AddInt64(&activeConns, -1)
					conn.Close()
				}()

				sessid, err := login(conn)
				if err != nil {
					fmt.Printf("\n[LOGIN %d] %v\n", n, err)
					return
				}
				go func() {
					for {
						if _, _, err := conn.ReadMessage(); err != nil {
							return
						}
						atomic.AddInt64(&received, 1)
					}
				}()

				chl := int64(1)
				join := command{Cmd: "JOIN", Chl: chl, SessID: sessid, Params: map[string]any{"channels": channel}}
				if err := conn.WriteJSON([]command{join}); err != nil {
					return
				}
				for {
					select {
					case <-ctx.Done():
						return
					case <-time.After(*sendEvery):
					}
					chl++
					send := command{Cmd: "SEND", Chl: chl, SessID: sessid, Params: map[string]any{
						"pipe": channel,
						"msg":  map[string]any{"n": n, "at": time.Now().UnixMilli()},
					}}
					if err := conn.WriteJSON([]command{send}); err != nil {
						return
					}
				}
			}()

			if atomic.LoadInt64(&attemptedConns)%500 == 0 {
				fmt.Printf("\rAttempted: %d | Active: %d | Skipped: %d | Raws: %d",
					atomic.LoadInt64(&attemptedConns),
					atomic.LoadInt64(&activeConns),
					atomic.LoadInt64(&skippedConns),
					atomic.LoadInt64(&received))
			}
			time.Sleep(time.Second / time.Duration(*rampUpRate))
		}
	}

	<-ctx.Done()
	fmt.Printf("\nStopped. Final Active: %d | Raws: %d\n", atomic.LoadInt64(&activeConns), atomic.LoadInt64(&received))
}

// login sends CONNECT and waits for the LOGIN raw carrying the session id
func login(conn *websocket.Conn) (string, error) {
	if err := conn.WriteJSON([]command{{Cmd: "CONNECT"}}); err != nil {
		return "", err
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var raws []raw
		if err := conn.ReadJSON(&raws); err != nil {
			return "", err
		}
		for _, r := range raws {
			switch r.Raw {
			case "LOGIN":
				var data struct {
					SessID string `json:"sessid"`
				}
				if err := json.Unmarshal(r.Data, &data); err != nil {
					return "", err
				}
				return data.SessID, nil
			case "ERR":
				return "", fmt.Errorf("server refused: %s", r.Data)
			}
		}
	}
}
