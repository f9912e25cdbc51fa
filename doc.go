// Package chitocomet is a comet push server: browsers reach it over
// long-polling, streaming, JSONP, server-sent events or WebSocket and
// exchange JSON commands and raws through users, channels and pipes.
//
// A Server runs one event loop over non-blocking sockets. Every registry
// (connections, users, channels, pipes, timers) belongs to the goroutine
// running Run; other goroutines reach it through Do.
//
//	cfg, err := config.Load("/etc/chitocomet.ini") // or config.Default()
//	if err != nil {
//		return err
//	}
//	srv, err := chitocomet.New(cfg)
//	if err != nil {
//		return err
//	}
//	srv.RegisterCommand("HELLO", chitocomet.NeedSession, chitocomet.HandlerFunc(
//		func(cc *chitocomet.CallContext) chitocomet.Result {
//			cc.Reply("HELLO", nil, chitocomet.PriorityLow)
//			return chitocomet.ResultOK
//		}))
//	return srv.Run(ctx)
//
// Clients send a JSON array of {"cmd", "params", "sessid", "chl"} objects,
// either as the query string of GET /<transport>/?..., as a POST body or as
// WebSocket messages on /6/ (hixie) and /7/ (RFC 6455). Responses are
// arrays of {"time", "raw", "data"} objects wrapped by the transport.
package chitocomet
