// Package metrics declares the prometheus collectors the server updates
// from its event loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config selects where and under which names collectors are registered
type Config struct {
	// Namespace is the metrics namespace (default: "chitocomet")
	Namespace string
	Subsystem string
	// Registry defaults to a fresh registry so several servers can live in one process
	Registry prometheus.Registerer
	Buckets  []float64
}

// Option configures Config
type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "chitocomet",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}
}

// Metrics holds every collector
type Metrics struct {
	Connections     prometheus.Gauge
	Accepted        prometheus.Counter
	Disconnects     prometheus.Counter
	Users           prometheus.Gauge
	Channels        prometheus.Gauge
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	RawsQueued      prometheus.Counter
	RawsFlushed     prometheus.Counter
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter
	PollErrors      prometheus.Counter
	ProtocolErrors  *prometheus.CounterVec
	OverflowDrops   prometheus.Counter

	registry prometheus.Registerer
}

// New registers the collectors and returns them
func New(opts ...Option) *Metrics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections",
			Help:      "Open client, proxy and listener connections",
		}),
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "accepted_total",
			Help:      "Connections accepted",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "disconnects_total",
			Help:      "Connections closed",
		}),
		Users: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "users",
			Help:      "Live user sessions",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "channels",
			Help:      "Live channels",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "commands_total",
			Help:      "Commands dispatched by name and outcome",
		}, []string{"cmd", "status"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "command_duration_seconds",
			Help:      "Command handler duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"cmd"}),
		RawsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "raws_queued_total",
			Help:      "Raw messages queued onto subuser outboxes",
		}),
		RawsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "raws_flushed_total",
			Help:      "Raw messages written to connections",
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_read_total",
			Help:      "Bytes read from sockets",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_written_total",
			Help:      "Bytes written to sockets",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "poll_errors_total",
			Help:      "Multiplexer wait failures",
		}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "protocol_errors_total",
			Help:      "Connections dropped for protocol errors",
		}, []string{"reason"}),
		OverflowDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "overflow_drops_total",
			Help:      "Connections shut down for exceeding the output queue bound",
		}),
	}
}

// Registry returns the registerer the collectors live in
func (m *Metrics) Registry() prometheus.Registerer { return m.registry }
