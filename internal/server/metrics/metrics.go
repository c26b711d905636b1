// Package metrics holds the server's Prometheus instruments and the HTTP
// endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "micropay"

// Settlement outcomes.
const (
	SettleApplied  = "applied"
	SettleRejected = "rejected"
)

type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsOpen     prometheus.Gauge
	Accounts            prometheus.Gauge
	Commands            *prometheus.CounterVec
	DispatchLatency     *prometheus.HistogramVec
	Settlements         *prometheus.CounterVec
	FrameErrors         prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them with reg. Passing a
// *prometheus.Registry also makes it the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Number of client connections accepted",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of client connections currently open",
		}),
		Accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of registered accounts",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Number of commands dispatched, by kind",
		}, []string{"kind"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent handling one command",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement claims, by outcome",
		}, []string{"result"}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames that failed to decode or decrypt",
		}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted,
		m.ConnectionsOpen,
		m.Accounts,
		m.Commands,
		m.DispatchLatency,
		m.Settlements,
		m.FrameErrors,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// ObserveCommand counts one dispatched command and its duration.
func (m *Metrics) ObserveCommand(kind string, started time.Time) {
	m.Commands.WithLabelValues(kind).Inc()
	m.DispatchLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
