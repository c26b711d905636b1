// Package server wires the directory server together: it loads the server
// identity, builds the ledger and the TCP server, optionally starts the
// metrics and health endpoints, and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/netx"
	"github.com/dmitrijs2005/micropay/internal/server/config"
	"github.com/dmitrijs2005/micropay/internal/server/health"
	"github.com/dmitrijs2005/micropay/internal/server/ledger"
	"github.com/dmitrijs2005/micropay/internal/server/metrics"
	"github.com/dmitrijs2005/micropay/internal/server/tcp"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	tcp     *tcp.Server
	health  *health.Server
}

func NewApp(c *config.Config) (*App, error) {
	return newApp(c, logging.NewJSON(os.Stdout, c.LogLevel), prometheus.NewRegistry())
}

func newApp(c *config.Config, logger logging.Logger, reg *prometheus.Registry) (*App, error) {
	port := netx.CheckPort(c.Port, true)
	if port < 0 {
		return nil, fmt.Errorf("%w: %q", netx.ErrBindFailed, c.Port)
	}

	kp, created, err := cryptox.LoadOrCreateKeyPair(c.PrivateKeyFile, c.PublicKeyFile, c.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("server key init error: %w", err)
	}
	if created {
		logger.Info(context.Background(), "generated server key pair", "private", c.PrivateKeyFile, "public", c.PublicKeyFile)
	}

	l := ledger.New()
	m := metrics.New(reg)

	s, err := tcp.NewServer(tcp.Options{
		Port:           port,
		PollTimeout:    c.PollTimeout,
		ReceiveTimeout: c.ReceiveTimeout,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		MaxConnections: c.MaxConnections,
		ShowOnline:     c.ShowOnline,
	}, kp, l, m, logger)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger, ledger: l, metrics: m, tcp: s}

	if c.HealthAddr != "" {
		app.health = health.NewServer(c.HealthAddr, logger)
		s.OnServingChanged(app.health.SetServing)
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a termination signal arrives. The
// metrics and health endpoints stop together with the TCP server.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "port", app.config.Port)

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.tcp.Run(ctx); err != nil {
			return fmt.Errorf("tcp server: %w", err)
		}
		return nil
	})

	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
			if err := app.metrics.Serve(ctx, app.config.MetricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if app.health != nil {
		g.Go(func() error {
			if err := app.health.Run(ctx); err != nil {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	} else {
		app.logger.Info(ctx, "app stopped")
	}
	return err
}

// Ready is closed once the TCP server has tried to bind. See BindErr.
func (app *App) Ready() <-chan struct{} { return app.tcp.Ready() }

// BindErr reports why the TCP server could not listen. Valid after Ready.
func (app *App) BindErr() error { return app.tcp.BindErr() }

// Port returns the TCP port. Valid after Ready.
func (app *App) Port() int { return app.tcp.Port() }
