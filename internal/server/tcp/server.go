// Package tcp is the directory server's connection layer. It accepts client
// connections, gives each one a handler goroutine and dispatches their
// commands against the ledger.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/netx"
	"github.com/dmitrijs2005/micropay/internal/server/ledger"
	"github.com/dmitrijs2005/micropay/internal/server/metrics"
)

type Options struct {
	// Port to listen on. 0 picks an ephemeral port.
	Port           int
	PollTimeout    time.Duration
	ReceiveTimeout time.Duration
	// RateLimit is messages per second per connection. Zero disables it.
	RateLimit float64
	RateBurst int
	// MaxConnections caps concurrent handlers. Zero means no cap.
	MaxConnections int
	ShowOnline     bool
}

type Server struct {
	opts    Options
	keys    *cryptox.KeyPair
	pubPEM  string
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  logging.Logger

	onServing func(bool)

	mu    sync.Mutex
	conns map[uuid.UUID]*conn

	ready   chan struct{}
	port    int
	bindErr error
}

func NewServer(opts Options, kp *cryptox.KeyPair, l *ledger.Ledger, m *metrics.Metrics, logger logging.Logger) (*Server, error) {
	pem, err := kp.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("encode server key: %w", err)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 5 * time.Second
	}
	return &Server{
		opts:      opts,
		keys:      kp,
		pubPEM:    string(pem),
		ledger:    l,
		metrics:   m,
		logger:    logger.With("module", "tcp_server"),
		onServing: func(bool) {},
		conns:     make(map[uuid.UUID]*conn),
		ready:     make(chan struct{}),
	}, nil
}

// OnServingChanged registers fn to be told when the accept loop starts and
// stops.
func (s *Server) OnServingChanged(fn func(bool)) {
	s.onServing = fn
}

// Ready is closed once Run has tried to bind, whether or not that worked.
// Check BindErr after it fires.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Port returns the bound port. Valid after Ready.
func (s *Server) Port() int { return s.port }

// BindErr is the error that stopped Run from listening. Valid after Ready.
func (s *Server) BindErr() error { return s.bindErr }

// Run accepts connections until ctx is cancelled, then closes every open
// connection and waits for their handlers before returning.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netx.Bind(s.opts.Port)
	if err != nil {
		s.bindErr = err
		close(s.ready)
		return err
	}
	defer ln.Close()

	s.port = ln.LocalPort()
	close(s.ready)

	s.logger.Info(ctx, "Starting TCP server", "port", s.port, "fingerprint", cryptox.Fingerprint(s.keys.Public))
	s.onServing(true)

	var g errgroup.Group
	if s.opts.MaxConnections > 0 {
		g.SetLimit(s.opts.MaxConnections)
	}

	var backoff acceptBackoff
	for ctx.Err() == nil {
		sock, ip, port, err := ln.ListenAccept(s.opts.PollTimeout)
		if errors.Is(err, netx.ErrListenTimeout) {
			continue
		}
		if err != nil {
			if errors.Is(err, netx.ErrClosed) {
				s.logger.Error(ctx, "accept failed", "error", err)
				break
			}
			delay := backoff.next()
			s.logger.Error(ctx, "accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		backoff.reset()

		c := s.newConn(sock, ip, port)
		s.open(c)
		if !g.TryGo(func() error {
			defer s.release(ctx, c)
			s.handle(ctx, c)
			return nil
		}) {
			s.logger.Warn(ctx, "connection limit reached, dropping", "remote", c.remote())
			s.release(ctx, c)
		}
	}

	s.logger.Info(ctx, "Stopping TCP server...")
	s.onServing(false)

	s.closeAll()
	_ = g.Wait()

	return nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff spaces out retries after failed accepts, doubling from
// minAcceptDelay up to maxAcceptDelay.
type acceptBackoff struct {
	delay time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minAcceptDelay
	} else {
		b.delay = min(2*b.delay, maxAcceptDelay)
	}
	return b.delay
}

func (b *acceptBackoff) reset() { b.delay = 0 }

func (s *Server) newConn(sock *netx.Socket, ip string, port int) *conn {
	limit := rate.Inf
	if s.opts.RateLimit > 0 {
		limit = rate.Limit(s.opts.RateLimit)
	}
	burst := s.opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return newConn(uuid.New(), sock, ip, port, s.ledger, rate.NewLimiter(limit, burst))
}

// open registers c with the connection registry and the ledger.
func (s *Server) open(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.ledger.Connect(c.id, c, c.ip, c.port)
	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ConnectionsOpen.Inc()
}

func (s *Server) release(ctx context.Context, c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	_ = c.ch.Close()
	s.metrics.ConnectionsOpen.Dec()

	if e, ok := s.ledger.Disconnect(c.id); ok {
		s.logger.Info(ctx, "connection closed", "conn", c.id.String(), "user", e.Username)
		s.showOnline(ctx)
	}
}

// Connections returns the number of tracked connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.ch.Close()
	}
}
