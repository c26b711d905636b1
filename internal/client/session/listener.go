package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/micropay/internal/channel"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/netx"
	"github.com/dmitrijs2005/micropay/internal/protocol"
)

// RelayFunc forwards a received claim to the server.
type RelayFunc func(protocol.Claim) error

// Listener accepts payment claims from other clients on the P2P port and
// relays each one to the server. One claim is read per accepted connection
// and the connection is closed without an answer.
type Listener struct {
	sock    *netx.Socket
	priv    *rsa.PrivateKey
	relay   RelayFunc
	poll    time.Duration
	timeout time.Duration
	logger  logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Listen binds port. The listener does not accept anything until Start.
func Listen(port int, priv *rsa.PrivateKey, relay RelayFunc, poll, timeout time.Duration, l logging.Logger) (*Listener, error) {
	sock, err := netx.Bind(port)
	if err != nil {
		return nil, err
	}
	return &Listener{
		sock:    sock,
		priv:    priv,
		relay:   relay,
		poll:    poll,
		timeout: timeout,
		logger:  l.With("module", "p2p_listener"),
	}, nil
}

func (l *Listener) Port() int { return l.sock.LocalPort() }

func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Start runs the accept loop in its own goroutine. Calling Start on a
// running listener does nothing.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.loop(ctx, l.done)
}

// Stop cancels the loop, waits for it to exit and closes the socket.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	_ = l.sock.Close()
}

func (l *Listener) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	l.logger.Info(ctx, "listening for payments", "port", l.Port())

	for ctx.Err() == nil {
		sock, ip, port, err := l.sock.ListenAccept(l.poll)
		switch {
		case err == nil:
			l.serve(ctx, sock, ip, port)
		case errors.Is(err, netx.ErrListenTimeout):
		case errors.Is(err, netx.ErrClosed):
			return
		default:
			l.logger.Error(ctx, "accept failed", "error", err)
		}
	}
}

func (l *Listener) serve(ctx context.Context, sock *netx.Socket, ip string, port int) {
	ch := channel.New(sock)
	defer ch.Close()

	log := l.logger.With("peer", ip, "peer_port", port)

	msg, err := ch.ReceiveEncrypted(l.priv, l.timeout)
	if err != nil {
		log.Warn(ctx, "receive failed", "error", err)
		return
	}
	if msg.Text == "" {
		log.Warn(ctx, "empty payment message")
		return
	}
	if !msg.Encrypted {
		log.Warn(ctx, "plaintext payment rejected")
		return
	}

	claim, err := protocol.ParseClaim(msg.Text)
	if err != nil {
		log.Warn(ctx, "bad payment claim", "error", err)
		return
	}
	if err := l.relay(claim); err != nil {
		log.Error(ctx, "relay failed", "claim", claim.String(), "error", err)
		return
	}
	log.Info(ctx, "payment relayed", "payer", claim.Payer, "amount", claim.Amount)
}
