// Package session is the client side of micropay. A Session holds one
// connection to the directory server and walks the
// Disconnected → Connected → Authenticated states. While authenticated it
// runs a Listener that takes payment claims from other clients and relays
// them to the server.
//
// Foreground calls are expected from one goroutine. The listener shares the
// server connection through the channel's exchange lock.
package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/micropay/internal/channel"
	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/netx"
	"github.com/dmitrijs2005/micropay/internal/protocol"
)

type State int

const (
	Disconnected State = iota
	Connected
	Authenticated
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

type Options struct {
	ConnectTimeout time.Duration
	ReceiveTimeout time.Duration
	VerifyTimeout  time.Duration
	ListenPoll     time.Duration

	// OnStatusChanged is called with every newly received roster.
	OnStatusChanged func(*protocol.Roster)
	// OnSessionEnded is called when the server no longer knows this login,
	// typically because the name was logged in from somewhere else.
	OnSessionEnded func()
}

type Session struct {
	keys   *cryptox.KeyPair
	pubPEM string
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	state     State
	ch        *channel.Channel
	serverKey *rsa.PublicKey
	username  string
	roster    *protocol.Roster
	pending   bool
	listener  *Listener
}

func New(kp *cryptox.KeyPair, opts Options, l logging.Logger) (*Session, error) {
	pem, err := kp.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 5 * time.Second
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 5 * time.Second
	}
	if opts.ListenPoll <= 0 {
		opts.ListenPoll = 500 * time.Millisecond
	}
	if opts.OnStatusChanged == nil {
		opts.OnStatusChanged = func(*protocol.Roster) {}
	}
	if opts.OnSessionEnded == nil {
		opts.OnSessionEnded = func() {}
	}
	return &Session{
		keys:   kp,
		pubPEM: string(pem),
		opts:   opts,
		logger: l.With("module", "session"),
	}, nil
}

// Connect dials the server and performs the key handshake.
func (s *Session) Connect(ctx context.Context, host, port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Disconnected {
		return ErrAlreadyConnected
	}

	ch, err := channel.Dial(ctx, host, port, s.opts.ConnectTimeout)
	if err != nil {
		return err
	}
	pub, err := ch.ClientHandshake(s.opts.ReceiveTimeout)
	if err != nil {
		_ = ch.Close()
		return err
	}

	s.logger.Info(ctx, "connected", "server", host+":"+port, "fingerprint", cryptox.Fingerprint(pub))

	s.ch = ch
	s.serverKey = pub
	s.state = Connected
	return nil
}

// Register creates an account on the server.
func (s *Session) Register(ctx context.Context, username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	reply, err := s.request(ctx, protocol.Register(username))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "100") {
		return fmt.Errorf("%w: %s", ErrRegisterRejected, protocol.Trim(reply))
	}
	s.logger.Info(ctx, "registered", "user", username)
	return nil
}

// Login authenticates as username and starts listening for payments on
// p2pPort. "0" picks a free port.
func (s *Session) Login(ctx context.Context, username, p2pPort string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	port := netx.CheckPort(p2pPort, false)
	if port < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, p2pPort)
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Disconnected:
		return ErrNotConnected
	case Authenticated:
		return ErrAlreadyLoggedIn
	}

	if port == 0 {
		p, err := netx.FindAvailablePort()
		if err != nil {
			return err
		}
		port = p
	}

	reply, err := s.request(ctx, protocol.Login(username, port, s.pubPEM))
	if err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(reply, protocol.ReplyAuthFail):
		return fmt.Errorf("%w: %s", ErrAuthFailed, protocol.Trim(reply))
	case strings.HasPrefix(reply, protocol.ReplyMessageError):
		return fmt.Errorf("%w: %s", ErrMessageError, protocol.Trim(reply))
	}
	roster, err := protocol.ParseRoster(reply)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	s.mu.Lock()
	s.state = Authenticated
	s.username = username
	s.roster = roster
	ch, serverKey := s.ch, s.serverKey
	s.mu.Unlock()

	s.logger.Info(ctx, "logged in", "user", username, "p2p_port", port, "balance", roster.Balance)
	s.opts.OnStatusChanged(roster)

	relay := func(c protocol.Claim) error {
		return ch.Post(serverKey, protocol.Pay(c))
	}
	l, err := Listen(port, s.keys.Private, relay, s.opts.ListenPoll, s.opts.ReceiveTimeout, s.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrP2PBind, err)
	}
	l.Start(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// FetchRoster asks the server for the online list and the current balance.
func (s *Session) FetchRoster(ctx context.Context) (*protocol.Roster, error) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending {
		return nil, ErrBusy
	}

	reply, err := s.request(ctx, protocol.TagList)
	if err != nil {
		return nil, err
	}
	if protocol.Trim(reply) == protocol.ReplyLoginFirst {
		s.endLogin(ctx)
		return nil, ErrNotLoggedIn
	}
	roster, err := protocol.ParseRoster(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	s.mu.Lock()
	s.roster = roster
	s.mu.Unlock()

	s.opts.OnStatusChanged(roster)
	return roster, nil
}

// endLogin drops back to Connected after the server forgot our login.
func (s *Session) endLogin(ctx context.Context) {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	if s.state == Authenticated {
		s.state = Connected
	}
	s.username = ""
	s.mu.Unlock()

	if l != nil {
		l.Stop()
	}
	s.logger.Warn(ctx, "server ended the session")
	s.opts.OnSessionEnded()
}

// SendPayment sends a claim for amount straight to payee's listener. The
// server confirms it later, see VerifyPayment.
func (s *Session) SendPayment(ctx context.Context, amount int64, payee string) error {
	s.mu.Lock()
	state, pending, roster, username := s.state, s.pending, s.roster, s.username
	s.mu.Unlock()

	if state != Authenticated {
		return ErrNotLoggedIn
	}
	if pending {
		return ErrBusy
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	peer, ok := roster.Find(payee)
	if !ok {
		return fmt.Errorf("%w: %s is not in the online list", ErrPayeeUnknown, payee)
	}

	reply, err := s.request(ctx, protocol.PublicKey(payee))
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "240") || protocol.Trim(reply) == "" {
		return fmt.Errorf("%w: %s", ErrPayeeUnknown, protocol.Trim(reply))
	}
	payeeKey, err := cryptox.ParsePublicKeyPEM([]byte(reply))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPayeeUnknown, err)
	}

	conn, err := channel.Dial(ctx, peer.IP, strconv.Itoa(peer.P2PPort), s.opts.ConnectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	claim := protocol.Claim{Payer: username, Amount: strconv.FormatInt(amount, 10), Payee: payee}
	if err := conn.SendEncrypted(payeeKey, claim.String()); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()

	s.logger.Info(ctx, "payment sent", "payee", payee, "amount", amount, "payee_key", cryptox.Fingerprint(payeeKey))
	return nil
}

// VerifyPayment waits for the server's confirmation of the last payment.
// The pending flag is cleared whatever the outcome.
func (s *Session) VerifyPayment(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	defer func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
	}()

	// not under the exchange lock, so the listener can still relay while we wait
	msg, err := ch.ReceiveEncrypted(s.keys.Private, s.opts.VerifyTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentUnconfirmed, err)
	}
	if protocol.Trim(msg.Text) != protocol.ReplyTransferOK {
		return fmt.Errorf("%w: %q", ErrPaymentUnconfirmed, protocol.Trim(msg.Text))
	}
	s.logger.Info(ctx, "payment confirmed")
	return nil
}

// Logout says goodbye to the server, stops the listener and closes the
// connection. It is safe to call in any state.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	ch, serverKey, l := s.ch, s.serverKey, s.listener
	s.listener = nil
	s.mu.Unlock()

	if l != nil {
		l.Stop()
	}
	if ch == nil {
		return nil
	}

	var err error
	msg, xerr := ch.Exchange(serverKey, s.keys.Private, protocol.TagExit, s.opts.ReceiveTimeout)
	switch {
	case xerr != nil && !errors.Is(xerr, netx.ErrPeerClosed):
		err = xerr
	case xerr == nil && protocol.Trim(msg.Text) != protocol.ReplyBye:
		s.logger.Warn(ctx, "unexpected logout reply", "reply", msg.Text)
	}
	_ = ch.Close()

	s.mu.Lock()
	s.ch = nil
	s.serverKey = nil
	s.state = Disconnected
	s.username = ""
	s.roster = nil
	s.pending = false
	s.mu.Unlock()

	s.logger.Info(ctx, "logged out")
	return err
}

func (s *Session) request(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	ch, serverKey := s.ch, s.serverKey
	s.mu.Unlock()
	if ch == nil {
		return "", ErrNotConnected
	}

	msg, err := ch.Exchange(serverKey, s.keys.Private, text, s.opts.ReceiveTimeout)
	// a confirmation that arrived after VerifyPayment gave up is not our reply
	for err == nil && protocol.Trim(msg.Text) == protocol.ReplyTransferOK {
		s.logger.Debug(ctx, "discarding late payment confirmation")
		msg, err = ch.Await(s.keys.Private, s.opts.ReceiveTimeout)
	}
	if err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "reply", "request", strings.SplitN(text, protocol.Separator, 2)[0], "encrypted", msg.Encrypted)
	return msg.Text, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// P2PPort returns the port the payment listener is bound to, or 0.
func (s *Session) P2PPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Port()
}

// Balance is the balance from the last roster.
func (s *Session) Balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roster == nil {
		return 0
	}
	return s.roster.Balance
}

func (s *Session) Roster() *protocol.Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster
}

func (s *Session) PaymentPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
