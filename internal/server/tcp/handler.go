package tcp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/micropay/internal/channel"
	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/netx"
	"github.com/dmitrijs2005/micropay/internal/protocol"
	"github.com/dmitrijs2005/micropay/internal/server/ledger"
	"github.com/dmitrijs2005/micropay/internal/server/metrics"
)

// conn is one accepted client connection. It implements ledger.Peer so other
// handlers can push to it.
type conn struct {
	id      uuid.UUID
	ch      *channel.Channel
	ip      string
	port    int
	ledger  *ledger.Ledger
	limiter *rate.Limiter
}

func newConn(id uuid.UUID, sock *netx.Socket, ip string, port int, l *ledger.Ledger, lim *rate.Limiter) *conn {
	return &conn{id: id, ch: channel.New(sock), ip: ip, port: port, ledger: l, limiter: lim}
}

func (c *conn) remote() string {
	return net.JoinHostPort(c.ip, strconv.Itoa(c.port))
}

// send writes payload encrypted to the client's key when the client has
// logged in with one, and as plaintext otherwise.
func (c *conn) send(payload string) error {
	if pub := c.ledger.ClientKey(c.id); pub != nil {
		return c.ch.SendEncrypted(pub, payload)
	}
	return c.ch.SendPlain(payload)
}

func (c *conn) reply(status string) error {
	return c.send(protocol.Line(status))
}

func (c *conn) Notify(text string) error {
	return c.reply(text)
}

func (s *Server) handle(ctx context.Context, c *conn) {
	log := s.logger.With("conn", c.id.String(), "remote", c.remote())
	log.Info(ctx, "connection accepted")

	for ctx.Err() == nil {
		msg, err := c.ch.ReceiveEncrypted(s.keys.Private, s.opts.ReceiveTimeout)
		switch {
		case err == nil:
		case channel.IsDecodeError(err):
			s.metrics.FrameErrors.Inc()
			log.Warn(ctx, "undecodable frame", "error", err, "bytes", len(msg.Raw))
			if err := c.reply(protocol.ReplyMessageError); err != nil {
				log.Warn(ctx, "reply failed", "error", err)
				return
			}
			continue
		case errors.Is(err, netx.ErrReceiveTimeout):
			log.Debug(ctx, "receive timeout")
			continue
		case errors.Is(err, netx.ErrPeerClosed):
			log.Info(ctx, "peer closed connection")
			return
		default:
			if ctx.Err() == nil {
				log.Error(ctx, "receive failed", "error", err)
			}
			return
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		keep, err := s.dispatch(ctx, c, log, msg.Text)
		if err != nil {
			log.Warn(ctx, "reply failed", "error", err)
			return
		}
		if !keep {
			return
		}
	}
}

// dispatch runs one command. It reports false when the connection should be
// closed.
func (s *Server) dispatch(ctx context.Context, c *conn, log logging.Logger, text string) (bool, error) {
	started := time.Now()
	cmd, err := protocol.Parse(text)
	defer func() { s.metrics.ObserveCommand(cmd.Kind.String(), started) }()

	if err != nil {
		log.Warn(ctx, "bad command", "error", err)
		return true, c.reply(protocol.ReplyMessageError)
	}

	switch cmd.Kind {
	case protocol.KindHello:
		return true, c.ch.SendPlain(s.pubPEM)

	case protocol.KindRegister:
		return true, s.register(ctx, c, log, cmd.Username)

	case protocol.KindLogin:
		return true, s.login(ctx, c, log, cmd)

	case protocol.KindList:
		roster, err := s.ledger.Roster(c.id)
		if err != nil {
			log.Warn(ctx, "list refused", "error", err)
			return true, c.reply(protocol.ReplyLoginFirst)
		}
		return true, c.send(roster.Format())

	case protocol.KindPublicKey:
		pem, err := s.ledger.PublicKey(cmd.Username)
		if err != nil {
			log.Info(ctx, "public key lookup failed", "user", cmd.Username, "error", err)
			return true, c.reply(protocol.ReplyNoKey)
		}
		return true, c.reply(pem)

	case protocol.KindExit:
		if e, ok := s.ledger.Disconnect(c.id); ok {
			log.Info(ctx, "logged out", "user", e.Username)
			s.showOnline(ctx)
		}
		return false, c.ch.SendPlain(protocol.Line(protocol.ReplyBye))

	case protocol.KindSettle:
		s.settle(ctx, c, log, cmd.Claim)
		return true, nil
	}

	return true, c.reply(protocol.ReplyMessageError)
}

func (s *Server) register(ctx context.Context, c *conn, log logging.Logger, username string) error {
	if err := s.ledger.Register(username); err != nil {
		log.Warn(ctx, "register failed", "user", username, "error", err)
		return c.reply(protocol.ReplyFail)
	}
	s.metrics.Accounts.Set(float64(s.ledger.Accounts()))
	log.Info(ctx, "registered", "user", username)
	s.showOnline(ctx)
	return c.reply(protocol.ReplyOK)
}

func (s *Server) login(ctx context.Context, c *conn, log logging.Logger, cmd protocol.Command) error {
	req := ledger.Login{
		Username:  cmd.Username,
		P2PPort:   netx.CheckPort(cmd.P2PPort, false),
		PublicPEM: cmd.PublicKey,
	}
	if cmd.PublicKey != "" {
		if pub, err := cryptox.ParsePublicKeyPEM([]byte(cmd.PublicKey)); err == nil {
			req.PublicKey = pub
		}
	}

	roster, evicted, err := s.ledger.Login(c.id, req)
	if err != nil {
		log.Warn(ctx, "login failed", "user", cmd.Username, "error", err)
		return c.reply(loginFailure(err))
	}

	for _, id := range evicted {
		log.Info(ctx, "signed out previous session", "user", cmd.Username, "evicted", id.String())
	}
	log.Info(ctx, "logged in", "user", cmd.Username, "p2p_port", req.P2PPort, "key", fingerprint(req.PublicKey), "legacy", cmd.Legacy)
	s.showOnline(ctx)

	return c.send(roster.Format())
}

func loginFailure(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return protocol.ReplyAuthFail
	case errors.Is(err, ledger.ErrNoSession):
		return protocol.ReplyServerError
	default:
		return protocol.ReplyMessageError
	}
}

func (s *Server) settle(ctx context.Context, c *conn, log logging.Logger, claim protocol.Claim) {
	st, err := s.ledger.Settle(c.id, claim)
	if err != nil {
		s.metrics.Settlements.WithLabelValues(metrics.SettleRejected).Inc()
		log.Warn(ctx, "settlement dropped", "claim", claim.String(), "error", err)
		return
	}
	s.metrics.Settlements.WithLabelValues(metrics.SettleApplied).Inc()
	log.Info(ctx, "settled", "payer", st.Payer, "payee", st.Payee, "amount", st.Amount,
		"payer_balance", st.PayerBalance, "payee_balance", st.PayeeBalance)

	peer, err := s.ledger.PeerFor(st.Payer)
	if err != nil {
		log.Warn(ctx, "no confirmation sent", "error", err)
		return
	}
	if err := peer.Notify(protocol.ReplyTransferOK); err != nil {
		log.Warn(ctx, "confirmation failed", "payer", st.Payer, "error", err)
	}
}

func (s *Server) showOnline(ctx context.Context) {
	if !s.opts.ShowOnline {
		return
	}
	entries := s.ledger.Snapshot()
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Username
		if name == "" {
			name = "<guest>"
		}
		rows = append(rows, fmt.Sprintf("%s %s:%d p2p=%d", name, e.IP, e.Port, e.P2PPort))
	}
	s.logger.Info(ctx, "online users", "count", len(rows), "users", rows)
}

func fingerprint(pub *rsa.PublicKey) string {
	if pub == nil {
		return ""
	}
	return cryptox.Fingerprint(pub)
}
