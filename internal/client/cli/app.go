package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/micropay/internal/client/config"
	"github.com/dmitrijs2005/micropay/internal/client/session"
	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
)

type App struct {
	config      *config.Config
	session     *session.Session
	logger      logging.Logger
	in          io.Reader
	interactive bool
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewText(os.Stderr, c.LogLevel)

	kp, created, err := cryptox.LoadOrCreateKeyPair(c.PrivateKeyFile, c.PublicKeyFile, c.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("client key init error: %w", err)
	}
	if created {
		logger.Info(context.Background(), "generated client key pair", "private", c.PrivateKeyFile, "public", c.PublicKeyFile)
	}

	return newApp(c, kp, logger, os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
}

func newApp(c *config.Config, kp *cryptox.KeyPair, logger logging.Logger, in io.Reader, interactive bool) (*App, error) {
	a := &App{
		config:      c,
		logger:      logger,
		in:          in,
		interactive: interactive,
	}

	s, err := session.New(kp, session.Options{
		ConnectTimeout:  c.ConnectTimeout,
		ReceiveTimeout:  c.ReceiveTimeout,
		VerifyTimeout:   c.VerifyTimeout,
		ListenPoll:      c.ListenPoll,
		OnStatusChanged: printRoster,
		OnSessionEnded: func() {
			printlnFn("Session ended: this account was logged in from another client")
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	a.session = s
	return a, nil
}

// Run connects to the server and starts the REPL. The session is logged out
// when the REPL returns.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.session.Logout(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn(ctx, "logout failed", "error", err)
		}
	}()

	printlnFn("Welcome to micropay (type 'help' for commands)")
	_ = a.Connect(ctx)

	runREPL(ctx, a, a.status, bufio.NewScanner(a.in), a.interactive)
	return nil
}

func (a *App) status() string {
	switch a.session.State() {
	case session.Authenticated:
		return a.session.Username()
	case session.Connected:
		return "connected"
	default:
		return "offline"
	}
}
