package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/micropay/internal/client/session"
	"github.com/dmitrijs2005/micropay/internal/protocol"
)

var errUsage = errors.New("usage")

func (a *App) isConnected() bool {
	return a.session.State() != session.Disconnected
}

func (a *App) isLoggedIn() bool {
	return a.session.State() == session.Authenticated
}

func (a *App) fail(ctx context.Context, op string, err error) error {
	printlnFn(fmt.Sprintf("%s failed: %v", op, err))
	a.logger.Debug(ctx, "command failed", "command", op, "error", err)
	return err
}

func usage(text string) error {
	printlnFn("Usage:", text)
	return errUsage
}

func (a *App) Connect(ctx context.Context) error {
	if err := a.session.Connect(ctx, a.config.ServerHost, a.config.ServerPort); err != nil {
		return a.fail(ctx, "connect", err)
	}
	printlnFn("Connected to", net.JoinHostPort(a.config.ServerHost, a.config.ServerPort))
	return nil
}

func (a *App) Register(ctx context.Context, args []string) error {
	name := a.config.Username
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return usage("register <name>")
	}
	if err := a.session.Register(ctx, name); err != nil {
		return a.fail(ctx, "register", err)
	}
	printlnFn("Registered", name)
	return nil
}

func (a *App) Login(ctx context.Context, args []string) error {
	name, port := a.config.Username, a.config.P2PPort
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		port = args[1]
	}
	if name == "" {
		return usage("login <name> [port]")
	}

	err := a.session.Login(ctx, name, port)
	if errors.Is(err, session.ErrP2PBind) {
		printlnFn("Logged in as", name, "but incoming payments are disabled")
	}
	if err != nil {
		return a.fail(ctx, "login", err)
	}
	printlnFn(fmt.Sprintf("Logged in as %s, accepting payments on port %d", name, a.session.P2PPort()))
	return nil
}

// List refreshes the roster. Printing is done by the status callback.
func (a *App) List(ctx context.Context) error {
	if _, err := a.session.FetchRoster(ctx); err != nil {
		return a.fail(ctx, "list", err)
	}
	return nil
}

// Pay sends a payment and then waits for the server's confirmation.
func (a *App) Pay(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("pay <amount> <payee>")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return a.fail(ctx, "pay", fmt.Errorf("%w: %q", session.ErrInvalidAmount, args[0]))
	}
	if err := a.session.SendPayment(ctx, amount, args[1]); err != nil {
		return a.fail(ctx, "pay", err)
	}
	printlnFn(fmt.Sprintf("Sent %d to %s, waiting for confirmation...", amount, args[1]))
	return a.Verify(ctx)
}

func (a *App) Verify(ctx context.Context) error {
	if !a.session.PaymentPending() {
		printlnFn("No payment awaiting confirmation")
		return nil
	}
	if err := a.session.VerifyPayment(ctx); err != nil {
		return a.fail(ctx, "verify", err)
	}
	printlnFn(protocol.ReplyTransferOK)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	state := a.session.State()
	printlnFn("State:", state)
	if state != session.Authenticated {
		return nil
	}
	printlnFn("User:", a.session.Username())
	printlnFn("Payment port:", a.session.P2PPort())
	printlnFn("Balance:", a.session.Balance())
	if a.session.PaymentPending() {
		printlnFn("A payment is awaiting confirmation")
	}
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if !a.isConnected() {
		printlnFn("Not connected")
		return nil
	}
	if err := a.session.Logout(ctx); err != nil {
		return a.fail(ctx, "logout", err)
	}
	printlnFn("Disconnected")
	return nil
}

func printRoster(r *protocol.Roster) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance: %d\n", r.Balance)
	fmt.Fprintf(&sb, "Online users: %d\n", len(r.Peers))

	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tPORT")
	for _, p := range r.Peers {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.Username, p.IP, p.P2PPort)
	}
	_ = tw.Flush()

	printlnFn(strings.TrimRight(sb.String(), "\n"))
}
