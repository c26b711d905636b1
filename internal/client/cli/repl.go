package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// printFn writes the prompt without a trailing newline.
var printFn = fmt.Print

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isConnected() bool
	isLoggedIn() bool
	Connect(ctx context.Context) error
	Register(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	List(ctx context.Context) error
	Pay(ctx context.Context, args []string) error
	Verify(ctx context.Context) error
	Status(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads commands from scanner and dispatches them to a until the
// scanner runs dry, ctx is done, or the user types "exit" or "quit".
//
//	Offline:
//	  - connect: connect to the directory server
//
//	Connected:
//	  - register [name]: create an account
//	  - login [name] [port]: authenticate and listen for payments
//
//	Logged in:
//	  - list: online users and balance
//	  - pay <amount> <payee>: send a payment and wait for confirmation
//	  - verify: wait again for a pending confirmation
//
//	Always:
//	  - help, status, logout, exit | quit
//
// The prompt is printed only when interactive is set. Handlers report their
// own errors, so return values are ignored here.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, interactive bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		if interactive {
			printFn(fmt.Sprintf("micropay (%s)> ", statusFn()))
		}
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			switch {
			case a.isLoggedIn():
				printlnFn("Available commands: list, pay <amount> <payee>, verify, status, logout, exit")
			case a.isConnected():
				printlnFn("Available commands: register [name], login [name] [port], status, logout, exit")
			default:
				printlnFn("Available commands: connect, status, exit")
			}

		case "connect":
			_ = a.Connect(ctx)

		case "register":
			_ = a.Register(ctx, args)

		case "login":
			_ = a.Login(ctx, args)

		case "l", "list":
			_ = a.List(ctx)

		case "pay":
			_ = a.Pay(ctx, args)

		case "verify":
			_ = a.Verify(ctx)

		case "status":
			_ = a.Status(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
