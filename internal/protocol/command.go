// Package protocol defines the '#'-delimited text commands exchanged between
// clients and the directory server, and the roster reply format.
//
// Every message is mapped to an explicit Kind. Clients emit tagged forms
// (REGISTER#, LOGIN#, PKEY#, PAY#, List, Exit, HELLO). For compatibility
// with older peers the server still accepts two untagged shapes:
// "<user>#<port>" is a login and "<payer>#<amount>#<payee>" a settlement
// claim.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator between fields.
const Separator = "#"

// Kind identifies a parsed command.
type Kind int

const (
	KindUnknown Kind = iota
	KindHello
	KindRegister
	KindLogin
	KindList
	KindExit
	KindPublicKey
	KindSettle
)

var kindNames = map[Kind]string{
	KindUnknown:   "unknown",
	KindHello:     "hello",
	KindRegister:  "register",
	KindLogin:     "login",
	KindList:      "list",
	KindExit:      "exit",
	KindPublicKey: "pkey",
	KindSettle:    "settle",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Wire keywords.
const (
	TagHello    = "HELLO"
	TagRegister = "REGISTER"
	TagLogin    = "LOGIN"
	TagList     = "List"
	TagExit     = "Exit"
	TagPKey     = "PKEY"
	TagPay      = "PAY"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed command")
)

// Command is a parsed client message. Only the fields relevant to Kind are
// set.
type Command struct {
	Kind Kind

	// Username is the subject of REGISTER, LOGIN and PKEY.
	Username string
	// P2PPort is the raw port text of a LOGIN.
	P2PPort string
	// PublicKey is the PEM sent with a tagged LOGIN, if any.
	PublicKey string

	Claim Claim

	// Legacy is set for the untagged login and settlement shapes.
	Legacy bool
}

// Claim is a settlement request: payer pays amount to payee.
type Claim struct {
	Payer  string
	Amount string
	Payee  string
}

// String renders the claim in its wire form.
func (c Claim) String() string {
	return c.Payer + Separator + c.Amount + Separator + c.Payee
}

// Value parses the amount. Any integer is accepted, including negatives.
func (c Claim) Value() (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(c.Amount), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformed, c.Amount)
	}
	return v, nil
}

// ParseClaim reads "<payer>#<amount>#<payee>".
func ParseClaim(text string) (Claim, error) {
	parts := strings.Split(Trim(text), Separator)
	if len(parts) != 3 {
		return Claim{}, fmt.Errorf("%w: claim needs 3 fields, got %d", ErrMalformed, len(parts))
	}
	return Claim{Payer: parts[0], Amount: parts[1], Payee: parts[2]}, nil
}

// Parse maps one received message to a Command.
func Parse(text string) (Command, error) {
	text = Trim(text)
	if text == "" {
		return Command{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	tag, rest, hasRest := strings.Cut(text, Separator)

	switch tag {
	case TagHello:
		if hasRest {
			return Command{}, fmt.Errorf("%w: HELLO takes no fields", ErrMalformed)
		}
		return Command{Kind: KindHello}, nil

	case TagList:
		if hasRest {
			return Command{}, fmt.Errorf("%w: List takes no fields", ErrMalformed)
		}
		return Command{Kind: KindList}, nil

	case TagExit:
		if hasRest {
			return Command{}, fmt.Errorf("%w: Exit takes no fields", ErrMalformed)
		}
		return Command{Kind: KindExit}, nil

	case TagRegister:
		if !hasRest || strings.Contains(rest, Separator) {
			return Command{}, fmt.Errorf("%w: REGISTER needs exactly one field", ErrMalformed)
		}
		return Command{Kind: KindRegister, Username: rest}, nil

	case TagPKey:
		if !hasRest || strings.Contains(rest, Separator) {
			return Command{}, fmt.Errorf("%w: PKEY needs exactly one field", ErrMalformed)
		}
		return Command{Kind: KindPublicKey, Username: rest}, nil

	case TagLogin:
		// the PEM is last and may contain anything but '#'
		parts := strings.SplitN(rest, Separator, 3)
		if !hasRest || len(parts) < 2 {
			return Command{}, fmt.Errorf("%w: LOGIN needs user and port", ErrMalformed)
		}
		cmd := Command{Kind: KindLogin, Username: parts[0], P2PPort: parts[1]}
		if len(parts) == 3 {
			cmd.PublicKey = parts[2]
		}
		return cmd, nil

	case TagPay:
		if !hasRest {
			return Command{}, fmt.Errorf("%w: PAY needs a claim", ErrMalformed)
		}
		claim, err := ParseClaim(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindSettle, Claim: claim}, nil
	}

	parts := strings.Split(text, Separator)
	switch len(parts) {
	case 2:
		return Command{Kind: KindLogin, Username: parts[0], P2PPort: parts[1], Legacy: true}, nil
	case 3:
		return Command{Kind: KindSettle, Claim: Claim{Payer: parts[0], Amount: parts[1], Payee: parts[2]}, Legacy: true}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, tag)
}

// Request builders used by the client.

func Register(username string) string { return TagRegister + Separator + username }

func Login(username string, p2pPort int, publicKeyPEM string) string {
	return TagLogin + Separator + username + Separator + strconv.Itoa(p2pPort) + Separator + publicKeyPEM
}

func PublicKey(username string) string { return TagPKey + Separator + username }

func Pay(c Claim) string { return TagPay + Separator + c.String() }
