package ledger

import "errors"

var (
	ErrAccountExists    = errors.New("account already exists")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrUnknownAccount   = errors.New("unknown account")
	ErrNoSession        = errors.New("no session for connection")
	ErrNotAuthenticated = errors.New("connection is not logged in")
	ErrInvalidPort      = errors.New("invalid p2p port")
	ErrInvalidKey       = errors.New("invalid public key")
	ErrNoKey            = errors.New("no public key for user")
	ErrSpoofed          = errors.New("claim not relayed by payee")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrPayerOffline     = errors.New("payer is not online")
)
