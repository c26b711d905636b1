package session

import "errors"

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyLoggedIn  = errors.New("already logged in")
	ErrBusy             = errors.New("payment verification pending")
	ErrInvalidPort      = errors.New("invalid port")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrEmptyUsername    = errors.New("username is empty")
	ErrP2PBind          = errors.New("cannot listen for payments")

	ErrAuthFailed         = errors.New("authentication failed")
	ErrMessageError       = errors.New("server rejected message")
	ErrRegisterRejected   = errors.New("registration rejected")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrPayeeUnknown       = errors.New("payee unknown")
	ErrPaymentUnconfirmed = errors.New("payment not confirmed")
	ErrUnexpectedReply    = errors.New("unexpected reply")
)
