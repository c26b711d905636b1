package netx

import "errors"

// Transport errors. Callers match them with errors.Is; the OS error, when
// there is one, is wrapped alongside.
var (
	ErrResolution      = errors.New("address resolution failed")
	ErrConnectTimeout  = errors.New("connection timed out")
	ErrConnectRefused  = errors.New("connection refused")
	ErrBindFailed      = errors.New("bind failed")
	ErrListenTimeout   = errors.New("no pending connection")
	ErrSendFailed      = errors.New("send failed")
	ErrReceiveFailed   = errors.New("receive failed")
	ErrReceiveTimeout  = errors.New("receive timed out")
	ErrPeerClosed      = errors.New("connection closed by peer")
	ErrNoAvailablePort = errors.New("no available port")
	ErrClosed          = errors.New("socket closed")
)
