// Package netx is the TCP transport used by both the server and the clients.
//
// A Socket is either a connected stream or a bound listener. Every blocking
// call takes an explicit bound, so no operation waits forever: listeners are
// polled with ListenAccept instead of a blocking Accept, which lets loops
// check a stop signal between polls.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ReceiveBufferSize is the size of the single read done by Receive.
const ReceiveBufferSize = 8 * 1024

const (
	minUserPort       = 1024
	maxPort           = 65535
	portProbeAttempts = 10000
)

// Socket is a connected TCP stream or a bound TCP listener.
type Socket struct {
	conn     net.Conn
	listener *net.TCPListener

	closeOnce sync.Once
	closeErr  error
}

// Wrap adopts an already established connection.
func Wrap(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Dial resolves host and connects to host:port, giving up after timeout.
func Dial(ctx context.Context, host, port string, timeout time.Duration) (*Socket, error) {
	addr := net.JoinHostPort(host, port)

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}
	return &Socket{conn: conn}, nil
}

func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %v", ErrResolution, addr, err)
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return fmt.Errorf("%w: %s: %v", ErrResolution, addr, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %s", ErrConnectRefused, addr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	}
	return fmt.Errorf("connect %s: %w", addr, err)
}

// Bind listens on all local interfaces on port. Port 0 lets the OS choose.
func Bind(port int) (*Socket, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", ErrBindFailed, port, err)
	}
	return &Socket{listener: ln}, nil
}

// ListenAccept waits at most poll for an incoming connection. It returns the
// accepted socket together with the peer's IP and ephemeral port, or
// ErrListenTimeout when nothing arrived in time.
func (s *Socket) ListenAccept(poll time.Duration) (*Socket, string, int, error) {
	if s.listener == nil {
		return nil, "", 0, ErrClosed
	}
	if err := s.listener.SetDeadline(time.Now().Add(poll)); err != nil {
		return nil, "", 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	conn, err := s.listener.Accept()
	if err != nil {
		if isTimeout(err) {
			return nil, "", 0, ErrListenTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, "", 0, ErrClosed
		}
		return nil, "", 0, fmt.Errorf("accept: %w", err)
	}

	ip, port := splitAddr(conn.RemoteAddr())
	return &Socket{conn: conn}, ip, port, nil
}

// Send writes the whole payload.
func (s *Socket) Send(b []byte) error {
	if s.conn == nil {
		return ErrClosed
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Receive waits at most timeout and then performs a single read. The result
// is whatever the kernel had buffered and may hold less (or more) than one
// logical message.
func (s *Socket) Receive(timeout time.Duration) ([]byte, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	buf := make([]byte, ReceiveBufferSize)
	n, err := s.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil, ErrPeerClosed
	case isTimeout(err):
		return nil, ErrReceiveTimeout
	case errors.Is(err, net.ErrClosed):
		return nil, ErrClosed
	case errors.Is(err, syscall.ECONNRESET):
		return nil, fmt.Errorf("%w: %v", ErrPeerClosed, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
	}
}

// Close shuts the socket down. It is safe to call more than once and from
// several goroutines.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		switch {
		case s.conn != nil:
			if tc, ok := s.conn.(*net.TCPConn); ok {
				_ = tc.CloseWrite()
			}
			s.closeErr = s.conn.Close()
		case s.listener != nil:
			s.closeErr = s.listener.Close()
		}
	})
	return s.closeErr
}

// LocalPort reports the local port, which is how callers learn the port the
// OS picked for Bind(0).
func (s *Socket) LocalPort() int {
	switch {
	case s.listener != nil:
		_, p := splitAddr(s.listener.Addr())
		return p
	case s.conn != nil:
		_, p := splitAddr(s.conn.LocalAddr())
		return p
	}
	return 0
}

// RemoteAddr returns the peer IP and port of a connected socket.
func (s *Socket) RemoteAddr() (string, int) {
	if s.conn == nil {
		return "", 0
	}
	return splitAddr(s.conn.RemoteAddr())
}

// CheckPort validates a textual port. It returns -1 for anything that is not
// a non-empty run of digits, 0 when the caller should pick a port itself, and
// the port number otherwise. Without allowPrivileged, ports below 1024 are
// rejected.
func CheckPort(text string, allowPrivileged bool) int {
	if text == "" {
		return -1
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return -1
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil || n > maxPort {
		return -1
	}
	if n == 0 || allowPrivileged {
		return n
	}
	if n < minUserPort {
		return -1
	}
	return n
}

// FindAvailablePort probes random ports in [1024, 65535] with a throwaway
// bind and returns the first one that succeeds.
func FindAvailablePort() (int, error) {
	for range portProbeAttempts {
		port := minUserPort + rand.IntN(maxPort-minUserPort+1)
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, ErrNoAvailablePort
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func splitAddr(a net.Addr) (string, int) {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	if a == nil {
		return "", 0
	}
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
