package netx

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindLoopback(t *testing.T) *Socket {
	t.Helper()
	ln, err := Bind(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func acceptOne(t *testing.T, ln *Socket) (*Socket, string, int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, ip, port, err := ln.ListenAccept(100 * time.Millisecond)
		if errors.Is(err, ErrListenTimeout) {
			continue
		}
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s, ip, port
	}
	t.Fatal("no connection accepted")
	return nil, "", 0
}

func TestCheckPort(t *testing.T) {
	tests := []struct {
		text       string
		privileged bool
		want       int
	}{
		{"", false, -1},
		{"abc", false, -1},
		{"12a", false, -1},
		{"-1", false, -1},
		{" 80", false, -1},
		{"0", false, 0},
		{"0", true, 0},
		{"80", false, -1},
		{"80", true, 80},
		{"1023", false, -1},
		{"1024", false, 1024},
		{"5050", false, 5050},
		{"65535", false, 65535},
		{"65536", false, -1},
		{"65536", true, -1},
		{"99999999999999999999", true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+strconv.FormatBool(tt.privileged), func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPort(tt.text, tt.privileged))
		})
	}
}

func TestFindAvailablePort(t *testing.T) {
	port, err := FindAvailablePort()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 1024)
	assert.LessOrEqual(t, port, 65535)

	s, err := Bind(port)
	require.NoError(t, err)
	_ = s.Close()
}

func TestBind_PortInUse(t *testing.T) {
	ln := bindLoopback(t)

	_, err := Bind(ln.LocalPort())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBindFailed)
}

func TestListenAccept_Timeout(t *testing.T) {
	ln := bindLoopback(t)

	start := time.Now()
	_, _, _, err := ln.ListenAccept(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrListenTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListenAccept_AfterClose(t *testing.T) {
	ln, err := Bind(0)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, _, _, err = ln.ListenAccept(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialSendReceive(t *testing.T) {
	ln := bindLoopback(t)
	port := strconv.Itoa(ln.LocalPort())

	client, err := Dial(context.Background(), "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, ip, remotePort := acceptOne(t, ln)
	assert.Equal(t, "127.0.0.1", ip)
	_, seen := server.RemoteAddr()
	assert.Equal(t, seen, remotePort)
	assert.Equal(t, client.LocalPort(), remotePort)

	require.NoError(t, client.Send([]byte("HELLO")))
	got, err := server.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(got))

	require.NoError(t, server.Send([]byte("100 OK\r\n")))
	got, err = client.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "100 OK\r\n", string(got))
}

func TestReceive_Timeout(t *testing.T) {
	ln := bindLoopback(t)
	client, err := Dial(context.Background(), "127.0.0.1", strconv.Itoa(ln.LocalPort()), time.Second)
	require.NoError(t, err)
	defer client.Close()
	acceptOne(t, ln)

	_, err = client.Receive(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)
}

func TestReceive_PeerClosed(t *testing.T) {
	ln := bindLoopback(t)
	client, err := Dial(context.Background(), "127.0.0.1", strconv.Itoa(ln.LocalPort()), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, _, _ := acceptOne(t, ln)
	require.NoError(t, server.Close())

	_, err = client.Receive(time.Second)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestDial_Refused(t *testing.T) {
	ln, err := Bind(0)
	require.NoError(t, err)
	port := strconv.Itoa(ln.LocalPort())
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "127.0.0.1", port, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectRefused)
}

func TestDial_ResolutionFailure(t *testing.T) {
	_, err := Dial(context.Background(), "no-such-host.invalid", "5050", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolution)
}

func TestClose_Idempotent(t *testing.T) {
	ln := bindLoopback(t)
	client, err := Dial(context.Background(), "127.0.0.1", strconv.Itoa(ln.LocalPort()), time.Second)
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	assert.NotPanics(t, func() { _ = client.Close() })

	assert.ErrorIs(t, client.Send([]byte("x")), ErrSendFailed)
}
