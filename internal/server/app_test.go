package server

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/micropay/internal/channel"
	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/logging"
	"github.com/dmitrijs2005/micropay/internal/server/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	c := &config.Config{}
	c.LoadDefaults()
	c.Port = "0"
	c.KeyBits = 1024
	c.PrivateKeyFile = filepath.Join(dir, "server_private.pem")
	c.PublicKeyFile = filepath.Join(dir, "server_public.pem")
	c.PollTimeout = 20 * time.Millisecond
	c.ReceiveTimeout = 200 * time.Millisecond
	return c
}

func TestApp_RunServesAndStops(t *testing.T) {
	c := testConfig(t)
	c.MetricsAddr = "127.0.0.1:0"
	c.HealthAddr = "127.0.0.1:0"

	app, err := newApp(c, logging.NopLogger{}, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.FileExists(t, c.PrivateKeyFile)
	assert.FileExists(t, c.PublicKeyFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-app.Ready():
	case err := <-done:
		t.Fatalf("app exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not start")
	}
	require.NoError(t, app.BindErr())

	ch, err := channel.Dial(ctx, "127.0.0.1", strconv.Itoa(app.Port()), time.Second)
	require.NoError(t, err)
	defer ch.Close()

	pub, err := ch.ClientHandshake(2 * time.Second)
	require.NoError(t, err)

	kp, err := cryptox.LoadKeyPair(c.PrivateKeyFile)
	require.NoError(t, err)
	assert.Equal(t, kp.Public.N, pub.N, "handshake advertises the persisted key")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop within timeout after context cancel")
	}
}

func TestNewApp_InvalidPort(t *testing.T) {
	c := testConfig(t)
	c.Port = "not-a-port"

	_, err := newApp(c, logging.NopLogger{}, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestApp_RunFailsWhenHealthAddrIsBad(t *testing.T) {
	c := testConfig(t)
	c.HealthAddr = "127.0.0.1:99999"

	app, err := newApp(c, logging.NopLogger{}, prometheus.NewRegistry())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "health server")
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after health server failure")
	}
}
