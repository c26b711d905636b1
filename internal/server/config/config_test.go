package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "5050", c.Port)
	assert.Equal(t, "server_private.pem", c.PrivateKeyFile)
	assert.Equal(t, "server_public.pem", c.PublicKeyFile)
	assert.Equal(t, 2048, c.KeyBits)
	assert.Equal(t, 1*time.Second, c.PollTimeout)
	assert.Equal(t, 5*time.Second, c.ReceiveTimeout)
	assert.InDelta(t, 50, c.RateLimit, 0)
	assert.Equal(t, 100, c.RateBurst)
	assert.Empty(t, c.MetricsAddr)
	assert.Empty(t, c.HealthAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.ShowOnline)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"server"}

	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, c)
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, "", "", map[string]any{
		"port":      "6000",
		"log_level": "debug",
	})
	os.Args = []string{"server", "-c", path, "-p", "7000"}

	c := LoadConfig()

	assert.Equal(t, "7000", c.Port)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "server_private.pem", c.PrivateKeyFile)
}
