package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	defaults := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		return c
	}

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-p", "6060", "-k", "priv.pem", "-K", "pub.pem", "-t", "9",
			"-m", ":9100", "-g", ":9101", "-l", "debug", "-s",
		}, expected: func() *Config {
			c := defaults()
			c.Port = "6060"
			c.PrivateKeyFile = "priv.pem"
			c.PublicKeyFile = "pub.pem"
			c.ReceiveTimeout = 9 * time.Second
			c.MetricsAddr = ":9100"
			c.HealthAddr = ":9101"
			c.LogLevel = "debug"
			c.ShowOnline = true
			return c
		}()},
		{name: "bool flag does not eat the next value", args: []string{"cmd", "-s", "-p", "6061"},
			expected: func() *Config {
				c := defaults()
				c.ShowOnline = true
				c.Port = "6061"
				return c
			}()},
		{name: "unknown flags are ignored", args: []string{"cmd", "-x", "1", "-p", "6062"},
			expected: func() *Config {
				c := defaults()
				c.Port = "6062"
				return c
			}()},
		{name: "bad int panics", args: []string{"cmd", "-t", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := defaults()

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
