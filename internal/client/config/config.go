package config

import (
	"time"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
)

// Config holds runtime settings for the micropay client.
//
// Fields:
//   - ServerHost / ServerPort: where the directory server listens.
//   - Username: account used by the REPL's login when no name is given.
//   - P2PPort: port for incoming payments; "0" picks a free one.
//   - PrivateKeyFile / PublicKeyFile / KeyBits: the client identity.
//   - ConnectTimeout, ReceiveTimeout, VerifyTimeout: network waits.
//   - ListenPoll: how often the payment listener checks for shutdown.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	ServerHost     string
	ServerPort     string
	Username       string
	P2PPort        string
	PrivateKeyFile string
	PublicKeyFile  string
	KeyBits        int
	ConnectTimeout time.Duration
	ReceiveTimeout time.Duration
	VerifyTimeout  time.Duration
	ListenPoll     time.Duration
	LogLevel       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerHost = "localhost"
	c.ServerPort = "5050"
	c.Username = ""
	c.P2PPort = "0"
	c.PrivateKeyFile = "private.pem"
	c.PublicKeyFile = "public.pem"
	c.KeyBits = cryptox.DefaultKeyBits
	c.ConnectTimeout = 5 * time.Second
	c.ReceiveTimeout = 5 * time.Second
	c.VerifyTimeout = 5 * time.Second
	c.ListenPoll = 500 * time.Millisecond
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
