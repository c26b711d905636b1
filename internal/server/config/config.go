// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
)

// Config holds runtime settings for the directory server.
//
// Fields:
//   - Port: TCP port clients connect to.
//   - PrivateKeyFile / PublicKeyFile: PEM files of the server identity,
//     generated with KeyBits bits when either is missing.
//   - PollTimeout: how long one accept wait lasts before the stop signal is checked.
//   - ReceiveTimeout: per-read wait inside each connection handler.
//   - RateLimit / RateBurst: per-connection message rate.
//   - MetricsAddr: Prometheus /metrics listen address, disabled when empty.
//   - HealthAddr: gRPC health listen address, disabled when empty.
//   - LogLevel: debug, info, warn or error.
//   - ShowOnline: log the online table after each login, register and exit.
type Config struct {
	Port           string
	PrivateKeyFile string
	PublicKeyFile  string
	KeyBits        int
	PollTimeout    time.Duration
	ReceiveTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	MaxConnections int
	MetricsAddr    string
	HealthAddr     string
	LogLevel       string
	ShowOnline     bool
}

// LoadDefaults populates Config with defaults suitable for running locally.
func (c *Config) LoadDefaults() {
	c.Port = "5050"
	c.PrivateKeyFile = "server_private.pem"
	c.PublicKeyFile = "server_public.pem"
	c.KeyBits = cryptox.DefaultKeyBits
	c.PollTimeout = 1 * time.Second
	c.ReceiveTimeout = 5 * time.Second
	c.RateLimit = 50
	c.RateBurst = 100
	c.MaxConnections = 0
	c.MetricsAddr = ""
	c.HealthAddr = ""
	c.LogLevel = "info"
	c.ShowOnline = false
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
