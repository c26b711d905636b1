package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/micropay/internal/flagx"
	"github.com/dmitrijs2005/micropay/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Only keys present in the file override the current value.
type JsonConfig struct {
	Port           string         `json:"port"`
	PrivateKeyFile string         `json:"private_key_file"`
	PublicKeyFile  string         `json:"public_key_file"`
	KeyBits        int            `json:"key_bits"`
	PollTimeout    timex.Duration `json:"poll_timeout"`
	ReceiveTimeout timex.Duration `json:"receive_timeout"`
	RateLimit      float64        `json:"rate_limit"`
	RateBurst      int            `json:"rate_burst"`
	MaxConnections int            `json:"max_connections"`
	MetricsAddr    string         `json:"metrics_addr"`
	HealthAddr     string         `json:"health_addr"`
	LogLevel       string         `json:"log_level"`
	ShowOnline     *bool          `json:"show_online"`
}

// parseJson loads configuration values from the file named by -c or -config
// into config. Without the flag nothing is loaded. If the file cannot be read
// or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.Port, c.Port)
	setString(&config.PrivateKeyFile, c.PrivateKeyFile)
	setString(&config.PublicKeyFile, c.PublicKeyFile)
	if c.KeyBits > 0 {
		config.KeyBits = c.KeyBits
	}
	if c.PollTimeout.Duration > 0 {
		config.PollTimeout = c.PollTimeout.Duration
	}
	if c.ReceiveTimeout.Duration > 0 {
		config.ReceiveTimeout = c.ReceiveTimeout.Duration
	}
	if c.RateLimit > 0 {
		config.RateLimit = c.RateLimit
	}
	if c.RateBurst > 0 {
		config.RateBurst = c.RateBurst
	}
	if c.MaxConnections > 0 {
		config.MaxConnections = c.MaxConnections
	}
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.HealthAddr, c.HealthAddr)
	setString(&config.LogLevel, c.LogLevel)
	if c.ShowOnline != nil {
		config.ShowOnline = *c.ShowOnline
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
