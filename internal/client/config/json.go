package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/micropay/internal/flagx"
	"github.com/dmitrijs2005/micropay/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerHost     string         `json:"server_host"`
	ServerPort     string         `json:"server_port"`
	Username       string         `json:"username"`
	P2PPort        string         `json:"p2p_port"`
	PrivateKeyFile string         `json:"private_key_file"`
	PublicKeyFile  string         `json:"public_key_file"`
	KeyBits        int            `json:"key_bits"`
	ConnectTimeout timex.Duration `json:"connect_timeout"`
	ReceiveTimeout timex.Duration `json:"receive_timeout"`
	VerifyTimeout  timex.Duration `json:"verify_timeout"`
	ListenPoll     timex.Duration `json:"listen_poll"`
	LogLevel       string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies fields that are present (non-zero) into the provided Config.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	for dst, v := range map[*string]string{
		&cfg.ServerHost:     jc.ServerHost,
		&cfg.ServerPort:     jc.ServerPort,
		&cfg.Username:       jc.Username,
		&cfg.P2PPort:        jc.P2PPort,
		&cfg.PrivateKeyFile: jc.PrivateKeyFile,
		&cfg.PublicKeyFile:  jc.PublicKeyFile,
		&cfg.LogLevel:       jc.LogLevel,
	} {
		if v != "" {
			*dst = v
		}
	}
	if jc.KeyBits > 0 {
		cfg.KeyBits = jc.KeyBits
	}
	if jc.ConnectTimeout.Duration > 0 {
		cfg.ConnectTimeout = jc.ConnectTimeout.Duration
	}
	if jc.ReceiveTimeout.Duration > 0 {
		cfg.ReceiveTimeout = jc.ReceiveTimeout.Duration
	}
	if jc.VerifyTimeout.Duration > 0 {
		cfg.VerifyTimeout = jc.VerifyTimeout.Duration
	}
	if jc.ListenPoll.Duration > 0 {
		cfg.ListenPoll = jc.ListenPoll.Duration
	}
}
