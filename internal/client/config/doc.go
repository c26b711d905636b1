// Package config loads runtime configuration for the micropay client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   server host
//	-p string   server port
//	-u string   username
//	-P string   p2p port for incoming payments ("0" picks a free one)
//	-w int      payment verification timeout (seconds)
//	-l string   log level
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_host": "127.0.0.1",
//	  "server_port": "5050",
//	  "p2p_port": "0",
//	  "verify_timeout": "10s",
//	  "listen_poll": "500ms"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
