package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/micropay/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-p string   listen port (e.g., "5050")
//	-k string   private key PEM file
//	-K string   public key PEM file
//	-t int      receive timeout, seconds
//	-m string   metrics listen address (e.g., ":9100")
//	-g string   gRPC health listen address (e.g., ":9101")
//	-l string   log level
//	-s          log the online users table on every change
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgsWithBools, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:], []string{"-p", "-k", "-K", "-t", "-m", "-g", "-l"}, []string{"-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Port, "p", config.Port, "port to listen on")
	fs.StringVar(&config.PrivateKeyFile, "k", config.PrivateKeyFile, "private key file")
	fs.StringVar(&config.PublicKeyFile, "K", config.PublicKeyFile, "public key file")

	receiveTimeout := fs.Int("t", int(config.ReceiveTimeout.Seconds()), "receive timeout (in seconds)")

	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.HealthAddr, "g", config.HealthAddr, "gRPC health address")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.ShowOnline, "s", config.ShowOnline, "show online users")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ReceiveTimeout = time.Duration(*receiveTimeout) * time.Second
}
