package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/micropay/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server host
//	-p string   server port
//	-u string   username
//	-P string   p2p port ("0" picks one)
//	-w int      payment verification timeout in seconds
//	-l string   log level
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-u", "-P", "-w", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerHost, "a", cfg.ServerHost, "server host")
	fs.StringVar(&cfg.ServerPort, "p", cfg.ServerPort, "server port")
	fs.StringVar(&cfg.Username, "u", cfg.Username, "username")
	fs.StringVar(&cfg.P2PPort, "P", cfg.P2PPort, "p2p port")
	verifyTimeout := fs.Int("w", int(cfg.VerifyTimeout.Seconds()), "payment verification timeout (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.VerifyTimeout = time.Duration(*verifyTimeout) * time.Second
}
