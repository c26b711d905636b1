package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/micropay/internal/buildinfo"
	"github.com/dmitrijs2005/micropay/internal/client/cli"
	"github.com/dmitrijs2005/micropay/internal/client/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stderr)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("client error: %v", err)
		os.Exit(1)
	}

}
