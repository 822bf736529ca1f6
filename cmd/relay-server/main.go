package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/relay"
)

func main() {
	app := &cli.App{
		Name:    "relay-server",
		Usage:   "Rendezvous relay switchboard for wallet nodes",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address",
				Value:   "0.0.0.0:9000",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Action: runRelayServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runRelayServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	server := relay.NewServer(l)
	addr, err := server.Listen(c.String("listen"))
	if err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}
	defer func() { _ = server.Close() }()

	l.Sugar().Infow("Relay server running", "addr", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	l.Sugar().Info("Shutdown signal received, terminating")
	return nil
}
