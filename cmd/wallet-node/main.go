package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/keystore"
	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/node"
	"github.com/stars-network/frost-wallet-go/pkg/persistence"
	persistenceBadger "github.com/stars-network/frost-wallet-go/pkg/persistence/badger"
	persistenceMemory "github.com/stars-network/frost-wallet-go/pkg/persistence/memory"
	persistenceRedis "github.com/stars-network/frost-wallet-go/pkg/persistence/redis"
	"github.com/stars-network/frost-wallet-go/pkg/ui"
)

func main() {
	app := &cli.App{
		Name:  "wallet-node",
		Usage: "Distributed threshold-signing wallet node",
		Description: `A wallet node that participates in threshold cryptography ceremonies.

This node implements:
- Two-round FROST Distributed Key Generation (DKG)
- Two-round FROST threshold signing over secp256k1 and ed25519
- Peer-to-peer data-channel mesh with perfect negotiation
- Encrypted at-rest keystore for wallet shares`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "relay-url",
				Aliases:  []string{"relay"},
				Usage:    "Rendezvous relay server address (host:port)",
				EnvVars:  []string{config.EnvRelayURL},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "device-id",
				Aliases: []string{"id"},
				Usage:   "Device identity (generated if absent)",
				EnvVars: []string{config.EnvDeviceID},
			},
			&cli.StringFlag{
				Name:    "keystore-path",
				Usage:   "Directory for encrypted wallet files",
				Value:   "./wallet-data/keystore",
				EnvVars: []string{config.EnvKeystorePath},
			},
			&cli.StringFlag{
				Name:    "wallet-password",
				Usage:   "Password protecting the keystore",
				EnvVars: []string{config.EnvWalletPassword},
			},
			&cli.IntFlag{
				Name:    "pbkdf2-iterations",
				Usage:   "PBKDF2 iteration count (clamped to [100000, 1000000])",
				Value:   config.DefaultPBKDF2Iterations,
				EnvVars: []string{config.EnvPBKDF2Iterations},
			},
			&cli.StringFlag{
				Name:    "curve",
				Usage:   "Default curve for proposed DKG sessions: 'secp256k1' or 'ed25519'",
				Value:   "secp256k1",
			},
			&cli.DurationFlag{
				Name:  "session-timeout",
				Usage: "Deadline for session negotiation and mesh bring-up",
				Value: config.DefaultSessionTimeout,
			},
			&cli.DurationFlag{
				Name:  "round-timeout",
				Usage: "Per-round DKG deadline",
				Value: config.DefaultRoundTimeout,
			},
			&cli.DurationFlag{
				Name:  "signing-timeout",
				Usage: "Per-phase signing deadline",
				Value: config.DefaultSigningTimeout,
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Usage:   "Node-state backend: 'memory' (testing only), 'badger' (local disk), or 'redis' (distributed)",
				Value:   "badger",
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "persistence-data-path",
				Usage:   "Data directory for Badger persistence",
				Value:   "./wallet-data/state",
				EnvVars: []string{config.EnvPersistencePath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port) for Redis persistence",
				Value:   "localhost:6379",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password (optional)",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number (0-15)",
				Value:   0,
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runWalletNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runWalletNode(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	nodeConfig, err := parseNodeConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := nodeConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ks, err := keystore.Open(nodeConfig.KeystorePath, nodeConfig.PBKDF2Iterations, l)
	if err != nil {
		l.Sugar().Fatalw("Failed to open keystore", "error", err)
	}

	var stateStore persistence.INodeStateStore
	switch nodeConfig.Persistence.Type {
	case "badger":
		stateStore, err = persistenceBadger.NewBadgerStore(nodeConfig.Persistence.DataPath, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to create Badger persistence", "error", err)
		}
		l.Sugar().Infow("Using Badger persistence", "path", nodeConfig.Persistence.DataPath)
	case "redis":
		stateStore, err = persistenceRedis.NewRedisStore(&persistenceRedis.RedisConfig{
			Address:  nodeConfig.Persistence.RedisConfig.Address,
			Password: nodeConfig.Persistence.RedisConfig.Password,
			DB:       nodeConfig.Persistence.RedisConfig.DB,
		}, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to create Redis persistence", "error", err)
		}
		l.Sugar().Infow("Using Redis persistence", "address", nodeConfig.Persistence.RedisConfig.Address)
	default:
		stateStore = persistenceMemory.NewMemoryStore()
		l.Sugar().Warn("Using in-memory persistence - node state will be lost on restart")
	}
	defer func() { _ = stateStore.Close() }()

	if err := stateStore.HealthCheck(); err != nil {
		l.Sugar().Fatalw("Persistence health check failed", "error", err)
	}

	notifier := ui.NewChannelNotifier(256)
	go drainNotifications(notifier, l)

	n, err := node.NewNode(nodeConfig, node.Options{
		Keystore:   ks,
		StateStore: stateStore,
		Notifier:   notifier,
		Logger:     l,
	})
	if err != nil {
		l.Sugar().Fatalw("Failed to create node", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l.Sugar().Infow("Starting wallet node",
		"device_id", nodeConfig.DeviceID,
		"relay", nodeConfig.RelayURL,
		"keystore", nodeConfig.KeystorePath)

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("node terminated: %w", err)
	}
	return nil
}

// drainNotifications logs notifications and auto-replies to confirmation
// requests when no interactive front-end is attached.
func drainNotifications(notifier *ui.ChannelNotifier, l *zap.Logger) {
	for {
		select {
		case n := <-notifier.Notifications():
			l.Sugar().Debugw("Notification", "kind", fmt.Sprintf("%T", n))
		case req := <-notifier.Confirmations():
			// Headless runs approve nothing by default.
			l.Sugar().Warnw("Rejecting signing request without interactive approval",
				"signing_id", req.SigningID, "wallet_id", req.WalletID)
			req.Reply <- false
		}
	}
}

func parseNodeConfig(c *cli.Context) (*config.NodeConfig, error) {
	curveType, err := config.ParseCurveType(c.String("curve"))
	if err != nil {
		return nil, err
	}

	persistenceConfig := config.PersistenceConfig{
		Type:     c.String("persistence-type"),
		DataPath: c.String("persistence-data-path"),
	}
	if persistenceConfig.Type == "redis" {
		persistenceConfig.RedisConfig = &config.RedisConfig{
			Address:  c.String("redis-address"),
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		}
	}

	return &config.NodeConfig{
		RelayURL:         c.String("relay-url"),
		DeviceID:         c.String("device-id"),
		KeystorePath:     c.String("keystore-path"),
		WalletPassword:   c.String("wallet-password"),
		PBKDF2Iterations: c.Int("pbkdf2-iterations"),
		SessionTimeout:   c.Duration("session-timeout"),
		RoundTimeout:     c.Duration("round-timeout"),
		SigningTimeout:   c.Duration("signing-timeout"),
		DefaultCurve:     curveType,
		Persistence:      persistenceConfig,
		Debug:            c.Bool("verbose"),
	}, nil
}
