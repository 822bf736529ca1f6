// Package node hosts the orchestrator: a single-owner command loop that
// wires the relay, the peer mesh, the session coordinator, the protocol
// engines, and the keystore. All mutable state lives here and is touched
// only from the loop; I/O tasks translate bytes into commands.
package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/dkg"
	"github.com/stars-network/frost-wallet-go/pkg/keystore"
	"github.com/stars-network/frost-wallet-go/pkg/mesh"
	"github.com/stars-network/frost-wallet-go/pkg/persistence"
	"github.com/stars-network/frost-wallet-go/pkg/relay"
	"github.com/stars-network/frost-wallet-go/pkg/session"
	"github.com/stars-network/frost-wallet-go/pkg/signing"
	"github.com/stars-network/frost-wallet-go/pkg/types"
	"github.com/stars-network/frost-wallet-go/pkg/ui"
)

const (
	commandQueueSize  = 512
	maxPeerReconnects = 3
)

// pendingSigning holds the proposer's signing request until the mesh is
// ready to carry it.
type pendingSigning struct {
	signingID  string
	record     *keystore.WalletRecord
	message    []byte
	messageHex string
	blockchain string
	chainID    *uint64
}

// Node is the wallet node orchestrator
type Node struct {
	cfg    *config.NodeConfig
	logger *zap.Logger

	relayClient *relay.Client
	transport   mesh.PeerTransport
	keyStore    *keystore.Keystore
	stateStore  persistence.INodeStateStore
	notifier    ui.Notifier
	rng         io.Reader

	cmdCh       chan Command
	droppedCmds atomic.Uint64
	ctx         context.Context

	// State owned exclusively by the run loop
	coordinator     *session.Coordinator
	meshState       *mesh.Mesh
	dkgEngine       *dkg.Engine
	signEngine      *signing.Engine
	devices         []string
	sessionDeadline time.Time
	activeWallet    *keystore.WalletRecord
	activeSuite     *curve.Suite
	pending         *pendingSigning
	reconnects      map[string]int
	openPeers       map[string]bool
	earlyReady      map[string]string
	protocolStarted bool
}

// Options carries the node's injected dependencies. TransportFactory may
// be nil, in which case a WebRTC transport is created; everything else
// is required.
type Options struct {
	Keystore   *keystore.Keystore
	StateStore persistence.INodeStateStore
	Notifier   ui.Notifier
	// TransportFactory builds the peer transport around the node's
	// event sink. Tests substitute an in-memory fabric here.
	TransportFactory func(sink mesh.EventSink) mesh.PeerTransport
	Logger           *zap.Logger
}

// NewNode creates a node with dependency injection
func NewNode(cfg *config.NodeConfig, opts Options) (*Node, error) {
	if opts.Keystore == nil || opts.StateStore == nil || opts.Notifier == nil || opts.Logger == nil {
		return nil, fmt.Errorf("keystore, state store, notifier, and logger are required")
	}

	n := &Node{
		cfg:         cfg,
		logger:      opts.Logger,
		relayClient: relay.NewClient(cfg.RelayURL, cfg.DeviceID, opts.Logger),
		keyStore:    opts.Keystore,
		stateStore:  opts.StateStore,
		notifier:    opts.Notifier,
		rng:         rand.Reader,
		cmdCh:       make(chan Command, commandQueueSize),
		coordinator: session.NewCoordinator(cfg.DeviceID, opts.Logger),
		openPeers:   make(map[string]bool),
		earlyReady:  make(map[string]string),
	}

	if opts.TransportFactory != nil {
		n.transport = opts.TransportFactory(n.meshSink)
	} else {
		n.transport = mesh.NewWebRTCTransport(
			cfg.DeviceID,
			cfg.StunServers,
			n.sendSignal,
			n.meshSink,
			opts.Logger,
		)
	}
	return n, nil
}

// DeviceID returns this node's identity
func (n *Node) DeviceID() string {
	return n.cfg.DeviceID
}

// DroppedCommands returns the count of lossy inputs discarded under
// backpressure
func (n *Node) DroppedCommands() uint64 {
	return n.droppedCmds.Load()
}

// Submit enqueues a protocol-bearing command; it blocks rather than drop
func (n *Node) Submit(ctx context.Context, cmd Command) error {
	select {
	case n.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues a lossy command, dropping it (and counting the
// drop) under backpressure. Protocol-bearing inputs must use Submit.
func (n *Node) TrySubmit(cmd Command) bool {
	select {
	case n.cmdCh <- cmd:
		return true
	default:
		n.droppedCmds.Add(1)
		return false
	}
}

// sendSignal forwards an outbound WebRTC signal through the relay
func (n *Node) sendSignal(to string, msg *types.SessionMessage) {
	if err := n.relayClient.SendPayload(n.runContext(), to, msg); err != nil {
		n.logger.Sugar().Warnw("Failed to relay signal", "to", to, "error", err)
	}
}

// meshSink translates transport events into commands. Peer traffic is
// protocol-bearing: it blocks rather than drop, which makes the reader
// task yield when the queue is full.
func (n *Node) meshSink(ev mesh.Event) {
	_ = n.Submit(n.runContext(), meshEventCmd{Event: ev})
}

func (n *Node) runContext() context.Context {
	if n.ctx != nil {
		return n.ctx
	}
	return context.Background()
}

// Run starts the relay client and the command loop, blocking until the
// context is cancelled or a fatal error occurs.
func (n *Node) Run(ctx context.Context) error {
	n.ctx = ctx
	n.relayClient.Start(ctx)
	n.notifier.Notify(ui.ConnectionStatus{Connected: true})

	if err := n.stateStore.SaveNodeState(&persistence.NodeState{
		DeviceID:  n.cfg.DeviceID,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}); err != nil {
		n.logger.Sugar().Warnw("Failed to persist node state", "error", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer n.transport.Close()

	n.logger.Sugar().Infow("Wallet node running",
		"device_id", n.cfg.DeviceID, "relay", n.cfg.RelayURL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-n.relayClient.Fatal():
			n.notifier.Notify(ui.ConnectionStatus{Connected: false, Err: err})
			return err

		case msg, ok := <-n.relayClient.Frames():
			if !ok {
				return fmt.Errorf("relay frame stream closed")
			}
			n.apply(relayFrameCmd{Msg: msg})

		case now := <-ticker.C:
			n.apply(tickCmd{Now: now})

		case cmd := <-n.cmdCh:
			n.apply(cmd)
		}
	}
}

// apply dispatches one command with exclusive ownership of the state.
// Effects (relay sends, peer sends, notifications, keystore writes) are
// emitted inline; control returns to the loop before the next command.
func (n *Node) apply(cmd Command) {
	switch c := cmd.(type) {
	case relayFrameCmd:
		n.handleRelayFrame(c.Msg)
	case meshEventCmd:
		n.handleMeshEvent(c.Event)
	case ProposeSessionCmd:
		n.reply(c.Done, n.handlePropose(c))
	case AcceptSessionCmd:
		n.reply(c.Done, n.handleAccept(c.SessionID))
	case RejectSessionCmd:
		n.reply(c.Done, n.handleReject(c.SessionID))
	case StartSigningCmd:
		n.reply(c.Done, n.handleStartSigning(c))
	case tickCmd:
		n.handleTick(c.Now)
	default:
		n.logger.Sugar().Warnw("Unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

func (n *Node) reply(done chan error, err error) {
	if err != nil {
		n.logger.Sugar().Warnw("Command failed", "error", err)
	}
	if done != nil {
		done <- err
	}
}
