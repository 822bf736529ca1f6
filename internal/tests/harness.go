// Package tests provides the multi-node harness used by the integration
// suite: an in-process relay server, in-memory peer transports, and a
// notifier that records every push from the core.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/keystore"
	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/mesh"
	"github.com/stars-network/frost-wallet-go/pkg/node"
	"github.com/stars-network/frost-wallet-go/pkg/persistence/memory"
	"github.com/stars-network/frost-wallet-go/pkg/relay"
	"github.com/stars-network/frost-wallet-go/pkg/ui"
)

// TestPassword protects every harness keystore
const TestPassword = "integration test password"

// RecordingNotifier captures notifications and auto-approves signing
// confirmations.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []ui.Notification

	Invites   chan ui.SessionInvite
	DKGDone   chan ui.DKGComplete
	SignDone  chan ui.SigningComplete
	Errors    chan ui.ErrorNotice
	Approve   bool
}

// NewRecordingNotifier creates a notifier for one harness node
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{
		Invites:  make(chan ui.SessionInvite, 16),
		DKGDone:  make(chan ui.DKGComplete, 4),
		SignDone: make(chan ui.SigningComplete, 4),
		Errors:   make(chan ui.ErrorNotice, 16),
		Approve:  true,
	}
}

// Notify implements ui.Notifier
func (r *RecordingNotifier) Notify(n ui.Notification) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()

	switch ev := n.(type) {
	case ui.SessionInvite:
		if !ev.Removed {
			select {
			case r.Invites <- ev:
			default:
			}
		}
	case ui.DKGComplete:
		r.DKGDone <- ev
	case ui.SigningComplete:
		r.SignDone <- ev
	case ui.ErrorNotice:
		select {
		case r.Errors <- ev:
		default:
		}
	}
}

// Confirm implements ui.Notifier
func (r *RecordingNotifier) Confirm(ui.ConfirmationRequest, time.Duration) bool {
	return r.Approve
}

// HarnessNode bundles one wallet node with its observable surfaces
type HarnessNode struct {
	Node     *node.Node
	Notifier *RecordingNotifier
	Keystore *keystore.Keystore
	DeviceID string
}

// Harness wires N wallet nodes to a shared relay and in-memory mesh
type Harness struct {
	Relay  *relay.Server
	Hub    *mesh.MemHub
	Nodes  map[string]*HarnessNode
	cancel context.CancelFunc
}

// NewHarness starts a relay server plus one running node per device id
func NewHarness(t *testing.T, deviceIDs ...string) *Harness {
	t.Helper()
	l := logger.NewNopLogger()

	server := relay.NewServer(l)
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		Relay:  server,
		Hub:    mesh.NewMemHub(),
		Nodes:  make(map[string]*HarnessNode),
		cancel: cancel,
	}
	t.Cleanup(func() {
		cancel()
		_ = server.Close()
	})

	for _, deviceID := range deviceIDs {
		cfg := &config.NodeConfig{
			RelayURL:       addr,
			DeviceID:       deviceID,
			KeystorePath:   t.TempDir(),
			WalletPassword: TestPassword,
			SessionTimeout: 30 * time.Second,
			RoundTimeout:   30 * time.Second,
			SigningTimeout: 30 * time.Second,
			Persistence:    config.PersistenceConfig{Type: "memory"},
		}
		require.NoError(t, cfg.Validate())
		// Iteration floor keeps key derivation out of the test budget.
		cfg.PBKDF2Iterations = config.MinPBKDF2Iterations

		ks, err := keystore.Open(cfg.KeystorePath, cfg.PBKDF2Iterations, l)
		require.NoError(t, err)

		notifier := NewRecordingNotifier()
		deviceID := deviceID
		n, err := node.NewNode(cfg, node.Options{
			Keystore:   ks,
			StateStore: memory.NewMemoryStore(),
			Notifier:   notifier,
			TransportFactory: func(sink mesh.EventSink) mesh.PeerTransport {
				return h.Hub.Transport(deviceID, sink)
			},
			Logger: l,
		})
		require.NoError(t, err)

		h.Nodes[deviceID] = &HarnessNode{
			Node:     n,
			Notifier: notifier,
			Keystore: ks,
			DeviceID: deviceID,
		}
		go func() { _ = n.Run(ctx) }()
	}

	// Give every node a moment to register with the relay.
	time.Sleep(200 * time.Millisecond)
	return h
}

// Submit sends a command to a node and waits for its reply
func (h *Harness) Submit(t *testing.T, deviceID string, cmd node.Command, done chan error) {
	t.Helper()
	hn := h.Nodes[deviceID]
	require.NotNil(t, hn, "unknown harness device %s", deviceID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, hn.Node.Submit(ctx, cmd))

	if done != nil {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatalf("device %s: command reply timed out", deviceID)
		}
	}
}

// AcceptNextInvite waits for an invitation on a device and accepts it
func (h *Harness) AcceptNextInvite(t *testing.T, deviceID string) string {
	t.Helper()
	hn := h.Nodes[deviceID]

	select {
	case invite := <-hn.Notifier.Invites:
		done := make(chan error, 1)
		h.Submit(t, deviceID, node.AcceptSessionCmd{SessionID: invite.Session.SessionID, Done: done}, done)
		return invite.Session.SessionID
	case <-time.After(10 * time.Second):
		t.Fatalf("device %s: no invitation arrived", deviceID)
		return ""
	}
}

// WaitDKGComplete blocks until a device reports a finalized ceremony
func (h *Harness) WaitDKGComplete(t *testing.T, deviceID string) ui.DKGComplete {
	t.Helper()
	select {
	case done := <-h.Nodes[deviceID].Notifier.DKGDone:
		return done
	case err := <-h.Nodes[deviceID].Notifier.Errors:
		t.Fatalf("device %s: ceremony failed: %s (%s)", deviceID, err.Message, err.Kind)
		return ui.DKGComplete{}
	case <-time.After(60 * time.Second):
		t.Fatalf("device %s: DKG did not complete", deviceID)
		return ui.DKGComplete{}
	}
}

// WaitSigningComplete blocks until a device reports an aggregated
// signature
func (h *Harness) WaitSigningComplete(t *testing.T, deviceID string) ui.SigningComplete {
	t.Helper()
	select {
	case done := <-h.Nodes[deviceID].Notifier.SignDone:
		return done
	case err := <-h.Nodes[deviceID].Notifier.Errors:
		t.Fatalf("device %s: signing failed: %s (%s)", deviceID, err.Message, err.Kind)
		return ui.SigningComplete{}
	case <-time.After(60 * time.Second):
		t.Fatalf("device %s: signing did not complete", deviceID)
		return ui.SigningComplete{}
	}
}
