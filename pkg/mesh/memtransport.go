package mesh

import (
	"fmt"
	"sync"

	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// MemHub wires MemTransports together in process, replacing the WebRTC
// fabric in tests. A pair's channel opens once both sides have called
// EnsurePeer, mirroring the both-ends handshake of real bring-up.
type MemHub struct {
	mu         sync.Mutex
	transports map[string]*MemTransport
	ensured    map[string]map[string]bool
}

// NewMemHub creates an in-memory transport hub
func NewMemHub() *MemHub {
	return &MemHub{
		transports: make(map[string]*MemTransport),
		ensured:    make(map[string]map[string]bool),
	}
}

// Transport creates (or returns) the hub endpoint for a device
func (h *MemHub) Transport(deviceID string, sink EventSink) *MemTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.transports[deviceID]; ok {
		t.sink = sink
		return t
	}
	t := &MemTransport{hub: h, selfID: deviceID, sink: sink, open: make(map[string]bool)}
	h.transports[deviceID] = t
	h.ensured[deviceID] = make(map[string]bool)
	return t
}

// MemTransport is the in-memory PeerTransport endpoint for one device
type MemTransport struct {
	hub    *MemHub
	selfID string
	sink   EventSink

	mu   sync.Mutex
	open map[string]bool
}

// EnsurePeer marks this side ready; when the counterpart has done the
// same, both sides observe ChannelOpen.
func (t *MemTransport) EnsurePeer(peerID string) error {
	if peerID == t.selfID {
		return fmt.Errorf("cannot connect to self")
	}

	t.hub.mu.Lock()
	t.hub.ensured[t.selfID][peerID] = true
	remote := t.hub.transports[peerID]
	bothReady := remote != nil && t.hub.ensured[peerID][t.selfID]
	t.hub.mu.Unlock()

	if !bothReady {
		return nil
	}

	t.mu.Lock()
	alreadyOpen := t.open[peerID]
	t.open[peerID] = true
	t.mu.Unlock()

	remote.mu.Lock()
	remote.open[t.selfID] = true
	remote.mu.Unlock()

	if !alreadyOpen {
		t.sink(ChannelOpenEvent{PeerID: peerID})
		remote.sink(ChannelOpenEvent{PeerID: t.selfID})
	}
	return nil
}

// HandleSignal is a no-op: the in-memory fabric needs no negotiation
func (t *MemTransport) HandleSignal(string, *types.SessionMessage) error {
	return nil
}

// Send delivers a payload to the remote endpoint's sink
func (t *MemTransport) Send(peerID string, payload []byte) error {
	t.mu.Lock()
	isOpen := t.open[peerID]
	t.mu.Unlock()
	if !isOpen {
		return fmt.Errorf("data channel to %s is not open", peerID)
	}

	t.hub.mu.Lock()
	remote := t.hub.transports[peerID]
	t.hub.mu.Unlock()
	if remote == nil {
		return fmt.Errorf("no peer connection for %s", peerID)
	}

	buf := append([]byte(nil), payload...)
	remote.sink(PeerMessageEvent{PeerID: t.selfID, Payload: buf})
	return nil
}

// ClosePeer drops one peer link on both sides
func (t *MemTransport) ClosePeer(peerID string) {
	t.hub.mu.Lock()
	delete(t.hub.ensured[t.selfID], peerID)
	remote := t.hub.transports[peerID]
	if remote != nil {
		delete(t.hub.ensured[peerID], t.selfID)
	}
	t.hub.mu.Unlock()

	t.mu.Lock()
	wasOpen := t.open[peerID]
	delete(t.open, peerID)
	t.mu.Unlock()

	if remote != nil && wasOpen {
		remote.mu.Lock()
		delete(remote.open, t.selfID)
		remote.mu.Unlock()
		remote.sink(ChannelClosedEvent{PeerID: t.selfID, Err: fmt.Errorf("peer left")})
	}
}

// Close drops every peer link
func (t *MemTransport) Close() {
	t.mu.Lock()
	peers := make([]string, 0, len(t.open))
	for p := range t.open {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		t.ClosePeer(p)
	}
}
