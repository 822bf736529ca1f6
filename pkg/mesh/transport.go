// Package mesh manages the all-to-all peer data-channel fabric a session
// runs on: per-peer negotiated connections, the perfect-negotiation
// bring-up discipline, and the mesh-ready barrier that gates protocol
// start.
package mesh

import (
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// Event is a transport-level occurrence forwarded to the orchestrator.
// Transports never mutate session state; they only emit events.
type Event interface {
	isMeshEvent()
}

// ChannelOpenEvent fires when a peer's data channel reports open
type ChannelOpenEvent struct {
	PeerID string
}

func (ChannelOpenEvent) isMeshEvent() {}

// ChannelClosedEvent fires when a peer connection fails or closes
type ChannelClosedEvent struct {
	PeerID string
	Err    error
}

func (ChannelClosedEvent) isMeshEvent() {}

// PeerMessageEvent carries a raw inbound data-channel payload
type PeerMessageEvent struct {
	PeerID  string
	Payload []byte
}

func (PeerMessageEvent) isMeshEvent() {}

// SignalSender forwards an outbound WebRTC signal through the relay
type SignalSender func(to string, msg *types.SessionMessage)

// EventSink receives transport events. Implementations must be safe to
// call from any goroutine; the orchestrator's sink enqueues commands.
type EventSink func(ev Event)

// PeerTransport is the per-peer connection fabric. The orchestrator keeps
// only peer identifiers; connections and their reader tasks live inside
// the transport.
type PeerTransport interface {
	// EnsurePeer creates the connection to a peer if absent and, when
	// this side is the designated offerer, starts negotiation.
	EnsurePeer(peerID string) error
	// HandleSignal applies a WebRTC signal received through the relay.
	HandleSignal(from string, msg *types.SessionMessage) error
	// Send transmits a payload on the peer's open data channel.
	Send(peerID string, payload []byte) error
	// ClosePeer tears down one peer connection.
	ClosePeer(peerID string)
	// Close tears down every peer connection.
	Close()
}
