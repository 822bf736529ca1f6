package mesh

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/types"
)

const dataChannelLabel = "data"

// WebRTCTransport implements PeerTransport over pion/webrtc. Each remote
// device gets one RTCPeerConnection with a single reliable, ordered data
// channel. Bring-up follows perfect negotiation: for any pair the device
// with the lexicographically smaller id is the offerer; the larger id is
// the polite side and rolls back its own in-flight offer on collision.
type WebRTCTransport struct {
	selfID    string
	api       *webrtc.API
	iceConfig webrtc.Configuration
	signalOut SignalSender
	sink      EventSink
	logger    *zap.Logger

	mu    sync.Mutex
	peers map[string]*peerConn
}

// peerConn tracks one remote device's connection and negotiation state
type peerConn struct {
	remoteID string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel

	mu          sync.Mutex
	makingOffer bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
}

// NewWebRTCTransport creates the WebRTC peer transport
func NewWebRTCTransport(selfID string, stunServers []string, signalOut SignalSender, sink EventSink, logger *zap.Logger) *WebRTCTransport {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	return &WebRTCTransport{
		selfID:    selfID,
		api:       webrtc.NewAPI(),
		iceConfig: webrtc.Configuration{ICEServers: iceServers},
		signalOut: signalOut,
		sink:      sink,
		logger:    logger,
		peers:     make(map[string]*peerConn),
	}
}

// isOfferer reports whether this device initiates for the given pair
func (t *WebRTCTransport) isOfferer(remoteID string) bool {
	return t.selfID < remoteID
}

// isPolite reports whether this device yields on offer collision
func (t *WebRTCTransport) isPolite(remoteID string) bool {
	return t.selfID > remoteID
}

// EnsurePeer creates the peer connection if absent. The offerer side also
// creates the data channel and starts negotiation.
func (t *WebRTCTransport) EnsurePeer(peerID string) error {
	if peerID == t.selfID {
		return fmt.Errorf("cannot connect to self")
	}

	t.mu.Lock()
	if _, exists := t.peers[peerID]; exists {
		t.mu.Unlock()
		return nil
	}

	pc, err := t.api.NewPeerConnection(t.iceConfig)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to create peer connection for %s: %w", peerID, err)
	}
	peer := &peerConn{remoteID: peerID, pc: pc}
	t.peers[peerID] = peer
	t.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.signalOut(peerID, types.NewCandidateMessage(types.CandidateInfo{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.sink(ChannelClosedEvent{PeerID: peerID, Err: fmt.Errorf("peer connection %s", state)})
		}
	})

	if t.isOfferer(peerID) {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			return fmt.Errorf("failed to create data channel for %s: %w", peerID, err)
		}
		t.attachChannel(peer, dc)
		if err := t.makeOffer(peer); err != nil {
			return err
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.attachChannel(peer, dc)
		})
	}
	return nil
}

func (t *WebRTCTransport) attachChannel(peer *peerConn, dc *webrtc.DataChannel) {
	peer.mu.Lock()
	peer.dc = dc
	peer.mu.Unlock()

	remoteID := peer.remoteID
	dc.OnOpen(func() {
		t.logger.Sugar().Infow("Data channel open", "peer", remoteID)
		t.sink(ChannelOpenEvent{PeerID: remoteID})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.sink(PeerMessageEvent{PeerID: remoteID, Payload: msg.Data})
	})
	dc.OnClose(func() {
		t.sink(ChannelClosedEvent{PeerID: remoteID, Err: fmt.Errorf("data channel closed")})
	})
}

// makeOffer generates and relays an offer, guarded by the makingOffer
// flag so negotiation never reenters while one is in flight.
func (t *WebRTCTransport) makeOffer(peer *peerConn) error {
	peer.mu.Lock()
	if peer.makingOffer {
		peer.mu.Unlock()
		return nil
	}
	peer.makingOffer = true
	peer.mu.Unlock()

	defer func() {
		peer.mu.Lock()
		peer.makingOffer = false
		peer.mu.Unlock()
	}()

	offer, err := peer.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer for %s: %w", peer.remoteID, err)
	}
	if err := peer.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer for %s: %w", peer.remoteID, err)
	}
	t.signalOut(peer.remoteID, types.NewOfferMessage(offer.SDP))
	t.logger.Sugar().Debugw("Offer sent", "peer", peer.remoteID)
	return nil
}

// HandleSignal applies an inbound WebRTC signal
func (t *WebRTCTransport) HandleSignal(from string, msg *types.SessionMessage) error {
	if err := t.EnsurePeer(from); err != nil {
		return err
	}

	t.mu.Lock()
	peer := t.peers[from]
	t.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("no peer connection for %s", from)
	}

	switch {
	case msg.Offer != nil:
		return t.handleOffer(peer, msg.Offer.SDP)
	case msg.Answer != nil:
		return t.handleAnswer(peer, msg.Answer.SDP)
	case msg.Candidate != nil:
		return t.handleCandidate(peer, *msg.Candidate)
	default:
		return fmt.Errorf("signal from %s carries no variant", from)
	}
}

func (t *WebRTCTransport) handleOffer(peer *peerConn, sdp string) error {
	peer.mu.Lock()
	collision := peer.makingOffer || peer.pc.SignalingState() != webrtc.SignalingStateStable
	polite := t.isPolite(peer.remoteID)
	if collision && !polite {
		// Impolite side: ignore the remote offer, ours wins.
		peer.mu.Unlock()
		t.logger.Sugar().Debugw("Ignoring colliding offer", "peer", peer.remoteID)
		return nil
	}
	if collision {
		// Polite side: roll back the in-flight local offer first.
		if err := peer.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			peer.mu.Unlock()
			return fmt.Errorf("failed to roll back local offer for %s: %w", peer.remoteID, err)
		}
		t.logger.Sugar().Debugw("Rolled back local offer", "peer", peer.remoteID)
	}
	peer.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := peer.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("failed to set remote offer from %s: %w", peer.remoteID, err)
	}
	t.markRemoteSet(peer)

	answer, err := peer.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer for %s: %w", peer.remoteID, err)
	}
	if err := peer.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local answer for %s: %w", peer.remoteID, err)
	}
	t.signalOut(peer.remoteID, types.NewAnswerMessage(answer.SDP))
	t.logger.Sugar().Debugw("Answer sent", "peer", peer.remoteID)
	return nil
}

func (t *WebRTCTransport) handleAnswer(peer *peerConn, sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := peer.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer from %s: %w", peer.remoteID, err)
	}
	t.markRemoteSet(peer)
	return nil
}

// handleCandidate applies a trickled candidate, buffering any that arrive
// before the remote description is set.
func (t *WebRTCTransport) handleCandidate(peer *peerConn, info types.CandidateInfo) error {
	init := webrtc.ICECandidateInit{
		Candidate:     info.Candidate,
		SDPMid:        info.SDPMid,
		SDPMLineIndex: info.SDPMLineIndex,
	}

	peer.mu.Lock()
	if !peer.remoteSet {
		peer.pending = append(peer.pending, init)
		peer.mu.Unlock()
		return nil
	}
	peer.mu.Unlock()

	if err := peer.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add candidate from %s: %w", peer.remoteID, err)
	}
	return nil
}

// markRemoteSet flushes candidates buffered before the remote description
func (t *WebRTCTransport) markRemoteSet(peer *peerConn) {
	peer.mu.Lock()
	peer.remoteSet = true
	pending := peer.pending
	peer.pending = nil
	peer.mu.Unlock()

	for _, init := range pending {
		if err := peer.pc.AddICECandidate(init); err != nil {
			t.logger.Sugar().Warnw("Failed to apply buffered candidate", "peer", peer.remoteID, "error", err)
		}
	}
}

// Send transmits a payload on the peer's data channel
func (t *WebRTCTransport) Send(peerID string, payload []byte) error {
	t.mu.Lock()
	peer := t.peers[peerID]
	t.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("no peer connection for %s", peerID)
	}

	peer.mu.Lock()
	dc := peer.dc
	peer.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel to %s is not open", peerID)
	}
	if err := dc.Send(payload); err != nil {
		return fmt.Errorf("failed to send to %s: %w", peerID, err)
	}
	return nil
}

// ClosePeer tears down one peer connection
func (t *WebRTCTransport) ClosePeer(peerID string) {
	t.mu.Lock()
	peer := t.peers[peerID]
	delete(t.peers, peerID)
	t.mu.Unlock()

	if peer != nil {
		_ = peer.pc.Close()
	}
}

// Close tears down every peer connection
func (t *WebRTCTransport) Close() {
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[string]*peerConn)
	t.mu.Unlock()

	for _, peer := range peers {
		_ = peer.pc.Close()
	}
}
