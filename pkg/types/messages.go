package types

import (
	"encoding/json"
	"fmt"
)

// Relay frame type tags (client to server)
const (
	ClientMsgRegister    = "register"
	ClientMsgListDevices = "list_devices"
	ClientMsgRelay       = "relay"
)

// Relay frame type tags (server to client)
const (
	ServerMsgDevices = "devices"
	ServerMsgRelay   = "relay"
	ServerMsgError   = "error"
)

// ClientMsg is a line-delimited JSON frame sent to the relay server
type ClientMsg struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	To       string          `json:"to,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ServerMsg is a line-delimited JSON frame received from the relay server
type ServerMsg struct {
	Type    string          `json:"type"`
	Devices []string        `json:"devices,omitempty"`
	From    string          `json:"from,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Session message type tags carried in the relay payload
const (
	SessionMsgProposal = "SessionProposal"
	SessionMsgResponse = "SessionResponse"
	SessionMsgSignal   = "WebRTCSignal"
)

// SessionMessage is the relay payload envelope, tagged by
// websocket_msg_type. Proposal and response fields share the top level;
// WebRTC signals nest under their variant key.
type SessionMessage struct {
	Type string `json:"websocket_msg_type"`

	// SessionProposal / SessionResponse
	SessionID    string       `json:"session_id,omitempty"`
	Total        uint16       `json:"total,omitempty"`
	Threshold    uint16       `json:"threshold,omitempty"`
	Participants []string     `json:"participants,omitempty"`
	SessionType  *SessionKind `json:"session_type,omitempty"`
	Accepted     *bool        `json:"accepted,omitempty"`
	WalletStatus *WalletStatus `json:"wallet_status,omitempty"`

	// WebRTCSignal variants
	Offer     *SDPInfo       `json:"Offer,omitempty"`
	Answer    *SDPInfo       `json:"Answer,omitempty"`
	Candidate *CandidateInfo `json:"Candidate,omitempty"`
}

// NewProposalMessage builds a SessionProposal payload
func NewProposalMessage(sessionID string, total, threshold uint16, participants []string, kind SessionKind) *SessionMessage {
	return &SessionMessage{
		Type:         SessionMsgProposal,
		SessionID:    sessionID,
		Total:        total,
		Threshold:    threshold,
		Participants: participants,
		SessionType:  &kind,
	}
}

// NewResponseMessage builds a SessionResponse payload
func NewResponseMessage(sessionID string, accepted bool, status *WalletStatus) *SessionMessage {
	return &SessionMessage{
		Type:         SessionMsgResponse,
		SessionID:    sessionID,
		Accepted:     &accepted,
		WalletStatus: status,
	}
}

// NewOfferMessage builds a WebRTC offer signal payload
func NewOfferMessage(sdp string) *SessionMessage {
	return &SessionMessage{Type: SessionMsgSignal, Offer: &SDPInfo{SDP: sdp}}
}

// NewAnswerMessage builds a WebRTC answer signal payload
func NewAnswerMessage(sdp string) *SessionMessage {
	return &SessionMessage{Type: SessionMsgSignal, Answer: &SDPInfo{SDP: sdp}}
}

// NewCandidateMessage builds a WebRTC ICE candidate signal payload
func NewCandidateMessage(c CandidateInfo) *SessionMessage {
	return &SessionMessage{Type: SessionMsgSignal, Candidate: &c}
}

// DecodeSessionMessage parses a relay payload into its envelope
func DecodeSessionMessage(data []byte) (*SessionMessage, error) {
	var msg SessionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode session message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("session message missing websocket_msg_type tag")
	}
	return &msg, nil
}

// Peer data-channel message type tags
const (
	PeerMsgSimple              = "SimpleMessage"
	PeerMsgChannelOpen         = "ChannelOpen"
	PeerMsgMeshReady           = "MeshReady"
	PeerMsgDkgRound1Package    = "DkgRound1Package"
	PeerMsgDkgRound2Package    = "DkgRound2Package"
	PeerMsgSigningRequest      = "SigningRequest"
	PeerMsgSigningAcceptance   = "SigningAcceptance"
	PeerMsgSignerSelection     = "SignerSelection"
	PeerMsgSigningCommitment   = "SigningCommitment"
	PeerMsgSignatureShare      = "SignatureShare"
	PeerMsgAggregatedSignature = "AggregatedSignature"
)

// PeerMessage is the data-channel payload envelope, tagged by
// webrtc_msg_type. Protocol packages stay raw until the engine that owns
// the session's ciphersuite decodes them.
type PeerMessage struct {
	Type string `json:"webrtc_msg_type"`

	// SimpleMessage
	Text string `json:"text,omitempty"`

	// ChannelOpen / MeshReady
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// DkgRound1Package / DkgRound2Package
	Package json.RawMessage `json:"package,omitempty"`

	// Signing flow
	SigningID        string          `json:"signing_id,omitempty"`
	TransactionData  string          `json:"transaction_data,omitempty"`
	RequiredSigners  int             `json:"required_signers,omitempty"`
	Blockchain       string          `json:"blockchain,omitempty"`
	ChainID          *uint64         `json:"chain_id,omitempty"`
	Accepted         *bool           `json:"accepted,omitempty"`
	SelectedSigners  []uint16        `json:"selected_signers,omitempty"`
	SenderIdentifier uint16          `json:"sender_identifier,omitempty"`
	Commitment       json.RawMessage `json:"commitment,omitempty"`
	Share            json.RawMessage `json:"share,omitempty"`
	Signature        string          `json:"signature,omitempty"`
}

// DecodePeerMessage parses a data-channel payload into its envelope
func DecodePeerMessage(data []byte) (*PeerMessage, error) {
	var msg PeerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode peer message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("peer message missing webrtc_msg_type tag")
	}
	return &msg, nil
}

// Encode marshals a peer message for transmission
func (m *PeerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode peer message: %w", err)
	}
	return data, nil
}
