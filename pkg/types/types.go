package types

import (
	"fmt"

	"github.com/stars-network/frost-wallet-go/pkg/config"
)

// SessionKindTag distinguishes DKG from signing sessions on the wire
const (
	SessionKindDKG     = "DKG"
	SessionKindSigning = "Signing"
)

// SigningParams carries the wallet binding for a signing-kind session
type SigningParams struct {
	WalletName     string `json:"wallet_name"`
	CurveType      string `json:"curve_type"`
	Blockchain     string `json:"blockchain"`
	GroupPublicKey string `json:"group_public_key"`
}

// SessionKind is the adjacently tagged session type carried in proposals:
// {"type":"DKG"} or {"type":"Signing","data":{...}}
type SessionKind struct {
	Type string         `json:"type"`
	Data *SigningParams `json:"data,omitempty"`
}

// DKGKind returns the session kind for a key-generation ceremony
func DKGKind() SessionKind {
	return SessionKind{Type: SessionKindDKG}
}

// SigningKind returns the session kind for a signing ceremony over an
// existing wallet
func SigningKind(params SigningParams) SessionKind {
	return SessionKind{Type: SessionKindSigning, Data: &params}
}

// Curve extracts the curve tag a session runs on. DKG proposals carry no
// curve and yield CurveTypeUnknown, so the receiving device falls back to
// its own configured default; signing proposals name it explicitly.
func (k SessionKind) Curve() (config.CurveType, error) {
	if k.Type == SessionKindSigning {
		if k.Data == nil {
			return config.CurveTypeUnknown, fmt.Errorf("signing session missing parameters")
		}
		return config.ParseCurveType(k.Data.CurveType)
	}
	return config.CurveTypeUnknown, nil
}

// SessionInfo is the ceremony unit tracked by the coordinator
type SessionInfo struct {
	SessionID       string      `json:"session_id"`
	ProposerID      string      `json:"proposer_id"`
	Total           uint16      `json:"total"`
	Threshold       uint16      `json:"threshold"`
	Participants    []string    `json:"participants"`
	AcceptedDevices []string    `json:"accepted_devices"`
	Kind            SessionKind `json:"session_type"`
	CurveType       config.CurveType
}

// WalletStatus reports whether a device holds a usable share of the wallet
// named by a signing proposal
type WalletStatus struct {
	HasWallet   bool    `json:"has_wallet"`
	WalletValid bool    `json:"wallet_valid"`
	Identifier  *uint16 `json:"identifier,omitempty"`
	ErrorReason *string `json:"error_reason,omitempty"`
}

// SDPInfo carries a session description through the relay
type SDPInfo struct {
	SDP string `json:"sdp"`
}

// CandidateInfo carries a trickled ICE candidate through the relay
type CandidateInfo struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
