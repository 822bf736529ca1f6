package persistence

import "time"

// NodeState is the node's durable operational state
type NodeState struct {
	DeviceID      string    `json:"device_id"`
	LastSessionID string    `json:"last_session_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Ceremony outcomes recorded in the session journal
const (
	OutcomeFinalized  = "finalized"
	OutcomeAggregated = "aggregated"
	OutcomeFailed     = "failed"
)

// SessionRecord journals one completed or failed ceremony
type SessionRecord struct {
	SessionID    string    `json:"session_id"`
	Kind         string    `json:"kind"`
	CurveType    string    `json:"curve_type"`
	Participants []string  `json:"participants"`
	WalletID     string    `json:"wallet_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
