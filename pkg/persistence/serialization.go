package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalNodeState serializes NodeState to JSON bytes.
func MarshalNodeState(ns *NodeState) ([]byte, error) {
	if ns == nil {
		return nil, fmt.Errorf("cannot marshal nil NodeState")
	}
	return json.Marshal(ns)
}

// UnmarshalNodeState deserializes NodeState from JSON bytes.
func UnmarshalNodeState(data []byte) (*NodeState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var ns NodeState
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to NodeState: %w", err)
	}
	return &ns, nil
}

// MarshalSessionRecord serializes a SessionRecord to JSON bytes.
func MarshalSessionRecord(sr *SessionRecord) ([]byte, error) {
	if sr == nil {
		return nil, fmt.Errorf("cannot marshal nil SessionRecord")
	}
	if sr.SessionID == "" {
		return nil, fmt.Errorf("cannot marshal SessionRecord without session id")
	}
	return json.Marshal(sr)
}

// UnmarshalSessionRecord deserializes a SessionRecord from JSON bytes.
func UnmarshalSessionRecord(data []byte) (*SessionRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var sr SessionRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SessionRecord: %w", err)
	}
	return &sr, nil
}
