package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stars-network/frost-wallet-go/pkg/persistence"
)

// MemoryStore is an in-memory implementation of INodeStateStore.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and lost when the process exits.
// Thread-safe using sync.RWMutex; deep copies prevent external mutation.
type MemoryStore struct {
	mu sync.RWMutex

	nodeState *persistence.NodeState
	sessions  map[string]*persistence.SessionRecord
	closed    bool
}

// NewMemoryStore creates a new in-memory node-state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*persistence.SessionRecord),
	}
}

// SaveNodeState persists node operational state.
func (m *MemoryStore) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	stateCopy := *state
	m.nodeState = &stateCopy
	return nil
}

// LoadNodeState retrieves node operational state.
func (m *MemoryStore) LoadNodeState() (*persistence.NodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	if m.nodeState == nil {
		return nil, nil // Not found is not an error (first run)
	}

	stateCopy := *m.nodeState
	return &stateCopy, nil
}

// SaveSessionRecord journals a completed ceremony.
func (m *MemoryStore) SaveSessionRecord(record *persistence.SessionRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SessionRecord")
	}
	if record.SessionID == "" {
		return fmt.Errorf("cannot save SessionRecord without session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.sessions[record.SessionID] = deepCopySessionRecord(record)
	return nil
}

// LoadSessionRecord retrieves a journal entry by session id.
func (m *MemoryStore) LoadSessionRecord(sessionID string) (*persistence.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	record, exists := m.sessions[sessionID]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return deepCopySessionRecord(record), nil
}

// ListSessionRecords returns all journal entries sorted by completion time.
func (m *MemoryStore) ListSessionRecords() ([]*persistence.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*persistence.SessionRecord, 0, len(m.sessions))
	for _, record := range m.sessions {
		result = append(result, deepCopySessionRecord(record))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].SessionID < result[j].SessionID
		}
		return result[i].CompletedAt.Before(result[j].CompletedAt)
	})
	return result, nil
}

// DeleteSessionRecord removes a journal entry.
func (m *MemoryStore) DeleteSessionRecord(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.sessions, sessionID)
	return nil
}

// Close shuts down the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

func deepCopySessionRecord(r *persistence.SessionRecord) *persistence.SessionRecord {
	if r == nil {
		return nil
	}
	recordCopy := *r
	recordCopy.Participants = append([]string(nil), r.Participants...)
	return &recordCopy
}
