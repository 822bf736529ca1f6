package persistence

// INodeStateStore persists node operational state across restarts: the
// device's registered identity and the journal of completed ceremonies.
// Wallet secret material never passes through this layer; the keystore
// owns it exclusively.
//
// All implementations must be thread-safe.
type INodeStateStore interface {
	// SaveNodeState persists operational state, overwriting any existing
	// state.
	SaveNodeState(state *NodeState) error

	// LoadNodeState retrieves operational state.
	// Returns nil state if none exists (first run), error only on
	// storage failure.
	LoadNodeState() (*NodeState, error)

	// SaveSessionRecord journals a completed or failed ceremony, indexed
	// by session id. Overwrites any existing record with the same id.
	SaveSessionRecord(record *SessionRecord) error

	// LoadSessionRecord retrieves a journal entry by session id.
	// Returns nil if the record doesn't exist, error only on storage
	// failure.
	LoadSessionRecord(sessionID string) (*SessionRecord, error)

	// ListSessionRecords returns all journal entries sorted by
	// completion time (ascending). Returns an empty slice if none exist.
	ListSessionRecords() ([]*SessionRecord, error)

	// DeleteSessionRecord removes a journal entry.
	// Idempotent - returns nil if the record doesn't exist.
	DeleteSessionRecord(sessionID string) error

	// Close cleanly shuts down the store. Idempotent.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the store is operational. Called during node
	// startup to fail fast.
	HealthCheck() error
}
