package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/persistence"
)

func TestMemoryStore_SaveAndLoadNodeState(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	state := &persistence.NodeState{
		DeviceID:      "dev-a",
		LastSessionID: "session-1",
		StartedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, ms.SaveNodeState(state))

	loaded, err := ms.LoadNodeState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.DeviceID, loaded.DeviceID)
	assert.Equal(t, state.LastSessionID, loaded.LastSessionID)
}

func TestMemoryStore_LoadNodeState_FirstRun(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	loaded, err := ms.LoadNodeState()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStore_SaveNodeState_Nil(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	err := ms.SaveNodeState(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil NodeState")
}

func TestMemoryStore_SessionRecords(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	early := &persistence.SessionRecord{
		SessionID:    "session-1",
		Kind:         "DKG",
		CurveType:    "secp256k1",
		Participants: []string{"dev-a", "dev-b"},
		WalletID:     "session-1",
		Outcome:      persistence.OutcomeFinalized,
		CompletedAt:  time.Now().UTC().Add(-time.Hour),
	}
	late := &persistence.SessionRecord{
		SessionID:   "session-2",
		Kind:        "Signing",
		CurveType:   "secp256k1",
		Outcome:     persistence.OutcomeFailed,
		Reason:      "round 2 timed out",
		CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, ms.SaveSessionRecord(late))
	require.NoError(t, ms.SaveSessionRecord(early))

	loaded, err := ms.LoadSessionRecord("session-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, persistence.OutcomeFinalized, loaded.Outcome)

	records, err := ms.ListSessionRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "session-1", records[0].SessionID, "sorted by completion time")
	assert.Equal(t, "session-2", records[1].SessionID)

	require.NoError(t, ms.DeleteSessionRecord("session-1"))
	gone, err := ms.LoadSessionRecord("session-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Idempotent delete.
	require.NoError(t, ms.DeleteSessionRecord("session-1"))
}

func TestMemoryStore_DeepCopies(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	record := &persistence.SessionRecord{
		SessionID:    "session-1",
		Participants: []string{"dev-a"},
		Outcome:      persistence.OutcomeFinalized,
		CompletedAt:  time.Now().UTC(),
	}
	require.NoError(t, ms.SaveSessionRecord(record))

	record.Participants[0] = "mutated"
	loaded, err := ms.LoadSessionRecord("session-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-a"}, loaded.Participants)
}

func TestMemoryStore_ClosedOperationsFail(t *testing.T) {
	ms := NewMemoryStore()
	require.NoError(t, ms.Close())

	assert.Error(t, ms.HealthCheck())
	assert.Error(t, ms.SaveNodeState(&persistence.NodeState{DeviceID: "dev-a"}))
	_, err := ms.ListSessionRecords()
	assert.Error(t, err)
}
