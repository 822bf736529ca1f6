package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

func TestIdentifierMapIsSortedAndPure(t *testing.T) {
	a := IdentifierMap([]string{"dev-c", "dev-a", "dev-b"})
	b := IdentifierMap([]string{"dev-b", "dev-c", "dev-a"})

	assert.Equal(t, a, b)
	assert.Equal(t, uint16(1), a["dev-a"])
	assert.Equal(t, uint16(2), a["dev-b"])
	assert.Equal(t, uint16(3), a["dev-c"])
}

func newTestCoordinator(selfID string) *Coordinator {
	return NewCoordinator(selfID, logger.NewNopLogger())
}

func TestProposeValidation(t *testing.T) {
	c := newTestCoordinator("dev-a")

	_, err := c.Propose(types.DKGKind(), 1, 1, []string{"dev-a"}, config.CurveTypeSecp256k1)
	assert.Error(t, err, "fewer than two participants")

	_, err = c.Propose(types.DKGKind(), 3, 4, []string{"dev-a", "dev-b", "dev-c"}, config.CurveTypeSecp256k1)
	assert.Error(t, err, "threshold above total")

	_, err = c.Propose(types.DKGKind(), 3, 2, []string{"dev-b", "dev-c", "dev-d"}, config.CurveTypeSecp256k1)
	assert.Error(t, err, "proposer not a participant")

	_, err = c.Propose(types.DKGKind(), 3, 2, []string{"dev-a", "dev-b", "dev-b"}, config.CurveTypeSecp256k1)
	assert.Error(t, err, "duplicate participant")

	sess, err := c.Propose(types.DKGKind(), 3, 2, []string{"dev-c", "dev-a", "dev-b"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-a", "dev-b", "dev-c"}, sess.Participants)
	assert.Equal(t, []string{"dev-a"}, sess.AcceptedDevices)

	_, err = c.Propose(types.DKGKind(), 3, 2, []string{"dev-a", "dev-b", "dev-c"}, config.CurveTypeSecp256k1)
	assert.Error(t, err, "second session while one is active")
}

func proposalMessage(sess *types.SessionInfo) *types.SessionMessage {
	return types.NewProposalMessage(sess.SessionID, sess.Total, sess.Threshold, sess.Participants, sess.Kind)
}

func TestAcceptanceFlowActivatesExactlyOnce(t *testing.T) {
	proposer := newTestCoordinator("dev-a")
	sess, err := proposer.Propose(types.DKGKind(), 3, 2, []string{"dev-a", "dev-b", "dev-c"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)

	accepted := true
	active, err := proposer.OnResponse("dev-b", &types.SessionMessage{
		Type: types.SessionMsgResponse, SessionID: sess.SessionID, Accepted: &accepted,
	})
	require.NoError(t, err)
	assert.False(t, active, "two of three accepted")

	active, err = proposer.OnResponse("dev-c", &types.SessionMessage{
		Type: types.SessionMsgResponse, SessionID: sess.SessionID, Accepted: &accepted,
	})
	require.NoError(t, err)
	assert.True(t, active, "all accepted")

	// Duplicate response must not re-trigger activation.
	active, err = proposer.OnResponse("dev-c", &types.SessionMessage{
		Type: types.SessionMsgResponse, SessionID: sess.SessionID, Accepted: &accepted,
	})
	require.NoError(t, err)
	assert.False(t, active)
}

func TestParticipantInviteAcceptReject(t *testing.T) {
	participant := newTestCoordinator("dev-b")

	proposer := newTestCoordinator("dev-a")
	sess, err := proposer.Propose(types.DKGKind(), 2, 2, []string{"dev-a", "dev-b"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)

	invite, err := participant.OnProposal("dev-a", proposalMessage(sess))
	require.NoError(t, err)
	assert.Equal(t, "dev-a", invite.ProposerID)
	assert.Len(t, participant.Invites(), 1)

	// Duplicate proposal is rejected.
	_, err = participant.OnProposal("dev-a", proposalMessage(sess))
	assert.Error(t, err)

	accepted, err := participant.Accept(sess.SessionID)
	require.NoError(t, err)
	assert.Contains(t, accepted.AcceptedDevices, "dev-b")
	assert.Empty(t, participant.Invites())
	assert.NotNil(t, participant.Active())

	// Rejecting an unknown invitation errors.
	assert.Error(t, participant.Reject("session-nope"))
}

func TestOnProposalRejectsNonParticipant(t *testing.T) {
	c := newTestCoordinator("dev-x")
	msg := types.NewProposalMessage("session-1", 2, 2, []string{"dev-a", "dev-b"}, types.DKGKind())
	_, err := c.OnProposal("dev-a", msg)
	assert.Error(t, err)
}

func TestAcceptanceSetOnlyGrows(t *testing.T) {
	proposer := newTestCoordinator("dev-a")
	sess, err := proposer.Propose(types.DKGKind(), 3, 2, []string{"dev-a", "dev-b", "dev-c"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)

	accepted := true
	rejected := false
	_, err = proposer.OnResponse("dev-b", &types.SessionMessage{
		Type: types.SessionMsgResponse, SessionID: sess.SessionID, Accepted: &accepted,
	})
	require.NoError(t, err)
	require.Len(t, sess.AcceptedDevices, 2)

	// A later rejection does not shrink the acceptance set.
	_, err = proposer.OnResponse("dev-b", &types.SessionMessage{
		Type: types.SessionMsgResponse, SessionID: sess.SessionID, Accepted: &rejected,
	})
	require.NoError(t, err)
	assert.Len(t, sess.AcceptedDevices, 2)
}

func TestIdentifiersForActiveSession(t *testing.T) {
	c := newTestCoordinator("dev-b")

	_, err := c.Identifiers()
	assert.Error(t, err, "no active session")

	proposer := newTestCoordinator("dev-a")
	sess, err := proposer.Propose(types.DKGKind(), 3, 2, []string{"dev-a", "dev-b", "dev-c"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)

	_, err = c.OnProposal("dev-a", proposalMessage(sess))
	require.NoError(t, err)
	_, err = c.Accept(sess.SessionID)
	require.NoError(t, err)

	ids, err := c.Identifiers()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), ids["dev-b"])

	self, err := c.SelfIdentifier()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), self)
}

func TestWalletStatusRecording(t *testing.T) {
	proposer := newTestCoordinator("dev-a")
	kind := types.SigningKind(types.SigningParams{
		WalletName:     "wallet-1",
		CurveType:      "secp256k1",
		Blockchain:     "ethereum",
		GroupPublicKey: "02aa",
	})
	sess, err := proposer.Propose(kind, 2, 2, []string{"dev-a", "dev-b"}, config.CurveTypeSecp256k1)
	require.NoError(t, err)

	accepted := true
	identifier := uint16(2)
	_, err = proposer.OnResponse("dev-b", &types.SessionMessage{
		Type:      types.SessionMsgResponse,
		SessionID: sess.SessionID,
		Accepted:  &accepted,
		WalletStatus: &types.WalletStatus{
			HasWallet: true, WalletValid: true, Identifier: &identifier,
		},
	})
	require.NoError(t, err)

	status := proposer.WalletStatusFor("dev-b")
	require.NotNil(t, status)
	assert.True(t, status.HasWallet)
	assert.True(t, status.WalletValid)

	proposer.Clear()
	assert.Nil(t, proposer.Active())
	assert.Nil(t, proposer.WalletStatusFor("dev-b"))
}
