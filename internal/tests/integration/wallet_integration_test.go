package integration

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/internal/tests"
	"github.com/stars-network/frost-wallet-go/pkg/chains"
	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/node"
)

var devices = []string{"dev-a", "dev-b", "dev-c"}

// runDKGCeremony proposes a 2-of-3 ceremony from dev-a and waits for
// every device to finalize, returning the wallet id.
func runDKGCeremony(t *testing.T, h *tests.Harness, curveType config.CurveType) string {
	t.Helper()

	done := make(chan error, 1)
	h.Submit(t, "dev-a", node.ProposeSessionCmd{
		Total:        3,
		Threshold:    2,
		Participants: devices,
		Curve:        curveType,
		Done:         done,
	}, done)

	h.AcceptNextInvite(t, "dev-b")
	h.AcceptNextInvite(t, "dev-c")

	first := h.WaitDKGComplete(t, "dev-a")
	for _, device := range []string{"dev-b", "dev-c"} {
		completed := h.WaitDKGComplete(t, device)
		assert.Equal(t, first.WalletID, completed.WalletID)
		assert.Equal(t, first.GroupPublicKey, completed.GroupPublicKey)
	}
	return first.WalletID
}

func TestTwoOfThreeDKGOnSecp256k1(t *testing.T) {
	h := tests.NewHarness(t, devices...)
	walletID := runDKGCeremony(t, h, config.CurveTypeSecp256k1)

	expectedIdentifiers := map[string]uint16{"dev-a": 1, "dev-b": 2, "dev-c": 3}
	var groupKey, ethAddress string
	for _, device := range devices {
		record, err := h.Nodes[device].Keystore.LoadWallet(walletID, tests.TestPassword)
		require.NoError(t, err)

		assert.Equal(t, expectedIdentifiers[device], record.Identifier, "device %s", device)
		assert.Equal(t, devices, record.Participants)
		assert.Equal(t, config.CurveTypeSecp256k1, record.Curve)

		// 33-byte compressed group public key, identical everywhere.
		keyBytes, err := hex.DecodeString(record.KeyPackage.GroupKey)
		require.NoError(t, err)
		assert.Len(t, keyBytes, 33)
		if groupKey == "" {
			groupKey = record.KeyPackage.GroupKey
		} else {
			assert.Equal(t, groupKey, record.KeyPackage.GroupKey, "device %s", device)
		}

		// Identical 20-byte 0x-prefixed Ethereum address everywhere.
		addr := record.Addresses[chains.BlockchainEthereum]
		require.True(t, strings.HasPrefix(addr, "0x"))
		assert.Len(t, addr, 42)
		if ethAddress == "" {
			ethAddress = addr
		} else {
			assert.Equal(t, ethAddress, addr, "device %s", device)
		}
	}
}

func TestSigningAfterDKG(t *testing.T) {
	h := tests.NewHarness(t, devices...)
	walletID := runDKGCeremony(t, h, config.CurveTypeSecp256k1)

	// 0xdeadbeef repeated to 32 bytes.
	messageHex := strings.Repeat("deadbeef", 8)

	done := make(chan error, 1)
	h.Submit(t, "dev-a", node.StartSigningCmd{
		WalletID:   walletID,
		MessageHex: messageHex,
		Blockchain: chains.BlockchainEthereum,
		Done:       done,
	}, done)

	h.AcceptNextInvite(t, "dev-b")
	h.AcceptNextInvite(t, "dev-c")

	result := h.WaitSigningComplete(t, "dev-a")
	require.NotEmpty(t, result.SignatureHex)

	// The aggregated signature verifies against the wallet's group key.
	record, err := h.Nodes["dev-a"].Keystore.LoadWallet(walletID, tests.TestPassword)
	require.NoError(t, err)
	suite, err := curve.ForCurve(record.Curve)
	require.NoError(t, err)
	params, err := frost.NewParams(suite, record.Threshold, record.Total)
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(result.SignatureHex)
	require.NoError(t, err)
	sig, err := params.DeserializeSignature(sigBytes)
	require.NoError(t, err)
	groupKey, err := suite.DecodePoint(record.KeyPackage.GroupKey)
	require.NoError(t, err)

	message, err := hex.DecodeString(messageHex)
	require.NoError(t, err)
	assert.True(t, params.Verify(message, sig, groupKey))

	// The other participants converge on the same signature.
	for _, device := range []string{"dev-b", "dev-c"} {
		peerResult := h.WaitSigningComplete(t, device)
		assert.Equal(t, result.SignatureHex, peerResult.SignatureHex, "device %s", device)
	}
}

func TestThreeOfThreeDKGOnEd25519(t *testing.T) {
	h := tests.NewHarness(t, devices...)

	done := make(chan error, 1)
	h.Submit(t, "dev-a", node.ProposeSessionCmd{
		Total:        3,
		Threshold:    3,
		Participants: devices,
		Curve:        config.CurveTypeEd25519,
		Done:         done,
	}, done)

	h.AcceptNextInvite(t, "dev-b")
	h.AcceptNextInvite(t, "dev-c")

	walletID := h.WaitDKGComplete(t, "dev-a").WalletID
	h.WaitDKGComplete(t, "dev-b")
	h.WaitDKGComplete(t, "dev-c")

	for _, device := range devices {
		record, err := h.Nodes[device].Keystore.LoadWallet(walletID, tests.TestPassword)
		require.NoError(t, err)
		assert.Equal(t, config.CurveTypeEd25519, record.Curve)
		assert.Equal(t, uint16(3), record.Threshold)

		// 32-byte ed25519 group key and a Solana address for it.
		keyBytes, err := hex.DecodeString(record.KeyPackage.GroupKey)
		require.NoError(t, err)
		assert.Len(t, keyBytes, 32)
		assert.NotEmpty(t, record.Addresses[chains.BlockchainSolana])
	}
}

func TestRejectedInvitationNeverActivates(t *testing.T) {
	h := tests.NewHarness(t, devices...)

	done := make(chan error, 1)
	h.Submit(t, "dev-a", node.ProposeSessionCmd{
		Total:        3,
		Threshold:    2,
		Participants: devices,
		Curve:        config.CurveTypeSecp256k1,
		Done:         done,
	}, done)

	// dev-b accepts but dev-c declines; the ceremony must not start.
	h.AcceptNextInvite(t, "dev-b")

	hn := h.Nodes["dev-c"]
	select {
	case invite := <-hn.Notifier.Invites:
		rejectDone := make(chan error, 1)
		h.Submit(t, "dev-c", node.RejectSessionCmd{SessionID: invite.Session.SessionID, Done: rejectDone}, rejectDone)
	case <-time.After(10 * time.Second):
		t.Fatal("dev-c never received the invitation")
	}

	select {
	case done := <-h.Nodes["dev-a"].Notifier.DKGDone:
		t.Fatalf("ceremony completed despite rejection: %v", done)
	case <-time.After(2 * time.Second):
		// Expected: no completion.
	}
}
