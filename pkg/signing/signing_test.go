package signing

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/logger"
)

const testTimeout = 30 * time.Second

var testDevices = []string{"dev-a", "dev-b", "dev-c"}

type wallet struct {
	params  *frost.Params
	keyPkgs map[uint16]*frost.KeyPackage
	pubPkg  *frost.PublicKeyPackage
	ids     map[string]uint16
}

// makeWallet runs a direct DKG to produce shares for the test devices
func makeWallet(t *testing.T, tag config.CurveType, threshold uint16) *wallet {
	t.Helper()
	suite, err := curve.ForCurve(tag)
	require.NoError(t, err)
	total := uint16(len(testDevices))
	params, err := frost.NewParams(suite, threshold, total)
	require.NoError(t, err)

	secrets1 := make(map[uint16]*frost.Round1Secret)
	round1 := make(map[uint16]*frost.Round1Package)
	for i := uint16(1); i <= total; i++ {
		sec, pkg, err := params.DKGRound1(i, rand.Reader)
		require.NoError(t, err)
		secrets1[i] = sec
		round1[i] = pkg
	}
	secrets2 := make(map[uint16]*frost.Round2Secret)
	outgoing := make(map[uint16]map[uint16]*frost.Round2Package)
	for i := uint16(1); i <= total; i++ {
		received := make(map[uint16]*frost.Round1Package)
		for j := uint16(1); j <= total; j++ {
			if j != i {
				received[j] = round1[j]
			}
		}
		sec2, out, err := params.DKGRound2(secrets1[i], received)
		require.NoError(t, err)
		secrets2[i] = sec2
		outgoing[i] = out
	}

	keyPkgs := make(map[uint16]*frost.KeyPackage)
	var pubPkg *frost.PublicKeyPackage
	for i := uint16(1); i <= total; i++ {
		all1 := make(map[uint16]*frost.Round1Package)
		for j := uint16(1); j <= total; j++ {
			all1[j] = round1[j]
		}
		recv2 := make(map[uint16]*frost.Round2Package)
		for j := uint16(1); j <= total; j++ {
			if j != i {
				recv2[j] = outgoing[j][i]
			}
		}
		keyPkg, pub, err := params.DKGFinalize(secrets2[i], all1, recv2)
		require.NoError(t, err)
		keyPkgs[i] = keyPkg
		pubPkg = pub
	}

	ids := make(map[string]uint16)
	for i, d := range testDevices {
		ids[d] = uint16(i + 1)
	}
	return &wallet{params: params, keyPkgs: keyPkgs, pubPkg: pubPkg, ids: ids}
}

func newEngineFor(t *testing.T, w *wallet, device, coordinator, signingID string, message []byte) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		SigningID:   signingID,
		Params:      w.params,
		SelfDevice:  device,
		Coordinator: coordinator,
		Identifiers: w.ids,
		KeyPackage:  w.keyPkgs[w.ids[device]],
		PublicKey:   w.pubPkg,
		Message:     message,
		Timeout:     testTimeout,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return engine
}

// runCeremony drives coordinator dev-a plus participant acceptors
// through the full signing flow and returns the aggregated signature.
func runCeremony(t *testing.T, w *wallet, acceptors []string, message []byte) []byte {
	t.Helper()
	now := time.Now()
	signingID := "signing-1"

	engines := map[string]*Engine{"dev-a": newEngineFor(t, w, "dev-a", "dev-a", signingID, message)}
	require.NoError(t, engines["dev-a"].Start(now))

	var selected []uint16
	for _, device := range acceptors {
		engines[device] = newEngineFor(t, w, device, "dev-a", signingID, message)
		require.NoError(t, engines[device].Start(now))

		sel, err := engines["dev-a"].OnAcceptance(device, true, true, now)
		require.NoError(t, err)
		if sel != nil {
			selected = sel
		}
	}
	require.NotNil(t, selected, "coordinator never selected signers")

	// Apply the selection everywhere and gather commitments.
	commitments := make(map[string]*frost.SigningCommitmentsWire)
	for device, engine := range engines {
		wire, err := engine.OnSelection(selected, rand.Reader, now)
		require.NoError(t, err)
		if wire != nil {
			commitments[device] = wire
		}
	}
	require.Len(t, commitments, len(selected))

	// Route commitments among the selected signers.
	var aggregated []byte
	shares := make(map[string]*ShareSend)
	for from, wire := range commitments {
		for device, engine := range engines {
			if device == from || !engine.IsSelectedDevice(device) {
				continue
			}
			shareSend, sig, err := engine.OnCommitment(from, w.ids[from], wire, now)
			require.NoError(t, err)
			if shareSend != nil {
				shares[device] = shareSend
			}
			if sig != nil {
				aggregated = sig
			}
		}
	}

	// Deliver participant shares to the coordinator.
	for from, send := range shares {
		require.Equal(t, "dev-a", send.Device)
		sig, err := engines["dev-a"].OnShare(from, w.ids[from], send.Share)
		require.NoError(t, err)
		if sig != nil {
			aggregated = sig
		}
	}
	require.NotNil(t, aggregated)

	// Participants verify the broadcast result.
	for device, engine := range engines {
		if device == "dev-a" {
			continue
		}
		require.NoError(t, engine.OnAggregated("dev-a", hex.EncodeToString(aggregated)))
		assert.Equal(t, StateAggregated, engine.State())
	}
	return aggregated
}

func TestSigningCeremonyBothCurves(t *testing.T) {
	for _, tag := range []config.CurveType{config.CurveTypeSecp256k1, config.CurveTypeEd25519} {
		t.Run(tag.String(), func(t *testing.T) {
			w := makeWallet(t, tag, 2)
			message := []byte("spend 1 token")

			aggregated := runCeremony(t, w, []string{"dev-c"}, message)

			sig, err := w.params.DeserializeSignature(aggregated)
			require.NoError(t, err)
			assert.True(t, w.params.Verify(message, sig, w.pubPkg.GroupKey))
		})
	}
}

func TestSelectionPrefersCoordinatorAndLowIdentifiers(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	now := time.Now()

	coordinator := newEngineFor(t, w, "dev-a", "dev-a", "signing-1", []byte("m"))
	require.NoError(t, coordinator.Start(now))

	// Both peers accept; only threshold-1 of them are selected.
	sel, err := coordinator.OnAcceptance("dev-c", true, true, now)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, []uint16{1, 3}, sel)

	// A late acceptance after selection is ignored.
	late, err := coordinator.OnAcceptance("dev-b", true, true, now)
	require.NoError(t, err)
	assert.Nil(t, late)
}

func TestAcceptanceWithoutWalletIsIgnored(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	now := time.Now()

	coordinator := newEngineFor(t, w, "dev-a", "dev-a", "signing-1", []byte("m"))
	require.NoError(t, coordinator.Start(now))

	sel, err := coordinator.OnAcceptance("dev-b", true, false, now)
	require.NoError(t, err)
	assert.Nil(t, sel, "unverified holder must not count toward the threshold")

	sel, err = coordinator.OnAcceptance("dev-c", true, true, now)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.NotContains(t, sel, w.ids["dev-b"])
}

func TestNotSelectedParticipantAwaitsResult(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	now := time.Now()

	participant := newEngineFor(t, w, "dev-b", "dev-a", "signing-1", []byte("m"))
	require.NoError(t, participant.Start(now))

	wire, err := participant.OnSelection([]uint16{1, 3}, rand.Reader, now)
	require.NoError(t, err)
	assert.Nil(t, wire)
	assert.False(t, participant.IsSelectedDevice("dev-b"))
}

func TestDuplicateShareIsDiscarded(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	now := time.Now()
	message := []byte("dup share test")

	coordinator := newEngineFor(t, w, "dev-a", "dev-a", "signing-1", message)
	require.NoError(t, coordinator.Start(now))
	participant := newEngineFor(t, w, "dev-b", "dev-a", "signing-1", message)
	require.NoError(t, participant.Start(now))

	sel, err := coordinator.OnAcceptance("dev-b", true, true, now)
	require.NoError(t, err)
	require.NotNil(t, sel)

	coordWire, err := coordinator.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)
	partWire, err := participant.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)

	shareSend, _, err := participant.OnCommitment("dev-a", w.ids["dev-a"], coordWire, now)
	require.NoError(t, err)
	require.NotNil(t, shareSend)

	_, sig, err := coordinator.OnCommitment("dev-b", w.ids["dev-b"], partWire, now)
	require.NoError(t, err)
	require.Nil(t, sig, "coordinator still awaits the participant share")

	first, err := coordinator.OnShare("dev-b", w.ids["dev-b"], shareSend.Share)
	require.NoError(t, err)
	require.NotNil(t, first, "threshold of shares reached")

	// The ceremony produced its one aggregated signature; a replayed
	// share changes nothing.
	second, err := coordinator.OnShare("dev-b", w.ids["dev-b"], shareSend.Share)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, StateAggregated, coordinator.State())
	assert.Equal(t, first, coordinator.Signature())
}

func TestShareOvertakingCommitmentIsBuffered(t *testing.T) {
	// Three selected signers: dev-b's share may reach the coordinator
	// before dev-c's commitment does.
	w := makeWallet(t, config.CurveTypeSecp256k1, 3)
	now := time.Now()
	message := []byte("overtake test")

	coordinator := newEngineFor(t, w, "dev-a", "dev-a", "signing-1", message)
	require.NoError(t, coordinator.Start(now))
	partB := newEngineFor(t, w, "dev-b", "dev-a", "signing-1", message)
	require.NoError(t, partB.Start(now))
	partC := newEngineFor(t, w, "dev-c", "dev-a", "signing-1", message)
	require.NoError(t, partC.Start(now))

	_, err := coordinator.OnAcceptance("dev-b", true, true, now)
	require.NoError(t, err)
	sel, err := coordinator.OnAcceptance("dev-c", true, true, now)
	require.NoError(t, err)
	require.Equal(t, []uint16{1, 2, 3}, sel)

	coordWire, err := coordinator.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)
	bWire, err := partB.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)
	cWire, err := partC.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)

	// dev-b completes its commitment set first and produces its share.
	_, _, err = partB.OnCommitment("dev-a", 1, coordWire, now)
	require.NoError(t, err)
	bShare, _, err := partB.OnCommitment("dev-c", 3, cWire, now)
	require.NoError(t, err)
	require.NotNil(t, bShare)

	// The coordinator has only dev-b's commitment when the share lands.
	_, _, err = coordinator.OnCommitment("dev-b", 2, bWire, now)
	require.NoError(t, err)
	early, err := coordinator.OnShare("dev-b", 2, bShare.Share)
	require.NoError(t, err)
	assert.Nil(t, early, "share must be buffered until the package exists")

	// dev-c's commitment completes the set; dev-c then shares.
	_, _, err = partC.OnCommitment("dev-a", 1, coordWire, now)
	require.NoError(t, err)
	cShare, _, err := partC.OnCommitment("dev-b", 2, bWire, now)
	require.NoError(t, err)
	require.NotNil(t, cShare)

	_, sig, err := coordinator.OnCommitment("dev-c", 3, cWire, now)
	require.NoError(t, err)
	require.Nil(t, sig, "own plus buffered shares are two of three")

	final, err := coordinator.OnShare("dev-c", 3, cShare.Share)
	require.NoError(t, err)
	require.NotNil(t, final)

	parsed, err := w.params.DeserializeSignature(final)
	require.NoError(t, err)
	assert.True(t, w.params.Verify(message, parsed, w.pubPkg.GroupKey))
}

func TestMalformedShareFailsCeremony(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	now := time.Now()
	message := []byte("bad share test")

	coordinator := newEngineFor(t, w, "dev-a", "dev-a", "signing-1", message)
	require.NoError(t, coordinator.Start(now))
	participant := newEngineFor(t, w, "dev-b", "dev-a", "signing-1", message)
	require.NoError(t, participant.Start(now))

	sel, err := coordinator.OnAcceptance("dev-b", true, true, now)
	require.NoError(t, err)
	coordWire, err := coordinator.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)
	partWire, err := participant.OnSelection(sel, rand.Reader, now)
	require.NoError(t, err)

	_, _, err = participant.OnCommitment("dev-a", w.ids["dev-a"], coordWire, now)
	require.NoError(t, err)
	_, _, err = coordinator.OnCommitment("dev-b", w.ids["dev-b"], partWire, now)
	require.NoError(t, err)

	_, err = coordinator.OnShare("dev-b", w.ids["dev-b"], &frost.SignatureShareWire{Share: "not-hex"})
	require.Error(t, err)
	assert.Equal(t, StateFailed, coordinator.State())
}

func TestPhaseTimeoutReportsMissing(t *testing.T) {
	w := makeWallet(t, config.CurveTypeEd25519, 2)
	start := time.Now()

	engine, err := NewEngine(Config{
		SigningID:   "signing-1",
		Params:      w.params,
		SelfDevice:  "dev-a",
		Coordinator: "dev-a",
		Identifiers: w.ids,
		KeyPackage:  w.keyPkgs[1],
		PublicKey:   w.pubPkg,
		Message:     []byte("m"),
		Timeout:     time.Second,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(start))

	require.Nil(t, engine.CheckDeadline(start.Add(500*time.Millisecond)))

	terr := engine.CheckDeadline(start.Add(2 * time.Second))
	require.NotNil(t, terr)
	assert.Equal(t, "acceptance", terr.Round)
	assert.ElementsMatch(t, []string{"dev-b", "dev-c"}, terr.MissingSenders)
	assert.Equal(t, StateFailed, engine.State())
}

func TestAggregatedFromWrongDeviceFails(t *testing.T) {
	w := makeWallet(t, config.CurveTypeSecp256k1, 2)
	participant := newEngineFor(t, w, "dev-b", "dev-a", "signing-1", []byte("m"))
	require.NoError(t, participant.Start(time.Now()))

	err := participant.OnAggregated("dev-c", "00")
	require.Error(t, err)
	assert.Equal(t, StateFailed, participant.State())
}
