package dkg

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

const testTimeout = 30 * time.Second

func testParams(t *testing.T, tag config.CurveType, threshold, total uint16) *frost.Params {
	t.Helper()
	suite, err := curve.ForCurve(tag)
	require.NoError(t, err)
	params, err := frost.NewParams(suite, threshold, total)
	require.NoError(t, err)
	return params
}

func testIdentifiers(devices ...string) map[string]uint16 {
	ids := make(map[string]uint16, len(devices))
	for i, d := range devices {
		ids[d] = uint16(i + 1)
	}
	return ids
}

func newTestEngines(t *testing.T, tag config.CurveType, threshold uint16, devices ...string) map[string]*Engine {
	t.Helper()
	ids := testIdentifiers(devices...)
	engines := make(map[string]*Engine, len(devices))
	for _, d := range devices {
		params := testParams(t, tag, threshold, uint16(len(devices)))
		engine, err := NewEngine("session-1", params, d, ids, testTimeout, logger.NewNopLogger())
		require.NoError(t, err)
		engines[d] = engine
	}
	return engines
}

// runCeremony routes packages between engines until every one finalizes
func runCeremony(t *testing.T, engines map[string]*Engine) map[string]*frost.PublicKeyPackage {
	t.Helper()
	now := time.Now()

	broadcasts := make(map[string]*frost.Round1PackageWire)
	for device, engine := range engines {
		wire, err := engine.Start(rand.Reader, now)
		require.NoError(t, err)
		broadcasts[device] = wire
	}

	finalize := func(device string, engine *Engine) *frost.PublicKeyPackage {
		_, pubPkg, err := engine.Finalize()
		require.NoError(t, err, "device %s failed to finalize", device)
		return pubPkg
	}

	pubs := make(map[string]*frost.PublicKeyPackage)
	for from, wire := range broadcasts {
		for device, engine := range engines {
			if device == from {
				continue
			}
			sends, ready, err := engine.OnRound1(from, wire, now)
			require.NoError(t, err)
			for _, send := range sends {
				target := engines[send.Device]
				targetReady, err := target.OnRound2(device, send.Package)
				require.NoError(t, err)
				if targetReady {
					pubs[send.Device] = finalize(send.Device, target)
				}
			}
			if ready {
				pubs[device] = finalize(device, engine)
			}
		}
	}

	// Any engine whose final packages arrived through buffering.
	for device, engine := range engines {
		if pubs[device] == nil && engine.State() == StateRound2InProgress && engine.Round2Received() == len(engines)-1 {
			pubs[device] = finalize(device, engine)
		}
	}

	require.Len(t, pubs, len(engines))
	return pubs
}

func TestCeremonyCompletesOnBothCurves(t *testing.T) {
	for _, tag := range []config.CurveType{config.CurveTypeSecp256k1, config.CurveTypeEd25519} {
		t.Run(tag.String(), func(t *testing.T) {
			engines := newTestEngines(t, tag, 2, "dev-a", "dev-b", "dev-c")
			pubs := runCeremony(t, engines)

			groupKey := pubs["dev-a"].GroupKey
			for device, pub := range pubs {
				assert.True(t, groupKey.Equal(pub.GroupKey), "device %s has a different group key", device)
			}
			for _, engine := range engines {
				assert.Equal(t, StateFinalized, engine.State())
			}
		})
	}
}

func TestEarlyRound2PackageIsBuffered(t *testing.T) {
	engines := newTestEngines(t, config.CurveTypeSecp256k1, 2, "dev-a", "dev-b")
	now := time.Now()

	wireA, err := engines["dev-a"].Start(rand.Reader, now)
	require.NoError(t, err)
	wireB, err := engines["dev-b"].Start(rand.Reader, now)
	require.NoError(t, err)

	// dev-b completes round 1 first and sends its round-2 package while
	// dev-a is still waiting on round 1.
	sendsB, readyB, err := engines["dev-b"].OnRound1("dev-a", wireA, now)
	require.NoError(t, err)
	require.False(t, readyB)
	require.Len(t, sendsB, 1)
	require.Equal(t, "dev-a", sendsB[0].Device)

	ready, err := engines["dev-a"].OnRound2("dev-b", sendsB[0].Package)
	require.NoError(t, err)
	assert.False(t, ready, "early package must be buffered, not applied")
	assert.Equal(t, StateRound1InProgress, engines["dev-a"].State())

	// Once round 1 completes, the buffered package applies and dev-a can
	// finalize immediately.
	sendsA, readyA, err := engines["dev-a"].OnRound1("dev-b", wireB, now)
	require.NoError(t, err)
	require.Len(t, sendsA, 1)
	assert.True(t, readyA)

	_, pubA, err := engines["dev-a"].Finalize()
	require.NoError(t, err)

	readyB2, err := engines["dev-b"].OnRound2("dev-a", sendsA[0].Package)
	require.NoError(t, err)
	require.True(t, readyB2)
	_, pubB, err := engines["dev-b"].Finalize()
	require.NoError(t, err)

	assert.True(t, pubA.GroupKey.Equal(pubB.GroupKey))
}

func TestDuplicatePackagesAreDiscarded(t *testing.T) {
	engines := newTestEngines(t, config.CurveTypeSecp256k1, 2, "dev-a", "dev-b", "dev-c")
	now := time.Now()

	for _, engine := range engines {
		_, err := engine.Start(rand.Reader, now)
		require.NoError(t, err)
	}

	wireB, err := frostRound1Wire(t, engines["dev-b"])
	require.NoError(t, err)

	_, _, err = engines["dev-a"].OnRound1("dev-b", wireB, now)
	require.NoError(t, err)
	require.Equal(t, 1, engines["dev-a"].Round1Received())

	// Duplicate from the same sender is silently discarded.
	_, _, err = engines["dev-a"].OnRound1("dev-b", wireB, now)
	require.NoError(t, err)
	assert.Equal(t, 1, engines["dev-a"].Round1Received())
	assert.NotEqual(t, StateFailed, engines["dev-a"].State())
}

// frostRound1Wire regenerates a broadcast-equivalent wire for tests that
// need to replay a package.
func frostRound1Wire(t *testing.T, e *Engine) (*frost.Round1PackageWire, error) {
	t.Helper()
	return frost.EncodeRound1Package(e.suite, e.ownRound1), nil
}

func TestMalformedPackageFailsSessionNamingSender(t *testing.T) {
	engines := newTestEngines(t, config.CurveTypeSecp256k1, 2, "dev-a", "dev-b")
	now := time.Now()

	_, err := engines["dev-a"].Start(rand.Reader, now)
	require.NoError(t, err)

	bad := &frost.Round1PackageWire{Commitments: []string{"zz-not-hex", "zz"}, ProofR: "zz", ProofZ: "zz"}
	_, _, err = engines["dev-a"].OnRound1("dev-b", bad, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev-b")
	assert.Equal(t, StateFailed, engines["dev-a"].State())
}

func TestPackageFromNonParticipantFailsSession(t *testing.T) {
	engines := newTestEngines(t, config.CurveTypeSecp256k1, 2, "dev-a", "dev-b")
	now := time.Now()

	_, err := engines["dev-a"].Start(rand.Reader, now)
	require.NoError(t, err)

	wire := &frost.Round1PackageWire{Commitments: []string{"00"}, ProofR: "00", ProofZ: "00"}
	_, _, err = engines["dev-a"].OnRound1("dev-x", wire, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-participant")
}

func TestRoundTimeoutReportsMissingSenders(t *testing.T) {
	ids := testIdentifiers("dev-a", "dev-b", "dev-c")
	params := testParams(t, config.CurveTypeEd25519, 3, 3)
	engine, err := NewEngine("session-1", params, "dev-a", ids, time.Second, logger.NewNopLogger())
	require.NoError(t, err)

	start := time.Now()
	_, err = engine.Start(rand.Reader, start)
	require.NoError(t, err)

	require.Nil(t, engine.CheckDeadline(start.Add(500*time.Millisecond)))

	terr := engine.CheckDeadline(start.Add(2 * time.Second))
	require.NotNil(t, terr)
	assert.ElementsMatch(t, []string{"dev-b", "dev-c"}, terr.MissingSenders)
	assert.Equal(t, StateFailed, engine.State())

	var rte *types.RoundTimeoutError
	assert.ErrorAs(t, error(terr), &rte)
}

func TestRound2TimeoutNamesOnlyMissing(t *testing.T) {
	engines := newTestEngines(t, config.CurveTypeEd25519, 3, "dev-a", "dev-b", "dev-c")
	start := time.Now()

	wires := make(map[string]*frost.Round1PackageWire)
	for device, engine := range engines {
		wire, err := engine.Start(rand.Reader, start)
		require.NoError(t, err)
		wires[device] = wire
	}

	// dev-a completes round 1 and enters round 2.
	_, _, err := engines["dev-a"].OnRound1("dev-b", wires["dev-b"], start)
	require.NoError(t, err)
	sends, _, err := engines["dev-a"].OnRound1("dev-c", wires["dev-c"], start)
	require.NoError(t, err)
	require.Len(t, sends, 2)
	require.Equal(t, StateRound2InProgress, engines["dev-a"].State())

	// dev-b's round-2 package arrives; dev-c's never does.
	_, _, err = engines["dev-b"].OnRound1("dev-a", wires["dev-a"], start)
	require.NoError(t, err)
	sendsB, _, err := engines["dev-b"].OnRound1("dev-c", wires["dev-c"], start)
	require.NoError(t, err)
	for _, send := range sendsB {
		if send.Device == "dev-a" {
			_, err = engines["dev-a"].OnRound2("dev-b", send.Package)
			require.NoError(t, err)
		}
	}

	terr := engines["dev-a"].CheckDeadline(start.Add(2 * testTimeout))
	require.NotNil(t, terr)
	assert.Equal(t, []string{"dev-c"}, terr.MissingSenders)
}
