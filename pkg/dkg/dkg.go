// Package dkg runs the two-round distributed key generation ceremony
// over an established session mesh.
package dkg

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// State is the ceremony's lifecycle position
type State int

const (
	StateIdle State = iota
	StateRound1InProgress
	StateRound1Complete
	StateRound2InProgress
	StateRound2Complete
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRound1InProgress:
		return "round1_in_progress"
	case StateRound1Complete:
		return "round1_complete"
	case StateRound2InProgress:
		return "round2_in_progress"
	case StateRound2Complete:
		return "round2_complete"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine drives one DKG ceremony. It is a passive state machine owned by
// the orchestrator: inbound packages arrive as method calls, outbound
// packages are returned for the caller to transmit.
type Engine struct {
	sessionID   string
	params      *frost.Params
	suite       *curve.Suite
	selfDevice  string
	selfIndex   uint16
	identifiers map[string]uint16
	devices     map[uint16]string
	logger      *zap.Logger

	state      State
	failReason string

	sec1      *frost.Round1Secret
	ownRound1 *frost.Round1Package
	round1    map[uint16]*frost.Round1Package

	sec2      *frost.Round2Secret
	round2    map[uint16]*frost.Round2Package
	buffered  map[uint16]*frost.Round2PackageWire

	roundDeadline time.Time
	roundTimeout  time.Duration

	keyPkg *frost.KeyPackage
	pubPkg *frost.PublicKeyPackage
}

// Round2Send is a directed round-2 package addressed to one device
type Round2Send struct {
	Device  string
	Package *frost.Round2PackageWire
}

// NewEngine creates a DKG engine for an active session. identifiers is
// the session's device-to-identifier mapping.
func NewEngine(sessionID string, params *frost.Params, selfDevice string, identifiers map[string]uint16, roundTimeout time.Duration, logger *zap.Logger) (*Engine, error) {
	selfIndex, ok := identifiers[selfDevice]
	if !ok {
		return nil, fmt.Errorf("device %s is not in the identifier map", selfDevice)
	}
	if len(identifiers) != int(params.Total) {
		return nil, fmt.Errorf("identifier map has %d entries, expected %d", len(identifiers), params.Total)
	}

	devices := make(map[uint16]string, len(identifiers))
	for device, index := range identifiers {
		devices[index] = device
	}

	return &Engine{
		sessionID:    sessionID,
		params:       params,
		suite:        params.Suite,
		selfDevice:   selfDevice,
		selfIndex:    selfIndex,
		identifiers:  identifiers,
		devices:      devices,
		logger:       logger,
		state:        StateIdle,
		round1:       make(map[uint16]*frost.Round1Package),
		round2:       make(map[uint16]*frost.Round2Package),
		buffered:     make(map[uint16]*frost.Round2PackageWire),
		roundTimeout: roundTimeout,
	}, nil
}

// State returns the current lifecycle position
func (e *Engine) State() State {
	return e.state
}

// SessionID returns the ceremony's session id
func (e *Engine) SessionID() string {
	return e.sessionID
}

// SelfIndex returns this device's protocol identifier
func (e *Engine) SelfIndex() uint16 {
	return e.selfIndex
}

// FailReason returns the failure description when state is Failed
func (e *Engine) FailReason() string {
	return e.failReason
}

// Round1Received reports how many round-1 packages have arrived
func (e *Engine) Round1Received() int {
	return len(e.round1)
}

// Round2Received reports how many round-2 packages have arrived
func (e *Engine) Round2Received() int {
	return len(e.round2) + len(e.buffered)
}

// Start computes this device's round-1 contribution and returns the
// package to broadcast to every other participant.
func (e *Engine) Start(rng io.Reader, now time.Time) (*frost.Round1PackageWire, error) {
	if e.state != StateIdle {
		return nil, fmt.Errorf("cannot start DKG in state %s", e.state)
	}

	sec1, pkg, err := e.params.DKGRound1(e.selfIndex, rng)
	if err != nil {
		e.fail(fmt.Sprintf("round 1 generation failed: %v", err))
		return nil, err
	}
	e.sec1 = sec1
	e.ownRound1 = pkg
	e.state = StateRound1InProgress
	e.roundDeadline = now.Add(e.roundTimeout)

	e.logger.Sugar().Infow("DKG round 1 started",
		"session_id", e.sessionID, "identifier", e.selfIndex, "total", e.params.Total)
	return frost.EncodeRound1Package(e.suite, pkg), nil
}

// OnRound1 applies a round-1 package from a peer. When the final package
// arrives it computes round 2 and returns the directed sends; the second
// return value reports whether finalization is already possible (every
// round-2 package was buffered before round 1 completed).
func (e *Engine) OnRound1(fromDevice string, wire *frost.Round1PackageWire, now time.Time) ([]Round2Send, bool, error) {
	if e.state == StateFailed || e.state == StateFinalized {
		return nil, false, nil
	}
	if e.state != StateRound1InProgress {
		return nil, false, fmt.Errorf("round 1 package in state %s", e.state)
	}

	fromIndex, ok := e.identifiers[fromDevice]
	if !ok {
		return nil, false, e.failSender(fromDevice, "round 1 package from non-participant")
	}
	if fromIndex == e.selfIndex {
		return nil, false, e.failSender(fromDevice, "round 1 package claiming own identifier")
	}
	if _, dup := e.round1[fromIndex]; dup {
		e.logger.Sugar().Debugw("Discarding duplicate round 1 package",
			"session_id", e.sessionID, "from", fromDevice)
		return nil, false, nil
	}

	pkg, err := frost.DecodeRound1Package(e.suite, wire)
	if err != nil {
		return nil, false, e.failSender(fromDevice, fmt.Sprintf("malformed round 1 package: %v", err))
	}
	e.round1[fromIndex] = pkg

	e.logger.Sugar().Debugw("DKG round 1 package stored",
		"session_id", e.sessionID, "from", fromDevice,
		"received", len(e.round1), "expected", e.params.Total-1)

	if len(e.round1) < int(e.params.Total)-1 {
		return nil, false, nil
	}
	e.state = StateRound1Complete

	sends, err := e.startRound2(now)
	if err != nil {
		return nil, false, err
	}
	return sends, e.readyToFinalize(), nil
}

// startRound2 runs once every peer's round 1 has been received
func (e *Engine) startRound2(now time.Time) ([]Round2Send, error) {
	sec2, out, err := e.params.DKGRound2(e.sec1, e.round1)
	e.sec1 = nil
	if err != nil {
		e.fail(fmt.Sprintf("round 2 generation failed: %v", err))
		return nil, err
	}
	e.sec2 = sec2
	e.state = StateRound2InProgress
	e.roundDeadline = now.Add(e.roundTimeout)

	sends := make([]Round2Send, 0, len(out))
	for index, pkg := range out {
		sends = append(sends, Round2Send{
			Device:  e.devices[index],
			Package: frost.EncodeRound2Package(e.suite, pkg),
		})
	}

	// Apply round-2 packages that arrived before our round 1 finished.
	for index, wire := range e.buffered {
		delete(e.buffered, index)
		if err := e.applyRound2(index, wire); err != nil {
			return nil, err
		}
	}

	e.logger.Sugar().Infow("DKG round 2 started",
		"session_id", e.sessionID, "identifier", e.selfIndex, "sends", len(sends))
	return sends, nil
}

// OnRound2 applies a round-2 package addressed to this device. Packages
// arriving before round 1 completes are buffered per sender. The return
// value reports whether finalization is now possible.
func (e *Engine) OnRound2(fromDevice string, wire *frost.Round2PackageWire) (bool, error) {
	if e.state == StateFailed || e.state == StateFinalized {
		return false, nil
	}

	fromIndex, ok := e.identifiers[fromDevice]
	if !ok {
		return false, e.failSender(fromDevice, "round 2 package from non-participant")
	}
	if fromIndex == e.selfIndex {
		return false, e.failSender(fromDevice, "round 2 package claiming own identifier")
	}

	if e.state == StateRound1InProgress {
		if _, dup := e.buffered[fromIndex]; dup {
			return false, nil
		}
		e.buffered[fromIndex] = wire
		e.logger.Sugar().Debugw("Buffered early round 2 package",
			"session_id", e.sessionID, "from", fromDevice)
		return false, nil
	}
	if e.state != StateRound2InProgress {
		return false, fmt.Errorf("round 2 package in state %s", e.state)
	}

	if err := e.applyRound2(fromIndex, wire); err != nil {
		return false, err
	}
	return e.readyToFinalize(), nil
}

func (e *Engine) applyRound2(fromIndex uint16, wire *frost.Round2PackageWire) error {
	if _, dup := e.round2[fromIndex]; dup {
		e.logger.Sugar().Debugw("Discarding duplicate round 2 package",
			"session_id", e.sessionID, "from", e.devices[fromIndex])
		return nil
	}
	pkg, err := frost.DecodeRound2Package(e.suite, wire)
	if err != nil {
		return e.failSender(e.devices[fromIndex], fmt.Sprintf("malformed round 2 package: %v", err))
	}
	e.round2[fromIndex] = pkg

	e.logger.Sugar().Debugw("DKG round 2 package stored",
		"session_id", e.sessionID, "from", e.devices[fromIndex],
		"received", len(e.round2), "expected", e.params.Total-1)
	return nil
}

func (e *Engine) readyToFinalize() bool {
	return e.state == StateRound2InProgress &&
		e.sec2 != nil &&
		len(e.round2) == int(e.params.Total)-1
}

// Finalize completes the ceremony, producing the key and public key
// packages. Share verification failures name the offending sender.
func (e *Engine) Finalize() (*frost.KeyPackage, *frost.PublicKeyPackage, error) {
	if !e.readyToFinalize() {
		return nil, nil, fmt.Errorf("cannot finalize in state %s with %d round 2 packages", e.state, len(e.round2))
	}
	e.state = StateRound2Complete

	round1 := make(map[uint16]*frost.Round1Package, len(e.round1)+1)
	for index, pkg := range e.round1 {
		round1[index] = pkg
	}
	round1[e.selfIndex] = e.ownRound1

	keyPkg, pubPkg, err := e.params.DKGFinalize(e.sec2, round1, e.round2)
	e.sec2 = nil
	if err != nil {
		if verr, ok := err.(*frost.ShareVerificationError); ok {
			return nil, nil, e.failSender(e.devices[verr.Sender], "round 2 share failed verification")
		}
		e.fail(fmt.Sprintf("finalization failed: %v", err))
		return nil, nil, err
	}

	e.keyPkg = keyPkg
	e.pubPkg = pubPkg
	e.state = StateFinalized

	e.logger.Sugar().Infow("DKG finalized",
		"session_id", e.sessionID,
		"identifier", e.selfIndex,
		"group_public_key", e.suite.EncodePoint(pubPkg.GroupKey))
	return keyPkg, pubPkg, nil
}

// CheckDeadline fails the ceremony when the active round has exceeded its
// wall-clock deadline, reporting the missing senders.
func (e *Engine) CheckDeadline(now time.Time) *types.RoundTimeoutError {
	if e.state != StateRound1InProgress && e.state != StateRound2InProgress {
		return nil
	}
	if !now.After(e.roundDeadline) {
		return nil
	}

	var round string
	received := e.round1
	if e.state == StateRound2InProgress {
		round = "round 2"
		received = e.round2
	} else {
		round = "round 1"
	}

	missing := make([]string, 0)
	for device, index := range e.identifiers {
		if index == e.selfIndex {
			continue
		}
		if _, ok := received[index]; !ok {
			missing = append(missing, device)
		}
	}

	err := &types.RoundTimeoutError{SessionID: e.sessionID, Round: round, MissingSenders: missing}
	e.fail(err.Error())
	return err
}

// Fail aborts the ceremony and wipes retained secrets
func (e *Engine) Fail(reason string) {
	e.fail(reason)
}

func (e *Engine) fail(reason string) {
	if e.state == StateFailed {
		return
	}
	e.state = StateFailed
	e.failReason = reason
	if e.sec1 != nil {
		e.sec1.Wipe()
		e.sec1 = nil
	}
	if e.sec2 != nil {
		e.sec2.Wipe()
		e.sec2 = nil
	}
	e.logger.Sugar().Warnw("DKG failed", "session_id", e.sessionID, "reason", reason)
}

func (e *Engine) failSender(device, why string) error {
	err := fmt.Errorf("%s (sender %s)", why, device)
	e.fail(err.Error())
	return err
}
