// Package signing runs the two-round FROST signing ceremony over an
// established wallet session: acceptance gathering, signer selection,
// commitment exchange, share collection, and aggregation.
package signing

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// State is the signing ceremony's lifecycle position
type State int

const (
	StateIdle State = iota
	StateAwaitingAcceptances
	StateSignerSelection
	StateCommitmentsInProgress
	StatePackageReady
	StateSharesInProgress
	StateAggregated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAcceptances:
		return "awaiting_acceptances"
	case StateSignerSelection:
		return "signer_selection"
	case StateCommitmentsInProgress:
		return "commitments_in_progress"
	case StatePackageReady:
		return "package_ready"
	case StateSharesInProgress:
		return "shares_in_progress"
	case StateAggregated:
		return "aggregated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine drives one signing ceremony. The proposer acts as coordinator:
// it gathers acceptances, selects the signer set, collects shares, and
// aggregates. Every engine is a passive state machine owned by the
// orchestrator.
type Engine struct {
	signingID   string
	params      *frost.Params
	suite       *curve.Suite
	selfDevice  string
	coordinator string
	identifiers map[string]uint16
	devices     map[uint16]string
	logger      *zap.Logger

	keyPkg  *frost.KeyPackage
	pubPkg  *frost.PublicKeyPackage
	message []byte

	state      State
	failReason string

	accepted    map[string]bool
	selected    []uint16
	notSelected bool

	nonces        *frost.SigningNonces
	commitments   map[uint16]*frost.SigningCommitments
	sigPackage    *frost.SigningPackage
	shares        map[uint16]*frost.SignatureShare
	pendingShares map[uint16]*frost.SignatureShareWire
	signature     []byte

	phaseDeadline time.Time
	phaseTimeout  time.Duration
}

// Config assembles an engine for one ceremony
type Config struct {
	SigningID   string
	Params      *frost.Params
	SelfDevice  string
	Coordinator string
	Identifiers map[string]uint16
	KeyPackage  *frost.KeyPackage
	PublicKey   *frost.PublicKeyPackage
	Message     []byte
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewEngine creates a signing engine. The identifier map comes from the
// wallet record's ordered participant list, not from the session.
func NewEngine(cfg Config) (*Engine, error) {
	if _, ok := cfg.Identifiers[cfg.SelfDevice]; !ok {
		return nil, fmt.Errorf("device %s does not hold a share of this wallet", cfg.SelfDevice)
	}
	if len(cfg.Message) == 0 {
		return nil, fmt.Errorf("message to sign is empty")
	}

	devices := make(map[uint16]string, len(cfg.Identifiers))
	for device, index := range cfg.Identifiers {
		devices[index] = device
	}

	return &Engine{
		signingID:     cfg.SigningID,
		params:        cfg.Params,
		suite:         cfg.Params.Suite,
		selfDevice:    cfg.SelfDevice,
		coordinator:   cfg.Coordinator,
		identifiers:   cfg.Identifiers,
		devices:       devices,
		logger:        cfg.Logger,
		keyPkg:        cfg.KeyPackage,
		pubPkg:        cfg.PublicKey,
		message:       cfg.Message,
		state:         StateIdle,
		accepted:      make(map[string]bool),
		commitments:   make(map[uint16]*frost.SigningCommitments),
		shares:        make(map[uint16]*frost.SignatureShare),
		pendingShares: make(map[uint16]*frost.SignatureShareWire),
		phaseTimeout:  cfg.Timeout,
	}, nil
}

// State returns the current lifecycle position
func (e *Engine) State() State { return e.state }

// SigningID returns the ceremony id
func (e *Engine) SigningID() string { return e.signingID }

// FailReason returns the failure description when state is Failed
func (e *Engine) FailReason() string { return e.failReason }

// IsCoordinator reports whether this device aggregates
func (e *Engine) IsCoordinator() bool { return e.selfDevice == e.coordinator }

// Signature returns the aggregated signature bytes once Aggregated
func (e *Engine) Signature() []byte { return e.signature }

// SelfIndex returns this device's wallet identifier
func (e *Engine) SelfIndex() uint16 { return e.identifiers[e.selfDevice] }

// CommitmentsReceived reports progress through the commitment phase
func (e *Engine) CommitmentsReceived() int { return len(e.commitments) }

// SharesReceived reports progress through the share phase
func (e *Engine) SharesReceived() int { return len(e.shares) }

// Start opens the ceremony. The coordinator marks its own acceptance and
// waits for the rest; participants wait for selection.
func (e *Engine) Start(now time.Time) error {
	if e.state != StateIdle {
		return fmt.Errorf("cannot start signing in state %s", e.state)
	}
	e.state = StateAwaitingAcceptances
	e.phaseDeadline = now.Add(e.phaseTimeout)
	if e.IsCoordinator() {
		e.accepted[e.selfDevice] = true
	}
	e.logger.Sugar().Infow("Signing started",
		"signing_id", e.signingID,
		"coordinator", e.coordinator,
		"threshold", e.params.Threshold)
	return nil
}

// OnAcceptance records a device's acceptance. Only the coordinator
// consumes these; holdsWallet is the caller's verification of the
// device's recorded wallet status. When enough verified holders have
// accepted, the signer set is selected (coordinator first, then by
// identifier) and returned for broadcast.
func (e *Engine) OnAcceptance(fromDevice string, accepted, holdsWallet bool, now time.Time) ([]uint16, error) {
	if !e.IsCoordinator() || e.state != StateAwaitingAcceptances {
		return nil, nil
	}
	if _, ok := e.identifiers[fromDevice]; !ok {
		return nil, fmt.Errorf("acceptance from %s, not a wallet participant", fromDevice)
	}
	if !accepted {
		e.logger.Sugar().Infow("Signing declined", "signing_id", e.signingID, "device", fromDevice)
		return nil, nil
	}
	if !holdsWallet {
		e.logger.Sugar().Warnw("Ignoring acceptance without a verified wallet share",
			"signing_id", e.signingID, "device", fromDevice)
		return nil, nil
	}
	e.accepted[fromDevice] = true

	if len(e.accepted) < int(e.params.Threshold) {
		return nil, nil
	}

	// Select the coordinator plus the lowest-identifier acceptors.
	candidates := make([]uint16, 0, len(e.accepted))
	for device := range e.accepted {
		if device != e.selfDevice {
			candidates = append(candidates, e.identifiers[device])
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	selected := []uint16{e.identifiers[e.selfDevice]}
	selected = append(selected, candidates[:int(e.params.Threshold)-1]...)
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })

	e.state = StateSignerSelection
	e.phaseDeadline = now.Add(e.phaseTimeout)
	e.logger.Sugar().Infow("Signers selected", "signing_id", e.signingID, "selected", selected)
	return selected, nil
}

// OnSelection applies the signer set. A selected device commits and
// returns its commitment for broadcast to the selected signers; a
// non-selected device returns nil and simply awaits the result.
func (e *Engine) OnSelection(selected []uint16, rng io.Reader, now time.Time) (*frost.SigningCommitmentsWire, error) {
	if e.state != StateAwaitingAcceptances && e.state != StateSignerSelection {
		return nil, fmt.Errorf("signer selection in state %s", e.state)
	}
	if len(selected) != int(e.params.Threshold) {
		return nil, e.failWith(fmt.Sprintf("selection names %d signers, expected %d", len(selected), e.params.Threshold))
	}
	for _, index := range selected {
		if _, ok := e.devices[index]; !ok {
			return nil, e.failWith(fmt.Sprintf("selection names unknown identifier %d", index))
		}
	}

	e.selected = append([]uint16(nil), selected...)
	sort.Slice(e.selected, func(i, j int) bool { return e.selected[i] < e.selected[j] })

	if !e.isSelected(e.SelfIndex()) {
		e.notSelected = true
		e.state = StateSignerSelection
		e.phaseDeadline = now.Add(e.phaseTimeout)
		e.logger.Sugar().Infow("Not selected for signing, awaiting result", "signing_id", e.signingID)
		return nil, nil
	}

	nonces, commitments, err := e.params.Commit(e.keyPkg, rng)
	if err != nil {
		return nil, e.failWith(fmt.Sprintf("commitment generation failed: %v", err))
	}
	e.nonces = nonces
	e.commitments[e.SelfIndex()] = commitments
	e.state = StateCommitmentsInProgress
	e.phaseDeadline = now.Add(e.phaseTimeout)

	return frost.EncodeSigningCommitments(e.suite, commitments), nil
}

// ShareSend is a signature share addressed to the coordinator
type ShareSend struct {
	Device string
	Share  *frost.SignatureShareWire
}

// OnCommitment stores a signer's commitment. When the set is complete the
// signing package is formed and this device's share is produced: a
// participant returns it for transmission to the coordinator, while the
// coordinator retains it and may already aggregate (threshold of one).
func (e *Engine) OnCommitment(fromDevice string, senderIndex uint16, wire *frost.SigningCommitmentsWire, now time.Time) (*ShareSend, []byte, error) {
	if e.state == StateFailed || e.state == StateAggregated || e.notSelected {
		return nil, nil, nil
	}
	if e.state != StateCommitmentsInProgress {
		return nil, nil, fmt.Errorf("commitment in state %s", e.state)
	}
	if e.devices[senderIndex] != fromDevice {
		return nil, nil, e.failWith(fmt.Sprintf("commitment sender %s does not match identifier %d", fromDevice, senderIndex))
	}
	if !e.isSelected(senderIndex) {
		return nil, nil, e.failWith(fmt.Sprintf("commitment from non-selected signer %d", senderIndex))
	}
	if _, dup := e.commitments[senderIndex]; dup {
		e.logger.Sugar().Debugw("Discarding duplicate commitment",
			"signing_id", e.signingID, "from", fromDevice)
		return nil, nil, nil
	}

	commitment, err := frost.DecodeSigningCommitments(e.suite, senderIndex, wire)
	if err != nil {
		return nil, nil, e.failWith(fmt.Sprintf("malformed commitment from %s: %v", fromDevice, err))
	}
	e.commitments[senderIndex] = commitment

	if len(e.commitments) < int(e.params.Threshold) {
		return nil, nil, nil
	}
	return e.buildPackageAndSign(now)
}

// buildPackageAndSign forms the signing package from the full commitment
// set and produces this device's share with the nonces it committed.
func (e *Engine) buildPackageAndSign(now time.Time) (*ShareSend, []byte, error) {
	sigPackage, err := e.params.NewSigningPackage(e.message, e.commitments)
	if err != nil {
		return nil, nil, e.failWith(fmt.Sprintf("signing package assembly failed: %v", err))
	}
	e.sigPackage = sigPackage
	e.state = StatePackageReady

	share, err := e.params.Sign(sigPackage, e.nonces, e.keyPkg)
	e.nonces = nil
	if err != nil {
		return nil, nil, e.failWith(fmt.Sprintf("share generation failed: %v", err))
	}

	e.state = StateSharesInProgress
	e.phaseDeadline = now.Add(e.phaseTimeout)

	if !e.IsCoordinator() {
		return &ShareSend{
			Device: e.coordinator,
			Share:  frost.EncodeSignatureShare(e.suite, share),
		}, nil, nil
	}

	e.shares[share.Index] = share

	// Shares that overtook another signer's commitment were buffered;
	// apply them now that the package exists.
	for index, wire := range e.pendingShares {
		delete(e.pendingShares, index)
		if err := e.applyShare(index, wire); err != nil {
			return nil, nil, err
		}
	}

	sig, err := e.tryAggregate()
	if err != nil {
		return nil, nil, err
	}
	return nil, sig, nil
}

// OnShare stores a signer's share at the coordinator. When the set is
// complete the aggregated signature is returned for broadcast.
func (e *Engine) OnShare(fromDevice string, senderIndex uint16, wire *frost.SignatureShareWire) ([]byte, error) {
	if !e.IsCoordinator() || e.state == StateFailed || e.state == StateAggregated {
		return nil, nil
	}
	if e.devices[senderIndex] != fromDevice {
		return nil, e.failWith(fmt.Sprintf("share sender %s does not match identifier %d", fromDevice, senderIndex))
	}
	if !e.isSelected(senderIndex) {
		return nil, e.failWith(fmt.Sprintf("share from non-selected signer %d", senderIndex))
	}

	// A fast signer's share can overtake a slower signer's commitment;
	// hold it until the signing package exists.
	if e.state == StateCommitmentsInProgress {
		if _, dup := e.pendingShares[senderIndex]; !dup {
			e.pendingShares[senderIndex] = wire
		}
		return nil, nil
	}
	if e.state != StateSharesInProgress {
		return nil, fmt.Errorf("signature share in state %s", e.state)
	}

	if err := e.applyShare(senderIndex, wire); err != nil {
		return nil, err
	}
	return e.tryAggregate()
}

func (e *Engine) applyShare(senderIndex uint16, wire *frost.SignatureShareWire) error {
	if _, dup := e.shares[senderIndex]; dup {
		e.logger.Sugar().Debugw("Discarding duplicate signature share",
			"signing_id", e.signingID, "from", e.devices[senderIndex])
		return nil
	}

	share, err := frost.DecodeSignatureShare(e.suite, senderIndex, wire)
	if err != nil {
		return e.failWith(fmt.Sprintf("malformed signature share from %s: %v", e.devices[senderIndex], err))
	}
	e.shares[senderIndex] = share
	return nil
}

// tryAggregate aggregates once every selected signer's share is present.
// At most one aggregated signature is ever produced.
func (e *Engine) tryAggregate() ([]byte, error) {
	if len(e.shares) < int(e.params.Threshold) {
		return nil, nil
	}

	sig, err := e.params.Aggregate(e.sigPackage, e.shares, e.pubPkg)
	if err != nil {
		return nil, e.failWith(fmt.Sprintf("aggregation failed: %v", err))
	}
	e.signature = e.params.SerializeSignature(sig)
	e.state = StateAggregated

	e.logger.Sugar().Infow("Signature aggregated",
		"signing_id", e.signingID,
		"signature", hex.EncodeToString(e.signature))
	return e.signature, nil
}

// OnAggregated applies the coordinator's broadcast result on a
// participant, verifying it against the group public key.
func (e *Engine) OnAggregated(fromDevice, signatureHex string) error {
	if e.state == StateFailed || e.state == StateAggregated {
		return nil
	}
	if fromDevice != e.coordinator {
		return e.failWith(fmt.Sprintf("aggregated signature from %s, expected coordinator %s", fromDevice, e.coordinator))
	}

	raw, err := hex.DecodeString(signatureHex)
	if err != nil {
		return e.failWith(fmt.Sprintf("malformed aggregated signature: %v", err))
	}
	sig, err := e.params.DeserializeSignature(raw)
	if err != nil {
		return e.failWith(fmt.Sprintf("malformed aggregated signature: %v", err))
	}
	if !e.params.Verify(e.message, sig, e.pubPkg.GroupKey) {
		return e.failWith("aggregated signature failed verification")
	}

	e.signature = raw
	e.state = StateAggregated
	e.logger.Sugar().Infow("Aggregated signature verified", "signing_id", e.signingID)
	return nil
}

// CheckDeadline fails the ceremony when the active phase has exceeded its
// deadline, reporting the devices still owed.
func (e *Engine) CheckDeadline(now time.Time) *types.RoundTimeoutError {
	var phase string
	var missing []string

	switch e.state {
	case StateAwaitingAcceptances:
		phase = "acceptance"
		if e.IsCoordinator() {
			for device := range e.identifiers {
				if !e.accepted[device] {
					missing = append(missing, device)
				}
			}
		}
	case StateSignerSelection:
		// Non-selected participants only await the broadcast result.
		phase = "result"
		missing = append(missing, e.coordinator)
	case StateCommitmentsInProgress:
		phase = "commitments"
		for _, index := range e.selected {
			if _, ok := e.commitments[index]; !ok {
				missing = append(missing, e.devices[index])
			}
		}
	case StateSharesInProgress:
		if !e.IsCoordinator() {
			phase = "aggregation"
			missing = append(missing, e.coordinator)
			break
		}
		phase = "shares"
		for _, index := range e.selected {
			if _, ok := e.shares[index]; !ok {
				missing = append(missing, e.devices[index])
			}
		}
	default:
		return nil
	}

	if !now.After(e.phaseDeadline) {
		return nil
	}

	err := &types.RoundTimeoutError{SessionID: e.signingID, Round: phase, MissingSenders: missing}
	e.Fail(err.Error())
	return err
}

// Fail aborts the ceremony and wipes retained nonces. A fresh session
// must be started; shares are never re-randomized in place.
func (e *Engine) Fail(reason string) {
	if e.state == StateFailed {
		return
	}
	e.state = StateFailed
	e.failReason = reason
	if e.nonces != nil {
		e.nonces.Wipe()
		e.nonces = nil
	}
	e.logger.Sugar().Warnw("Signing failed", "signing_id", e.signingID, "reason", reason)
}

func (e *Engine) failWith(reason string) error {
	e.Fail(reason)
	return fmt.Errorf("%s", reason)
}

// IsSelectedDevice reports whether a device is in the signer set
func (e *Engine) IsSelectedDevice(device string) bool {
	index, ok := e.identifiers[device]
	return ok && e.isSelected(index)
}

// DeviceFor resolves a wallet identifier to its device id
func (e *Engine) DeviceFor(index uint16) string {
	return e.devices[index]
}

// SelectedSigners returns the signer set in identifier order
func (e *Engine) SelectedSigners() []uint16 {
	return append([]uint16(nil), e.selected...)
}

func (e *Engine) isSelected(index uint16) bool {
	for _, s := range e.selected {
		if s == index {
			return true
		}
	}
	return false
}
