// Package session negotiates ceremony sessions: proposal and acceptance
// tracking, the Active transition, and the deterministic identifier
// mapping every protocol message relies on.
package session

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// IdentifierMap assigns protocol identifiers 1..N over the lexicographically
// sorted participant set. It is a pure function of the set: every device
// derives an identical mapping.
func IdentifierMap(participants []string) map[string]uint16 {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	m := make(map[string]uint16, len(sorted))
	for i, id := range sorted {
		m[id] = uint16(i + 1)
	}
	return m
}

// SortedParticipants returns the participant set in identifier order
func SortedParticipants(participants []string) []string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	return sorted
}

// Coordinator tracks the device's pending invitations and its single
// active session. It is owned and mutated only by the orchestrator.
type Coordinator struct {
	selfID string
	logger *zap.Logger

	invites map[string]*types.SessionInfo
	active  *types.SessionInfo

	// walletStatuses records, per device, the wallet_status carried in
	// signing-session responses; signer selection verifies against it.
	walletStatuses map[string]*types.WalletStatus
}

// NewCoordinator creates a session coordinator for this device
func NewCoordinator(selfID string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		selfID:         selfID,
		logger:         logger,
		invites:        make(map[string]*types.SessionInfo),
		walletStatuses: make(map[string]*types.WalletStatus),
	}
}

// Propose creates a new session proposed by this device. The caller
// broadcasts the proposal to every other participant through the relay.
func (c *Coordinator) Propose(kind types.SessionKind, total, threshold uint16, participants []string, curveType config.CurveType) (*types.SessionInfo, error) {
	if c.active != nil {
		return nil, fmt.Errorf("session %s is already active", c.active.SessionID)
	}
	if total < 2 {
		return nil, fmt.Errorf("session needs at least 2 participants, got %d", total)
	}
	if threshold < 1 || threshold > total {
		return nil, fmt.Errorf("threshold must be in [1, %d], got %d", total, threshold)
	}
	if int(total) != len(participants) {
		return nil, fmt.Errorf("participant list has %d entries, expected %d", len(participants), total)
	}
	if !contains(participants, c.selfID) {
		return nil, fmt.Errorf("proposer %s must be a participant", c.selfID)
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if seen[p] {
			return nil, fmt.Errorf("duplicate participant %s", p)
		}
		seen[p] = true
	}

	sess := &types.SessionInfo{
		SessionID:       "session-" + uuid.NewString()[:8],
		ProposerID:      c.selfID,
		Total:           total,
		Threshold:       threshold,
		Participants:    SortedParticipants(participants),
		AcceptedDevices: []string{c.selfID},
		Kind:            kind,
		CurveType:       curveType,
	}
	c.active = sess

	c.logger.Sugar().Infow("Session proposed",
		"session_id", sess.SessionID,
		"kind", kind.Type,
		"total", total,
		"threshold", threshold,
		"curve", curveType)
	return sess, nil
}

// OnProposal records an inbound invitation awaiting user decision
func (c *Coordinator) OnProposal(from string, msg *types.SessionMessage) (*types.SessionInfo, error) {
	if msg.SessionType == nil {
		return nil, fmt.Errorf("proposal %s missing session type", msg.SessionID)
	}
	if !contains(msg.Participants, c.selfID) {
		return nil, fmt.Errorf("proposal %s does not include this device", msg.SessionID)
	}
	if _, exists := c.invites[msg.SessionID]; exists {
		return nil, fmt.Errorf("duplicate proposal for session %s", msg.SessionID)
	}

	curveType, err := msg.SessionType.Curve()
	if err != nil {
		return nil, fmt.Errorf("proposal %s: %w", msg.SessionID, err)
	}

	invite := &types.SessionInfo{
		SessionID:       msg.SessionID,
		ProposerID:      from,
		Total:           msg.Total,
		Threshold:       msg.Threshold,
		Participants:    SortedParticipants(msg.Participants),
		AcceptedDevices: []string{from},
		Kind:            *msg.SessionType,
		CurveType:       curveType,
	}
	c.invites[msg.SessionID] = invite

	c.logger.Sugar().Infow("Session invitation received",
		"session_id", msg.SessionID,
		"proposer", from,
		"kind", msg.SessionType.Type)
	return invite, nil
}

// Accept promotes an invitation to this device's session. The caller
// broadcasts the acceptance response to the other participants.
func (c *Coordinator) Accept(sessionID string) (*types.SessionInfo, error) {
	invite, ok := c.invites[sessionID]
	if !ok {
		return nil, fmt.Errorf("no invitation for session %s", sessionID)
	}
	if c.active != nil {
		return nil, fmt.Errorf("session %s is already active", c.active.SessionID)
	}

	delete(c.invites, sessionID)
	c.active = invite
	c.recordAcceptance(invite, c.selfID)
	return invite, nil
}

// Reject discards an invitation
func (c *Coordinator) Reject(sessionID string) error {
	if _, ok := c.invites[sessionID]; !ok {
		return fmt.Errorf("no invitation for session %s", sessionID)
	}
	delete(c.invites, sessionID)
	return nil
}

// OnResponse applies a participant's acceptance or rejection. It returns
// true when this response completes the acceptance set, transitioning the
// session to Active exactly once.
func (c *Coordinator) OnResponse(from string, msg *types.SessionMessage) (bool, error) {
	sess := c.lookup(msg.SessionID)
	if sess == nil {
		return false, fmt.Errorf("response for unknown session %s", msg.SessionID)
	}
	if !contains(sess.Participants, from) {
		return false, fmt.Errorf("response from %s, not a participant of %s", from, msg.SessionID)
	}

	if msg.Accepted == nil || !*msg.Accepted {
		c.logger.Sugar().Infow("Session rejected by participant", "session_id", msg.SessionID, "device", from)
		return false, nil
	}

	if msg.WalletStatus != nil {
		c.walletStatuses[from] = msg.WalletStatus
	}

	wasComplete := len(sess.AcceptedDevices) == len(sess.Participants)
	c.recordAcceptance(sess, from)

	complete := len(sess.AcceptedDevices) == len(sess.Participants)
	if complete && !wasComplete && sess == c.active {
		c.logger.Sugar().Infow("Session active, all participants accepted",
			"session_id", sess.SessionID, "participants", len(sess.Participants))
		return true, nil
	}
	return false, nil
}

// Active returns the device's current session, or nil
func (c *Coordinator) Active() *types.SessionInfo {
	return c.active
}

// Invites returns pending invitations sorted by session id
func (c *Coordinator) Invites() []*types.SessionInfo {
	out := make([]*types.SessionInfo, 0, len(c.invites))
	for _, inv := range c.invites {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Identifiers returns the active session's device-to-identifier mapping
func (c *Coordinator) Identifiers() (map[string]uint16, error) {
	if c.active == nil {
		return nil, fmt.Errorf("no active session")
	}
	return IdentifierMap(c.active.Participants), nil
}

// SelfIdentifier returns this device's identifier in the active session
func (c *Coordinator) SelfIdentifier() (uint16, error) {
	ids, err := c.Identifiers()
	if err != nil {
		return 0, err
	}
	id, ok := ids[c.selfID]
	if !ok {
		return 0, fmt.Errorf("device %s is not a participant", c.selfID)
	}
	return id, nil
}

// WalletStatusFor returns the recorded wallet status for a device
func (c *Coordinator) WalletStatusFor(deviceID string) *types.WalletStatus {
	if deviceID == c.selfID {
		// The proposer trusts its own keystore directly.
		return nil
	}
	return c.walletStatuses[deviceID]
}

// Clear tears down the active session and its recorded statuses
func (c *Coordinator) Clear() {
	c.active = nil
	c.walletStatuses = make(map[string]*types.WalletStatus)
}

func (c *Coordinator) lookup(sessionID string) *types.SessionInfo {
	if c.active != nil && c.active.SessionID == sessionID {
		return c.active
	}
	return c.invites[sessionID]
}

// recordAcceptance grows the acceptance set; it never shrinks
func (c *Coordinator) recordAcceptance(sess *types.SessionInfo, deviceID string) {
	if !contains(sess.AcceptedDevices, deviceID) {
		sess.AcceptedDevices = append(sess.AcceptedDevices, deviceID)
		sort.Strings(sess.AcceptedDevices)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
