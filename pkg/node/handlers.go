package node

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-network/frost-wallet-go/pkg/chains"
	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
	"github.com/stars-network/frost-wallet-go/pkg/dkg"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
	"github.com/stars-network/frost-wallet-go/pkg/keystore"
	"github.com/stars-network/frost-wallet-go/pkg/mesh"
	"github.com/stars-network/frost-wallet-go/pkg/persistence"
	"github.com/stars-network/frost-wallet-go/pkg/session"
	"github.com/stars-network/frost-wallet-go/pkg/signing"
	"github.com/stars-network/frost-wallet-go/pkg/types"
	"github.com/stars-network/frost-wallet-go/pkg/ui"
)

// Error kinds surfaced in ErrorNotice notifications
const (
	errKindTransport = "transport"
	errKindProtocol  = "protocol"
	errKindThreshold = "threshold"
	errKindCrypto    = "crypto"
	errKindKeystore  = "keystore"
)

// --- Relay inbound ---

func (n *Node) handleRelayFrame(msg *types.ServerMsg) {
	switch msg.Type {
	case types.ServerMsgDevices:
		n.devices = msg.Devices
		n.notifier.Notify(ui.DeviceList{Devices: msg.Devices})

	case types.ServerMsgError:
		n.logger.Sugar().Warnw("Relay error", "error", msg.Error)

	case types.ServerMsgRelay:
		payload, err := types.DecodeSessionMessage(msg.Data)
		if err != nil {
			n.logger.Sugar().Warnw("Dropping malformed relay payload", "from", msg.From, "error", err)
			return
		}
		n.handleSessionMessage(msg.From, payload)

	default:
		n.logger.Sugar().Warnw("Unknown relay frame", "type", msg.Type)
	}
}

func (n *Node) handleSessionMessage(from string, msg *types.SessionMessage) {
	switch msg.Type {
	case types.SessionMsgProposal:
		invite, err := n.coordinator.OnProposal(from, msg)
		if err != nil {
			n.logger.Sugar().Warnw("Rejected session proposal", "from", from, "error", err)
			return
		}
		n.notifier.Notify(ui.SessionInvite{Session: invite})

	case types.SessionMsgResponse:
		active, err := n.coordinator.OnResponse(from, msg)
		if err != nil {
			n.logger.Sugar().Warnw("Dropping session response", "from", from, "error", err)
			return
		}
		if active {
			n.activateSession()
		}

	case types.SessionMsgSignal:
		sess := n.coordinator.Active()
		if sess == nil || !isParticipant(sess.Participants, from) {
			n.logger.Sugar().Debugw("Dropping signal outside active session", "from", from)
			return
		}
		if err := n.transport.HandleSignal(from, msg); err != nil {
			n.logger.Sugar().Warnw("Signal handling failed", "from", from, "error", err)
		}

	default:
		n.logger.Sugar().Warnw("Unknown session message", "from", from, "type", msg.Type)
	}
}

// --- User intents ---

func (n *Node) handlePropose(cmd ProposeSessionCmd) error {
	curveType := cmd.Curve
	if curveType == "" {
		curveType = n.cfg.DefaultCurve
	}

	sess, err := n.coordinator.Propose(types.DKGKind(), cmd.Total, cmd.Threshold, cmd.Participants, curveType)
	if err != nil {
		return err
	}
	n.sessionDeadline = time.Now().Add(n.cfg.SessionTimeout)

	proposal := types.NewProposalMessage(sess.SessionID, sess.Total, sess.Threshold, sess.Participants, sess.Kind)
	n.broadcastSessionMessage(sess, proposal)
	n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "proposed"})
	return nil
}

func (n *Node) handleAccept(sessionID string) error {
	sess, err := n.coordinator.Accept(sessionID)
	if err != nil {
		return err
	}
	n.sessionDeadline = time.Now().Add(n.cfg.SessionTimeout)
	n.notifier.Notify(ui.SessionInvite{Session: sess, Removed: true})

	var status *types.WalletStatus
	if sess.Kind.Type == types.SessionKindSigning {
		status = n.buildWalletStatus(sess)
	}

	response := types.NewResponseMessage(sessionID, true, status)
	n.broadcastSessionMessage(sess, response)

	// Our own acceptance may complete the set.
	if len(sess.AcceptedDevices) == len(sess.Participants) {
		n.activateSession()
	}
	return nil
}

func (n *Node) handleReject(sessionID string) error {
	invites := n.coordinator.Invites()
	var invite *types.SessionInfo
	for _, inv := range invites {
		if inv.SessionID == sessionID {
			invite = inv
			break
		}
	}
	if err := n.coordinator.Reject(sessionID); err != nil {
		return err
	}
	if invite != nil {
		response := types.NewResponseMessage(sessionID, false, nil)
		if err := n.relayClient.SendPayload(n.runContext(), invite.ProposerID, response); err != nil {
			n.logger.Sugar().Warnw("Failed to send rejection", "session_id", sessionID, "error", err)
		}
		n.notifier.Notify(ui.SessionInvite{Session: invite, Removed: true})
	}
	return nil
}

func (n *Node) handleStartSigning(cmd StartSigningCmd) error {
	record, err := n.keyStore.LoadWallet(cmd.WalletID, n.cfg.WalletPassword)
	if err != nil {
		return fmt.Errorf("failed to load wallet %s: %w", cmd.WalletID, err)
	}

	message, err := hex.DecodeString(cmd.MessageHex)
	if err != nil {
		return fmt.Errorf("transaction data is not valid hex: %w", err)
	}
	if len(message) == 0 {
		return fmt.Errorf("transaction data is empty")
	}

	kind := types.SigningKind(types.SigningParams{
		WalletName:     cmd.WalletID,
		CurveType:      record.Curve.String(),
		Blockchain:     cmd.Blockchain,
		GroupPublicKey: record.KeyPackage.GroupKey,
	})

	sess, err := n.coordinator.Propose(kind, record.Total, record.Threshold, record.Participants, record.Curve)
	if err != nil {
		return err
	}

	n.activeWallet = record
	n.pending = &pendingSigning{
		signingID:  "signing-" + uuid.NewString()[:8],
		record:     record,
		message:    message,
		messageHex: cmd.MessageHex,
		blockchain: cmd.Blockchain,
		chainID:    cmd.ChainID,
	}
	n.sessionDeadline = time.Now().Add(n.cfg.SessionTimeout)

	proposal := types.NewProposalMessage(sess.SessionID, sess.Total, sess.Threshold, sess.Participants, sess.Kind)
	n.broadcastSessionMessage(sess, proposal)
	n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "proposed"})
	return nil
}

// buildWalletStatus inspects the keystore for the wallet a signing
// proposal names. The password never leaves the process; failures are
// reported as status, not errors.
func (n *Node) buildWalletStatus(sess *types.SessionInfo) *types.WalletStatus {
	params := sess.Kind.Data
	if params == nil {
		reason := "proposal missing wallet parameters"
		return &types.WalletStatus{ErrorReason: &reason}
	}

	record, err := n.keyStore.LoadWallet(params.WalletName, n.cfg.WalletPassword)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			reason := "wallet not found"
			return &types.WalletStatus{ErrorReason: &reason}
		}
		reason := "wallet could not be opened"
		return &types.WalletStatus{HasWallet: true, ErrorReason: &reason}
	}

	if record.KeyPackage.GroupKey != params.GroupPublicKey {
		reason := "group public key mismatch"
		return &types.WalletStatus{HasWallet: true, ErrorReason: &reason}
	}

	n.activeWallet = record
	identifier := record.Identifier
	return &types.WalletStatus{HasWallet: true, WalletValid: true, Identifier: &identifier}
}

// --- Session activation and the mesh-ready barrier ---

func (n *Node) activateSession() {
	sess := n.coordinator.Active()
	if sess == nil || n.meshState != nil {
		return
	}

	n.meshState = mesh.NewMesh(n.cfg.DeviceID, sess.SessionID, sess.Participants)
	n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "active"})

	for _, peer := range n.meshState.Peers() {
		if err := n.transport.EnsurePeer(peer); err != nil {
			n.logger.Sugar().Warnw("Peer bring-up failed", "peer", peer, "error", err)
		}
	}

	// Replay channel opens and MeshReady announcements that raced ahead
	// of activation.
	for peer, open := range n.openPeers {
		if open && n.meshState.MarkChannelOpen(peer) {
			n.announceMeshReady()
		}
	}
	for device, sessionID := range n.earlyReady {
		if sessionID == sess.SessionID {
			n.meshState.MarkMeshReady(device)
		}
	}
	n.earlyReady = make(map[string]string)
	n.checkBarrier()
}

// announceMeshReady broadcasts MeshReady on every open channel once this
// device is own-ready.
func (n *Node) announceMeshReady() {
	announcement := &types.PeerMessage{
		Type:      types.PeerMsgMeshReady,
		SessionID: n.meshState.SessionID(),
		DeviceID:  n.cfg.DeviceID,
	}
	n.broadcastPeers(n.meshState.Peers(), announcement)
}

func (n *Node) handleMeshEvent(ev mesh.Event) {
	switch e := ev.(type) {
	case mesh.ChannelOpenEvent:
		n.openPeers[e.PeerID] = true
		if n.meshState == nil {
			return
		}
		if n.meshState.MarkChannelOpen(e.PeerID) {
			n.announceMeshReady()
		}
		n.checkBarrier()

	case mesh.ChannelClosedEvent:
		n.handlePeerLost(e.PeerID, e.Err)

	case mesh.PeerMessageEvent:
		msg, err := types.DecodePeerMessage(e.Payload)
		if err != nil {
			n.failSession(errKindProtocol, fmt.Sprintf("malformed peer message from %s", e.PeerID))
			n.transport.ClosePeer(e.PeerID)
			return
		}
		n.handlePeerMessage(e.PeerID, msg)
	}
}

func (n *Node) handlePeerLost(peerID string, cause error) {
	delete(n.openPeers, peerID)
	if n.meshState == nil {
		return
	}
	n.meshState.MarkChannelClosed(peerID)
	n.logger.Sugar().Warnw("Peer lost", "peer", peerID, "error", cause)

	if n.dkgEngine != nil && n.dkgEngine.State() != dkg.StateFinalized {
		// No partial recovery during an active DKG.
		n.failSession(errKindTransport, fmt.Sprintf("peer %s lost during key generation", peerID))
		return
	}
	if n.signEngine != nil && n.signEngine.State() != signing.StateAggregated && n.signEngine.IsSelectedDevice(peerID) {
		n.failSession(errKindTransport, fmt.Sprintf("selected signer %s lost during signing", peerID))
		return
	}
	if !n.protocolStarted {
		// Bounded reconnect attempts during bring-up.
		if n.reconnects == nil {
			n.reconnects = make(map[string]int)
		}
		if n.reconnects[peerID] < maxPeerReconnects {
			n.reconnects[peerID]++
			n.transport.ClosePeer(peerID)
			if err := n.transport.EnsurePeer(peerID); err != nil {
				n.logger.Sugar().Warnw("Peer reconnect failed", "peer", peerID, "error", err)
			}
		}
	}
}

// checkBarrier transitions to ProtocolStart when this device is
// own-ready and every other participant has announced MeshReady.
func (n *Node) checkBarrier() {
	if n.meshState == nil || n.protocolStarted || !n.meshState.Ready() {
		return
	}
	n.protocolStarted = true
	n.startProtocol()
}

func (n *Node) startProtocol() {
	sess := n.coordinator.Active()
	if sess == nil {
		return
	}
	n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "protocol_start"})

	switch sess.Kind.Type {
	case types.SessionKindDKG:
		n.startDKG(sess)
	case types.SessionKindSigning:
		n.startSigningProtocol(sess)
	}
}

func (n *Node) startDKG(sess *types.SessionInfo) {
	curveType := sess.CurveType
	if curveType == "" || curveType == config.CurveTypeUnknown {
		curveType = n.cfg.DefaultCurve
	}
	suite, err := curve.ForCurve(curveType)
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	params, err := frost.NewParams(suite, sess.Threshold, sess.Total)
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	identifiers, err := n.coordinator.Identifiers()
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}

	engine, err := dkg.NewEngine(sess.SessionID, params, n.cfg.DeviceID, identifiers, n.cfg.RoundTimeout, n.logger)
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	n.dkgEngine = engine
	n.activeSuite = suite

	wire, err := engine.Start(n.rng, time.Now())
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	n.broadcastPeers(n.meshState.Peers(), n.dkgPackageMessage(types.PeerMsgDkgRound1Package, sess.SessionID, wire))
	n.notifier.Notify(ui.DKGProgress{SessionID: sess.SessionID, Round: 1, Received: 0, Expected: int(sess.Total) - 1})
}

func (n *Node) startSigningProtocol(sess *types.SessionInfo) {
	if n.pending == nil {
		// Participants wait for the proposer's SigningRequest.
		return
	}

	engine, err := n.newSigningEngine(n.pending.signingID, n.pending.record, n.pending.message, n.cfg.DeviceID)
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	n.signEngine = engine
	if err := engine.Start(time.Now()); err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}

	request := &types.PeerMessage{
		Type:            types.PeerMsgSigningRequest,
		SigningID:       n.pending.signingID,
		TransactionData: n.pending.messageHex,
		RequiredSigners: int(n.pending.record.Threshold),
		Blockchain:      n.pending.blockchain,
		ChainID:         n.pending.chainID,
	}
	n.broadcastPeers(n.meshState.Peers(), request)
	n.notifier.Notify(ui.SigningProgress{
		SigningID: n.pending.signingID,
		Phase:     "awaiting_acceptances",
		Received:  1,
		Expected:  int(n.pending.record.Threshold),
	})
}

func (n *Node) newSigningEngine(signingID string, record *keystore.WalletRecord, message []byte, coordinator string) (*signing.Engine, error) {
	suite, err := curve.ForCurve(record.Curve)
	if err != nil {
		return nil, err
	}
	params, err := frost.NewParams(suite, record.Threshold, record.Total)
	if err != nil {
		return nil, err
	}
	keyPkg, err := frost.DecodeKeyPackage(suite, record.KeyPackage)
	if err != nil {
		return nil, fmt.Errorf("stored key package is unusable: %w", err)
	}
	pubPkg, err := frost.DecodePublicKeyPackage(suite, record.PublicKeyPackage)
	if err != nil {
		return nil, fmt.Errorf("stored public key package is unusable: %w", err)
	}

	n.activeSuite = suite
	return signing.NewEngine(signing.Config{
		SigningID:   signingID,
		Params:      params,
		SelfDevice:  n.cfg.DeviceID,
		Coordinator: coordinator,
		Identifiers: session.IdentifierMap(record.Participants),
		KeyPackage:  keyPkg,
		PublicKey:   pubPkg,
		Message:     message,
		Timeout:     n.cfg.SigningTimeout,
		Logger:      n.logger,
	})
}

// --- Peer data-channel inbound ---

func (n *Node) handlePeerMessage(from string, msg *types.PeerMessage) {
	sess := n.coordinator.Active()
	if sess == nil || !isParticipant(sess.Participants, from) {
		n.logger.Sugar().Debugw("Dropping peer message outside session", "from", from, "type", msg.Type)
		return
	}

	switch msg.Type {
	case types.PeerMsgSimple:
		n.logger.Sugar().Infow("Peer message", "from", from, "text", msg.Text)

	case types.PeerMsgChannelOpen:
		n.logger.Sugar().Debugw("Peer announced channel open", "from", from)

	case types.PeerMsgMeshReady:
		if n.meshState == nil {
			n.earlyReady[from] = msg.SessionID
			return
		}
		if msg.SessionID == n.meshState.SessionID() {
			n.meshState.MarkMeshReady(from)
			n.checkBarrier()
		}

	case types.PeerMsgDkgRound1Package:
		n.handleDKGRound1(from, sess, msg)

	case types.PeerMsgDkgRound2Package:
		n.handleDKGRound2(from, sess, msg)

	case types.PeerMsgSigningRequest:
		n.handleSigningRequest(from, sess, msg)

	case types.PeerMsgSigningAcceptance:
		n.handleSigningAcceptance(from, msg)

	case types.PeerMsgSignerSelection:
		n.handleSignerSelection(from, sess, msg)

	case types.PeerMsgSigningCommitment:
		n.handleSigningCommitment(from, msg)

	case types.PeerMsgSignatureShare:
		n.handleSignatureShare(from, msg)

	case types.PeerMsgAggregatedSignature:
		n.handleAggregatedSignature(from, msg)

	default:
		n.logger.Sugar().Warnw("Unknown peer message", "from", from, "type", msg.Type)
	}
}

func (n *Node) handleDKGRound1(from string, sess *types.SessionInfo, msg *types.PeerMessage) {
	if n.dkgEngine == nil || msg.SessionID != sess.SessionID {
		n.logger.Sugar().Debugw("Discarding stale DKG round 1 package", "from", from)
		return
	}
	var wire frost.Round1PackageWire
	if err := json.Unmarshal(msg.Package, &wire); err != nil {
		n.failSession(errKindProtocol, fmt.Sprintf("malformed round 1 package from %s", from))
		return
	}

	sends, ready, err := n.dkgEngine.OnRound1(from, &wire, time.Now())
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	for _, send := range sends {
		n.sendPeer(send.Device, n.dkgPackageMessage(types.PeerMsgDkgRound2Package, sess.SessionID, send.Package))
	}
	n.notifier.Notify(ui.DKGProgress{
		SessionID: sess.SessionID,
		Round:     1,
		Received:  n.dkgEngine.Round1Received(),
		Expected:  int(sess.Total) - 1,
	})
	if ready {
		n.finalizeDKG(sess)
	}
}

func (n *Node) handleDKGRound2(from string, sess *types.SessionInfo, msg *types.PeerMessage) {
	if n.dkgEngine == nil || msg.SessionID != sess.SessionID {
		n.logger.Sugar().Debugw("Discarding stale DKG round 2 package", "from", from)
		return
	}
	var wire frost.Round2PackageWire
	if err := json.Unmarshal(msg.Package, &wire); err != nil {
		n.failSession(errKindProtocol, fmt.Sprintf("malformed round 2 package from %s", from))
		return
	}

	ready, err := n.dkgEngine.OnRound2(from, &wire)
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	n.notifier.Notify(ui.DKGProgress{
		SessionID: sess.SessionID,
		Round:     2,
		Received:  n.dkgEngine.Round2Received(),
		Expected:  int(sess.Total) - 1,
	})
	if ready {
		n.finalizeDKG(sess)
	}
}

func (n *Node) handleSigningRequest(from string, sess *types.SessionInfo, msg *types.PeerMessage) {
	if from != sess.ProposerID {
		n.failSession(errKindProtocol, fmt.Sprintf("signing request from %s, expected proposer %s", from, sess.ProposerID))
		return
	}
	if n.signEngine != nil || n.activeWallet == nil {
		n.logger.Sugar().Debugw("Discarding signing request", "from", from)
		return
	}

	message, err := hex.DecodeString(msg.TransactionData)
	if err != nil || len(message) == 0 {
		n.failSession(errKindProtocol, fmt.Sprintf("malformed transaction data from %s", from))
		return
	}

	engine, err := n.newSigningEngine(msg.SigningID, n.activeWallet, message, from)
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	n.signEngine = engine
	if err := engine.Start(time.Now()); err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}

	approved := n.notifier.Confirm(ui.ConfirmationRequest{
		SigningID:  msg.SigningID,
		WalletID:   n.activeWallet.WalletID,
		Blockchain: msg.Blockchain,
		MessageHex: msg.TransactionData,
	}, n.cfg.SigningTimeout)

	acceptance := &types.PeerMessage{
		Type:      types.PeerMsgSigningAcceptance,
		SigningID: msg.SigningID,
		Accepted:  &approved,
	}
	n.sendPeer(from, acceptance)
	if !approved {
		n.logger.Sugar().Infow("Signing declined by user", "signing_id", msg.SigningID)
	}
}

func (n *Node) handleSigningAcceptance(from string, msg *types.PeerMessage) {
	if n.signEngine == nil || msg.SigningID != n.signEngine.SigningID() || msg.Accepted == nil {
		return
	}

	holdsWallet := false
	if status := n.coordinator.WalletStatusFor(from); status != nil {
		holdsWallet = status.HasWallet && status.WalletValid
	}

	selected, err := n.signEngine.OnAcceptance(from, *msg.Accepted, holdsWallet, time.Now())
	if err != nil {
		n.failSession(errKindProtocol, err.Error())
		return
	}
	if selected == nil {
		return
	}

	// Broadcast the selection, then apply it locally.
	selection := &types.PeerMessage{
		Type:            types.PeerMsgSignerSelection,
		SigningID:       msg.SigningID,
		SelectedSigners: selected,
	}
	n.broadcastPeers(n.meshState.Peers(), selection)
	n.applySelection(selected)
}

func (n *Node) handleSignerSelection(from string, sess *types.SessionInfo, msg *types.PeerMessage) {
	if n.signEngine == nil || msg.SigningID != n.signEngine.SigningID() {
		return
	}
	if from != sess.ProposerID {
		n.failSession(errKindProtocol, fmt.Sprintf("signer selection from %s, expected proposer %s", from, sess.ProposerID))
		return
	}
	n.applySelection(msg.SelectedSigners)
}

func (n *Node) applySelection(selected []uint16) {
	commitment, err := n.signEngine.OnSelection(selected, n.rng, time.Now())
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	if commitment == nil {
		return
	}

	raw, err := json.Marshal(commitment)
	if err != nil {
		n.failSession(errKindProtocol, fmt.Sprintf("failed to encode commitment: %v", err))
		return
	}
	out := &types.PeerMessage{
		Type:             types.PeerMsgSigningCommitment,
		SigningID:        n.signEngine.SigningID(),
		SenderIdentifier: n.signEngine.SelfIndex(),
		Commitment:       raw,
	}
	for _, index := range n.signEngine.SelectedSigners() {
		device := n.signEngine.DeviceFor(index)
		if device != n.cfg.DeviceID {
			n.sendPeer(device, out)
		}
	}
	n.notifier.Notify(ui.SigningProgress{
		SigningID: n.signEngine.SigningID(),
		Phase:     "commitments",
		Received:  n.signEngine.CommitmentsReceived(),
		Expected:  len(selected),
	})
}

func (n *Node) handleSigningCommitment(from string, msg *types.PeerMessage) {
	if n.signEngine == nil || msg.SigningID != n.signEngine.SigningID() {
		return
	}
	var wire frost.SigningCommitmentsWire
	if err := json.Unmarshal(msg.Commitment, &wire); err != nil {
		n.failSession(errKindProtocol, fmt.Sprintf("malformed commitment from %s", from))
		return
	}

	shareSend, sigBytes, err := n.signEngine.OnCommitment(from, msg.SenderIdentifier, &wire, time.Now())
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	n.notifier.Notify(ui.SigningProgress{
		SigningID: n.signEngine.SigningID(),
		Phase:     "commitments",
		Received:  n.signEngine.CommitmentsReceived(),
		Expected:  len(n.signEngine.SelectedSigners()),
	})

	if shareSend != nil {
		raw, err := json.Marshal(shareSend.Share)
		if err != nil {
			n.failSession(errKindProtocol, fmt.Sprintf("failed to encode signature share: %v", err))
			return
		}
		n.sendPeer(shareSend.Device, &types.PeerMessage{
			Type:             types.PeerMsgSignatureShare,
			SigningID:        n.signEngine.SigningID(),
			SenderIdentifier: n.signEngine.SelfIndex(),
			Share:            raw,
		})
	}
	if sigBytes != nil {
		n.broadcastAggregated(sigBytes)
	}
}

func (n *Node) handleSignatureShare(from string, msg *types.PeerMessage) {
	if n.signEngine == nil || msg.SigningID != n.signEngine.SigningID() {
		return
	}
	var wire frost.SignatureShareWire
	if err := json.Unmarshal(msg.Share, &wire); err != nil {
		n.failSession(errKindProtocol, fmt.Sprintf("malformed signature share from %s", from))
		return
	}

	sigBytes, err := n.signEngine.OnShare(from, msg.SenderIdentifier, &wire)
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	n.notifier.Notify(ui.SigningProgress{
		SigningID: n.signEngine.SigningID(),
		Phase:     "shares",
		Received:  n.signEngine.SharesReceived(),
		Expected:  len(n.signEngine.SelectedSigners()),
	})
	if sigBytes != nil {
		n.broadcastAggregated(sigBytes)
	}
}

func (n *Node) handleAggregatedSignature(from string, msg *types.PeerMessage) {
	if n.signEngine == nil || msg.SigningID != n.signEngine.SigningID() {
		return
	}
	if err := n.signEngine.OnAggregated(from, msg.Signature); err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}
	if n.signEngine.State() == signing.StateAggregated {
		n.finishSigning()
	}
}

func (n *Node) broadcastAggregated(sigBytes []byte) {
	out := &types.PeerMessage{
		Type:      types.PeerMsgAggregatedSignature,
		SigningID: n.signEngine.SigningID(),
		Signature: hex.EncodeToString(sigBytes),
	}
	n.broadcastPeers(n.meshState.Peers(), out)
	n.finishSigning()
}

// --- Ceremony completion ---

func (n *Node) finalizeDKG(sess *types.SessionInfo) {
	keyPkg, pubPkg, err := n.dkgEngine.Finalize()
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}

	// The wallet id is the session id, so every participant stores the
	// ceremony's output under the same name.
	walletID := sess.SessionID

	groupKeyBytes := frost.SerializeVerifyingKey(pubPkg)
	addresses, err := chains.DeriveAddresses(n.activeSuite.Curve, groupKeyBytes)
	if err != nil {
		n.failSession(errKindCrypto, err.Error())
		return
	}

	record := &keystore.WalletRecord{
		Version:          keystore.WalletRecordVersion,
		WalletID:         walletID,
		Curve:            n.activeSuite.Curve,
		Total:            sess.Total,
		Threshold:        sess.Threshold,
		Identifier:       n.dkgEngine.SelfIndex(),
		KeyPackage:       frost.EncodeKeyPackage(n.activeSuite, keyPkg),
		PublicKeyPackage: frost.EncodePublicKeyPackage(n.activeSuite, pubPkg),
		Participants:     session.SortedParticipants(sess.Participants),
		Addresses:        addresses,
		CreatedAt:        time.Now().UTC(),
	}
	saveErr := n.keyStore.SaveWallet(record, n.cfg.WalletPassword)
	keyPkg.Wipe()
	if saveErr != nil {
		n.failSession(errKindKeystore, fmt.Sprintf("failed to persist wallet: %v", saveErr))
		return
	}

	n.journalSession(sess, persistence.OutcomeFinalized, walletID, "")
	n.notifier.Notify(ui.DKGComplete{
		WalletID:       walletID,
		GroupPublicKey: n.activeSuite.EncodePoint(pubPkg.GroupKey),
		Identifier:     n.dkgEngine.SelfIndex(),
	})
	n.notifier.Notify(ui.WalletList{Wallets: n.keyStore.List()})
	n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "finalized"})
	n.teardownSession()
}

func (n *Node) finishSigning() {
	sess := n.coordinator.Active()
	signingID := n.signEngine.SigningID()
	signature := hex.EncodeToString(n.signEngine.Signature())

	if sess != nil {
		walletID := ""
		if n.activeWallet != nil {
			walletID = n.activeWallet.WalletID
		}
		n.journalSession(sess, persistence.OutcomeAggregated, walletID, "")
		n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "aggregated"})
	}
	n.notifier.Notify(ui.SigningComplete{SigningID: signingID, SignatureHex: signature})
	n.teardownSession()
}

// --- Timers and teardown ---

func (n *Node) handleTick(now time.Time) {
	if n.coordinator.Active() != nil && !n.protocolStarted && now.After(n.sessionDeadline) {
		if n.meshState != nil {
			n.failSession(errKindThreshold, "mesh bring-up timed out")
		} else {
			n.failSession(errKindThreshold, "session negotiation timed out")
		}
		return
	}
	if n.dkgEngine != nil {
		if terr := n.dkgEngine.CheckDeadline(now); terr != nil {
			n.failSession(errKindThreshold, terr.Error())
			return
		}
	}
	if n.signEngine != nil {
		if terr := n.signEngine.CheckDeadline(now); terr != nil {
			n.failSession(errKindThreshold, terr.Error())
		}
	}
}

func (n *Node) failSession(kind, reason string) {
	sess := n.coordinator.Active()
	n.logger.Sugar().Errorw("Session failed", "kind", kind, "reason", reason)

	if n.dkgEngine != nil {
		n.dkgEngine.Fail(reason)
	}
	if n.signEngine != nil {
		n.signEngine.Fail(reason)
	}
	if sess != nil {
		n.journalSession(sess, persistence.OutcomeFailed, "", reason)
		n.notifier.Notify(ui.SessionState{SessionID: sess.SessionID, State: "failed"})
	}
	n.notifier.Notify(ui.ErrorNotice{Kind: kind, Message: reason})

	// Unrecoverable failure tears the peer connections down. A completed
	// ceremony leaves them up: peers still draining the final packages
	// must not observe a spurious loss.
	if n.meshState != nil {
		for _, peer := range n.meshState.Peers() {
			n.transport.ClosePeer(peer)
			delete(n.openPeers, peer)
		}
	}
	n.teardownSession()
}

// teardownSession discards session state, leaving established peer
// connections in place. Subsequent protocol commands for the dead
// session find no engine and are dropped.
func (n *Node) teardownSession() {
	n.coordinator.Clear()
	n.meshState = nil
	n.dkgEngine = nil
	n.signEngine = nil
	n.pending = nil
	n.activeWallet = nil
	n.activeSuite = nil
	n.protocolStarted = false
	n.reconnects = nil
	n.earlyReady = make(map[string]string)
}

func (n *Node) journalSession(sess *types.SessionInfo, outcome, walletID, reason string) {
	record := &persistence.SessionRecord{
		SessionID:    sess.SessionID,
		Kind:         sess.Kind.Type,
		CurveType:    sess.CurveType.String(),
		Participants: sess.Participants,
		WalletID:     walletID,
		Outcome:      outcome,
		Reason:       reason,
		CompletedAt:  time.Now().UTC(),
	}
	if err := n.stateStore.SaveSessionRecord(record); err != nil {
		n.logger.Sugar().Warnw("Failed to journal session", "session_id", sess.SessionID, "error", err)
	}
}

// --- Send helpers ---

func (n *Node) dkgPackageMessage(msgType, sessionID string, pkg any) *types.PeerMessage {
	raw, err := json.Marshal(pkg)
	if err != nil {
		n.logger.Sugar().Errorw("Failed to encode DKG package", "error", err)
		return &types.PeerMessage{Type: msgType, SessionID: sessionID}
	}
	return &types.PeerMessage{Type: msgType, SessionID: sessionID, Package: raw}
}

func (n *Node) sendPeer(device string, msg *types.PeerMessage) {
	payload, err := msg.Encode()
	if err != nil {
		n.logger.Sugar().Errorw("Failed to encode peer message", "to", device, "error", err)
		return
	}
	if err := n.transport.Send(device, payload); err != nil {
		n.logger.Sugar().Warnw("Peer send failed", "to", device, "type", msg.Type, "error", err)
	}
}

func (n *Node) broadcastPeers(devices []string, msg *types.PeerMessage) {
	for _, device := range devices {
		n.sendPeer(device, msg)
	}
}

func (n *Node) broadcastSessionMessage(sess *types.SessionInfo, msg *types.SessionMessage) {
	for _, device := range sess.Participants {
		if device == n.cfg.DeviceID {
			continue
		}
		if err := n.relayClient.SendPayload(n.runContext(), device, msg); err != nil {
			n.logger.Sugar().Warnw("Relay send failed", "to", device, "error", err)
		}
	}
}

func isParticipant(participants []string, device string) bool {
	for _, p := range participants {
		if p == device {
			return true
		}
	}
	return false
}
