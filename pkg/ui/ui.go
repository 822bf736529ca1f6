// Package ui defines the push contract between the core and any
// presentation layer: typed notifications for state transitions and
// synchronous confirmation requests for signing approvals.
package ui

import (
	"sync/atomic"
	"time"

	"github.com/stars-network/frost-wallet-go/pkg/keystore"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// Notification is a state-transition push from the core
type Notification interface {
	isNotification()
	// Lossy notifications may be dropped under backpressure.
	Lossy() bool
}

// ConnectionStatus reports relay connectivity changes
type ConnectionStatus struct {
	Connected bool
	Err       error
}

func (ConnectionStatus) isNotification() {}
func (ConnectionStatus) Lossy() bool     { return false }

// DeviceList reports the relay's current membership
type DeviceList struct {
	Devices []string
}

func (DeviceList) isNotification() {}
func (DeviceList) Lossy() bool     { return true }

// SessionInvite reports an invitation added or removed
type SessionInvite struct {
	Session *types.SessionInfo
	Removed bool
}

func (SessionInvite) isNotification() {}
func (SessionInvite) Lossy() bool     { return false }

// SessionState reports the active session's lifecycle transitions
type SessionState struct {
	SessionID string
	State     string
}

func (SessionState) isNotification() {}
func (SessionState) Lossy() bool     { return false }

// DKGProgress reports round progress during key generation
type DKGProgress struct {
	SessionID string
	Round     int
	Received  int
	Expected  int
}

func (DKGProgress) isNotification() {}
func (DKGProgress) Lossy() bool     { return true }

// SigningProgress reports phase progress during signing
type SigningProgress struct {
	SigningID string
	Phase     string
	Received  int
	Expected  int
}

func (SigningProgress) isNotification() {}
func (SigningProgress) Lossy() bool     { return true }

// WalletList reports keystore contents after a change
type WalletList struct {
	Wallets []*keystore.WalletMetadata
}

func (WalletList) isNotification() {}
func (WalletList) Lossy() bool     { return false }

// DKGComplete reports a finalized key generation ceremony
type DKGComplete struct {
	WalletID       string
	GroupPublicKey string
	Identifier     uint16
}

func (DKGComplete) isNotification() {}
func (DKGComplete) Lossy() bool     { return false }

// SigningComplete reports an aggregated signature
type SigningComplete struct {
	SigningID    string
	SignatureHex string
}

func (SigningComplete) isNotification() {}
func (SigningComplete) Lossy() bool     { return false }

// ErrorNotice surfaces a failure to the user
type ErrorNotice struct {
	Kind    string
	Message string
}

func (ErrorNotice) isNotification() {}
func (ErrorNotice) Lossy() bool     { return false }

// ConfirmationRequest asks the user to approve a signing request. The
// core blocks on Reply up to its timeout; no reply means rejection.
type ConfirmationRequest struct {
	SigningID  string
	WalletID   string
	Blockchain string
	MessageHex string
	Reply      chan<- bool
}

// Notifier is implemented by the presentation layer
type Notifier interface {
	// Notify pushes a state transition. Must not block the core beyond
	// queueing; lossy kinds may be dropped.
	Notify(n Notification)
	// Confirm asks for a signing approval, waiting up to timeout.
	Confirm(req ConfirmationRequest, timeout time.Duration) bool
}

// ChannelNotifier delivers notifications on a bounded channel. Lossy
// notifications are dropped (and counted) when the channel is full;
// others block.
type ChannelNotifier struct {
	ch       chan Notification
	confirm  chan ConfirmationRequest
	dropped  atomic.Uint64
	approver func(ConfirmationRequest) bool
}

// NewChannelNotifier creates a channel-backed notifier
func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{
		ch:      make(chan Notification, size),
		confirm: make(chan ConfirmationRequest, 1),
	}
}

// Notifications returns the consumer side of the notification stream
func (c *ChannelNotifier) Notifications() <-chan Notification {
	return c.ch
}

// Confirmations returns the consumer side of the confirmation stream
func (c *ChannelNotifier) Confirmations() <-chan ConfirmationRequest {
	return c.confirm
}

// Dropped returns the count of lossy notifications discarded
func (c *ChannelNotifier) Dropped() uint64 {
	return c.dropped.Load()
}

// Notify implements Notifier
func (c *ChannelNotifier) Notify(n Notification) {
	if n.Lossy() {
		select {
		case c.ch <- n:
		default:
			c.dropped.Add(1)
		}
		return
	}
	c.ch <- n
}

// Confirm implements Notifier
func (c *ChannelNotifier) Confirm(req ConfirmationRequest, timeout time.Duration) bool {
	reply := make(chan bool, 1)
	req.Reply = reply

	select {
	case c.confirm <- req:
	case <-time.After(timeout):
		return false
	}

	select {
	case approved := <-reply:
		return approved
	case <-time.After(timeout):
		return false
	}
}

// AutoApprove configures a notifier that approves every confirmation
// without user interaction (tests and headless runs).
type AutoApprove struct{}

// Notify implements Notifier by discarding the notification
func (AutoApprove) Notify(Notification) {}

// Confirm implements Notifier by approving immediately
func (AutoApprove) Confirm(ConfirmationRequest, time.Duration) bool { return true }
