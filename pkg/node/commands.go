package node

import (
	"time"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/mesh"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// Command is one normalized input to the orchestrator loop. Every source
// of change - relay frames, peer channel traffic, user intents, timer
// ticks - is expressed as a command and applied atomically. The variant
// set is closed.
type Command interface {
	isCommand()
}

// relayFrameCmd carries a decoded relay frame
type relayFrameCmd struct {
	Msg *types.ServerMsg
}

func (relayFrameCmd) isCommand() {}

// meshEventCmd carries a transport event (channel open/close, inbound
// peer payload)
type meshEventCmd struct {
	Event mesh.Event
}

func (meshEventCmd) isCommand() {}

// ProposeSessionCmd is the user intent to propose a DKG session. The
// resulting wallet is identified by the session id on every device.
type ProposeSessionCmd struct {
	Total        uint16
	Threshold    uint16
	Participants []string
	Curve        config.CurveType
	Done         chan error
}

func (ProposeSessionCmd) isCommand() {}

// AcceptSessionCmd is the user intent to accept an invitation
type AcceptSessionCmd struct {
	SessionID string
	Done      chan error
}

func (AcceptSessionCmd) isCommand() {}

// RejectSessionCmd is the user intent to decline an invitation
type RejectSessionCmd struct {
	SessionID string
	Done      chan error
}

func (RejectSessionCmd) isCommand() {}

// StartSigningCmd is the user intent to initiate signing over an
// existing wallet. The proposer selects the wallet's participant set.
type StartSigningCmd struct {
	WalletID   string
	MessageHex string
	Blockchain string
	ChainID    *uint64
	Done       chan error
}

func (StartSigningCmd) isCommand() {}

// tickCmd drives deadline checks
type tickCmd struct {
	Now time.Time
}

func (tickCmd) isCommand() {}
