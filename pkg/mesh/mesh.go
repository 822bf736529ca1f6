package mesh

import (
	"sort"
)

// Status describes how far a session's mesh has come up
type Status int

const (
	StatusIncomplete Status = iota
	StatusPartiallyReady
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "incomplete"
	case StatusPartiallyReady:
		return "partially_ready"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Mesh tracks the readiness barrier for one session. It is a passive
// state machine owned and mutated only by the orchestrator; transports
// feed it through commands. A device is own-ready when its channels to
// every other participant are open; the mesh is ready when the device is
// own-ready and has received MeshReady from every other participant.
type Mesh struct {
	selfID       string
	sessionID    string
	participants []string

	open      map[string]bool
	readyFrom map[string]bool
	announced bool
}

// NewMesh creates the barrier state for a session
func NewMesh(selfID, sessionID string, participants []string) *Mesh {
	return &Mesh{
		selfID:       selfID,
		sessionID:    sessionID,
		participants: append([]string(nil), participants...),
		open:         make(map[string]bool),
		readyFrom:    make(map[string]bool),
	}
}

// SessionID returns the session this mesh belongs to
func (m *Mesh) SessionID() string {
	return m.sessionID
}

// Peers returns the other participants, sorted
func (m *Mesh) Peers() []string {
	peers := make([]string, 0, len(m.participants)-1)
	for _, p := range m.participants {
		if p != m.selfID {
			peers = append(peers, p)
		}
	}
	sort.Strings(peers)
	return peers
}

// MarkChannelOpen records an open data channel. It returns true when this
// transition makes the device own-ready, which is the moment to announce
// MeshReady to every peer.
func (m *Mesh) MarkChannelOpen(peerID string) bool {
	if !m.isParticipant(peerID) {
		return false
	}
	m.open[peerID] = true
	if m.OwnReady() && !m.announced {
		m.announced = true
		return true
	}
	return false
}

// MarkChannelClosed records a lost channel
func (m *Mesh) MarkChannelClosed(peerID string) {
	delete(m.open, peerID)
}

// MarkMeshReady records a MeshReady announcement from a peer
func (m *Mesh) MarkMeshReady(from string) {
	if m.isParticipant(from) {
		m.readyFrom[from] = true
	}
}

// OwnReady reports whether all channels to other participants are open
func (m *Mesh) OwnReady() bool {
	for _, p := range m.Peers() {
		if !m.open[p] {
			return false
		}
	}
	return true
}

// Ready reports whether the barrier is complete: own-ready and MeshReady
// observed from every other participant.
func (m *Mesh) Ready() bool {
	if !m.OwnReady() {
		return false
	}
	for _, p := range m.Peers() {
		if !m.readyFrom[p] {
			return false
		}
	}
	return true
}

// ReadyPeers returns the peers whose channels are open, sorted
func (m *Mesh) ReadyPeers() []string {
	peers := make([]string, 0, len(m.open))
	for p := range m.open {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Status projects the barrier into its coarse status
func (m *Mesh) Status() Status {
	if m.Ready() {
		return StatusReady
	}
	if len(m.open) > 0 || len(m.readyFrom) > 0 {
		return StatusPartiallyReady
	}
	return StatusIncomplete
}

func (m *Mesh) isParticipant(deviceID string) bool {
	for _, p := range m.participants {
		if p == deviceID {
			return true
		}
	}
	return false
}
