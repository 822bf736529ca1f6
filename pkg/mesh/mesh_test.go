package mesh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/logger"
	"github.com/stars-network/frost-wallet-go/pkg/types"
)

func TestMeshBarrier(t *testing.T) {
	m := NewMesh("dev-a", "session-1", []string{"dev-a", "dev-b", "dev-c"})

	assert.Equal(t, []string{"dev-b", "dev-c"}, m.Peers())
	assert.Equal(t, StatusIncomplete, m.Status())
	assert.False(t, m.OwnReady())

	announce := m.MarkChannelOpen("dev-b")
	assert.False(t, announce, "one of two channels open")
	assert.Equal(t, StatusPartiallyReady, m.Status())

	announce = m.MarkChannelOpen("dev-c")
	assert.True(t, announce, "own-ready transition announces once")
	assert.True(t, m.OwnReady())
	assert.False(t, m.Ready(), "peers have not announced MeshReady")

	// Re-opening does not announce again.
	assert.False(t, m.MarkChannelOpen("dev-b"))

	m.MarkMeshReady("dev-b")
	assert.False(t, m.Ready())
	m.MarkMeshReady("dev-c")
	assert.True(t, m.Ready())
	assert.Equal(t, StatusReady, m.Status())
}

func TestMeshIgnoresNonParticipants(t *testing.T) {
	m := NewMesh("dev-a", "session-1", []string{"dev-a", "dev-b"})

	assert.False(t, m.MarkChannelOpen("dev-x"))
	m.MarkMeshReady("dev-x")

	assert.False(t, m.MarkChannelOpen("dev-b") && m.Ready())
	m.MarkMeshReady("dev-b")
	assert.True(t, m.Ready())
}

func TestMeshChannelLossRevokesReadiness(t *testing.T) {
	m := NewMesh("dev-a", "session-1", []string{"dev-a", "dev-b"})
	m.MarkChannelOpen("dev-b")
	m.MarkMeshReady("dev-b")
	require.True(t, m.Ready())

	m.MarkChannelClosed("dev-b")
	assert.False(t, m.OwnReady())
	assert.False(t, m.Ready())
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) sink(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) opens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if open, ok := ev.(ChannelOpenEvent); ok {
			out = append(out, open.PeerID)
		}
	}
	return out
}

func (c *eventCollector) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, ev := range c.events {
		if msg, ok := ev.(PeerMessageEvent); ok {
			out = append(out, msg.Payload)
		}
	}
	return out
}

func TestMemTransportOpensWhenBothSidesEnsure(t *testing.T) {
	hub := NewMemHub()
	var alphaEvents, betaEvents eventCollector
	alpha := hub.Transport("alpha", alphaEvents.sink)
	beta := hub.Transport("beta", betaEvents.sink)

	require.NoError(t, alpha.EnsurePeer("beta"))
	assert.Empty(t, alphaEvents.opens(), "one-sided ensure must not open")

	require.NoError(t, beta.EnsurePeer("alpha"))
	assert.Equal(t, []string{"beta"}, alphaEvents.opens())
	assert.Equal(t, []string{"alpha"}, betaEvents.opens())
}

func TestMemTransportSendAndClose(t *testing.T) {
	hub := NewMemHub()
	var alphaEvents, betaEvents eventCollector
	alpha := hub.Transport("alpha", alphaEvents.sink)
	beta := hub.Transport("beta", betaEvents.sink)

	assert.Error(t, alpha.Send("beta", []byte("early")), "send before open")

	require.NoError(t, alpha.EnsurePeer("beta"))
	require.NoError(t, beta.EnsurePeer("alpha"))

	require.NoError(t, alpha.Send("beta", []byte("hello")))
	require.Len(t, betaEvents.messages(), 1)
	assert.Equal(t, []byte("hello"), betaEvents.messages()[0])

	alpha.ClosePeer("beta")
	assert.Error(t, alpha.Send("beta", []byte("after close")))
}

func TestMemTransportSelfConnectRejected(t *testing.T) {
	hub := NewMemHub()
	var events eventCollector
	alpha := hub.Transport("alpha", events.sink)
	assert.Error(t, alpha.EnsurePeer("alpha"))
}

func TestWebRTCOffererRule(t *testing.T) {
	tr := NewWebRTCTransport("alpha", nil,
		func(string, *types.SessionMessage) {},
		func(Event) {},
		logger.NewNopLogger())

	// The lexicographically smaller id offers; the larger id is polite.
	assert.True(t, tr.isOfferer("beta"))
	assert.False(t, tr.isPolite("beta"))

	tr2 := NewWebRTCTransport("beta", nil,
		func(string, *types.SessionMessage) {},
		func(Event) {},
		logger.NewNopLogger())
	assert.False(t, tr2.isOfferer("alpha"))
	assert.True(t, tr2.isPolite("alpha"))
}
