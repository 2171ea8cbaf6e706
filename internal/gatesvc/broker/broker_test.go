package broker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/gatesvc/ws"
)

// newAgentSocket registers a live fake agent connection on the registry
// and returns the messages the agent side receives.
func newAgentSocket(t *testing.T, sws *ws.Ws) chan *comm.WSMessage {
	t.Helper()
	upgrader := websocket.Upgrader{}
	received := make(chan *comm.WSMessage, 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			msg := &comm.WSMessage{}
			if err := conn.ReadJSON(msg); err != nil {
				return
			}
			received <- msg
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sws.StoreConnection("sock-1", conn)
	return received
}

func reportStatus(t *testing.T, sws *ws.Ws, agentId string, muted bool) {
	t.Helper()
	msg, err := comm.Envelope("status", agentId, comm.AgentStatus{
		AgentId:    agentId,
		Printing:   true,
		AlertMuted: muted,
	})
	require.NoError(t, err)
	sws.SocketMessage("sock-1", msg)
}

func collect(received chan *comm.WSMessage, d time.Duration) []*comm.WSMessage {
	var out []*comm.WSMessage
	timer := time.After(d)
	for {
		select {
		case m := <-received:
			out = append(out, m)
		case <-timer:
			return out
		}
	}
}

func TestHandlePrediction_MutedAgentNotPaused(t *testing.T) {
	sws := ws.NewWs()
	received := newAgentSocket(t, sws)
	reportStatus(t, sws, "agent-1", true)

	b := NewBroker(nil, sws)
	for i := 0; i < 20; i++ {
		b.HandlePrediction(comm.Prediction{AgentId: "agent-1", FrameId: "f1", FailureScore: 0.99})
	}

	msgs := collect(received, 500*time.Millisecond)
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.NotEqual(t, "pause", m.Type)
	}

	state, _ := b.AlertState("agent-1")
	assert.Equal(t, "alert", state)
}

func TestHandlePrediction_UnmutedAgentPaused(t *testing.T) {
	sws := ws.NewWs()
	received := newAgentSocket(t, sws)
	reportStatus(t, sws, "agent-1", false)

	b := NewBroker(nil, sws)
	for i := 0; i < 20; i++ {
		b.HandlePrediction(comm.Prediction{AgentId: "agent-1", FrameId: "f1", FailureScore: 0.99})
	}

	paused := false
	for _, m := range collect(received, 2*time.Second) {
		if m.Type == "pause" {
			paused = true
			break
		}
	}
	assert.True(t, paused)
}

func TestHandlePrediction_UnmuteRestoresPausing(t *testing.T) {
	sws := ws.NewWs()
	received := newAgentSocket(t, sws)

	b := NewBroker(nil, sws)

	reportStatus(t, sws, "agent-1", true)
	for i := 0; i < 10; i++ {
		b.HandlePrediction(comm.Prediction{AgentId: "agent-1", FrameId: "f1", FailureScore: 0.99})
	}
	for _, m := range collect(received, 300*time.Millisecond) {
		require.NotEqual(t, "pause", m.Type)
	}

	reportStatus(t, sws, "agent-1", false)
	b.HandlePrediction(comm.Prediction{AgentId: "agent-1", FrameId: "f2", FailureScore: 0.99})

	paused := false
	for _, m := range collect(received, 2*time.Second) {
		if m.Type == "pause" {
			paused = true
			break
		}
	}
	assert.True(t, paused)
}
