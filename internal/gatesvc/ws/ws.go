package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
)

const tunnelTimeout = 20 * time.Second

// AgentConn wraps a websocket with a write lock so broker pushes and
// tunnel requests can share it.
type AgentConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (a *AgentConn) WriteJSON(v interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.WriteJSON(v)
}

// AlertSink receives alert events reported by agents.
type AlertSink func(ev comm.AlertEvent)

// Ws tracks connected agents and routes messages to and from them.
type Ws struct {
	connMap   sync.Map // socketId -> *AgentConn
	agentMap  sync.Map // agentId -> socketId
	statusMap sync.Map // agentId -> comm.AgentStatus

	tunnelMu      sync.Mutex
	tunnelPending map[string]chan *comm.TunnelResponse

	OnAlert AlertSink
}

func NewWs() *Ws {
	return &Ws{tunnelPending: make(map[string]chan *comm.TunnelResponse)}
}

// SocketMessage handles one inbound message from an agent socket.
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case "status":
		s.handleStatus(socketId, message)
	case "alert":
		s.handleAlert(message)
	case "tunnel":
		s.handleTunnelResponse(message)
	default:
		log.Warnf("unknown agent message type: %s", message.Type)
	}
}

func (s *Ws) handleStatus(socketId string, msg *comm.WSMessage) {
	var status comm.AgentStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		log.Errorf("malformed status payload from %s: %v", socketId, err)
		return
	}
	if status.AgentId == "" {
		log.Errorf("status without agent id from socket %s", socketId)
		return
	}

	s.agentMap.Store(status.AgentId, socketId)
	s.statusMap.Store(status.AgentId, status)
}

func (s *Ws) handleAlert(msg *comm.WSMessage) {
	var ev comm.AlertEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Errorf("malformed alert payload: %v", err)
		return
	}

	log.Infof("agent %s alert state %s (score %.3f)", ev.AgentId, ev.State, ev.Score)
	if s.OnAlert != nil {
		s.OnAlert(ev)
	}
}

func (s *Ws) handleTunnelResponse(msg *comm.WSMessage) {
	var resp comm.TunnelResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		log.Errorf("malformed tunnel response: %v", err)
		return
	}

	s.tunnelMu.Lock()
	ch, ok := s.tunnelPending[resp.Id]
	delete(s.tunnelPending, resp.Id)
	s.tunnelMu.Unlock()

	if !ok {
		log.Warnf("tunnel response for unknown request %s", resp.Id)
		return
	}
	ch <- &resp
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &AgentConn{conn: conn})
}

func (s *Ws) GetConnection(socketId string) (*AgentConn, bool) {
	conn, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return conn.(*AgentConn), true
}

// AgentConnection resolves an agent id to its live connection.
func (s *Ws) AgentConnection(agentId string) (*AgentConn, bool) {
	socketId, ok := s.agentMap.Load(agentId)
	if !ok {
		return nil, false
	}
	return s.GetConnection(socketId.(string))
}

func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
	s.agentMap.Range(func(key, value interface{}) bool {
		if value.(string) == socketId {
			s.agentMap.Delete(key)
		}
		return true
	})
}

// Push sends a message to the agent, if connected.
func (s *Ws) Push(agentId string, msg *comm.WSMessage) error {
	conn, ok := s.AgentConnection(agentId)
	if !ok {
		return fmt.Errorf("agent %s is not connected", agentId)
	}
	return conn.WriteJSON(msg)
}

// Statuses returns the latest status per known agent.
func (s *Ws) Statuses() []comm.AgentStatus {
	var out []comm.AgentStatus
	s.statusMap.Range(func(_, value interface{}) bool {
		out = append(out, value.(comm.AgentStatus))
		return true
	})
	return out
}

// Status returns the last status pushed by one agent.
func (s *Ws) Status(agentId string) (comm.AgentStatus, bool) {
	v, ok := s.statusMap.Load(agentId)
	if !ok {
		return comm.AgentStatus{}, false
	}
	return v.(comm.AgentStatus), true
}

// Tunnel sends a tunnel request to the agent and waits for its response.
func (s *Ws) Tunnel(agentId string, treq comm.TunnelRequest) (*comm.TunnelResponse, error) {
	ch := make(chan *comm.TunnelResponse, 1)
	s.tunnelMu.Lock()
	s.tunnelPending[treq.Id] = ch
	s.tunnelMu.Unlock()

	cleanup := func() {
		s.tunnelMu.Lock()
		delete(s.tunnelPending, treq.Id)
		s.tunnelMu.Unlock()
	}

	msg, err := comm.Envelope("tunnel", agentId, treq)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := s.Push(agentId, msg); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(tunnelTimeout):
		cleanup()
		return nil, fmt.Errorf("tunnel request %s timed out", treq.Id)
	}
}
