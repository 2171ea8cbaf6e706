package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/gatesvc/store"
	"github.com/printwatch/printwatch-services/internal/gatesvc/ws"
)

const maxUploadBytes = 10 << 20 // 10MB per frame

// ImageSniffer reports content type and dimensions for an uploaded frame.
type ImageSniffer func(data []byte) (contentType string, width, height int)

// JobPublisher hands frames to the detection workers.
type JobPublisher interface {
	PublishFrameJob(job comm.FrameJob) error
}

// AlertStater exposes the per-agent alert evaluation state.
type AlertStater interface {
	AlertState(agentId string) (string, float64)
}

// FrameSaver persists frame metadata.
type FrameSaver interface {
	Insert(ctx context.Context, meta store.FrameMeta) error
	RecentByAgent(ctx context.Context, agentId string, limit int64) ([]store.FrameMeta, error)
}

type Handler struct {
	upgrader websocket.Upgrader
	ws       *ws.Ws
	jobs     JobPublisher
	alerts   AlertStater
	frames   FrameSaver
	sniff    ImageSniffer

	agentToken     string
	frameRetention time.Duration
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func NewHandler(s *ws.Ws, jobs JobPublisher, alerts AlertStater, frames FrameSaver, sniff ImageSniffer) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ws:             s,
		jobs:           jobs,
		alerts:         alerts,
		frames:         frames,
		sniff:          sniff,
		agentToken:     os.Getenv("AGENT_AUTH_TOKEN"),
		frameRetention: 24 * time.Hour,
	}
}

// HandleAgentWS upgrades an agent connection after checking its token.
func (h *Handler) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != h.agentToken || h.agentToken == "" {
		http.Error(w, "invalid agent token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.ws.StoreConnection(socketId, conn)

	log.Infof("New agent connection established: %s", socketId)

	go h.handleConnection(conn, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, socketId string) {
	defer func() {
		log.Infof("Closing agent connection: %s", socketId)
		conn.Close()
		h.ws.HandleDisconnect(socketId)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("agent socket %s unexpected close: %v", socketId, err)
			}
			return
		}

		message := &comm.WSMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			log.Errorf("Failed to unmarshal message from socket %s: %v", socketId, err)
			continue
		}

		h.ws.SocketMessage(socketId, message)
	}
}

// HandleFramePost accepts one frame upload, records it and queues it for
// scoring. The response carries the assigned frame id.
func (h *Handler) HandleFramePost(w http.ResponseWriter, r *http.Request) {
	agentId, ok := h.authAgent(r)
	if !ok {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "invalid agent token"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("pic")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "missing pic field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "unreadable upload"})
		return
	}

	contentType, width, height := h.sniff(data)
	if contentType != "image/jpeg" {
		h.CreateResponse(w, Response{Code: http.StatusUnsupportedMediaType, Error: "frame must be a jpeg"})
		return
	}

	now := time.Now().UTC()
	frameId := uuid.New().String()

	meta := store.FrameMeta{
		FrameId:     frameId,
		AgentId:     agentId,
		Size:        len(data),
		Width:       width,
		Height:      height,
		ContentType: contentType,
		ReceivedAt:  now,
		ExpiresAt:   now.Add(h.frameRetention),
	}
	if err := h.frames.Insert(r.Context(), meta); err != nil {
		log.Errorf("failed to store frame meta: %v", err)
		h.CreateResponse(w, Response{Code: http.StatusInternalServerError, Error: "storage failure"})
		return
	}

	job := comm.FrameJob{
		FrameId:     frameId,
		AgentId:     agentId,
		ContentType: contentType,
		Width:       width,
		Height:      height,
		ReceivedAt:  now,
		Payload:     data,
	}
	if err := h.jobs.PublishFrameJob(job); err != nil {
		log.Errorf("failed to publish frame job: %v", err)
		h.CreateResponse(w, Response{Code: http.StatusServiceUnavailable, Error: "queue failure"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"frame_id": frameId})
}

func (h *Handler) authAgent(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if h.agentToken == "" || token != h.agentToken {
		return "", false
	}
	agentId := r.Header.Get("X-Agent-Id")
	if agentId == "" {
		return "", false
	}
	return agentId, true
}

// ListAgents returns the last known status of every connected agent.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{Code: http.StatusOK, Data: h.ws.Statuses()})
}

// CommandAgent pushes a command to one agent.
func (h *Handler) CommandAgent(w http.ResponseWriter, r *http.Request) {
	agentId := chi.URLParam(r, "id")

	var cmd comm.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "malformed command"})
		return
	}
	switch cmd.Name {
	case "pause", "resume", "cancel", "mute", "unmute":
	default:
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "unknown command " + cmd.Name})
		return
	}

	msg, err := comm.Envelope(cmd.Name, agentId, cmd)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	if err := h.ws.Push(agentId, msg); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusNotFound, Error: err.Error()})
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "command sent"})
}

// AgentAlert reports the gateway-side alert state for one agent.
func (h *Handler) AgentAlert(w http.ResponseWriter, r *http.Request) {
	agentId := chi.URLParam(r, "id")
	state, ewm := h.alerts.AlertState(agentId)

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: map[string]interface{}{
		"agent_id": agentId,
		"state":    state,
		"ewm":      ewm,
	}})
}

// AgentFrames lists recent frame metadata for one agent.
func (h *Handler) AgentFrames(w http.ResponseWriter, r *http.Request) {
	agentId := chi.URLParam(r, "id")

	frames, err := h.frames.RecentByAgent(r.Context(), agentId, 50)
	if err != nil {
		log.Errorf("failed to query frames: %v", err)
		h.CreateResponse(w, Response{Code: http.StatusInternalServerError, Error: "storage failure"})
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Data: frames})
}

// TunnelAgent relays one HTTP request through the agent to its printer host.
func (h *Handler) TunnelAgent(w http.ResponseWriter, r *http.Request) {
	agentId := chi.URLParam(r, "id")

	var treq comm.TunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&treq); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "malformed tunnel request"})
		return
	}
	if treq.Id == "" {
		treq.Id = uuid.New().String()
	}

	resp, err := h.ws.Tunnel(agentId, treq)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadGateway, Error: err.Error()})
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Data: resp})
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "gate service is running at port " + os.Getenv("GATE_SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode health response: %v", err)
	}
}
