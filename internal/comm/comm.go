package comm

import (
	"encoding/json"
	"fmt"
	"time"
)

// NATS subjects shared by the services.
const (
	SubjectFrameJob   = "frame.job"
	SubjectPrediction = "frame.prediction"
	SubjectHeartbeat  = "service.heartbeat"
	QueueGroupDetect  = "detect"
	// gateway-forwarded alert transitions, persisted by the detect workers
	SubjectAlertEvent = "agent.alert"
	// per-agent topic for the agent's own local emitter; kept apart from
	// SubjectAlertEvent so a shared NATS backend never records an alert twice
	AgentEventsSubject = "printwatch.agent.%s.events"
)

func AgentEventsTopic(agentId string) string {
	return fmt.Sprintf(AgentEventsSubject, agentId)
}

// WSMessage is the envelope for every websocket and NATS message.
type WSMessage struct {
	Type    string          `json:"type"` // e.g. "status", "prediction", "pause"
	Data    json.RawMessage `json:"data"`
	AgentId string          `json:"agent_id"`
}

// AgentStatus is pushed periodically by the agent over its gateway socket.
type AgentStatus struct {
	AgentId     string    `json:"agent_id"`
	Printing    bool      `json:"printing"`
	PrinterText string    `json:"printer_text"` // e.g. "Printing", "Operational"
	FileName    string    `json:"file_name"`
	Progress    float64   `json:"progress"` // 0..100
	BedTemp     float64   `json:"bed_temp"`
	ToolTemp    float64   `json:"tool_temp"`
	AlertMuted  bool      `json:"alert_muted"`
	// configured webcam stream parameters, for the operator view
	StreamWidth   int       `json:"stream_width"`
	StreamHeight  int       `json:"stream_height"`
	StreamBitrate int       `json:"stream_bitrate"`
	Timestamp     time.Time `json:"timestamp"`
}

// FrameJob asks a detection worker to score one uploaded frame.
type FrameJob struct {
	FrameId     string    `json:"frame_id"`
	AgentId     string    `json:"agent_id"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ReceivedAt  time.Time `json:"received_at"`
	// Payload carries the JPEG bytes inline. Frames are small (webcam
	// snapshots); keeping them on the message avoids a fetch round trip.
	Payload []byte `json:"payload"`
}

// Detection is one normalized box from the ML API.
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   [4]float64 `json:"box"` // x, y, w, h
}

// Prediction is the scored result for one frame.
type Prediction struct {
	FrameId      string      `json:"frame_id"`
	AgentId      string      `json:"agent_id"`
	FailureScore float64     `json:"failure_score"`
	Detections   []Detection `json:"detections"`
	ScoredAt     time.Time   `json:"scored_at"`
	WorkerId     string      `json:"worker_id"`
}

// Command is sent by the gateway to an agent.
type Command struct {
	Name   string `json:"name"` // pause | resume | cancel | mute | unmute
	Reason string `json:"reason,omitempty"`
}

// TunnelRequest asks the agent to perform an HTTP request against its
// local printer host and return the response over the socket.
type TunnelRequest struct {
	Id      string              `json:"id"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

type TunnelResponse struct {
	Id      string              `json:"id"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// AlertEvent records an alert state transition on an agent.
type AlertEvent struct {
	AgentId   string    `json:"agent_id"`
	State     string    `json:"state"` // ok | warning | alert
	Score     float64   `json:"score"`
	FrameId   string    `json:"frame_id"`
	Paused    bool      `json:"paused"`
	Timestamp time.Time `json:"timestamp"`
}

type ServiceHeartbeat struct {
	Id        string    `json:"id"` // service instance id
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope marshals a payload into a WSMessage of the given type.
func Envelope(msgType, agentId string, payload interface{}) (*WSMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &WSMessage{Type: msgType, Data: data, AgentId: agentId}, nil
}
