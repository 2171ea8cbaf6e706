package models

import "time"

type PrintEvent struct {
	ID        int64     `json:"id"`         // Primary key
	AgentID   string    `json:"agent_id"`   // Agent the event belongs to
	EventType string    `json:"event_type"` // 'warning', 'alert', 'pause', 'resume', 'cancel'
	FrameID   string    `json:"frame_id"`   // Frame that triggered the event, if any
	Score     float64   `json:"score"`      // Smoothed failure score at event time
	CreatedAt time.Time `json:"created_at"`
}
