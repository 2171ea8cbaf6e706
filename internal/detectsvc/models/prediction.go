package models

import "time"

type Prediction struct {
	ID           int64     `json:"id"`            // Primary key
	FrameID      string    `json:"frame_id"`      // Frame this score belongs to
	AgentID      string    `json:"agent_id"`      // Agent that uploaded the frame
	FailureScore float64   `json:"failure_score"` // Highest failure-class score, 0..1
	Detections   string    `json:"detections"`    // Serialized detection boxes (JSON)
	WorkerID     string    `json:"worker_id"`     // Detection worker instance
	ScoredAt     time.Time `json:"scored_at"`
	CreatedAt    time.Time `json:"created_at"`
}
