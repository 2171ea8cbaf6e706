package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/printwatch/printwatch-services/internal/detectsvc/models"
)

type PredictionStore struct {
	db *pgxpool.Pool
}

func NewPredictionStore(db *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{db: db}
}

// CreatePrediction persists one scored frame and returns the stored row.
func (s *PredictionStore) CreatePrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	query := `
        INSERT INTO predictions (frame_id, agent_id, failure_score, detections, worker_id, scored_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at;
    `

	err := s.db.QueryRow(ctx, query,
		p.FrameID, p.AgentID, p.FailureScore, p.Detections, p.WorkerID, p.ScoredAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("could not create prediction: %w", err)
	}

	return p, nil
}

// GetPredictionByFrameID retrieves the score for one frame.
func (s *PredictionStore) GetPredictionByFrameID(ctx context.Context, frameID string) (*models.Prediction, error) {
	query := `
		SELECT id, frame_id, agent_id, failure_score, detections, worker_id, scored_at, created_at
		FROM predictions
		WHERE frame_id = $1
	`

	p := &models.Prediction{}
	err := s.db.QueryRow(ctx, query, frameID).Scan(
		&p.ID,
		&p.FrameID,
		&p.AgentID,
		&p.FailureScore,
		&p.Detections,
		&p.WorkerID,
		&p.ScoredAt,
		&p.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Prediction not found
		}
		return nil, fmt.Errorf("failed to get prediction by frame ID: %w", err)
	}

	return p, nil
}

// GetRecentPredictionsByAgent retrieves the newest scores for an agent.
func (s *PredictionStore) GetRecentPredictionsByAgent(ctx context.Context, agentID string, limit int) ([]*models.Prediction, error) {
	query := `
		SELECT id, frame_id, agent_id, failure_score, detections, worker_id, scored_at, created_at
		FROM predictions
		WHERE agent_id = $1
		ORDER BY scored_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*models.Prediction
	for rows.Next() {
		p := &models.Prediction{}
		err := rows.Scan(
			&p.ID,
			&p.FrameID,
			&p.AgentID,
			&p.FailureScore,
			&p.Detections,
			&p.WorkerID,
			&p.ScoredAt,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read predictions: %w", err)
	}

	return predictions, nil
}
