package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/printwatch/printwatch-services/internal/detectsvc/models"
)

type PrintEventStore struct {
	db *pgxpool.Pool
}

func NewPrintEventStore(db *pgxpool.Pool) *PrintEventStore {
	return &PrintEventStore{db: db}
}

// CreatePrintEvent persists one alert or command event for an agent.
func (s *PrintEventStore) CreatePrintEvent(ctx context.Context, ev *models.PrintEvent) (*models.PrintEvent, error) {
	query := `
        INSERT INTO print_events (agent_id, event_type, frame_id, score)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at;
    `

	err := s.db.QueryRow(ctx, query,
		ev.AgentID, ev.EventType, ev.FrameID, ev.Score,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("could not create print event: %w", err)
	}

	return ev, nil
}

// GetLatestEventByAgent retrieves the newest event for an agent.
func (s *PrintEventStore) GetLatestEventByAgent(ctx context.Context, agentID string) (*models.PrintEvent, error) {
	query := `
		SELECT id, agent_id, event_type, frame_id, score, created_at
		FROM print_events
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	ev := &models.PrintEvent{}
	err := s.db.QueryRow(ctx, query, agentID).Scan(
		&ev.ID,
		&ev.AgentID,
		&ev.EventType,
		&ev.FrameID,
		&ev.Score,
		&ev.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No events yet
		}
		return nil, fmt.Errorf("failed to get latest print event: %w", err)
	}

	return ev, nil
}

// GetEventsByAgent retrieves events for an agent, newest first.
func (s *PrintEventStore) GetEventsByAgent(ctx context.Context, agentID string, limit int) ([]*models.PrintEvent, error) {
	query := `
		SELECT id, agent_id, event_type, frame_id, score, created_at
		FROM print_events
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get print events: %w", err)
	}
	defer rows.Close()

	var events []*models.PrintEvent
	for rows.Next() {
		ev := &models.PrintEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.AgentID,
			&ev.EventType,
			&ev.FrameID,
			&ev.Score,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan print event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read print events: %w", err)
	}

	return events, nil
}
