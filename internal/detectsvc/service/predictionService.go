package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/detectsvc/models"
	"github.com/printwatch/printwatch-services/internal/detectsvc/store"
)

type PredictionService struct {
	predictionStore *store.PredictionStore
}

func NewPredictionService(predictionStore *store.PredictionStore) *PredictionService {
	return &PredictionService{predictionStore: predictionStore}
}

// RecordPrediction serializes the detection boxes and persists the score.
func (s *PredictionService) RecordPrediction(ctx context.Context, p comm.Prediction) (*models.Prediction, error) {
	detections, err := json.Marshal(p.Detections)
	if err != nil {
		return nil, fmt.Errorf("could not serialize detections: %w", err)
	}

	return s.predictionStore.CreatePrediction(ctx, &models.Prediction{
		FrameID:      p.FrameId,
		AgentID:      p.AgentId,
		FailureScore: p.FailureScore,
		Detections:   string(detections),
		WorkerID:     p.WorkerId,
		ScoredAt:     p.ScoredAt,
	})
}

func (s *PredictionService) GetPredictionByFrameID(ctx context.Context, frameID string) (*models.Prediction, error) {
	return s.predictionStore.GetPredictionByFrameID(ctx, frameID)
}

func (s *PredictionService) GetRecentPredictionsByAgent(ctx context.Context, agentID string, limit int) ([]*models.Prediction, error) {
	return s.predictionStore.GetRecentPredictionsByAgent(ctx, agentID, limit)
}
