package service

import (
	"context"

	"github.com/printwatch/printwatch-services/internal/detectsvc/models"
	"github.com/printwatch/printwatch-services/internal/detectsvc/store"
)

type PrintEventService struct {
	printEventStore *store.PrintEventStore
}

func NewPrintEventService(printEventStore *store.PrintEventStore) *PrintEventService {
	return &PrintEventService{printEventStore: printEventStore}
}

func (s *PrintEventService) RecordEvent(ctx context.Context, agentID, eventType, frameID string, score float64) (*models.PrintEvent, error) {
	return s.printEventStore.CreatePrintEvent(ctx, &models.PrintEvent{
		AgentID:   agentID,
		EventType: eventType,
		FrameID:   frameID,
		Score:     score,
	})
}

func (s *PrintEventService) GetLatestEventByAgent(ctx context.Context, agentID string) (*models.PrintEvent, error) {
	return s.printEventStore.GetLatestEventByAgent(ctx, agentID)
}

func (s *PrintEventService) GetEventsByAgent(ctx context.Context, agentID string, limit int) ([]*models.PrintEvent, error) {
	return s.printEventStore.GetEventsByAgent(ctx, agentID, limit)
}
