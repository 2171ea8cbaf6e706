package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/detectsvc/models"
	"github.com/printwatch/printwatch-services/internal/detectsvc/scorer"
)

const (
	jobTimeout        = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// PredictionRecorder persists scored frames.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, p comm.Prediction) (*models.Prediction, error)
}

// EventRecorder persists alert and command events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, agentID, eventType, frameID string, score float64) (*models.PrintEvent, error)
}

type Broker struct {
	Conn     *nats.Conn
	WorkerId string

	scorer      *scorer.Scorer
	predictions PredictionRecorder
	events      EventRecorder
}

func NewBroker(conn *nats.Conn, workerId string, sc *scorer.Scorer,
	predictions PredictionRecorder, events EventRecorder) *Broker {
	return &Broker{
		Conn:        conn,
		WorkerId:    workerId,
		scorer:      sc,
		predictions: predictions,
		events:      events,
	}
}

// SubscribeFrameJobs joins the worker queue group so each frame is
// scored by exactly one worker.
func (b *Broker) SubscribeFrameJobs() (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(comm.SubjectFrameJob, comm.QueueGroupDetect, b.handleFrameJob)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleFrameJob(msgNats *nats.Msg) {
	job := &comm.FrameJob{}
	if err := json.Unmarshal(msgNats.Data, job); err != nil {
		log.Errorf("Error %s", err)
		return
	}
	if job.FrameId == "" || len(job.Payload) == 0 {
		log.Errorf("frame job missing id or payload, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	score, detections, err := b.scorer.Score(ctx, job.Payload)
	if err != nil {
		log.Errorf("failed to score frame %s: %v", job.FrameId, err)
		return
	}

	p := comm.Prediction{
		FrameId:      job.FrameId,
		AgentId:      job.AgentId,
		FailureScore: score,
		Detections:   detections,
		ScoredAt:     time.Now().UTC(),
		WorkerId:     b.WorkerId,
	}

	if _, err := b.predictions.RecordPrediction(ctx, p); err != nil {
		// the live pipeline keeps moving even when persistence is down
		log.Errorf("failed to persist prediction for frame %s: %v", job.FrameId, err)
	}

	if err := b.publishPrediction(p); err != nil {
		log.Errorf("failed to publish prediction for frame %s: %v", job.FrameId, err)
	}
}

func (b *Broker) publishPrediction(p comm.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := b.Conn.Publish(comm.SubjectPrediction, data); err != nil {
		log.Errorf("Error publishing to topic %s: %s", comm.SubjectPrediction, err)
		return err
	}
	return nil
}

// SubscribeAlertEvents persists alert events forwarded by the gateway.
// Agents may also emit transitions on their own per-agent topics for
// local integrations; only the gateway subject is recorded here, so one
// transition lands in print_events exactly once.
func (b *Broker) SubscribeAlertEvents() (*nats.Subscription, error) {
	return b.Conn.Subscribe(comm.SubjectAlertEvent, b.handleAlertEvent)
}

func (b *Broker) handleAlertEvent(msgNats *nats.Msg) {
	var ev comm.AlertEvent
	if err := json.Unmarshal(msgNats.Data, &ev); err != nil {
		log.Errorf("malformed alert event: %v", err)
		return
	}

	eventType := ev.State
	if ev.Paused {
		eventType = "pause"
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := b.events.RecordEvent(ctx, ev.AgentId, eventType, ev.FrameId, ev.Score); err != nil {
		log.Errorf("failed to persist print event for agent %s: %v", ev.AgentId, err)
	}
}

// RunHeartbeat announces this worker until the context is cancelled.
func (b *Broker) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		hb := comm.ServiceHeartbeat{
			Id:        b.WorkerId,
			Service:   "detect",
			Timestamp: time.Now().UTC(),
		}
		data, err := json.Marshal(hb)
		if err != nil {
			log.Errorf("failed to marshal heartbeat: %v", err)
			return
		}
		if err := b.Conn.Publish(comm.SubjectHeartbeat, data); err != nil {
			log.Errorf("Error publishing to topic %s: %s", comm.SubjectHeartbeat, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
