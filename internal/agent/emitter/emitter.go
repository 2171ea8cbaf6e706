package emitter

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
	natscli "github.com/printwatch/printwatch-services/internal/nats"
)

// Emitter publishes agent events (alert transitions, print events) to NATS
// for local integrations like home automation. It is entirely optional:
// when no NATS url is configured the emitter is nil-safe and does nothing,
// and publish failures degrade to log lines.
type Emitter struct {
	nats    *natscli.Nats
	agentId string
	topic   string
}

// Connect dials NATS when natsURL is set; returns nil (disabled) otherwise.
func Connect(natsURL, agentId string) *Emitter {
	if natsURL == "" {
		return nil
	}

	n, err := natscli.Connect()
	if err != nil {
		log.Warnf("event emitter disabled, NATS connect failed: %v", err)
		return nil
	}

	log.Infof("event emitter connected to NATS at %s", n.Url)
	return &Emitter{
		nats:    n,
		agentId: agentId,
		topic:   comm.AgentEventsTopic(agentId),
	}
}

// EmitAlert publishes one alert transition.
func (e *Emitter) EmitAlert(state string, score float64, frameId string, paused bool) {
	if e == nil {
		return
	}

	ev := comm.AlertEvent{
		AgentId:   e.agentId,
		State:     state,
		Score:     score,
		FrameId:   frameId,
		Paused:    paused,
		Timestamp: time.Now().UTC(),
	}
	if err := e.nats.PublishJSON(e.topic, ev); err != nil {
		log.Errorf("failed to publish alert event: %v", err)
	}
}

func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.nats.Drain()
}
