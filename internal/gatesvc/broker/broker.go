package broker

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/detect"
	"github.com/printwatch/printwatch-services/internal/gatesvc/ws"
)

// Broker is the gateway's NATS side: frame jobs out, predictions in.
// Predictions feed a per-agent alert evaluator; alert transitions and
// pause commands are pushed down the agent socket.
type Broker struct {
	Conn *nats.Conn
	Ws   *ws.Ws

	evaluators sync.Map // agentId -> *detect.Evaluator

	warnThreshold  float64
	alertThreshold float64
	cooldown       time.Duration

	LastHeartbeatMap sync.Map // workerId -> time.Time
}

func NewBroker(conn *nats.Conn, sws *ws.Ws) *Broker {
	b := &Broker{
		Conn:           conn,
		Ws:             sws,
		warnThreshold:  floatEnv("WARNING_THRESHOLD", 0.4),
		alertThreshold: floatEnv("ALERT_THRESHOLD", 0.78),
		cooldown:       15 * time.Minute,
	}
	return b
}

// PublishFrameJob hands one frame to the detection workers.
func (b *Broker) PublishFrameJob(job comm.FrameJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := b.Conn.Publish(comm.SubjectFrameJob, data); err != nil {
		log.Errorf("Error publishing to topic %s: %s", comm.SubjectFrameJob, err)
		return err
	}
	return nil
}

// PublishAlertEvent forwards agent-reported alerts for persistence.
func (b *Broker) PublishAlertEvent(ev comm.AlertEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("failed to marshal alert event: %v", err)
		return
	}
	if err := b.Conn.Publish(comm.SubjectAlertEvent, data); err != nil {
		log.Errorf("failed to publish alert event: %v", err)
	}
}

// SubscribePredictions consumes scored frames from the detection workers.
func (b *Broker) SubscribePredictions() (*nats.Subscription, error) {
	return b.Conn.Subscribe(comm.SubjectPrediction, b.handlePrediction)
}

// SubscribeHeartbeats tracks live detection workers.
func (b *Broker) SubscribeHeartbeats() (*nats.Subscription, error) {
	return b.Conn.Subscribe(comm.SubjectHeartbeat, func(msg *nats.Msg) {
		var hb comm.ServiceHeartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			log.Errorf("malformed heartbeat: %v", err)
			return
		}
		b.LastHeartbeatMap.Store(hb.Id, hb.Timestamp)
	})
}

func (b *Broker) handlePrediction(msgNats *nats.Msg) {
	var p comm.Prediction
	if err := json.Unmarshal(msgNats.Data, &p); err != nil {
		log.Errorf("malformed prediction: %v", err)
		return
	}

	b.HandlePrediction(p)
}

// HandlePrediction relays a prediction to its agent and issues a pause
// command when the smoothed score crosses the alert threshold.
func (b *Broker) HandlePrediction(p comm.Prediction) {
	msg, err := comm.Envelope("prediction", p.AgentId, p)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if err := b.Ws.Push(p.AgentId, msg); err != nil {
		log.Debugf("prediction for offline agent %s dropped", p.AgentId)
	}

	e := b.evaluatorFor(p.AgentId)
	// the agent reports its mute switch with every status push; a muted
	// agent keeps getting scored but must not be paused from here
	if st, ok := b.Ws.Status(p.AgentId); ok {
		if st.AlertMuted {
			e.Mute()
		} else {
			e.Unmute()
		}
	}

	d := e.Feed(p.FailureScore)
	if d.Transition {
		log.Infof("agent %s alert state %s (ewm %.3f)", p.AgentId, d.State, d.Ewm)
	}
	if d.ShouldPause {
		cmd, err := comm.Envelope("pause", p.AgentId, comm.Command{
			Name:   "pause",
			Reason: "failure detected",
		})
		if err != nil {
			log.Errorf("%v", err)
			return
		}
		if err := b.Ws.Push(p.AgentId, cmd); err != nil {
			log.Errorf("failed to push pause to agent %s: %v", p.AgentId, err)
		}
	}
}

// AlertState reports the evaluator state for an agent.
func (b *Broker) AlertState(agentId string) (string, float64) {
	return b.evaluatorFor(agentId).State()
}

// ResetAgent clears the evaluator, e.g. when a new print starts.
func (b *Broker) ResetAgent(agentId string) {
	b.evaluatorFor(agentId).Reset()
}

func (b *Broker) evaluatorFor(agentId string) *detect.Evaluator {
	if v, ok := b.evaluators.Load(agentId); ok {
		return v.(*detect.Evaluator)
	}
	// pause decisions live on the agent; the gateway evaluator is the
	// source for operator-facing state and the backstop pause push
	e := detect.NewEvaluator(b.warnThreshold, b.alertThreshold, b.cooldown, true)
	actual, _ := b.evaluators.LoadOrStore(agentId, e)
	return actual.(*detect.Evaluator)
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("Invalid %s value: %v", key, err)
	}
	return f
}
