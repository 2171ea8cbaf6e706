package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/agent/config"
	"github.com/printwatch/printwatch-services/internal/agent/emitter"
	"github.com/printwatch/printwatch-services/internal/agent/printer"
	"github.com/printwatch/printwatch-services/internal/agent/tunnel"
	"github.com/printwatch/printwatch-services/internal/backoff"
	"github.com/printwatch/printwatch-services/internal/comm"
	"github.com/printwatch/printwatch-services/internal/detect"
)

const statusInterval = 15 * time.Second

// Link maintains the agent's websocket to the gateway: status upstream,
// commands and predictions downstream. The connection is re-established
// with jittered exponential backoff and the error tracker decides when a
// persistent failure is worth surfacing.
type Link struct {
	settings *config.Settings
	printer  *printer.Client
	tun      *tunnel.Executor
	eval     *detect.Evaluator
	emit     *emitter.Emitter

	dialer  *websocket.Dialer
	backoff *backoff.Expo
	tracker *backoff.ErrorTracker

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	printingMu sync.Mutex
	printing   bool
}

func NewLink(s *config.Settings, p *printer.Client, eval *detect.Evaluator, emit *emitter.Emitter) *Link {
	l := &Link{
		settings: s,
		printer:  p,
		tun:      tunnel.NewExecutor(s.PrinterURL, s.PrinterAPIKey),
		eval:     eval,
		emit:     emit,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:  backoff.NewExpo(120),
	}
	l.tracker = backoff.NewErrorTracker(func(kind string) {
		log.Warnf("persistent %s connection failures, check gateway settings", kind)
	})
	return l
}

// WSURL converts the gateway base URL into the agent websocket endpoint.
func WSURL(gatewayURL, token string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/agent/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reconnects until ctx ends.
func (l *Link) Run(ctx context.Context) {
	wsURL, err := WSURL(l.settings.GatewayURL, l.settings.AuthToken)
	if err != nil {
		log.Fatalf("bad gateway configuration: %v", err)
	}

	for ctx.Err() == nil {
		l.tracker.Attempt("server")

		conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			l.tracker.AddError("server")
			l.backoff.More(ctx, fmt.Errorf("gateway dial failed: %w", err))
			continue
		}

		log.Infof("gateway socket established: %s", l.settings.GatewayURL)
		l.setConn(conn)
		l.backoff.Reset()

		l.serve(ctx, conn)

		l.setConn(nil)
		conn.Close()
		if ctx.Err() == nil {
			l.tracker.AddError("server")
			l.backoff.More(ctx, fmt.Errorf("gateway socket closed"))
		}
	}
}

// serve pumps status upstream and dispatches inbound messages until the
// connection breaks.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Errorf("gateway socket read error: %v", err)
				}
				return
			}

			msg := &comm.WSMessage{}
			if err := json.Unmarshal(raw, msg); err != nil {
				log.Errorf("malformed gateway message: %v", err)
				continue
			}
			l.dispatch(ctx, msg)
		}
	}()

	l.pushStatus(ctx)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			l.pushStatus(ctx)
		}
	}
}

func (l *Link) dispatch(ctx context.Context, msg *comm.WSMessage) {
	switch msg.Type {
	case "pause", "resume", "cancel", "mute", "unmute":
		l.handleCommand(ctx, msg)
	case "prediction":
		l.handlePrediction(ctx, msg)
	case "tunnel":
		l.handleTunnel(ctx, msg)
	default:
		log.Warnf("unknown gateway message type: %s", msg.Type)
	}
}

func (l *Link) handleCommand(ctx context.Context, msg *comm.WSMessage) {
	var cmd comm.Command
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Errorf("malformed command payload: %v", err)
			return
		}
	}
	if cmd.Name == "" {
		cmd.Name = msg.Type
	}

	log.Infof("gateway command: %s (%s)", cmd.Name, cmd.Reason)

	var err error
	switch cmd.Name {
	case "pause":
		err = l.printer.Pause(ctx)
	case "resume":
		err = l.printer.Resume(ctx)
	case "cancel":
		err = l.printer.Cancel(ctx)
	case "mute":
		l.eval.Mute()
	case "unmute":
		l.eval.Unmute()
	default:
		log.Warnf("unknown command: %s", cmd.Name)
		return
	}
	if err != nil {
		log.Errorf("command %s failed: %v", cmd.Name, err)
	}
}

func (l *Link) handlePrediction(ctx context.Context, msg *comm.WSMessage) {
	var p comm.Prediction
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		log.Errorf("malformed prediction payload: %v", err)
		return
	}

	d := l.eval.Feed(p.FailureScore)
	if d.Transition {
		log.Infof("alert state is now %s (score %.3f, ewm %.3f)", d.State, p.FailureScore, d.Ewm)
		l.emit.EmitAlert(d.State, d.Ewm, p.FrameId, d.ShouldPause)
		l.sendAlert(d, p.FrameId)
	}

	if d.ShouldPause {
		log.Warnf("failure detected (ewm %.3f), pausing print", d.Ewm)
		if err := l.printer.Pause(ctx); err != nil {
			log.Errorf("failed to pause print: %v", err)
		}
	}
}

func (l *Link) handleTunnel(ctx context.Context, msg *comm.WSMessage) {
	var treq comm.TunnelRequest
	if err := json.Unmarshal(msg.Data, &treq); err != nil {
		log.Errorf("malformed tunnel payload: %v", err)
		return
	}

	resp := l.tun.Execute(ctx, &treq)
	out, err := comm.Envelope("tunnel", l.settings.AgentId, resp)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	l.Send(out)
}

func (l *Link) sendAlert(d detect.Decision, frameId string) {
	ev := comm.AlertEvent{
		AgentId:   l.settings.AgentId,
		State:     d.State,
		Score:     d.Ewm,
		FrameId:   frameId,
		Paused:    d.ShouldPause,
		Timestamp: time.Now().UTC(),
	}
	msg, err := comm.Envelope("alert", l.settings.AgentId, ev)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	l.Send(msg)
}

func (l *Link) pushStatus(ctx context.Context) {
	st, err := l.printer.Status(ctx)
	if err != nil {
		log.Errorf("failed to read printer status: %v", err)
		return
	}
	l.setPrinting(st.Printing)

	camW, camH := l.settings.CamResolution()
	status := comm.AgentStatus{
		AgentId:       l.settings.AgentId,
		Printing:      st.Printing,
		PrinterText:   st.Text,
		FileName:      st.FileName,
		Progress:      st.Progress,
		BedTemp:       st.BedTemp,
		ToolTemp:      st.ToolTemp,
		AlertMuted:    l.eval.Muted(),
		StreamWidth:   camW,
		StreamHeight:  camH,
		StreamBitrate: config.BitrateForDim(camW, camH),
		Timestamp:     time.Now().UTC(),
	}
	msg, err := comm.Envelope("status", l.settings.AgentId, status)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	l.Send(msg)
}

// Send writes one message to the gateway socket if connected.
func (l *Link) Send(msg *comm.WSMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return false
	}
	if err := l.conn.WriteJSON(msg); err != nil {
		log.Errorf("gateway socket write failed: %v", err)
		return false
	}
	return true
}

func (l *Link) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *Link) setPrinting(v bool) {
	l.printingMu.Lock()
	l.printing = v
	l.printingMu.Unlock()
}

// Printing reports the last printer state seen by the status pusher.
func (l *Link) Printing() bool {
	l.printingMu.Lock()
	defer l.printingMu.Unlock()
	return l.printing
}
