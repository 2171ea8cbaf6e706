package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/agent/config"
	"github.com/printwatch/printwatch-services/internal/agent/hub"
	"github.com/printwatch/printwatch-services/internal/agent/webcam"
	"github.com/printwatch/printwatch-services/internal/backoff"
)

const captureInterval = time.Second

// Uploader captures webcam frames into the hub and ships the freshest one
// to the gateway for scoring. The upload interval follows the printer:
// fast while printing, slow while idle.
type Uploader struct {
	settings *config.Settings
	cap      *webcam.Capturer
	hub      *hub.Hub
	link     *Link

	http    *http.Client
	tracker *backoff.ErrorTracker
}

func NewUploader(s *config.Settings, cap *webcam.Capturer, h *hub.Hub, link *Link) *Uploader {
	u := &Uploader{
		settings: s,
		cap:      cap,
		hub:      h,
		link:     link,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	u.tracker = backoff.NewErrorTracker(func(kind string) {
		log.Warnf("persistent %s failures, check webcam settings", kind)
	})
	return u
}

// RunCapture fills the hub with frames until ctx ends.
func (u *Uploader) RunCapture(ctx context.Context) {
	ticker := time.NewTicker(captureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.tracker.Attempt("webcam")
			data, err := u.cap.CaptureJPEG(ctx)
			if err != nil {
				u.tracker.AddError("webcam")
				log.Debugf("webcam capture failed: %v", err)
				continue
			}
			_, w, h := webcam.ImageInfo(data)
			u.hub.Publish(&hub.Frame{Data: data, Width: w, Height: h, CapturedAt: time.Now()})
		}
	}
}

// RunUpload ships frames to the gateway until ctx ends.
func (u *Uploader) RunUpload(ctx context.Context) {
	var lastSeq uint64

	for ctx.Err() == nil {
		interval := u.settings.UploadIntervalIdle
		if u.link.Printing() {
			interval = u.settings.UploadIntervalPrinting
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		frameCtx, cancel := context.WithTimeout(ctx, interval)
		f, ok := u.hub.Latest(frameCtx, lastSeq)
		cancel()
		if !ok {
			continue
		}
		lastSeq = f.Seq

		frameId, err := u.uploadFrame(ctx, f.Data)
		if err != nil {
			log.Errorf("frame upload failed: %v", err)
			continue
		}
		log.Debugf("uploaded frame %s (%d bytes)", frameId, len(f.Data))
	}
}

// uploadFrame posts one JPEG to the gateway and returns the assigned id.
func (u *Uploader) uploadFrame(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("pic", "frame.jpg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(u.settings.GatewayURL, "/") + "/v1/agent/pic"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+u.settings.AuthToken)
	req.Header.Set("X-Agent-Id", u.settings.AgentId)

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		FrameId string `json:"frame_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bad upload response: %w", err)
	}
	return out.FrameId, nil
}
