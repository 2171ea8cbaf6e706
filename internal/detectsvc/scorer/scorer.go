package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/comm"
)

const (
	requestTimeout = 20 * time.Second
	retryDelay     = 2 * time.Second
)

// rawDetection is one entry of the ML API response:
// [label, score, [x, y, w, h]]
type rawDetection [3]json.RawMessage

type apiResponse struct {
	Detections []rawDetection `json:"detections"`
}

// Scorer scores frames against the failure-detection ML API. When no
// API endpoint is configured it falls back to a deterministic local
// heuristic so the pipeline stays exercisable in development.
type Scorer struct {
	apiURL   string
	apiToken string
	client   *http.Client
}

func New() *Scorer {
	return &Scorer{
		apiURL:   os.Getenv("ML_API_URL"),
		apiToken: os.Getenv("ML_API_TOKEN"),
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Score returns the failure score and detection boxes for one frame.
// The score is the highest detection confidence, 0 when nothing is found.
func (s *Scorer) Score(ctx context.Context, frame []byte) (float64, []comm.Detection, error) {
	if s.apiURL == "" {
		return devScore(frame), nil, nil
	}

	detections, err := s.callAPI(ctx, frame)
	if err != nil {
		log.Warnf("ML API request failed, retrying once: %v", err)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
		detections, err = s.callAPI(ctx, frame)
		if err != nil {
			return 0, nil, err
		}
	}

	score := 0.0
	for _, d := range detections {
		if d.Score > score {
			score = d.Score
		}
	}
	return score, detections, nil
}

func (s *Scorer) callAPI(ctx context.Context, frame []byte) ([]comm.Detection, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("pic", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ML API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ML API returned status %d", resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed ML API response: %w", err)
	}

	return normalize(parsed.Detections)
}

func normalize(raw []rawDetection) ([]comm.Detection, error) {
	out := make([]comm.Detection, 0, len(raw))
	for _, r := range raw {
		var d comm.Detection
		if err := json.Unmarshal(r[0], &d.Label); err != nil {
			return nil, fmt.Errorf("malformed detection label: %w", err)
		}
		if err := json.Unmarshal(r[1], &d.Score); err != nil {
			return nil, fmt.Errorf("malformed detection score: %w", err)
		}
		if err := json.Unmarshal(r[2], &d.Box); err != nil {
			return nil, fmt.Errorf("malformed detection box: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// devScore derives a stable score in [0, 1) from the frame bytes so
// repeated runs over the same input behave the same.
func devScore(frame []byte) float64 {
	h := fnv.New32a()
	h.Write(frame)
	return float64(h.Sum32()%1000) / 1000.0
}
