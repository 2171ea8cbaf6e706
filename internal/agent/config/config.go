package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Resolution is a pi-cam preset: one dimension pair for 4:3 and one for 16:9.
type Resolution struct {
	FourThree   [2]int
	SixteenNine [2]int
}

var PiCamResolutions = map[string]Resolution{
	"low":        {FourThree: [2]int{320, 240}, SixteenNine: [2]int{480, 270}},
	"medium":     {FourThree: [2]int{640, 480}, SixteenNine: [2]int{960, 540}},
	"high":       {FourThree: [2]int{1296, 972}, SixteenNine: [2]int{1640, 922}},
	"ultra_high": {FourThree: [2]int{1640, 1232}, SixteenNine: [2]int{1920, 1080}},
}

// BitrateForDim picks a stream bitrate from the frame dimensions.
func BitrateForDim(w, h int) int {
	dim := w * h
	switch {
	case dim <= 480*270:
		return 200000
	case dim <= 960*540:
		return 1000000
	case dim <= 1640*922:
		return 3000000
	default:
		return 6000000
	}
}

type Settings struct {
	AgentId   string
	AuthToken string

	GatewayURL string // e.g. https://gate.printwatch.dev

	PrinterURL    string // OctoPrint-compatible host, e.g. http://127.0.0.1:5000
	PrinterAPIKey string

	SnapshotURL string
	StreamURL   string
	StreamRatio string // "4:3" or "16:9"
	CamPreset   string // low | medium | high | ultra_high

	CamServerPort int

	UploadIntervalPrinting time.Duration
	UploadIntervalIdle     time.Duration

	WarningThreshold float64
	AlertThreshold   float64
	AlertCooldown    time.Duration
	PauseOnAlert     bool

	NatsURL string // optional local event emitter
}

// Load reads agent settings from the environment. Only the gateway URL and
// auth token are strictly required; everything else has a workable default.
func Load() (*Settings, error) {
	s := &Settings{
		AgentId:                envOr("AGENT_ID", uuid.New().String()),
		AuthToken:              os.Getenv("AUTH_TOKEN"),
		GatewayURL:             os.Getenv("GATEWAY_URL"),
		PrinterURL:             envOr("PRINTER_URL", "http://127.0.0.1:5000"),
		PrinterAPIKey:          os.Getenv("PRINTER_API_KEY"),
		SnapshotURL:            os.Getenv("SNAPSHOT_URL"),
		StreamURL:              os.Getenv("STREAM_URL"),
		StreamRatio:            envOr("STREAM_RATIO", "4:3"),
		CamPreset:              envOr("PI_CAM_RESOLUTION", "medium"),
		CamServerPort:          8080,
		UploadIntervalPrinting: 10 * time.Second,
		UploadIntervalIdle:     120 * time.Second,
		WarningThreshold:       0.4,
		AlertThreshold:         0.78,
		AlertCooldown:          15 * time.Minute,
		PauseOnAlert:           envOr("PAUSE_ON_ALERT", "true") == "true",
		NatsURL:                os.Getenv("NATS_URL"),
	}

	if v := os.Getenv("CAM_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid CAM_SERVER_PORT value: %q", v)
		}
		s.CamServerPort = port
	}

	var err error
	if s.UploadIntervalPrinting, err = durationEnv("UPLOAD_INTERVAL_PRINTING", s.UploadIntervalPrinting); err != nil {
		return nil, err
	}
	if s.UploadIntervalIdle, err = durationEnv("UPLOAD_INTERVAL_IDLE", s.UploadIntervalIdle); err != nil {
		return nil, err
	}
	if s.AlertCooldown, err = durationEnv("ALERT_COOLDOWN", s.AlertCooldown); err != nil {
		return nil, err
	}
	if s.WarningThreshold, err = floatEnv("WARNING_THRESHOLD", s.WarningThreshold); err != nil {
		return nil, err
	}
	if s.AlertThreshold, err = floatEnv("ALERT_THRESHOLD", s.AlertThreshold); err != nil {
		return nil, err
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Settings) validate() error {
	if s.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if _, err := url.Parse(s.GatewayURL); err != nil {
		return fmt.Errorf("invalid GATEWAY_URL: %w", err)
	}
	if s.AuthToken == "" {
		return fmt.Errorf("AUTH_TOKEN is required")
	}
	if _, err := url.Parse(s.PrinterURL); err != nil {
		return fmt.Errorf("invalid PRINTER_URL: %w", err)
	}
	if s.StreamRatio != "4:3" && s.StreamRatio != "16:9" {
		return fmt.Errorf("invalid STREAM_RATIO %q, want 4:3 or 16:9", s.StreamRatio)
	}
	if _, ok := PiCamResolutions[s.CamPreset]; !ok {
		return fmt.Errorf("unknown PI_CAM_RESOLUTION %q", s.CamPreset)
	}
	if s.UploadIntervalPrinting <= 0 || s.UploadIntervalIdle <= 0 {
		return fmt.Errorf("upload intervals must be positive")
	}
	if s.AlertThreshold < s.WarningThreshold {
		return fmt.Errorf("ALERT_THRESHOLD must not be below WARNING_THRESHOLD")
	}
	return nil
}

// CamResolution returns the configured preset dimensions for the stream ratio.
func (s *Settings) CamResolution() (int, int) {
	res := PiCamResolutions[s.CamPreset]
	if s.StreamRatio == "16:9" {
		return res.SixteenNine[0], res.SixteenNine[1]
	}
	return res.FourThree[0], res.FourThree[1]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return f, nil
}
