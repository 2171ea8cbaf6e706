package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://gate.example.com")
	t.Setenv("AUTH_TOKEN", "tok-123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:5000", s.PrinterURL)
	assert.Equal(t, "4:3", s.StreamRatio)
	assert.Equal(t, "medium", s.CamPreset)
	assert.Equal(t, 8080, s.CamServerPort)
	assert.Equal(t, 10*time.Second, s.UploadIntervalPrinting)
	assert.Equal(t, 120*time.Second, s.UploadIntervalIdle)
	assert.True(t, s.PauseOnAlert)
	assert.NotEmpty(t, s.AgentId)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://gate.example.com")
	t.Setenv("AUTH_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_TOKEN")
}

func TestLoad_BadPreset(t *testing.T) {
	setRequired(t)
	t.Setenv("PI_CAM_RESOLUTION", "potato")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_IntervalOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("UPLOAD_INTERVAL_PRINTING", "5s")
	t.Setenv("UPLOAD_INTERVAL_IDLE", "3m")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, s.UploadIntervalPrinting)
	assert.Equal(t, 3*time.Minute, s.UploadIntervalIdle)
}

func TestLoad_ThresholdOrdering(t *testing.T) {
	setRequired(t)
	t.Setenv("WARNING_THRESHOLD", "0.9")
	t.Setenv("ALERT_THRESHOLD", "0.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestCamResolution(t *testing.T) {
	setRequired(t)
	t.Setenv("PI_CAM_RESOLUTION", "high")
	t.Setenv("STREAM_RATIO", "16:9")

	s, err := Load()
	require.NoError(t, err)

	w, h := s.CamResolution()
	assert.Equal(t, 1640, w)
	assert.Equal(t, 922, h)
}

func TestBitrateForDim(t *testing.T) {
	cases := []struct {
		name string
		w, h int
		want int
	}{
		{"low", 480, 270, 200000},
		{"medium", 960, 540, 1000000},
		{"high", 1640, 922, 3000000},
		{"ultra", 1920, 1080, 6000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BitrateForDim(tc.w, tc.h))
		})
	}
}
