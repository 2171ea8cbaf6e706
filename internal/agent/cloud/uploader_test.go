package cloud

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printwatch/printwatch-services/internal/agent/config"
	"github.com/printwatch/printwatch-services/internal/agent/hub"
	"github.com/printwatch/printwatch-services/internal/agent/webcam"
)

func TestUploadFrame(t *testing.T) {
	var gotAuth, gotAgent string
	var gotFrame []byte

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agent/pic", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("X-Agent-Id")

		f, _, err := r.FormFile("pic")
		require.NoError(t, err)
		defer f.Close()
		gotFrame, err = io.ReadAll(f)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"frame_id": "frame-123"}`))
	}))
	defer gw.Close()

	s := &config.Settings{
		AgentId:    "agent-1",
		AuthToken:  "tok",
		GatewayURL: gw.URL,
	}
	u := NewUploader(s, webcam.NewCapturer("", ""), hub.New(), nil)

	id, err := u.uploadFrame(context.Background(), []byte{0xFF, 0xD8, 0x42})
	require.NoError(t, err)

	assert.Equal(t, "frame-123", id)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "agent-1", gotAgent)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x42}, gotFrame)
}

func TestUploadFrame_GatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer gw.Close()

	s := &config.Settings{AgentId: "agent-1", AuthToken: "bad", GatewayURL: gw.URL}
	u := NewUploader(s, webcam.NewCapturer("", ""), hub.New(), nil)

	_, err := u.uploadFrame(context.Background(), []byte{0xFF, 0xD8})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRunCapture_PublishesFrames(t *testing.T) {
	frame := jpegBytes()
	cam := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame)
	}))
	defer cam.Close()

	h := hub.New()
	s := &config.Settings{AgentId: "agent-1"}
	u := NewUploader(s, webcam.NewCapturer(cam.URL, ""), h, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go u.RunCapture(ctx)

	require.Eventually(t, func() bool { return h.Stats().Published > 0 }, 3*time.Second, 50*time.Millisecond)
}

// tiny JPEG with an SOF0 marker so the sniffer accepts it
func jpegBytes() []byte {
	return []byte{
		0xFF, 0xD8,
		0xFF, 0xC0, 0x00, 0x09, 0x08, 0x01, 0x0E, 0x01, 0x40, 0x00, 0x00,
		0xFF, 0xDA, 0x00,
	}
}
