package camserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printwatch/printwatch-services/internal/agent/hub"
)

func newTestServer(t *testing.T) (*Server, *hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New()
	h.Start(context.Background())
	t.Cleanup(h.Stop)

	s := New(h, 0)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return s, h, ts
}

func publishFrames(ctx context.Context, h *hub.Hub, data []byte, age time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
				h.Publish(&hub.Frame{Data: data, CapturedAt: time.Now().Add(-age)})
			}
		}
	}()
	return cancel
}

func TestSnapshot(t *testing.T) {
	_, h, ts := newTestServer(t)
	stop := publishFrames(context.Background(), h, []byte{0xFF, 0xD8, 0xAB}, 0)
	defer stop()

	resp, err := http.Get(ts.URL + "/?action=snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xAB}, body)
}

func TestSnapshot_NoFrames(t *testing.T) {
	_, _, ts := newTestServer(t)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(ts.URL + "/?action=snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSnapshot_StaleFramesRejected(t *testing.T) {
	s, h, _ := newTestServer(t)
	stop := publishFrames(context.Background(), h, []byte{0xFF, 0xD8, 0xAB}, time.Hour)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/?action=snapshot", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.serveSnapshot(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMJPEGStream(t *testing.T) {
	_, h, ts := newTestServer(t)
	stop := publishFrames(context.Background(), h, []byte{0xFF, 0xD8, 0x01, 0x02}, 0)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	r := bufio.NewReader(resp.Body)
	var length int
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			length, err = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.ToLower(line), "content-length:")))
			require.NoError(t, err)
		}
		if strings.TrimRight(line, "\r\n") == "" && length > 0 {
			break
		}
	}

	frame := make([]byte, length)
	_, err = io.ReadFull(r, frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0x02}, frame)
}
