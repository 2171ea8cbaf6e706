package webcam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFrameBytes = 10 << 20 // 10MB cap on a single frame

// Capturer grabs JPEG frames from the printer webcam, preferring the
// snapshot URL and falling back to pulling one frame off the MJPEG stream.
type Capturer struct {
	SnapshotURL string
	StreamURL   string

	client *http.Client
}

func NewCapturer(snapshotURL, streamURL string) *Capturer {
	return &Capturer{
		SnapshotURL: snapshotURL,
		StreamURL:   streamURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// CaptureJPEG returns one JPEG frame.
func (c *Capturer) CaptureJPEG(ctx context.Context) ([]byte, error) {
	if c.SnapshotURL != "" {
		return c.captureSnapshot(ctx)
	}
	if c.StreamURL != "" {
		return c.NextStreamFrame(ctx)
	}
	return nil, fmt.Errorf("no snapshot or stream url configured")
}

func (c *Capturer) captureSnapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SnapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot url: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}

	if kind, _, _ := ImageInfo(data); kind != "image/jpeg" {
		return nil, fmt.Errorf("snapshot is not a jpeg (sniffed %q, %d bytes)", kind, len(data))
	}
	return data, nil
}
